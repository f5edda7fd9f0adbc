package main

import (
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "phaseline",
		Short: "Phase-ordered pipeline runner for build and scan tooling",
		Long: `Phaseline executes pipelines of external tools organized into ordered
phases. Stages within a phase run concurrently under an admission gate,
exchange named artifacts through a content-addressed store, and restore
keyed caches between runs.

Use "run" for one-shot local execution or "serve" to start the
long-running orchestration server.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newRunCmd())
	root.AddCommand(newValidateCmd())
	root.AddCommand(newServeCmd())
	root.AddCommand(newVersionCmd())

	return root
}
