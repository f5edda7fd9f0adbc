package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aescanero/phaseline/internal/graph"
	"github.com/aescanero/phaseline/internal/spec"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate MANIFEST",
		Short: "Check a pipeline manifest without running it",
		Long: `Validate parses the manifest, checks it against the schema and builds
the execution graph, reporting schema violations, duplicate stages,
dangling artifact references and dependency cycles.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pipeline, err := spec.Load(args[0])
			if err != nil {
				return err
			}

			g, err := graph.Build(pipeline)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d phases, %d stages)\n",
				pipeline.Name, len(g.Phases()), g.StageCount())
			return nil
		},
	}
}
