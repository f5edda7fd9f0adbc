package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aescanero/phaseline/internal/application/executor"
	"github.com/aescanero/phaseline/internal/application/orchestrator"
	"github.com/aescanero/phaseline/internal/spec"
	"github.com/aescanero/phaseline/internal/trigger"
	artifactfs "github.com/aescanero/phaseline/pkg/adapters/artifacts/fs"
	cachefs "github.com/aescanero/phaseline/pkg/adapters/cache/fs"
	eventmem "github.com/aescanero/phaseline/pkg/adapters/events/memory"
	promadapter "github.com/aescanero/phaseline/pkg/adapters/metrics/prometheus"
	runmem "github.com/aescanero/phaseline/pkg/adapters/storage/memory"
	"github.com/aescanero/phaseline/pkg/adapters/tool"
	"github.com/aescanero/phaseline/pkg/domain"
	"github.com/aescanero/phaseline/pkg/ports"
)

type runOptions struct {
	workdir         string
	storeRoot       string
	concurrency     int
	runTimeout      time.Duration
	stageTimeout    time.Duration
	branch          string
	tag             string
	commit          string
	vars            []string
	seeds           []string
	exportDir       string
	quiet           bool
	logLevel        string
	partialExitCode int
}

func newRunCmd() *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run MANIFEST",
		Short: "Execute a pipeline locally",
		Long: `Run executes a pipeline manifest in-process: artifacts and caches are
kept under the store directory, trigger context is detected from the
git repository at --workdir, and stage progress is printed as it
happens. The command exits 0 on success, 1 on failure or cancellation,
2 when only advisory stages failed (override with --partial-exit-code)
and 3 when the manifest or setup is invalid.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := runPipeline(cmd, args[0], opts)
			if err != nil {
				return err
			}
			if code := exitCodeFor(status, opts.partialExitCode); code != 0 {
				os.Exit(code)
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.workdir, "workdir", ".", "repository root used for trigger detection")
	flags.StringVar(&opts.storeRoot, "store", ".phaseline", "directory holding artifacts and caches")
	flags.IntVar(&opts.concurrency, "concurrency", 4, "maximum stages running at once")
	flags.DurationVar(&opts.runTimeout, "timeout", time.Hour, "overall run timeout")
	flags.DurationVar(&opts.stageTimeout, "stage-timeout", 5*time.Minute, "default per-stage timeout")
	flags.StringVar(&opts.branch, "branch", "", "override the detected branch")
	flags.StringVar(&opts.tag, "tag", "", "override the detected tag")
	flags.StringVar(&opts.commit, "commit", "", "override the detected commit")
	flags.StringArrayVar(&opts.vars, "var", nil, "trigger variable as name=value (repeatable)")
	flags.StringArrayVar(&opts.seeds, "seed", nil, "seed artifact as name=path (repeatable)")
	flags.StringVar(&opts.exportDir, "export", "", "copy run artifacts into this directory afterwards")
	flags.BoolVar(&opts.quiet, "quiet", false, "suppress stage progress output")
	flags.StringVar(&opts.logLevel, "log-level", "error", "log verbosity (debug, info, warn, error)")
	flags.IntVar(&opts.partialExitCode, "partial-exit-code", 2, "exit code for runs with only advisory failures")

	return cmd
}

func runPipeline(cmd *cobra.Command, manifestPath string, opts *runOptions) (domain.RunStatus, error) {
	logger := initLogger(opts.logLevel)
	defer logger.Sync()

	pipeline, err := spec.Load(manifestPath)
	if err != nil {
		return "", err
	}

	trig, err := buildTrigger(opts, logger)
	if err != nil {
		return "", err
	}

	artifacts, err := artifactfs.NewStore(filepath.Join(opts.storeRoot, "artifacts"), logger)
	if err != nil {
		return "", err
	}
	caches, err := cachefs.NewCacheStore(filepath.Join(opts.storeRoot, "cache"), logger)
	if err != nil {
		return "", err
	}

	runs := runmem.NewRunStore()
	bus := eventmem.NewBus()
	metrics := promadapter.NewCollector(nil)

	exec := executor.New(
		tool.NewExecRunner(logger),
		artifacts,
		caches,
		runs,
		bus,
		metrics,
		logger,
		executor.Options{DefaultStageTimeout: opts.stageTimeout},
	)
	mgr := orchestrator.NewManager(exec, runs, bus, metrics, logger, opts.runTimeout, opts.concurrency)

	out := cmd.OutOrStdout()
	if !opts.quiet {
		printProgress(bus, out)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runID, err := mgr.SubmitRun(context.Background(), pipeline, trig, opts.concurrency)
	if err != nil {
		return "", err
	}

	run, err := waitOrCancel(ctx, mgr, runID, out)
	if err != nil {
		return "", err
	}

	fmt.Fprintf(out, "\nrun %s: %s", run.RunID, run.Status)
	if run.Error != "" {
		fmt.Fprintf(out, " (%s)", run.Error)
	}
	fmt.Fprintln(out)

	if !opts.quiet {
		printArtifacts(out, artifacts, run.RunID)
	}

	if opts.exportDir != "" {
		n, err := exportArtifacts(context.Background(), artifacts, run.RunID, opts.exportDir)
		if err != nil {
			return "", fmt.Errorf("failed to export artifacts: %w", err)
		}
		fmt.Fprintf(out, "exported %d artifacts to %s\n", n, opts.exportDir)
	}

	return run.Status, nil
}

// waitOrCancel blocks until the run settles. On SIGINT or SIGTERM it
// cancels the run and waits again so terminal state is persisted before
// the process exits.
func waitOrCancel(ctx context.Context, mgr *orchestrator.Manager, runID string, out io.Writer) (*domain.PipelineRun, error) {
	run, err := mgr.WaitRun(ctx, runID)
	if err == nil {
		return run, nil
	}
	if ctx.Err() == nil {
		return nil, err
	}

	fmt.Fprintln(out, "interrupt received, cancelling run")
	if err := mgr.CancelRun(context.Background(), runID); err != nil {
		return nil, err
	}
	return mgr.WaitRun(context.Background(), runID)
}

func buildTrigger(opts *runOptions, logger *zap.Logger) (domain.Trigger, error) {
	trig := trigger.Resolve(opts.workdir, logger)

	if opts.branch != "" {
		trig.Branch = opts.branch
	}
	if opts.tag != "" {
		trig.Tag = opts.tag
	}
	if opts.commit != "" {
		trig.Commit = opts.commit
	}

	var err error
	if trig.Vars, err = mergePairs(trig.Vars, opts.vars, "--var"); err != nil {
		return domain.Trigger{}, err
	}
	if trig.Seeds, err = mergePairs(trig.Seeds, opts.seeds, "--seed"); err != nil {
		return domain.Trigger{}, err
	}

	return trig, nil
}

func mergePairs(into map[string]string, pairs []string, flag string) (map[string]string, error) {
	if len(pairs) == 0 {
		return into, nil
	}
	if into == nil {
		into = make(map[string]string, len(pairs))
	}
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("%s needs name=value, got %q", flag, pair)
		}
		into[name] = value
	}
	return into, nil
}

func printProgress(bus *eventmem.Bus, out io.Writer) {
	_ = bus.Subscribe(context.Background(), ports.TopicStageEvents, func(ctx context.Context, event domain.Event) error {
		phase, _ := event.Data["phase"].(string)
		switch event.Type {
		case domain.EventTypeStageStarted:
			fmt.Fprintf(out, "[%s] %s: started\n", phase, event.StageID)
		case domain.EventTypeStageSucceeded:
			fmt.Fprintf(out, "[%s] %s: success\n", phase, event.StageID)
		case domain.EventTypeStageFailed:
			detail, _ := event.Data["error"].(string)
			fmt.Fprintf(out, "[%s] %s: failed (%s)\n", phase, event.StageID, detail)
		case domain.EventTypeStageSkipped:
			reason, _ := event.Data["reason"].(string)
			fmt.Fprintf(out, "[%s] %s: skipped (%s)\n", phase, event.StageID, reason)
		}
		return nil
	})
}

func printArtifacts(out io.Writer, store ports.ArtifactStore, runID string) {
	artifacts, err := store.List(context.Background(), runID)
	if err != nil || len(artifacts) == 0 {
		return
	}

	fmt.Fprintf(out, "artifacts (%d):\n", len(artifacts))
	for _, a := range artifacts {
		fmt.Fprintf(out, "  %-28s %10d bytes  %s\n", a.Name, a.Size, shortDigest(a.Digest))
	}
}

func shortDigest(digest string) string {
	if len(digest) > 12 {
		return digest[:12]
	}
	return digest
}

func exportArtifacts(ctx context.Context, store ports.ArtifactStore, runID, dir string) (int, error) {
	artifacts, err := store.List(ctx, runID)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, err
	}

	for _, a := range artifacts {
		if err := exportOne(ctx, store, runID, a.Name, filepath.Join(dir, a.Name)); err != nil {
			return 0, err
		}
	}
	return len(artifacts), nil
}

func exportOne(ctx context.Context, store ports.ArtifactStore, runID, name, dest string) error {
	rc, _, err := store.Open(ctx, runID, name)
	if err != nil {
		return err
	}
	defer rc.Close()

	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, rc); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func exitCodeFor(status domain.RunStatus, partialCode int) int {
	switch status {
	case domain.RunStatusSuccess:
		return 0
	case domain.RunStatusPartial:
		return partialCode
	default:
		return 1
	}
}
