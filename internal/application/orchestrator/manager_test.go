package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aescanero/phaseline/internal/application/executor"
	"github.com/aescanero/phaseline/internal/spec"
	artifactmem "github.com/aescanero/phaseline/pkg/adapters/artifacts/memory"
	cachemem "github.com/aescanero/phaseline/pkg/adapters/cache/memory"
	eventmem "github.com/aescanero/phaseline/pkg/adapters/events/memory"
	promadapter "github.com/aescanero/phaseline/pkg/adapters/metrics/prometheus"
	runmem "github.com/aescanero/phaseline/pkg/adapters/storage/memory"
	"github.com/aescanero/phaseline/pkg/adapters/tool"
	"github.com/aescanero/phaseline/pkg/domain"
	"github.com/aescanero/phaseline/pkg/ports"
)

const trivialManifest = `
name: trivial
phases:
  - name: build
    stages:
      - id: compile
        run: ["compiler"]
`

const slowManifest = `
name: slow
phases:
  - name: build
    stages:
      - id: sleepy
        run: ["sleeper"]
`

func newManager(t *testing.T) (*Manager, *tool.MockRunner, *runmem.RunStore) {
	t.Helper()
	runner := tool.NewMockRunner()
	runs := runmem.NewRunStore()
	bus := eventmem.NewBus()
	metrics := promadapter.NewCollector(nil)
	logger := zap.NewNop()

	exec := executor.New(runner, artifactmem.NewStore(), cachemem.NewCacheStore(0),
		runs, bus, metrics, logger, executor.Options{
			WorkRoot:            t.TempDir(),
			DefaultStageTimeout: 5 * time.Second,
			WatchdogInterval:    time.Hour,
		})

	return NewManager(exec, runs, bus, metrics, logger, 30*time.Second, 2), runner, runs
}

func parsePipeline(t *testing.T, manifest string) *spec.Pipeline {
	t.Helper()
	p, err := spec.Parse([]byte(manifest))
	require.NoError(t, err)
	return p
}

func TestSubmitRunExecutesToCompletion(t *testing.T) {
	m, runner, _ := newManager(t)
	ctx := context.Background()

	runID, err := m.SubmitRun(ctx, parsePipeline(t, trivialManifest), domain.Trigger{Branch: "main"}, 0)
	require.NoError(t, err)
	require.NotEmpty(t, runID)

	run, err := m.WaitRun(ctx, runID)
	require.NoError(t, err)
	require.Equal(t, domain.RunStatusSuccess, run.Status)
	require.Equal(t, 1, runner.Calls("compile"))

	got, err := m.GetRun(ctx, runID)
	require.NoError(t, err)
	require.Equal(t, domain.RunStatusSuccess, got.Status)
	require.Zero(t, m.ActiveRuns())
}

func TestSubmitRejectsInvalidPipeline(t *testing.T) {
	const dangling = `
name: broken
phases:
  - name: build
    stages:
      - id: compile
        run: ["compiler"]
        inputs: [nothing-produces-this]
`
	m, runner, runs := newManager(t)

	_, err := m.SubmitRun(context.Background(), parsePipeline(t, dangling), domain.Trigger{}, 0)
	require.ErrorContains(t, err, "invalid pipeline")
	require.Zero(t, runner.TotalCalls())

	// A rejected submission leaves no run behind.
	all, err := runs.ListRuns(context.Background())
	require.NoError(t, err)
	require.Empty(t, all)
}

func TestSubmitRejectsTriggerWithoutSeedPath(t *testing.T) {
	const seeded = `
name: seeded
seeds: [source]
phases:
  - name: build
    stages:
      - id: compile
        run: ["compiler"]
        inputs: [source]
`
	m, runner, runs := newManager(t)

	_, err := m.SubmitRun(context.Background(), parsePipeline(t, seeded), domain.Trigger{}, 0)
	require.ErrorContains(t, err, `seed artifact "source"`)
	require.Zero(t, runner.TotalCalls())

	all, err := runs.ListRuns(context.Background())
	require.NoError(t, err)
	require.Empty(t, all)
}

func TestCancelRunSettlesAsCancelled(t *testing.T) {
	m, runner, _ := newManager(t)
	runner.Script["sleepy"] = tool.MockResult{Delay: 10 * time.Second}
	ctx := context.Background()

	runID, err := m.SubmitRun(ctx, parsePipeline(t, slowManifest), domain.Trigger{}, 0)
	require.NoError(t, err)

	// Let the stage reach the runner before cancelling.
	require.Eventually(t, func() bool {
		return runner.Calls("sleepy") == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, m.CancelRun(ctx, runID))

	run, err := m.WaitRun(ctx, runID)
	require.NoError(t, err)
	require.Equal(t, domain.RunStatusCancelled, run.Status)
}

func TestCancelFinishedRunFails(t *testing.T) {
	m, _, _ := newManager(t)
	ctx := context.Background()

	runID, err := m.SubmitRun(ctx, parsePipeline(t, trivialManifest), domain.Trigger{}, 0)
	require.NoError(t, err)
	_, err = m.WaitRun(ctx, runID)
	require.NoError(t, err)

	err = m.CancelRun(ctx, runID)
	require.ErrorContains(t, err, "terminal state")
}

func TestCancelUnknownRunFails(t *testing.T) {
	m, _, _ := newManager(t)

	err := m.CancelRun(context.Background(), "no-such-run")
	require.ErrorIs(t, err, ports.ErrRunNotFound)
}

func TestDeleteRunRequiresTerminalState(t *testing.T) {
	m, runner, runs := newManager(t)
	runner.Script["sleepy"] = tool.MockResult{Delay: 10 * time.Second}
	ctx := context.Background()

	runID, err := m.SubmitRun(ctx, parsePipeline(t, slowManifest), domain.Trigger{}, 0)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return runner.Calls("sleepy") == 1
	}, 2*time.Second, 10*time.Millisecond)

	err = m.DeleteRun(ctx, runID)
	require.ErrorContains(t, err, "still executing")

	require.NoError(t, m.CancelRun(ctx, runID))
	_, err = m.WaitRun(ctx, runID)
	require.NoError(t, err)

	require.NoError(t, m.DeleteRun(ctx, runID))
	_, err = runs.GetRun(ctx, runID)
	require.ErrorIs(t, err, ports.ErrRunNotFound)

	require.ErrorIs(t, m.DeleteRun(ctx, "no-such-run"), ports.ErrRunNotFound)
}

func TestWaitRunHonorsContext(t *testing.T) {
	m, runner, _ := newManager(t)
	runner.Script["sleepy"] = tool.MockResult{Delay: 10 * time.Second}

	runID, err := m.SubmitRun(context.Background(), parsePipeline(t, slowManifest), domain.Trigger{}, 0)
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = m.WaitRun(waitCtx, runID)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, m.CancelRun(context.Background(), runID))
	_, err = m.WaitRun(context.Background(), runID)
	require.NoError(t, err)
}

func TestShutdownCancelsActiveRuns(t *testing.T) {
	m, runner, runs := newManager(t)
	runner.Script["sleepy"] = tool.MockResult{Delay: 10 * time.Second}
	ctx := context.Background()

	runID, err := m.SubmitRun(ctx, parsePipeline(t, slowManifest), domain.Trigger{}, 0)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return runner.Calls("sleepy") == 1
	}, 2*time.Second, 10*time.Millisecond)

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(shutdownCtx))

	run, err := runs.GetRun(ctx, runID)
	require.NoError(t, err)
	require.Equal(t, domain.RunStatusCancelled, run.Status)
}

func TestSubmittedEventPublished(t *testing.T) {
	runner := tool.NewMockRunner()
	runs := runmem.NewRunStore()
	bus := eventmem.NewBus()
	metrics := promadapter.NewCollector(nil)
	exec := executor.New(runner, artifactmem.NewStore(), cachemem.NewCacheStore(0),
		runs, bus, metrics, zap.NewNop(), executor.Options{
			WorkRoot:         t.TempDir(),
			WatchdogInterval: time.Hour,
		})
	m := NewManager(exec, runs, bus, metrics, zap.NewNop(), 30*time.Second, 2)

	events := make(chan domain.Event, 16)
	require.NoError(t, bus.Subscribe(context.Background(), ports.TopicRunEvents,
		func(ctx context.Context, ev domain.Event) error {
			events <- ev
			return nil
		}))

	runID, err := m.SubmitRun(context.Background(), parsePipeline(t, trivialManifest), domain.Trigger{Branch: "main"}, 0)
	require.NoError(t, err)

	ev := <-events
	require.Equal(t, domain.EventTypeRunSubmitted, ev.Type)
	require.Equal(t, runID, ev.RunID)
	require.Equal(t, "trivial", ev.Data["pipeline"])

	_, err = m.WaitRun(context.Background(), runID)
	require.NoError(t, err)
}
