package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aescanero/phaseline/internal/application/executor"
	"github.com/aescanero/phaseline/internal/graph"
	"github.com/aescanero/phaseline/internal/spec"
	"github.com/aescanero/phaseline/pkg/domain"
	"github.com/aescanero/phaseline/pkg/ports"
)

// Manager coordinates pipeline run execution
type Manager struct {
	exec    *executor.Executor
	runs    ports.RunStore
	events  ports.EventBus
	metrics ports.MetricsCollector
	logger  *zap.Logger

	// Track active executions
	executions sync.Map // map[string]*executionContext
	active     atomic.Int32

	// Configuration
	runTimeout         time.Duration
	defaultConcurrency int
}

// executionContext holds state for a single run execution
type executionContext struct {
	runID     string
	startedAt time.Time
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewManager creates a new orchestrator manager
func NewManager(
	exec *executor.Executor,
	runs ports.RunStore,
	events ports.EventBus,
	metrics ports.MetricsCollector,
	logger *zap.Logger,
	runTimeout time.Duration,
	defaultConcurrency int,
) *Manager {
	if defaultConcurrency < 1 {
		defaultConcurrency = 1
	}
	return &Manager{
		exec:               exec,
		runs:               runs,
		events:             events,
		metrics:            metrics,
		logger:             logger,
		runTimeout:         runTimeout,
		defaultConcurrency: defaultConcurrency,
	}
}

// SubmitRun validates a pipeline and starts executing it for the
// trigger. Rejected pipelines leave no trace: no run state, no events.
// The returned id can be used to query, stream or cancel the run.
func (m *Manager) SubmitRun(ctx context.Context, p *spec.Pipeline, trig domain.Trigger, concurrency int) (string, error) {
	g, err := graph.Build(p)
	if err != nil {
		m.logger.Error("pipeline validation failed",
			zap.String("pipeline", pipelineName(p)),
			zap.Error(err))
		m.metrics.RecordRunSubmitted("rejected")
		return "", fmt.Errorf("invalid pipeline: %w", err)
	}

	for _, seed := range g.Pipeline().Seeds {
		if _, ok := trig.Seeds[seed]; !ok {
			m.metrics.RecordRunSubmitted("rejected")
			return "", fmt.Errorf("invalid trigger: seed artifact %q has no source path", seed)
		}
	}

	if concurrency < 1 {
		concurrency = m.defaultConcurrency
	}

	runID := uuid.New().String()
	run := executor.NewRun(g, runID, trig, concurrency)

	if err := m.runs.SaveRun(ctx, run); err != nil {
		m.logger.Error("failed to save initial run state",
			zap.String("run_id", runID),
			zap.Error(err))
		m.metrics.RecordRunSubmitted("rejected")
		return "", fmt.Errorf("failed to save run: %w", err)
	}

	event := domain.Event{
		ID:        uuid.New().String(),
		Type:      domain.EventTypeRunSubmitted,
		RunID:     runID,
		Timestamp: time.Now().UTC(),
		Data: map[string]interface{}{
			"pipeline": g.Pipeline().Name,
			"branch":   trig.Branch,
			"tag":      trig.Tag,
			"commit":   trig.Commit,
		},
	}
	if err := m.events.Publish(ctx, ports.TopicRunEvents, event); err != nil {
		m.logger.Error("failed to publish run submitted event",
			zap.String("run_id", runID),
			zap.Error(err))
		return "", fmt.Errorf("failed to publish event: %w", err)
	}

	// Track execution
	runCtx, cancel := context.WithTimeout(context.Background(), m.runTimeout)
	ec := &executionContext{
		runID:     runID,
		startedAt: time.Now(),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	m.executions.Store(runID, ec)
	m.metrics.SetActiveRuns(int(m.active.Add(1)))
	m.metrics.RecordRunSubmitted("accepted")

	m.logger.Info("run submitted",
		zap.String("run_id", runID),
		zap.String("pipeline", g.Pipeline().Name),
		zap.String("branch", trig.Branch),
		zap.Int("concurrency", concurrency))

	go m.execute(runCtx, g, run, ec)

	return runID, nil
}

// execute drives one run in the background and retires its tracking
// entry when it ends.
func (m *Manager) execute(ctx context.Context, g *graph.Graph, run *domain.PipelineRun, ec *executionContext) {
	defer close(ec.done)
	defer ec.cancel()

	m.exec.Execute(ctx, g, run)

	m.executions.Delete(ec.runID)
	m.metrics.SetActiveRuns(int(m.active.Add(-1)))
}

// GetRun retrieves the current state of a run.
func (m *Manager) GetRun(ctx context.Context, runID string) (*domain.PipelineRun, error) {
	return m.runs.GetRun(ctx, runID)
}

// ListRuns retrieves all known runs, newest first.
func (m *Manager) ListRuns(ctx context.Context) ([]*domain.PipelineRun, error) {
	return m.runs.ListRuns(ctx)
}

// CancelRun cancels a running execution. The executor settles the
// terminal state and event; cancelling an already finished run is an
// error.
func (m *Manager) CancelRun(ctx context.Context, runID string) error {
	val, ok := m.executions.Load(runID)
	if !ok {
		run, err := m.runs.GetRun(ctx, runID)
		if err != nil {
			return err
		}
		return fmt.Errorf("run already in terminal state: %s", run.Status)
	}

	ec := val.(*executionContext)
	ec.cancel()

	m.logger.Info("run cancellation requested",
		zap.String("run_id", runID))
	return nil
}

// WaitRun blocks until the run reaches a terminal state or ctx ends,
// then returns the final run state.
func (m *Manager) WaitRun(ctx context.Context, runID string) (*domain.PipelineRun, error) {
	val, ok := m.executions.Load(runID)
	if !ok {
		// Already retired; the store has the terminal state.
		return m.runs.GetRun(ctx, runID)
	}

	ec := val.(*executionContext)
	select {
	case <-ec.done:
		return m.runs.GetRun(ctx, runID)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// DeleteRun removes a finished run from storage. A run still executing
// must be cancelled and allowed to settle before it can be deleted.
func (m *Manager) DeleteRun(ctx context.Context, runID string) error {
	if _, ok := m.executions.Load(runID); ok {
		return fmt.Errorf("run %s is still executing", runID)
	}
	if _, err := m.runs.GetRun(ctx, runID); err != nil {
		return err
	}
	return m.runs.DeleteRun(ctx, runID)
}

// ActiveRuns returns the number of runs currently executing.
func (m *Manager) ActiveRuns() int {
	return int(m.active.Load())
}

// Shutdown cancels all active executions and waits for them to settle
// their terminal state, up to the ctx deadline.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("shutting down orchestrator manager")

	var pending []*executionContext
	m.executions.Range(func(key, value interface{}) bool {
		ec := value.(*executionContext)
		ec.cancel()
		pending = append(pending, ec)
		return true
	})

	for _, ec := range pending {
		select {
		case <-ec.done:
		case <-ctx.Done():
			m.logger.Warn("shutdown deadline reached with runs still settling",
				zap.String("run_id", ec.runID))
			return ctx.Err()
		}
	}

	m.logger.Info("orchestrator manager shut down complete")
	return nil
}

func pipelineName(p *spec.Pipeline) string {
	if p == nil {
		return ""
	}
	return p.Name
}
