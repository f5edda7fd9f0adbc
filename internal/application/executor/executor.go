package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aescanero/phaseline/internal/graph"
	"github.com/aescanero/phaseline/internal/spec"
	"github.com/aescanero/phaseline/pkg/domain"
	"github.com/aescanero/phaseline/pkg/ports"
)

// Options tune run execution.
type Options struct {
	// WorkRoot hosts per-stage scratch directories. Empty means the
	// system temp directory.
	WorkRoot string

	// DefaultStageTimeout applies to stages without their own timeout.
	DefaultStageTimeout time.Duration

	// WatchdogInterval is the progress reporting period.
	WatchdogInterval time.Duration
}

// Executor runs pipelines. One Executor serves many runs; each Execute
// call owns one run from dispatch to terminal status.
type Executor struct {
	runner    ports.ToolRunner
	artifacts ports.ArtifactStore
	caches    ports.CacheStore
	runs      ports.RunStore
	events    ports.EventBus
	metrics   ports.MetricsCollector
	logger    *zap.Logger

	workRoot         string
	defaultTimeout   time.Duration
	watchdogInterval time.Duration
}

// New creates an executor
func New(
	runner ports.ToolRunner,
	artifacts ports.ArtifactStore,
	caches ports.CacheStore,
	runs ports.RunStore,
	events ports.EventBus,
	metrics ports.MetricsCollector,
	logger *zap.Logger,
	opts Options,
) *Executor {
	workRoot := opts.WorkRoot
	if workRoot == "" {
		workRoot = filepath.Join(os.TempDir(), "phaseline")
	}
	defaultTimeout := opts.DefaultStageTimeout
	if defaultTimeout <= 0 {
		defaultTimeout = 5 * time.Minute
	}
	interval := opts.WatchdogInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	return &Executor{
		runner:           runner,
		artifacts:        artifacts,
		caches:           caches,
		runs:             runs,
		events:           events,
		metrics:          metrics,
		logger:           logger,
		workRoot:         workRoot,
		defaultTimeout:   defaultTimeout,
		watchdogInterval: interval,
	}
}

// NewRun builds the initial run state for a graph: every stage pending,
// phases in declared order. Execute expects runs shaped this way.
func NewRun(g *graph.Graph, runID string, trig domain.Trigger, concurrency int) *domain.PipelineRun {
	run := &domain.PipelineRun{
		RunID:       runID,
		Pipeline:    g.Pipeline().Name,
		Trigger:     trig,
		Status:      domain.RunStatusPending,
		Concurrency: concurrency,
		Phases:      g.Phases(),
		Stages:      make(map[string]*domain.StageState, g.StageCount()),
		SubmittedAt: time.Now().UTC(),
	}
	for _, phase := range g.Phases() {
		for _, st := range g.PhaseStages(phase) {
			run.Stages[st.ID] = &domain.StageState{
				StageID: st.ID,
				Phase:   phase,
				Status:  domain.StageStatusPending,
				Policy:  st.Policy(),
			}
		}
	}
	return run
}

// runScope bundles the immutable per-run context shared with stage
// goroutines.
type runScope struct {
	g     *graph.Graph
	runID string
	gate  *gate
	data  renderData
}

// readiness of a pending stage against its producers.
type readiness int

const (
	stageReady readiness = iota
	stageWaiting
	stageBlocked
)

// Execute drives the run to a terminal status. ctx carries the overall
// run deadline; cancelling it stops dispatch and lets in-flight tools
// be killed by their own contexts. The run is mutated in place and
// saved to the run store as it progresses.
func (e *Executor) Execute(ctx context.Context, g *graph.Graph, run *domain.PipelineRun) *domain.PipelineRun {
	logger := e.logger.With(
		zap.String("run_id", run.RunID),
		zap.String("pipeline", run.Pipeline))
	// State saves and terminal events must survive run cancellation.
	saveCtx := context.WithoutCancel(ctx)

	scope := &runScope{
		g:     g,
		runID: run.RunID,
		gate:  newGate(run.Concurrency),
		data: renderData{
			RunID:  run.RunID,
			Branch: run.Trigger.Branch,
			Tag:    run.Trigger.Tag,
			Commit: run.Trigger.Commit,
			Vars:   run.Trigger.Vars,
		},
	}

	wd := newWatchdog(run.RunID, g.StageCount(), scope.gate, e.metrics, e.watchdogInterval, logger)
	wd.Start()
	defer wd.Stop()

	now := time.Now().UTC()
	run.Status = domain.RunStatusRunning
	run.StartedAt = &now
	e.saveRun(saveCtx, run, logger)
	e.publishRunEvent(saveCtx, run, domain.EventTypeRunStarted, logger)

	logger.Info("run started",
		zap.Int("stages", g.StageCount()),
		zap.Int("concurrency", scope.gate.Size()),
		zap.String("branch", run.Trigger.Branch),
		zap.String("tag", run.Trigger.Tag))

	var execErr error
	var fatalStage string

	if err := e.storeSeeds(ctx, scope, run.Trigger, logger); err != nil {
		execErr = err
		e.skipAll(saveCtx, scope, run, wd, logger)
	} else {
		e.skipUnmatched(saveCtx, scope, run, wd, logger)
		fatalStage, execErr = e.walkPhases(ctx, saveCtx, scope, run, wd, logger)
	}

	e.finalize(ctx, saveCtx, run, execErr, fatalStage, logger)
	os.RemoveAll(filepath.Join(e.workRoot, run.RunID))
	return run
}

// storeSeeds loads the trigger's seed files into the run namespace
// before anything executes. A missing seed fails the run with zero
// tool invocations.
func (e *Executor) storeSeeds(ctx context.Context, scope *runScope, trig domain.Trigger, logger *zap.Logger) error {
	for _, name := range scope.g.Pipeline().Seeds {
		path, ok := trig.Seeds[name]
		if !ok {
			return fmt.Errorf("seed artifact %q has no source path", name)
		}
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("seed artifact %q: %w", name, err)
		}
		art, err := e.artifacts.Put(ctx, scope.runID, name, domain.SeedProducer, f)
		f.Close()
		if err != nil {
			return fmt.Errorf("seed artifact %q: %w", name, err)
		}
		logger.Debug("seed stored",
			zap.String("artifact", name),
			zap.Int64("size", art.Size))
	}
	return nil
}

// skipUnmatched settles every stage whose run condition does not match
// the trigger. Their tools are never invoked.
func (e *Executor) skipUnmatched(ctx context.Context, scope *runScope, run *domain.PipelineRun, wd *watchdog, logger *zap.Logger) {
	for _, phase := range scope.g.Phases() {
		for _, st := range scope.g.PhaseStages(phase) {
			if st.Condition.Matches(run.Trigger) {
				continue
			}
			e.markSkipped(ctx, run, st.ID, domain.SkipReasonCondition, wd, logger)
		}
	}
}

// skipAll settles every still-pending stage as aborted.
func (e *Executor) skipAll(ctx context.Context, scope *runScope, run *domain.PipelineRun, wd *watchdog, logger *zap.Logger) {
	for _, phase := range scope.g.Phases() {
		for _, st := range scope.g.PhaseStages(phase) {
			e.markSkipped(ctx, run, st.ID, domain.SkipReasonAborted, wd, logger)
		}
	}
}

// walkPhases runs each phase to completion in order. Phases are strict
// barriers: no stage of a later phase is dispatched before every stage
// of the current phase is terminal.
func (e *Executor) walkPhases(ctx, saveCtx context.Context, scope *runScope, run *domain.PipelineRun, wd *watchdog, logger *zap.Logger) (string, error) {
	var execErr error
	var fatalStage string
	abort := false

	for _, phase := range scope.g.Phases() {
		if abort || ctx.Err() != nil {
			for _, st := range scope.g.PhaseStages(phase) {
				e.markSkipped(saveCtx, run, st.ID, domain.SkipReasonAborted, wd, logger)
			}
			continue
		}

		logger.Info("phase started", zap.String("phase", phase))
		phaseFatal, phaseErr := e.runPhase(ctx, saveCtx, scope, run, phase, &abort, wd, logger)
		if execErr == nil {
			execErr = phaseErr
		}
		if fatalStage == "" {
			fatalStage = phaseFatal
		}
		logger.Info("phase finished",
			zap.String("phase", phase),
			zap.Bool("abort", abort))
	}

	return fatalStage, execErr
}

// runPhase drives one phase: it dispatches ready stages, skips stages
// whose producers did not succeed, and applies results until the phase
// drains.
func (e *Executor) runPhase(ctx, saveCtx context.Context, scope *runScope, run *domain.PipelineRun, phase string, abort *bool, wd *watchdog, logger *zap.Logger) (string, error) {
	var execErr error
	var fatalStage string

	stages := scope.g.PhaseStages(phase)
	order := make([]string, 0, len(stages))
	pending := make(map[string]spec.Stage, len(stages))
	for _, st := range stages {
		if run.Stages[st.ID].Status != domain.StageStatusPending {
			continue
		}
		order = append(order, st.ID)
		pending[st.ID] = st
	}

	results := make(chan stageResult)
	inflight := 0

	for len(pending) > 0 || inflight > 0 {
		if *abort || ctx.Err() != nil || execErr != nil {
			for _, id := range order {
				if _, ok := pending[id]; !ok {
					continue
				}
				delete(pending, id)
				e.markSkipped(saveCtx, run, id, domain.SkipReasonAborted, wd, logger)
			}
		} else {
			// Same-phase dependencies are acyclic, so when nothing is
			// in flight a pass always dispatches or skips something.
			progressed := false
			for _, id := range order {
				st, ok := pending[id]
				if !ok {
					continue
				}
				switch e.stageReadiness(scope, run, st) {
				case stageReady:
					delete(pending, id)
					e.dispatch(ctx, saveCtx, scope, run, st, results, logger)
					inflight++
					progressed = true
				case stageBlocked:
					delete(pending, id)
					e.markSkipped(saveCtx, run, id, domain.SkipReasonDependency, wd, logger)
					progressed = true
				case stageWaiting:
				}
			}
			if !progressed && inflight == 0 && len(pending) > 0 {
				logger.Error("stage scheduling stalled", zap.String("phase", phase))
				execErr = fmt.Errorf("stage scheduling stalled in phase %s", phase)
				continue
			}
		}

		if inflight == 0 {
			continue
		}

		res := <-results
		inflight--
		fatal, resErr := e.apply(saveCtx, run, res, wd, logger)
		if resErr != nil && execErr == nil {
			execErr = resErr
			*abort = true
		}
		if fatal && fatalStage == "" {
			fatalStage = res.stageID
			*abort = true
		}
	}

	return fatalStage, execErr
}

// stageReadiness inspects the producers of every declared input. A
// producer that ended without success blocks its consumers for good;
// one still pending or running in this phase means wait.
func (e *Executor) stageReadiness(scope *runScope, run *domain.PipelineRun, st spec.Stage) readiness {
	for _, in := range st.Inputs {
		prod, ok := scope.g.Producer(in.Name)
		if !ok || prod == domain.SeedProducer {
			continue
		}
		switch run.Stages[prod].Status {
		case domain.StageStatusSuccess:
		case domain.StageStatusFailed, domain.StageStatusSkipped:
			return stageBlocked
		default:
			return stageWaiting
		}
	}
	return stageReady
}

// dispatch marks a stage running and hands it to a goroutine. The
// admission gate is acquired inside the goroutine so queue wait is
// measured, not blocking dispatch of siblings.
func (e *Executor) dispatch(ctx, saveCtx context.Context, scope *runScope, run *domain.PipelineRun, st spec.Stage, results chan<- stageResult, logger *zap.Logger) {
	state := run.Stages[st.ID]
	now := time.Now().UTC()
	state.Status = domain.StageStatusRunning
	state.StartedAt = &now
	e.publishStageEvent(saveCtx, run.RunID, state, domain.EventTypeStageStarted, nil)
	e.saveRun(saveCtx, run, logger)

	logger.Info("stage dispatched",
		zap.String("stage_id", st.ID),
		zap.String("phase", state.Phase))

	go e.runStage(ctx, scope, st, results)
}

// apply folds one stage result into the run state. It reports whether
// the failure is fatal for the run, and any store error.
func (e *Executor) apply(saveCtx context.Context, run *domain.PipelineRun, res stageResult, wd *watchdog, logger *zap.Logger) (bool, error) {
	state := run.Stages[res.stageID]
	now := time.Now().UTC()
	state.CompletedAt = &now
	state.Invocation = res.invocation
	state.Artifacts = res.artifacts
	wd.markDone()

	if res.skipReason != "" {
		state.Status = domain.StageStatusSkipped
		state.Reason = res.skipReason
		e.metrics.RecordStageExecuted(state.Phase, string(state.Status), 0)
		e.publishStageEvent(saveCtx, run.RunID, state, domain.EventTypeStageSkipped, map[string]interface{}{
			"reason": res.skipReason,
		})
		e.saveRun(saveCtx, run, logger)
		return false, nil
	}

	state.Status = res.status
	state.Error = res.errMsg

	var duration time.Duration
	if state.StartedAt != nil {
		duration = now.Sub(*state.StartedAt)
	}
	e.metrics.RecordStageExecuted(state.Phase, string(state.Status), duration)

	if state.Status == domain.StageStatusSuccess {
		e.publishStageEvent(saveCtx, run.RunID, state, domain.EventTypeStageSucceeded, nil)
		logger.Info("stage succeeded",
			zap.String("stage_id", res.stageID),
			zap.Duration("duration", duration))
	} else {
		e.publishStageEvent(saveCtx, run.RunID, state, domain.EventTypeStageFailed, map[string]interface{}{
			"error": state.Error,
		})
		logger.Warn("stage failed",
			zap.String("stage_id", res.stageID),
			zap.String("policy", string(state.Policy)),
			zap.String("error", state.Error))
	}
	e.saveRun(saveCtx, run, logger)

	if res.storeErr != nil {
		return false, res.storeErr
	}
	return state.Status == domain.StageStatusFailed && state.Policy == domain.FailurePolicyFatal, nil
}

// markSkipped settles a pending stage as skipped with a reason.
func (e *Executor) markSkipped(ctx context.Context, run *domain.PipelineRun, stageID, reason string, wd *watchdog, logger *zap.Logger) {
	state := run.Stages[stageID]
	if state == nil || state.Status != domain.StageStatusPending {
		return
	}
	now := time.Now().UTC()
	state.Status = domain.StageStatusSkipped
	state.Reason = reason
	state.CompletedAt = &now
	wd.markDone()

	e.metrics.RecordStageExecuted(state.Phase, string(state.Status), 0)
	e.publishStageEvent(ctx, run.RunID, state, domain.EventTypeStageSkipped, map[string]interface{}{
		"reason": reason,
	})
	e.saveRun(ctx, run, logger)

	logger.Info("stage skipped",
		zap.String("stage_id", stageID),
		zap.String("reason", reason))
}

// finalize settles the terminal run status and emits the closing
// event. runCtx is inspected for cancellation and timeout; err and
// fatalStage carry what the phase walk found.
func (e *Executor) finalize(runCtx, saveCtx context.Context, run *domain.PipelineRun, execErr error, fatalStage string, logger *zap.Logger) {
	now := time.Now().UTC()
	run.CompletedAt = &now

	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		run.Status = domain.RunStatusFailed
		run.Error = "execution timeout"
	case errors.Is(runCtx.Err(), context.Canceled):
		run.Status = domain.RunStatusCancelled
		run.Error = "run cancelled"
	case execErr != nil:
		run.Status = domain.RunStatusFailed
		run.Error = execErr.Error()
	case fatalStage != "":
		run.Status = domain.RunStatusFailed
		run.Error = fmt.Sprintf("stage %s failed", fatalStage)
	case hasFailedStage(run):
		run.Status = domain.RunStatusPartial
	default:
		run.Status = domain.RunStatusSuccess
	}

	var duration time.Duration
	if run.StartedAt != nil {
		duration = now.Sub(*run.StartedAt)
	}
	e.metrics.RecordRunCompleted(string(run.Status), duration)
	e.publishRunEvent(saveCtx, run, domain.TerminalEventFor(run.Status), logger)
	e.saveRun(saveCtx, run, logger)

	logger.Info("run finished",
		zap.String("status", string(run.Status)),
		zap.Duration("duration", duration),
		zap.String("error", run.Error))
}

// hasFailedStage reports whether any stage failed. By the time it is
// consulted all fatal failures are accounted for, so a hit means
// advisory failures only.
func hasFailedStage(run *domain.PipelineRun) bool {
	for _, st := range run.Stages {
		if st.Status == domain.StageStatusFailed {
			return true
		}
	}
	return false
}

func (e *Executor) saveRun(ctx context.Context, run *domain.PipelineRun, logger *zap.Logger) {
	if err := e.runs.SaveRun(ctx, run); err != nil {
		logger.Error("failed to save run state", zap.Error(err))
	}
}

func (e *Executor) publishRunEvent(ctx context.Context, run *domain.PipelineRun, eventType domain.EventType, logger *zap.Logger) {
	event := domain.Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		RunID:     run.RunID,
		Timestamp: time.Now().UTC(),
		Data: map[string]interface{}{
			"pipeline": run.Pipeline,
			"status":   string(run.Status),
		},
	}
	if err := e.events.Publish(ctx, ports.TopicRunEvents, event); err != nil {
		logger.Error("failed to publish event",
			zap.String("type", string(eventType)),
			zap.Error(err))
	}
}

func (e *Executor) publishStageEvent(ctx context.Context, runID string, state *domain.StageState, eventType domain.EventType, data map[string]interface{}) {
	if data == nil {
		data = map[string]interface{}{}
	}
	data["phase"] = state.Phase
	data["status"] = string(state.Status)

	event := domain.Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		RunID:     runID,
		StageID:   state.StageID,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
	if err := e.events.Publish(ctx, ports.TopicStageEvents, event); err != nil {
		e.logger.Error("failed to publish event",
			zap.String("type", string(eventType)),
			zap.Error(err))
	}
}
