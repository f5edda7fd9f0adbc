package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/aescanero/phaseline/internal/spec"
	"github.com/aescanero/phaseline/pkg/domain"
	"github.com/aescanero/phaseline/pkg/ports"
)

// stageResult carries one stage outcome back to the executor loop. The
// loop is the only writer of run state; goroutines report through this.
type stageResult struct {
	stageID    string
	status     domain.StageStatus
	skipReason string
	errMsg     string
	invocation *domain.ToolInvocation
	artifacts  []string

	// storeErr marks an artifact store failure. Those abort the run
	// regardless of the stage's failure policy.
	storeErr error
}

// runStage executes one dispatched stage: admission, workspace setup,
// tool invocation, artifact collection. It always sends exactly one
// result.
func (e *Executor) runStage(ctx context.Context, scope *runScope, st spec.Stage, results chan<- stageResult) {
	res := stageResult{stageID: st.ID}
	defer func() { results <- res }()

	waitStart := time.Now()
	if err := scope.gate.Acquire(ctx); err != nil {
		res.status = domain.StageStatusSkipped
		res.skipReason = domain.SkipReasonAborted
		return
	}
	defer scope.gate.Release()
	e.metrics.ObserveQueueWait(time.Since(waitStart))

	logger := e.logger.With(
		zap.String("run_id", scope.runID),
		zap.String("stage_id", st.ID))

	workdir := filepath.Join(e.workRoot, scope.runID, st.ID)
	if err := os.MkdirAll(workdir, 0o755); err != nil {
		res.status = domain.StageStatusFailed
		res.errMsg = fmt.Sprintf("creating stage workdir: %v", err)
		return
	}
	defer os.RemoveAll(workdir)

	if err := e.materializeInputs(ctx, scope, st, workdir); err != nil {
		res.storeErr = err
		res.status = domain.StageStatusFailed
		res.errMsg = err.Error()
		return
	}

	cacheKeys, err := e.restoreCaches(ctx, scope, st, workdir, logger)
	if err != nil {
		res.status = domain.StageStatusFailed
		res.errMsg = err.Error()
		return
	}

	command, err := renderCommand(st, scope.data)
	if err != nil {
		res.status = domain.StageStatusFailed
		res.errMsg = err.Error()
		return
	}
	env, err := renderEnv(st, scope.data)
	if err != nil {
		res.status = domain.StageStatusFailed
		res.errMsg = err.Error()
		return
	}
	env["PHASELINE_RUN_ID"] = scope.runID
	env["PHASELINE_STAGE_ID"] = st.ID

	timeout := st.Timeout.Std()
	if timeout <= 0 {
		timeout = e.defaultTimeout
	}

	inv, err := e.runner.Invoke(ctx, ports.Invocation{
		StageID: st.ID,
		Command: command,
		Env:     env,
		Workdir: workdir,
		Timeout: timeout,
	})
	if err != nil {
		res.status = domain.StageStatusFailed
		res.errMsg = fmt.Sprintf("tool invocation: %v", err)
		return
	}
	res.invocation = inv
	e.metrics.RecordToolInvocation(filepath.Base(command[0]), string(inv.Status), inv.Duration)

	// Captured output is stored for every invocation, success or not.
	for _, stream := range []struct {
		suffix string
		data   []byte
		ref    *string
	}{
		{".stdout", inv.Stdout, &inv.StdoutRef},
		{".stderr", inv.Stderr, &inv.StderrRef},
	} {
		name := st.ID + stream.suffix
		if _, err := e.artifacts.Put(ctx, scope.runID, name, st.ID, bytes.NewReader(stream.data)); err != nil {
			res.storeErr = fmt.Errorf("storing %s: %w", name, err)
			res.status = domain.StageStatusFailed
			res.errMsg = res.storeErr.Error()
			return
		}
		*stream.ref = name
		res.artifacts = append(res.artifacts, name)
	}

	if inv.Status != domain.InvocationCompleted {
		res.status = domain.StageStatusFailed
		res.errMsg = invocationError(inv)
		return
	}

	for _, out := range st.Outputs {
		f, err := os.Open(filepath.Join(workdir, out.RelPath()))
		if err != nil {
			res.status = domain.StageStatusFailed
			res.errMsg = fmt.Sprintf("declared output %q not found at %s", out.Name, out.RelPath())
			return
		}
		art, putErr := e.artifacts.Put(ctx, scope.runID, out.Name, st.ID, f)
		f.Close()
		if putErr != nil {
			res.storeErr = fmt.Errorf("storing output %q: %w", out.Name, putErr)
			res.status = domain.StageStatusFailed
			res.errMsg = res.storeErr.Error()
			return
		}
		res.artifacts = append(res.artifacts, art.Name)
		logger.Debug("output collected",
			zap.String("artifact", art.Name),
			zap.Int64("size", art.Size))
	}

	e.writeBackCaches(ctx, st, cacheKeys, workdir, logger)

	res.status = domain.StageStatusSuccess
}

// materializeInputs copies every declared input from the artifact store
// into the stage workdir at its declared relative path.
func (e *Executor) materializeInputs(ctx context.Context, scope *runScope, st spec.Stage, workdir string) error {
	for _, in := range st.Inputs {
		rc, _, err := e.artifacts.Open(ctx, scope.runID, in.Name)
		if err != nil {
			return fmt.Errorf("reading input %q: %w", in.Name, err)
		}

		dest := filepath.Join(workdir, in.RelPath())
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			rc.Close()
			return err
		}
		f, err := os.Create(dest)
		if err != nil {
			rc.Close()
			return err
		}
		_, err = io.Copy(f, rc)
		rc.Close()
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return fmt.Errorf("materializing input %q: %w", in.Name, err)
		}
	}
	return nil
}

// restoreCaches renders the stage's cache keys and materializes any
// present entries. Misses and store hiccups are logged, never fatal;
// only an unrenderable key fails the stage.
func (e *Executor) restoreCaches(ctx context.Context, scope *runScope, st spec.Stage, workdir string, logger *zap.Logger) (map[string]string, error) {
	if len(st.Caches) == 0 {
		return nil, nil
	}

	declared := make(map[string]string)
	for _, decl := range scope.g.Pipeline().Caches {
		declared[decl.Name] = decl.Key
	}

	keys := make(map[string]string, len(st.Caches))
	for _, ref := range st.Caches {
		key, err := renderCacheKey(declared[ref.Name], scope.data)
		if err != nil {
			return nil, fmt.Errorf("cache %q: %w", ref.Name, err)
		}
		keys[ref.Name] = key

		data, err := e.caches.Get(ctx, key)
		if err != nil {
			if errors.Is(err, ports.ErrCacheMiss) {
				logger.Debug("cache miss", zap.String("key", key))
			} else {
				logger.Warn("cache restore failed",
					zap.String("key", key),
					zap.Error(err))
			}
			continue
		}

		dest := filepath.Join(workdir, ref.RelPath())
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			logger.Warn("cache restore failed", zap.String("key", key), zap.Error(err))
			continue
		}
		if err := os.WriteFile(dest, data, 0o644); err != nil {
			logger.Warn("cache restore failed", zap.String("key", key), zap.Error(err))
			continue
		}
		logger.Debug("cache restored",
			zap.String("key", key),
			zap.Int("size", len(data)))
	}
	return keys, nil
}

// writeBackCaches stores refreshed cache files after a successful
// invocation. A stage that left the path untouched refreshes nothing.
func (e *Executor) writeBackCaches(ctx context.Context, st spec.Stage, keys map[string]string, workdir string, logger *zap.Logger) {
	for _, ref := range st.Caches {
		data, err := os.ReadFile(filepath.Join(workdir, ref.RelPath()))
		if err != nil {
			logger.Debug("cache not refreshed", zap.String("cache", ref.Name))
			continue
		}
		if err := e.caches.Put(ctx, keys[ref.Name], data); err != nil {
			logger.Warn("cache write-back failed",
				zap.String("key", keys[ref.Name]),
				zap.Error(err))
			continue
		}
		logger.Debug("cache written back",
			zap.String("key", keys[ref.Name]),
			zap.Int("size", len(data)))
	}
}

func invocationError(inv *domain.ToolInvocation) string {
	switch inv.Status {
	case domain.InvocationFailed:
		return fmt.Sprintf("tool exited with code %d", inv.ExitCode)
	default:
		if inv.Error != "" {
			return inv.Error
		}
		return fmt.Sprintf("tool finished with status %s", inv.Status)
	}
}
