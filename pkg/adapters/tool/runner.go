package tool

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"go.uber.org/zap"

	"github.com/aescanero/phaseline/pkg/domain"
	"github.com/aescanero/phaseline/pkg/ports"
)

// ExecRunner invokes stage commands as local subprocesses.
type ExecRunner struct {
	logger *zap.Logger
}

// NewExecRunner creates a subprocess-backed tool runner.
func NewExecRunner(logger *zap.Logger) *ExecRunner {
	return &ExecRunner{logger: logger}
}

// Invoke runs the command in the stage workdir and reports the outcome
// as data. The error return is reserved for invocations the runner
// cannot describe at all (empty command); non-zero exits, timeouts and
// unstartable binaries all come back inside the ToolInvocation.
func (r *ExecRunner) Invoke(ctx context.Context, inv ports.Invocation) (*domain.ToolInvocation, error) {
	if len(inv.Command) == 0 {
		return nil, fmt.Errorf("stage %s: empty command", inv.StageID)
	}

	runCtx := ctx
	cancel := func() {}
	if inv.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, inv.Timeout)
	}
	defer cancel()

	cmd := exec.CommandContext(runCtx, inv.Command[0], inv.Command[1:]...)
	cmd.Dir = inv.Workdir
	cmd.Env = os.Environ()
	for k, v := range inv.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	started := time.Now()
	err := cmd.Run()

	result := &domain.ToolInvocation{
		StageID:   inv.StageID,
		Attempt:   1,
		Command:   inv.Command,
		StartedAt: started,
		Duration:  time.Since(started),
		Stdout:    stdout.Bytes(),
		Stderr:    stderr.Bytes(),
	}

	switch {
	case err == nil:
		result.Status = domain.InvocationCompleted

	case ctx.Err() != nil:
		// The run itself was cancelled or hit its deadline; the stage
		// timeout did not fire on its own.
		result.Status = domain.InvocationError
		result.ExitCode = exitCodeOf(err)
		result.Error = fmt.Sprintf("invocation aborted: %v", ctx.Err())

	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		result.Status = domain.InvocationTimedOut
		result.ExitCode = exitCodeOf(err)
		result.Error = fmt.Sprintf("timed out after %s", inv.Timeout)

	default:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.Status = domain.InvocationFailed
			result.ExitCode = exitErr.ExitCode()
		} else {
			result.Status = domain.InvocationError
			result.ExitCode = -1
			result.Error = err.Error()
		}
	}

	r.logger.Debug("tool invocation finished",
		zap.String("stage_id", inv.StageID),
		zap.String("status", string(result.Status)),
		zap.Int("exit_code", result.ExitCode),
		zap.Duration("duration", result.Duration))

	return result, nil
}

func exitCodeOf(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
