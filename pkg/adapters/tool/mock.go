package tool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/aescanero/phaseline/pkg/domain"
	"github.com/aescanero/phaseline/pkg/ports"
)

// MockResult scripts the outcome of one stage invocation.
type MockResult struct {
	Status   domain.InvocationStatus
	ExitCode int
	Stdout   string
	Stderr   string

	// Files are written into the stage workdir before the result is
	// returned, keyed by path relative to the workdir. This is how a
	// scripted stage produces its declared outputs.
	Files map[string]string

	// Delay simulates tool latency. It respects both the invocation
	// timeout and context cancellation, like a real subprocess would.
	Delay time.Duration

	// Err is returned verbatim instead of a result, for exercising
	// runner-level failures.
	Err error
}

// MockRunner replays scripted results and records every invocation.
// Unscripted stages succeed with exit code zero. Safe for concurrent
// use.
type MockRunner struct {
	// Script maps stage ids to their outcome. Assign before the first
	// invocation.
	Script map[string]MockResult

	// OnInvoke, when set, observes every invocation before any delay or
	// file is applied.
	OnInvoke func(inv ports.Invocation)

	mu          sync.Mutex
	calls       map[string]int
	order       []string
	inflight    int
	maxInflight int
}

// NewMockRunner creates an empty scripted runner.
func NewMockRunner() *MockRunner {
	return &MockRunner{
		Script: make(map[string]MockResult),
		calls:  make(map[string]int),
	}
}

// Invoke records the call and replays the scripted outcome.
func (m *MockRunner) Invoke(ctx context.Context, inv ports.Invocation) (*domain.ToolInvocation, error) {
	m.mu.Lock()
	m.calls[inv.StageID]++
	m.order = append(m.order, inv.StageID)
	m.inflight++
	if m.inflight > m.maxInflight {
		m.maxInflight = m.inflight
	}
	res := m.Script[inv.StageID]
	hook := m.OnInvoke
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.inflight--
		m.mu.Unlock()
	}()

	if hook != nil {
		hook(inv)
	}

	started := time.Now()

	if res.Delay > 0 {
		wait := res.Delay
		timedOut := false
		if inv.Timeout > 0 && inv.Timeout < wait {
			wait = inv.Timeout
			timedOut = true
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return &domain.ToolInvocation{
				StageID:   inv.StageID,
				Attempt:   1,
				Command:   inv.Command,
				Status:    domain.InvocationError,
				ExitCode:  -1,
				StartedAt: started,
				Duration:  time.Since(started),
				Error:     fmt.Sprintf("invocation aborted: %v", ctx.Err()),
			}, nil
		}
		if timedOut {
			return &domain.ToolInvocation{
				StageID:   inv.StageID,
				Attempt:   1,
				Command:   inv.Command,
				Status:    domain.InvocationTimedOut,
				ExitCode:  -1,
				StartedAt: started,
				Duration:  time.Since(started),
				Error:     fmt.Sprintf("timed out after %s", inv.Timeout),
			}, nil
		}
	}

	if res.Err != nil {
		return nil, res.Err
	}

	for rel, content := range res.Files {
		path := filepath.Join(inv.Workdir, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return nil, err
		}
	}

	status := res.Status
	if status == "" {
		if res.ExitCode == 0 {
			status = domain.InvocationCompleted
		} else {
			status = domain.InvocationFailed
		}
	}

	return &domain.ToolInvocation{
		StageID:   inv.StageID,
		Attempt:   1,
		Command:   inv.Command,
		Status:    status,
		ExitCode:  res.ExitCode,
		StartedAt: started,
		Duration:  time.Since(started),
		Stdout:    []byte(res.Stdout),
		Stderr:    []byte(res.Stderr),
	}, nil
}

// Calls returns how many times a stage was invoked.
func (m *MockRunner) Calls(stageID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[stageID]
}

// TotalCalls returns the number of invocations across all stages.
func (m *MockRunner) TotalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.order)
}

// CallOrder returns stage ids in invocation order.
func (m *MockRunner) CallOrder() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string{}, m.order...)
}

// MaxInflight returns the high-water mark of concurrent invocations.
func (m *MockRunner) MaxInflight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxInflight
}
