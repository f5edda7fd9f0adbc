package domain

import "time"

// InvocationStatus classifies the outcome of one tool invocation.
type InvocationStatus string

const (
	// InvocationCompleted means the tool exited zero.
	InvocationCompleted InvocationStatus = "completed"

	// InvocationFailed means the tool ran and exited non-zero.
	InvocationFailed InvocationStatus = "failed"

	// InvocationTimedOut means the tool was killed at its timeout.
	InvocationTimedOut InvocationStatus = "timed_out"

	// InvocationError means the tool could not be started at all.
	InvocationError InvocationStatus = "error"
)

// ToolInvocation records a single adapter call: the command, its exit, and
// where the captured output ended up. A failed tool is a value here, never
// a Go error.
type ToolInvocation struct {
	StageID   string           `json:"stage_id"`
	Attempt   int              `json:"attempt"`
	Command   []string         `json:"command"`
	Status    InvocationStatus `json:"status"`
	ExitCode  int              `json:"exit_code"`
	StartedAt time.Time        `json:"started_at"`
	Duration  time.Duration    `json:"duration"`

	// Error describes why the tool never produced an exit status: start
	// failures, timeouts, cancelled runs. Empty for completed and failed
	// invocations.
	Error string `json:"error,omitempty"`

	// Raw captured output. The executor persists both streams to the
	// artifact store and fills the refs; the buffers themselves are never
	// serialized with run state.
	Stdout []byte `json:"-"`
	Stderr []byte `json:"-"`

	StdoutRef string `json:"stdout_ref,omitempty"`
	StderrRef string `json:"stderr_ref,omitempty"`
}
