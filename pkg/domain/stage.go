package domain

import "time"

// FailurePolicy decides how a failed stage affects its run.
type FailurePolicy string

const (
	// FailurePolicyFatal aborts the run: later phases are not dispatched.
	FailurePolicyFatal FailurePolicy = "fatal"

	// FailurePolicyAdvisory records the failure and lets the run continue.
	// A run whose only failures are advisory ends as partial.
	FailurePolicyAdvisory FailurePolicy = "advisory"
)

// Valid reports whether the policy is a known value.
func (p FailurePolicy) Valid() bool {
	return p == FailurePolicyFatal || p == FailurePolicyAdvisory
}

// StageStatus represents the lifecycle state of a single stage within a run.
type StageStatus string

const (
	StageStatusPending StageStatus = "pending"
	StageStatusRunning StageStatus = "running"
	StageStatusSuccess StageStatus = "success"
	StageStatusFailed  StageStatus = "failed"
	StageStatusSkipped StageStatus = "skipped"
)

// Reasons recorded on skipped stages.
const (
	// SkipReasonCondition marks stages whose run condition did not match
	// the trigger.
	SkipReasonCondition = "condition"

	// SkipReasonAborted marks stages cancelled before dispatch after a
	// fatal failure or an external cancellation.
	SkipReasonAborted = "aborted"

	// SkipReasonDependency marks stages whose declared inputs were never
	// produced because a producing stage failed or was skipped.
	SkipReasonDependency = "dependency"
)

// StageState tracks a single stage's progress within a run.
type StageState struct {
	StageID     string          `json:"stage_id"`
	Phase       string          `json:"phase"`
	Status      StageStatus     `json:"status"`
	Policy      FailurePolicy   `json:"failure_policy"`
	Reason      string          `json:"reason,omitempty"`
	Error       string          `json:"error,omitempty"`
	Invocation  *ToolInvocation `json:"invocation,omitempty"`
	Artifacts   []string        `json:"artifacts,omitempty"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}
