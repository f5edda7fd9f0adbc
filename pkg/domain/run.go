package domain

import (
	"sort"
	"time"
)

// RunStatus represents the lifecycle state of a pipeline run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusSuccess   RunStatus = "success"
	RunStatusFailed    RunStatus = "failed"
	RunStatusPartial   RunStatus = "partial"
	RunStatusCancelled RunStatus = "cancelled"
)

// Terminal reports whether the status is an end state.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusSuccess, RunStatusFailed, RunStatusPartial, RunStatusCancelled:
		return true
	}
	return false
}

// PipelineRun is one execution of a pipeline for a trigger. It owns the
// per-stage states and is mutated only by the orchestrator.
type PipelineRun struct {
	RunID       string                 `json:"run_id"`
	Pipeline    string                 `json:"pipeline"`
	Trigger     Trigger                `json:"trigger"`
	Status      RunStatus              `json:"status"`
	Error       string                 `json:"error,omitempty"`
	Concurrency int                    `json:"concurrency,omitempty"`
	Phases      []string               `json:"phases"`
	Stages      map[string]*StageState `json:"stages"`
	SubmittedAt time.Time              `json:"submitted_at"`
	StartedAt   *time.Time             `json:"started_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
}

// StageByStatus returns the ids of stages currently in the given status,
// sorted for stable output.
func (r *PipelineRun) StageByStatus(status StageStatus) []string {
	var ids []string
	for id, st := range r.Stages {
		if st.Status == status {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}
