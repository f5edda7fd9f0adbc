package domain

import "time"

// EventType identifies run and stage lifecycle events.
type EventType string

const (
	EventTypeRunSubmitted EventType = "run.submitted"
	EventTypeRunStarted   EventType = "run.started"
	EventTypeRunSucceeded EventType = "run.succeeded"
	EventTypeRunFailed    EventType = "run.failed"
	EventTypeRunPartial   EventType = "run.partial"
	EventTypeRunCancelled EventType = "run.cancelled"

	EventTypeStageStarted   EventType = "stage.started"
	EventTypeStageSucceeded EventType = "stage.succeeded"
	EventTypeStageFailed    EventType = "stage.failed"
	EventTypeStageSkipped   EventType = "stage.skipped"
)

// Event is one entry in the run status feed. Every stage transition emits
// exactly one event, and every run emits exactly one terminal event.
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	RunID     string                 `json:"run_id"`
	StageID   string                 `json:"stage_id,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// TerminalEventFor maps a terminal run status to its event type.
func TerminalEventFor(status RunStatus) EventType {
	switch status {
	case RunStatusSuccess:
		return EventTypeRunSucceeded
	case RunStatusPartial:
		return EventTypeRunPartial
	case RunStatusCancelled:
		return EventTypeRunCancelled
	default:
		return EventTypeRunFailed
	}
}
