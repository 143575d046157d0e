// Package history defines the append-only audit events recorded for every
// workflow instance. Events are never mutated or deleted.
package history

import (
	"time"

	"github.com/google/uuid"

	"github.com/stageflow/stageflow/action"
)

type EventType string

const (
	EventTypeWorkflowStarted   EventType = "started"
	EventTypeWorkflowCompleted EventType = "completed"
	EventTypeWorkflowPaused    EventType = "paused"
	EventTypeWorkflowResumed   EventType = "resumed"
	EventTypeWorkflowCancelled EventType = "cancelled"
	EventTypeWorkflowFailed    EventType = "failed"

	EventTypeStageEntered EventType = "stage_entered"
	EventTypeStageExited  EventType = "stage_exited"
	EventTypeStageSkipped EventType = "stage_skipped"

	EventTypeScoreChanged EventType = "score_changed"
	EventTypeDataUpdated  EventType = "data_updated"
	EventTypeAssigned     EventType = "assigned"
)

// Event is one audit log entry. Stage-scoped entries carry a StageID;
// workflow-scoped entries do not. ActionResults record the outcome of every
// action dispatched as part of the transition, including failed ones.
type Event struct {
	// ID is the unique id of the event.
	ID string `json:"id"`

	// SequenceID is assigned by the backend on insert and orders the
	// instance's history for replay.
	SequenceID int64 `json:"sequence_id,omitempty"`

	InstanceID string    `json:"instance_id"`
	StageID    string    `json:"stage_id,omitempty"`
	Type       EventType `json:"type"`

	Actor string `json:"actor,omitempty"`
	Notes string `json:"notes,omitempty"`

	Timestamp time.Time `json:"timestamp"`

	ActionResults []action.Result `json:"action_results,omitempty"`
}

type EventOption func(e *Event)

func WithStageID(stageID string) EventOption {
	return func(e *Event) {
		e.StageID = stageID
	}
}

func WithActor(actor string) EventOption {
	return func(e *Event) {
		e.Actor = actor
	}
}

func WithNotes(notes string) EventOption {
	return func(e *Event) {
		e.Notes = notes
	}
}

func WithActionResults(results []action.Result) EventOption {
	return func(e *Event) {
		e.ActionResults = results
	}
}

func NewEvent(timestamp time.Time, instanceID string, eventType EventType, opts ...EventOption) *Event {
	e := &Event{
		ID:         uuid.NewString(),
		InstanceID: instanceID,
		Type:       eventType,
		Timestamp:  timestamp,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}
