package action

import (
	"fmt"
	"strings"
)

// Builtin action types. Additional types can be registered on a Registry
// before templates referencing them are published.
const (
	TypeNotify              = "notify"
	TypeSendEmail           = "sendEmail"
	TypeScheduleInterview   = "scheduleInterview"
	TypeCreateCalendarEvent = "createCalendarEvent"
	TypeAssignTask          = "assignTask"
	TypeWebhook             = "webhook"
)

// Spec describes one side-effecting action fired on stage entry or exit.
type Spec struct {
	// Type selects the registered handler.
	Type string `json:"type"`

	// Target is handler-specific: a recipient, an assignee, a webhook URL.
	Target string `json:"target,omitempty"`

	Parameters map[string]any `json:"parameters,omitempty"`
}

// Invocation is the read-only instance context a handler executes against.
type Invocation struct {
	InstanceID string
	TemplateID string
	SubjectID  string
	StageID    string

	Target     string
	Parameters map[string]any

	Score int
	Data  map[string]any
}

// Result is the recorded outcome of a single action execution.
type Result struct {
	Type    string `json:"type"`
	Target  string `json:"target,omitempty"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`

	// ProducedData is merged into the instance data bag, e.g. the id of a
	// scheduled calendar event.
	ProducedData map[string]any `json:"produced_data,omitempty"`
}

// Error aggregates the results of a dispatch in which one or more handlers
// failed. The stage transition the dispatch belonged to is still committed.
type Error struct {
	Results []Result
}

func (e *Error) Error() string {
	failed := e.Failed()
	names := make([]string, len(failed))
	for i, r := range failed {
		names[i] = r.Type
	}
	return fmt.Sprintf("%d action(s) failed: %s", len(failed), strings.Join(names, ", "))
}

// Failed returns the subset of results whose handler failed.
func (e *Error) Failed() []Result {
	var failed []Result
	for _, r := range e.Results {
		if !r.Success {
			failed = append(failed, r)
		}
	}
	return failed
}
