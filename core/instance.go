package core

import (
	"time"
)

// InstanceStatus is the lifecycle state of a workflow instance. Legal
// transitions: pending → active ⇄ paused → {completed, cancelled, failed}.
// Completed, cancelled, and failed are terminal.
type InstanceStatus string

const (
	InstanceStatusPending   InstanceStatus = "pending"
	InstanceStatusActive    InstanceStatus = "active"
	InstanceStatusPaused    InstanceStatus = "paused"
	InstanceStatusCompleted InstanceStatus = "completed"
	InstanceStatusCancelled InstanceStatus = "cancelled"
	InstanceStatusFailed    InstanceStatus = "failed"
)

// Terminal reports whether the status permits no further transitions.
func (s InstanceStatus) Terminal() bool {
	switch s {
	case InstanceStatusCompleted, InstanceStatusCancelled, InstanceStatusFailed:
		return true
	}
	return false
}

// WorkflowInstance is one concrete execution of a template for one subject.
// It is mutated only through engine operations and never hard-deleted.
type WorkflowInstance struct {
	// InstanceID is the ID of the workflow instance.
	InstanceID string `json:"instance_id"`

	// TemplateID pins the template this instance runs. Later template edits
	// never affect a running instance.
	TemplateID string `json:"template_id"`

	// SubjectID identifies who or what the workflow is about, e.g. a
	// candidate id.
	SubjectID string `json:"subject_id"`

	// CurrentStageID is empty when the instance is pending or terminal.
	CurrentStageID string `json:"current_stage_id,omitempty"`

	Status InstanceStatus `json:"status"`

	// Score is a 0-100 rating consulted by conditions. It changes only via
	// explicit engine operations.
	Score int `json:"score"`

	// Data is the context bag conditions evaluate against. Action handlers
	// may contribute to it via their produced data.
	Data map[string]any `json:"data,omitempty"`

	// PriorStageStatuses records the outcome of stages the instance has
	// left: "completed" or "skipped", keyed by stage id.
	PriorStageStatuses map[string]string `json:"prior_stage_statuses,omitempty"`

	AssignedTo string `json:"assigned_to,omitempty"`

	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	DueAt       *time.Time `json:"due_at,omitempty"`

	// StageEnteredAt is when the current stage was entered; the SLA sweep
	// compares it against the stage's time limit.
	StageEnteredAt *time.Time `json:"stage_entered_at,omitempty"`

	// Version provides optimistic concurrency: every committed mutation
	// increments it, and a mutation based on a stale version is rejected.
	Version int64 `json:"version"`
}

func NewWorkflowInstance(instanceID, templateID, subjectID string) *WorkflowInstance {
	return &WorkflowInstance{
		InstanceID: instanceID,
		TemplateID: templateID,
		SubjectID:  subjectID,
		Status:     InstanceStatusPending,
	}
}
