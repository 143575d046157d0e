package engine

import (
	"time"

	"github.com/stageflow/stageflow/condition"
	"github.com/stageflow/stageflow/core"
	"github.com/stageflow/stageflow/template"
)

// Well-known instance data keys consulted when building the condition view.
const (
	DataKeyApprovals = "approvals"
	DataKeyDocuments = "documents"
)

// InstanceView is the read-only projection returned by GetInstance.
type InstanceView struct {
	InstanceID string `json:"instance_id"`
	TemplateID string `json:"template_id"`
	SubjectID  string `json:"subject_id"`

	Status         core.InstanceStatus `json:"status"`
	CurrentStageID string              `json:"current_stage_id,omitempty"`
	Score          int                 `json:"score"`
	AssignedTo     string              `json:"assigned_to,omitempty"`

	// ProgressPercentage is the share of stages the instance has moved past,
	// 0-100.
	ProgressPercentage int `json:"progress_percentage"`

	// IsOverdue is true when the instance or its current stage has exceeded
	// its time bound and the instance is still running.
	IsOverdue bool `json:"is_overdue"`

	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	DueAt       *time.Time `json:"due_at,omitempty"`
}

func newInstanceView(instance *core.WorkflowInstance, graph *template.StageGraph, now time.Time) *InstanceView {
	view := &InstanceView{
		InstanceID:     instance.InstanceID,
		TemplateID:     instance.TemplateID,
		SubjectID:      instance.SubjectID,
		Status:         instance.Status,
		CurrentStageID: instance.CurrentStageID,
		Score:          instance.Score,
		AssignedTo:     instance.AssignedTo,
		StartedAt:      instance.StartedAt,
		CompletedAt:    instance.CompletedAt,
		DueAt:          instance.DueAt,
	}

	if instance.Status == core.InstanceStatusCompleted {
		view.ProgressPercentage = 100
	} else if instance.CurrentStageID != "" {
		if stage, ok := graph.Stage(instance.CurrentStageID); ok {
			view.ProgressPercentage = stage.Order * 100 / graph.Len()
		}
	}

	if !instance.Status.Terminal() {
		if instance.DueAt != nil && now.After(*instance.DueAt) {
			view.IsOverdue = true
		}

		if instance.CurrentStageID != "" && instance.StageEnteredAt != nil {
			if stage, ok := graph.Stage(instance.CurrentStageID); ok && stage.TimeLimit > 0 {
				if now.After(instance.StageEnteredAt.Add(stage.TimeLimit)) {
					view.IsOverdue = true
				}
			}
		}
	}

	return view
}

// conditionView projects the instance state predicates evaluate against.
// Approvals and uploaded document types live in the data bag under
// well-known keys.
func conditionView(instance *core.WorkflowInstance) *condition.View {
	return &condition.View{
		Score:              instance.Score,
		Data:               instance.Data,
		PriorStageStatuses: instance.PriorStageStatuses,
		ApprovalsGranted:   stringsFromData(instance.Data, DataKeyApprovals),
		DocumentTypes:      stringsFromData(instance.Data, DataKeyDocuments),
	}
}

// projectedView is conditionView with the stage statuses a transition in
// flight would commit, so entry predicates can reference the stage being
// exited.
func projectedView(instance *core.WorkflowInstance, statuses map[string]string) *condition.View {
	v := conditionView(instance)
	v.PriorStageStatuses = statuses
	return v
}

func stringsFromData(data map[string]any, key string) []string {
	switch v := data[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
