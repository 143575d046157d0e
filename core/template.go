package core

import (
	"time"

	"github.com/stageflow/stageflow/action"
	"github.com/stageflow/stageflow/condition"
)

// WorkflowTemplate is an ordered set of stage definitions describing one
// business process. A published template is immutable; changes produce a new
// template via duplication so running instances are never affected.
type WorkflowTemplate struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	// Type classifies the process, e.g. "recruitment" or "onboarding".
	Type string `json:"type,omitempty"`

	// ScopeKey partitions templates by business scope, e.g. a company or
	// department id.
	ScopeKey string `json:"scope_key,omitempty"`

	Stages []*StageDefinition `json:"stages"`

	Config TemplateConfig `json:"config"`
}

type TemplateConfig struct {
	// AutoAdvance makes the engine keep advancing after a successful
	// transition for as long as the next stage's exit conditions already
	// hold.
	AutoAdvance bool `json:"auto_advance,omitempty"`

	// GlobalTimeout bounds the whole instance; the SLA sweep fails
	// instances still running past it. Zero means no bound.
	GlobalTimeout time.Duration `json:"global_timeout,omitempty"`
}

// StageDefinition is one discrete step of a template.
type StageDefinition struct {
	ID string `json:"id"`

	// Order positions the stage within its template. Orders are unique and
	// contiguous starting at 0.
	Order int `json:"order"`

	StageType string `json:"stage_type,omitempty"`

	EntryConditions *condition.Spec `json:"entry_conditions,omitempty"`
	ExitConditions  *condition.Spec `json:"exit_conditions,omitempty"`

	EntryActions []action.Spec `json:"entry_actions,omitempty"`
	ExitActions  []action.Spec `json:"exit_actions,omitempty"`

	// IsOptional stages are skipped automatically when their entry
	// conditions do not hold, instead of blocking the advance.
	IsOptional bool `json:"is_optional,omitempty"`

	// CanSkip stages may be skipped explicitly by an actor.
	CanSkip bool `json:"can_skip,omitempty"`

	// TimeLimit bounds how long an instance may sit in this stage before
	// the SLA sweep escalates it. Zero means no limit.
	TimeLimit time.Duration `json:"time_limit,omitempty"`
}
