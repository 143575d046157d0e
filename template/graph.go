// Package template validates workflow templates and compiles them into stage
// graphs with O(1) next/previous lookup.
package template

import (
	"fmt"
	"sort"

	"github.com/stageflow/stageflow/action"
	"github.com/stageflow/stageflow/core"
)

// DefinitionError is a publish-time template validation failure. An invalid
// template never produces instances.
type DefinitionError struct {
	TemplateID string
	Reason     string
}

func (e *DefinitionError) Error() string {
	return fmt.Sprintf("invalid template %q: %s", e.TemplateID, e.Reason)
}

// StageGraph is the validated, immutable view of a template's stages. It is
// built once at publish or load time and can be shared freely across
// goroutines.
type StageGraph struct {
	template *core.WorkflowTemplate

	byID    map[string]*core.StageDefinition
	byOrder []*core.StageDefinition
}

// NewStageGraph validates the template against the handler registry and
// compiles the lookup structures. Validation enforces that stage ids are
// unique, orders are contiguous starting at 0, condition specs are
// structurally sound, and every action type has a registered handler.
func NewStageGraph(t *core.WorkflowTemplate, registry *action.Registry) (*StageGraph, error) {
	if len(t.Stages) == 0 {
		return nil, &DefinitionError{TemplateID: t.ID, Reason: "template has no stages"}
	}

	byID := make(map[string]*core.StageDefinition, len(t.Stages))
	byOrder := make([]*core.StageDefinition, len(t.Stages))

	for _, stage := range t.Stages {
		if stage.ID == "" {
			return nil, &DefinitionError{TemplateID: t.ID, Reason: "stage without id"}
		}
		if _, ok := byID[stage.ID]; ok {
			return nil, &DefinitionError{TemplateID: t.ID, Reason: fmt.Sprintf("duplicate stage id %q", stage.ID)}
		}
		byID[stage.ID] = stage

		if stage.Order < 0 || stage.Order >= len(t.Stages) {
			return nil, &DefinitionError{
				TemplateID: t.ID,
				Reason:     fmt.Sprintf("stage %q order %d outside contiguous range [0, %d)", stage.ID, stage.Order, len(t.Stages)),
			}
		}
		if byOrder[stage.Order] != nil {
			return nil, &DefinitionError{
				TemplateID: t.ID,
				Reason:     fmt.Sprintf("stages %q and %q share order %d", byOrder[stage.Order].ID, stage.ID, stage.Order),
			}
		}
		byOrder[stage.Order] = stage

		if err := stage.EntryConditions.Validate(); err != nil {
			return nil, &DefinitionError{TemplateID: t.ID, Reason: fmt.Sprintf("stage %q entry conditions: %v", stage.ID, err)}
		}
		if err := stage.ExitConditions.Validate(); err != nil {
			return nil, &DefinitionError{TemplateID: t.ID, Reason: fmt.Sprintf("stage %q exit conditions: %v", stage.ID, err)}
		}

		for _, spec := range stage.EntryActions {
			if err := validateAction(t.ID, stage.ID, spec, registry); err != nil {
				return nil, err
			}
		}
		for _, spec := range stage.ExitActions {
			if err := validateAction(t.ID, stage.ID, spec, registry); err != nil {
				return nil, err
			}
		}
	}

	return &StageGraph{
		template: t,
		byID:     byID,
		byOrder:  byOrder,
	}, nil
}

func validateAction(templateID, stageID string, spec action.Spec, registry *action.Registry) error {
	if spec.Type == "" {
		return &DefinitionError{TemplateID: templateID, Reason: fmt.Sprintf("stage %q has an action without a type", stageID)}
	}
	if !registry.HasHandler(spec.Type) {
		return &DefinitionError{
			TemplateID: templateID,
			Reason:     fmt.Sprintf("stage %q references unregistered action type %q", stageID, spec.Type),
		}
	}
	return nil
}

func (g *StageGraph) Template() *core.WorkflowTemplate {
	return g.template
}

// First returns the stage with order 0.
func (g *StageGraph) First() *core.StageDefinition {
	return g.byOrder[0]
}

// Len returns the number of stages.
func (g *StageGraph) Len() int {
	return len(g.byOrder)
}

// Stage returns the stage with the given id.
func (g *StageGraph) Stage(stageID string) (*core.StageDefinition, bool) {
	s, ok := g.byID[stageID]
	return s, ok
}

// Next returns the stage following the given one, or nil if it is the last
// stage.
func (g *StageGraph) Next(stageID string) (*core.StageDefinition, error) {
	s, ok := g.byID[stageID]
	if !ok {
		return nil, fmt.Errorf("stage %q not in template %q", stageID, g.template.ID)
	}

	if s.Order+1 >= len(g.byOrder) {
		return nil, nil
	}
	return g.byOrder[s.Order+1], nil
}

// Previous returns the stage preceding the given one, or nil if it is the
// first stage.
func (g *StageGraph) Previous(stageID string) (*core.StageDefinition, error) {
	s, ok := g.byID[stageID]
	if !ok {
		return nil, fmt.Errorf("stage %q not in template %q", stageID, g.template.ID)
	}

	if s.Order == 0 {
		return nil, nil
	}
	return g.byOrder[s.Order-1], nil
}

// Stages returns the stages in order.
func (g *StageGraph) Stages() []*core.StageDefinition {
	stages := make([]*core.StageDefinition, len(g.byOrder))
	copy(stages, g.byOrder)
	return stages
}

// Duplicate produces an unpublished copy of the template with a new id.
// Stage definitions are deep enough copies that editing the duplicate never
// touches the source.
func Duplicate(t *core.WorkflowTemplate, newID, newName string) *core.WorkflowTemplate {
	stages := make([]*core.StageDefinition, len(t.Stages))
	for i, s := range t.Stages {
		c := *s
		c.EntryActions = append([]action.Spec(nil), s.EntryActions...)
		c.ExitActions = append([]action.Spec(nil), s.ExitActions...)
		stages[i] = &c
	}

	sort.Slice(stages, func(i, j int) bool { return stages[i].Order < stages[j].Order })

	return &core.WorkflowTemplate{
		ID:       newID,
		Name:     newName,
		Type:     t.Type,
		ScopeKey: t.ScopeKey,
		Stages:   stages,
		Config:   t.Config,
	}
}
