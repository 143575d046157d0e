package template

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stageflow/stageflow/action"
	"github.com/stageflow/stageflow/condition"
	"github.com/stageflow/stageflow/core"
)

func testRegistry(t *testing.T) *action.Registry {
	t.Helper()

	r := action.NewRegistry()
	require.NoError(t, r.RegisterHandler(action.TypeNotify, func(ctx context.Context, inv *action.Invocation) (map[string]any, error) {
		return nil, nil
	}))
	return r
}

func stages(defs ...*core.StageDefinition) *core.WorkflowTemplate {
	return &core.WorkflowTemplate{ID: "t1", Name: "T1", Stages: defs}
}

func Test_NewStageGraph_Validation(t *testing.T) {
	registry := testRegistry(t)

	tests := []struct {
		name     string
		template *core.WorkflowTemplate
		reason   string
	}{
		{
			name:     "no stages",
			template: stages(),
			reason:   "template has no stages",
		},
		{
			name: "stage without id",
			template: stages(
				&core.StageDefinition{Order: 0},
			),
			reason: "stage without id",
		},
		{
			name: "duplicate stage id",
			template: stages(
				&core.StageDefinition{ID: "a", Order: 0},
				&core.StageDefinition{ID: "a", Order: 1},
			),
			reason: `duplicate stage id "a"`,
		},
		{
			name: "order gap",
			template: stages(
				&core.StageDefinition{ID: "a", Order: 0},
				&core.StageDefinition{ID: "b", Order: 2},
			),
			reason: `stage "b" order 2 outside contiguous range [0, 2)`,
		},
		{
			name: "duplicate order",
			template: stages(
				&core.StageDefinition{ID: "a", Order: 0},
				&core.StageDefinition{ID: "b", Order: 0},
			),
			reason: `stages "a" and "b" share order 0`,
		},
		{
			name: "invalid condition spec",
			template: stages(
				&core.StageDefinition{
					ID:    "a",
					Order: 0,
					ExitConditions: &condition.Spec{
						Field: "score",
					},
				},
			),
		},
		{
			name: "unregistered action type",
			template: stages(
				&core.StageDefinition{
					ID:           "a",
					Order:        0,
					EntryActions: []action.Spec{{Type: "teleport"}},
				},
			),
			reason: `stage "a" references unregistered action type "teleport"`,
		},
		{
			name: "action without type",
			template: stages(
				&core.StageDefinition{
					ID:          "a",
					Order:       0,
					ExitActions: []action.Spec{{Target: "x"}},
				},
			),
			reason: `stage "a" has an action without a type`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewStageGraph(tt.template, registry)

			var defErr *DefinitionError
			require.ErrorAs(t, err, &defErr)
			require.Equal(t, "t1", defErr.TemplateID)
			if tt.reason != "" {
				require.Equal(t, tt.reason, defErr.Reason)
			}
		})
	}
}

func Test_StageGraph_Navigation(t *testing.T) {
	registry := testRegistry(t)

	// Stages deliberately out of order; the graph indexes by order.
	graph, err := NewStageGraph(stages(
		&core.StageDefinition{ID: "c", Order: 2},
		&core.StageDefinition{ID: "a", Order: 0},
		&core.StageDefinition{ID: "b", Order: 1},
	), registry)
	require.NoError(t, err)

	require.Equal(t, 3, graph.Len())
	require.Equal(t, "a", graph.First().ID)

	next, err := graph.Next("a")
	require.NoError(t, err)
	require.Equal(t, "b", next.ID)

	next, err = graph.Next("c")
	require.NoError(t, err)
	require.Nil(t, next)

	prev, err := graph.Previous("b")
	require.NoError(t, err)
	require.Equal(t, "a", prev.ID)

	prev, err = graph.Previous("a")
	require.NoError(t, err)
	require.Nil(t, prev)

	_, err = graph.Next("zzz")
	require.Error(t, err)

	ordered := graph.Stages()
	require.Equal(t, []string{"a", "b", "c"}, []string{ordered[0].ID, ordered[1].ID, ordered[2].ID})
}

func Test_Duplicate(t *testing.T) {
	registry := testRegistry(t)

	src := stages(
		&core.StageDefinition{
			ID:           "a",
			Order:        0,
			EntryActions: []action.Spec{{Type: action.TypeNotify, Target: "recruiter"}},
		},
		&core.StageDefinition{ID: "b", Order: 1},
	)
	src.Type = "recruitment"
	src.ScopeKey = "acme"

	dup := Duplicate(src, "t2", "Copy of T1")
	require.Equal(t, "t2", dup.ID)
	require.Equal(t, "Copy of T1", dup.Name)
	require.Equal(t, "recruitment", dup.Type)
	require.Equal(t, "acme", dup.ScopeKey)

	// Editing the duplicate leaves the source untouched.
	dup.Stages[0].EntryActions[0].Target = "hiring-manager"
	require.Equal(t, "recruiter", src.Stages[0].EntryActions[0].Target)

	_, err := NewStageGraph(dup, registry)
	require.NoError(t, err)
}
