// Package test contains a conformance suite every backend implementation
// must pass. Backend packages run it from their own tests.
package test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/stageflow/stageflow/action"
	"github.com/stageflow/stageflow/backend"
	"github.com/stageflow/stageflow/backend/history"
	"github.com/stageflow/stageflow/condition"
	"github.com/stageflow/stageflow/core"
)

func BackendTest(t *testing.T, setup func() backend.Backend, teardown func(b backend.Backend)) {
	tests := []struct {
		name string
		f    func(t *testing.T, ctx context.Context, b backend.Backend)
	}{
		{
			name: "GetTemplate_ReturnsNotFoundForUnknownID",
			f: func(t *testing.T, ctx context.Context, b backend.Backend) {
				_, err := b.GetTemplate(ctx, uuid.NewString())
				require.ErrorIs(t, err, backend.ErrTemplateNotFound)
			},
		},
		{
			name: "CreateTemplate_RoundTrips",
			f: func(t *testing.T, ctx context.Context, b backend.Backend) {
				tmpl := sampleTemplate()
				require.NoError(t, b.CreateTemplate(ctx, tmpl))

				got, err := b.GetTemplate(ctx, tmpl.ID)
				require.NoError(t, err)
				require.Equal(t, tmpl.Name, got.Name)
				require.Equal(t, tmpl.Config.AutoAdvance, got.Config.AutoAdvance)
				require.Len(t, got.Stages, 2)
				require.Equal(t, "screening", got.Stages[0].ID)
				require.Equal(t, 0, got.Stages[0].Order)
				require.NotNil(t, got.Stages[0].ExitConditions)
				require.Equal(t, "interview", got.Stages[1].ID)
			},
		},
		{
			name: "CreateTemplate_RejectsDuplicateID",
			f: func(t *testing.T, ctx context.Context, b backend.Backend) {
				tmpl := sampleTemplate()
				require.NoError(t, b.CreateTemplate(ctx, tmpl))
				require.ErrorIs(t, b.CreateTemplate(ctx, tmpl), backend.ErrTemplateAlreadyExists)
			},
		},
		{
			name: "GetTemplateIDs_ListsStoredTemplates",
			f: func(t *testing.T, ctx context.Context, b backend.Backend) {
				first := sampleTemplate()
				second := sampleTemplate()
				require.NoError(t, b.CreateTemplate(ctx, first))
				require.NoError(t, b.CreateTemplate(ctx, second))

				ids, err := b.GetTemplateIDs(ctx)
				require.NoError(t, err)
				require.Contains(t, ids, first.ID)
				require.Contains(t, ids, second.ID)
			},
		},
		{
			name: "GetInstance_ReturnsNotFoundForUnknownID",
			f: func(t *testing.T, ctx context.Context, b backend.Backend) {
				_, err := b.GetInstance(ctx, uuid.NewString())
				require.ErrorIs(t, err, backend.ErrInstanceNotFound)
			},
		},
		{
			name: "CreateInstance_RoundTrips",
			f: func(t *testing.T, ctx context.Context, b backend.Backend) {
				instance := sampleInstance()
				events := []*history.Event{
					history.NewEvent(instance.StartedAt, instance.InstanceID, history.EventTypeWorkflowStarted),
					history.NewEvent(instance.StartedAt, instance.InstanceID, history.EventTypeStageEntered,
						history.WithStageID("screening")),
				}

				require.NoError(t, b.CreateInstance(ctx, instance, events))

				got, err := b.GetInstance(ctx, instance.InstanceID)
				require.NoError(t, err)
				require.Equal(t, instance.TemplateID, got.TemplateID)
				require.Equal(t, instance.SubjectID, got.SubjectID)
				require.Equal(t, core.InstanceStatusActive, got.Status)
				require.Equal(t, "screening", got.CurrentStageID)
				require.Equal(t, int64(0), got.Version)
				require.Equal(t, "referral", got.Data["source"])
			},
		},
		{
			name: "CreateInstance_RejectsDuplicateID",
			f: func(t *testing.T, ctx context.Context, b backend.Backend) {
				instance := sampleInstance()
				require.NoError(t, b.CreateInstance(ctx, instance, nil))
				require.ErrorIs(t, b.CreateInstance(ctx, instance, nil), backend.ErrInstanceAlreadyExists)
			},
		},
		{
			name: "UpdateInstance_IncrementsVersion",
			f: func(t *testing.T, ctx context.Context, b backend.Backend) {
				instance := sampleInstance()
				require.NoError(t, b.CreateInstance(ctx, instance, nil))

				instance.Score = 75
				require.NoError(t, b.UpdateInstance(ctx, instance, 0, nil))

				got, err := b.GetInstance(ctx, instance.InstanceID)
				require.NoError(t, err)
				require.Equal(t, 75, got.Score)
				require.Equal(t, int64(1), got.Version)
			},
		},
		{
			name: "UpdateInstance_ReturnsConflictForStaleVersion",
			f: func(t *testing.T, ctx context.Context, b backend.Backend) {
				instance := sampleInstance()
				require.NoError(t, b.CreateInstance(ctx, instance, nil))

				require.NoError(t, b.UpdateInstance(ctx, instance, 0, nil))

				// Second writer still holds version 0.
				err := b.UpdateInstance(ctx, instance, 0, nil)
				require.ErrorIs(t, err, backend.ErrConflict)
			},
		},
		{
			name: "UpdateInstance_ConflictWritesNoEvents",
			f: func(t *testing.T, ctx context.Context, b backend.Backend) {
				instance := sampleInstance()
				require.NoError(t, b.CreateInstance(ctx, instance, nil))
				require.NoError(t, b.UpdateInstance(ctx, instance, 0, nil))

				event := history.NewEvent(time.Now(), instance.InstanceID, history.EventTypeStageEntered,
					history.WithStageID("interview"))
				require.ErrorIs(t, b.UpdateInstance(ctx, instance, 0, []*history.Event{event}), backend.ErrConflict)

				events, err := b.GetHistory(ctx, instance.InstanceID)
				require.NoError(t, err)
				require.Empty(t, events)
			},
		},
		{
			name: "UpdateInstance_ReturnsNotFoundForUnknownID",
			f: func(t *testing.T, ctx context.Context, b backend.Backend) {
				instance := sampleInstance()
				err := b.UpdateInstance(ctx, instance, 0, nil)
				require.ErrorIs(t, err, backend.ErrInstanceNotFound)
			},
		},
		{
			name: "GetHistory_ReturnsEventsInOrder",
			f: func(t *testing.T, ctx context.Context, b backend.Backend) {
				instance := sampleInstance()
				now := time.Now().UTC()

				created := []*history.Event{
					history.NewEvent(now, instance.InstanceID, history.EventTypeWorkflowStarted),
					history.NewEvent(now, instance.InstanceID, history.EventTypeStageEntered,
						history.WithStageID("screening"),
						history.WithActionResults([]action.Result{{Type: "notify", Success: true}})),
				}
				require.NoError(t, b.CreateInstance(ctx, instance, created))

				instance.CurrentStageID = "interview"
				update := []*history.Event{
					history.NewEvent(now.Add(time.Second), instance.InstanceID, history.EventTypeStageExited,
						history.WithStageID("screening"), history.WithActor("recruiter")),
					history.NewEvent(now.Add(time.Second), instance.InstanceID, history.EventTypeStageEntered,
						history.WithStageID("interview")),
				}
				require.NoError(t, b.UpdateInstance(ctx, instance, 0, update))

				events, err := b.GetHistory(ctx, instance.InstanceID)
				require.NoError(t, err)
				require.Len(t, events, 4)
				require.Equal(t, history.EventTypeWorkflowStarted, events[0].Type)
				require.Equal(t, history.EventTypeStageEntered, events[1].Type)
				require.True(t, events[1].ActionResults[0].Success)
				require.Equal(t, history.EventTypeStageExited, events[2].Type)
				require.Equal(t, "recruiter", events[2].Actor)
				require.Equal(t, history.EventTypeStageEntered, events[3].Type)
				require.Equal(t, "interview", events[3].StageID)
			},
		},
		{
			name: "GetRunningInstances_ExcludesTerminal",
			f: func(t *testing.T, ctx context.Context, b backend.Backend) {
				active := sampleInstance()
				require.NoError(t, b.CreateInstance(ctx, active, nil))

				done := sampleInstance()
				require.NoError(t, b.CreateInstance(ctx, done, nil))
				done.Status = core.InstanceStatusCompleted
				now := time.Now().UTC()
				done.CompletedAt = &now
				require.NoError(t, b.UpdateInstance(ctx, done, 0, nil))

				running, err := b.GetRunningInstances(ctx)
				require.NoError(t, err)

				ids := make([]string, len(running))
				for i, inst := range running {
					ids[i] = inst.InstanceID
				}
				require.Contains(t, ids, active.InstanceID)
				require.NotContains(t, ids, done.InstanceID)
			},
		},
		{
			name: "GetTemplateStats_ReturnsNotFoundForUnknownID",
			f: func(t *testing.T, ctx context.Context, b backend.Backend) {
				_, err := b.GetTemplateStats(ctx, uuid.NewString())
				require.ErrorIs(t, err, backend.ErrTemplateNotFound)
			},
		},
		{
			name: "GetTemplateStats_CountsFinishedInstances",
			f: func(t *testing.T, ctx context.Context, b backend.Backend) {
				tmpl := sampleTemplate()
				require.NoError(t, b.CreateTemplate(ctx, tmpl))
				templateID := tmpl.ID
				started := time.Now().UTC().Add(-time.Hour)

				finish := func(status core.InstanceStatus) {
					instance := sampleInstance()
					instance.TemplateID = templateID
					instance.StartedAt = started
					require.NoError(t, b.CreateInstance(ctx, instance, nil))

					instance.Status = status
					if status == core.InstanceStatusCompleted {
						completed := started.Add(time.Minute * 30)
						instance.CompletedAt = &completed
					}
					require.NoError(t, b.UpdateInstance(ctx, instance, 0, nil))
				}

				finish(core.InstanceStatusCompleted)
				finish(core.InstanceStatusCompleted)
				finish(core.InstanceStatusCancelled)
				finish(core.InstanceStatusFailed)

				stats, err := b.GetTemplateStats(ctx, templateID)
				require.NoError(t, err)
				require.Equal(t, int64(2), stats.Completed)
				require.Equal(t, int64(1), stats.Cancelled)
				require.Equal(t, int64(1), stats.Failed)
				require.Len(t, stats.CompletionTimes, 2)
				for _, d := range stats.CompletionTimes {
					require.Equal(t, time.Minute*30, d.Round(time.Second))
				}
			},
		},
		{
			name: "GetStats_CountsByStatus",
			f: func(t *testing.T, ctx context.Context, b backend.Backend) {
				instance := sampleInstance()
				require.NoError(t, b.CreateInstance(ctx, instance, nil))

				stats, err := b.GetStats(ctx)
				require.NoError(t, err)
				require.GreaterOrEqual(t, stats.ActiveInstances, int64(1))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := setup()
			ctx := context.Background()

			t.Cleanup(func() {
				if teardown != nil {
					teardown(b)
				} else {
					require.NoError(t, b.Close())
				}
			})

			tt.f(t, ctx, b)
		})
	}
}

func sampleTemplate() *core.WorkflowTemplate {
	return &core.WorkflowTemplate{
		ID:       uuid.NewString(),
		Name:     "Recruitment pipeline",
		Type:     "recruitment",
		ScopeKey: "acme",
		Config: core.TemplateConfig{
			AutoAdvance: true,
		},
		Stages: []*core.StageDefinition{
			{
				ID:             "screening",
				Order:          0,
				ExitConditions: condition.Leaf(condition.FieldScore, condition.OpGte, 50),
				EntryActions:   []action.Spec{{Type: "notify", Target: "recruiter"}},
			},
			{
				ID:    "interview",
				Order: 1,
			},
		},
	}
}

func sampleInstance() *core.WorkflowInstance {
	instance := core.NewWorkflowInstance(uuid.NewString(), uuid.NewString(), uuid.NewString())
	instance.Status = core.InstanceStatusActive
	instance.CurrentStageID = "screening"
	instance.StartedAt = time.Now().UTC()
	instance.Data = map[string]any{"source": "referral"}
	instance.PriorStageStatuses = map[string]string{}
	return instance
}
