package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/stageflow/stageflow/backend/history"
	"github.com/stageflow/stageflow/core"
)

func Test_Sweep_FailsOverdueInstances(t *testing.T) {
	e, b, _, mockClock := setupEngine(t)
	ctx := context.Background()

	tmpl := &core.WorkflowTemplate{
		ID:   "sla",
		Name: "SLA",
		Stages: []*core.StageDefinition{
			{ID: "review", Order: 0, TimeLimit: time.Hour},
		},
	}
	require.NoError(t, e.PublishTemplate(ctx, tmpl))

	overdueID, err := e.StartWorkflow(ctx, "sla", "candidate-1", nil)
	require.NoError(t, err)

	mockClock.Add(30 * time.Minute)

	freshID, err := e.StartWorkflow(ctx, "sla", "candidate-2", nil)
	require.NoError(t, err)

	// 31 minutes left for the fresh instance, the first one is past its
	// stage time limit.
	mockClock.Add(45 * time.Minute)

	s := NewSweeper(e, time.Minute)
	require.NoError(t, s.Sweep(ctx))

	overdue, err := b.GetInstance(ctx, overdueID)
	require.NoError(t, err)
	require.Equal(t, core.InstanceStatusFailed, overdue.Status)

	fresh, err := b.GetInstance(ctx, freshID)
	require.NoError(t, err)
	require.Equal(t, core.InstanceStatusActive, fresh.Status)

	events, err := e.GetHistory(ctx, overdueID)
	require.NoError(t, err)
	last := events[len(events)-1]
	require.Equal(t, history.EventTypeWorkflowFailed, last.Type)
	require.Equal(t, SLACauseExceeded, last.Notes)
	require.Equal(t, sweepActor, last.Actor)
}

func Test_Sweep_GlobalTimeout(t *testing.T) {
	e, b, _, mockClock := setupEngine(t)
	ctx := context.Background()

	tmpl := &core.WorkflowTemplate{
		ID:     "global",
		Name:   "Global timeout",
		Config: core.TemplateConfig{GlobalTimeout: 24 * time.Hour},
		Stages: []*core.StageDefinition{
			{ID: "a", Order: 0},
			{ID: "b", Order: 1},
		},
	}
	require.NoError(t, e.PublishTemplate(ctx, tmpl))

	id, err := e.StartWorkflow(ctx, "global", "candidate-1", nil)
	require.NoError(t, err)

	// Advancing does not reset the global deadline.
	_, err = e.AdvanceWorkflow(ctx, id, "recruiter", "")
	require.NoError(t, err)

	mockClock.Add(25 * time.Hour)

	s := NewSweeper(e, time.Minute)
	require.NoError(t, s.Sweep(ctx))

	instance, err := b.GetInstance(ctx, id)
	require.NoError(t, err)
	require.Equal(t, core.InstanceStatusFailed, instance.Status)
}

func Test_Sweep_SkipsPausedInstances(t *testing.T) {
	e, b, _, mockClock := setupEngine(t)
	ctx := context.Background()

	tmpl := &core.WorkflowTemplate{
		ID:   "paused-sla",
		Name: "Paused SLA",
		Stages: []*core.StageDefinition{
			{ID: "review", Order: 0, TimeLimit: time.Hour},
		},
	}
	require.NoError(t, e.PublishTemplate(ctx, tmpl))

	id, err := e.StartWorkflow(ctx, "paused-sla", "candidate-1", nil)
	require.NoError(t, err)
	require.NoError(t, e.PauseWorkflow(ctx, id, "admin"))

	mockClock.Add(2 * time.Hour)

	s := NewSweeper(e, time.Minute)
	require.NoError(t, s.Sweep(ctx))

	instance, err := b.GetInstance(ctx, id)
	require.NoError(t, err)
	require.Equal(t, core.InstanceStatusPaused, instance.Status)
}

func Test_Sweeper_Run(t *testing.T) {
	e, b, _, mockClock := setupEngine(t)
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tmpl := &core.WorkflowTemplate{
		ID:   "run-sla",
		Name: "Run SLA",
		Stages: []*core.StageDefinition{
			{ID: "review", Order: 0, TimeLimit: time.Minute},
		},
	}
	require.NoError(t, e.PublishTemplate(ctx, tmpl))

	id, err := e.StartWorkflow(ctx, "run-sla", "candidate-1", nil)
	require.NoError(t, err)

	s := NewSweeper(e, time.Minute)
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx)
	}()

	// Let the sweeper goroutine reach the ticker before firing it.
	time.Sleep(10 * time.Millisecond)
	mockClock.Add(2 * time.Minute)

	require.Eventually(t, func() bool {
		instance, err := b.GetInstance(context.Background(), id)
		return err == nil && instance.Status == core.InstanceStatusFailed
	}, time.Second, 10*time.Millisecond)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}
