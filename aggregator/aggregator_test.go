package aggregator

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/stageflow/stageflow/action"
	"github.com/stageflow/stageflow/backend"
	"github.com/stageflow/stageflow/backend/sqlite"
	"github.com/stageflow/stageflow/core"
	"github.com/stageflow/stageflow/engine"
)

func setup(t *testing.T) (backend.Backend, *engine.Engine, *clock.Mock) {
	t.Helper()

	b := sqlite.NewInMemoryBackend()
	t.Cleanup(func() {
		require.NoError(t, b.Close())
	})

	mockClock := clock.NewMock()
	mockClock.Set(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))

	e := engine.New(b, action.NewRegistry(), engine.WithClock(mockClock))

	tmpl := &core.WorkflowTemplate{
		ID:   "pipeline",
		Name: "Pipeline",
		Stages: []*core.StageDefinition{
			{ID: "only", Order: 0},
		},
	}
	require.NoError(t, e.PublishTemplate(context.Background(), tmpl))

	return b, e, mockClock
}

func Test_Recompute(t *testing.T) {
	b, e, mockClock := setup(t)
	ctx := context.Background()

	// Ten completions taking 30 minutes each, two cancellations.
	for i := 0; i < 10; i++ {
		id, err := e.StartWorkflow(ctx, "pipeline", "candidate", nil)
		require.NoError(t, err)

		mockClock.Add(30 * time.Minute)
		_, err = e.AdvanceWorkflow(ctx, id, "recruiter", "")
		require.NoError(t, err)
	}
	for i := 0; i < 2; i++ {
		id, err := e.StartWorkflow(ctx, "pipeline", "candidate", nil)
		require.NoError(t, err)
		require.NoError(t, e.CancelWorkflow(ctx, id, "candidate", "withdrew"))
	}

	a := New(b, WithClock(mockClock))

	_, ok := a.Metrics("pipeline")
	require.False(t, ok)

	m, err := a.Recompute(ctx, "pipeline")
	require.NoError(t, err)
	require.Equal(t, int64(10), m.Completed)
	require.Equal(t, int64(2), m.Cancelled)
	require.Equal(t, int64(0), m.Failed)
	require.InDelta(t, 10.0/12.0, m.SuccessRate, 0.001)
	require.Equal(t, 30*time.Minute, m.AvgCompletionTime)

	cached, ok := a.Metrics("pipeline")
	require.True(t, ok)
	require.Equal(t, m, cached)
}

func Test_Recompute_UnknownTemplate(t *testing.T) {
	b, _, _ := setup(t)

	a := New(b)
	_, err := a.Recompute(context.Background(), "nope")
	require.ErrorIs(t, err, backend.ErrTemplateNotFound)
}

func Test_Recompute_NoFinishedInstances(t *testing.T) {
	b, e, _ := setup(t)
	ctx := context.Background()

	_, err := e.StartWorkflow(ctx, "pipeline", "candidate", nil)
	require.NoError(t, err)

	a := New(b)
	m, err := a.Recompute(ctx, "pipeline")
	require.NoError(t, err)
	require.Zero(t, m.SuccessRate)
	require.Zero(t, m.AvgCompletionTime)
}

func Test_Run_RecomputesOnNotify(t *testing.T) {
	b, e, _ := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	id, err := e.StartWorkflow(ctx, "pipeline", "candidate", nil)
	require.NoError(t, err)
	_, err = e.AdvanceWorkflow(ctx, id, "recruiter", "")
	require.NoError(t, err)

	a := New(b)
	done := make(chan error, 1)
	go func() {
		done <- a.Run(ctx)
	}()

	a.Notify("pipeline")

	require.Eventually(t, func() bool {
		m, ok := a.Metrics("pipeline")
		return ok && m.Completed == 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func Test_Run_PeriodicSweepCoversUnnotifiedTemplates(t *testing.T) {
	b, e, _ := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	id, err := e.StartWorkflow(ctx, "pipeline", "candidate", nil)
	require.NoError(t, err)
	_, err = e.AdvanceWorkflow(ctx, id, "recruiter", "")
	require.NoError(t, err)

	// No Notify call: the template's completion notification was lost. The
	// periodic sweep must still pick it up from the backend's template list.
	a := New(b, WithInterval(10*time.Millisecond))
	done := make(chan error, 1)
	go func() {
		done <- a.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		m, ok := a.Metrics("pipeline")
		return ok && m.Completed == 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}
