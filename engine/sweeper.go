package engine

import (
	"context"
	"errors"
	"time"

	"github.com/stageflow/stageflow/backend"
	"github.com/stageflow/stageflow/backend/metrics"
	"github.com/stageflow/stageflow/core"
	"github.com/stageflow/stageflow/internal/log"
	"github.com/stageflow/stageflow/internal/metrickeys"
)

// SLACauseExceeded is recorded as the cause when the sweep fails an overdue
// instance.
const SLACauseExceeded = "SLA_EXCEEDED"

const sweepActor = "sla-sweep"

// Sweeper periodically escalates overdue instances to failed. Escalation
// happens only here, never inline inside Advance.
type Sweeper struct {
	engine   *Engine
	interval time.Duration
}

func NewSweeper(e *Engine, interval time.Duration) *Sweeper {
	return &Sweeper{
		engine:   e,
		interval: interval,
	}
}

// Run sweeps on the configured interval until the context is canceled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := s.engine.clock.Ticker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.engine.logger.Error("SLA sweep failed", log.ErrorKey, err)
			}
		}
	}
}

// Sweep performs one pass: every non-terminal instance past its due date or
// its current stage's time limit is failed with cause SLA_EXCEEDED. A
// version conflict means someone else just mutated the instance; the next
// sweep will pick it up again if it is still overdue.
func (s *Sweeper) Sweep(ctx context.Context) error {
	e := s.engine
	now := e.clock.Now()

	running, err := e.b.GetRunningInstances(ctx)
	if err != nil {
		return err
	}

	overdue := 0
	for _, instance := range running {
		if !s.exceeded(ctx, instance, now) {
			continue
		}
		overdue++

		err := e.FailWorkflow(ctx, instance.InstanceID, sweepActor, SLACauseExceeded)
		if err != nil && !errors.Is(err, backend.ErrConflict) {
			var te *TransitionError
			if errors.As(err, &te) {
				continue
			}
			return err
		}

		e.logger.Warn("Instance exceeded its SLA",
			log.InstanceIDKey, instance.InstanceID,
			log.TemplateIDKey, instance.TemplateID,
			log.StageIDKey, instance.CurrentStageID,
		)
	}

	if overdue > 0 {
		e.mc.Counter(metrickeys.SweepOverdue, metrics.Tags{}, int64(overdue))
	}

	return nil
}

// exceeded reports whether the instance is past its global due date or its
// current stage's time limit. Paused instances are deliberately frozen and
// not escalated.
func (s *Sweeper) exceeded(ctx context.Context, instance *core.WorkflowInstance, now time.Time) bool {
	if instance.Status != core.InstanceStatusActive {
		return false
	}

	if instance.DueAt != nil && now.After(*instance.DueAt) {
		return true
	}

	if instance.CurrentStageID == "" || instance.StageEnteredAt == nil {
		return false
	}

	graph, err := s.engine.loadGraph(ctx, instance.TemplateID)
	if err != nil {
		return false
	}

	stage, ok := graph.Stage(instance.CurrentStageID)
	if !ok || stage.TimeLimit == 0 {
		return false
	}

	return now.After(instance.StageEnteredAt.Add(stage.TimeLimit))
}
