package main

import (
	"context"
	"fmt"
	"time"

	"github.com/stageflow/stageflow/action"
	"github.com/stageflow/stageflow/aggregator"
	"github.com/stageflow/stageflow/backend/sqlite"
	"github.com/stageflow/stageflow/condition"
	"github.com/stageflow/stageflow/core"
	"github.com/stageflow/stageflow/engine"
)

// A small end-to-end run of a recruitment pipeline: publish a template, walk
// a candidate through it, and print the audit log and template metrics.
func main() {
	ctx := context.Background()

	b := sqlite.NewInMemoryBackend()
	defer b.Close()

	registry := action.NewRegistry()
	if err := action.RegisterBuiltinHandlers(registry, &consoleNotifier{}, &consoleScheduler{}, &consoleTaskStore{}); err != nil {
		panic(err)
	}

	agg := aggregator.New(b)
	e := engine.New(b, registry, engine.WithCompletionListener(agg.Notify))

	go e.StartGraphEviction(ctx)
	go func() {
		_ = agg.Run(ctx)
	}()

	tmpl := &core.WorkflowTemplate{
		Name: "Engineering recruitment",
		Type: "recruitment",
		Stages: []*core.StageDefinition{
			{
				ID:             "screening",
				Order:          0,
				EntryActions:   []action.Spec{{Type: action.TypeNotify, Target: "recruiter", Parameters: map[string]any{"message": "New candidate"}}},
				ExitConditions: condition.Leaf(condition.FieldScore, condition.OpGte, 50),
			},
			{
				ID:           "interview",
				Order:        1,
				EntryActions: []action.Spec{{Type: action.TypeScheduleInterview, Target: "hiring-manager", Parameters: map[string]any{"at": time.Now().Add(48 * time.Hour).Format(time.RFC3339)}}},
			},
			{
				ID:              "offer",
				Order:           2,
				EntryConditions: condition.Leaf(condition.FieldApprovals, condition.OpContainsAll, []string{"hr"}),
				EntryActions:    []action.Spec{{Type: action.TypeSendEmail, Target: "candidate@example.com", Parameters: map[string]any{"subject": "Offer", "body": "We would like to make you an offer."}}},
			},
		},
	}

	if err := e.PublishTemplate(ctx, tmpl); err != nil {
		panic(err)
	}

	id, err := e.StartWorkflow(ctx, tmpl.ID, "candidate-42", map[string]any{"source": "referral"})
	if err != nil {
		panic(err)
	}
	fmt.Println("Started instance", id)

	must(e.SetScore(ctx, id, "recruiter", 72))
	mustAdvance(e.AdvanceWorkflow(ctx, id, "recruiter", "passed phone screen"))

	must(e.UpdateData(ctx, id, "hr-bot", map[string]any{engine.DataKeyApprovals: []string{"hr"}}))
	mustAdvance(e.AdvanceWorkflow(ctx, id, "hiring-manager", "strong interview"))
	mustAdvance(e.AdvanceWorkflow(ctx, id, "hiring-manager", "offer accepted"))

	events, err := e.GetHistory(ctx, id)
	if err != nil {
		panic(err)
	}
	fmt.Println("\nAudit log:")
	for _, ev := range events {
		fmt.Printf("  %3d %-14s stage=%-12s actor=%-14s %s\n", ev.SequenceID, ev.Type, ev.StageID, ev.Actor, ev.Notes)
	}

	m, err := agg.Recompute(ctx, tmpl.ID)
	if err != nil {
		panic(err)
	}
	fmt.Printf("\nTemplate metrics: completed=%d success_rate=%.2f avg_completion=%s\n",
		m.Completed, m.SuccessRate, m.AvgCompletionTime)
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}

func mustAdvance(res *engine.AdvanceResult, err error) {
	if err != nil {
		panic(err)
	}
	if res.Completed {
		fmt.Println("Instance completed")
	} else {
		fmt.Println("Entered stage", res.CurrentStageID)
	}
}

type consoleNotifier struct{}

func (consoleNotifier) Send(ctx context.Context, n action.Notification) error {
	fmt.Printf("  [notify] to=%s subject=%q\n", n.Recipient, n.Subject)
	return nil
}

type consoleScheduler struct{}

func (consoleScheduler) Schedule(ctx context.Context, appt action.Appointment) (string, error) {
	fmt.Printf("  [schedule] %s with=%s at=%s\n", appt.Kind, appt.With, appt.At.Format(time.RFC3339))
	return "appt-1", nil
}

type consoleTaskStore struct{}

func (consoleTaskStore) AssignTask(ctx context.Context, task action.Task) (string, error) {
	fmt.Printf("  [task] assignee=%s title=%q\n", task.Assignee, task.Title)
	return "task-1", nil
}
