package action

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Collaborator capabilities consumed by the builtin handlers. They are
// single-method interfaces so callers can inject whatever implementation
// their deployment uses.

// Notifier delivers a notification to a recipient over some channel.
type Notifier interface {
	Send(ctx context.Context, n Notification) error
}

type Notification struct {
	Channel   string
	Recipient string
	Subject   string
	Message   string
}

// Scheduler books an appointment and returns its external id.
type Scheduler interface {
	Schedule(ctx context.Context, appt Appointment) (string, error)
}

type Appointment struct {
	Kind      string
	SubjectID string
	With      string
	At        time.Time
}

// TaskStore assigns a task to a user and returns the task id.
type TaskStore interface {
	AssignTask(ctx context.Context, task Task) (string, error)
}

type Task struct {
	Assignee  string
	SubjectID string
	Title     string
	DueAt     time.Time
}

// RegisterBuiltinHandlers registers the stock handler set against the given
// collaborators. A nil collaborator skips its handlers, leaving the action
// types unregistered.
func RegisterBuiltinHandlers(r *Registry, notifier Notifier, scheduler Scheduler, tasks TaskStore) error {
	if notifier != nil {
		if err := r.RegisterHandler(TypeNotify, NotifyHandler(notifier)); err != nil {
			return err
		}
		if err := r.RegisterHandler(TypeSendEmail, SendEmailHandler(notifier)); err != nil {
			return err
		}
	}

	if scheduler != nil {
		if err := r.RegisterHandler(TypeScheduleInterview, ScheduleHandler(scheduler, "interview")); err != nil {
			return err
		}
		if err := r.RegisterHandler(TypeCreateCalendarEvent, ScheduleHandler(scheduler, "calendar_event")); err != nil {
			return err
		}
	}

	if tasks != nil {
		if err := r.RegisterHandler(TypeAssignTask, AssignTaskHandler(tasks)); err != nil {
			return err
		}
	}

	return r.RegisterHandler(TypeWebhook, WebhookHandler(http.DefaultClient))
}

func NotifyHandler(notifier Notifier) Handler {
	return func(ctx context.Context, inv *Invocation) (map[string]any, error) {
		return nil, notifier.Send(ctx, Notification{
			Channel:   stringParam(inv.Parameters, "channel"),
			Recipient: inv.Target,
			Subject:   stringParam(inv.Parameters, "subject"),
			Message:   stringParam(inv.Parameters, "message"),
		})
	}
}

func SendEmailHandler(notifier Notifier) Handler {
	return func(ctx context.Context, inv *Invocation) (map[string]any, error) {
		return nil, notifier.Send(ctx, Notification{
			Channel:   "email",
			Recipient: inv.Target,
			Subject:   stringParam(inv.Parameters, "subject"),
			Message:   stringParam(inv.Parameters, "body"),
		})
	}
}

func ScheduleHandler(scheduler Scheduler, kind string) Handler {
	return func(ctx context.Context, inv *Invocation) (map[string]any, error) {
		at, err := timeParam(inv.Parameters, "at")
		if err != nil {
			return nil, err
		}

		id, err := scheduler.Schedule(ctx, Appointment{
			Kind:      kind,
			SubjectID: inv.SubjectID,
			With:      inv.Target,
			At:        at,
		})
		if err != nil {
			return nil, err
		}

		return map[string]any{kind + "_id": id}, nil
	}
}

func AssignTaskHandler(tasks TaskStore) Handler {
	return func(ctx context.Context, inv *Invocation) (map[string]any, error) {
		dueAt, _ := timeParam(inv.Parameters, "due_at")

		id, err := tasks.AssignTask(ctx, Task{
			Assignee:  inv.Target,
			SubjectID: inv.SubjectID,
			Title:     stringParam(inv.Parameters, "title"),
			DueAt:     dueAt,
		})
		if err != nil {
			return nil, err
		}

		return map[string]any{"task_id": id}, nil
	}
}

// WebhookHandler posts the invocation context as JSON to the target URL.
// Any non-2xx response is a handler failure.
func WebhookHandler(client *http.Client) Handler {
	return func(ctx context.Context, inv *Invocation) (map[string]any, error) {
		body, err := json.Marshal(map[string]any{
			"instance_id": inv.InstanceID,
			"template_id": inv.TemplateID,
			"subject_id":  inv.SubjectID,
			"stage_id":    inv.StageID,
			"score":       inv.Score,
			"parameters":  inv.Parameters,
		})
		if err != nil {
			return nil, fmt.Errorf("marshaling webhook payload: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, inv.Target, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("creating webhook request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("calling webhook: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, fmt.Errorf("webhook returned status %d", resp.StatusCode)
		}

		return map[string]any{"status_code": resp.StatusCode}, nil
	}
}

func stringParam(params map[string]any, key string) string {
	if v, ok := params[key].(string); ok {
		return v
	}
	return ""
}

func timeParam(params map[string]any, key string) (time.Time, error) {
	v, ok := params[key]
	if !ok {
		return time.Time{}, nil
	}

	switch t := v.(type) {
	case time.Time:
		return t, nil
	case string:
		parsed, err := time.Parse(time.RFC3339, t)
		if err != nil {
			return time.Time{}, fmt.Errorf("parsing %q parameter: %w", key, err)
		}
		return parsed, nil
	}

	return time.Time{}, fmt.Errorf("parameter %q is not a timestamp", key)
}
