package action

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeNotifier struct {
	sent []Notification
}

func (n *fakeNotifier) Send(ctx context.Context, notification Notification) error {
	n.sent = append(n.sent, notification)
	return nil
}

type fakeScheduler struct {
	appointments []Appointment
}

func (s *fakeScheduler) Schedule(ctx context.Context, appt Appointment) (string, error) {
	s.appointments = append(s.appointments, appt)
	return "appt-1", nil
}

type fakeTaskStore struct {
	tasks []Task
}

func (s *fakeTaskStore) AssignTask(ctx context.Context, task Task) (string, error) {
	s.tasks = append(s.tasks, task)
	return "task-1", nil
}

func Test_RegisterBuiltinHandlers(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, RegisterBuiltinHandlers(r, &fakeNotifier{}, &fakeScheduler{}, &fakeTaskStore{}))

	for _, at := range []string{TypeNotify, TypeSendEmail, TypeScheduleInterview, TypeCreateCalendarEvent, TypeAssignTask, TypeWebhook} {
		require.True(t, r.HasHandler(at), at)
	}
}

func Test_RegisterBuiltinHandlers_NilCollaborators(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, RegisterBuiltinHandlers(r, nil, nil, nil))

	require.False(t, r.HasHandler(TypeNotify))
	require.False(t, r.HasHandler(TypeScheduleInterview))
	require.False(t, r.HasHandler(TypeAssignTask))
	require.True(t, r.HasHandler(TypeWebhook))
}

func Test_SendEmailHandler(t *testing.T) {
	notifier := &fakeNotifier{}
	h := SendEmailHandler(notifier)

	_, err := h(context.Background(), &Invocation{
		Target: "candidate@example.com",
		Parameters: map[string]any{
			"subject": "Offer",
			"body":    "Congratulations",
		},
	})
	require.NoError(t, err)

	require.Len(t, notifier.sent, 1)
	require.Equal(t, "email", notifier.sent[0].Channel)
	require.Equal(t, "candidate@example.com", notifier.sent[0].Recipient)
	require.Equal(t, "Offer", notifier.sent[0].Subject)
	require.Equal(t, "Congratulations", notifier.sent[0].Message)
}

func Test_ScheduleHandler(t *testing.T) {
	scheduler := &fakeScheduler{}
	h := ScheduleHandler(scheduler, "interview")

	at := time.Date(2024, 3, 4, 14, 0, 0, 0, time.UTC)
	produced, err := h(context.Background(), &Invocation{
		SubjectID: "candidate-1",
		Target:    "interviewer-1",
		Parameters: map[string]any{
			"at": at.Format(time.RFC3339),
		},
	})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"interview_id": "appt-1"}, produced)

	require.Len(t, scheduler.appointments, 1)
	require.Equal(t, "interview", scheduler.appointments[0].Kind)
	require.Equal(t, "candidate-1", scheduler.appointments[0].SubjectID)
	require.True(t, at.Equal(scheduler.appointments[0].At))
}

func Test_ScheduleHandler_BadTimestamp(t *testing.T) {
	h := ScheduleHandler(&fakeScheduler{}, "interview")

	_, err := h(context.Background(), &Invocation{
		Parameters: map[string]any{"at": "next tuesday"},
	})
	require.Error(t, err)
}

func Test_AssignTaskHandler(t *testing.T) {
	store := &fakeTaskStore{}
	h := AssignTaskHandler(store)

	produced, err := h(context.Background(), &Invocation{
		SubjectID: "candidate-1",
		Target:    "alice",
		Parameters: map[string]any{
			"title": "Review application",
		},
	})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"task_id": "task-1"}, produced)

	require.Len(t, store.tasks, 1)
	require.Equal(t, "alice", store.tasks[0].Assignee)
	require.Equal(t, "Review application", store.tasks[0].Title)
}

func Test_WebhookHandler(t *testing.T) {
	var received map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	h := WebhookHandler(srv.Client())

	produced, err := h(context.Background(), &Invocation{
		InstanceID: "i1",
		TemplateID: "t1",
		SubjectID:  "c1",
		StageID:    "offer",
		Score:      88,
		Target:     srv.URL,
	})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"status_code": http.StatusNoContent}, produced)

	require.Equal(t, "i1", received["instance_id"])
	require.Equal(t, "offer", received["stage_id"])
	require.Equal(t, float64(88), received["score"])
}

func Test_WebhookHandler_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	h := WebhookHandler(srv.Client())

	_, err := h(context.Background(), &Invocation{Target: srv.URL})
	require.ErrorContains(t, err, "status 502")
}
