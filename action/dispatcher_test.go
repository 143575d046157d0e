package action

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/stageflow/stageflow/internal/metrics"
)

func testDispatcher(t *testing.T, registry *Registry, opts ...DispatcherOption) *Dispatcher {
	t.Helper()

	opts = append([]DispatcherOption{WithMaxRetries(0)}, opts...)
	return NewDispatcher(registry, slog.Default(), metrics.NewNoopMetricsClient(), opts...)
}

func Test_Dispatch_RunsAllSpecsInOrder(t *testing.T) {
	registry := NewRegistry()

	var order []string
	record := func(name string, fail bool) Handler {
		return func(ctx context.Context, inv *Invocation) (map[string]any, error) {
			order = append(order, name)
			if fail {
				return nil, errors.New("boom")
			}
			return map[string]any{name + "_done": true}, nil
		}
	}

	require.NoError(t, registry.RegisterHandler("first", record("first", false)))
	require.NoError(t, registry.RegisterHandler("second", record("second", true)))
	require.NoError(t, registry.RegisterHandler("third", record("third", false)))

	d := testDispatcher(t, registry)

	results, err := d.Dispatch(context.Background(), []Spec{
		{Type: "first"},
		{Type: "second"},
		{Type: "third"},
	}, &Invocation{InstanceID: "i1"})

	// The failing second handler does not stop the third from running.
	require.Equal(t, []string{"first", "second", "third"}, order)
	require.Len(t, results, 3)

	var actionErr *Error
	require.ErrorAs(t, err, &actionErr)
	require.Len(t, actionErr.Failed(), 1)
	require.Equal(t, "second", actionErr.Failed()[0].Type)

	require.True(t, results[0].Success)
	require.Equal(t, map[string]any{"first_done": true}, results[0].ProducedData)
	require.False(t, results[1].Success)
	require.Equal(t, "boom", results[1].Error)
	require.True(t, results[2].Success)
}

func Test_Dispatch_EmptySpecs(t *testing.T) {
	d := testDispatcher(t, NewRegistry())

	results, err := d.Dispatch(context.Background(), nil, &Invocation{})
	require.NoError(t, err)
	require.Nil(t, results)
}

func Test_Dispatch_UnknownType(t *testing.T) {
	d := testDispatcher(t, NewRegistry())

	results, err := d.Dispatch(context.Background(), []Spec{{Type: "missing"}}, &Invocation{})

	var actionErr *Error
	require.ErrorAs(t, err, &actionErr)
	require.Len(t, results, 1)
	require.False(t, results[0].Success)
	require.Contains(t, results[0].Error, "not found")
}

func Test_Dispatch_Retries(t *testing.T) {
	registry := NewRegistry()

	attempts := 0
	require.NoError(t, registry.RegisterHandler("flaky", func(ctx context.Context, inv *Invocation) (map[string]any, error) {
		attempts++
		if attempts < 3 {
			return nil, errors.New("transient")
		}
		return nil, nil
	}))

	d := testDispatcher(t, registry, WithMaxRetries(2))

	results, err := d.Dispatch(context.Background(), []Spec{{Type: "flaky"}}, &Invocation{})
	require.NoError(t, err)
	require.Equal(t, 3, attempts)
	require.True(t, results[0].Success)
}

func Test_Dispatch_PanicIsRecorded(t *testing.T) {
	registry := NewRegistry()

	attempts := 0
	require.NoError(t, registry.RegisterHandler("panics", func(ctx context.Context, inv *Invocation) (map[string]any, error) {
		attempts++
		panic("handler bug")
	}))

	d := testDispatcher(t, registry, WithMaxRetries(5))

	results, err := d.Dispatch(context.Background(), []Spec{{Type: "panics"}}, &Invocation{InstanceID: "i1"})

	var actionErr *Error
	require.ErrorAs(t, err, &actionErr)
	require.False(t, results[0].Success)
	require.Contains(t, results[0].Error, "handler panic")

	// Panics are permanent; no retries.
	require.Equal(t, 1, attempts)
}

func Test_Dispatch_Timeout(t *testing.T) {
	registry := NewRegistry()

	require.NoError(t, registry.RegisterHandler("slow", func(ctx context.Context, inv *Invocation) (map[string]any, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
			return nil, nil
		}
	}))

	d := testDispatcher(t, registry, WithTimeout("slow", 10*time.Millisecond))

	results, err := d.Dispatch(context.Background(), []Spec{{Type: "slow"}}, &Invocation{})

	var actionErr *Error
	require.ErrorAs(t, err, &actionErr)
	require.False(t, results[0].Success)
}

func Test_Dispatch_TargetAndParametersReachHandler(t *testing.T) {
	registry := NewRegistry()

	var got *Invocation
	require.NoError(t, registry.RegisterHandler("capture", func(ctx context.Context, inv *Invocation) (map[string]any, error) {
		got = inv
		return nil, nil
	}))

	d := testDispatcher(t, registry)

	_, err := d.Dispatch(context.Background(), []Spec{
		{Type: "capture", Target: "alice", Parameters: map[string]any{"subject": "hi"}},
	}, &Invocation{InstanceID: "i1", SubjectID: "c1", Score: 42})
	require.NoError(t, err)

	require.Equal(t, "alice", got.Target)
	require.Equal(t, map[string]any{"subject": "hi"}, got.Parameters)
	require.Equal(t, "i1", got.InstanceID)
	require.Equal(t, "c1", got.SubjectID)
	require.Equal(t, 42, got.Score)
}

func Test_Registry(t *testing.T) {
	r := NewRegistry()

	noop := func(ctx context.Context, inv *Invocation) (map[string]any, error) { return nil, nil }

	var invalid *ErrInvalidHandler
	require.ErrorAs(t, r.RegisterHandler("", noop), &invalid)
	require.ErrorAs(t, r.RegisterHandler("x", nil), &invalid)

	require.NoError(t, r.RegisterHandler("x", noop))
	require.True(t, r.HasHandler("x"))
	require.False(t, r.HasHandler("y"))

	var dup *ErrHandlerAlreadyRegistered
	require.ErrorAs(t, r.RegisterHandler("x", noop), &dup)

	_, err := r.GetHandler("y")
	require.Error(t, err)
}
