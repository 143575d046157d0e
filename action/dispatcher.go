package action

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	gerrors "github.com/go-errors/errors"

	"github.com/stageflow/stageflow/backend/metrics"
	"github.com/stageflow/stageflow/internal/log"
	"github.com/stageflow/stageflow/internal/metrickeys"
)

// Dispatcher executes the actions attached to a stage transition. Handlers
// run in spec order; a failed handler is recorded and the remaining handlers
// still run. Each handler runs under a per-action-type timeout and a bounded
// retry policy.
type Dispatcher struct {
	registry *Registry
	logger   *slog.Logger
	mc       metrics.Client
	clock    clock.Clock

	defaultTimeout time.Duration
	timeouts       map[string]time.Duration
	maxRetries     uint64
}

type DispatcherOption func(*Dispatcher)

// WithTimeout overrides the execution timeout for one action type.
func WithTimeout(actionType string, timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		d.timeouts[actionType] = timeout
	}
}

// WithDefaultTimeout sets the timeout for action types without an explicit
// override.
func WithDefaultTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		d.defaultTimeout = timeout
	}
}

// WithMaxRetries bounds how often a failing handler is retried before its
// result is recorded as failed.
func WithMaxRetries(retries uint64) DispatcherOption {
	return func(d *Dispatcher) {
		d.maxRetries = retries
	}
}

func WithClock(c clock.Clock) DispatcherOption {
	return func(d *Dispatcher) {
		d.clock = c
	}
}

func NewDispatcher(registry *Registry, logger *slog.Logger, mc metrics.Client, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		registry:       registry,
		logger:         logger,
		mc:             mc,
		clock:          clock.New(),
		defaultTimeout: time.Second * 30,
		timeouts:       map[string]time.Duration{},
		maxRetries:     2,
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Dispatch runs all given action specs against the invocation context. It
// never short-circuits: every spec produces a Result. If any handler failed,
// the returned error is an *Error carrying the full result list; the results
// slice is valid either way.
func (d *Dispatcher) Dispatch(ctx context.Context, specs []Spec, inv *Invocation) ([]Result, error) {
	if len(specs) == 0 {
		return nil, nil
	}

	results := make([]Result, 0, len(specs))
	anyFailed := false

	for _, spec := range specs {
		result := d.dispatchOne(ctx, spec, inv)
		if !result.Success {
			anyFailed = true
		}
		results = append(results, result)
	}

	if anyFailed {
		return results, &Error{Results: results}
	}

	return results, nil
}

func (d *Dispatcher) dispatchOne(ctx context.Context, spec Spec, inv *Invocation) Result {
	result := Result{
		Type:   spec.Type,
		Target: spec.Target,
	}

	handler, err := d.registry.GetHandler(spec.Type)
	if err != nil {
		// Published templates are validated against the registry, so this
		// only happens for templates created before a handler was removed.
		result.Error = err.Error()
		return result
	}

	hinv := *inv
	hinv.Target = spec.Target
	hinv.Parameters = spec.Parameters

	start := d.clock.Now()

	produced, err := d.executeWithRetry(ctx, spec.Type, handler, &hinv)

	d.mc.Timing(metrickeys.ActionExecution, metrics.Tags{metrickeys.ActionType: spec.Type}, d.clock.Since(start))

	if err != nil {
		d.logger.Error("Action handler failed",
			log.InstanceIDKey, inv.InstanceID,
			log.StageIDKey, inv.StageID,
			log.ActionTypeKey, spec.Type,
			log.ErrorKey, err,
		)
		d.mc.Counter(metrickeys.ActionFailed, metrics.Tags{metrickeys.ActionType: spec.Type}, 1)

		result.Error = err.Error()
		return result
	}

	result.Success = true
	result.ProducedData = produced
	return result
}

func (d *Dispatcher) executeWithRetry(ctx context.Context, actionType string, handler Handler, inv *Invocation) (map[string]any, error) {
	timeout := d.defaultTimeout
	if t, ok := d.timeouts[actionType]; ok {
		timeout = t
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var produced map[string]any

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), d.maxRetries), ctx)

	err := backoff.Retry(func() error {
		var err error
		produced, err = d.execute(ctx, handler, inv)
		return err
	}, policy)
	if err != nil {
		return nil, err
	}

	return produced, nil
}

// execute invokes a single handler, converting panics into errors so a
// misbehaving handler cannot take down a transition.
func (d *Dispatcher) execute(ctx context.Context, handler Handler, inv *Invocation) (produced map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			perr := gerrors.Wrap(r, 2)
			d.logger.Error("Action handler panicked",
				log.InstanceIDKey, inv.InstanceID,
				log.ErrorKey, perr,
				log.StackKey, perr.ErrorStack(),
			)
			err = backoff.Permanent(fmt.Errorf("handler panic: %v", r))
		}
	}()

	return handler(ctx, inv)
}
