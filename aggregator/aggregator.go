// Package aggregator computes template-level success and duration metrics
// off the critical path. A stale metric is acceptable; it never participates
// in transitions.
package aggregator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/stageflow/stageflow/backend"
	"github.com/stageflow/stageflow/internal/log"
)

// TemplateMetrics are the aggregated outcomes of one template's instances.
type TemplateMetrics struct {
	TemplateID string

	Completed int64
	Cancelled int64
	Failed    int64

	// SuccessRate is completed / (completed + cancelled + failed), or 0 when
	// no instance has finished yet.
	SuccessRate float64

	// AvgCompletionTime is the mean of completedAt-startedAt over completed
	// instances.
	AvgCompletionTime time.Duration

	ComputedAt time.Time
}

// Aggregator recomputes template metrics after completions and on a periodic
// interval. Results are cached in memory and served from there.
type Aggregator struct {
	b      backend.Backend
	clock  clock.Clock
	logger *slog.Logger

	interval time.Duration

	mu      sync.RWMutex
	metrics map[string]*TemplateMetrics

	notify chan string
}

type AggregatorOption func(*Aggregator)

func WithClock(c clock.Clock) AggregatorOption {
	return func(a *Aggregator) {
		a.clock = c
	}
}

func WithInterval(interval time.Duration) AggregatorOption {
	return func(a *Aggregator) {
		a.interval = interval
	}
}

func New(b backend.Backend, opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{
		b:        b,
		clock:    clock.New(),
		logger:   b.Options().Logger,
		interval: time.Minute * 5,
		metrics:  map[string]*TemplateMetrics{},
		notify:   make(chan string, 64),
	}

	for _, opt := range opts {
		opt(a)
	}

	return a
}

// Notify requests a recompute for the given template. It never blocks; if
// the queue is full the periodic recompute will catch up.
func (a *Aggregator) Notify(templateID string) {
	select {
	case a.notify <- templateID:
	default:
	}
}

// Run processes completion notifications and periodic full recomputes until
// the context is canceled.
func (a *Aggregator) Run(ctx context.Context) error {
	ticker := a.clock.Ticker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case templateID := <-a.notify:
			if _, err := a.Recompute(ctx, templateID); err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Error("Recomputing template metrics failed",
					log.TemplateIDKey, templateID,
					log.ErrorKey, err,
				)
			}

		case <-ticker.C:
			a.recomputeAll(ctx)
		}
	}
}

// Recompute recalculates metrics for one template from the backend's stats
// and caches the result.
func (a *Aggregator) Recompute(ctx context.Context, templateID string) (*TemplateMetrics, error) {
	stats, err := a.b.GetTemplateStats(ctx, templateID)
	if err != nil {
		return nil, err
	}

	m := &TemplateMetrics{
		TemplateID: templateID,
		Completed:  stats.Completed,
		Cancelled:  stats.Cancelled,
		Failed:     stats.Failed,
		ComputedAt: a.clock.Now(),
	}

	if finished := stats.Completed + stats.Cancelled + stats.Failed; finished > 0 {
		m.SuccessRate = float64(stats.Completed) / float64(finished)
	}

	if len(stats.CompletionTimes) > 0 {
		var total time.Duration
		for _, d := range stats.CompletionTimes {
			total += d
		}
		m.AvgCompletionTime = total / time.Duration(len(stats.CompletionTimes))
	}

	a.mu.Lock()
	a.metrics[templateID] = m
	a.mu.Unlock()

	return m, nil
}

// Metrics returns the cached metrics for a template, if any have been
// computed.
func (a *Aggregator) Metrics(templateID string) (*TemplateMetrics, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	m, ok := a.metrics[templateID]
	return m, ok
}

// recomputeAll sweeps every template the backend knows about, so templates
// whose completion notifications were dropped still get fresh metrics.
func (a *Aggregator) recomputeAll(ctx context.Context) {
	ids, err := a.b.GetTemplateIDs(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			a.logger.Error("Listing templates for recompute failed",
				log.ErrorKey, err,
			)
		}
		return
	}

	for _, id := range ids {
		if _, err := a.Recompute(ctx, id); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error("Recomputing template metrics failed",
				log.TemplateIDKey, id,
				log.ErrorKey, err,
			)
		}
	}
}
