package backend

import "time"

// Stats are overall counts across all templates.
type Stats struct {
	PendingInstances   int64
	ActiveInstances    int64
	PausedInstances    int64
	CompletedInstances int64
	CancelledInstances int64
	FailedInstances    int64
}

// TemplateStats summarize finished instances of one template for the metrics
// aggregator.
type TemplateStats struct {
	TemplateID string

	Completed int64
	Cancelled int64
	Failed    int64

	// CompletionTimes holds completedAt-startedAt for completed instances.
	CompletionTimes []time.Duration
}
