package backend

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/trace"

	"github.com/stageflow/stageflow/backend/converter"
	"github.com/stageflow/stageflow/backend/history"
	"github.com/stageflow/stageflow/backend/metrics"
	"github.com/stageflow/stageflow/core"
)

var (
	ErrTemplateNotFound      = errors.New("workflow template not found")
	ErrTemplateAlreadyExists = errors.New("workflow template already exists")
	ErrInstanceNotFound      = errors.New("workflow instance not found")
	ErrInstanceAlreadyExists = errors.New("workflow instance already exists")

	// ErrConflict is returned by UpdateInstance when the expected version no
	// longer matches the stored one, i.e. a concurrent mutation won.
	ErrConflict = errors.New("instance version conflict")
)

const TracerName = "stageflow"

type Backend interface {
	// CreateTemplate persists a published workflow template. Templates are
	// immutable once stored.
	CreateTemplate(ctx context.Context, t *core.WorkflowTemplate) error

	// GetTemplate returns the template with the given id.
	GetTemplate(ctx context.Context, templateID string) (*core.WorkflowTemplate, error)

	// GetTemplateIDs returns the ids of all stored templates. The metrics
	// aggregator sweeps them on its periodic recompute.
	GetTemplateIDs(ctx context.Context) ([]string, error)

	// CreateInstance persists a new workflow instance together with its
	// initial audit events in one transaction.
	CreateInstance(ctx context.Context, instance *core.WorkflowInstance, events []*history.Event) error

	// GetInstance returns the instance with the given id.
	GetInstance(ctx context.Context, instanceID string) (*core.WorkflowInstance, error)

	// UpdateInstance commits a new instance state and its audit events
	// atomically. The write only succeeds if the stored version still equals
	// expectedVersion; otherwise ErrConflict is returned and nothing is
	// written. On success the stored version is expectedVersion+1.
	UpdateInstance(ctx context.Context, instance *core.WorkflowInstance, expectedVersion int64, events []*history.Event) error

	// GetHistory returns the instance's audit events in insertion order.
	GetHistory(ctx context.Context, instanceID string) ([]*history.Event, error)

	// GetRunningInstances returns all non-terminal instances. The SLA sweep
	// checks them against their time bounds, which only the engine can
	// resolve since stage time limits live in the template.
	GetRunningInstances(ctx context.Context) ([]*core.WorkflowInstance, error)

	// GetTemplateStats returns per-status instance counts and completion
	// times for one template. Used by the metrics aggregator.
	GetTemplateStats(ctx context.Context, templateID string) (*TemplateStats, error)

	// GetStats returns overall backend stats.
	GetStats(ctx context.Context) (*Stats, error)

	// Options returns the configured options for the backend
	Options() *Options

	// Metrics returns the configured metrics client for the backend
	Metrics() metrics.Client

	// Tracer returns the configured tracer for the backend
	Tracer() trace.Tracer

	// Converter returns the configured payload converter for the backend
	Converter() converter.Converter

	// Close closes any underlying resources
	Close() error
}
