package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/stageflow/stageflow/backend"
	"github.com/stageflow/stageflow/backend/converter"
	"github.com/stageflow/stageflow/backend/history"
	"github.com/stageflow/stageflow/backend/metrics"
	"github.com/stageflow/stageflow/core"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schema string

// NewInMemoryBackend creates a sqlite backend backed by a private in-memory
// database. Used for tests and local development.
func NewInMemoryBackend(opts ...backend.BackendOption) *sqliteBackend {
	b := newSqliteBackend("file::memory:", opts...)

	b.db.SetMaxOpenConns(1)

	return b
}

func NewSqliteBackend(path string, opts ...backend.BackendOption) *sqliteBackend {
	return newSqliteBackend(fmt.Sprintf("file:%v", path), opts...)
}

func newSqliteBackend(dsn string, opts ...backend.BackendOption) *sqliteBackend {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		panic(err)
	}

	// Initialize database
	if _, err := db.Exec(schema); err != nil {
		panic(fmt.Errorf("initializing database: %w", err))
	}

	return &sqliteBackend{
		db:      db,
		options: backend.ApplyOptions(opts...),
	}
}

type sqliteBackend struct {
	db      *sql.DB
	options backend.Options
}

var _ backend.Backend = (*sqliteBackend)(nil)

func (sb *sqliteBackend) Options() *backend.Options {
	return &sb.options
}

func (sb *sqliteBackend) Metrics() metrics.Client {
	return sb.options.Metrics
}

func (sb *sqliteBackend) Tracer() trace.Tracer {
	return sb.options.TracerProvider.Tracer(backend.TracerName)
}

func (sb *sqliteBackend) Converter() converter.Converter {
	return sb.options.Converter
}

func (sb *sqliteBackend) Close() error {
	return sb.db.Close()
}

func (sb *sqliteBackend) CreateTemplate(ctx context.Context, t *core.WorkflowTemplate) error {
	tx, err := sb.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	config, err := sb.options.Converter.To(&t.Config)
	if err != nil {
		return fmt.Errorf("serializing template config: %w", err)
	}

	res, err := tx.ExecContext(
		ctx,
		"INSERT OR IGNORE INTO `templates` (id, name, type, scope_key, config) VALUES (?, ?, ?, ?, ?)",
		t.ID, t.Name, t.Type, t.ScopeKey, []byte(config),
	)
	if err != nil {
		return fmt.Errorf("inserting template: %w", err)
	}

	if rows, err := res.RowsAffected(); err != nil {
		return err
	} else if rows != 1 {
		return backend.ErrTemplateAlreadyExists
	}

	for _, stage := range t.Stages {
		definition, err := sb.options.Converter.To(stage)
		if err != nil {
			return fmt.Errorf("serializing stage %q: %w", stage.ID, err)
		}

		if _, err := tx.ExecContext(
			ctx,
			"INSERT INTO `stages` (template_id, id, stage_order, definition) VALUES (?, ?, ?, ?)",
			t.ID, stage.ID, stage.Order, []byte(definition),
		); err != nil {
			return fmt.Errorf("inserting stage %q: %w", stage.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("creating template: %w", err)
	}

	return nil
}

func (sb *sqliteBackend) GetTemplate(ctx context.Context, templateID string) (*core.WorkflowTemplate, error) {
	t := &core.WorkflowTemplate{ID: templateID}

	var config []byte
	err := sb.db.QueryRowContext(
		ctx,
		"SELECT name, type, scope_key, config FROM `templates` WHERE id = ?",
		templateID,
	).Scan(&t.Name, &t.Type, &t.ScopeKey, &config)
	if err == sql.ErrNoRows {
		return nil, backend.ErrTemplateNotFound
	} else if err != nil {
		return nil, fmt.Errorf("querying template: %w", err)
	}

	if err := sb.options.Converter.From(config, &t.Config); err != nil {
		return nil, fmt.Errorf("deserializing template config: %w", err)
	}

	rows, err := sb.db.QueryContext(
		ctx,
		"SELECT definition FROM `stages` WHERE template_id = ? ORDER BY stage_order",
		templateID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying stages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var definition []byte
		if err := rows.Scan(&definition); err != nil {
			return nil, fmt.Errorf("scanning stage: %w", err)
		}

		stage := &core.StageDefinition{}
		if err := sb.options.Converter.From(definition, stage); err != nil {
			return nil, fmt.Errorf("deserializing stage: %w", err)
		}
		t.Stages = append(t.Stages, stage)
	}

	return t, rows.Err()
}

func (sb *sqliteBackend) GetTemplateIDs(ctx context.Context) ([]string, error) {
	rows, err := sb.db.QueryContext(ctx, "SELECT id FROM `templates` ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("querying template ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

func (sb *sqliteBackend) CreateInstance(ctx context.Context, instance *core.WorkflowInstance, events []*history.Event) error {
	tx, err := sb.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	data, priorStatuses, err := serializeBags(sb.options.Converter, instance)
	if err != nil {
		return err
	}

	res, err := tx.ExecContext(
		ctx,
		`INSERT OR IGNORE INTO instances
			(id, template_id, subject_id, current_stage_id, status, score, data, prior_stage_statuses,
			 assigned_to, started_at, completed_at, due_at, stage_entered_at, version)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		instance.InstanceID, instance.TemplateID, instance.SubjectID,
		nullString(instance.CurrentStageID), string(instance.Status), instance.Score,
		data, priorStatuses, nullString(instance.AssignedTo),
		instance.StartedAt, nullTime(instance.CompletedAt), nullTime(instance.DueAt),
		nullTime(instance.StageEnteredAt), instance.Version,
	)
	if err != nil {
		return fmt.Errorf("inserting instance: %w", err)
	}

	if rows, err := res.RowsAffected(); err != nil {
		return err
	} else if rows != 1 {
		return backend.ErrInstanceAlreadyExists
	}

	if err := insertEvents(ctx, tx, sb.options.Converter, events); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("creating instance: %w", err)
	}

	return nil
}

func (sb *sqliteBackend) GetInstance(ctx context.Context, instanceID string) (*core.WorkflowInstance, error) {
	row := sb.db.QueryRowContext(
		ctx,
		`SELECT id, template_id, subject_id, current_stage_id, status, score, data, prior_stage_statuses,
			assigned_to, started_at, completed_at, due_at, stage_entered_at, version
			FROM instances WHERE id = ?`,
		instanceID,
	)

	instance, err := scanInstance(row, sb.options.Converter)
	if err == sql.ErrNoRows {
		return nil, backend.ErrInstanceNotFound
	} else if err != nil {
		return nil, fmt.Errorf("querying instance: %w", err)
	}

	return instance, nil
}

func (sb *sqliteBackend) UpdateInstance(ctx context.Context, instance *core.WorkflowInstance, expectedVersion int64, events []*history.Event) error {
	tx, err := sb.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	data, priorStatuses, err := serializeBags(sb.options.Converter, instance)
	if err != nil {
		return err
	}

	res, err := tx.ExecContext(
		ctx,
		`UPDATE instances SET
			current_stage_id = ?, status = ?, score = ?, data = ?, prior_stage_statuses = ?,
			assigned_to = ?, completed_at = ?, due_at = ?, stage_entered_at = ?, version = version + 1
			WHERE id = ? AND version = ?`,
		nullString(instance.CurrentStageID), string(instance.Status), instance.Score,
		data, priorStatuses, nullString(instance.AssignedTo),
		nullTime(instance.CompletedAt), nullTime(instance.DueAt), nullTime(instance.StageEnteredAt),
		instance.InstanceID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("updating instance: %w", err)
	}

	if rows, err := res.RowsAffected(); err != nil {
		return err
	} else if rows != 1 {
		// Distinguish a missing instance from a stale version.
		var v int64
		err := tx.QueryRowContext(ctx, "SELECT version FROM instances WHERE id = ?", instance.InstanceID).Scan(&v)
		if err == sql.ErrNoRows {
			return backend.ErrInstanceNotFound
		} else if err != nil {
			return fmt.Errorf("querying instance version: %w", err)
		}
		return backend.ErrConflict
	}

	if err := insertEvents(ctx, tx, sb.options.Converter, events); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("updating instance: %w", err)
	}

	return nil
}

func (sb *sqliteBackend) GetHistory(ctx context.Context, instanceID string) ([]*history.Event, error) {
	rows, err := sb.db.QueryContext(
		ctx,
		`SELECT seq, id, instance_id, stage_id, event_type, actor, notes, action_results, timestamp
			FROM logs WHERE instance_id = ? ORDER BY seq`,
		instanceID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying logs: %w", err)
	}
	defer rows.Close()

	var events []*history.Event
	for rows.Next() {
		event, err := scanEvent(rows, sb.options.Converter)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}

	return events, rows.Err()
}

func (sb *sqliteBackend) GetRunningInstances(ctx context.Context) ([]*core.WorkflowInstance, error) {
	rows, err := sb.db.QueryContext(
		ctx,
		`SELECT id, template_id, subject_id, current_stage_id, status, score, data, prior_stage_statuses,
			assigned_to, started_at, completed_at, due_at, stage_entered_at, version
			FROM instances WHERE status IN (?, ?, ?)`,
		string(core.InstanceStatusPending), string(core.InstanceStatusActive), string(core.InstanceStatusPaused),
	)
	if err != nil {
		return nil, fmt.Errorf("querying running instances: %w", err)
	}
	defer rows.Close()

	var instances []*core.WorkflowInstance
	for rows.Next() {
		instance, err := scanInstance(rows, sb.options.Converter)
		if err != nil {
			return nil, fmt.Errorf("scanning instance: %w", err)
		}
		instances = append(instances, instance)
	}

	return instances, rows.Err()
}

func (sb *sqliteBackend) GetTemplateStats(ctx context.Context, templateID string) (*backend.TemplateStats, error) {
	var exists int
	err := sb.db.QueryRowContext(ctx, "SELECT 1 FROM `templates` WHERE id = ?", templateID).Scan(&exists)
	if err == sql.ErrNoRows {
		return nil, backend.ErrTemplateNotFound
	} else if err != nil {
		return nil, fmt.Errorf("querying template: %w", err)
	}

	stats := &backend.TemplateStats{TemplateID: templateID}

	rows, err := sb.db.QueryContext(
		ctx,
		"SELECT status, COUNT(*) FROM `instances` WHERE template_id = ? GROUP BY status",
		templateID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying template stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}

		switch core.InstanceStatus(status) {
		case core.InstanceStatusCompleted:
			stats.Completed = count
		case core.InstanceStatusCancelled:
			stats.Cancelled = count
		case core.InstanceStatusFailed:
			stats.Failed = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	trows, err := sb.db.QueryContext(
		ctx,
		"SELECT started_at, completed_at FROM `instances` WHERE template_id = ? AND status = ? AND completed_at IS NOT NULL",
		templateID, string(core.InstanceStatusCompleted),
	)
	if err != nil {
		return nil, fmt.Errorf("querying completion times: %w", err)
	}
	defer trows.Close()

	for trows.Next() {
		var startedAt, completedAt time.Time
		if err := trows.Scan(&startedAt, &completedAt); err != nil {
			return nil, err
		}
		stats.CompletionTimes = append(stats.CompletionTimes, completedAt.Sub(startedAt))
	}

	return stats, trows.Err()
}

func (sb *sqliteBackend) GetStats(ctx context.Context) (*backend.Stats, error) {
	stats := &backend.Stats{}

	rows, err := sb.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM `instances` GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("querying stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}

		switch core.InstanceStatus(status) {
		case core.InstanceStatusPending:
			stats.PendingInstances = count
		case core.InstanceStatusActive:
			stats.ActiveInstances = count
		case core.InstanceStatusPaused:
			stats.PausedInstances = count
		case core.InstanceStatusCompleted:
			stats.CompletedInstances = count
		case core.InstanceStatusCancelled:
			stats.CancelledInstances = count
		case core.InstanceStatusFailed:
			stats.FailedInstances = count
		}
	}

	return stats, rows.Err()
}
