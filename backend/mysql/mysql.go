package mysql

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	mysqlmigrate "github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.opentelemetry.io/otel/trace"

	"github.com/stageflow/stageflow/backend"
	"github.com/stageflow/stageflow/backend/converter"
	"github.com/stageflow/stageflow/backend/history"
	"github.com/stageflow/stageflow/backend/metrics"
	"github.com/stageflow/stageflow/core"

	_ "github.com/go-sql-driver/mysql"
)

//go:embed db/migrations/*.sql
var migrationsFS embed.FS

func NewMysqlBackend(host string, port int, user, password, database string, opts ...option) *mysqlBackend {
	options := &options{
		Options:         backend.ApplyOptions(),
		ApplyMigrations: true,
	}

	for _, opt := range opts {
		opt(options)
	}

	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&interpolateParams=true", user, password, host, port, database)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		panic(err)
	}

	b := &mysqlBackend{
		db:      db,
		options: options,
	}

	if options.ApplyMigrations {
		if err := b.Migrate(); err != nil {
			panic(err)
		}
	}

	return b
}

type mysqlBackend struct {
	db      *sql.DB
	options *options
}

var _ backend.Backend = (*mysqlBackend)(nil)

// Migrate applies any pending database migrations.
func (b *mysqlBackend) Migrate() error {
	dbi, err := mysqlmigrate.WithInstance(b.db, &mysqlmigrate.Config{})
	if err != nil {
		return fmt.Errorf("creating migration instance: %w", err)
	}

	migrations, err := iofs.New(migrationsFS, "db/migrations")
	if err != nil {
		return fmt.Errorf("creating migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", migrations, "mysql", dbi)
	if err != nil {
		return fmt.Errorf("creating migration: %w", err)
	}

	if err := m.Up(); err != nil {
		if !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("running migrations: %w", err)
		}
	}

	return nil
}

func (b *mysqlBackend) Options() *backend.Options {
	return &b.options.Options
}

func (b *mysqlBackend) Metrics() metrics.Client {
	return b.options.Metrics
}

func (b *mysqlBackend) Tracer() trace.Tracer {
	return b.options.TracerProvider.Tracer(backend.TracerName)
}

func (b *mysqlBackend) Converter() converter.Converter {
	return b.options.Converter
}

func (b *mysqlBackend) Close() error {
	return b.db.Close()
}

func (b *mysqlBackend) CreateTemplate(ctx context.Context, t *core.WorkflowTemplate) error {
	tx, err := b.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	config, err := b.options.Converter.To(&t.Config)
	if err != nil {
		return fmt.Errorf("serializing template config: %w", err)
	}

	res, err := tx.ExecContext(
		ctx,
		"INSERT IGNORE INTO `templates` (id, name, type, scope_key, config) VALUES (?, ?, ?, ?, ?)",
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
		definition, err := b.options.Converter.To(stage)
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

func (b *mysqlBackend) GetTemplate(ctx context.Context, templateID string) (*core.WorkflowTemplate, error) {
	t := &core.WorkflowTemplate{ID: templateID}

	var config []byte
	err := b.db.QueryRowContext(
		ctx,
		"SELECT name, type, scope_key, config FROM `templates` WHERE id = ?",
		templateID,
	).Scan(&t.Name, &t.Type, &t.ScopeKey, &config)
	if err == sql.ErrNoRows {
		return nil, backend.ErrTemplateNotFound
	} else if err != nil {
		return nil, fmt.Errorf("querying template: %w", err)
	}

	if err := b.options.Converter.From(config, &t.Config); err != nil {
		return nil, fmt.Errorf("deserializing template config: %w", err)
	}

	rows, err := b.db.QueryContext(
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
		if err := b.options.Converter.From(definition, stage); err != nil {
			return nil, fmt.Errorf("deserializing stage: %w", err)
		}
		t.Stages = append(t.Stages, stage)
	}

	return t, rows.Err()
}

func (b *mysqlBackend) GetTemplateIDs(ctx context.Context) ([]string, error) {
	rows, err := b.db.QueryContext(ctx, "SELECT id FROM `templates` ORDER BY id")
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

func (b *mysqlBackend) CreateInstance(ctx context.Context, instance *core.WorkflowInstance, events []*history.Event) error {
	tx, err := b.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	data, priorStatuses, err := serializeBags(b.options.Converter, instance)
	if err != nil {
		return err
	}

	res, err := tx.ExecContext(
		ctx,
		`INSERT IGNORE INTO instances
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

	if err := insertEvents(ctx, tx, b.options.Converter, events); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("creating instance: %w", err)
	}

	return nil
}

func (b *mysqlBackend) GetInstance(ctx context.Context, instanceID string) (*core.WorkflowInstance, error) {
	row := b.db.QueryRowContext(
		ctx,
		`SELECT id, template_id, subject_id, current_stage_id, status, score, data, prior_stage_statuses,
			assigned_to, started_at, completed_at, due_at, stage_entered_at, version
			FROM instances WHERE id = ?`,
		instanceID,
	)

	instance, err := scanInstance(row, b.options.Converter)
	if err == sql.ErrNoRows {
		return nil, backend.ErrInstanceNotFound
	} else if err != nil {
		return nil, fmt.Errorf("querying instance: %w", err)
	}

	return instance, nil
}

func (b *mysqlBackend) UpdateInstance(ctx context.Context, instance *core.WorkflowInstance, expectedVersion int64, events []*history.Event) error {
	tx, err := b.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	data, priorStatuses, err := serializeBags(b.options.Converter, instance)
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
		var v int64
		err := tx.QueryRowContext(ctx, "SELECT version FROM `instances` WHERE id = ?", instance.InstanceID).Scan(&v)
		if err == sql.ErrNoRows {
			return backend.ErrInstanceNotFound
		} else if err != nil {
			return fmt.Errorf("querying instance version: %w", err)
		}
		return backend.ErrConflict
	}

	if err := insertEvents(ctx, tx, b.options.Converter, events); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("updating instance: %w", err)
	}

	return nil
}

func (b *mysqlBackend) GetHistory(ctx context.Context, instanceID string) ([]*history.Event, error) {
	rows, err := b.db.QueryContext(
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
		event, err := scanEvent(rows, b.options.Converter)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}

	return events, rows.Err()
}

func (b *mysqlBackend) GetRunningInstances(ctx context.Context) ([]*core.WorkflowInstance, error) {
	rows, err := b.db.QueryContext(
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
		instance, err := scanInstance(rows, b.options.Converter)
		if err != nil {
			return nil, fmt.Errorf("scanning instance: %w", err)
		}
		instances = append(instances, instance)
	}

	return instances, rows.Err()
}

func (b *mysqlBackend) GetTemplateStats(ctx context.Context, templateID string) (*backend.TemplateStats, error) {
	var exists int
	err := b.db.QueryRowContext(ctx, "SELECT 1 FROM `templates` WHERE id = ?", templateID).Scan(&exists)
	if err == sql.ErrNoRows {
		return nil, backend.ErrTemplateNotFound
	} else if err != nil {
		return nil, fmt.Errorf("querying template: %w", err)
	}

	stats := &backend.TemplateStats{TemplateID: templateID}

	rows, err := b.db.QueryContext(
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

	trows, err := b.db.QueryContext(
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

func (b *mysqlBackend) GetStats(ctx context.Context) (*backend.Stats, error) {
	stats := &backend.Stats{}

	rows, err := b.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM `instances` GROUP BY status")
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
