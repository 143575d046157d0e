package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/stageflow/stageflow/backend/converter"
	"github.com/stageflow/stageflow/backend/history"
	"github.com/stageflow/stageflow/core"
)

type scanner interface {
	Scan(dest ...any) error
}

func insertEvents(ctx context.Context, tx *sql.Tx, c converter.Converter, events []*history.Event) error {
	for _, event := range events {
		var actionResults []byte
		if len(event.ActionResults) > 0 {
			payload, err := c.To(event.ActionResults)
			if err != nil {
				return fmt.Errorf("serializing action results: %w", err)
			}
			actionResults = payload
		}

		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO logs (id, instance_id, stage_id, event_type, actor, notes, action_results, timestamp)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			event.ID, event.InstanceID, nullString(event.StageID), string(event.Type),
			nullString(event.Actor), nullString(event.Notes), actionResults, event.Timestamp,
		); err != nil {
			return fmt.Errorf("inserting log event: %w", err)
		}
	}

	return nil
}

func scanEvent(row scanner, c converter.Converter) (*history.Event, error) {
	event := &history.Event{}

	var stageID, actor, notes sql.NullString
	var actionResults []byte
	var eventType string

	if err := row.Scan(
		&event.SequenceID, &event.ID, &event.InstanceID, &stageID, &eventType,
		&actor, &notes, &actionResults, &event.Timestamp,
	); err != nil {
		return nil, fmt.Errorf("scanning log event: %w", err)
	}

	event.Type = history.EventType(eventType)
	event.StageID = stageID.String
	event.Actor = actor.String
	event.Notes = notes.String

	if len(actionResults) > 0 {
		if err := c.From(actionResults, &event.ActionResults); err != nil {
			return nil, fmt.Errorf("deserializing action results: %w", err)
		}
	}

	return event, nil
}

func scanInstance(row scanner, c converter.Converter) (*core.WorkflowInstance, error) {
	instance := &core.WorkflowInstance{}

	var currentStageID, assignedTo sql.NullString
	var status string
	var data, priorStatuses []byte
	var completedAt, dueAt, stageEnteredAt sql.NullTime

	if err := row.Scan(
		&instance.InstanceID, &instance.TemplateID, &instance.SubjectID,
		&currentStageID, &status, &instance.Score, &data, &priorStatuses,
		&assignedTo, &instance.StartedAt, &completedAt, &dueAt, &stageEnteredAt,
		&instance.Version,
	); err != nil {
		return nil, err
	}

	instance.CurrentStageID = currentStageID.String
	instance.Status = core.InstanceStatus(status)
	instance.AssignedTo = assignedTo.String
	instance.CompletedAt = timePtr(completedAt)
	instance.DueAt = timePtr(dueAt)
	instance.StageEnteredAt = timePtr(stageEnteredAt)

	if len(data) > 0 {
		if err := c.From(data, &instance.Data); err != nil {
			return nil, fmt.Errorf("deserializing instance data: %w", err)
		}
	}
	if len(priorStatuses) > 0 {
		if err := c.From(priorStatuses, &instance.PriorStageStatuses); err != nil {
			return nil, fmt.Errorf("deserializing prior stage statuses: %w", err)
		}
	}
	if instance.PriorStageStatuses == nil {
		instance.PriorStageStatuses = map[string]string{}
	}

	return instance, nil
}

func serializeBags(c converter.Converter, instance *core.WorkflowInstance) (data []byte, priorStatuses []byte, err error) {
	if instance.Data != nil {
		payload, err := c.To(instance.Data)
		if err != nil {
			return nil, nil, fmt.Errorf("serializing instance data: %w", err)
		}
		data = payload
	}

	if instance.PriorStageStatuses != nil {
		payload, err := c.To(instance.PriorStageStatuses)
		if err != nil {
			return nil, nil, fmt.Errorf("serializing prior stage statuses: %w", err)
		}
		priorStatuses = payload
	}

	return data, priorStatuses, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
