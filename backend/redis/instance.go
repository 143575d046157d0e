package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/stageflow/stageflow/backend"
	"github.com/stageflow/stageflow/backend/history"
	"github.com/stageflow/stageflow/core"
)

func (rb *redisBackend) CreateTemplate(ctx context.Context, t *core.WorkflowTemplate) error {
	payload, err := rb.options.Converter.To(t)
	if err != nil {
		return fmt.Errorf("serializing template: %w", err)
	}

	ok, err := rb.rdb.SetNX(ctx, rb.templateKey(t.ID), string(payload), 0).Result()
	if err != nil {
		return fmt.Errorf("storing template: %w", err)
	}
	if !ok {
		return backend.ErrTemplateAlreadyExists
	}

	if err := rb.rdb.SAdd(ctx, rb.templatesKey(), t.ID).Err(); err != nil {
		return fmt.Errorf("indexing template: %w", err)
	}

	return nil
}

func (rb *redisBackend) GetTemplateIDs(ctx context.Context) ([]string, error) {
	ids, err := rb.rdb.SMembers(ctx, rb.templatesKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("reading template index: %w", err)
	}

	sort.Strings(ids)

	return ids, nil
}

func (rb *redisBackend) GetTemplate(ctx context.Context, templateID string) (*core.WorkflowTemplate, error) {
	payload, err := rb.rdb.Get(ctx, rb.templateKey(templateID)).Result()
	if err == redis.Nil {
		return nil, backend.ErrTemplateNotFound
	} else if err != nil {
		return nil, fmt.Errorf("reading template: %w", err)
	}

	t := &core.WorkflowTemplate{}
	if err := rb.options.Converter.From([]byte(payload), t); err != nil {
		return nil, fmt.Errorf("deserializing template: %w", err)
	}

	return t, nil
}

func (rb *redisBackend) CreateInstance(ctx context.Context, instance *core.WorkflowInstance, events []*history.Event) error {
	key := rb.instanceKey(instance.InstanceID)

	return rb.rdb.Watch(ctx, func(tx *redis.Tx) error {
		_, err := tx.Get(ctx, key).Result()
		if err == nil {
			return backend.ErrInstanceAlreadyExists
		} else if err != redis.Nil {
			return fmt.Errorf("checking for existing instance: %w", err)
		}

		payload, err := rb.options.Converter.To(instance)
		if err != nil {
			return fmt.Errorf("serializing instance: %w", err)
		}

		eventPayloads, err := rb.serializeEvents(events)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, string(payload), 0)
			p.SAdd(ctx, rb.instancesByStatusKey(string(instance.Status)), instance.InstanceID)
			p.SAdd(ctx, rb.instancesByTemplateKey(instance.TemplateID), instance.InstanceID)
			if len(eventPayloads) > 0 {
				p.RPush(ctx, rb.logKey(instance.InstanceID), eventPayloads...)
			}
			return nil
		})
		return err
	}, key)
}

func (rb *redisBackend) GetInstance(ctx context.Context, instanceID string) (*core.WorkflowInstance, error) {
	payload, err := rb.rdb.Get(ctx, rb.instanceKey(instanceID)).Result()
	if err == redis.Nil {
		return nil, backend.ErrInstanceNotFound
	} else if err != nil {
		return nil, fmt.Errorf("reading instance: %w", err)
	}

	return rb.parseInstance([]byte(payload))
}

// UpdateInstance commits the new state under a WATCH on the instance key. A
// concurrent write between the version check and the MULTI/EXEC aborts the
// transaction and surfaces as ErrConflict, same as a stale version.
func (rb *redisBackend) UpdateInstance(ctx context.Context, instance *core.WorkflowInstance, expectedVersion int64, events []*history.Event) error {
	key := rb.instanceKey(instance.InstanceID)

	err := rb.rdb.Watch(ctx, func(tx *redis.Tx) error {
		payload, err := tx.Get(ctx, key).Result()
		if err == redis.Nil {
			return backend.ErrInstanceNotFound
		} else if err != nil {
			return fmt.Errorf("reading instance: %w", err)
		}

		stored, err := rb.parseInstance([]byte(payload))
		if err != nil {
			return err
		}

		if stored.Version != expectedVersion {
			return backend.ErrConflict
		}

		updated := *instance
		updated.Version = expectedVersion + 1

		updatedPayload, err := rb.options.Converter.To(&updated)
		if err != nil {
			return fmt.Errorf("serializing instance: %w", err)
		}

		eventPayloads, err := rb.serializeEvents(events)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, string(updatedPayload), 0)
			if stored.Status != updated.Status {
				p.SRem(ctx, rb.instancesByStatusKey(string(stored.Status)), instance.InstanceID)
				p.SAdd(ctx, rb.instancesByStatusKey(string(updated.Status)), instance.InstanceID)
			}
			if len(eventPayloads) > 0 {
				p.RPush(ctx, rb.logKey(instance.InstanceID), eventPayloads...)
			}
			return nil
		})
		return err
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		return backend.ErrConflict
	}

	return err
}

func (rb *redisBackend) GetHistory(ctx context.Context, instanceID string) ([]*history.Event, error) {
	payloads, err := rb.rdb.LRange(ctx, rb.logKey(instanceID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("reading log: %w", err)
	}

	events := make([]*history.Event, 0, len(payloads))
	for i, payload := range payloads {
		event := &history.Event{}
		if err := rb.options.Converter.From([]byte(payload), event); err != nil {
			return nil, fmt.Errorf("deserializing log event: %w", err)
		}
		event.SequenceID = int64(i) + 1
		events = append(events, event)
	}

	return events, nil
}

func (rb *redisBackend) GetRunningInstances(ctx context.Context) ([]*core.WorkflowInstance, error) {
	ids, err := rb.rdb.SUnion(ctx,
		rb.instancesByStatusKey(string(core.InstanceStatusPending)),
		rb.instancesByStatusKey(string(core.InstanceStatusActive)),
		rb.instancesByStatusKey(string(core.InstanceStatusPaused)),
	).Result()
	if err != nil {
		return nil, fmt.Errorf("reading status sets: %w", err)
	}

	return rb.getInstances(ctx, ids)
}

func (rb *redisBackend) getInstances(ctx context.Context, ids []string) ([]*core.WorkflowInstance, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = rb.instanceKey(id)
	}

	payloads, err := rb.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("reading instances: %w", err)
	}

	instances := make([]*core.WorkflowInstance, 0, len(payloads))
	for _, payload := range payloads {
		s, ok := payload.(string)
		if !ok {
			// Index member without an instance key; skip.
			continue
		}

		instance, err := rb.parseInstance([]byte(s))
		if err != nil {
			return nil, err
		}
		instances = append(instances, instance)
	}

	return instances, nil
}

func (rb *redisBackend) parseInstance(payload []byte) (*core.WorkflowInstance, error) {
	instance := &core.WorkflowInstance{}
	if err := rb.options.Converter.From(payload, instance); err != nil {
		return nil, fmt.Errorf("deserializing instance: %w", err)
	}
	if instance.PriorStageStatuses == nil {
		instance.PriorStageStatuses = map[string]string{}
	}
	return instance, nil
}

func (rb *redisBackend) serializeEvents(events []*history.Event) ([]any, error) {
	payloads := make([]any, 0, len(events))
	for _, event := range events {
		payload, err := rb.options.Converter.To(event)
		if err != nil {
			return nil, fmt.Errorf("serializing log event: %w", err)
		}
		payloads = append(payloads, string(payload))
	}
	return payloads, nil
}
