package redis

import (
	"context"
	"fmt"

	"github.com/stageflow/stageflow/backend"
	"github.com/stageflow/stageflow/core"
)

func (rb *redisBackend) GetStats(ctx context.Context) (*backend.Stats, error) {
	s := &backend.Stats{}

	counts := map[core.InstanceStatus]*int64{
		core.InstanceStatusPending:   &s.PendingInstances,
		core.InstanceStatusActive:    &s.ActiveInstances,
		core.InstanceStatusPaused:    &s.PausedInstances,
		core.InstanceStatusCompleted: &s.CompletedInstances,
		core.InstanceStatusCancelled: &s.CancelledInstances,
		core.InstanceStatusFailed:    &s.FailedInstances,
	}

	for status, target := range counts {
		n, err := rb.rdb.SCard(ctx, rb.instancesByStatusKey(string(status))).Result()
		if err != nil {
			return nil, fmt.Errorf("counting %s instances: %w", status, err)
		}
		*target = n
	}

	return s, nil
}

func (rb *redisBackend) GetTemplateStats(ctx context.Context, templateID string) (*backend.TemplateStats, error) {
	if _, err := rb.GetTemplate(ctx, templateID); err != nil {
		return nil, err
	}

	ids, err := rb.rdb.SMembers(ctx, rb.instancesByTemplateKey(templateID)).Result()
	if err != nil {
		return nil, fmt.Errorf("reading template instance set: %w", err)
	}

	instances, err := rb.getInstances(ctx, ids)
	if err != nil {
		return nil, err
	}

	stats := &backend.TemplateStats{TemplateID: templateID}
	for _, instance := range instances {
		switch instance.Status {
		case core.InstanceStatusCompleted:
			stats.Completed++
			if instance.CompletedAt != nil {
				stats.CompletionTimes = append(stats.CompletionTimes, instance.CompletedAt.Sub(instance.StartedAt))
			}
		case core.InstanceStatusCancelled:
			stats.Cancelled++
		case core.InstanceStatusFailed:
			stats.Failed++
		}
	}

	return stats, nil
}
