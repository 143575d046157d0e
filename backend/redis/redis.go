package redis

import (
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"

	"github.com/stageflow/stageflow/backend"
	"github.com/stageflow/stageflow/backend/converter"
	"github.com/stageflow/stageflow/backend/metrics"
)

type RedisOptions struct {
	backend.Options

	// KeyPrefix is prepended to every key the backend writes.
	KeyPrefix string
}

type RedisBackendOption func(*RedisOptions)

func WithKeyPrefix(prefix string) RedisBackendOption {
	return func(o *RedisOptions) {
		o.KeyPrefix = prefix
	}
}

func WithBackendOptions(opts ...backend.BackendOption) RedisBackendOption {
	return func(o *RedisOptions) {
		for _, opt := range opts {
			opt(&o.Options)
		}
	}
}

var _ backend.Backend = (*redisBackend)(nil)

func NewRedisBackend(client redis.UniversalClient, opts ...RedisBackendOption) (*redisBackend, error) {
	options := &RedisOptions{
		Options:   backend.ApplyOptions(),
		KeyPrefix: "stageflow:",
	}

	for _, opt := range opts {
		opt(options)
	}

	return &redisBackend{
		rdb:     client,
		options: options,
	}, nil
}

type redisBackend struct {
	rdb     redis.UniversalClient
	options *RedisOptions
}

func (rb *redisBackend) Options() *backend.Options {
	return &rb.options.Options
}

func (rb *redisBackend) Metrics() metrics.Client {
	return rb.options.Metrics
}

func (rb *redisBackend) Tracer() trace.Tracer {
	return rb.options.TracerProvider.Tracer(backend.TracerName)
}

func (rb *redisBackend) Converter() converter.Converter {
	return rb.options.Converter
}

func (rb *redisBackend) Close() error {
	return rb.rdb.Close()
}

func (rb *redisBackend) templateKey(templateID string) string {
	return fmt.Sprintf("%vtemplate:%v", rb.options.KeyPrefix, templateID)
}

// templatesKey is the SET of all stored template ids.
func (rb *redisBackend) templatesKey() string {
	return rb.options.KeyPrefix + "templates"
}

func (rb *redisBackend) instanceKey(instanceID string) string {
	return fmt.Sprintf("%vinstance:%v", rb.options.KeyPrefix, instanceID)
}

func (rb *redisBackend) logKey(instanceID string) string {
	return fmt.Sprintf("%vlog:%v", rb.options.KeyPrefix, instanceID)
}

// instancesByStatus is the SET of instance ids currently in the given status.
func (rb *redisBackend) instancesByStatusKey(status string) string {
	return fmt.Sprintf("%vinstances-by-status:%v", rb.options.KeyPrefix, status)
}

// instancesByTemplate is the SET of instance ids created from the given
// template. Used for template stats.
func (rb *redisBackend) instancesByTemplateKey(templateID string) string {
	return fmt.Sprintf("%vinstances-by-template:%v", rb.options.KeyPrefix, templateID)
}
