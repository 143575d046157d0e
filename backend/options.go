package backend

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/stageflow/stageflow/backend/converter"
	"github.com/stageflow/stageflow/backend/metrics"
	mi "github.com/stageflow/stageflow/internal/metrics"
)

type Options struct {
	Logger *slog.Logger

	Metrics metrics.Client

	TracerProvider trace.TracerProvider

	// Converter is used for serializing instance data, condition values, and
	// action parameters and results. If not explicitly set,
	// converter.DefaultConverter is used.
	Converter converter.Converter

	// StageGraphCacheSize bounds the engine's compiled stage graph cache.
	StageGraphCacheSize int

	// StageGraphCacheTTL is the expiration for cached stage graphs.
	StageGraphCacheTTL time.Duration
}

var DefaultOptions Options = Options{
	Logger:         slog.Default(),
	Metrics:        mi.NewNoopMetricsClient(),
	TracerProvider: noop.NewTracerProvider(),
	Converter:      converter.DefaultConverter,

	StageGraphCacheSize: 128,
	StageGraphCacheTTL:  time.Minute * 30,
}

type BackendOption func(*Options)

func WithLogger(logger *slog.Logger) BackendOption {
	return func(o *Options) {
		o.Logger = logger
	}
}

func WithMetrics(client metrics.Client) BackendOption {
	return func(o *Options) {
		o.Metrics = client
	}
}

func WithTracerProvider(tp trace.TracerProvider) BackendOption {
	return func(o *Options) {
		o.TracerProvider = tp
	}
}

func WithConverter(converter converter.Converter) BackendOption {
	return func(o *Options) {
		o.Converter = converter
	}
}

func WithStageGraphCache(size int, ttl time.Duration) BackendOption {
	return func(o *Options) {
		o.StageGraphCacheSize = size
		o.StageGraphCacheTTL = ttl
	}
}

func ApplyOptions(opts ...BackendOption) Options {
	options := DefaultOptions

	for _, opt := range opts {
		opt(&options)
	}

	if options.Logger == nil {
		options.Logger = slog.Default()
	}

	return options
}
