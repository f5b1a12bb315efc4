package es

import (
	"fmt"
	"log/slog"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/harborward/theseus-go/core/cache"
)

// Options are small structs rather than closures so one option value can
// apply to several components (repository, worker, consumer, registry, env).
type (
	valueOption[T any] struct{ v T }

	LogOption            struct{ l *slog.Logger }
	ESMetricsOption      struct{ m ESMetrics }
	SnapshotterOption    valueOption[Snapshotter]
	SnapshotWorkerOption valueOption[*SnapshotWorker]
	RepoCacheOption      valueOption[cache.Cache]
)

func WithLog(l *slog.Logger) LogOption                          { return LogOption{l: l} }
func WithESMetrics(m ESMetrics) ESMetricsOption                 { return ESMetricsOption{m: m} }
func WithSnapshotter(s Snapshotter) SnapshotterOption           { return SnapshotterOption{v: s} }
func WithSnapshotWorker(w *SnapshotWorker) SnapshotWorkerOption { return SnapshotWorkerOption{v: w} }

// WithHydrationCache keeps recently loaded aggregate state in c, trading
// memory for shorter replays on hot aggregates.
func WithHydrationCache(c cache.Cache) RepoCacheOption { return RepoCacheOption{v: c} }

// === consumer options ===

type (
	consumerOpts struct {
		name            string
		log             *slog.Logger
		metrics         ESMetrics
		mws             []HandlerMiddleware
		stopOnError     bool
		shutdownTimeout time.Duration
	}

	ConsumerOption interface{ applyToConsumer(*consumerOpts) }

	ConsumerNameOption valueOption[string]
	MiddlewareOption   valueOption[[]HandlerMiddleware]
	StopOnErrorOption  struct{}
)

func (o ConsumerNameOption) applyToConsumer(c *consumerOpts) { c.name = o.v }
func (o LogOption) applyToConsumer(c *consumerOpts)          { c.log = o.l }
func (o ESMetricsOption) applyToConsumer(c *consumerOpts)    { c.metrics = o.m }
func (o MiddlewareOption) applyToConsumer(c *consumerOpts) {
	c.mws = append(c.mws, o.v...)
}
func (o StopOnErrorOption) applyToConsumer(c *consumerOpts) { c.stopOnError = true }

func WithConsumerName(name string) ConsumerNameOption { return ConsumerNameOption{v: name} }
func WithMiddlewares(mws ...HandlerMiddleware) MiddlewareOption {
	return MiddlewareOption{v: mws}
}

// WithStopOnError makes a handler failure stop the consumer at the failed
// event instead of logging and moving on.
func WithStopOnError() StopOnErrorOption { return StopOnErrorOption{} }

func newConsumerOpts(opts ...ConsumerOption) consumerOpts {
	options := consumerOpts{
		name:            fmt.Sprintf("consumer-%s", gonanoid.Must(6)),
		log:             slog.Default(),
		metrics:         NopESMetrics(),
		shutdownTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt.applyToConsumer(&options)
	}
	return options
}
