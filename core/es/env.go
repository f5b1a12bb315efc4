package es

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/harborward/theseus-go/core/cache"
)

// Env wires one event-sourcing stack: store, codec, snapshotting,
// repository and projection registry. It owns the lifecycle of everything it
// starts and tears it down on Shutdown or when its context ends.
type Env struct {
	ctx          context.Context
	cancelCtx    context.CancelFunc
	id           string
	log          *slog.Logger
	done         chan struct{}
	shutdownOnce sync.Once

	store       EventStore
	codec       *Codec
	snapshotter Snapshotter
	worker      *SnapshotWorker
	repo        Repository
	projections *Registry
	metrics     ESMetrics

	mu        sync.Mutex
	consumers []*Consumer
}

func (e *Env) Context() context.Context { return e.ctx }
func (e *Env) Store() EventStore        { return e.store }
func (e *Env) Codec() *Codec            { return e.codec }
func (e *Env) Snapshotter() Snapshotter { return e.snapshotter }
func (e *Env) Repository() Repository   { return e.repo }
func (e *Env) Projections() *Registry   { return e.projections }
func (e *Env) Worker() *SnapshotWorker  { return e.worker }

type (
	envOptions struct {
		ctx           context.Context
		log           *slog.Logger
		store         EventStore
		snapshotter   Snapshotter
		cache         cache.Cache
		metrics       ESMetrics
		snapshotEvery Version
		checkpoints   func(contextName string) CheckpointStore
		registrations []func(Registrar)
		aggregates    []Aggregate
		projections   []Projection
	}

	EnvOption interface{ applyToEnv(*envOptions) }

	StoreOption         valueOption[EventStore]
	MemoryOption        struct{}
	ContextOption       struct{ ctx context.Context }
	EventRegisterOption struct{ reg func(Registrar) }
	AggregateOption     struct{ aggregates []Aggregate }
	ProjectionsOption   struct{ ps []Projection }
)

func WithStore(s EventStore) StoreOption { return StoreOption{v: s} }

// WithInMemory runs the whole stack in process memory. Store, snapshots and
// checkpoints all start empty and die with the Env; meant for tests and
// demos.
func WithInMemory() MemoryOption { return MemoryOption{} }

func WithCtx(ctx context.Context) ContextOption { return ContextOption{ctx: ctx} }

// WithEvent registers a standalone event type, for events no registered
// aggregate claims.
func WithEvent[T any]() EventRegisterOption {
	return EventRegisterOption{reg: func(r Registrar) { RegisterEvent[T](r) }}
}

// WithAggregates registers each aggregate's event catalog with the codec.
func WithAggregates(a ...Aggregate) AggregateOption { return AggregateOption{aggregates: a} }

// WithProjections registers read models at startup; NewEnv blocks until each
// has caught up with the log.
func WithProjections(ps ...Projection) ProjectionsOption { return ProjectionsOption{ps: ps} }

func (o StoreOption) applyToEnv(e *envOptions) { e.store = o.v }
func (o MemoryOption) applyToEnv(e *envOptions) {
	e.store = NewInMemoryStore()
	e.snapshotter = NewInMemorySnapshotter()
}
func (o ContextOption) applyToEnv(e *envOptions)       { e.ctx = o.ctx }
func (o LogOption) applyToEnv(e *envOptions)           { e.log = o.l }
func (o ESMetricsOption) applyToEnv(e *envOptions)     { e.metrics = o.m }
func (o SnapshotterOption) applyToEnv(e *envOptions)   { e.snapshotter = o.v }
func (o RepoCacheOption) applyToEnv(e *envOptions)     { e.cache = o.v }
func (o SnapshotEveryOption) applyToEnv(e *envOptions) { e.snapshotEvery = o.v }
func (o EventRegisterOption) applyToEnv(e *envOptions) {
	e.registrations = append(e.registrations, o.reg)
}
func (o AggregateOption) applyToEnv(e *envOptions) {
	e.aggregates = append(e.aggregates, o.aggregates...)
}
func (o ProjectionsOption) applyToEnv(e *envOptions) {
	e.projections = append(e.projections, o.ps...)
}
func (o CheckpointFactoryOption) applyToEnv(e *envOptions) { e.checkpoints = o.v }

func newEnvOptions(opts ...EnvOption) envOptions {
	options := envOptions{
		ctx:           context.Background(),
		log:           slog.Default(),
		metrics:       NopESMetrics(),
		snapshotEvery: defaultSnapshotEvery,
		checkpoints: func(string) CheckpointStore {
			return NewInMemoryCheckpoint()
		},
	}
	for _, opt := range opts {
		opt.applyToEnv(&options)
	}
	return options
}

func NewEnv(opts ...EnvOption) (*Env, error) {
	var (
		id      = gonanoid.Must(6)
		options = newEnvOptions(opts...)
	)

	if options.store == nil {
		return nil, fmt.Errorf("an event store is required (see WithStore, WithInMemory)")
	}

	log := options.log.With(slog.String("env", id))

	e := &Env{
		id:          id,
		log:         log,
		store:       options.store,
		codec:       NewCodec(),
		snapshotter: options.snapshotter,
		metrics:     options.metrics,
		done:        make(chan struct{}),
	}
	e.ctx, e.cancelCtx = context.WithCancel(options.ctx)

	for _, agg := range options.aggregates {
		agg.Register(e.codec)
		log.Debug("registered aggregate", slog.String("type", agg.AggregateType()))
	}
	for _, reg := range options.registrations {
		reg(e.codec)
	}

	repoOpts := []RepositoryOption{WithESMetrics(e.metrics)}
	if e.snapshotter != nil {
		e.worker = NewSnapshotWorker(
			log,
			e.snapshotter,
			SnapshotEvery(options.snapshotEvery),
			WithESMetrics(e.metrics),
		)
		repoOpts = append(repoOpts, WithSnapshotter(e.snapshotter), WithSnapshotWorker(e.worker))
	}
	if options.cache != nil {
		repoOpts = append(repoOpts, WithHydrationCache(options.cache))
	}
	e.repo = NewRepository(log, e.store, e.codec, repoOpts...)

	e.projections = NewRegistry(
		log,
		e.store,
		e.codec,
		WithESMetrics(e.metrics),
		WithCheckpoints(options.checkpoints),
	)
	for _, p := range options.projections {
		if err := e.projections.Register(e.ctx, p); err != nil {
			e.cancelCtx()
			return nil, err
		}
	}

	context.AfterFunc(e.ctx, func() {
		e.log.Info("shutting down")

		e.projections.Stop()

		e.mu.Lock()
		consumers := e.consumers
		e.mu.Unlock()
		for _, c := range consumers {
			c.Stop()
		}

		if e.worker != nil {
			e.worker.Flush()
		}

		e.log.Info("env shutdown")
		close(e.done)
	})

	return e, nil
}

// Shutdown stops projections, consumers and in-flight snapshot writes, then
// returns. Safe to call more than once.
func (e *Env) Shutdown() {
	e.shutdownOnce.Do(func() {
		e.cancelCtx()
		<-e.done
	})
}

// NewConsumer builds a consumer over this Env's store and codec and tracks
// it for shutdown. The caller still calls Start.
func (e *Env) NewConsumer(handler Handler, opts ...ConsumerOption) *Consumer {
	allOpts := append([]ConsumerOption{WithLog(e.log), WithESMetrics(e.metrics)}, opts...)
	c := NewConsumer(e.store, e.codec, handler, allOpts...)

	e.mu.Lock()
	e.consumers = append(e.consumers, c)
	e.mu.Unlock()

	return c
}

// Append writes raw domain events straight to the store, bypassing the
// repository. Mostly useful in tests and backfills.
func (e *Env) Append(ctx context.Context, aggType, aggID string, expect Version, events ...any) error {
	_, err := AppendEvents(ctx, e.store, e.codec, aggType, aggID, expect, events...)
	return err
}

// TypedRepo binds the Env's repository to one aggregate type.
func TypedRepo[T Aggregate](e *Env) TypedRepository[T] {
	return NewTypedRepository[T](e.log, e.repo)
}
