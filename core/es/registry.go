package es

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

var ErrUnknownContext = fmt.Errorf("unknown bounded context")

// Registry runs one consumer per registered projection, each with its own
// checkpoint. Projections are isolated: when one cannot process an event its
// consumer stops and retains the error, while every other projection keeps
// consuming. Views of a stalled projection stay readable, frozen at the
// offset it stalled on.
type Registry struct {
	log         *slog.Logger
	store       EventStore
	decoder     Decoder
	metrics     ESMetrics
	checkpoints func(contextName string) CheckpointStore

	mu      sync.RWMutex
	entries map[string]*registryEntry
}

type registryEntry struct {
	proj     Projection
	cp       CheckpointStore
	consumer *Consumer
}

type (
	registryOptions struct {
		metrics     ESMetrics
		checkpoints func(contextName string) CheckpointStore
	}

	RegistryOption interface{ applyToRegistry(*registryOptions) }

	CheckpointFactoryOption struct {
		v func(contextName string) CheckpointStore
	}
)

func (o ESMetricsOption) applyToRegistry(r *registryOptions)         { r.metrics = o.m }
func (o CheckpointFactoryOption) applyToRegistry(r *registryOptions) { r.checkpoints = o.v }

// WithCheckpoints sets where projection checkpoints live. The factory is
// called once per registered context; the default keeps them in memory.
func WithCheckpoints(f func(contextName string) CheckpointStore) CheckpointFactoryOption {
	return CheckpointFactoryOption{v: f}
}

func NewRegistry(log *slog.Logger, store EventStore, decoder Decoder, opts ...RegistryOption) *Registry {
	options := registryOptions{
		metrics: NopESMetrics(),
		checkpoints: func(string) CheckpointStore {
			return NewInMemoryCheckpoint()
		},
	}
	for _, opt := range opts {
		opt.applyToRegistry(&options)
	}

	return &Registry{
		log:         log.With(slog.String("component", "projection_registry")),
		store:       store,
		decoder:     decoder,
		metrics:     options.metrics,
		checkpoints: options.checkpoints,
		entries:     map[string]*registryEntry{},
	}
}

// Register starts consuming into proj and blocks until it has caught up
// with the log as of subscribe time. Each bounded context name can be
// registered once.
func (r *Registry) Register(ctx context.Context, proj Projection) error {
	name := proj.Context()
	if name == "" {
		return fmt.Errorf("projection has no bounded context name")
	}

	r.mu.Lock()
	if _, ok := r.entries[name]; ok {
		r.mu.Unlock()
		return fmt.Errorf("bounded context %q already registered", name)
	}
	// reserve the name before the blocking catch-up
	entry := &registryEntry{proj: proj, cp: r.checkpoints(name)}
	r.entries[name] = entry
	r.mu.Unlock()

	consumer := r.newProjectionConsumer(name, proj, entry.cp)

	if err := consumer.Start(ctx); err != nil {
		r.mu.Lock()
		delete(r.entries, name)
		r.mu.Unlock()
		return fmt.Errorf("start projection %q: %w", name, err)
	}

	r.mu.Lock()
	entry.consumer = consumer
	r.mu.Unlock()

	go r.watch(name, consumer)

	r.log.Info("projection registered", slog.String("context", name))
	return nil
}

func (r *Registry) newProjectionConsumer(name string, proj Projection, cp CheckpointStore) *Consumer {
	return NewConsumer(
		r.store,
		r.decoder,
		&projectionHandler{proj: proj, metrics: r.metrics},
		WithConsumerName("proj-"+name),
		WithLog(r.log),
		WithESMetrics(r.metrics),
		WithStopOnError(),
		WithMiddlewares(
			NewLogMiddleware(slog.String("projection", name)),
			NewCheckpointMiddleware(cp),
		),
	)
}

// Rebuild drops a Rebuildable context's derived state and replays it from
// offset zero, blocking until it has caught up again. This is also the way
// to restart a stalled projection once the cause is fixed.
func (r *Registry) Rebuild(ctx context.Context, contextName string) error {
	r.mu.RLock()
	entry, ok := r.entries[contextName]
	var running *Consumer
	if ok {
		running = entry.consumer
	}
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownContext, contextName)
	}

	rb, ok := entry.proj.(Rebuildable)
	if !ok {
		return fmt.Errorf("bounded context %q is not rebuildable", contextName)
	}

	if running != nil {
		running.Stop()
	}
	if err := rb.Reset(); err != nil {
		return fmt.Errorf("reset projection %q: %w", contextName, err)
	}
	if err := entry.cp.Set(ctx, 0); err != nil {
		return fmt.Errorf("reset checkpoint %q: %w", contextName, err)
	}

	consumer := r.newProjectionConsumer(contextName, entry.proj, entry.cp)
	if err := consumer.Start(ctx); err != nil {
		return fmt.Errorf("restart projection %q: %w", contextName, err)
	}

	r.mu.Lock()
	entry.consumer = consumer
	r.mu.Unlock()

	go r.watch(contextName, consumer)

	r.log.Info("projection rebuilt", slog.String("context", contextName))
	return nil
}

// watch records the stall when a projection's consumer dies on an error.
func (r *Registry) watch(name string, consumer *Consumer) {
	<-consumer.Done()
	if err := consumer.Err(); err != nil {
		r.metrics.ProjectionStalled(name)
		r.log.Error(
			"projection stalled",
			slog.String("context", name),
			slog.Any("error", err),
		)
	}
}

// ViewOf answers a query through one bounded context's read model. Querying
// a stalled projection still works and serves its last consistent state.
func (r *Registry) ViewOf(contextName, aggID string) (any, bool, error) {
	r.mu.RLock()
	entry, ok := r.entries[contextName]
	r.mu.RUnlock()
	if !ok {
		return nil, false, fmt.Errorf("%w: %q", ErrUnknownContext, contextName)
	}
	view, found := entry.proj.View(aggID)
	return view, found, nil
}

// Stalled reports the error a context's consumer stopped on, nil while it is
// healthy.
func (r *Registry) Stalled(contextName string) error {
	r.mu.RLock()
	entry, ok := r.entries[contextName]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownContext, contextName)
	}
	if entry.consumer == nil {
		return nil
	}
	return entry.consumer.Err()
}

// Contexts lists the registered bounded context names.
func (r *Registry) Contexts() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.entries))
	for name := range r.entries {
		out = append(out, name)
	}
	return out
}

// Stop halts all projection consumers.
func (r *Registry) Stop() {
	r.mu.RLock()
	consumers := make([]*Consumer, 0, len(r.entries))
	for _, e := range r.entries {
		if e.consumer != nil {
			consumers = append(consumers, e.consumer)
		}
	}
	r.mu.RUnlock()

	for _, c := range consumers {
		c.Stop()
	}
}
