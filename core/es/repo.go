package es

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/harborward/theseus-go/core/cache"
)

// Repository rehydrates aggregates (snapshot + delta replay) and persists
// new events under optimistic concurrency.
type Repository interface {
	Load(ctx context.Context, agg Aggregate) error
	Save(ctx context.Context, agg Aggregate) error
}

type (
	repoOptions struct {
		snapshotter Snapshotter
		worker      *SnapshotWorker
		cache       cache.Cache
		metrics     ESMetrics
	}

	RepositoryOption interface{ applyToRepository(*repoOptions) }
)

func (o SnapshotterOption) applyToRepository(r *repoOptions)    { r.snapshotter = o.v }
func (o SnapshotWorkerOption) applyToRepository(r *repoOptions) { r.worker = o.v }
func (o RepoCacheOption) applyToRepository(r *repoOptions)      { r.cache = o.v }
func (o ESMetricsOption) applyToRepository(r *repoOptions)      { r.metrics = o.m }

// hydration is what the repo caches between loads: marshaled state plus the
// position it was taken at. Like a snapshot it is never authoritative; the
// delta since its version is always replayed on top.
type hydration struct {
	Data    []byte
	Version Version
	Seq     uint64
}

type repository struct {
	log         *slog.Logger
	store       EventStore
	codec       *Codec
	snapshotter Snapshotter
	worker      *SnapshotWorker
	cache       cache.TypedCache[hydration]
	metrics     ESMetrics
}

func NewRepository(log *slog.Logger, store EventStore, codec *Codec, opts ...RepositoryOption) Repository {
	options := repoOptions{metrics: NopESMetrics()}
	for _, opt := range opts {
		opt.applyToRepository(&options)
	}

	r := &repository{
		log:         log.With(slog.String("component", "repository")),
		store:       store,
		codec:       codec,
		snapshotter: options.snapshotter,
		worker:      options.worker,
		metrics:     options.metrics,
	}
	if options.cache != nil {
		r.cache = cache.NewTyped[hydration](options.cache)
	}
	return r
}

func (r *repository) cacheKey(agg Aggregate) string {
	return agg.AggregateType() + "/" + agg.ID()
}

// Load rebuilds agg from its newest usable checkpoint plus the events
// committed after it. The result is identical to a full replay from zero;
// checkpoints only shorten the delta.
func (r *repository) Load(ctx context.Context, agg Aggregate) error {
	aggType := agg.AggregateType()
	if aggType == "" {
		return errors.New("aggregate type is empty")
	}
	aggID := agg.ID()
	if aggID == "" {
		return errors.New("aggregate id is empty")
	}
	if len(agg.Uncommitted()) != 0 {
		return errors.New("aggregate has uncommitted events")
	}

	defer r.metrics.RepoLoadDuration(aggType).ObserveDuration()

	log := r.log.With(
		slog.Group("agg", slog.String("type", aggType), slog.String("id", aggID)),
	)

	r.hydrate(ctx, agg, log)

	loaded, err := r.store.Load(
		ctx,
		aggType,
		aggID,
		ReadFromVersion(agg.Version()+1),
		ReadFromSeq(agg.Seq()+1),
	)
	if err != nil && !errors.Is(err, ErrAggregateNotFound) {
		return err
	}

	for _, e := range loaded {
		expect := agg.Version() + 1
		if e.Version != expect {
			return fmt.Errorf(
				"event stream %s/%s has version %d where %d was expected",
				aggType, aggID, e.Version, expect,
			)
		}

		evt, err := r.codec.Decode(e)
		if err != nil {
			return err
		}
		if err := agg.Apply(evt); err != nil {
			return err
		}

		agg.setVersion(e.Version)
		agg.setSeq(e.Seq)
	}

	if agg.Version() == 0 {
		return ErrAggregateNotFound
	}

	log.Debug("loaded", agg.Version().SlogAttr(), slog.Int("delta_events", len(loaded)))

	r.updateCache(agg)
	return nil
}

// hydrate seeds agg from the cache or the newest snapshot. Both paths are
// best-effort: any failure just means a longer delta replay.
func (r *repository) hydrate(ctx context.Context, agg Aggregate, log *slog.Logger) {
	if r.cache != nil {
		if h, ok := r.cache.Get(r.cacheKey(agg)); ok {
			if err := restoreState(agg, h.Data); err == nil {
				agg.setVersion(h.Version)
				agg.setSeq(h.Seq)
				r.metrics.CacheHit(agg.AggregateType())
				log.Debug("hydrated from cache", h.Version.SlogAttr())
				return
			}
			r.cache.Delete(r.cacheKey(agg))
		}
		r.metrics.CacheMiss(agg.AggregateType())
	}

	if r.snapshotter == nil {
		return
	}
	if err := ApplySnapshot(ctx, r.snapshotter, agg); err != nil {
		if !errors.Is(err, ErrSnapshotNotFound) {
			log.Warn("ignoring unusable snapshot", slog.Any("error", err))
		}
		return
	}
	log.Debug("hydrated from snapshot", agg.Version().SlogAttr(), slog.Uint64("seq", agg.Seq()))
}

// Save appends the uncommitted buffer under the version the aggregate was
// loaded at. On ErrConcurrencyConflict the aggregate is stale: reload and
// retry (see Retry).
func (r *repository) Save(ctx context.Context, agg Aggregate) error {
	uncommitted := agg.Uncommitted()
	if len(uncommitted) == 0 {
		return nil
	}
	aggType := agg.AggregateType()
	if aggType == "" {
		return errors.New("aggregate type is empty")
	}
	aggID := agg.ID()
	if aggID == "" {
		return errors.New("aggregate id is empty")
	}

	defer r.metrics.RepoSaveDuration(aggType).ObserveDuration()

	expect := agg.Version()
	newEnvs := make([]Envelope, 0, len(uncommitted))
	v := expect

	for _, ev := range uncommitted {
		eventType, schemaVersion, data, err := r.codec.Encode(ev)
		if err != nil {
			return err
		}
		v++
		env := Envelope{
			ID:            gonanoid.Must(),
			Type:          eventType,
			SchemaVersion: schemaVersion,
			AggregateType: aggType,
			AggregateID:   aggID,
			Version:       v,
			OccurredAt:    time.Now().UTC(),
			Data:          data,
		}
		if err := env.Validate(); err != nil {
			return err
		}
		newEnvs = append(newEnvs, env)
	}

	res, err := r.store.Append(ctx, aggType, aggID, expect, newEnvs)
	if err != nil {
		if errors.Is(err, ErrConcurrencyConflict) {
			r.metrics.ConcurrencyConflict(aggType)
			if r.cache != nil {
				r.cache.Delete(r.cacheKey(agg))
			}
		}
		return fmt.Errorf("save %s/%s: %w", aggType, aggID, err)
	}
	if res == nil {
		return errors.New("append returned nil result")
	}

	agg.setVersion(v)
	agg.setSeq(res.LastSeq)
	agg.ClearUncommitted()

	r.metrics.EventsAppended(aggType, len(newEnvs))
	r.updateCache(agg)

	if r.worker != nil {
		r.worker.Consider(agg)
	}

	r.log.Debug(
		"saved",
		slog.Group("agg", slog.String("type", aggType), slog.String("id", aggID)),
		agg.Version().SlogAttr(),
		slog.Int("num_events", len(newEnvs)),
	)
	return nil
}

func (r *repository) updateCache(agg Aggregate) {
	if r.cache == nil {
		return
	}
	data, err := captureState(agg)
	if err != nil {
		return
	}
	r.cache.Put(r.cacheKey(agg), hydration{
		Data:    data,
		Version: agg.Version(),
		Seq:     agg.Seq(),
	})
}

var _ Repository = (*repository)(nil)

// === TypedRepository ===

// TypedRepository binds a Repository to one aggregate type.
type TypedRepository[T Aggregate] interface {
	AggregateType() string
	New() T
	NewWithID(id string) T
	Load(ctx context.Context, agg T) error
	GetByID(ctx context.Context, aggID string) (T, error)
	Save(ctx context.Context, agg T) error
}

type typedRepo[T Aggregate] struct {
	r   Repository
	log *slog.Logger
}

func NewTypedRepository[T Aggregate](log *slog.Logger, r Repository) TypedRepository[T] {
	return &typedRepo[T]{
		r:   r,
		log: log.With(slog.String("repo", reflect.TypeOf((*T)(nil)).Elem().String())),
	}
}

func (t *typedRepo[T]) New() T { return t.NewWithID("") }

func (t *typedRepo[T]) NewWithID(id string) T {
	var a T
	rt := reflect.TypeOf((*T)(nil)).Elem()
	if rt.Kind() == reflect.Pointer {
		a = reflect.New(rt.Elem()).Interface().(T)
	}
	a.SetID(id)
	return a
}

func (t *typedRepo[T]) Load(ctx context.Context, agg T) error {
	return t.r.Load(ctx, agg)
}

func (t *typedRepo[T]) GetByID(ctx context.Context, aggID string) (a T, err error) {
	if aggID == "" {
		return a, errors.New("aggregate id is empty")
	}
	a = t.NewWithID(aggID)
	if err = t.r.Load(ctx, a); err != nil {
		return a, err
	}
	return a, nil
}

func (t *typedRepo[T]) Save(ctx context.Context, agg T) error {
	return t.r.Save(ctx, agg)
}

func (t *typedRepo[T]) AggregateType() string {
	return t.New().AggregateType()
}

// captureState marshals the aggregate's domain state.
func captureState(agg Aggregate) ([]byte, error) {
	if s, ok := any(agg).(Snapshottable); ok {
		return s.Snapshot()
	}
	return json.Marshal(agg)
}

// restoreState is the inverse of captureState.
func restoreState(agg Aggregate, data []byte) error {
	if s, ok := any(agg).(Snapshottable); ok {
		return s.RestoreSnapshot(data)
	}
	return json.Unmarshal(data, agg)
}
