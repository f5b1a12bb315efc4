package es

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"golang.org/x/crypto/blake2b"

	"github.com/harborward/theseus-go/core/sf"
)

const (
	defaultSnapshotEvery   = 20
	defaultSnapshotTimeout = 5 * time.Second
)

type (
	workerOptions struct {
		every   Version
		timeout time.Duration
		metrics ESMetrics
	}

	WorkerOption interface{ applyToWorker(*workerOptions) }
)

func (o ESMetricsOption) applyToWorker(w *workerOptions)     { w.metrics = o.m }
func (o SnapshotEveryOption) applyToWorker(w *workerOptions) { w.every = o.v }

type SnapshotEveryOption struct{ v Version }

// SnapshotEvery sets the version interval between snapshots.
func SnapshotEvery(n Version) SnapshotEveryOption { return SnapshotEveryOption{v: n} }

// SnapshotWorker writes snapshots off the command path. Writes are
// best-effort: a failure is logged and counted, never surfaced to the caller,
// because the event log alone is always enough to rebuild state.
type SnapshotWorker struct {
	log     *slog.Logger
	sn      Snapshotter
	every   Version
	timeout time.Duration
	metrics ESMetrics
	group   *sf.Group[struct{}]
	wg      sync.WaitGroup
}

func NewSnapshotWorker(log *slog.Logger, sn Snapshotter, opts ...WorkerOption) *SnapshotWorker {
	options := workerOptions{
		every:   defaultSnapshotEvery,
		timeout: defaultSnapshotTimeout,
		metrics: NopESMetrics(),
	}
	for _, opt := range opts {
		opt.applyToWorker(&options)
	}
	if options.every < 1 {
		options.every = 1
	}

	return &SnapshotWorker{
		log:     log.With(slog.String("component", "snapshot_worker")),
		sn:      sn,
		every:   options.every,
		timeout: options.timeout,
		metrics: options.metrics,
		group:   sf.New[struct{}](),
	}
}

// Due reports whether v is on the snapshot interval.
func (w *SnapshotWorker) Due(v Version) bool {
	return v > 0 && v%w.every == 0
}

// Consider snapshots agg in the background when its version is due. State is
// captured synchronously, while the caller still owns the aggregate; only
// the write happens asynchronously. Concurrent writes for the same aggregate
// collapse into one.
func (w *SnapshotWorker) Consider(agg Aggregate) {
	if !w.Due(agg.Version()) {
		return
	}

	data, err := captureState(agg)
	if err != nil {
		w.metrics.SnapshotWriteFailure(agg.AggregateType())
		w.log.Warn("snapshot capture failed", slog.Any("error", err))
		return
	}
	sum := blake2b.Sum256(data)
	s := Snapshot{
		SnapshotID:    gonanoid.Must(),
		ObjType:       agg.AggregateType(),
		ObjID:         agg.ID(),
		ObjVersion:    agg.Version(),
		StreamSeq:     agg.Seq(),
		CreatedAt:     time.Now().UTC(),
		SchemaVersion: snapshotSchemaVersionOf(agg),
		Encoding:      snapshotEncodingJSON,
		Checksum:      sum[:],
		Data:          data,
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.write(s)
	}()
}

func (w *SnapshotWorker) write(s Snapshot) {
	key := s.ObjType + "/" + s.ObjID
	_, err := w.group.Do(key, func() (struct{}, error) {
		ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
		defer cancel()

		defer w.metrics.SnapshotWriteDuration(s.ObjType).ObserveDuration()
		return struct{}{}, w.sn.Save(ctx, s)
	})
	if err != nil {
		w.metrics.SnapshotWriteFailure(s.ObjType)
		w.log.Warn(
			"snapshot write failed",
			slog.String("obj", key),
			s.ObjVersion.SlogAttrWithKey("obj_version"),
			slog.Any("error", err),
		)
		return
	}
	w.log.Debug(
		"snapshot written",
		slog.String("obj", key),
		s.ObjVersion.SlogAttrWithKey("obj_version"),
	)
}

// Flush waits for all in-flight snapshot writes. Intended for shutdown and
// tests.
func (w *SnapshotWorker) Flush() { w.wg.Wait() }

// SnapshotNow takes a snapshot synchronously, bypassing the interval.
func (w *SnapshotWorker) SnapshotNow(ctx context.Context, agg Aggregate) error {
	if agg.Version() == 0 {
		return errors.New("refusing to snapshot an uninitialized aggregate")
	}
	if err := TakeSnapshot(ctx, w.sn, agg); err != nil {
		w.metrics.SnapshotWriteFailure(agg.AggregateType())
		return fmt.Errorf("snapshot %s/%s: %w", agg.AggregateType(), agg.ID(), err)
	}
	return nil
}
