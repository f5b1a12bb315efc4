package es

import (
	"context"
	"errors"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

var (
	ErrAggregateNotFound = errors.New("aggregate not found")

	// ErrConcurrencyConflict is the optimistic-concurrency rejection: the
	// stream moved past the caller's expected version. Reload and retry.
	ErrConcurrencyConflict = errors.New("concurrency conflict")

	ErrStoreNoEvents = errors.New("no events to store")
)

func IsConcurrencyConflict(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict)
}

// ReadOptions restarts a per-aggregate read from a version and/or global
// offset. Zero values read from the beginning.
type ReadOptions struct {
	FromVersion Version
	FromSeq     uint64
}

type ReadOption func(*ReadOptions)

func ReadFromVersion(v Version) ReadOption {
	return func(o *ReadOptions) { o.FromVersion = v }
}

func ReadFromSeq(seq uint64) ReadOption {
	return func(o *ReadOptions) { o.FromSeq = seq }
}

func NewReadOptions(opts ...ReadOption) ReadOptions {
	var options ReadOptions
	for _, opt := range opts {
		opt(&options)
	}
	return options
}

type AppendResult struct {
	// LastSeq is the global offset of the last event committed.
	LastSeq uint64
}

// EventStore is an append-only, per-aggregate-ordered event log.
//
// Append is atomic (all events land or none) and rejects with
// ErrConcurrencyConflict when the stream head differs from expectedVersion.
// There is no update and no delete; corrections are new events. Write
// atomicity and per-stream ordering are the only consistency guarantees.
// Nothing spans aggregates.
type EventStore interface {
	Stream
	Load(ctx context.Context, aggType, aggID string, opts ...ReadOption) ([]Envelope, error)
	Append(ctx context.Context, aggType, aggID string, expectedVersion Version, events []Envelope) (*AppendResult, error)
}

// AppendEvents wraps raw domain events in envelopes and appends them.
// Version numbers continue from expect; the envelope id doubles as the
// backend idempotency key.
func AppendEvents(
	ctx context.Context,
	store EventStore,
	codec *Codec,
	aggType, aggID string,
	expect Version,
	events ...any,
) (*AppendResult, error) {
	if len(events) == 0 {
		return nil, ErrStoreNoEvents
	}
	envelopes := make([]Envelope, 0, len(events))
	for i, ev := range events {
		eventType, schemaVersion, data, err := codec.Encode(ev)
		if err != nil {
			return nil, err
		}
		envelopes = append(envelopes, Envelope{
			ID:            gonanoid.Must(),
			Type:          eventType,
			SchemaVersion: schemaVersion,
			AggregateType: aggType,
			AggregateID:   aggID,
			Version:       expect + Version(i+1),
			OccurredAt:    time.Now().UTC(),
			Data:          data,
		})
	}
	return store.Append(ctx, aggType, aggID, expect, envelopes)
}
