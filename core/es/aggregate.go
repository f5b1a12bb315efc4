package es

import (
	"fmt"
)

// Applier updates state from one event. Apply must be a pure function of
// (prior state, event): no I/O, no clock reads, no randomness. That purity
// is what makes replay deterministic and snapshots disposable.
type Applier interface {
	Apply(event any) error
}

// Aggregate is an event-sourced domain object: a consistency boundary whose
// identity is its event history, not its current state. Two aggregates that
// reached the same materialized state through different histories are
// different aggregates.
//
// Lifecycle: uninitialized until its first event, mutated only by appending
// further events, never destroyed. A terminal state is just another event
// and the full log persists.
type Aggregate interface {
	// AggregateType names the stream family (e.g. "ship").
	AggregateType() string
	// ID is the immutable aggregate identity, assigned once at birth.
	ID() string
	SetID(string)

	// Version is the latest applied per-aggregate sequence number.
	Version() Version
	setVersion(Version)

	// Seq is the global offset of the last applied event.
	Seq() uint64
	setSeq(uint64)

	// Register registers the aggregate's event catalog (decoders and
	// upcasts) with the codec.
	Register(r Registrar)

	// Raise records an event as uncommitted without applying it.
	Raise(event any)
	Applier

	// Uncommitted returns a copy of the events raised since the last save.
	// The buffer is local to one command execution and is handed to Append
	// exactly once.
	Uncommitted() []any
	ClearUncommitted()
}

// BaseAggregate is the embeddable bookkeeping half of an Aggregate: id,
// version, global offset and the uncommitted-event buffer. Domain types
// embed it and add AggregateType, Register and Apply.
type BaseAggregate struct {
	id          string
	version     Version
	seq         uint64
	uncommitted []any
}

func (b *BaseAggregate) ID() string           { return b.id }
func (b *BaseAggregate) SetID(id string)      { b.id = id }
func (b *BaseAggregate) Version() Version     { return b.version }
func (b *BaseAggregate) setVersion(v Version) { b.version = v }
func (b *BaseAggregate) Seq() uint64          { return b.seq }
func (b *BaseAggregate) setSeq(s uint64)      { b.seq = s }

func (b *BaseAggregate) Raise(event any)   { b.uncommitted = append(b.uncommitted, event) }
func (b *BaseAggregate) ClearUncommitted() { b.uncommitted = nil }

func (b *BaseAggregate) Uncommitted() []any {
	out := make([]any, len(b.uncommitted))
	copy(out, b.uncommitted)
	return out
}

type raiseApplier interface {
	Raise(event any)
	Apply(event any) error
}

// RaiseAndApply validates, records and applies events in order. Validation
// runs for the whole batch first so a bad event leaves nothing half-raised.
func RaiseAndApply(a raiseApplier, events ...any) error {
	for _, e := range events {
		if v, ok := e.(interface{ Validate() error }); ok {
			if err := v.Validate(); err != nil {
				return fmt.Errorf("invalid event %T: %w", e, err)
			}
		}
	}
	for _, e := range events {
		a.Raise(e)
		if err := a.Apply(e); err != nil {
			return err
		}
	}
	return nil
}
