package es

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// InMemoryStore is the reference EventStore: a single mutex, per-stream
// slices and a global commit log. Correct and simple; meant for tests,
// development and single-process demos.
type InMemoryStore struct {
	mu      sync.Mutex
	log     *slog.Logger
	lastSeq uint64
	global  []Envelope
	streams map[string][]Envelope
	subs    map[string]*memSubscription
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		log:     slog.Default().With(slog.String("store", "memory")),
		streams: map[string][]Envelope{},
		subs:    map[string]*memSubscription{},
	}
}

func (s *InMemoryStore) streamKey(aggType, aggID string) string {
	return aggType + "/" + aggID
}

func (s *InMemoryStore) Load(
	_ context.Context,
	aggType, aggID string,
	opts ...ReadOption,
) ([]Envelope, error) {
	readOpts := NewReadOptions(opts...)

	s.mu.Lock()
	defer s.mu.Unlock()

	events, ok := s.streams[s.streamKey(aggType, aggID)]
	if !ok {
		return nil, ErrAggregateNotFound
	}

	out := make([]Envelope, 0, len(events))
	for _, e := range events {
		if e.Version < readOpts.FromVersion {
			continue
		}
		if e.Seq < readOpts.FromSeq {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *InMemoryStore) Append(
	_ context.Context,
	aggType, aggID string,
	expectedVersion Version,
	events []Envelope,
) (*AppendResult, error) {
	if len(events) == 0 {
		return nil, ErrStoreNoEvents
	}

	for _, e := range events {
		if err := e.Validate(); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		sk         = s.streamKey(aggType, aggID)
		curStream  = s.streams[sk]
		curVersion Version
	)
	if len(curStream) > 0 {
		curVersion = curStream[len(curStream)-1].Version
	}
	if curVersion != expectedVersion {
		return nil, fmt.Errorf(
			"%w: %s/%s at version %d, expected %d",
			ErrConcurrencyConflict, aggType, aggID, curVersion, expectedVersion,
		)
	}

	// validation passed for the whole batch; committing now is all-or-nothing
	committed := make([]Envelope, 0, len(events))
	for _, e := range events {
		s.lastSeq++
		e.Seq = s.lastSeq
		committed = append(committed, e)
	}
	s.streams[sk] = append(curStream, committed...)
	s.global = append(s.global, committed...)

	s.dispatchLocked(committed)

	s.log.Debug(
		"append",
		slog.String("stream", sk),
		slog.Uint64("last_seq", s.lastSeq),
		slog.Int("num_events", len(committed)),
	)

	return &AppendResult{LastSeq: s.lastSeq}, nil
}

func (s *InMemoryStore) dispatchLocked(events []Envelope) {
	if len(s.subs) == 0 {
		return
	}
	for _, e := range events {
		for _, sub := range s.subs {
			if matchFilters(e, sub.filters) {
				sub.push(e)
			}
		}
	}
}

// Subscribe registers a feed over the global commit log. With
// DeliverAllPolicy the backlog from the start offset is replayed first and
// live events queue up behind it, so the subscriber always observes exact
// global commit order.
func (s *InMemoryStore) Subscribe(ctx context.Context, opts ...SubscribeOption) (Subscription, error) {
	options := NewSubscribeOpts(opts...)

	s.mu.Lock()
	defer s.mu.Unlock()

	subID := gonanoid.Must()
	sub := &memSubscription{
		filters: options.Filters(),
		ch:      make(chan Envelope),
		done:    make(chan struct{}),
		maxSeq:  s.lastSeq,
	}
	sub.cond = sync.NewCond(&sub.mu)
	sub.cancelFn = func() {
		s.mu.Lock()
		delete(s.subs, subID)
		s.mu.Unlock()
		sub.close()
	}

	if options.DeliverPolicy() == DeliverAllPolicy {
		for _, e := range s.global {
			if e.Seq < options.StartSeq() {
				continue
			}
			if matchFilters(e, sub.filters) {
				sub.push(e)
			}
		}
	}

	s.subs[subID] = sub
	go sub.pump()

	context.AfterFunc(ctx, sub.Cancel)

	return sub, nil
}

var _ EventStore = (*InMemoryStore)(nil)

// memSubscription decouples Append from slow subscribers: push never blocks,
// the pump goroutine drains the queue into the channel in order.
type memSubscription struct {
	mu       sync.Mutex
	cond     *sync.Cond
	queue    []Envelope
	closed   bool
	ch       chan Envelope
	done     chan struct{}
	filters  []SubscribeFilter
	maxSeq   uint64
	cancelFn func()
	once     sync.Once
}

func (m *memSubscription) Chan() <-chan Envelope { return m.ch }
func (m *memSubscription) MaxSequence() uint64   { return m.maxSeq }
func (m *memSubscription) Cancel()               { m.once.Do(m.cancelFn) }

func (m *memSubscription) push(e Envelope) {
	m.mu.Lock()
	if !m.closed {
		m.queue = append(m.queue, e)
		m.cond.Signal()
	}
	m.mu.Unlock()
}

func (m *memSubscription) close() {
	m.mu.Lock()
	m.closed = true
	close(m.done)
	m.cond.Signal()
	m.mu.Unlock()
}

func (m *memSubscription) pump() {
	defer close(m.ch)
	for {
		m.mu.Lock()
		for len(m.queue) == 0 && !m.closed {
			m.cond.Wait()
		}
		if m.closed {
			m.mu.Unlock()
			return
		}
		next := m.queue[0]
		m.queue = m.queue[1:]
		m.mu.Unlock()

		select {
		case m.ch <- next:
		case <-m.done:
			return
		}
	}
}
