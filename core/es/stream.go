package es

import "context"

// DeliverPolicy selects where a subscription starts.
type DeliverPolicy string

const (
	// DeliverAllPolicy replays committed events from the start offset, then
	// continues live. This is the projection feed.
	DeliverAllPolicy DeliverPolicy = "all"
	// DeliverNewPolicy delivers only events committed after subscribing.
	DeliverNewPolicy DeliverPolicy = "new"
)

// SubscribeFilter narrows a subscription to one aggregate type and/or id.
// Empty fields match everything.
type SubscribeFilter struct {
	AggregateType string
	AggregateID   string
}

type SubscribeOpts struct {
	deliverPolicy DeliverPolicy
	filters       []SubscribeFilter
	startSeq      uint64
}

func (s *SubscribeOpts) DeliverPolicy() DeliverPolicy { return s.deliverPolicy }
func (s *SubscribeOpts) Filters() []SubscribeFilter   { return s.filters }
func (s *SubscribeOpts) StartSeq() uint64             { return s.startSeq }

type SubscribeOption func(*SubscribeOpts)

func NewSubscribeOpts(opts ...SubscribeOption) SubscribeOpts {
	options := SubscribeOpts{deliverPolicy: DeliverNewPolicy}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}

func WithDeliverPolicy(policy DeliverPolicy) SubscribeOption {
	return func(o *SubscribeOpts) { o.deliverPolicy = policy }
}

func WithFilters(filters ...SubscribeFilter) SubscribeOption {
	return func(o *SubscribeOpts) { o.filters = filters }
}

// WithStartSeq restarts a deliver-all subscription from a global offset.
func WithStartSeq(seq uint64) SubscribeOption {
	return func(o *SubscribeOpts) { o.startSeq = seq }
}

// Subscription is a lazy, ordered feed of committed envelopes. Events arrive
// in exact global commit order; the feed is potentially infinite and is
// restartable by subscribing again from a recorded offset.
type Subscription interface {
	Chan() <-chan Envelope
	// MaxSequence is the store's highest committed offset at subscribe time;
	// consumers use it to tell catch-up from live delivery.
	MaxSequence() uint64
	Cancel()
}

// Stream is the read-all side of the store.
type Stream interface {
	Subscribe(ctx context.Context, opts ...SubscribeOption) (Subscription, error)
}

func matchFilters(env Envelope, filters []SubscribeFilter) bool {
	for _, f := range filters {
		if !matchFilter(env, f) {
			return false
		}
	}
	return true
}

func matchFilter(env Envelope, f SubscribeFilter) bool {
	if f.AggregateType != "" && env.AggregateType != f.AggregateType {
		return false
	}
	if f.AggregateID != "" && env.AggregateID != f.AggregateID {
		return false
	}
	return true
}
