package es

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Checkpointed is implemented by handlers that track their processing
// progress (see NewCheckpointMiddleware). The consumer uses it to resume the
// subscription from the recorded offset after a restart.
type Checkpointed interface {
	LastSeq(ctx context.Context) (uint64, error)
}

// MsgCtx carries one decoded event through a handler chain, along with the
// envelope metadata and whether the consumer has caught up to the head of
// the log.
type MsgCtx struct {
	ctx  context.Context
	log  *slog.Logger
	ev   Envelope
	evt  any
	live bool
}

func (c *MsgCtx) Log() *slog.Logger        { return c.log }
func (c *MsgCtx) Context() context.Context { return c.ctx }
func (c *MsgCtx) Event() any               { return c.evt }
func (c *MsgCtx) Live() bool               { return c.live }

func (c *MsgCtx) Seq() uint64           { return c.ev.Seq }
func (c *MsgCtx) Envelope() Envelope    { return c.ev }
func (c *MsgCtx) Version() Version      { return c.ev.Version }
func (c *MsgCtx) AggregateID() string   { return c.ev.AggregateID }
func (c *MsgCtx) AggregateType() string { return c.ev.AggregateType }
func (c *MsgCtx) Data() json.RawMessage { return c.ev.Data }
func (c *MsgCtx) Type() string          { return c.ev.Type }
func (c *MsgCtx) OccurredAt() time.Time { return c.ev.OccurredAt }

// Consumer subscribes to the store's global feed and dispatches each
// envelope, decoded, to a Handler. It resumes from a checkpoint when the
// handler carries one and reports when it has caught up to the offset the
// log had at subscribe time.
//
// Failure mode is configurable: by default a handler error is logged and the
// feed continues; with WithStopOnError the consumer stops at the failed
// event and retains the error, so an unprocessable event halts this consumer
// without affecting any other.
type Consumer struct {
	store       EventStore
	decoder     Decoder
	handler     Handler
	log         *slog.Logger
	name        string
	stopOnError bool
	metrics     ESMetrics

	live      chan struct{}
	isLive    atomic.Bool
	closeChan chan struct{}
	closeOnce sync.Once
	done      chan struct{}

	errMu   sync.Mutex
	lastErr error

	shutdownTimeout time.Duration
}

func NewConsumer(
	store EventStore,
	decoder Decoder,
	handler Handler,
	opts ...ConsumerOption,
) *Consumer {
	options := newConsumerOpts(opts...)

	return &Consumer{
		store:           store,
		decoder:         decoder,
		handler:         applyMiddlewares(handler, options.mws),
		log:             options.log.With(slog.String("consumer", options.name)),
		name:            options.name,
		stopOnError:     options.stopOnError,
		metrics:         options.metrics,
		live:            make(chan struct{}),
		closeChan:       make(chan struct{}),
		done:            make(chan struct{}),
		shutdownTimeout: options.shutdownTimeout,
	}
}

func (c *Consumer) Name() string { return c.name }

// Err returns the error the consumer stopped on, if any.
func (c *Consumer) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.lastErr
}

func (c *Consumer) fail(err error) {
	c.errMu.Lock()
	c.lastErr = err
	c.errMu.Unlock()
}

func (c *Consumer) handle(ctx context.Context, ev Envelope) error {
	live := c.isLive.Load()

	defer c.metrics.ConsumerEventDuration(ev.Type, live).ObserveDuration()

	evt, err := c.decoder.Decode(ev)
	if err != nil {
		c.metrics.ConsumerEventProcessed(ev.Type, live, false)
		return fmt.Errorf("decode event: %w", err)
	}
	msgCtx := MsgCtx{
		ctx:  ctx,
		ev:   ev,
		evt:  evt,
		live: live,
		log: c.log.With(
			slog.Group(
				"event",
				slog.String("id", ev.ID),
				slog.Uint64("seq", ev.Seq),
				ev.Version.SlogAttr(),
				slog.String("type", ev.Type),
				slog.String("aggregate_id", ev.AggregateID),
				slog.String("aggregate_type", ev.AggregateType),
			),
		),
	}
	if err := c.handler.Handle(msgCtx); err != nil {
		c.metrics.ConsumerEventProcessed(ev.Type, live, false)
		return fmt.Errorf("handle event: %w", err)
	}
	c.metrics.ConsumerEventProcessed(ev.Type, live, true)
	return nil
}

// Start subscribes and blocks until the consumer has caught up to the log
// head as of subscribe time, then keeps processing live events in the
// background until Stop or ctx ends.
func (c *Consumer) Start(ctx context.Context, opts ...SubscribeOption) error {
	c.log.Info("starting consumer", slog.String("handler", fmt.Sprintf("%T", c.handler)))

	if lc, ok := c.handler.(HandlerLifecycleStart); ok {
		if err := lc.Start(ctx); err != nil {
			return fmt.Errorf("start handler: %w", err)
		}
	}

	var lastSeenSeq uint64
	if cp, ok := c.handler.(Checkpointed); ok {
		var err error
		lastSeenSeq, err = cp.LastSeq(ctx)
		if err != nil && !errors.Is(err, ErrCheckpointNotFound) {
			return err
		}
	}

	subOpts := append(
		[]SubscribeOption{
			WithDeliverPolicy(DeliverAllPolicy),
			WithStartSeq(lastSeenSeq + 1),
		},
		opts...,
	)
	sub, err := c.store.Subscribe(ctx, subOpts...)
	if err != nil {
		return err
	}

	c.log.Info("subscribed", slog.Uint64("last_seen_seq", lastSeenSeq))

	liveAt := sub.MaxSequence()
	if liveAt <= lastSeenSeq {
		c.goLive()
	}

	go c.run(ctx, sub, liveAt)

	select {
	case <-c.live:
	case <-c.done:
		if err := c.Err(); err != nil {
			return err
		}
		return errors.New("consumer stopped before catching up")
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (c *Consumer) goLive() {
	if c.isLive.CompareAndSwap(false, true) {
		close(c.live)
	}
}

func (c *Consumer) run(ctx context.Context, sub Subscription, liveAt uint64) {
	defer func() {
		sub.Cancel()
		if lc, ok := c.handler.(HandlerLifecycleShutdown); ok {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.shutdownTimeout)
			defer cancel()
			if err := lc.Shutdown(shutdownCtx); err != nil {
				c.log.Error("handler shutdown failed", slog.Any("error", err))
			}
		}
		c.log.Info("stopped")
		close(c.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closeChan:
			return

		case ev, ok := <-sub.Chan():
			if !ok {
				return
			}
			if err := c.handle(ctx, ev); err != nil {
				if c.stopOnError {
					c.fail(fmt.Errorf("stopped at seq %d: %w", ev.Seq, err))
					c.log.Error("stopping on handler error", slog.Uint64("seq", ev.Seq), slog.Any("error", err))
					return
				}
				c.log.Error("event handler failed", slog.Any("error", err))
			}
			if !c.isLive.Load() && ev.Seq >= liveAt {
				c.goLive()
			}
			if liveAt > ev.Seq {
				c.metrics.ConsumerLag(c.name, liveAt-ev.Seq)
			} else {
				c.metrics.ConsumerLag(c.name, 0)
			}
		}
	}
}

// Stop halts processing and waits for the run loop to exit. Safe to call
// more than once.
func (c *Consumer) Stop() {
	c.closeOnce.Do(func() {
		close(c.closeChan)
		<-c.done
	})
}

// Done is closed when the run loop has exited, whether by Stop, context
// cancellation or a stop-on-error failure.
func (c *Consumer) Done() <-chan struct{} { return c.done }
