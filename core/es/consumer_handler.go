package es

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

type (
	// Handler consumes one decoded event. Returning an error means the event
	// was NOT processed; what happens next depends on the consumer's failure
	// mode (log and continue, or stop).
	Handler interface {
		Handle(msgCtx MsgCtx) error
	}

	HandlerLifecycleStart interface {
		Start(ctx context.Context) error
	}
	HandlerLifecycleShutdown interface {
		Shutdown(ctx context.Context) error
	}

	HandleFunc           func(msgCtx MsgCtx) error
	HandlerMiddleware    func(next Handler) Handler
	MiddlewareHandleFunc func(msgCtx MsgCtx, next Handler) error
)

func (f HandleFunc) Handle(msgCtx MsgCtx) error { return f(msgCtx) }

func applyMiddlewares(h Handler, middlewares []HandlerMiddleware) Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// === middleware ===

type middleware struct {
	next Handler
	mw   MiddlewareHandleFunc
}

func (m *middleware) Handle(msgCtx MsgCtx) error { return m.mw(msgCtx, m.next) }

func MiddlewareHandle(mw MiddlewareHandleFunc) HandlerMiddleware {
	return func(next Handler) Handler {
		return &middleware{
			next: next,
			mw:   mw,
		}
	}
}

// === log ===

func NewLogMiddleware(attrs ...any) HandlerMiddleware {
	return MiddlewareHandle(func(msgCtx MsgCtx, next Handler) (err error) {
		handleAt := time.Now()

		log := msgCtx.Log().With(attrs...)

		err = next.Handle(msgCtx)
		if err != nil {
			log.Error("failed", slog.Any("error", err), slog.Duration("duration", time.Since(handleAt)))
		} else {
			log.Debug("handled", slog.Duration("duration", time.Since(handleAt)))
		}

		return err
	})
}

// === checkpoint ===

// checkpointHandler makes at-least-once delivery effectively exactly-once
// for the wrapped handler: redelivered events at or below the recorded
// offset are skipped, and the offset advances only after a successful
// handle.
type checkpointHandler struct {
	cp CheckpointStore
	h  Handler
}

func (c *checkpointHandler) LastSeq(ctx context.Context) (uint64, error) { return c.cp.Get(ctx) }

func (c *checkpointHandler) Handle(msgCtx MsgCtx) error {
	lastSeenSeq, err := c.cp.Get(msgCtx.Context())
	if err != nil && !errors.Is(err, ErrCheckpointNotFound) {
		return err
	}

	if msgCtx.Seq() <= lastSeenSeq {
		msgCtx.log.Debug(
			"skip duplicate",
			slog.Uint64("last_seen_seq", lastSeenSeq),
			slog.String("middleware", "checkpoint"),
		)
		return nil
	}

	if err := c.h.Handle(msgCtx); err != nil {
		return err
	}

	return c.cp.Set(msgCtx.Context(), msgCtx.Seq())
}

var _ Handler = (*checkpointHandler)(nil)

func NewCheckpointMiddleware(cp CheckpointStore) HandlerMiddleware {
	return func(handler Handler) Handler {
		return &checkpointHandler{cp: cp, h: handler}
	}
}
