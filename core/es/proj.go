package es

import (
	"context"
)

// Projection is a read model owned by one bounded context. It consumes the
// committed event feed and answers queries in its own vocabulary; different
// contexts hold different, equally valid views of the same aggregate.
//
// Apply must be idempotent under redelivery. The registry pairs every
// projection with a checkpoint, so offsets at or below the checkpoint are
// filtered out before Apply sees them; Apply only needs to tolerate the
// crash window where an event was applied but its checkpoint write was lost.
type Projection interface {
	// Context names the bounded context, unique within a registry.
	Context() string
	// Apply folds one committed event into the view.
	Apply(ctx context.Context, env Envelope, event any) error
	// View returns this context's current answer for one aggregate.
	View(aggID string) (any, bool)
}

// Rebuildable projections can drop their derived state so the registry can
// replay them from offset zero.
type Rebuildable interface {
	Reset() error
}

// projectionHandler adapts a Projection to the consumer's Handler.
type projectionHandler struct {
	proj    Projection
	metrics ESMetrics
}

func (h *projectionHandler) Handle(msgCtx MsgCtx) error {
	if err := h.proj.Apply(msgCtx.Context(), msgCtx.Envelope(), msgCtx.Event()); err != nil {
		return err
	}
	h.metrics.ProjectionApplied(h.proj.Context())
	return nil
}

var _ Handler = (*projectionHandler)(nil)
