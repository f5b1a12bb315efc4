package es

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	mu   sync.Mutex
	seqs []uint64
	fail func(msgCtx MsgCtx) error
}

func (h *recordingHandler) Handle(msgCtx MsgCtx) error {
	if h.fail != nil {
		if err := h.fail(msgCtx); err != nil {
			return err
		}
	}
	h.mu.Lock()
	h.seqs = append(h.seqs, msgCtx.Seq())
	h.mu.Unlock()
	return nil
}

func (h *recordingHandler) recorded() []uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]uint64, len(h.seqs))
	copy(out, h.seqs)
	return out
}

func TestConsumer_CatchUpThenLive(t *testing.T) {
	ctx := t.Context()
	e := StartTestEnv(t, WithAggregates(&tally{}))

	e.MustAppend(ctx, "tally", "t1", 0, &tallyStarted{Name: "one"}, &tallyBumped{By: 1})

	h := &recordingHandler{}
	c := e.NewConsumer(h)
	require.NoError(t, c.Start(ctx))

	// Start returns only after the backlog is processed
	require.Equal(t, []uint64{1, 2}, h.recorded())

	e.MustAppend(ctx, "tally", "t1", 2, &tallyBumped{By: 2})
	require.Eventually(t, func() bool {
		return len(h.recorded()) == 3
	}, 2*time.Second, 5*time.Millisecond)

	c.Stop()
}

func TestConsumer_CheckpointResume(t *testing.T) {
	ctx := t.Context()
	e := StartTestEnv(t, WithAggregates(&tally{}))
	cp := NewInMemoryCheckpoint()

	e.MustAppend(ctx, "tally", "t1", 0, &tallyStarted{Name: "one"}, &tallyBumped{By: 1})

	h1 := &recordingHandler{}
	c1 := e.NewConsumer(h1, WithMiddlewares(NewCheckpointMiddleware(cp)))
	require.NoError(t, c1.Start(ctx))
	require.Equal(t, []uint64{1, 2}, h1.recorded())
	c1.Stop()

	e.MustAppend(ctx, "tally", "t1", 2, &tallyBumped{By: 2})

	// a restarted consumer with the same checkpoint sees only the new event
	h2 := &recordingHandler{}
	c2 := e.NewConsumer(h2, WithMiddlewares(NewCheckpointMiddleware(cp)))
	require.NoError(t, c2.Start(ctx))
	require.Equal(t, []uint64{3}, h2.recorded())
	c2.Stop()
}

func TestConsumer_RedeliveryIsIdempotent(t *testing.T) {
	ctx := t.Context()
	e := StartTestEnv(t, WithAggregates(&tally{}))
	cp := NewInMemoryCheckpoint()

	e.MustAppend(ctx, "tally", "t1", 0, &tallyStarted{Name: "one"}, &tallyBumped{By: 1})

	h := &recordingHandler{}
	c := e.NewConsumer(h, WithMiddlewares(NewCheckpointMiddleware(cp)))
	require.NoError(t, c.Start(ctx))
	c.Stop()
	require.Equal(t, []uint64{1, 2}, h.recorded())

	// simulate redelivery of the whole feed: the checkpoint filters it out
	c2 := e.NewConsumer(h, WithMiddlewares(NewCheckpointMiddleware(cp)))
	require.NoError(t, c2.Start(ctx))
	c2.Stop()
	require.Equal(t, []uint64{1, 2}, h.recorded())
}

func TestConsumer_StopOnError(t *testing.T) {
	ctx := t.Context()
	e := StartTestEnv(t, WithAggregates(&tally{}))

	e.MustAppend(ctx, "tally", "t1", 0, &tallyStarted{Name: "one"})

	boom := errors.New("cannot apply")
	h := &recordingHandler{fail: func(msgCtx MsgCtx) error {
		if msgCtx.Seq() == 2 {
			return boom
		}
		return nil
	}}
	c := e.NewConsumer(h, WithStopOnError())
	require.NoError(t, c.Start(ctx))
	require.Equal(t, []uint64{1}, h.recorded())

	e.MustAppend(ctx, "tally", "t1", 1, &tallyBumped{By: 1}, &tallyBumped{By: 2})

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop")
	}
	require.ErrorIs(t, c.Err(), boom)
	// nothing past the failed event was processed
	require.Equal(t, []uint64{1}, h.recorded())
}
