package es

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTallyCodec(t *testing.T) *Codec {
	t.Helper()
	c := NewCodec()
	(&tally{}).Register(c)
	return c
}

func TestInMemoryStore_AppendAndLoad(t *testing.T) {
	ctx := t.Context()
	store := NewInMemoryStore()
	codec := newTallyCodec(t)

	res, err := AppendEvents(ctx, store, codec, "tally", "t1", 0,
		&tallyStarted{Name: "one"},
		&tallyBumped{By: 2},
	)
	require.NoError(t, err)
	require.Equal(t, uint64(2), res.LastSeq)

	// a second stream gets its own versions but shares the global offset
	res, err = AppendEvents(ctx, store, codec, "tally", "t2", 0, &tallyStarted{Name: "two"})
	require.NoError(t, err)
	require.Equal(t, uint64(3), res.LastSeq)

	events, err := store.Load(ctx, "tally", "t1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, Version(1), events[0].Version)
	require.Equal(t, Version(2), events[1].Version)
	require.Equal(t, uint64(1), events[0].Seq)
	require.Equal(t, uint64(2), events[1].Seq)

	t.Run("from version", func(t *testing.T) {
		events, err := store.Load(ctx, "tally", "t1", ReadFromVersion(2))
		require.NoError(t, err)
		require.Len(t, events, 1)
		require.Equal(t, Version(2), events[0].Version)
	})

	t.Run("unknown stream", func(t *testing.T) {
		_, err := store.Load(ctx, "tally", "nope")
		require.ErrorIs(t, err, ErrAggregateNotFound)
	})

	t.Run("empty batch", func(t *testing.T) {
		_, err := store.Append(ctx, "tally", "t1", 2, nil)
		require.ErrorIs(t, err, ErrStoreNoEvents)
	})
}

func TestInMemoryStore_ConcurrencyConflict(t *testing.T) {
	ctx := t.Context()
	store := NewInMemoryStore()
	codec := newTallyCodec(t)

	_, err := AppendEvents(ctx, store, codec, "tally", "t1", 0, &tallyStarted{Name: "one"})
	require.NoError(t, err)

	// both writers read at version 1; the slower one must lose
	_, err = AppendEvents(ctx, store, codec, "tally", "t1", 1, &tallyBumped{By: 1})
	require.NoError(t, err)

	_, err = AppendEvents(ctx, store, codec, "tally", "t1", 1, &tallyBumped{By: 2})
	require.ErrorIs(t, err, ErrConcurrencyConflict)
	require.True(t, IsConcurrencyConflict(err))

	// the losing write left no trace
	events, err := store.Load(ctx, "tally", "t1")
	require.NoError(t, err)
	require.Len(t, events, 2)
}

func TestInMemoryStore_Subscribe(t *testing.T) {
	ctx := t.Context()
	store := NewInMemoryStore()
	codec := newTallyCodec(t)

	_, err := AppendEvents(ctx, store, codec, "tally", "t1", 0,
		&tallyStarted{Name: "one"}, &tallyBumped{By: 1},
	)
	require.NoError(t, err)

	sub, err := store.Subscribe(ctx, WithDeliverPolicy(DeliverAllPolicy), WithStartSeq(1))
	require.NoError(t, err)
	defer sub.Cancel()

	require.Equal(t, uint64(2), sub.MaxSequence())

	// backlog arrives first, in commit order
	recv := func() Envelope {
		select {
		case e := <-sub.Chan():
			return e
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for event")
			return Envelope{}
		}
	}
	require.Equal(t, uint64(1), recv().Seq)
	require.Equal(t, uint64(2), recv().Seq)

	// then live events
	_, err = AppendEvents(ctx, store, codec, "tally", "t1", 2, &tallyBumped{By: 3})
	require.NoError(t, err)
	require.Equal(t, uint64(3), recv().Seq)
}

func TestInMemoryStore_SubscribeFiltered(t *testing.T) {
	ctx := t.Context()
	store := NewInMemoryStore()
	codec := newTallyCodec(t)

	_, err := AppendEvents(ctx, store, codec, "tally", "t1", 0, &tallyStarted{Name: "one"})
	require.NoError(t, err)
	_, err = AppendEvents(ctx, store, codec, "other", "x1", 0, &tallyStarted{Name: "x"})
	require.NoError(t, err)

	sub, err := store.Subscribe(
		ctx,
		WithDeliverPolicy(DeliverAllPolicy),
		WithFilters(SubscribeFilter{AggregateType: "tally"}),
	)
	require.NoError(t, err)
	defer sub.Cancel()

	select {
	case e := <-sub.Chan():
		require.Equal(t, "tally", e.AggregateType)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}

	select {
	case e := <-sub.Chan():
		t.Fatalf("unexpected event for %s/%s", e.AggregateType, e.AggregateID)
	case <-time.After(50 * time.Millisecond):
	}
}
