package es

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/harborward/theseus-go/ports/kv"
)

func snapshotterUnderTest(t *testing.T, name string, sn Snapshotter) {
	t.Run(name, func(t *testing.T) {
		ctx := t.Context()

		a := &tally{}
		a.SetID("t1")
		require.NoError(t, a.Apply(&tallyStarted{Name: "snap"}))
		require.NoError(t, a.Apply(&tallyBumped{By: 7}))
		a.setVersion(2)
		a.setSeq(9)

		t.Run("missing", func(t *testing.T) {
			_, err := sn.Latest(ctx, "tally", "t1")
			require.ErrorIs(t, err, ErrSnapshotNotFound)
		})

		t.Run("roundtrip", func(t *testing.T) {
			require.NoError(t, TakeSnapshot(ctx, sn, a))

			restored := &tally{}
			restored.SetID("t1")
			require.NoError(t, ApplySnapshot(ctx, sn, restored))
			require.Equal(t, "snap", restored.Name)
			require.Equal(t, 7, restored.Total)
			require.Equal(t, Version(2), restored.Version())
			require.Equal(t, uint64(9), restored.Seq())
		})

		t.Run("checksum mismatch", func(t *testing.T) {
			s, err := sn.Latest(ctx, "tally", "t1")
			require.NoError(t, err)
			s.Data = []byte(`{"name":"evil","total":1}`)
			require.NoError(t, sn.Save(ctx, s))

			victim := &tally{}
			victim.SetID("t1")
			err = ApplySnapshot(ctx, sn, victim)
			require.ErrorIs(t, err, ErrSnapshotChecksum)
			// the aggregate stays untouched
			require.Equal(t, Version(0), victim.Version())
			require.Empty(t, victim.Name)
		})

		t.Run("delete", func(t *testing.T) {
			require.NoError(t, sn.Delete(ctx, "tally", "t1"))
			_, err := sn.Latest(ctx, "tally", "t1")
			require.ErrorIs(t, err, ErrSnapshotNotFound)
		})
	})
}

func TestSnapshotters(t *testing.T) {
	snapshotterUnderTest(t, "in-memory", NewInMemorySnapshotter())
	snapshotterUnderTest(t, "kv-backed", NewKeyValueSnapshotter(kv.NewMemStore()))
}

func TestTakeSnapshot_RefusesUninitialized(t *testing.T) {
	a := &tally{}
	a.SetID("t1")
	err := TakeSnapshot(t.Context(), NewInMemorySnapshotter(), a)
	require.Error(t, err)
}

func TestSnapshotWorker(t *testing.T) {
	ctx := t.Context()
	sn := NewInMemorySnapshotter()
	w := NewSnapshotWorker(discardLog(), sn, SnapshotEvery(5))

	a := &tally{}
	a.SetID("t1")
	require.NoError(t, a.Apply(&tallyStarted{Name: "w"}))

	t.Run("not due", func(t *testing.T) {
		a.setVersion(4)
		w.Consider(a)
		w.Flush()
		_, err := sn.Latest(ctx, "tally", "t1")
		require.ErrorIs(t, err, ErrSnapshotNotFound)
	})

	t.Run("due at interval", func(t *testing.T) {
		a.setVersion(5)
		a.setSeq(12)
		w.Consider(a)
		w.Flush()

		s, err := sn.Latest(ctx, "tally", "t1")
		require.NoError(t, err)
		require.Equal(t, Version(5), s.ObjVersion)
		require.Equal(t, uint64(12), s.StreamSeq)
	})

	t.Run("snapshot now bypasses the interval", func(t *testing.T) {
		a.setVersion(7)
		require.NoError(t, w.SnapshotNow(ctx, a))
		s, err := sn.Latest(ctx, "tally", "t1")
		require.NoError(t, err)
		require.Equal(t, Version(7), s.ObjVersion)
	})
}

// failingSnapshotter refuses every write, as if its bucket were down.
type failingSnapshotter struct{}

func (failingSnapshotter) Save(context.Context, Snapshot) error {
	return errors.New("snapshot bucket unavailable")
}

func (failingSnapshotter) Latest(context.Context, string, string) (Snapshot, error) {
	return Snapshot{}, ErrSnapshotNotFound
}

func (failingSnapshotter) Delete(context.Context, string, string) error { return nil }

var _ Snapshotter = failingSnapshotter{}

func TestSnapshotWorker_WriteFailureStaysOffCommandPath(t *testing.T) {
	ctx := t.Context()
	store := NewInMemoryStore()
	codec := newTallyCodec(t)
	worker := NewSnapshotWorker(discardLog(), failingSnapshotter{}, SnapshotEvery(3))

	repo := NewTypedRepository[*tally](discardLog(), NewRepository(
		discardLog(), store, codec,
		WithSnapshotter(failingSnapshotter{}),
		WithSnapshotWorker(worker),
	))

	a := repo.NewWithID("t1")
	require.NoError(t, a.Start("flaky"))
	require.NoError(t, repo.Save(ctx, a))

	// several saves cross the snapshot interval; every write attempt fails
	for i := 0; i < 5; i++ {
		require.NoError(t, a.Bump(1))
		require.NoError(t, repo.Save(ctx, a))
	}
	worker.Flush()

	// no snapshot ever landed and the log alone rebuilds the state
	got, err := repo.GetByID(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, "flaky", got.Name)
	require.Equal(t, 5, got.Total)
	require.Equal(t, Version(6), got.Version())
}
