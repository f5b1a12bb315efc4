package ship

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/harborward/theseus-go/core/es"
)

func testHull() []Plank {
	return []Plank{
		{Material: "oak", LengthCm: 300, WidthCm: 30},
		{Material: "oak", LengthCm: 300, WidthCm: 30},
		{Material: "teak", LengthCm: 300, WidthCm: 30},
	}
}

func launchedShip(t *testing.T) *Ship {
	t.Helper()
	s := &Ship{}
	s.SetID("ship-1")
	require.NoError(t, s.Launch("Argo", testHull()))
	return s
}

func TestShip_Launch(t *testing.T) {
	s := launchedShip(t)
	require.Equal(t, "Argo", s.Name)
	require.Len(t, s.Hull, 3)
	require.Len(t, s.Uncommitted(), 1)

	t.Run("launching twice fails", func(t *testing.T) {
		require.Error(t, s.Launch("Argo II", testHull()))
	})

	t.Run("empty hull rejected", func(t *testing.T) {
		fresh := &Ship{}
		fresh.SetID("ship-2")
		require.Error(t, fresh.Launch("Raft", nil))
	})

	t.Run("launch does not alias the caller's hull", func(t *testing.T) {
		hull := testHull()
		fresh := &Ship{}
		fresh.SetID("ship-3")
		require.NoError(t, fresh.Launch("Clone", hull))
		hull[0].Material = "balsa"
		require.Equal(t, "oak", fresh.Hull[0].Material)
	})
}

func TestShip_ReplacePlank(t *testing.T) {
	t.Run("before launch", func(t *testing.T) {
		s := &Ship{}
		s.SetID("ship-1")
		err := s.ReplacePlank(0, Plank{Material: "teak", LengthCm: 300, WidthCm: 30})
		require.ErrorIs(t, err, ErrNotLaunched)
	})

	s := launchedShip(t)

	t.Run("index out of range", func(t *testing.T) {
		err := s.ReplacePlank(3, Plank{Material: "teak", LengthCm: 300, WidthCm: 30})
		require.ErrorIs(t, err, ErrPlankIndex)
		err = s.ReplacePlank(-1, Plank{Material: "teak", LengthCm: 300, WidthCm: 30})
		require.ErrorIs(t, err, ErrPlankIndex)
	})

	t.Run("replaces in place", func(t *testing.T) {
		require.NoError(t, s.ReplacePlank(0, Plank{Material: "teak", LengthCm: 310, WidthCm: 32}))
		require.Equal(t, "teak", s.Hull[0].Material)
		require.Equal(t, 310, s.Hull[0].LengthCm)
	})

	t.Run("invalid plank rejected before raising", func(t *testing.T) {
		raised := len(s.Uncommitted())
		require.Error(t, s.ReplacePlank(1, Plank{Material: ""}))
		require.Len(t, s.Uncommitted(), raised)
	})
}

func TestShip_ArchiveIsTerminal(t *testing.T) {
	s := launchedShip(t)
	require.NoError(t, s.Archive("decommissioned"))
	require.True(t, s.Archived)

	require.ErrorIs(t, s.ReplacePlank(0, testHull()[0]), ErrShipArchived)
	require.ErrorIs(t, s.Inspect("too late"), ErrShipArchived)
	require.ErrorIs(t, s.Archive("again"), ErrShipArchived)
}

func TestPlankReplaced_UpcastV1(t *testing.T) {
	codec := es.NewCodec()
	RegisterEvents(codec)

	env := es.Envelope{
		ID:            "ev-1",
		Seq:           1,
		Version:       2,
		AggregateType: AggregateType,
		AggregateID:   "ship-1",
		Type:          PlankReplaced{}.EventType(),
		SchemaVersion: 1,
		OccurredAt:    time.Now().UTC(),
		Data:          json.RawMessage(`{"index": 2, "material": "oak"}`),
	}

	ev, err := codec.Decode(env)
	require.NoError(t, err)

	replaced, ok := ev.(*PlankReplaced)
	require.True(t, ok)
	require.Equal(t, 2, replaced.Index)
	require.Equal(t, Plank{
		Material: "oak",
		LengthCm: standardPlankLengthCm,
		WidthCm:  standardPlankWidthCm,
	}, replaced.Plank)

	t.Run("v1 without material is rejected", func(t *testing.T) {
		env.Data = json.RawMessage(`{"index": 2}`)
		_, err := codec.Decode(env)
		require.Error(t, err)
	})

	t.Run("current schema decodes directly", func(t *testing.T) {
		env.SchemaVersion = 2
		env.Data = json.RawMessage(`{"index": 0, "plank": {"material": "teak", "length_cm": 300, "width_cm": 30}}`)
		ev, err := codec.Decode(env)
		require.NoError(t, err)
		require.Equal(t, &PlankReplaced{
			Index: 0,
			Plank: Plank{Material: "teak", LengthCm: 300, WidthCm: 30},
		}, ev)
	})
}
