package kv

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemStore(t *testing.T) {
	s := NewMemStore()

	_, err := s.Get(t.Context(), "missing")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, Put(t.Context(), s, "offset", uint64(42)))

	v, err := Get[uint64](t.Context(), s, "offset")
	require.NoError(t, err)
	require.Equal(t, uint64(42), v)

	require.NoError(t, s.Delete(t.Context(), "offset"))
	_, err = s.Get(t.Context(), "offset")
	require.ErrorIs(t, err, ErrNotFound)
}
