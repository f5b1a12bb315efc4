package cache

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLRU_Eviction(t *testing.T) {
	l := NewLRU(2)
	l.Put("a", 1)
	l.Put("b", 2)

	// touch a so b becomes the eviction candidate
	_, ok := l.Get("a")
	require.True(t, ok)

	l.Put("c", 3)

	_, ok = l.Get("b")
	require.False(t, ok)

	v, ok := l.Get("a")
	require.True(t, ok)
	require.Equal(t, 1, v)

	v, ok = l.Get("c")
	require.True(t, ok)
	require.Equal(t, 3, v)
}

func TestLRU_Delete(t *testing.T) {
	l := NewLRU(4)
	l.Put("a", 1)
	l.Delete("a")
	_, ok := l.Get("a")
	require.False(t, ok)
}

func TestTypedCache(t *testing.T) {
	c := NewTyped[string](NewLRU(4))
	c.Put("k", "v")
	v, ok := c.Get("k")
	require.True(t, ok)
	require.Equal(t, "v", v)
}
