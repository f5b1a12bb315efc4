// Package cache provides a small pluggable cache with an LRU and a no-op
// implementation. The repository uses it as an optional hydration cache for
// aggregate state.
package cache

type Cache interface {
	Get(key string) (any, bool)
	Put(key string, val any)
	Delete(key string)
}

// TypedCache narrows a Cache to one value type.
type TypedCache[T any] interface {
	Get(key string) (T, bool)
	Put(key string, val T)
	Delete(key string)
}

type typedCache[T any] struct {
	c Cache
}

func NewTyped[T any](c Cache) TypedCache[T] { return &typedCache[T]{c: c} }

func (t *typedCache[T]) Get(key string) (out T, ok bool) {
	v, ok := t.c.Get(key)
	if !ok {
		return out, false
	}
	out, ok = v.(T)
	return out, ok
}

func (t *typedCache[T]) Put(key string, val T) { t.c.Put(key, val) }
func (t *typedCache[T]) Delete(key string)     { t.c.Delete(key) }
