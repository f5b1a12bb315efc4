// Package sf wraps golang.org/x/sync/singleflight with a typed result.
package sf

import "golang.org/x/sync/singleflight"

// Group deduplicates concurrent calls with the same key: the first caller
// runs fn, later callers for the same key block and share its result.
type Group[T any] struct {
	group singleflight.Group
}

func New[T any]() *Group[T] { return &Group[T]{} }

// Do runs fn for key unless an identical call is already in flight.
func (g *Group[T]) Do(key string, fn func() (T, error)) (T, error) {
	v, err, _ := g.group.Do(key, func() (any, error) {
		return fn()
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}
