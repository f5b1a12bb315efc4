// Package kv defines a minimal key-value port used by the event-sourcing
// core for snapshots and projection checkpoints. Any backend providing an
// atomic single-key put can implement Store.
package kv

import (
	"context"
	"encoding/json"
	"errors"
)

var ErrNotFound = errors.New("key not found")

type Entry struct {
	Data []byte
}

type Store interface {
	Put(ctx context.Context, key string, entry Entry) error
	Get(ctx context.Context, key string) (Entry, error)
	Delete(ctx context.Context, key string) error
}

// Put marshals v as JSON and stores it under key.
func Put[T any](ctx context.Context, store Store, key string, v T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return store.Put(ctx, key, Entry{Data: data})
}

// Get loads key and unmarshals it into T.
func Get[T any](ctx context.Context, store Store, key string) (out T, err error) {
	entry, err := store.Get(ctx, key)
	if err != nil {
		return out, err
	}
	if err = json.Unmarshal(entry.Data, &out); err != nil {
		return out, err
	}
	return out, nil
}
