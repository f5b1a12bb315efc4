package es

import (
	"context"
	"errors"
	"sync"

	"github.com/harborward/theseus-go/ports/kv"
)

var ErrCheckpointNotFound = errors.New("checkpoint not found")

// CheckpointStore persists a consumer's last applied global offset. Writing
// the checkpoint after applying gives at-least-once delivery; the offset
// comparison in the checkpoint middleware makes redelivery harmless.
type CheckpointStore interface {
	Get(ctx context.Context) (uint64, error)
	Set(ctx context.Context, seq uint64) error
}

type InMemoryCheckpoint struct {
	mu  sync.Mutex
	seq uint64
	set bool
}

func NewInMemoryCheckpoint() *InMemoryCheckpoint { return &InMemoryCheckpoint{} }

func (c *InMemoryCheckpoint) Get(_ context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.set {
		return 0, ErrCheckpointNotFound
	}
	return c.seq, nil
}

func (c *InMemoryCheckpoint) Set(_ context.Context, seq uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq = seq
	c.set = true
	return nil
}

var _ CheckpointStore = (*InMemoryCheckpoint)(nil)

// KeyValueCheckpoint stores the offset in a kv.Store under a stable consumer
// name, so a restarted consumer resumes where it left off.
type KeyValueCheckpoint struct {
	store kv.Store
	key   string
}

func NewKeyValueCheckpoint(store kv.Store, consumerName string) *KeyValueCheckpoint {
	return &KeyValueCheckpoint{store: store, key: "checkpoint/" + consumerName}
}

func (c *KeyValueCheckpoint) Get(ctx context.Context) (uint64, error) {
	seq, err := kv.Get[uint64](ctx, c.store, c.key)
	if errors.Is(err, kv.ErrNotFound) {
		return 0, ErrCheckpointNotFound
	}
	return seq, err
}

func (c *KeyValueCheckpoint) Set(ctx context.Context, seq uint64) error {
	return kv.Put(ctx, c.store, c.key, seq)
}

var _ CheckpointStore = (*KeyValueCheckpoint)(nil)
