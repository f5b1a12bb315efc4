package nats

import (
	"github.com/harborward/theseus-go/core/es"
)

// NewSnapshotter stores snapshots in a JetStream key-value bucket.
func NewSnapshotter(cfg KeyValueConfig) (*es.KeyValueSnapshotter, error) {
	store, err := NewKeyValue(cfg)
	if err != nil {
		return nil, err
	}
	return es.NewKeyValueSnapshotter(store), nil
}

// NewCheckpoints returns a checkpoint factory for the projection registry,
// all contexts sharing one bucket.
func NewCheckpoints(cfg KeyValueConfig) (func(contextName string) es.CheckpointStore, error) {
	store, err := NewKeyValue(cfg)
	if err != nil {
		return nil, err
	}
	return func(contextName string) es.CheckpointStore {
		return es.NewKeyValueCheckpoint(store, contextName)
	}, nil
}
