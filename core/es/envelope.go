package es

import (
	"encoding/json"
	"fmt"
	"time"
)

// Envelope is the unit of storage: an immutable domain event wrapped with
// the metadata needed to replay, route and upcast it later.
type Envelope struct {
	// ID uniquely identifies this envelope (idempotency key for backends).
	ID string `json:"id"`
	// Seq is the global commit offset assigned by the store. It totally
	// orders events across all aggregates and feeds projections.
	Seq uint64 `json:"seq"`
	// Version is the per-aggregate sequence number (1, 2, 3, ... gapless).
	Version Version `json:"version"`
	// AggregateType names the aggregate's stream family.
	AggregateType string `json:"aggregate"`
	// AggregateID identifies the aggregate instance.
	AggregateID string `json:"aggregate_id"`
	// Type is the event type name used for decoder lookup.
	Type string `json:"type"`
	// SchemaVersion is the payload schema revision the event was written
	// under. Decoding upcasts older revisions before unmarshaling.
	SchemaVersion int `json:"schema_version"`
	// OccurredAt is when the event was raised, UTC.
	OccurredAt time.Time `json:"occurred_at"`
	// Data is the JSON-encoded payload.
	Data json.RawMessage `json:"data"`
}

func (e Envelope) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("envelope id is empty")
	}
	if e.AggregateType == "" {
		return fmt.Errorf("envelope aggregate type is empty")
	}
	if e.AggregateID == "" {
		return fmt.Errorf("envelope aggregate id is empty")
	}
	if e.Type == "" {
		return fmt.Errorf("envelope type is empty")
	}
	if e.SchemaVersion < 1 {
		return fmt.Errorf("envelope schema version must be >= 1")
	}
	if e.OccurredAt.IsZero() {
		return fmt.Errorf("envelope occurred at is zero")
	}
	return nil
}

type Decoder interface {
	Decode(e Envelope) (any, error)
}
