package es

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/harborward/theseus-go/internal/reflector"
)

var (
	// ErrUnknownEventType means replay hit an event kind with no registered
	// decoder at any schema version. This is fatal: it signals a deployment
	// or schema bug, never something to skip over.
	ErrUnknownEventType = errors.New("unknown event type")

	// ErrUnsupportedSchemaVersion means the envelope's schema version has no
	// decoder and no upcast path leading to one.
	ErrUnsupportedSchemaVersion = errors.New("unsupported schema version")
)

// Upcast transforms an event payload from one schema version to the next.
// Upcasts compose: v1→v2→v3 chains are walked until a registered decoder
// version is reached. An upcast must be deterministic and total for the
// payloads it accepts; it is what keeps years-old committed events
// replayable after the schema moves on.
type Upcast func(payload map[string]any) (map[string]any, error)

// EventTyped lets an event pick its own wire name instead of the
// reflected "pkg.Type" default.
type EventTyped interface {
	EventType() string
}

// SchemaVersioned lets an event declare its payload schema revision.
// Events without it are written and decoded as schema version 1.
type SchemaVersioned interface {
	EventSchemaVersion() int
}

// Registrar is what aggregates register their event catalogs against.
type Registrar interface {
	Register(eventType string, schemaVersion int, ctor func() any)
	RegisterUpcast(eventType string, fromVersion int, up Upcast)
}

type codecKey struct {
	eventType     string
	schemaVersion int
}

// Codec converts events to and from envelopes. Decoders are keyed by
// (eventType, schemaVersion); envelopes written under older schema versions
// are upcast version-by-version before unmarshaling.
type Codec struct {
	mu       sync.RWMutex
	decoders map[codecKey]func() any
	upcasts  map[codecKey]Upcast
	types    map[string]struct{}
}

func NewCodec() *Codec {
	return &Codec{
		decoders: map[codecKey]func() any{},
		upcasts:  map[codecKey]Upcast{},
		types:    map[string]struct{}{},
	}
}

func (c *Codec) Register(eventType string, schemaVersion int, ctor func() any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.decoders[codecKey{eventType, schemaVersion}] = ctor
	c.types[eventType] = struct{}{}
}

func (c *Codec) RegisterUpcast(eventType string, fromVersion int, up Upcast) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.upcasts[codecKey{eventType, fromVersion}] = up
	c.types[eventType] = struct{}{}
}

// Decode reconstructs the domain event carried by env. The payload is
// upcast from env.SchemaVersion through the registered chain until a
// decoder version is reached.
func (c *Codec) Decode(env Envelope) (any, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if _, ok := c.types[env.Type]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEventType, env.Type)
	}

	sv := env.SchemaVersion
	if sv == 0 {
		sv = 1
	}

	var payload map[string]any // nil until the first upcast forces a re-parse

	for {
		if ctor, ok := c.decoders[codecKey{env.Type, sv}]; ok {
			ev := ctor()
			data := env.Data
			if payload != nil {
				var err error
				data, err = json.Marshal(payload)
				if err != nil {
					return nil, err
				}
			}
			if data != nil {
				if err := json.Unmarshal(data, ev); err != nil {
					return nil, err
				}
			}
			return ev, nil
		}

		up, ok := c.upcasts[codecKey{env.Type, sv}]
		if !ok {
			return nil, fmt.Errorf(
				"%w: %s v%d (written as v%d)",
				ErrUnsupportedSchemaVersion, env.Type, sv, env.SchemaVersion,
			)
		}

		if payload == nil {
			payload = map[string]any{}
			if env.Data != nil {
				if err := json.Unmarshal(env.Data, &payload); err != nil {
					return nil, err
				}
			}
		}

		next, err := up(payload)
		if err != nil {
			return nil, fmt.Errorf("upcast %s v%d: %w", env.Type, sv, err)
		}
		payload = next
		sv++
	}
}

// Encode marshals ev and stamps its wire type and schema version.
func (c *Codec) Encode(ev any) (eventType string, schemaVersion int, data []byte, err error) {
	data, err = json.Marshal(ev)
	if err != nil {
		return "", 0, nil, err
	}
	return EventTypeOf(ev), SchemaVersionOf(ev), data, nil
}

var _ Decoder = (*Codec)(nil)

// EventTypeOf returns the wire name for ev.
func EventTypeOf(ev any) string {
	if t, ok := ev.(EventTyped); ok {
		return t.EventType()
	}
	return reflector.NameOf(ev)
}

// SchemaVersionOf returns the schema version ev is written under.
func SchemaVersionOf(ev any) int {
	if s, ok := ev.(SchemaVersioned); ok {
		return s.EventSchemaVersion()
	}
	return 1
}

// RegisterEvent registers T under its wire name and current schema version.
func RegisterEvent[T any](r Registrar) {
	sample := any(new(T))
	r.Register(EventTypeOf(sample), SchemaVersionOf(sample), func() any { return new(T) })
}
