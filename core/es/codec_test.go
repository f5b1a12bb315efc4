package es

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

// priceSet is a schema-versioned event: v1 carried whole dollars, v2 stores
// cents.
type priceSet struct {
	Cents int `json:"cents"`
}

func (priceSet) EventType() string       { return "test.price_set" }
func (priceSet) EventSchemaVersion() int { return 2 }

func upcastPriceV1(payload map[string]any) (map[string]any, error) {
	dollars, _ := payload["dollars"].(float64)
	return map[string]any{"cents": dollars * 100}, nil
}

func TestCodec_Encode(t *testing.T) {
	c := NewCodec()
	RegisterEvent[priceSet](c)

	eventType, schemaVersion, data, err := c.Encode(&priceSet{Cents: 150})
	require.NoError(t, err)
	require.Equal(t, "test.price_set", eventType)
	require.Equal(t, 2, schemaVersion)
	require.JSONEq(t, `{"cents":150}`, string(data))
}

func TestCodec_Decode(t *testing.T) {
	c := NewCodec()
	RegisterEvent[priceSet](c)
	c.RegisterUpcast("test.price_set", 1, upcastPriceV1)

	env := func(schemaVersion int, payload string) Envelope {
		return Envelope{
			Type:          "test.price_set",
			SchemaVersion: schemaVersion,
			Data:          json.RawMessage(payload),
		}
	}

	t.Run("current version", func(t *testing.T) {
		evt, err := c.Decode(env(2, `{"cents":300}`))
		require.NoError(t, err)
		require.Equal(t, &priceSet{Cents: 300}, evt)
	})

	t.Run("upcast from v1", func(t *testing.T) {
		evt, err := c.Decode(env(1, `{"dollars":3}`))
		require.NoError(t, err)
		require.Equal(t, &priceSet{Cents: 300}, evt)
	})

	t.Run("missing schema version reads as v1", func(t *testing.T) {
		evt, err := c.Decode(env(0, `{"dollars":2}`))
		require.NoError(t, err)
		require.Equal(t, &priceSet{Cents: 200}, evt)
	})

	t.Run("unknown event type", func(t *testing.T) {
		_, err := c.Decode(Envelope{Type: "test.never_registered", SchemaVersion: 1})
		require.ErrorIs(t, err, ErrUnknownEventType)
	})

	t.Run("no upcast path", func(t *testing.T) {
		bare := NewCodec()
		RegisterEvent[priceSet](bare)
		_, err := bare.Decode(env(1, `{"dollars":3}`))
		require.ErrorIs(t, err, ErrUnsupportedSchemaVersion)
	})
}

func TestCodec_UpcastChain(t *testing.T) {
	// v1 -> v2 -> v3 walks both steps
	type labeled struct {
		Label string `json:"label"`
	}
	c := NewCodec()
	c.Register("test.labeled", 3, func() any { return new(labeled) })
	c.RegisterUpcast("test.labeled", 1, func(p map[string]any) (map[string]any, error) {
		return map[string]any{"name": p["n"]}, nil
	})
	c.RegisterUpcast("test.labeled", 2, func(p map[string]any) (map[string]any, error) {
		return map[string]any{"label": p["name"]}, nil
	})

	evt, err := c.Decode(Envelope{
		Type:          "test.labeled",
		SchemaVersion: 1,
		Data:          json.RawMessage(`{"n":"old"}`),
	})
	require.NoError(t, err)
	require.Equal(t, &labeled{Label: "old"}, evt)
}
