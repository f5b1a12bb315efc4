package ship

import (
	"errors"
	"fmt"

	"github.com/harborward/theseus-go/core/es"
)

// Early PlankReplaced events (schema v1) recorded only the material; planks
// were assumed to be the shipyard's standard cut. The upcast fills the
// dimensions in so v1 history replays through the current event shape.
const (
	standardPlankLengthCm = 300
	standardPlankWidthCm  = 30
)

type Launched struct {
	Name string  `json:"name"`
	Hull []Plank `json:"hull"`
}

func (Launched) EventType() string { return "ship.launched" }

func (e Launched) Validate() error {
	if e.Name == "" {
		return errors.New("ship name is empty")
	}
	if len(e.Hull) == 0 {
		return errors.New("hull needs at least one plank")
	}
	for i, p := range e.Hull {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("hull plank %d: %w", i, err)
		}
	}
	return nil
}

type PlankReplaced struct {
	Index int   `json:"index"`
	Plank Plank `json:"plank"`
}

func (PlankReplaced) EventType() string       { return "ship.plank_replaced" }
func (PlankReplaced) EventSchemaVersion() int { return 2 }

func (e PlankReplaced) Validate() error {
	if e.Index < 0 {
		return fmt.Errorf("plank index %d is negative", e.Index)
	}
	return e.Plank.Validate()
}

func upcastPlankReplacedV1(payload map[string]any) (map[string]any, error) {
	material, _ := payload["material"].(string)
	if material == "" {
		return nil, errors.New("v1 payload has no material")
	}
	return map[string]any{
		"index": payload["index"],
		"plank": map[string]any{
			"material":  material,
			"length_cm": standardPlankLengthCm,
			"width_cm":  standardPlankWidthCm,
		},
	}, nil
}

type Inspected struct {
	Notes string `json:"notes,omitempty"`
}

func (Inspected) EventType() string { return "ship.inspected" }

// Archived is terminal: the ship's log stays replayable forever, but no
// further commands are accepted.
type Archived struct {
	Reason string `json:"reason,omitempty"`
}

func (Archived) EventType() string { return "ship.archived" }

// RegisterEvents registers the ship event catalog, including the v1 upcast
// for plank replacements.
func RegisterEvents(r es.Registrar) {
	es.RegisterEvent[Launched](r)
	es.RegisterEvent[PlankReplaced](r)
	es.RegisterEvent[Inspected](r)
	es.RegisterEvent[Archived](r)
	r.RegisterUpcast(PlankReplaced{}.EventType(), 1, upcastPlankReplacedV1)
}
