package ship

import (
	"errors"
	"fmt"
	"slices"

	"github.com/harborward/theseus-go/core/es"
)

const AggregateType = "ship"

var (
	ErrNotLaunched = errors.New("ship not launched")

	// ErrShipArchived rejects commands against an archived ship. The history
	// stays queryable; only new events are refused.
	ErrShipArchived = errors.New("ship is archived")

	ErrPlankIndex = errors.New("plank index out of range")
)

// Ship is the write model. Its identity is the event stream, not the hull:
// replace every plank and it is still the same ship, because the stream is
// the same stream.
type Ship struct {
	es.BaseAggregate
	Name     string  `json:"name"`
	Hull     []Plank `json:"hull"`
	Archived bool    `json:"archived"`
}

func (s *Ship) AggregateType() string   { return AggregateType }
func (s *Ship) Register(r es.Registrar) { RegisterEvents(r) }
func (s *Ship) launched() bool          { return s.Name != "" }

// Launch records the birth event. Valid only on a fresh stream.
func (s *Ship) Launch(name string, hull []Plank) error {
	if s.launched() || s.Version() > 0 {
		return fmt.Errorf("ship %s is already launched", s.ID())
	}
	return es.RaiseAndApply(s, &Launched{Name: name, Hull: slices.Clone(hull)})
}

// ReplacePlank swaps one plank of the hull for a new one.
func (s *Ship) ReplacePlank(index int, p Plank) error {
	if err := s.commandable(); err != nil {
		return err
	}
	if index < 0 || index >= len(s.Hull) {
		return fmt.Errorf("%w: %d of %d", ErrPlankIndex, index, len(s.Hull))
	}
	return es.RaiseAndApply(s, &PlankReplaced{Index: index, Plank: p})
}

// Inspect records a hull inspection.
func (s *Ship) Inspect(notes string) error {
	if err := s.commandable(); err != nil {
		return err
	}
	return es.RaiseAndApply(s, &Inspected{Notes: notes})
}

// Archive retires the ship. Terminal: every later command fails with
// ErrShipArchived.
func (s *Ship) Archive(reason string) error {
	if err := s.commandable(); err != nil {
		return err
	}
	return es.RaiseAndApply(s, &Archived{Reason: reason})
}

func (s *Ship) commandable() error {
	if !s.launched() {
		return ErrNotLaunched
	}
	if s.Archived {
		return fmt.Errorf("%w: %s", ErrShipArchived, s.ID())
	}
	return nil
}

func (s *Ship) Apply(event any) error {
	switch e := event.(type) {
	case *Launched:
		s.Name = e.Name
		s.Hull = slices.Clone(e.Hull)
	case *PlankReplaced:
		if e.Index < 0 || e.Index >= len(s.Hull) {
			return fmt.Errorf("%w: replaying index %d of %d", ErrPlankIndex, e.Index, len(s.Hull))
		}
		s.Hull[e.Index] = e.Plank
	case *Inspected:
		// nothing on the write model; inspections matter to read models
	case *Archived:
		s.Archived = true
	default:
		return fmt.Errorf("unexpected event %T", event)
	}
	return nil
}

var _ es.Aggregate = (*Ship)(nil)
