package ship

import (
	"context"
	"slices"
	"sync"

	"github.com/harborward/theseus-go/core/es"
)

const FleetContext = "fleet"

const (
	cargoPerTeakPlank = 100
	standardCrewSize  = 20
)

// FleetSpec is the fleet-planning context's read model. Here the ship is a
// value object: history is irrelevant, only what the hull can do today
// matters. Two ships with the same hull get the same spec.
type FleetSpec struct {
	Name          string `json:"name"`
	CargoCapacity int    `json:"cargo_capacity"`
	CrewSize      int    `json:"crew_size"`
}

// Fleet tracks the current hull of every active ship and derives its spec.
// Archived ships leave the fleet.
type Fleet struct {
	mu    sync.RWMutex
	hulls map[string][]Plank
	names map[string]string
}

func NewFleet() *Fleet {
	return &Fleet{
		hulls: map[string][]Plank{},
		names: map[string]string{},
	}
}

func (f *Fleet) Context() string { return FleetContext }

func (f *Fleet) Apply(_ context.Context, env es.Envelope, event any) error {
	if env.AggregateType != AggregateType {
		return nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch e := event.(type) {
	case *Launched:
		f.hulls[env.AggregateID] = slices.Clone(e.Hull)
		f.names[env.AggregateID] = e.Name
	case *PlankReplaced:
		hull, ok := f.hulls[env.AggregateID]
		if ok && e.Index >= 0 && e.Index < len(hull) {
			hull[e.Index] = e.Plank
		}
	case *Archived:
		delete(f.hulls, env.AggregateID)
		delete(f.names, env.AggregateID)
	}
	return nil
}

// Reset drops the fleet so the registry can refold it from offset zero.
func (f *Fleet) Reset() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hulls = map[string][]Plank{}
	f.names = map[string]string{}
	return nil
}

func (f *Fleet) View(aggID string) (any, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	hull, ok := f.hulls[aggID]
	if !ok {
		return nil, false
	}
	return specForHull(f.names[aggID], hull), true
}

// Size counts the active ships in the fleet.
func (f *Fleet) Size() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.hulls)
}

func specForHull(name string, hull []Plank) FleetSpec {
	teak := 0
	for _, p := range hull {
		if p.Material == "teak" {
			teak++
		}
	}
	return FleetSpec{
		Name:          name,
		CargoCapacity: teak * cargoPerTeakPlank,
		CrewSize:      standardCrewSize,
	}
}

var (
	_ es.Projection  = (*Fleet)(nil)
	_ es.Rebuildable = (*Fleet)(nil)
)
