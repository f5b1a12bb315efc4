package ship

import (
	"context"
	"sync"
	"time"

	"github.com/harborward/theseus-go/core/es"
)

const MaintenanceContext = "maintenance"

// Repair is one plank replacement as the maintenance yard sees it.
type Repair struct {
	PlankIndex int       `json:"plank_index"`
	Plank      Plank     `json:"plank"`
	At         time.Time `json:"at"`
}

// MaintenanceView is the maintenance context's read model: here the ship is
// its full repair narrative, because that is what decides when it has to go
// back on the slipway.
type MaintenanceView struct {
	ShipID          string    `json:"ship_id"`
	Name            string    `json:"name"`
	Repairs         []Repair  `json:"repairs"`
	LastInspectedAt time.Time `json:"last_inspected_at,omitzero"`
	Archived        bool      `json:"archived"`

	repairsSinceInspection int
}

// NeedsInspection reports whether any repair happened after the last
// inspection. Active ships only; archived hulls are no longer maintained.
func (v MaintenanceView) NeedsInspection() bool {
	return !v.Archived && v.repairsSinceInspection > 0
}

// Maintenance folds the event feed into per-ship maintenance views.
type Maintenance struct {
	mu    sync.RWMutex
	ships map[string]*MaintenanceView
}

func NewMaintenance() *Maintenance {
	return &Maintenance{ships: map[string]*MaintenanceView{}}
}

func (m *Maintenance) Context() string { return MaintenanceContext }

func (m *Maintenance) Apply(_ context.Context, env es.Envelope, event any) error {
	if env.AggregateType != AggregateType {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.ships[env.AggregateID]
	if !ok {
		v = &MaintenanceView{ShipID: env.AggregateID}
		m.ships[env.AggregateID] = v
	}

	switch e := event.(type) {
	case *Launched:
		v.Name = e.Name
	case *PlankReplaced:
		v.Repairs = append(v.Repairs, Repair{
			PlankIndex: e.Index,
			Plank:      e.Plank,
			At:         env.OccurredAt,
		})
		v.repairsSinceInspection++
	case *Inspected:
		v.LastInspectedAt = env.OccurredAt
		v.repairsSinceInspection = 0
	case *Archived:
		v.Archived = true
	}
	return nil
}

// Reset drops all views so the registry can refold them from offset zero.
func (m *Maintenance) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ships = map[string]*MaintenanceView{}
	return nil
}

func (m *Maintenance) View(aggID string) (any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.ships[aggID]
	if !ok {
		return nil, false
	}
	out := *v
	out.Repairs = append([]Repair(nil), v.Repairs...)
	return out, true
}

var (
	_ es.Projection  = (*Maintenance)(nil)
	_ es.Rebuildable = (*Maintenance)(nil)
)
