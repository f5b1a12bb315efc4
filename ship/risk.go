package ship

import (
	"context"
	"sync"

	"github.com/harborward/theseus-go/core/es"
)

const RiskContext = "risk"

const (
	riskPerReplacement   = 10
	riskPerExtraMaterial = 5
	maxRiskScore         = 100
	reviewThreshold      = 50
)

// RiskView scores how far a hull has drifted from its original build. Many
// replacements and a patchwork of materials both raise the score; an
// inspection documents the current state and halves it.
type RiskView struct {
	ShipID       string `json:"ship_id"`
	Replacements int    `json:"replacements"`
	Materials    int    `json:"materials"`
	Score        int    `json:"score"`
	Archived     bool   `json:"archived"`
}

func (v RiskView) NeedsReview() bool {
	return !v.Archived && v.Score >= reviewThreshold
}

type riskState struct {
	replacements int
	materials    map[string]struct{}
	inspections  int
	archived     bool
}

// Risk is the risk context's projection over the same event feed the other
// contexts consume; it just asks different questions of it.
type Risk struct {
	mu    sync.RWMutex
	ships map[string]*riskState
}

func NewRisk() *Risk {
	return &Risk{ships: map[string]*riskState{}}
}

func (r *Risk) Context() string { return RiskContext }

func (r *Risk) Apply(_ context.Context, env es.Envelope, event any) error {
	if env.AggregateType != AggregateType {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.ships[env.AggregateID]
	if !ok {
		st = &riskState{materials: map[string]struct{}{}}
		r.ships[env.AggregateID] = st
	}

	switch e := event.(type) {
	case *Launched:
		for _, p := range e.Hull {
			st.materials[p.Material] = struct{}{}
		}
	case *PlankReplaced:
		st.replacements++
		st.materials[e.Plank.Material] = struct{}{}
	case *Inspected:
		st.inspections++
	case *Archived:
		st.archived = true
	}
	return nil
}

// Reset drops all scores so the registry can refold them from offset zero.
func (r *Risk) Reset() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ships = map[string]*riskState{}
	return nil
}

func (r *Risk) View(aggID string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.ships[aggID]
	if !ok {
		return nil, false
	}
	return RiskView{
		ShipID:       aggID,
		Replacements: st.replacements,
		Materials:    len(st.materials),
		Score:        st.score(),
		Archived:     st.archived,
	}, true
}

func (s *riskState) score() int {
	score := s.replacements * riskPerReplacement
	if extra := len(s.materials) - 1; extra > 0 {
		score += extra * riskPerExtraMaterial
	}
	for i := 0; i < s.inspections; i++ {
		score /= 2
	}
	if score > maxRiskScore {
		score = maxRiskScore
	}
	return score
}

var (
	_ es.Projection  = (*Risk)(nil)
	_ es.Rebuildable = (*Risk)(nil)
)
