package es

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

func discardLog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// === tally: a minimal counting aggregate ===

type tallyStarted struct {
	Name string `json:"name"`
}

type tallyBumped struct {
	By int `json:"by"`
}

type tally struct {
	BaseAggregate
	Name  string `json:"name"`
	Total int    `json:"total"`
}

func (t *tally) AggregateType() string { return "tally" }

func (t *tally) Register(r Registrar) {
	RegisterEvent[tallyStarted](r)
	RegisterEvent[tallyBumped](r)
}

func (t *tally) Apply(event any) error {
	switch e := event.(type) {
	case *tallyStarted:
		t.Name = e.Name
	case *tallyBumped:
		t.Total += e.By
	default:
		return fmt.Errorf("unexpected event %T", event)
	}
	return nil
}

func (t *tally) Start(name string) error {
	return RaiseAndApply(t, &tallyStarted{Name: name})
}

func (t *tally) Bump(by int) error {
	return RaiseAndApply(t, &tallyBumped{By: by})
}

// === tallyTotals: a projection over tally streams ===

type tallyTotals struct {
	name   string
	failOn string

	mu     sync.Mutex
	totals map[string]int
	seen   []uint64
	resets int
}

func newTallyTotals(name string) *tallyTotals {
	return &tallyTotals{name: name, totals: map[string]int{}}
}

func (p *tallyTotals) Context() string { return p.name }

func (p *tallyTotals) Apply(_ context.Context, env Envelope, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.failOn != "" && env.AggregateID == p.failOn {
		return fmt.Errorf("poison aggregate %s", env.AggregateID)
	}

	p.seen = append(p.seen, env.Seq)
	if e, ok := event.(*tallyBumped); ok {
		p.totals[env.AggregateID] += e.By
	}
	return nil
}

func (p *tallyTotals) View(aggID string) (any, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	total, ok := p.totals[aggID]
	return total, ok
}

func (p *tallyTotals) Reset() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.totals = map[string]int{}
	p.seen = nil
	p.resets++
	return nil
}

func (p *tallyTotals) resetCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resets
}

func (p *tallyTotals) seenSeqs() []uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]uint64, len(p.seen))
	copy(out, p.seen)
	return out
}

func (p *tallyTotals) total(aggID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.totals[aggID]
}
