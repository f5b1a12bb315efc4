// Package ship is the demonstration domain: an event-sourced ship whose
// identity survives having every plank of its hull replaced. The aggregate
// holds the write model; the bounded-context read models live in the
// projections of this package.
package ship

import (
	"errors"
	"fmt"
)

// Plank is a value object. Two planks with equal material and dimensions are
// interchangeable; a plank has no identity of its own.
type Plank struct {
	Material string `json:"material"`
	LengthCm int    `json:"length_cm"`
	WidthCm  int    `json:"width_cm"`
}

func (p Plank) Validate() error {
	if p.Material == "" {
		return errors.New("plank material is empty")
	}
	if p.LengthCm <= 0 || p.WidthCm <= 0 {
		return fmt.Errorf("plank dimensions must be positive, got %dx%d", p.LengthCm, p.WidthCm)
	}
	return nil
}
