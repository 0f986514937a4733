// Package classifier maps calibrated CT numbers to a phantom material and a
// mass density with the piecewise-linear EGSnrc ramp.
package classifier

import (
	"fmt"

	"ct2egsphant/pkg/materials"
)

// Bracket is one linear segment of the ramp: CT numbers in [HULo, HUHi)
// map to densities DensityLo..DensityHi of the named material.
type Bracket struct {
	Material  string
	HULo      int
	HUHi      int
	DensityLo float64
	DensityHi float64
}

// DefaultBrackets are the operational ramp segments. They differ from the
// table's documented brackets: air starts at 1 and bone extends to 5000.
var DefaultBrackets = []Bracket{
	{Material: materials.Air, HULo: 1, HUHi: 50, DensityLo: 0.001, DensityHi: 0.044},
	{Material: materials.Lung, HULo: 50, HUHi: 300, DensityLo: 0.044, DensityHi: 0.302},
	{Material: materials.Tissue, HULo: 300, HUHi: 1125, DensityLo: 0.302, DensityHi: 1.101},
	{Material: materials.Bone, HULo: 1125, HUHi: 5000, DensityLo: 1.101, DensityHi: 3.1408},
}

// OutOfRangeError is returned for a CT number outside every bracket.
type OutOfRangeError struct {
	HU int
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("Hounsfield number %d out of bounds", e.HU)
}

// Classifier maps a CT number to a material index and a density.
type Classifier interface {
	Classify(hu int) (material int, density float64, err error)
}

type segment struct {
	Bracket
	index int
}

// Ramp is a Classifier built from an ordered list of brackets. It is
// read-only after construction and safe for concurrent use.
type Ramp struct {
	segments []segment
}

// New resolves the material of every bracket against the table and
// returns the ramp.
func New(table *materials.Table, brackets []Bracket) (*Ramp, error) {
	if len(brackets) == 0 {
		return nil, fmt.Errorf("ramp needs at least one bracket")
	}
	r := &Ramp{segments: make([]segment, len(brackets))}
	for i, b := range brackets {
		if b.HUHi <= b.HULo {
			return nil, fmt.Errorf("bracket %s has empty range [%d,%d)", b.Material, b.HULo, b.HUHi)
		}
		idx, err := table.Lookup(b.Material)
		if err != nil {
			return nil, fmt.Errorf("bracket %d: %w", i, err)
		}
		r.segments[i] = segment{Bracket: b, index: idx}
	}
	return r, nil
}

// Default returns the standard ramp over the given table.
func Default(table *materials.Table) (*Ramp, error) {
	return New(table, DefaultBrackets)
}

// Classify selects the first bracket containing hu and interpolates the
// density linearly inside it.
func (r *Ramp) Classify(hu int) (int, float64, error) {
	for i := range r.segments {
		s := &r.segments[i]
		if s.HULo <= hu && hu < s.HUHi {
			return s.index, interpolate(hu, s.Bracket), nil
		}
	}
	return 0, 0, &OutOfRangeError{HU: hu}
}

// Brackets returns a copy of the ramp's segments.
func (r *Ramp) Brackets() []Bracket {
	out := make([]Bracket, len(r.segments))
	for i, s := range r.segments {
		out[i] = s.Bracket
	}
	return out
}

func interpolate(hu int, b Bracket) float64 {
	return b.DensityLo + float64(hu-b.HULo)*(b.DensityHi-b.DensityLo)/float64(b.HUHi-b.HULo)
}
