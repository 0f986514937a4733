// Package materials provides the ordered registry of phantom materials.
// The declaration order of a table fixes the material numbers written to
// egsphant files, so it is never re-derived from names or indices.
package materials

import (
	"fmt"
	"sync"
)

// Material describes one phantom material: its documented Hounsfield and
// mass density brackets and its 1-based serialization index.
type Material struct {
	Name string

	// HULo and HUHi bound the Hounsfield bracket [HULo, HUHi)
	HULo int
	HUHi int

	// DensityLo and DensityHi bound the density bracket in g/cm^3
	DensityLo float64
	DensityHi float64

	// Index is the material number used in the material raster
	Index int

	// Classified is false for materials the HU ramp never selects
	Classified bool
}

// Standard material names.
const (
	Air    = "AIR700ICRU"
	Lung   = "LUNG700ICRU"
	Tissue = "ICRUTISSUE700ICRU"
	Bone   = "ICRPBONE700ICRU"
	Water  = "H2O700ICRU"
)

// NotFoundError is returned when a material name is not in the table.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("unknown material: %s", e.Name)
}

// Table is an immutable, ordered list of materials.
type Table struct {
	materials []Material
	byName    map[string]int
}

// New builds a table from definitions in declaration order. Indices must
// run 1..n in that order and names must be unique.
func New(defs ...Material) (*Table, error) {
	if len(defs) == 0 {
		return nil, fmt.Errorf("material table must not be empty")
	}
	t := &Table{
		materials: make([]Material, len(defs)),
		byName:    make(map[string]int, len(defs)),
	}
	for i, m := range defs {
		if m.Name == "" {
			return nil, fmt.Errorf("material %d has no name", i+1)
		}
		if _, dup := t.byName[m.Name]; dup {
			return nil, fmt.Errorf("duplicate material name %q", m.Name)
		}
		if m.Index != i+1 {
			return nil, fmt.Errorf("material %q declared at position %d has index %d", m.Name, i+1, m.Index)
		}
		t.materials[i] = m
		t.byName[m.Name] = i
	}
	return t, nil
}

var (
	defaultOnce  sync.Once
	defaultTable *Table
)

// Default returns the standard 700ICRU table. It is built once and shared
// read-only by every caller.
func Default() *Table {
	defaultOnce.Do(func() {
		t, err := New(
			Material{Name: Air, HULo: 0, HUHi: 50, DensityLo: 0.001, DensityHi: 0.044, Index: 1, Classified: true},
			Material{Name: Lung, HULo: 50, HUHi: 300, DensityLo: 0.044, DensityHi: 0.302, Index: 2, Classified: true},
			Material{Name: Tissue, HULo: 300, HUHi: 1125, DensityLo: 0.302, DensityHi: 1.101, Index: 3, Classified: true},
			Material{Name: Bone, HULo: 1125, HUHi: 3000, DensityLo: 1.101, DensityHi: 2.088, Index: 4, Classified: true},
			Material{Name: Water, Index: 5},
		)
		if err != nil {
			panic(err)
		}
		defaultTable = t
	})
	return defaultTable
}

// Lookup returns the serialization index of the named material.
func (t *Table) Lookup(name string) (int, error) {
	i, ok := t.byName[name]
	if !ok {
		return 0, &NotFoundError{Name: name}
	}
	return t.materials[i].Index, nil
}

// Material returns the definition of the named material.
func (t *Table) Material(name string) (Material, error) {
	i, ok := t.byName[name]
	if !ok {
		return Material{}, &NotFoundError{Name: name}
	}
	return t.materials[i], nil
}

// Names returns the material names in declaration order.
func (t *Table) Names() []string {
	names := make([]string, len(t.materials))
	for i, m := range t.materials {
		names[i] = m.Name
	}
	return names
}

// Materials returns a copy of the definitions in declaration order.
func (t *Table) Materials() []Material {
	out := make([]Material, len(t.materials))
	copy(out, t.materials)
	return out
}

// Size returns the number of materials.
func (t *Table) Size() int {
	return len(t.materials)
}
