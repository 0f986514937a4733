// Package structures provides named regions of interest, read from a YAML
// structure file, that a phantom can be cropped to.
package structures

import (
	"fmt"
	"math"
	"os"
	"sort"

	"gonum.org/v1/gonum/spatial/r3"
	"gopkg.in/yaml.v3"
)

// Structure is one region of interest. Either Min and Max or Points must be
// given; Points are contour points in patient coordinates (mm).
type Structure struct {
	Name   string       `yaml:"name"`
	Number int          `yaml:"number,omitempty"`
	Min    []float64    `yaml:"min,omitempty,flow"`
	Max    []float64    `yaml:"max,omitempty,flow"`
	Points [][3]float64 `yaml:"points,omitempty"`
}

// Bounds returns the axis-aligned bounding box of the structure.
func (s *Structure) Bounds() (r3.Box, error) {
	if len(s.Points) > 0 {
		return boundsOf(s.Points), nil
	}
	if len(s.Min) != 3 || len(s.Max) != 3 {
		return r3.Box{}, fmt.Errorf("structure %q needs points or 3-element min and max", s.Name)
	}
	b := r3.Box{
		Min: r3.Vec{X: s.Min[0], Y: s.Min[1], Z: s.Min[2]},
		Max: r3.Vec{X: s.Max[0], Y: s.Max[1], Z: s.Max[2]},
	}
	if b.Min.X > b.Max.X || b.Min.Y > b.Max.Y || b.Min.Z > b.Max.Z {
		return r3.Box{}, fmt.Errorf("structure %q has min above max", s.Name)
	}
	return b, nil
}

// boundsOf seeds the extremes from infinity so boxes away from the origin
// are not stretched to include it.
func boundsOf(points [][3]float64) r3.Box {
	lo := r3.Vec{X: math.Inf(1), Y: math.Inf(1), Z: math.Inf(1)}
	hi := r3.Vec{X: math.Inf(-1), Y: math.Inf(-1), Z: math.Inf(-1)}
	for _, p := range points {
		lo.X, hi.X = math.Min(lo.X, p[0]), math.Max(hi.X, p[0])
		lo.Y, hi.Y = math.Min(lo.Y, p[1]), math.Max(hi.Y, p[1])
		lo.Z, hi.Z = math.Min(lo.Z, p[2]), math.Max(hi.Z, p[2])
	}
	return r3.Box{Min: lo, Max: hi}
}

// Set is a collection of structures keyed by name.
type Set struct {
	boxes   map[string]r3.Box
	numbers map[string]int
}

type file struct {
	Structures []Structure `yaml:"structures"`
}

// New builds a set, computing every bounding box up front.
func New(structs ...Structure) (*Set, error) {
	s := &Set{
		boxes:   make(map[string]r3.Box, len(structs)),
		numbers: make(map[string]int, len(structs)),
	}
	for i := range structs {
		st := &structs[i]
		if st.Name == "" {
			return nil, fmt.Errorf("structure %d has no name", i+1)
		}
		if _, dup := s.boxes[st.Name]; dup {
			return nil, fmt.Errorf("duplicate structure %q", st.Name)
		}
		b, err := st.Bounds()
		if err != nil {
			return nil, err
		}
		s.boxes[st.Name] = b
		s.numbers[st.Name] = st.Number
	}
	return s, nil
}

// Parse reads a YAML structure document.
func Parse(data []byte) (*Set, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("error parsing structures: %w", err)
	}
	return New(f.Structures...)
}

// LoadFile reads the YAML structure file at path.
func LoadFile(path string) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading structures file: %w", err)
	}
	return Parse(data)
}

// BoundingBox returns the box of the named structure.
func (s *Set) BoundingBox(name string) (r3.Box, bool) {
	b, ok := s.boxes[name]
	return b, ok
}

// Number returns the ROI number of the named structure.
func (s *Set) Number(name string) (int, bool) {
	n, ok := s.numbers[name]
	return n, ok
}

// Names returns the structure names in lexical order.
func (s *Set) Names() []string {
	names := make([]string, 0, len(s.boxes))
	for name := range s.boxes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
