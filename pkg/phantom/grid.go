package phantom

import (
	"errors"
	"fmt"
	"sort"

	"gonum.org/v1/gonum/spatial/r3"

	"ct2egsphant/internal/models"
)

// StructureProvider resolves a named region of interest to its bounding box.
type StructureProvider interface {
	BoundingBox(name string) (r3.Box, bool)
}

// Grid is the voxel phantom: slices ordered by ascending z that share the
// same pixel dimensions and in-plane voxel size. A Grid is never modified
// after construction.
type Grid struct {
	slices []*Slice
	size   [3]int
}

// NewGrid assembles slices into a grid. The input is ordered by z; every
// slice must match the first one in width, height and in-plane voxel size,
// and no two slices may share a z position.
func NewGrid(slices []*Slice) (*Grid, error) {
	if len(slices) == 0 {
		return nil, &EmptyResultError{Reason: "no slices to assemble"}
	}

	ordered := make([]*Slice, len(slices))
	copy(ordered, slices)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].position.Z < ordered[j].position.Z
	})

	first := ordered[0]
	for i, s := range ordered {
		if i > 0 && s.position.Z == ordered[i-1].position.Z {
			return nil, &ConsistencyError{Z: s.position.Z, Reason: "duplicate z position"}
		}
		if s.width != first.width || s.height != first.height {
			return nil, &ConsistencyError{
				Z:      s.position.Z,
				Reason: fmt.Sprintf("size %dx%d differs from %dx%d", s.width, s.height, first.width, first.height),
			}
		}
		if s.voxelSize.X != first.voxelSize.X || s.voxelSize.Y != first.voxelSize.Y {
			return nil, &ConsistencyError{
				Z: s.position.Z,
				Reason: fmt.Sprintf("voxel size (%g, %g) differs from (%g, %g)",
					s.voxelSize.X, s.voxelSize.Y, first.voxelSize.X, first.voxelSize.Y),
			}
		}
	}

	return &Grid{
		slices: ordered,
		size:   [3]int{first.width, first.height, len(ordered)},
	}, nil
}

// Size returns the number of voxels along x, y and z.
func (g *Grid) Size() [3]int { return g.size }

// NumVoxels returns the total number of voxels.
func (g *Grid) NumVoxels() int64 {
	return int64(g.size[0]) * int64(g.size[1]) * int64(g.size[2])
}

// Position returns the position of the lowest slice.
func (g *Grid) Position() r3.Vec { return g.slices[0].position }

// VoxelSize returns the voxel size of the lowest slice, taken as
// representative of the whole grid.
func (g *Grid) VoxelSize() r3.Vec { return g.slices[0].voxelSize }

// Slices returns the slices in ascending z. The returned slice header is a
// copy; the slices themselves are immutable.
func (g *Grid) Slices() []*Slice {
	out := make([]*Slice, len(g.slices))
	copy(out, g.slices)
	return out
}

// Slice returns the k-th slice in ascending z.
func (g *Grid) Slice(k int) *Slice { return g.slices[k] }

// BoundingBox returns the box covering the grid. The upper z is the
// position of the top slice; its thickness is not added.
func (g *Grid) BoundingBox() r3.Box {
	vs := g.VoxelSize()
	top := g.slices[len(g.slices)-1].position
	return r3.Box{
		Min: g.Position(),
		Max: r3.Add(top, r3.Vec{X: float64(g.size[0]) * vs.X, Y: float64(g.size[1]) * vs.Y}),
	}
}

// Resize keeps the slices whose z lies in [bbox.Min.Z, bbox.Max.Z] and crops
// each of them to the x/y extent of bbox. The receiver is unchanged.
func (g *Grid) Resize(bbox r3.Box) (*Grid, error) {
	rect := models.RectFromBox(bbox)

	var (
		kept     []*Slice
		retained int
		firstErr error
	)
	for _, s := range g.slices {
		if s.position.Z < bbox.Min.Z || s.position.Z > bbox.Max.Z {
			continue
		}
		retained++
		cropped, err := s.Resize(rect)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		kept = append(kept, cropped)
	}

	switch {
	case retained == 0:
		return nil, &EmptyResultError{
			Reason: fmt.Sprintf("no slice lies within z [%g, %g]", bbox.Min.Z, bbox.Max.Z),
		}
	case len(kept) == 0:
		return nil, &EmptyResultError{Reason: "crop failed for every slice", Err: firstErr}
	case firstErr != nil:
		return nil, firstErr
	}

	return NewGrid(kept)
}

// ResizeToStructure resizes the grid to the bounding box of the named
// structure.
func (g *Grid) ResizeToStructure(name string, structures StructureProvider) (*Grid, error) {
	if structures == nil {
		return nil, errors.New("no structure provider")
	}
	bbox, ok := structures.BoundingBox(name)
	if !ok {
		return nil, &UnknownStructureError{Name: name}
	}
	return g.Resize(bbox)
}

// String implements fmt.Stringer.
func (g *Grid) String() string {
	p, vs := g.Position(), g.VoxelSize()
	return fmt.Sprintf("phantom %dx%dx%d at (%g, %g, %g) mm; voxel %gx%gx%g mm",
		g.size[0], g.size[1], g.size[2], p.X, p.Y, p.Z, vs.X, vs.Y, vs.Z)
}
