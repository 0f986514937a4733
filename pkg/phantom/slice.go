// Package phantom assembles classified CT slices into the voxel grid that is
// written out as an egsphant file.
package phantom

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"ct2egsphant/internal/models"
	"ct2egsphant/pkg/classifier"
)

// pixelTolerance absorbs floating-point noise when millimetres are converted
// to pixel counts, so that 512*0.977/0.977 still floors to 512.
const pixelTolerance = 1e-6

// PixelFailure records a pixel the classifier rejected.
type PixelFailure struct {
	Row, Col int
	HU       int
}

// ClassificationReport aggregates the per-pixel classification failures of
// one slice. Failed pixels keep material 0 and density 0.
type ClassificationReport struct {
	Z        float64
	Pixels   int
	Failures []PixelFailure
}

// Failed returns the number of pixels that could not be classified.
func (r *ClassificationReport) Failed() int {
	return len(r.Failures)
}

// FailedFraction returns the share of unclassified pixels.
func (r *ClassificationReport) FailedFraction() float64 {
	if r.Pixels == 0 {
		return 0
	}
	return float64(len(r.Failures)) / float64(r.Pixels)
}

// Err summarizes the failures as an error, or returns nil if there are none.
func (r *ClassificationReport) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	first := r.Failures[0]
	return fmt.Errorf("slice z=%g: %d of %d pixels unclassified (first at row %d col %d: %w)",
		r.Z, len(r.Failures), r.Pixels, first.Row, first.Col, &classifier.OutOfRangeError{HU: first.HU})
}

// Slice is one classified cross-section. Material and density are stored
// as dense row-major arrays aligned to the source pixel grid.
type Slice struct {
	position  r3.Vec
	voxelSize r3.Vec
	width     int
	height    int
	material  []int
	density   []float64
}

// NewSlice classifies every pixel of img. Pixels outside every ramp bracket
// are recorded in the report rather than aborting construction.
func NewSlice(img *models.CTImage, c classifier.Classifier) (*Slice, *ClassificationReport, error) {
	if err := img.Validate(); err != nil {
		return nil, nil, fmt.Errorf("image %s: %w", img.Filename, err)
	}

	n := img.Rows * img.Columns
	s := &Slice{
		position:  img.Position,
		voxelSize: img.VoxelSize(),
		width:     img.Columns,
		height:    img.Rows,
		material:  make([]int, n),
		density:   make([]float64, n),
	}
	report := &ClassificationReport{Z: img.Position.Z, Pixels: n}

	for i, hu := range img.Pixels {
		mat, dens, err := c.Classify(hu)
		if err != nil {
			report.Failures = append(report.Failures, PixelFailure{
				Row: i / img.Columns,
				Col: i % img.Columns,
				HU:  hu,
			})
			continue
		}
		s.material[i] = mat
		s.density[i] = dens
	}

	return s, report, nil
}

// FromArrays builds a slice from already classified arrays. The arrays are
// copied.
func FromArrays(position, voxelSize r3.Vec, width, height int, material []int, density []float64) (*Slice, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid slice dimensions %dx%d", width, height)
	}
	if len(material) != width*height || len(density) != width*height {
		return nil, fmt.Errorf("array lengths %d/%d do not match dimensions %dx%d",
			len(material), len(density), width, height)
	}
	if voxelSize.X <= 0 || voxelSize.Y <= 0 {
		return nil, fmt.Errorf("invalid voxel size (%g, %g)", voxelSize.X, voxelSize.Y)
	}
	s := &Slice{
		position:  position,
		voxelSize: voxelSize,
		width:     width,
		height:    height,
		material:  make([]int, len(material)),
		density:   make([]float64, len(density)),
	}
	copy(s.material, material)
	copy(s.density, density)
	return s, nil
}

// Position returns the position of the slice's first pixel in mm.
func (s *Slice) Position() r3.Vec { return s.position }

// VoxelSize returns the voxel size in mm; Z is the slice thickness.
func (s *Slice) VoxelSize() r3.Vec { return s.voxelSize }

// Z returns the z position of the slice.
func (s *Slice) Z() float64 { return s.position.Z }

// Width returns the number of columns.
func (s *Slice) Width() int { return s.width }

// Height returns the number of rows.
func (s *Slice) Height() int { return s.height }

// MaterialAt returns the material index at row, col.
func (s *Slice) MaterialAt(row, col int) int {
	return s.material[row*s.width+col]
}

// DensityAt returns the mass density at row, col in g/cm^3.
func (s *Slice) DensityAt(row, col int) float64 {
	return s.density[row*s.width+col]
}

// Materials returns a copy of the row-major material array.
func (s *Slice) Materials() []int {
	out := make([]int, len(s.material))
	copy(out, s.material)
	return out
}

// Densities returns a copy of the row-major density array.
func (s *Slice) Densities() []float64 {
	out := make([]float64, len(s.density))
	copy(out, s.density)
	return out
}

// Resize crops the slice to rect, given in mm. The receiver is left
// untouched; the cropped slice is positioned at the rectangle's origin.
func (s *Slice) Resize(rect models.Rect) (*Slice, error) {
	x0 := pixelFloor((rect.X - s.position.X) / s.voxelSize.X)
	y0 := pixelFloor((rect.Y - s.position.Y) / s.voxelSize.Y)
	w := pixelFloor(rect.Width / s.voxelSize.X)
	h := pixelFloor(rect.Height / s.voxelSize.Y)

	fail := func(format string, args ...interface{}) (*Slice, error) {
		return nil, &ResizeError{Z: s.position.Z, Rect: rect, Reason: fmt.Sprintf(format, args...)}
	}
	switch {
	case w <= 0 || h <= 0:
		return fail("pixel extent %dx%d is empty", w, h)
	case x0 < 0 || y0 < 0:
		return fail("pixel origin (%d, %d) is before the slice origin", x0, y0)
	case w > s.width || h > s.height || x0 > s.width-w || y0 > s.height-h:
		return fail("pixel rectangle (%d, %d) %dx%d exceeds slice %dx%d", x0, y0, w, h, s.width, s.height)
	}

	out := &Slice{
		position:  r3.Vec{X: rect.X, Y: rect.Y, Z: s.position.Z},
		voxelSize: s.voxelSize,
		width:     w,
		height:    h,
		material:  make([]int, w*h),
		density:   make([]float64, w*h),
	}
	for row := 0; row < h; row++ {
		src := (y0+row)*s.width + x0
		copy(out.material[row*w:(row+1)*w], s.material[src:src+w])
		copy(out.density[row*w:(row+1)*w], s.density[src:src+w])
	}
	return out, nil
}

// String implements fmt.Stringer.
func (s *Slice) String() string {
	return fmt.Sprintf("slice at (%g, %g, %g) mm; %dx%d voxels of %gx%gx%g mm",
		s.position.X, s.position.Y, s.position.Z, s.width, s.height,
		s.voxelSize.X, s.voxelSize.Y, s.voxelSize.Z)
}

// pixelFloor floors v to a pixel index, saturating at ±math.MaxInt32 so
// that huge or non-finite crop rectangles still fail the bounds checks.
func pixelFloor(v float64) int {
	f := math.Floor(v + pixelTolerance)
	switch {
	case math.IsNaN(f) || f < math.MinInt32:
		return math.MinInt32
	case f > math.MaxInt32:
		return math.MaxInt32
	}
	return int(f)
}
