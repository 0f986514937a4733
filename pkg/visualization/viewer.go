// Package visualization renders planes of a voxel phantom as grayscale
// images for visual quality checks.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"

	"ct2egsphant/pkg/materials"
	"ct2egsphant/pkg/phantom"
)

// Quantity selects the voxel value shown in an image.
type Quantity int

const (
	// Density shows mass density scaled to the phantom maximum
	Density Quantity = iota
	// Material shows the material number scaled to the table size
	Material
)

func (q Quantity) String() string {
	switch q {
	case Density:
		return "density"
	case Material:
		return "material"
	}
	return fmt.Sprintf("quantity(%d)", int(q))
}

// Viewer extracts planes from a phantom grid.
type Viewer struct {
	grid *phantom.Grid

	// dimensions of the grid
	width  int
	height int
	depth  int

	maxDensity   float64
	numMaterials int

	// scale enlarges saved images with nearest-neighbour sampling
	scale int
}

// NewViewer creates a viewer for g. Images are saved scale times larger
// than the voxel grid.
func NewViewer(g *phantom.Grid, table *materials.Table, scale int) *Viewer {
	if scale < 1 {
		scale = 1
	}
	size := g.Size()
	v := &Viewer{
		grid:         g,
		width:        size[0],
		height:       size[1],
		depth:        size[2],
		numMaterials: table.Size(),
		scale:        scale,
	}
	for _, s := range g.Slices() {
		for _, d := range s.Densities() {
			v.maxDensity = math.Max(v.maxDensity, d)
		}
	}
	return v
}

// value returns the voxel at (x, y, z) normalized to [0, 1].
func (v *Viewer) value(q Quantity, x, y, z int) float64 {
	s := v.grid.Slice(z)
	switch q {
	case Material:
		return float64(s.MaterialAt(y, x)) / float64(v.numMaterials)
	default:
		if v.maxDensity == 0 {
			return 0
		}
		return s.DensityAt(y, x) / v.maxDensity
	}
}

func gray(f float64) color.Gray16 {
	return color.Gray16{Y: uint16(math.Max(0, math.Min(65535, f*65535)))}
}

// extent returns the number of planes along axis.
func (v *Viewer) extent(axis string) (int, error) {
	switch strings.ToLower(axis) {
	case "x":
		return v.width, nil
	case "y":
		return v.height, nil
	case "z":
		return v.depth, nil
	}
	return 0, fmt.Errorf("unknown axis %q, want x, y or z", axis)
}

// ExtractSlice extracts the plane at position along axis. An x plane is
// depth wide and height tall, a y plane width wide and depth tall, and a z
// plane width wide and height tall.
func (v *Viewer) ExtractSlice(axis string, position int, q Quantity) (image.Image, error) {
	n, err := v.extent(axis)
	if err != nil {
		return nil, err
	}
	if position < 0 || position >= n {
		return nil, fmt.Errorf("%s plane %d outside [0, %d)", axis, position, n)
	}

	var img *image.Gray16
	switch strings.ToLower(axis) {
	case "x":
		img = image.NewGray16(image.Rect(0, 0, v.depth, v.height))
		for row := 0; row < v.height; row++ {
			for k := 0; k < v.depth; k++ {
				img.SetGray16(k, row, gray(v.value(q, position, row, k)))
			}
		}
	case "y":
		img = image.NewGray16(image.Rect(0, 0, v.width, v.depth))
		for k := 0; k < v.depth; k++ {
			for col := 0; col < v.width; col++ {
				img.SetGray16(col, k, gray(v.value(q, col, position, k)))
			}
		}
	default:
		img = image.NewGray16(image.Rect(0, 0, v.width, v.height))
		for row := 0; row < v.height; row++ {
			for col := 0; col < v.width; col++ {
				img.SetGray16(col, row, gray(v.value(q, col, row, position)))
			}
		}
	}
	return img, nil
}

// SaveSlice enlarges img by the viewer scale and saves it. The format
// follows the file extension.
func (v *Viewer) SaveSlice(img image.Image, filename string) error {
	if v.scale > 1 {
		b := img.Bounds()
		img = imaging.Resize(img, b.Dx()*v.scale, b.Dy()*v.scale, imaging.NearestNeighbor)
	}
	return imaging.Save(img, filename)
}

// SaveSliceSequence saves every plane along axis as slice_<axis>_NNN.png.
func (v *Viewer) SaveSliceSequence(axis string, outputDir string, q Quantity) error {
	n, err := v.extent(axis)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return fmt.Errorf("creating preview directory: %w", err)
	}
	for pos := 0; pos < n; pos++ {
		img, err := v.ExtractSlice(axis, pos, q)
		if err != nil {
			return err
		}
		name := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.png", axis, pos))
		if err := v.SaveSlice(img, name); err != nil {
			return fmt.Errorf("saving %s: %w", name, err)
		}
	}
	return nil
}
