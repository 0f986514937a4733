package models

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"
)

// CTImage represents a single calibrated CT cross-section as handed over by
// the DICOM loader.
type CTImage struct {
	// Filename is the base name of the file the image was read from
	Filename string

	// Path is the file the image was read from; empty for images built in memory
	Path string

	// Rows and Columns are the pixel dimensions of the image
	Rows    int
	Columns int

	// PixelSpacing is the in-plane voxel size in mm (X: column spacing, Y: row spacing)
	PixelSpacing struct {
		X, Y float64
	}

	// SliceThickness is the physical thickness of the slice in mm
	SliceThickness float64

	// Position is the patient-space position of the first pixel in mm
	Position r3.Vec

	// Pixels holds Rows*Columns calibrated values in row-major order
	Pixels []int
}

// VoxelSize returns the voxel size of the image, with the slice thickness as Z.
func (img *CTImage) VoxelSize() r3.Vec {
	return r3.Vec{X: img.PixelSpacing.X, Y: img.PixelSpacing.Y, Z: img.SliceThickness}
}

// At returns the pixel value at the given row and column.
func (img *CTImage) At(row, col int) int {
	return img.Pixels[row*img.Columns+col]
}

// Validate checks that the image geometry is usable for voxelization.
func (img *CTImage) Validate() error {
	if img.Rows <= 0 || img.Columns <= 0 {
		return fmt.Errorf("invalid image dimensions %dx%d", img.Columns, img.Rows)
	}
	if len(img.Pixels) != img.Rows*img.Columns {
		return fmt.Errorf("pixel count %d does not match dimensions %dx%d",
			len(img.Pixels), img.Columns, img.Rows)
	}
	if img.PixelSpacing.X <= 0 || img.PixelSpacing.Y <= 0 {
		return fmt.Errorf("invalid pixel spacing (%g, %g)", img.PixelSpacing.X, img.PixelSpacing.Y)
	}
	return nil
}

// Rect is an axis-aligned rectangle in the slice plane, in mm.
type Rect struct {
	X, Y          float64
	Width, Height float64
}

// String implements fmt.Stringer.
func (r Rect) String() string {
	return fmt.Sprintf("(%g, %g) %gx%g mm", r.X, r.Y, r.Width, r.Height)
}

// RectFromBox returns the in-plane extent of a bounding box.
func RectFromBox(b r3.Box) Rect {
	return Rect{
		X:      b.Min.X,
		Y:      b.Min.Y,
		Width:  b.Max.X - b.Min.X,
		Height: b.Max.Y - b.Min.Y,
	}
}
