// Package egsphant reads and writes the plain-text voxel phantom format
// used by EGSnrc/DOSXYZnrc.
//
// Layout, in order:
//
//	material count, then one material name per line (table order)
//	one placeholder ESTEPE value per material, on one line
//	nx ny nz
//	x, y and z voxel edges in cm, five per line, each axis closed by a blank line
//	per slice: ny lines of nx single-digit material numbers, then a blank line
//	per slice: ny rows of nx densities, five per line, then a blank line
package egsphant

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"

	"ct2egsphant/pkg/materials"
	"ct2egsphant/pkg/phantom"
)

const (
	// valuesPerLine is the wrap width for edge and density values
	valuesPerLine = 5

	// maxMaterials is the largest table the single-digit raster can encode
	maxMaterials = 9

	// estepe is the dummy ESTEPE value written for every material
	estepe = 1.0

	// Suffix is the conventional file extension
	Suffix = ".egsphant"
)

// IOError reports a failure while writing or reading a phantom file.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("egsphant %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("egsphant %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// FormatError reports data that cannot be represented in, or parsed from,
// the egsphant format.
type FormatError struct {
	Reason string
}

func (e *FormatError) Error() string {
	return "egsphant format: " + e.Reason
}

// writer wraps a buffered writer and remembers the first error so the
// layout code can stay linear.
type writer struct {
	w   *bufio.Writer
	err error
}

func (w *writer) printf(format string, args ...interface{}) {
	if w.err != nil {
		return
	}
	_, w.err = fmt.Fprintf(w.w, format, args...)
}

func (w *writer) writeByte(c byte) {
	if w.err != nil {
		return
	}
	w.err = w.w.WriteByte(c)
}

// Write serializes the grid to out in a single forward pass.
func Write(out io.Writer, g *phantom.Grid, table *materials.Table) error {
	if table.Size() > maxMaterials {
		return &FormatError{Reason: fmt.Sprintf("%d materials exceed the single-digit material raster", table.Size())}
	}
	if err := checkMaterialRaster(g, table); err != nil {
		return err
	}

	w := &writer{w: bufio.NewWriter(out)}
	writeHeader(w, table)
	writeVoxelEdges(w, g)
	writeMaterialRaster(w, g)
	writeDensityRaster(w, g)
	if w.err != nil {
		return &IOError{Op: "write", Err: w.err}
	}
	if err := w.w.Flush(); err != nil {
		return &IOError{Op: "write", Err: err}
	}
	return nil
}

func checkMaterialRaster(g *phantom.Grid, table *materials.Table) error {
	for k, s := range g.Slices() {
		for row := 0; row < s.Height(); row++ {
			for col := 0; col < s.Width(); col++ {
				if m := s.MaterialAt(row, col); m < 0 || m > table.Size() {
					return &FormatError{Reason: fmt.Sprintf("material %d at slice %d row %d col %d is not in the table", m, k, row, col)}
				}
			}
		}
	}
	return nil
}

func writeHeader(w *writer, table *materials.Table) {
	w.printf("%2d\n", table.Size())
	for _, name := range table.Names() {
		w.printf("%s\n", name)
	}
	for i := 0; i < table.Size(); i++ {
		w.printf("  %.7E", estepe)
	}
	w.writeByte('\n')
}

func writeVoxelEdges(w *writer, g *phantom.Grid) {
	size := g.Size()
	w.printf("%5d%5d%5d\n", size[0], size[1], size[2])

	pos, vs := g.Position(), g.VoxelSize()
	starts := [3]float64{pos.X, pos.Y, pos.Z}
	steps := [3]float64{vs.X, vs.Y, vs.Z}
	for axis := 0; axis < 3; axis++ {
		edges := make([]float64, size[axis]+1)
		for i := range edges {
			// mm to cm
			edges[i] = (starts[axis] + float64(i)*steps[axis]) / 10
		}
		writeWrapped(w, edges)
		w.writeByte('\n')
	}
}

func writeMaterialRaster(w *writer, g *phantom.Grid) {
	for _, s := range g.Slices() {
		for row := 0; row < s.Height(); row++ {
			for col := 0; col < s.Width(); col++ {
				w.writeByte(byte('0' + s.MaterialAt(row, col)))
			}
			w.writeByte('\n')
		}
		w.writeByte('\n')
	}
}

func writeDensityRaster(w *writer, g *phantom.Grid) {
	row := make([]float64, g.Size()[0])
	for _, s := range g.Slices() {
		for r := 0; r < s.Height(); r++ {
			for col := range row {
				row[col] = s.DensityAt(r, col)
			}
			writeWrapped(w, row)
		}
		w.writeByte('\n')
	}
}

// writeWrapped writes values five per line and terminates the last line.
func writeWrapped(w *writer, values []float64) {
	for i, v := range values {
		w.printf("  % .6f    ", v)
		if (i+1)%valuesPerLine == 0 {
			w.writeByte('\n')
		}
	}
	if len(values)%valuesPerLine != 0 {
		w.writeByte('\n')
	}
}

// WriteFile writes the phantom to path through a temporary file in the same
// directory that is renamed into place only after a complete write. A path
// ending in ".gz" is gzip-compressed.
func WriteFile(path string, g *phantom.Grid, table *materials.Table) (err error) {
	dir, base := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	tmp, err := os.CreateTemp(dir, "."+base+".tmp-*")
	if err != nil {
		return &IOError{Op: "create", Path: path, Err: err}
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	var out io.Writer = tmp
	var gz *gzip.Writer
	if strings.HasSuffix(path, ".gz") {
		gz = gzip.NewWriter(tmp)
		out = gz
	}

	if err = Write(out, g, table); err != nil {
		if ioErr, ok := err.(*IOError); ok {
			ioErr.Path = path
		}
		return err
	}
	if gz != nil {
		if err = gz.Close(); err != nil {
			return &IOError{Op: "compress", Path: path, Err: err}
		}
	}
	if err = tmp.Sync(); err != nil {
		return &IOError{Op: "sync", Path: path, Err: err}
	}
	if err = tmp.Close(); err != nil {
		return &IOError{Op: "close", Path: path, Err: err}
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return &IOError{Op: "rename", Path: path, Err: err}
	}
	return nil
}
