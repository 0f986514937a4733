// Package dicomload reads CT series from DICOM files into models.CTImage
// values and writes the manifest of the converted series.
package dicomload

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/dicomtag"
	"github.com/suyashkumar/dicom/element"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/spatial/r3"

	"ct2egsphant/internal/models"
	"ct2egsphant/pkg/logging"
)

// DefaultFilePattern matches the CT image files of an exported plan.
const DefaultFilePattern = "CT*.dcm"

// Options controls how stored pixel values are turned into classifier input.
type Options struct {
	// ApplyRescale converts stored values with RescaleSlope and
	// RescaleIntercept before Offset is added
	ApplyRescale bool

	// Offset is added to every pixel value
	Offset int

	// FilePattern is the base-name glob LoadDir uses to select files
	FilePattern string

	// Workers bounds the number of files parsed at once; 0 means NumCPU
	Workers int
}

// DefaultOptions returns options that hand stored pixel values to the
// classifier unchanged.
func DefaultOptions() Options {
	return Options{FilePattern: DefaultFilePattern}
}

// Calibrate maps a stored pixel value to the classifier input.
func (o Options) Calibrate(stored int, slope, intercept float64) int {
	v := stored
	if o.ApplyRescale {
		v = int(math.Round(float64(stored)*slope + intercept))
	}
	return v + o.Offset
}

// LoadFile reads one CT image.
func LoadFile(path string, opts Options) (*models.CTImage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	img, err := Decode(data, opts)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	img.Filename = filepath.Base(path)
	img.Path = path
	return img, nil
}

// safelyParse turns panics raised by the dicom parser into errors.
func safelyParse(p dicom.Parser) (ds *element.DataSet, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dicom parser: %v", r)
		}
	}()
	return p.Parse(dicom.ParseOptions{DropPixelData: false})
}

// Decode parses an in-memory DICOM file.
func Decode(data []byte, opts Options) (*models.CTImage, error) {
	p, err := dicom.NewParserFromBytes(data, nil)
	if err != nil {
		return nil, err
	}
	ds, err := safelyParse(p)
	if ds == nil || err != nil {
		return nil, fmt.Errorf("error reading dicom: %v", err)
	}

	img := &models.CTImage{}
	slope, intercept := 1.0, 0.0
	var stored []int

	for _, elem := range ds.Elements {
		if len(elem.Value) == 0 {
			continue
		}
		switch elem.Tag {
		case dicomtag.Rows:
			img.Rows, err = uintValue(elem)
		case dicomtag.Columns:
			img.Columns, err = uintValue(elem)
		case dicomtag.PixelSpacing:
			var v []float64
			if v, err = decimalValues(elem, 2); err == nil {
				img.PixelSpacing.X, img.PixelSpacing.Y = v[0], v[1]
			}
		case dicomtag.SliceThickness:
			var v []float64
			if v, err = decimalValues(elem, 1); err == nil {
				img.SliceThickness = v[0]
			}
		case dicomtag.ImagePositionPatient:
			var v []float64
			if v, err = decimalValues(elem, 3); err == nil {
				img.Position = r3.Vec{X: v[0], Y: v[1], Z: v[2]}
			}
		case dicomtag.RescaleSlope:
			var v []float64
			if v, err = decimalValues(elem, 1); err == nil {
				slope = v[0]
			}
		case dicomtag.RescaleIntercept:
			var v []float64
			if v, err = decimalValues(elem, 1); err == nil {
				intercept = v[0]
			}
		case dicomtag.PixelData:
			stored, err = nativePixels(elem)
		}
		if err != nil {
			return nil, fmt.Errorf("tag %s: %w", elem.Tag, err)
		}
	}

	if stored == nil {
		return nil, fmt.Errorf("no pixel data")
	}
	img.Pixels = make([]int, len(stored))
	for i, v := range stored {
		img.Pixels[i] = opts.Calibrate(v, slope, intercept)
	}
	if err := img.Validate(); err != nil {
		return nil, err
	}
	return img, nil
}

func uintValue(elem *element.Element) (int, error) {
	v, ok := elem.Value[0].(uint16)
	if !ok {
		return 0, fmt.Errorf("expected uint16, got %T", elem.Value[0])
	}
	return int(v), nil
}

// decimalValues parses the first n decimal-string values of elem.
func decimalValues(elem *element.Element, n int) ([]float64, error) {
	if len(elem.Value) < n {
		return nil, fmt.Errorf("expected %d values, got %d", n, len(elem.Value))
	}
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		s, ok := elem.Value[i].(string)
		if !ok {
			return nil, fmt.Errorf("expected decimal string, got %T", elem.Value[i])
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil, err
		}
		out[i] = f
	}
	return out, nil
}

// nativePixels returns the first sample of every pixel of the first frame.
func nativePixels(elem *element.Element) ([]int, error) {
	info, ok := elem.Value[0].(element.PixelDataInfo)
	if !ok {
		return nil, fmt.Errorf("unexpected pixel data type %T", elem.Value[0])
	}
	if len(info.Frames) == 0 {
		return nil, fmt.Errorf("pixel data has no frames")
	}
	frame := info.Frames[0]
	if frame.IsEncapsulated() {
		return nil, fmt.Errorf("encapsulated pixel data is not supported")
	}
	pixels := make([]int, len(frame.NativeData.Data))
	for j, sample := range frame.NativeData.Data {
		pixels[j] = sample[0]
	}
	return pixels, nil
}

// ListFiles returns the files in dir whose base name matches pattern, in
// lexical order.
func ListFiles(dir, pattern string) ([]string, error) {
	if pattern == "" {
		pattern = DefaultFilePattern
	}
	if _, err := filepath.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("bad file pattern %q: %w", pattern, err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if ok, _ := filepath.Match(pattern, e.Name()); ok {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	return files, nil
}

// LoadDir reads every matching CT image in dir and returns them ordered by
// ascending z.
func LoadDir(ctx context.Context, dir string, opts Options) ([]*models.CTImage, error) {
	files, err := ListFiles(dir, opts.FilePattern)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no files matching %q in %s", opts.FilePattern, dir)
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	images := make([]*models.CTImage, len(files))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, path := range files {
		i, path := i, path
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			img, err := LoadFile(path, opts)
			if err != nil {
				return err
			}
			images[i] = img
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if err := SortByZ(images); err != nil {
		return nil, err
	}
	logging.Debugf("loaded %d CT images from %s", len(images), dir)
	return images, nil
}

// SortByZ orders images by ascending z and rejects duplicate positions.
func SortByZ(images []*models.CTImage) error {
	sort.SliceStable(images, func(i, j int) bool {
		return images[i].Position.Z < images[j].Position.Z
	})
	for i := 1; i < len(images); i++ {
		if images[i].Position.Z == images[i-1].Position.Z {
			return fmt.Errorf("%s and %s share z position %g",
				images[i-1].Filename, images[i].Filename, images[i].Position.Z)
		}
	}
	return nil
}
