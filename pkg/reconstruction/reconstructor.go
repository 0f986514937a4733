// Package reconstruction runs the CT to phantom conversion pipeline: load
// the CT series, classify every slice in parallel, assemble and crop the
// voxel grid and write the egsphant file with its companion outputs.
package reconstruction

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/spatial/r3"

	"ct2egsphant/internal/models"
	"ct2egsphant/pkg/classifier"
	"ct2egsphant/pkg/dicomload"
	"ct2egsphant/pkg/egsphant"
	"ct2egsphant/pkg/logging"
	"ct2egsphant/pkg/materials"
	"ct2egsphant/pkg/phantom"
	"ct2egsphant/pkg/report"
	"ct2egsphant/pkg/visualization"
)

// Params holds the conversion parameters.
type Params struct {
	// InputDir is the directory holding the CT DICOM files. It is ignored
	// when Images is set.
	InputDir string

	// Images are already loaded CT images; they bypass the DICOM loader
	Images []*models.CTImage

	// Dicom controls file selection and pixel calibration
	Dicom dicomload.Options

	// OutputFile is the egsphant path; a ".gz" suffix compresses it
	OutputFile string

	// NumCores bounds the number of slices classified at once
	NumCores int

	// MaxFailedFraction is the largest share of unclassified pixels a
	// slice may have; zero tolerates no failures
	MaxFailedFraction float64

	// Table and Classifier default to the standard 700ICRU ramp
	Table      *materials.Table
	Classifier classifier.Classifier

	// BoundingBox crops the grid when set
	BoundingBox *r3.Box

	// Structure names a region of Structures to crop the grid to
	Structure  string
	Structures phantom.StructureProvider

	// ManifestName is written next to the output file; empty disables it
	ManifestName   string
	ManifestPrefix string

	// ReportCSV is the per-slice report path; empty disables it
	ReportCSV string

	// PreviewDir receives density planes along each axis; empty disables it
	PreviewDir   string
	PreviewScale int
}

// Reconstructor converts one CT series into a phantom.
type Reconstructor struct {
	params *Params

	table      *materials.Table
	classifier classifier.Classifier

	images  []*models.CTImage
	slices  []*phantom.Slice
	reports []*phantom.ClassificationReport
	grid    *phantom.Grid
	rows    []*report.Row
}

// NewReconstructor creates a reconstructor for params.
func NewReconstructor(params *Params) *Reconstructor {
	return &Reconstructor{params: params}
}

// Process runs the complete pipeline. Cancelling ctx aborts it before any
// output is written.
func (r *Reconstructor) Process(ctx context.Context) error {
	tlog := logging.NewTimeLog()

	if err := r.Assemble(ctx); err != nil {
		return err
	}

	logging.Infof("Step 4: Writing %s...", r.params.OutputFile)
	if err := r.writeOutputs(ctx); err != nil {
		return err
	}

	tlog.Infof("converted %d slices into %s voxels", r.grid.Size()[2], humanize.Comma(r.grid.NumVoxels()))
	return nil
}

// Assemble loads, classifies and crops the series without writing
// anything. Grid returns the result.
func (r *Reconstructor) Assemble(ctx context.Context) error {
	if err := r.setup(); err != nil {
		return err
	}

	logging.Infof("Step 1: Loading CT images...")
	if err := r.loadImages(ctx); err != nil {
		return fmt.Errorf("failed to load images: %w", err)
	}

	logging.Infof("Step 2: Classifying %d slices on %d cores...", len(r.images), r.numWorkers())
	if err := r.classifySlices(ctx); err != nil {
		return fmt.Errorf("failed to classify slices: %w", err)
	}

	logging.Infof("Step 3: Assembling voxel grid...")
	if err := r.assembleGrid(); err != nil {
		return fmt.Errorf("failed to assemble grid: %w", err)
	}
	return ctx.Err()
}

func (r *Reconstructor) setup() error {
	r.table = r.params.Table
	if r.table == nil {
		r.table = materials.Default()
	}
	r.classifier = r.params.Classifier
	if r.classifier == nil {
		ramp, err := classifier.Default(r.table)
		if err != nil {
			return fmt.Errorf("failed to build classifier: %w", err)
		}
		r.classifier = ramp
	}
	return nil
}

func (r *Reconstructor) numWorkers() int {
	if r.params.NumCores > 0 {
		return r.params.NumCores
	}
	return runtime.NumCPU()
}

func (r *Reconstructor) loadImages(ctx context.Context) error {
	if r.params.Images != nil {
		r.images = make([]*models.CTImage, len(r.params.Images))
		copy(r.images, r.params.Images)
		if len(r.images) == 0 {
			return fmt.Errorf("no CT images given")
		}
		return dicomload.SortByZ(r.images)
	}

	opts := r.params.Dicom
	if opts.Workers == 0 {
		opts.Workers = r.numWorkers()
	}
	images, err := dicomload.LoadDir(ctx, r.params.InputDir, opts)
	if err != nil {
		return err
	}
	r.images = images

	first := images[0]
	logging.Infof("Loaded %d images of %dx%d pixels (%g x %g mm, %g mm thick)",
		len(images), first.Columns, first.Rows, first.PixelSpacing.X, first.PixelSpacing.Y, first.SliceThickness)
	return nil
}

// classifySlices classifies every image on a bounded pool of workers. Each
// worker writes only its own index, and Wait is the barrier before the
// results are read.
func (r *Reconstructor) classifySlices(ctx context.Context) error {
	n := len(r.images)
	slices := make([]*phantom.Slice, n)
	reports := make([]*phantom.ClassificationReport, n)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.numWorkers())
	for i, img := range r.images {
		i, img := i, img
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			s, rep, err := phantom.NewSlice(img, r.classifier)
			if err != nil {
				return err
			}
			if rep.FailedFraction() > r.params.MaxFailedFraction {
				return fmt.Errorf("%s: %w", img.Filename, rep.Err())
			}
			if rep.Failed() > 0 {
				logging.Warningf("%s: %s of %s pixels left unclassified",
					img.Filename, humanize.Comma(int64(rep.Failed())), humanize.Comma(int64(rep.Pixels)))
			}
			slices[i], reports[i] = s, rep
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	r.slices, r.reports = slices, reports
	return nil
}

func (r *Reconstructor) assembleGrid() error {
	g, err := phantom.NewGrid(r.slices)
	if err != nil {
		return err
	}
	logging.Debugf("full grid: %v", g)

	switch {
	case r.params.Structure != "":
		if r.params.Structures == nil {
			return fmt.Errorf("structure %q requested without a structure set", r.params.Structure)
		}
		if g, err = g.ResizeToStructure(r.params.Structure, r.params.Structures); err != nil {
			return err
		}
		logging.Infof("Cropped to structure %s: %v", r.params.Structure, g)
	case r.params.BoundingBox != nil:
		if g, err = g.Resize(*r.params.BoundingBox); err != nil {
			return err
		}
		logging.Infof("Cropped to bounding box: %v", g)
	}

	r.grid = g
	return nil
}

func (r *Reconstructor) writeOutputs(ctx context.Context) error {
	path := r.params.OutputFile
	if path == "" {
		return fmt.Errorf("no output file given")
	}
	if err := egsphant.WriteFile(path, r.grid, r.table); err != nil {
		return fmt.Errorf("failed to write phantom: %w", err)
	}
	if info, err := os.Stat(path); err == nil {
		logging.Infof("Wrote %s (%s)", path, humanize.Bytes(uint64(info.Size())))
	}

	if r.params.ManifestName != "" {
		if err := r.writeManifest(ctx, filepath.Dir(path)); err != nil {
			return err
		}
	}

	r.rows = report.FromGrid(r.grid, r.table, r.retainedReports())
	if r.params.ReportCSV != "" {
		if err := report.WriteCSVFile(r.params.ReportCSV, r.rows); err != nil {
			return err
		}
		logging.Infof("Wrote slice report %s", r.params.ReportCSV)
	}

	if r.params.PreviewDir != "" {
		viewer := visualization.NewViewer(r.grid, r.table, r.params.PreviewScale)
		for _, axis := range []string{"x", "y", "z"} {
			dir := filepath.Join(r.params.PreviewDir, axis)
			if err := viewer.SaveSliceSequence(axis, dir, visualization.Density); err != nil {
				logging.Warningf("Failed to save %s-axis previews: %v", axis, err)
			}
		}
	}
	return nil
}

// writeManifest lists the images behind the slices of the written grid,
// next to stripped copies of them when a prefix is set.
func (r *Reconstructor) writeManifest(ctx context.Context, dir string) error {
	images := r.retainedImages()
	if r.params.ManifestPrefix != "" {
		if err := dicomload.StripSeries(ctx, dir, r.params.ManifestPrefix, images, r.numWorkers()); err != nil {
			return fmt.Errorf("failed to write stripped images: %w", err)
		}
	}
	manifest := filepath.Join(dir, r.params.ManifestName)
	if err := dicomload.WriteManifest(manifest, r.params.ManifestPrefix, images); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	logging.Debugf("Wrote manifest %s with %d entries", manifest, len(images))
	return nil
}

// retainedImages returns the source image of every grid slice, in grid
// order. Cropping keeps each slice's z.
func (r *Reconstructor) retainedImages() []*models.CTImage {
	byZ := make(map[float64]*models.CTImage, len(r.images))
	for _, img := range r.images {
		byZ[img.Position.Z] = img
	}
	images := make([]*models.CTImage, 0, r.grid.Size()[2])
	for _, s := range r.grid.Slices() {
		if img, ok := byZ[s.Z()]; ok {
			images = append(images, img)
		}
	}
	return images
}

// retainedReports returns the classification reports of the grid slices.
func (r *Reconstructor) retainedReports() []*phantom.ClassificationReport {
	byZ := make(map[float64]*phantom.ClassificationReport, len(r.reports))
	for _, rep := range r.reports {
		byZ[rep.Z] = rep
	}
	reports := make([]*phantom.ClassificationReport, 0, r.grid.Size()[2])
	for _, s := range r.grid.Slices() {
		if rep, ok := byZ[s.Z()]; ok {
			reports = append(reports, rep)
		}
	}
	return reports
}

// Grid returns the phantom written by Process.
func (r *Reconstructor) Grid() *phantom.Grid {
	return r.grid
}

// Reports returns the classification reports of the slices in the grid,
// in z order.
func (r *Reconstructor) Reports() []*phantom.ClassificationReport {
	return r.retainedReports()
}

// Rows returns the per-slice report of the written phantom.
func (r *Reconstructor) Rows() []*report.Row {
	return r.rows
}

// Summary returns whole-phantom totals of the written phantom.
func (r *Reconstructor) Summary() report.Summary {
	return report.Summarize(r.grid, r.table, r.retainedReports())
}

// FormatSummary renders the summary one material per line.
func (r *Reconstructor) FormatSummary() string {
	sum := r.Summary()
	size := r.grid.Size()
	var b strings.Builder
	fmt.Fprintf(&b, "Phantom: %d x %d x %d = %s voxels\n", size[0], size[1], size[2], humanize.Comma(sum.Voxels))
	fmt.Fprintf(&b, "Mean density: %.4f g/cm^3\n", sum.DensityMean)
	if sum.PerMaterial[0] > 0 {
		fmt.Fprintf(&b, "  %-20s %12s\n", "unclassified", humanize.Comma(int64(sum.PerMaterial[0])))
	}
	for i, name := range r.table.Names() {
		fmt.Fprintf(&b, "  %-20s %12s\n", name, humanize.Comma(int64(sum.PerMaterial[i+1])))
	}
	return b.String()
}
