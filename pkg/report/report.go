// Package report summarizes a phantom slice by slice and writes the summary
// as CSV for quality checks.
package report

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/gocarina/gocsv"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"ct2egsphant/pkg/materials"
	"ct2egsphant/pkg/phantom"
)

// Row describes one slice of the phantom.
type Row struct {
	Index          int     `csv:"index"`
	Z              float64 `csv:"z_mm"`
	Width          int     `csv:"width"`
	Height         int     `csv:"height"`
	Failed         int     `csv:"failed_pixels"`
	FailedFraction float64 `csv:"failed_fraction"`
	DensityMean    float64 `csv:"density_mean"`
	DensityStdDev  float64 `csv:"density_stddev"`
	DensityMin     float64 `csv:"density_min"`
	DensityMax     float64 `csv:"density_max"`
	Voxels         string  `csv:"voxels_per_material"`
}

// Summary holds whole-phantom totals.
type Summary struct {
	Slices      int
	Voxels      int64
	Failed      int
	DensityMean float64
	// PerMaterial counts voxels per material index; index 0 counts
	// unclassified voxels
	PerMaterial []int
}

// FromGrid builds one row per slice. Classification reports are matched to
// slices by z; slices without a report have no failures.
func FromGrid(g *phantom.Grid, table *materials.Table, reports []*phantom.ClassificationReport) []*Row {
	byZ := make(map[float64]*phantom.ClassificationReport, len(reports))
	for _, r := range reports {
		if r != nil {
			byZ[r.Z] = r
		}
	}

	names := table.Names()
	rows := make([]*Row, 0, g.Size()[2])
	for k, s := range g.Slices() {
		dens := s.Densities()
		row := &Row{
			Index:      k,
			Z:          s.Z(),
			Width:      s.Width(),
			Height:     s.Height(),
			DensityMin: floats.Min(dens),
			DensityMax: floats.Max(dens),
			Voxels:     formatCounts(names, countMaterials(s.Materials(), table.Size())),
		}
		row.DensityMean, row.DensityStdDev = stat.MeanStdDev(dens, nil)
		if r, ok := byZ[s.Z()]; ok {
			row.Failed = r.Failed()
			row.FailedFraction = r.FailedFraction()
		}
		rows = append(rows, row)
	}
	return rows
}

// Summarize computes whole-phantom totals.
func Summarize(g *phantom.Grid, table *materials.Table, reports []*phantom.ClassificationReport) Summary {
	sum := Summary{
		Slices:      g.Size()[2],
		Voxels:      g.NumVoxels(),
		PerMaterial: make([]int, table.Size()+1),
	}
	means := make([]float64, 0, sum.Slices)
	weights := make([]float64, 0, sum.Slices)
	for _, s := range g.Slices() {
		counts := countMaterials(s.Materials(), table.Size())
		for i, c := range counts {
			sum.PerMaterial[i] += c
		}
		means = append(means, stat.Mean(s.Densities(), nil))
		weights = append(weights, float64(s.Width()*s.Height()))
	}
	sum.DensityMean = stat.Mean(means, weights)
	for _, r := range reports {
		if r != nil {
			sum.Failed += r.Failed()
		}
	}
	return sum
}

func countMaterials(mat []int, n int) []int {
	counts := make([]int, n+1)
	for _, m := range mat {
		if m >= 0 && m <= n {
			counts[m]++
		}
	}
	return counts
}

// formatCounts renders counts as "NAME=n" pairs in table order, with
// unclassified voxels listed first when present.
func formatCounts(names []string, counts []int) string {
	parts := make([]string, 0, len(counts))
	if counts[0] > 0 {
		parts = append(parts, fmt.Sprintf("unclassified=%d", counts[0]))
	}
	for i, name := range names {
		parts = append(parts, fmt.Sprintf("%s=%d", name, counts[i+1]))
	}
	return strings.Join(parts, " ")
}

// WriteCSV writes rows with a header line.
func WriteCSV(out io.Writer, rows []*Row) error {
	return gocsv.Marshal(rows, out)
}

// WriteCSVFile writes rows to path.
func WriteCSVFile(path string, rows []*Row) error {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, rows); err != nil {
		return fmt.Errorf("error encoding report: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("error writing report: %w", err)
	}
	return nil
}

// ReadCSV parses a report written by WriteCSV.
func ReadCSV(data []byte) ([]*Row, error) {
	var rows []*Row
	if err := gocsv.UnmarshalBytes(data, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}
