package reconstruction

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"

	"ct2egsphant/internal/models"
	"ct2egsphant/pkg/classifier"
	"ct2egsphant/pkg/dicomload"
	"ct2egsphant/pkg/egsphant"
	"ct2egsphant/pkg/phantom"
	"ct2egsphant/pkg/report"
)

type mapProvider map[string]r3.Box

func (m mapProvider) BoundingBox(name string) (r3.Box, bool) {
	b, ok := m[name]
	return b, ok
}

// createTestImage creates a CT image with the given pixel pattern
func createTestImage(width, height int, z float64, pattern func(x, y int) int) *models.CTImage {
	img := &models.CTImage{
		Filename:       fmt.Sprintf("CT_test_%03d.dcm", int(z*10)),
		Rows:           height,
		Columns:        width,
		SliceThickness: 2.5,
		Position:       r3.Vec{X: -16, Y: -12, Z: z},
		Pixels:         make([]int, width*height),
	}
	img.PixelSpacing.X = 1
	img.PixelSpacing.Y = 1
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Pixels[y*width+x] = pattern(x, y)
		}
	}
	return img
}

// createTestSlices generates a body of soft tissue with a bone core that
// grows along z, surrounded by air, in shuffled z order
func createTestSlices(width, height, depth int) []*models.CTImage {
	images := make([]*models.CTImage, depth)
	cx, cy := width/2, height/2
	for k := 0; k < depth; k++ {
		z := float64((k*3)%depth) * 2.5
		radius := 2 + (k*3)%depth
		images[k] = createTestImage(width, height, z, func(x, y int) int {
			dx, dy := x-cx, y-cy
			d2 := dx*dx + dy*dy
			switch {
			case d2 <= radius*radius:
				return 1500 + 10*x
			case d2 <= (radius+4)*(radius+4):
				return 900 + y
			case d2 <= (radius+6)*(radius+6):
				return 120
			default:
				return 10 + x%40
			}
		})
	}
	return images
}

func TestProcessWritesPhantom(t *testing.T) {
	dir := t.TempDir()
	params := &Params{
		Images:            createTestSlices(32, 24, 7),
		OutputFile:        filepath.Join(dir, "phantom.egsphant"),
		NumCores:          3,
		MaxFailedFraction: 0,
		ManifestName:      "File_names",
		ManifestPrefix:    "MC_",
		ReportCSV:         filepath.Join(dir, "report.csv"),
	}

	r := NewReconstructor(params)
	if err := r.Process(context.Background()); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	p, err := egsphant.ReadFile(params.OutputFile)
	if err != nil {
		t.Fatalf("Failed to read phantom: %v", err)
	}
	if p.Size != [3]int{32, 24, 7} {
		t.Errorf("Expected size [32 24 7], got %v", p.Size)
	}
	if p.Edges[2][0] != 0 || p.Edges[2][1] != 0.25 {
		t.Errorf("Expected z edges in ascending cm, got %v", p.Edges[2][:2])
	}

	manifest, err := os.ReadFile(filepath.Join(dir, "File_names"))
	if err != nil {
		t.Fatalf("Manifest missing: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(manifest)), "\n")
	if len(lines) != 7 || lines[0] != "CT_test_000.dcm" || lines[6] != "CT_test_150.dcm" {
		t.Errorf("Unexpected manifest %q", manifest)
	}

	data, err := os.ReadFile(params.ReportCSV)
	if err != nil {
		t.Fatalf("Report missing: %v", err)
	}
	rows, err := report.ReadCSV(data)
	if err != nil {
		t.Fatalf("Failed to parse report: %v", err)
	}
	if len(rows) != 7 {
		t.Errorf("Expected 7 report rows, got %d", len(rows))
	}

	sum := r.Summary()
	if sum.PerMaterial[0] != 0 {
		t.Errorf("Expected no unclassified voxels, got %d", sum.PerMaterial[0])
	}
	for m := 1; m <= 4; m++ {
		if sum.PerMaterial[m] == 0 {
			t.Errorf("Expected voxels of material %d", m)
		}
	}
	if !strings.Contains(r.FormatSummary(), "ICRPBONE700ICRU") {
		t.Errorf("Summary does not list bone:\n%s", r.FormatSummary())
	}
}

// TestParallelMatchesSequential checks that the worker count does not
// change the result
func TestParallelMatchesSequential(t *testing.T) {
	images := createTestSlices(20, 20, 9)

	run := func(cores int) *phantom.Grid {
		params := &Params{
			Images:            images,
			OutputFile:        filepath.Join(t.TempDir(), "phantom.egsphant"),
			NumCores:          cores,
			MaxFailedFraction: 1,
		}
		r := NewReconstructor(params)
		if err := r.Process(context.Background()); err != nil {
			t.Fatalf("Process with %d cores failed: %v", cores, err)
		}
		return r.Grid()
	}

	seq, par := run(1), run(8)
	if seq.Size() != par.Size() {
		t.Fatalf("Sizes differ: %v vs %v", seq.Size(), par.Size())
	}
	for k := 0; k < seq.Size()[2]; k++ {
		a, b := seq.Slice(k), par.Slice(k)
		if a.Z() != b.Z() {
			t.Fatalf("Slice %d at z=%g vs z=%g", k, a.Z(), b.Z())
		}
		am, bm := a.Materials(), b.Materials()
		ad, bd := a.Densities(), b.Densities()
		for i := range am {
			if am[i] != bm[i] || ad[i] != bd[i] {
				t.Fatalf("Voxel %d of slice %d differs", i, k)
			}
		}
	}
}

func TestProcessCancelled(t *testing.T) {
	dir := t.TempDir()
	params := &Params{
		Images:            createTestSlices(16, 16, 5),
		OutputFile:        filepath.Join(dir, "phantom.egsphant"),
		NumCores:          2,
		MaxFailedFraction: 1,
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewReconstructor(params).Process(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if _, err := os.Stat(params.OutputFile); !os.IsNotExist(err) {
		t.Error("No phantom should be written after cancellation")
	}
}

func TestProcessFailedFraction(t *testing.T) {
	images := createTestSlices(16, 16, 3)
	// a quarter of the first image is outside every bracket
	for i := 0; i < 64; i++ {
		images[0].Pixels[i] = -1000
	}

	tests := []struct {
		name    string
		max     float64
		wantErr bool
	}{
		{"strict", 0, true},
		{"below", 0.2, true},
		{"tolerated", 0.25, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := &Params{
				Images:            images,
				OutputFile:        filepath.Join(t.TempDir(), "phantom.egsphant"),
				NumCores:          2,
				MaxFailedFraction: tt.max,
			}
			r := NewReconstructor(params)
			err := r.Process(context.Background())
			if tt.wantErr {
				var oor *classifier.OutOfRangeError
				if !errors.As(err, &oor) {
					t.Fatalf("Expected OutOfRangeError, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Process failed: %v", err)
			}
			if r.Summary().Failed != 64 {
				t.Errorf("Expected 64 failed pixels, got %d", r.Summary().Failed)
			}
		})
	}
}

func TestProcessCropsToStructure(t *testing.T) {
	dir := t.TempDir()
	params := &Params{
		Images:            createTestSlices(32, 24, 7),
		OutputFile:        filepath.Join(dir, "phantom.egsphant.gz"),
		NumCores:          2,
		MaxFailedFraction: 1,
		Structure:         "core",
		Structures: mapProvider{
			"core": {Min: r3.Vec{X: -8, Y: -6, Z: 2.5}, Max: r3.Vec{X: 4, Y: 2, Z: 10}},
		},
		PreviewDir: filepath.Join(dir, "previews"),
	}
	r := NewReconstructor(params)
	if err := r.Process(context.Background()); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	p, err := egsphant.ReadFile(params.OutputFile)
	if err != nil {
		t.Fatalf("Failed to read compressed phantom: %v", err)
	}
	if p.Size != [3]int{12, 8, 4} {
		t.Errorf("Expected size [12 8 4], got %v", p.Size)
	}
	for _, axis := range []string{"x", "y", "z"} {
		entries, err := os.ReadDir(filepath.Join(params.PreviewDir, axis))
		if err != nil || len(entries) == 0 {
			t.Errorf("Expected %s-axis previews: %v", axis, err)
		}
	}

	params.Structure = "missing"
	err = NewReconstructor(params).Process(context.Background())
	var ue *phantom.UnknownStructureError
	if !errors.As(err, &ue) {
		t.Errorf("Expected UnknownStructureError, got %v", err)
	}
}

func TestProcessCropsToBoundingBox(t *testing.T) {
	box := r3.Box{Min: r3.Vec{X: -10, Y: -10, Z: 0}, Max: r3.Vec{X: 0, Y: 0, Z: 5}}
	params := &Params{
		Images:            createTestSlices(32, 24, 7),
		OutputFile:        filepath.Join(t.TempDir(), "phantom.egsphant"),
		NumCores:          2,
		MaxFailedFraction: 1,
		BoundingBox:       &box,
	}
	r := NewReconstructor(params)
	if err := r.Process(context.Background()); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if r.Grid().Size() != [3]int{10, 10, 3} {
		t.Errorf("Expected size [10 10 3], got %v", r.Grid().Size())
	}
	if len(r.Rows()) != 3 {
		t.Errorf("Expected 3 report rows, got %d", len(r.Rows()))
	}
}

// TestProcessManifestFollowsCrop checks that slices cropped away along z
// leave the manifest and the report
func TestProcessManifestFollowsCrop(t *testing.T) {
	dir := t.TempDir()
	box := r3.Box{Min: r3.Vec{X: -16, Y: -12, Z: 2.5}, Max: r3.Vec{X: 16, Y: 12, Z: 5}}
	params := &Params{
		Images:            createTestSlices(32, 24, 5),
		OutputFile:        filepath.Join(dir, "phantom.egsphant"),
		NumCores:          2,
		MaxFailedFraction: 1,
		BoundingBox:       &box,
		ManifestName:      "File_names",
		ManifestPrefix:    "MC_",
	}
	r := NewReconstructor(params)
	if err := r.Process(context.Background()); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if nz := r.Grid().Size()[2]; nz != 2 {
		t.Fatalf("Expected 2 slices, got %d", nz)
	}

	manifest, err := os.ReadFile(filepath.Join(dir, "File_names"))
	if err != nil {
		t.Fatalf("Manifest missing: %v", err)
	}
	if string(manifest) != "CT_test_025.dcm\nCT_test_050.dcm\n" {
		t.Errorf("Unexpected manifest %q", manifest)
	}
	if len(r.Rows()) != 2 || len(r.Reports()) != 2 {
		t.Errorf("Expected 2 report rows and reports, got %d and %d", len(r.Rows()), len(r.Reports()))
	}
	for k, rep := range r.Reports() {
		if rep.Z != r.Grid().Slice(k).Z() {
			t.Errorf("Report %d at z=%g, slice at z=%g", k, rep.Z, r.Grid().Slice(k).Z())
		}
	}
}

// TestAssembleWritesNothing checks that Assemble stops before the output
func TestAssembleWritesNothing(t *testing.T) {
	dir := t.TempDir()
	params := &Params{
		Images:            createTestSlices(16, 16, 4),
		OutputFile:        filepath.Join(dir, "phantom.egsphant"),
		MaxFailedFraction: 1,
		ManifestName:      "File_names",
	}
	r := NewReconstructor(params)
	if err := r.Assemble(context.Background()); err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	box := r.Grid().BoundingBox()
	want := r3.Box{Min: r3.Vec{X: -16, Y: -12, Z: 0}, Max: r3.Vec{X: 0, Y: 4, Z: 7.5}}
	if box != want {
		t.Errorf("Expected box %v, got %v", want, box)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("Assemble wrote %d files", len(entries))
	}
}

func TestProcessRejectsDuplicateSlices(t *testing.T) {
	images := createTestSlices(8, 8, 3)
	images[1].Position.Z = images[0].Position.Z
	params := &Params{
		Images:     images,
		OutputFile: filepath.Join(t.TempDir(), "phantom.egsphant"),
	}
	if err := NewReconstructor(params).Process(context.Background()); err == nil {
		t.Error("Expected an error for duplicate z positions")
	}
}

// TestProcessStripsSeries converts the loader fixtures and checks the
// stripped copies listed in the manifest
func TestProcessStripsSeries(t *testing.T) {
	dir := t.TempDir()
	params := &Params{
		InputDir:          filepath.Join("..", "dicomload", "testdata"),
		Dicom:             dicomload.Options{FilePattern: "CT_fixture_*.dcm"},
		OutputFile:        filepath.Join(dir, "phantom.egsphant"),
		NumCores:          2,
		MaxFailedFraction: 1,
		ManifestName:      "File_names",
		ManifestPrefix:    "MC_",
	}
	r := NewReconstructor(params)
	if err := r.Process(context.Background()); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if r.Grid().Size() != [3]int{4, 3, 2} {
		t.Errorf("Expected size [4 3 2], got %v", r.Grid().Size())
	}

	manifest, err := os.ReadFile(filepath.Join(dir, "File_names"))
	if err != nil {
		t.Fatalf("Manifest missing: %v", err)
	}
	if string(manifest) != "MC_CT_fixture_2.dcm\nMC_CT_fixture_1.dcm\n" {
		t.Errorf("Unexpected manifest %q", manifest)
	}
	for _, name := range strings.Fields(string(manifest)) {
		img, err := dicomload.LoadFile(filepath.Join(dir, name), dicomload.DefaultOptions())
		if err != nil {
			t.Errorf("Stripped copy %s unreadable: %v", name, err)
			continue
		}
		if len(img.Pixels) != 12 {
			t.Errorf("Stripped copy %s has %d pixels", name, len(img.Pixels))
		}
	}
}

// TestProcessFromDirectory runs the loader path against an empty input
// directory
func TestProcessFromDirectory(t *testing.T) {
	params := &Params{
		InputDir:   t.TempDir(),
		OutputFile: filepath.Join(t.TempDir(), "phantom.egsphant"),
	}
	if err := NewReconstructor(params).Process(context.Background()); err == nil {
		t.Error("Expected an error for a directory without CT images")
	}
}
