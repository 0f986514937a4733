package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/spatial/r3"

	"ct2egsphant/pkg/config"
	"ct2egsphant/pkg/egsphant"
	"ct2egsphant/pkg/logging"
	"ct2egsphant/pkg/reconstruction"
	"ct2egsphant/pkg/structures"
)

var convertFlags struct {
	input      string
	patient    string
	output     string
	structure  string
	structFile string
	bbox       string
	cores      int
	report     string
	previews   string
	compress   bool
	printBBox  bool
}

// convertCmd represents the convert command
var convertCmd = &cobra.Command{
	Use:   "convert",
	Short: "converts a CT series into an egsphant phantom",
	Long: `Loads the CT images of a plan directory, classifies them, optionally
crops the grid to a bounding box or a named structure and writes the
phantom together with the image manifest.

The input is either --input DIR or --patient ID, which is resolved below
$CT2EGSPHANT_BASE_DIR (also read from a .env file).

--print-bbox stops before writing and prints the bounding box of the
assembled grid in the form --bbox accepts.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		params, err := convertParams(cmd, cfg)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		return runConvert(ctx, os.Stdout, params, convertFlags.printBBox)
	},
}

// runConvert converts params, or only assembles the grid and prints its
// bounding box when dryRun is set.
func runConvert(ctx context.Context, w io.Writer, params *reconstruction.Params, dryRun bool) error {
	r := reconstruction.NewReconstructor(params)
	if dryRun {
		if err := r.Assemble(ctx); err != nil {
			return err
		}
		fmt.Fprintln(w, formatBox(r.Grid().BoundingBox()))
		return nil
	}

	if err := r.Process(ctx); err != nil {
		return err
	}
	fmt.Fprintf(w, "Output phantom saved to: %s\n\n", params.OutputFile)
	fmt.Fprint(w, r.FormatSummary())
	for _, rep := range r.Reports() {
		if rep.Failed() > 0 {
			fmt.Fprintf(w, "  slice z=%g mm: %d of %d pixels unclassified\n", rep.Z, rep.Failed(), rep.Pixels)
		}
	}
	return nil
}

func init() {
	f := convertCmd.Flags()
	f.StringVar(&convertFlags.input, "input", "", "directory containing the CT DICOM files")
	f.StringVar(&convertFlags.patient, "patient", "", "patient ID below $"+config.BaseDirEnv)
	f.StringVarP(&convertFlags.output, "output", "o", "", "output egsphant file (default <patient>"+egsphant.Suffix+")")
	f.StringVar(&convertFlags.structure, "structure", "", "crop the phantom to this structure")
	f.StringVar(&convertFlags.structFile, "structures", "", "YAML structure file")
	f.StringVar(&convertFlags.bbox, "bbox", "", "crop box in mm as x0,y0,z0,x1,y1,z1")
	f.IntVar(&convertFlags.cores, "cores", 0, "number of slices classified in parallel (default from config)")
	f.StringVar(&convertFlags.report, "report", "", "write a per-slice CSV report")
	f.StringVar(&convertFlags.previews, "previews", "", "write preview images into this directory")
	f.BoolVar(&convertFlags.compress, "compress", false, "gzip the phantom")
	f.BoolVar(&convertFlags.printBBox, "print-bbox", false, "print the grid bounding box and exit without writing")
	rootCmd.AddCommand(convertCmd)
}

func convertParams(cmd *cobra.Command, cfg *config.Config) (*reconstruction.Params, error) {
	input := convertFlags.input
	name := filepath.Base(filepath.Clean(input))
	switch {
	case input != "" && convertFlags.patient != "":
		return nil, fmt.Errorf("--input and --patient are mutually exclusive")
	case convertFlags.patient != "":
		dir, err := config.PatientDir(convertFlags.patient)
		if err != nil {
			return nil, err
		}
		input, name = dir, convertFlags.patient
	case input == "":
		return nil, fmt.Errorf("one of --input or --patient is required")
	}

	params := &reconstruction.Params{
		InputDir:          input,
		Dicom:             cfg.DicomOptions(),
		OutputFile:        convertFlags.output,
		NumCores:          cfg.Processing.NumCores,
		MaxFailedFraction: cfg.Processing.MaxFailedFraction,
		ManifestName:      cfg.Output.ManifestName,
		ManifestPrefix:    cfg.Output.ManifestPrefix,
		ReportCSV:         cfg.Output.ReportCSV,
		PreviewDir:        cfg.Output.Previews,
		PreviewScale:      cfg.Output.PreviewScale,
		Structure:         convertFlags.structure,
	}
	if cmd.Flags().Changed("cores") {
		params.NumCores = convertFlags.cores
	}
	if convertFlags.report != "" {
		params.ReportCSV = convertFlags.report
	}
	if convertFlags.previews != "" {
		params.PreviewDir = convertFlags.previews
	}
	if params.OutputFile == "" {
		params.OutputFile = name + egsphant.Suffix
	}
	if (cfg.Output.Compress || convertFlags.compress) && !strings.HasSuffix(params.OutputFile, ".gz") {
		params.OutputFile += ".gz"
	}

	if convertFlags.bbox != "" {
		if convertFlags.structure != "" {
			return nil, fmt.Errorf("--bbox and --structure are mutually exclusive")
		}
		box, err := parseBox(convertFlags.bbox)
		if err != nil {
			return nil, err
		}
		params.BoundingBox = &box
	}
	if convertFlags.structure != "" {
		if convertFlags.structFile == "" {
			return nil, fmt.Errorf("--structure needs a --structures file")
		}
		set, err := structures.LoadFile(convertFlags.structFile)
		if err != nil {
			return nil, err
		}
		params.Structures = set
		if n, ok := set.Number(convertFlags.structure); ok {
			logging.Infof("Cropping to structure %s (ROI %d)", convertFlags.structure, n)
		}
	}

	logging.Debugf("conversion parameters: %+v", *params)
	return params, nil
}

// formatBox formats box as parseBox reads it.
func formatBox(box r3.Box) string {
	return fmt.Sprintf("%g,%g,%g,%g,%g,%g", box.Min.X, box.Min.Y, box.Min.Z, box.Max.X, box.Max.Y, box.Max.Z)
}

// parseBox parses "x0,y0,z0,x1,y1,z1".
func parseBox(s string) (r3.Box, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 6 {
		return r3.Box{}, fmt.Errorf("bounding box needs 6 comma separated values, got %d", len(parts))
	}
	v := make([]float64, 6)
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return r3.Box{}, fmt.Errorf("bad bounding box value %q: %w", p, err)
		}
		v[i] = f
	}
	box := r3.Box{
		Min: r3.Vec{X: v[0], Y: v[1], Z: v[2]},
		Max: r3.Vec{X: v[3], Y: v[4], Z: v[5]},
	}
	if box.Min.X > box.Max.X || box.Min.Y > box.Max.Y || box.Min.Z > box.Max.Z {
		return r3.Box{}, fmt.Errorf("bounding box minimum exceeds maximum")
	}
	return box, nil
}
