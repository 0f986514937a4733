package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Processing.NumCores != runtime.NumCPU() {
		t.Errorf("Expected %d cores, got %d", runtime.NumCPU(), cfg.Processing.NumCores)
	}
	if cfg.Output.ManifestName != "File_names" || cfg.Output.ManifestPrefix != "MC_" {
		t.Errorf("Unexpected manifest defaults %q/%q", cfg.Output.ManifestName, cfg.Output.ManifestPrefix)
	}
	if cfg.Dicom.FilePattern != "CT*.dcm" {
		t.Errorf("Unexpected file pattern %q", cfg.Dicom.FilePattern)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config is invalid: %v", err)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Output.PreviewScale != 1 {
		t.Errorf("Expected defaults for a missing file")
	}
}

func TestSaveAndLoad(t *testing.T) {
	for _, name := range []string{"config.yaml", "config.toml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", name)

			cfg := DefaultConfig()
			cfg.Processing.NumCores = 3
			cfg.Processing.MaxFailedFraction = 0.05
			cfg.Dicom.ApplyRescale = true
			cfg.Dicom.Offset = 1024
			cfg.Output.Compress = true
			cfg.Output.ReportCSV = "report.csv"
			cfg.Logging.Level = "debug"

			if err := SaveConfig(cfg, path); err != nil {
				t.Fatalf("SaveConfig failed: %v", err)
			}
			loaded, err := LoadConfig(path)
			if err != nil {
				t.Fatalf("LoadConfig failed: %v", err)
			}
			if loaded.Processing.NumCores != 3 || loaded.Processing.MaxFailedFraction != 0.05 {
				t.Errorf("Processing section not preserved: %+v", loaded.Processing)
			}
			if !loaded.Dicom.ApplyRescale || loaded.Dicom.Offset != 1024 {
				t.Errorf("DICOM section not preserved: %+v", loaded.Dicom)
			}
			if !loaded.Output.Compress || loaded.Output.ReportCSV != "report.csv" {
				t.Errorf("Output section not preserved: %+v", loaded.Output)
			}
			if loaded.Logging.Level != "debug" {
				t.Errorf("Expected debug log level, got %q", loaded.Logging.Level)
			}
		})
	}
}

func TestLoadConfigPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := "processing:\n  numCores: 2\n"
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Processing.NumCores != 2 {
		t.Errorf("Expected 2 cores, got %d", cfg.Processing.NumCores)
	}
	if cfg.Output.ManifestName != "File_names" {
		t.Errorf("Unset values should keep their defaults, got %q", cfg.Output.ManifestName)
	}
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"zero cores", "processing:\n  numCores: 0\n"},
		{"fraction above one", "processing:\n  maxFailedFraction: 1.5\n"},
		{"bad level", "logging:\n  level: chatty\n"},
		{"bad yaml", "processing: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(tt.data), 0644); err != nil {
				t.Fatal(err)
			}
			if _, err := LoadConfig(path); err == nil {
				t.Error("Expected an error")
			}
		})
	}
}

func TestDicomOptions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Dicom.Offset = -1024
	opts := cfg.DicomOptions()
	if opts.Offset != -1024 || opts.FilePattern != "CT*.dcm" || opts.Workers != cfg.Processing.NumCores {
		t.Errorf("Unexpected options %+v", opts)
	}
}

func TestBaseDir(t *testing.T) {
	t.Setenv(BaseDirEnv, "")
	os.Unsetenv(BaseDirEnv)

	envFile := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(envFile, []byte(BaseDirEnv+"=/data/plans\n"), 0644); err != nil {
		t.Fatal(err)
	}

	dir, err := PatientDir("A047486", envFile)
	if err != nil {
		t.Fatalf("PatientDir failed: %v", err)
	}
	if dir != filepath.Join("/data/plans", "A047486") {
		t.Errorf("Unexpected patient dir %s", dir)
	}

	// an explicit environment value wins over the file
	t.Setenv(BaseDirEnv, "/override")
	if dir, _ := BaseDir(envFile); dir != "/override" {
		t.Errorf("Expected environment to win, got %s", dir)
	}
}

func TestBaseDirUnset(t *testing.T) {
	t.Setenv(BaseDirEnv, "")
	os.Unsetenv(BaseDirEnv)
	if _, err := BaseDir(filepath.Join(t.TempDir(), "none.env")); err == nil {
		t.Error("Expected an error when the base directory is unset")
	}
}
