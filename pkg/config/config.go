// Package config provides configuration loading and management for ct2egsphant.
// It handles loading configuration from YAML or TOML files and provides
// default values.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"ct2egsphant/pkg/dicomload"
	"ct2egsphant/pkg/logging"
)

// BaseDirEnv names the environment variable holding the directory that
// contains one input folder per patient.
const BaseDirEnv = "CT2EGSPHANT_BASE_DIR"

// Config represents the application configuration
type Config struct {
	// Processing parameters
	Processing struct {
		// NumCores specifies how many slices are classified in parallel
		NumCores int `yaml:"numCores" toml:"numCores"`

		// MaxFailedFraction is the share of unclassified pixels a slice may
		// have before the conversion fails
		MaxFailedFraction float64 `yaml:"maxFailedFraction" toml:"maxFailedFraction"`
	} `yaml:"processing" toml:"processing"`

	// DICOM input parameters
	Dicom struct {
		// ApplyRescale converts stored pixel values with the rescale slope and intercept
		ApplyRescale bool `yaml:"applyRescale" toml:"applyRescale"`

		// Offset is added to every pixel value before classification
		Offset int `yaml:"offset" toml:"offset"`

		// FilePattern selects the CT files in the input directory
		FilePattern string `yaml:"filePattern" toml:"filePattern"`
	} `yaml:"dicom" toml:"dicom"`

	// Output parameters
	Output struct {
		// Compress gzips the phantom file
		Compress bool `yaml:"compress" toml:"compress"`

		// ManifestName is the file listing the converted images; empty disables it
		ManifestName string `yaml:"manifestName" toml:"manifestName"`

		// ManifestPrefix is prepended to each listed file name
		ManifestPrefix string `yaml:"manifestPrefix" toml:"manifestPrefix"`

		// ReportCSV is the per-slice report path; empty disables it
		ReportCSV string `yaml:"reportCSV" toml:"reportCSV"`

		// Previews is the directory for preview images; empty disables them
		Previews string `yaml:"previews" toml:"previews"`

		// PreviewScale enlarges preview images by this factor
		PreviewScale int `yaml:"previewScale" toml:"previewScale"`
	} `yaml:"output" toml:"output"`

	Logging logging.Config `yaml:"logging" toml:"logging"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Processing.NumCores = runtime.NumCPU()
	cfg.Processing.MaxFailedFraction = 1.0

	cfg.Dicom.FilePattern = dicomload.DefaultFilePattern

	cfg.Output.ManifestName = dicomload.DefaultManifestName
	cfg.Output.ManifestPrefix = dicomload.DefaultManifestPrefix
	cfg.Output.PreviewScale = 1

	cfg.Logging.Level = "info"
	cfg.Logging.MaxSize = 10
	cfg.Logging.MaxAge = 30

	return cfg
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.Processing.NumCores < 1 {
		return fmt.Errorf("processing.numCores must be at least 1, got %d", c.Processing.NumCores)
	}
	if c.Processing.MaxFailedFraction < 0 || c.Processing.MaxFailedFraction > 1 {
		return fmt.Errorf("processing.maxFailedFraction must be within [0, 1], got %g", c.Processing.MaxFailedFraction)
	}
	if c.Output.PreviewScale < 1 {
		return fmt.Errorf("output.previewScale must be at least 1, got %d", c.Output.PreviewScale)
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	return nil
}

// DicomOptions returns the loader options selected by the configuration.
func (c *Config) DicomOptions() dicomload.Options {
	return dicomload.Options{
		ApplyRescale: c.Dicom.ApplyRescale,
		Offset:       c.Dicom.Offset,
		FilePattern:  c.Dicom.FilePattern,
		Workers:      c.Processing.NumCores,
	}
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

// LoadConfig loads configuration from a YAML file, or a TOML file when the
// path ends in ".toml". If the file doesn't exist, it returns the default
// configuration.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if isTOML(configPath) {
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
	}
	return cfg, nil
}

// SaveConfig saves the configuration, as TOML when the path ends in ".toml"
// and as YAML otherwise.
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	var data []byte
	if isTOML(configPath) {
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
			return fmt.Errorf("error marshaling config: %w", err)
		}
		data = buf.Bytes()
	} else {
		var err error
		if data, err = yaml.Marshal(cfg); err != nil {
			return fmt.Errorf("error marshaling config: %w", err)
		}
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}
	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	return SaveConfig(DefaultConfig(), configPath)
}

// BaseDir returns the patient base directory from the environment, loading
// envFiles (default ".env") first. Variables already set are not
// overridden; missing env files are ignored.
func BaseDir(envFiles ...string) (string, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return "", fmt.Errorf("error loading %s: %w", f, err)
		}
	}
	dir := os.Getenv(BaseDirEnv)
	if dir == "" {
		return "", fmt.Errorf("%s is not set", BaseDirEnv)
	}
	return dir, nil
}

// PatientDir returns the input directory of a patient below the base directory.
func PatientDir(patientID string, envFiles ...string) (string, error) {
	base, err := BaseDir(envFiles...)
	if err != nil {
		return "", err
	}
	return filepath.Join(base, patientID), nil
}
