// Package config provides configuration loading and management for
// lesionflow. It handles loading configuration from YAML files and
// provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Registration parameters
	Registration struct {
		// StandardTransform selects the transform model for subject to
		// standard-space registration: Rigid, Affine or SyN.
		// Within-subject registration is always Rigid and is not
		// configurable.
		StandardTransform string `yaml:"standardTransform"`
	} `yaml:"registration"`

	// Analysis parameters
	Analysis struct {
		// OverlapThreshold is the lesion fraction a side must strictly
		// exceed to count as overlapping
		OverlapThreshold float64 `yaml:"overlapThreshold"`
	} `yaml:"analysis"`

	// Templates are the standard-space reference inputs
	Templates struct {
		// StandardTemplate is the brain-only stereotactic template
		StandardTemplate string `yaml:"standardTemplate"`

		// SymptomMask is the unilateral symptom mask in template space
		SymptomMask string `yaml:"symptomMask"`
	} `yaml:"templates"`

	// Tools configures the external collaborators
	Tools struct {
		// ConverterCommand is the DICOM-to-NIfTI converter binary
		ConverterCommand string `yaml:"converterCommand"`

		// BrainExtractorCommand is the HD-BET binary
		BrainExtractorCommand string `yaml:"brainExtractorCommand"`

		// Device selects the brain extractor's compute device
		Device string `yaml:"device"`

		// SegmenterImage is the pinned segmentation container image
		SegmenterImage string `yaml:"segmenterImage"`

		// Parallelize enables the segmenter's internal concurrency
		Parallelize bool `yaml:"parallelize"`
	} `yaml:"tools"`

	// Output parameters
	Output struct {
		// KeepIntermediates retains scratch directories after a run
		KeepIntermediates bool `yaml:"keepIntermediates"`

		// QCSnapshots writes mid-slice images of registered volumes
		// for visual registration checks
		QCSnapshots bool `yaml:"qcSnapshots"`

		// CSVPath is the results CSV destination; empty selects
		// <output>/overlap_results.csv
		CSVPath string `yaml:"csvPath"`

		// SQLitePath, when set, appends results to a SQLite database
		// instead of CSV
		SQLitePath string `yaml:"sqlitePath"`

		// Verbose enables debug-level logging
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Registration.StandardTransform = "Affine"

	cfg.Analysis.OverlapThreshold = 0.51

	cfg.Tools.ConverterCommand = "dcm2niix"
	cfg.Tools.BrainExtractorCommand = "hd-bet"
	cfg.Tools.Device = "cuda"
	cfg.Tools.SegmenterImage = "isleschallenge/deepisles"
	cfg.Tools.Parallelize = true

	cfg.Output.KeepIntermediates = false
	cfg.Output.QCSnapshots = false
	cfg.Output.Verbose = false

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}
