// Package config provides configuration loading and management for morphovue.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"

	"github.com/VCEA-MME-Beckman-Research/MorphoVue/pkg/volume"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Processing parameters
	Processing struct {
		// NumCores specifies how many CPU cores to use for parallel processing
		NumCores int `yaml:"numCores"`

		// SpacingZ is the physical distance between consecutive slices in mm
		SpacingZ float64 `yaml:"spacingZ"`

		// SpacingY is the physical pixel height within a slice in mm
		SpacingY float64 `yaml:"spacingY"`

		// SpacingX is the physical pixel width within a slice in mm
		SpacingX float64 `yaml:"spacingX"`
	} `yaml:"processing"`

	// Organs maps segmentation labels to anatomical names
	Organs map[int32]string `yaml:"organs"`

	// Detection parameters for locating the specimen in the scan
	Detection struct {
		// ThresholdSigma is the number of standard deviations above the
		// slice mean a pixel must reach to count as specimen
		ThresholdSigma float64 `yaml:"thresholdSigma"`

		// PaddingFraction is the margin added around the detected region,
		// as a fraction of its extent per axis
		PaddingFraction float64 `yaml:"paddingFraction"`
	} `yaml:"detection"`

	// Segmentation parameters
	Segmentation struct {
		// IntensityThreshold separates specimen voxels from background
		IntensityThreshold float64 `yaml:"intensityThreshold"`

		// OrganClasses is the number of intensity bands to split the
		// specimen into
		OrganClasses int `yaml:"organClasses"`

		// KeepLargestComponent removes disconnected islands from each
		// labeled organ
		KeepLargestComponent bool `yaml:"keepLargestComponent"`
	} `yaml:"segmentation"`

	// Output parameters
	Output struct {
		// SaveMask determines whether the segmentation mask is written as NRRD
		SaveMask bool `yaml:"saveMask"`

		// MaskEncoding selects the NRRD data encoding, raw or gzip
		MaskEncoding string `yaml:"maskEncoding"`

		// SaveMeshes determines whether per-organ STL surface meshes are written
		SaveMeshes bool `yaml:"saveMeshes"`

		// SavePreviews determines whether per-slice preview images are written
		SavePreviews bool `yaml:"savePreviews"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// Set default processing parameters
	cfg.Processing.NumCores = runtime.NumCPU() // Use all available cores by default
	cfg.Processing.SpacingZ = 1.0
	cfg.Processing.SpacingY = 1.0
	cfg.Processing.SpacingX = 1.0

	// Set default organ names for the standard three-class protocol
	cfg.Organs = map[int32]string{
		1: "digestive_tract",
		2: "reproductive_organs",
		3: "neural_tissue",
	}

	// Set default detection parameters
	cfg.Detection.ThresholdSigma = 2.0
	cfg.Detection.PaddingFraction = 0.10

	// Set default segmentation parameters
	cfg.Segmentation.IntensityThreshold = 0.2
	cfg.Segmentation.OrganClasses = 3
	cfg.Segmentation.KeepLargestComponent = true

	// Set default output parameters
	cfg.Output.SaveMask = true
	cfg.Output.MaskEncoding = "gzip"
	cfg.Output.SaveMeshes = false
	cfg.Output.SavePreviews = false
	cfg.Output.Verbose = true

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Parse YAML
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	// Marshal config to YAML
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	// Write to file
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}

// Validate checks the configuration for values the pipeline cannot run with
func (c *Config) Validate() error {
	if c.Processing.SpacingZ <= 0 || c.Processing.SpacingY <= 0 || c.Processing.SpacingX <= 0 {
		return fmt.Errorf("voxel spacing must be positive, got (%g, %g, %g)",
			c.Processing.SpacingZ, c.Processing.SpacingY, c.Processing.SpacingX)
	}
	if c.Detection.PaddingFraction < 0 || c.Detection.PaddingFraction >= 1 {
		return fmt.Errorf("detection padding fraction must be in [0, 1), got %g", c.Detection.PaddingFraction)
	}
	if c.Detection.ThresholdSigma < 0 {
		return fmt.Errorf("detection threshold sigma must be non-negative, got %g", c.Detection.ThresholdSigma)
	}
	if c.Segmentation.IntensityThreshold < 0 || c.Segmentation.IntensityThreshold >= 1 {
		return fmt.Errorf("intensity threshold must be in [0, 1), got %g", c.Segmentation.IntensityThreshold)
	}
	if c.Segmentation.OrganClasses < 1 {
		return fmt.Errorf("organ classes must be at least 1, got %d", c.Segmentation.OrganClasses)
	}
	if enc := c.Output.MaskEncoding; enc != "raw" && enc != "gzip" {
		return fmt.Errorf("mask encoding must be raw or gzip, got %q", enc)
	}
	return nil
}

// Spacing returns the configured voxel spacing
func (c *Config) Spacing() volume.Spacing {
	return volume.Spacing{
		Z: c.Processing.SpacingZ,
		Y: c.Processing.SpacingY,
		X: c.Processing.SpacingX,
	}
}
