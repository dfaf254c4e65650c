package config

import (
	"os"
	"path/filepath"
	"testing"
)

// TestDefaultConfig verifies the defaults the pipeline depends on
func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Processing.NumCores < 1 {
		t.Errorf("Expected at least one core, got %d", cfg.Processing.NumCores)
	}
	if cfg.Processing.SpacingZ != 1.0 || cfg.Processing.SpacingY != 1.0 || cfg.Processing.SpacingX != 1.0 {
		t.Errorf("Expected unit spacing defaults, got (%g, %g, %g)",
			cfg.Processing.SpacingZ, cfg.Processing.SpacingY, cfg.Processing.SpacingX)
	}
	if cfg.Organs[1] != "digestive_tract" {
		t.Errorf("Expected label 1 to default to digestive_tract, got %q", cfg.Organs[1])
	}
	if cfg.Segmentation.OrganClasses != 3 {
		t.Errorf("Expected 3 organ classes by default, got %d", cfg.Segmentation.OrganClasses)
	}
	if cfg.Output.MaskEncoding != "gzip" {
		t.Errorf("Expected gzip mask encoding by default, got %q", cfg.Output.MaskEncoding)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config failed validation: %v", err)
	}
}

// TestLoadConfigMissingFile verifies defaults are returned when no file exists
func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "does_not_exist.yaml"))
	if err != nil {
		t.Fatalf("Expected defaults for missing file, got error: %v", err)
	}
	if cfg.Detection.ThresholdSigma != 2.0 {
		t.Errorf("Expected default threshold sigma 2.0, got %g", cfg.Detection.ThresholdSigma)
	}
}

// TestSaveAndLoadConfig verifies a round trip through the YAML file
func TestSaveAndLoadConfig(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "nested", "morphovue.yaml")

	cfg := DefaultConfig()
	cfg.Processing.NumCores = 2
	cfg.Processing.SpacingZ = 0.5
	cfg.Organs = map[int32]string{
		1: "digestive_tract",
		4: "gonad",
	}
	cfg.Output.MaskEncoding = "raw"

	if err := SaveConfig(cfg, configPath); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}

	loaded, err := LoadConfig(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if loaded.Processing.NumCores != 2 {
		t.Errorf("Expected 2 cores, got %d", loaded.Processing.NumCores)
	}
	if loaded.Processing.SpacingZ != 0.5 {
		t.Errorf("Expected spacing Z 0.5, got %g", loaded.Processing.SpacingZ)
	}
	if loaded.Organs[4] != "gonad" {
		t.Errorf("Expected label 4 to map to gonad, got %q", loaded.Organs[4])
	}
	if loaded.Output.MaskEncoding != "raw" {
		t.Errorf("Expected raw encoding, got %q", loaded.Output.MaskEncoding)
	}
}

// TestLoadConfigPartialFile verifies unspecified fields keep their defaults
func TestLoadConfigPartialFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "partial.yaml")
	partial := []byte("segmentation:\n  organClasses: 5\n")
	if err := os.WriteFile(configPath, partial, 0644); err != nil {
		t.Fatalf("Failed to write partial config: %v", err)
	}

	cfg, err := LoadConfig(configPath)
	if err != nil {
		t.Fatalf("Failed to load partial config: %v", err)
	}

	if cfg.Segmentation.OrganClasses != 5 {
		t.Errorf("Expected 5 organ classes from file, got %d", cfg.Segmentation.OrganClasses)
	}
	if cfg.Detection.PaddingFraction != 0.10 {
		t.Errorf("Expected default padding fraction 0.10, got %g", cfg.Detection.PaddingFraction)
	}
}

// TestLoadConfigMalformedFile verifies parse errors are reported
func TestLoadConfigMalformedFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "broken.yaml")
	if err := os.WriteFile(configPath, []byte("processing: [not a map"), 0644); err != nil {
		t.Fatalf("Failed to write malformed config: %v", err)
	}

	if _, err := LoadConfig(configPath); err == nil {
		t.Error("Expected error for malformed YAML, got nil")
	}
}

// TestValidate verifies rejection of values the pipeline cannot run with
func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"ZeroSpacing", func(c *Config) { c.Processing.SpacingX = 0 }},
		{"NegativeSpacing", func(c *Config) { c.Processing.SpacingZ = -1 }},
		{"PaddingTooLarge", func(c *Config) { c.Detection.PaddingFraction = 1.0 }},
		{"NegativePadding", func(c *Config) { c.Detection.PaddingFraction = -0.1 }},
		{"NegativeSigma", func(c *Config) { c.Detection.ThresholdSigma = -2 }},
		{"ThresholdTooLarge", func(c *Config) { c.Segmentation.IntensityThreshold = 1.0 }},
		{"ZeroClasses", func(c *Config) { c.Segmentation.OrganClasses = 0 }},
		{"UnknownEncoding", func(c *Config) { c.Output.MaskEncoding = "bzip2" }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("Expected validation error for %s, got nil", tc.name)
			}
		})
	}
}

// TestSpacing verifies the spacing helper preserves axis order
func TestSpacing(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Processing.SpacingZ = 3.0
	cfg.Processing.SpacingY = 2.0
	cfg.Processing.SpacingX = 1.0

	spacing := cfg.Spacing()
	if spacing.Z != 3.0 || spacing.Y != 2.0 || spacing.X != 1.0 {
		t.Errorf("Expected spacing (3, 2, 1), got (%g, %g, %g)", spacing.Z, spacing.Y, spacing.X)
	}
}

// TestCreateDefaultConfigFile verifies the written file loads back cleanly
func TestCreateDefaultConfigFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "default.yaml")

	if err := CreateDefaultConfigFile(configPath); err != nil {
		t.Fatalf("Failed to create default config file: %v", err)
	}

	loaded, err := LoadConfig(configPath)
	if err != nil {
		t.Fatalf("Failed to load created config: %v", err)
	}
	if err := loaded.Validate(); err != nil {
		t.Errorf("Created config failed validation: %v", err)
	}
}
