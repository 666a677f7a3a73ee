// Package config provides configuration loading and management for aslkit.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"aslkit/pkg/kinetic"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Fitting parameters shared by all reconstruction models
	Fitting struct {
		// Cores selects the parallelism degree: 0 means automatic (all
		// logical cores minus a small reserve), 1 means sequential
		Cores int `yaml:"cores"`

		// LowerBounds, UpperBounds and InitialGuess override the model
		// defaults when non-empty; lengths must match the model's
		// parameter count
		LowerBounds  []float64 `yaml:"lowerBounds"`
		UpperBounds  []float64 `yaml:"upperBounds"`
		InitialGuess []float64 `yaml:"initialGuess"`
	} `yaml:"fitting"`

	// Constants holds the physical MRI model constants, in milliseconds
	// where the quantity is a relaxation time
	Constants kinetic.Constants `yaml:"constants"`

	// Mask parameters
	Mask struct {
		// Label is the foreground value voxels are matched against when a
		// multi-label segmentation mask is supplied
		Label float64 `yaml:"label"`
	} `yaml:"mask"`

	// Smoothing parameters for the optional map post-filter
	Smoothing struct {
		// Sigma is the Gaussian sigma per axis (X, Y, Z) in voxels; all
		// zeros disables smoothing
		Sigma [3]float64 `yaml:"sigma"`
	} `yaml:"smoothing"`

	// Output parameters
	Output struct {
		// Directory is where the fitted parameter maps are written
		Directory string `yaml:"directory"`

		// SaveSlices determines whether JPEG slice previews of each map
		// are rendered alongside the NIfTI outputs
		SaveSlices bool `yaml:"saveSlices"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Fitting.Cores = 0
	cfg.Constants = kinetic.DefaultConstants()
	cfg.Mask.Label = 1.0

	cfg.Output.Directory = "."
	cfg.Output.SaveSlices = false
	cfg.Output.Verbose = true

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

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
