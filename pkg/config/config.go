// Package config provides configuration loading and management for ccsnr.
// It handles loading configuration from YAML files, environment overrides
// and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"ccsnr/internal/models"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Processing parameters
	Processing struct {
		// NumCores specifies how many CPU cores the tensor fit and median filter use
		NumCores int `yaml:"numCores"`

		// DilationIterations is how far the brain mask is grown before inversion
		DilationIterations int `yaml:"dilationIterations"`

		// Thresholds are the color FA bands xmin, xmax, ymin, ymax, zmin, zmax
		Thresholds []float64 `yaml:"thresholds"`

		// B0Threshold is the largest b-value treated as a b0 volume
		B0Threshold float64 `yaml:"b0Threshold"`
	} `yaml:"processing"`

	// Brain extraction parameters
	BrainMask struct {
		// MedianRadius is the half-width of the median filter window
		MedianRadius int `yaml:"medianRadius"`

		// NumPass is the number of median filter passes
		NumPass int `yaml:"numPass"`
	} `yaml:"brainMask"`

	// Tensor fit parameters
	Tensor struct {
		// MinSignal floors intensities before the log-linear fit
		MinSignal float64 `yaml:"minSignal"`
	} `yaml:"tensor"`

	// Output parameters
	Output struct {
		// OutDir is where result files and masks are written
		OutDir string `yaml:"outDir"`

		// OutFile is the name of the result file
		OutFile string `yaml:"outFile"`

		// Format is "text" for four space separated values or "json"
		Format string `yaml:"format"`

		// SaveMasks writes the corpus callosum and noise masks next to the result
		SaveMasks bool `yaml:"saveMasks"`

		// LogLevel controls the level of logging output
		LogLevel string `yaml:"logLevel"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Processing.NumCores = runtime.NumCPU()
	cfg.Processing.DilationIterations = 10
	cfg.Processing.Thresholds = append([]float64(nil), models.DefaultThresholdBands[:]...)
	cfg.Processing.B0Threshold = 50

	cfg.BrainMask.MedianRadius = 4
	cfg.BrainMask.NumPass = 4

	cfg.Tensor.MinSignal = 1e-4

	cfg.Output.OutDir = ""
	cfg.Output.OutFile = "product.json"
	cfg.Output.Format = "text"
	cfg.Output.SaveMasks = false
	cfg.Output.LogLevel = "info"

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			data, err := os.ReadFile(configPath)
			if err != nil {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}

			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("error parsing config file: %w", err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides selected settings from CCSNR_* environment variables
func (c *Config) applyEnv() error {
	c.Output.OutDir = getEnv("CCSNR_OUT_DIR", c.Output.OutDir)
	c.Output.LogLevel = getEnv("CCSNR_LOG_LEVEL", c.Output.LogLevel)

	if v := os.Getenv("CCSNR_NUM_CORES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid CCSNR_NUM_CORES %q: %w", v, err)
		}
		c.Processing.NumCores = n
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// Validate checks the values a run depends on
func (c *Config) Validate() error {
	if len(c.Processing.Thresholds) != 6 {
		return fmt.Errorf("thresholds must have 6 values, got %d", len(c.Processing.Thresholds))
	}
	if c.Processing.NumCores < 1 {
		return fmt.Errorf("numCores must be at least 1, got %d", c.Processing.NumCores)
	}
	if c.Processing.DilationIterations < 0 {
		return fmt.Errorf("dilationIterations must not be negative, got %d", c.Processing.DilationIterations)
	}
	if c.BrainMask.MedianRadius < 0 || c.BrainMask.NumPass < 0 {
		return fmt.Errorf("brain mask radius and passes must not be negative")
	}
	switch c.Output.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown output format %q", c.Output.Format)
	}
	return nil
}

// Bands returns the configured thresholds as ThresholdBands
func (c *Config) Bands() models.ThresholdBands {
	var b models.ThresholdBands
	copy(b[:], c.Processing.Thresholds)
	return b
}

// ParseThresholds parses six comma separated values, optionally wrapped in
// brackets, such as "[0.6,1,0,0.1,0,0.1]".
func ParseThresholds(s string) (models.ThresholdBands, error) {
	var bands models.ThresholdBands

	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	s = strings.TrimPrefix(s, "(")
	s = strings.TrimSuffix(s, ")")

	parts := strings.Split(s, ",")
	if len(parts) != len(bands) {
		return bands, fmt.Errorf("expected 6 threshold values, got %d", len(parts))
	}
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return bands, fmt.Errorf("threshold %d: %w", i, err)
		}
		bands[i] = v
	}
	return bands, nil
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
