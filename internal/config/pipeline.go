package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// PipelineConfig holds tuning parameters for the analytics pipeline. All
// fields are pointers so a partial JSON file only overrides what it names;
// the Get* accessors fall back to compiled-in defaults for nil fields.
type PipelineConfig struct {
	// Region normalisation
	FuzzyThreshold *float64 `json:"fuzzy_threshold,omitempty"` // similarity required to accept an approximate region match

	// Anomaly model
	Contamination     *float64 `json:"contamination,omitempty"` // expected anomaly fraction
	AnomalyTrees      *int     `json:"anomaly_trees,omitempty"`
	AnomalySampleSize *int     `json:"anomaly_sample_size,omitempty"`
	AnomalySeed       *int64   `json:"anomaly_seed,omitempty"`

	// Cluster model
	ClusterCount   *int   `json:"cluster_count,omitempty"`
	ClusterMaxIter *int   `json:"cluster_max_iter,omitempty"`
	ClusterSeed    *int64 `json:"cluster_seed,omitempty"`

	// Forecast model
	ForecastWindow  *int     `json:"forecast_window,omitempty"`   // trailing moving-average window in days
	ForecastDamping *float64 `json:"forecast_damping,omitempty"`  // fraction of observed growth carried forward
	ForecastBandPct *float64 `json:"forecast_band_pct,omitempty"` // symmetric confidence envelope
}

// Compiled-in defaults. These match the model defaults documented in the
// package comments of internal/anomaly, internal/cluster and internal/forecast.
const (
	defaultFuzzyThreshold    = 0.85
	defaultContamination     = 0.05
	defaultAnomalyTrees      = 100
	defaultAnomalySampleSize = 256
	defaultAnomalySeed       = 42
	defaultClusterCount      = 4
	defaultClusterMaxIter    = 100
	defaultClusterSeed       = 42
	defaultForecastWindow    = 7
	defaultForecastDamping   = 0.5
	defaultForecastBandPct   = 0.20
)

// EmptyPipelineConfig returns a PipelineConfig with all fields nil, so every
// accessor serves its default.
func EmptyPipelineConfig() *PipelineConfig {
	return &PipelineConfig{}
}

// LoadPipelineConfig loads a PipelineConfig from a JSON file. Fields omitted
// from the file retain their defaults, so partial configs are safe.
func LoadPipelineConfig(path string) (*PipelineConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyPipelineConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that every set field is in range.
func (c *PipelineConfig) Validate() error {
	if c.FuzzyThreshold != nil && (*c.FuzzyThreshold <= 0 || *c.FuzzyThreshold > 1) {
		return fmt.Errorf("fuzzy_threshold must be in (0, 1], got %v", *c.FuzzyThreshold)
	}
	if c.Contamination != nil && (*c.Contamination <= 0 || *c.Contamination >= 0.5) {
		return fmt.Errorf("contamination must be in (0, 0.5), got %v", *c.Contamination)
	}
	if c.AnomalyTrees != nil && *c.AnomalyTrees < 1 {
		return fmt.Errorf("anomaly_trees must be positive, got %d", *c.AnomalyTrees)
	}
	if c.AnomalySampleSize != nil && *c.AnomalySampleSize < 2 {
		return fmt.Errorf("anomaly_sample_size must be at least 2, got %d", *c.AnomalySampleSize)
	}
	if c.ClusterCount != nil && *c.ClusterCount < 2 {
		return fmt.Errorf("cluster_count must be at least 2, got %d", *c.ClusterCount)
	}
	if c.ClusterMaxIter != nil && *c.ClusterMaxIter < 1 {
		return fmt.Errorf("cluster_max_iter must be positive, got %d", *c.ClusterMaxIter)
	}
	if c.ForecastWindow != nil && *c.ForecastWindow < 1 {
		return fmt.Errorf("forecast_window must be positive, got %d", *c.ForecastWindow)
	}
	if c.ForecastDamping != nil && (*c.ForecastDamping < 0 || *c.ForecastDamping > 1) {
		return fmt.Errorf("forecast_damping must be in [0, 1], got %v", *c.ForecastDamping)
	}
	if c.ForecastBandPct != nil && (*c.ForecastBandPct < 0 || *c.ForecastBandPct >= 1) {
		return fmt.Errorf("forecast_band_pct must be in [0, 1), got %v", *c.ForecastBandPct)
	}
	return nil
}

func (c *PipelineConfig) GetFuzzyThreshold() float64 {
	if c != nil && c.FuzzyThreshold != nil {
		return *c.FuzzyThreshold
	}
	return defaultFuzzyThreshold
}

func (c *PipelineConfig) GetContamination() float64 {
	if c != nil && c.Contamination != nil {
		return *c.Contamination
	}
	return defaultContamination
}

func (c *PipelineConfig) GetAnomalyTrees() int {
	if c != nil && c.AnomalyTrees != nil {
		return *c.AnomalyTrees
	}
	return defaultAnomalyTrees
}

func (c *PipelineConfig) GetAnomalySampleSize() int {
	if c != nil && c.AnomalySampleSize != nil {
		return *c.AnomalySampleSize
	}
	return defaultAnomalySampleSize
}

func (c *PipelineConfig) GetAnomalySeed() int64 {
	if c != nil && c.AnomalySeed != nil {
		return *c.AnomalySeed
	}
	return defaultAnomalySeed
}

func (c *PipelineConfig) GetClusterCount() int {
	if c != nil && c.ClusterCount != nil {
		return *c.ClusterCount
	}
	return defaultClusterCount
}

func (c *PipelineConfig) GetClusterMaxIter() int {
	if c != nil && c.ClusterMaxIter != nil {
		return *c.ClusterMaxIter
	}
	return defaultClusterMaxIter
}

func (c *PipelineConfig) GetClusterSeed() int64 {
	if c != nil && c.ClusterSeed != nil {
		return *c.ClusterSeed
	}
	return defaultClusterSeed
}

func (c *PipelineConfig) GetForecastWindow() int {
	if c != nil && c.ForecastWindow != nil {
		return *c.ForecastWindow
	}
	return defaultForecastWindow
}

func (c *PipelineConfig) GetForecastDamping() float64 {
	if c != nil && c.ForecastDamping != nil {
		return *c.ForecastDamping
	}
	return defaultForecastDamping
}

func (c *PipelineConfig) GetForecastBandPct() float64 {
	if c != nil && c.ForecastBandPct != nil {
		return *c.ForecastBandPct
	}
	return defaultForecastBandPct
}
