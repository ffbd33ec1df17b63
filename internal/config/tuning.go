package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/collarkit/collarkit/internal/locate"
	"github.com/collarkit/collarkit/internal/rssi"
	"github.com/collarkit/collarkit/internal/zones"
)

// DefaultTuningPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultTuningPath = "config/tuning.defaults.json"

// TuningConfig represents the root configuration for tuning parameters.
// The schema matches the /api/params endpoint so the same JSON can be
// used for both startup configuration and runtime updates.
type TuningConfig struct {
	// RSSI distance model params
	RefPower            *float64 `json:"ref_power,omitempty"`
	PathLossExponent    *float64 `json:"path_loss_exponent,omitempty"`
	EnvironmentalFactor *float64 `json:"environmental_factor,omitempty"`
	MinDistance         *float64 `json:"min_distance,omitempty"`
	MaxDistance         *float64 `json:"max_distance,omitempty"`

	// Position estimator params
	MaxAnchors       *int     `json:"max_anchors,omitempty"`
	ProcessNoise     *float64 `json:"process_noise,omitempty"`
	MeasurementNoise *float64 `json:"measurement_noise,omitempty"`
	Smoothing        *bool    `json:"smoothing,omitempty"`
	OutlierDetection *bool    `json:"outlier_detection,omitempty"`
	AnchorTimeout    *string  `json:"anchor_timeout,omitempty"` // duration string like "10s"

	// Zone engine params
	MaxZones           *int     `json:"max_zones,omitempty"`
	CheckInterval      *string  `json:"check_interval,omitempty"`      // duration string like "1s"
	TransitionCooldown *string  `json:"transition_cooldown,omitempty"` // duration string like "5s"
	BoundaryTolerance  *float64 `json:"boundary_tolerance,omitempty"`
	HistorySize        *int     `json:"history_size,omitempty"`
	PatternWindow      *string  `json:"pattern_window,omitempty"` // duration string like "5m"
	PatternThreshold   *int     `json:"pattern_threshold,omitempty"`
	MovementAnalysis   *bool    `json:"movement_analysis,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under
// the max file size. Fields omitted from the JSON file retain their
// default values, so partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
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

	// Parse JSON into empty config. The Get* methods provide fallback
	// defaults for any fields not specified in the JSON.
	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultTuningPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultTuningPath,
		"../../" + DefaultTuningPath, // from internal/config/
		"../../../" + DefaultTuningPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultTuningPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.PathLossExponent != nil {
		if *c.PathLossExponent < 1 || *c.PathLossExponent > 6 {
			return fmt.Errorf("path_loss_exponent must be between 1 and 6, got %f", *c.PathLossExponent)
		}
	}

	if c.EnvironmentalFactor != nil && *c.EnvironmentalFactor <= 0 {
		return fmt.Errorf("environmental_factor must be positive, got %f", *c.EnvironmentalFactor)
	}

	if c.MinDistance != nil && c.MaxDistance != nil {
		if *c.MinDistance >= *c.MaxDistance {
			return fmt.Errorf("min_distance %f must be below max_distance %f", *c.MinDistance, *c.MaxDistance)
		}
	}

	if c.ProcessNoise != nil && *c.ProcessNoise <= 0 {
		return fmt.Errorf("process_noise must be positive, got %f", *c.ProcessNoise)
	}

	if c.MeasurementNoise != nil && *c.MeasurementNoise <= 0 {
		return fmt.Errorf("measurement_noise must be positive, got %f", *c.MeasurementNoise)
	}

	if c.BoundaryTolerance != nil && *c.BoundaryTolerance < 0 {
		return fmt.Errorf("boundary_tolerance must be non-negative, got %f", *c.BoundaryTolerance)
	}

	// Validate duration strings can be parsed if set
	for name, v := range map[string]*string{
		"anchor_timeout":      c.AnchorTimeout,
		"check_interval":      c.CheckInterval,
		"transition_cooldown": c.TransitionCooldown,
		"pattern_window":      c.PatternWindow,
	} {
		if v != nil && *v != "" {
			if _, err := time.ParseDuration(*v); err != nil {
				return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
			}
		}
	}

	return nil
}

// GetRefPower returns the ref_power value or the default.
func (c *TuningConfig) GetRefPower() float64 {
	if c.RefPower == nil {
		return rssi.DefaultRefPower
	}
	return *c.RefPower
}

// GetPathLossExponent returns the path_loss_exponent value or the default.
func (c *TuningConfig) GetPathLossExponent() float64 {
	if c.PathLossExponent == nil {
		return rssi.DefaultPathLossExponent
	}
	return *c.PathLossExponent
}

// GetEnvironmentalFactor returns the environmental_factor value or the default.
func (c *TuningConfig) GetEnvironmentalFactor() float64 {
	if c.EnvironmentalFactor == nil {
		return rssi.DefaultEnvironmentalFactor
	}
	return *c.EnvironmentalFactor
}

// GetMinDistance returns the min_distance value or the default.
func (c *TuningConfig) GetMinDistance() float64 {
	if c.MinDistance == nil {
		return rssi.DefaultMinDistance
	}
	return *c.MinDistance
}

// GetMaxDistance returns the max_distance value or the default.
func (c *TuningConfig) GetMaxDistance() float64 {
	if c.MaxDistance == nil {
		return rssi.DefaultMaxDistance
	}
	return *c.MaxDistance
}

// GetMaxAnchors returns the max_anchors value or the default.
func (c *TuningConfig) GetMaxAnchors() int {
	if c.MaxAnchors == nil {
		return 32
	}
	return *c.MaxAnchors
}

// GetProcessNoise returns the process_noise value or the default.
func (c *TuningConfig) GetProcessNoise() float64 {
	if c.ProcessNoise == nil {
		return 0.1
	}
	return *c.ProcessNoise
}

// GetMeasurementNoise returns the measurement_noise value or the default.
func (c *TuningConfig) GetMeasurementNoise() float64 {
	if c.MeasurementNoise == nil {
		return 1.0
	}
	return *c.MeasurementNoise
}

// GetSmoothing returns the smoothing value or the default.
func (c *TuningConfig) GetSmoothing() bool {
	if c.Smoothing == nil {
		return true
	}
	return *c.Smoothing
}

// GetOutlierDetection returns the outlier_detection value or the default.
func (c *TuningConfig) GetOutlierDetection() bool {
	if c.OutlierDetection == nil {
		return true
	}
	return *c.OutlierDetection
}

// GetAnchorTimeout parses and returns the AnchorTimeout as a time.Duration.
func (c *TuningConfig) GetAnchorTimeout() time.Duration {
	return durationOr(c.AnchorTimeout, 10*time.Second)
}

// GetMaxZones returns the max_zones value or the default.
func (c *TuningConfig) GetMaxZones() int {
	if c.MaxZones == nil {
		return 10
	}
	return *c.MaxZones
}

// GetCheckInterval parses and returns the CheckInterval as a time.Duration.
func (c *TuningConfig) GetCheckInterval() time.Duration {
	return durationOr(c.CheckInterval, time.Second)
}

// GetTransitionCooldown parses and returns the TransitionCooldown as a time.Duration.
func (c *TuningConfig) GetTransitionCooldown() time.Duration {
	return durationOr(c.TransitionCooldown, 5*time.Second)
}

// GetBoundaryTolerance returns the boundary_tolerance value or the default.
func (c *TuningConfig) GetBoundaryTolerance() float64 {
	if c.BoundaryTolerance == nil {
		return 0.5
	}
	return *c.BoundaryTolerance
}

// GetHistorySize returns the history_size value or the default.
func (c *TuningConfig) GetHistorySize() int {
	if c.HistorySize == nil {
		return 50
	}
	return *c.HistorySize
}

// GetPatternWindow parses and returns the PatternWindow as a time.Duration.
func (c *TuningConfig) GetPatternWindow() time.Duration {
	return durationOr(c.PatternWindow, 5*time.Minute)
}

// GetPatternThreshold returns the pattern_threshold value or the default.
func (c *TuningConfig) GetPatternThreshold() int {
	if c.PatternThreshold == nil {
		return 5
	}
	return *c.PatternThreshold
}

// GetMovementAnalysis returns the movement_analysis value or the default.
func (c *TuningConfig) GetMovementAnalysis() bool {
	if c.MovementAnalysis == nil {
		return true
	}
	return *c.MovementAnalysis
}

func durationOr(s *string, def time.Duration) time.Duration {
	if s == nil || *s == "" {
		return def
	}
	d, err := time.ParseDuration(*s)
	if err != nil {
		return def
	}
	return d
}

// RSSIModel builds the distance model from the tuning values.
func (c *TuningConfig) RSSIModel() rssi.Model {
	return rssi.Model{
		RefPower:            c.GetRefPower(),
		PathLossExponent:    c.GetPathLossExponent(),
		EnvironmentalFactor: c.GetEnvironmentalFactor(),
		MinDistance:         c.GetMinDistance(),
		MaxDistance:         c.GetMaxDistance(),
	}
}

// EstimatorConfig builds the position estimator config from the tuning values.
func (c *TuningConfig) EstimatorConfig() locate.Config {
	return locate.Config{
		MaxAnchors:       c.GetMaxAnchors(),
		ProcessNoise:     c.GetProcessNoise(),
		MeasurementNoise: c.GetMeasurementNoise(),
		Smoothing:        c.GetSmoothing(),
		OutlierDetection: c.GetOutlierDetection(),
		AnchorTimeout:    c.GetAnchorTimeout(),
	}
}

// EngineConfig builds the zone engine config from the tuning values.
func (c *TuningConfig) EngineConfig() zones.Config {
	return zones.Config{
		MaxZones:           c.GetMaxZones(),
		CheckInterval:      c.GetCheckInterval(),
		TransitionCooldown: c.GetTransitionCooldown(),
		BoundaryTolerance:  c.GetBoundaryTolerance(),
		HistorySize:        c.GetHistorySize(),
		PatternWindow:      c.GetPatternWindow(),
		PatternThreshold:   c.GetPatternThreshold(),
		MovementAnalysis:   c.GetMovementAnalysis(),
	}
}
