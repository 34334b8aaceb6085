package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// Robust loss families accepted by robust_loss.
const (
	LossNone  = "none"
	LossHuber = "huber"
	LossTukey = "tukey"
)

// TuningConfig represents the root configuration for odometry tuning
// parameters. Every field is optional; the Get* accessors supply defaults
// for anything the JSON leaves out.
type TuningConfig struct {
	// Optimizer params
	MaxIterations      *int     `json:"max_iterations,omitempty"`
	MinParameterUpdate *float64 `json:"min_parameter_update,omitempty"`
	RobustLoss         *string  `json:"robust_loss,omitempty"` // "none", "huber" or "tukey"
	RobustParam        *float64 `json:"robust_param,omitempty"`
	MedianResolution   *float64 `json:"median_resolution,omitempty"`
	MedianMax          *float64 `json:"median_max,omitempty"`
	MaxCondition       *float64 `json:"max_condition,omitempty"`
	PyramidLevels      *int     `json:"pyramid_levels,omitempty"`
	ParallelWorkers    *int     `json:"parallel_workers,omitempty"` // 0 = GOMAXPROCS, 1 = scalar

	// Keyframe params
	GradientThreshold *float64 `json:"gradient_threshold,omitempty"`
	MinDepth          *float64 `json:"min_depth,omitempty"`
	MaxDepth          *float64 `json:"max_depth,omitempty"` // 0 disables the far cut-off
	DepthScale        *float64 `json:"depth_scale,omitempty"`
	DepthMaxRaw       *float64 `json:"depth_max_raw,omitempty"`

	// Tracker params
	KeyframeMinPixelPercentage *float64 `json:"keyframe_min_pixel_percentage,omitempty"`
	KeyframeMaxTranslation     *float64 `json:"keyframe_max_translation,omitempty"`
	KeyframeMaxRotationDeg     *float64 `json:"keyframe_max_rotation_deg,omitempty"`

	// Dataset params
	AssociationMaxDt *float64 `json:"association_max_dt,omitempty"` // seconds
}

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file retain their default values, so
// partial configs are safe.
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

	cfg := EmptyTuningConfig()
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,       // from internal/config/
		"../../../" + DefaultConfigPath,    // from internal/vo/se3/
		"../../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.MaxIterations != nil && *c.MaxIterations < 1 {
		return fmt.Errorf("max_iterations must be at least 1, got %d", *c.MaxIterations)
	}
	if c.MinParameterUpdate != nil && *c.MinParameterUpdate < 0 {
		return fmt.Errorf("min_parameter_update must be non-negative, got %g", *c.MinParameterUpdate)
	}
	if c.RobustLoss != nil {
		switch *c.RobustLoss {
		case LossNone, LossHuber, LossTukey:
		default:
			return fmt.Errorf("robust_loss must be one of %q, %q, %q, got %q", LossNone, LossHuber, LossTukey, *c.RobustLoss)
		}
	}
	if c.RobustParam != nil && *c.RobustParam <= 0 {
		return fmt.Errorf("robust_param must be positive, got %g", *c.RobustParam)
	}
	if c.MedianResolution != nil && *c.MedianResolution <= 0 {
		return fmt.Errorf("median_resolution must be positive, got %g", *c.MedianResolution)
	}
	if c.MedianMax != nil && *c.MedianMax <= 0 {
		return fmt.Errorf("median_max must be positive, got %g", *c.MedianMax)
	}
	if c.MedianResolution != nil && *c.MedianResolution > c.GetMedianMax() {
		return fmt.Errorf("median_resolution %g exceeds median_max %g", *c.MedianResolution, c.GetMedianMax())
	}
	if c.MaxCondition != nil && *c.MaxCondition <= 1 {
		return fmt.Errorf("max_condition must be greater than 1, got %g", *c.MaxCondition)
	}
	if c.PyramidLevels != nil && (*c.PyramidLevels < 1 || *c.PyramidLevels > 8) {
		return fmt.Errorf("pyramid_levels must be between 1 and 8, got %d", *c.PyramidLevels)
	}
	if c.ParallelWorkers != nil && *c.ParallelWorkers < 0 {
		return fmt.Errorf("parallel_workers must be non-negative, got %d", *c.ParallelWorkers)
	}
	if c.GradientThreshold != nil && *c.GradientThreshold < 0 {
		return fmt.Errorf("gradient_threshold must be non-negative, got %g", *c.GradientThreshold)
	}
	if c.MinDepth != nil && *c.MinDepth < 0 {
		return fmt.Errorf("min_depth must be non-negative, got %g", *c.MinDepth)
	}
	if c.MaxDepth != nil && *c.MaxDepth < 0 {
		return fmt.Errorf("max_depth must be non-negative, got %g", *c.MaxDepth)
	}
	if c.MaxDepth != nil && *c.MaxDepth > 0 && *c.MaxDepth <= c.GetMinDepth() {
		return fmt.Errorf("max_depth %g must exceed min_depth %g", *c.MaxDepth, c.GetMinDepth())
	}
	if c.DepthScale != nil && *c.DepthScale <= 0 {
		return fmt.Errorf("depth_scale must be positive, got %g", *c.DepthScale)
	}
	if c.DepthMaxRaw != nil && *c.DepthMaxRaw <= 0 {
		return fmt.Errorf("depth_max_raw must be positive, got %g", *c.DepthMaxRaw)
	}
	if c.KeyframeMinPixelPercentage != nil {
		if *c.KeyframeMinPixelPercentage < 0 || *c.KeyframeMinPixelPercentage > 1 {
			return fmt.Errorf("keyframe_min_pixel_percentage must be between 0 and 1, got %g", *c.KeyframeMinPixelPercentage)
		}
	}
	if c.KeyframeMaxTranslation != nil && *c.KeyframeMaxTranslation <= 0 {
		return fmt.Errorf("keyframe_max_translation must be positive, got %g", *c.KeyframeMaxTranslation)
	}
	if c.KeyframeMaxRotationDeg != nil && *c.KeyframeMaxRotationDeg <= 0 {
		return fmt.Errorf("keyframe_max_rotation_deg must be positive, got %g", *c.KeyframeMaxRotationDeg)
	}
	if c.AssociationMaxDt != nil && *c.AssociationMaxDt <= 0 {
		return fmt.Errorf("association_max_dt must be positive, got %g", *c.AssociationMaxDt)
	}
	return nil
}

// GetMaxIterations returns the max_iterations value or the default.
func (c *TuningConfig) GetMaxIterations() int {
	if c.MaxIterations == nil {
		return 10
	}
	return *c.MaxIterations
}

// GetMinParameterUpdate returns the min_parameter_update value or the default.
func (c *TuningConfig) GetMinParameterUpdate() float64 {
	if c.MinParameterUpdate == nil {
		return 1e-6
	}
	return *c.MinParameterUpdate
}

// GetRobustLoss returns the robust_loss value or the default.
func (c *TuningConfig) GetRobustLoss() string {
	if c.RobustLoss == nil {
		return LossHuber
	}
	return *c.RobustLoss
}

// GetRobustParam returns the robust_param value or the 95%-efficiency
// default of the selected loss family.
func (c *TuningConfig) GetRobustParam() float64 {
	if c.RobustParam != nil {
		return *c.RobustParam
	}
	switch c.GetRobustLoss() {
	case LossTukey:
		return 4.685
	default:
		return 1.345
	}
}

// GetMedianResolution returns the median_resolution value or the default.
func (c *TuningConfig) GetMedianResolution() float64 {
	if c.MedianResolution == nil {
		return 0.01
	}
	return *c.MedianResolution
}

// GetMedianMax returns the median_max value or the default.
func (c *TuningConfig) GetMedianMax() float64 {
	if c.MedianMax == nil {
		return 1.0
	}
	return *c.MedianMax
}

// GetMaxCondition returns the max_condition value or the default.
func (c *TuningConfig) GetMaxCondition() float64 {
	if c.MaxCondition == nil {
		return 1e12
	}
	return *c.MaxCondition
}

// GetPyramidLevels returns the pyramid_levels value or the default.
func (c *TuningConfig) GetPyramidLevels() int {
	if c.PyramidLevels == nil {
		return 3
	}
	return *c.PyramidLevels
}

// GetParallelWorkers returns the parallel_workers value or the default.
func (c *TuningConfig) GetParallelWorkers() int {
	if c.ParallelWorkers == nil {
		return 0 // GOMAXPROCS
	}
	return *c.ParallelWorkers
}

// GetGradientThreshold returns the gradient_threshold value or the default.
func (c *TuningConfig) GetGradientThreshold() float64 {
	if c.GradientThreshold == nil {
		return 0.02
	}
	return *c.GradientThreshold
}

// GetMinDepth returns the min_depth value or the default.
func (c *TuningConfig) GetMinDepth() float64 {
	if c.MinDepth == nil {
		return 0.05
	}
	return *c.MinDepth
}

// GetMaxDepth returns the max_depth value or the default.
func (c *TuningConfig) GetMaxDepth() float64 {
	if c.MaxDepth == nil {
		return 0 // disabled
	}
	return *c.MaxDepth
}

// GetDepthScale returns the depth_scale value or the default.
func (c *TuningConfig) GetDepthScale() float64 {
	if c.DepthScale == nil {
		return 5000 // raw units per metre for TUM-style 16-bit depth
	}
	return *c.DepthScale
}

// GetDepthMaxRaw returns the depth_max_raw value or the default.
func (c *TuningConfig) GetDepthMaxRaw() float64 {
	if c.DepthMaxRaw == nil {
		return 65535
	}
	return *c.DepthMaxRaw
}

// GetKeyframeMinPixelPercentage returns the keyframe_min_pixel_percentage value or the default.
func (c *TuningConfig) GetKeyframeMinPixelPercentage() float64 {
	if c.KeyframeMinPixelPercentage == nil {
		return 0.6
	}
	return *c.KeyframeMinPixelPercentage
}

// GetKeyframeMaxTranslation returns the keyframe_max_translation value or the default.
func (c *TuningConfig) GetKeyframeMaxTranslation() float64 {
	if c.KeyframeMaxTranslation == nil {
		return 0.15
	}
	return *c.KeyframeMaxTranslation
}

// GetKeyframeMaxRotationDeg returns the keyframe_max_rotation_deg value or the default.
func (c *TuningConfig) GetKeyframeMaxRotationDeg() float64 {
	if c.KeyframeMaxRotationDeg == nil {
		return 5
	}
	return *c.KeyframeMaxRotationDeg
}

// GetAssociationMaxDt returns the association_max_dt value or the default.
func (c *TuningConfig) GetAssociationMaxDt() float64 {
	if c.AssociationMaxDt == nil {
		return 0.02
	}
	return *c.AssociationMaxDt
}
