package vo

import (
	"fmt"

	"github.com/banshee-data/rgbdvo/internal/config"
	"github.com/banshee-data/rgbdvo/internal/vo/imgproc"
)

// Params controls the Gauss-Newton loop.
type Params struct {
	MaxIterations      int     // per pyramid level
	MinParameterUpdate float64 // convergence threshold on ‖δ‖
	MedianResolution   float64 // histogram bin width for the residual median
	MedianMax          float64 // upper bound of the residual histogram
	MaxCondition       float64 // Hessians above this condition number are degenerate
}

// DefaultParams returns the defaults used when no tuning file is supplied.
func DefaultParams() Params {
	return ParamsFromTuning(config.EmptyTuningConfig())
}

// ParamsFromTuning extracts optimizer parameters from a tuning config.
func ParamsFromTuning(cfg *config.TuningConfig) Params {
	return Params{
		MaxIterations:      cfg.GetMaxIterations(),
		MinParameterUpdate: cfg.GetMinParameterUpdate(),
		MedianResolution:   cfg.GetMedianResolution(),
		MedianMax:          cfg.GetMedianMax(),
		MaxCondition:       cfg.GetMaxCondition(),
	}
}

func (p Params) validate() error {
	if p.MaxIterations < 1 {
		return fmt.Errorf("%w: max iterations %d must be at least 1", ErrInvalidParams, p.MaxIterations)
	}
	if p.MinParameterUpdate < 0 {
		return fmt.Errorf("%w: negative min parameter update %g", ErrInvalidParams, p.MinParameterUpdate)
	}
	if p.MedianResolution <= 0 || p.MedianMax <= 0 || p.MedianResolution > p.MedianMax {
		return fmt.Errorf("%w: median resolution %g and max %g must be positive with resolution <= max",
			ErrInvalidParams, p.MedianResolution, p.MedianMax)
	}
	if !(p.MaxCondition > 1) {
		return fmt.Errorf("%w: max condition %g must exceed 1", ErrInvalidParams, p.MaxCondition)
	}
	return nil
}

// KeyframeParams controls point selection when building a keyframe.
type KeyframeParams struct {
	DepthScale        float64 // raw depth units per metre
	DepthMaxRaw       float64 // raw value that maps to normalised 1.0
	MinDepth          float64 // metres; points at or below are rejected
	MaxDepth          float64 // metres; 0 disables the far cut
	GradientThreshold float64 // minimum intensity gradient magnitude
}

// DefaultKeyframeParams returns the defaults used when no tuning file is
// supplied.
func DefaultKeyframeParams() KeyframeParams {
	return KeyframeParamsFromTuning(config.EmptyTuningConfig())
}

// KeyframeParamsFromTuning extracts keyframe parameters from a tuning config.
func KeyframeParamsFromTuning(cfg *config.TuningConfig) KeyframeParams {
	return KeyframeParams{
		DepthScale:        cfg.GetDepthScale(),
		DepthMaxRaw:       cfg.GetDepthMaxRaw(),
		MinDepth:          cfg.GetMinDepth(),
		MaxDepth:          cfg.GetMaxDepth(),
		GradientThreshold: cfg.GetGradientThreshold(),
	}
}

// DepthScaling is the factor converting a normalised depth sample to metres.
func (p KeyframeParams) DepthScaling() float64 {
	return p.DepthMaxRaw / p.DepthScale
}

func (p KeyframeParams) validate() error {
	if p.DepthScale <= 0 || p.DepthMaxRaw <= 0 {
		return fmt.Errorf("%w: depth scale %g and max raw %g must be positive", ErrInvalidParams, p.DepthScale, p.DepthMaxRaw)
	}
	if p.MaxDepth > 0 && p.MaxDepth <= p.MinDepth {
		return fmt.Errorf("%w: max depth %g must exceed min depth %g", ErrInvalidParams, p.MaxDepth, p.MinDepth)
	}
	if p.GradientThreshold < 0 {
		return fmt.Errorf("%w: negative gradient threshold %g", ErrInvalidParams, p.GradientThreshold)
	}
	return nil
}

// OptionsFromTuning returns the optimizer options selected by cfg: the
// robust loss and the execution backend.
func OptionsFromTuning(cfg *config.TuningConfig) ([]Option, error) {
	factory, err := NewLossFactory(cfg.GetRobustLoss(), cfg.GetRobustParam())
	if err != nil {
		return nil, err
	}
	var backend imgproc.Backend = imgproc.ScalarBackend{}
	if w := cfg.GetParallelWorkers(); w != 1 {
		backend = imgproc.NewParallelBackend(w)
	}
	return []Option{WithLossFactory(factory), WithBackend(backend)}, nil
}
