package vo

import (
	"fmt"
	"math"

	"github.com/banshee-data/rgbdvo/internal/config"
)

// minSigma floors the residual scale so a perfect fit does not collapse the
// robust threshold to zero.
const minSigma = 1e-6

// Default tuning constants for 95% asymptotic efficiency under Gaussian noise.
const (
	DefaultHuberK = 1.345
	DefaultTukeyC = 4.685
)

// LossFunction maps a residual to an IRLS weight in [0, 1].
//
// SetSigma is called once per iteration with the current residual scale
// estimate before any Weight call of that iteration. Implementations hold
// per-optimization state and must not be shared between concurrent calls.
type LossFunction interface {
	Weight(residual float64) float64
	SetSigma(sigma float64)
	IsRobust() bool
}

// LossFactory creates a fresh loss for one optimization call.
type LossFactory func() LossFunction

// IdentityLoss weights every residual equally (plain least squares).
type IdentityLoss struct{}

func (IdentityLoss) Weight(float64) float64 { return 1 }
func (IdentityLoss) SetSigma(float64)       {}
func (IdentityLoss) IsRobust() bool         { return false }

// HuberLoss is quadratic inside K·σ and linear outside it.
type HuberLoss struct {
	K         float64
	threshold float64
}

// NewHuberLoss returns a Huber loss with tuning constant k and unit scale.
func NewHuberLoss(k float64) *HuberLoss {
	l := &HuberLoss{K: k}
	l.SetSigma(1)
	return l
}

func (l *HuberLoss) SetSigma(sigma float64) { l.threshold = l.K * math.Max(sigma, minSigma) }
func (l *HuberLoss) IsRobust() bool         { return true }

func (l *HuberLoss) Weight(r float64) float64 {
	a := math.Abs(r)
	if a <= l.threshold {
		return 1
	}
	return l.threshold / a
}

// TukeyLoss is Tukey's biweight: residuals beyond C·σ get zero weight.
type TukeyLoss struct {
	C         float64
	threshold float64
}

// NewTukeyLoss returns a Tukey loss with tuning constant c and unit scale.
func NewTukeyLoss(c float64) *TukeyLoss {
	l := &TukeyLoss{C: c}
	l.SetSigma(1)
	return l
}

func (l *TukeyLoss) SetSigma(sigma float64) { l.threshold = l.C * math.Max(sigma, minSigma) }
func (l *TukeyLoss) IsRobust() bool         { return true }

func (l *TukeyLoss) Weight(r float64) float64 {
	a := math.Abs(r)
	if a >= l.threshold {
		return 0
	}
	u := a / l.threshold
	w := 1 - u*u
	return w * w
}

// NewLossFactory returns a factory for the named loss. param <= 0 selects
// the default tuning constant.
func NewLossFactory(kind string, param float64) (LossFactory, error) {
	switch kind {
	case config.LossNone:
		return func() LossFunction { return IdentityLoss{} }, nil
	case config.LossHuber:
		if param <= 0 {
			param = DefaultHuberK
		}
		return func() LossFunction { return NewHuberLoss(param) }, nil
	case config.LossTukey:
		if param <= 0 {
			param = DefaultTukeyC
		}
		return func() LossFunction { return NewTukeyLoss(param) }, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownLoss, kind)
	}
}
