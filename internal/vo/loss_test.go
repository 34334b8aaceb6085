package vo

import (
	"errors"
	"math"
	"testing"

	"github.com/banshee-data/rgbdvo/internal/config"
)

func TestLossWeightsBounded(t *testing.T) {
	losses := map[string]LossFunction{
		"none":  IdentityLoss{},
		"huber": NewHuberLoss(DefaultHuberK),
		"tukey": NewTukeyLoss(DefaultTukeyC),
	}
	for name, l := range losses {
		for _, sigma := range []float64{0, 1e-9, 0.01, 0.3} {
			l.SetSigma(sigma)
			for r := -2.0; r <= 2.0; r += 0.001 {
				w := l.Weight(r)
				if w < 0 || w > 1 || math.IsNaN(w) {
					t.Fatalf("%s: Weight(%g) with sigma %g = %g, outside [0, 1]", name, r, sigma, w)
				}
			}
		}
	}
}

func TestHuberWeight(t *testing.T) {
	l := NewHuberLoss(1.345)
	l.SetSigma(0.1)
	if w := l.Weight(0.1); w != 1 {
		t.Errorf("inlier weight = %g, want 1", w)
	}
	if w := l.Weight(-0.5); math.Abs(w-0.1345/0.5) > 1e-12 {
		t.Errorf("outlier weight = %g, want %g", w, 0.1345/0.5)
	}
	if !l.IsRobust() {
		t.Error("Huber should be robust")
	}
}

func TestTukeyWeight(t *testing.T) {
	l := NewTukeyLoss(4.685)
	l.SetSigma(0.1)
	if w := l.Weight(0); w != 1 {
		t.Errorf("Weight(0) = %g, want 1", w)
	}
	if w := l.Weight(0.47); w != 0 {
		t.Errorf("Weight just past threshold = %g, want 0", w)
	}
	if w := l.Weight(3); w != 0 {
		t.Errorf("far outlier weight = %g, want 0", w)
	}
	u := 0.2 / 0.4685
	want := (1 - u*u) * (1 - u*u)
	if w := l.Weight(0.2); math.Abs(w-want) > 1e-12 {
		t.Errorf("Weight(0.2) = %g, want %g", w, want)
	}
}

func TestLossSigmaFloor(t *testing.T) {
	l := NewHuberLoss(1)
	l.SetSigma(0)
	if w := l.Weight(1e-7); w != 1 {
		t.Errorf("tiny residual weight = %g, want 1", w)
	}
	if w := l.Weight(1); math.Abs(w-minSigma) > 1e-15 {
		t.Errorf("unit residual weight = %g, want %g", w, minSigma)
	}
}

func TestNewLossFactory(t *testing.T) {
	tests := []struct {
		kind   string
		param  float64
		robust bool
	}{
		{config.LossNone, 0, false},
		{config.LossHuber, 0, true},
		{config.LossTukey, 3, true},
	}
	for _, tt := range tests {
		f, err := NewLossFactory(tt.kind, tt.param)
		if err != nil {
			t.Fatalf("NewLossFactory(%q): %v", tt.kind, err)
		}
		a, b := f(), f()
		if a.IsRobust() != tt.robust {
			t.Errorf("%s IsRobust = %v, want %v", tt.kind, a.IsRobust(), tt.robust)
		}
		if tt.robust && a == b {
			t.Errorf("%s factory returned a shared instance", tt.kind)
		}
	}
	if h := mustFactory(t, config.LossHuber, 0)().(*HuberLoss); h.K != DefaultHuberK {
		t.Errorf("default Huber K = %g", h.K)
	}

	if _, err := NewLossFactory("cauchy", 1); !errors.Is(err, ErrUnknownLoss) {
		t.Errorf("unknown loss error = %v, want ErrUnknownLoss", err)
	}
}

func mustFactory(t *testing.T, kind string, param float64) LossFactory {
	t.Helper()
	f, err := NewLossFactory(kind, param)
	if err != nil {
		t.Fatalf("NewLossFactory(%q): %v", kind, err)
	}
	return f
}
