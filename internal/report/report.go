// Package report renders the outcome of a tracking run as PNG plots and a
// self-contained HTML page.
package report

import (
	"errors"
	"fmt"
	"image/color"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/rgbdvo/internal/evaluation"
	"github.com/banshee-data/rgbdvo/internal/tracker"
)

// ErrEmptyRun is returned when there is nothing to plot.
var ErrEmptyRun = errors.New("run has no frames")

// Run is everything a report draws.
type Run struct {
	Name   string
	Frames []tracker.FrameResult

	// GroundTruth holds reference camera centres in the estimate's frame;
	// nil when the dataset has none.
	GroundTruth []r3.Vec
	ATE         *evaluation.Stats
}

func (r Run) validate() error {
	if len(r.Frames) == 0 {
		return ErrEmptyRun
	}
	return nil
}

func (r Run) subtitle() string {
	s := fmt.Sprintf("frames=%d keyframes=%d degenerate=%d", len(r.Frames), r.keyframes(), r.degenerate())
	if r.ATE != nil {
		s += fmt.Sprintf(" ate_rmse=%.4fm", r.ATE.RMSE)
	}
	return s
}

func (r Run) keyframes() int {
	n := 0
	for _, f := range r.Frames {
		if f.NewKeyframe {
			n++
		}
	}
	return n
}

func (r Run) degenerate() int {
	n := 0
	for _, f := range r.Frames {
		if f.Result.Degenerate() {
			n++
		}
	}
	return n
}

var (
	estimateColor = color.RGBA{R: 0x1f, G: 0x77, B: 0xb4, A: 0xff}
	truthColor    = color.RGBA{R: 0x7f, G: 0x7f, B: 0x7f, A: 0xff}
	keyframeColor = color.RGBA{R: 0xd6, G: 0x27, B: 0x28, A: 0xff}
	pixelsColor   = color.RGBA{R: 0x2c, G: 0xa0, B: 0x2c, A: 0xff}
)
