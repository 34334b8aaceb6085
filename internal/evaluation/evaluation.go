// Package evaluation scores an estimated trajectory against ground truth.
package evaluation

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/rgbdvo/internal/dataset"
	"github.com/banshee-data/rgbdvo/internal/vo/se3"
)

// ErrNoMatches is returned when no estimate has a ground-truth partner.
var ErrNoMatches = errors.New("no estimated poses match the ground truth")

// TimedPose is an estimated world-from-camera pose.
type TimedPose struct {
	Timestamp float64
	Pose      se3.Matrix
}

// Stats summarises a set of errors.
type Stats struct {
	N      int
	RMSE   float64
	Mean   float64
	Median float64
	StdDev float64
	Max    float64
}

func summarise(errs []float64) Stats {
	if len(errs) == 0 {
		return Stats{}
	}
	sq := make([]float64, len(errs))
	floats.MulTo(sq, errs, errs)
	sorted := append([]float64(nil), errs...)
	floats.Argsort(sorted, make([]int, len(sorted)))
	mean, std := stat.MeanStdDev(errs, nil)
	if len(errs) == 1 {
		std = 0
	}
	return Stats{
		N:      len(errs),
		RMSE:   math.Sqrt(stat.Mean(sq, nil)),
		Mean:   mean,
		Median: stat.Quantile(0.5, stat.Empirical, sorted, nil),
		StdDev: std,
		Max:    floats.Max(errs),
	}
}

type pair struct {
	est, gt se3.Matrix
}

func match(est []TimedPose, gt *dataset.GroundTruth, maxDt float64) []pair {
	var out []pair
	for _, e := range est {
		if g, ok := gt.At(e.Timestamp, maxDt); ok {
			out = append(out, pair{est: e.Pose, gt: g})
		}
	}
	return out
}

// AbsoluteTrajectoryError aligns the estimate to the ground truth at the
// first matched pose and returns the translational error statistics in
// metres.
func AbsoluteTrajectoryError(est []TimedPose, gt *dataset.GroundTruth, maxDt float64) (Stats, error) {
	pairs := match(est, gt, maxDt)
	if len(pairs) == 0 {
		return Stats{}, ErrNoMatches
	}
	align := pairs[0].gt.Mul(pairs[0].est.InvertRigid())
	errs := make([]float64, len(pairs))
	for i, p := range pairs {
		d := r3.Sub(align.Mul(p.est).TranslationVec(), p.gt.TranslationVec())
		errs[i] = r3.Norm(d)
	}
	return summarise(errs), nil
}

// RelativePoseError compares motion over delta matched frames. It returns
// translational (metres) and rotational (degrees) statistics.
func RelativePoseError(est []TimedPose, gt *dataset.GroundTruth, maxDt float64, delta int) (trans, rot Stats, err error) {
	if delta < 1 {
		delta = 1
	}
	pairs := match(est, gt, maxDt)
	if len(pairs) <= delta {
		return Stats{}, Stats{}, ErrNoMatches
	}
	var te, re []float64
	for i := 0; i+delta < len(pairs); i++ {
		a, b := pairs[i], pairs[i+delta]
		dEst := a.est.InvertRigid().Mul(b.est)
		dGT := a.gt.InvertRigid().Mul(b.gt)
		e := dGT.InvertRigid().Mul(dEst)
		te = append(te, r3.Norm(e.TranslationVec()))
		re = append(re, e.RotationAngle()*180/math.Pi)
	}
	return summarise(te), summarise(re), nil
}

// GroundTruthPositions returns the matched ground-truth camera centres
// expressed in the estimate's frame, using the same first-pose alignment
// as AbsoluteTrajectoryError.
func GroundTruthPositions(est []TimedPose, gt *dataset.GroundTruth, maxDt float64) ([]r3.Vec, error) {
	pairs := match(est, gt, maxDt)
	if len(pairs) == 0 {
		return nil, ErrNoMatches
	}
	align := pairs[0].est.Mul(pairs[0].gt.InvertRigid())
	out := make([]r3.Vec, len(pairs))
	for i, p := range pairs {
		out[i] = align.Mul(p.gt).TranslationVec()
	}
	return out, nil
}
