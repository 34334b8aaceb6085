package vo

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/banshee-data/rgbdvo/internal/monitoring"
	"github.com/banshee-data/rgbdvo/internal/vo/imgproc"
	"github.com/banshee-data/rgbdvo/internal/vo/se3"
)

// Status is the termination state of a pyramid level.
type Status int

const (
	StatusNone Status = iota
	StatusConverged
	StatusMaxIterations
	StatusDegenerate
)

func (s Status) String() string {
	switch s {
	case StatusConverged:
		return "converged"
	case StatusMaxIterations:
		return "max_iterations"
	case StatusDegenerate:
		return "degenerate"
	default:
		return "none"
	}
}

// LevelResult reports one pyramid level of an optimization.
type LevelResult struct {
	Level           int
	Status          Status
	Iterations      int
	Cost            float64 // weighted cost of the last accepted iteration
	NumPixels       int     // points used by the last accepted iteration
	PixelPercentage float64 // NumPixels over the level's point count
	InitialPose     se3.Matrix
	FinalPose       se3.Matrix
}

// Result reports an optimization. The scalar fields describe the finest
// level; Levels is indexed like the pyramid, finest first.
type Result struct {
	Cost            float64
	Iterations      int
	NumPixels       int
	PixelPercentage float64
	Status          Status
	Levels          []LevelResult
}

// Degenerate reports whether the finest level produced no usable estimate.
func (r Result) Degenerate() bool { return r.NumPixels == 0 }

// TotalIterations sums iterations over all levels.
func (r Result) TotalIterations() int {
	n := 0
	for _, l := range r.Levels {
		n += l.Iterations
	}
	return n
}

// Scratch holds per-call working buffers. A Scratch may be reused across
// calls on one goroutine; concurrent calls need their own.
type Scratch struct {
	projected []r2.Vec
	sampled   []float32
	residuals []float32
	valid     []bool
	hist      *Histogram
}

func (s *Scratch) resize(n int) {
	if cap(s.projected) < n {
		s.projected = make([]r2.Vec, n)
		s.sampled = make([]float32, n)
		s.residuals = make([]float32, n)
		s.valid = make([]bool, n)
	}
	s.projected = s.projected[:n]
	s.sampled = s.sampled[:n]
	s.residuals = s.residuals[:n]
	s.valid = s.valid[:n]
}

// Optimizer estimates camera motion against a keyframe by coarse-to-fine
// robust Gauss-Newton. It holds configuration only and is safe for
// concurrent use.
type Optimizer struct {
	params  Params
	backend imgproc.Backend
	newLoss LossFactory
}

// Option configures an Optimizer.
type Option func(*Optimizer)

// WithBackend selects the projection and sampling backend.
func WithBackend(b imgproc.Backend) Option {
	return func(o *Optimizer) {
		if b != nil {
			o.backend = b
		}
	}
}

// WithLossFactory selects the robust loss.
func WithLossFactory(f LossFactory) Option {
	return func(o *Optimizer) {
		if f != nil {
			o.newLoss = f
		}
	}
}

// NewOptimizer returns an optimizer using the scalar backend and a Huber
// loss unless overridden.
func NewOptimizer(params Params, opts ...Option) *Optimizer {
	o := &Optimizer{
		params:  params,
		backend: imgproc.ScalarBackend{},
		newLoss: func() LossFunction { return NewHuberLoss(DefaultHuberK) },
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Params returns the optimizer's parameters.
func (o *Optimizer) Params() Params { return o.params }

// Optimize aligns frame to kf starting from prediction, the predicted
// world-from-camera pose of frame. On return pose holds the estimated
// world-from-camera pose.
//
// Internally the estimate is the transform taking keyframe points into the
// current camera, initialised to prediction⁻¹·kf.Pose() and refined level by
// level from coarsest to finest; each level starts from the previous level's
// result. A level with no valid points or a singular system stops early and
// keeps its pose. Errors are returned only for precondition failures,
// including Params that fail validation (ErrInvalidParams).
func (o *Optimizer) Optimize(pose WarpModel, prediction se3.Matrix, kf *Keyframe, frame imgproc.Pyramid, scratch *Scratch) (Result, error) {
	if err := o.params.validate(); err != nil {
		return Result{}, err
	}
	if pose == nil {
		return Result{}, ErrNilPose
	}
	if kf == nil {
		return Result{}, ErrNilKeyframe
	}
	if frame.Octaves() != kf.Octaves() {
		return Result{}, ErrLevelMismatch
	}
	for lvl, img := range frame.Levels {
		d := kf.DataForScale(lvl)
		if img == nil || img.Width != d.Width || img.Height != d.Height {
			return Result{}, ErrLevelMismatch
		}
	}
	if scratch == nil {
		scratch = &Scratch{}
	}
	if scratch.hist == nil || scratch.hist.max != o.params.MedianMax || scratch.hist.resolution != o.params.MedianResolution {
		scratch.hist = NewHistogram(0, o.params.MedianMax, o.params.MedianResolution)
	}

	loss := o.newLoss()
	builder := NewSystemBuilder(loss)
	pose.SetPose(prediction.InvertRigid().Mul(kf.Pose()))

	res := Result{Levels: make([]LevelResult, kf.Octaves())}
	for lvl := kf.Octaves() - 1; lvl >= 0; lvl-- {
		res.Levels[lvl] = o.optimizeLevel(lvl, pose, loss, builder, kf.DataForScale(lvl), frame.Levels[lvl], scratch)
	}

	finest := res.Levels[0]
	res.Cost = finest.Cost
	res.Iterations = finest.Iterations
	res.NumPixels = finest.NumPixels
	res.PixelPercentage = finest.PixelPercentage
	res.Status = finest.Status

	pose.SetPose(kf.Pose().Mul(pose.PoseMatrix().InvertRigid()))
	return res, nil
}

func (o *Optimizer) optimizeLevel(lvl int, pose WarpModel, loss LossFunction, builder *SystemBuilder, data *AlignmentData, img *imgproc.Image, s *Scratch) LevelResult {
	lr := LevelResult{
		Level:       lvl,
		Status:      StatusMaxIterations,
		InitialPose: pose.PoseMatrix(),
	}
	n := data.Len()
	s.resize(n)
	k := data.Intrinsics.Matrix4()

	var h [36]float64
	var g [6]float64
	for lr.Iterations < o.params.MaxIterations {
		o.backend.ProjectPoints(s.projected, k.Mul(pose.PoseMatrix()), data.Points)
		o.backend.WarpBilinear(s.sampled, s.valid, s.projected, img)
		pose.ComputeResiduals(s.residuals, data.Intensities, s.sampled, s.valid)

		loss.SetSigma(1.4 * medianAbs(s.hist, s.residuals, s.valid))
		cost, used := builder.Build(&h, &g, data, s.residuals, s.valid)
		if used == 0 {
			lr.Status = StatusDegenerate
			lr.NumPixels = 0
			break
		}
		delta, ok := o.solve(&h, &g)
		if !ok {
			lr.Status = StatusDegenerate
			lr.NumPixels = 0
			break
		}

		pose.UpdateParameters(delta)
		lr.Iterations++
		lr.Cost = cost
		lr.NumPixels = used
		step := floats.Norm(delta[:], 2)
		monitoring.Tracef("[vo] level %d iter %d: cost=%.6g pixels=%d/%d |δ|=%.3g",
			lvl, lr.Iterations, cost, used, n, step)
		if step < o.params.MinParameterUpdate {
			lr.Status = StatusConverged
			break
		}
	}

	if lr.NumPixels > 0 && n > 0 {
		lr.PixelPercentage = float64(lr.NumPixels) / float64(n)
	}
	lr.FinalPose = pose.PoseMatrix()
	return lr
}

// solve returns δ = −H⁻¹g, or false when H is not positive definite or is
// too poorly conditioned to trust.
func (o *Optimizer) solve(h *[36]float64, g *[6]float64) ([6]float64, bool) {
	var delta [6]float64
	hd := make([]float64, 36)
	copy(hd, h[:])
	gd := make([]float64, 6)
	copy(gd, g[:])

	var chol mat.Cholesky
	if ok := chol.Factorize(mat.NewSymDense(6, hd)); !ok {
		return delta, false
	}
	if c := chol.Cond(); math.IsNaN(c) || math.IsInf(c, 0) || c > o.params.MaxCondition {
		return delta, false
	}
	var x mat.VecDense
	if err := chol.SolveVecTo(&x, mat.NewVecDense(6, gd)); err != nil {
		return delta, false
	}
	for i := range delta {
		delta[i] = -x.AtVec(i)
		if math.IsNaN(delta[i]) {
			return [6]float64{}, false
		}
	}
	return delta, true
}

// medianAbs approximates the median absolute residual over valid points.
func medianAbs(h *Histogram, residuals []float32, valid []bool) float64 {
	h.Clear()
	for i, r := range residuals {
		if valid[i] {
			h.Add(math.Abs(float64(r)))
		}
	}
	if h.Count() == 0 {
		return 0
	}
	return h.Median()
}
