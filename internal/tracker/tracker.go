package tracker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/rgbdvo/internal/config"
	"github.com/banshee-data/rgbdvo/internal/dataset"
	"github.com/banshee-data/rgbdvo/internal/monitoring"
	"github.com/banshee-data/rgbdvo/internal/timeutil"
	"github.com/banshee-data/rgbdvo/internal/vo"
	"github.com/banshee-data/rgbdvo/internal/vo/imgproc"
	"github.com/banshee-data/rgbdvo/internal/vo/se3"
)

// FrameResult is the outcome of tracking one frame.
type FrameResult struct {
	Index       int
	Timestamp   float64
	Pose        se3.Matrix // world-from-camera
	Relative    se3.Matrix // keyframe-from-camera, against KeyframeID
	KeyframeID  uuid.UUID  // keyframe the frame was aligned to
	NewKeyframe bool       // the frame became the next keyframe
	Result      vo.Result
	Duration    time.Duration
}

// KeyframeEvent announces a new keyframe. It is delivered before any frame
// that references it.
type KeyframeEvent struct {
	ID         uuid.UUID
	FrameIndex int
	Timestamp  float64
	Pose       se3.Matrix
	NumPoints  int
}

// Sink consumes tracking output.
type Sink interface {
	OnKeyframe(ctx context.Context, ev KeyframeEvent) error
	OnFrame(ctx context.Context, fr FrameResult) error
}

// FrameSource supplies frames by index. *dataset.Sequence implements it.
type FrameSource interface {
	Len() int
	Load(i int) (dataset.Frame, error)
}

// Config controls pyramid construction and keyframe selection.
type Config struct {
	PyramidLevels      int
	Intrinsics         se3.Intrinsics
	Keyframe           vo.KeyframeParams
	MinPixelPercentage float64 // below this overlap a new keyframe is taken
	MaxTranslation     float64 // metres from the keyframe
	MaxRotationDeg     float64 // degrees from the keyframe
	InitialPose        se3.Matrix
	Clock              timeutil.Clock // timing source; nil means the wall clock
}

// ConfigFromTuning builds a Config from tuning values and camera intrinsics.
func ConfigFromTuning(cfg *config.TuningConfig, k se3.Intrinsics) Config {
	return Config{
		PyramidLevels:      cfg.GetPyramidLevels(),
		Intrinsics:         k,
		Keyframe:           vo.KeyframeParamsFromTuning(cfg),
		MinPixelPercentage: cfg.GetKeyframeMinPixelPercentage(),
		MaxTranslation:     cfg.GetKeyframeMaxTranslation(),
		MaxRotationDeg:     cfg.GetKeyframeMaxRotationDeg(),
		InitialPose:        se3.Identity(),
	}
}

// Tracker is not safe for concurrent use; frames must arrive in order.
type Tracker struct {
	cfg   Config
	opt   *vo.Optimizer
	sinks []Sink

	scratch  vo.Scratch
	keyframe *vo.Keyframe
	relative se3.Matrix
	absolute se3.Matrix
}

// New returns a tracker starting at cfg.InitialPose (identity when zero).
func New(cfg Config, opt *vo.Optimizer, sinks ...Sink) *Tracker {
	if cfg.InitialPose == (se3.Matrix{}) {
		cfg.InitialPose = se3.Identity()
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	return &Tracker{
		cfg:      cfg,
		opt:      opt,
		sinks:    sinks,
		relative: se3.Identity(),
		absolute: cfg.InitialPose,
	}
}

// Pose returns the latest world-from-camera estimate.
func (t *Tracker) Pose() se3.Matrix { return t.absolute }

// Keyframe returns the active keyframe, nil before the first frame.
func (t *Tracker) Keyframe() *vo.Keyframe { return t.keyframe }

// Track aligns one frame and updates the keyframe if needed.
func (t *Tracker) Track(ctx context.Context, f dataset.Frame) (FrameResult, error) {
	if err := ctx.Err(); err != nil {
		return FrameResult{}, err
	}
	start := t.cfg.Clock.Now()
	pyr, err := imgproc.NewPyramid(f.Gray, t.cfg.PyramidLevels)
	if err != nil {
		return FrameResult{}, fmt.Errorf("frame %d: %w", f.Index, err)
	}

	if t.keyframe == nil {
		kf, err := t.newKeyframe(ctx, f, pyr, t.absolute)
		if err != nil {
			return FrameResult{}, fmt.Errorf("frame %d: first keyframe: %w", f.Index, err)
		}
		fr := FrameResult{
			Index:       f.Index,
			Timestamp:   f.Timestamp,
			Pose:        t.absolute,
			Relative:    se3.Identity(),
			KeyframeID:  kf.ID,
			NewKeyframe: true,
			Duration:    t.cfg.Clock.Since(start),
		}
		return fr, t.emitFrame(ctx, fr)
	}

	kf := t.keyframe
	prediction := kf.Pose().Mul(t.relative)
	warp := vo.NewSE3Warp(prediction)
	res, err := t.opt.Optimize(warp, prediction, kf, pyr, &t.scratch)
	if err != nil {
		return FrameResult{}, fmt.Errorf("frame %d: %w", f.Index, err)
	}

	pose := warp.PoseMatrix()
	if res.Degenerate() {
		pose = prediction
	}
	t.absolute = pose
	t.relative = kf.Pose().InvertRigid().Mul(pose)

	fr := FrameResult{
		Index:      f.Index,
		Timestamp:  f.Timestamp,
		Pose:       pose,
		Relative:   t.relative,
		KeyframeID: kf.ID,
		Result:     res,
	}
	monitoring.Logf("[tracker] frame %d: %s pixels=%.1f%% iters=%d cost=%.4g",
		f.Index, res.Status, 100*res.PixelPercentage, res.TotalIterations(), res.Cost)

	if reason := t.needsKeyframe(res); reason != "" {
		if _, err := t.newKeyframe(ctx, f, pyr, pose); err == nil {
			fr.NewKeyframe = true
			t.relative = se3.Identity()
			monitoring.Logf("[tracker] frame %d: new keyframe (%s)", f.Index, reason)
		} else if errors.Is(err, vo.ErrNoCandidatePoints) {
			monitoring.Logf("[tracker] frame %d: keeping keyframe, %s but frame has no usable points", f.Index, reason)
		} else {
			return FrameResult{}, fmt.Errorf("frame %d: %w", f.Index, err)
		}
	}
	fr.Duration = t.cfg.Clock.Since(start)
	return fr, t.emitFrame(ctx, fr)
}

// needsKeyframe returns why the active keyframe should be replaced, or "".
func (t *Tracker) needsKeyframe(res vo.Result) string {
	switch {
	case res.Degenerate():
		return "degenerate alignment"
	case res.PixelPercentage < t.cfg.MinPixelPercentage:
		return fmt.Sprintf("overlap %.2f below %.2f", res.PixelPercentage, t.cfg.MinPixelPercentage)
	}
	if t.cfg.MaxTranslation > 0 && r3.Norm(t.relative.TranslationVec()) > t.cfg.MaxTranslation {
		return "translation limit"
	}
	if t.cfg.MaxRotationDeg > 0 && t.relative.RotationAngle() > t.cfg.MaxRotationDeg*math.Pi/180 {
		return "rotation limit"
	}
	return ""
}

// newKeyframe builds a keyframe from f and makes it active once every sink
// has accepted it.
func (t *Tracker) newKeyframe(ctx context.Context, f dataset.Frame, pyr imgproc.Pyramid, pose se3.Matrix) (*vo.Keyframe, error) {
	kf, err := vo.NewKeyframe(vo.KeyframeSource{
		Gray:       pyr,
		Depth:      f.Depth,
		Pose:       pose,
		Intrinsics: t.cfg.Intrinsics,
		Timestamp:  f.Timestamp,
	}, t.cfg.Keyframe, nil)
	if err != nil {
		return nil, err
	}
	ev := KeyframeEvent{
		ID:         kf.ID,
		FrameIndex: f.Index,
		Timestamp:  f.Timestamp,
		Pose:       pose,
		NumPoints:  kf.NumPoints(),
	}
	for _, s := range t.sinks {
		if err := s.OnKeyframe(ctx, ev); err != nil {
			return nil, fmt.Errorf("keyframe sink: %w", err)
		}
	}
	t.keyframe = kf
	return kf, nil
}

func (t *Tracker) emitFrame(ctx context.Context, fr FrameResult) error {
	for _, s := range t.sinks {
		if err := s.OnFrame(ctx, fr); err != nil {
			return fmt.Errorf("frame sink: %w", err)
		}
	}
	return nil
}

// Summary aggregates a Run.
type Summary struct {
	Frames     int
	Keyframes  int
	Degenerate int
	Iterations int
	Elapsed    time.Duration
}

// Run tracks frames [0, maxFrames) of src (all frames when maxFrames <= 0).
// Cancellation is honoured between frames.
func (t *Tracker) Run(ctx context.Context, src FrameSource, maxFrames int) (sum Summary, err error) {
	n := src.Len()
	if maxFrames > 0 && maxFrames < n {
		n = maxFrames
	}
	start := t.cfg.Clock.Now()
	defer func() { sum.Elapsed = t.cfg.Clock.Since(start) }()

	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		f, err := src.Load(i)
		if err != nil {
			return sum, fmt.Errorf("load frame %d: %w", i, err)
		}
		fr, err := t.Track(ctx, f)
		if err != nil {
			return sum, err
		}
		sum.Frames++
		sum.Iterations += fr.Result.TotalIterations()
		if fr.NewKeyframe {
			sum.Keyframes++
		}
		if i > 0 && fr.Result.Degenerate() {
			sum.Degenerate++
		}
	}
	monitoring.Logf("[tracker] %d frames, %d keyframes, %d degenerate in %v",
		sum.Frames, sum.Keyframes, sum.Degenerate, t.cfg.Clock.Since(start))
	return sum, nil
}
