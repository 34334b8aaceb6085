package vo

import (
	"fmt"
	"math"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/rgbdvo/internal/monitoring"
	"github.com/banshee-data/rgbdvo/internal/vo/imgproc"
	"github.com/banshee-data/rgbdvo/internal/vo/se3"
)

// AlignmentData holds the precomputed terms for one pyramid level of a
// keyframe. Points, Intensities and Jacobians are index-aligned.
type AlignmentData struct {
	Points      []r3.Vec     // keyframe-camera coordinates, metres
	Intensities []float32    // reference intensity at each point's pixel
	Jacobians   [][6]float64 // photometric Jacobian ∇I·∂π/∂ξ
	Hessian     [36]float64  // Σ JᵀJ over all points, row-major 6x6

	Intrinsics    se3.Intrinsics
	Width, Height int
	Examined      int // pixels considered before filtering
}

// Len returns the number of selected points.
func (d *AlignmentData) Len() int { return len(d.Points) }

// KeyframeSource is the input to NewKeyframe.
type KeyframeSource struct {
	Gray       imgproc.Pyramid // normalised intensities, finest first
	Depth      *imgproc.Image  // normalised raw depth, any resolution with the finest level's aspect
	Pose       se3.Matrix      // world-from-camera
	Intrinsics se3.Intrinsics  // finest level
	Timestamp  float64
}

// Keyframe is a reference frame with per-level alignment data. It is
// immutable after construction.
type Keyframe struct {
	ID        uuid.UUID
	Timestamp float64

	pose   se3.Matrix
	levels []AlignmentData
}

// NewKeyframe selects well-textured points with valid depth on every level
// of src.Gray and precomputes their photometric Jacobians and the Hessian
// approximation. warp supplies the screen Jacobian; nil selects SE3Warp.
//
// ErrNoCandidatePoints is returned when the finest level keeps no points.
// Coarser levels may end up empty; the optimizer reports those levels as
// degenerate.
func NewKeyframe(src KeyframeSource, params KeyframeParams, warp WarpModel) (*Keyframe, error) {
	if src.Gray.Octaves() == 0 {
		return nil, ErrEmptyPyramid
	}
	if src.Depth == nil {
		return nil, ErrNilDepth
	}
	if !src.Intrinsics.Valid() {
		return nil, fmt.Errorf("%w: %+v", ErrInvalidIntrinsics, src.Intrinsics)
	}
	if err := params.validate(); err != nil {
		return nil, err
	}
	if warp == nil {
		warp = &SE3Warp{}
	}

	kf := &Keyframe{
		ID:        uuid.New(),
		Timestamp: src.Timestamp,
		pose:      src.Pose,
		levels:    make([]AlignmentData, src.Gray.Octaves()),
	}
	for lvl, img := range src.Gray.Levels {
		if img == nil {
			return nil, fmt.Errorf("%w: level %d is nil", ErrEmptyPyramid, lvl)
		}
		kf.levels[lvl] = buildLevel(img, src.Depth, src.Intrinsics.Downscaled(lvl), params, warp)
		monitoring.Tracef("[vo] keyframe %s level %d: kept %d of %d pixels",
			kf.ID, lvl, kf.levels[lvl].Len(), kf.levels[lvl].Examined)
	}
	if kf.levels[0].Len() == 0 {
		return nil, ErrNoCandidatePoints
	}
	return kf, nil
}

func buildLevel(img, depth *imgproc.Image, k se3.Intrinsics, params KeyframeParams, warp WarpModel) AlignmentData {
	data := AlignmentData{
		Intrinsics: k,
		Width:      img.Width,
		Height:     img.Height,
		Examined:   img.Width * img.Height,
	}

	gx, gy := img.Gradients()
	scale := float64(depth.Width) / float64(img.Width)
	depthScaling := params.DepthScaling()
	thr2 := params.GradientThreshold * params.GradientThreshold

	for y := 0; y < img.Height; y++ {
		dy := min(int(float64(y)*scale), depth.Height-1)
		for x := 0; x < img.Width; x++ {
			gradX, gradY := float64(gx.At(x, y)), float64(gy.At(x, y))
			if gradX*gradX+gradY*gradY < thr2 {
				continue
			}
			dx := min(int(float64(x)*scale), depth.Width-1)
			z := float64(depth.At(dx, dy)) * depthScaling
			if math.IsNaN(z) || z <= params.MinDepth || (params.MaxDepth > 0 && z > params.MaxDepth) {
				continue
			}

			p := k.BackProject(float64(x), float64(y), z)
			sj := warp.ScreenJacobian(p, k)
			var j [6]float64
			for c := 0; c < 6; c++ {
				j[c] = gradX*sj[0][c] + gradY*sj[1][c]
			}

			data.Points = append(data.Points, p)
			data.Intensities = append(data.Intensities, img.At(x, y))
			data.Jacobians = append(data.Jacobians, j)
			accumulateOuter(&data.Hessian, &j, 1)
		}
	}
	mirrorUpper(&data.Hessian)
	return data
}

// Pose returns the keyframe's world-from-camera transform.
func (kf *Keyframe) Pose() se3.Matrix { return kf.pose }

// Octaves returns the number of pyramid levels.
func (kf *Keyframe) Octaves() int { return len(kf.levels) }

// DataForScale returns the alignment data of one level, finest at 0.
func (kf *Keyframe) DataForScale(level int) *AlignmentData {
	return &kf.levels[level]
}

// NumPoints returns the number of selected points on the finest level.
func (kf *Keyframe) NumPoints() int { return kf.levels[0].Len() }

// accumulateOuter adds w·jjᵀ to the upper triangle of h.
func accumulateOuter(h *[36]float64, j *[6]float64, w float64) {
	for r := 0; r < 6; r++ {
		wr := w * j[r]
		for c := r; c < 6; c++ {
			h[r*6+c] += wr * j[c]
		}
	}
}

// mirrorUpper copies the upper triangle of h into the lower one.
func mirrorUpper(h *[36]float64) {
	for r := 1; r < 6; r++ {
		for c := 0; c < r; c++ {
			h[r*6+c] = h[c*6+r]
		}
	}
}
