package vo

import (
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/rgbdvo/internal/vo/se3"
)

// WarpModel is the motion model the optimizer estimates. The optimizer only
// needs to set and read the current transform, apply a parameter update,
// differentiate projection with respect to the parameters, and form
// residuals.
type WarpModel interface {
	SetPose(m se3.Matrix)
	PoseMatrix() se3.Matrix
	UpdateParameters(delta [6]float64)
	ScreenJacobian(p r3.Vec, k se3.Intrinsics) [2][6]float64
	ComputeResiduals(dst []float32, reference, warped []float32, valid []bool)
}

// SE3Warp is the rigid-body warp used for RGB-D alignment.
type SE3Warp struct {
	pose *se3.Pose
}

// NewSE3Warp returns a warp initialised to m.
func NewSE3Warp(m se3.Matrix) *SE3Warp {
	return &SE3Warp{pose: se3.PoseFromMatrix(m)}
}

func (w *SE3Warp) SetPose(m se3.Matrix) {
	if w.pose == nil {
		w.pose = se3.NewPose()
	}
	w.pose.SetMatrix(m)
}

func (w *SE3Warp) PoseMatrix() se3.Matrix {
	if w.pose == nil {
		return se3.Identity()
	}
	return w.pose.Matrix()
}

// Params returns the minimal parameters of the current transform.
func (w *SE3Warp) Params() [6]float64 {
	if w.pose == nil {
		return [6]float64{}
	}
	return w.pose.Params()
}

// UpdateParameters applies an inverse-compositional step: P ← P·exp(δ)⁻¹.
func (w *SE3Warp) UpdateParameters(delta [6]float64) {
	if w.pose == nil {
		w.pose = se3.NewPose()
	}
	w.pose.ApplyInverse(delta)
}

func (w *SE3Warp) ScreenJacobian(p r3.Vec, k se3.Intrinsics) [2][6]float64 {
	return se3.ScreenJacobian(p, k)
}

// ComputeResiduals writes reference − warped for valid points and zero for
// the rest.
func (w *SE3Warp) ComputeResiduals(dst []float32, reference, warped []float32, valid []bool) {
	for i := range dst {
		if valid[i] {
			dst[i] = reference[i] - warped[i]
		} else {
			dst[i] = 0
		}
	}
}
