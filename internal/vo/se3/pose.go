package se3

import (
	"gonum.org/v1/gonum/spatial/r3"
)

// Pose is a rigid transform kept in two synchronised forms: the minimal
// parameter vector [rx ry rz tx ty tz] (rotation vector and translation)
// and the 4x4 matrix used for projection.
//
// The matrix is only ever produced from the parameters, so its rotation
// block stays orthonormal no matter how many updates are composed.
type Pose struct {
	params [6]float64
	m      Matrix
}

// NewPose returns the identity pose.
func NewPose() *Pose {
	return &Pose{m: Identity()}
}

// PoseFromParams builds a pose from its minimal parameters.
func PoseFromParams(v [6]float64) *Pose {
	p := &Pose{}
	p.SetParams(v)
	return p
}

// PoseFromMatrix builds a pose from a rigid transform. The rotation block is
// re-projected onto SO(3) through the log/exp maps.
func PoseFromMatrix(m Matrix) *Pose {
	p := &Pose{}
	p.SetMatrix(m)
	return p
}

// Matrix returns the homogeneous form.
func (p *Pose) Matrix() Matrix { return p.m }

// Params returns the minimal parameters.
func (p *Pose) Params() [6]float64 { return p.params }

// SetParams replaces the parameters and rebuilds the matrix.
func (p *Pose) SetParams(v [6]float64) {
	p.params = v
	p.rebuild()
}

// SetMatrix replaces the pose with m.
func (p *Pose) SetMatrix(m Matrix) {
	w := LogSO3(m.Rotation())
	p.params = [6]float64{w.X, w.Y, w.Z, m[3], m[7], m[11]}
	p.rebuild()
}

func (p *Pose) rebuild() {
	rot := ExpSO3(r3.Vec{X: p.params[0], Y: p.params[1], Z: p.params[2]})
	p.m = FromRotationTranslation(rot, r3.Vec{X: p.params[3], Y: p.params[4], Z: p.params[5]})
}

// ComposeLeft sets the pose to t·P.
func (p *Pose) ComposeLeft(t Matrix) { p.SetMatrix(t.Mul(p.m)) }

// ComposeRight sets the pose to P·t.
func (p *Pose) ComposeRight(t Matrix) { p.SetMatrix(p.m.Mul(t)) }

// ApplyInverse composes the pose with the inverse exponential of delta:
// P ← P·exp(delta)⁻¹. This is the inverse-compositional update used with
// Jacobians precomputed at the reference frame.
func (p *Pose) ApplyInverse(delta [6]float64) {
	var neg [6]float64
	for i, d := range delta {
		neg[i] = -d
	}
	p.ComposeRight(Exp(neg))
}

// Inverse returns a new pose holding P⁻¹.
func (p *Pose) Inverse() *Pose {
	return PoseFromMatrix(p.m.InvertRigid())
}

// TransformPoint maps v through the pose.
func (p *Pose) TransformPoint(v r3.Vec) r3.Vec { return p.m.ApplyPoint(v) }

// ScreenJacobian returns the derivative of the pixel position of exp(ξ)·p
// with respect to ξ at ξ = 0, for a camera-frame point p. Columns follow the
// twist ordering used by Exp: rotation first, then translation.
func (p *Pose) ScreenJacobian(pt r3.Vec, k Intrinsics) [2][6]float64 {
	return ScreenJacobian(pt, k)
}

// ScreenJacobian is the pose-independent form of (*Pose).ScreenJacobian.
//
//	∂π/∂p = [fx/z   0   -fx·x/z²]
//	        [ 0   fy/z  -fy·y/z²]
//	∂(exp(ξ)p)/∂ξ = [ -[p]× | I ]
func ScreenJacobian(pt r3.Vec, k Intrinsics) [2][6]float64 {
	x, y, z := pt.X, pt.Y, pt.Z
	iz := 1 / z
	iz2 := iz * iz

	// Rows of ∂π/∂p.
	a0, a2 := k.Fx*iz, -k.Fx*x*iz2
	b1, b2 := k.Fy*iz, -k.Fy*y*iz2

	// -[p]× = [[0, z, -y], [-z, 0, x], [y, -x, 0]]
	var j [2][6]float64
	j[0][0] = a2 * y
	j[0][1] = a0*z - a2*x
	j[0][2] = -a0 * y
	j[0][3] = a0
	j[0][4] = 0
	j[0][5] = a2

	j[1][0] = -b1*z + b2*y
	j[1][1] = -b2 * x
	j[1][2] = b1 * x
	j[1][3] = 0
	j[1][4] = b1
	j[1][5] = b2
	return j
}
