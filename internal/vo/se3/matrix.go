package se3

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// MatrixValidationTolerance is the tolerance for checking rotation matrix validity.
const MatrixValidationTolerance = 1e-6

// Matrix is a 4x4 homogeneous transform stored row-major.
type Matrix [16]float64

// Identity returns the identity transform.
func Identity() Matrix {
	return Matrix{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}

// FromRotationTranslation assembles a rigid transform from a row-major 3x3
// rotation and a translation.
func FromRotationTranslation(r [9]float64, t r3.Vec) Matrix {
	return Matrix{
		r[0], r[1], r[2], t.X,
		r[3], r[4], r[5], t.Y,
		r[6], r[7], r[8], t.Z,
		0, 0, 0, 1,
	}
}

// Translation returns the translation column.
func Translation(x, y, z float64) Matrix {
	m := Identity()
	m[3], m[7], m[11] = x, y, z
	return m
}

// Mul returns m·n.
func (m Matrix) Mul(n Matrix) Matrix {
	var out Matrix
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			var s float64
			for k := 0; k < 4; k++ {
				s += m[4*i+k] * n[4*k+j]
			}
			out[4*i+j] = s
		}
	}
	return out
}

// InvertRigid returns the inverse of a rigid transform, [Rᵀ | -Rᵀt].
// The result is undefined for matrices that are not rigid transforms.
func (m Matrix) InvertRigid() Matrix {
	var out Matrix
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[4*i+j] = m[4*j+i]
		}
	}
	for i := 0; i < 3; i++ {
		out[4*i+3] = -(out[4*i]*m[3] + out[4*i+1]*m[7] + out[4*i+2]*m[11])
	}
	out[15] = 1
	return out
}

// Rotation returns the row-major 3x3 rotation block.
func (m Matrix) Rotation() [9]float64 {
	return [9]float64{
		m[0], m[1], m[2],
		m[4], m[5], m[6],
		m[8], m[9], m[10],
	}
}

// TranslationVec returns the translation column as a vector.
func (m Matrix) TranslationVec() r3.Vec {
	return r3.Vec{X: m[3], Y: m[7], Z: m[11]}
}

// ApplyPoint transforms p by m.
func (m Matrix) ApplyPoint(p r3.Vec) r3.Vec {
	return r3.Vec{
		X: m[0]*p.X + m[1]*p.Y + m[2]*p.Z + m[3],
		Y: m[4]*p.X + m[5]*p.Y + m[6]*p.Z + m[7],
		Z: m[8]*p.X + m[9]*p.Y + m[10]*p.Z + m[11],
	}
}

// RotationAngle returns the rotation angle of m in radians.
func (m Matrix) RotationAngle() float64 {
	return r3.Norm(LogSO3(m.Rotation()))
}

// IsValidTransform checks if a 4x4 matrix is a proper rigid transform:
// orthonormal rotation block with det ≈ 1 and a last row of [0 0 0 1].
func IsValidTransform(m Matrix) bool {
	r := m.Rotation()
	det := r[0]*(r[4]*r[8]-r[5]*r[7]) - r[1]*(r[3]*r[8]-r[5]*r[6]) + r[2]*(r[3]*r[7]-r[4]*r[6])
	if math.Abs(det-1) > MatrixValidationTolerance {
		return false
	}

	// RᵀR must be the identity.
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			var s float64
			for k := 0; k < 3; k++ {
				s += r[3*k+i] * r[3*k+j]
			}
			want := 0.0
			if i == j {
				want = 1
			}
			if math.Abs(s-want) > MatrixValidationTolerance {
				return false
			}
		}
	}

	return m[12] == 0 && m[13] == 0 && m[14] == 0 && math.Abs(m[15]-1) <= MatrixValidationTolerance
}
