package se3

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// smallAngle is the threshold below which series expansions replace the
// closed-form Rodrigues coefficients.
const smallAngle = 1e-8

// hat returns the row-major skew-symmetric matrix [w]× so that [w]×p = w×p.
func hat(w r3.Vec) [9]float64 {
	return [9]float64{
		0, -w.Z, w.Y,
		w.Z, 0, -w.X,
		-w.Y, w.X, 0,
	}
}

func mul3(a, b [9]float64) [9]float64 {
	var out [9]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[3*i+j] = a[3*i]*b[j] + a[3*i+1]*b[3+j] + a[3*i+2]*b[6+j]
		}
	}
	return out
}

// rodrigues returns the coefficients A=sinθ/θ, B=(1-cosθ)/θ², C=(θ-sinθ)/θ³.
func rodrigues(theta float64) (a, b, c float64) {
	t2 := theta * theta
	if theta < 1e-4 {
		a = 1 - t2/6
		b = 0.5 - t2/24
		c = 1.0/6 - t2/120
		return
	}
	s, co := math.Sincos(theta)
	a = s / theta
	b = (1 - co) / t2
	c = (theta - s) / (t2 * theta)
	return
}

// ExpSO3 maps a rotation vector to a row-major rotation matrix.
func ExpSO3(w r3.Vec) [9]float64 {
	a, b, _ := rodrigues(r3.Norm(w))
	W := hat(w)
	W2 := mul3(W, W)
	var r [9]float64
	for i := range r {
		r[i] = a*W[i] + b*W2[i]
	}
	r[0] += 1
	r[4] += 1
	r[8] += 1
	return r
}

// LogSO3 maps a rotation matrix to its rotation vector, with angle in [0, π].
func LogSO3(r [9]float64) r3.Vec {
	cosTheta := (r[0] + r[4] + r[8] - 1) / 2
	cosTheta = math.Max(-1, math.Min(1, cosTheta))
	theta := math.Acos(cosTheta)

	// vee(R - Rᵀ) = 2 sinθ · axis
	v := r3.Vec{X: r[7] - r[5], Y: r[2] - r[6], Z: r[3] - r[1]}

	switch {
	case theta < smallAngle:
		return r3.Scale(0.5, v)
	case math.Pi-theta < 1e-6:
		// Near π the antisymmetric part vanishes; recover the axis from the
		// symmetric part R ≈ 2nnᵀ - I using the largest diagonal entry.
		k := 0
		if r[4] > r[3*k+k] {
			k = 1
		}
		if r[8] > r[3*k+k] {
			k = 2
		}
		var n [3]float64
		n[k] = math.Sqrt(math.Max(0, (r[3*k+k]+1)/2))
		for j := 0; j < 3; j++ {
			if j != k {
				n[j] = (r[3*k+j] + r[3*j+k]) / (4 * n[k])
			}
		}
		axis := r3.Unit(r3.Vec{X: n[0], Y: n[1], Z: n[2]})
		if r3.Dot(axis, v) < 0 {
			axis = r3.Scale(-1, axis)
		}
		return r3.Scale(theta, axis)
	default:
		return r3.Scale(theta/(2*math.Sin(theta)), v)
	}
}

// Exp is the SE(3) exponential of a twist xi = [ωx ωy ωz vx vy vz].
func Exp(xi [6]float64) Matrix {
	w := r3.Vec{X: xi[0], Y: xi[1], Z: xi[2]}
	v := r3.Vec{X: xi[3], Y: xi[4], Z: xi[5]}

	_, b, c := rodrigues(r3.Norm(w))
	rot := ExpSO3(w)

	// V = I + B[ω]× + C[ω]×²
	W := hat(w)
	W2 := mul3(W, W)
	var V [9]float64
	for i := range V {
		V[i] = b*W[i] + c*W2[i]
	}
	V[0] += 1
	V[4] += 1
	V[8] += 1

	t := r3.Vec{
		X: V[0]*v.X + V[1]*v.Y + V[2]*v.Z,
		Y: V[3]*v.X + V[4]*v.Y + V[5]*v.Z,
		Z: V[6]*v.X + V[7]*v.Y + V[8]*v.Z,
	}
	return FromRotationTranslation(rot, t)
}
