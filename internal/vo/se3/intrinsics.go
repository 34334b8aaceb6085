package se3

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"
)

// ErrInvalidIntrinsics is returned for camera matrices that cannot project.
var ErrInvalidIntrinsics = errors.New("invalid camera intrinsics")

// Intrinsics is a pinhole camera model without distortion.
type Intrinsics struct {
	Fx, Fy float64
	Cx, Cy float64
}

// IntrinsicsFromMatrix reads focal lengths and principal point from a 3x3
// camera matrix.
func IntrinsicsFromMatrix(k mat.Matrix) (Intrinsics, error) {
	r, c := k.Dims()
	if r != 3 || c != 3 {
		return Intrinsics{}, fmt.Errorf("%w: expected 3x3 matrix, got %dx%d", ErrInvalidIntrinsics, r, c)
	}
	in := Intrinsics{Fx: k.At(0, 0), Fy: k.At(1, 1), Cx: k.At(0, 2), Cy: k.At(1, 2)}
	if !in.Valid() {
		return Intrinsics{}, fmt.Errorf("%w: %+v", ErrInvalidIntrinsics, in)
	}
	return in, nil
}

// Valid reports whether both focal lengths are finite and positive.
func (k Intrinsics) Valid() bool {
	for _, v := range []float64{k.Fx, k.Fy, k.Cx, k.Cy} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return k.Fx > 0 && k.Fy > 0
}

// Dense returns the 3x3 camera matrix.
func (k Intrinsics) Dense() *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		k.Fx, 0, k.Cx,
		0, k.Fy, k.Cy,
		0, 0, 1,
	})
}

// Matrix4 embeds the camera matrix in a 4x4 so that Matrix4()·T projects
// homogeneous points in one step.
func (k Intrinsics) Matrix4() Matrix {
	return Matrix{
		k.Fx, 0, k.Cx, 0,
		0, k.Fy, k.Cy, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}

// Project returns the pixel position of a camera-frame point. ok is false
// for points on or behind the image plane.
func (k Intrinsics) Project(p r3.Vec) (px r2.Vec, ok bool) {
	if p.Z <= 0 {
		return r2.Vec{}, false
	}
	return r2.Vec{X: k.Fx*p.X/p.Z + k.Cx, Y: k.Fy*p.Y/p.Z + k.Cy}, true
}

// BackProject lifts pixel (u, v) at depth z into the camera frame.
func (k Intrinsics) BackProject(u, v, z float64) r3.Vec {
	return r3.Vec{X: (u - k.Cx) / k.Fx * z, Y: (v - k.Cy) / k.Fy * z, Z: z}
}

// Downscaled returns the intrinsics for an image halved `levels` times with
// 2x2 box averaging. Pixel centres map as c' = (c+0.5)/2 - 0.5.
func (k Intrinsics) Downscaled(levels int) Intrinsics {
	out := k
	for i := 0; i < levels; i++ {
		out.Fx /= 2
		out.Fy /= 2
		out.Cx = (out.Cx+0.5)/2 - 0.5
		out.Cy = (out.Cy+0.5)/2 - 0.5
	}
	return out
}
