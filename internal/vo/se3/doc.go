// Package se3 owns the rigid-transform maths used by the visual odometry
// core: row-major 4x4 homogeneous matrices, the SO(3)/SE(3) exponential and
// logarithm maps, the dual-representation Pose and the pinhole camera model.
//
// Matrices follow the same row-major [16]float64 layout as the rest of the
// repository: m00,m01,m02,m03, m10,... with the translation in column 3.
//
// Dependency rule: se3 depends only on gonum. No image types live here.
package se3
