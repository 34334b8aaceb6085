// Package imgproc holds the image-side collaborators of the odometry core:
// single-channel float32 images, depth maps, 2x image pyramids, gradients and
// the numeric Backend that projects and samples points in batch.
//
// Backends replace a process-wide SIMD handle. They are passed into the
// optimizer explicitly and must be safe for concurrent use.
package imgproc
