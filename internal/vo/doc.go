// Package vo owns the direct visual odometry core: keyframe Jacobian
// precomputation, robust weighting, normal-equation assembly and the
// coarse-to-fine Gauss-Newton optimizer.
//
// Key types: Keyframe, AlignmentData, Optimizer, Result, Histogram.
//
// Keyframes are immutable after NewKeyframe returns and may be shared by any
// number of concurrent Optimize calls. An Optimizer holds configuration only;
// each call creates its own loss function and uses its own Scratch buffers.
//
// Dependency rule: vo depends on se3 and imgproc, never on dataset, storage
// or transport packages.
package vo
