// Package tracker runs frame-to-keyframe odometry over a sequence.
//
// A Tracker holds the active keyframe, the last pose relative to it and the
// absolute pose. Each frame is aligned starting from the previous relative
// pose; a new keyframe is taken when the overlap drops, the camera has moved
// too far from the keyframe, or the alignment degenerates. Results are
// delivered to Sinks in order.
package tracker
