package vo

import (
	"errors"

	"github.com/banshee-data/rgbdvo/internal/vo/se3"
)

// Construction and precondition failures. Numerical degeneracy during
// optimization is reported through Result, never through these errors.
var (
	ErrEmptyPyramid      = errors.New("keyframe pyramid has no levels")
	ErrNilDepth          = errors.New("keyframe depth map is nil")
	ErrInvalidParams     = errors.New("invalid parameters")
	ErrNoCandidatePoints = errors.New("no keyframe points survived depth and gradient filtering")
	ErrInvalidIntrinsics = se3.ErrInvalidIntrinsics

	ErrNilKeyframe   = errors.New("keyframe is nil")
	ErrNilPose       = errors.New("pose is nil")
	ErrLevelMismatch = errors.New("frame pyramid does not match keyframe levels")
	ErrUnknownLoss   = errors.New("unknown robust loss")
)
