package visualiser

import (
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/rgbdvo/internal/tracker"
	"github.com/banshee-data/rgbdvo/internal/vo/se3"
)

// Update kinds.
const (
	KindFrame    = "frame"
	KindKeyframe = "keyframe"
)

// PoseUpdate is the canonical message streamed to clients.
type PoseUpdate struct {
	Seq             uint64
	Kind            string
	FrameIndex      int
	Timestamp       float64
	KeyframeID      string
	NewKeyframe     bool
	Pose            se3.Matrix // world-from-camera
	Status          string
	Iterations      int
	NumPixels       int
	PixelPercentage float64
	Cost            float64
}

func updateFromFrame(fr tracker.FrameResult) *PoseUpdate {
	return &PoseUpdate{
		Kind:            KindFrame,
		FrameIndex:      fr.Index,
		Timestamp:       fr.Timestamp,
		KeyframeID:      fr.KeyframeID.String(),
		NewKeyframe:     fr.NewKeyframe,
		Pose:            fr.Pose,
		Status:          fr.Result.Status.String(),
		Iterations:      fr.Result.TotalIterations(),
		NumPixels:       fr.Result.NumPixels,
		PixelPercentage: fr.Result.PixelPercentage,
		Cost:            fr.Result.Cost,
	}
}

func updateFromKeyframe(ev tracker.KeyframeEvent) *PoseUpdate {
	return &PoseUpdate{
		Kind:        KindKeyframe,
		FrameIndex:  ev.FrameIndex,
		Timestamp:   ev.Timestamp,
		KeyframeID:  ev.ID.String(),
		NewKeyframe: true,
		Pose:        ev.Pose,
		NumPixels:   ev.NumPoints,
	}
}

// ToStruct encodes u for the wire.
func (u *PoseUpdate) ToStruct() (*structpb.Struct, error) {
	pose := make([]interface{}, len(u.Pose))
	for i, v := range u.Pose {
		pose[i] = v
	}
	return structpb.NewStruct(map[string]interface{}{
		"seq":              u.Seq,
		"kind":             u.Kind,
		"frame_index":      u.FrameIndex,
		"timestamp":        u.Timestamp,
		"keyframe_id":      u.KeyframeID,
		"new_keyframe":     u.NewKeyframe,
		"pose":             pose,
		"status":           u.Status,
		"iterations":       u.Iterations,
		"num_pixels":       u.NumPixels,
		"pixel_percentage": u.PixelPercentage,
		"cost":             u.Cost,
	})
}

// UpdateFromStruct decodes a streamed message.
func UpdateFromStruct(s *structpb.Struct) (*PoseUpdate, error) {
	f := s.GetFields()
	pose := f["pose"].GetListValue().GetValues()
	if len(pose) != len(se3.Matrix{}) {
		return nil, fmt.Errorf("pose has %d elements, want %d", len(pose), len(se3.Matrix{}))
	}
	u := &PoseUpdate{
		Seq:             uint64(f["seq"].GetNumberValue()),
		Kind:            f["kind"].GetStringValue(),
		FrameIndex:      int(f["frame_index"].GetNumberValue()),
		Timestamp:       f["timestamp"].GetNumberValue(),
		KeyframeID:      f["keyframe_id"].GetStringValue(),
		NewKeyframe:     f["new_keyframe"].GetBoolValue(),
		Status:          f["status"].GetStringValue(),
		Iterations:      int(f["iterations"].GetNumberValue()),
		NumPixels:       int(f["num_pixels"].GetNumberValue()),
		PixelPercentage: f["pixel_percentage"].GetNumberValue(),
		Cost:            f["cost"].GetNumberValue(),
	}
	for i, v := range pose {
		u.Pose[i] = v.GetNumberValue()
	}
	return u, nil
}
