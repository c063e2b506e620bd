// Package pose turns per-frame body landmarks into the joint angles and
// reference points the swing detector and the feedback payload work with.
package pose

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// LandmarkID identifies a body landmark using MediaPipe Pose indices.
// See: https://developers.google.com/mediapipe/solutions/vision/pose_landmarker
type LandmarkID int

const (
	LeftShoulder  LandmarkID = 11
	RightShoulder LandmarkID = 12
	LeftElbow     LandmarkID = 13
	RightElbow    LandmarkID = 14
	LeftWrist     LandmarkID = 15
	RightWrist    LandmarkID = 16
	LeftHip       LandmarkID = 23
	RightHip      LandmarkID = 24
	LeftKnee      LandmarkID = 25
	RightKnee     LandmarkID = 26
	LeftAnkle     LandmarkID = 27
	RightAnkle    LandmarkID = 28

	// NumPoseLandmarks is the length of a full MediaPipe Pose landmark list.
	NumPoseLandmarks = 33
)

var landmarkNames = map[LandmarkID]string{
	LeftShoulder:  "left_shoulder",
	RightShoulder: "right_shoulder",
	LeftElbow:     "left_elbow",
	RightElbow:    "right_elbow",
	LeftWrist:     "left_wrist",
	RightWrist:    "right_wrist",
	LeftHip:       "left_hip",
	RightHip:      "right_hip",
	LeftKnee:      "left_knee",
	RightKnee:     "right_knee",
	LeftAnkle:     "left_ankle",
	RightAnkle:    "right_ankle",
}

func (id LandmarkID) String() string {
	if name, ok := landmarkNames[id]; ok {
		return name
	}
	return fmt.Sprintf("landmark_%d", int(id))
}

// ParseLandmarkID converts a landmark name such as "left_wrist" into its ID.
func ParseLandmarkID(name string) (LandmarkID, error) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	for id, n := range landmarkNames {
		if n == normalized {
			return id, nil
		}
	}
	return 0, fmt.Errorf("unknown landmark %q", name)
}

// Landmark is one normalized landmark. X and Y are in [0,1] image space,
// Z is relative depth with no fixed sign.
type Landmark struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Z          float64 `json:"z"`
	Visibility float64 `json:"visibility"`
}

// Point returns the 2-D projection of the landmark.
func (l Landmark) Point() Point {
	return Point{X: l.X, Y: l.Y}
}

// Point is a 2-D point in normalized image coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Frame is the set of landmarks estimated for a single video frame.
type Frame map[LandmarkID]Landmark

// FrameFromSlice builds a Frame from a MediaPipe ordered landmark list.
// Indices the system does not track are dropped.
func FrameFromSlice(landmarks []Landmark) Frame {
	frame := make(Frame, len(landmarkNames))
	for id := range landmarkNames {
		if int(id) < len(landmarks) {
			frame[id] = landmarks[id]
		}
	}
	return frame
}

// UnmarshalJSON accepts either the MediaPipe array layout or an object keyed
// by landmark name.
func (f *Frame) UnmarshalJSON(b []byte) error {
	trimmed := strings.TrimSpace(string(b))
	if trimmed == "null" {
		return nil
	}

	if strings.HasPrefix(trimmed, "[") {
		var list []Landmark
		if err := json.Unmarshal(b, &list); err != nil {
			return err
		}
		*f = FrameFromSlice(list)
		return nil
	}

	var named map[string]Landmark
	if err := json.Unmarshal(b, &named); err != nil {
		return err
	}

	frame := make(Frame, len(named))
	for name, landmark := range named {
		id, err := ParseLandmarkID(name)
		if err != nil {
			// Extra landmarks from richer estimators are tolerated.
			continue
		}
		frame[id] = landmark
	}
	*f = frame
	return nil
}

// MarshalJSON writes the frame as an object keyed by landmark name.
func (f Frame) MarshalJSON() ([]byte, error) {
	named := make(map[string]Landmark, len(f))
	for id, landmark := range f {
		named[id.String()] = landmark
	}
	return json.Marshal(named)
}

// ErrMissingLandmark is matched by every MissingLandmarkError.
var ErrMissingLandmark = errors.New("missing landmark")

// MissingLandmarkError reports a required landmark that was absent or below
// the visibility cutoff. The caller skips the frame.
type MissingLandmarkError struct {
	Landmark   LandmarkID
	Visibility float64
	Absent     bool
}

func (e *MissingLandmarkError) Error() string {
	if e.Absent {
		return fmt.Sprintf("missing landmark: %s not present", e.Landmark)
	}
	return fmt.Sprintf("missing landmark: %s visibility %.2f too low", e.Landmark, e.Visibility)
}

func (e *MissingLandmarkError) Is(target error) bool {
	return target == ErrMissingLandmark
}
