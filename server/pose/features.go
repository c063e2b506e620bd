package pose

// Angles holds the joint angles of one frame, in degrees.
type Angles struct {
	LeftKnee   float64
	RightKnee  float64
	LeftElbow  float64
	RightElbow float64
	Spine      float64
}

// ReferencePoints are the normalized points each angle is anchored to.
type ReferencePoints struct {
	LeftKnee       Point
	RightKnee      Point
	LeftElbow      Point
	RightElbow     Point
	ShoulderCenter Point
}

// Signals are the raw values the swing detector consumes.
type Signals struct {
	LeftWristY     float64
	RightWristY    float64
	LeftShoulderZ  float64
	RightShoulderZ float64
}

// FeatureSample is everything derived from a single Frame.
type FeatureSample struct {
	Angles  Angles
	Points  ReferencePoints
	Ball    *Point
	Signals Signals
}

var requiredLandmarks = []LandmarkID{
	LeftShoulder, RightShoulder,
	LeftElbow, RightElbow,
	LeftWrist, RightWrist,
	LeftHip, RightHip,
	LeftKnee, RightKnee,
	LeftAnkle, RightAnkle,
}

// Extractor computes FeatureSamples. It holds no per-frame state.
type Extractor struct {
	// MinVisibility is the confidence below which a landmark counts as missing.
	MinVisibility float64
}

// NewExtractor returns an Extractor with the given visibility cutoff.
func NewExtractor(minVisibility float64) *Extractor {
	return &Extractor{MinVisibility: minVisibility}
}

// Extract derives the frame's angles, reference points and detector signals.
// The ball position, when known, is passed through unchanged.
func (e *Extractor) Extract(frame Frame, ball *Point) (FeatureSample, error) {
	for _, id := range requiredLandmarks {
		landmark, ok := frame[id]
		if !ok {
			return FeatureSample{}, &MissingLandmarkError{Landmark: id, Absent: true}
		}
		if landmark.Visibility < e.MinVisibility {
			return FeatureSample{}, &MissingLandmarkError{Landmark: id, Visibility: landmark.Visibility}
		}
	}

	p := func(id LandmarkID) Point { return frame[id].Point() }

	spine, shoulderCenter := SpineAngle(p(LeftShoulder), p(RightShoulder))

	sample := FeatureSample{
		Angles: Angles{
			LeftKnee:   CalculateAngle(p(LeftHip), p(LeftKnee), p(LeftAnkle)),
			RightKnee:  CalculateAngle(p(RightHip), p(RightKnee), p(RightAnkle)),
			LeftElbow:  CalculateAngle(p(LeftShoulder), p(LeftElbow), p(LeftWrist)),
			RightElbow: CalculateAngle(p(RightShoulder), p(RightElbow), p(RightWrist)),
			Spine:      spine,
		},
		Points: ReferencePoints{
			LeftKnee:       p(LeftKnee),
			RightKnee:      p(RightKnee),
			LeftElbow:      p(LeftElbow),
			RightElbow:     p(RightElbow),
			ShoulderCenter: shoulderCenter,
		},
		Signals: Signals{
			LeftWristY:     frame[LeftWrist].Y,
			RightWristY:    frame[RightWrist].Y,
			LeftShoulderZ:  frame[LeftShoulder].Z,
			RightShoulderZ: frame[RightShoulder].Z,
		},
	}

	if ball != nil {
		b := *ball
		sample.Ball = &b
	}

	return sample, nil
}
