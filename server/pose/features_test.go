package pose

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func standingFrame() Frame {
	return Frame{
		LeftShoulder:  {X: 0.45, Y: 0.30, Z: -0.10, Visibility: 0.99},
		RightShoulder: {X: 0.55, Y: 0.30, Z: -0.05, Visibility: 0.99},
		LeftElbow:     {X: 0.44, Y: 0.40, Visibility: 0.95},
		RightElbow:    {X: 0.56, Y: 0.40, Visibility: 0.95},
		LeftWrist:     {X: 0.44, Y: 0.50, Visibility: 0.90},
		RightWrist:    {X: 0.56, Y: 0.50, Visibility: 0.90},
		LeftHip:       {X: 0.46, Y: 0.55, Visibility: 0.99},
		RightHip:      {X: 0.54, Y: 0.55, Visibility: 0.99},
		LeftKnee:      {X: 0.46, Y: 0.70, Visibility: 0.97},
		RightKnee:     {X: 0.54, Y: 0.70, Visibility: 0.97},
		LeftAnkle:     {X: 0.46, Y: 0.85, Visibility: 0.96},
		RightAnkle:    {X: 0.54, Y: 0.85, Visibility: 0.96},
	}
}

func TestExtract(t *testing.T) {
	extractor := NewExtractor(0.5)
	ball := &Point{X: 0.5, Y: 0.9}

	sample, err := extractor.Extract(standingFrame(), ball)
	require.NoError(t, err)

	assert.InDelta(t, 180, sample.Angles.LeftKnee, 1e-9)
	assert.InDelta(t, 180, sample.Angles.RightKnee, 1e-9)
	assert.InDelta(t, 0, sample.Angles.Spine, 1e-9)
	assert.Greater(t, sample.Angles.LeftElbow, 170.0)

	assert.Equal(t, Point{X: 0.46, Y: 0.70}, sample.Points.LeftKnee)
	assert.InDelta(t, 0.5, sample.Points.ShoulderCenter.X, 1e-9)

	assert.Equal(t, 0.50, sample.Signals.LeftWristY)
	assert.Equal(t, -0.05, sample.Signals.RightShoulderZ)

	require.NotNil(t, sample.Ball)
	assert.Equal(t, *ball, *sample.Ball)
	ball.X = 0.1
	assert.Equal(t, 0.5, sample.Ball.X, "ball position must be copied")
}

func TestExtractIsDeterministic(t *testing.T) {
	extractor := NewExtractor(0.5)
	frame := standingFrame()

	first, err := extractor.Extract(frame, nil)
	require.NoError(t, err)
	second, err := extractor.Extract(frame, nil)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Nil(t, first.Ball)
}

func TestExtractMissingLandmark(t *testing.T) {
	extractor := NewExtractor(0.5)

	frame := standingFrame()
	delete(frame, RightWrist)

	_, err := extractor.Extract(frame, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingLandmark))

	var missing *MissingLandmarkError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, RightWrist, missing.Landmark)
	assert.True(t, missing.Absent)
}

func TestExtractLowVisibility(t *testing.T) {
	extractor := NewExtractor(0.5)

	frame := standingFrame()
	knee := frame[LeftKnee]
	knee.Visibility = 0.2
	frame[LeftKnee] = knee

	_, err := extractor.Extract(frame, nil)
	assert.ErrorIs(t, err, ErrMissingLandmark)
	assert.Contains(t, err.Error(), "left_knee")
}

func TestFrameUnmarshalJSON(t *testing.T) {
	t.Run("named object", func(t *testing.T) {
		var frame Frame
		err := json.Unmarshal([]byte(`{"left_wrist":{"x":0.4,"y":0.5,"z":0.1,"visibility":0.9},"nose":{"x":0.5}}`), &frame)
		require.NoError(t, err)
		require.Len(t, frame, 1)
		assert.Equal(t, 0.5, frame[LeftWrist].Y)
	})

	t.Run("mediapipe array", func(t *testing.T) {
		list := make([]Landmark, NumPoseLandmarks)
		list[RightWrist] = Landmark{X: 0.6, Y: 0.45, Visibility: 1}
		data, err := json.Marshal(list)
		require.NoError(t, err)

		var frame Frame
		require.NoError(t, json.Unmarshal(data, &frame))
		assert.Len(t, frame, len(requiredLandmarks))
		assert.Equal(t, 0.45, frame[RightWrist].Y)
	})

	t.Run("short array keeps what exists", func(t *testing.T) {
		var frame Frame
		require.NoError(t, json.Unmarshal([]byte(`[{"x":0.1}]`), &frame))
		assert.Empty(t, frame)
	})
}

func TestParseLandmarkID(t *testing.T) {
	id, err := ParseLandmarkID(" Left_Ankle ")
	require.NoError(t, err)
	assert.Equal(t, LeftAnkle, id)

	_, err = ParseLandmarkID("tail")
	assert.Error(t, err)
}
