package swing

import (
	"errors"

	"github.com/san-kum/golf-swing-cv/server/pose"
)

// ErrNoTerminalPhase is returned when a recording stops before the swing
// reaches the end phase.
var ErrNoTerminalPhase = errors.New("no terminal phase reached")

// PixelPoint is a position in frame pixels.
type PixelPoint [2]int

// RecordAngles are joint angles truncated to whole degrees.
type RecordAngles struct {
	LeftKnee   int `json:"left_knee_angle"`
	RightKnee  int `json:"right_knee_angle"`
	LeftElbow  int `json:"left_elbow_angle"`
	RightElbow int `json:"right_elbow_angle"`
	Spine      int `json:"spine_angle"`
}

type RecordPositions struct {
	LeftKnee       PixelPoint `json:"left_knee"`
	RightKnee      PixelPoint `json:"right_knee"`
	LeftElbow      PixelPoint `json:"left_elbow"`
	RightElbow     PixelPoint `json:"right_elbow"`
	ShoulderCenter PixelPoint `json:"shoulder_center"`
}

// Record is one frame of a swing as handed to the feedback generator.
type Record struct {
	Angles       RecordAngles    `json:"angles"`
	Positions    RecordPositions `json:"positions"`
	BallPosition *PixelPoint     `json:"ball_position"`
	FrameIndex   int             `json:"frame_index"`
	Phase        Phase           `json:"phase"`
}

// Sequence collects one Record per frame once the swing has left the
// waiting phase. Frame indices count only those frames, from zero.
type Sequence struct {
	width   int
	height  int
	records []Record
}

// NewSequence creates a sequence for frames of the given pixel size.
func NewSequence(width, height int) *Sequence {
	return &Sequence{width: width, height: height}
}

// Append records the sample under phase. Waiting frames are dropped and
// false is returned.
func (s *Sequence) Append(phase Phase, sample pose.FeatureSample) (Record, bool) {
	if phase == PhaseWaiting {
		return Record{}, false
	}

	record := Record{
		Angles: RecordAngles{
			LeftKnee:   int(sample.Angles.LeftKnee),
			RightKnee:  int(sample.Angles.RightKnee),
			LeftElbow:  int(sample.Angles.LeftElbow),
			RightElbow: int(sample.Angles.RightElbow),
			Spine:      int(sample.Angles.Spine),
		},
		Positions: RecordPositions{
			LeftKnee:       s.toPixels(sample.Points.LeftKnee),
			RightKnee:      s.toPixels(sample.Points.RightKnee),
			LeftElbow:      s.toPixels(sample.Points.LeftElbow),
			RightElbow:     s.toPixels(sample.Points.RightElbow),
			ShoulderCenter: s.toPixels(sample.Points.ShoulderCenter),
		},
		FrameIndex: len(s.records),
		Phase:      phase,
	}
	if sample.Ball != nil {
		ball := s.toPixels(*sample.Ball)
		record.BallPosition = &ball
	}

	s.records = append(s.records, record)
	return record, true
}

func (s *Sequence) toPixels(p pose.Point) PixelPoint {
	return PixelPoint{int(p.X * float64(s.width)), int(p.Y * float64(s.height))}
}

func (s *Sequence) Len() int { return len(s.records) }

// Records returns a copy of the collected records in frame order.
func (s *Sequence) Records() []Record {
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}

// Complete reports whether the last recorded frame is in the end phase.
func (s *Sequence) Complete() bool {
	return len(s.records) > 0 && s.records[len(s.records)-1].Phase.Terminal()
}

// Result returns the records, with ErrNoTerminalPhase when the swing never
// reached the end phase. The partial records are returned either way.
func (s *Sequence) Result() ([]Record, error) {
	if !s.Complete() {
		return s.Records(), ErrNoTerminalPhase
	}
	return s.Records(), nil
}

// PhaseSpan describes the frames spent in one phase.
type PhaseSpan struct {
	Phase      Phase `json:"phase"`
	StartFrame int   `json:"start_frame"`
	EndFrame   int   `json:"end_frame"`
	Frames     int   `json:"frames"`
}

// Summarize groups consecutive records by phase.
func Summarize(records []Record) []PhaseSpan {
	var spans []PhaseSpan
	for _, r := range records {
		if n := len(spans); n > 0 && spans[n-1].Phase == r.Phase {
			spans[n-1].EndFrame = r.FrameIndex
			spans[n-1].Frames++
			continue
		}
		spans = append(spans, PhaseSpan{
			Phase:      r.Phase,
			StartFrame: r.FrameIndex,
			EndFrame:   r.FrameIndex,
			Frames:     1,
		})
	}
	return spans
}
