package models

import (
	"time"

	"github.com/san-kum/golf-swing-cv/server/feedback"
	"github.com/san-kum/golf-swing-cv/server/pose"
	"github.com/san-kum/golf-swing-cv/server/swing"
)

type StartSessionRequest struct {
	Club        string `json:"club"`
	View        string `json:"view"`
	FrameWidth  int    `json:"frame_width" binding:"required,gt=0"`
	FrameHeight int    `json:"frame_height" binding:"required,gt=0"`
}

// FrameRequest carries one frame either as estimated landmarks or as an
// encoded image to be sent to the pose service.
type FrameRequest struct {
	Landmarks    pose.Frame  `json:"landmarks,omitempty"`
	BallPosition *pose.Point `json:"ball_position,omitempty"`
	ImageData    []byte      `json:"-"`
	Timestamp    int64       `json:"timestamp"`
}

type FrameResult struct {
	SessionID    string        `json:"session_id"`
	Phase        swing.Phase   `json:"phase"`
	PhaseChanged bool          `json:"phase_changed"`
	Record       *swing.Record `json:"record,omitempty"`
	Skipped      bool          `json:"skipped"`
	SkipReason   string        `json:"skip_reason,omitempty"`
	Complete     bool          `json:"complete"`
	FramesSeen   int           `json:"frames_seen"`
	LimitReached bool          `json:"limit_reached,omitempty"`

	// Analysis is set when this frame closed the session.
	Analysis *SwingAnalysis `json:"analysis,omitempty"`
}

type SessionStatus string

const (
	StatusActive     SessionStatus = "active"
	StatusComplete   SessionStatus = "complete"
	StatusIncomplete SessionStatus = "incomplete"
)

type SessionInfo struct {
	ID            string        `json:"id"`
	Club          string        `json:"club"`
	View          string        `json:"view"`
	UserID        string        `json:"user_id,omitempty"`
	FrameWidth    int           `json:"frame_width"`
	FrameHeight   int           `json:"frame_height"`
	Phase         swing.Phase   `json:"phase"`
	Status        SessionStatus `json:"status"`
	TotalFrames   int           `json:"total_frames"`
	SkippedFrames int           `json:"skipped_frames"`
	Records       int           `json:"records"`
	CreatedAt     time.Time     `json:"created_at"`
	LastActivity  time.Time     `json:"last_activity"`
}

// SwingAnalysis is the outcome of a closed session.
type SwingAnalysis struct {
	SessionID      string             `json:"session_id"`
	Club           string             `json:"club"`
	View           string             `json:"view"`
	Status         SessionStatus      `json:"status"`
	TotalFrames    int                `json:"total_frames"`
	SkippedFrames  int                `json:"skipped_frames"`
	Phases         []swing.PhaseSpan  `json:"phases"`
	SwingSequence  []swing.Record     `json:"swing_sequence"`
	Feedback       *feedback.Feedback `json:"feedback,omitempty"`
	FeedbackError  string             `json:"feedback_error,omitempty"`
	ProcessingTime float64            `json:"processing_time_ms"`
	Timestamp      int64              `json:"timestamp"`
}
