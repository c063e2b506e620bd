package processor

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/san-kum/golf-swing-cv/server/models"
	"github.com/san-kum/golf-swing-cv/server/pose"
	"github.com/san-kum/golf-swing-cv/server/swing"
)

var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrSessionClosed     = errors.New("session closed")
	ErrTooManySessions   = errors.New("too many active sessions")
	ErrFrameLimitReached = errors.New("frame limit reached")
)

// Session is one recording: a detector and the sequence it feeds. Frames
// are processed strictly one at a time.
type Session struct {
	ID     string
	Club   string
	View   string
	UserID string

	width     int
	height    int
	maxFrames int

	extractor *pose.Extractor
	detector  *swing.Detector
	sequence  *swing.Sequence

	totalFrames   int
	skippedFrames int
	closed        bool
	limitReached  bool
	createdAt     time.Time
	lastActivity  time.Time
	mutex         sync.Mutex
}

type SessionOptions struct {
	Club      string
	View      string
	UserID    string
	Width     int
	Height    int
	MaxFrames int
}

func NewSession(id string, opts SessionOptions, extractor *pose.Extractor, detectorConfig swing.Config) (*Session, error) {
	if opts.Width <= 0 || opts.Height <= 0 {
		return nil, fmt.Errorf("invalid frame size %dx%d", opts.Width, opts.Height)
	}

	detector, err := swing.NewDetector(detectorConfig)
	if err != nil {
		return nil, err
	}

	club := opts.Club
	if club == "" {
		club = "unknown club"
	}
	view := opts.View
	if view == "" {
		view = "front-facing"
	}

	now := time.Now()
	return &Session{
		ID:           id,
		Club:         club,
		View:         view,
		UserID:       opts.UserID,
		width:        opts.Width,
		height:       opts.Height,
		maxFrames:    opts.MaxFrames,
		extractor:    extractor,
		detector:     detector,
		sequence:     swing.NewSequence(opts.Width, opts.Height),
		createdAt:    now,
		lastActivity: now,
	}, nil
}

// Ingest runs one frame through extraction, detection and aggregation.
// Frames with missing landmarks are counted and skipped without touching
// the detector. Frames after the end phase are counted and skipped. The
// frame that fills MaxFrames closes the session.
func (s *Session) Ingest(frame pose.Frame, ball *pose.Point) (models.FrameResult, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if err := s.admit(); err != nil {
		return models.FrameResult{SessionID: s.ID}, err
	}

	result, err := s.ingest(frame, ball)
	if err != nil {
		return result, err
	}
	s.enforceLimit(&result)
	return result, nil
}

func (s *Session) ingest(frame pose.Frame, ball *pose.Point) (models.FrameResult, error) {
	before := s.detector.Phase()
	result := models.FrameResult{SessionID: s.ID, Phase: before, FramesSeen: s.totalFrames}

	if before.Terminal() {
		result.Complete = true
		result.Skipped = true
		result.SkipReason = "swing already ended"
		return result, nil
	}

	sample, err := s.extractor.Extract(frame, ball)
	if err != nil {
		if errors.Is(err, pose.ErrMissingLandmark) {
			s.skippedFrames++
			result.Skipped = true
			result.SkipReason = err.Error()
			return result, nil
		}
		return result, err
	}

	phase := s.detector.Update(sample)
	result.Phase = phase
	result.PhaseChanged = phase != before
	result.Complete = phase.Terminal()

	if record, ok := s.sequence.Append(phase, sample); ok {
		result.Record = &record
	}

	return result, nil
}

// SkipFrame counts a frame in which no person was found.
func (s *Session) SkipFrame(reason string) (models.FrameResult, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if err := s.admit(); err != nil {
		return models.FrameResult{SessionID: s.ID}, err
	}
	s.skippedFrames++

	result := models.FrameResult{
		SessionID:  s.ID,
		Phase:      s.detector.Phase(),
		Skipped:    true,
		SkipReason: reason,
		Complete:   s.detector.Phase().Terminal(),
		FramesSeen: s.totalFrames,
	}
	s.enforceLimit(&result)
	return result, nil
}

// admit counts a new frame. Caller holds the mutex.
func (s *Session) admit() error {
	if s.closed {
		if s.limitReached {
			return ErrFrameLimitReached
		}
		return ErrSessionClosed
	}
	s.totalFrames++
	s.lastActivity = time.Now()
	return nil
}

func (s *Session) enforceLimit(result *models.FrameResult) {
	if s.maxFrames > 0 && s.totalFrames >= s.maxFrames {
		s.closed = true
		s.limitReached = true
		result.LimitReached = true
	}
}

// Close stops the session and returns its analysis. The error is
// swing.ErrNoTerminalPhase when the swing never reached the end phase; the
// analysis then holds the partial sequence.
func (s *Session) Close() (*models.SwingAnalysis, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.closed = true

	records, err := s.sequence.Result()
	status := models.StatusComplete
	if err != nil {
		status = models.StatusIncomplete
	}

	return &models.SwingAnalysis{
		SessionID:     s.ID,
		Club:          s.Club,
		View:          s.View,
		Status:        status,
		TotalFrames:   s.totalFrames,
		SkippedFrames: s.skippedFrames,
		Phases:        swing.Summarize(records),
		SwingSequence: records,
		Timestamp:     time.Now().Unix(),
	}, err
}

// discard marks the session closed without building an analysis.
func (s *Session) discard() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.closed = true
}

func (s *Session) Info() models.SessionInfo {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	status := models.StatusActive
	if s.closed {
		status = models.StatusIncomplete
		if s.sequence.Complete() {
			status = models.StatusComplete
		}
	}

	return models.SessionInfo{
		ID:            s.ID,
		Club:          s.Club,
		View:          s.View,
		UserID:        s.UserID,
		FrameWidth:    s.width,
		FrameHeight:   s.height,
		Phase:         s.detector.Phase(),
		Status:        status,
		TotalFrames:   s.totalFrames,
		SkippedFrames: s.skippedFrames,
		Records:       s.sequence.Len(),
		CreatedAt:     s.createdAt,
		LastActivity:  s.lastActivity,
	}
}

func (s *Session) idleSince() time.Time {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.lastActivity
}
