package processor

import (
	"context"
	"crypto/md5"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mdobak/go-xerrors"
	"github.com/san-kum/golf-swing-cv/server/cache"
	"github.com/san-kum/golf-swing-cv/server/feedback"
	"github.com/san-kum/golf-swing-cv/server/ml"
	"github.com/san-kum/golf-swing-cv/server/models"
	"github.com/san-kum/golf-swing-cv/server/pose"
	"github.com/san-kum/golf-swing-cv/server/swing"
	"go.uber.org/zap"
)

var (
	ErrJobNotFound = errors.New("job not found")
	ErrQueueFull   = errors.New("processing queue full, try again later")
)

// PoseEstimator is the external landmark and ball detector.
type PoseEstimator interface {
	EstimatePose(ctx context.Context, imageData []byte) (*ml.PoseResult, error)
	EstimateVideo(ctx context.Context, videoData []byte, filename string) (*ml.VideoPoseResult, error)
}

type FrameProcessor struct {
	estimator  PoseEstimator
	generator  feedback.Generator
	cache      cache.Cache
	logger     *zap.Logger
	config     ProcessorConfig
	extractor  *pose.Extractor
	queue      *ProcessingQueue
	stats      *ProcessorStats
	mutex      sync.RWMutex
	sessions   map[string]*Session
	jobTracker map[string]*VideoJob
	reaper     *time.Ticker
	ctx        context.Context
	cancel     context.CancelFunc
}

type ProcessorStats struct {
	StartTime        time.Time `json:"start_time"`
	TotalFrames      int64     `json:"total_frames"`
	ProcessedFrames  int64     `json:"processed_frames"`
	SkippedFrames    int64     `json:"skipped_frames"`
	FailedFrames     int64     `json:"failed_frames"`
	CompletedSwings  int64     `json:"completed_swings"`
	IncompleteSwings int64     `json:"incomplete_swings"`
	FeedbackRequests int64     `json:"feedback_requests"`
	FeedbackCacheHit int64     `json:"feedback_cache_hits"`
	AverageLatency   float64   `json:"average_latency_ms"`
	ActiveSessions   int       `json:"active_sessions"`
	QueueSize        int       `json:"queue_size"`
	ActiveWorkers    int       `json:"active_workers"`
}

type ProcessorConfig struct {
	MaxQueueSize  int           `json:"max_queue_size"`
	MaxWorkers    int           `json:"max_workers"`
	JobTimeout    time.Duration `json:"job_timeout"`
	MaxSessions   int           `json:"max_sessions"`
	SessionTTL    time.Duration `json:"session_ttl"`
	MaxFrames     int           `json:"max_frames"`
	MinVisibility float64       `json:"min_visibility"`
	PoseCacheTTL  time.Duration `json:"pose_cache_ttl"`
	Detector      swing.Config  `json:"detector"`
}

func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		MaxQueueSize:  20,
		MaxWorkers:    2,
		JobTimeout:    5 * time.Minute,
		MaxSessions:   100,
		SessionTTL:    10 * time.Minute,
		MaxFrames:     1800,
		MinVisibility: 0.5,
		PoseCacheTTL:  5 * time.Minute,
		Detector:      swing.DefaultConfig(),
	}
}

type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobIncomplete JobStatus = "incomplete"
	JobFailed     JobStatus = "failed"
)

type VideoJob struct {
	ID        string                `json:"id"`
	Filename  string                `json:"filename"`
	Club      string                `json:"club"`
	ClientID  string                `json:"client_id"`
	Status    JobStatus             `json:"status"`
	Progress  float64               `json:"progress"`
	StartTime time.Time             `json:"start_time"`
	EndTime   *time.Time            `json:"end_time,omitempty"`
	Result    *models.SwingAnalysis `json:"result,omitempty"`
	Error     string                `json:"error,omitempty"`
}

func NewFrameProcessor(estimator PoseEstimator, generator feedback.Generator, cacheInstance cache.Cache, config ProcessorConfig, logger *zap.Logger) (*FrameProcessor, error) {
	if err := config.Detector.Validate(); err != nil {
		return nil, err
	}
	if config.MaxWorkers < 1 || config.MaxQueueSize < 1 {
		return nil, fmt.Errorf("processor needs at least one worker and one queue slot")
	}

	ctx, cancel := context.WithCancel(context.Background())

	fp := &FrameProcessor{
		estimator: estimator,
		generator: generator,
		cache:     cacheInstance,
		logger:    logger,
		config:    config,
		extractor: pose.NewExtractor(config.MinVisibility),
		stats: &ProcessorStats{
			StartTime:     time.Now(),
			ActiveWorkers: config.MaxWorkers,
		},
		sessions:   make(map[string]*Session),
		jobTracker: make(map[string]*VideoJob),
		ctx:        ctx,
		cancel:     cancel,
	}

	fp.queue = NewProcessingQueue(config.MaxQueueSize, config.MaxWorkers, fp.processVideoJob, fp.recoverVideoJob)

	if config.SessionTTL > 0 {
		fp.reaper = time.NewTicker(config.SessionTTL / 2)
		go fp.reapIdleSessions()
	}

	return fp, nil
}

func (fp *FrameProcessor) newSession(opts SessionOptions) (*Session, error) {
	if opts.MaxFrames == 0 {
		opts.MaxFrames = fp.config.MaxFrames
	}
	return NewSession(uuid.NewString(), opts, fp.extractor, fp.config.Detector)
}

// StartSession opens a live recording.
func (fp *FrameProcessor) StartSession(req models.StartSessionRequest, userID string) (*models.SessionInfo, error) {
	session, err := fp.newSession(SessionOptions{
		Club:   req.Club,
		View:   req.View,
		UserID: userID,
		Width:  req.FrameWidth,
		Height: req.FrameHeight,
	})
	if err != nil {
		return nil, err
	}

	fp.mutex.Lock()
	if fp.config.MaxSessions > 0 && len(fp.sessions) >= fp.config.MaxSessions {
		fp.mutex.Unlock()
		return nil, ErrTooManySessions
	}
	fp.sessions[session.ID] = session
	fp.mutex.Unlock()

	fp.logger.Info("Swing session started",
		zap.String("session_id", session.ID),
		zap.String("club", session.Club),
		zap.String("user_id", userID))

	info := session.Info()
	return &info, nil
}

func (fp *FrameProcessor) session(id string) (*Session, error) {
	fp.mutex.RLock()
	defer fp.mutex.RUnlock()

	session, ok := fp.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

func (fp *FrameProcessor) GetSession(id string) (*models.SessionInfo, error) {
	session, err := fp.session(id)
	if err != nil {
		return nil, err
	}
	info := session.Info()
	return &info, nil
}

// IngestFrame feeds one frame to a live session. Frames carrying an image
// are sent to the pose service first. When the frame fills the session's
// frame cap the session is finished and its analysis is attached.
func (fp *FrameProcessor) IngestFrame(ctx context.Context, sessionID string, request *models.FrameRequest) (*models.FrameResult, error) {
	startTime := time.Now()

	session, err := fp.session(sessionID)
	if err != nil {
		return nil, err
	}

	result, err := fp.ingest(ctx, session, request)
	if err != nil {
		fp.recordFrame(func(s *ProcessorStats) { s.TotalFrames++; s.FailedFrames++ })
		return nil, err
	}

	latency := time.Since(startTime)
	fp.recordFrame(func(s *ProcessorStats) {
		s.TotalFrames++
		if result.Skipped {
			s.SkippedFrames++
		} else {
			s.ProcessedFrames++
		}
		updateLatency(s, latency)
	})

	if result.PhaseChanged {
		fp.logger.Debug("Swing phase changed",
			zap.String("session_id", sessionID),
			zap.Stringer("phase", result.Phase),
			zap.Int("frame", result.FramesSeen))
	}

	if result.LimitReached {
		fp.mutex.Lock()
		delete(fp.sessions, sessionID)
		fp.mutex.Unlock()

		fp.logger.Info("Swing session hit frame limit",
			zap.String("session_id", sessionID),
			zap.Int("frames", result.FramesSeen))

		analysis, err := fp.analyze(ctx, session, startTime)
		if err != nil && !errors.Is(err, swing.ErrNoTerminalPhase) {
			return nil, err
		}
		result.Analysis = analysis
	}

	return &result, nil
}

func (fp *FrameProcessor) ingest(ctx context.Context, session *Session, request *models.FrameRequest) (models.FrameResult, error) {
	frame := request.Landmarks
	ball := request.BallPosition

	if len(request.ImageData) > 0 {
		estimate, err := fp.estimatePose(ctx, request.ImageData)
		if err != nil {
			return models.FrameResult{}, err
		}
		if !estimate.Detected {
			return session.SkipFrame("no person detected")
		}
		frame = estimate.Frame()
		if ball == nil {
			ball = estimate.BallPosition
		}
	}

	return session.Ingest(frame, ball)
}

// estimatePose asks the pose service for landmarks, reusing cached results
// for identical images.
func (fp *FrameProcessor) estimatePose(ctx context.Context, imageData []byte) (*ml.PoseResult, error) {
	if fp.estimator == nil {
		return nil, fmt.Errorf("pose service not configured")
	}

	cacheKey := cache.GenerateCacheKey("pose", fmt.Sprintf("%x", md5.Sum(imageData)))
	if fp.cache != nil {
		var cached ml.PoseResult
		if err := fp.cache.Get(ctx, cacheKey, &cached); err == nil {
			fp.logger.Debug("Cache hit for pose estimate", zap.String("key", cacheKey))
			return &cached, nil
		}
	}

	estimate, err := fp.estimator.EstimatePose(ctx, imageData)
	if err != nil {
		return nil, err
	}

	if fp.cache != nil {
		if err := fp.cache.SetWithTTL(ctx, cacheKey, estimate, fp.config.PoseCacheTTL); err != nil {
			fp.logger.Warn("Failed to cache pose estimate", zap.Error(err))
		}
	}

	return estimate, nil
}

// FinishSession closes a live session and, when the swing reached its end
// phase, asks for coaching feedback. An incomplete swing returns its
// partial analysis together with swing.ErrNoTerminalPhase.
func (fp *FrameProcessor) FinishSession(ctx context.Context, sessionID string) (*models.SwingAnalysis, error) {
	fp.mutex.Lock()
	session, ok := fp.sessions[sessionID]
	delete(fp.sessions, sessionID)
	fp.mutex.Unlock()

	if !ok {
		return nil, ErrSessionNotFound
	}

	return fp.analyze(ctx, session, time.Now())
}

func (fp *FrameProcessor) analyze(ctx context.Context, session *Session, startTime time.Time) (*models.SwingAnalysis, error) {
	analysis, err := session.Close()
	defer func() {
		analysis.ProcessingTime = float64(time.Since(startTime).Milliseconds())
	}()

	if err != nil {
		fp.recordFrame(func(s *ProcessorStats) { s.IncompleteSwings++ })
		fp.logger.Info("Swing session closed without reaching end",
			zap.String("session_id", session.ID),
			zap.Int("frames", analysis.TotalFrames),
			zap.Int("records", len(analysis.SwingSequence)))
		return analysis, err
	}

	fp.recordFrame(func(s *ProcessorStats) { s.CompletedSwings++ })

	fb, err := fp.generateFeedback(ctx, feedback.SwingData{
		Club:          analysis.Club,
		View:          analysis.View,
		SwingSequence: analysis.SwingSequence,
	})
	if err != nil {
		fp.logger.Error("Feedback generation failed",
			zap.String("session_id", session.ID),
			zap.Error(err))
		analysis.FeedbackError = "Could not retrieve feedback"
	} else {
		analysis.Feedback = fb
	}

	fp.logger.Info("Swing analyzed",
		zap.String("session_id", session.ID),
		zap.Int("records", len(analysis.SwingSequence)),
		zap.Bool("feedback", analysis.Feedback != nil))

	return analysis, nil
}

func (fp *FrameProcessor) generateFeedback(ctx context.Context, data feedback.SwingData) (*feedback.Feedback, error) {
	if fp.generator == nil {
		return nil, fmt.Errorf("feedback generator not configured")
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	cacheKey := cache.GenerateCacheKey("feedback", string(payload))

	fp.recordFrame(func(s *ProcessorStats) { s.FeedbackRequests++ })

	if fp.cache != nil {
		var cached feedback.Feedback
		if err := fp.cache.Get(ctx, cacheKey, &cached); err == nil {
			fp.recordFrame(func(s *ProcessorStats) { s.FeedbackCacheHit++ })
			return &cached, nil
		}
	}

	fb, err := fp.generator.Generate(ctx, data)
	if err != nil {
		return nil, err
	}

	if fp.cache != nil {
		if err := fp.cache.Set(ctx, cacheKey, fb); err != nil {
			fp.logger.Warn("Failed to cache feedback", zap.Error(err))
		}
	}

	return fb, nil
}

// DiscardSession drops a live session without analyzing it.
func (fp *FrameProcessor) DiscardSession(sessionID string) {
	fp.mutex.Lock()
	session, ok := fp.sessions[sessionID]
	delete(fp.sessions, sessionID)
	fp.mutex.Unlock()

	if ok {
		session.discard()
		fp.logger.Debug("Swing session discarded", zap.String("session_id", sessionID))
	}
}

// CreateVideoJob queues an uploaded clip for analysis and returns the job id.
func (fp *FrameProcessor) CreateVideoJob(videoData []byte, filename, club, clientID string) (string, error) {
	job := &VideoJob{
		ID:        uuid.NewString(),
		Filename:  filename,
		Club:      club,
		ClientID:  clientID,
		Status:    JobQueued,
		StartTime: time.Now(),
	}

	fp.mutex.Lock()
	fp.jobTracker[job.ID] = job
	fp.mutex.Unlock()

	if !fp.queue.Enqueue(&QueueItem{Job: job, VideoData: videoData, Enqueued: time.Now()}) {
		fp.mutex.Lock()
		delete(fp.jobTracker, job.ID)
		fp.mutex.Unlock()
		return "", ErrQueueFull
	}

	fp.logger.Info("Video job queued",
		zap.String("job_id", job.ID),
		zap.String("filename", filename),
		zap.Int("bytes", len(videoData)))

	return job.ID, nil
}

func (fp *FrameProcessor) GetJobStatus(jobID string) (*VideoJob, error) {
	fp.mutex.RLock()
	defer fp.mutex.RUnlock()

	job, exists := fp.jobTracker[jobID]
	if !exists {
		return nil, ErrJobNotFound
	}

	snapshot := *job
	return &snapshot, nil
}

func (fp *FrameProcessor) updateJob(job *VideoJob, update func(*VideoJob)) {
	fp.mutex.Lock()
	defer fp.mutex.Unlock()
	update(job)
}

func (fp *FrameProcessor) finishJob(job *VideoJob, status JobStatus, result *models.SwingAnalysis, err error) {
	fp.updateJob(job, func(j *VideoJob) {
		now := time.Now()
		j.Status = status
		j.EndTime = &now
		j.Result = result
		if err != nil {
			j.Error = err.Error()
		}
		if status != JobFailed {
			j.Progress = 100.0
		}
	})
}

// processVideoJob runs a clip through the pose service and a fresh session,
// one frame after another, stopping at the end phase.
func (fp *FrameProcessor) processVideoJob(item *QueueItem) {
	job := item.Job
	fp.updateJob(job, func(j *VideoJob) { j.Status = JobProcessing })
	fp.logger.Info("Video processing started", zap.String("job_id", job.ID))

	ctx, cancel := context.WithTimeout(fp.ctx, fp.config.JobTimeout)
	defer cancel()

	startTime := time.Now()

	video, err := fp.estimator.EstimateVideo(ctx, item.VideoData, job.Filename)
	if err != nil {
		fp.logger.Error("Video pose estimation failed", zap.String("job_id", job.ID), zap.Error(err))
		fp.finishJob(job, JobFailed, nil, err)
		return
	}

	session, err := fp.newSession(SessionOptions{
		Club:   job.Club,
		Width:  video.Width,
		Height: video.Height,
	})
	if err != nil {
		fp.finishJob(job, JobFailed, nil, err)
		return
	}

	total := len(video.Frames)
	for i, frame := range video.Frames {
		if ctx.Err() != nil {
			break
		}

		var result models.FrameResult
		if !frame.Detected {
			result, err = session.SkipFrame("no person detected")
		} else {
			result, err = session.Ingest(frame.Frame(), frame.BallPosition)
		}
		if err != nil {
			break
		}

		fp.recordFrame(func(s *ProcessorStats) {
			s.TotalFrames++
			if result.Skipped {
				s.SkippedFrames++
			} else {
				s.ProcessedFrames++
			}
		})

		fp.updateJob(job, func(j *VideoJob) { j.Progress = float64(i+1) / float64(total) * 100 })

		if result.Complete || result.LimitReached {
			break
		}
	}

	analysis, err := fp.analyze(ctx, session, startTime)
	switch {
	case errors.Is(err, swing.ErrNoTerminalPhase):
		fp.finishJob(job, JobIncomplete, analysis, err)
	case err != nil:
		fp.finishJob(job, JobFailed, analysis, err)
	default:
		fp.finishJob(job, JobCompleted, analysis, nil)
	}

	fp.logger.Info("Video processing finished",
		zap.String("job_id", job.ID),
		zap.String("status", string(analysis.Status)),
		zap.Duration("elapsed", time.Since(startTime)))
}

func (fp *FrameProcessor) recoverVideoJob(item *QueueItem, r interface{}) {
	err := xerrors.New(fmt.Errorf("video job panic: %v", r))
	fp.logger.Error("Video job panic", zap.String("job_id", item.Job.ID), zap.Error(err))
	fp.finishJob(item.Job, JobFailed, nil, err)
}

func (fp *FrameProcessor) cancelVideoJob(item *QueueItem) {
	fp.finishJob(item.Job, JobFailed, nil, fmt.Errorf("processing cancelled - queue shutting down"))
}

func (fp *FrameProcessor) reapIdleSessions() {
	for {
		select {
		case <-fp.reaper.C:
			cutoff := time.Now().Add(-fp.config.SessionTTL)
			fp.mutex.Lock()
			for id, session := range fp.sessions {
				if session.idleSince().Before(cutoff) {
					delete(fp.sessions, id)
					fp.logger.Info("Expired idle swing session", zap.String("session_id", id))
				}
			}
			fp.mutex.Unlock()
		case <-fp.ctx.Done():
			return
		}
	}
}

func (fp *FrameProcessor) recordFrame(update func(*ProcessorStats)) {
	fp.mutex.Lock()
	defer fp.mutex.Unlock()
	update(fp.stats)
}

func updateLatency(stats *ProcessorStats, latency time.Duration) {
	currentLatency := float64(latency.Microseconds()) / 1000

	if stats.AverageLatency == 0 {
		stats.AverageLatency = currentLatency
	} else {
		alpha := 0.1
		stats.AverageLatency = alpha*currentLatency + (1-alpha)*stats.AverageLatency
	}
}

func (fp *FrameProcessor) GetStats() *ProcessorStats {
	fp.mutex.RLock()
	defer fp.mutex.RUnlock()

	stats := *fp.stats
	stats.ActiveSessions = len(fp.sessions)
	stats.QueueSize = fp.queue.Size()
	return &stats
}

func (fp *FrameProcessor) GetQueueStats() QueueStats {
	return fp.queue.GetQueueStats()
}

func (fp *FrameProcessor) GetCacheStats(ctx context.Context) (*cache.CacheStats, error) {
	if fp.cache == nil {
		return nil, fmt.Errorf("cache not initialized")
	}

	return fp.cache.GetStats(ctx)
}

// Shutdown stops the workers and the session reaper. Live sessions are
// dropped; the cache is owned and closed by the caller.
func (fp *FrameProcessor) Shutdown() error {
	fp.logger.Info("Shutting down frame processor...")

	fp.cancel()
	if fp.reaper != nil {
		fp.reaper.Stop()
	}

	if err := fp.queue.Shutdown(30*time.Second, fp.cancelVideoJob); err != nil {
		fp.logger.Error("Failed to shutdown queue", zap.Error(err))
		return err
	}

	fp.logger.Info("Frame processor shutdown complete")
	return nil
}
