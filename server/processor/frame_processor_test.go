package processor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/san-kum/golf-swing-cv/server/cache"
	"github.com/san-kum/golf-swing-cv/server/feedback"
	"github.com/san-kum/golf-swing-cv/server/ml"
	"github.com/san-kum/golf-swing-cv/server/models"
	"github.com/san-kum/golf-swing-cv/server/pose"
	"github.com/san-kum/golf-swing-cv/server/swing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeEstimator struct {
	mutex      sync.Mutex
	poseCalls  int
	poseResult *ml.PoseResult
	video      *ml.VideoPoseResult
	err        error
}

func (f *fakeEstimator) EstimatePose(ctx context.Context, imageData []byte) (*ml.PoseResult, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.poseCalls++
	return f.poseResult, f.err
}

func (f *fakeEstimator) EstimateVideo(ctx context.Context, videoData []byte, filename string) (*ml.VideoPoseResult, error) {
	return f.video, f.err
}

type fakeGenerator struct {
	calls int32
	err   error
}

func (g *fakeGenerator) Generate(ctx context.Context, data feedback.SwingData) (*feedback.Feedback, error) {
	atomic.AddInt32(&g.calls, 1)
	if g.err != nil {
		return nil, g.err
	}
	return &feedback.Feedback{
		OverallFeedback: "Solid tempo for a " + data.Club,
		SwingGrade:      82,
		Drills:          []string{"Pump drill"},
	}, nil
}

func newTestProcessor(t *testing.T, estimator PoseEstimator, generator feedback.Generator) *FrameProcessor {
	t.Helper()

	config := DefaultProcessorConfig()
	config.MaxWorkers = 1
	config.MaxQueueSize = 2
	config.JobTimeout = 5 * time.Second

	memCache := cache.NewMemoryCache(100, time.Minute, zap.NewNop())
	fp, err := NewFrameProcessor(estimator, generator, memCache, config, zap.NewNop())
	require.NoError(t, err)

	t.Cleanup(func() {
		fp.Shutdown()
		memCache.Close()
	})
	return fp
}

func startSession(t *testing.T, fp *FrameProcessor) string {
	t.Helper()
	info, err := fp.StartSession(models.StartSessionRequest{Club: "driver", FrameWidth: 640, FrameHeight: 480}, "user-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, info.Status)
	return info.ID
}

func TestProcessorLiveSwingWithFeedback(t *testing.T) {
	generator := &fakeGenerator{}
	fp := newTestProcessor(t, &fakeEstimator{}, generator)
	ctx := context.Background()

	id := startSession(t, fp)
	for _, frame := range swingFrames() {
		_, err := fp.IngestFrame(ctx, id, &models.FrameRequest{Landmarks: frame})
		require.NoError(t, err)
	}

	info, err := fp.GetSession(id)
	require.NoError(t, err)
	assert.Equal(t, swing.PhaseEnd, info.Phase)

	analysis, err := fp.FinishSession(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, analysis.Feedback)
	assert.Equal(t, 82, analysis.Feedback.SwingGrade)
	assert.Equal(t, "driver", analysis.Club)

	_, err = fp.GetSession(id)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	// An identical swing is answered from the cache.
	second := startSession(t, fp)
	for _, frame := range swingFrames() {
		_, err := fp.IngestFrame(ctx, second, &models.FrameRequest{Landmarks: frame})
		require.NoError(t, err)
	}
	_, err = fp.FinishSession(ctx, second)
	require.NoError(t, err)

	assert.Equal(t, int32(1), atomic.LoadInt32(&generator.calls))
	stats := fp.GetStats()
	assert.Equal(t, int64(2), stats.CompletedSwings)
	assert.Equal(t, int64(1), stats.FeedbackCacheHit)
	assert.Equal(t, int64(46), stats.TotalFrames)
}

func TestProcessorIncompleteSwingSkipsFeedback(t *testing.T) {
	generator := &fakeGenerator{}
	fp := newTestProcessor(t, &fakeEstimator{}, generator)
	ctx := context.Background()

	id := startSession(t, fp)
	for _, frame := range swingFrames()[:14] {
		_, err := fp.IngestFrame(ctx, id, &models.FrameRequest{Landmarks: frame})
		require.NoError(t, err)
	}

	analysis, err := fp.FinishSession(ctx, id)
	assert.ErrorIs(t, err, swing.ErrNoTerminalPhase)
	require.NotNil(t, analysis)
	assert.Nil(t, analysis.Feedback)
	assert.Equal(t, models.StatusIncomplete, analysis.Status)
	assert.Zero(t, atomic.LoadInt32(&generator.calls))
}

func TestProcessorFeedbackFailureKeepsSequence(t *testing.T) {
	fp := newTestProcessor(t, &fakeEstimator{}, &fakeGenerator{err: errors.New("quota exceeded")})
	ctx := context.Background()

	id := startSession(t, fp)
	for _, frame := range swingFrames() {
		_, err := fp.IngestFrame(ctx, id, &models.FrameRequest{Landmarks: frame})
		require.NoError(t, err)
	}

	analysis, err := fp.FinishSession(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, analysis.Feedback)
	assert.Equal(t, "Could not retrieve feedback", analysis.FeedbackError)
	assert.NotEmpty(t, analysis.SwingSequence)
}

func TestProcessorImageFrames(t *testing.T) {
	landmarks := make([]pose.Landmark, pose.NumPoseLandmarks)
	for id, lm := range golferFrame(0.5, 0.05) {
		landmarks[id] = lm
	}
	estimator := &fakeEstimator{poseResult: &ml.PoseResult{Detected: true, Landmarks: landmarks, Width: 640, Height: 480}}
	fp := newTestProcessor(t, estimator, nil)
	ctx := context.Background()

	id := startSession(t, fp)
	for i := 0; i < 3; i++ {
		result, err := fp.IngestFrame(ctx, id, &models.FrameRequest{ImageData: []byte("same-image")})
		require.NoError(t, err)
		assert.False(t, result.Skipped)
	}
	assert.Equal(t, 1, estimator.poseCalls)

	estimator.poseResult = &ml.PoseResult{Detected: false}
	result, err := fp.IngestFrame(ctx, id, &models.FrameRequest{ImageData: []byte("empty-range")})
	require.NoError(t, err)
	assert.True(t, result.Skipped)
	assert.Equal(t, "no person detected", result.SkipReason)
}

func TestProcessorFrameLimitFinishesSession(t *testing.T) {
	generator := &fakeGenerator{}
	config := DefaultProcessorConfig()
	config.MaxFrames = 12
	fp, err := NewFrameProcessor(&fakeEstimator{}, generator, nil, config, zap.NewNop())
	require.NoError(t, err)
	defer fp.Shutdown()
	ctx := context.Background()

	id := startSession(t, fp)
	var last *models.FrameResult
	for _, frame := range swingFrames()[:12] {
		last, err = fp.IngestFrame(ctx, id, &models.FrameRequest{Landmarks: frame})
		require.NoError(t, err)
	}

	assert.True(t, last.LimitReached)
	require.NotNil(t, last.Analysis)
	assert.Equal(t, models.StatusIncomplete, last.Analysis.Status)
	assert.Equal(t, 12, last.Analysis.TotalFrames)
	assert.Len(t, last.Analysis.SwingSequence, 3)
	assert.Nil(t, last.Analysis.Feedback)
	assert.Zero(t, atomic.LoadInt32(&generator.calls))

	_, err = fp.GetSession(id)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = fp.IngestFrame(ctx, id, &models.FrameRequest{Landmarks: golferFrame(0.5, 0.05)})
	assert.ErrorIs(t, err, ErrSessionNotFound)

	stats := fp.GetStats()
	assert.Equal(t, int64(1), stats.IncompleteSwings)
	assert.Zero(t, stats.ActiveSessions)
}

func TestProcessorFramesAfterEndAreSkipped(t *testing.T) {
	fp := newTestProcessor(t, &fakeEstimator{}, &fakeGenerator{})
	ctx := context.Background()

	id := startSession(t, fp)
	for _, frame := range swingFrames() {
		_, err := fp.IngestFrame(ctx, id, &models.FrameRequest{Landmarks: frame})
		require.NoError(t, err)
	}

	result, err := fp.IngestFrame(ctx, id, &models.FrameRequest{Landmarks: golferFrame(0.1, 0.3)})
	require.NoError(t, err)
	assert.True(t, result.Skipped)
	assert.Equal(t, swing.PhaseEnd, result.Phase)

	stats := fp.GetStats()
	assert.Equal(t, int64(24), stats.TotalFrames)
	assert.Equal(t, int64(23), stats.ProcessedFrames)
	assert.Equal(t, int64(1), stats.SkippedFrames)
}

func TestProcessorSessionLimit(t *testing.T) {
	config := DefaultProcessorConfig()
	config.MaxSessions = 1
	fp, err := NewFrameProcessor(&fakeEstimator{}, nil, nil, config, zap.NewNop())
	require.NoError(t, err)
	defer fp.Shutdown()

	startSession(t, fp)
	_, err = fp.StartSession(models.StartSessionRequest{FrameWidth: 640, FrameHeight: 480}, "")
	assert.ErrorIs(t, err, ErrTooManySessions)

	_, err = fp.IngestFrame(context.Background(), "missing", &models.FrameRequest{})
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestProcessorDiscardSessionFreesSlot(t *testing.T) {
	config := DefaultProcessorConfig()
	config.MaxSessions = 1
	fp, err := NewFrameProcessor(&fakeEstimator{}, nil, nil, config, zap.NewNop())
	require.NoError(t, err)
	defer fp.Shutdown()

	id := startSession(t, fp)
	fp.DiscardSession(id)

	_, err = fp.GetSession(id)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	startSession(t, fp)
}

func TestProcessorVideoJob(t *testing.T) {
	var frames []ml.VideoFrame
	for i, frame := range swingFrames() {
		landmarks := make([]pose.Landmark, pose.NumPoseLandmarks)
		for id, lm := range frame {
			landmarks[id] = lm
		}
		frames = append(frames, ml.VideoFrame{Index: i, PoseResult: ml.PoseResult{Detected: true, Landmarks: landmarks}})
	}
	frames = append(frames, ml.VideoFrame{Index: len(frames), PoseResult: ml.PoseResult{Detected: false}})

	estimator := &fakeEstimator{video: &ml.VideoPoseResult{Width: 1280, Height: 720, FPS: 30, Frames: frames}}
	fp := newTestProcessor(t, estimator, &fakeGenerator{})

	jobID, err := fp.CreateVideoJob([]byte("video"), "swing.mp4", "driver", "client-1")
	require.NoError(t, err)

	var job *VideoJob
	require.Eventually(t, func() bool {
		job, err = fp.GetJobStatus(jobID)
		return err == nil && job.Status == JobCompleted
	}, 5*time.Second, 10*time.Millisecond)

	require.NotNil(t, job.Result)
	assert.Equal(t, 100.0, job.Progress)
	assert.Equal(t, 23, job.Result.TotalFrames, "frames after end are not read")
	assert.NotNil(t, job.Result.Feedback)

	_, err = fp.GetJobStatus("unknown")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestProcessorVideoJobFailure(t *testing.T) {
	fp := newTestProcessor(t, &fakeEstimator{err: errors.New("decoder crashed")}, nil)

	jobID, err := fp.CreateVideoJob([]byte("video"), "swing.mp4", "", "")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		job, err := fp.GetJobStatus(jobID)
		return err == nil && job.Status == JobFailed
	}, 5*time.Second, 10*time.Millisecond)

	job, _ := fp.GetJobStatus(jobID)
	assert.Contains(t, job.Error, "decoder crashed")
}
