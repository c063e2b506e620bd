package handlers

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/san-kum/golf-swing-cv/server/cache"
	"github.com/san-kum/golf-swing-cv/server/models"
	"github.com/san-kum/golf-swing-cv/server/pose"
	"github.com/san-kum/golf-swing-cv/server/processor"
	"github.com/san-kum/golf-swing-cv/server/swing"
	"go.uber.org/zap"
)

// SwingService is the part of the frame processor the HTTP and websocket
// handlers drive.
type SwingService interface {
	StartSession(req models.StartSessionRequest, userID string) (*models.SessionInfo, error)
	IngestFrame(ctx context.Context, sessionID string, request *models.FrameRequest) (*models.FrameResult, error)
	FinishSession(ctx context.Context, sessionID string) (*models.SwingAnalysis, error)
	GetSession(sessionID string) (*models.SessionInfo, error)
	DiscardSession(sessionID string)
	CreateVideoJob(videoData []byte, filename, club, clientID string) (string, error)
	GetJobStatus(jobID string) (*processor.VideoJob, error)
	GetStats() *processor.ProcessorStats
	GetQueueStats() processor.QueueStats
	GetCacheStats(ctx context.Context) (*cache.CacheStats, error)
}

type StreamHandler struct {
	service      SwingService
	logger       *zap.Logger
	maxVideoSize int64
	requests     int64
	failures     int64
}

// FrameUpload is the body of a frame post. Exactly one of Landmarks or
// ImageData is expected; ImageData is a base64 data URL.
type FrameUpload struct {
	Landmarks    pose.Frame  `json:"landmarks"`
	BallPosition *pose.Point `json:"ball_position"`
	ImageData    string      `json:"image_data"`
	Timestamp    int64       `json:"timestamp"`
}

func NewStreamHandler(service SwingService, maxVideoSize int64, logger *zap.Logger) *StreamHandler {
	return &StreamHandler{
		service:      service,
		logger:       logger,
		maxVideoSize: maxVideoSize,
	}
}

func (h *StreamHandler) StartSession(c *gin.Context) {
	var request models.StartSessionRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format", "details": err.Error()})
		return
	}

	info, err := h.service.StartSession(request, c.GetString("user_id"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, info)
}

func (h *StreamHandler) ProcessFrame(c *gin.Context) {
	atomic.AddInt64(&h.requests, 1)

	var upload FrameUpload
	if err := c.ShouldBindJSON(&upload); err != nil {
		h.logger.Debug("Invalid frame payload", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format"})
		atomic.AddInt64(&h.failures, 1)
		return
	}

	request, err := upload.toRequest()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		atomic.AddInt64(&h.failures, 1)
		return
	}

	result, err := h.service.IngestFrame(c.Request.Context(), c.Param("id"), request)
	if err != nil {
		atomic.AddInt64(&h.failures, 1)
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *StreamHandler) FinishSession(c *gin.Context) {
	analysis, err := h.service.FinishSession(c.Request.Context(), c.Param("id"))
	if errors.Is(err, swing.ErrNoTerminalPhase) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":    "Swing did not reach the end phase",
			"analysis": analysis,
		})
		return
	}
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, analysis)
}

func (h *StreamHandler) GetSession(c *gin.Context) {
	info, err := h.service.GetSession(c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, info)
}

// UploadVideo accepts a recorded clip and queues it for analysis.
func (h *StreamHandler) UploadVideo(c *gin.Context) {
	file, header, err := c.Request.FormFile("video")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file uploaded"})
		return
	}
	defer file.Close()

	if !isValidVideoFile(header.Filename) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid file type"})
		return
	}

	if h.maxVideoSize > 0 && header.Size > h.maxVideoSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": fmt.Sprintf("File too large (max %d MB)", h.maxVideoSize>>20)})
		return
	}

	fileData, err := io.ReadAll(file)
	if err != nil {
		h.logger.Error("Failed to read uploaded file", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process file"})
		return
	}

	jobID, err := h.service.CreateVideoJob(fileData, header.Filename, c.PostForm("club"), c.ClientIP())
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"job_id":  jobID,
		"message": "Video upload successful, processing started",
		"status":  processor.JobQueued,
	})
}

func (h *StreamHandler) GetVideoJobStatus(c *gin.Context) {
	status, err := h.service.GetJobStatus(c.Param("job_id"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, status)
}

func (h *StreamHandler) GetStats(c *gin.Context) {
	processorStats := h.service.GetStats()

	requests := atomic.LoadInt64(&h.requests)
	failures := atomic.LoadInt64(&h.failures)
	var errorRate float64
	if requests > 0 {
		errorRate = float64(failures) / float64(requests) * 100
	}

	c.JSON(http.StatusOK, gin.H{
		"processor": processorStats,
		"queue":     h.service.GetQueueStats(),
		"metrics": gin.H{
			"frame_requests": requests,
			"error_rate":     errorRate,
			"uptime_seconds": time.Since(processorStats.StartTime).Seconds(),
		},
	})
}

func (h *StreamHandler) GetCacheStats(c *gin.Context) {
	stats, err := h.service.GetCacheStats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, stats)
}

func (h *StreamHandler) respondError(c *gin.Context, err error) {
	status := statusForError(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.String("client_ip", c.ClientIP()),
			zap.Error(err))
		c.JSON(status, gin.H{"error": "Processing failed"})
		return
	}

	c.JSON(status, gin.H{"error": err.Error()})
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, processor.ErrSessionNotFound), errors.Is(err, processor.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, processor.ErrSessionClosed), errors.Is(err, processor.ErrFrameLimitReached):
		return http.StatusConflict
	case errors.Is(err, processor.ErrTooManySessions), errors.Is(err, processor.ErrQueueFull):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (u *FrameUpload) toRequest() (*models.FrameRequest, error) {
	request := &models.FrameRequest{
		Landmarks:    u.Landmarks,
		BallPosition: u.BallPosition,
		Timestamp:    u.Timestamp,
	}

	switch {
	case u.ImageData != "":
		imageData, err := decodeDataURL(u.ImageData)
		if err != nil {
			return nil, err
		}
		request.ImageData = imageData
	case len(u.Landmarks) == 0:
		return nil, fmt.Errorf("frame needs landmarks or image_data")
	}

	return request, nil
}

func decodeDataURL(dataURL string) ([]byte, error) {
	parts := strings.SplitN(dataURL, ",", 2)
	if len(parts) != 2 || !strings.HasPrefix(parts[0], "data:") {
		return nil, fmt.Errorf("invalid data URL format")
	}

	imageData, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("invalid image data: %w", err)
	}

	return imageData, nil
}

func isValidVideoFile(filename string) bool {
	validExtensions := []string{".mp4", ".avi", ".mov", ".mkv", ".webm"}

	filename = strings.ToLower(filename)
	for _, ext := range validExtensions {
		if strings.HasSuffix(filename, ext) {
			return true
		}
	}
	return false
}
