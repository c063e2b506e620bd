package ml

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/san-kum/golf-swing-cv/server/pose"
	"go.uber.org/zap"
)

// Client talks to the pose estimation service, which runs the landmark
// model and the ball detector on raw images.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
	config     *ClientConfig
	stopCh     chan struct{}
	stopOnce   sync.Once
}

type ClientConfig struct {
	Timeout             time.Duration
	MaxRetries          int
	RetryDelay          time.Duration
	HealthCheckInterval time.Duration
}

func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		Timeout:             30 * time.Second,
		MaxRetries:          3,
		RetryDelay:          1 * time.Second,
		HealthCheckInterval: 30 * time.Second,
	}
}

type PoseRequest struct {
	ImageData []byte `json:"image_data"`
}

type VideoRequest struct {
	VideoData []byte `json:"video_data"`
	Filename  string `json:"filename"`
}

// PoseResult is the service's answer for one image. Landmarks follow the
// MediaPipe Pose ordering.
type PoseResult struct {
	Detected     bool            `json:"detected"`
	Landmarks    []pose.Landmark `json:"landmarks"`
	BallPosition *pose.Point     `json:"ball_position"`
	Width        int             `json:"width"`
	Height       int             `json:"height"`
}

// Frame converts the landmark list into a pose.Frame.
func (r *PoseResult) Frame() pose.Frame {
	return pose.FrameFromSlice(r.Landmarks)
}

type VideoFrame struct {
	Index int `json:"index"`
	PoseResult
}

type VideoPoseResult struct {
	Width  int          `json:"width"`
	Height int          `json:"height"`
	FPS    float64      `json:"fps"`
	Frames []VideoFrame `json:"frames"`
}

func NewClient(baseURL string, config *ClientConfig, logger *zap.Logger) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("pose service base URL is required")
	}
	if config == nil {
		config = DefaultClientConfig()
	}

	client := &Client{
		baseURL: baseURL,
		logger:  logger,
		config:  config,
		stopCh:  make(chan struct{}),
		httpClient: &http.Client{
			Timeout: config.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:       10,
				IdleConnTimeout:    30 * time.Second,
				DisableCompression: true,
			},
		},
	}

	if err := client.HealthCheck(context.Background()); err != nil {
		logger.Warn("Pose service not available at startup", zap.Error(err))
	}

	if config.HealthCheckInterval > 0 {
		go client.startHealthChecker()
	}

	return client, nil
}

// EstimatePose returns the landmarks and ball position for one image.
func (c *Client) EstimatePose(ctx context.Context, imageData []byte) (*PoseResult, error) {
	var result PoseResult
	if err := c.postWithRetry(ctx, "/pose", &PoseRequest{ImageData: imageData}, &result); err != nil {
		return nil, fmt.Errorf("pose estimation failed: %w", err)
	}
	return &result, nil
}

// EstimateVideo returns per-frame pose results for a whole clip.
func (c *Client) EstimateVideo(ctx context.Context, videoData []byte, filename string) (*VideoPoseResult, error) {
	var result VideoPoseResult
	if err := c.postWithRetry(ctx, "/pose/video", &VideoRequest{VideoData: videoData, Filename: filename}, &result); err != nil {
		return nil, fmt.Errorf("video pose estimation failed: %w", err)
	}
	return &result, nil
}

func (c *Client) postWithRetry(ctx context.Context, path string, body, out interface{}) error {
	requestData, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			c.logger.Warn("Retrying pose service request",
				zap.String("path", path),
				zap.Int("attempt", attempt),
				zap.Error(lastErr))

			select {
			case <-time.After(c.config.RetryDelay * time.Duration(attempt)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		lastErr = c.post(ctx, path, requestData, out)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	return fmt.Errorf("failed after %d attempts: %w", c.config.MaxRetries+1, lastErr)
}

func (c *Client) post(ctx context.Context, path string, requestData []byte, out interface{}) error {
	url := fmt.Sprintf("%s%s", c.baseURL, path)
	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(requestData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	httpRequest.Header.Set("Content-Type", "application/json")
	httpRequest.Header.Set("User-Agent", "golf-swing-cv/1.0")

	response, err := c.httpClient.Do(httpRequest)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(response.Body)
		return fmt.Errorf("pose service error (status %d): %s",
			response.StatusCode, string(bodyBytes))
	}

	if err := json.NewDecoder(response.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) HealthCheck(ctx context.Context) error {
	url := fmt.Sprintf("%s/health", c.baseURL)

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("pose service unhealthy (status %d)", response.StatusCode)
	}

	return nil
}

func (c *Client) startHealthChecker() {
	ticker := time.NewTicker(c.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.HealthCheck(context.Background()); err != nil {
				c.logger.Error("Pose service health check failed", zap.Error(err))
			} else {
				c.logger.Debug("Pose service health check passed")
			}
		case <-c.stopCh:
			return
		}
	}
}

// Close stops the background health checker.
func (c *Client) Close() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}
