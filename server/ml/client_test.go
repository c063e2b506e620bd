package ml

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/san-kum/golf-swing-cv/server/pose"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig() *ClientConfig {
	return &ClientConfig{
		Timeout:    time.Second,
		MaxRetries: 2,
		RetryDelay: time.Millisecond,
	}
}

func TestEstimatePose(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(http.StatusOK)
		case "/pose":
			var req PoseRequest
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, []byte("jpeg-bytes"), req.ImageData)

			landmarks := make([]pose.Landmark, pose.NumPoseLandmarks)
			landmarks[pose.LeftWrist] = pose.Landmark{X: 0.4, Y: 0.5, Visibility: 0.9}
			json.NewEncoder(w).Encode(PoseResult{
				Detected:     true,
				Landmarks:    landmarks,
				BallPosition: &pose.Point{X: 0.5, Y: 0.9},
				Width:        1280,
				Height:       720,
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client, err := NewClient(server.URL, testConfig(), zap.NewNop())
	require.NoError(t, err)
	defer client.Close()

	result, err := client.EstimatePose(context.Background(), []byte("jpeg-bytes"))
	require.NoError(t, err)

	assert.True(t, result.Detected)
	assert.Equal(t, 1280, result.Width)
	require.NotNil(t, result.BallPosition)
	assert.Equal(t, 0.5, result.Frame()[pose.LeftWrist].Y)
}

func TestEstimatePoseRetries(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/pose/video" {
			w.WriteHeader(http.StatusOK)
			return
		}
		if atomic.AddInt32(&calls, 1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(VideoPoseResult{Width: 640, Height: 480, FPS: 30, Frames: []VideoFrame{{Index: 0}}})
	}))
	defer server.Close()

	client, err := NewClient(server.URL, testConfig(), zap.NewNop())
	require.NoError(t, err)
	defer client.Close()

	result, err := client.EstimateVideo(context.Background(), []byte("webm"), "swing.webm")
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Len(t, result.Frames, 1)
}

func TestEstimatePoseGivesUp(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer server.Close()

	client, err := NewClient(server.URL, testConfig(), zap.NewNop())
	require.NoError(t, err)
	defer client.Close()

	_, err = client.EstimatePose(context.Background(), []byte("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Error(t, client.HealthCheck(context.Background()))
}

func TestNewClientRequiresURL(t *testing.T) {
	_, err := NewClient("", nil, zap.NewNop())
	assert.Error(t, err)
}
