package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/san-kum/golf-swing-cv/server/models"
	"github.com/san-kum/golf-swing-cv/server/processor"
	"github.com/san-kum/golf-swing-cv/server/swing"
	"go.uber.org/zap"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	writeWait  = 10 * time.Second
)

type WebSocketHandler struct {
	service  SwingService
	logger   *zap.Logger
	upgrader websocket.Upgrader
	timeout  time.Duration
}

type ClientMessage struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

type ServerMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// connection is one websocket client. It owns at most one live session and
// serializes all writes.
type connection struct {
	conn      *websocket.Conn
	clientIP  string
	userID    string
	sessionID string
	writeMu   sync.Mutex
}

func NewWebSocketHandler(service SwingService, allowedOrigins []string, timeout time.Duration, logger *zap.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		service: service,
		logger:  logger,
		timeout: timeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || len(allowedOrigins) == 0 || contains(allowedOrigins, "*") || contains(allowedOrigins, origin)
			},
		},
	}
}

func (h *WebSocketHandler) HandleWebSocket(c *gin.Context) {
	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade websocket connection", zap.Error(err))
		return
	}
	defer ws.Close()

	client := &connection{conn: ws, clientIP: c.ClientIP(), userID: c.GetString("user_id")}
	h.logger.Info("WebSocket client connected", zap.String("client_ip", client.clientIP))

	ws.SetReadLimit(10 * 1024 * 1024)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	done := make(chan struct{})
	defer close(done)
	go h.pingRoutine(client, done)

	for {
		var message ClientMessage
		if err := ws.ReadJSON(&message); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("WebSocket read failed", zap.Error(err))
			}
			break
		}
		ws.SetReadDeadline(time.Now().Add(pongWait))

		// Frames are handled in arrival order on this goroutine.
		h.handleMessage(client, &message)
	}

	if client.sessionID != "" {
		h.service.DiscardSession(client.sessionID)
	}
	h.logger.Info("WebSocket client disconnected", zap.String("client_ip", client.clientIP))
}

func (h *WebSocketHandler) handleMessage(client *connection, message *ClientMessage) {
	switch message.Type {
	case "start":
		h.startSession(client, message)
	case "frame":
		h.processFrame(client, message)
	case "finish":
		h.finishSession(client)
	case "ping":
		h.sendMessage(client, "pong", map[string]any{"timestamp": time.Now().Unix()})
	default:
		h.logger.Warn("Unknown message type received", zap.String("type", message.Type))
		h.sendError(client, "Unknown message type: "+message.Type)
	}
}

func (h *WebSocketHandler) startSession(client *connection, message *ClientMessage) {
	if client.sessionID != "" {
		h.sendError(client, "Session already started")
		return
	}

	var request models.StartSessionRequest
	if err := json.Unmarshal(message.Data, &request); err != nil || request.FrameWidth <= 0 || request.FrameHeight <= 0 {
		h.sendError(client, "start needs frame_width and frame_height")
		return
	}

	info, err := h.service.StartSession(request, client.userID)
	if err != nil {
		h.sendError(client, err.Error())
		return
	}

	client.sessionID = info.ID
	h.sendMessage(client, "session_started", info)
}

func (h *WebSocketHandler) processFrame(client *connection, message *ClientMessage) {
	if client.sessionID == "" {
		h.sendError(client, "No active session, send start first")
		return
	}

	var upload FrameUpload
	if err := json.Unmarshal(message.Data, &upload); err != nil {
		h.sendError(client, "Invalid frame format")
		return
	}
	if upload.Timestamp == 0 {
		upload.Timestamp = message.Timestamp
	}

	request, err := upload.toRequest()
	if err != nil {
		h.sendError(client, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	result, err := h.service.IngestFrame(ctx, client.sessionID, request)
	if err != nil {
		h.logger.Warn("Frame processing failed", zap.String("session_id", client.sessionID), zap.Error(err))
		if errors.Is(err, processor.ErrSessionNotFound) {
			// Expired by the idle reaper.
			client.sessionID = ""
			h.sendError(client, "Session expired, send start again")
			return
		}
		h.sendError(client, "Frame processing failed: "+err.Error())
		return
	}

	h.sendMessage(client, "phase", result)

	if result.Complete && result.PhaseChanged {
		h.sendMessage(client, "complete", map[string]any{
			"session_id": result.SessionID,
			"frames":     result.FramesSeen,
		})
	}

	if result.Analysis != nil {
		client.sessionID = ""
		h.sendAnalysis(client, result.Analysis)
	}
}

func (h *WebSocketHandler) finishSession(client *connection) {
	if client.sessionID == "" {
		h.sendError(client, "No active session")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	sessionID := client.sessionID
	client.sessionID = ""

	analysis, err := h.service.FinishSession(ctx, sessionID)
	if err != nil && !errors.Is(err, swing.ErrNoTerminalPhase) {
		h.sendError(client, err.Error())
		return
	}
	h.sendAnalysis(client, analysis)
}

func (h *WebSocketHandler) sendAnalysis(client *connection, analysis *models.SwingAnalysis) {
	if analysis.Status == models.StatusComplete {
		h.sendMessage(client, "feedback", analysis)
		return
	}
	h.sendMessage(client, "incomplete", analysis)
}

func (h *WebSocketHandler) sendMessage(client *connection, messageType string, data interface{}) {
	client.writeMu.Lock()
	defer client.writeMu.Unlock()

	client.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := client.conn.WriteJSON(ServerMessage{Type: messageType, Data: data}); err != nil {
		h.logger.Error("Failed to send WebSocket message", zap.String("type", messageType), zap.Error(err))
	}
}

func (h *WebSocketHandler) sendError(client *connection, errorMsg string) {
	h.sendMessage(client, "error", map[string]interface{}{
		"message":   errorMsg,
		"timestamp": time.Now().Unix(),
	})
}

func (h *WebSocketHandler) pingRoutine(client *connection, done chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			client.writeMu.Lock()
			err := client.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			client.writeMu.Unlock()
			if err != nil {
				h.logger.Debug("Failed to send ping", zap.Error(err))
				return
			}
		case <-done:
			return
		}
	}
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
