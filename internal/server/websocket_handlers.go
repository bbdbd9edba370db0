package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MeKo-Tech/boxfuse/internal/detection"
	"github.com/MeKo-Tech/boxfuse/internal/pipeline"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocketRunRequest is one run submitted over the stage stream.
type WebSocketRunRequest struct {
	RequestID string                `json:"request_id,omitempty"`
	Image     []byte                `json:"image,omitempty"` // base64 in JSON
	Shapes    []detection.Detection `json:"shapes"`
	Texts     []detection.Detection `json:"text"`
	Layout    bool                  `json:"layout"`
}

// WebSocketConnWriter is the part of a websocket connection the stream
// writes to.
type WebSocketConnWriter interface {
	WriteMessage(messageType int, data []byte) error
}

// WebSocketEvent is one message of the stage stream.
type WebSocketEvent struct {
	Type      string  `json:"type"`   // "stage", "result" or "error"
	Status    string  `json:"status"` // "processing", "completed", "error"
	Stage     string  `json:"stage,omitempty"`
	Progress  float64 `json:"progress"`
	Payload   any     `json:"payload,omitempty"`
	Error     string  `json:"error,omitempty"`
	ErrorType string  `json:"error_type,omitempty"`
	RequestID string  `json:"request_id,omitempty"`
}

var stageProgress = map[pipeline.Stage]float64{
	pipeline.StageNormalized: 0.25,
	pipeline.StageFused:      0.5,
	pipeline.StageGrouped:    0.75,
	pipeline.StageComposed:   0.95,
}

// stageWebSocketHandler streams one event per pipeline stage for every run
// request received on the connection.
func (s *Server) stageWebSocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade connection to WebSocket", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	websocketConnections.Inc()
	defer websocketConnections.Dec()

	slog.Info("WebSocket connection established", "remote_addr", r.RemoteAddr)
	s.handleWebSocketConnection(r.Context(), conn)
}

func (s *Server) handleWebSocketConnection(ctx context.Context, conn *websocket.Conn) {
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(10*time.Second)); err != nil {
					return
				}
			}
		}
	}()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Error("WebSocket error", "error", err)
			}
			return
		}
		websocketMessagesTotal.WithLabelValues("received").Inc()

		if messageType == websocket.TextMessage {
			s.handleWebSocketMessage(ctx, conn, data)
		}
	}
}

// handleWebSocketMessage decodes one run request and streams its stages.
func (s *Server) handleWebSocketMessage(ctx context.Context, conn WebSocketConnWriter, data []byte) {
	var req WebSocketRunRequest
	if err := json.Unmarshal(data, &req); err != nil {
		s.sendWebSocketError(conn, "", "invalid_request", fmt.Sprintf("Failed to parse request: %v", err))
		return
	}
	if req.RequestID == "" {
		req.RequestID = strconv.FormatInt(time.Now().UnixNano(), 10)
	}

	run := &runRequest{
		Shapes:   detection.Normalize(req.Shapes, detection.SourceShape, true),
		Texts:    detection.Normalize(req.Texts, detection.SourceText, true),
		Detected: req.Shapes != nil || req.Texts != nil,
	}
	if len(req.Image) > 0 {
		run.Image, run.ImageErr = decodeImage(req.Image)
		if run.ImageErr != nil && !run.Detected {
			s.sendWebSocketError(conn, req.RequestID, "invalid_request", fmt.Sprintf("Failed to decode image: %v", run.ImageErr))
			return
		}
	}

	pl := s.light
	if req.Layout {
		pl = s.full
	}

	onStage := func(stage pipeline.Stage, res *pipeline.Result) {
		s.sendWebSocketEvent(conn, WebSocketEvent{
			Type:      "stage",
			Status:    "processing",
			Stage:     string(stage),
			Progress:  stageProgress[stage],
			Payload:   stagePayload(stage, res),
			RequestID: req.RequestID,
		})
	}

	start := time.Now()
	res, err := s.execute(ctx, pl, run, onStage)
	observeRun("ws", res, err, time.Since(start).Seconds())
	if err != nil {
		s.sendWebSocketError(conn, req.RequestID, "processing_error", fmt.Sprintf("processing failed: %v", err))
		return
	}
	s.profiler.Record(res)

	s.sendWebSocketEvent(conn, WebSocketEvent{
		Type:      "result",
		Status:    "completed",
		Progress:  1.0,
		Payload:   res,
		RequestID: req.RequestID,
	})
}

// stagePayload summarises res as it stands after stage.
func stagePayload(stage pipeline.Stage, res *pipeline.Result) any {
	switch stage {
	case pipeline.StageNormalized:
		return map[string]int{"shapes": len(res.Shapes), "texts": len(res.Texts)}
	case pipeline.StageFused:
		return map[string]any{"fused": res.Fused, "stats": res.FusionStats}
	case pipeline.StageGrouped:
		return map[string]any{"groups": res.Groups, "stats": res.GroupStats}
	case pipeline.StageComposed:
		if res.Layout == nil {
			return nil
		}
		return map[string]any{"composites": res.Layout.Composites, "stats": res.Layout.Stats}
	default:
		return nil
	}
}

// sendWebSocketEvent marshals ev immediately; stage payloads alias a result
// that is still being filled.
func (s *Server) sendWebSocketEvent(conn WebSocketConnWriter, ev WebSocketEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Error("Failed to marshal WebSocket event", "error", err)
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		slog.Error("Failed to send WebSocket message", "error", err)
		return
	}
	websocketMessagesTotal.WithLabelValues("sent").Inc()
}

func (s *Server) sendWebSocketError(conn WebSocketConnWriter, requestID, errorType, message string) {
	s.sendWebSocketEvent(conn, WebSocketEvent{
		Type:      "error",
		Status:    "error",
		Error:     message,
		ErrorType: errorType,
		RequestID: requestID,
	})
}
