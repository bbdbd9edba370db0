package server

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/boxfuse/internal/testutil"
)

// mockWebSocketConn records everything written to it.
type mockWebSocketConn struct {
	sent []WebSocketEvent
}

func (m *mockWebSocketConn) WriteMessage(messageType int, data []byte) error {
	var ev WebSocketEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return err
	}
	m.sent = append(m.sent, ev)
	return nil
}

func (m *mockWebSocketConn) stages() []string {
	var out []string
	for _, ev := range m.sent {
		if ev.Type == "stage" {
			out = append(out, ev.Stage)
		}
	}
	return out
}

func sceneMessage(t *testing.T, layoutOn bool) []byte {
	t.Helper()
	scene := testutil.DefaultScene()
	data, err := json.Marshal(WebSocketRunRequest{
		RequestID: "req-1",
		Image:     scenePNG(t),
		Shapes:    scene.Shapes,
		Texts:     scene.Texts,
		Layout:    layoutOn,
	})
	require.NoError(t, err)
	return data
}

func TestHandleWebSocketMessage_StagesWithoutLayout(t *testing.T) {
	s := newTestServer(t)
	conn := &mockWebSocketConn{}
	s.handleWebSocketMessage(context.Background(), conn, sceneMessage(t, false))

	assert.Equal(t, []string{"normalized", "fused", "grouped"}, conn.stages())
	last := conn.sent[len(conn.sent)-1]
	assert.Equal(t, "result", last.Type)
	assert.Equal(t, "completed", last.Status)
	assert.InDelta(t, 1.0, last.Progress, 0)
	assert.Equal(t, "req-1", last.RequestID)

	payload, ok := last.Payload.(map[string]any)
	require.True(t, ok)
	assert.Len(t, payload["fused"], testutil.DefaultScene().ExpectedFused)
	assert.NotContains(t, payload, "layout")
}

func TestHandleWebSocketMessage_StagesWithLayout(t *testing.T) {
	s := newTestServer(t)
	conn := &mockWebSocketConn{}
	s.handleWebSocketMessage(context.Background(), conn, sceneMessage(t, true))

	assert.Equal(t, []string{"normalized", "fused", "grouped", "composed"}, conn.stages())

	var prev float64
	for _, ev := range conn.sent {
		assert.Greater(t, ev.Progress, prev)
		prev = ev.Progress
	}

	fused, ok := conn.sent[1].Payload.(map[string]any)
	require.True(t, ok)
	assert.Len(t, fused["fused"], testutil.DefaultScene().ExpectedFused)

	grouped, ok := conn.sent[2].Payload.(map[string]any)
	require.True(t, ok)
	groups, ok := grouped["groups"].(map[string]any)
	require.True(t, ok)
	assert.Len(t, groups, len(testutil.DefaultScene().ExpectedGroupIDs))
}

func TestHandleWebSocketMessage_Errors(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name      string
		msg       string
		errorType string
	}{
		{"invalid json", "{", "invalid_request"},
		{"bad image", `{"image":"bm90IGFuIGltYWdl"}`, "invalid_request"},
		{"nothing to run", `{"request_id":"x"}`, "processing_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := &mockWebSocketConn{}
			s.handleWebSocketMessage(context.Background(), conn, []byte(tt.msg))
			require.Len(t, conn.sent, 1)
			assert.Equal(t, "error", conn.sent[0].Type)
			assert.Equal(t, tt.errorType, conn.sent[0].ErrorType)
			assert.NotEmpty(t, conn.sent[0].Error)
		})
	}
}

func TestStageWebSocketHandler_EndToEnd(t *testing.T) {
	s := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, sceneMessage(t, true)))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(10*time.Second)))

	var events []WebSocketEvent
	for {
		var ev WebSocketEvent
		require.NoError(t, conn.ReadJSON(&ev))
		events = append(events, ev)
		if ev.Type != "stage" {
			break
		}
	}
	require.Len(t, events, 5)
	assert.Equal(t, "composed", events[3].Stage)
	assert.Equal(t, "result", events[4].Type)
}
