package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesh92/fastapi-websockets-llm-example/internal/chat"
	"github.com/wesh92/fastapi-websockets-llm-example/internal/config"
	"github.com/wesh92/fastapi-websockets-llm-example/internal/llm"
)

// scriptedHandler streams a fixed set of fragments for every request.
type scriptedHandler struct {
	fragments []string
}

func (h *scriptedHandler) StreamChat(ctx context.Context, messages []llm.Message, model string) (llm.Stream, error) {
	return &scriptedStream{fragments: h.fragments}, nil
}

type scriptedStream struct {
	fragments []string
	pos       int
}

func (s *scriptedStream) Recv() (string, error) {
	if s.pos >= len(s.fragments) {
		return "", io.EOF
	}
	frag := s.fragments[s.pos]
	s.pos++
	return frag, nil
}

func (s *scriptedStream) Close() error { return nil }

// memoryStore is an in-memory chat.HistoryStore for handler tests.
type memoryStore struct {
	turns map[string][]chat.Turn
}

func newMemoryStore() *memoryStore {
	return &memoryStore{turns: make(map[string][]chat.Turn)}
}

func (s *memoryStore) Append(ctx context.Context, sessionID string, turn chat.Turn) error {
	s.turns[sessionID] = append(s.turns[sessionID], turn)
	return nil
}

func (s *memoryStore) Load(ctx context.Context, sessionID string) ([]chat.Turn, error) {
	return append([]chat.Turn(nil), s.turns[sessionID]...), nil
}

func newTestServer(t *testing.T, fragments []string) (*httptest.Server, *chat.Manager) {
	t.Helper()
	opts := chat.DefaultOptions()
	opts.DefaultModel = "test/model"
	opts.Models = []string{"test/model", "test/other"}

	manager := chat.NewManager(opts, newMemoryStore(), &scriptedHandler{fragments: fragments})
	cfg := &config.Config{}
	srv := httptest.NewServer(NewServer(cfg, manager).Handler())
	t.Cleanup(srv.Close)
	return srv, manager
}

func dialWS(t *testing.T, srv *httptest.Server, sessionID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/chat/ws/" + sessionID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) chat.Frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame chat.Frame
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

func TestHealthRoute(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	resp, err := http.Get(srv.URL + "/api/v1/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestAvailableModelsRoute(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	resp, err := http.Get(srv.URL + "/api/v1/chat/metadata/available_models")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Models []string `json:"models"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.ElementsMatch(t, []string{"test/model", "test/other"}, body.Models)
}

func TestSessionStateRoute(t *testing.T) {
	srv, _ := newTestServer(t, []string{"ok"})

	resp, err := http.Get(srv.URL + "/api/v1/chat/metadata/session_state/unknown")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	conn := dialWS(t, srv, "s1")
	require.NoError(t, conn.WriteJSON(map[string]string{"message": "hi"}))
	require.Equal(t, chat.FrameMessageReceived, readFrame(t, conn).Type)

	resp, err = http.Get(srv.URL + "/api/v1/chat/metadata/session_state/s1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var info chat.Info
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
	assert.Equal(t, "s1", info.SessionID)
	assert.True(t, info.Connected)
	assert.Equal(t, 1, info.MessageCount)
}

func TestWebSocketChatExchange(t *testing.T) {
	srv, _ := newTestServer(t, []string{"Hel", "lo!"})
	conn := dialWS(t, srv, "s1")

	require.NoError(t, conn.WriteJSON(map[string]string{"message": "hi there"}))

	ack := readFrame(t, conn)
	require.Equal(t, chat.FrameMessageReceived, ack.Type)
	require.NotEmpty(t, ack.EventID)

	var text strings.Builder
	for {
		frame := readFrame(t, conn)
		if frame.Type == chat.FrameDone {
			data, ok := frame.Data.(map[string]interface{})
			require.True(t, ok)
			assert.Equal(t, "Hel"+"lo!", data["message"])
			break
		}
		require.Equal(t, chat.FrameFragment, frame.Type)
		assert.Equal(t, ack.EventID, frame.EventID)
		frag, ok := frame.Data.(string)
		require.True(t, ok)
		text.WriteString(frag)
	}
	assert.Equal(t, "Hello!", text.String())
}

func TestWebSocketMalformedMessage(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	conn := dialWS(t, srv, "s1")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))

	frame := readFrame(t, conn)
	require.Equal(t, chat.FrameError, frame.Type)
	data, ok := frame.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "malformed_request", data["kind"])

	// The connection stays usable afterwards.
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
	assert.Equal(t, chat.FramePong, readFrame(t, conn).Type)
}

func TestWebSocketUnknownModel(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	conn := dialWS(t, srv, "s1")

	require.NoError(t, conn.WriteJSON(map[string]string{
		"message": "hi",
		"model":   "made/up",
	}))

	frame := readFrame(t, conn)
	require.Equal(t, chat.FrameError, frame.Type)
	data, ok := frame.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "invalid_model", data["kind"])
}

func TestWebSocketPing(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	conn := dialWS(t, srv, "s1")

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
	assert.Equal(t, chat.FramePong, readFrame(t, conn).Type)
}

func TestWebSocketTakeover(t *testing.T) {
	srv, manager := newTestServer(t, []string{"ok"})

	first := dialWS(t, srv, "s1")
	second := dialWS(t, srv, "s1")

	// The first socket is closed by the takeover.
	first.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := first.ReadMessage()
	require.Error(t, err)

	// The second socket serves the same session.
	require.NoError(t, second.WriteJSON(map[string]string{"message": "hi"}))
	require.Equal(t, chat.FrameMessageReceived, readFrame(t, second).Type)

	assert.Equal(t, 1, manager.Len())
}

func TestWebSocketMissingSessionID(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	resp, err := http.Get(srv.URL + "/api/v1/chat/ws/")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.NotEqual(t, http.StatusOK, resp.StatusCode)
}
