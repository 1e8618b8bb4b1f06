package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/wesh92/fastapi-websockets-llm-example/internal/chat"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 64 * 1024
	sendBufferSize = 256
)

// inboundMessage is the wire shape of a client text message. Type is only
// used for ping frames; a chat request carries message and optional model.
type inboundMessage struct {
	Type    string `json:"type,omitempty"`
	Message string `json:"message"`
	Model   string `json:"model,omitempty"`
}

// ChatWebSocketClient is one live WebSocket connection bound to a session.
// It implements chat.Sender; the pipeline relays frames through the buffered
// send channel so a slow socket never blocks the drain loop.
type ChatWebSocketClient struct {
	conn      *websocket.Conn
	sessionID string
	connID    string
	send      chan chat.Frame
	done      chan struct{}
	closeOnce sync.Once
	server    *Server
}

// handleChatWebSocket upgrades the connection and binds it to the session
// named in the URL. A second connection for the same session takes over.
func (s *Server) handleChatWebSocket(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	sessionID := vars["sessionId"]
	if sessionID == "" {
		http.Error(w, "missing session id", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("websocket upgrade failed", "session", sessionID, "err", err)
		return
	}

	client := &ChatWebSocketClient{
		conn:      conn,
		sessionID: sessionID,
		connID:    uuid.NewString(),
		send:      make(chan chat.Frame, sendBufferSize),
		done:      make(chan struct{}),
		server:    s,
	}

	session, err := s.manager.Attach(r.Context(), sessionID, client.connID, client)
	if err != nil {
		logger.Error("failed to attach session", "session", sessionID, "err", err)
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "session unavailable"),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}

	logger.Info("client connected", "session", sessionID, "conn", client.connID)

	go client.writePump()
	client.readPump(session)
}

// Send implements chat.Sender. It never blocks: a full buffer means the
// client cannot keep up and is reported as a transport failure.
func (c *ChatWebSocketClient) Send(frame chat.Frame) error {
	select {
	case <-c.done:
		return fmt.Errorf("connection %s is closed", c.connID)
	default:
	}

	select {
	case c.send <- frame:
		return nil
	case <-c.done:
		return fmt.Errorf("connection %s is closed", c.connID)
	default:
		return fmt.Errorf("send buffer full for connection %s", c.connID)
	}
}

// Close implements chat.Sender. Idempotent; unblocks the write pump which
// closes the underlying socket.
func (c *ChatWebSocketClient) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
	})
	return nil
}

// readPump reads inbound messages until the connection fails or closes. It
// only touches the session through Submit: all state mutation happens on the
// drain loop side of the queue.
func (c *ChatWebSocketClient) readPump(session *chat.Session) {
	defer func() {
		c.server.manager.Detach(c.sessionID, c.connID)
		c.Close()
		c.conn.Close()
		logger.Info("client disconnected", "session", c.sessionID, "conn", c.connID)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logger.Error("websocket read error", "session", c.sessionID, "err", err)
			}
			return
		}

		var msg inboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.trySend(chat.ErrorFrame(chat.ErrMalformedRequest, ""))
			continue
		}

		if msg.Type == "ping" {
			c.trySend(chat.Frame{Type: chat.FramePong})
			continue
		}

		// The acknowledgement frame is sent by the pipeline so it always
		// precedes the first streamed fragment.
		if _, err := session.Submit(chat.ChatRequest{Message: msg.Message, Model: msg.Model}); err != nil {
			c.trySend(chat.ErrorFrame(err, ""))
		}
	}
}

// writePump owns all writes to the socket: queued frames and keepalive
// pings. It exits when the send path is closed or a write fails.
func (c *ChatWebSocketClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case frame := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(frame); err != nil {
				logger.Error("websocket write error", "session", c.sessionID, "err", err)
				c.Close()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		}
	}
}

// trySend queues a frame from the read loop, dropping it if the connection
// is already going away.
func (c *ChatWebSocketClient) trySend(frame chat.Frame) {
	if err := c.Send(frame); err != nil {
		logger.Debug("dropping frame", "session", c.sessionID, "type", frame.Type, "err", err)
	}
}
