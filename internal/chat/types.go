package chat

import (
	"context"
	"time"
)

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is a single entry in a session's conversation history.
type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Failed    bool      `json:"failed,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ChatRequest is the inbound message contract carried over the connection.
type ChatRequest struct {
	Message string `json:"message"`
	Model   string `json:"model,omitempty"`
}

// PendingMessage is a request unit waiting in the backpressure queue.
// Immutable once enqueued.
type PendingMessage struct {
	ID         string
	Content    string
	Model      string
	EnqueuedAt time.Time
}

// Frame is an outbound message to the client connection.
type Frame struct {
	Type    string      `json:"type"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	EventID string      `json:"event_id,omitempty"`
}

// Frame types sent to the client.
const (
	FrameMessageReceived = "message_received"
	FrameFragment        = "fragment"
	FrameDone            = "done"
	FrameError           = "error"
	FramePong            = "pong"
)

// Sender delivers outbound frames to the live client connection. Implemented
// by the WebSocket transport; faked in tests.
type Sender interface {
	// Send queues a frame for delivery. A non-nil error means the transport
	// is unusable and the pipeline must stop relaying to it.
	Send(frame Frame) error
	// Close tears the connection down. Used on session takeover.
	Close() error
}

// HistoryStore is the persistence contract the pipeline depends on. Appends
// must be durable before returning; Load on an unknown session returns an
// empty slice, not an error.
type HistoryStore interface {
	Append(ctx context.Context, sessionID string, turn Turn) error
	Load(ctx context.Context, sessionID string) ([]Turn, error)
}

// Options carries the injected configuration for the chat core.
type Options struct {
	BucketCapacity  float64
	RefillRate      float64
	MessageCost     float64
	QueueCapacity   int
	UpstreamTimeout time.Duration
	DefaultModel    string
	SessionIdleTTL  time.Duration
	SweepInterval   time.Duration
	Models          []string // catalog override; empty means DefaultModels
}

// DefaultOptions returns the knobs used when configuration does not override
// them.
func DefaultOptions() Options {
	return Options{
		BucketCapacity:  10,
		RefillRate:      0.5,
		MessageCost:     1,
		QueueCapacity:   8,
		UpstreamTimeout: 120 * time.Second,
		DefaultModel:    "google/gemini-flash-1.5",
		SessionIdleTTL:  30 * time.Minute,
		SweepInterval:   time.Minute,
	}
}
