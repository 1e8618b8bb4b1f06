package chat

import (
	"errors"

	"github.com/wesh92/fastapi-websockets-llm-example/internal/llm"
)

// Per-message errors surfaced to the client as error frames. None of these
// are fatal to the session.
var (
	ErrMalformedRequest = errors.New("malformed request")
	ErrRateLimited      = errors.New("rate limited")
	ErrQueueFull        = errors.New("message queue full")
	ErrQueueClosed      = errors.New("message queue closed")
	ErrInvalidModel     = errors.New("invalid model")
	ErrSessionClosed    = errors.New("session closed")
)

// Error kinds carried in the data payload of error frames.
const (
	KindMalformedRequest    = "malformed_request"
	KindRateLimited         = "rate_limited"
	KindOverloaded          = "overloaded"
	KindInvalidModel        = "invalid_model"
	KindUpstreamTimeout     = "upstream_timeout"
	KindUpstreamRateLimited = "upstream_rate_limited"
	KindUpstreamError       = "upstream_error"
	KindPersistenceError    = "persistence_error"
)

// ErrorFrame converts a pipeline error into the client-visible error frame.
func ErrorFrame(err error, eventID string) Frame {
	kind := KindUpstreamError
	detail := err.Error()

	var upstream *llm.Error
	switch {
	case errors.Is(err, ErrMalformedRequest):
		kind = KindMalformedRequest
	case errors.Is(err, ErrRateLimited):
		kind = KindRateLimited
		detail = "rate limit exceeded, slow down"
	case errors.Is(err, ErrQueueFull):
		kind = KindOverloaded
		detail = "message queue is full, try again later"
	case errors.Is(err, ErrQueueClosed), errors.Is(err, ErrSessionClosed):
		kind = KindOverloaded
		detail = "session is shutting down"
	case errors.Is(err, ErrInvalidModel):
		kind = KindInvalidModel
	case errors.As(err, &upstream):
		switch upstream.Kind {
		case llm.KindTimeout:
			kind = KindUpstreamTimeout
		case llm.KindRateLimited:
			kind = KindUpstreamRateLimited
		case llm.KindInvalidModel:
			kind = KindInvalidModel
		default:
			kind = KindUpstreamError
		}
	}

	return Frame{
		Type:    FrameError,
		Error:   detail,
		EventID: eventID,
		Data:    map[string]interface{}{"kind": kind},
	}
}
