package providers

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"

	"github.com/wesh92/fastapi-websockets-llm-example/internal/llm"
)

// RetryConfig defines retry behavior for opening upstream streams. Only the
// initial call is ever retried; a stream that fails after its first fragment
// is surfaced to the client instead.
type RetryConfig struct {
	MaxRetries    int           `json:"maxRetries"`
	BaseDelay     time.Duration `json:"baseDelay"`
	MaxDelay      time.Duration `json:"maxDelay"`
	BackoffFactor float64       `json:"backoffFactor"`
	JitterFactor  float64       `json:"jitterFactor"`
}

// DefaultRetryConfig returns a sensible default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    3,
		BaseDelay:     500 * time.Millisecond,
		MaxDelay:      8 * time.Second,
		BackoffFactor: 2.0,
		JitterFactor:  0.1,
	}
}

// CalculateBackoffDelay computes the delay before the given retry attempt
// using exponential backoff with jitter.
func CalculateBackoffDelay(attempt int, config RetryConfig) time.Duration {
	delay := float64(config.BaseDelay) * math.Pow(config.BackoffFactor, float64(attempt))
	if delay > float64(config.MaxDelay) {
		delay = float64(config.MaxDelay)
	}
	jitter := delay * config.JitterFactor * (rand.Float64()*2 - 1)
	delay += jitter
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// RetryHandler decorates a Handler with backoff on transient failures
// (rate limiting, transport errors) while opening the stream.
type RetryHandler struct {
	inner  llm.Handler
	config RetryConfig
}

// WithRetry wraps a handler with retry behavior.
func WithRetry(inner llm.Handler, config RetryConfig) *RetryHandler {
	return &RetryHandler{inner: inner, config: config}
}

func (h *RetryHandler) StreamChat(ctx context.Context, messages []llm.Message, model string) (llm.Stream, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		stream, err := h.inner.StreamChat(ctx, messages, model)
		if err == nil {
			return stream, nil
		}
		lastErr = err

		var ue *llm.Error
		if !errors.As(err, &ue) || !ue.Retryable() || attempt >= h.config.MaxRetries {
			return nil, lastErr
		}

		select {
		case <-ctx.Done():
			return nil, lastErr
		case <-time.After(CalculateBackoffDelay(attempt, h.config)):
		}
	}
}
