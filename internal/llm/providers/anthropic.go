package providers

import (
	"context"
	"errors"
	"io"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/wesh92/fastapi-websockets-llm-example/internal/llm"
)

const anthropicMaxTokens = 4096

// AnthropicHandler streams completions through the official Anthropic SDK.
type AnthropicHandler struct {
	client *anthropic.Client
}

// NewAnthropicHandler creates a handler using the official SDK.
func NewAnthropicHandler(apiKey string) *AnthropicHandler {
	client := anthropic.NewClient(
		option.WithAPIKey(apiKey),
	)
	return &AnthropicHandler{client: &client}
}

// StreamChat opens a streaming messages call against Anthropic. System turns
// are folded into user turns since the messages API carries system prompts
// out of band.
func (h *AnthropicHandler) StreamChat(ctx context.Context, messages []llm.Message, model string) (llm.Stream, error) {
	anthropicMessages := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case "assistant":
			anthropicMessages = append(anthropicMessages,
				anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		default:
			anthropicMessages = append(anthropicMessages,
				anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}

	stream := h.client.Messages.NewStreaming(ctx, anthropic.MessageNewParams{
		MaxTokens: anthropicMaxTokens,
		Messages:  anthropicMessages,
		Model:     anthropic.Model(model),
	})
	return &anthropicStream{stream: stream}, nil
}

type anthropicStream struct {
	stream *ssestream.Stream[anthropic.MessageStreamEventUnion]
}

func (s *anthropicStream) Recv() (string, error) {
	for s.stream.Next() {
		event := s.stream.Current()
		switch eventVariant := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			switch deltaVariant := eventVariant.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				if deltaVariant.Text != "" {
					return deltaVariant.Text, nil
				}
			}
		}
	}
	if err := s.stream.Err(); err != nil {
		return "", wrapAnthropicError(err)
	}
	return "", io.EOF
}

func (s *anthropicStream) Close() error {
	return s.stream.Close()
}

func wrapAnthropicError(err error) *llm.Error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return llm.WrapStatus(apiErr.StatusCode, "", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &llm.Error{Kind: llm.KindTimeout, Err: err}
	}
	return &llm.Error{Kind: llm.KindTransport, Err: err}
}
