package providers

import (
	"context"
	"errors"
	"io"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"

	"github.com/wesh92/fastapi-websockets-llm-example/internal/llm"
)

// OpenAIHandler streams completions through the official OpenAI Go SDK.
type OpenAIHandler struct {
	client *openai.Client
}

// NewOpenAIHandler creates a handler using the official SDK.
func NewOpenAIHandler(apiKey string) *OpenAIHandler {
	client := openai.NewClient(
		option.WithAPIKey(apiKey),
	)
	return &OpenAIHandler{client: &client}
}

// StreamChat opens a streaming chat completion against OpenAI.
func (h *OpenAIHandler) StreamChat(ctx context.Context, messages []llm.Message, model string) (llm.Stream, error) {
	openaiMessages := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case "assistant":
			openaiMessages = append(openaiMessages, openai.AssistantMessage(msg.Content))
		case "system":
			openaiMessages = append(openaiMessages, openai.SystemMessage(msg.Content))
		default:
			openaiMessages = append(openaiMessages, openai.UserMessage(msg.Content))
		}
	}

	stream := h.client.Chat.Completions.NewStreaming(ctx, openai.ChatCompletionNewParams{
		Messages: openaiMessages,
		Model:    openai.ChatModel(model),
	})
	return &openAIStream{stream: stream}, nil
}

type openAIStream struct {
	stream *ssestream.Stream[openai.ChatCompletionChunk]
}

func (s *openAIStream) Recv() (string, error) {
	for s.stream.Next() {
		chunk := s.stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		if content := chunk.Choices[0].Delta.Content; content != "" {
			return content, nil
		}
	}
	if err := s.stream.Err(); err != nil {
		return "", wrapOpenAIError(err)
	}
	return "", io.EOF
}

func (s *openAIStream) Close() error {
	return s.stream.Close()
}

func wrapOpenAIError(err error) *llm.Error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return llm.WrapStatus(apiErr.StatusCode, apiErr.Message, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &llm.Error{Kind: llm.KindTimeout, Err: err}
	}
	return &llm.Error{Kind: llm.KindTransport, Err: err}
}
