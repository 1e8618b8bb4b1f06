package providers

import (
	"context"
	"errors"
	"io"

	openrouter "github.com/revrost/go-openrouter"

	"github.com/wesh92/fastapi-websockets-llm-example/internal/llm"
)

// OpenRouterHandler streams completions through the OpenRouter API.
type OpenRouterHandler struct {
	client *openrouter.Client
}

// NewOpenRouterHandler creates a handler using the OpenRouter Go SDK. The
// referer and title are optional app attribution headers.
func NewOpenRouterHandler(apiKey, siteURL, siteName string) *OpenRouterHandler {
	var clientOpts []openrouter.Option
	if siteURL != "" {
		clientOpts = append(clientOpts, openrouter.WithHTTPReferer(siteURL))
	}
	if siteName != "" {
		clientOpts = append(clientOpts, openrouter.WithXTitle(siteName))
	}
	return &OpenRouterHandler{client: openrouter.NewClient(apiKey, clientOpts...)}
}

// StreamChat opens a streaming chat completion. The returned stream yields
// content deltas until the provider signals completion.
func (h *OpenRouterHandler) StreamChat(ctx context.Context, messages []llm.Message, model string) (llm.Stream, error) {
	request := openrouter.ChatCompletionRequest{
		Model:    model,
		Messages: convertToOpenRouter(messages),
		Stream:   true,
	}

	stream, err := h.client.CreateChatCompletionStream(ctx, request)
	if err != nil {
		return nil, wrapOpenRouterError(err)
	}
	return &openRouterStream{stream: stream}, nil
}

type openRouterStream struct {
	stream *openrouter.ChatCompletionStream
}

func (s *openRouterStream) Recv() (string, error) {
	for {
		response, err := s.stream.Recv()
		if errors.Is(err, io.EOF) {
			return "", io.EOF
		}
		if err != nil {
			return "", wrapOpenRouterError(err)
		}
		if len(response.Choices) == 0 {
			continue
		}
		if content := response.Choices[0].Delta.Content; content != "" {
			return content, nil
		}
	}
}

func (s *openRouterStream) Close() error {
	s.stream.Close()
	return nil
}

func convertToOpenRouter(messages []llm.Message) []openrouter.ChatCompletionMessage {
	out := make([]openrouter.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		out = append(out, openrouter.ChatCompletionMessage{
			Role:    convertRoleToOpenRouter(msg.Role),
			Content: openrouter.Content{Text: msg.Content},
		})
	}
	return out
}

func convertRoleToOpenRouter(role string) string {
	switch role {
	case "assistant":
		return openrouter.ChatMessageRoleAssistant
	case "system":
		return openrouter.ChatMessageRoleSystem
	default:
		return openrouter.ChatMessageRoleUser
	}
}

func wrapOpenRouterError(err error) *llm.Error {
	var apiErr *openrouter.APIError
	if errors.As(err, &apiErr) {
		return llm.WrapStatus(apiErr.HTTPStatusCode, apiErr.Message, err)
	}
	var reqErr *openrouter.RequestError
	if errors.As(err, &reqErr) {
		return llm.WrapStatus(reqErr.HTTPStatusCode, "request failed", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &llm.Error{Kind: llm.KindTimeout, Err: err}
	}
	return &llm.Error{Kind: llm.KindTransport, Err: err}
}
