package providers

import (
	"context"
	"strings"

	"github.com/wesh92/fastapi-websockets-llm-example/internal/llm"
)

// Options carries provider credentials and attribution headers.
type Options struct {
	OpenRouterAPIKey string
	OpenAIAPIKey     string
	AnthropicAPIKey  string
	SiteURL          string
	SiteName         string
}

// NewHandler builds the multi-provider handler. Model identifiers with an
// openai/ or anthropic/ prefix route to the native SDKs; everything else
// goes to OpenRouter, which is the template's default provider.
func NewHandler(opts Options) llm.Handler {
	return &routingHandler{
		openrouter: NewOpenRouterHandler(opts.OpenRouterAPIKey, opts.SiteURL, opts.SiteName),
		openai:     NewOpenAIHandler(opts.OpenAIAPIKey),
		anthropic:  NewAnthropicHandler(opts.AnthropicAPIKey),
	}
}

type routingHandler struct {
	openrouter llm.Handler
	openai     llm.Handler
	anthropic  llm.Handler
}

func (r *routingHandler) StreamChat(ctx context.Context, messages []llm.Message, model string) (llm.Stream, error) {
	switch {
	case strings.HasPrefix(model, "openai/"):
		return r.openai.StreamChat(ctx, messages, strings.TrimPrefix(model, "openai/"))
	case strings.HasPrefix(model, "anthropic/"):
		return r.anthropic.StreamChat(ctx, messages, strings.TrimPrefix(model, "anthropic/"))
	case model == "":
		return nil, &llm.Error{Kind: llm.KindInvalidModel, Detail: "empty model identifier"}
	default:
		return r.openrouter.StreamChat(ctx, messages, model)
	}
}
