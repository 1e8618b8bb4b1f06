package chat

// DefaultModels is the model catalog offered when configuration does not
// override it. The openrouter entries match the original template's list;
// the prefixed entries route to the native provider SDKs.
var DefaultModels = []string{
	"google/gemini-flash-1.5",
	"qwen/qwen2.5-vl-72b-instruct:free",
	"google/gemini-2.0-flash-001",
	"deepseek/deepseek-r1-distill-llama-70b",
	"mistralai/codestral-2501",
	"openai/gpt-4o",
	"openai/gpt-4o-mini",
	"anthropic/claude-3-5-sonnet-20241022",
	"anthropic/claude-3-5-haiku-20241022",
}

// ModelCatalog validates requested model identifiers.
type ModelCatalog struct {
	models map[string]struct{}
	list   []string
}

// NewModelCatalog builds a catalog from the given identifiers, falling back
// to DefaultModels when empty.
func NewModelCatalog(models []string) *ModelCatalog {
	if len(models) == 0 {
		models = DefaultModels
	}
	c := &ModelCatalog{
		models: make(map[string]struct{}, len(models)),
		list:   append([]string(nil), models...),
	}
	for _, m := range models {
		c.models[m] = struct{}{}
	}
	return c
}

// Known reports whether the model identifier is in the catalog.
func (c *ModelCatalog) Known(model string) bool {
	_, ok := c.models[model]
	return ok
}

// List returns the catalog in declaration order.
func (c *ModelCatalog) List() []string {
	return append([]string(nil), c.list...)
}
