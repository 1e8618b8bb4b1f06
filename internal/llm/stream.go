package llm

import "context"

// Message is one turn of conversation context sent upstream.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Stream is a finite sequence of text fragments produced by one completion
// call. It is not restartable. Recv returns io.EOF when the provider signals
// normal completion and a *Error for any failure. Close cancels the
// underlying call and releases its network resources; it is safe to call
// concurrently with Recv and more than once.
type Stream interface {
	Recv() (string, error)
	Close() error
}

// Handler issues streaming completion requests against an inference
// provider. Implementations must honor ctx cancellation: an abandoned stream
// releases its resources within a bounded time of ctx being cancelled or
// Close being called.
type Handler interface {
	StreamChat(ctx context.Context, messages []Message, model string) (Stream, error)
}
