package llm

import "context"

// Message is a single role/content pair sent to a completion backend.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Provider produces a full completion in one call. Used for auxiliary
// generations (titles, history summaries).
type Provider interface {
	Chat(ctx context.Context, messages []Message) (string, error)
}

// StreamProvider is an optional interface for token streaming. A clean
// provider close terminates the chunk channel without an error; mid-stream
// failures are delivered on the error channel so callers can distinguish
// truncation from completion.
type StreamProvider interface {
	StreamChat(ctx context.Context, messages []Message) (<-chan string, <-chan error)
}
