package domain

import "context"

// LLMProvider is the interface for any LLM backend.
type LLMProvider interface {
	// Chat sends a request and returns a complete response.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	// Name returns the provider's identifier (e.g., "anthropic", "ollama").
	Name() string
}

// StreamingLLMProvider extends LLMProvider with normalized event streaming.
type StreamingLLMProvider interface {
	LLMProvider
	// ChatStream opens a streaming connection and returns a channel of
	// normalized events. The channel is closed when the stream ends or ctx
	// is cancelled. Events are emitted strictly in wire order.
	ChatStream(ctx context.Context, req ChatRequest) (<-chan StreamEvent, error)
}

// ReasoningCapable is implemented by providers that expose reasoning as a
// first-class stream channel. Providers without it get reasoning extracted
// from inline markup by the adapter layer.
type ReasoningCapable interface {
	SupportsReasoning(model string) bool
}
