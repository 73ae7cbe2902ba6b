// Package provider abstracts the language-model backends the agent
// loop drives. Concrete HTTP client details live with each backend;
// this package specifies only the call signature the loop relies on.
package provider

import (
	"context"

	"github.com/nanoclaw/nanoclaw/internal/message"
)

// ChatMessage is one entry in the provider-shape message list the
// context builder assembles.
type ChatMessage struct {
	Role       string // "system", "user", "assistant", "tool"
	Content    string
	ToolCalls  []message.ToolCall
	ToolCallID string
	ToolName   string
}

// ChatOptions carries optional per-call tuning, looked up by key so
// providers can ignore options they don't support.
type ChatOptions map[string]any

// LLMProvider is the interface every language-model backend
// implements. Chat issues one request/response round-trip.
type LLMProvider interface {
	Chat(ctx context.Context, messages []ChatMessage, tools []message.ToolDescriptor, model string, options ChatOptions) (*message.LMResponse, error)
	GetDefaultModel() string
}

// StreamDelta is one incremental chunk of an in-progress streaming
// response.
type StreamDelta struct {
	ContentDelta string
	Done         bool
}

// StreamingProvider is implemented by providers that can stream
// partial content via a delta callback in addition to the plain
// request/response Chat call. Not every provider supports it;
// FallbackProvider.ChatStream type-asserts for it and uses Chat
// otherwise. The agent loop itself calls only Chat.
type StreamingProvider interface {
	LLMProvider
	ChatStream(ctx context.Context, messages []ChatMessage, tools []message.ToolDescriptor, model string, options ChatOptions, onDelta func(StreamDelta)) (*message.LMResponse, error)
}
