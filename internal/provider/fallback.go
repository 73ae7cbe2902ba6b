package provider

import (
	"context"
	"log/slog"

	"github.com/nanoclaw/nanoclaw/internal/message"
)

// FallbackProvider tries a primary provider first; on failure it logs
// a warning and retries against a secondary provider. Neither the
// registry nor the agent loop needs to know there are two.
type FallbackProvider struct {
	primary       LLMProvider
	fallback      LLMProvider
	primaryModel  string
	fallbackModel string
	logger        *slog.Logger
}

// NewFallbackProvider wraps primary/fallback with the models to use
// for each.
func NewFallbackProvider(primary, fallback LLMProvider, primaryModel, fallbackModel string, logger *slog.Logger) *FallbackProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &FallbackProvider{
		primary:       primary,
		fallback:      fallback,
		primaryModel:  primaryModel,
		fallbackModel: fallbackModel,
		logger:        logger,
	}
}

func (f *FallbackProvider) GetDefaultModel() string {
	return f.primaryModel
}

func (f *FallbackProvider) Chat(ctx context.Context, messages []ChatMessage, tools []message.ToolDescriptor, model string, options ChatOptions) (*message.LMResponse, error) {
	if model == "" {
		model = f.primaryModel
	}
	resp, err := f.primary.Chat(ctx, messages, tools, model, options)
	if err == nil {
		return resp, nil
	}
	f.logger.Warn("provider: primary failed, falling back", "error", err)
	return f.fallback.Chat(ctx, messages, tools, f.fallbackModel, options)
}

// ChatStream prefers streaming on the primary when it implements
// StreamingProvider; otherwise it falls back to a plain Chat call
// (still through the fallback chain).
func (f *FallbackProvider) ChatStream(ctx context.Context, messages []ChatMessage, tools []message.ToolDescriptor, model string, options ChatOptions, onDelta func(StreamDelta)) (*message.LMResponse, error) {
	if model == "" {
		model = f.primaryModel
	}
	if sp, ok := f.primary.(StreamingProvider); ok {
		resp, err := sp.ChatStream(ctx, messages, tools, model, options, onDelta)
		if err == nil {
			return resp, nil
		}
		f.logger.Warn("provider: primary stream failed, falling back", "error", err)
	} else {
		resp, err := f.primary.Chat(ctx, messages, tools, model, options)
		if err == nil {
			return resp, nil
		}
		f.logger.Warn("provider: primary failed, falling back", "error", err)
	}
	if sp, ok := f.fallback.(StreamingProvider); ok {
		return sp.ChatStream(ctx, messages, tools, f.fallbackModel, options, onDelta)
	}
	return f.fallback.Chat(ctx, messages, tools, f.fallbackModel, options)
}

func (f *FallbackProvider) Primary() LLMProvider      { return f.primary }
func (f *FallbackProvider) Fallback() LLMProvider     { return f.fallback }
func (f *FallbackProvider) FallbackModel() string     { return f.fallbackModel }
