package tool

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/nanoclaw/nanoclaw/internal/message"
)

// Registry is the immutable-after-startup, name-keyed catalog of
// tools available to the agent loop.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds t to the catalog. Names must be unique; registering a
// duplicate name panics, since this only happens at startup wiring.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name()]; exists {
		panic(fmt.Sprintf("tool registry: duplicate tool name %q", t.Name()))
	}
	r.tools[t.Name()] = t
}

// Definitions returns the tool catalog as ToolDescriptors, forwarded
// to the LM provider verbatim.
func (r *Registry) Definitions() []message.ToolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]message.ToolDescriptor, 0, len(r.tools))
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		t := r.tools[name]
		out = append(out, message.ToolDescriptor{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return out
}

// Execute dispatches a tool call by name. An unknown tool name is
// surfaced as an "Error:"-prefixed result rather than an exception, so
// it participates in the loop's sequential-failure accounting like
// any other tool failure.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (result *Result) {
	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return &Result{ForLLM: fmt.Sprintf("Error: unknown tool %q", name), IsError: true}
	}

	defer func() {
		if rec := recover(); rec != nil {
			result = &Result{ForLLM: fmt.Sprintf("Error: tool execution crashed: %v", rec), IsError: true}
		}
	}()
	return t.Execute(ctx, args)
}

// UpdateContexts calls SetContext on every context-aware tool in the
// catalog, used by the agent loop just before each turn.
func (r *Registry) UpdateContexts(channel, chatID string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.tools {
		if ca, ok := t.(ContextAware); ok {
			ca.SetContext(channel, chatID)
		}
	}
}

// UpdateMetadata calls SetMetadata on every metadata-aware tool.
func (r *Registry) UpdateMetadata(metadata map[string]string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.tools {
		if ma, ok := t.(MetadataAware); ok {
			ma.SetMetadata(metadata)
		}
	}
}
