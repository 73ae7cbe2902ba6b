// Package tool implements the Tool Registry and the built-in tools
// the agent loop can invoke: filesystem access, shell execution, web
// search/fetch, messaging, sub-agent spawning, and cron scheduling.
package tool

import (
	"context"
	"strings"
)

// Result is what a tool's Execute returns. ForLLM is the string fed
// back into the LM as the tool result; IsError and the "Error:"
// prefix convention on ForLLM are equivalent (kept both for callers
// that want a typed check without string-matching). Silent marks a
// result whose tool already delivered the user-visible effect itself
// (e.g. message); nothing in the agent loop reads it.
type Result struct {
	ForLLM  string
	IsError bool
	Err     error
	Silent  bool
}

// IsFailure classifies a raw tool-result string using the loop's
// "Error:" prefix convention.
func IsFailure(forLLM string) bool {
	return strings.HasPrefix(forLLM, "Error:")
}

// Tool is implemented by every named tool in the registry.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any
	Execute(ctx context.Context, args map[string]any) *Result
}

// ContextAware is implemented by tools whose behavior depends on the
// (channel, chat_id) of the turn currently being processed — message,
// spawn, cron. The loop calls SetContext just before each turn; it is
// not safe under concurrent turns, which the loop's
// single-turn-at-a-time guarantee makes acceptable.
type ContextAware interface {
	Tool
	SetContext(channel, chatID string)
}

// MetadataAware is implemented by tools that want the inbound
// message's metadata (e.g. message, to inherit thread_id).
type MetadataAware interface {
	Tool
	SetMetadata(metadata map[string]string)
}
