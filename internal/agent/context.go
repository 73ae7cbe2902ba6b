// Package agent implements the Context Builder and Agent Loop: the
// components that assemble prompts and drive the LM+tool iteration.
package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/nanoclaw/nanoclaw/internal/message"
	"github.com/nanoclaw/nanoclaw/internal/provider"
	"github.com/nanoclaw/nanoclaw/internal/tool"
)

// bootstrapFiles are optional workspace files folded into the system
// prompt when present, in this order.
var bootstrapFiles = []string{"AGENTS.md", "SOUL.md", "USER.md", "IDENTITY.md"}

// ContextBuilder assembles a prompt in provider-message shape:
// system prompt + bounded history + current turn.
type ContextBuilder struct {
	workspace string
	identity  string
	registry  *tool.Registry
}

// NewContextBuilder creates a builder rooted at workspace, with
// identity as the base persona line prepended to the system prompt.
func NewContextBuilder(workspace, identity string, registry *tool.Registry) *ContextBuilder {
	return &ContextBuilder{workspace: workspace, identity: identity, registry: registry}
}

// LoadBootstrapFiles concatenates any of bootstrapFiles present at the
// workspace root, in fixed order, each preceded by a level-2 heading
// naming the file.
func (b *ContextBuilder) LoadBootstrapFiles() string {
	var sb strings.Builder
	for _, name := range bootstrapFiles {
		data, err := os.ReadFile(filepath.Join(b.workspace, name))
		if err != nil {
			continue
		}
		fmt.Fprintf(&sb, "## %s\n\n%s\n\n", name, strings.TrimSpace(string(data)))
	}
	return sb.String()
}

func (b *ContextBuilder) buildToolsSection() string {
	defs := b.registry.Definitions()
	if len(defs) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("Available tools:\n")
	for _, d := range defs {
		fmt.Fprintf(&sb, "- %s: %s\n", d.Name, d.Description)
	}
	return sb.String()
}

// BuildSystemPrompt assembles the identity line, bootstrap files, and
// tool catalog summary into the single system message.
func (b *ContextBuilder) BuildSystemPrompt() string {
	var sb strings.Builder
	if b.identity != "" {
		sb.WriteString(b.identity)
		sb.WriteString("\n\n")
	}
	if bootstrap := b.LoadBootstrapFiles(); bootstrap != "" {
		sb.WriteString(bootstrap)
	}
	if tools := b.buildToolsSection(); tools != "" {
		sb.WriteString(tools)
	}
	return strings.TrimSpace(sb.String())
}

// BuildMessages assembles the full provider-message list for one
// turn: system + summary (if any) + history + current user turn
// (with media references appended).
func (b *ContextBuilder) BuildMessages(history []message.Turn, summary, currentMessage string, media []string) []provider.ChatMessage {
	msgs := []provider.ChatMessage{{Role: "system", Content: b.BuildSystemPrompt()}}

	if summary != "" {
		msgs = append(msgs, provider.ChatMessage{
			Role:    "system",
			Content: "Summary of earlier conversation:\n" + summary,
		})
	}

	// A history tail can begin mid-tool-call-sequence if the stored
	// turns were truncated right after an assistant message that
	// issued tool calls with no matching results retained. Strip any
	// leading assistant/tool turns that would leave the first message
	// of this batch orphaned, since the provider expects the first
	// message in a tool-call exchange to be a complete user turn.
	start := 0
	for start < len(history) && history[start].Role != "user" {
		start++
	}
	for _, turn := range history[start:] {
		msgs = append(msgs, provider.ChatMessage{Role: turn.Role, Content: turn.Content})
	}

	content := currentMessage
	if len(media) > 0 {
		var sb strings.Builder
		sb.WriteString(content)
		for _, m := range media {
			fmt.Fprintf(&sb, "\n[attachment: %s]", m)
		}
		content = sb.String()
	}
	msgs = append(msgs, provider.ChatMessage{Role: "user", Content: content})
	return msgs
}

// AddAssistantMessage appends the assistant's turn, including any
// tool calls it issued, to msgs.
func AddAssistantMessage(msgs []provider.ChatMessage, content string, toolCalls []message.ToolCall) []provider.ChatMessage {
	return append(msgs, provider.ChatMessage{Role: "assistant", Content: content, ToolCalls: toolCalls})
}

// AddToolResult appends a tool's result keyed by the call's id and
// name. The resulting sequence of tool messages matches the ordered
// sequence of tool calls as long as callers append in call order.
func AddToolResult(msgs []provider.ChatMessage, toolCallID, toolName, result string) []provider.ChatMessage {
	return append(msgs, provider.ChatMessage{Role: "tool", Content: result, ToolCallID: toolCallID, ToolName: toolName})
}
