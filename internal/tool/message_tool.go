package tool

import (
	"context"
	"fmt"
)

// SendFunc publishes an outbound message without waiting for LM
// generation. The agent loop wires this to bus.PublishOutbound.
type SendFunc func(channel, chatID, content string, metadata map[string]string) error

// MessageTool lets the LM send a message to a chat channel mid-turn,
// before the loop's own terminal reply is published.
type MessageTool struct {
	send            SendFunc
	defaultChannel  string
	defaultChatID   string
	sentInRound     bool
	inboundMetadata map[string]string
}

// NewMessageTool creates a MessageTool; SetSendCallback must be called
// before first use.
func NewMessageTool() *MessageTool {
	return &MessageTool{}
}

func (t *MessageTool) Name() string { return "message" }

func (t *MessageTool) Description() string {
	return "Send a message to the user on a chat channel. Use this when you want to communicate something before finishing your turn. For Telegram forum topics, include thread_id to target a specific topic."
}

func (t *MessageTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"content":   map[string]any{"type": "string", "description": "The message content to send"},
			"channel":   map[string]any{"type": "string", "description": "Optional: target channel (telegram, slack, teams, whatsapp, cli)"},
			"chat_id":   map[string]any{"type": "string", "description": "Optional: target chat/user ID"},
			"thread_id": map[string]any{"type": "string", "description": "Optional: forum/thread identifier for routing to a specific topic"},
		},
		"required": []string{"content"},
	}
}

// SetContext implements ContextAware.
func (t *MessageTool) SetContext(channel, chatID string) {
	t.defaultChannel = channel
	t.defaultChatID = chatID
	t.sentInRound = false
}

// SetMetadata implements MetadataAware.
func (t *MessageTool) SetMetadata(metadata map[string]string) {
	t.inboundMetadata = metadata
}

// SetSendCallback wires the bus publish function.
func (t *MessageTool) SetSendCallback(send SendFunc) {
	t.send = send
}

// HasSentInRound reports whether this tool already delivered a
// message during the current turn.
func (t *MessageTool) HasSentInRound() bool {
	return t.sentInRound
}

func (t *MessageTool) Execute(ctx context.Context, args map[string]any) *Result {
	content, ok := args["content"].(string)
	if !ok || content == "" {
		return &Result{ForLLM: "Error: content is required", IsError: true}
	}

	channel, _ := args["channel"].(string)
	chatID, _ := args["chat_id"].(string)
	if channel == "" {
		channel = t.defaultChannel
	}
	if chatID == "" {
		chatID = t.defaultChatID
	}
	if channel == "" || chatID == "" {
		return &Result{ForLLM: "Error: no target channel/chat specified", IsError: true}
	}
	if t.send == nil {
		return &Result{ForLLM: "Error: message sending not configured", IsError: true}
	}

	var metadata map[string]string
	if threadID, ok := args["thread_id"].(string); ok && threadID != "" {
		metadata = map[string]string{"thread_id": threadID}
	} else if t.inboundMetadata != nil {
		if threadID, ok := t.inboundMetadata["thread_id"]; ok && threadID != "" {
			metadata = map[string]string{"thread_id": threadID}
		}
	}

	if err := t.send(channel, chatID, content, metadata); err != nil {
		return &Result{ForLLM: fmt.Sprintf("Error: sending message: %v", err), IsError: true, Err: err}
	}

	t.sentInRound = true
	return &Result{ForLLM: fmt.Sprintf("Message sent to %s:%s", channel, chatID), Silent: true}
}
