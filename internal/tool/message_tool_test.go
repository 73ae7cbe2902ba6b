package tool

import (
	"context"
	"fmt"
	"testing"
)

func TestMessageToolUsesDefaultContextWhenArgsOmitTarget(t *testing.T) {
	mt := NewMessageTool()
	mt.SetContext("telegram", "123")
	var gotChannel, gotChatID, gotContent string
	mt.SetSendCallback(func(channel, chatID, content string, metadata map[string]string) error {
		gotChannel, gotChatID, gotContent = channel, chatID, content
		return nil
	})

	result := mt.Execute(context.Background(), map[string]any{"content": "hi there"})
	if result.IsError {
		t.Fatalf("unexpected error result: %+v", result)
	}
	if gotChannel != "telegram" || gotChatID != "123" || gotContent != "hi there" {
		t.Fatalf("unexpected send args: channel=%q chatID=%q content=%q", gotChannel, gotChatID, gotContent)
	}
	if !mt.HasSentInRound() {
		t.Fatalf("expected HasSentInRound to be true after a successful send")
	}
}

func TestMessageToolExplicitTargetOverridesDefault(t *testing.T) {
	mt := NewMessageTool()
	mt.SetContext("telegram", "123")
	var gotChannel, gotChatID string
	mt.SetSendCallback(func(channel, chatID, content string, metadata map[string]string) error {
		gotChannel, gotChatID = channel, chatID
		return nil
	})

	mt.Execute(context.Background(), map[string]any{"content": "hi", "channel": "slack", "chat_id": "C9"})
	if gotChannel != "slack" || gotChatID != "C9" {
		t.Fatalf("expected explicit args to win, got channel=%q chatID=%q", gotChannel, gotChatID)
	}
}

func TestMessageToolMissingContentIsAnError(t *testing.T) {
	mt := NewMessageTool()
	result := mt.Execute(context.Background(), map[string]any{})
	if !result.IsError {
		t.Fatalf("expected missing content to be an error")
	}
}

func TestMessageToolNoTargetIsAnError(t *testing.T) {
	mt := NewMessageTool()
	mt.SetSendCallback(func(channel, chatID, content string, metadata map[string]string) error { return nil })
	result := mt.Execute(context.Background(), map[string]any{"content": "hi"})
	if !result.IsError {
		t.Fatalf("expected no configured target to be an error")
	}
}

func TestMessageToolSendFailureSurfacesAsError(t *testing.T) {
	mt := NewMessageTool()
	mt.SetContext("telegram", "123")
	mt.SetSendCallback(func(channel, chatID, content string, metadata map[string]string) error {
		return fmt.Errorf("connection reset")
	})
	result := mt.Execute(context.Background(), map[string]any{"content": "hi"})
	if !result.IsError || result.Err == nil {
		t.Fatalf("expected a send failure to surface as an error result, got %+v", result)
	}
}

func TestMessageToolThreadIDFallsBackToInboundMetadata(t *testing.T) {
	mt := NewMessageTool()
	mt.SetContext("telegram", "123")
	mt.SetMetadata(map[string]string{"thread_id": "topic-7"})
	var gotMetadata map[string]string
	mt.SetSendCallback(func(channel, chatID, content string, metadata map[string]string) error {
		gotMetadata = metadata
		return nil
	})

	mt.Execute(context.Background(), map[string]any{"content": "hi"})
	if gotMetadata["thread_id"] != "topic-7" {
		t.Fatalf("expected thread_id to be inherited from inbound metadata, got %v", gotMetadata)
	}
}
