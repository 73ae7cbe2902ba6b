package slack

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/nanoclaw/nanoclaw/internal/channel"
	"github.com/nanoclaw/nanoclaw/internal/message"
)

func TestIsAllowedEmptyAllowlistAllowsAll(t *testing.T) {
	s := New(Config{}, nil)
	if !s.IsAllowed("C1234") {
		t.Fatal("expected empty allowlist to allow any channel")
	}
}

func TestIsAllowedRespectsAllowlist(t *testing.T) {
	s := New(Config{AllowedChannels: []string{"C1"}}, nil)
	if !s.IsAllowed("C1") {
		t.Fatal("expected C1 to be allowed")
	}
	if s.IsAllowed("C2") {
		t.Fatal("expected C2 to be rejected")
	}
}

func TestSendReturnsErrDisconnectedWhenNotConnected(t *testing.T) {
	s := New(Config{}, nil)
	err := s.Send(context.Background(), message.OutboundMessage{ChatID: "C1", Content: "hi"})
	if err != channel.ErrDisconnected {
		t.Fatalf("expected ErrDisconnected, got %v", err)
	}
}

func TestHandleEventIgnoresBotMessages(t *testing.T) {
	s := New(Config{}, nil)
	var got []message.InboundMessage
	s.publish = func(m message.InboundMessage) error {
		got = append(got, m)
		return nil
	}

	payload, _ := json.Marshal(map[string]any{
		"event": map[string]any{
			"type":    "message",
			"bot_id":  "B1",
			"user":    "U1",
			"channel": "C1",
			"text":    "hello",
			"ts":      "123.456",
		},
	})
	s.handleEvent(payload)

	if len(got) != 0 {
		t.Fatalf("expected bot messages to be dropped, got %d", len(got))
	}
}

func TestHandleEventIgnoresOwnMessages(t *testing.T) {
	s := New(Config{}, nil)
	s.botUserID = "UBOT"
	var got []message.InboundMessage
	s.publish = func(m message.InboundMessage) error {
		got = append(got, m)
		return nil
	}

	payload, _ := json.Marshal(map[string]any{
		"event": map[string]any{
			"type":    "message",
			"user":    "UBOT",
			"channel": "C1",
			"text":    "hello",
			"ts":      "123.456",
		},
	})
	s.handleEvent(payload)

	if len(got) != 0 {
		t.Fatalf("expected own messages to be dropped, got %d", len(got))
	}
}

func TestHandleEventFiltersDisallowedChannel(t *testing.T) {
	s := New(Config{AllowedChannels: []string{"C1"}}, nil)
	var got []message.InboundMessage
	s.publish = func(m message.InboundMessage) error {
		got = append(got, m)
		return nil
	}

	payload, _ := json.Marshal(map[string]any{
		"event": map[string]any{
			"type":    "message",
			"user":    "U1",
			"channel": "C2",
			"text":    "hello",
			"ts":      "123.456",
		},
	})
	s.handleEvent(payload)

	if len(got) != 0 {
		t.Fatalf("expected message on disallowed channel to be dropped, got %d", len(got))
	}
}

func TestHandleEventPublishesAllowedMessageWithThreadMetadata(t *testing.T) {
	s := New(Config{}, nil)
	var got []message.InboundMessage
	s.publish = func(m message.InboundMessage) error {
		got = append(got, m)
		return nil
	}

	payload, _ := json.Marshal(map[string]any{
		"event": map[string]any{
			"type":      "message",
			"user":      "U1",
			"channel":   "C1",
			"text":      "hello",
			"ts":        "123.456",
			"thread_ts": "100.000",
		},
	})
	s.handleEvent(payload)

	if len(got) != 1 {
		t.Fatalf("expected one published message, got %d", len(got))
	}
	msg := got[0]
	if msg.Channel != "slack" || msg.SenderID != "U1" || msg.ChatID != "C1" || msg.Content != "hello" {
		t.Fatalf("unexpected inbound message: %+v", msg)
	}
	if msg.Metadata["thread_id"] != "100.000" {
		t.Fatalf("expected thread_id metadata to carry the parent thread_ts, got %q", msg.Metadata["thread_id"])
	}
}

var _ channel.Channel = (*Slack)(nil)
