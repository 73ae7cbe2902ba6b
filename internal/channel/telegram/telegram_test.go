package telegram

import (
	"context"
	"testing"

	"github.com/nanoclaw/nanoclaw/internal/channel"
	"github.com/nanoclaw/nanoclaw/internal/message"
)

func TestIsAllowedEmptyAllowlistAllowsAll(t *testing.T) {
	tg := New(Config{Token: "x"}, nil)
	if !tg.IsAllowed("123") {
		t.Fatal("expected empty allowlist to allow any chat")
	}
}

func TestIsAllowedRespectsAllowlist(t *testing.T) {
	tg := New(Config{Token: "x", AllowedChats: []string{"123"}}, nil)
	if !tg.IsAllowed("123") {
		t.Fatal("expected 123 to be allowed")
	}
	if tg.IsAllowed("456") {
		t.Fatal("expected 456 to be rejected")
	}
}

func TestSendReturnsErrDisconnectedWhenNotConnected(t *testing.T) {
	tg := New(Config{Token: "x"}, nil)
	err := tg.Send(context.Background(), message.OutboundMessage{ChatID: "123", Content: "hi"})
	if err != channel.ErrDisconnected {
		t.Fatalf("expected ErrDisconnected, got %v", err)
	}
}

func TestSendRejectsNonNumericChatID(t *testing.T) {
	tg := New(Config{Token: "x"}, nil)
	tg.connected.Store(true)
	err := tg.Send(context.Background(), message.OutboundMessage{ChatID: "not-a-number", Content: "hi"})
	if err == nil {
		t.Fatal("expected an error for a non-numeric chat id")
	}
}

func TestProcessUpdatePublishesTextMessage(t *testing.T) {
	tg := New(Config{Token: "x"}, nil)
	var got []message.InboundMessage
	tg.publish = func(m message.InboundMessage) error {
		got = append(got, m)
		return nil
	}

	tg.processUpdate(tgUpdate{
		UpdateID: 1,
		Message: &tgMessage{
			From: &tgUser{ID: 42},
			Chat: tgChat{ID: 100},
			Text: "hello there",
		},
	})

	if len(got) != 1 {
		t.Fatalf("expected one published message, got %d", len(got))
	}
	msg := got[0]
	if msg.SenderID != "42" || msg.ChatID != "100" || msg.Content != "hello there" {
		t.Fatalf("unexpected inbound message: %+v", msg)
	}
}

func TestProcessUpdateDropsDisallowedChat(t *testing.T) {
	tg := New(Config{Token: "x", AllowedChats: []string{"100"}}, nil)
	var got []message.InboundMessage
	tg.publish = func(m message.InboundMessage) error {
		got = append(got, m)
		return nil
	}

	tg.processUpdate(tgUpdate{
		Message: &tgMessage{Chat: tgChat{ID: 999}, Text: "hello"},
	})

	if len(got) != 0 {
		t.Fatalf("expected disallowed chat to be dropped, got %d", len(got))
	}
}

func TestProcessUpdateDefaultsEmptyContent(t *testing.T) {
	tg := New(Config{Token: "x"}, nil)
	var got []message.InboundMessage
	tg.publish = func(m message.InboundMessage) error {
		got = append(got, m)
		return nil
	}

	tg.processUpdate(tgUpdate{
		Message: &tgMessage{Chat: tgChat{ID: 100}},
	})

	if len(got) != 1 || got[0].Content != "[empty message]" {
		t.Fatalf("expected the empty-message placeholder, got %+v", got)
	}
}

func TestProcessUpdateIgnoresNonMessageUpdates(t *testing.T) {
	tg := New(Config{Token: "x"}, nil)
	var called bool
	tg.publish = func(m message.InboundMessage) error {
		called = true
		return nil
	}

	tg.processUpdate(tgUpdate{UpdateID: 1})

	if called {
		t.Fatal("expected an update with no message to be a no-op")
	}
}

var _ channel.Channel = (*Telegram)(nil)
