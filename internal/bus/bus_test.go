package bus

import (
	"context"
	"testing"
	"time"

	"github.com/nanoclaw/nanoclaw/internal/message"
)

func TestPublishConsumeInboundFIFO(t *testing.T) {
	b := New(nil)
	for i := 0; i < 3; i++ {
		if err := b.PublishInbound(message.InboundMessage{ChatID: string(rune('a' + i))}); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		msg, err := b.ConsumeInbound(ctx, time.Second)
		if err != nil {
			t.Fatalf("consume: %v", err)
		}
		if want := string(rune('a' + i)); msg.ChatID != want {
			t.Fatalf("expected %q, got %q", want, msg.ChatID)
		}
	}
}

func TestConsumeInboundTimeout(t *testing.T) {
	b := New(nil)
	_, err := b.ConsumeInbound(context.Background(), 10*time.Millisecond)
	if err != ErrTimeout {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestOutboundPartitionedByChannel(t *testing.T) {
	b := New(nil)
	if err := b.PublishOutbound(message.OutboundMessage{Channel: "telegram", ChatID: "1"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := b.PublishOutbound(message.OutboundMessage{Channel: "slack", ChatID: "2"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	ctx := context.Background()
	msg, err := b.ConsumeOutbound(ctx, "telegram", time.Second)
	if err != nil {
		t.Fatalf("consume telegram: %v", err)
	}
	if msg.ChatID != "1" {
		t.Fatalf("expected chat 1 on telegram slice, got %q", msg.ChatID)
	}

	_, err = b.ConsumeOutbound(ctx, "telegram", 10*time.Millisecond)
	if err != ErrTimeout {
		t.Fatalf("expected telegram slice to be drained, got %v", err)
	}

	msg, err = b.ConsumeOutbound(ctx, "slack", time.Second)
	if err != nil {
		t.Fatalf("consume slack: %v", err)
	}
	if msg.ChatID != "2" {
		t.Fatalf("expected chat 2 on slack slice, got %q", msg.ChatID)
	}
}

func TestPublishOutboundDropsUnregisteredChannelOnceRegistryIsNonEmpty(t *testing.T) {
	b := New(nil)
	b.RegisterOutboundChannel("telegram")

	if err := b.PublishOutbound(message.OutboundMessage{Channel: "whatsapp", ChatID: "1"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	ctx := context.Background()
	if _, err := b.ConsumeOutbound(ctx, "whatsapp", 10*time.Millisecond); err != ErrTimeout {
		t.Fatalf("expected the unregistered channel's message to be dropped, got %v", err)
	}
}

func TestPublishOutboundAllowsEverythingBeforeAnyRegistration(t *testing.T) {
	b := New(nil)
	if err := b.PublishOutbound(message.OutboundMessage{Channel: "telegram", ChatID: "1"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	ctx := context.Background()
	if _, err := b.ConsumeOutbound(ctx, "telegram", time.Second); err != nil {
		t.Fatalf("expected the message to be queued when no registry is known yet: %v", err)
	}
}
