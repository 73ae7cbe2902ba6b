package whatsapp

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/nanoclaw/nanoclaw/internal/channel"
	"github.com/nanoclaw/nanoclaw/internal/message"
)

func TestIsAllowedEmptyAllowlistAllowsAll(t *testing.T) {
	w := New(Config{}, nil)
	if !w.IsAllowed("1234@s.whatsapp.net") {
		t.Fatal("expected empty allowlist to allow any chat")
	}
}

func TestIsAllowedRespectsAllowlist(t *testing.T) {
	w := New(Config{AllowedChats: []string{"1234@s.whatsapp.net"}}, nil)
	if !w.IsAllowed("1234@s.whatsapp.net") {
		t.Fatal("expected allowed chat to pass")
	}
	if w.IsAllowed("5678@s.whatsapp.net") {
		t.Fatal("expected other chat to be rejected")
	}
}

func TestSendReturnsErrDisconnectedWhenBridgeIsDown(t *testing.T) {
	w := New(Config{}, nil)
	err := w.Send(context.Background(), message.OutboundMessage{ChatID: "1234@s.whatsapp.net", Content: "hi"})
	if err != channel.ErrDisconnected {
		t.Fatalf("expected ErrDisconnected, got %v", err)
	}
}

func TestHandleIncomingMessagePublishesAllowedSender(t *testing.T) {
	w := New(Config{}, nil)
	w.ctx = context.Background()
	var got []message.InboundMessage
	w.publish = func(m message.InboundMessage) error {
		got = append(got, m)
		return nil
	}

	w.handleIncomingMessage("1234@s.whatsapp.net", "hello there", "msg-1", 1700000000, false)

	if len(got) != 1 {
		t.Fatalf("expected one published message, got %d", len(got))
	}
	msg := got[0]
	if msg.SenderID != "1234" || msg.ChatID != "1234@s.whatsapp.net" || msg.Content != "hello there" {
		t.Fatalf("unexpected inbound message: %+v", msg)
	}
	if msg.Metadata["message_id"] != "msg-1" || msg.Metadata["is_group"] != "false" {
		t.Fatalf("unexpected metadata: %+v", msg.Metadata)
	}

	w.stopTyping("1234@s.whatsapp.net")
}

func TestHandleIncomingMessageDropsDisallowedSender(t *testing.T) {
	w := New(Config{AllowedChats: []string{"1234@s.whatsapp.net"}}, nil)
	w.ctx = context.Background()
	var got []message.InboundMessage
	w.publish = func(m message.InboundMessage) error {
		got = append(got, m)
		return nil
	}

	w.handleIncomingMessage("9999@s.whatsapp.net", "hello", "msg-2", 1700000000, false)

	if len(got) != 0 {
		t.Fatalf("expected disallowed sender to be dropped, got %d", len(got))
	}
}

func TestHandleIncomingMessageSubstitutesVoiceMessagePlaceholder(t *testing.T) {
	w := New(Config{}, nil)
	w.ctx = context.Background()
	var got []message.InboundMessage
	w.publish = func(m message.InboundMessage) error {
		got = append(got, m)
		return nil
	}

	w.handleIncomingMessage("1234@s.whatsapp.net", "[Voice Message]", "msg-3", 1700000000, false)

	if len(got) != 1 || got[0].Content == "[Voice Message]" {
		t.Fatalf("expected voice message placeholder to be rewritten, got %+v", got)
	}

	w.stopTyping("1234@s.whatsapp.net")
}

func TestHandleBridgeMessageWritesQRFile(t *testing.T) {
	dir := t.TempDir()
	qrPath := filepath.Join(dir, "qr.txt")
	w := New(Config{QRPath: qrPath}, nil)

	w.handleBridgeMessage([]byte(`{"type":"qr","qr":"1@abc,def=="}`))

	data, err := os.ReadFile(qrPath)
	if err != nil {
		t.Fatalf("expected QR file to be written: %v", err)
	}
	if string(data) != "1@abc,def==" {
		t.Fatalf("unexpected QR contents: %q", string(data))
	}
}

func TestHandleBridgeMessageRemovesQRFileOnConnect(t *testing.T) {
	dir := t.TempDir()
	qrPath := filepath.Join(dir, "qr.txt")
	if err := os.WriteFile(qrPath, []byte("stale"), 0o600); err != nil {
		t.Fatal(err)
	}
	w := New(Config{QRPath: qrPath}, nil)

	w.handleBridgeMessage([]byte(`{"type":"status","status":"connected"}`))

	if _, err := os.Stat(qrPath); !os.IsNotExist(err) {
		t.Fatal("expected QR file to be removed once connected")
	}
}

var _ channel.Channel = (*WhatsApp)(nil)
