// Package channel implements the adapters connecting external chat
// platforms (Telegram, Slack, Teams, WhatsApp, a local CLI) to the
// message bus. Each adapter normalizes inbound platform events into
// message.InboundMessage, renders and sends message.OutboundMessage in
// the platform's own format, and enforces its own allowlist.
package channel

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/nanoclaw/nanoclaw/internal/bus"
	"github.com/nanoclaw/nanoclaw/internal/message"
)

// ErrDisconnected is returned by Send when the adapter's own
// connection to its platform is currently down.
var ErrDisconnected = errors.New("channel: disconnected")

// Channel is the minimal surface every adapter implements: one
// interface rather than a split Channel/MediaChannel/
// PresenceChannel/ReactionChannel hierarchy, since none of these
// adapters need typing indicators or reactions as a first-class
// concern, and media is just another field on
// OutboundMessage/InboundMessage rather than a separate send path.
type Channel interface {
	// Name returns the bus channel name this adapter registers under
	// ("telegram", "slack", "teams", "whatsapp", "cli").
	Name() string

	// Start connects to the platform and begins forwarding inbound
	// events to publish. It returns once the initial connection
	// succeeds; ongoing reconnects happen in the background until ctx
	// is canceled.
	Start(ctx context.Context, publish func(message.InboundMessage) error) error

	// Stop disconnects and releases any background goroutines.
	Stop() error

	// Send delivers an outbound message in the platform's own format.
	Send(ctx context.Context, msg message.OutboundMessage) error

	// IsAllowed reports whether chatID is permitted to interact with
	// this adapter, per its configured allowlist.
	IsAllowed(chatID string) bool
}

// Manager owns the registered adapters and pumps each adapter's
// outbound bus partition to its Send method.
type Manager struct {
	bus      *bus.Bus
	logger   *slog.Logger
	channels map[string]Channel
}

func NewManager(b *bus.Bus, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{bus: b, logger: logger, channels: make(map[string]Channel)}
}

// Register adds ch to the managed set. Call before Start.
func (m *Manager) Register(ch Channel) {
	m.channels[ch.Name()] = ch
	m.bus.RegisterOutboundChannel(ch.Name())
}

// Start connects every registered adapter and launches one
// outbound-pump goroutine per adapter that connected. An adapter that
// fails to connect does not stop the others from starting; the first
// connect error encountered is returned.
func (m *Manager) Start(ctx context.Context) error {
	var firstErr error
	for name, ch := range m.channels {
		if err := ch.Start(ctx, m.bus.PublishInbound); err != nil {
			m.logger.Error("channel failed to start", "channel", name, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		go m.pumpOutbound(ctx, ch)
	}
	return firstErr
}

func (m *Manager) pumpOutbound(ctx context.Context, ch Channel) {
	name := ch.Name()
	for {
		msg, err := m.bus.ConsumeOutbound(ctx, name, time.Second)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue // timeout, just loop
		}
		if !ch.IsAllowed(msg.ChatID) {
			m.logger.Warn("channel: dropping outbound to disallowed chat", "channel", name, "chat_id", msg.ChatID)
			continue
		}
		if err := ch.Send(ctx, msg); err != nil {
			m.logger.Error("channel: send failed", "channel", name, "error", err)
		}
	}
}

// Stop disconnects every registered adapter.
func (m *Manager) Stop() {
	for name, ch := range m.channels {
		if err := ch.Stop(); err != nil {
			m.logger.Warn("channel: stop failed", "channel", name, "error", err)
		}
	}
}

// allowlistOK is the shared helper backing every adapter's IsAllowed:
// an empty allowlist means "allow everything".
func allowlistOK(allowlist []string, chatID string) bool {
	if len(allowlist) == 0 {
		return true
	}
	for _, id := range allowlist {
		if id == chatID {
			return true
		}
	}
	return false
}
