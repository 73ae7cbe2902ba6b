// Package bus implements the message bus described in the runtime's
// component design: bounded, in-memory, bidirectional queues that are
// the only synchronization primitive between channel adapters and the
// agent loop.
package bus

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/nanoclaw/nanoclaw/internal/message"
)

// ErrBackpressure is returned by PublishInbound when the inbound queue
// is full and the publish deadline elapses before room frees up.
var ErrBackpressure = errors.New("bus: backpressure, inbound queue full")

// ErrTimeout is returned by Consume* calls when no message arrives
// within the requested timeout.
var ErrTimeout = errors.New("bus: consume timeout")

const (
	defaultInboundCapacity  = 256
	defaultOutboundCapacity = 256
	publishDeadline         = 2 * time.Second
)

// Bus is the bidirectional queue pair connecting channel adapters to
// the agent loop. Ordering is FIFO within a single producer; no
// cross-producer ordering is guaranteed.
type Bus struct {
	logger *slog.Logger

	inbound chan message.InboundMessage

	mu       sync.Mutex
	outbound map[string]chan message.OutboundMessage
	outCap   int
	known    map[string]bool // registered adapter names; nil/empty means "no registry yet, allow all"
}

// New creates a Bus with the given logger. A nil logger falls back to
// slog.Default().
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		logger:   logger,
		inbound:  make(chan message.InboundMessage, defaultInboundCapacity),
		outbound: make(map[string]chan message.OutboundMessage),
		outCap:   defaultOutboundCapacity,
	}
}

// PublishInbound enqueues msg for the single consumer (the agent
// loop). It blocks briefly under backpressure rather than dropping
// silently, then fails with ErrBackpressure.
func (b *Bus) PublishInbound(msg message.InboundMessage) error {
	select {
	case b.inbound <- msg:
		return nil
	default:
	}

	timer := time.NewTimer(publishDeadline)
	defer timer.Stop()
	select {
	case b.inbound <- msg:
		return nil
	case <-timer.C:
		b.logger.Warn("bus: inbound backpressure dropping message",
			"channel", msg.Channel, "chat_id", msg.ChatID)
		return ErrBackpressure
	}
}

// ConsumeInbound blocks for up to timeout waiting for the next inbound
// message. Intended for a single consumer (the agent loop).
func (b *Bus) ConsumeInbound(ctx context.Context, timeout time.Duration) (message.InboundMessage, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case msg := <-b.inbound:
		return msg, nil
	case <-timer.C:
		return message.InboundMessage{}, ErrTimeout
	case <-ctx.Done():
		return message.InboundMessage{}, ctx.Err()
	}
}

// RegisterOutboundChannel marks name as an adapter-backed outbound
// destination. Once at least one name is registered, PublishOutbound
// drops messages addressed to any other name instead of queuing them
// to a slice nobody will ever drain, per the runtime's requirement
// that a message addressed to an unregistered channel be dropped with
// a warning rather than silently retained forever.
func (b *Bus) RegisterOutboundChannel(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.known == nil {
		b.known = make(map[string]bool)
	}
	b.known[name] = true
}

// PublishOutbound enqueues msg onto the per-channel outbound slice
// named by msg.Channel, creating that slice lazily.
func (b *Bus) PublishOutbound(msg message.OutboundMessage) error {
	if !b.isKnownOutbound(msg.Channel) {
		b.logger.Warn("bus: dropping outbound message addressed to an unregistered channel",
			"channel", msg.Channel, "chat_id", msg.ChatID)
		return nil
	}

	ch := b.outboundChannel(msg.Channel)
	select {
	case ch <- msg:
		return nil
	default:
	}
	timer := time.NewTimer(publishDeadline)
	defer timer.Stop()
	select {
	case ch <- msg:
		return nil
	case <-timer.C:
		b.logger.Warn("bus: outbound backpressure dropping message", "channel", msg.Channel)
		return ErrBackpressure
	}
}

// ConsumeOutbound blocks for up to timeout waiting for the next
// outbound message addressed to channelName. Each adapter must only
// call this with its own name.
func (b *Bus) ConsumeOutbound(ctx context.Context, channelName string, timeout time.Duration) (message.OutboundMessage, error) {
	ch := b.outboundChannel(channelName)
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case msg := <-ch:
		return msg, nil
	case <-timer.C:
		return message.OutboundMessage{}, ErrTimeout
	case <-ctx.Done():
		return message.OutboundMessage{}, ctx.Err()
	}
}

func (b *Bus) isKnownOutbound(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.known) == 0 {
		return true
	}
	return b.known[name]
}

func (b *Bus) outboundChannel(name string) chan message.OutboundMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.outbound[name]
	if !ok {
		ch = make(chan message.OutboundMessage, b.outCap)
		b.outbound[name] = ch
	}
	return ch
}
