package provider

import (
	"sync"
	"time"
)

// StreamNotifier coalesces many small content deltas into throttled
// onUpdate callbacks, so a channel adapter editing a single outbound
// message doesn't hammer the platform's edit-message API once per
// token.
type StreamNotifier struct {
	mu       sync.Mutex
	text     string
	onUpdate func(string)
	ticker   *time.Ticker
	done     chan struct{}
	dirty    bool
}

// NewStreamNotifier starts a background ticker that flushes
// accumulated text to onUpdate every interval, but only when new text
// has arrived since the last flush.
func NewStreamNotifier(interval time.Duration, onUpdate func(string)) *StreamNotifier {
	n := &StreamNotifier{
		onUpdate: onUpdate,
		ticker:   time.NewTicker(interval),
		done:     make(chan struct{}),
	}
	go n.loop()
	return n
}

func (n *StreamNotifier) loop() {
	for {
		select {
		case <-n.ticker.C:
			n.Flush()
		case <-n.done:
			return
		}
	}
}

// Append adds a delta to the accumulated text.
func (n *StreamNotifier) Append(delta string) {
	n.mu.Lock()
	n.text += delta
	n.dirty = true
	n.mu.Unlock()
}

// Flush delivers the accumulated text to onUpdate if it has changed
// since the last flush.
func (n *StreamNotifier) Flush() {
	n.mu.Lock()
	if !n.dirty {
		n.mu.Unlock()
		return
	}
	text := n.text
	n.dirty = false
	n.mu.Unlock()
	if n.onUpdate != nil {
		n.onUpdate(text)
	}
}

// FullText returns the current accumulated text.
func (n *StreamNotifier) FullText() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.text
}

// Stop ends the background ticker. Callers should Flush once more
// after Stop if they need the final state delivered.
func (n *StreamNotifier) Stop() {
	n.ticker.Stop()
	close(n.done)
}
