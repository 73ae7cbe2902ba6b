package subagent

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/nanoclaw/nanoclaw/internal/bus"
	"github.com/nanoclaw/nanoclaw/internal/message"
)

func TestSpawnAnnouncesResultOnCompletion(t *testing.T) {
	b := bus.New(nil)
	m := New(func(ctx context.Context, task string) (string, error) {
		return "done: " + task, nil
	}, b, nil)

	taskID, err := m.Spawn(context.Background(), "summarize the thread", "telegram", "42")
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if taskID == "" {
		t.Fatalf("expected non-empty task id")
	}

	inbound, err := b.ConsumeInbound(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("consume announcement: %v", err)
	}
	if inbound.Channel != "system" {
		t.Fatalf("expected system channel, got %q", inbound.Channel)
	}
	if want := message.EncodeSystemChatID("telegram", "42"); inbound.ChatID != want {
		t.Fatalf("expected chat id %q, got %q", want, inbound.ChatID)
	}
	if inbound.Content != "done: summarize the thread" {
		t.Fatalf("unexpected content: %q", inbound.Content)
	}
	if !inbound.Internal() {
		t.Fatalf("expected announcement to be marked internal")
	}
}

func TestSpawnAnnouncesFailure(t *testing.T) {
	b := bus.New(nil)
	m := New(func(ctx context.Context, task string) (string, error) {
		return "", fmt.Errorf("boom")
	}, b, nil)

	if _, err := m.Spawn(context.Background(), "do something", "cli", "terminal"); err != nil {
		t.Fatalf("spawn: %v", err)
	}

	inbound, err := b.ConsumeInbound(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("consume announcement: %v", err)
	}
	if inbound.Content == "" {
		t.Fatalf("expected failure content")
	}
}

func TestSpawnRequiresTaskRunner(t *testing.T) {
	m := New(nil, bus.New(nil), nil)
	if _, err := m.Spawn(context.Background(), "x", "cli", "terminal"); err == nil {
		t.Fatalf("expected error when no task runner is configured")
	}
}

func TestSpawnRequiresNonEmptyTask(t *testing.T) {
	m := New(func(ctx context.Context, task string) (string, error) { return "", nil }, bus.New(nil), nil)
	if _, err := m.Spawn(context.Background(), "", "cli", "terminal"); err == nil {
		t.Fatalf("expected error for empty task")
	}
}

func TestActiveCountTracksInFlightTasks(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	m := New(func(ctx context.Context, task string) (string, error) {
		close(started)
		<-release
		return "ok", nil
	}, bus.New(nil), nil)

	if _, err := m.Spawn(context.Background(), "slow task", "cli", "terminal"); err != nil {
		t.Fatalf("spawn: %v", err)
	}
	<-started

	if m.ActiveCount() != 1 {
		t.Fatalf("expected 1 active task, got %d", m.ActiveCount())
	}
	close(release)

	deadline := time.After(time.Second)
	for m.ActiveCount() != 0 {
		select {
		case <-deadline:
			t.Fatalf("expected active count to drop to 0 after completion")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
