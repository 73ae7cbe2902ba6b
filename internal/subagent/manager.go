// Package subagent runs spawn tool tasks on their own goroutine and
// announces completion back to the originating conversation as a
// synthetic system inbound message, per the spawn tool's contract.
package subagent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/nanoclaw/nanoclaw/internal/bus"
	"github.com/nanoclaw/nanoclaw/internal/message"
)

// TaskRunner performs a sub-agent task end to end and returns its
// terminal text. The agent loop's own ephemeral-iteration method
// satisfies this.
type TaskRunner func(ctx context.Context, task string) (string, error)

// Manager tracks in-flight spawned tasks and announces each one's
// result on the bus when it finishes.
type Manager struct {
	run    TaskRunner
	bus    *bus.Bus
	logger *slog.Logger

	mu      sync.Mutex
	running map[string]context.CancelFunc
}

func New(run TaskRunner, b *bus.Bus, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		run:     run,
		bus:     b,
		logger:  logger.With("component", "subagent"),
		running: make(map[string]context.CancelFunc),
	}
}

// Spawn matches tool.SpawnFunc's signature, so it can be handed
// directly to SpawnTool.SetSpawnCallback. It returns immediately with
// a task ID; the task itself runs on its own goroutine.
func (m *Manager) Spawn(ctx context.Context, task, originChannel, originChatID string) (string, error) {
	if m.run == nil {
		return "", fmt.Errorf("subagent: no task runner configured")
	}
	if task == "" {
		return "", fmt.Errorf("subagent: task is required")
	}

	taskID := uuid.NewString()
	taskCtx, cancel := context.WithCancel(context.Background())

	m.mu.Lock()
	m.running[taskID] = cancel
	m.mu.Unlock()

	go m.execute(taskCtx, taskID, task, originChannel, originChatID)

	m.logger.Info("subagent: task spawned", "task_id", taskID, "origin_channel", originChannel, "origin_chat_id", originChatID)
	return taskID, nil
}

func (m *Manager) execute(ctx context.Context, taskID, task, originChannel, originChatID string) {
	defer func() {
		m.mu.Lock()
		delete(m.running, taskID)
		m.mu.Unlock()

		if r := recover(); r != nil {
			m.announce(taskID, originChannel, originChatID, fmt.Sprintf("Sub-agent task panicked: %v", r))
		}
	}()

	result, err := m.run(ctx, task)
	if err != nil {
		m.announce(taskID, originChannel, originChatID, fmt.Sprintf("Sub-agent task failed: %v", err))
		return
	}
	m.announce(taskID, originChannel, originChatID, result)
}

func (m *Manager) announce(taskID, originChannel, originChatID, content string) {
	inbound := message.InboundMessage{
		Channel:  "system",
		SenderID: fmt.Sprintf("subagent:%s", taskID),
		ChatID:   message.EncodeSystemChatID(originChannel, originChatID),
		Content:  content,
		Metadata: map[string]string{"internal": "true"},
	}
	if err := m.bus.PublishInbound(inbound); err != nil {
		m.logger.Error("subagent: failed to announce task completion", "task_id", taskID, "error", err)
	}
}

// Cancel stops a running task, if it's still in flight.
func (m *Manager) Cancel(taskID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	cancel, ok := m.running[taskID]
	if !ok {
		return false
	}
	cancel()
	delete(m.running, taskID)
	return true
}

// ActiveCount reports how many sub-agent tasks are currently running.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.running)
}
