package tool

import (
	"context"
	"fmt"
	"testing"
)

func TestSpawnToolMissingTaskIsAnError(t *testing.T) {
	st := NewSpawnTool()
	result := st.Execute(context.Background(), map[string]any{})
	if !result.IsError {
		t.Fatalf("expected a missing task to be an error")
	}
}

func TestSpawnToolNoCallbackConfiguredIsAnError(t *testing.T) {
	st := NewSpawnTool()
	result := st.Execute(context.Background(), map[string]any{"task": "research competitors"})
	if !result.IsError {
		t.Fatalf("expected no configured spawn callback to be an error")
	}
}

func TestSpawnToolPassesDefaultContextToCallback(t *testing.T) {
	st := NewSpawnTool()
	st.SetContext("telegram", "123")
	var gotChannel, gotChatID, gotTask string
	st.SetSpawnCallback(func(ctx context.Context, task, channel, chatID string) (string, error) {
		gotTask, gotChannel, gotChatID = task, channel, chatID
		return "task-1", nil
	})

	result := st.Execute(context.Background(), map[string]any{"task": "summarize the thread"})
	if result.IsError {
		t.Fatalf("unexpected error: %+v", result)
	}
	if gotTask != "summarize the thread" || gotChannel != "telegram" || gotChatID != "123" {
		t.Fatalf("unexpected spawn args: task=%q channel=%q chatID=%q", gotTask, gotChannel, gotChatID)
	}
}

func TestSpawnToolSpawnFailureSurfacesAsError(t *testing.T) {
	st := NewSpawnTool()
	st.SetSpawnCallback(func(ctx context.Context, task, channel, chatID string) (string, error) {
		return "", fmt.Errorf("manager at capacity")
	})
	result := st.Execute(context.Background(), map[string]any{"task": "x"})
	if !result.IsError || result.Err == nil {
		t.Fatalf("expected a spawn failure to surface as an error result, got %+v", result)
	}
}
