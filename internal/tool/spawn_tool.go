package tool

import (
	"context"
	"fmt"
)

// SpawnFunc submits a task to the sub-agent manager. Completion of the
// spawned task re-enters the bus as a synthetic system InboundMessage
// with the encoded origin (channel, chatID) — handled by the
// sub-agent manager itself, not by this tool.
type SpawnFunc func(ctx context.Context, task, channel, chatID string) (taskID string, err error)

// SpawnTool lets the LM delegate a task to a sub-agent.
type SpawnTool struct {
	spawn          SpawnFunc
	defaultChannel string
	defaultChatID  string
}

func NewSpawnTool() *SpawnTool {
	return &SpawnTool{}
}

func (t *SpawnTool) Name() string { return "spawn" }

func (t *SpawnTool) Description() string {
	return "Spawn a sub-agent to work on a task in the background. Its completion will be announced back to this conversation."
}

func (t *SpawnTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"task": map[string]any{"type": "string", "description": "Description of the task for the sub-agent"},
		},
		"required": []string{"task"},
	}
}

func (t *SpawnTool) SetContext(channel, chatID string) {
	t.defaultChannel = channel
	t.defaultChatID = chatID
}

func (t *SpawnTool) SetSpawnCallback(spawn SpawnFunc) {
	t.spawn = spawn
}

func (t *SpawnTool) Execute(ctx context.Context, args map[string]any) *Result {
	task, ok := args["task"].(string)
	if !ok || task == "" {
		return &Result{ForLLM: "Error: task is required", IsError: true}
	}
	if t.spawn == nil {
		return &Result{ForLLM: "Error: sub-agent spawning not configured", IsError: true}
	}
	taskID, err := t.spawn(ctx, task, t.defaultChannel, t.defaultChatID)
	if err != nil {
		return &Result{ForLLM: fmt.Sprintf("Error: spawning sub-agent: %v", err), IsError: true, Err: err}
	}
	return &Result{ForLLM: fmt.Sprintf("Sub-agent %s spawned; its result will be announced here when done.", taskID)}
}
