package tool

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"
)

// ExecConfig gates whether ExecTool is registered at all and bounds
// each invocation.
type ExecConfig struct {
	Enabled bool
	Shell   string // defaults to "/bin/sh" when empty
	Timeout time.Duration
}

// ExecTool runs a shell command and returns its combined output.
type ExecTool struct {
	Config     ExecConfig
	WorkingDir string
}

func (t *ExecTool) Name() string        { return "exec" }
func (t *ExecTool) Description() string { return "Run a shell command and return its combined stdout/stderr." }
func (t *ExecTool) Parameters() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{"command": map[string]any{"type": "string"}},
		"required":   []string{"command"},
	}
}

func (t *ExecTool) Execute(ctx context.Context, args map[string]any) *Result {
	command, _ := args["command"].(string)
	if command == "" {
		return &Result{ForLLM: "Error: command is required", IsError: true}
	}

	shell := t.Config.Shell
	if shell == "" {
		shell = "/bin/sh"
	}
	timeout := t.Config.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, shell, "-c", command)
	cmd.Dir = t.WorkingDir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Run(); err != nil {
		return &Result{ForLLM: fmt.Sprintf("Error: command failed: %v\n%s", err, out.String()), IsError: true, Err: err}
	}
	return &Result{ForLLM: out.String()}
}
