package tool

import (
	"context"
	"fmt"

	"github.com/nanoclaw/nanoclaw/internal/message"
)

// CronAdder/Lister/Remover match the scheduler's contract, kept as
// narrow function types so this tool doesn't import the scheduler
// package directly.
type CronAdder func(name string, schedule message.Schedule, msg string, deliver bool, channel, chatID string, deleteAfterRun bool) (*message.CronJob, error)
type CronLister func(includeDisabled bool) []*message.CronJob
type CronRemover func(id string) bool

// CronTool lets the LM manage reminders/scheduled tasks.
type CronTool struct {
	add            CronAdder
	list           CronLister
	remove         CronRemover
	defaultChannel string
	defaultChatID  string
}

func NewCronTool() *CronTool {
	return &CronTool{}
}

func (t *CronTool) Name() string { return "cron" }

func (t *CronTool) Description() string {
	return "Schedule, list, or remove reminders and recurring tasks that re-enter this conversation when they fire."
}

func (t *CronTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"action":   map[string]any{"type": "string", "description": "add, list, or remove"},
			"name":     map[string]any{"type": "string"},
			"message":  map[string]any{"type": "string", "description": "Content delivered when the job fires"},
			"at_ms":    map[string]any{"type": "integer", "description": "Unix ms for a one-shot job"},
			"every_ms": map[string]any{"type": "integer", "description": "Interval in ms for a recurring job"},
			"expr":     map[string]any{"type": "string", "description": "Cron expression for a cron-scheduled job"},
			"id":       map[string]any{"type": "string", "description": "Job id, required for remove"},
		},
		"required": []string{"action"},
	}
}

func (t *CronTool) SetContext(channel, chatID string) {
	t.defaultChannel = channel
	t.defaultChatID = chatID
}

func (t *CronTool) SetCallbacks(add CronAdder, list CronLister, remove CronRemover) {
	t.add = add
	t.list = list
	t.remove = remove
}

func (t *CronTool) Execute(ctx context.Context, args map[string]any) *Result {
	action, _ := args["action"].(string)
	switch action {
	case "add":
		return t.executeAdd(args)
	case "list":
		return t.executeList(args)
	case "remove":
		return t.executeRemove(args)
	default:
		return &Result{ForLLM: "Error: action must be one of add, list, remove", IsError: true}
	}
}

func (t *CronTool) executeAdd(args map[string]any) *Result {
	if t.add == nil {
		return &Result{ForLLM: "Error: scheduler not configured", IsError: true}
	}
	name, _ := args["name"].(string)
	msg, _ := args["message"].(string)
	if msg == "" {
		return &Result{ForLLM: "Error: message is required", IsError: true}
	}

	var sched message.Schedule
	deleteAfterRun := false
	switch {
	case args["at_ms"] != nil:
		sched = message.Schedule{Kind: message.ScheduleAt, AtMS: toInt64(args["at_ms"])}
		deleteAfterRun = true
	case args["every_ms"] != nil:
		sched = message.Schedule{Kind: message.ScheduleEvery, EveryMS: toInt64(args["every_ms"])}
	case args["expr"] != nil:
		expr, _ := args["expr"].(string)
		sched = message.Schedule{Kind: message.ScheduleCron, Expr: expr}
	default:
		return &Result{ForLLM: "Error: one of at_ms, every_ms, expr is required", IsError: true}
	}

	job, err := t.add(name, sched, msg, true, t.defaultChannel, t.defaultChatID, deleteAfterRun)
	if err != nil {
		return &Result{ForLLM: fmt.Sprintf("Error: %v", err), IsError: true, Err: err}
	}
	return &Result{ForLLM: fmt.Sprintf("Scheduled job %s (%s)", job.ID, job.Name)}
}

func (t *CronTool) executeList(args map[string]any) *Result {
	if t.list == nil {
		return &Result{ForLLM: "Error: scheduler not configured", IsError: true}
	}
	includeDisabled, _ := args["include_disabled"].(bool)
	jobs := t.list(includeDisabled)
	if len(jobs) == 0 {
		return &Result{ForLLM: "No scheduled jobs."}
	}
	out := "Scheduled jobs:\n"
	for _, j := range jobs {
		out += fmt.Sprintf("- %s: %s (%s)\n", j.ID, j.Name, j.Schedule.Kind)
	}
	return &Result{ForLLM: out}
}

func (t *CronTool) executeRemove(args map[string]any) *Result {
	if t.remove == nil {
		return &Result{ForLLM: "Error: scheduler not configured", IsError: true}
	}
	id, _ := args["id"].(string)
	if id == "" {
		return &Result{ForLLM: "Error: id is required", IsError: true}
	}
	if !t.remove(id) {
		return &Result{ForLLM: fmt.Sprintf("Error: no such job %q", id), IsError: true}
	}
	return &Result{ForLLM: fmt.Sprintf("Removed job %s", id)}
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}
