package tool

import (
	"context"
	"testing"

	"github.com/nanoclaw/nanoclaw/internal/message"
)

func TestCronToolAddRequiresMessage(t *testing.T) {
	ct := NewCronTool()
	ct.SetCallbacks(
		func(name string, schedule message.Schedule, msg string, deliver bool, channel, chatID string, deleteAfterRun bool) (*message.CronJob, error) {
			t.Fatalf("add should not be called without a message")
			return nil, nil
		},
		nil, nil,
	)
	result := ct.Execute(context.Background(), map[string]any{"action": "add", "every_ms": float64(1000)})
	if !result.IsError {
		t.Fatalf("expected a missing-message error")
	}
}

func TestCronToolAddAtMSSetsDeleteAfterRun(t *testing.T) {
	var gotDeleteAfterRun bool
	var gotSchedule message.Schedule
	ct := NewCronTool()
	ct.SetContext("telegram", "123")
	ct.SetCallbacks(
		func(name string, schedule message.Schedule, msg string, deliver bool, channel, chatID string, deleteAfterRun bool) (*message.CronJob, error) {
			gotDeleteAfterRun = deleteAfterRun
			gotSchedule = schedule
			return &message.CronJob{ID: "job-1", Name: name}, nil
		},
		nil, nil,
	)

	result := ct.Execute(context.Background(), map[string]any{
		"action": "add", "message": "reminder", "at_ms": float64(1_700_000_000_000),
	})
	if result.IsError {
		t.Fatalf("unexpected error: %+v", result)
	}
	if !gotDeleteAfterRun {
		t.Fatalf("expected an at_ms job to set delete_after_run")
	}
	if gotSchedule.Kind != message.ScheduleAt || gotSchedule.AtMS != 1_700_000_000_000 {
		t.Fatalf("unexpected schedule: %+v", gotSchedule)
	}
}

func TestCronToolAddEveryMSDoesNotSetDeleteAfterRun(t *testing.T) {
	var gotDeleteAfterRun bool
	ct := NewCronTool()
	ct.SetCallbacks(
		func(name string, schedule message.Schedule, msg string, deliver bool, channel, chatID string, deleteAfterRun bool) (*message.CronJob, error) {
			gotDeleteAfterRun = deleteAfterRun
			return &message.CronJob{ID: "job-2", Name: name}, nil
		},
		nil, nil,
	)

	ct.Execute(context.Background(), map[string]any{
		"action": "add", "message": "check in", "every_ms": float64(60_000),
	})
	if gotDeleteAfterRun {
		t.Fatalf("expected a recurring job to not set delete_after_run")
	}
}

func TestCronToolRemoveUnknownJobIsAnError(t *testing.T) {
	ct := NewCronTool()
	ct.SetCallbacks(nil, nil, func(id string) bool { return false })
	result := ct.Execute(context.Background(), map[string]any{"action": "remove", "id": "nope"})
	if !result.IsError {
		t.Fatalf("expected removing an unknown job to be an error")
	}
}

func TestCronToolListEmptyReportsNoJobs(t *testing.T) {
	ct := NewCronTool()
	ct.SetCallbacks(nil, func(includeDisabled bool) []*message.CronJob { return nil }, nil)
	result := ct.Execute(context.Background(), map[string]any{"action": "list"})
	if result.IsError {
		t.Fatalf("unexpected error: %+v", result)
	}
	if result.ForLLM != "No scheduled jobs." {
		t.Fatalf("unexpected list output: %q", result.ForLLM)
	}
}

func TestCronToolUnknownActionIsAnError(t *testing.T) {
	ct := NewCronTool()
	result := ct.Execute(context.Background(), map[string]any{"action": "explode"})
	if !result.IsError {
		t.Fatalf("expected an unknown action to be an error")
	}
}
