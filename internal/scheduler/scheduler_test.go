package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/nanoclaw/nanoclaw/internal/bus"
	"github.com/nanoclaw/nanoclaw/internal/message"
)

// memStorage is an in-memory JobStorage fake for tests that don't need
// a real database round trip.
type memStorage struct {
	jobs map[string]*message.CronJob
}

func newMemStorage() *memStorage {
	return &memStorage{jobs: make(map[string]*message.CronJob)}
}

func (m *memStorage) Save(job *message.CronJob) error {
	m.jobs[job.ID] = job
	return nil
}

func (m *memStorage) Delete(id string) error {
	delete(m.jobs, id)
	return nil
}

func (m *memStorage) LoadAll() ([]*message.CronJob, error) {
	out := make([]*message.CronJob, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, j)
	}
	return out, nil
}

func TestAddJobFromToolFiresAt(t *testing.T) {
	b := bus.New(nil)
	s := New(newMemStorage(), b, nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	schedule := message.Schedule{Kind: message.ScheduleAt, AtMS: time.Now().Add(20 * time.Millisecond).UnixMilli()}
	job, err := s.AddJobFromTool("ping", schedule, "hello", true, "telegram", "123", true)
	if err != nil {
		t.Fatalf("add job: %v", err)
	}

	inbound, err := b.ConsumeInbound(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("consume fired job: %v", err)
	}
	if inbound.Channel != "system" || inbound.SenderID != "cron" {
		t.Fatalf("unexpected inbound envelope: %+v", inbound)
	}
	if want := message.EncodeSystemChatID("telegram", "123"); inbound.ChatID != want {
		t.Fatalf("expected chat id %q, got %q", want, inbound.ChatID)
	}
	if inbound.Content != "hello" {
		t.Fatalf("expected message content, got %q", inbound.Content)
	}

	// kind=at + delete_after_run=true must remove itself once fired.
	time.Sleep(20 * time.Millisecond)
	for _, j := range s.ListJobs(true) {
		if j.ID == job.ID {
			t.Fatalf("expected one-shot job to be removed after firing")
		}
	}
}

func TestAddJobRejectsAtWithoutDeleteAfterRun(t *testing.T) {
	s := New(newMemStorage(), bus.New(nil), nil)
	job := &message.CronJob{
		ID:       "j1",
		Schedule: message.Schedule{Kind: message.ScheduleAt, AtMS: time.Now().UnixMilli()},
		Enabled:  true,
	}
	if err := s.AddJob(job); err == nil {
		t.Fatalf("expected validation error for kind=at without delete_after_run")
	}
}

func TestAddJobEnforcesMaxActiveJobs(t *testing.T) {
	s := New(newMemStorage(), bus.New(nil), nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	for i := 0; i < MaxActiveJobs; i++ {
		job := &message.CronJob{
			ID:       string(rune('a' + i)),
			Schedule: message.Schedule{Kind: message.ScheduleEvery, EveryMS: int64(time.Hour / time.Millisecond)},
			Enabled:  true,
		}
		if err := s.AddJob(job); err != nil {
			t.Fatalf("add job %d: %v", i, err)
		}
	}

	overflow := &message.CronJob{
		ID:       "overflow",
		Schedule: message.Schedule{Kind: message.ScheduleEvery, EveryMS: int64(time.Hour / time.Millisecond)},
		Enabled:  true,
	}
	if err := s.AddJob(overflow); err == nil {
		t.Fatalf("expected max active jobs to be enforced")
	}
}

func TestDeliverFalseCreatesDisabledJob(t *testing.T) {
	s := New(newMemStorage(), bus.New(nil), nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	job, err := s.AddJobFromTool("quiet", message.Schedule{Kind: message.ScheduleCron, Expr: "@every 1h"}, "hi", false, "cli", "terminal", false)
	if err != nil {
		t.Fatalf("add job: %v", err)
	}
	if job.Enabled {
		t.Fatalf("expected deliver=false to create a disabled job")
	}

	found := s.ListJobs(false)
	for _, j := range found {
		if j.ID == job.ID {
			t.Fatalf("disabled job should not appear in enabled-only listing")
		}
	}
	all := s.ListJobs(true)
	var seen bool
	for _, j := range all {
		if j.ID == job.ID {
			seen = true
		}
	}
	if !seen {
		t.Fatalf("expected disabled job to appear in includeDisabled listing")
	}
}

func TestRemoveJobFromTool(t *testing.T) {
	s := New(newMemStorage(), bus.New(nil), nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	job, err := s.AddJobFromTool("daily", message.Schedule{Kind: message.ScheduleEvery, EveryMS: int64(time.Hour / time.Millisecond)}, "hi", true, "cli", "terminal", false)
	if err != nil {
		t.Fatalf("add job: %v", err)
	}
	if !s.RemoveJobFromTool(job.ID) {
		t.Fatalf("expected removal to succeed")
	}
	if s.RemoveJobFromTool(job.ID) {
		t.Fatalf("expected second removal of same id to fail")
	}
}
