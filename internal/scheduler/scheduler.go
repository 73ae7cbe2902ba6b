// Package scheduler manages cron/reminder jobs that re-enter the
// agent loop as synthetic system messages when they fire. The
// teacher's own scheduler left a literal "// TODO: Integrar com
// robfig/cron para execução real dos jobs" where the firing loop
// should be; this package is that TODO completed.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/nanoclaw/nanoclaw/internal/bus"
	"github.com/nanoclaw/nanoclaw/internal/message"
)

// MaxActiveJobs is the enabled-job ceiling enforced by AddJob.
const MaxActiveJobs = 10

// JobStorage persists scheduler jobs across restarts.
type JobStorage interface {
	Save(job *message.CronJob) error
	Delete(id string) error
	LoadAll() ([]*message.CronJob, error)
}

// Scheduler owns the set of registered jobs and fires each on its own
// schedule, publishing a synthetic inbound message onto the bus when
// it does.
type Scheduler struct {
	jobs    map[string]*message.CronJob
	entries map[string]cron.EntryID  // recurring jobs (kind=every|cron)
	timers  map[string]*time.Timer   // one-shot jobs (kind=at)

	storage JobStorage
	bus     *bus.Bus
	cronEngine *cron.Cron
	logger  *slog.Logger

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

func New(storage JobStorage, b *bus.Bus, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		jobs:       make(map[string]*message.CronJob),
		entries:    make(map[string]cron.EntryID),
		timers:     make(map[string]*time.Timer),
		storage:    storage,
		bus:        b,
		cronEngine: cron.New(),
		logger:     logger.With("component", "scheduler"),
	}
}

// Start loads persisted jobs, schedules every enabled one, and starts
// the underlying cron engine.
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	if s.storage != nil {
		jobs, err := s.storage.LoadAll()
		if err != nil {
			s.logger.Error("scheduler: failed to load jobs", "error", err)
		} else {
			s.mu.Lock()
			for _, job := range jobs {
				s.jobs[job.ID] = job
			}
			s.mu.Unlock()
			s.logger.Info("scheduler: loaded jobs from storage", "count", len(jobs))
		}
	}

	s.cronEngine.Start()

	s.mu.Lock()
	for _, job := range s.jobs {
		if job.Enabled {
			if err := s.scheduleLocked(job); err != nil {
				s.logger.Error("scheduler: failed to schedule job", "id", job.ID, "error", err)
			}
		}
	}
	count := len(s.jobs)
	s.mu.Unlock()

	s.logger.Info("scheduler started", "jobs", count)
	return nil
}

// Stop cancels every pending one-shot timer and stops the cron engine.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Lock()
	for _, t := range s.timers {
		t.Stop()
	}
	s.mu.Unlock()
	<-s.cronEngine.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// AddJob validates and registers a new job, enforcing the max-10-
// active-jobs ceiling and the kind=at/delete_after_run invariant.
func (s *Scheduler) AddJob(job *message.CronJob) error {
	if job.ID == "" {
		return fmt.Errorf("scheduler: job id is required")
	}
	if err := job.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("scheduler: job %q already exists", job.ID)
	}
	if job.Enabled && s.activeCountLocked() >= MaxActiveJobs {
		return fmt.Errorf("scheduler: max %d active jobs already scheduled", MaxActiveJobs)
	}

	s.jobs[job.ID] = job
	if s.storage != nil {
		if err := s.storage.Save(job); err != nil {
			s.logger.Error("scheduler: failed to persist job", "id", job.ID, "error", err)
		}
	}

	if job.Enabled && s.ctx != nil {
		if err := s.scheduleLocked(job); err != nil {
			return err
		}
	}

	s.logger.Info("scheduler: job added", "id", job.ID, "kind", job.Schedule.Kind, "channel", job.Channel)
	return nil
}

// AddJobFromTool builds a CronJob with a fresh ID from the cron tool's
// arguments and registers it, matching tool.CronAdder's signature so
// the tool package never needs to import scheduler directly.
func (s *Scheduler) AddJobFromTool(name string, schedule message.Schedule, msg string, deliver bool, channel, chatID string, deleteAfterRun bool) (*message.CronJob, error) {
	job := &message.CronJob{
		ID:             uuid.NewString(),
		Name:           name,
		Schedule:       schedule,
		Message:        msg,
		Enabled:        deliver,
		DeleteAfterRun: deleteAfterRun,
		Channel:        channel,
		ChatID:         chatID,
	}
	if err := s.AddJob(job); err != nil {
		return nil, err
	}
	return job, nil
}

// RemoveJobFromTool matches tool.CronRemover's bool-returning contract.
func (s *Scheduler) RemoveJobFromTool(id string) bool {
	return s.RemoveJob(id) == nil
}

func (s *Scheduler) activeCountLocked() int {
	n := 0
	for _, j := range s.jobs {
		if j.Enabled {
			n++
		}
	}
	return n
}

// ListJobs returns every job, optionally including disabled ones.
func (s *Scheduler) ListJobs(includeDisabled bool) []*message.CronJob {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]*message.CronJob, 0, len(s.jobs))
	for _, j := range s.jobs {
		if j.Enabled || includeDisabled {
			result = append(result, j)
		}
	}
	return result
}

// RemoveJob cancels and deletes a job by ID.
func (s *Scheduler) RemoveJob(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[id]; !exists {
		return fmt.Errorf("scheduler: job %q not found", id)
	}
	s.unscheduleLocked(id)
	delete(s.jobs, id)

	if s.storage != nil {
		if err := s.storage.Delete(id); err != nil {
			s.logger.Error("scheduler: failed to remove job from storage", "id", id, "error", err)
		}
	}
	s.logger.Info("scheduler: job removed", "id", id)
	return nil
}

// scheduleLocked registers job with the cron engine (kind=cron|every)
// or a one-shot timer (kind=at). Caller must hold s.mu.
func (s *Scheduler) scheduleLocked(job *message.CronJob) error {
	switch job.Schedule.Kind {
	case message.ScheduleCron:
		id, err := s.cronEngine.AddFunc(job.Schedule.Expr, s.fireFunc(job.ID))
		if err != nil {
			return fmt.Errorf("scheduler: invalid cron expression %q: %w", job.Schedule.Expr, err)
		}
		s.entries[job.ID] = id

	case message.ScheduleEvery:
		spec := fmt.Sprintf("@every %s", time.Duration(job.Schedule.EveryMS)*time.Millisecond)
		id, err := s.cronEngine.AddFunc(spec, s.fireFunc(job.ID))
		if err != nil {
			return fmt.Errorf("scheduler: invalid interval %dms: %w", job.Schedule.EveryMS, err)
		}
		s.entries[job.ID] = id

	case message.ScheduleAt:
		delay := time.Until(time.UnixMilli(job.Schedule.AtMS))
		if delay < 0 {
			delay = 0
		}
		jobID := job.ID
		s.timers[job.ID] = time.AfterFunc(delay, func() { s.fire(jobID) })

	default:
		return fmt.Errorf("scheduler: unknown schedule kind %q", job.Schedule.Kind)
	}
	return nil
}

func (s *Scheduler) unscheduleLocked(jobID string) {
	if id, ok := s.entries[jobID]; ok {
		s.cronEngine.Remove(id)
		delete(s.entries, jobID)
	}
	if t, ok := s.timers[jobID]; ok {
		t.Stop()
		delete(s.timers, jobID)
	}
}

func (s *Scheduler) fireFunc(jobID string) func() {
	return func() { s.fire(jobID) }
}

// fire publishes the job's synthetic inbound system message and, for
// one-shot jobs, removes the job afterward.
func (s *Scheduler) fire(jobID string) {
	s.mu.Lock()
	job, ok := s.jobs[jobID]
	s.mu.Unlock()
	if !ok || !job.Enabled {
		return
	}

	inbound := message.InboundMessage{
		Channel:  "system",
		SenderID: "cron",
		ChatID:   message.EncodeSystemChatID(job.Channel, job.ChatID),
		Content:  job.Message,
		Metadata: map[string]string{"internal": "true"},
	}
	if err := s.bus.PublishInbound(inbound); err != nil {
		s.logger.Error("scheduler: failed to publish job firing", "id", jobID, "error", err)
		return
	}
	s.logger.Info("scheduler: job fired", "id", jobID, "channel", job.Channel, "chat_id", job.ChatID)

	if job.DeleteAfterRun {
		if err := s.RemoveJob(jobID); err != nil {
			s.logger.Warn("scheduler: failed to remove one-shot job after firing", "id", jobID, "error", err)
		}
	}
}
