package scheduler

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/nanoclaw/nanoclaw/internal/message"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSQLiteJobStorageRoundTrip(t *testing.T) {
	db := openTestDB(t)
	storage, err := NewSQLiteJobStorage(db)
	if err != nil {
		t.Fatalf("new storage: %v", err)
	}

	job := &message.CronJob{
		ID:             "job-1",
		Name:           "morning reminder",
		Schedule:       message.Schedule{Kind: message.ScheduleCron, Expr: "0 8 * * *"},
		Message:        "good morning",
		Enabled:        true,
		DeleteAfterRun: false,
		Channel:        "telegram",
		ChatID:         "42",
	}
	if err := storage.Save(job); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := storage.LoadAll()
	if err != nil {
		t.Fatalf("load all: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("expected 1 job, got %d", len(loaded))
	}
	got := loaded[0]
	if got.ID != job.ID || got.Message != job.Message || got.Channel != job.Channel {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if got.Schedule.Kind != message.ScheduleCron || got.Schedule.Expr != "0 8 * * *" {
		t.Fatalf("schedule not preserved across json round trip: %+v", got.Schedule)
	}
	if !got.Enabled {
		t.Fatalf("expected enabled flag to round-trip true")
	}
}

func TestSQLiteJobStoragePreservesScheduleVariants(t *testing.T) {
	db := openTestDB(t)
	storage, err := NewSQLiteJobStorage(db)
	if err != nil {
		t.Fatalf("new storage: %v", err)
	}

	jobs := []*message.CronJob{
		{ID: "at-job", Schedule: message.Schedule{Kind: message.ScheduleAt, AtMS: 1000}, DeleteAfterRun: true, Channel: "cli", ChatID: "terminal"},
		{ID: "every-job", Schedule: message.Schedule{Kind: message.ScheduleEvery, EveryMS: 60000}, Channel: "cli", ChatID: "terminal"},
	}
	for _, j := range jobs {
		if err := storage.Save(j); err != nil {
			t.Fatalf("save %s: %v", j.ID, err)
		}
	}

	loaded, err := storage.LoadAll()
	if err != nil {
		t.Fatalf("load all: %v", err)
	}
	byID := make(map[string]*message.CronJob, len(loaded))
	for _, j := range loaded {
		byID[j.ID] = j
	}
	if byID["at-job"].Schedule.AtMS != 1000 {
		t.Fatalf("expected at_ms to round-trip, got %+v", byID["at-job"].Schedule)
	}
	if byID["every-job"].Schedule.EveryMS != 60000 {
		t.Fatalf("expected every_ms to round-trip, got %+v", byID["every-job"].Schedule)
	}
}

func TestSQLiteJobStorageDelete(t *testing.T) {
	db := openTestDB(t)
	storage, err := NewSQLiteJobStorage(db)
	if err != nil {
		t.Fatalf("new storage: %v", err)
	}

	job := &message.CronJob{ID: "to-delete", Schedule: message.Schedule{Kind: message.ScheduleEvery, EveryMS: 1000}, Channel: "cli", ChatID: "terminal"}
	if err := storage.Save(job); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := storage.Delete(job.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	loaded, err := storage.LoadAll()
	if err != nil {
		t.Fatalf("load all: %v", err)
	}
	if len(loaded) != 0 {
		t.Fatalf("expected empty store after delete, got %d", len(loaded))
	}
}
