package scheduler

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/nanoclaw/nanoclaw/internal/message"
)

// SQLiteJobStorage persists jobs in the shared application database's
// "jobs" table behind the drop-in JobStorage contract. The schema
// carries message.Schedule's kind/at_ms/every_ms/expr fields as JSON
// instead of a single cron-expression column, since kind=at/kind=every
// jobs here aren't cron expressions at all.
type SQLiteJobStorage struct {
	db *sql.DB
}

// NewSQLiteJobStorage creates a SQLite-backed job storage using the
// shared DB. The "jobs" table is created if it doesn't already exist.
func NewSQLiteJobStorage(db *sql.DB) (*SQLiteJobStorage, error) {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS jobs (
			id               TEXT PRIMARY KEY,
			name             TEXT NOT NULL,
			schedule_json    TEXT NOT NULL,
			message          TEXT NOT NULL,
			enabled          INTEGER NOT NULL DEFAULT 1,
			delete_after_run INTEGER NOT NULL DEFAULT 0,
			channel          TEXT NOT NULL,
			chat_id          TEXT NOT NULL,
			next_run_at_ms   INTEGER NOT NULL DEFAULT 0
		)`)
	if err != nil {
		return nil, fmt.Errorf("creating jobs table: %w", err)
	}
	return &SQLiteJobStorage{db: db}, nil
}

// Save persists a job (insert or replace).
func (s *SQLiteJobStorage) Save(job *message.CronJob) error {
	scheduleJSON, err := json.Marshal(job.Schedule)
	if err != nil {
		return fmt.Errorf("marshaling schedule for job %q: %w", job.ID, err)
	}

	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO jobs
			(id, name, schedule_json, message, enabled, delete_after_run, channel, chat_id, next_run_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Name, string(scheduleJSON), job.Message,
		boolToInt(job.Enabled), boolToInt(job.DeleteAfterRun),
		job.Channel, job.ChatID, job.NextRunAtMS,
	)
	if err != nil {
		return fmt.Errorf("save job %q: %w", job.ID, err)
	}
	return nil
}

// Delete removes a job by ID.
func (s *SQLiteJobStorage) Delete(id string) error {
	_, err := s.db.Exec("DELETE FROM jobs WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete job %q: %w", id, err)
	}
	return nil
}

// LoadAll reads all persisted jobs.
func (s *SQLiteJobStorage) LoadAll() ([]*message.CronJob, error) {
	rows, err := s.db.Query(`
		SELECT id, name, schedule_json, message, enabled, delete_after_run, channel, chat_id, next_run_at_ms
		FROM jobs`)
	if err != nil {
		return nil, fmt.Errorf("load jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*message.CronJob
	for rows.Next() {
		var (
			j                          message.CronJob
			scheduleJSON               string
			enabled, deleteAfterRun    int
		)
		if err := rows.Scan(
			&j.ID, &j.Name, &scheduleJSON, &j.Message,
			&enabled, &deleteAfterRun, &j.Channel, &j.ChatID, &j.NextRunAtMS,
		); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		if err := json.Unmarshal([]byte(scheduleJSON), &j.Schedule); err != nil {
			return nil, fmt.Errorf("unmarshaling schedule for job %q: %w", j.ID, err)
		}
		j.Enabled = enabled != 0
		j.DeleteAfterRun = deleteAfterRun != 0
		jobs = append(jobs, &j)
	}
	return jobs, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
