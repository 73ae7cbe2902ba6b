package commands

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/cobra"

	"github.com/nanoclaw/nanoclaw/internal/bus"
	"github.com/nanoclaw/nanoclaw/internal/message"
	"github.com/nanoclaw/nanoclaw/internal/scheduler"
)

// newCronCmd exposes job inspection and management from the command
// line; each subcommand opens the scheduler database directly.
func newCronCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cron",
		Short: "Manage scheduled reminders and recurring tasks",
		Long: `Manage the jobs that re-enter a conversation when they fire.

Examples:
  nanoclaw cron list
  nanoclaw cron add "daily standup" "Time for standup" --every-ms 86400000 --channel telegram --chat-id 123
  nanoclaw cron remove <id>`,
	}
	cmd.AddCommand(newCronListCmd(), newCronAddCmd(), newCronRemoveCmd())
	return cmd
}

func openScheduler(cmd *cobra.Command) (*scheduler.Scheduler, func(), error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	dbPath := cfg.Scheduler.DatabasePath
	if dbPath == "" {
		dbPath = filepath.Join(cfg.Workspace, "scheduler.db")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, nil, fmt.Errorf("creating scheduler db dir: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, nil, fmt.Errorf("opening scheduler db: %w", err)
	}
	storage, err := scheduler.NewSQLiteJobStorage(db)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("initializing scheduler storage: %w", err)
	}

	sched := scheduler.New(storage, bus.New(nil), newLogger(cmd, cfg))
	if err := sched.Start(cmd.Context()); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("starting scheduler: %w", err)
	}
	return sched, func() { sched.Stop(); db.Close() }, nil
}

func newCronListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List scheduled jobs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			sched, closeFn, err := openScheduler(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			jobs := sched.ListJobs(true)
			if len(jobs) == 0 {
				fmt.Println("No scheduled jobs.")
				return nil
			}
			for _, j := range jobs {
				status := "enabled"
				if !j.Enabled {
					status = "disabled"
				}
				fmt.Printf("%s  %-20s  %-6s  %-5s  -> %s:%s\n", j.ID, j.Name, j.Schedule.Kind, status, j.Channel, j.ChatID)
			}
			return nil
		},
	}
	return cmd
}

func newCronAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <name> <message>",
		Short: "Add a new scheduled job",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, msg := args[0], args[1]

			atMS, _ := cmd.Flags().GetInt64("at-ms")
			everyMS, _ := cmd.Flags().GetInt64("every-ms")
			expr, _ := cmd.Flags().GetString("cron")
			channel, _ := cmd.Flags().GetString("channel")
			chatID, _ := cmd.Flags().GetString("chat-id")
			deliver, _ := cmd.Flags().GetBool("deliver")

			if chatID == "" {
				return fmt.Errorf("--chat-id is required")
			}

			var schedule message.Schedule
			deleteAfterRun := false
			switch {
			case atMS > 0:
				schedule = message.Schedule{Kind: message.ScheduleAt, AtMS: atMS}
				deleteAfterRun = true
			case everyMS > 0:
				schedule = message.Schedule{Kind: message.ScheduleEvery, EveryMS: everyMS}
			case expr != "":
				schedule = message.Schedule{Kind: message.ScheduleCron, Expr: expr}
			default:
				return fmt.Errorf("one of --at-ms, --every-ms, --cron is required")
			}

			sched, closeFn, err := openScheduler(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			job, err := sched.AddJobFromTool(name, schedule, msg, deliver, channel, chatID, deleteAfterRun)
			if err != nil {
				return err
			}
			fmt.Printf("Scheduled job %s (%s)\n", job.ID, job.Name)
			return nil
		},
	}
	cmd.Flags().Int64("at-ms", 0, "Unix ms for a one-shot job")
	cmd.Flags().Int64("every-ms", 0, "interval in ms for a recurring job")
	cmd.Flags().String("cron", "", "cron expression for a cron-scheduled job")
	cmd.Flags().String("channel", "cli", "destination channel")
	cmd.Flags().String("chat-id", "", "destination chat/user id")
	cmd.Flags().Bool("deliver", true, "whether the job is active on creation")
	return cmd
}

func newCronRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a scheduled job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sched, closeFn, err := openScheduler(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			if !sched.RemoveJobFromTool(args[0]) {
				return fmt.Errorf("no such job %q", args[0])
			}
			fmt.Printf("Removed job %s\n", args[0])
			return nil
		},
	}
}
