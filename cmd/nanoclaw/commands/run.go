package commands

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/cobra"

	"github.com/nanoclaw/nanoclaw/internal/agent"
	"github.com/nanoclaw/nanoclaw/internal/bus"
	"github.com/nanoclaw/nanoclaw/internal/channel"
	"github.com/nanoclaw/nanoclaw/internal/channel/cli"
	"github.com/nanoclaw/nanoclaw/internal/channel/slack"
	"github.com/nanoclaw/nanoclaw/internal/channel/teams"
	"github.com/nanoclaw/nanoclaw/internal/channel/telegram"
	"github.com/nanoclaw/nanoclaw/internal/channel/whatsapp"
	"github.com/nanoclaw/nanoclaw/internal/config"
	"github.com/nanoclaw/nanoclaw/internal/message"
	"github.com/nanoclaw/nanoclaw/internal/provider"
	"github.com/nanoclaw/nanoclaw/internal/scheduler"
	"github.com/nanoclaw/nanoclaw/internal/session"
	"github.com/nanoclaw/nanoclaw/internal/subagent"
	"github.com/nanoclaw/nanoclaw/internal/tool"
	"github.com/nanoclaw/nanoclaw/internal/tool/browser"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the runtime with its configured channel adapters",
		Long: `Start nanoclaw, connecting to every channel with credentials
configured, running the agent loop, the scheduler, and the sub-agent
manager until interrupted.

Examples:
  nanoclaw run
  nanoclaw run --channel cli
  nanoclaw run --config ./config.yaml`,
		RunE: runRun,
	}
	cmd.Flags().StringSlice("channel", nil, "channels to enable (telegram, slack, teams, whatsapp, cli); default: all configured")
	return cmd
}

func runRun(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger := newLogger(cmd, cfg)
	config.ResolveAPIKey(cfg)

	if err := os.MkdirAll(cfg.Workspace, 0o755); err != nil {
		return fmt.Errorf("creating workspace: %w", err)
	}
	agent.LoadWorkspaceEnv(cfg.Workspace)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := bus.New(logger)

	sessions, err := session.NewStore(cfg.Workspace, logger)
	if err != nil {
		return fmt.Errorf("opening session store: %w", err)
	}

	registry := tool.NewRegistry()
	messageTool := tool.NewMessageTool()
	messageTool.SetSendCallback(func(sendChannel, chatID, content string, metadata map[string]string) error {
		return b.PublishOutbound(message.OutboundMessage{Channel: sendChannel, ChatID: chatID, Content: content, Metadata: metadata})
	})
	registry.Register(messageTool)

	spawnTool := tool.NewSpawnTool()
	registry.Register(spawnTool)

	cronTool := tool.NewCronTool()
	registry.Register(cronTool)

	registry.Register(&tool.ReadFileTool{AllowedDir: cfg.Workspace})
	registry.Register(&tool.WriteFileTool{AllowedDir: cfg.Workspace})
	registry.Register(&tool.EditFileTool{AllowedDir: cfg.Workspace})
	registry.Register(&tool.ListDirTool{AllowedDir: cfg.Workspace})

	if cfg.Exec.Enabled {
		registry.Register(&tool.ExecTool{
			Config:     tool.ExecConfig{Enabled: true, Shell: cfg.Exec.Shell, Timeout: 60 * time.Second},
			WorkingDir: cfg.Workspace,
		})
	}
	if cfg.WebSearch.BraveAPIKey != "" {
		registry.Register(&tool.WebSearchTool{APIKey: cfg.WebSearch.BraveAPIKey})
	}
	registry.Register(&tool.WebFetchTool{})

	if cfg.Browser.Enabled {
		registry.Register(browser.NewTool(cfg.Browser, cfg.Captcha, cfg.Workspace, logger))
	}

	lmProvider, err := buildProvider(cfg, logger)
	if err != nil {
		return err
	}

	ctxBuilder := agent.NewContextBuilder(cfg.Workspace, "", registry)
	loop := agent.NewAgentLoop(b, lmProvider, sessions, registry, ctxBuilder, agent.Config{
		Workspace:      cfg.Workspace,
		Model:          cfg.Model,
		ContextWindow:  cfg.ContextWindow,
		MaxIterations:  cfg.MaxIterations,
		MaxToolRetries: 3,
		Plan:           cfg.Plan,
		Logger:         logger,
	})

	subManager := subagent.New(loop.RunTask, b, logger)
	spawnTool.SetSpawnCallback(subManager.Spawn)

	dbPath := cfg.Scheduler.DatabasePath
	if dbPath == "" {
		dbPath = filepath.Join(cfg.Workspace, "scheduler.db")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("creating scheduler db dir: %w", err)
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return fmt.Errorf("opening scheduler db: %w", err)
	}
	defer db.Close()

	jobStorage, err := scheduler.NewSQLiteJobStorage(db)
	if err != nil {
		return fmt.Errorf("initializing scheduler storage: %w", err)
	}
	sched := scheduler.New(jobStorage, b, logger)
	cronTool.SetCallbacks(sched.AddJobFromTool, sched.ListJobs, sched.RemoveJobFromTool)
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}
	defer sched.Stop()

	channelFilter, _ := cmd.Flags().GetStringSlice("channel")
	manager := channel.NewManager(b, logger)
	registerChannels(manager, cfg, channelFilter, logger)

	if err := manager.Start(ctx); err != nil {
		logger.Warn("one or more channels failed to start; continuing with the rest", "error", err)
	}
	defer manager.Stop()

	go loop.Run(ctx)

	logger.Info("nanoclaw running. Press Ctrl+C to stop.", "plan", cfg.Plan, "model", cfg.Model)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received, stopping...")
	loop.Stop()
	cancel()
	return nil
}

func registerChannels(manager *channel.Manager, cfg *config.Config, filter []string, logger *slog.Logger) {
	if shouldEnable("telegram", filter) && cfg.Channels.Telegram.Token != "" {
		tgCfg := cfg.Channels.Telegram
		tgCfg.Workspace = cfg.Workspace
		if cfg.Transcription.Enabled && cfg.Transcription.APIKey != "" {
			tgCfg.Transcriber = provider.NewGroqTranscriptionProvider(cfg.Transcription.APIKey)
		}
		manager.Register(telegram.New(tgCfg, logger))
	}
	if shouldEnable("slack", filter) && cfg.Channels.Slack.BotToken != "" {
		slCfg := cfg.Channels.Slack
		slCfg.Workspace = cfg.Workspace
		manager.Register(slack.New(slCfg, logger))
	}
	if shouldEnable("teams", filter) && cfg.Channels.Teams.AppID != "" {
		manager.Register(teams.New(cfg.Channels.Teams, logger))
	}
	if shouldEnable("whatsapp", filter) && cfg.Channels.WhatsApp.BridgeURL != "" {
		waCfg := cfg.Channels.WhatsApp
		waCfg.Workspace = cfg.Workspace
		manager.Register(whatsapp.New(waCfg, logger))
	}
	if shouldEnable("cli", filter) {
		manager.Register(cli.New(cfg.Channels.CLI, logger))
	}
}

// shouldEnable: an empty filter enables every configured channel; a
// non-empty one is an explicit allowlist of names.
func shouldEnable(name string, filter []string) bool {
	if len(filter) == 0 {
		return true
	}
	for _, f := range filter {
		if f == name {
			return true
		}
	}
	return false
}

func buildProvider(cfg *config.Config, logger *slog.Logger) (provider.LLMProvider, error) {
	if cfg.API.APIKey == "" && cfg.API.Provider != "openai_compatible" {
		return nil, fmt.Errorf("no API key configured; run `nanoclaw auth login` or set ANTHROPIC_API_KEY")
	}

	var primary provider.LLMProvider
	switch cfg.API.Provider {
	case "openai_compatible":
		primary = provider.NewOpenAICompatibleProvider(cfg.API.BaseURL, cfg.API.APIKey, cfg.Model, logger)
	default:
		primary = provider.NewClaudeProvider(cfg.API.APIKey)
	}

	if cfg.Fallback.Model == "" {
		return primary, nil
	}
	return provider.NewFallbackProvider(primary, primary, cfg.Model, cfg.Fallback.Model, logger), nil
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path := resolveConfigPath(cmd)
	if path == "" {
		return config.DefaultConfig(), nil
	}
	return config.LoadFromFile(path)
}

func newLogger(cmd *cobra.Command, cfg *config.Config) *slog.Logger {
	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")
	level := slog.LevelInfo
	if verbose || cfg.Logging.Level == "debug" {
		level = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.Logging.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	return slog.New(handler)
}
