// Package config defines the static YAML configuration for the
// runtime and the workspace-env/secret resolution chain around it.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/nanoclaw/nanoclaw/internal/channel/cli"
	"github.com/nanoclaw/nanoclaw/internal/channel/slack"
	"github.com/nanoclaw/nanoclaw/internal/channel/teams"
	"github.com/nanoclaw/nanoclaw/internal/channel/telegram"
	"github.com/nanoclaw/nanoclaw/internal/channel/whatsapp"
	"github.com/nanoclaw/nanoclaw/internal/tool/browser"
)

// Config holds every piece of startup configuration the runtime
// needs: plan/model/provider credentials, per-channel credentials,
// the browser/CAPTCHA stack, and the workspace path sessions and
// media are stored under.
type Config struct {
	Workspace string `yaml:"workspace"`
	Plan      string `yaml:"plan"` // "free" or a paid plan name

	Model         string `yaml:"model"`
	ContextWindow int    `yaml:"context_window"`
	MaxIterations int    `yaml:"max_iterations"`

	API      APIConfig      `yaml:"api"`
	Fallback FallbackConfig `yaml:"fallback"`

	Channels ChannelsConfig `yaml:"channels"`

	Browser browser.Config       `yaml:"browser"`
	Captcha browser.CaptchaConfig `yaml:"captcha"`

	Transcription TranscriptionConfig `yaml:"transcription"`

	Scheduler SchedulerConfig `yaml:"scheduler"`
	WebSearch WebSearchConfig `yaml:"web_search"`
	Exec      ExecConfig      `yaml:"exec"`

	Logging LoggingConfig `yaml:"logging"`
}

// APIConfig configures the primary LM provider.
type APIConfig struct {
	// Provider selects which SDK to use: "anthropic" (default) or
	// "openai_compatible".
	Provider string `yaml:"provider"`
	BaseURL  string `yaml:"base_url"`
	APIKey   string `yaml:"api_key"`
}

// FallbackConfig names a secondary model to retry against when the
// primary provider's call fails.
type FallbackConfig struct {
	Model string `yaml:"model"`
}

// ChannelsConfig groups every channel adapter's config.
type ChannelsConfig struct {
	Telegram telegram.Config `yaml:"telegram"`
	Slack    slack.Config    `yaml:"slack"`
	Teams    teams.Config    `yaml:"teams"`
	WhatsApp whatsapp.Config `yaml:"whatsapp"`
	CLI      cli.Config      `yaml:"cli"`
}

// TranscriptionConfig configures the Groq-backed voice/audio
// transcription provider wired into the Telegram adapter.
type TranscriptionConfig struct {
	Enabled bool   `yaml:"enabled"`
	APIKey  string `yaml:"api_key"`
}

// SchedulerConfig configures cron/reminder persistence.
type SchedulerConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// WebSearchConfig configures the Brave Search-backed tool.
type WebSearchConfig struct {
	BraveAPIKey string `yaml:"brave_api_key"`
}

// ExecConfig gates the shell-execution tool.
type ExecConfig struct {
	Enabled bool   `yaml:"enabled"`
	Shell   string `yaml:"shell"`
}

// LoggingConfig configures slog output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
}

// DefaultConfig returns sensible defaults, overlaid by whatever a
// config file or environment supplies.
func DefaultConfig() *Config {
	return &Config{
		Workspace:     "./workspace",
		Plan:          "free",
		Model:         "claude-sonnet-4-5",
		ContextWindow: 100_000,
		MaxIterations: 20,
		API: APIConfig{
			Provider: "anthropic",
		},
		Scheduler: SchedulerConfig{
			DatabasePath: "./data/scheduler.db",
		},
		Browser: browser.DefaultConfig(),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Z_][A-Z0-9_]*)`)

// LoadFromFile reads and parses a YAML config file, expanding
// ${VAR}/$VAR environment references before parsing and overlaying the
// result onto DefaultConfig.
func LoadFromFile(path string) (*Config, error) {
	_ = godotenv.Load(".env", ".env.local")

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	expanded := expandEnvVars(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	resolveSecrets(cfg)
	return cfg, nil
}

func expandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		var name string
		if strings.HasPrefix(match, "${") {
			name = match[2 : len(match)-1]
		} else {
			name = match[1:]
		}
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return match
	})
}

// resolveSecrets fills in empty credential fields from
// well-known environment variables, so a config.yaml committed to a
// repo never needs to carry real secrets.
func resolveSecrets(cfg *Config) {
	if cfg.API.APIKey == "" {
		if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
			cfg.API.APIKey = key
		}
	}
	if cfg.Channels.Telegram.Token == "" {
		cfg.Channels.Telegram.Token = os.Getenv("TELEGRAM_BOT_TOKEN")
	}
	if cfg.Channels.Slack.BotToken == "" {
		cfg.Channels.Slack.BotToken = os.Getenv("SLACK_BOT_TOKEN")
	}
	if cfg.Channels.Slack.AppToken == "" {
		cfg.Channels.Slack.AppToken = os.Getenv("SLACK_APP_TOKEN")
	}
	if cfg.Channels.Teams.AppID == "" {
		cfg.Channels.Teams.AppID = os.Getenv("TEAMS_APP_ID")
	}
	if cfg.Channels.Teams.AppPassword == "" {
		cfg.Channels.Teams.AppPassword = os.Getenv("TEAMS_APP_PASSWORD")
	}
	if cfg.Captcha.APIKey == "" {
		cfg.Captcha.APIKey = os.Getenv("CAPTCHA_API_KEY")
	}
	if cfg.Transcription.APIKey == "" {
		cfg.Transcription.APIKey = os.Getenv("GROQ_API_KEY")
	}
	if cfg.WebSearch.BraveAPIKey == "" {
		cfg.WebSearch.BraveAPIKey = os.Getenv("BRAVE_API_KEY")
	}
}

// FindConfigFile searches standard locations for a config file.
func FindConfigFile() string {
	for _, candidate := range []string{"config.yaml", "config.yml", "nanoclaw.yaml", "nanoclaw.yml"} {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}
