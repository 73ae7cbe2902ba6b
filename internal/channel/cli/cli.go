// Package cli implements a local terminal channel: a REPL over
// chzyer/readline rather than a plain bufio.Scanner loop, since the
// terminal channel here is a first-class adapter rather than a cobra
// subcommand's own interactive mode.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/chzyer/readline"

	"github.com/nanoclaw/nanoclaw/internal/channel"
	"github.com/nanoclaw/nanoclaw/internal/channel/render"
	"github.com/nanoclaw/nanoclaw/internal/message"
)

// Config holds CLI channel configuration.
type Config struct {
	ChatID      string // fixed chat identity for the single local terminal session
	Prompt      string
	HistoryFile string
}

type CLI struct {
	cfg       Config
	logger    *slog.Logger
	rl        *readline.Instance
	publish   func(message.InboundMessage) error
	connected atomic.Bool
	done      chan struct{}
}

func New(cfg Config, logger *slog.Logger) *CLI {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ChatID == "" {
		cfg.ChatID = "terminal"
	}
	if cfg.Prompt == "" {
		cfg.Prompt = "you> "
	}
	return &CLI{
		cfg:    cfg,
		logger: logger.With("component", "cli"),
		done:   make(chan struct{}),
	}
}

func (c *CLI) Name() string { return "cli" }

func (c *CLI) Start(ctx context.Context, publish func(message.InboundMessage) error) error {
	if c.connected.Load() {
		return nil
	}
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          c.cfg.Prompt,
		HistoryFile:     c.cfg.HistoryFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("cli: initializing readline: %w", err)
	}
	c.rl = rl
	c.publish = publish
	c.connected.Store(true)

	fmt.Println()
	fmt.Println("  Type your message and press Enter. Commands:")
	fmt.Println("    /quit  — exit")
	fmt.Println("    /clear — reset conversation")
	fmt.Println()

	go c.readLoop(ctx)
	return nil
}

func (c *CLI) readLoop(ctx context.Context) {
	defer close(c.done)
	for {
		line, err := c.rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF || err != nil {
			return
		}
		if line == "" {
			continue
		}
		if line == "/quit" {
			return
		}

		metadata := map[string]string{}
		if line == "/clear" {
			metadata["clear_session"] = "true"
		}

		inbound := message.InboundMessage{
			Channel:  "cli",
			SenderID: "local",
			ChatID:   c.cfg.ChatID,
			Content:  line,
			Metadata: metadata,
		}
		if c.publish != nil {
			if err := c.publish(inbound); err != nil {
				c.logger.Warn("cli: publish failed", "error", err)
			}
		}

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

func (c *CLI) Stop() error {
	c.connected.Store(false)
	if c.rl != nil {
		c.rl.Close()
	}
	return nil
}

func (c *CLI) IsAllowed(chatID string) bool {
	return chatID == c.cfg.ChatID
}

func (c *CLI) Send(ctx context.Context, msg message.OutboundMessage) error {
	if !c.connected.Load() || c.rl == nil {
		return channel.ErrDisconnected
	}
	text, files := render.ExtractAttachments(msg.Content, "")
	for _, path := range files {
		fmt.Fprintf(c.rl.Stdout(), "[attachment: %s]\n", path)
	}
	if text == "" {
		return nil
	}
	fmt.Fprintln(c.rl.Stdout(), render.FormatForPlainText(text))
	return nil
}

var _ channel.Channel = (*CLI)(nil)
