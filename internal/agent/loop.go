package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/joho/godotenv"

	"github.com/nanoclaw/nanoclaw/internal/bus"
	"github.com/nanoclaw/nanoclaw/internal/message"
	"github.com/nanoclaw/nanoclaw/internal/provider"
	"github.com/nanoclaw/nanoclaw/internal/session"
	"github.com/nanoclaw/nanoclaw/internal/tool"
)

// freePlanReply is the fixed upgrade teaser shown to free-plan users
// instead of running a turn.
const freePlanReply = "Free trial is currently paused due to high demand. Activate a plan to get $10 in free credits and unlock unlimited AI messages + 24/7 hosting. Upgrade here: https://<platform>/billing"

const creditsExhaustedReply = "Your credits have been used up. Please top up your account to continue chatting."
const creditCheckFailedReply = "Unable to verify your credit balance. Please try again in a moment."

// Config carries the loop's startup parameters.
type Config struct {
	Workspace      string
	Model          string
	ContextWindow  int
	MaxIterations  int // default 20
	MaxToolRetries int
	Plan           string // "free" or any paid plan name
	Logger         *slog.Logger
}

// AgentLoop consumes inbound messages from the bus, drives LM+tool
// iteration, and publishes outbound responses.
type AgentLoop struct {
	bus       *bus.Bus
	provider  provider.LLMProvider
	sessions  *session.Store
	registry  *tool.Registry
	ctxBuild  *ContextBuilder
	cfg       Config
	logger    *slog.Logger
	running   atomic.Bool
	httpClient *http.Client
}

// NewAgentLoop wires the loop's dependencies. cfg.MaxIterations
// defaults to 20 when zero.
func NewAgentLoop(b *bus.Bus, p provider.LLMProvider, sessions *session.Store, registry *tool.Registry, ctxBuild *ContextBuilder, cfg Config) *AgentLoop {
	if cfg.MaxIterations == 0 {
		cfg.MaxIterations = 20
	}
	if cfg.ContextWindow == 0 {
		cfg.ContextWindow = 100_000
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &AgentLoop{
		bus:        b,
		provider:   p,
		sessions:   sessions,
		registry:   registry,
		ctxBuild:   ctxBuild,
		cfg:        cfg,
		logger:     cfg.Logger,
		httpClient: &http.Client{Timeout: 3 * time.Second},
	}
}

// LoadWorkspaceEnv merges {workspace}/.env into the process
// environment with existing values taking precedence (godotenv.Load
// never overwrites a variable that's already set; on any read/parse
// failure it falls back to a manual scan applying the same
// setenv-if-absent semantics).
func LoadWorkspaceEnv(workspace string) {
	path := filepath.Join(workspace, ".env")
	if err := godotenv.Load(path); err == nil {
		return
	}

	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		idx := strings.Index(line, "=")
		if idx < 0 {
			continue
		}
		key := strings.TrimSpace(line[:idx])
		val := strings.Trim(strings.TrimSpace(line[idx+1:]), `"'`)
		if key == "" {
			continue
		}
		if _, exists := os.LookupEnv(key); !exists {
			os.Setenv(key, val)
		}
	}
}

// Run blocks, draining the bus until ctx is cancelled or Stop is
// called. It is the message-driven operating mode, as opposed to
// ProcessDirect's synchronous call path.
func (l *AgentLoop) Run(ctx context.Context) {
	l.running.Store(true)
	for l.running.Load() {
		msg, err := l.bus.ConsumeInbound(ctx, time.Second)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue // Timeout: poll again.
		}
		l.dispatch(ctx, msg)
	}
}

// Stop requests the loop exit after its current poll interval.
func (l *AgentLoop) Stop() {
	l.running.Store(false)
}

func (l *AgentLoop) dispatch(ctx context.Context, msg message.InboundMessage) {
	defer func() {
		if r := recover(); r != nil {
			l.replyError(msg, fmt.Sprintf("%v", r))
		}
	}()

	var out *message.OutboundMessage
	var err error
	if msg.Channel == "system" {
		out, err = l.processSystemMessage(ctx, msg)
	} else {
		out, err = l.processUserMessage(ctx, msg)
	}

	if err != nil {
		l.replyError(msg, err.Error())
		return
	}
	if out != nil {
		if pubErr := l.bus.PublishOutbound(*out); pubErr != nil {
			l.logger.Warn("agent: failed to publish outbound reply", "error", pubErr)
		}
	}
}

func (l *AgentLoop) replyError(msg message.InboundMessage, errMsg string) {
	channel, chatID := msg.Channel, msg.ChatID
	if channel == "system" {
		channel, chatID = message.SplitSystemChatID(msg.ChatID)
	}
	out := message.OutboundMessage{
		Channel: channel,
		ChatID:  chatID,
		Content: fmt.Sprintf("Sorry, I encountered an error: %s", errMsg),
	}
	if pubErr := l.bus.PublishOutbound(out); pubErr != nil {
		l.logger.Warn("agent: failed to publish error reply", "error", pubErr)
	}
}

// processUserMessage runs one externally-triggered turn: plan gate,
// credit precheck, session-clear short-circuit, then an iteration.
func (l *AgentLoop) processUserMessage(ctx context.Context, msg message.InboundMessage) (*message.OutboundMessage, error) {
	internal := msg.Internal()

	if !internal && l.cfg.Plan == "free" {
		return l.reply(msg.Channel, msg.ChatID, freePlanReply), nil
	}

	if !internal {
		if blocked, reply := l.creditPrecheck(ctx); blocked {
			return l.reply(msg.Channel, msg.ChatID, reply), nil
		}
	}

	sess := l.sessions.GetOrCreate(msg.SessionKey())

	if msg.Metadata["clear_session"] == "true" {
		sess.Reset()
		if err := l.sessions.Save(sess); err != nil {
			l.logger.Warn("agent: failed to save cleared session", "session_key", msg.SessionKey(), "error", err)
		}
		return l.reply(msg.Channel, msg.ChatID, "Conversation cleared."), nil
	}

	l.registry.UpdateContexts(msg.Channel, msg.ChatID)
	l.registry.UpdateMetadata(msg.Metadata)

	terminal, usage, err := l.runIteration(ctx, sess, msg.Content, msg.Media, true)
	if err != nil {
		return nil, err
	}

	sess.AddMessage("user", msg.Content)
	sess.AddMessage("assistant", terminal)
	if err := l.sessions.Save(sess); err != nil {
		l.logger.Warn("agent: failed to save session", "session_key", msg.SessionKey(), "error", err)
	}

	l.emitUsage(usage)
	return l.reply(msg.Channel, msg.ChatID, terminal), nil
}

// processSystemMessage runs a cron/internal-triggered turn: it routes
// the reply back to the job's origin channel and chat rather than the
// system pseudo-channel the message arrived on.
func (l *AgentLoop) processSystemMessage(ctx context.Context, msg message.InboundMessage) (*message.OutboundMessage, error) {
	originChannel, originChatID := message.SplitSystemChatID(msg.ChatID)
	sessionKey := originChannel + ":" + originChatID

	sess := l.sessions.GetOrCreate(sessionKey)
	l.registry.UpdateContexts(originChannel, originChatID)
	l.registry.UpdateMetadata(msg.Metadata)

	terminal, usage, err := l.runIteration(ctx, sess, msg.Content, msg.Media, false)
	if err != nil {
		return nil, err
	}
	if terminal == "" {
		terminal = "Background task completed."
	}

	sess.AddMessage("user", fmt.Sprintf("[System: %s] %s", msg.SenderID, msg.Content))
	sess.AddMessage("assistant", terminal)
	if err := l.sessions.Save(sess); err != nil {
		l.logger.Warn("agent: failed to save session", "session_key", sessionKey, "error", err)
	}

	l.emitUsage(usage)
	return l.reply(originChannel, originChatID, terminal), nil
}

// ProcessDirect is the synchronous operating mode used by the CLI
// channel and by cron jobs that want an immediate reply instead of a
// bus round-trip.
func (l *AgentLoop) ProcessDirect(ctx context.Context, content, sessionKey, channel, chatID string, internal bool) (*message.OutboundMessage, error) {
	senderID := "user"
	if internal {
		senderID = "cron"
	}
	msg := message.InboundMessage{
		Channel:  channel,
		SenderID: senderID,
		ChatID:   chatID,
		Content:  content,
		Metadata: map[string]string{
			"internal":             fmt.Sprintf("%t", internal),
			"session_key_override": sessionKey,
		},
	}
	return l.processUserMessage(ctx, msg)
}

// RunTask drives one ephemeral iteration for a sub-agent task: no
// summarization, no credit gate, no session history kept past the
// call. Used by the sub-agent manager to actually perform a spawned
// task before announcing its result back to the origin conversation.
func (l *AgentLoop) RunTask(ctx context.Context, task string) (string, error) {
	sess := &session.Session{Key: "subagent"}
	terminal, _, err := l.runIteration(ctx, sess, task, nil, false)
	if err != nil {
		return "", err
	}
	return terminal, nil
}

// runIteration drives the LM+tool cycle for one turn and bounds
// sequential tool failures with a local counter; system-message turns
// apply the same cap as message-driven turns since the iteration
// machinery is shared between both call paths.
func (l *AgentLoop) runIteration(ctx context.Context, sess *session.Session, userContent string, media []string, applySummarize bool) (string, message.Usage, error) {
	var usage message.Usage

	if applySummarize {
		newSummary, retained, err := maybeSummarize(ctx, l.provider, l.cfg.Model, l.cfg.ContextWindow, sess.GetSummary(), sess.GetHistory())
		if err != nil {
			l.logger.Warn("agent: summarization failed, continuing with full history", "error", err)
		} else {
			sess.SetSummary(newSummary)
			sess.TrimTurns(retained)
		}
	}

	msgs := l.ctxBuild.BuildMessages(sess.GetHistory(), sess.GetSummary(), userContent, media)

	var terminal string
	sequentialFailures := 0

	for i := 0; i < l.cfg.MaxIterations; i++ {
		resp, err := l.provider.Chat(ctx, msgs, l.registry.Definitions(), l.cfg.Model, nil)
		if err != nil {
			return "", usage, fmt.Errorf("LM call failed: %w", err)
		}
		if resp.Usage != nil {
			usage.PromptTokens += resp.Usage.PromptTokens
			usage.CompletionTokens += resp.Usage.CompletionTokens
		}

		if !resp.HasToolCalls {
			terminal = resp.Content
			break
		}

		msgs = AddAssistantMessage(msgs, resp.Content, resp.ToolCalls)

		var lastFailureText string
		for _, call := range resp.ToolCalls {
			result := l.executeTool(ctx, call)
			msgs = AddToolResult(msgs, call.ID, call.Name, result.ForLLM)

			if result.IsError || tool.IsFailure(result.ForLLM) {
				sequentialFailures++
				lastFailureText = result.ForLLM
			} else {
				sequentialFailures = 0
			}
		}

		if l.cfg.MaxToolRetries > 0 && sequentialFailures >= l.cfg.MaxToolRetries {
			terminal = fmt.Sprintf("I've encountered repeated errors while trying to complete your request. The last error was: %s. Please double-check the requirements or provide more details so I can assist better.", lastFailureText)
			break
		}
	}

	if terminal == "" {
		terminal = "I've completed processing but have no response to give."
	}
	return terminal, usage, nil
}

func (l *AgentLoop) executeTool(ctx context.Context, call message.ToolCall) *tool.Result {
	result := l.registry.Execute(ctx, call.Name, call.Arguments)
	if result.Err != nil && !strings.HasPrefix(result.ForLLM, "Error:") {
		result.ForLLM = fmt.Sprintf("Error: tool execution crashed: %v", result.Err)
	}
	return result
}

func (l *AgentLoop) reply(channel, chatID, content string) *message.OutboundMessage {
	return &message.OutboundMessage{Channel: channel, ChatID: chatID, Content: content}
}

// creditPrecheck fails closed: any network or decode error blocks the
// turn rather than letting it through unchecked. Returns (blocked,
// replyContent). A no-op when the platform isn't configured.
func (l *AgentLoop) creditPrecheck(ctx context.Context) (bool, string) {
	platformURL := os.Getenv("PLATFORM_URL")
	creditUserID := os.Getenv("CREDIT_USER_ID")
	if platformURL == "" || creditUserID == "" {
		return false, ""
	}

	reqCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	url := fmt.Sprintf("%s/api/internal/credit-check/%s", platformURL, creditUserID)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return true, creditCheckFailedReply
	}
	resp, err := l.httpClient.Do(req)
	if err != nil {
		return true, creditCheckFailedReply
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return true, creditsExhaustedReply
	}

	var body struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return true, creditCheckFailedReply
	}
	if !body.OK {
		return true, creditsExhaustedReply
	}
	return false, ""
}

// emitUsage writes the [USAGE] line to stdout iff either counter is
// positive.
func (l *AgentLoop) emitUsage(u message.Usage) {
	if u.PromptTokens <= 0 && u.CompletionTokens <= 0 {
		return
	}
	line, err := json.Marshal(struct {
		PromptTokens     int    `json:"prompt_tokens"`
		CompletionTokens int    `json:"completion_tokens"`
		Model            string `json:"model"`
	}{u.PromptTokens, u.CompletionTokens, l.cfg.Model})
	if err != nil {
		return
	}
	fmt.Printf("[USAGE] %s\n", line)
	os.Stdout.Sync()
}
