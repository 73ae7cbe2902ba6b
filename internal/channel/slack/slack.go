// Package slack implements the Slack channel adapter over Socket
// Mode: a websocket connection obtained via apps.connections.open,
// acknowledged per-envelope, so no public webhook URL is required.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nanoclaw/nanoclaw/internal/channel"
	"github.com/nanoclaw/nanoclaw/internal/channel/render"
	"github.com/nanoclaw/nanoclaw/internal/message"
)

// Config holds Slack channel configuration.
type Config struct {
	BotToken        string
	AppToken        string // xapp-... token for Socket Mode
	AllowedChannels []string
	ReplyInThread   bool
	Workspace       string
}

type Slack struct {
	cfg       Config
	logger    *slog.Logger
	client    *http.Client
	botUserID string
	publish   func(message.InboundMessage) error
	connected atomic.Bool
	ctx       context.Context
	cancel    context.CancelFunc
}

func New(cfg Config, logger *slog.Logger) *Slack {
	if logger == nil {
		logger = slog.Default()
	}
	return &Slack{
		cfg:    cfg,
		logger: logger.With("component", "slack"),
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (s *Slack) Name() string { return "slack" }

func (s *Slack) Start(ctx context.Context, publish func(message.InboundMessage) error) error {
	if s.cfg.BotToken == "" || s.cfg.AppToken == "" {
		return fmt.Errorf("slack: bot_token and app_token are both required for Socket Mode")
	}
	if s.connected.Load() {
		return nil
	}
	s.publish = publish
	s.ctx, s.cancel = context.WithCancel(ctx)

	identity, err := s.authTest()
	if err != nil {
		return fmt.Errorf("slack: auth.test failed: %w", err)
	}
	s.botUserID = identity.UserID
	s.connected.Store(true)
	s.logger.Info("slack: connected", "bot_user_id", s.botUserID, "team", identity.Team)

	go s.socketModeLoop()
	return nil
}

func (s *Slack) Stop() error {
	if s.cancel != nil {
		s.cancel()
	}
	s.connected.Store(false)
	return nil
}

func (s *Slack) IsAllowed(chatID string) bool {
	if len(s.cfg.AllowedChannels) == 0 {
		return true
	}
	for _, id := range s.cfg.AllowedChannels {
		if id == chatID {
			return true
		}
	}
	return false
}

func (s *Slack) Send(ctx context.Context, msg message.OutboundMessage) error {
	if !s.connected.Load() {
		return channel.ErrDisconnected
	}

	text, files := render.ExtractAttachments(msg.Content, s.cfg.Workspace)
	for _, path := range files {
		if err := s.uploadFile(msg.ChatID, path, msg.Metadata["thread_ts"]); err != nil {
			s.logger.Warn("slack: failed to upload attachment", "path", path, "error", err)
		}
	}
	if text == "" {
		return nil
	}

	payload := map[string]any{
		"channel": msg.ChatID,
		"text":    render.FormatForSlack(text),
	}
	if msg.ReplyTo != "" {
		payload["thread_ts"] = msg.ReplyTo
	} else if s.cfg.ReplyInThread && msg.Metadata != nil && msg.Metadata["thread_ts"] != "" {
		payload["thread_ts"] = msg.Metadata["thread_ts"]
	}
	_, err := s.apiCall("chat.postMessage", payload)
	return err
}

// socketModeLoop opens a fresh apps.connections.open websocket and
// reconnects with exponential backoff on any error, since Slack both
// expects and periodically forces reconnects (disconnect envelopes).
func (s *Slack) socketModeLoop() {
	backoff := time.Second
	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		wsURL, err := s.getSocketModeURL()
		if err != nil {
			s.logger.Warn("slack: apps.connections.open failed", "error", err, "backoff", backoff)
			select {
			case <-s.ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}

		if err := s.runConnection(wsURL); err != nil {
			s.logger.Warn("slack: socket mode connection ended", "error", err, "backoff", backoff)
			select {
			case <-s.ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second
	}
}

func (s *Slack) runConnection(wsURL string) error {
	conn, _, err := websocket.DefaultDialer.DialContext(s.ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dialing socket mode: %w", err)
	}
	defer conn.Close()

	for {
		select {
		case <-s.ctx.Done():
			return nil
		default:
		}

		var envelope slackEnvelope
		if err := conn.ReadJSON(&envelope); err != nil {
			return fmt.Errorf("reading envelope: %w", err)
		}

		if envelope.Type == "disconnect" {
			return nil
		}

		if envelope.EnvelopeID != "" {
			_ = conn.WriteJSON(map[string]string{"envelope_id": envelope.EnvelopeID})
		}

		if envelope.Type == "events_api" {
			s.handleEvent(envelope.Payload)
		}
	}
}

func (s *Slack) handleEvent(payload json.RawMessage) {
	var outer struct {
		Event slackEvent `json:"event"`
	}
	if err := json.Unmarshal(payload, &outer); err != nil {
		return
	}
	ev := outer.Event
	if ev.Type != "message" || ev.BotID != "" || ev.Subtype != "" || ev.User == s.botUserID {
		return
	}
	if !s.IsAllowed(ev.Channel) {
		return
	}

	metadata := map[string]string{}
	replyTo := ""
	if ev.ThreadTS != "" && ev.ThreadTS != ev.TS {
		replyTo = ev.ThreadTS
	}
	metadata["thread_ts"] = ev.TS
	if replyTo != "" {
		metadata["thread_id"] = replyTo
	}

	var media []string
	for _, f := range ev.Files {
		media = append(media, f.URLPrivateDownload)
	}

	inbound := message.InboundMessage{
		Channel:  "slack",
		SenderID: ev.User,
		ChatID:   ev.Channel,
		Content:  ev.Text,
		Media:    media,
		Metadata: metadata,
	}
	if s.publish != nil {
		if err := s.publish(inbound); err != nil {
			s.logger.Warn("slack: publish failed", "error", err)
		}
	}
}

type slackEnvelope struct {
	Type       string          `json:"type"`
	EnvelopeID string          `json:"envelope_id"`
	Payload    json.RawMessage `json:"payload"`
}

type slackEvent struct {
	Type     string          `json:"type"`
	Subtype  string          `json:"subtype"`
	User     string          `json:"user"`
	BotID    string          `json:"bot_id"`
	Channel  string          `json:"channel"`
	Text     string          `json:"text"`
	TS       string          `json:"ts"`
	ThreadTS string          `json:"thread_ts"`
	Files    []slackFile     `json:"files"`
}

type slackFile struct {
	URLPrivateDownload string `json:"url_private_download"`
	Mimetype           string `json:"mimetype"`
	Name               string `json:"name"`
}

type slackAuthIdentity struct {
	UserID string `json:"user_id"`
	User   string `json:"user"`
	Team   string `json:"team"`
}

func (s *Slack) authTest() (*slackAuthIdentity, error) {
	data, err := s.apiCall("auth.test", nil)
	if err != nil {
		return nil, err
	}
	var identity slackAuthIdentity
	if err := json.Unmarshal(data, &identity); err != nil {
		return nil, err
	}
	return &identity, nil
}

func (s *Slack) getSocketModeURL() (string, error) {
	req, err := http.NewRequestWithContext(s.ctx, http.MethodPost, "https://slack.com/api/apps.connections.open", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+s.cfg.AppToken)
	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var result struct {
		OK    bool   `json:"ok"`
		URL   string `json:"url"`
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	if !result.OK {
		return "", fmt.Errorf("apps.connections.open: %s", result.Error)
	}
	return result.URL, nil
}

func (s *Slack) apiCall(method string, payload map[string]any) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(s.ctx, http.MethodPost, "https://slack.com/api/"+method, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+s.cfg.BotToken)
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("slack: %s request failed: %w", method, err)
	}
	defer resp.Body.Close()

	var result struct {
		OK     bool            `json:"ok"`
		Error  string          `json:"error"`
		Result json.RawMessage `json:"-"`
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, err
	}
	if !result.OK {
		return nil, fmt.Errorf("slack: %s: %s", method, result.Error)
	}
	return raw, nil
}

func (s *Slack) uploadFile(channelID, path, threadTS string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	_ = w.WriteField("channels", channelID)
	if threadTS != "" {
		_ = w.WriteField("thread_ts", threadTS)
	}
	part, err := w.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return err
	}
	if _, err := part.Write(data); err != nil {
		return err
	}
	w.Close()

	req, err := http.NewRequestWithContext(s.ctx, http.MethodPost, "https://slack.com/api/files.upload", &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+s.cfg.BotToken)
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var result struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return err
	}
	if !result.OK {
		return fmt.Errorf("slack: files.upload: %s", result.Error)
	}
	return nil
}

var _ channel.Channel = (*Slack)(nil)
