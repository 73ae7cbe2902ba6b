// Package teams implements the Microsoft Teams channel adapter as a
// Bot Framework webhook receiver. There is no Teams precedent anywhere
// in the retrieved corpus, so this is built fresh in the same
// http.Server/ServeMux/graceful-Shutdown idiom the rest of the module
// uses for its own HTTP surfaces.
package teams

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/nanoclaw/nanoclaw/internal/channel"
	"github.com/nanoclaw/nanoclaw/internal/message"
)

// Config holds Teams channel configuration.
type Config struct {
	AppID          string
	AppPassword    string
	ListenAddr     string // e.g. ":3978", the Bot Framework messages endpoint
	AllowedChats   []string
}

type Teams struct {
	cfg       Config
	logger    *slog.Logger
	client    *http.Client
	server    *http.Server
	publish   func(message.InboundMessage) error
	connected bool

	tokenMu     sync.Mutex
	token       string
	tokenExpiry time.Time

	convMu    sync.Mutex
	conversations map[string]conversationRef // chatID -> reference
}

// conversationRef is what's needed to proactively reply into a Teams
// conversation: the service host and the conversation's own ID.
type conversationRef struct {
	ConversationID string
	ServiceURL     string
}

func New(cfg Config, logger *slog.Logger) *Teams {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":3978"
	}
	return &Teams{
		cfg:           cfg,
		logger:        logger.With("component", "teams"),
		client:        &http.Client{Timeout: 30 * time.Second},
		conversations: make(map[string]conversationRef),
	}
}

func (t *Teams) Name() string { return "teams" }

func (t *Teams) Start(ctx context.Context, publish func(message.InboundMessage) error) error {
	if t.cfg.AppID == "" || t.cfg.AppPassword == "" {
		return fmt.Errorf("teams: app_id and app_password are both required")
	}
	if t.connected {
		return nil
	}
	t.publish = publish

	mux := http.NewServeMux()
	mux.HandleFunc("/api/messages", t.handleActivity)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	t.server = &http.Server{Addr: t.cfg.ListenAddr, Handler: mux}
	go func() {
		if err := t.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			t.logger.Error("teams: webhook server error", "error", err)
		}
	}()
	t.connected = true
	t.logger.Info("teams: webhook listening", "addr", t.cfg.ListenAddr)
	return nil
}

func (t *Teams) Stop() error {
	if t.server == nil {
		return nil
	}
	t.connected = false
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	t.logger.Info("teams: webhook stopping...")
	return t.server.Shutdown(ctx)
}

func (t *Teams) IsAllowed(chatID string) bool {
	if len(t.cfg.AllowedChats) == 0 {
		return true
	}
	for _, id := range t.cfg.AllowedChats {
		if id == chatID {
			return true
		}
	}
	return false
}

// activity is the subset of a Bot Framework Activity this adapter
// reads and writes. Field names follow the Bot Framework schema.
type activity struct {
	Type           string          `json:"type"`
	Text           string          `json:"text"`
	From           *activityUser   `json:"from"`
	Conversation   *activityConv   `json:"conversation"`
	ServiceURL     string          `json:"serviceUrl"`
	ReplyToID      string          `json:"replyToId,omitempty"`
	Attachments    []any           `json:"attachments,omitempty"`
}

type activityUser struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type activityConv struct {
	ID string `json:"id"`
}

var mentionTagRe = regexp.MustCompile(`(?s)<at[^>]*>.*?</at>`)

func (t *Teams) handleActivity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	var act activity
	if err := json.Unmarshal(body, &act); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusOK)

	if act.Type != "message" || act.Conversation == nil || act.From == nil {
		return
	}

	chatID := act.Conversation.ID
	t.convMu.Lock()
	t.conversations[chatID] = conversationRef{ConversationID: act.Conversation.ID, ServiceURL: act.ServiceURL}
	t.convMu.Unlock()

	if !t.IsAllowed(chatID) {
		return
	}

	text := mentionTagRe.ReplaceAllString(act.Text, "")
	text = strings.TrimSpace(text)

	inbound := message.InboundMessage{
		Channel:  "teams",
		SenderID: act.From.ID,
		ChatID:   chatID,
		Content:  text,
		Metadata: map[string]string{"reply_to_id": act.ReplyToID},
	}
	if t.publish != nil {
		if err := t.publish(inbound); err != nil {
			t.logger.Warn("teams: publish failed", "error", err)
		}
	}
}

// Send posts msg proactively via the stored conversation reference,
// using the Connector API's conversations/{id}/activities endpoint.
func (t *Teams) Send(ctx context.Context, msg message.OutboundMessage) error {
	if !t.connected {
		return channel.ErrDisconnected
	}

	t.convMu.Lock()
	ref, ok := t.conversations[msg.ChatID]
	t.convMu.Unlock()
	if !ok {
		return fmt.Errorf("teams: no known conversation reference for chat %q", msg.ChatID)
	}

	token, err := t.getToken(ctx)
	if err != nil {
		return fmt.Errorf("teams: fetching token: %w", err)
	}

	payload := map[string]any{
		"type": "message",
		"text": msg.Content,
	}
	if msg.ReplyTo != "" {
		payload["replyToId"] = msg.ReplyTo
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	endpoint := strings.TrimRight(ref.ServiceURL, "/") + "/v3/conversations/" + url.PathEscape(ref.ConversationID) + "/activities"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("teams: send request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("teams: send failed: %s: %s", resp.Status, string(respBody))
	}
	return nil
}

// getToken returns a cached OAuth2 client-credentials token, refreshing
// it whenever fewer than 60 seconds of validity remain.
func (t *Teams) getToken(ctx context.Context) (string, error) {
	t.tokenMu.Lock()
	defer t.tokenMu.Unlock()

	if t.token != "" && time.Now().Before(t.tokenExpiry) {
		return t.token, nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", t.cfg.AppID)
	form.Set("client_secret", t.cfg.AppPassword)
	form.Set("scope", "https://api.botframework.com/.default")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		"https://login.microsoftonline.com/botframework.com/oauth2/v2.0/token",
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var result struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	if result.AccessToken == "" {
		return "", fmt.Errorf("oauth2 token response missing access_token")
	}

	t.token = result.AccessToken
	// 60s safety margin so an in-flight send never races token expiry.
	t.tokenExpiry = time.Now().Add(time.Duration(result.ExpiresIn)*time.Second - 60*time.Second)
	return t.token, nil
}

var _ channel.Channel = (*Teams)(nil)
