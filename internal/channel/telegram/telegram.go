// Package telegram implements the Telegram channel adapter using the
// Bot API directly over HTTP, via long polling — no external
// dependency required.
package telegram

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
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nanoclaw/nanoclaw/internal/channel"
	"github.com/nanoclaw/nanoclaw/internal/channel/render"
	"github.com/nanoclaw/nanoclaw/internal/message"
	"github.com/nanoclaw/nanoclaw/internal/provider"
)

// Config holds Telegram channel configuration.
type Config struct {
	Token        string
	AllowedChats []string
	Workspace    string
	// MediaDir is where downloaded attachments are saved, defaulting
	// to ~/.nanobot/media to match the original assistant's convention.
	MediaDir string
	// Transcriber, if set, converts downloaded voice/audio files to
	// text appended to the message as "[transcription: ...]".
	Transcriber provider.TranscriptionProvider
}

type Telegram struct {
	cfg       Config
	logger    *slog.Logger
	client    *http.Client
	baseURL   string
	publish   func(message.InboundMessage) error
	connected atomic.Bool
	offset    int64
	ctx       context.Context
	cancel    context.CancelFunc
}

func New(cfg Config, logger *slog.Logger) *Telegram {
	if logger == nil {
		logger = slog.Default()
	}
	return &Telegram{
		cfg:     cfg,
		logger:  logger.With("component", "telegram"),
		client:  &http.Client{Timeout: 60 * time.Second},
		baseURL: "https://api.telegram.org/bot" + cfg.Token,
	}
}

func (t *Telegram) Name() string { return "telegram" }

func (t *Telegram) Start(ctx context.Context, publish func(message.InboundMessage) error) error {
	if t.cfg.Token == "" {
		return fmt.Errorf("telegram: bot token is required")
	}
	if t.connected.Load() {
		return nil
	}
	t.publish = publish
	t.ctx, t.cancel = context.WithCancel(ctx)

	if _, err := t.apiCall("getMe", nil); err != nil {
		return fmt.Errorf("telegram: failed to verify token: %w", err)
	}
	t.connected.Store(true)
	t.logger.Info("telegram: connected")

	go t.pollLoop()
	return nil
}

func (t *Telegram) Stop() error {
	if t.cancel != nil {
		t.cancel()
	}
	t.connected.Store(false)
	return nil
}

func (t *Telegram) IsAllowed(chatID string) bool {
	return channelAllowlistOK(t.cfg.AllowedChats, chatID)
}

func channelAllowlistOK(allowlist []string, chatID string) bool {
	if len(allowlist) == 0 {
		return true
	}
	for _, id := range allowlist {
		if id == chatID {
			return true
		}
	}
	return false
}

// Send renders msg to Telegram HTML, resolves any embedded attachment
// markers into file uploads, and sends the text remainder (if any).
func (t *Telegram) Send(ctx context.Context, msg message.OutboundMessage) error {
	if !t.connected.Load() {
		return channel.ErrDisconnected
	}
	chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: invalid chat ID %q: %w", msg.ChatID, err)
	}

	text, files := render.ExtractAttachments(msg.Content, t.cfg.Workspace)

	for _, path := range files {
		if err := t.sendFile(chatID, path); err != nil {
			t.logger.Warn("telegram: failed to send attachment", "path", path, "error", err)
		}
	}

	if text == "" {
		return nil
	}

	payload := map[string]any{
		"chat_id":    chatID,
		"text":       render.FormatForTelegram(text),
		"parse_mode": "HTML",
	}
	if msg.ReplyTo != "" {
		if msgID, e := strconv.ParseInt(msg.ReplyTo, 10, 64); e == nil {
			payload["reply_parameters"] = map[string]any{"message_id": msgID}
		}
	}
	if _, err = t.apiCall("sendMessage", payload); err != nil {
		t.logger.Warn("telegram: HTML send failed, retrying as plain text", "error", err)
		plainPayload := map[string]any{
			"chat_id": chatID,
			"text":    text,
		}
		if msg.ReplyTo != "" {
			if msgID, e := strconv.ParseInt(msg.ReplyTo, 10, 64); e == nil {
				plainPayload["reply_parameters"] = map[string]any{"message_id": msgID}
			}
		}
		_, err = t.apiCall("sendMessage", plainPayload)
	}
	return err
}

var imageExts = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".webp": true, ".bmp": true}
var audioExts = map[string]bool{".mp3": true, ".wav": true, ".ogg": true, ".m4a": true, ".flac": true, ".aac": true}
var videoExts = map[string]bool{".mp4": true, ".mov": true, ".webm": true, ".avi": true, ".mkv": true}

func (t *Telegram) sendFile(chatID int64, path string) error {
	ext := strings.ToLower(filepath.Ext(path))
	method, field := "sendDocument", "document"
	switch {
	case imageExts[ext]:
		method, field = "sendPhoto", "photo"
	case audioExts[ext]:
		method, field = "sendAudio", "audio"
	case videoExts[ext]:
		method, field = "sendVideo", "video"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	_ = w.WriteField("chat_id", strconv.FormatInt(chatID, 10))
	part, err := w.CreateFormFile(field, filepath.Base(path))
	if err != nil {
		return err
	}
	if _, err := part.Write(data); err != nil {
		return err
	}
	w.Close()

	req, err := http.NewRequestWithContext(t.ctx, http.MethodPost, t.baseURL+"/"+method, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var result struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return err
	}
	if !result.OK {
		return fmt.Errorf("telegram: %s: %s", method, result.Description)
	}
	return nil
}

func (t *Telegram) pollLoop() {
	backoff := time.Second
	for {
		select {
		case <-t.ctx.Done():
			return
		default:
		}

		updates, err := t.getUpdates(t.offset, 100, 30)
		if err != nil {
			t.logger.Warn("telegram: getUpdates error", "error", err, "backoff", backoff)
			select {
			case <-t.ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for _, u := range updates {
			if u.UpdateID >= t.offset {
				t.offset = u.UpdateID + 1
			}
			t.processUpdate(u)
		}
	}
}

func (t *Telegram) processUpdate(u tgUpdate) {
	msg := u.Message
	if msg == nil {
		return
	}
	chatIDStr := strconv.FormatInt(msg.Chat.ID, 10)
	if !t.IsAllowed(chatIDStr) {
		return
	}

	var contentParts []string
	if msg.Text != "" {
		contentParts = append(contentParts, msg.Text)
	}
	if msg.Caption != "" {
		contentParts = append(contentParts, msg.Caption)
	}

	var mediaFile *tgFileRef
	var mediaType string
	switch {
	case len(msg.Photo) > 0:
		mediaFile = &tgFileRef{FileID: msg.Photo[len(msg.Photo)-1].FileID}
		mediaType = "image"
	case msg.Voice != nil:
		mediaFile = msg.Voice
		mediaType = "voice"
	case msg.Audio != nil:
		mediaFile = msg.Audio
		mediaType = "audio"
	case msg.Video != nil:
		mediaFile = msg.Video
		mediaType = "file"
	case msg.Document != nil:
		mediaFile = msg.Document
		mediaType = "file"
	}

	var media []string
	metadata := map[string]string{}
	if mediaFile != nil {
		path, err := t.downloadMediaFile(mediaFile.FileID, mediaType, mediaFile.MimeType)
		if err != nil {
			t.logger.Error("telegram: failed to download media", "error", err)
			contentParts = append(contentParts, fmt.Sprintf("[%s: download failed]", mediaType))
		} else {
			media = append(media, path)
			if (mediaType == "voice" || mediaType == "audio") && t.cfg.Transcriber != nil {
				text, err := t.cfg.Transcriber.Transcribe(t.ctx, path)
				if err != nil || text == "" {
					if err != nil {
						t.logger.Warn("telegram: transcription failed", "error", err)
					}
					contentParts = append(contentParts, fmt.Sprintf("[%s: %s]", mediaType, path))
				} else {
					contentParts = append(contentParts, fmt.Sprintf("[transcription: %s]", text))
				}
			} else {
				contentParts = append(contentParts, fmt.Sprintf("[%s: %s]", mediaType, path))
			}
			if mediaType == "voice" {
				metadata["voice_note"] = "true"
			}
		}
	}

	content := strings.Join(contentParts, "\n")
	if content == "" {
		content = "[empty message]"
	}

	inbound := message.InboundMessage{
		Channel:  "telegram",
		SenderID: t.senderID(msg),
		ChatID:   chatIDStr,
		Content:  content,
		Media:    media,
		Metadata: metadata,
	}

	if t.publish != nil {
		if err := t.publish(inbound); err != nil {
			t.logger.Warn("telegram: publish failed", "error", err)
		}
	}
}

var mediaExtByMimeType = map[string]string{
	"image/jpeg": ".jpg", "image/png": ".png", "image/gif": ".gif",
	"audio/ogg": ".ogg", "audio/mpeg": ".mp3", "audio/mp4": ".m4a",
}
var mediaExtByType = map[string]string{"image": ".jpg", "voice": ".ogg", "audio": ".mp3", "file": ""}

// downloadMediaFile fetches fileID to the configured media directory,
// named by the first 16 characters of the file ID, matching the
// original assistant's ~/.nanobot/media/ convention.
func (t *Telegram) downloadMediaFile(fileID, mediaType, mimeType string) (string, error) {
	data, err := t.DownloadMedia(t.ctx, fileID)
	if err != nil {
		return "", err
	}

	mediaDir := t.cfg.MediaDir
	if mediaDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		mediaDir = filepath.Join(home, ".nanobot", "media")
	}
	if err := os.MkdirAll(mediaDir, 0o755); err != nil {
		return "", err
	}

	ext, ok := mediaExtByMimeType[mimeType]
	if !ok {
		ext = mediaExtByType[mediaType]
	}
	truncated := fileID
	if len(truncated) > 16 {
		truncated = truncated[:16]
	}
	path := filepath.Join(mediaDir, truncated+ext)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func (t *Telegram) senderID(msg *tgMessage) string {
	if msg.From != nil {
		return strconv.FormatInt(msg.From.ID, 10)
	}
	return "0"
}

type tgUpdate struct {
	UpdateID int64      `json:"update_id"`
	Message  *tgMessage `json:"message"`
}

type tgMessage struct {
	From     *tgUser     `json:"from"`
	Chat     tgChat      `json:"chat"`
	Text     string      `json:"text"`
	Caption  string      `json:"caption"`
	Photo    []tgPhoto   `json:"photo"`
	Audio    *tgFileRef  `json:"audio"`
	Voice    *tgFileRef  `json:"voice"`
	Video    *tgFileRef  `json:"video"`
	Document *tgFileRef  `json:"document"`
}

type tgUser struct {
	ID int64 `json:"id"`
}

type tgChat struct {
	ID int64 `json:"id"`
}

type tgPhoto struct {
	FileID string `json:"file_id"`
}

type tgFileRef struct {
	FileID   string `json:"file_id"`
	MimeType string `json:"mime_type"`
}

func (t *Telegram) apiCall(method string, payload map[string]any) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(t.ctx, http.MethodPost, t.baseURL+"/"+method, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram: %s request failed: %w", method, err)
	}
	defer resp.Body.Close()

	var result struct {
		OK          bool            `json:"ok"`
		Description string          `json:"description"`
		Result      json.RawMessage `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	if !result.OK {
		return nil, fmt.Errorf("telegram: %s: %s", method, result.Description)
	}
	return result.Result, nil
}

func (t *Telegram) getUpdates(offset int64, limit, timeoutSecs int) ([]tgUpdate, error) {
	data, err := t.apiCall("getUpdates", map[string]any{
		"offset": offset, "limit": limit, "timeout": timeoutSecs,
		"allowed_updates": []string{"message"},
	})
	if err != nil {
		return nil, err
	}
	var updates []tgUpdate
	if err := json.Unmarshal(data, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

// DownloadMedia fetches an attachment's bytes by file_id; the adapter's
// own inbound media handling saves them to a local path.
func (t *Telegram) DownloadMedia(ctx context.Context, fileID string) ([]byte, error) {
	data, err := t.apiCall("getFile", map[string]any{"file_id": fileID})
	if err != nil {
		return nil, err
	}
	var fileInfo struct {
		FilePath string `json:"file_path"`
	}
	if err := json.Unmarshal(data, &fileInfo); err != nil {
		return nil, err
	}
	url := fmt.Sprintf("https://api.telegram.org/file/bot%s/%s", t.cfg.Token, fileInfo.FilePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

var _ channel.Channel = (*Telegram)(nil)
