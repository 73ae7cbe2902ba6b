// Package whatsapp implements the WhatsApp channel adapter as a client
// of an out-of-process bridge process (a Baileys/whatsmeow-style
// WhatsApp Web client) over a websocket carrying small JSON frames.
// Running the actual WhatsApp Web protocol in-process is out of scope
// here — see DESIGN.md's note on why this module doesn't vendor
// whatsmeow directly.
package whatsapp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nanoclaw/nanoclaw/internal/channel"
	"github.com/nanoclaw/nanoclaw/internal/channel/render"
	"github.com/nanoclaw/nanoclaw/internal/message"
)

// Config holds WhatsApp channel configuration.
type Config struct {
	BridgeURL    string // ws://... or wss://... endpoint the bridge listens on
	QRPath       string // where to write the pairing QR string, "" disables
	AllowedChats []string
	Workspace    string
}

type Typing struct {
	stop chan struct{}
}

type WhatsApp struct {
	cfg       Config
	logger    *slog.Logger
	publish   func(message.InboundMessage) error
	ctx       context.Context
	cancel    context.CancelFunc

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool

	typingMu sync.Mutex
	typing   map[string]*Typing
}

func New(cfg Config, logger *slog.Logger) *WhatsApp {
	if logger == nil {
		logger = slog.Default()
	}
	return &WhatsApp{
		cfg:    cfg,
		logger: logger.With("component", "whatsapp"),
		typing: make(map[string]*Typing),
	}
}

func (w *WhatsApp) Name() string { return "whatsapp" }

func (w *WhatsApp) Start(ctx context.Context, publish func(message.InboundMessage) error) error {
	if w.cfg.BridgeURL == "" {
		return fmt.Errorf("whatsapp: bridge_url is required")
	}
	w.publish = publish
	w.ctx, w.cancel = context.WithCancel(ctx)
	go w.connectLoop()
	return nil
}

func (w *WhatsApp) Stop() error {
	if w.cancel != nil {
		w.cancel()
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.connected = false
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
	}
	return nil
}

func (w *WhatsApp) isConnected() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.connected
}

func (w *WhatsApp) IsAllowed(chatID string) bool {
	if len(w.cfg.AllowedChats) == 0 {
		return true
	}
	for _, id := range w.cfg.AllowedChats {
		if id == chatID {
			return true
		}
	}
	return false
}

// connectLoop maintains the bridge connection, reconnecting every 5s
// on drop, matching the bridge client's own reconnect cadence.
func (w *WhatsApp) connectLoop() {
	for {
		select {
		case <-w.ctx.Done():
			return
		default:
		}

		conn, _, err := websocket.DefaultDialer.DialContext(w.ctx, w.cfg.BridgeURL, nil)
		if err != nil {
			w.logger.Warn("whatsapp: bridge connection error", "error", err)
			select {
			case <-w.ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}

		w.mu.Lock()
		w.conn = conn
		w.connected = true
		w.mu.Unlock()
		w.logger.Info("whatsapp: connected to bridge")

		w.readLoop(conn)

		w.mu.Lock()
		w.connected = false
		w.conn = nil
		w.mu.Unlock()

		select {
		case <-w.ctx.Done():
			return
		case <-time.After(5 * time.Second):
		}
	}
}

func (w *WhatsApp) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			w.logger.Warn("whatsapp: bridge read error", "error", err)
			return
		}
		w.handleBridgeMessage(data)
	}
}

func (w *WhatsApp) handleBridgeMessage(raw []byte) {
	var frame struct {
		Type      string `json:"type"`
		Sender    string `json:"sender"`
		Content   string `json:"content"`
		ID        string `json:"id"`
		Timestamp int64  `json:"timestamp"`
		IsGroup   bool   `json:"isGroup"`
		Status    string `json:"status"`
		QR        string `json:"qr"`
		Error     string `json:"error"`
	}
	if err := json.Unmarshal(raw, &frame); err != nil {
		w.logger.Warn("whatsapp: invalid frame from bridge", "error", err)
		return
	}

	switch frame.Type {
	case "message":
		w.handleIncomingMessage(frame.Sender, frame.Content, frame.ID, frame.Timestamp, frame.IsGroup)
	case "status":
		w.logger.Info("whatsapp: status", "status", frame.Status)
		if frame.Status == "connected" && w.cfg.QRPath != "" {
			_ = os.Remove(w.cfg.QRPath)
		}
	case "qr":
		if frame.QR != "" && w.cfg.QRPath != "" {
			if err := os.WriteFile(w.cfg.QRPath, []byte(frame.QR), 0o600); err != nil {
				w.logger.Error("whatsapp: failed to write QR code", "error", err)
			} else {
				w.logger.Info("whatsapp: QR code written, scan to connect", "path", w.cfg.QRPath)
			}
		}
	case "error":
		w.logger.Error("whatsapp: bridge error", "error", frame.Error)
	}
}

// handleIncomingMessage publishes the message and starts a composing
// repeater so the user sees "typing..." while the agent works.
func (w *WhatsApp) handleIncomingMessage(sender, content, msgID string, timestamp int64, isGroup bool) {
	chatID := sender // full JID, used for replies
	senderID := sender
	if idx := strings.Index(sender, "@"); idx >= 0 {
		senderID = sender[:idx]
	}

	if !w.IsAllowed(chatID) {
		return
	}

	if content == "[Voice Message]" {
		content = "[Voice Message: transcription not available for WhatsApp]"
	}

	inbound := message.InboundMessage{
		Channel:  "whatsapp",
		SenderID: senderID,
		ChatID:   chatID,
		Content:  content,
		Metadata: map[string]string{
			"message_id": msgID,
			"timestamp":  fmt.Sprintf("%d", timestamp),
			"is_group":   fmt.Sprintf("%t", isGroup),
		},
	}
	if w.publish != nil {
		if err := w.publish(inbound); err != nil {
			w.logger.Warn("whatsapp: publish failed", "error", err)
		}
	}

	w.startTyping(chatID)
}

// startTyping launches a goroutine resending "composing" every 4s
// until stopTyping cancels it, per the bridge's typing-indicator
// contract (a composing state must be refreshed or WhatsApp clears
// it client-side after a few seconds).
func (w *WhatsApp) startTyping(chatID string) {
	w.stopTyping(chatID)

	stop := make(chan struct{})
	w.typingMu.Lock()
	w.typing[chatID] = &Typing{stop: stop}
	w.typingMu.Unlock()

	go func() {
		ticker := time.NewTicker(4 * time.Second)
		defer ticker.Stop()
		w.sendFrame(map[string]any{"type": "typing", "to": chatID, "state": "composing"})
		for {
			select {
			case <-stop:
				return
			case <-w.ctx.Done():
				return
			case <-ticker.C:
				w.sendFrame(map[string]any{"type": "typing", "to": chatID, "state": "composing"})
			}
		}
	}()
}

func (w *WhatsApp) stopTyping(chatID string) {
	w.typingMu.Lock()
	t, ok := w.typing[chatID]
	if ok {
		delete(w.typing, chatID)
	}
	w.typingMu.Unlock()
	if ok {
		close(t.stop)
	}
	w.sendFrame(map[string]any{"type": "typing", "to": chatID, "state": "paused"})
}

func (w *WhatsApp) sendFrame(frame map[string]any) {
	w.mu.Lock()
	conn := w.conn
	connected := w.connected
	w.mu.Unlock()
	if !connected || conn == nil {
		return
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	w.mu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, data)
	w.mu.Unlock()
	if err != nil {
		w.logger.Warn("whatsapp: frame send failed", "error", err)
	}
}

var imageExts = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".webp": true, ".bmp": true}
var audioExts = map[string]bool{".mp3": true, ".wav": true, ".ogg": true, ".m4a": true, ".flac": true, ".aac": true}
var videoExts = map[string]bool{".mp4": true, ".mov": true, ".webm": true, ".avi": true, ".mkv": true}

var mimeByExt = map[string]string{
	".png": "image/png", ".jpg": "image/jpeg", ".jpeg": "image/jpeg",
	".gif": "image/gif", ".webp": "image/webp", ".bmp": "image/bmp",
	".pdf": "application/pdf", ".doc": "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".csv": "text/csv", ".txt": "text/plain",
	".mp3": "audio/mpeg", ".wav": "audio/wav", ".ogg": "audio/ogg",
	".m4a": "audio/mp4", ".flac": "audio/flac", ".aac": "audio/aac",
	".mp4": "video/mp4", ".mov": "video/quicktime", ".webm": "video/webm",
}

// Send resolves attachment markers in msg.Content into base64-encoded
// media frames (send_image/send_audio/send_video/send_document) and
// sends the remaining text as a plain "send" frame. Typing is stopped
// unconditionally on return, matching the bridge's own behavior.
func (w *WhatsApp) Send(ctx context.Context, msg message.OutboundMessage) error {
	defer w.stopTyping(msg.ChatID)

	if !w.isConnected() {
		return channel.ErrDisconnected
	}

	text, files := render.ExtractAttachments(msg.Content, w.cfg.Workspace)

	for _, path := range files {
		if err := w.sendMediaFrame(msg.ChatID, path); err != nil {
			w.logger.Warn("whatsapp: failed to send attachment", "path", path, "error", err)
		}
	}

	if text == "" {
		return nil
	}
	w.sendFrame(map[string]any{"type": "send", "to": msg.ChatID, "text": render.FormatForWhatsApp(text)})
	return nil
}

func (w *WhatsApp) sendMediaFrame(chatID, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	ext := strings.ToLower(filepath.Ext(path))
	filename := filepath.Base(path)
	mimetype := mimeByExt[ext]
	if mimetype == "" {
		mimetype = "application/octet-stream"
	}
	encoded := base64.StdEncoding.EncodeToString(data)

	var frame map[string]any
	switch {
	case imageExts[ext]:
		frame = map[string]any{"type": "send_image", "to": chatID, "image": encoded, "caption": "\U0001F4F8 " + filename, "mimetype": mimetype}
	case audioExts[ext]:
		frame = map[string]any{"type": "send_audio", "to": chatID, "data": encoded, "mimetype": mimetype, "filename": filename}
	case videoExts[ext]:
		frame = map[string]any{"type": "send_video", "to": chatID, "data": encoded, "mimetype": mimetype, "caption": "\U0001F3AC " + filename}
	default:
		frame = map[string]any{"type": "send_document", "to": chatID, "data": encoded, "mimetype": mimetype, "filename": filename, "caption": "\U0001F4C4 " + filename}
	}
	w.sendFrame(frame)
	return nil
}

var _ channel.Channel = (*WhatsApp)(nil)
