package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nanoclaw/nanoclaw/internal/message"
)

// Config configures the browser tool's single lazily-started
// instance.
type Config struct {
	Enabled         bool
	ChromePath      string
	Headless        bool
	TimeoutSeconds  int // per-action CDP timeout, default 30
	ViewportWidth   int
	ViewportHeight  int
	SSRFPolicy      SSRFPolicy
	MaxToolRetries  int // unused here; the loop owns sequential tool-failure capping
}

func DefaultConfig() Config {
	return Config{
		Enabled:        true,
		Headless:       true,
		TimeoutSeconds: 30,
		ViewportWidth:  1280,
		ViewportHeight: 800,
	}
}

// chromeCandidates lists binary names/paths searched in order when
// ChromePath isn't set explicitly.
var chromeCandidates = []string{
	"google-chrome", "google-chrome-stable", "chromium", "chromium-browser",
	"/usr/bin/google-chrome", "/usr/bin/chromium", "/usr/bin/chromium-browser",
	"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
}

// Manager owns the one Chrome process + CDP connection this tool
// drives for the lifetime of a BrowserSession.
type Manager struct {
	cfg         Config
	logger      *slog.Logger
	ssrfGuard   *SSRFGuard
	fingerprint message.BrowserFingerprint

	mu           sync.Mutex
	cmd          *exec.Cmd
	wsURL        string
	conn         *websocket.Conn
	msgID        int
	started      bool
	lastMousePos point
}

func NewManager(cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:         cfg,
		logger:      logger,
		ssrfGuard:   NewSSRFGuard(cfg.SSRFPolicy),
		fingerprint: NewFingerprint(),
	}
}

func (m *Manager) findChrome() (string, error) {
	if m.cfg.ChromePath != "" {
		return m.cfg.ChromePath, nil
	}
	for _, candidate := range chromeCandidates {
		if path, err := exec.LookPath(candidate); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("no Chrome/Chromium binary found; set ChromePath")
}

func allocatePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// Start launches Chrome (if not already started) and connects the CDP
// websocket. Safe to call repeatedly; only the first call does work.
func (m *Manager) Start(ctx context.Context) error {
	justStarted, err := m.startLocked(ctx)
	if err != nil {
		return err
	}
	if justStarted {
		if err := m.applyFingerprint(ctx); err != nil {
			return fmt.Errorf("applying fingerprint: %w", err)
		}
	}
	return nil
}

// startLocked does the actual process/websocket bring-up under the
// manager's lock and reports whether this call was the one that
// started it, so the caller can run the (lock-free) fingerprint setup
// exactly once.
func (m *Manager) startLocked(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return false, nil
	}

	chromePath, err := m.findChrome()
	if err != nil {
		return false, err
	}
	port, err := allocatePort()
	if err != nil {
		return false, fmt.Errorf("allocating CDP port: %w", err)
	}

	args := []string{
		"--remote-debugging-port=" + strconv.Itoa(port),
		"--no-first-run",
		"--no-default-browser-check",
		"--disable-extensions",
		"--disable-popup-blocking",
		"--disable-translate",
		"--disable-background-networking",
		"--disable-sync",
		"--disable-default-apps",
		"--disable-dev-shm-usage",
		"--no-sandbox",
		fmt.Sprintf("--window-size=%d,%d", m.cfg.ViewportWidth, m.cfg.ViewportHeight),
		"--user-agent=" + m.fingerprint.UserAgent,
	}
	if m.cfg.Headless {
		args = append(args, "--headless=new")
	}
	args = append(args, "about:blank")

	cmd := exec.CommandContext(ctx, chromePath, args...)
	if err := cmd.Start(); err != nil {
		return false, fmt.Errorf("launching chrome: %w", err)
	}

	wsURL, err := m.waitForCDP(port, 10*time.Second)
	if err != nil {
		_ = cmd.Process.Kill()
		return false, err
	}

	m.cmd = cmd
	m.wsURL = wsURL
	m.started = true
	return true, nil
}

func (m *Manager) waitForCDP(port int, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	url := fmt.Sprintf("http://127.0.0.1:%d/json/version", port)

	for time.Now().Before(deadline) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		req, _ := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		resp, err := http.DefaultClient.Do(req)
		cancel()
		if err == nil {
			var info struct {
				WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
			}
			if json.NewDecoder(resp.Body).Decode(&info) == nil && info.WebSocketDebuggerURL != "" {
				resp.Body.Close()
				return info.WebSocketDebuggerURL, nil
			}
			resp.Body.Close()
		}
		time.Sleep(200 * time.Millisecond)
	}
	return "", fmt.Errorf("timeout waiting for CDP on port %d", port)
}

func (m *Manager) connect() (*websocket.Conn, error) {
	if m.conn != nil {
		return m.conn, nil
	}
	conn, _, err := websocket.DefaultDialer.Dial(m.wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("CDP websocket dial failed: %w", err)
	}
	m.conn = conn
	return conn, nil
}

// sendCDP sends a CDP command and waits for the matching response by
// id. Takes m.mu itself, serializing all actions through the single
// page.
func (m *Manager) sendCDP(method string, params map[string]any) (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, err := m.connect()
	if err != nil {
		return nil, err
	}

	m.msgID++
	msg := map[string]any{"id": m.msgID, "method": method}
	if params != nil {
		msg["params"] = params
	}
	if err := conn.WriteJSON(msg); err != nil {
		conn.Close()
		m.conn = nil
		return nil, fmt.Errorf("CDP write error: %w", err)
	}

	targetID := m.msgID
	timeout := time.Duration(m.cfg.TimeoutSeconds) * time.Second
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	conn.SetReadDeadline(time.Now().Add(timeout))

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			m.conn = nil
			return nil, fmt.Errorf("CDP read error: %w", err)
		}
		var resp struct {
			ID     int             `json:"id"`
			Result json.RawMessage `json:"result"`
			Error  *struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(data, &resp) == nil && resp.ID == targetID {
			if resp.Error != nil {
				return nil, fmt.Errorf("CDP error: %s", resp.Error.Message)
			}
			return resp.Result, nil
		}
	}
}

// Evaluate runs a JS expression in the page and returns its JSON
// representation (as returned by Runtime.evaluate's result.value).
func (m *Manager) Evaluate(ctx context.Context, expression string) (json.RawMessage, error) {
	if err := m.Start(ctx); err != nil {
		return nil, err
	}
	result, err := m.sendCDP("Runtime.evaluate", map[string]any{
		"expression":    expression,
		"returnByValue": true,
	})
	if err != nil {
		return nil, err
	}
	var eval struct {
		Result struct {
			Value json.RawMessage `json:"value"`
		} `json:"result"`
	}
	if err := json.Unmarshal(result, &eval); err != nil {
		return nil, err
	}
	return eval.Result.Value, nil
}

// Navigate opens url, rejecting it first via the SSRF guard.
func (m *Manager) Navigate(ctx context.Context, url string) error {
	if err := m.ssrfGuard.IsAllowed(url); err != nil {
		return fmt.Errorf("browser navigation blocked: %w", err)
	}
	if err := m.Start(ctx); err != nil {
		return err
	}
	if _, err := m.sendCDP("Page.navigate", map[string]any{"url": url}); err != nil {
		return err
	}
	time.Sleep(500 * time.Millisecond)
	return nil
}

// Screenshot captures the current page as base64-encoded PNG.
func (m *Manager) Screenshot(ctx context.Context) (string, error) {
	if err := m.Start(ctx); err != nil {
		return "", err
	}
	result, err := m.sendCDP("Page.captureScreenshot", map[string]any{"format": "png"})
	if err != nil {
		return "", err
	}
	var sr struct {
		Data string `json:"data"`
	}
	if err := json.Unmarshal(result, &sr); err != nil {
		return "", err
	}
	return sr.Data, nil
}

// GetContent returns document.body.innerText.
func (m *Manager) GetContent(ctx context.Context) (string, error) {
	value, err := m.Evaluate(ctx, "document.body ? document.body.innerText : document.documentElement.innerText")
	if err != nil {
		return "", err
	}
	var text string
	if err := json.Unmarshal(value, &text); err != nil {
		return "", err
	}
	return text, nil
}

// CurrentURL returns window.location.href, used to embed the current
// URL in error messages.
func (m *Manager) CurrentURL(ctx context.Context) string {
	value, err := m.Evaluate(ctx, "window.location.href")
	if err != nil {
		return ""
	}
	var url string
	_ = json.Unmarshal(value, &url)
	return url
}

// Close tears down the CDP connection and kills the Chrome process.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	if m.cmd != nil && m.cmd.Process != nil {
		_ = m.cmd.Process.Kill()
	}
	m.started = false
	return nil
}
