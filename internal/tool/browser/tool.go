package browser

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/nanoclaw/nanoclaw/internal/tool"
)

// supportedActions is the full verb set the action field accepts.
var supportedActions = map[string]bool{
	"goto": true, "click": true, "type": true, "type_slowly": true,
	"find_text": true, "hover": true, "press": true, "select_option": true,
	"wait": true, "evaluate": true, "screenshot": true, "extract": true,
	"content": true, "url": true, "scroll": true, "back": true,
	"forward": true, "reload": true, "fill_form": true, "solve_captcha": true,
}

// Tool is the registry-facing browser automation tool: one shared
// Manager, one action dispatch, one retry policy.
type Tool struct {
	manager   *Manager
	captcha   CaptchaConfig
	logger    *slog.Logger
	workspace string
}

func NewTool(cfg Config, captcha CaptchaConfig, workspace string, logger *slog.Logger) *Tool {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tool{
		manager:   NewManager(cfg, logger),
		captcha:   captcha,
		logger:    logger,
		workspace: workspace,
	}
}

func (t *Tool) Name() string { return "browser" }

func (t *Tool) Description() string {
	return "Controls a real Chrome browser: navigate, click, type, read page content, take screenshots, and solve CAPTCHAs encountered along the way."
}

func (t *Tool) Parameters() map[string]any {
	actions := make([]string, 0, len(supportedActions))
	for a := range supportedActions {
		actions = append(actions, a)
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"action":   map[string]any{"type": "string", "enum": actions},
			"url":      map[string]any{"type": "string"},
			"selector": map[string]any{"type": "string"},
			"text":     map[string]any{"type": "string"},
			"value":    map[string]any{"type": "string"},
			"key":      map[string]any{"type": "string"},
			"x":        map[string]any{"type": "number"},
			"y":        map[string]any{"type": "number"},
			"script":   map[string]any{"type": "string"},
			"ms":       map[string]any{"type": "number"},
			"fields":   map[string]any{"type": "object"},
		},
		"required": []string{"action"},
	}
}

// Execute dispatches action, retrying once after a short backoff on
// any failure, and embeds the current page URL in the error message of
// an action that still fails so a caller can orient itself without a
// separate url call. An unknown action is rejected before dispatch,
// without a URL.
func (t *Tool) Execute(ctx context.Context, args map[string]any) *tool.Result {
	action, _ := args["action"].(string)
	if action == "" || !supportedActions[action] {
		return &tool.Result{ForLLM: fmt.Sprintf("Error: unknown browser action %q", action), IsError: true}
	}

	result, err := t.dispatch(ctx, action, args)
	if err != nil {
		time.Sleep(500 * time.Millisecond)
		result, err = t.dispatch(ctx, action, args)
	}
	if err != nil {
		currentURL := t.manager.CurrentURL(ctx)
		msg := fmt.Sprintf("Error: browser action %q failed: %v (current url: %s)", action, err, currentURL)
		return &tool.Result{ForLLM: msg, IsError: true, Err: err}
	}
	return &tool.Result{ForLLM: result}
}

func (t *Tool) dispatch(ctx context.Context, action string, args map[string]any) (string, error) {
	switch action {
	case "goto":
		return t.actionGoto(ctx, args)
	case "click":
		return t.actionClick(ctx, args)
	case "type":
		return t.actionType(ctx, args)
	case "type_slowly":
		return t.actionTypeSlowly(ctx, args)
	case "find_text":
		return t.actionFindText(ctx, args)
	case "hover":
		return t.actionHover(ctx, args)
	case "press":
		return t.actionPress(ctx, args)
	case "select_option":
		return t.actionSelectOption(ctx, args)
	case "wait":
		return t.actionWait(ctx, args)
	case "evaluate":
		return t.actionEvaluate(ctx, args)
	case "screenshot":
		return t.actionScreenshot(ctx)
	case "extract", "content":
		return t.manager.GetContent(ctx)
	case "url":
		return t.manager.CurrentURL(ctx), nil
	case "scroll":
		return t.actionScroll(ctx, args)
	case "back":
		return t.actionHistory(ctx, -1)
	case "forward":
		return t.actionHistory(ctx, 1)
	case "reload":
		return t.actionReload(ctx)
	case "fill_form":
		return t.actionFillForm(ctx, args)
	case "solve_captcha":
		if err := t.manager.solveCaptcha(ctx, t.captcha); err != nil {
			return "", err
		}
		return "captcha solved", nil
	default:
		return "", fmt.Errorf("unhandled action %q", action)
	}
}

func (t *Tool) actionGoto(ctx context.Context, args map[string]any) (string, error) {
	url, _ := args["url"].(string)
	if url == "" {
		return "", fmt.Errorf("goto requires url")
	}
	if err := t.manager.Navigate(ctx, url); err != nil {
		return "", err
	}
	t.manager.dismissCookieBanner(ctx)
	if t.captcha.Provider != "" {
		_ = t.manager.solveCaptcha(ctx, t.captcha)
	}
	return fmt.Sprintf("navigated to %s", url), nil
}

func (t *Tool) actionClick(ctx context.Context, args map[string]any) (string, error) {
	bounds, err := t.resolveTarget(ctx, args)
	if err != nil {
		return "", err
	}
	if err := t.manager.moveMouseAndClick(ctx, bounds.X, bounds.Y); err != nil {
		return "", err
	}
	return "clicked", nil
}

func (t *Tool) actionHover(ctx context.Context, args map[string]any) (string, error) {
	bounds, err := t.resolveTarget(ctx, args)
	if err != nil {
		return "", err
	}
	if _, err := t.manager.sendCDP("Input.dispatchMouseEvent", map[string]any{
		"type": "mouseMoved", "x": bounds.X, "y": bounds.Y,
	}); err != nil {
		return "", err
	}
	return "hovered", nil
}

// resolveTarget locates an element by CSS selector if given, else by
// visible text, else by explicit x/y coordinates.
func (t *Tool) resolveTarget(ctx context.Context, args map[string]any) (*elementBounds, error) {
	if selector, ok := args["selector"].(string); ok && selector != "" {
		script := fmt.Sprintf(`(() => {
  const el = document.querySelector(%q);
  if (!el) return null;
  const r = el.getBoundingClientRect();
  return { x: r.left + r.width/2, y: r.top + r.height/2 };
})();`, selector)
		value, err := t.manager.Evaluate(ctx, script)
		if err != nil {
			return nil, err
		}
		if string(value) == "null" || len(value) == 0 {
			return nil, fmt.Errorf("no element matches selector %q", selector)
		}
		var bounds elementBounds
		if err := json.Unmarshal(value, &bounds); err != nil {
			return nil, err
		}
		return &bounds, nil
	}
	if text, ok := args["text"].(string); ok && text != "" {
		return t.manager.findText(ctx, text)
	}
	x, xok := args["x"].(float64)
	y, yok := args["y"].(float64)
	if xok && yok {
		return &elementBounds{X: x, Y: y}, nil
	}
	return nil, fmt.Errorf("requires selector, text, or x/y")
}

func (t *Tool) actionType(ctx context.Context, args map[string]any) (string, error) {
	bounds, err := t.resolveTarget(ctx, args)
	if err == nil {
		if clickErr := t.manager.moveMouseAndClick(ctx, bounds.X, bounds.Y); clickErr != nil {
			return "", clickErr
		}
	}
	text, _ := args["text"].(string)
	if text == "" {
		return "", fmt.Errorf("type requires text")
	}
	if err := t.manager.typeSlowly(ctx, text); err != nil {
		return "", err
	}
	return "typed", nil
}

func (t *Tool) actionTypeSlowly(ctx context.Context, args map[string]any) (string, error) {
	return t.actionType(ctx, args)
}

func (t *Tool) actionFindText(ctx context.Context, args map[string]any) (string, error) {
	text, _ := args["text"].(string)
	bounds, err := t.manager.findText(ctx, text)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("found at (%.0f, %.0f)", bounds.X, bounds.Y), nil
}

func (t *Tool) actionPress(ctx context.Context, args map[string]any) (string, error) {
	key, _ := args["key"].(string)
	if key == "" {
		return "", fmt.Errorf("press requires key")
	}
	if _, err := t.manager.sendCDP("Input.dispatchKeyEvent", map[string]any{
		"type": "keyDown", "key": key,
	}); err != nil {
		return "", err
	}
	if _, err := t.manager.sendCDP("Input.dispatchKeyEvent", map[string]any{
		"type": "keyUp", "key": key,
	}); err != nil {
		return "", err
	}
	return "pressed " + key, nil
}

func (t *Tool) actionSelectOption(ctx context.Context, args map[string]any) (string, error) {
	selector, _ := args["selector"].(string)
	value, _ := args["value"].(string)
	if selector == "" || value == "" {
		return "", fmt.Errorf("select_option requires selector and value")
	}
	script := fmt.Sprintf(`(() => {
  const el = document.querySelector(%q);
  if (!el) return false;
  el.value = %q;
  el.dispatchEvent(new Event('change', { bubbles: true }));
  return true;
})();`, selector, value)
	result, err := t.manager.Evaluate(ctx, script)
	if err != nil {
		return "", err
	}
	if string(result) != "true" {
		return "", fmt.Errorf("no element matches selector %q", selector)
	}
	return "selected", nil
}

func (t *Tool) actionWait(ctx context.Context, args map[string]any) (string, error) {
	ms, _ := args["ms"].(float64)
	if ms <= 0 {
		ms = 1000
	}
	time.Sleep(time.Duration(ms) * time.Millisecond)
	return "waited", nil
}

func (t *Tool) actionEvaluate(ctx context.Context, args map[string]any) (string, error) {
	script, _ := args["script"].(string)
	if script == "" {
		return "", fmt.Errorf("evaluate requires script")
	}
	result, err := t.manager.Evaluate(ctx, script)
	if err != nil {
		return "", err
	}
	return string(result), nil
}

// actionScreenshot captures the current page, persists it under the
// workspace's screenshots/ directory (so later tool calls or channel
// sends can reference it by path), and also returns it inline as a
// data URL for callers that want it immediately.
func (t *Tool) actionScreenshot(ctx context.Context) (string, error) {
	data, err := t.manager.Screenshot(ctx)
	if err != nil {
		return "", err
	}

	path, saveErr := t.saveScreenshot(data)
	if saveErr != nil {
		t.logger.Warn("browser: failed to persist screenshot", "error", saveErr)
		return "data:image/png;base64," + data, nil
	}
	return fmt.Sprintf("saved to %s\ndata:image/png;base64,%s", path, data), nil
}

func (t *Tool) saveScreenshot(base64PNG string) (string, error) {
	if t.workspace == "" {
		return "", fmt.Errorf("no workspace configured")
	}
	dir := filepath.Join(t.workspace, "screenshots")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	raw, err := base64.StdEncoding.DecodeString(base64PNG)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, fmt.Sprintf("screenshot-%d.png", time.Now().UnixNano()))
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func (t *Tool) actionScroll(ctx context.Context, args map[string]any) (string, error) {
	dy, _ := args["y"].(float64)
	if dy == 0 {
		dy = 600
	}
	_, err := t.manager.Evaluate(ctx, fmt.Sprintf("window.scrollBy(0, %f)", dy))
	if err != nil {
		return "", err
	}
	return "scrolled", nil
}

func (t *Tool) actionHistory(ctx context.Context, delta int) (string, error) {
	if _, err := t.manager.Evaluate(ctx, fmt.Sprintf("history.go(%d)", delta)); err != nil {
		return "", err
	}
	time.Sleep(300 * time.Millisecond)
	return "navigated history", nil
}

func (t *Tool) actionReload(ctx context.Context) (string, error) {
	if _, err := t.manager.sendCDP("Page.reload", nil); err != nil {
		return "", err
	}
	time.Sleep(500 * time.Millisecond)
	return "reloaded", nil
}

func (t *Tool) actionFillForm(ctx context.Context, args map[string]any) (string, error) {
	fields, ok := args["fields"].(map[string]any)
	if !ok || len(fields) == 0 {
		return "", fmt.Errorf("fill_form requires a fields object of selector -> value")
	}
	for selector, value := range fields {
		str := fmt.Sprintf("%v", value)
		bounds, err := t.resolveTarget(ctx, map[string]any{"selector": selector})
		if err != nil {
			return "", fmt.Errorf("field %q: %w", selector, err)
		}
		if err := t.manager.moveMouseAndClick(ctx, bounds.X, bounds.Y); err != nil {
			return "", err
		}
		if err := t.manager.typeSlowly(ctx, str); err != nil {
			return "", err
		}
		randomSleep(100, 300)
	}
	return fmt.Sprintf("filled %d fields", len(fields)), nil
}

// Close releases the underlying Chrome process, for callers that own
// the tool's lifetime (e.g. process shutdown).
func (t *Tool) Close() error {
	return t.manager.Close()
}
