package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"
)

type point struct{ x, y float64 }

// bezierPath produces steps points along a cubic Bézier path through
// two random control points, so pointer movement traces a gentle curve
// instead of a straight robotic line between two coordinates.
func bezierPath(from, to point, steps int) []point {
	c1 := point{
		x: from.x + (rand.Float64()-0.5)*120,
		y: from.y + (rand.Float64()-0.5)*120,
	}
	c2 := point{
		x: to.x + (rand.Float64()-0.5)*120,
		y: to.y + (rand.Float64()-0.5)*120,
	}
	path := make([]point, 0, steps)
	for i := 1; i <= steps; i++ {
		t := float64(i) / float64(steps)
		path = append(path, cubicBezier(from, c1, c2, to, t))
	}
	return path
}

func cubicBezier(p0, p1, p2, p3 point, t float64) point {
	u := 1 - t
	return point{
		x: u*u*u*p0.x + 3*u*u*t*p1.x + 3*u*t*t*p2.x + t*t*t*p3.x,
		y: u*u*u*p0.y + 3*u*u*t*p1.y + 3*u*t*t*p2.y + t*t*t*p3.y,
	}
}

// moveMouseAndClick walks the mouse from the last known position to (x, y) along
// a curved path with randomized step timing, then clicks once there.
func (m *Manager) moveMouseAndClick(ctx context.Context, x, y float64) error {
	from := m.lastMousePos
	steps := 8 + rand.Intn(11) // 8-18 steps
	path := bezierPath(from, point{x, y}, steps)

	for _, p := range path {
		if _, err := m.sendCDP("Input.dispatchMouseEvent", map[string]any{
			"type": "mouseMoved",
			"x":    p.x,
			"y":    p.y,
		}); err != nil {
			return fmt.Errorf("moving mouse: %w", err)
		}
		time.Sleep(time.Duration(5+rand.Intn(21)) * time.Millisecond) // 5-25ms
	}
	m.lastMousePos = point{x, y}

	randomSleep(50, 200)

	if _, err := m.sendCDP("Input.dispatchMouseEvent", map[string]any{
		"type": "mousePressed", "x": x, "y": y, "button": "left", "clickCount": 1,
	}); err != nil {
		return fmt.Errorf("mouse press: %w", err)
	}
	time.Sleep(time.Duration(20+rand.Intn(60)) * time.Millisecond)
	if _, err := m.sendCDP("Input.dispatchMouseEvent", map[string]any{
		"type": "mouseReleased", "x": x, "y": y, "button": "left", "clickCount": 1,
	}); err != nil {
		return fmt.Errorf("mouse release: %w", err)
	}
	return nil
}

// randomSleep pauses between minMS and maxMS milliseconds, used
// between human-interaction actions to avoid fixed, bot-like cadence.
func randomSleep(minMS, maxMS int) {
	time.Sleep(time.Duration(minMS+rand.Intn(maxMS-minMS+1)) * time.Millisecond)
}

// typeSlowly sends each character as its own key event with jittered
// delay, rather than setting the input value in one shot.
func (m *Manager) typeSlowly(ctx context.Context, text string) error {
	if err := m.Start(ctx); err != nil {
		return err
	}
	for _, r := range text {
		ch := string(r)
		if _, err := m.sendCDP("Input.dispatchKeyEvent", map[string]any{
			"type": "keyDown", "text": ch,
		}); err != nil {
			return fmt.Errorf("typing %q: %w", ch, err)
		}
		if _, err := m.sendCDP("Input.dispatchKeyEvent", map[string]any{
			"type": "keyUp", "text": ch,
		}); err != nil {
			return fmt.Errorf("typing %q: %w", ch, err)
		}
		time.Sleep(time.Duration(50+rand.Intn(101)) * time.Millisecond) // 50-150ms
	}
	return nil
}

// elementBounds holds the center point of an element located via
// getBoundingClientRect, used to drive both click and type targeting.
type elementBounds struct {
	X, Y float64
}

// findText locates a clickable element whose visible text contains
// text (case-insensitive), preferring an <a>, then role=link, then a
// <button>, then role=button, then the first element that matched,
// mirroring how a person would describe "the thing labeled X" without
// knowing its tag.
func (m *Manager) findText(ctx context.Context, text string) (*elementBounds, error) {
	script := fmt.Sprintf(`(() => {
  const target = %q.trim().toLowerCase();
  const candidates = [];

  const pushIfMatch = (el) => {
    const t = (el.innerText || el.textContent || '').trim().toLowerCase();
    if (t && t.includes(target)) candidates.push(el);
  };

  document.querySelectorAll('body *').forEach(pushIfMatch);

  let el = candidates.find(e => e.tagName === 'A')
        || candidates.find(e => e.getAttribute && e.getAttribute('role') === 'link')
        || candidates.find(e => e.tagName === 'BUTTON')
        || candidates.find(e => e.getAttribute && e.getAttribute('role') === 'button')
        || candidates[0];

  if (!el) return null;
  const r = el.getBoundingClientRect();
  return { x: r.left + r.width / 2, y: r.top + r.height / 2 };
})();`, text)

	value, err := m.Evaluate(ctx, script)
	if err != nil {
		return nil, err
	}
	if string(value) == "null" || len(value) == 0 {
		return nil, fmt.Errorf("no element found matching text %q", text)
	}
	var bounds elementBounds
	if err := json.Unmarshal(value, &bounds); err != nil {
		return nil, fmt.Errorf("parsing element bounds: %w", err)
	}
	return &bounds, nil
}

// cookieBannerSelectors lists known consent-button selectors.
// dismissCookieBanner does not read it; it matches button labels by
// text instead.
var cookieBannerSelectors = []string{
	`button#onetrust-accept-btn-handler`,
	`button[aria-label="Accept all"]`,
	`button[aria-label="Accept cookies"]`,
	`#accept-cookie-notification`,
	`.cookie-consent button.accept`,
	`button:contains("Accept all")`,
	`button:contains("I agree")`,
	`button:contains("Accept cookies")`,
}

// dismissCookieBanner best-effort dismisses any cookie-consent overlay
// after a page load. Failures are silently ignored — this is a
// convenience, not a required step.
func (m *Manager) dismissCookieBanner(ctx context.Context) {
	script := `(() => {
  const texts = ['accept all', 'i agree', 'accept cookies', 'accept'];
  const buttons = Array.from(document.querySelectorAll('button, [role="button"]'));
  for (const b of buttons) {
    const t = (b.innerText || '').trim().toLowerCase();
    if (texts.includes(t)) {
      const r = b.getBoundingClientRect();
      if (r.width > 0 && r.height > 0) {
        return { x: r.left + r.width / 2, y: r.top + r.height / 2 };
      }
    }
  }
  return null;
})();`
	value, err := m.Evaluate(ctx, script)
	if err != nil || string(value) == "null" || len(value) == 0 {
		return
	}
	var bounds elementBounds
	if json.Unmarshal(value, &bounds) == nil {
		_ = m.moveMouseAndClick(ctx, bounds.X, bounds.Y)
	}
}
