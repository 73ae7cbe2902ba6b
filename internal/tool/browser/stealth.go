package browser

import (
	"context"
	"fmt"

	"github.com/nanoclaw/nanoclaw/internal/message"
)

// applyFingerprint overrides the CDP-level signals (user-agent,
// viewport, timezone) to match the session's chosen fingerprint, then
// injects the stealth script so every later-loaded document sees a
// consistent, patched environment before any page script runs.
func (m *Manager) applyFingerprint(ctx context.Context) error {
	if err := m.Start(ctx); err != nil {
		return err
	}

	if _, err := m.sendCDP("Network.setUserAgentOverride", map[string]any{
		"userAgent":      m.fingerprint.UserAgent,
		"platform":       m.fingerprint.Platform,
		"acceptLanguage": "en-US,en;q=0.9",
	}); err != nil {
		return fmt.Errorf("setUserAgentOverride: %w", err)
	}

	if _, err := m.sendCDP("Emulation.setDeviceMetricsOverride", map[string]any{
		"width":             m.fingerprint.ViewportW,
		"height":            m.fingerprint.ViewportH,
		"deviceScaleFactor": m.fingerprint.DeviceScale,
		"mobile":            false,
	}); err != nil {
		return fmt.Errorf("setDeviceMetricsOverride: %w", err)
	}

	if _, err := m.sendCDP("Emulation.setTimezoneOverride", map[string]any{
		"timezoneId": m.fingerprint.Timezone,
	}); err != nil {
		return fmt.Errorf("setTimezoneOverride: %w", err)
	}

	if _, err := m.sendCDP("Page.addScriptToEvaluateOnNewDocument", map[string]any{
		"source": stealthScript(m.fingerprint),
	}); err != nil {
		return fmt.Errorf("injecting stealth script: %w", err)
	}

	return nil
}

// stealthScript builds the navigator/window patch installed before
// every document's own scripts run, so webdriver-detection probes see
// a browser consistent with the chosen fingerprint rather than an
// automation-flavored one.
func stealthScript(fp message.BrowserFingerprint) string {
	return fmt.Sprintf(`(() => {
  Object.defineProperty(navigator, 'webdriver', { get: () => undefined });

  window.chrome = window.chrome || { runtime: {}, loadTimes: function(){}, csi: function(){}, app: {} };

  const fakePlugins = [
    { name: 'Chrome PDF Plugin', filename: 'internal-pdf-viewer', description: 'Portable Document Format' },
    { name: 'Chrome PDF Viewer', filename: 'mhjfbmdgcfjbbpaeojofohoefgiehjai', description: '' },
    { name: 'Native Client', filename: 'internal-nacl-plugin', description: '' },
  ];
  Object.defineProperty(navigator, 'plugins', { get: () => fakePlugins });
  Object.defineProperty(navigator, 'languages', { get: () => %s });
  Object.defineProperty(navigator, 'platform', { get: () => %q });
  Object.defineProperty(navigator, 'deviceMemory', { get: () => 8 });
  Object.defineProperty(navigator, 'hardwareConcurrency', { get: () => 8 });
  Object.defineProperty(navigator, 'maxTouchPoints', { get: () => 0 });

  const originalQuery = window.navigator.permissions && window.navigator.permissions.query;
  if (originalQuery) {
    window.navigator.permissions.query = (params) => (
      params && params.name === 'notifications'
        ? Promise.resolve({ state: Notification.permission })
        : originalQuery(params)
    );
  }

  Object.defineProperty(navigator, 'connection', {
    get: () => ({ effectiveType: '4g', rtt: 50, downlink: 10, saveData: false }),
  });

  try {
    Object.defineProperty(screen, 'width', { get: () => %d });
    Object.defineProperty(screen, 'height', { get: () => %d });
    Object.defineProperty(screen, 'availWidth', { get: () => %d });
    Object.defineProperty(screen, 'availHeight', { get: () => %d });
    Object.defineProperty(screen, 'colorDepth', { get: () => 24 });
  } catch (e) {}

  const getParameter = WebGLRenderingContext.prototype.getParameter;
  WebGLRenderingContext.prototype.getParameter = function (parameter) {
    if (parameter === 37445) return 'Intel Inc.';
    if (parameter === 37446) return 'Intel Iris OpenGL Engine';
    return getParameter.apply(this, arguments);
  };

  if (navigator.getBattery) {
    navigator.getBattery = () => Promise.resolve({
      charging: true, chargingTime: 0, dischargingTime: Infinity, level: 1,
      addEventListener: () => {}, removeEventListener: () => {},
    });
  }

  const iframeCheck = () => {
    try {
      const frame = document.createElement('iframe');
      frame.style.display = 'none';
      document.body && document.body.appendChild(frame);
      if (frame.contentWindow) {
        Object.defineProperty(frame.contentWindow.navigator, 'webdriver', { get: () => undefined });
      }
      frame.remove();
    } catch (e) {}
  };
  if (document.readyState !== 'loading') {
    iframeCheck();
  } else {
    document.addEventListener('DOMContentLoaded', iframeCheck);
  }
})();`,
		jsStringArray(fp.Languages),
		fp.Platform,
		fp.ViewportW, fp.ViewportH, fp.ViewportW, fp.ViewportH,
	)
}

func jsStringArray(values []string) string {
	out := "["
	for i, v := range values {
		if i > 0 {
			out += ", "
		}
		out += fmt.Sprintf("%q", v)
	}
	return out + "]"
}
