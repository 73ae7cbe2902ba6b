package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// CaptchaProvider names which solving service to use.
type CaptchaProvider string

const (
	CaptchaProviderCapSolver   CaptchaProvider = "capsolver"
	CaptchaProviderTwoCaptcha  CaptchaProvider = "2captcha"
	CaptchaProviderAntiCaptcha CaptchaProvider = "anticaptcha"
)

// CaptchaConfig holds the credentials for whichever solver is
// configured. An empty Provider disables solving entirely.
type CaptchaConfig struct {
	Provider CaptchaProvider
	APIKey   string
}

type captchaKind string

const (
	captchaRecaptchaV2 captchaKind = "recaptcha_v2"
	captchaRecaptchaV3 captchaKind = "recaptcha_v3"
	captchaHCaptcha     captchaKind = "hcaptcha"
	captchaTurnstile    captchaKind = "turnstile"
)

type detectedCaptcha struct {
	Kind     captchaKind
	SiteKey  string
	PageURL  string
	MinScore float64 // recaptcha v3 only
	Action   string  // recaptcha v3 only
}

// recaptchaV3MinScore is the minimum human-likelihood score requested
// of a reCAPTCHA v3 solution; solvers reject tokens scored below it.
const recaptchaV3MinScore = 0.7

// detectCaptcha inspects the current page for known CAPTCHA widgets.
// Checks reCAPTCHA v2/v3, hCaptcha, and Cloudflare Turnstile in that
// order, since a page should only ever present one.
func (m *Manager) detectCaptcha(ctx context.Context) (*detectedCaptcha, error) {
	script := `(() => {
  const grecaptcha = document.querySelector('.g-recaptcha, [data-sitekey]');
  const v2 = document.querySelector('.g-recaptcha');
  if (v2) {
    return { kind: 'recaptcha_v2', siteKey: v2.getAttribute('data-sitekey') || '' };
  }
  if (window.___grecaptcha_cfg && window.___grecaptcha_cfg.clients) {
    for (const key in window.___grecaptcha_cfg.clients) {
      const client = window.___grecaptcha_cfg.clients[key];
      for (const prop in client) {
        const val = client[prop];
        if (val && typeof val === 'object') {
          for (const inner in val) {
            const v = val[inner];
            if (v && v.sitekey) {
              return { kind: 'recaptcha_v3', siteKey: v.sitekey, action: v.action || '' };
            }
          }
        }
      }
    }
  }
  const hc = document.querySelector('.h-captcha, [data-hcaptcha-sitekey]');
  if (hc) {
    return { kind: 'hcaptcha', siteKey: hc.getAttribute('data-sitekey') || hc.getAttribute('data-hcaptcha-sitekey') || '' };
  }
  const ts = document.querySelector('.cf-turnstile, [data-cf-turnstile-sitekey]');
  if (ts) {
    return { kind: 'turnstile', siteKey: ts.getAttribute('data-sitekey') || '' };
  }
  return null;
})();`

	value, err := m.Evaluate(ctx, script)
	if err != nil {
		return nil, err
	}
	if string(value) == "null" || len(value) == 0 {
		return nil, nil
	}

	var raw struct {
		Kind    string `json:"kind"`
		SiteKey string `json:"siteKey"`
		Action  string `json:"action"`
	}
	if err := json.Unmarshal(value, &raw); err != nil {
		return nil, fmt.Errorf("parsing captcha detection: %w", err)
	}
	if raw.SiteKey == "" {
		return nil, nil
	}

	d := &detectedCaptcha{
		Kind:    captchaKind(raw.Kind),
		SiteKey: raw.SiteKey,
		Action:  raw.Action,
	}
	if d.Kind == captchaRecaptchaV3 {
		d.MinScore = recaptchaV3MinScore
	}
	return d, nil
}

// solveCaptcha runs the detect → submit → poll → inject pipeline and
// returns nil if no CAPTCHA was present. Polling gives up after about
// two minutes for CapSolver (60 x 2s) and 2Captcha (40 x 3s), and
// after about 80 seconds for Anti-Captcha (40 x 2s).
func (m *Manager) solveCaptcha(ctx context.Context, cfg CaptchaConfig) error {
	if cfg.Provider == "" || cfg.APIKey == "" {
		return nil
	}

	detected, err := m.detectCaptcha(ctx)
	if err != nil {
		return fmt.Errorf("detecting captcha: %w", err)
	}
	if detected == nil {
		return nil
	}
	detected.PageURL = m.CurrentURL(ctx)

	var token string
	switch cfg.Provider {
	case CaptchaProviderCapSolver:
		token, err = solveWithCapSolver(ctx, cfg.APIKey, detected)
	case CaptchaProviderTwoCaptcha:
		token, err = solveWithTwoCaptcha(ctx, cfg.APIKey, detected)
	case CaptchaProviderAntiCaptcha:
		token, err = solveWithAntiCaptcha(ctx, cfg.APIKey, detected)
	default:
		return fmt.Errorf("unknown captcha provider %q", cfg.Provider)
	}
	if err != nil {
		return fmt.Errorf("solving %s captcha: %w", detected.Kind, err)
	}

	return m.injectCaptchaToken(ctx, detected.Kind, token)
}

// injectCaptchaToken writes the solved token into the page's response
// field and fires whatever callback the widget registered, since
// simply setting the textarea value alone rarely triggers form
// submission logic bound to the widget's own callback.
func (m *Manager) injectCaptchaToken(ctx context.Context, kind captchaKind, token string) error {
	var selector string
	switch kind {
	case captchaRecaptchaV2, captchaRecaptchaV3:
		selector = `#g-recaptcha-response`
	case captchaHCaptcha:
		selector = `[name="h-captcha-response"]`
	case captchaTurnstile:
		selector = `[name="cf-turnstile-response"]`
	default:
		return fmt.Errorf("unsupported captcha kind %q", kind)
	}

	script := fmt.Sprintf(`(() => {
  const els = document.querySelectorAll(%q);
  els.forEach(el => {
    el.style.display = 'block';
    el.value = %q;
    el.innerHTML = %q;
  });

  if (window.___grecaptcha_cfg && window.___grecaptcha_cfg.clients) {
    const walk = (obj, depth) => {
      if (!obj || depth > 5) return;
      for (const key in obj) {
        const val = obj[key];
        if (typeof val === 'function') {
          try { val(%q); } catch (e) {}
        } else if (val && typeof val === 'object') {
          walk(val, depth + 1);
        }
      }
    };
    for (const key in window.___grecaptcha_cfg.clients) {
      walk(window.___grecaptcha_cfg.clients[key], 0);
    }
  }
  return true;
})();`, selector, token, token, token)

	_, err := m.Evaluate(ctx, script)
	return err
}

// --- CapSolver ---

func solveWithCapSolver(ctx context.Context, apiKey string, d *detectedCaptcha) (string, error) {
	taskType := "ReCaptchaV2TaskProxyLess"
	switch d.Kind {
	case captchaRecaptchaV3:
		taskType = "ReCaptchaV3TaskProxyLess"
	case captchaHCaptcha:
		taskType = "HCaptchaTaskProxyLess"
	case captchaTurnstile:
		taskType = "AntiTurnstileTaskProxyLess"
	}

	task := map[string]any{
		"type":      taskType,
		"websiteURL": d.PageURL,
		"websiteKey": d.SiteKey,
	}
	if d.Kind == captchaRecaptchaV3 {
		task["pageAction"] = d.Action
		task["minScore"] = d.MinScore
	}

	createBody, err := json.Marshal(map[string]any{"clientKey": apiKey, "task": task})
	if err != nil {
		return "", err
	}

	var created struct {
		ErrorID int    `json:"errorId"`
		TaskID  string `json:"taskId"`
	}
	if err := postJSON(ctx, "https://api.capsolver.com/createTask", createBody, &created); err != nil {
		return "", err
	}
	if created.ErrorID != 0 || created.TaskID == "" {
		return "", fmt.Errorf("capsolver createTask failed")
	}

	for i := 0; i < 60; i++ {
		time.Sleep(2 * time.Second)
		resultBody, _ := json.Marshal(map[string]any{"clientKey": apiKey, "taskId": created.TaskID})
		var result struct {
			Status   string `json:"status"`
			Solution struct {
				GRecaptchaResponse string `json:"gRecaptchaResponse"`
				Token              string `json:"token"`
			} `json:"solution"`
		}
		if err := postJSON(ctx, "https://api.capsolver.com/getTaskResult", resultBody, &result); err != nil {
			continue
		}
		if result.Status == "ready" {
			if result.Solution.GRecaptchaResponse != "" {
				return result.Solution.GRecaptchaResponse, nil
			}
			return result.Solution.Token, nil
		}
	}
	return "", fmt.Errorf("capsolver timed out waiting for solution")
}

// --- 2Captcha ---

func solveWithTwoCaptcha(ctx context.Context, apiKey string, d *detectedCaptcha) (string, error) {
	form := url.Values{}
	form.Set("key", apiKey)
	form.Set("pageurl", d.PageURL)
	form.Set("json", "1")

	switch d.Kind {
	case captchaRecaptchaV2:
		form.Set("method", "userrecaptcha")
		form.Set("googlekey", d.SiteKey)
	case captchaRecaptchaV3:
		form.Set("method", "userrecaptcha")
		form.Set("version", "v3")
		form.Set("googlekey", d.SiteKey)
		form.Set("action", d.Action)
		form.Set("min_score", fmt.Sprintf("%.1f", d.MinScore))
	case captchaHCaptcha:
		form.Set("method", "hcaptcha")
		form.Set("sitekey", d.SiteKey)
	case captchaTurnstile:
		form.Set("method", "turnstile")
		form.Set("sitekey", d.SiteKey)
	}

	var submit struct {
		Status  int    `json:"status"`
		Request string `json:"request"`
	}
	if err := getJSON(ctx, "https://2captcha.com/in.php?"+form.Encode(), &submit); err != nil {
		return "", err
	}
	if submit.Status != 1 {
		return "", fmt.Errorf("2captcha submission failed: %s", submit.Request)
	}

	for i := 0; i < 40; i++ {
		time.Sleep(3 * time.Second)
		var poll struct {
			Status  int    `json:"status"`
			Request string `json:"request"`
		}
		pollURL := fmt.Sprintf("https://2captcha.com/res.php?key=%s&action=get&id=%s&json=1", apiKey, submit.Request)
		if err := getJSON(ctx, pollURL, &poll); err != nil {
			continue
		}
		if poll.Status == 1 {
			return poll.Request, nil
		}
		if poll.Request != "CAPCHA_NOT_READY" {
			return "", fmt.Errorf("2captcha error: %s", poll.Request)
		}
	}
	return "", fmt.Errorf("2captcha timed out waiting for solution")
}

// --- Anti-Captcha ---

func solveWithAntiCaptcha(ctx context.Context, apiKey string, d *detectedCaptcha) (string, error) {
	taskType := "NoCaptchaTaskProxyless"
	switch d.Kind {
	case captchaRecaptchaV3:
		taskType = "RecaptchaV3TaskProxyless"
	case captchaHCaptcha:
		taskType = "HCaptchaTaskProxyless"
	case captchaTurnstile:
		taskType = "TurnstileTaskProxyless"
	}

	task := map[string]any{
		"type":       taskType,
		"websiteURL": d.PageURL,
		"websiteKey": d.SiteKey,
	}
	if d.Kind == captchaRecaptchaV3 {
		task["minScore"] = d.MinScore
		task["pageAction"] = d.Action
	}

	createBody, err := json.Marshal(map[string]any{"clientKey": apiKey, "task": task})
	if err != nil {
		return "", err
	}

	var created struct {
		ErrorID int   `json:"errorId"`
		TaskID  int64 `json:"taskId"`
	}
	if err := postJSON(ctx, "https://api.anti-captcha.com/createTask", createBody, &created); err != nil {
		return "", err
	}
	if created.ErrorID != 0 {
		return "", fmt.Errorf("anti-captcha createTask failed")
	}

	for i := 0; i < 40; i++ {
		time.Sleep(2 * time.Second)
		resultBody, _ := json.Marshal(map[string]any{"clientKey": apiKey, "taskId": created.TaskID})
		var result struct {
			Status   string `json:"status"`
			Solution struct {
				GRecaptchaResponse string `json:"gRecaptchaResponse"`
				Token              string `json:"token"`
			} `json:"solution"`
		}
		if err := postJSON(ctx, "https://api.anti-captcha.com/getTaskResult", resultBody, &result); err != nil {
			continue
		}
		if result.Status == "ready" {
			if result.Solution.GRecaptchaResponse != "" {
				return result.Solution.GRecaptchaResponse, nil
			}
			return result.Solution.Token, nil
		}
	}
	return "", fmt.Errorf("anti-captcha timed out waiting for solution")
}

func postJSON(ctx context.Context, endpoint string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(string(body)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
