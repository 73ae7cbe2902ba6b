package browser

import (
	"math/rand"

	"github.com/nanoclaw/nanoclaw/internal/message"
)

// userAgentPool pairs a user-agent string with the matching
// Sec-CH-UA client-hints tuple and platform, so the two headers never
// disagree with each other the way a naively-randomized pair could.
var userAgentPool = []struct {
	ua       string
	secCHUA  string
	platform string
}{
	{
		ua:       "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		secCHUA:  `"Chromium";v="124", "Google Chrome";v="124", "Not-A.Brand";v="99"`,
		platform: "Windows",
	},
	{
		ua:       "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		secCHUA:  `"Chromium";v="124", "Google Chrome";v="124", "Not-A.Brand";v="99"`,
		platform: "macOS",
	},
	{
		ua:       "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		secCHUA:  `"Chromium";v="124", "Google Chrome";v="124", "Not-A.Brand";v="99"`,
		platform: "Linux",
	},
}

var viewportPool = []struct{ w, h int }{
	{1920, 1080}, {1366, 768}, {1536, 864}, {1440, 900}, {1280, 720}, {1600, 900},
}

var timezonePool = []string{
	"America/New_York", "America/Chicago", "America/Los_Angeles", "Europe/London", "Europe/Paris",
}

var deviceScalePool = []float64{1, 1, 1, 2}
var colorSchemePool = []string{"light", "light", "light", "dark"}

// NewFingerprint picks a random, internally-consistent fingerprint
// from the closed pools above.
func NewFingerprint() message.BrowserFingerprint {
	ua := userAgentPool[rand.Intn(len(userAgentPool))]
	vp := viewportPool[rand.Intn(len(viewportPool))]
	return message.BrowserFingerprint{
		UserAgent:   ua.ua,
		SecCHUA:     ua.secCHUA,
		Platform:    ua.platform,
		ViewportW:   vp.w,
		ViewportH:   vp.h,
		Timezone:    timezonePool[rand.Intn(len(timezonePool))],
		DeviceScale: deviceScalePool[rand.Intn(len(deviceScalePool))],
		ColorScheme: colorSchemePool[rand.Intn(len(colorSchemePool))],
		Languages:   []string{"en-US", "en"},
	}
}
