package browser

import "testing"

func TestNewFingerprintPicksConsistentUserAgentTuple(t *testing.T) {
	for i := 0; i < 50; i++ {
		fp := NewFingerprint()
		found := false
		for _, ua := range userAgentPool {
			if fp.UserAgent == ua.ua && fp.SecCHUA == ua.secCHUA && fp.Platform == ua.platform {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("fingerprint %+v did not match any pooled user-agent tuple", fp)
		}
	}
}

func TestNewFingerprintPicksViewportFromPool(t *testing.T) {
	for i := 0; i < 50; i++ {
		fp := NewFingerprint()
		found := false
		for _, vp := range viewportPool {
			if fp.ViewportW == vp.w && fp.ViewportH == vp.h {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("fingerprint viewport %dx%d not from the known pool", fp.ViewportW, fp.ViewportH)
		}
	}
}

func TestNewFingerprintAlwaysSetsEnglishLanguages(t *testing.T) {
	fp := NewFingerprint()
	if len(fp.Languages) != 2 || fp.Languages[0] != "en-US" || fp.Languages[1] != "en" {
		t.Fatalf("unexpected languages: %v", fp.Languages)
	}
}
