package browser

import "testing"

func TestSSRFGuardBlocksLoopbackByDefault(t *testing.T) {
	g := NewSSRFGuard(SSRFPolicy{})
	if err := g.IsAllowed("http://127.0.0.1:8080/"); err == nil {
		t.Fatalf("expected loopback address to be blocked")
	}
}

func TestSSRFGuardBlocksPrivateRangeByDefault(t *testing.T) {
	g := NewSSRFGuard(SSRFPolicy{})
	if err := g.IsAllowed("http://10.0.0.5/"); err == nil {
		t.Fatalf("expected RFC1918 address to be blocked")
	}
}

func TestSSRFGuardAllowsPrivateRangeWhenPolicySaysSo(t *testing.T) {
	g := NewSSRFGuard(SSRFPolicy{AllowPrivateNetwork: true})
	if err := g.IsAllowed("http://192.168.1.5/"); err != nil {
		t.Fatalf("expected private network to be allowed by policy, got %v", err)
	}
}

func TestSSRFGuardBlocksBuiltinBlockedHost(t *testing.T) {
	g := NewSSRFGuard(SSRFPolicy{AllowPrivateNetwork: true})
	if err := g.IsAllowed("http://metadata.google.internal/computeMetadata/v1/"); err == nil {
		t.Fatalf("expected the cloud metadata hostname to always be blocked")
	}
}

func TestSSRFGuardEnforcesAllowlistWhenConfigured(t *testing.T) {
	g := NewSSRFGuard(SSRFPolicy{AllowedHostnames: []string{"example.com"}, AllowPrivateNetwork: true})
	if err := g.IsAllowed("http://example.com/"); err != nil {
		t.Fatalf("expected allowlisted host to pass, got %v", err)
	}
	if err := g.IsAllowed("http://not-allowed.com/"); err == nil {
		t.Fatalf("expected a host outside the allowlist to be blocked")
	}
}

func TestSSRFGuardBlocksNonHTTPScheme(t *testing.T) {
	g := NewSSRFGuard(SSRFPolicy{AllowPrivateNetwork: true})
	if err := g.IsAllowed("file:///etc/passwd"); err == nil {
		t.Fatalf("expected a non-http(s) scheme to be blocked")
	}
}

func TestSSRFGuardAllowsAboutBlank(t *testing.T) {
	g := NewSSRFGuard(SSRFPolicy{})
	if err := g.IsAllowed("about:blank"); err != nil {
		t.Fatalf("expected about:blank to always be allowed, got %v", err)
	}
}
