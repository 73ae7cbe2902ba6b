// Package browser implements the stealth browser automation tool: a
// Chrome DevTools Protocol client, a random fingerprint chosen per
// session, human-like interaction primitives, and a CAPTCHA
// detection/solve/inject pipeline.
package browser

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// builtinBlockedHosts are always blocked regardless of policy.
var builtinBlockedHosts = []string{
	"localhost.localdomain",
	"metadata.google.internal",
}

// SSRFPolicy gates which URLs Navigate will load, defending the
// browser tool against being used to reach internal services.
type SSRFPolicy struct {
	AllowPrivateNetwork bool
	AllowedHostnames    []string
}

// SSRFGuard validates URLs before navigation. Resolves the hostname
// first to defend against DNS rebinding, then checks resolved IPs
// against private ranges.
type SSRFGuard struct {
	policy SSRFPolicy
}

func NewSSRFGuard(policy SSRFPolicy) *SSRFGuard {
	return &SSRFGuard{policy: policy}
}

func (g *SSRFGuard) IsAllowed(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" && rawURL != "about:blank" {
		return fmt.Errorf("blocked scheme %q", scheme)
	}

	host := parsed.Hostname()
	if host == "" {
		return nil
	}
	for _, blocked := range builtinBlockedHosts {
		if strings.EqualFold(host, blocked) {
			return fmt.Errorf("blocked host %q", host)
		}
	}

	if len(g.policy.AllowedHostnames) > 0 {
		allowed := false
		for _, h := range g.policy.AllowedHostnames {
			if strings.EqualFold(host, h) {
				allowed = true
				break
			}
		}
		if !allowed {
			return fmt.Errorf("host %q not in allowlist", host)
		}
	}

	if g.policy.AllowPrivateNetwork {
		return nil
	}

	ips, err := net.LookupIP(host)
	if err != nil {
		// Can't resolve: let Chrome's own navigation fail rather than
		// block here on a possibly-transient DNS hiccup.
		return nil
	}
	for _, ip := range ips {
		if isPrivateOrReserved(ip) {
			return fmt.Errorf("host %q resolves to a private/reserved address", host)
		}
	}
	return nil
}

func isPrivateOrReserved(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
		return true
	}
	privateBlocks := []string{
		"10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16",
		"169.254.0.0/16", "127.0.0.0/8", "::1/128", "fc00::/7",
	}
	for _, cidr := range privateBlocks {
		_, block, err := net.ParseCIDR(cidr)
		if err != nil {
			continue
		}
		if block.Contains(ip) {
			return true
		}
	}
	return false
}
