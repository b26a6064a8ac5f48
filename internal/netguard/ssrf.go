// Package netguard rejects outbound connections to private, loopback, and
// link-local network ranges before a caller dials them — defense against
// SSRF from agent-initiated HTTP fetches and node-invoke host resolution.
package netguard

import (
	"context"
	"fmt"
	"net"
	"strings"
)

// ErrPrivateHost is returned when a hostname resolves to (or literally is)
// a non-public address.
type ErrPrivateHost struct {
	Host string
	Addr string
}

func (e *ErrPrivateHost) Error() string {
	if e.Addr != "" {
		return fmt.Sprintf("host %q resolves to non-public address %s", e.Host, e.Addr)
	}
	return fmt.Sprintf("host %q is not a public hostname", e.Host)
}

var blockedSuffixes = []string{".localhost", ".local", ".internal"}

var blockedLiterals = map[string]bool{
	"localhost":                 true,
	"metadata.google.internal": true,
}

// Resolver abstracts DNS lookup so tests can supply canned results.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

var defaultResolver Resolver = net.DefaultResolver

// AssertPublicHostname validates host (bare hostname or IP literal, no
// scheme/port) is neither a blocked literal nor resolves to a private
// address. It performs a DNS lookup for non-IP hosts and rejects if any
// resolved address is private.
func AssertPublicHostname(ctx context.Context, host string) error {
	return assertPublicHostname(ctx, host, defaultResolver)
}

func assertPublicHostname(ctx context.Context, host string, resolver Resolver) error {
	h := normalizeHost(host)
	if h == "" {
		return &ErrPrivateHost{Host: host}
	}

	if blockedLiterals[h] {
		return &ErrPrivateHost{Host: host}
	}
	for _, suffix := range blockedSuffixes {
		if strings.HasSuffix(h, suffix) {
			return &ErrPrivateHost{Host: host}
		}
	}

	// IP literal: check directly, no DNS round trip needed.
	if ip := net.ParseIP(h); ip != nil {
		if !isPublicIP(ip) {
			return &ErrPrivateHost{Host: host, Addr: ip.String()}
		}
		return nil
	}

	addrs, err := resolver.LookupHost(ctx, h)
	if err != nil {
		return fmt.Errorf("resolve %q: %w", host, err)
	}
	if len(addrs) == 0 {
		return &ErrPrivateHost{Host: host}
	}
	for _, a := range addrs {
		ip := net.ParseIP(a)
		if ip == nil {
			continue
		}
		if !isPublicIP(ip) {
			return &ErrPrivateHost{Host: host, Addr: ip.String()}
		}
	}
	return nil
}

// normalizeHost lowercases, strips a trailing DNS root dot, and strips
// surrounding IPv6 literal brackets ("[::1]" -> "::1").
func normalizeHost(host string) string {
	h := strings.ToLower(strings.TrimSpace(host))
	h = strings.TrimSuffix(h, ".")
	if strings.HasPrefix(h, "[") && strings.HasSuffix(h, "]") {
		h = h[1 : len(h)-1]
	}
	return h
}

var privateCIDRs = mustParseCIDRs([]string{
	"0.0.0.0/8",
	"10.0.0.0/8",
	"127.0.0.0/8",
	"169.254.0.0/16",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"100.64.0.0/10", // carrier-grade NAT
	"::1/128",
	"fc00::/7",  // unique local
	"fe80::/10", // link-local
	"fec0::/10", // deprecated site-local
})

func mustParseCIDRs(cidrs []string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic(err)
		}
		nets = append(nets, n)
	}
	return nets
}

// isPublicIP rejects loopback, link-local, private, CGNAT, and unspecified
// addresses. IPv4-mapped IPv6 addresses are unwrapped and re-checked as IPv4.
func isPublicIP(ip net.IP) bool {
	if ip4 := ip.To4(); ip4 != nil {
		ip = ip4
	}
	if ip.IsUnspecified() || ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return false
	}
	for _, n := range privateCIDRs {
		if n.Contains(ip) {
			return false
		}
	}
	return true
}
