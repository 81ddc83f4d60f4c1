package http

import (
	"fmt"
	"net"
	"net/http"
	"strings"
)

// IPConfig holds the trusted proxy ranges used for client address extraction.
// Build it with NewIPConfig so the CIDRs are parsed once at startup.
type IPConfig struct {
	TrustedProxies []string // CIDR ranges of trusted proxies
	nets           []*net.IPNet
}

// NewIPConfig parses cidrs and rejects malformed entries.
func NewIPConfig(cidrs []string) (*IPConfig, error) {
	cfg := &IPConfig{TrustedProxies: cidrs}
	for _, cidr := range cidrs {
		_, ipNet, err := net.ParseCIDR(strings.TrimSpace(cidr))
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", cidr, err)
		}
		cfg.nets = append(cfg.nets, ipNet)
	}
	return cfg, nil
}

// ExtractClientIP returns the caller address used for lockout keys and sessions.
// X-Forwarded-For and X-Real-IP are honoured only when the direct peer is a
// trusted proxy; otherwise RemoteAddr wins.
func ExtractClientIP(r *http.Request, config *IPConfig) string {
	remoteIP := getRemoteAddr(r)

	if config != nil && config.trusts(remoteIP) {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			for _, ip := range strings.Split(xff, ",") {
				ip = strings.TrimSpace(ip)
				if isValidIP(ip) {
					return ip
				}
			}
		}

		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); isValidIP(xri) {
			return xri
		}
	}

	return remoteIP
}

// UserAgent returns the trimmed User-Agent header, capped at 512 bytes.
func UserAgent(r *http.Request) string {
	ua := strings.TrimSpace(r.UserAgent())
	if len(ua) > 512 {
		ua = ua[:512]
	}
	return ua
}

// getRemoteAddr extracts the IP address from RemoteAddr (removing port if present)
func getRemoteAddr(r *http.Request) string {
	if r.RemoteAddr != "" {
		if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			return ip
		}
		return r.RemoteAddr
	}
	return "unknown"
}

// trusts reports whether ip is inside a trusted proxy range. Configs built
// as literals (tests) are parsed lazily and skip invalid entries.
func (c *IPConfig) trusts(ip string) bool {
	clientIP := net.ParseIP(ip)
	if clientIP == nil {
		return false
	}

	nets := c.nets
	if nets == nil {
		for _, cidr := range c.TrustedProxies {
			if _, ipNet, err := net.ParseCIDR(cidr); err == nil {
				nets = append(nets, ipNet)
			}
		}
	}

	for _, ipNet := range nets {
		if ipNet.Contains(clientIP) {
			return true
		}
	}
	return false
}

func isValidIP(ip string) bool {
	return net.ParseIP(ip) != nil
}
