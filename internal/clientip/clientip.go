// Package clientip extracts the real client IP address for an inbound
// tunnel request, honoring whichever reverse-proxy header convention
// the deployment configures.
package clientip

import (
	"net"
	"net/http"
	"strings"
)

// ProxyMode selects which header (if any) is trusted to carry the
// original client IP.
type ProxyMode string

const (
	ProxyModeNone          ProxyMode = "none"
	ProxyModeXForwardedFor ProxyMode = "x-forwarded-for"
	ProxyModeXRealIP       ProxyMode = "x-real-ip"
	ProxyModeCloudflare    ProxyMode = "cloudflare"
	ProxyModeTrueClientIP  ProxyMode = "true-client-ip"
	ProxyModeForwarded     ProxyMode = "forwarded"
)

// ParseProxyMode maps a config string onto a ProxyMode. Unrecognized
// values are treated as a custom header name, matching the original
// server's fallback behavior.
func ParseProxyMode(mode string) ProxyMode {
	switch strings.ToLower(mode) {
	case "", "none":
		return ProxyModeNone
	case "x-forwarded-for", "xforwardedfor", "xff":
		return ProxyModeXForwardedFor
	case "x-real-ip", "xrealip":
		return ProxyModeXRealIP
	case "cloudflare", "cf-connecting-ip":
		return ProxyModeCloudflare
	case "true-client-ip", "trueclientip", "akamai":
		return ProxyModeTrueClientIP
	case "forwarded", "rfc7239":
		return ProxyModeForwarded
	default:
		return ProxyMode(strings.ToLower(mode))
	}
}

// HeaderName returns the HTTP header this mode reads from, or "" for
// ProxyModeNone (meaning: always use the direct connection address).
func (m ProxyMode) HeaderName() string {
	switch m {
	case ProxyModeNone:
		return ""
	case ProxyModeXForwardedFor:
		return "X-Forwarded-For"
	case ProxyModeXRealIP:
		return "X-Real-Ip"
	case ProxyModeCloudflare:
		return "Cf-Connecting-Ip"
	case ProxyModeTrueClientIP:
		return "True-Client-Ip"
	case ProxyModeForwarded:
		return "Forwarded"
	default:
		return http.CanonicalHeaderKey(string(m))
	}
}

// Extract returns the client IP for an inbound request: the direct
// connection address when mode is ProxyModeNone, the connecting peer
// isn't a trusted proxy, or the configured header is absent or
// unparsable, and the header-derived IP otherwise.
//
// directAddr is the raw RemoteAddr (host:port or bare host) of the TCP
// connection. trustedProxies, when non-empty, restricts header trust to
// connections whose direct address matches one of the listed IPs.
func Extract(headers http.Header, directAddr string, mode ProxyMode, trustedProxies []net.IP) string {
	direct := hostOnly(directAddr)

	name := mode.HeaderName()
	if name == "" {
		return direct
	}

	if len(trustedProxies) > 0 && !containsIP(trustedProxies, direct) {
		return direct
	}

	value := headers.Get(name)
	if value == "" {
		return direct
	}

	var extracted string
	switch mode {
	case ProxyModeForwarded:
		extracted = parseForwarded(value)
	case ProxyModeXForwardedFor:
		extracted = parseXForwardedFor(value)
	default:
		extracted = parseSimple(value)
	}

	if extracted == "" {
		return direct
	}
	return extracted
}

func hostOnly(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

func containsIP(list []net.IP, addr string) bool {
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}
	for _, candidate := range list {
		if candidate.Equal(ip) {
			return true
		}
	}
	return false
}

// parseXForwardedFor takes the leftmost address in a comma-separated
// "client, proxy1, proxy2" list.
func parseXForwardedFor(value string) string {
	first, _, _ := strings.Cut(value, ",")
	return strings.TrimSpace(first)
}

// parseSimple handles single-IP headers: X-Real-IP, CF-Connecting-IP,
// True-Client-IP.
func parseSimple(value string) string {
	return strings.TrimSpace(value)
}

// parseForwarded extracts the "for=" directive from the first element
// of an RFC 7239 Forwarded header, e.g.
// "for=192.0.2.60;proto=http;by=203.0.113.43" or "for=\"[2001:db8::1]\"".
func parseForwarded(value string) string {
	firstElement, _, _ := strings.Cut(value, ",")
	for _, directive := range strings.Split(firstElement, ";") {
		directive = strings.TrimSpace(directive)
		if len(directive) < 4 {
			continue
		}
		if strings.EqualFold(directive[:4], "for=") {
			return cleanForwardedIP(directive[4:])
		}
	}
	return ""
}

func cleanForwardedIP(ip string) string {
	ip = strings.TrimSpace(ip)
	ip = strings.Trim(ip, `"`)

	if strings.HasPrefix(ip, "[") {
		if end := strings.Index(ip, "]"); end >= 0 {
			return ip[1:end]
		}
	}

	if colon := strings.LastIndex(ip, ":"); colon >= 0 {
		beforeColon := ip[:colon]
		if looksLikeIPv4(beforeColon) {
			return beforeColon
		}
	}

	return ip
}

func looksLikeIPv4(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if (c < '0' || c > '9') && c != '.' {
			return false
		}
	}
	return true
}
