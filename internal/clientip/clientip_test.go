package clientip

import (
	"net"
	"net/http"
	"testing"
)

func TestParseXForwardedFor(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  string
	}{
		{"single", "192.168.1.1", "192.168.1.1"},
		{"multiple", "203.0.113.50, 70.41.3.18, 150.172.238.178", "203.0.113.50"},
		{"with spaces", "  192.168.1.1  ,  10.0.0.1  ", "192.168.1.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseXForwardedFor(tt.value); got != tt.want {
				t.Errorf("parseXForwardedFor(%q) = %q, want %q", tt.value, got, tt.want)
			}
		})
	}
}

func TestParseForwarded(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  string
	}{
		{"simple", "for=192.0.2.60", "192.0.2.60"},
		{"with proto", "for=192.0.2.60;proto=http;by=203.0.113.43", "192.0.2.60"},
		{"ipv6", `for="[2001:db8::1]"`, "2001:db8::1"},
		{"multiple elements", "for=192.0.2.60, for=198.51.100.178", "192.0.2.60"},
		{"no for directive", "proto=http;by=203.0.113.43", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseForwarded(tt.value); got != tt.want {
				t.Errorf("parseForwarded(%q) = %q, want %q", tt.value, got, tt.want)
			}
		})
	}
}

func TestParseSimple(t *testing.T) {
	if got := parseSimple("  192.168.1.1  "); got != "192.168.1.1" {
		t.Errorf("parseSimple() = %q, want %q", got, "192.168.1.1")
	}
}

func TestCleanForwardedIP(t *testing.T) {
	tests := []struct {
		name string
		ip   string
		want string
	}{
		{"with port", "192.168.1.1:12345", "192.168.1.1"},
		{"ipv6 with brackets", "[2001:db8::1]", "2001:db8::1"},
		{"ipv6 with brackets and port", "[2001:db8::1]:8080", "2001:db8::1"},
		{"bare ipv4", "192.168.1.1", "192.168.1.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cleanForwardedIP(tt.ip); got != tt.want {
				t.Errorf("cleanForwardedIP(%q) = %q, want %q", tt.ip, got, tt.want)
			}
		})
	}
}

func TestParseProxyMode(t *testing.T) {
	tests := []struct {
		in   string
		want ProxyMode
	}{
		{"", ProxyModeNone},
		{"none", ProxyModeNone},
		{"x-forwarded-for", ProxyModeXForwardedFor},
		{"XFF", ProxyModeXForwardedFor},
		{"x-real-ip", ProxyModeXRealIP},
		{"cloudflare", ProxyModeCloudflare},
		{"cf-connecting-ip", ProxyModeCloudflare},
		{"true-client-ip", ProxyModeTrueClientIP},
		{"akamai", ProxyModeTrueClientIP},
		{"forwarded", ProxyModeForwarded},
		{"rfc7239", ProxyModeForwarded},
		{"x-custom-header", ProxyMode("x-custom-header")},
	}
	for _, tt := range tests {
		if got := ParseProxyMode(tt.in); got != tt.want {
			t.Errorf("ParseProxyMode(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestExtract_NoProxyModeUsesDirectAddr(t *testing.T) {
	headers := http.Header{"X-Forwarded-For": {"203.0.113.7"}}
	got := Extract(headers, "10.0.0.5:54321", ProxyModeNone, nil)
	if got != "10.0.0.5" {
		t.Errorf("Extract() = %q, want %q", got, "10.0.0.5")
	}
}

func TestExtract_HeaderMissingFallsBackToDirect(t *testing.T) {
	headers := http.Header{}
	got := Extract(headers, "10.0.0.5:54321", ProxyModeXForwardedFor, nil)
	if got != "10.0.0.5" {
		t.Errorf("Extract() = %q, want %q", got, "10.0.0.5")
	}
}

func TestExtract_XForwardedFor(t *testing.T) {
	headers := http.Header{"X-Forwarded-For": {"203.0.113.7, 10.0.0.5"}}
	got := Extract(headers, "10.0.0.5:54321", ProxyModeXForwardedFor, nil)
	if got != "203.0.113.7" {
		t.Errorf("Extract() = %q, want %q", got, "203.0.113.7")
	}
}

func TestExtract_UntrustedProxyIgnored(t *testing.T) {
	headers := http.Header{"X-Forwarded-For": {"203.0.113.7"}}
	trusted := []net.IP{net.ParseIP("10.0.0.99")}
	got := Extract(headers, "10.0.0.5:54321", ProxyModeXForwardedFor, trusted)
	if got != "10.0.0.5" {
		t.Errorf("Extract() = %q, want direct addr %q for untrusted proxy", got, "10.0.0.5")
	}
}

func TestExtract_TrustedProxyHonored(t *testing.T) {
	headers := http.Header{"X-Forwarded-For": {"203.0.113.7"}}
	trusted := []net.IP{net.ParseIP("10.0.0.5")}
	got := Extract(headers, "10.0.0.5:54321", ProxyModeXForwardedFor, trusted)
	if got != "203.0.113.7" {
		t.Errorf("Extract() = %q, want %q", got, "203.0.113.7")
	}
}

func TestExtract_Cloudflare(t *testing.T) {
	headers := http.Header{"Cf-Connecting-Ip": {"198.51.100.23"}}
	got := Extract(headers, "10.0.0.5:54321", ProxyModeCloudflare, nil)
	if got != "198.51.100.23" {
		t.Errorf("Extract() = %q, want %q", got, "198.51.100.23")
	}
}

func TestExtract_Forwarded(t *testing.T) {
	headers := http.Header{"Forwarded": {`for="[2001:db8::1]";proto=https`}}
	got := Extract(headers, "10.0.0.5:54321", ProxyModeForwarded, nil)
	if got != "2001:db8::1" {
		t.Errorf("Extract() = %q, want %q", got, "2001:db8::1")
	}
}

func TestExtract_DirectAddrWithoutPort(t *testing.T) {
	got := Extract(http.Header{}, "10.0.0.5", ProxyModeNone, nil)
	if got != "10.0.0.5" {
		t.Errorf("Extract() = %q, want %q", got, "10.0.0.5")
	}
}
