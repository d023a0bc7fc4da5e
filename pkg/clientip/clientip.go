// Package clientip resolves the client address for an authenticated request.
//
// A session that already carries a resolved IP wins over anything derived
// from the current request: re-deriving behind a different proxy chain would
// flap the address on every hop change. After that, CDN-injected headers are
// preferred over the generic forwarded-for chain, which any intermediate
// client can forge.
package clientip

import (
	"net"
	"net/http"
	"strings"
)

// Source identifies which input produced the resolved address.
type Source string

const (
	SourceSession    Source = "session"
	SourceCloudflare Source = "cloudflare"
	SourceForwarded  Source = "forwarded"
	SourceRealIP     Source = "real-ip"
	SourceClientIP   Source = "client-ip"
	SourceFallback   Source = "fallback"
)

// fallbackAddr is reported when no request is available and no header
// carries a usable address.
const fallbackAddr = "127.0.0.1"

// Resolved is the outcome of a single resolution.
type Resolved struct {
	IP     string `json:"ip_address"`
	Source Source `json:"source"`
}

// Resolve picks the client address, highest precedence first:
// session-attached IP, CF-Connecting-IP, leftmost X-Forwarded-For entry,
// X-Real-IP, X-Client-IP, loopback fallback. Header candidates are validated
// with net.ParseIP; malformed or unspecified (0.0.0.0) values are skipped.
func Resolve(sessionIP string, r *http.Request) Resolved {
	if ip := strings.TrimSpace(sessionIP); ip != "" {
		return Resolved{IP: ip, Source: SourceSession}
	}
	if r == nil {
		return Resolved{IP: fallbackAddr, Source: SourceFallback}
	}
	if ip := normalize(r.Header.Get("CF-Connecting-IP")); ip != "" {
		return Resolved{IP: ip, Source: SourceCloudflare}
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// comma-separated chain, original client first
		first, _, _ := strings.Cut(xff, ",")
		if ip := normalize(first); ip != "" {
			return Resolved{IP: ip, Source: SourceForwarded}
		}
	}
	if ip := normalize(r.Header.Get("X-Real-IP")); ip != "" {
		return Resolved{IP: ip, Source: SourceRealIP}
	}
	if ip := normalize(r.Header.Get("X-Client-IP")); ip != "" {
		return Resolved{IP: ip, Source: SourceClientIP}
	}
	return Resolved{IP: fallbackAddr, Source: SourceFallback}
}

// IsLocal reports whether addr points at the local machine or a private
// network: loopback, RFC1918 (and its IPv6 ULA counterpart), or the literal
// hostname "localhost". Local addresses must not lower trust on their own
// during development.
func IsLocal(addr string) bool {
	addr = strings.TrimSpace(addr)
	if strings.EqualFold(addr, "localhost") {
		return true
	}
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsPrivate()
}

func normalize(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	ip := net.ParseIP(raw)
	if ip == nil || ip.IsUnspecified() {
		return ""
	}
	return ip.String()
}
