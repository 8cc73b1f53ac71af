package recorder

import (
	"net"
	"net/http"
	"strings"
)

// Forwarded-style headers carry comma-separated chains where the leftmost
// entry is the originating client; direct headers carry a single address.
// Checked in order, first hit wins.
var (
	forwardedHeaders = []string{"X-Forwarded-For", "X-Forwarded", "Forwarded-For", "Forwarded"}
	directHeaders    = []string{"Client-IP", "X-Cluster-Client-IP"}
)

// ClientIP extracts the originating client address from a request. It walks
// the proxy forwarding headers first, taking the leftmost syntactically valid
// IP from each chain, then the single-value client headers, and falls back to
// the connection's remote address. Returns "" when nothing parses; an entry
// is never dropped because the address could not be determined.
func ClientIP(r *http.Request) string {
	for _, h := range forwardedHeaders {
		for _, part := range strings.Split(r.Header.Get(h), ",") {
			if ip := parseIP(part); ip != "" {
				return ip
			}
		}
	}
	for _, h := range directHeaders {
		if ip := parseIP(r.Header.Get(h)); ip != "" {
			return ip
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		if ip := parseIP(host); ip != "" {
			return ip
		}
	}
	return parseIP(r.RemoteAddr)
}

// parseIP validates a candidate address, tolerating surrounding whitespace
// and the quoted for= syntax of RFC 7239 Forwarded values.
func parseIP(s string) string {
	s = strings.TrimSpace(s)
	if semi := strings.Index(s, ";"); semi >= 0 {
		s = s[:semi]
	}
	if eq := strings.LastIndex(s, "="); eq >= 0 {
		s = s[eq+1:]
	}
	s = strings.Trim(s, `"`)
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}
	s = strings.Trim(s, "[]")
	if net.ParseIP(s) == nil {
		return ""
	}
	return s
}
