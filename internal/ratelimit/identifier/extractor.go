// Package identifier derives a sanitized client key from request metadata.
//
// Precedence checks X-Forwarded-For and friends before falling back to
// RemoteAddr, hardened against header-injection (CRLF stripping, length
// cap, IP-literal validation).
package identifier

import (
	"net"
	"strings"
)

const (
	maxLength = 45
	unknown   = "unknown"
)

// headerPrecedence is the order in which candidate headers are consulted.
// The first present, non-empty candidate wins.
var headerPrecedence = []string{
	"X-Forwarded-For",
	"X-Real-IP",
	"X-Client-IP",
	"CF-Connecting-IP",
}

// Source is the minimal request view the extractor needs. It is satisfied by
// domain.Request without this package importing domain, keeping identifier a
// leaf with zero internal dependencies.
type Source interface {
	HeaderValue(name string) string
}

// Extract derives the client identifier for req, whose raw peer address
// (host[:port]) is remoteAddr.
func Extract(req Source, remoteAddr string) string {
	for _, header := range headerPrecedence {
		if v := req.HeaderValue(header); v != "" {
			if candidate := firstElement(v); candidate != "" {
				return sanitize(candidate, remoteAddr)
			}
		}
	}
	return sanitize(remoteAddr, remoteAddr)
}

// firstElement returns the first comma-separated element of v, trimmed.
func firstElement(v string) string {
	if idx := strings.IndexByte(v, ','); idx >= 0 {
		v = v[:idx]
	}
	return strings.TrimSpace(v)
}

// sanitize strips control characters, truncates, and validates the result as
// an IP literal, preserving the host:port suffix only when raw came from a
// non-loopback RemoteAddr-shaped value.
func sanitize(raw, remoteAddr string) string {
	raw = strings.TrimSpace(raw)
	raw = stripControl(raw)
	if len(raw) > maxLength {
		raw = raw[:maxLength]
	}
	if raw == "" {
		return unknown
	}

	host, port, splitErr := net.SplitHostPort(raw)
	if splitErr != nil {
		host = raw
		port = ""
	}

	if ip := net.ParseIP(host); ip != nil {
		if isLoopback(host) {
			return host
		}
		if port != "" && raw == remoteAddr {
			return host + ":" + port
		}
		return host
	}

	// Not a recognisable IPv4/IPv6 literal: keep as-is; only an empty
	// result falls back to "unknown".
	return raw
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// stripControl removes ASCII and C1 control characters, including CR/LF/TAB,
// so a crafted header can never inject newlines into downstream keys or logs.
func stripControl(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r <= 0x1f || r == 0x7f || (r >= 0x80 && r <= 0x9f) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
