package middleware

import (
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/mssola/useragent"

	"grouplock/pkg/requestcontext"
)

// ClientMetadata extracts the client IP, raw User-Agent, and a parsed device
// description from the request and adds them to the context. Apply early in
// the chain; the session orchestrator records the device string on sessions
// it creates.
func ClientMetadata(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua := r.Header.Get("User-Agent")
		ctx := requestcontext.WithClientMetadata(r.Context(), clientIP(r), ua, DeviceDisplayName(ua))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// DeviceDisplayName renders a User-Agent as a short human-readable device
// string, e.g. "Chrome 120 on Linux" or "Mobile Safari on iOS".
func DeviceDisplayName(rawUA string) string {
	if rawUA == "" {
		return "Unknown device"
	}
	parsed := useragent.New(rawUA)
	name, version := parsed.Browser()
	os := parsed.OSInfo().Name
	if name == "" {
		return "Unknown device"
	}
	if major, _, ok := strings.Cut(version, "."); ok && major != "" {
		version = major
	}
	if os == "" {
		if version == "" {
			return name
		}
		return fmt.Sprintf("%s %s", name, version)
	}
	if version == "" {
		return fmt.Sprintf("%s on %s", name, os)
	}
	return fmt.Sprintf("%s %s on %s", name, version, os)
}

func clientIP(r *http.Request) string {
	// First untrusted hop in X-Forwarded-For wins; fall back to the socket.
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if first, _, ok := strings.Cut(xff, ","); ok {
			return strings.TrimSpace(first)
		}
		return strings.TrimSpace(xff)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
