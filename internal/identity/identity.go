// Package identity derives the anonymous client identity used for rate
// limiting and session records.
package identity

import (
	"context"
	"net"
	"net/http"
	"strings"
)

const (
	// UnknownClient is used when no address can be derived.
	UnknownClient = "unknown"

	maxUserAgentLen = 500
)

type contextKey int

const (
	clientIPKey contextKey = iota
	userAgentKey
)

// ClientIPFromContext extracts the client IP from the request context.
func ClientIPFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(clientIPKey).(string); ok {
		return v
	}
	return UnknownClient
}

// UserAgentFromContext extracts the truncated User-Agent from the request context.
func UserAgentFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userAgentKey).(string); ok {
		return v
	}
	return ""
}

// WithClient returns a copy of ctx carrying the given identity.
func WithClient(ctx context.Context, ip, userAgent string) context.Context {
	ctx = context.WithValue(ctx, clientIPKey, ip)
	return context.WithValue(ctx, userAgentKey, userAgent)
}

// IPFromRequest returns the client address. The first X-Forwarded-For hop
// wins, then X-Real-IP, then the connection's remote address.
func IPFromRequest(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		if r.RemoteAddr == "" {
			return UnknownClient
		}
		return r.RemoteAddr
	}
	return host
}

func userAgentFromRequest(r *http.Request) string {
	ua := r.Header.Get("User-Agent")
	if len(ua) > maxUserAgentLen {
		ua = ua[:maxUserAgentLen]
	}
	return ua
}

// Middleware injects the client IP and User-Agent into the request context.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := WithClient(r.Context(), IPFromRequest(r), userAgentFromRequest(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
