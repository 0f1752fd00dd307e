package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
)

// TrackingKeyHeader carries the key protecting analytics read routes.
const TrackingKeyHeader = "X-Tracking-Key"

// RequireTrackingKey rejects requests whose X-Tracking-Key header does not
// match key. An empty key disables the protected routes entirely.
func RequireTrackingKey(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if key == "" {
				writeError(w, http.StatusServiceUnavailable, "analytics access is not configured")
				return
			}
			got := r.Header.Get(TrackingKeyHeader)
			if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
				slog.Warn("Rejected analytics request", "path", r.URL.Path, "has_key", got != "")
				writeError(w, http.StatusUnauthorized, "invalid tracking key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
