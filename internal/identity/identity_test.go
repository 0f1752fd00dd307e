package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestIPFromRequest(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"forwarded first hop", map[string]string{"X-Forwarded-For": " 203.0.113.7 , 10.0.0.1"}, "10.0.0.2:1234", "203.0.113.7"},
		{"real ip", map[string]string{"X-Real-IP": "198.51.100.4"}, "10.0.0.2:1234", "198.51.100.4"},
		{"forwarded wins over real ip", map[string]string{"X-Forwarded-For": "203.0.113.7", "X-Real-IP": "198.51.100.4"}, "", "203.0.113.7"},
		{"remote addr", nil, "192.0.2.10:5555", "192.0.2.10"},
		{"remote addr without port", nil, "192.0.2.10", "192.0.2.10"},
		{"nothing", nil, "", UnknownClient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			if got := IPFromRequest(r); got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestMiddlewareInjectsClient(t *testing.T) {
	var gotIP, gotUA string
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotIP = ClientIPFromContext(r.Context())
		gotUA = UserAgentFromContext(r.Context())
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Real-IP", "198.51.100.4")
	r.Header.Set("User-Agent", strings.Repeat("a", 600))
	h.ServeHTTP(httptest.NewRecorder(), r)

	if gotIP != "198.51.100.4" {
		t.Fatalf("expected client ip from header, got %q", gotIP)
	}
	if len(gotUA) != maxUserAgentLen {
		t.Fatalf("expected user agent truncated to %d, got %d", maxUserAgentLen, len(gotUA))
	}
}

func TestContextDefaults(t *testing.T) {
	if got := ClientIPFromContext(context.Background()); got != UnknownClient {
		t.Fatalf("expected %q, got %q", UnknownClient, got)
	}
	if got := UserAgentFromContext(context.Background()); got != "" {
		t.Fatalf("expected empty user agent, got %q", got)
	}
}
