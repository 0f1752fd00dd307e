//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/mbti-assistant/internal/assessment"
	"github.com/ashureev/mbti-assistant/internal/metrics"
	"github.com/ashureev/mbti-assistant/internal/oracle/oracletest"
	"github.com/ashureev/mbti-assistant/internal/ratelimit"
	"github.com/ashureev/mbti-assistant/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

const (
	testTrackingKey   = "tracking-secret"
	defaultTestClient = "127.0.0.1"
)

type testEnv struct {
	srv     *httptest.Server
	svc     *assessment.Service
	repo    *store.SQLiteStore
	limiter *ratelimit.Limiter
	oracle  *oracletest.Scripted
}

type envOption func(*envConfig)

type envConfig struct {
	limits      ratelimit.Limits
	maxBody     int64
	corsOrigins []string
}

func withLimits(l ratelimit.Limits) envOption     { return func(c *envConfig) { c.limits = l } }
func withMaxBody(n int64) envOption               { return func(c *envConfig) { c.maxBody = n } }
func withCORSOrigins(origins ...string) envOption { return func(c *envConfig) { c.corsOrigins = origins } }

func newTestEnv(t *testing.T, orc *oracletest.Scripted, opts ...envOption) *testEnv {
	t.Helper()
	cfg := envConfig{
		limits:      ratelimit.Limits{SessionsPerDay: 100, MessagesPerDay: 1000, MessagesPerMinute: 1000},
		corsOrigins: []string{"*"},
	}
	for _, o := range opts {
		o(&cfg)
	}
	if orc == nil {
		orc = &oracletest.Scripted{}
	}

	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	svc, err := assessment.New(repo, orc, assessment.Options{Metrics: m, DefaultLanguage: "en"})
	require.NoError(t, err)
	limiter := ratelimit.New(cfg.limits)

	router := NewRouter(RouterConfig{
		Base:        NewHandler(svc, repo, limiter, m, cfg.maxBody),
		Metrics:     m,
		Provider:    "scripted",
		CORSOrigins: cfg.corsOrigins,
		TrackingKey: testTrackingKey,
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &testEnv{srv: srv, svc: svc, repo: repo, limiter: limiter, oracle: orc}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, headers ...string) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	switch v := body.(type) {
	case nil:
	case string:
		buf.WriteString(v)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(v))
	}
	req, err := http.NewRequest(method, e.srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	raw := new(bytes.Buffer)
	_, _ = raw.ReadFrom(resp.Body)
	if raw.Len() > 0 && strings.HasPrefix(strings.TrimSpace(raw.String()), "{") {
		require.NoError(t, json.Unmarshal(raw.Bytes(), &out), "body: %s", raw.String())
	}
	return resp, out
}

func (e *testEnv) start(t *testing.T, depth string) string {
	t.Helper()
	resp, body := e.do(t, http.MethodPost, "/api/chat/start", map[string]string{"depth": depth, "language": "en"})
	require.Equal(t, http.StatusOK, resp.StatusCode, "start: %v", body)
	return body["session_id"].(string)
}

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected application/json, got %q", ct)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{assessment.ErrInvalidDepth, http.StatusBadRequest},
		{assessment.ErrSessionInactive, http.StatusBadRequest},
		{fmt.Errorf("get: %w", assessment.ErrSessionNotFound), http.StatusNotFound},
		{fmt.Errorf("%w: %w", assessment.ErrOracleUnavailable, errors.New("boom")), http.StatusServiceUnavailable},
		{assessment.ErrConcurrentModification, http.StatusConflict},
		{errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestWriteRateLimited(t *testing.T) {
	w := httptest.NewRecorder()
	writeRateLimited(w, ratelimit.Decision{
		Action:     ratelimit.ActionCreateSession,
		Limit:      5,
		Window:     24 * time.Hour,
		RetryAfter: 90*time.Second + 200*time.Millisecond,
	})

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "91" {
		t.Fatalf("expected Retry-After 91, got %q", got)
	}
	var body rateLimitBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error != "rate_limit_exceeded" || body.Type != "session_limit" || body.RetryAfterSeconds != 91 {
		t.Fatalf("unexpected body: %+v", body)
	}
	if body.Message == "" {
		t.Fatal("expected a human-readable message")
	}
}

func TestDecodeRejectsOversizedBody(t *testing.T) {
	env := newTestEnv(t, nil, withMaxBody(64))
	resp, body := env.do(t, http.MethodPost, "/api/chat/start",
		map[string]string{"depth": "shallow", "user_name": strings.Repeat("x", 200)})
	require.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	require.Equal(t, "request body too large", body["error"])
}

func TestDecodeRejectsMalformedJSON(t *testing.T) {
	env := newTestEnv(t, nil)
	resp, body := env.do(t, http.MethodPost, "/api/chat/message", "{not json")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "invalid request body", body["error"])
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, body := env.do(t, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, ServiceName, body["service"])

	resp, body = env.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "healthy", body["status"])
	checks := body["checks"].(map[string]any)
	require.Equal(t, "ok", checks["database"])
	require.Equal(t, "scripted", checks["oracle"])

	resp, _ = env.do(t, http.MethodGet, "/ping", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	env.start(t, "shallow")
	resp, body = env.do(t, http.MethodGet, "/rate-limit", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.EqualValues(t, 1, body["sessions_today"])

	res, err := http.Get(env.srv.URL + "/metrics")
	require.NoError(t, err)
	defer res.Body.Close()
	var text bytes.Buffer
	_, _ = text.ReadFrom(res.Body)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Contains(t, text.String(), `mbti_sessions_started_total{depth="shallow"} 1`)
}

func TestHealthDegradedWhenDatabaseClosed(t *testing.T) {
	env := newTestEnv(t, nil)
	require.NoError(t, env.repo.Close())

	resp, body := env.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	require.Equal(t, "degraded", body["status"])
}
