package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/mbti-assistant/internal/oracle"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersRecord(t *testing.T) {
	m := NewWithRegistry(prometheus.NewRegistry())

	m.SessionStarted("shallow")
	m.SessionStarted("shallow")
	m.Turn("deep", "finished")
	m.Upgrade("shallow", "standard", true)
	m.Report(true)
	m.Report(false)
	m.RateLimitDenied("message_send")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.sessionsStarted.WithLabelValues("shallow")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.turns.WithLabelValues("deep", "finished")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.upgrades.WithLabelValues("shallow", "standard", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reports.WithLabelValues("cached")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reports.WithLabelValues("generated")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rateLimitDenials.WithLabelValues("message_send")))
}

func TestObserveOracleCallLabelsByKind(t *testing.T) {
	m := NewWithRegistry(prometheus.NewRegistry())

	m.ObserveOracleCall("converse", time.Second, nil)
	m.ObserveOracleCall("converse", time.Second, &oracle.Error{Kind: oracle.KindRateLimited, Err: errors.New("429")})
	m.ObserveOracleCall("report", time.Second, errors.New("plain"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.oracleCalls.WithLabelValues("converse", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.oracleCalls.WithLabelValues("converse", "rate_limited")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.oracleCalls.WithLabelValues("report", "unavailable")))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.SessionStarted("shallow")
	m.Turn("deep", "failed")
	m.Upgrade("a", "b", false)
	m.Report(true)
	m.RateLimitDenied("session_create")
	m.ObserveOracleCall("converse", time.Second, nil)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerExposesNamespace(t *testing.T) {
	m := New()
	m.SessionStarted("standard")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `mbti_sessions_started_total{depth="standard"} 1`), body)
	assert.True(t, strings.Contains(body, "go_goroutines"))
}
