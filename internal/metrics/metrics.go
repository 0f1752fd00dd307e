// Package metrics exposes Prometheus collectors for the assessment service.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/ashureev/mbti-assistant/internal/oracle"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mbti"

// Metrics holds every collector the service records to.
type Metrics struct {
	gatherer prometheus.Gatherer

	sessionsStarted  *prometheus.CounterVec
	turns            *prometheus.CounterVec
	oracleCalls      *prometheus.CounterVec
	oracleDuration   *prometheus.HistogramVec
	upgrades         *prometheus.CounterVec
	reports          *prometheus.CounterVec
	rateLimitDenials *prometheus.CounterVec
}

// New registers collectors on a fresh registry along with Go runtime and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewWithRegistry(reg)
}

// NewWithRegistry registers collectors on reg.
func NewWithRegistry(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		gatherer: reg,
		sessionsStarted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Assessment sessions started by depth",
		}, []string{"depth"}),
		turns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Conversation turns by depth and outcome",
		}, []string{"depth", "outcome"}),
		oracleCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "oracle_calls_total",
			Help:      "Oracle operations by op and outcome",
		}, []string{"op", "outcome"}),
		oracleDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "oracle_call_duration_seconds",
			Help:      "Oracle operation latency including retries",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10), // 250ms to ~2m
		}, []string{"op"}),
		upgrades: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upgrades_total",
			Help:      "Depth upgrades by source and target tier",
		}, []string{"from", "to", "fallback"}),
		reports: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reports_total",
			Help:      "Final reports served by source",
		}, []string{"source"}), // "generated" or "cached"
		rateLimitDenials: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_denials_total",
			Help:      "Requests denied by the client rate limiter",
		}, []string{"action"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) SessionStarted(depth string) {
	if m == nil {
		return
	}
	m.sessionsStarted.WithLabelValues(depth).Inc()
}

// Turn records a conversation round. outcome is one of "continued",
// "finished" or "failed".
func (m *Metrics) Turn(depth, outcome string) {
	if m == nil {
		return
	}
	m.turns.WithLabelValues(depth, outcome).Inc()
}

func (m *Metrics) Upgrade(from, to string, fallback bool) {
	if m == nil {
		return
	}
	fb := "false"
	if fallback {
		fb = "true"
	}
	m.upgrades.WithLabelValues(from, to, fb).Inc()
}

func (m *Metrics) Report(cached bool) {
	if m == nil {
		return
	}
	source := "generated"
	if cached {
		source = "cached"
	}
	m.reports.WithLabelValues(source).Inc()
}

func (m *Metrics) RateLimitDenied(action string) {
	if m == nil {
		return
	}
	m.rateLimitDenials.WithLabelValues(action).Inc()
}

// ObserveOracleCall implements oracle.Observer.
func (m *Metrics) ObserveOracleCall(op string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = oracle.KindOf(err).String()
	}
	m.oracleCalls.WithLabelValues(op, outcome).Inc()
	m.oracleDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

var _ oracle.Observer = (*Metrics)(nil)
