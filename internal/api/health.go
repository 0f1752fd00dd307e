package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/mbti-assistant/internal/identity"
	"github.com/ashureev/mbti-assistant/internal/ratelimit"
	"github.com/ashureev/mbti-assistant/internal/store"
	"github.com/go-chi/chi/v5"
)

// ServiceName and Version identify the API on the root endpoint.
const (
	ServiceName = "mbti-assistant"
	Version     = "1.0.0"
)

const healthCheckTimeout = 5 * time.Second

// HealthHandler handles health, info and quota endpoints.
type HealthHandler struct {
	repo     store.Repository
	limiter  *ratelimit.Limiter
	provider string
}

// NewHealthHandler creates a health handler. provider names the oracle backend.
func NewHealthHandler(repo store.Repository, limiter *ratelimit.Limiter, provider string) *HealthHandler {
	return &HealthHandler{repo: repo, limiter: limiter, provider: provider}
}

// Root returns the service identity.
func (h *HealthHandler) Root(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]string{
		"service": ServiceName,
		"version": Version,
		"status":  "running",
	})
}

// Health returns the health status of the API and its dependencies.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	checks := map[string]string{"api": "ok", "oracle": h.provider}
	status := map[string]interface{}{
		"status": "healthy",
		"checks": checks,
	}
	statusCode := http.StatusOK

	if err := h.repo.Ping(ctx); err != nil {
		slog.Error("Health check failed", "error", err)
		status["status"] = "degraded"
		checks["database"] = "unreachable"
		statusCode = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	JSON(w, statusCode, status)
}

// RateLimit reports the caller's current quota usage.
func (h *HealthHandler) RateLimit(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, h.limiter.Usage(identity.ClientIPFromContext(r.Context())))
}

// RegisterHealth registers the health, info and quota routes.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/", h.Root)
	r.Get("/health", h.Health)
	r.Get("/rate-limit", h.RateLimit)
}
