package api

import (
	"net/http"

	"github.com/ashureev/mbti-assistant/internal/identity"
	"github.com/ashureev/mbti-assistant/internal/metrics"
	"github.com/ashureev/mbti-assistant/internal/middleware"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// RouterConfig collects the handlers and settings the router mounts.
type RouterConfig struct {
	Base        *Handler
	Metrics     *metrics.Metrics
	Provider    string
	CORSOrigins []string
	TrackingKey string
	// RequestLogging enables chi's access log; tests turn it off.
	RequestLogging bool
}

// NewRouter builds the HTTP surface.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	if cfg.RequestLogging {
		r.Use(chiMiddleware.Logger)
	}
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(cfg.CORSOrigins))
	r.Use(identity.Middleware)

	NewHealthHandler(cfg.Base.repo, cfg.Base.limiter, cfg.Provider).RegisterHealth(r)
	NewChatHandler(cfg.Base, middleware.OriginHosts(cfg.CORSOrigins)).RegisterRoutes(r)
	NewAnalyticsHandler(cfg.Base, cfg.TrackingKey).RegisterRoutes(r)
	NewTrackingHandler(cfg.Base, cfg.TrackingKey).RegisterRoutes(r)
	r.Handle("/metrics", cfg.Metrics.Handler())

	return r
}
