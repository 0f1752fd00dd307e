// MBTI Assistant - conversational personality assessment server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/mbti-assistant/internal/api"
	"github.com/ashureev/mbti-assistant/internal/assessment"
	"github.com/ashureev/mbti-assistant/internal/catalog"
	"github.com/ashureev/mbti-assistant/internal/config"
	"github.com/ashureev/mbti-assistant/internal/domain"
	"github.com/ashureev/mbti-assistant/internal/grpchealth"
	"github.com/ashureev/mbti-assistant/internal/metrics"
	"github.com/ashureev/mbti-assistant/internal/middleware"
	"github.com/ashureev/mbti-assistant/internal/oracle"
	"github.com/ashureev/mbti-assistant/internal/ratelimit"
	"github.com/ashureev/mbti-assistant/internal/store"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "oracle", cfg.Oracle.Provider)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(ctx); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected", "path", cfg.DBPath)

	m := metrics.New()
	cat := catalog.Default()

	completer, err := newCompleter(ctx, cfg.Oracle)
	if err != nil {
		slog.Error("Failed to initialize oracle", "provider", cfg.Oracle.Provider, "error", err)
		os.Exit(1)
	}
	orc := oracle.NewClient(completer, oracle.Options{
		MaxAttempts: cfg.Oracle.MaxAttempts,
		BackoffBase: cfg.Oracle.BackoffBase,
		CallTimeout: cfg.Oracle.Timeout,
		Catalog:     cat,
		Observer:    m,
	})
	slog.Info("Oracle ready", "provider", orc.Provider(), "chat_model", cfg.Oracle.ChatModel, "analysis_model", cfg.Oracle.AnalysisModel)

	limiter := ratelimit.New(ratelimit.Limits{
		SessionsPerDay:    cfg.RateLimit.SessionsPerDay,
		MessagesPerDay:    cfg.RateLimit.MessagesPerDay,
		MessagesPerMinute: cfg.RateLimit.MessagesPerMinute,
	})
	limiter.Start(ctx, cfg.RateLimit.SweepInterval)

	svc, err := assessment.New(repo, orc, assessment.Options{
		Policy: domain.RoundPolicy{
			Shallow:  cfg.Rounds.Shallow,
			Standard: cfg.Rounds.Standard,
			Deep:     cfg.Rounds.Deep,
		},
		AllowEarlyFinish: cfg.AllowEarlyFinish,
		DefaultLanguage:  cfg.DefaultLanguage,
		Catalog:          cat,
		Metrics:          m,
	})
	if err != nil {
		slog.Error("Failed to initialize assessment service", "error", err)
		os.Exit(1)
	}

	if cfg.TrackingAPIKey == "" {
		slog.Warn("TRACKING_API_KEY not set, analytics stats endpoint is disabled")
	}

	router := api.NewRouter(api.RouterConfig{
		Base:           api.NewHandler(svc, repo, limiter, m, cfg.MaxRequestBody),
		Metrics:        m,
		Provider:       orc.Provider(),
		CORSOrigins:    middleware.ParseOrigins(cfg.CORSOrigins),
		TrackingKey:    cfg.TrackingAPIKey,
		RequestLogging: true,
	})

	// Oracle calls can take close to a minute, so writes get more headroom
	// than reads. WebSocket connections are hijacked and unaffected.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.Oracle.Timeout*time.Duration(cfg.Oracle.MaxAttempts) + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	var health *grpchealth.Server
	if cfg.GRPCHealthPort != "" {
		lis, err := net.Listen("tcp", ":"+cfg.GRPCHealthPort)
		if err != nil {
			slog.Error("Failed to listen for gRPC health", "port", cfg.GRPCHealthPort, "error", err)
			os.Exit(1)
		}
		health = grpchealth.New(repo, grpchealth.DefaultInterval, logger)
		health.Start(ctx)
		go func() {
			slog.Info("gRPC health listening", "addr", lis.Addr().String())
			if err := health.Serve(lis); err != nil {
				slog.Error("gRPC health server failed", "error", err)
			}
		}()
	}

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if health != nil {
		health.Stop()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}

func newCompleter(ctx context.Context, cfg config.OracleConfig) (oracle.Completer, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		return oracle.NewOpenAICompleter(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.ChatModel, cfg.AnalysisModel)
	default:
		return oracle.NewGeminiCompleter(ctx, cfg.GeminiAPIKey, cfg.ChatModel, cfg.AnalysisModel)
	}
}
