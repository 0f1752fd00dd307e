// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Supported oracle providers.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// Config holds all application configuration.
type Config struct {
	Port            string
	DBPath          string
	FrontendURL     string
	CORSOrigins     string
	LogLevel        string
	DefaultLanguage string
	TrackingAPIKey  string
	GRPCHealthPort  string
	MaxRequestBody  int64

	Oracle    OracleConfig
	RateLimit RateLimitConfig
	Rounds    RoundsConfig

	// AllowEarlyFinish honors the oracle's own completion signal before max rounds.
	AllowEarlyFinish bool
}

// OracleConfig selects and tunes the LLM provider.
type OracleConfig struct {
	Provider      string
	GeminiAPIKey  string
	OpenAIAPIKey  string
	OpenAIBaseURL string
	ChatModel     string
	AnalysisModel string
	Timeout       time.Duration
	MaxAttempts   int
	BackoffBase   time.Duration
}

// RateLimitConfig holds per-client quotas.
type RateLimitConfig struct {
	SessionsPerDay    int
	MessagesPerDay    int
	MessagesPerMinute int
	SweepInterval     time.Duration
}

// RoundsConfig holds the round budget of each depth.
type RoundsConfig struct {
	Shallow  int
	Standard int
	Deep     int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	provider := strings.ToLower(strings.TrimSpace(getEnv("ORACLE_PROVIDER", ProviderGemini)))
	chatModel, analysisModel := defaultModels(provider)

	cfg := &Config{
		Port:             getEnv("PORT", "8080"),
		DBPath:           getEnv("DB_PATH", "./data/mbti_assistant.db"),
		FrontendURL:      getEnv("FRONTEND_URL", ""),
		CORSOrigins:      getEnv("CORS_ORIGINS", "*"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		DefaultLanguage:  getEnv("DEFAULT_LANGUAGE", "zh-CN"),
		TrackingAPIKey:   getEnv("TRACKING_API_KEY", ""),
		GRPCHealthPort:   getEnv("GRPC_HEALTH_PORT", ""),
		MaxRequestBody:   int64(getEnvInt("MAX_REQUEST_BODY_BYTES", 1<<20)),
		AllowEarlyFinish: getEnvBool("ALLOW_EARLY_FINISH", false),
		Oracle: OracleConfig{
			Provider:      provider,
			GeminiAPIKey:  getEnv("GEMINI_API_KEY", ""),
			OpenAIAPIKey:  getEnv("OPENAI_API_KEY", ""),
			OpenAIBaseURL: getEnv("OPENAI_BASE_URL", ""),
			ChatModel:     getEnv("CHAT_MODEL", chatModel),
			AnalysisModel: getEnv("ANALYSIS_MODEL", analysisModel),
			Timeout:       getEnvDuration("ORACLE_TIMEOUT", 60*time.Second),
			MaxAttempts:   getEnvInt("ORACLE_MAX_ATTEMPTS", 3),
			BackoffBase:   getEnvDuration("ORACLE_BACKOFF_BASE", time.Second),
		},
		RateLimit: RateLimitConfig{
			SessionsPerDay:    getEnvInt("RATE_LIMIT_SESSIONS_PER_DAY", 5),
			MessagesPerDay:    getEnvInt("RATE_LIMIT_MESSAGES_PER_DAY", 100),
			MessagesPerMinute: getEnvInt("RATE_LIMIT_MESSAGES_PER_MINUTE", 10),
			SweepInterval:     getEnvDuration("RATE_LIMIT_SWEEP_INTERVAL", time.Hour),
		},
		Rounds: RoundsConfig{
			Shallow:  getEnvInt("ROUNDS_SHALLOW", 5),
			Standard: getEnvInt("ROUNDS_STANDARD", 15),
			Deep:     getEnvInt("ROUNDS_DEEP", 30),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func defaultModels(provider string) (chat, analysis string) {
	if provider == ProviderOpenAI {
		return "gpt-4o-mini", "gpt-4o"
	}
	return "gemini-3-flash-preview", "gemini-3-pro-preview"
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.MaxRequestBody <= 0 {
		return fmt.Errorf("MAX_REQUEST_BODY_BYTES must be > 0")
	}
	switch c.Oracle.Provider {
	case ProviderGemini:
		if c.Oracle.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required when ORACLE_PROVIDER=gemini")
		}
	case ProviderOpenAI:
		if c.Oracle.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required when ORACLE_PROVIDER=openai")
		}
	default:
		return fmt.Errorf("ORACLE_PROVIDER must be %q or %q, got %q", ProviderGemini, ProviderOpenAI, c.Oracle.Provider)
	}
	if c.Oracle.Timeout <= 0 {
		return fmt.Errorf("ORACLE_TIMEOUT must be > 0")
	}
	if c.Oracle.MaxAttempts <= 0 {
		return fmt.Errorf("ORACLE_MAX_ATTEMPTS must be > 0")
	}
	if c.Oracle.BackoffBase < 0 {
		return fmt.Errorf("ORACLE_BACKOFF_BASE cannot be negative")
	}
	if c.RateLimit.SessionsPerDay < 0 || c.RateLimit.MessagesPerDay < 0 || c.RateLimit.MessagesPerMinute < 0 {
		return fmt.Errorf("rate limits cannot be negative")
	}
	if c.RateLimit.SweepInterval <= 0 {
		return fmt.Errorf("RATE_LIMIT_SWEEP_INTERVAL must be > 0")
	}
	r := c.Rounds
	if r.Shallow <= 0 || r.Standard <= r.Shallow || r.Deep <= r.Standard {
		return fmt.Errorf("round budgets must satisfy 0 < shallow < standard < deep, got %d/%d/%d",
			r.Shallow, r.Standard, r.Deep)
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	if env := os.Getenv("APP_ENV"); env != "" {
		return env == "development"
	}
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// SlogLevel maps LOG_LEVEL to a slog level. Unknown values mean Info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

// getEnvDuration accepts Go durations ("90s") or bare seconds ("90").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}
