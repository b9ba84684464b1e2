// Package config validates and exposes environment-derived configuration
// for the AuthFront binary.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds validated environment configuration.
type Config struct {
	// Required variables
	Port         string
	RoomCoreAddr string // host:port of RoomCore's gRPC health service, dialled by AuthFront's readiness check
	AdminAPIKey  string // x-reflect-auth-api-key expected on AuthFront admin endpoints

	// Optional variables with defaults
	GoEnv         string
	LogLevel      string
	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string

	// Auth0 / JWKS
	Auth0Domain     string
	Auth0Audience   string
	SkipAuth        bool
	DevelopmentMode bool
	AllowedOrigins  string

	// TurnLoop / BufferSizer tuning
	TurnDuration           time.Duration
	BufferInitialMs        int
	BufferMinMs            int
	BufferMaxMs            int
	BufferAdjustInterval   time.Duration
	AllowUnconfirmedWrites bool
	RevalidateInterval     time.Duration

	// Rate limits, expressed in ulule/limiter rate-string form ("N-period")
	RateLimitAPIGlobal   string
	RateLimitAPIRooms    string
	RateLimitAPIMessages string
	RateLimitWsIP        string
	RateLimitWsUser      string
}

// ValidateEnv validates all required environment variables and returns a Config object.
// Returns an error if any required variable is missing or invalid.
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errs []string

	cfg.Port = os.Getenv("PORT")
	if cfg.Port == "" {
		errs = append(errs, "PORT is required")
	} else if port, err := strconv.Atoi(cfg.Port); err != nil || port < 1 || port > 65535 {
		errs = append(errs, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.Port))
	}

	cfg.RoomCoreAddr = os.Getenv("ROOMCORE_ADDR")
	if cfg.RoomCoreAddr == "" {
		errs = append(errs, "ROOMCORE_ADDR is required")
	} else if !isValidHostPort(cfg.RoomCoreAddr) {
		errs = append(errs, fmt.Sprintf("ROOMCORE_ADDR must be in format 'host:port' (got '%s')", cfg.RoomCoreAddr))
	}

	cfg.AdminAPIKey = os.Getenv("ADMIN_API_KEY")
	if cfg.AdminAPIKey == "" {
		errs = append(errs, "ADMIN_API_KEY is required")
	}

	cfg.RedisEnabled = os.Getenv("REDIS_ENABLED") == "true"
	if cfg.RedisEnabled {
		cfg.RedisAddr = os.Getenv("REDIS_ADDR")
		if cfg.RedisAddr == "" {
			cfg.RedisAddr = "localhost:6379"
			slog.Warn("REDIS_ADDR not set, using default", "addr", cfg.RedisAddr)
		} else if !isValidHostPort(cfg.RedisAddr) {
			errs = append(errs, fmt.Sprintf("REDIS_ADDR must be in format 'host:port' (got '%s')", cfg.RedisAddr))
		}
		cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	}

	cfg.GoEnv = getEnvOrDefault("GO_ENV", "production")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	cfg.Auth0Domain = os.Getenv("AUTH0_DOMAIN")
	cfg.Auth0Audience = os.Getenv("AUTH0_AUDIENCE")
	cfg.SkipAuth = os.Getenv("SKIP_AUTH") == "true"
	cfg.DevelopmentMode = os.Getenv("DEVELOPMENT_MODE") == "true"
	cfg.AllowedOrigins = os.Getenv("ALLOWED_ORIGINS")

	if !cfg.SkipAuth && (cfg.Auth0Domain == "" || cfg.Auth0Audience == "") {
		errs = append(errs, "AUTH0_DOMAIN and AUTH0_AUDIENCE are required when SKIP_AUTH is not true")
	}

	cfg.TurnDuration = durationFromMsEnv("TURN_DURATION_MS", 66)
	cfg.BufferInitialMs = intFromEnv("BUFFER_INITIAL_MS", 200)
	cfg.BufferMinMs = intFromEnv("BUFFER_MIN_MS", 0)
	cfg.BufferMaxMs = intFromEnv("BUFFER_MAX_MS", 500)
	cfg.BufferAdjustInterval = durationFromMsEnv("BUFFER_ADJUST_INTERVAL_MS", 10_000)
	cfg.AllowUnconfirmedWrites = os.Getenv("ALLOW_UNCONFIRMED_WRITES") == "true"
	cfg.RevalidateInterval = durationFromMsEnv("REVALIDATE_INTERVAL_MS", 30_000)

	if cfg.BufferInitialMs < cfg.BufferMinMs || cfg.BufferInitialMs > cfg.BufferMaxMs {
		errs = append(errs, fmt.Sprintf("BUFFER_INITIAL_MS (%d) must be within [BUFFER_MIN_MS, BUFFER_MAX_MS] = [%d, %d]", cfg.BufferInitialMs, cfg.BufferMinMs, cfg.BufferMaxMs))
	}

	cfg.RateLimitAPIGlobal = getEnvOrDefault("RATE_LIMIT_API_GLOBAL", "1000-M")
	cfg.RateLimitAPIRooms = getEnvOrDefault("RATE_LIMIT_API_ROOMS", "100-M")
	cfg.RateLimitAPIMessages = getEnvOrDefault("RATE_LIMIT_API_MESSAGES", "500-M")
	cfg.RateLimitWsIP = getEnvOrDefault("RATE_LIMIT_WS_IP", "100-M")
	cfg.RateLimitWsUser = getEnvOrDefault("RATE_LIMIT_WS_USER", "10-M")

	if len(errs) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	logValidatedConfig(cfg)
	return cfg, nil
}

// isValidHostPort checks if a string is in the format "host:port".
func isValidHostPort(addr string) bool {
	parts := strings.Split(addr, ":")
	if len(parts) != 2 {
		return false
	}
	port, err := strconv.Atoi(parts[1])
	if err != nil || port < 1 || port > 65535 {
		return false
	}
	return parts[0] != ""
}

func logValidatedConfig(cfg *Config) {
	slog.Info("environment configuration validated",
		"port", cfg.Port,
		"roomcore_addr", cfg.RoomCoreAddr,
		"admin_api_key", redactSecret(cfg.AdminAPIKey),
		"redis_enabled", cfg.RedisEnabled,
		"redis_addr", cfg.RedisAddr,
		"go_env", cfg.GoEnv,
		"log_level", cfg.LogLevel,
		"development_mode", cfg.DevelopmentMode,
		"turn_duration", cfg.TurnDuration,
		"allow_unconfirmed_writes", cfg.AllowUnconfirmedWrites,
	)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func intFromEnv(key string, defaultValue int) int {
	if v, exists := os.LookupEnv(key); exists {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func durationFromMsEnv(key string, defaultMs int) time.Duration {
	return time.Duration(intFromEnv(key, defaultMs)) * time.Millisecond
}

// redactSecret redacts a secret by showing only the first 8 characters.
func redactSecret(secret string) string {
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:8] + "***"
}
