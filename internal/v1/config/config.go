// Package config validates environment configuration for the signaling
// server at startup.
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
	Port string

	// Identity verifier
	Auth0Domain     string
	Auth0Audience   string
	SkipAuth        bool
	DevelopmentMode bool
	JWTSecret       string // optional; read and logged redacted, no verifier uses it

	// Timers and capacity limits (spec.md §6)
	HeartbeatInterval  time.Duration
	AuthTimeout        time.Duration
	MaxRoomConnections int
	MaxTotalConns      int
	MessageRateLimit   int
	FloorTTL           time.Duration

	// CORS
	AllowedOrigins string

	// Optional cross-instance bus
	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string

	// HTTP status-surface rate limits (ulule/limiter format, e.g. "100-M")
	RateLimitAPIGlobal string
	RateLimitAPIPublic string

	GoEnv    string
	LogLevel string
}

// ValidateEnv validates all required environment variables and returns a
// Config object. Collects every validation failure before returning, so
// an operator sees the whole list instead of fixing one at a time.
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errs []string

	cfg.Port = getEnvOrDefault("PORT", "8080")
	if port, err := strconv.Atoi(cfg.Port); err != nil || port < 1 || port > 65535 {
		errs = append(errs, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.Port))
	}

	cfg.SkipAuth = os.Getenv("SKIP_AUTH") == "true"
	cfg.DevelopmentMode = os.Getenv("DEVELOPMENT_MODE") == "true"
	cfg.Auth0Domain = os.Getenv("AUTH0_DOMAIN")
	cfg.Auth0Audience = os.Getenv("AUTH0_AUDIENCE")
	cfg.JWTSecret = os.Getenv("JWT_SECRET")

	if !cfg.SkipAuth && !cfg.DevelopmentMode {
		if cfg.Auth0Domain == "" || cfg.Auth0Audience == "" {
			errs = append(errs, "AUTH0_DOMAIN and AUTH0_AUDIENCE are required unless SKIP_AUTH or DEVELOPMENT_MODE is set")
		}
	}

	cfg.HeartbeatInterval = durationMsOrDefault("HEARTBEAT_INTERVAL_MS", 15000, &errs)
	cfg.AuthTimeout = durationMsOrDefault("AUTH_TIMEOUT_MS", 30000, &errs)
	cfg.MaxRoomConnections = intOrDefault("MAX_ROOM_CONNECTIONS", 50, &errs)
	cfg.MaxTotalConns = intOrDefault("MAX_TOTAL_CONNECTIONS", 500, &errs)
	cfg.MessageRateLimit = intOrDefault("MESSAGE_RATE_LIMIT", 100, &errs)
	cfg.FloorTTL = time.Duration(intOrDefault("FLOOR_TTL_SECONDS", 120, &errs)) * time.Second

	cfg.AllowedOrigins = getEnvOrDefault("ALLOWED_ORIGINS", "*")

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

	cfg.RateLimitAPIGlobal = getEnvOrDefault("RATE_LIMIT_API_GLOBAL", "1000-M")
	cfg.RateLimitAPIPublic = getEnvOrDefault("RATE_LIMIT_API_PUBLIC", "100-M")

	cfg.GoEnv = getEnvOrDefault("GO_ENV", "production")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	if len(errs) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	logValidatedConfig(cfg)
	return cfg, nil
}

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
		"skip_auth", cfg.SkipAuth,
		"development_mode", cfg.DevelopmentMode,
		"heartbeat_interval", cfg.HeartbeatInterval,
		"auth_timeout", cfg.AuthTimeout,
		"max_room_connections", cfg.MaxRoomConnections,
		"max_total_connections", cfg.MaxTotalConns,
		"message_rate_limit", cfg.MessageRateLimit,
		"floor_ttl", cfg.FloorTTL,
		"redis_enabled", cfg.RedisEnabled,
		"redis_password", redactSecret(cfg.RedisPassword),
		"jwt_secret", redactSecret(cfg.JWTSecret),
		"go_env", cfg.GoEnv,
	)
}

// redactSecret returns a value safe to put in logs: the first 8 characters
// of a long secret followed by "***", or just "***" for anything shorter.
func redactSecret(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:8] + "***"
}

func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func intOrDefault(key string, defaultValue int, errs *[]string) int {
	raw, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		*errs = append(*errs, fmt.Sprintf("%s must be a positive integer (got '%s')", key, raw))
		return defaultValue
	}
	return v
}

func durationMsOrDefault(key string, defaultMs int, errs *[]string) time.Duration {
	return time.Duration(intOrDefault(key, defaultMs, errs)) * time.Millisecond
}
