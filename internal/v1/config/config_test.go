package config

import (
	"os"
	"strings"
	"testing"
)

// setupTestEnv sets up environment variables for testing
func setupTestEnv(t *testing.T) func() {
	keys := []string{
		"PORT", "SKIP_AUTH", "DEVELOPMENT_MODE", "AUTH0_DOMAIN", "AUTH0_AUDIENCE",
		"JWT_SECRET", "HEARTBEAT_INTERVAL_MS", "AUTH_TIMEOUT_MS",
		"MAX_ROOM_CONNECTIONS", "MAX_TOTAL_CONNECTIONS", "MESSAGE_RATE_LIMIT",
		"FLOOR_TTL_SECONDS", "ALLOWED_ORIGINS", "REDIS_ENABLED", "REDIS_ADDR",
		"REDIS_PASSWORD", "RATE_LIMIT_API_GLOBAL", "RATE_LIMIT_API_PUBLIC",
		"GO_ENV", "LOG_LEVEL",
	}

	orig := make(map[string]string, len(keys))
	for _, k := range keys {
		orig[k] = os.Getenv(k)
		os.Unsetenv(k)
	}

	return func() {
		for _, k := range keys {
			if v := orig[k]; v != "" {
				os.Setenv(k, v)
			} else {
				os.Unsetenv(k)
			}
		}
	}
}

func TestValidateEnv_DefaultsWithSkipAuth(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("SKIP_AUTH", "true")

	cfg, err := ValidateEnv()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("expected PORT to default to '8080', got '%s'", cfg.Port)
	}
	if cfg.HeartbeatInterval.Milliseconds() != 15000 {
		t.Errorf("expected HEARTBEAT_INTERVAL_MS to default to 15000ms, got %v", cfg.HeartbeatInterval)
	}
	if cfg.MaxRoomConnections != 50 {
		t.Errorf("expected MAX_ROOM_CONNECTIONS to default to 50, got %d", cfg.MaxRoomConnections)
	}
	if cfg.FloorTTL.Seconds() != 120 {
		t.Errorf("expected FLOOR_TTL_SECONDS to default to 120s, got %v", cfg.FloorTTL)
	}
	if cfg.GoEnv != "production" {
		t.Errorf("expected GO_ENV to default to 'production', got '%s'", cfg.GoEnv)
	}
}

func TestValidateEnv_MissingAuth0Config(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	_, err := ValidateEnv()
	if err == nil {
		t.Fatal("expected error when AUTH0_DOMAIN/AUTH0_AUDIENCE are missing and SKIP_AUTH/DEVELOPMENT_MODE are unset")
	}
	if !strings.Contains(err.Error(), "AUTH0_DOMAIN and AUTH0_AUDIENCE are required") {
		t.Errorf("expected error about AUTH0 config, got: %v", err)
	}
}

func TestValidateEnv_DevelopmentModeSkipsAuth0(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("DEVELOPMENT_MODE", "true")

	cfg, err := ValidateEnv()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if !cfg.DevelopmentMode {
		t.Error("expected DevelopmentMode to be true")
	}
}

func TestValidateEnv_InvalidPort(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("SKIP_AUTH", "true")
	os.Setenv("PORT", "99999")

	_, err := ValidateEnv()
	if err == nil {
		t.Fatal("expected error for invalid PORT, got nil")
	}
	if !strings.Contains(err.Error(), "PORT must be a valid port number") {
		t.Errorf("expected error message about invalid PORT, got: %v", err)
	}
}

func TestValidateEnv_InvalidIntFields(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("SKIP_AUTH", "true")
	os.Setenv("MAX_ROOM_CONNECTIONS", "not-a-number")

	_, err := ValidateEnv()
	if err == nil {
		t.Fatal("expected error for non-numeric MAX_ROOM_CONNECTIONS, got nil")
	}
	if !strings.Contains(err.Error(), "MAX_ROOM_CONNECTIONS must be a positive integer") {
		t.Errorf("expected error about MAX_ROOM_CONNECTIONS, got: %v", err)
	}
}

func TestValidateEnv_RedisDefaultAddr(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("SKIP_AUTH", "true")
	os.Setenv("REDIS_ENABLED", "true")

	cfg, err := ValidateEnv()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if cfg.RedisAddr != "localhost:6379" {
		t.Errorf("expected REDIS_ADDR to default to 'localhost:6379', got '%s'", cfg.RedisAddr)
	}
}

func TestValidateEnv_InvalidRedisAddr(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("SKIP_AUTH", "true")
	os.Setenv("REDIS_ENABLED", "true")
	os.Setenv("REDIS_ADDR", "invalid-format")

	_, err := ValidateEnv()
	if err == nil {
		t.Fatal("expected error for invalid REDIS_ADDR, got nil")
	}
	if !strings.Contains(err.Error(), "REDIS_ADDR must be in format 'host:port'") {
		t.Errorf("expected error about REDIS_ADDR format, got: %v", err)
	}
}

func TestValidateEnv_RateLimitDefaults(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("SKIP_AUTH", "true")

	cfg, err := ValidateEnv()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if cfg.RateLimitAPIGlobal != "1000-M" {
		t.Errorf("expected RATE_LIMIT_API_GLOBAL to default to '1000-M', got '%s'", cfg.RateLimitAPIGlobal)
	}
	if cfg.RateLimitAPIPublic != "100-M" {
		t.Errorf("expected RATE_LIMIT_API_PUBLIC to default to '100-M', got '%s'", cfg.RateLimitAPIPublic)
	}
}

func TestRedactSecret(t *testing.T) {
	tests := []struct {
		name     string
		secret   string
		expected string
	}{
		{"empty", "", ""},
		{"long secret", "this-is-a-very-long-secret-key", "this-is-***"},
		{"short secret", "short", "***"},
		{"exactly 8 chars", "12345678", "***"},
		{"9 chars", "123456789", "12345678***"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := redactSecret(tt.secret)
			if result != tt.expected {
				t.Errorf("expected '%s', got '%s'", tt.expected, result)
			}
		})
	}
}

func TestIsValidHostPort(t *testing.T) {
	tests := []struct {
		name     string
		addr     string
		expected bool
	}{
		{"valid localhost", "localhost:8080", true},
		{"valid IP", "127.0.0.1:3000", true},
		{"valid hostname", "example.com:443", true},
		{"missing port", "localhost", false},
		{"missing host", ":8080", false},
		{"invalid port", "localhost:99999", false},
		{"non-numeric port", "localhost:abc", false},
		{"multiple colons", "localhost:8080:9090", false},
		{"empty string", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := isValidHostPort(tt.addr)
			if result != tt.expected {
				t.Errorf("isValidHostPort('%s') = %v, expected %v", tt.addr, result, tt.expected)
			}
		})
	}
}
