package config

import (
	"os"
	"strings"
	"testing"
)

// setupTestEnv sets up environment variables for testing
func setupTestEnv(t *testing.T) func() {
	keys := []string{
		"PORT", "ROOMCORE_ADDR", "ADMIN_API_KEY",
		"REDIS_ENABLED", "REDIS_ADDR",
		"GO_ENV", "LOG_LEVEL",
		"AUTH0_DOMAIN", "AUTH0_AUDIENCE", "SKIP_AUTH",
		"BUFFER_INITIAL_MS", "BUFFER_MIN_MS", "BUFFER_MAX_MS",
	}
	orig := make(map[string]string, len(keys))
	for _, k := range keys {
		orig[k] = os.Getenv(k)
		os.Unsetenv(k)
	}

	return func() {
		for k, v := range orig {
			if v != "" {
				os.Setenv(k, v)
			} else {
				os.Unsetenv(k)
			}
		}
	}
}

func TestValidateEnv_ValidConfiguration(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("PORT", "8080")
	os.Setenv("ROOMCORE_ADDR", "localhost:7000")
	os.Setenv("ADMIN_API_KEY", "test-admin-key")
	os.Setenv("SKIP_AUTH", "true")

	cfg, err := ValidateEnv()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("Expected PORT to be '8080', got '%s'", cfg.Port)
	}
	if cfg.RoomCoreAddr != "localhost:7000" {
		t.Errorf("Expected ROOMCORE_ADDR to be 'localhost:7000', got '%s'", cfg.RoomCoreAddr)
	}
	if cfg.GoEnv != "production" {
		t.Errorf("Expected GO_ENV to default to 'production', got '%s'", cfg.GoEnv)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("Expected LOG_LEVEL to default to 'info', got '%s'", cfg.LogLevel)
	}
}

func TestValidateEnv_MissingPort(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("ROOMCORE_ADDR", "localhost:7000")
	os.Setenv("ADMIN_API_KEY", "test-admin-key")
	os.Setenv("SKIP_AUTH", "true")

	_, err := ValidateEnv()
	if err == nil {
		t.Fatal("Expected error for missing PORT, got nil")
	}
	if !strings.Contains(err.Error(), "PORT is required") {
		t.Errorf("Expected error message about PORT, got: %v", err)
	}
}

func TestValidateEnv_InvalidPort(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("PORT", "99999")
	os.Setenv("ROOMCORE_ADDR", "localhost:7000")
	os.Setenv("ADMIN_API_KEY", "test-admin-key")
	os.Setenv("SKIP_AUTH", "true")

	_, err := ValidateEnv()
	if err == nil {
		t.Fatal("Expected error for invalid PORT, got nil")
	}
	if !strings.Contains(err.Error(), "PORT must be a valid port number") {
		t.Errorf("Expected error message about invalid PORT, got: %v", err)
	}
}

func TestValidateEnv_MissingRoomCoreAddr(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("PORT", "8080")
	os.Setenv("ADMIN_API_KEY", "test-admin-key")
	os.Setenv("SKIP_AUTH", "true")

	_, err := ValidateEnv()
	if err == nil {
		t.Fatal("Expected error for missing ROOMCORE_ADDR, got nil")
	}
	if !strings.Contains(err.Error(), "ROOMCORE_ADDR is required") {
		t.Errorf("Expected error message about ROOMCORE_ADDR, got: %v", err)
	}
}

func TestValidateEnv_InvalidRoomCoreAddr(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("PORT", "8080")
	os.Setenv("ROOMCORE_ADDR", "no-port-here")
	os.Setenv("ADMIN_API_KEY", "test-admin-key")
	os.Setenv("SKIP_AUTH", "true")

	_, err := ValidateEnv()
	if err == nil {
		t.Fatal("Expected error for invalid ROOMCORE_ADDR, got nil")
	}
	if !strings.Contains(err.Error(), "ROOMCORE_ADDR must be in format 'host:port'") {
		t.Errorf("Expected error message about ROOMCORE_ADDR format, got: %v", err)
	}
}

func TestValidateEnv_MissingAdminAPIKey(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("PORT", "8080")
	os.Setenv("ROOMCORE_ADDR", "localhost:7000")
	os.Setenv("SKIP_AUTH", "true")

	_, err := ValidateEnv()
	if err == nil {
		t.Fatal("Expected error for missing ADMIN_API_KEY, got nil")
	}
	if !strings.Contains(err.Error(), "ADMIN_API_KEY is required") {
		t.Errorf("Expected error message about ADMIN_API_KEY, got: %v", err)
	}
}

func TestValidateEnv_MissingAuth0WhenAuthRequired(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("PORT", "8080")
	os.Setenv("ROOMCORE_ADDR", "localhost:7000")
	os.Setenv("ADMIN_API_KEY", "test-admin-key")

	_, err := ValidateEnv()
	if err == nil {
		t.Fatal("Expected error for missing AUTH0_DOMAIN/AUTH0_AUDIENCE, got nil")
	}
	if !strings.Contains(err.Error(), "AUTH0_DOMAIN and AUTH0_AUDIENCE are required") {
		t.Errorf("Expected error message about Auth0 config, got: %v", err)
	}
}

func TestValidateEnv_InvalidRedisAddr(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("PORT", "8080")
	os.Setenv("ROOMCORE_ADDR", "localhost:7000")
	os.Setenv("ADMIN_API_KEY", "test-admin-key")
	os.Setenv("SKIP_AUTH", "true")
	os.Setenv("REDIS_ENABLED", "true")
	os.Setenv("REDIS_ADDR", "invalid-format")

	_, err := ValidateEnv()
	if err == nil {
		t.Fatal("Expected error for invalid REDIS_ADDR, got nil")
	}
	if !strings.Contains(err.Error(), "REDIS_ADDR must be in format 'host:port'") {
		t.Errorf("Expected error message about REDIS_ADDR format, got: %v", err)
	}
}

func TestValidateEnv_RedisDefaultAddr(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("PORT", "8080")
	os.Setenv("ROOMCORE_ADDR", "localhost:7000")
	os.Setenv("ADMIN_API_KEY", "test-admin-key")
	os.Setenv("SKIP_AUTH", "true")
	os.Setenv("REDIS_ENABLED", "true")
	// Don't set REDIS_ADDR

	cfg, err := ValidateEnv()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if cfg.RedisAddr != "localhost:6379" {
		t.Errorf("Expected REDIS_ADDR to default to 'localhost:6379', got '%s'", cfg.RedisAddr)
	}
}

func TestValidateEnv_BufferBoundsOutOfRange(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("PORT", "8080")
	os.Setenv("ROOMCORE_ADDR", "localhost:7000")
	os.Setenv("ADMIN_API_KEY", "test-admin-key")
	os.Setenv("SKIP_AUTH", "true")
	os.Setenv("BUFFER_MIN_MS", "100")
	os.Setenv("BUFFER_MAX_MS", "200")
	os.Setenv("BUFFER_INITIAL_MS", "500")

	_, err := ValidateEnv()
	if err == nil {
		t.Fatal("Expected error for out-of-range BUFFER_INITIAL_MS, got nil")
	}
	if !strings.Contains(err.Error(), "must be within [BUFFER_MIN_MS, BUFFER_MAX_MS]") {
		t.Errorf("Expected error message about buffer bounds, got: %v", err)
	}
}

func TestValidateEnv_OptionalDefaults(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("PORT", "8080")
	os.Setenv("ROOMCORE_ADDR", "localhost:7000")
	os.Setenv("ADMIN_API_KEY", "test-admin-key")
	os.Setenv("SKIP_AUTH", "true")

	cfg, err := ValidateEnv()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if cfg.GoEnv != "production" {
		t.Errorf("Expected GO_ENV to default to 'production', got '%s'", cfg.GoEnv)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("Expected LOG_LEVEL to default to 'info', got '%s'", cfg.LogLevel)
	}
	if cfg.BufferInitialMs != 200 {
		t.Errorf("Expected BUFFER_INITIAL_MS to default to 200, got %d", cfg.BufferInitialMs)
	}
	if cfg.RateLimitAPIGlobal != "1000-M" {
		t.Errorf("Expected RATE_LIMIT_API_GLOBAL to default to '1000-M', got '%s'", cfg.RateLimitAPIGlobal)
	}
}

func TestRedactSecret(t *testing.T) {
	tests := []struct {
		name     string
		secret   string
		expected string
	}{
		{"Long secret", "this-is-a-very-long-secret-key", "this-is-***"},
		{"Short secret", "short", "***"},
		{"Exactly 8 chars", "12345678", "***"},
		{"9 chars", "123456789", "12345678***"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := redactSecret(tt.secret)
			if result != tt.expected {
				t.Errorf("Expected '%s', got '%s'", tt.expected, result)
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
		{"Valid localhost", "localhost:8080", true},
		{"Valid IP", "127.0.0.1:3000", true},
		{"Valid hostname", "example.com:443", true},
		{"Missing port", "localhost", false},
		{"Missing host", ":8080", false},
		{"Invalid port", "localhost:99999", false},
		{"Non-numeric port", "localhost:abc", false},
		{"Multiple colons", "localhost:8080:9090", false},
		{"Empty string", "", false},
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
