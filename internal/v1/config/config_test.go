package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

// setupTestEnv clears every configuration variable and returns a cleanup
// function restoring the original values.
func setupTestEnv(t *testing.T) func() {
	keys := []string{
		"PORT",
		"WS_PATH_PREFIX",
		"HEALTH_PATH",
		"ROOM_CLEANUP_TIMEOUT_MS",
		"HEARTBEAT_INTERVAL_MS",
		"HEARTBEAT_TIMEOUT_MS",
		"ROOM_MAX_CONNECTIONS",
		"AUTH_JWKS_DOMAIN",
		"AUTH_AUDIENCE",
		"REDIS_ENABLED",
		"REDIS_ADDR",
		"REDIS_PASSWORD",
		"RATE_LIMIT_WS_IP",
		"GO_ENV",
		"LOG_LEVEL",
		"ALLOWED_ORIGINS",
	}

	origVars := make(map[string]string, len(keys))
	for _, key := range keys {
		origVars[key] = os.Getenv(key)
		os.Unsetenv(key)
	}

	return func() {
		for key, val := range origVars {
			if val != "" {
				os.Setenv(key, val)
			} else {
				os.Unsetenv(key)
			}
		}
	}
}

func TestValidateEnv_ValidConfiguration(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	cfg, err := ValidateEnv()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("Expected PORT to default to '8080', got '%s'", cfg.Port)
	}
	if cfg.PathPrefix != "/rooms" {
		t.Errorf("Expected WS_PATH_PREFIX to default to '/rooms', got '%s'", cfg.PathPrefix)
	}
	if cfg.HealthPath != "/health" {
		t.Errorf("Expected HEALTH_PATH to default to '/health', got '%s'", cfg.HealthPath)
	}
	if cfg.CleanupTimeout != 30*time.Second {
		t.Errorf("Expected cleanup timeout default of 30s, got %v", cfg.CleanupTimeout)
	}
	if cfg.HeartbeatInterval != 15*time.Second {
		t.Errorf("Expected heartbeat interval default of 15s, got %v", cfg.HeartbeatInterval)
	}
	if cfg.HeartbeatTimeout != 45*time.Second {
		t.Errorf("Expected heartbeat timeout default of 45s, got %v", cfg.HeartbeatTimeout)
	}
	if cfg.MaxConnections != 0 {
		t.Errorf("Expected max connections default of 0 (unlimited), got %d", cfg.MaxConnections)
	}
	if cfg.RateLimitWsIP != "60-M" {
		t.Errorf("Expected RATE_LIMIT_WS_IP to default to '60-M', got '%s'", cfg.RateLimitWsIP)
	}
	if cfg.GoEnv != "production" {
		t.Errorf("Expected GO_ENV to default to 'production', got '%s'", cfg.GoEnv)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("Expected LOG_LEVEL to default to 'info', got '%s'", cfg.LogLevel)
	}
	if cfg.IsDevelopment() {
		t.Error("Expected production mode by default")
	}
}

func TestValidateEnv_PortOverride(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("PORT", "9090")

	cfg, err := ValidateEnv()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if cfg.Port != "9090" {
		t.Errorf("Expected PORT override to win, got '%s'", cfg.Port)
	}
}

func TestValidateEnv_InvalidPort(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	for _, port := range []string{"0", "65536", "-1", "not-a-port"} {
		os.Setenv("PORT", port)
		_, err := ValidateEnv()
		if err == nil {
			t.Fatalf("Expected error for PORT=%s, got nil", port)
		}
		if !strings.Contains(err.Error(), "PORT must be a valid port number") {
			t.Errorf("Expected port range error for PORT=%s, got: %v", port, err)
		}
	}
}

func TestValidateEnv_AggregatesAllErrors(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("PORT", "not-a-port")
	os.Setenv("WS_PATH_PREFIX", "rooms")
	os.Setenv("HEARTBEAT_TIMEOUT_MS", "zero")
	os.Setenv("ROOM_MAX_CONNECTIONS", "-5")

	_, err := ValidateEnv()
	if err == nil {
		t.Fatal("Expected aggregated error, got nil")
	}
	for _, fragment := range []string{
		"PORT must be a valid port number",
		"WS_PATH_PREFIX must start with '/'",
		"HEARTBEAT_TIMEOUT_MS must be a positive integer",
		"ROOM_MAX_CONNECTIONS must be a non-negative integer",
	} {
		if !strings.Contains(err.Error(), fragment) {
			t.Errorf("Expected error to mention %q, got: %v", fragment, err)
		}
	}
}

func TestValidateEnv_DurationOverrides(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("PORT", "8080")
	os.Setenv("ROOM_CLEANUP_TIMEOUT_MS", "5000")
	os.Setenv("HEARTBEAT_INTERVAL_MS", "1000")
	os.Setenv("HEARTBEAT_TIMEOUT_MS", "3000")
	os.Setenv("ROOM_MAX_CONNECTIONS", "50")

	cfg, err := ValidateEnv()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if cfg.CleanupTimeout != 5*time.Second {
		t.Errorf("Expected 5s cleanup timeout, got %v", cfg.CleanupTimeout)
	}
	if cfg.HeartbeatInterval != time.Second {
		t.Errorf("Expected 1s heartbeat interval, got %v", cfg.HeartbeatInterval)
	}
	if cfg.HeartbeatTimeout != 3*time.Second {
		t.Errorf("Expected 3s heartbeat timeout, got %v", cfg.HeartbeatTimeout)
	}
	if cfg.MaxConnections != 50 {
		t.Errorf("Expected max connections 50, got %d", cfg.MaxConnections)
	}
}

func TestValidateEnv_AuthPairRequired(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("PORT", "8080")
	os.Setenv("AUTH_JWKS_DOMAIN", "tenant.auth0.com")

	_, err := ValidateEnv()
	if err == nil {
		t.Fatal("Expected error for missing AUTH_AUDIENCE, got nil")
	}
	if !strings.Contains(err.Error(), "AUTH_JWKS_DOMAIN and AUTH_AUDIENCE must be set together") {
		t.Errorf("Expected auth pair error, got: %v", err)
	}

	os.Setenv("AUTH_AUDIENCE", "https://api.example.com")
	cfg, err := ValidateEnv()
	if err != nil {
		t.Fatalf("Expected no error with both set, got: %v", err)
	}
	if cfg.AuthJWKSDomain != "tenant.auth0.com" || cfg.AuthAudience != "https://api.example.com" {
		t.Error("Expected auth settings to be carried through")
	}
}

func TestValidateEnv_RedisConfiguration(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("PORT", "8080")
	os.Setenv("REDIS_ENABLED", "true")
	os.Setenv("REDIS_ADDR", "redis.internal:6380")
	os.Setenv("REDIS_PASSWORD", "secret")

	cfg, err := ValidateEnv()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !cfg.RedisEnabled {
		t.Error("Expected redis to be enabled")
	}
	if cfg.RedisAddr != "redis.internal:6380" {
		t.Errorf("Expected REDIS_ADDR carried through, got '%s'", cfg.RedisAddr)
	}
	if cfg.RedisPassword != "secret" {
		t.Error("Expected REDIS_PASSWORD carried through")
	}

	os.Setenv("REDIS_ADDR", "no-port")
	_, err = ValidateEnv()
	if err == nil || !strings.Contains(err.Error(), "REDIS_ADDR must be in format 'host:port'") {
		t.Errorf("Expected host:port error, got: %v", err)
	}
}

func TestValidateEnv_RedisDefaultAddr(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("PORT", "8080")
	os.Setenv("REDIS_ENABLED", "true")

	cfg, err := ValidateEnv()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if cfg.RedisAddr != "localhost:6379" {
		t.Errorf("Expected default redis addr, got '%s'", cfg.RedisAddr)
	}
}

func TestIsValidHostPort(t *testing.T) {
	valid := []string{"localhost:6379", "10.0.0.1:1", "redis:65535"}
	invalid := []string{"", "localhost", "localhost:", ":6379", "localhost:0", "localhost:99999", "a:b:c"}

	for _, addr := range valid {
		if !isValidHostPort(addr) {
			t.Errorf("Expected %q to be valid", addr)
		}
	}
	for _, addr := range invalid {
		if isValidHostPort(addr) {
			t.Errorf("Expected %q to be invalid", addr)
		}
	}
}

func TestRedactSecret(t *testing.T) {
	if got := redactSecret(""); got != "" {
		t.Errorf("Expected empty redaction, got %q", got)
	}
	if got := redactSecret("short"); got != "***" {
		t.Errorf("Expected '***', got %q", got)
	}
	if got := redactSecret("a-much-longer-secret"); got != "a-mu***" {
		t.Errorf("Expected prefix redaction, got %q", got)
	}
}
