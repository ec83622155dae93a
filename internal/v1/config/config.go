// Package config validates environment configuration at startup. All
// failures are aggregated into a single error so operators see every
// problem at once instead of fixing them one restart at a time.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds validated environment configuration
type Config struct {
	// Server surface
	Port       string
	PathPrefix string
	HealthPath string

	// Room behavior
	CleanupTimeout    time.Duration
	MaxConnections    int
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration

	// Auth (optional; both must be set to enable JWT auth)
	AuthJWKSDomain string
	AuthAudience   string

	// Redis persistence / rate limit store
	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string

	// Rate limits ("<count>-<period>", e.g. "60-M")
	RateLimitWsIP string

	// Optional variables with defaults
	GoEnv          string
	LogLevel       string
	AllowedOrigins string
}

// ValidateEnv validates all environment variables and returns a Config.
// Returns an error listing every invalid or missing variable.
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errors []string

	// Optional: PORT (defaults to "8080", must be a valid port number)
	cfg.Port = getEnvOrDefault("PORT", "8080")
	if port, err := strconv.Atoi(cfg.Port); err != nil || port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.Port))
	}

	// Optional: WS_PATH_PREFIX (defaults to "/rooms", must start with "/")
	cfg.PathPrefix = getEnvOrDefault("WS_PATH_PREFIX", "/rooms")
	if !strings.HasPrefix(cfg.PathPrefix, "/") {
		errors = append(errors, fmt.Sprintf("WS_PATH_PREFIX must start with '/' (got '%s')", cfg.PathPrefix))
	}

	// Optional: HEALTH_PATH (defaults to "/health")
	cfg.HealthPath = getEnvOrDefault("HEALTH_PATH", "/health")
	if !strings.HasPrefix(cfg.HealthPath, "/") {
		errors = append(errors, fmt.Sprintf("HEALTH_PATH must start with '/' (got '%s')", cfg.HealthPath))
	}

	// Optional durations in milliseconds
	cfg.CleanupTimeout = getEnvDurationMs("ROOM_CLEANUP_TIMEOUT_MS", 30000, &errors)
	cfg.HeartbeatInterval = getEnvDurationMs("HEARTBEAT_INTERVAL_MS", 15000, &errors)
	cfg.HeartbeatTimeout = getEnvDurationMs("HEARTBEAT_TIMEOUT_MS", 45000, &errors)

	// Optional: ROOM_MAX_CONNECTIONS (0 = unlimited)
	if raw := os.Getenv("ROOM_MAX_CONNECTIONS"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			errors = append(errors, fmt.Sprintf("ROOM_MAX_CONNECTIONS must be a non-negative integer (got '%s')", raw))
		} else {
			cfg.MaxConnections = n
		}
	}

	// Optional auth pair: both or neither
	cfg.AuthJWKSDomain = os.Getenv("AUTH_JWKS_DOMAIN")
	cfg.AuthAudience = os.Getenv("AUTH_AUDIENCE")
	if (cfg.AuthJWKSDomain == "") != (cfg.AuthAudience == "") {
		errors = append(errors, "AUTH_JWKS_DOMAIN and AUTH_AUDIENCE must be set together")
	}

	// Conditional: REDIS_ADDR (required if REDIS_ENABLED=true)
	cfg.RedisEnabled = os.Getenv("REDIS_ENABLED") == "true"
	if cfg.RedisEnabled {
		cfg.RedisAddr = os.Getenv("REDIS_ADDR")
		if cfg.RedisAddr == "" {
			cfg.RedisAddr = "localhost:6379"
			slog.Warn("REDIS_ADDR not set, using default", "addr", cfg.RedisAddr)
		} else if !isValidHostPort(cfg.RedisAddr) {
			errors = append(errors, fmt.Sprintf("REDIS_ADDR must be in format 'host:port' (got '%s')", cfg.RedisAddr))
		}
		cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	}

	// Rate limits (M = minute, H = hour)
	cfg.RateLimitWsIP = getEnvOrDefault("RATE_LIMIT_WS_IP", "60-M")

	// Optional: GO_ENV (defaults to "production")
	cfg.GoEnv = getEnvOrDefault("GO_ENV", "production")

	// Optional: LOG_LEVEL (defaults to "info")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	cfg.AllowedOrigins = os.Getenv("ALLOWED_ORIGINS")

	if len(errors) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	logValidatedConfig(cfg)

	return cfg, nil
}

// IsDevelopment reports whether the server runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.GoEnv == "development"
}

// getEnvDurationMs parses a millisecond duration variable, appending to
// errs on invalid input.
func getEnvDurationMs(key string, defaultMs int, errs *[]string) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return time.Duration(defaultMs) * time.Millisecond
	}
	ms, err := strconv.Atoi(raw)
	if err != nil || ms <= 0 {
		*errs = append(*errs, fmt.Sprintf("%s must be a positive integer of milliseconds (got '%s')", key, raw))
		return time.Duration(defaultMs) * time.Millisecond
	}
	return time.Duration(ms) * time.Millisecond
}

// isValidHostPort checks if a string is in the format "host:port"
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

// logValidatedConfig logs the validated configuration with secrets redacted
func logValidatedConfig(cfg *Config) {
	slog.Info("Environment configuration validated successfully")
	slog.Info("Configuration",
		"port", cfg.Port,
		"path_prefix", cfg.PathPrefix,
		"health_path", cfg.HealthPath,
		"cleanup_timeout", cfg.CleanupTimeout,
		"max_connections", cfg.MaxConnections,
		"heartbeat_interval", cfg.HeartbeatInterval,
		"heartbeat_timeout", cfg.HeartbeatTimeout,
		"auth_enabled", cfg.AuthJWKSDomain != "",
		"redis_enabled", cfg.RedisEnabled,
		"redis_addr", cfg.RedisAddr,
		"redis_password", redactSecret(cfg.RedisPassword),
		"rate_limit_ws_ip", cfg.RateLimitWsIP,
		"go_env", cfg.GoEnv,
		"log_level", cfg.LogLevel,
	)
}

// getEnvOrDefault returns the value of the environment variable or a default value if not set
func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// redactSecret redacts a secret by showing only the first characters
func redactSecret(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:4] + "***"
}
