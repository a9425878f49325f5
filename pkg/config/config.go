package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/wardenhq/warden/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	// Database configuration
	Database DatabaseConfig

	// Sweep configuration
	Sweep SweepConfig

	// Audit configuration
	Audit AuditConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// SweepConfig holds expiry sweep configuration
type SweepConfig struct {
	// Schedule is a cron expression controlling sweep cadence.
	Schedule string

	// BatchLimit caps how many expired rows one run flips per table.
	// Zero means no cap.
	BatchLimit int
}

// AuditConfig holds audit recorder configuration
type AuditConfig struct {
	// Strict makes a missing operation context abort the mutation
	// instead of logging a warning and skipping the record.
	Strict bool
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel observability.LogLevel

	// MetricsAddr is the listen address for the /metrics endpoint.
	// Empty disables the metrics server.
	MetricsAddr string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Database:      loadDatabaseConfig(),
		Sweep:         loadSweepConfig(),
		Audit:         loadAuditConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadDatabaseConfig loads database configuration from environment
func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		URL:             getEnv("WARDEN_DATABASE_URL", ""),
		MaxOpenConns:    getEnvInt("WARDEN_DATABASE_MAX_OPEN_CONNS", 20),
		MaxIdleConns:    getEnvInt("WARDEN_DATABASE_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvDuration("WARDEN_DATABASE_CONN_MAX_LIFETIME", 30*time.Minute),
	}
}

// loadSweepConfig loads sweep configuration from environment
func loadSweepConfig() SweepConfig {
	return SweepConfig{
		Schedule:   getEnv("WARDEN_SWEEP_SCHEDULE", "*/5 * * * *"),
		BatchLimit: getEnvInt("WARDEN_SWEEP_BATCH_LIMIT", 0),
	}
}

// loadAuditConfig loads audit configuration from environment
func loadAuditConfig() AuditConfig {
	return AuditConfig{
		Strict: getEnvBool("WARDEN_AUDIT_STRICT", false),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:    observability.ParseLogLevel(getEnv("WARDEN_LOG_LEVEL", "info")),
		MetricsAddr: getEnv("WARDEN_METRICS_ADDR", ":9090"),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("WARDEN_DATABASE_URL is required")
	}
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database max open conns must be positive")
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database max idle conns must not be negative")
	}
	if c.Sweep.BatchLimit < 0 {
		return fmt.Errorf("sweep batch limit must not be negative")
	}

	if _, err := cron.ParseStandard(c.Sweep.Schedule); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", c.Sweep.Schedule, err)
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
