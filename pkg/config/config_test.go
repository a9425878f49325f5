package config

import (
	"os"
	"testing"
	"time"

	"github.com/wardenhq/warden/pkg/observability"
)

// TestGetEnv tests the getEnv helper function
func TestGetEnv(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue string
		envValue     string
		want         string
	}{
		{
			name:         "returns env value when set",
			key:          "TEST_VAR",
			defaultValue: "default",
			envValue:     "custom",
			want:         "custom",
		},
		{
			name:         "returns default when env not set",
			key:          "TEST_VAR_NOT_SET",
			defaultValue: "default",
			envValue:     "",
			want:         "default",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				os.Setenv(tt.key, tt.envValue)
				defer os.Unsetenv(tt.key)
			}

			got := getEnv(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnv() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestGetEnvBool tests the getEnvBool helper function
func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue bool
		envValue     string
		want         bool
	}{
		{
			name:         "returns true for 'true'",
			key:          "TEST_BOOL",
			defaultValue: false,
			envValue:     "true",
			want:         true,
		},
		{
			name:         "returns true for '1'",
			key:          "TEST_BOOL",
			defaultValue: false,
			envValue:     "1",
			want:         true,
		},
		{
			name:         "returns false for 'false'",
			key:          "TEST_BOOL",
			defaultValue: true,
			envValue:     "false",
			want:         false,
		},
		{
			name:         "returns default when not set",
			key:          "TEST_BOOL_NOT_SET",
			defaultValue: true,
			envValue:     "",
			want:         true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				os.Setenv(tt.key, tt.envValue)
				defer os.Unsetenv(tt.key)
			} else {
				os.Unsetenv(tt.key)
			}

			got := getEnvBool(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnvBool() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestGetEnvDuration tests the getEnvDuration helper function
func TestGetEnvDuration(t *testing.T) {
	os.Setenv("TEST_DURATION", "45s")
	defer os.Unsetenv("TEST_DURATION")

	if got := getEnvDuration("TEST_DURATION", time.Minute); got != 45*time.Second {
		t.Errorf("getEnvDuration() = %v, want 45s", got)
	}
	if got := getEnvDuration("TEST_DURATION_NOT_SET", time.Minute); got != time.Minute {
		t.Errorf("getEnvDuration() default = %v, want 1m", got)
	}

	os.Setenv("TEST_DURATION_BAD", "not-a-duration")
	defer os.Unsetenv("TEST_DURATION_BAD")
	if got := getEnvDuration("TEST_DURATION_BAD", time.Minute); got != time.Minute {
		t.Errorf("getEnvDuration() on invalid value = %v, want default", got)
	}
}

// TestLoadConfig tests loading configuration from environment
func TestLoadConfig(t *testing.T) {
	os.Setenv("WARDEN_DATABASE_URL", "postgres://localhost/warden_test")
	os.Setenv("WARDEN_LOG_LEVEL", "debug")
	os.Setenv("WARDEN_SWEEP_SCHEDULE", "*/10 * * * *")
	os.Setenv("WARDEN_SWEEP_BATCH_LIMIT", "500")
	os.Setenv("WARDEN_AUDIT_STRICT", "true")
	defer func() {
		os.Unsetenv("WARDEN_DATABASE_URL")
		os.Unsetenv("WARDEN_LOG_LEVEL")
		os.Unsetenv("WARDEN_SWEEP_SCHEDULE")
		os.Unsetenv("WARDEN_SWEEP_BATCH_LIMIT")
		os.Unsetenv("WARDEN_AUDIT_STRICT")
	}()

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Database.URL != "postgres://localhost/warden_test" {
		t.Errorf("unexpected database URL: %s", cfg.Database.URL)
	}
	if cfg.Observability.LogLevel != observability.DebugLevel {
		t.Errorf("unexpected log level: %v", cfg.Observability.LogLevel)
	}
	if cfg.Sweep.Schedule != "*/10 * * * *" {
		t.Errorf("unexpected sweep schedule: %s", cfg.Sweep.Schedule)
	}
	if cfg.Sweep.BatchLimit != 500 {
		t.Errorf("unexpected sweep batch limit: %d", cfg.Sweep.BatchLimit)
	}
	if !cfg.Audit.Strict {
		t.Error("expected strict audit mode")
	}
}

// TestValidate tests configuration validation
func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Database: DatabaseConfig{
				URL:          "postgres://localhost/warden",
				MaxOpenConns: 20,
				MaxIdleConns: 5,
			},
			Sweep: SweepConfig{Schedule: "*/5 * * * *"},
		}
	}

	t.Run("valid config passes", func(t *testing.T) {
		if err := base().Validate(); err != nil {
			t.Errorf("Validate() error = %v", err)
		}
	})

	t.Run("missing database URL fails", func(t *testing.T) {
		cfg := base()
		cfg.Database.URL = ""
		if err := cfg.Validate(); err == nil {
			t.Error("expected error for missing database URL")
		}
	})

	t.Run("invalid sweep schedule fails", func(t *testing.T) {
		cfg := base()
		cfg.Sweep.Schedule = "every five minutes"
		if err := cfg.Validate(); err == nil {
			t.Error("expected error for invalid cron expression")
		}
	})

	t.Run("negative batch limit fails", func(t *testing.T) {
		cfg := base()
		cfg.Sweep.BatchLimit = -1
		if err := cfg.Validate(); err == nil {
			t.Error("expected error for negative batch limit")
		}
	})
}
