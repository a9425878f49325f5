// Package config provides application configuration management from environment variables.
//
// # Overview
//
// This package loads and validates configuration from environment variables with
// sensible defaults for all settings except the database URL, which is required.
//
// # Configuration Structure
//
// Database settings:
//
//	WARDEN_DATABASE_URL="postgres://localhost/warden"
//	WARDEN_DATABASE_MAX_OPEN_CONNS="20"
//	WARDEN_DATABASE_MAX_IDLE_CONNS="5"
//	WARDEN_DATABASE_CONN_MAX_LIFETIME="30m"
//
// Sweep settings:
//
//	WARDEN_SWEEP_SCHEDULE="*/5 * * * *"  # standard cron expression
//	WARDEN_SWEEP_BATCH_LIMIT="0"         # 0 = unbounded
//
// Audit settings:
//
//	WARDEN_AUDIT_STRICT="false"  # abort mutations missing an operation context
//
// Observability settings:
//
//	WARDEN_LOG_LEVEL="info"    # debug, info, warn, error
//	WARDEN_METRICS_ADDR=":9090"
//
// # Usage Example
//
// Load configuration:
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	fmt.Printf("Database: %s\n", cfg.Database.URL)
//	fmt.Printf("Log level: %s\n", cfg.Observability.LogLevel)
package config
