// Package config provides application configuration management from environment variables.
//
// # Overview
//
// This package loads and validates configuration from environment variables with
// sensible defaults for all settings. When OLD_CONFIG names a YAML file, it is
// overlaid on the environment-derived defaults before validation.
//
// # Configuration Structure
//
// Server settings:
//
//	OLD_HOST="0.0.0.0"
//	OLD_PORT="8080"
//	OLD_HEALTH_PORT="9090"
//	OLD_READ_TIMEOUT="15s"
//	OLD_WRITE_TIMEOUT="60s"
//
// Database settings:
//
//	OLD_DB_DIALECT="mysql"  # mysql, sqlite, postgres
//	OLD_DB_URL="old:old@tcp(localhost:3306)/old?parseTime=true"
//	OLD_DB_MAX_CONNS="20"
//
// Application settings:
//
//	OLD_STORE_ROOT="/var/old/store"
//	OLD_READONLY="false"
//	OLD_MORPHEME_REBUILD_SCHEDULE="@midnight"
//	OLD_PARSE_CACHE_SIZE="4096"
//	OLD_PARSE_CACHE_TTL="24h"
//
// Redis settings (shared parse cache tier):
//
//	OLD_REDIS_ENABLED="true"
//	OLD_REDIS_ADDR="localhost:6379"
//
// Observability settings:
//
//	OLD_LOG_LEVEL="info"  # debug, info, warn, error
//	OLD_METRICS_ENABLED="true"
//	OLD_OTEL_ENABLED="true"
//	OLD_OTEL_ENDPOINT="otel-collector:4317"
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
//	fmt.Printf("Server: %s:%s\n", cfg.Server.Host, cfg.Server.Port)
//	fmt.Printf("Database: %s\n", cfg.Storage.Dialect)
//	fmt.Printf("Log level: %s\n", cfg.Observability.LogLevel)
//
// # Related Packages
//
//   - pkg/storage: Uses database configuration
//   - pkg/observability: Uses observability configuration
package config
