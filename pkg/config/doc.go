// Package config provides application configuration management.
//
// # Overview
//
// Configuration is built in three layers: built-in defaults, an optional
// YAML file (OPENBOOK_CONFIG_FILE or an explicit path), and environment
// variable overrides. The result is validated before use.
//
// # Configuration Structure
//
// Server settings:
//
//	OPENBOOK_HOST="0.0.0.0"
//	OPENBOOK_PORT="8080"
//	OPENBOOK_HEALTH_PORT="9090"
//	OPENBOOK_READ_TIMEOUT="15s"
//	OPENBOOK_WRITE_TIMEOUT="15s"
//
// Database settings:
//
//	OPENBOOK_DB_DRIVER="postgres"  # postgres, sqlite3
//	OPENBOOK_DB_DSN="postgres://localhost/openbook"
//	OPENBOOK_DB_MAX_CONNS="25"
//
// Redis settings (login rate limiting):
//
//	OPENBOOK_REDIS_ENABLED="true"
//	OPENBOOK_REDIS_URL="localhost:6379"
//	OPENBOOK_REDIS_POOL_SIZE="10"
//
// SSO settings:
//
//	OPENBOOK_BASE_URL="https://book.example.com"
//	OPENBOOK_SESSION_TTL="24h"
//	OPENBOOK_LOGIN_RATE_LIMIT="10"
//
// Observability settings:
//
//	OPENBOOK_LOG_LEVEL="info"  # debug, info, warn, error
//	OPENBOOK_METRICS_ENABLED="true"
//	OPENBOOK_OTEL_ENABLED="true"
//	OPENBOOK_OTEL_ENDPOINT="otel-collector:4317"
//
// # Usage Example
//
// Load configuration:
//
//	cfg, err := config.Load("")
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	fmt.Printf("Server: %s:%s\n", cfg.Server.Host, cfg.Server.Port)
//	fmt.Printf("Database: %s\n", cfg.Database.Driver)
//
// # Related Packages
//
//   - pkg/database: Uses database configuration
//   - pkg/observability: Uses observability configuration
package config
