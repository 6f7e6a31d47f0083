// Package config provides application configuration from a YAML file and environment variables.
//
// # Overview
//
// LoadConfig starts from Default, overlays the YAML file named by WARDEN_CONFIG_FILE
// when it is set, then applies WARDEN_* environment variables, and validates the result.
//
// # Configuration Structure
//
// Server settings:
//
//	WARDEN_HOST="0.0.0.0"
//	WARDEN_PORT="8080"
//	WARDEN_HEALTH_PORT="9090"
//	WARDEN_READ_TIMEOUT="15s"
//	WARDEN_MAX_BODY_BYTES="1048576"
//
// Storage settings:
//
//	WARDEN_POSTGRES_URL="postgres://localhost/warden"
//	WARDEN_POSTGRES_REPLICA_URLS="postgres://replica-1/warden,postgres://replica-2/warden"
//	WARDEN_POSTGRES_MAX_CONNS="20"
//	WARDEN_REDIS_URL="redis://localhost:6379/0"  # optional
//
// Role mutation limits, audit retention and bootstrap:
//
//	WARDEN_RATE_LIMIT_REQUESTS="600"
//	WARDEN_RATE_LIMIT_WINDOW="1m"
//	WARDEN_AUDIT_RETENTION_DAYS="90"
//	WARDEN_AUDIT_PURGE_SCHEDULE="0 3 * * *"
//	WARDEN_BOOTSTRAP_TENANT_ID="<uuid>"  # seeds built-in roles
//
// Observability settings:
//
//	WARDEN_LOG_LEVEL="info"  # debug, info, warn, error
//	WARDEN_LOG_FORMAT="json" # json, text
//	WARDEN_METRICS_ENABLED="true"
//	WARDEN_OTEL_ENABLED="true"
//	WARDEN_OTEL_ENDPOINT="otel-collector:4317"
//
// The same settings in YAML:
//
//	server:
//	  port: "8080"
//	storage:
//	  postgres_url: postgres://localhost/warden
//	audit:
//	  purge_schedule: "@daily"
//
// # Related Packages
//
//   - pkg/storage: storage configuration
//   - pkg/observability: logger and OpenTelemetry settings
package config
