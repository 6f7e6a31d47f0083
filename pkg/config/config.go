package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/warden/pkg/observability"
	"github.com/platinummonkey/warden/pkg/storage"
)

// ConfigFileEnv names the optional YAML file loaded before the environment
const ConfigFileEnv = "WARDEN_CONFIG_FILE"

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig `yaml:"server"`

	// Storage configuration
	Storage storage.Config `yaml:"storage"`

	// RateLimit configuration for role mutations
	RateLimit RateLimitConfig `yaml:"rate_limit"`

	// Audit retention configuration
	Audit AuditConfig `yaml:"audit"`

	// Bootstrap configuration
	Bootstrap BootstrapConfig `yaml:"bootstrap"`

	// Observability configuration
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`

	// Health/metrics server (separate port for k8s probes)
	HealthPort string `yaml:"health_port"`
}

// RateLimitConfig bounds how fast one tenant may mutate roles
type RateLimitConfig struct {
	Enabled           bool          `yaml:"enabled"`
	RequestsPerWindow int           `yaml:"requests_per_window"`
	Window            time.Duration `yaml:"window"`
	Burst             int           `yaml:"burst"`
}

// AuditConfig controls audit log retention
type AuditConfig struct {
	RetentionDays int `yaml:"retention_days"`
	// PurgeSchedule is a standard five-field cron expression
	PurgeSchedule string `yaml:"purge_schedule"`
}

// BootstrapConfig seeds built-in roles for one tenant at startup
type BootstrapConfig struct {
	TenantID string `yaml:"tenant_id"`
	UserID   string `yaml:"user_id"`
}

// Enabled reports whether a bootstrap tenant is configured
func (b BootstrapConfig) Enabled() bool {
	return b.TenantID != ""
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Metrics
	MetricsEnabled bool `yaml:"metrics_enabled"`

	// OpenTelemetry
	OTelEnabled        bool    `yaml:"otel_enabled"`
	OTelEndpoint       string  `yaml:"otel_endpoint"`
	OTelServiceName    string  `yaml:"otel_service_name"`
	OTelServiceVersion string  `yaml:"otel_service_version"`
	OTelInsecure       bool    `yaml:"otel_insecure"`
	OTelSampleRatio    float64 `yaml:"otel_sample_ratio"`
}

// Level returns the parsed log level
func (o ObservabilityConfig) Level() observability.LogLevel {
	return observability.ParseLogLevel(o.LogLevel)
}

// Format returns the log formatter to use
func (o ObservabilityConfig) Format() observability.LogFormat {
	if strings.ToLower(o.LogFormat) == string(observability.FormatText) {
		return observability.FormatText
	}
	return observability.FormatJSON
}

// OTel converts the settings for observability.InitOTel
func (o ObservabilityConfig) OTel() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        o.OTelEnabled,
		Endpoint:       o.OTelEndpoint,
		ServiceName:    o.OTelServiceName,
		ServiceVersion: o.OTelServiceVersion,
		Insecure:       o.OTelInsecure,
		SampleRatio:    o.OTelSampleRatio,
	}
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			MaxBodyBytes:    1 << 20,
			HealthPort:      "9090",
		},
		Storage: storage.DefaultConfig(),
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerWindow: 600,
			Window:            time.Minute,
			Burst:             60,
		},
		Audit: AuditConfig{
			RetentionDays: 90,
			PurgeSchedule: "0 3 * * *",
		},
		Observability: ObservabilityConfig{
			LogLevel:           "info",
			LogFormat:          "json",
			MetricsEnabled:     true,
			OTelEnabled:        false,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "warden",
			OTelServiceVersion: "1.0.0",
			OTelInsecure:       true,
			OTelSampleRatio:    1,
		},
	}
}

// LoadConfig loads defaults, then the YAML file named by WARDEN_CONFIG_FILE if set,
// then environment variables
func LoadConfig() (*Config, error) {
	cfg := Default()

	if path := os.Getenv(ConfigFileEnv); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadFile overlays the YAML file on top of the current values
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.applyServerEnv()
	c.applyStorageEnv()

	c.RateLimit.Enabled = getEnvBool("WARDEN_RATE_LIMIT_ENABLED", c.RateLimit.Enabled)
	c.RateLimit.RequestsPerWindow = getEnvInt("WARDEN_RATE_LIMIT_REQUESTS", c.RateLimit.RequestsPerWindow)
	c.RateLimit.Window = getEnvDuration("WARDEN_RATE_LIMIT_WINDOW", c.RateLimit.Window)
	c.RateLimit.Burst = getEnvInt("WARDEN_RATE_LIMIT_BURST", c.RateLimit.Burst)

	c.Audit.RetentionDays = getEnvInt("WARDEN_AUDIT_RETENTION_DAYS", c.Audit.RetentionDays)
	c.Audit.PurgeSchedule = getEnv("WARDEN_AUDIT_PURGE_SCHEDULE", c.Audit.PurgeSchedule)

	c.Bootstrap.TenantID = getEnv("WARDEN_BOOTSTRAP_TENANT_ID", c.Bootstrap.TenantID)
	c.Bootstrap.UserID = getEnv("WARDEN_BOOTSTRAP_USER_ID", c.Bootstrap.UserID)

	c.applyObservabilityEnv()
}

func (c *Config) applyServerEnv() {
	s := &c.Server
	s.Host = getEnv("WARDEN_HOST", s.Host)
	s.Port = getEnv("WARDEN_PORT", s.Port)
	s.ReadTimeout = getEnvDuration("WARDEN_READ_TIMEOUT", s.ReadTimeout)
	s.WriteTimeout = getEnvDuration("WARDEN_WRITE_TIMEOUT", s.WriteTimeout)
	s.IdleTimeout = getEnvDuration("WARDEN_IDLE_TIMEOUT", s.IdleTimeout)
	s.ShutdownTimeout = getEnvDuration("WARDEN_SHUTDOWN_TIMEOUT", s.ShutdownTimeout)
	s.MaxBodyBytes = getEnvInt64("WARDEN_MAX_BODY_BYTES", s.MaxBodyBytes)
	s.HealthPort = getEnv("WARDEN_HEALTH_PORT", s.HealthPort)
}

func (c *Config) applyStorageEnv() {
	s := &c.Storage
	s.PostgresURL = getEnv("WARDEN_POSTGRES_URL", s.PostgresURL)
	s.PostgresReplicaURLs = getEnv("WARDEN_POSTGRES_REPLICA_URLS", s.PostgresReplicaURLs)
	s.PostgresMaxConns = getEnvInt("WARDEN_POSTGRES_MAX_CONNS", s.PostgresMaxConns)
	s.PostgresMinConns = getEnvInt("WARDEN_POSTGRES_MIN_CONNS", s.PostgresMinConns)
	s.PostgresTimeout = getEnvDuration("WARDEN_POSTGRES_TIMEOUT", s.PostgresTimeout)
	s.PostgresMaxLifetime = getEnvDuration("WARDEN_POSTGRES_MAX_LIFETIME", s.PostgresMaxLifetime)
	s.PostgresMaxIdleTime = getEnvDuration("WARDEN_POSTGRES_MAX_IDLE_TIME", s.PostgresMaxIdleTime)
	s.ReplicaCheckInterval = getEnvDuration("WARDEN_REPLICA_CHECK_INTERVAL", s.ReplicaCheckInterval)

	s.RedisURL = getEnv("WARDEN_REDIS_URL", s.RedisURL)
	s.RedisPassword = getEnv("WARDEN_REDIS_PASSWORD", s.RedisPassword)
	s.RedisDB = getEnvInt("WARDEN_REDIS_DB", s.RedisDB)
	s.RedisMaxRetries = getEnvInt("WARDEN_REDIS_MAX_RETRIES", s.RedisMaxRetries)
	s.RedisPoolSize = getEnvInt("WARDEN_REDIS_POOL_SIZE", s.RedisPoolSize)
}

func (c *Config) applyObservabilityEnv() {
	o := &c.Observability
	o.LogLevel = getEnv("WARDEN_LOG_LEVEL", o.LogLevel)
	o.LogFormat = getEnv("WARDEN_LOG_FORMAT", o.LogFormat)
	o.MetricsEnabled = getEnvBool("WARDEN_METRICS_ENABLED", o.MetricsEnabled)
	o.OTelEnabled = getEnvBool("WARDEN_OTEL_ENABLED", o.OTelEnabled)
	o.OTelEndpoint = getEnv("WARDEN_OTEL_ENDPOINT", o.OTelEndpoint)
	o.OTelServiceName = getEnv("WARDEN_OTEL_SERVICE_NAME", o.OTelServiceName)
	o.OTelServiceVersion = getEnv("WARDEN_OTEL_SERVICE_VERSION", o.OTelServiceVersion)
	o.OTelInsecure = getEnvBool("WARDEN_OTEL_INSECURE", o.OTelInsecure)
	o.OTelSampleRatio = getEnvFloat("WARDEN_OTEL_SAMPLE_RATIO", o.OTelSampleRatio)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if err := c.Storage.Validate(); err != nil {
		return err
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.RequestsPerWindow <= 0 {
			return fmt.Errorf("rate limit requests per window must be positive")
		}
		if c.RateLimit.Window <= 0 {
			return fmt.Errorf("rate limit window must be positive")
		}
		if c.RateLimit.Burst < 0 {
			return fmt.Errorf("rate limit burst must not be negative")
		}
	}

	if c.Audit.RetentionDays <= 0 {
		return fmt.Errorf("audit retention days must be positive")
	}
	if _, err := cron.ParseStandard(c.Audit.PurgeSchedule); err != nil {
		return fmt.Errorf("invalid audit purge schedule %q: %w", c.Audit.PurgeSchedule, err)
	}

	if c.Bootstrap.Enabled() {
		if _, err := uuid.Parse(c.Bootstrap.TenantID); err != nil {
			return fmt.Errorf("invalid bootstrap tenant ID: %w", err)
		}
		if c.Bootstrap.UserID != "" {
			if _, err := uuid.Parse(c.Bootstrap.UserID); err != nil {
				return fmt.Errorf("invalid bootstrap user ID: %w", err)
			}
		}
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
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

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
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
