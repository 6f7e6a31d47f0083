package storage

import (
	"fmt"
	"time"
)

// Config for the PostgreSQL and Redis backends
type Config struct {
	// PostgreSQL config
	PostgresURL         string        `yaml:"postgres_url"`
	PostgresReplicaURLs string        `yaml:"postgres_replica_urls"`
	PostgresMaxConns    int           `yaml:"postgres_max_conns"`
	PostgresMinConns    int           `yaml:"postgres_min_conns"`
	PostgresTimeout     time.Duration `yaml:"postgres_timeout"`
	PostgresMaxLifetime time.Duration `yaml:"postgres_max_lifetime"`
	PostgresMaxIdleTime time.Duration `yaml:"postgres_max_idle_time"`
	// ReplicaCheckInterval is how often unreachable replicas are dropped
	ReplicaCheckInterval time.Duration `yaml:"replica_check_interval"`

	// Redis config. An empty URL disables change notifications and the shared rate limiter.
	RedisURL        string `yaml:"redis_url"`
	RedisPassword   string `yaml:"redis_password"`
	RedisDB         int    `yaml:"redis_db"`
	RedisMaxRetries int    `yaml:"redis_max_retries"`
	RedisPoolSize   int    `yaml:"redis_pool_size"`
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	return Config{
		PostgresMaxConns:     20,
		PostgresMinConns:     2,
		PostgresTimeout:      10 * time.Second,
		PostgresMaxLifetime:  time.Hour,
		PostgresMaxIdleTime:  10 * time.Minute,
		ReplicaCheckInterval: 30 * time.Second,
		RedisDB:              0,
		RedisMaxRetries:      3,
		RedisPoolSize:        10,
	}
}

// RedisEnabled reports whether a Redis URL is configured
func (c Config) RedisEnabled() bool {
	return c.RedisURL != ""
}

// Validate checks the settings needed to open connections
func (c Config) Validate() error {
	if c.PostgresURL == "" {
		return fmt.Errorf("postgres URL is required")
	}
	if c.PostgresMaxConns <= 0 {
		return fmt.Errorf("postgres max connections must be positive")
	}
	if c.PostgresMinConns < 0 || c.PostgresMinConns > c.PostgresMaxConns {
		return fmt.Errorf("postgres min connections must be between 0 and %d", c.PostgresMaxConns)
	}
	if c.PostgresTimeout <= 0 {
		return fmt.Errorf("postgres timeout must be positive")
	}
	if c.RedisDB < 0 {
		return fmt.Errorf("redis db must not be negative")
	}
	return nil
}
