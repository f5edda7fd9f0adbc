package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all configuration for the phaseline server and CLI
type Config struct {
	// Server configuration
	HTTPPort int    `env:"PHASELINE_HTTP_PORT" envDefault:"8080"`
	GRPCPort int    `env:"PHASELINE_GRPC_PORT" envDefault:"9090"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Redis configuration
	Redis RedisConfig

	// Store configuration
	Store StoreConfig

	// Run execution configuration
	Runs RunConfig

	// Timeouts
	Timeouts TimeoutConfig
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASS"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`

	// Connection pool settings
	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	MaxRetries   int           `env:"REDIS_MAX_RETRIES" envDefault:"3"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`
}

// StoreConfig holds artifact and cache store configuration
type StoreConfig struct {
	ArtifactRoot string `env:"PHASELINE_ARTIFACT_ROOT" envDefault:".phaseline/artifacts"`
	CacheRoot    string `env:"PHASELINE_CACHE_ROOT" envDefault:".phaseline/cache"`

	// WorkRoot hosts per-stage scratch directories. Empty means the
	// system temp directory.
	WorkRoot string `env:"PHASELINE_WORK_ROOT"`

	// Retention windows. Runs and their artifacts are garbage-collected
	// once older than these.
	RunTTL            time.Duration `env:"PHASELINE_RUN_TTL" envDefault:"168h"`
	ArtifactRetention time.Duration `env:"PHASELINE_ARTIFACT_RETENTION" envDefault:"168h"`
	PruneInterval     time.Duration `env:"PHASELINE_PRUNE_INTERVAL" envDefault:"1h"`

	// CacheTTL bounds cross-run cache entries.
	CacheTTL time.Duration `env:"PHASELINE_CACHE_TTL" envDefault:"720h"`
}

// RunConfig holds per-run execution configuration
type RunConfig struct {
	MaxConcurrentStages int           `env:"PHASELINE_MAX_CONCURRENT_STAGES" envDefault:"4"`
	WatchdogInterval    time.Duration `env:"PHASELINE_WATCHDOG_INTERVAL" envDefault:"30s"`
}

// TimeoutConfig holds various timeout configurations
type TimeoutConfig struct {
	RunExecutionTimeout   time.Duration `env:"TIMEOUT_RUN_EXECUTION" envDefault:"3600s"`  // 1 hour
	StageExecutionTimeout time.Duration `env:"TIMEOUT_STAGE_EXECUTION" envDefault:"300s"` // 5 minutes
	ShutdownTimeout       time.Duration `env:"TIMEOUT_SHUTDOWN" envDefault:"30s"`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server ports
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.GRPCPort < 1 || c.GRPCPort > 65535 {
		return fmt.Errorf("invalid gRPC port: %d", c.GRPCPort)
	}

	// Validate Redis config
	if c.Redis.Addr == "" {
		return fmt.Errorf("redis address is required")
	}

	// Validate store config
	if c.Store.ArtifactRoot == "" {
		return fmt.Errorf("artifact store root is required")
	}
	if c.Store.PruneInterval < time.Minute {
		return fmt.Errorf("prune interval must be at least 1m")
	}

	// Validate run config
	if c.Runs.MaxConcurrentStages < 1 {
		return fmt.Errorf("max concurrent stages must be at least 1")
	}

	// Validate timeouts
	if c.Timeouts.RunExecutionTimeout <= 0 {
		return fmt.Errorf("run execution timeout must be positive")
	}
	if c.Timeouts.StageExecutionTimeout <= 0 {
		return fmt.Errorf("stage execution timeout must be positive")
	}

	// Validate log level
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	return nil
}

// GetHTTPAddr returns the HTTP server address
func (c *Config) GetHTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// GetGRPCAddr returns the gRPC server address
func (c *Config) GetGRPCAddr() string {
	return fmt.Sprintf(":%d", c.GRPCPort)
}
