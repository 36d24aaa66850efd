package config

import (
	"fmt"
	"runtime"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/dustin/go-humanize"

	"github.com/genoflow/genoflow/pkg/domain"
)

// Config holds all configuration for a genoflow run. Loaded once at startup,
// immutable afterwards.
type Config struct {
	// Server configuration
	HTTPPort int    `env:"GENOFLOW_HTTP_PORT" envDefault:"8080"`
	GRPCPort int    `env:"GENOFLOW_GRPC_PORT" envDefault:"9090"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Pipeline inputs
	ReadsDir    string `env:"GENOFLOW_READS_DIR"`
	Genome      string `env:"GENOFLOW_GENOME" envDefault:"gatk38"`
	GenomesFile string `env:"GENOFLOW_GENOMES_FILE" envDefault:"genomes.toml"`
	OutputDir   string `env:"GENOFLOW_OUTPUT_DIR" envDefault:"output"`
	WorkDir     string `env:"GENOFLOW_WORK_DIR" envDefault:"work"`

	// Scheduling
	CPUs          int    `env:"GENOFLOW_CPUS" envDefault:"0"` // 0 means all host CPUs
	Memory        string `env:"GENOFLOW_MEMORY" envDefault:"8GiB"`
	FailurePolicy string `env:"GENOFLOW_FAILURE_POLICY" envDefault:"fail-fast"`

	// Execution backend
	Backend     string `env:"GENOFLOW_BACKEND" envDefault:"local"`
	DockerImage string `env:"GENOFLOW_DOCKER_IMAGE" envDefault:"genoflow/tools:latest"`

	// Cache configuration
	Cache CacheConfig

	// Redis configuration, used when the cache backend is redis
	Redis RedisConfig

	// Timeouts
	Timeouts TimeoutConfig

	memoryBytes uint64
}

// CacheConfig holds result-cache configuration
type CacheConfig struct {
	Backend string        `env:"GENOFLOW_CACHE_BACKEND" envDefault:"fs"` // fs, redis or off
	Dir     string        `env:"GENOFLOW_CACHE_DIR" envDefault:".genoflow-cache"`
	Epoch   string        `env:"GENOFLOW_CACHE_EPOCH" envDefault:"v1"`
	TTL     time.Duration `env:"GENOFLOW_CACHE_TTL" envDefault:"720h"` // 30 days, redis only
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

// TimeoutConfig holds various timeout configurations
type TimeoutConfig struct {
	WatchdogInterval time.Duration `env:"GENOFLOW_WATCHDOG_INTERVAL" envDefault:"30s"`
	ShutdownTimeout  time.Duration `env:"TIMEOUT_SHUTDOWN" envDefault:"30s"`
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
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.GRPCPort < 1 || c.GRPCPort > 65535 {
		return fmt.Errorf("invalid gRPC port: %d", c.GRPCPort)
	}

	if c.CPUs < 0 {
		return fmt.Errorf("invalid CPU count: %d", c.CPUs)
	}
	if c.CPUs == 0 {
		c.CPUs = runtime.NumCPU()
	}
	mem, err := humanize.ParseBytes(c.Memory)
	if err != nil {
		return fmt.Errorf("invalid memory %q: %w", c.Memory, err)
	}
	if mem == 0 {
		return fmt.Errorf("memory capacity must be non-zero")
	}
	c.memoryBytes = mem

	switch domain.FailurePolicy(c.FailurePolicy) {
	case domain.FailFast, domain.ContinueOnError:
	default:
		return fmt.Errorf("invalid failure policy: %s (must be fail-fast or continue-on-error)", c.FailurePolicy)
	}

	switch c.Backend {
	case "local", "docker":
	default:
		return fmt.Errorf("unsupported backend: %s (must be local or docker)", c.Backend)
	}

	switch c.Cache.Backend {
	case "fs", "redis", "off":
	default:
		return fmt.Errorf("unsupported cache backend: %s (must be fs, redis or off)", c.Cache.Backend)
	}
	if c.Cache.Backend == "redis" && c.Redis.Addr == "" {
		return fmt.Errorf("redis address is required for the redis cache backend")
	}

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

// MemoryBytes returns the parsed ledger memory capacity.
func (c *Config) MemoryBytes() uint64 {
	return c.memoryBytes
}

// Policy returns the typed failure policy.
func (c *Config) Policy() domain.FailurePolicy {
	return domain.FailurePolicy(c.FailurePolicy)
}

// GetHTTPAddr returns the HTTP server address
func (c *Config) GetHTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// GetGRPCAddr returns the gRPC server address
func (c *Config) GetGRPCAddr() string {
	return fmt.Sprintf(":%d", c.GRPCPort)
}
