package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/gatehouse/pkg/decisioncache"
	"github.com/platinummonkey/gatehouse/pkg/observability"
)

// ConfigFileEnv names the optional YAML file loaded before the environment
const ConfigFileEnv = "GATEHOUSE_CONFIG_FILE"

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Cache         CacheConfig         `yaml:"cache"`
	Hierarchy     HierarchyConfig     `yaml:"hierarchy"`
	Maintenance   MaintenanceConfig   `yaml:"maintenance"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds the ops listener settings (health probes and metrics)
type ServerConfig struct {
	Host            string        `yaml:"host"`
	HealthPort      string        `yaml:"health_port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL settings
type DatabaseConfig struct {
	URL         string        `yaml:"url"`
	MaxConns    int           `yaml:"max_conns"`
	MinConns    int           `yaml:"min_conns"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxLifetime time.Duration `yaml:"max_lifetime"`
	MaxIdleTime time.Duration `yaml:"max_idle_time"`
	AutoMigrate bool          `yaml:"auto_migrate"`
}

// CacheConfig holds decision cache settings
type CacheConfig struct {
	Backend    string        `yaml:"backend"`
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
	KeyPrefix  string        `yaml:"key_prefix"`

	RedisURL        string `yaml:"redis_url"`
	RedisPassword   string `yaml:"redis_password"`
	RedisDB         int    `yaml:"redis_db"`
	RedisPoolSize   int    `yaml:"redis_pool_size"`
	RedisMaxRetries int    `yaml:"redis_max_retries"`
}

// HierarchyConfig holds folder tree settings
type HierarchyConfig struct {
	MaxDepth int `yaml:"max_depth"`
}

// MaintenanceConfig holds the schedule of background repair jobs
type MaintenanceConfig struct {
	// PathVerifySchedule is a cron expression or descriptor such as "@every 1h"
	PathVerifySchedule string `yaml:"path_verify_schedule"`
	RunOnStart         bool   `yaml:"run_on_start"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       string `yaml:"log_level"`
	MetricsEnabled bool   `yaml:"metrics_enabled"`

	OTelEnabled        bool    `yaml:"otel_enabled"`
	OTelEndpoint       string  `yaml:"otel_endpoint"`
	OTelServiceName    string  `yaml:"otel_service_name"`
	OTelServiceVersion string  `yaml:"otel_service_version"`
	OTelInsecure       bool    `yaml:"otel_insecure"`
	OTelSampleRatio    float64 `yaml:"otel_sample_ratio"`
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			HealthPort:      "9090",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			MaxConns:    20,
			MinConns:    5,
			Timeout:     5 * time.Second,
			MaxLifetime: 30 * time.Minute,
			MaxIdleTime: 5 * time.Minute,
			AutoMigrate: true,
		},
		Cache: CacheConfig{
			Backend:         decisioncache.BackendMemory,
			TTL:             5 * time.Minute,
			MaxEntries:      100_000,
			KeyPrefix:       decisioncache.DefaultKeyPrefix,
			RedisURL:        "redis://localhost:6379",
			RedisPoolSize:   10,
			RedisMaxRetries: 3,
		},
		Hierarchy: HierarchyConfig{
			MaxDepth: 64,
		},
		Maintenance: MaintenanceConfig{
			PathVerifySchedule: "@every 1h",
			RunOnStart:         true,
		},
		Observability: ObservabilityConfig{
			LogLevel:           "info",
			MetricsEnabled:     true,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "gatehouse",
			OTelServiceVersion: "1.0.0",
			OTelInsecure:       true,
			OTelSampleRatio:    1,
		},
	}
}

// LoadConfig builds the configuration from defaults, then the YAML file named
// by GATEHOUSE_CONFIG_FILE if set, then GATEHOUSE_* environment variables.
func LoadConfig() (*Config, error) {
	cfg := Default()

	if path := os.Getenv(ConfigFileEnv); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.loadEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// loadEnv overrides every field whose variable is set
func (c *Config) loadEnv() {
	c.Server.Host = getEnv("GATEHOUSE_HOST", c.Server.Host)
	c.Server.HealthPort = getEnv("GATEHOUSE_HEALTH_PORT", c.Server.HealthPort)
	c.Server.ReadTimeout = getEnvDuration("GATEHOUSE_READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = getEnvDuration("GATEHOUSE_WRITE_TIMEOUT", c.Server.WriteTimeout)
	c.Server.ShutdownTimeout = getEnvDuration("GATEHOUSE_SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)

	c.Database.URL = getEnv("GATEHOUSE_POSTGRES_URL", c.Database.URL)
	c.Database.MaxConns = getEnvInt("GATEHOUSE_POSTGRES_MAX_CONNS", c.Database.MaxConns)
	c.Database.MinConns = getEnvInt("GATEHOUSE_POSTGRES_MIN_CONNS", c.Database.MinConns)
	c.Database.Timeout = getEnvDuration("GATEHOUSE_POSTGRES_TIMEOUT", c.Database.Timeout)
	c.Database.MaxLifetime = getEnvDuration("GATEHOUSE_POSTGRES_MAX_LIFETIME", c.Database.MaxLifetime)
	c.Database.MaxIdleTime = getEnvDuration("GATEHOUSE_POSTGRES_MAX_IDLE_TIME", c.Database.MaxIdleTime)
	c.Database.AutoMigrate = getEnvBool("GATEHOUSE_AUTO_MIGRATE", c.Database.AutoMigrate)

	c.Cache.Backend = strings.ToLower(getEnv("GATEHOUSE_CACHE_BACKEND", c.Cache.Backend))
	c.Cache.TTL = getEnvDuration("GATEHOUSE_CACHE_TTL", c.Cache.TTL)
	c.Cache.MaxEntries = getEnvInt("GATEHOUSE_CACHE_MAX_ENTRIES", c.Cache.MaxEntries)
	c.Cache.KeyPrefix = getEnv("GATEHOUSE_CACHE_KEY_PREFIX", c.Cache.KeyPrefix)
	c.Cache.RedisURL = getEnv("GATEHOUSE_REDIS_URL", c.Cache.RedisURL)
	c.Cache.RedisPassword = getEnv("GATEHOUSE_REDIS_PASSWORD", c.Cache.RedisPassword)
	c.Cache.RedisDB = getEnvInt("GATEHOUSE_REDIS_DB", c.Cache.RedisDB)
	c.Cache.RedisPoolSize = getEnvInt("GATEHOUSE_REDIS_POOL_SIZE", c.Cache.RedisPoolSize)
	c.Cache.RedisMaxRetries = getEnvInt("GATEHOUSE_REDIS_MAX_RETRIES", c.Cache.RedisMaxRetries)

	c.Hierarchy.MaxDepth = getEnvInt("GATEHOUSE_HIERARCHY_MAX_DEPTH", c.Hierarchy.MaxDepth)

	c.Maintenance.PathVerifySchedule = getEnv("GATEHOUSE_PATH_VERIFY_SCHEDULE", c.Maintenance.PathVerifySchedule)
	c.Maintenance.RunOnStart = getEnvBool("GATEHOUSE_MAINTENANCE_RUN_ON_START", c.Maintenance.RunOnStart)

	c.Observability.LogLevel = getEnv("GATEHOUSE_LOG_LEVEL", c.Observability.LogLevel)
	c.Observability.MetricsEnabled = getEnvBool("GATEHOUSE_METRICS_ENABLED", c.Observability.MetricsEnabled)
	c.Observability.OTelEnabled = getEnvBool("GATEHOUSE_OTEL_ENABLED", c.Observability.OTelEnabled)
	c.Observability.OTelEndpoint = getEnv("GATEHOUSE_OTEL_ENDPOINT", c.Observability.OTelEndpoint)
	c.Observability.OTelServiceName = getEnv("GATEHOUSE_OTEL_SERVICE_NAME", c.Observability.OTelServiceName)
	c.Observability.OTelServiceVersion = getEnv("GATEHOUSE_OTEL_SERVICE_VERSION", c.Observability.OTelServiceVersion)
	c.Observability.OTelInsecure = getEnvBool("GATEHOUSE_OTEL_INSECURE", c.Observability.OTelInsecure)
	c.Observability.OTelSampleRatio = getEnvFloat("GATEHOUSE_OTEL_SAMPLE_RATIO", c.Observability.OTelSampleRatio)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}

	if c.Database.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}
	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("postgres max conns (%d) must not be below min conns (%d)", c.Database.MaxConns, c.Database.MinConns)
	}

	switch c.Cache.Backend {
	case decisioncache.BackendMemory:
		if c.Cache.MaxEntries <= 0 {
			return fmt.Errorf("cache max entries must be positive for the memory backend")
		}
	case decisioncache.BackendRedis:
		if c.Cache.RedisURL == "" {
			return fmt.Errorf("redis URL is required for the redis cache backend")
		}
	case decisioncache.BackendNone:
	default:
		return fmt.Errorf("invalid cache backend: %s (must be memory, redis, or none)", c.Cache.Backend)
	}
	if c.Cache.Backend != decisioncache.BackendNone && c.Cache.TTL <= 0 {
		return fmt.Errorf("cache TTL must be positive")
	}

	if c.Hierarchy.MaxDepth <= 0 {
		return fmt.Errorf("hierarchy max depth must be positive")
	}

	if _, err := cron.ParseStandard(c.Maintenance.PathVerifySchedule); err != nil {
		return fmt.Errorf("invalid path verify schedule %q: %w", c.Maintenance.PathVerifySchedule, err)
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
		if r := c.Observability.OTelSampleRatio; r < 0 || r > 1 {
			return fmt.Errorf("OpenTelemetry sample ratio must be between 0 and 1, got %v", r)
		}
	}

	return nil
}

// Level returns the configured log level
func (c ObservabilityConfig) Level() observability.LogLevel {
	return observability.ParseLogLevel(c.LogLevel)
}

// OTel returns the tracing settings
func (c ObservabilityConfig) OTel() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        c.OTelEnabled,
		Endpoint:       c.OTelEndpoint,
		ServiceName:    c.OTelServiceName,
		ServiceVersion: c.OTelServiceVersion,
		Insecure:       c.OTelInsecure,
		SampleRatio:    c.OTelSampleRatio,
	}
}

// DecisionCache returns the settings for decisioncache.New
func (c CacheConfig) DecisionCache() decisioncache.Config {
	return decisioncache.Config{
		Backend:    c.Backend,
		TTL:        c.TTL,
		MaxEntries: c.MaxEntries,
		KeyPrefix:  c.KeyPrefix,
		Redis: decisioncache.RedisConfig{
			URL:        c.RedisURL,
			Password:   c.RedisPassword,
			DB:         c.RedisDB,
			PoolSize:   c.RedisPoolSize,
			MaxRetries: c.RedisMaxRetries,
		},
	}
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
