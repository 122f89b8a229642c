package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dativebase/old/pkg/observability"
	"github.com/dativebase/old/pkg/storage"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig `yaml:"server"`

	// Storage configuration
	Storage storage.Config `yaml:"storage"`

	// App configuration
	App AppConfig `yaml:"app"`

	// Redis configuration (parse cache shared tier)
	Redis RedisConfig `yaml:"redis"`

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

	// Health/metrics server (separate port for k8s probes)
	HealthPort string `yaml:"health_port"`
}

// AppConfig holds fieldwork-instance settings
type AppConfig struct {
	// StoreRoot is where derived artifacts (FST binaries, ARPA files,
	// corpus files, parse caches) live on disk.
	StoreRoot string `yaml:"store_root"`

	// ReadOnly disables all mutating requests when true.
	ReadOnly bool `yaml:"read_only"`

	// MorphemeReferenceRebuildSchedule is the cron expression of the
	// periodic morpheme cross-reference rebuild. Empty disables it.
	MorphemeReferenceRebuildSchedule string `yaml:"morpheme_reference_rebuild_schedule"`

	// ParseCacheSize and ParseCacheTTL size the local parse cache tier.
	ParseCacheSize int           `yaml:"parse_cache_size"`
	ParseCacheTTL  time.Duration `yaml:"parse_cache_ttl"`
}

// RedisConfig holds the optional shared parse cache backend
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel `yaml:"-"`

	// Metrics
	MetricsEnabled bool `yaml:"metrics_enabled"`

	// OpenTelemetry
	OTelEnabled        bool   `yaml:"otel_enabled"`
	OTelEndpoint       string `yaml:"otel_endpoint"`
	OTelServiceName    string `yaml:"otel_service_name"`
	OTelServiceVersion string `yaml:"otel_service_version"`
	OTelInsecure       bool   `yaml:"otel_insecure"` // Use insecure gRPC connection
}

// LoadConfig loads configuration from environment variables. When OLD_CONFIG
// names a YAML file it is read first and the environment overrides it.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		App:           loadAppConfig(),
		Redis:         loadRedisConfig(),
		Observability: loadObservabilityConfig(),
	}

	if path := getEnv("OLD_CONFIG", ""); path != "" {
		if err := cfg.mergeYAML(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// mergeYAML overlays a YAML file onto the environment-derived defaults.
func (c *Config) mergeYAML(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("OLD_HOST", "0.0.0.0"),
		Port:            getEnv("OLD_PORT", "8080"),
		ReadTimeout:     getEnvDuration("OLD_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("OLD_WRITE_TIMEOUT", 60*time.Second),
		IdleTimeout:     getEnvDuration("OLD_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("OLD_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("OLD_HEALTH_PORT", "9090"),
	}
}

// loadStorageConfig loads database configuration from environment
func loadStorageConfig() storage.Config {
	cfg := storage.DefaultConfig()

	if dialect := getEnv("OLD_DB_DIALECT", ""); dialect != "" {
		cfg.Dialect = dialect
	}
	if url := getEnv("OLD_DB_URL", ""); url != "" {
		cfg.URL = url
	}
	if maxConns := getEnvInt("OLD_DB_MAX_CONNS", 0); maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	if minConns := getEnvInt("OLD_DB_MIN_CONNS", 0); minConns > 0 {
		cfg.MinConns = minConns
	}
	if timeout := getEnvDuration("OLD_DB_TIMEOUT", 0); timeout > 0 {
		cfg.Timeout = timeout
	}

	return cfg
}

// loadAppConfig loads fieldwork-instance settings from environment
func loadAppConfig() AppConfig {
	return AppConfig{
		StoreRoot:                        getEnv("OLD_STORE_ROOT", "store"),
		ReadOnly:                         getEnvBool("OLD_READONLY", false),
		MorphemeReferenceRebuildSchedule: getEnv("OLD_MORPHEME_REBUILD_SCHEDULE", ""),
		ParseCacheSize:                   getEnvInt("OLD_PARSE_CACHE_SIZE", 4096),
		ParseCacheTTL:                    getEnvDuration("OLD_PARSE_CACHE_TTL", 24*time.Hour),
	}
}

// loadRedisConfig loads the optional redis backend from environment
func loadRedisConfig() RedisConfig {
	return RedisConfig{
		Enabled:  getEnvBool("OLD_REDIS_ENABLED", false),
		Addr:     getEnv("OLD_REDIS_ADDR", "localhost:6379"),
		Password: getEnv("OLD_REDIS_PASSWORD", ""),
		DB:       getEnvInt("OLD_REDIS_DB", 0),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	cfg := ObservabilityConfig{
		LogLevel:           parseLogLevel(getEnv("OLD_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("OLD_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("OLD_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("OLD_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("OLD_OTEL_SERVICE_NAME", "old"),
		OTelServiceVersion: getEnv("OLD_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("OLD_OTEL_INSECURE", true),
	}

	return cfg
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	// Validate storage config
	switch c.Storage.Dialect {
	case "mysql", "sqlite", "postgres":
	default:
		return fmt.Errorf("invalid database dialect: %s (must be mysql, sqlite, or postgres)", c.Storage.Dialect)
	}
	if c.Storage.URL == "" {
		return fmt.Errorf("database URL is required")
	}

	if c.App.StoreRoot == "" {
		return fmt.Errorf("store root is required")
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis address is required when redis is enabled")
	}

	// Validate OpenTelemetry config
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

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
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

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
