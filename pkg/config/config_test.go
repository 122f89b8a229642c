package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dativebase/old/pkg/observability"
)

// TestGetEnv tests the getEnv helper function
func TestGetEnv(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue string
		envValue     string
		want         string
	}{
		{
			name:         "returns env value when set",
			key:          "TEST_VAR",
			defaultValue: "default",
			envValue:     "custom",
			want:         "custom",
		},
		{
			name:         "returns default when env not set",
			key:          "TEST_VAR_NOT_SET",
			defaultValue: "default",
			envValue:     "",
			want:         "default",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				t.Setenv(tt.key, tt.envValue)
			}

			got := getEnv(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnv() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestGetEnvBool tests the getEnvBool helper function
func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue bool
		envValue     string
		want         bool
	}{
		{
			name:         "returns true for 'true'",
			key:          "TEST_BOOL",
			defaultValue: false,
			envValue:     "true",
			want:         true,
		},
		{
			name:         "returns true for '1'",
			key:          "TEST_BOOL",
			defaultValue: false,
			envValue:     "1",
			want:         true,
		},
		{
			name:         "returns false for 'false'",
			key:          "TEST_BOOL",
			defaultValue: true,
			envValue:     "false",
			want:         false,
		},
		{
			name:         "returns default when not set",
			key:          "TEST_BOOL_NOT_SET",
			defaultValue: true,
			envValue:     "",
			want:         true,
		},
		{
			name:         "returns true for 'TRUE' (case insensitive)",
			key:          "TEST_BOOL",
			defaultValue: false,
			envValue:     "TRUE",
			want:         true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				t.Setenv(tt.key, tt.envValue)
			} else {
				os.Unsetenv(tt.key)
			}

			got := getEnvBool(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnvBool() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestGetEnvInt tests the getEnvInt helper function
func TestGetEnvInt(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue int
		envValue     string
		want         int
	}{
		{
			name:         "returns parsed int",
			key:          "TEST_INT",
			defaultValue: 10,
			envValue:     "42",
			want:         42,
		},
		{
			name:         "returns default for invalid int",
			key:          "TEST_INT",
			defaultValue: 10,
			envValue:     "invalid",
			want:         10,
		},
		{
			name:         "returns default when not set",
			key:          "TEST_INT_NOT_SET",
			defaultValue: 10,
			envValue:     "",
			want:         10,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				t.Setenv(tt.key, tt.envValue)
			} else {
				os.Unsetenv(tt.key)
			}

			got := getEnvInt(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnvInt() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestGetEnvDuration tests the getEnvDuration helper function
func TestGetEnvDuration(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue time.Duration
		envValue     string
		want         time.Duration
	}{
		{
			name:         "returns parsed duration",
			key:          "TEST_DURATION",
			defaultValue: 10 * time.Second,
			envValue:     "30s",
			want:         30 * time.Second,
		},
		{
			name:         "returns default for invalid duration",
			key:          "TEST_DURATION",
			defaultValue: 10 * time.Second,
			envValue:     "invalid",
			want:         10 * time.Second,
		},
		{
			name:         "returns default when not set",
			key:          "TEST_DURATION_NOT_SET",
			defaultValue: 10 * time.Second,
			envValue:     "",
			want:         10 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				t.Setenv(tt.key, tt.envValue)
			} else {
				os.Unsetenv(tt.key)
			}

			got := getEnvDuration(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnvDuration() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestParseLogLevel tests the parseLogLevel function
func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		name  string
		level string
		want  observability.LogLevel
	}{
		{
			name:  "debug",
			level: "debug",
			want:  observability.DebugLevel,
		},
		{
			name:  "DEBUG uppercase",
			level: "DEBUG",
			want:  observability.DebugLevel,
		},
		{
			name:  "info",
			level: "info",
			want:  observability.InfoLevel,
		},
		{
			name:  "warn",
			level: "warn",
			want:  observability.WarnLevel,
		},
		{
			name:  "warning",
			level: "warning",
			want:  observability.WarnLevel,
		},
		{
			name:  "error",
			level: "error",
			want:  observability.ErrorLevel,
		},
		{
			name:  "invalid defaults to info",
			level: "invalid",
			want:  observability.InfoLevel,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseLogLevel(tt.level)
			if got != tt.want {
				t.Errorf("parseLogLevel() = %v, want %v", got, tt.want)
			}
		})
	}
}

func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

// TestLoadServerConfig tests the loadServerConfig function
func TestLoadServerConfig(t *testing.T) {
	serverVars := []string{
		"OLD_HOST",
		"OLD_PORT",
		"OLD_READ_TIMEOUT",
		"OLD_WRITE_TIMEOUT",
		"OLD_IDLE_TIMEOUT",
		"OLD_SHUTDOWN_TIMEOUT",
		"OLD_HEALTH_PORT",
	}

	tests := []struct {
		name string
		env  map[string]string
		want ServerConfig
	}{
		{
			name: "defaults",
			env:  map[string]string{},
			want: ServerConfig{
				Host:            "0.0.0.0",
				Port:            "8080",
				ReadTimeout:     15 * time.Second,
				WriteTimeout:    60 * time.Second,
				IdleTimeout:     60 * time.Second,
				ShutdownTimeout: 30 * time.Second,
				HealthPort:      "9090",
			},
		},
		{
			name: "custom values",
			env: map[string]string{
				"OLD_HOST":             "localhost",
				"OLD_PORT":             "3000",
				"OLD_READ_TIMEOUT":     "30s",
				"OLD_WRITE_TIMEOUT":    "5m",
				"OLD_IDLE_TIMEOUT":     "120s",
				"OLD_SHUTDOWN_TIMEOUT": "60s",
				"OLD_HEALTH_PORT":      "9091",
			},
			want: ServerConfig{
				Host:            "localhost",
				Port:            "3000",
				ReadTimeout:     30 * time.Second,
				WriteTimeout:    5 * time.Minute,
				IdleTimeout:     120 * time.Second,
				ShutdownTimeout: 60 * time.Second,
				HealthPort:      "9091",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t, serverVars...)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			got := loadServerConfig()
			if got != tt.want {
				t.Errorf("loadServerConfig() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

// TestLoadStorageConfig tests the loadStorageConfig function
func TestLoadStorageConfig(t *testing.T) {
	dbVars := []string{
		"OLD_DB_DIALECT",
		"OLD_DB_URL",
		"OLD_DB_MAX_CONNS",
		"OLD_DB_MIN_CONNS",
		"OLD_DB_TIMEOUT",
	}

	t.Run("loads default config", func(t *testing.T) {
		clearEnv(t, dbVars...)

		cfg := loadStorageConfig()
		if cfg.Dialect != "sqlite" {
			t.Errorf("Dialect = %v, want sqlite", cfg.Dialect)
		}
		if cfg.MaxConns != 20 {
			t.Errorf("MaxConns = %v, want 20", cfg.MaxConns)
		}
	})

	t.Run("loads mysql config from env", func(t *testing.T) {
		clearEnv(t, dbVars...)

		t.Setenv("OLD_DB_DIALECT", "mysql")
		t.Setenv("OLD_DB_URL", "old:old@tcp(localhost:3306)/old?parseTime=true")
		t.Setenv("OLD_DB_MAX_CONNS", "50")
		t.Setenv("OLD_DB_MIN_CONNS", "5")
		t.Setenv("OLD_DB_TIMEOUT", "20s")

		cfg := loadStorageConfig()
		if cfg.Dialect != "mysql" {
			t.Errorf("Dialect = %v, want mysql", cfg.Dialect)
		}
		if cfg.URL != "old:old@tcp(localhost:3306)/old?parseTime=true" {
			t.Errorf("URL = %v, want mysql DSN", cfg.URL)
		}
		if cfg.MaxConns != 50 {
			t.Errorf("MaxConns = %v, want 50", cfg.MaxConns)
		}
		if cfg.MinConns != 5 {
			t.Errorf("MinConns = %v, want 5", cfg.MinConns)
		}
		if cfg.Timeout != 20*time.Second {
			t.Errorf("Timeout = %v, want 20s", cfg.Timeout)
		}
	})

	t.Run("ignores invalid max conns", func(t *testing.T) {
		clearEnv(t, dbVars...)

		t.Setenv("OLD_DB_MAX_CONNS", "0")

		cfg := loadStorageConfig()
		if cfg.MaxConns != 20 {
			t.Errorf("MaxConns = %v, want 20 (default)", cfg.MaxConns)
		}
	})
}

// TestLoadAppConfig tests the loadAppConfig function
func TestLoadAppConfig(t *testing.T) {
	appVars := []string{
		"OLD_STORE_ROOT",
		"OLD_READONLY",
		"OLD_MORPHEME_REBUILD_SCHEDULE",
		"OLD_PARSE_CACHE_SIZE",
		"OLD_PARSE_CACHE_TTL",
	}

	t.Run("defaults", func(t *testing.T) {
		clearEnv(t, appVars...)

		cfg := loadAppConfig()
		if cfg.StoreRoot != "store" {
			t.Errorf("StoreRoot = %v, want store", cfg.StoreRoot)
		}
		if cfg.ReadOnly {
			t.Errorf("ReadOnly = true, want false")
		}
		if cfg.MorphemeReferenceRebuildSchedule != "" {
			t.Errorf("MorphemeReferenceRebuildSchedule = %v, want empty", cfg.MorphemeReferenceRebuildSchedule)
		}
		if cfg.ParseCacheSize != 4096 {
			t.Errorf("ParseCacheSize = %v, want 4096", cfg.ParseCacheSize)
		}
		if cfg.ParseCacheTTL != 24*time.Hour {
			t.Errorf("ParseCacheTTL = %v, want 24h", cfg.ParseCacheTTL)
		}
	})

	t.Run("custom values", func(t *testing.T) {
		clearEnv(t, appVars...)

		t.Setenv("OLD_STORE_ROOT", "/var/old/store")
		t.Setenv("OLD_READONLY", "true")
		t.Setenv("OLD_MORPHEME_REBUILD_SCHEDULE", "@midnight")
		t.Setenv("OLD_PARSE_CACHE_SIZE", "1024")
		t.Setenv("OLD_PARSE_CACHE_TTL", "1h")

		cfg := loadAppConfig()
		if cfg.StoreRoot != "/var/old/store" {
			t.Errorf("StoreRoot = %v, want /var/old/store", cfg.StoreRoot)
		}
		if !cfg.ReadOnly {
			t.Errorf("ReadOnly = false, want true")
		}
		if cfg.MorphemeReferenceRebuildSchedule != "@midnight" {
			t.Errorf("MorphemeReferenceRebuildSchedule = %v, want @midnight", cfg.MorphemeReferenceRebuildSchedule)
		}
		if cfg.ParseCacheSize != 1024 {
			t.Errorf("ParseCacheSize = %v, want 1024", cfg.ParseCacheSize)
		}
		if cfg.ParseCacheTTL != time.Hour {
			t.Errorf("ParseCacheTTL = %v, want 1h", cfg.ParseCacheTTL)
		}
	})
}

// TestLoadRedisConfig tests the loadRedisConfig function
func TestLoadRedisConfig(t *testing.T) {
	redisVars := []string{
		"OLD_REDIS_ENABLED",
		"OLD_REDIS_ADDR",
		"OLD_REDIS_PASSWORD",
		"OLD_REDIS_DB",
	}

	t.Run("defaults", func(t *testing.T) {
		clearEnv(t, redisVars...)

		cfg := loadRedisConfig()
		if cfg.Enabled {
			t.Errorf("Enabled = true, want false")
		}
		if cfg.Addr != "localhost:6379" {
			t.Errorf("Addr = %v, want localhost:6379", cfg.Addr)
		}
	})

	t.Run("custom values", func(t *testing.T) {
		clearEnv(t, redisVars...)

		t.Setenv("OLD_REDIS_ENABLED", "true")
		t.Setenv("OLD_REDIS_ADDR", "redis:6380")
		t.Setenv("OLD_REDIS_PASSWORD", "secret")
		t.Setenv("OLD_REDIS_DB", "2")

		cfg := loadRedisConfig()
		if !cfg.Enabled {
			t.Errorf("Enabled = false, want true")
		}
		if cfg.Addr != "redis:6380" {
			t.Errorf("Addr = %v, want redis:6380", cfg.Addr)
		}
		if cfg.Password != "secret" {
			t.Errorf("Password = %v, want secret", cfg.Password)
		}
		if cfg.DB != 2 {
			t.Errorf("DB = %v, want 2", cfg.DB)
		}
	})
}

// TestLoadObservabilityConfig tests the loadObservabilityConfig function
func TestLoadObservabilityConfig(t *testing.T) {
	obsVars := []string{
		"OLD_LOG_LEVEL",
		"OLD_METRICS_ENABLED",
		"OLD_OTEL_ENABLED",
		"OLD_OTEL_ENDPOINT",
		"OLD_OTEL_SERVICE_NAME",
		"OLD_OTEL_SERVICE_VERSION",
		"OLD_OTEL_INSECURE",
	}

	tests := []struct {
		name string
		env  map[string]string
		want ObservabilityConfig
	}{
		{
			name: "defaults",
			env:  map[string]string{},
			want: ObservabilityConfig{
				LogLevel:           observability.InfoLevel,
				MetricsEnabled:     true,
				OTelEnabled:        false,
				OTelEndpoint:       "localhost:4317",
				OTelServiceName:    "old",
				OTelServiceVersion: "1.0.0",
				OTelInsecure:       true,
			},
		},
		{
			name: "custom values",
			env: map[string]string{
				"OLD_LOG_LEVEL":            "debug",
				"OLD_METRICS_ENABLED":      "false",
				"OLD_OTEL_ENABLED":         "true",
				"OLD_OTEL_ENDPOINT":        "otel-collector:4317",
				"OLD_OTEL_SERVICE_NAME":    "my-service",
				"OLD_OTEL_SERVICE_VERSION": "2.0.0",
				"OLD_OTEL_INSECURE":        "false",
			},
			want: ObservabilityConfig{
				LogLevel:           observability.DebugLevel,
				MetricsEnabled:     false,
				OTelEnabled:        true,
				OTelEndpoint:       "otel-collector:4317",
				OTelServiceName:    "my-service",
				OTelServiceVersion: "2.0.0",
				OTelInsecure:       false,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t, obsVars...)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			got := loadObservabilityConfig()
			if got != tt.want {
				t.Errorf("loadObservabilityConfig() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

// TestConfigValidate tests the Config.Validate method
func TestConfigValidate(t *testing.T) {
	valid := func() Config {
		cfg := Config{
			Server: ServerConfig{
				Port:       "8080",
				HealthPort: "9090",
			},
			App: AppConfig{
				StoreRoot: "/var/old/store",
			},
		}
		cfg.Storage.Dialect = "sqlite"
		cfg.Storage.URL = "file:old.db?cache=shared"
		return cfg
	}

	t.Run("valid config", func(t *testing.T) {
		cfg := valid()
		if err := cfg.Validate(); err != nil {
			t.Errorf("Validate() unexpected error = %v", err)
		}
	})

	t.Run("missing server port", func(t *testing.T) {
		cfg := valid()
		cfg.Server.Port = ""
		err := cfg.Validate()
		if err == nil {
			t.Fatal("Validate() expected error, got nil")
		}
		if err.Error() != "server port is required" {
			t.Errorf("Validate() error = %v, want 'server port is required'", err.Error())
		}
	})

	t.Run("missing health port", func(t *testing.T) {
		cfg := valid()
		cfg.Server.HealthPort = ""
		err := cfg.Validate()
		if err == nil {
			t.Fatal("Validate() expected error, got nil")
		}
		if err.Error() != "health port is required" {
			t.Errorf("Validate() error = %v, want 'health port is required'", err.Error())
		}
	})

	t.Run("same server and health port", func(t *testing.T) {
		cfg := valid()
		cfg.Server.HealthPort = "8080"
		err := cfg.Validate()
		if err == nil {
			t.Fatal("Validate() expected error, got nil")
		}
		if err.Error() != "server port and health port must be different" {
			t.Errorf("Validate() error = %v, want 'server port and health port must be different'", err.Error())
		}
	})

	t.Run("invalid database dialect", func(t *testing.T) {
		cfg := valid()
		cfg.Storage.Dialect = "oracle"
		err := cfg.Validate()
		if err == nil {
			t.Fatal("Validate() expected error, got nil")
		}
		expectedErr := "invalid database dialect: oracle (must be mysql, sqlite, or postgres)"
		if err.Error() != expectedErr {
			t.Errorf("Validate() error = %v, want %v", err.Error(), expectedErr)
		}
	})

	t.Run("missing database URL", func(t *testing.T) {
		cfg := valid()
		cfg.Storage.URL = ""
		err := cfg.Validate()
		if err == nil {
			t.Fatal("Validate() expected error, got nil")
		}
		if err.Error() != "database URL is required" {
			t.Errorf("Validate() error = %v, want 'database URL is required'", err.Error())
		}
	})

	t.Run("missing store root", func(t *testing.T) {
		cfg := valid()
		cfg.App.StoreRoot = ""
		err := cfg.Validate()
		if err == nil {
			t.Fatal("Validate() expected error, got nil")
		}
		if err.Error() != "store root is required" {
			t.Errorf("Validate() error = %v, want 'store root is required'", err.Error())
		}
	})

	t.Run("redis enabled without addr", func(t *testing.T) {
		cfg := valid()
		cfg.Redis.Enabled = true
		cfg.Redis.Addr = ""
		err := cfg.Validate()
		if err == nil {
			t.Fatal("Validate() expected error, got nil")
		}
		if err.Error() != "redis address is required when redis is enabled" {
			t.Errorf("Validate() error = %v, want 'redis address is required when redis is enabled'", err.Error())
		}
	})

	t.Run("otel enabled without endpoint", func(t *testing.T) {
		cfg := valid()
		cfg.Observability.OTelEnabled = true
		cfg.Observability.OTelEndpoint = ""
		cfg.Observability.OTelServiceName = "test"
		err := cfg.Validate()
		if err == nil {
			t.Fatal("Validate() expected error, got nil")
		}
		if err.Error() != "OpenTelemetry endpoint is required when OTel is enabled" {
			t.Errorf("Validate() error = %v, want 'OpenTelemetry endpoint is required when OTel is enabled'", err.Error())
		}
	})

	t.Run("otel enabled without service name", func(t *testing.T) {
		cfg := valid()
		cfg.Observability.OTelEnabled = true
		cfg.Observability.OTelEndpoint = "localhost:4317"
		cfg.Observability.OTelServiceName = ""
		err := cfg.Validate()
		if err == nil {
			t.Fatal("Validate() expected error, got nil")
		}
		if err.Error() != "OpenTelemetry service name is required when OTel is enabled" {
			t.Errorf("Validate() error = %v, want 'OpenTelemetry service name is required when OTel is enabled'", err.Error())
		}
	})

	t.Run("valid otel config", func(t *testing.T) {
		cfg := valid()
		cfg.Observability.OTelEnabled = true
		cfg.Observability.OTelEndpoint = "localhost:4317"
		cfg.Observability.OTelServiceName = "test-service"
		if err := cfg.Validate(); err != nil {
			t.Errorf("Validate() unexpected error = %v", err)
		}
	})
}

// TestLoadConfig tests the LoadConfig function
func TestLoadConfig(t *testing.T) {
	allVars := []string{
		"OLD_CONFIG",
		"OLD_PORT",
		"OLD_HEALTH_PORT",
		"OLD_DB_DIALECT",
		"OLD_DB_URL",
		"OLD_STORE_ROOT",
		"OLD_READONLY",
	}

	t.Run("valid config from env", func(t *testing.T) {
		clearEnv(t, allVars...)
		t.Setenv("OLD_DB_DIALECT", "mysql")
		t.Setenv("OLD_DB_URL", "old:old@tcp(localhost:3306)/old?parseTime=true")
		t.Setenv("OLD_STORE_ROOT", "/var/old/store")

		cfg, err := LoadConfig()
		if err != nil {
			t.Fatalf("LoadConfig() error = %v", err)
		}
		if cfg.Storage.Dialect != "mysql" {
			t.Errorf("Dialect = %v, want mysql", cfg.Storage.Dialect)
		}
		if cfg.App.StoreRoot != "/var/old/store" {
			t.Errorf("StoreRoot = %v, want /var/old/store", cfg.App.StoreRoot)
		}
	})

	t.Run("invalid config - same ports", func(t *testing.T) {
		clearEnv(t, allVars...)
		t.Setenv("OLD_PORT", "8080")
		t.Setenv("OLD_HEALTH_PORT", "8080")

		if _, err := LoadConfig(); err == nil {
			t.Error("LoadConfig() expected error, got nil")
		}
	})

	t.Run("invalid config - bad dialect", func(t *testing.T) {
		clearEnv(t, allVars...)
		t.Setenv("OLD_DB_DIALECT", "mongodb")

		if _, err := LoadConfig(); err == nil {
			t.Error("LoadConfig() expected error, got nil")
		}
	})

	t.Run("yaml file overlays environment", func(t *testing.T) {
		clearEnv(t, allVars...)

		path := filepath.Join(t.TempDir(), "old.yaml")
		yaml := `
server:
  port: "3000"
  health_port: "3001"
app:
  store_root: /data/old
  read_only: true
storage:
  dialect: postgres
  url: postgres://localhost/old
`
		if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
			t.Fatal(err)
		}
		t.Setenv("OLD_CONFIG", path)

		cfg, err := LoadConfig()
		if err != nil {
			t.Fatalf("LoadConfig() error = %v", err)
		}
		if cfg.Server.Port != "3000" {
			t.Errorf("Port = %v, want 3000", cfg.Server.Port)
		}
		if cfg.Server.HealthPort != "3001" {
			t.Errorf("HealthPort = %v, want 3001", cfg.Server.HealthPort)
		}
		if cfg.Storage.Dialect != "postgres" {
			t.Errorf("Dialect = %v, want postgres", cfg.Storage.Dialect)
		}
		if !cfg.App.ReadOnly {
			t.Error("ReadOnly = false, want true")
		}
	})

	t.Run("missing yaml file", func(t *testing.T) {
		clearEnv(t, allVars...)
		t.Setenv("OLD_CONFIG", filepath.Join(t.TempDir(), "absent.yaml"))

		if _, err := LoadConfig(); err == nil {
			t.Error("LoadConfig() expected error, got nil")
		}
	})
}
