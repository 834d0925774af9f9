package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ecwu/openbook/pkg/database"
	"github.com/ecwu/openbook/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Database configuration
	Database database.Config

	// Redis configuration (rate limiting)
	Redis RedisConfig

	// SSO configuration
	SSO SSOConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// RedisConfig holds the optional Redis connection used for rate limiting.
// When disabled, the login routes run unthrottled.
type RedisConfig struct {
	Enabled  bool
	URL      string
	Password string
	DB       int
	PoolSize int
}

// SSOConfig holds sign-in flow settings shared by all providers
type SSOConfig struct {
	// BaseURL is the externally reachable origin used to build callback URLs
	BaseURL string

	// SessionTTL is the lifetime of a browser session after sign-in
	SessionTTL time.Duration

	// LoginRateLimit / LoginRateWindow throttle the login and callback routes
	LoginRateLimit  int
	LoginRateWindow time.Duration
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
}

// Load builds configuration in three layers: defaults, then an optional
// YAML file (path argument or OPENBOOK_CONFIG_FILE), then environment
// variable overrides.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path == "" {
		path = os.Getenv("OPENBOOK_CONFIG_FILE")
	}
	if path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			HealthPort:      "9090",
		},
		Database: database.DefaultConfig(),
		Redis: RedisConfig{
			Enabled:  false,
			URL:      "localhost:6379",
			PoolSize: 10,
		},
		SSO: SSOConfig{
			BaseURL:         "http://localhost:8080",
			SessionTTL:      24 * time.Hour,
			LoginRateLimit:  10,
			LoginRateWindow: time.Minute,
		},
		Observability: ObservabilityConfig{
			LogLevel:           observability.InfoLevel,
			MetricsEnabled:     true,
			OTelEnabled:        false,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "openbook",
			OTelServiceVersion: "1.0.0",
			OTelInsecure:       true,
		},
	}
}

// fileConfig mirrors Config with optional fields so a partial YAML file
// only overrides what it names. Durations are strings in time.ParseDuration
// syntax.
type fileConfig struct {
	Server struct {
		Host            *string `yaml:"host"`
		Port            *string `yaml:"port"`
		HealthPort      *string `yaml:"health_port"`
		ReadTimeout     *string `yaml:"read_timeout"`
		WriteTimeout    *string `yaml:"write_timeout"`
		IdleTimeout     *string `yaml:"idle_timeout"`
		ShutdownTimeout *string `yaml:"shutdown_timeout"`
	} `yaml:"server"`
	Database struct {
		Driver   *string `yaml:"driver"`
		DSN      *string `yaml:"dsn"`
		MaxConns *int    `yaml:"max_conns"`
		MinConns *int    `yaml:"min_conns"`
		Timeout  *string `yaml:"timeout"`
	} `yaml:"database"`
	Redis struct {
		Enabled  *bool   `yaml:"enabled"`
		URL      *string `yaml:"url"`
		Password *string `yaml:"password"`
		DB       *int    `yaml:"db"`
		PoolSize *int    `yaml:"pool_size"`
	} `yaml:"redis"`
	SSO struct {
		BaseURL         *string `yaml:"base_url"`
		SessionTTL      *string `yaml:"session_ttl"`
		LoginRateLimit  *int    `yaml:"login_rate_limit"`
		LoginRateWindow *string `yaml:"login_rate_window"`
	} `yaml:"sso"`
	Observability struct {
		LogLevel       *string `yaml:"log_level"`
		MetricsEnabled *bool   `yaml:"metrics_enabled"`
		OTelEnabled    *bool   `yaml:"otel_enabled"`
		OTelEndpoint   *string `yaml:"otel_endpoint"`
		OTelService    *string `yaml:"otel_service_name"`
		OTelInsecure   *bool   `yaml:"otel_insecure"`
	} `yaml:"observability"`
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	setString(&c.Server.Host, fc.Server.Host)
	setString(&c.Server.Port, fc.Server.Port)
	setString(&c.Server.HealthPort, fc.Server.HealthPort)
	if err := setDuration(&c.Server.ReadTimeout, fc.Server.ReadTimeout); err != nil {
		return err
	}
	if err := setDuration(&c.Server.WriteTimeout, fc.Server.WriteTimeout); err != nil {
		return err
	}
	if err := setDuration(&c.Server.IdleTimeout, fc.Server.IdleTimeout); err != nil {
		return err
	}
	if err := setDuration(&c.Server.ShutdownTimeout, fc.Server.ShutdownTimeout); err != nil {
		return err
	}

	setString(&c.Database.Driver, fc.Database.Driver)
	setString(&c.Database.DSN, fc.Database.DSN)
	setInt(&c.Database.MaxConns, fc.Database.MaxConns)
	setInt(&c.Database.MinConns, fc.Database.MinConns)
	if err := setDuration(&c.Database.Timeout, fc.Database.Timeout); err != nil {
		return err
	}

	setBool(&c.Redis.Enabled, fc.Redis.Enabled)
	setString(&c.Redis.URL, fc.Redis.URL)
	setString(&c.Redis.Password, fc.Redis.Password)
	setInt(&c.Redis.DB, fc.Redis.DB)
	setInt(&c.Redis.PoolSize, fc.Redis.PoolSize)

	setString(&c.SSO.BaseURL, fc.SSO.BaseURL)
	if err := setDuration(&c.SSO.SessionTTL, fc.SSO.SessionTTL); err != nil {
		return err
	}
	setInt(&c.SSO.LoginRateLimit, fc.SSO.LoginRateLimit)
	if err := setDuration(&c.SSO.LoginRateWindow, fc.SSO.LoginRateWindow); err != nil {
		return err
	}

	if fc.Observability.LogLevel != nil {
		c.Observability.LogLevel = observability.ParseLogLevel(*fc.Observability.LogLevel)
	}
	setBool(&c.Observability.MetricsEnabled, fc.Observability.MetricsEnabled)
	setBool(&c.Observability.OTelEnabled, fc.Observability.OTelEnabled)
	setString(&c.Observability.OTelEndpoint, fc.Observability.OTelEndpoint)
	setString(&c.Observability.OTelServiceName, fc.Observability.OTelService)
	setBool(&c.Observability.OTelInsecure, fc.Observability.OTelInsecure)

	return nil
}

func (c *Config) applyEnv() {
	c.Server.Host = getEnv("OPENBOOK_HOST", c.Server.Host)
	c.Server.Port = getEnv("OPENBOOK_PORT", c.Server.Port)
	c.Server.HealthPort = getEnv("OPENBOOK_HEALTH_PORT", c.Server.HealthPort)
	c.Server.ReadTimeout = getEnvDuration("OPENBOOK_READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = getEnvDuration("OPENBOOK_WRITE_TIMEOUT", c.Server.WriteTimeout)
	c.Server.IdleTimeout = getEnvDuration("OPENBOOK_IDLE_TIMEOUT", c.Server.IdleTimeout)
	c.Server.ShutdownTimeout = getEnvDuration("OPENBOOK_SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)

	c.Database.Driver = getEnv("OPENBOOK_DB_DRIVER", c.Database.Driver)
	c.Database.DSN = getEnv("OPENBOOK_DB_DSN", c.Database.DSN)
	c.Database.MaxConns = getEnvInt("OPENBOOK_DB_MAX_CONNS", c.Database.MaxConns)
	c.Database.MinConns = getEnvInt("OPENBOOK_DB_MIN_CONNS", c.Database.MinConns)
	c.Database.Timeout = getEnvDuration("OPENBOOK_DB_TIMEOUT", c.Database.Timeout)

	c.Redis.Enabled = getEnvBool("OPENBOOK_REDIS_ENABLED", c.Redis.Enabled)
	c.Redis.URL = getEnv("OPENBOOK_REDIS_URL", c.Redis.URL)
	c.Redis.Password = getEnv("OPENBOOK_REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvInt("OPENBOOK_REDIS_DB", c.Redis.DB)
	c.Redis.PoolSize = getEnvInt("OPENBOOK_REDIS_POOL_SIZE", c.Redis.PoolSize)

	c.SSO.BaseURL = getEnv("OPENBOOK_BASE_URL", c.SSO.BaseURL)
	c.SSO.SessionTTL = getEnvDuration("OPENBOOK_SESSION_TTL", c.SSO.SessionTTL)
	c.SSO.LoginRateLimit = getEnvInt("OPENBOOK_LOGIN_RATE_LIMIT", c.SSO.LoginRateLimit)
	c.SSO.LoginRateWindow = getEnvDuration("OPENBOOK_LOGIN_RATE_WINDOW", c.SSO.LoginRateWindow)

	if level := os.Getenv("OPENBOOK_LOG_LEVEL"); level != "" {
		c.Observability.LogLevel = observability.ParseLogLevel(level)
	}
	c.Observability.MetricsEnabled = getEnvBool("OPENBOOK_METRICS_ENABLED", c.Observability.MetricsEnabled)
	c.Observability.OTelEnabled = getEnvBool("OPENBOOK_OTEL_ENABLED", c.Observability.OTelEnabled)
	c.Observability.OTelEndpoint = getEnv("OPENBOOK_OTEL_ENDPOINT", c.Observability.OTelEndpoint)
	c.Observability.OTelServiceName = getEnv("OPENBOOK_OTEL_SERVICE_NAME", c.Observability.OTelServiceName)
	c.Observability.OTelServiceVersion = getEnv("OPENBOOK_OTEL_SERVICE_VERSION", c.Observability.OTelServiceVersion)
	c.Observability.OTelInsecure = getEnvBool("OPENBOOK_OTEL_INSECURE", c.Observability.OTelInsecure)
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

	switch c.Database.Driver {
	case database.DriverPostgres, database.DriverSQLite:
	default:
		return fmt.Errorf("invalid database driver: %s (must be %s or %s)",
			c.Database.Driver, database.DriverPostgres, database.DriverSQLite)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database DSN is required")
	}

	if c.Redis.Enabled && c.Redis.URL == "" {
		return fmt.Errorf("redis URL is required when redis is enabled")
	}

	if c.SSO.BaseURL == "" {
		return fmt.Errorf("base URL is required")
	}
	if !strings.HasPrefix(c.SSO.BaseURL, "http://") && !strings.HasPrefix(c.SSO.BaseURL, "https://") {
		return fmt.Errorf("base URL must start with http:// or https://")
	}
	if c.SSO.SessionTTL <= 0 {
		return fmt.Errorf("session TTL must be positive")
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

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func setBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}

func setDuration(dst *time.Duration, src *string) error {
	if src == nil {
		return nil
	}
	duration, err := time.ParseDuration(*src)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", *src, err)
	}
	*dst = duration
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

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
