package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecwu/openbook/pkg/database"
	"github.com/ecwu/openbook/pkg/observability"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("OPENBOOK_DB_DSN", "postgres://localhost/openbook_test")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "9090", cfg.Server.HealthPort)
	assert.Equal(t, database.DriverPostgres, cfg.Database.Driver)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, "http://localhost:8080", cfg.SSO.BaseURL)
	assert.Equal(t, 24*time.Hour, cfg.SSO.SessionTTL)
	assert.Equal(t, 10, cfg.SSO.LoginRateLimit)
	assert.Equal(t, observability.InfoLevel, cfg.Observability.LogLevel)
	assert.True(t, cfg.Observability.MetricsEnabled)
	assert.False(t, cfg.Observability.OTelEnabled)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("OPENBOOK_DB_DSN", "file::memory:?cache=shared")
	t.Setenv("OPENBOOK_DB_DRIVER", "sqlite3")
	t.Setenv("OPENBOOK_PORT", "8888")
	t.Setenv("OPENBOOK_BASE_URL", "https://book.example.com")
	t.Setenv("OPENBOOK_SESSION_TTL", "8h")
	t.Setenv("OPENBOOK_REDIS_ENABLED", "true")
	t.Setenv("OPENBOOK_REDIS_URL", "redis.internal:6379")
	t.Setenv("OPENBOOK_LOG_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, database.DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, "8888", cfg.Server.Port)
	assert.Equal(t, "https://book.example.com", cfg.SSO.BaseURL)
	assert.Equal(t, 8*time.Hour, cfg.SSO.SessionTTL)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "redis.internal:6379", cfg.Redis.URL)
	assert.Equal(t, observability.DebugLevel, cfg.Observability.LogLevel)
}

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "openbook.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoad_YAMLOverlay(t *testing.T) {
	path := writeConfigFile(t, `
server:
  port: "8081"
  read_timeout: 30s
database:
  driver: sqlite3
  dsn: /tmp/openbook.db
sso:
  base_url: https://book.example.com
  session_ttl: 12h
observability:
  log_level: warn
  metrics_enabled: false
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "8081", cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, database.DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, "/tmp/openbook.db", cfg.Database.DSN)
	assert.Equal(t, "https://book.example.com", cfg.SSO.BaseURL)
	assert.Equal(t, 12*time.Hour, cfg.SSO.SessionTTL)
	assert.Equal(t, observability.WarnLevel, cfg.Observability.LogLevel)
	assert.False(t, cfg.Observability.MetricsEnabled)

	// Unset fields keep their defaults.
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 15*time.Second, cfg.Server.WriteTimeout)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfigFile(t, `
server:
  port: "8081"
database:
  driver: sqlite3
  dsn: /tmp/openbook.db
`)
	t.Setenv("OPENBOOK_PORT", "9999")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "9999", cfg.Server.Port)
}

func TestLoad_InvalidDurationInFile(t *testing.T) {
	path := writeConfigFile(t, `
database:
  driver: sqlite3
  dsn: /tmp/openbook.db
sso:
  session_ttl: "not-a-duration"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid duration")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/openbook.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := defaultConfig()
		cfg.Database.DSN = "postgres://localhost/openbook"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "missing port",
			mutate:  func(c *Config) { c.Server.Port = "" },
			wantErr: "server port is required",
		},
		{
			name:    "port collision",
			mutate:  func(c *Config) { c.Server.HealthPort = c.Server.Port },
			wantErr: "must be different",
		},
		{
			name:    "unknown driver",
			mutate:  func(c *Config) { c.Database.Driver = "oracle" },
			wantErr: "invalid database driver",
		},
		{
			name:    "missing dsn",
			mutate:  func(c *Config) { c.Database.DSN = "" },
			wantErr: "database DSN is required",
		},
		{
			name: "redis enabled without url",
			mutate: func(c *Config) {
				c.Redis.Enabled = true
				c.Redis.URL = ""
			},
			wantErr: "redis URL is required",
		},
		{
			name:    "base url without scheme",
			mutate:  func(c *Config) { c.SSO.BaseURL = "book.example.com" },
			wantErr: "must start with http",
		},
		{
			name:    "non-positive session ttl",
			mutate:  func(c *Config) { c.SSO.SessionTTL = 0 },
			wantErr: "session TTL must be positive",
		},
		{
			name: "otel enabled without endpoint",
			mutate: func(c *Config) {
				c.Observability.OTelEnabled = true
				c.Observability.OTelEndpoint = ""
			},
			wantErr: "OpenTelemetry endpoint is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}
