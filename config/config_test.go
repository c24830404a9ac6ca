package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"progressionkit/adapters/sqlx"
)

func TestLoad(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, EnvDevelopment, cfg.Environment)
	assert.Equal(t, "memory", cfg.Storage.Adapter)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "sync", cfg.Engine.Dispatch)
	assert.Equal(t, 100, cfg.Engine.MaxPageSize)
	assert.Equal(t, 7*24*time.Hour, cfg.Engine.WeeklyWindow)
	assert.Equal(t, 15*time.Minute, cfg.Scheduler.RecomputeInterval)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PROGRESSION_ENGINE_MAX_PAGE_SIZE", "25")
	t.Setenv("PROGRESSION_ENGINE_RANK_INDEX", "true")
	t.Setenv("PROGRESSION_SCHEDULER_RECOMPUTE_INTERVAL", "90s")
	t.Setenv("PROGRESSION_LOG_ATTRIBUTES", "service=progression, region=eu")
	t.Setenv("PROGRESSION_STORAGE_ADAPTER", "sql")
	t.Setenv("PROGRESSION_SQL_DRIVER", "mysql")
	t.Setenv("PROGRESSION_REDIS_KEY_PREFIX", "prod")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 25, cfg.Engine.MaxPageSize)
	assert.True(t, cfg.Engine.RankIndex)
	assert.Equal(t, 90*time.Second, cfg.Scheduler.RecomputeInterval)
	assert.Equal(t, map[string]string{"service": "progression", "region": "eu"}, cfg.Logging.Attributes)
	assert.Equal(t, "sql", cfg.Storage.Adapter)
	assert.Equal(t, sqlx.DriverMySQL, cfg.Storage.SQL.Driver)
	assert.Equal(t, "prod", cfg.Storage.Redis.KeyPrefix)
}

func TestLoad_InvalidEnvValue(t *testing.T) {
	t.Setenv("PROGRESSION_ENGINE_WEEKLY_WINDOW", "a week")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "progression.json")
	content := `{
		"environment": "testing",
		"storage": {
			"adapter": "file",
			"file": {"path": "/var/lib/progression/state.json"}
		},
		"engine": {"dispatch": "async", "queue_size": 64, "workers": 2, "max_page_size": 50, "weekly_window": 86400000000000}
	}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, EnvTesting, cfg.Environment)
	assert.Equal(t, "file", cfg.Storage.Adapter)
	assert.Equal(t, "/var/lib/progression/state.json", cfg.Storage.File.Path)
	assert.Equal(t, "async", cfg.Engine.Dispatch)
	assert.Equal(t, 50, cfg.Engine.MaxPageSize)
	assert.Equal(t, 24*time.Hour, cfg.Engine.WeeklyWindow)
	assert.Equal(t, "info", cfg.Logging.Level, "unset fields keep defaults")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "empty environment", mutate: func(c *Config) { c.Environment = "" }, wantErr: "environment"},
		{name: "unknown adapter", mutate: func(c *Config) { c.Storage.Adapter = "mongo" }, wantErr: "adapter must be one of"},
		{name: "file without path", mutate: func(c *Config) {
			c.Storage.Adapter = "file"
			c.Storage.File.Path = ""
		}, wantErr: "file config"},
		{name: "sql without dsn", mutate: func(c *Config) {
			c.Storage.Adapter = "sql"
			c.Storage.SQL.DSN = ""
		}, wantErr: "sql config"},
		{name: "sql bad driver", mutate: func(c *Config) {
			c.Storage.Adapter = "sql"
			c.Storage.SQL.Driver = "sqlite"
		}, wantErr: "unsupported driver"},
		{name: "redis without addr", mutate: func(c *Config) {
			c.Storage.Adapter = "redis"
			c.Storage.Redis.Addr = ""
		}, wantErr: "redis config"},
		{name: "bad log level", mutate: func(c *Config) { c.Logging.Level = "trace" }, wantErr: "level must be one of"},
		{name: "metrics without address", mutate: func(c *Config) {
			c.Metrics.Enabled = true
			c.Metrics.Address = ""
		}, wantErr: "metrics config"},
		{name: "unknown dispatch", mutate: func(c *Config) { c.Engine.Dispatch = "kafka" }, wantErr: "dispatch"},
		{name: "async without workers", mutate: func(c *Config) {
			c.Engine.Dispatch = "async"
			c.Engine.Workers = 0
		}, wantErr: "workers"},
		{name: "zero page size", mutate: func(c *Config) { c.Engine.MaxPageSize = 0 }, wantErr: "max_page_size"},
		{name: "short recompute interval", mutate: func(c *Config) { c.Scheduler.RecomputeInterval = time.Millisecond }, wantErr: "recompute_interval"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestProfiles(t *testing.T) {
	tests := []struct {
		profile     string
		ok          bool
		environment Environment
		adapter     string
	}{
		{"development", true, EnvDevelopment, "memory"},
		{"testing", true, EnvTesting, "memory"},
		{"staging", true, EnvStaging, "redis"},
		{"production", true, EnvProduction, "sql"},
		{"unknown", false, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.profile, func(t *testing.T) {
			cfg, err := LoadProfile(tt.profile)
			if !tt.ok {
				assert.Error(t, err)
				assert.Nil(t, cfg)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.environment, cfg.Environment)
			assert.Equal(t, tt.adapter, cfg.Storage.Adapter)
			assert.Equal(t, tt.profile, cfg.Profile)
		})
	}
}

func TestConfig_StringRedactsSecrets(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Storage.Redis.Password = "hunter2"
	out := cfg.String()
	assert.False(t, strings.Contains(out, "hunter2"))
	assert.False(t, strings.Contains(out, "progression:progression@"))
	assert.Contains(t, out, "[REDACTED]")
	assert.Equal(t, "hunter2", cfg.Storage.Redis.Password, "original is untouched")
}

func TestValidateConfigPath(t *testing.T) {
	dir := t.TempDir()
	jsonPath := filepath.Join(dir, "ok.json")
	txtPath := filepath.Join(dir, "config.txt")
	require.NoError(t, os.WriteFile(jsonPath, []byte("{}"), 0o600))
	require.NoError(t, os.WriteFile(txtPath, []byte("{}"), 0o600))

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"valid json file", jsonPath, false},
		{"empty path", "", true},
		{"path traversal", "../../../etc/passwd", true},
		{"non-json file", txtPath, true},
		{"nonexistent file", filepath.Join(dir, "missing.json"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateConfigPath(tt.path)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
