package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"progressionkit/adapters/redis"
	"progressionkit/adapters/sqlx"
)

// Environment represents the deployment environment
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// Config holds the complete application configuration
type Config struct {
	Environment Environment `json:"environment" env:"PROGRESSION_ENV"`
	Profile     string      `json:"profile" env:"PROGRESSION_PROFILE"`

	Storage   StorageConfig   `json:"storage"`
	Logging   LoggingConfig   `json:"logging"`
	Metrics   MetricsConfig   `json:"metrics"`
	Engine    EngineConfig    `json:"engine"`
	Scheduler SchedulerConfig `json:"scheduler"`
}

// StorageConfig holds storage adapter configuration
type StorageConfig struct {
	Adapter string       `json:"adapter" env:"PROGRESSION_STORAGE_ADAPTER"`
	Redis   redis.Config `json:"redis,omitempty"`
	SQL     sqlx.Config  `json:"sql,omitempty"`
	File    FileConfig   `json:"file,omitempty"`
}

// FileConfig holds JSON file storage configuration
type FileConfig struct {
	Path string `json:"path" env:"PROGRESSION_STORAGE_FILE_PATH"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string            `json:"level" env:"PROGRESSION_LOG_LEVEL"`
	Format     string            `json:"format" env:"PROGRESSION_LOG_FORMAT"`
	Output     string            `json:"output" env:"PROGRESSION_LOG_OUTPUT"`
	Attributes map[string]string `json:"attributes,omitempty" env:"PROGRESSION_LOG_ATTRIBUTES"`
}

// MetricsConfig controls the Prometheus hook and its scrape endpoint.
type MetricsConfig struct {
	Enabled   bool   `json:"enabled" env:"PROGRESSION_METRICS_ENABLED"`
	Namespace string `json:"namespace" env:"PROGRESSION_METRICS_NAMESPACE"`
	Address   string `json:"address" env:"PROGRESSION_METRICS_ADDR"`
	Path      string `json:"path" env:"PROGRESSION_METRICS_PATH"`
}

// EngineConfig tunes event dispatch and ranking reads.
type EngineConfig struct {
	Dispatch     string        `json:"dispatch" env:"PROGRESSION_ENGINE_DISPATCH"`
	QueueSize    int           `json:"queue_size" env:"PROGRESSION_ENGINE_QUEUE_SIZE"`
	Workers      int           `json:"workers" env:"PROGRESSION_ENGINE_WORKERS"`
	MaxPageSize  int           `json:"max_page_size" env:"PROGRESSION_ENGINE_MAX_PAGE_SIZE"`
	WeeklyWindow time.Duration `json:"weekly_window" env:"PROGRESSION_ENGINE_WEEKLY_WINDOW"`
	RankIndex    bool          `json:"rank_index" env:"PROGRESSION_ENGINE_RANK_INDEX"`
}

// SchedulerConfig holds settings for the progressionctl schedule daemon.
type SchedulerConfig struct {
	RecomputeInterval time.Duration `json:"recompute_interval" env:"PROGRESSION_SCHEDULER_RECOMPUTE_INTERVAL"`
	WeeklyLogLimit    int           `json:"weekly_log_limit" env:"PROGRESSION_SCHEDULER_WEEKLY_LOG_LIMIT"`
}

// Load loads configuration from environment variables and validates it
func Load() (*Config, error) {
	cfg := DefaultConfig()

	// Load from environment variables
	if err := loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// validateConfigPath validates that the config file path is safe
func validateConfigPath(path string) error {
	if path == "" {
		return errors.New("config file path cannot be empty")
	}

	cleanPath := filepath.Clean(path)

	if !strings.HasSuffix(strings.ToLower(cleanPath), ".json") {
		return errors.New("config file must have .json extension")
	}

	if _, err := os.Stat(cleanPath); err != nil {
		return fmt.Errorf("config file not accessible: %w", err)
	}

	return nil
}

// LoadFromFile loads configuration from a JSON file
func LoadFromFile(path string) (*Config, error) {
	// Validate the path for security
	if err := validateConfigPath(path); err != nil {
		return nil, fmt.Errorf("invalid config file path: %w", err)
	}

	// Open the file safely after validation
	file, err := os.Open(path) // #nosec G304 - Path validated above
	if err != nil {
		return nil, fmt.Errorf("failed to open config file %s: %w", path, err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	// Environment variables override file values
	if err := loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults for development
func DefaultConfig() *Config {
	return &Config{
		Environment: EnvDevelopment,
		Profile:     "default",
		Storage: StorageConfig{
			Adapter: "memory",
			Redis:   redis.DefaultConfig(),
			SQL:     sqlx.DefaultConfig(sqlx.DriverPostgres),
			File: FileConfig{
				Path: "./data/progression.json",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled:   false,
			Namespace: "progression",
			Address:   ":9090",
			Path:      "/metrics",
		},
		Engine: EngineConfig{
			Dispatch:     "sync",
			QueueSize:    1024,
			Workers:      4,
			MaxPageSize:  100,
			WeeklyWindow: 7 * 24 * time.Hour,
			RankIndex:    false,
		},
		Scheduler: SchedulerConfig{
			RecomputeInterval: 15 * time.Minute,
			WeeklyLogLimit:    10,
		},
	}
}

// Validate validates the configuration and returns detailed error messages
func (c *Config) Validate() error {
	var errs []string

	// Validate environment
	if c.Environment == "" {
		errs = append(errs, "environment cannot be empty")
	}

	// Validate storage config
	if err := c.Storage.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("storage config: %v", err))
	}

	// Validate logging config
	if err := c.Logging.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("logging config: %v", err))
	}

	// Validate metrics config
	if err := c.Metrics.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("metrics config: %v", err))
	}

	if err := c.Engine.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("engine config: %v", err))
	}

	if err := c.Scheduler.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("scheduler config: %v", err))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

// String returns a JSON representation of the config (with secrets redacted)
func (c *Config) String() string {
	// Create a copy for redaction
	cfg := *c

	// Redact sensitive information
	if cfg.Storage.SQL.DSN != "" {
		cfg.Storage.SQL.DSN = "[REDACTED]"
	}
	if cfg.Storage.Redis.Password != "" {
		cfg.Storage.Redis.Password = "[REDACTED]"
	}

	data, _ := json.MarshalIndent(cfg, "", "  ")
	return string(data)
}
