package config

import (
	"fmt"
	"time"
)

// LoadProfile returns the defaults for a named deployment profile, with
// environment variables applied on top.
func LoadProfile(name string) (*Config, error) {
	cfg := DefaultConfig()
	cfg.Profile = name

	switch name {
	case "development":
		cfg.Environment = EnvDevelopment
		cfg.Logging.Level = "debug"
		cfg.Logging.Format = "text"
	case "testing":
		cfg.Environment = EnvTesting
		cfg.Logging.Level = "warn"
		cfg.Scheduler.RecomputeInterval = time.Minute
	case "staging":
		cfg.Environment = EnvStaging
		cfg.Storage.Adapter = "redis"
		cfg.Metrics.Enabled = true
		cfg.Engine.RankIndex = true
	case "production":
		cfg.Environment = EnvProduction
		cfg.Storage.Adapter = "sql"
		cfg.Metrics.Enabled = true
		cfg.Engine.Dispatch = "async"
		cfg.Engine.RankIndex = true
		cfg.Scheduler.RecomputeInterval = 5 * time.Minute
	default:
		return nil, fmt.Errorf("unknown profile %q", name)
	}

	if err := loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
