package main

import (
	"context"
	"log/slog"
	"os"
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"progressionkit/analytics"
	"progressionkit/config"
	"progressionkit/engine"
	"progressionkit/progression"
)

// Options are the global flags shared by every subcommand.
type Options struct {
	ConfigPath string
	Profile    string
}

// App aggregates the assembled components.
type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	Storage  engine.Storage
	Registry *prometheus.Registry
	System   *progression.System
}

func provideConfig(opts Options) (*config.Config, error) {
	switch {
	case opts.ConfigPath != "":
		return config.LoadFromFile(opts.ConfigPath)
	case opts.Profile != "":
		return config.LoadProfile(opts.Profile)
	default:
		return config.Load()
	}
}

func provideLogger(cfg *config.Config) *slog.Logger {
	return setupLogging(cfg)
}

func provideStorage(cfg *config.Config) (engine.Storage, func(), error) {
	return progression.OpenStorage(cfg.Storage)
}

func provideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func provideMetrics(cfg *config.Config, reg *prometheus.Registry) (*analytics.Metrics, error) {
	if !cfg.Metrics.Enabled {
		return nil, nil
	}
	m := analytics.NewMetrics(cfg.Metrics.Namespace)
	if err := m.Register(reg); err != nil {
		return nil, err
	}
	return m, nil
}

func provideSystem(ctx context.Context, cfg *config.Config, logger *slog.Logger, storage engine.Storage, metrics *analytics.Metrics) (*progression.System, func(), error) {
	mode := engine.ParseDispatchMode(cfg.Engine.Dispatch)
	opts := []progression.Option{
		progression.WithStorage(storage),
		progression.WithLogger(logger),
		progression.WithDispatchMode(mode, engine.WithQueueSize(cfg.Engine.QueueSize), engine.WithWorkers(cfg.Engine.Workers)),
		progression.WithRankIndex(cfg.Engine.RankIndex),
		progression.WithMaxPageSize(cfg.Engine.MaxPageSize),
		progression.WithWeeklyWindow(cfg.Engine.WeeklyWindow),
	}
	if metrics != nil {
		opts = append(opts, progression.WithMetrics(metrics))
	}
	sys, err := progression.New(ctx, opts...)
	if err != nil {
		return nil, nil, err
	}
	return sys, sys.Close, nil
}

// setupLogging configures the logger based on configuration.
func setupLogging(cfg *config.Config) *slog.Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Logging.Level),
	}

	out := os.Stdout
	if cfg.Logging.Output == "stderr" {
		out = os.Stderr
	}

	switch cfg.Logging.Format {
	case "text":
		handler = slog.NewTextHandler(out, opts)
	default:
		handler = slog.NewJSONHandler(out, opts)
	}

	if len(cfg.Logging.Attributes) > 0 {
		handler = handler.WithAttrs(convertAttributes(cfg.Logging.Attributes))
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// parseLogLevel converts string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// convertAttributes converts map[string]string to []slog.Attr in key order.
func convertAttributes(attrs map[string]string) []slog.Attr {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	result := make([]slog.Attr, 0, len(keys))
	for _, k := range keys {
		result = append(result, slog.String(k, attrs[k]))
	}
	return result
}
