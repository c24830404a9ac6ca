package progression

import (
	"context"
	"log/slog"
	"time"

	"progressionkit/adapters/memory"
	"progressionkit/analytics"
	"progressionkit/engine"
	"progressionkit/leaderboard"
)

// Option configures the System builder.
type Option func(*options)

type options struct {
	storage     engine.Storage
	mode        engine.DispatchMode
	busOpts     []engine.BusOption
	rules       engine.RuleEngine
	logger      *slog.Logger
	now         func() time.Time
	rankIndex   bool
	metrics     *analytics.Metrics
	maxPageSize int
	weekly      time.Duration
}

// WithStorage sets the persistence adapter.
func WithStorage(s engine.Storage) Option { return func(c *options) { c.storage = s } }

// WithRuleEngine sets the automatic badge rules.
func WithRuleEngine(r engine.RuleEngine) Option { return func(c *options) { c.rules = r } }

// WithDispatchMode selects sync or async event dispatch.
func WithDispatchMode(m engine.DispatchMode, opts ...engine.BusOption) Option {
	return func(c *options) {
		c.mode = m
		c.busOpts = opts
	}
}

func WithLogger(l *slog.Logger) Option { return func(c *options) { c.logger = l } }

func WithClock(now func() time.Time) Option { return func(c *options) { c.now = now } }

// WithRankIndex keeps an in-memory rank index current from bus events.
func WithRankIndex(enabled bool) Option { return func(c *options) { c.rankIndex = enabled } }

// WithMetrics subscribes m to every bus event.
func WithMetrics(m *analytics.Metrics) Option { return func(c *options) { c.metrics = m } }

func WithMaxPageSize(n int) Option { return func(c *options) { c.maxPageSize = n } }

func WithWeeklyWindow(d time.Duration) Option { return func(c *options) { c.weekly = d } }

// System bundles the engine and ranking service over one storage and bus.
type System struct {
	Engine      *engine.Engine
	Leaderboard *leaderboard.Service
	Bus         *engine.EventBus
	Storage     engine.Storage
	Index       *leaderboard.Index
}

// New builds a System. If not provided, defaults are used:
//   - storage: in-memory
//   - rules: DefaultRuleEngine
//   - dispatch: sync
//
// With the rank index enabled, the index is warmed from storage before New returns.
func New(ctx context.Context, opts ...Option) (*System, error) {
	cfg := &options{mode: engine.DispatchSync, rules: engine.DefaultRuleEngine()}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.storage == nil {
		cfg.storage = memory.New()
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}

	bus := engine.NewEventBus(cfg.mode, cfg.busOpts...)
	engineOpts := []engine.Option{engine.WithLogger(cfg.logger)}
	if cfg.now != nil {
		engineOpts = append(engineOpts, engine.WithClock(cfg.now))
	}
	eng := engine.NewEngine(cfg.storage, bus, cfg.rules, engineOpts...)

	boardOpts := []leaderboard.Option{leaderboard.WithEventBus(bus), leaderboard.WithLogger(cfg.logger)}
	if cfg.now != nil {
		boardOpts = append(boardOpts, leaderboard.WithClock(cfg.now))
	}
	if cfg.maxPageSize > 0 {
		boardOpts = append(boardOpts, leaderboard.WithMaxPageSize(cfg.maxPageSize))
	}
	if cfg.weekly > 0 {
		boardOpts = append(boardOpts, leaderboard.WithWeeklyWindow(cfg.weekly))
	}
	var ix *leaderboard.Index
	if cfg.rankIndex {
		if cfg.mode == engine.DispatchAsync {
			cfg.logger.Warn("rank index with async dispatch may briefly lag storage")
		}
		ix = leaderboard.NewIndex(cfg.storage)
		boardOpts = append(boardOpts, leaderboard.WithIndex(ix))
	}
	board := leaderboard.NewService(cfg.storage, boardOpts...)

	if cfg.metrics != nil {
		bus.SubscribeAll(cfg.metrics.Handle)
	}

	if ix != nil {
		if err := board.WarmIndex(ctx); err != nil {
			bus.Close()
			return nil, err
		}
	}

	return &System{Engine: eng, Leaderboard: board, Bus: bus, Storage: cfg.storage, Index: ix}, nil
}

// Close stops async dispatch workers.
func (s *System) Close() { s.Bus.Close() }
