package leaderboard

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"progressionkit/core"
	"progressionkit/engine"
)

const (
	DefaultMaxPageSize  = 100
	DefaultWeeklyWindow = 7 * 24 * time.Hour
)

// Store is the storage view the ranking service reads from.
type Store interface {
	ProgressReader
	SumLedgerSince(ctx context.Context, since time.Time) (map[core.UserID]int64, error)
	engine.SeasonStore
}

// Ranked is one leaderboard row.
type Ranked struct {
	Rank      int         `json:"rank"`
	UserID    core.UserID `json:"user_id"`
	XP        int64       `json:"xp"`
	Level     int64       `json:"level"`
	Influence int64       `json:"influence"`
}

// Page is one page of a global leaderboard.
type Page struct {
	Metric          Metric   `json:"metric"`
	Page            int      `json:"page"`
	PageSize        int      `json:"page_size"`
	Total           int      `json:"total"`
	Entries         []Ranked `json:"entries"`
	CurrentUserRank *int     `json:"current_user_rank,omitempty"`
}

// WeeklyEntry is a user's ledger sum over the trailing window.
type WeeklyEntry struct {
	Rank   int         `json:"rank"`
	UserID core.UserID `json:"user_id"`
	XP     int64       `json:"xp"`
}

// Service computes global, seasonal and weekly rankings.
type Service struct {
	store       Store
	bus         *engine.EventBus
	index       *Index
	group       singleflight.Group
	logger      *slog.Logger
	now         func() time.Time
	maxPageSize int
	window      time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithEventBus publishes season events to bus and feeds the rank index from it.
func WithEventBus(bus *engine.EventBus) Option {
	return func(s *Service) { s.bus = bus }
}

// WithIndex serves global pages from ix instead of a full scan.
func WithIndex(ix *Index) Option {
	return func(s *Service) { s.index = ix }
}

func WithMaxPageSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxPageSize = n
		}
	}
}

func WithWeeklyWindow(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.window = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func NewService(store Store, opts ...Option) *Service {
	if store == nil {
		panic("leaderboard.NewService requires a store")
	}
	s := &Service{
		store:       store,
		logger:      slog.Default(),
		now:         func() time.Time { return time.Now().UTC() },
		maxPageSize: DefaultMaxPageSize,
		window:      DefaultWeeklyWindow,
	}
	for _, o := range opts {
		o(s)
	}
	if s.index != nil {
		s.index.logger = s.logger
		if s.bus != nil {
			s.bus.SubscribeAll(s.index.Observe)
		}
	}
	return s
}

// WarmIndex loads the rank index from storage. It is a no-op without an index.
func (s *Service) WarmIndex(ctx context.Context) error {
	if s.index == nil {
		return nil
	}
	if err := s.index.Warm(ctx); err != nil {
		return fmt.Errorf("warm rank index: %w", err)
	}
	return nil
}

func (s *Service) validateLimit(name string, n int) error {
	if n < 1 || n > s.maxPageSize {
		return fmt.Errorf("%w: %s must be within [1, %d], got %d", core.ErrInvalidInput, name, s.maxPageSize, n)
	}
	return nil
}

// GetLeaderboard returns one page of the population sorted by metric. Ranks
// are positions in the full population. viewer may be empty.
func (s *Service) GetLeaderboard(ctx context.Context, metric Metric, page, pageSize int, viewer core.UserID) (Page, error) {
	metric = ParseMetric(string(metric))
	if page < 1 {
		return Page{}, fmt.Errorf("%w: page must be >= 1, got %d", core.ErrInvalidInput, page)
	}
	if err := s.validateLimit("page size", pageSize); err != nil {
		return Page{}, err
	}
	if viewer != "" {
		v, err := core.NormalizeUserID(viewer)
		if err != nil {
			return Page{}, err
		}
		viewer = v
	}
	offset := (page - 1) * pageSize

	var (
		rows  []core.UserProgress
		total int
		rank  int
	)
	if s.index != nil {
		rows, total, rank = s.index.page(metric, offset, pageSize, viewer)
	} else {
		all, err := s.sortedPopulation(ctx, metric)
		if err != nil {
			return Page{}, err
		}
		total = len(all)
		if offset < total {
			rows = all[offset:min(offset+pageSize, total)]
		}
		if viewer != "" {
			for i, p := range all {
				if p.UserID == viewer {
					rank = i + 1
					break
				}
			}
		}
	}

	out := Page{Metric: metric, Page: page, PageSize: pageSize, Total: total, Entries: make([]Ranked, 0, len(rows))}
	for i, p := range rows {
		out.Entries = append(out.Entries, Ranked{
			Rank:      offset + i + 1,
			UserID:    p.UserID,
			XP:        p.XP,
			Level:     p.Level,
			Influence: p.Influence,
		})
	}
	if rank > 0 {
		out.CurrentUserRank = &rank
	}
	return out, nil
}

// sortedPopulation loads every user once per burst of concurrent callers and
// returns a private sorted copy.
func (s *Service) sortedPopulation(ctx context.Context, metric Metric) ([]core.UserProgress, error) {
	// The load is shared, so one caller's cancellation must not fail the rest.
	shared := context.WithoutCancel(ctx)
	v, err, _ := s.group.Do("population", func() (any, error) {
		return s.store.ListProgress(shared)
	})
	if err != nil {
		return nil, fmt.Errorf("load population: %w", err)
	}
	rows := v.([]core.UserProgress)
	all := make([]core.UserProgress, len(rows))
	copy(all, rows)
	sort.Slice(all, func(i, j int) bool {
		return less(
			Entry{User: all[i].UserID, Score: ScoreOf(metric, all[i])},
			Entry{User: all[j].UserID, Score: ScoreOf(metric, all[j])},
		)
	})
	return all, nil
}

func sortSeasonEntries(entries []core.SeasonEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].XPEarned != entries[j].XPEarned {
			return entries[i].XPEarned > entries[j].XPEarned
		}
		return entries[i].UserID < entries[j].UserID
	})
}

// GetSeasonLeaderboard returns the top limit entries of a season ranked by
// position. The persisted rank column is not consulted.
func (s *Service) GetSeasonLeaderboard(ctx context.Context, seasonID string, limit int) ([]core.SeasonEntry, error) {
	if err := s.validateLimit("limit", limit); err != nil {
		return nil, err
	}
	entries, err := s.store.ListSeasonEntries(ctx, seasonID)
	if err != nil {
		return nil, fmt.Errorf("season leaderboard: %w", err)
	}
	sortSeasonEntries(entries)
	if len(entries) > limit {
		entries = entries[:limit]
	}
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries, nil
}

// RecomputeSeasonRanks rewrites the cached rank of every entry in a season.
func (s *Service) RecomputeSeasonRanks(ctx context.Context, seasonID string) ([]core.SeasonEntry, error) {
	entries, err := s.store.ListSeasonEntries(ctx, seasonID)
	if err != nil {
		return nil, fmt.Errorf("recompute ranks: %w", err)
	}
	sortSeasonEntries(entries)
	ranks := make(map[core.UserID]int, len(entries))
	for i := range entries {
		entries[i].Rank = i + 1
		ranks[entries[i].UserID] = i + 1
	}
	if err := s.store.SetSeasonRanks(ctx, seasonID, ranks); err != nil {
		return nil, fmt.Errorf("recompute ranks: %w", err)
	}
	s.logger.Info("season ranks recomputed", "season", seasonID, "entries", len(entries))
	return entries, nil
}

// GetWeeklyTop ranks users by the sum of their ledger amounts over the
// trailing window, independent of cumulative XP.
func (s *Service) GetWeeklyTop(ctx context.Context, limit int) ([]WeeklyEntry, error) {
	if err := s.validateLimit("limit", limit); err != nil {
		return nil, err
	}
	sums, err := s.store.SumLedgerSince(ctx, s.now().Add(-s.window))
	if err != nil {
		return nil, fmt.Errorf("weekly top: %w", err)
	}
	out := make([]WeeklyEntry, 0, len(sums))
	for user, xp := range sums {
		out = append(out, WeeklyEntry{UserID: user, XP: xp})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].XP != out[j].XP {
			return out[i].XP > out[j].XP
		}
		return out[i].UserID < out[j].UserID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	for i := range out {
		out[i].Rank = i + 1
	}
	return out, nil
}

// StartSeason creates a season and makes it the only active one in a single
// storage unit. A zero startsAt means now.
func (s *Service) StartSeason(ctx context.Context, name string, startsAt, endsAt time.Time) (core.Season, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return core.Season{}, fmt.Errorf("%w: season name is required", core.ErrInvalidInput)
	}
	now := s.now()
	if startsAt.IsZero() {
		startsAt = now
	}
	if !endsAt.After(startsAt) {
		return core.Season{}, fmt.Errorf("%w: season must end after it starts", core.ErrInvalidInput)
	}
	season, err := s.store.ActivateSeason(ctx, core.Season{
		ID:        uuid.NewString(),
		Name:      name,
		StartsAt:  startsAt.UTC(),
		EndsAt:    endsAt.UTC(),
		CreatedAt: now,
	})
	if err != nil {
		return core.Season{}, fmt.Errorf("start season: %w", err)
	}
	s.logger.Info("season started", "season", season.ID, "name", season.Name, "ends_at", season.EndsAt)
	if s.bus != nil {
		s.bus.Publish(ctx, core.NewSeasonStarted(season.ID))
	}
	return season, nil
}

// EndSeason deactivates a season. Its entries stay readable.
func (s *Service) EndSeason(ctx context.Context, id string) error {
	if err := s.store.EndSeason(ctx, id); err != nil {
		return fmt.Errorf("end season: %w", err)
	}
	s.logger.Info("season ended", "season", id)
	return nil
}

func (s *Service) ActiveSeason(ctx context.Context) (core.Season, bool, error) {
	return s.store.ActiveSeason(ctx)
}

func (s *Service) ListSeasons(ctx context.Context) ([]core.Season, error) {
	return s.store.ListSeasons(ctx)
}
