package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"progressionkit/adapters/memory"
	"progressionkit/core"
	"progressionkit/engine"
)

// Store persists entire state to a single JSON file.
// Suitable for demos and small deployments. Reads are served from an in-memory
// copy; every mutation runs against a clone that replaces it only once the file
// has been rewritten, so a failed write leaves both file and memory unchanged.
type Store struct {
	state atomic.Pointer[memory.Store]
	path  string
	mu    sync.Mutex
}

func New(path string) (*Store, error) {
	s := &Store{path: path}
	s.state.Store(memory.New())
	if err := s.load(); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) load() error {
	b, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	var snap memory.Snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return fmt.Errorf("decode %s: %w", s.path, err)
	}
	s.state.Store(memory.Restore(snap))
	return nil
}

func (s *Store) persist(snap memory.Snapshot) error {
	tmp := s.path + ".tmp"
	b, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// write runs a mutation on a clone of the current state, persists the clone and
// then publishes it. Writers are serialized by the file lock.
func write[T any](s *Store, fn func(*memory.Store) (T, error)) (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := memory.Restore(s.state.Load().Snapshot())
	v, err := fn(next)
	if err != nil {
		return v, err
	}
	if err := s.persist(next.Snapshot()); err != nil {
		var zero T
		return zero, fmt.Errorf("persist %s: %w", s.path, err)
	}
	s.state.Store(next)
	return v, nil
}

func (s *Store) mem() *memory.Store { return s.state.Load() }

func (s *Store) GetProgress(ctx context.Context, user core.UserID) (core.UserProgress, error) {
	return s.mem().GetProgress(ctx, user)
}

func (s *Store) ListProgress(ctx context.Context) ([]core.UserProgress, error) {
	return s.mem().ListProgress(ctx)
}

func (s *Store) ListLedger(ctx context.Context, user core.UserID) ([]core.LedgerEntry, error) {
	return s.mem().ListLedger(ctx, user)
}

func (s *Store) SumLedgerSince(ctx context.Context, since time.Time) (map[core.UserID]int64, error) {
	return s.mem().SumLedgerSince(ctx, since)
}

func (s *Store) GetChallenge(ctx context.Context, id string) (core.Challenge, error) {
	return s.mem().GetChallenge(ctx, id)
}

func (s *Store) ListChallenges(ctx context.Context) ([]core.Challenge, error) {
	return s.mem().ListChallenges(ctx)
}

func (s *Store) GetProgressRow(ctx context.Context, user core.UserID, challengeID string) (core.ChallengeProgress, error) {
	return s.mem().GetProgressRow(ctx, user, challengeID)
}

func (s *Store) GetBadge(ctx context.Context, id core.Badge) (core.BadgeDefinition, error) {
	return s.mem().GetBadge(ctx, id)
}

func (s *Store) ListUserBadges(ctx context.Context, user core.UserID) ([]core.UserBadge, error) {
	return s.mem().ListUserBadges(ctx, user)
}

func (s *Store) GetSeason(ctx context.Context, id string) (core.Season, error) {
	return s.mem().GetSeason(ctx, id)
}

func (s *Store) ListSeasons(ctx context.Context) ([]core.Season, error) {
	return s.mem().ListSeasons(ctx)
}

func (s *Store) ActiveSeason(ctx context.Context) (core.Season, bool, error) {
	return s.mem().ActiveSeason(ctx)
}

func (s *Store) ListSeasonEntries(ctx context.Context, seasonID string) ([]core.SeasonEntry, error) {
	return s.mem().ListSeasonEntries(ctx, seasonID)
}

func (s *Store) CreateUser(ctx context.Context, user core.UserID) (core.UserProgress, error) {
	return write(s, func(m *memory.Store) (core.UserProgress, error) { return m.CreateUser(ctx, user) })
}

func (s *Store) UpdateSocialStats(ctx context.Context, user core.UserID, stats core.SocialStats) (core.UserProgress, error) {
	return write(s, func(m *memory.Store) (core.UserProgress, error) { return m.UpdateSocialStats(ctx, user, stats) })
}

func (s *Store) SpendWallet(ctx context.Context, user core.UserID, amount int64) (core.UserProgress, error) {
	return write(s, func(m *memory.Store) (core.UserProgress, error) { return m.SpendWallet(ctx, user, amount) })
}

func (s *Store) ApplyXP(ctx context.Context, entry core.LedgerEntry) (core.UserProgress, error) {
	return write(s, func(m *memory.Store) (core.UserProgress, error) { return m.ApplyXP(ctx, entry) })
}

func (s *Store) PutChallenge(ctx context.Context, c core.Challenge) error {
	_, err := write(s, func(m *memory.Store) (struct{}, error) { return struct{}{}, m.PutChallenge(ctx, c) })
	return err
}

func (s *Store) EnsureProgress(ctx context.Context, user core.UserID, challengeID string, now time.Time) (core.ChallengeProgress, error) {
	return write(s, func(m *memory.Store) (core.ChallengeProgress, error) { return m.EnsureProgress(ctx, user, challengeID, now) })
}

type advance struct {
	row       core.ChallengeProgress
	completed bool
}

func (s *Store) AdvanceProgress(ctx context.Context, user core.UserID, c core.Challenge, delta int64, now time.Time) (core.ChallengeProgress, bool, error) {
	res, err := write(s, func(m *memory.Store) (advance, error) {
		row, completed, err := m.AdvanceProgress(ctx, user, c, delta, now)
		return advance{row: row, completed: completed}, err
	})
	return res.row, res.completed, err
}

func (s *Store) PutBadge(ctx context.Context, def core.BadgeDefinition) error {
	_, err := write(s, func(m *memory.Store) (struct{}, error) { return struct{}{}, m.PutBadge(ctx, def) })
	return err
}

func (s *Store) GrantBadge(ctx context.Context, user core.UserID, badge core.Badge, at time.Time) (bool, error) {
	return write(s, func(m *memory.Store) (bool, error) { return m.GrantBadge(ctx, user, badge, at) })
}

func (s *Store) ActivateSeason(ctx context.Context, season core.Season) (core.Season, error) {
	return write(s, func(m *memory.Store) (core.Season, error) { return m.ActivateSeason(ctx, season) })
}

func (s *Store) EndSeason(ctx context.Context, id string) error {
	_, err := write(s, func(m *memory.Store) (struct{}, error) { return struct{}{}, m.EndSeason(ctx, id) })
	return err
}

func (s *Store) SetSeasonRanks(ctx context.Context, seasonID string, ranks map[core.UserID]int) error {
	_, err := write(s, func(m *memory.Store) (struct{}, error) { return struct{}{}, m.SetSeasonRanks(ctx, seasonID, ranks) })
	return err
}

var _ engine.Storage = (*Store)(nil)
