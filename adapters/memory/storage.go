package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"progressionkit/core"
)

// Store is a concurrent in-memory Storage implementation.
// Lock order is user -> ledger -> season and progress -> user.
type Store struct {
	users sync.Map // map[core.UserID]*userRecord

	ledgerMu sync.RWMutex
	ledger   []core.LedgerEntry

	challengeMu sync.RWMutex
	challenges  map[string]core.Challenge

	progress sync.Map // map[progressKey]*progressRecord

	badgeMu    sync.RWMutex
	badges     map[core.Badge]core.BadgeDefinition
	userBadges map[core.UserID]map[core.Badge]time.Time

	seasonMu sync.RWMutex
	seasons  map[string]core.Season
	active   string
	entries  map[string]map[core.UserID]int64
	ranks    map[string]map[core.UserID]int
}

type userRecord struct {
	mu    sync.Mutex
	state core.UserProgress
}

type progressKey struct {
	user      core.UserID
	challenge string
}

type progressRecord struct {
	mu  sync.Mutex
	row core.ChallengeProgress
}

func New() *Store {
	return &Store{
		challenges: map[string]core.Challenge{},
		badges:     map[core.Badge]core.BadgeDefinition{},
		userBadges: map[core.UserID]map[core.Badge]time.Time{},
		seasons:    map[string]core.Season{},
		entries:    map[string]map[core.UserID]int64{},
		ranks:      map[string]map[core.UserID]int{},
	}
}

func (s *Store) lookup(user core.UserID) (*userRecord, bool) {
	v, ok := s.users.Load(user)
	if !ok {
		return nil, false
	}
	return v.(*userRecord), true
}

func (s *Store) CreateUser(_ context.Context, user core.UserID) (core.UserProgress, error) {
	rec := &userRecord{state: core.UserProgress{UserID: user, Level: 1, Updated: time.Now().UTC()}}
	actual, _ := s.users.LoadOrStore(user, rec)
	r := actual.(*userRecord)
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state, nil
}

func (s *Store) GetProgress(_ context.Context, user core.UserID) (core.UserProgress, error) {
	rec, ok := s.lookup(user)
	if !ok {
		return core.UserProgress{}, core.ErrUserNotFound
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.state, nil
}

func (s *Store) ListProgress(_ context.Context) ([]core.UserProgress, error) {
	var out []core.UserProgress
	s.users.Range(func(_, v any) bool {
		rec := v.(*userRecord)
		rec.mu.Lock()
		out = append(out, rec.state)
		rec.mu.Unlock()
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (s *Store) UpdateSocialStats(_ context.Context, user core.UserID, stats core.SocialStats) (core.UserProgress, error) {
	rec, ok := s.lookup(user)
	if !ok {
		return core.UserProgress{}, core.ErrUserNotFound
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.state.Followers = stats.Followers
	rec.state.Influence = stats.Influence
	rec.state.StreakDays = stats.StreakDays
	rec.state.Updated = time.Now().UTC()
	return rec.state, nil
}

func (s *Store) SpendWallet(_ context.Context, user core.UserID, amount int64) (core.UserProgress, error) {
	rec, ok := s.lookup(user)
	if !ok {
		return core.UserProgress{}, core.ErrUserNotFound
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.state.Wallet < amount {
		return core.UserProgress{}, core.ErrInsufficientFunds
	}
	rec.state.Wallet -= amount
	rec.state.Updated = time.Now().UTC()
	return rec.state, nil
}

func (s *Store) ApplyXP(_ context.Context, entry core.LedgerEntry) (core.UserProgress, error) {
	rec, ok := s.lookup(entry.UserID)
	if !ok {
		return core.UserProgress{}, core.ErrUserNotFound
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()

	next, err := core.AddSafe(rec.state.XP, entry.Amount)
	if err != nil {
		return core.UserProgress{}, err
	}
	if next < 0 {
		return core.UserProgress{}, core.ErrNegativeXP
	}
	wallet := rec.state.Wallet
	if entry.Amount > 0 {
		if wallet, err = core.AddSafe(wallet, entry.Amount); err != nil {
			return core.UserProgress{}, err
		}
	}

	s.ledgerMu.Lock()
	s.ledger = append(s.ledger, entry)
	s.ledgerMu.Unlock()

	s.seasonMu.Lock()
	if s.active != "" {
		m := s.entries[s.active]
		if m == nil {
			m = map[core.UserID]int64{}
			s.entries[s.active] = m
		}
		m[entry.UserID] += entry.Amount
	}
	s.seasonMu.Unlock()

	rec.state.XP = next
	rec.state.Level = core.LevelOf(next)
	rec.state.Wallet = wallet
	rec.state.Updated = entry.CreatedAt
	return rec.state, nil
}

func (s *Store) ListLedger(_ context.Context, user core.UserID) ([]core.LedgerEntry, error) {
	s.ledgerMu.RLock()
	defer s.ledgerMu.RUnlock()
	var out []core.LedgerEntry
	for _, e := range s.ledger {
		if e.UserID == user {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Store) SumLedgerSince(_ context.Context, since time.Time) (map[core.UserID]int64, error) {
	s.ledgerMu.RLock()
	defer s.ledgerMu.RUnlock()
	out := map[core.UserID]int64{}
	for _, e := range s.ledger {
		if !e.CreatedAt.Before(since) {
			out[e.UserID] += e.Amount
		}
	}
	return out, nil
}

func (s *Store) PutChallenge(_ context.Context, c core.Challenge) error {
	s.challengeMu.Lock()
	defer s.challengeMu.Unlock()
	s.challenges[c.ID] = c
	return nil
}

func (s *Store) GetChallenge(_ context.Context, id string) (core.Challenge, error) {
	s.challengeMu.RLock()
	defer s.challengeMu.RUnlock()
	c, ok := s.challenges[id]
	if !ok {
		return core.Challenge{}, core.ErrChallengeNotFound
	}
	return c, nil
}

func (s *Store) ListChallenges(_ context.Context) ([]core.Challenge, error) {
	s.challengeMu.RLock()
	defer s.challengeMu.RUnlock()
	out := make([]core.Challenge, 0, len(s.challenges))
	for _, c := range s.challenges {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) progressRecordFor(user core.UserID, challengeID string, now time.Time) *progressRecord {
	key := progressKey{user: user, challenge: challengeID}
	if v, ok := s.progress.Load(key); ok {
		return v.(*progressRecord)
	}
	rec := &progressRecord{row: core.ChallengeProgress{UserID: user, ChallengeID: challengeID, JoinedAt: now}}
	actual, _ := s.progress.LoadOrStore(key, rec)
	return actual.(*progressRecord)
}

func (s *Store) EnsureProgress(_ context.Context, user core.UserID, challengeID string, now time.Time) (core.ChallengeProgress, error) {
	rec := s.progressRecordFor(user, challengeID, now)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.row, nil
}

func (s *Store) GetProgressRow(_ context.Context, user core.UserID, challengeID string) (core.ChallengeProgress, error) {
	v, ok := s.progress.Load(progressKey{user: user, challenge: challengeID})
	if !ok {
		return core.ChallengeProgress{}, core.ErrNotFound
	}
	rec := v.(*progressRecord)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.row, nil
}

func (s *Store) AdvanceProgress(_ context.Context, user core.UserID, c core.Challenge, delta int64, now time.Time) (core.ChallengeProgress, bool, error) {
	urec, ok := s.lookup(user)
	if !ok {
		return core.ChallengeProgress{}, false, core.ErrUserNotFound
	}
	rec := s.progressRecordFor(user, c.ID, now)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.row.IsCompleted {
		return rec.row, false, nil
	}
	next, err := core.AddSafe(rec.row.CurrentValue, delta)
	if err != nil {
		return core.ChallengeProgress{}, false, err
	}
	rec.row.CurrentValue = next
	if next < c.TargetValue {
		return rec.row, false, nil
	}
	at := now
	rec.row.IsCompleted = true
	rec.row.CompletedAt = &at

	urec.mu.Lock()
	urec.state.ChallengesCompleted++
	urec.state.Updated = now
	urec.mu.Unlock()
	return rec.row, true, nil
}

func (s *Store) PutBadge(_ context.Context, def core.BadgeDefinition) error {
	s.badgeMu.Lock()
	defer s.badgeMu.Unlock()
	s.badges[def.ID] = def
	return nil
}

func (s *Store) GetBadge(_ context.Context, id core.Badge) (core.BadgeDefinition, error) {
	s.badgeMu.RLock()
	defer s.badgeMu.RUnlock()
	def, ok := s.badges[id]
	if !ok {
		return core.BadgeDefinition{}, core.ErrBadgeNotFound
	}
	return def, nil
}

func (s *Store) GrantBadge(_ context.Context, user core.UserID, badge core.Badge, at time.Time) (bool, error) {
	if _, ok := s.lookup(user); !ok {
		return false, core.ErrUserNotFound
	}
	s.badgeMu.Lock()
	defer s.badgeMu.Unlock()
	held := s.userBadges[user]
	if held == nil {
		held = map[core.Badge]time.Time{}
		s.userBadges[user] = held
	}
	if _, ok := held[badge]; ok {
		return false, nil
	}
	held[badge] = at
	return true, nil
}

func (s *Store) ListUserBadges(_ context.Context, user core.UserID) ([]core.UserBadge, error) {
	s.badgeMu.RLock()
	defer s.badgeMu.RUnlock()
	out := make([]core.UserBadge, 0, len(s.userBadges[user]))
	for b, at := range s.userBadges[user] {
		out = append(out, core.UserBadge{UserID: user, Badge: b, AwardedAt: at})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Badge < out[j].Badge })
	return out, nil
}

func (s *Store) ActivateSeason(_ context.Context, season core.Season) (core.Season, error) {
	s.seasonMu.Lock()
	defer s.seasonMu.Unlock()
	if _, dup := s.seasons[season.ID]; dup {
		return core.Season{}, core.ErrSeasonConflict
	}
	if prev, ok := s.seasons[s.active]; ok {
		prev.IsActive = false
		s.seasons[prev.ID] = prev
	}
	season.IsActive = true
	s.seasons[season.ID] = season
	s.active = season.ID
	if s.entries[season.ID] == nil {
		s.entries[season.ID] = map[core.UserID]int64{}
	}
	return season, nil
}

func (s *Store) EndSeason(_ context.Context, id string) error {
	s.seasonMu.Lock()
	defer s.seasonMu.Unlock()
	season, ok := s.seasons[id]
	if !ok {
		return core.ErrSeasonNotFound
	}
	season.IsActive = false
	s.seasons[id] = season
	if s.active == id {
		s.active = ""
	}
	return nil
}

func (s *Store) GetSeason(_ context.Context, id string) (core.Season, error) {
	s.seasonMu.RLock()
	defer s.seasonMu.RUnlock()
	season, ok := s.seasons[id]
	if !ok {
		return core.Season{}, core.ErrSeasonNotFound
	}
	return season, nil
}

func (s *Store) ListSeasons(_ context.Context) ([]core.Season, error) {
	s.seasonMu.RLock()
	defer s.seasonMu.RUnlock()
	out := make([]core.Season, 0, len(s.seasons))
	for _, season := range s.seasons {
		out = append(out, season)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartsAt.Equal(out[j].StartsAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartsAt.Before(out[j].StartsAt)
	})
	return out, nil
}

func (s *Store) ActiveSeason(_ context.Context) (core.Season, bool, error) {
	s.seasonMu.RLock()
	defer s.seasonMu.RUnlock()
	season, ok := s.seasons[s.active]
	return season, ok, nil
}

func (s *Store) ListSeasonEntries(_ context.Context, seasonID string) ([]core.SeasonEntry, error) {
	s.seasonMu.RLock()
	defer s.seasonMu.RUnlock()
	if _, ok := s.seasons[seasonID]; !ok {
		return nil, core.ErrSeasonNotFound
	}
	out := make([]core.SeasonEntry, 0, len(s.entries[seasonID]))
	for user, xp := range s.entries[seasonID] {
		out = append(out, core.SeasonEntry{SeasonID: seasonID, UserID: user, XPEarned: xp, Rank: s.ranks[seasonID][user]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (s *Store) SetSeasonRanks(_ context.Context, seasonID string, ranks map[core.UserID]int) error {
	s.seasonMu.Lock()
	defer s.seasonMu.Unlock()
	if _, ok := s.seasons[seasonID]; !ok {
		return core.ErrSeasonNotFound
	}
	cp := make(map[core.UserID]int, len(ranks))
	for u, r := range ranks {
		cp[u] = r
	}
	s.ranks[seasonID] = cp
	return nil
}
