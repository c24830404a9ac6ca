package engine

import (
	"context"
	"time"

	"progressionkit/core"
)

// UserStore holds the progression fields of users.
type UserStore interface {
	// CreateUser registers a user at zero XP; existing users are left untouched.
	CreateUser(ctx context.Context, user core.UserID) (core.UserProgress, error)
	GetProgress(ctx context.Context, user core.UserID) (core.UserProgress, error)
	ListProgress(ctx context.Context) ([]core.UserProgress, error)
	UpdateSocialStats(ctx context.Context, user core.UserID, stats core.SocialStats) (core.UserProgress, error)
	// SpendWallet decrements the wallet only when the balance covers amount.
	SpendWallet(ctx context.Context, user core.UserID, amount int64) (core.UserProgress, error)
}

// Ledger is the append-only XP event log.
type Ledger interface {
	// ApplyXP appends entry and, in the same atomic unit, moves the user's XP by
	// entry.Amount, rewrites the level, credits the wallet for positive amounts
	// and adds the amount to the active season entry.
	ApplyXP(ctx context.Context, entry core.LedgerEntry) (core.UserProgress, error)
	ListLedger(ctx context.Context, user core.UserID) ([]core.LedgerEntry, error)
	// SumLedgerSince totals amounts per user for entries created at or after since.
	SumLedgerSince(ctx context.Context, since time.Time) (map[core.UserID]int64, error)
}

// ChallengeStore holds challenge definitions and per-user progress rows.
type ChallengeStore interface {
	PutChallenge(ctx context.Context, c core.Challenge) error
	GetChallenge(ctx context.Context, id string) (core.Challenge, error)
	ListChallenges(ctx context.Context) ([]core.Challenge, error)
	// EnsureProgress inserts a zero row if absent and returns the stored row.
	EnsureProgress(ctx context.Context, user core.UserID, challengeID string, now time.Time) (core.ChallengeProgress, error)
	GetProgressRow(ctx context.Context, user core.UserID, challengeID string) (core.ChallengeProgress, error)
	// AdvanceProgress adds delta unless the row is latched. completed is true only
	// for the single call that flips IsCompleted.
	AdvanceProgress(ctx context.Context, user core.UserID, c core.Challenge, delta int64, now time.Time) (p core.ChallengeProgress, completed bool, err error)
}

// BadgeStore holds badge definitions and grants.
type BadgeStore interface {
	PutBadge(ctx context.Context, def core.BadgeDefinition) error
	GetBadge(ctx context.Context, id core.Badge) (core.BadgeDefinition, error)
	// GrantBadge inserts the pair if absent; granted is false when already held.
	GrantBadge(ctx context.Context, user core.UserID, badge core.Badge, at time.Time) (granted bool, err error)
	ListUserBadges(ctx context.Context, user core.UserID) ([]core.UserBadge, error)
}

// SeasonStore holds leaderboard seasons and their entries.
type SeasonStore interface {
	// ActivateSeason deactivates the current season and stores s as active in one unit.
	ActivateSeason(ctx context.Context, s core.Season) (core.Season, error)
	EndSeason(ctx context.Context, id string) error
	GetSeason(ctx context.Context, id string) (core.Season, error)
	ListSeasons(ctx context.Context) ([]core.Season, error)
	ActiveSeason(ctx context.Context) (core.Season, bool, error)
	ListSeasonEntries(ctx context.Context, seasonID string) ([]core.SeasonEntry, error)
	SetSeasonRanks(ctx context.Context, seasonID string, ranks map[core.UserID]int) error
}

// Storage abstracts persistence for progression state.
type Storage interface {
	UserStore
	Ledger
	ChallengeStore
	BadgeStore
	SeasonStore
}
