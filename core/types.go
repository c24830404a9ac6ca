package core

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// UserID uniquely identifies a user in the progression domain.
type UserID string

// Badge represents a named badge identifier.
type Badge string

// XPPerLevel is the width of every level band on the linear curve.
const XPPerLevel int64 = 1000

// UserProgress is a snapshot of the progression fields of a user.
// Followers, Influence and StreakDays are written by collaborators and only read here.
type UserProgress struct {
	UserID              UserID    `json:"user_id" db:"user_id"`
	XP                  int64     `json:"xp" db:"xp"`
	Level               int64     `json:"level" db:"level"`
	Wallet              int64     `json:"wallet" db:"wallet"`
	Followers           int64     `json:"followers" db:"followers"`
	Influence           int64     `json:"influence" db:"influence"`
	StreakDays          int64     `json:"streak_days" db:"streak_days"`
	ChallengesCompleted int64     `json:"challenges_completed" db:"challenges_completed"`
	Updated             time.Time `json:"updated" db:"updated_at"`
}

// Consistent reports whether the stored level matches the leveling curve.
func (p UserProgress) Consistent() bool {
	return p.Level == LevelOf(p.XP)
}

// SocialStats are the social-graph derived fields owned by collaborators.
type SocialStats struct {
	Followers  int64 `json:"followers"`
	Influence  int64 `json:"influence"`
	StreakDays int64 `json:"streak_days"`
}

// Validate rejects negative counters.
func (s SocialStats) Validate() error {
	if s.Followers < 0 || s.StreakDays < 0 {
		return fmt.Errorf("%w: followers and streak days must be >= 0", ErrInvalidInput)
	}
	return nil
}

// LedgerEntry is one immutable XP-granting occurrence.
type LedgerEntry struct {
	ID         string    `json:"id" db:"id"`
	UserID     UserID    `json:"user_id" db:"user_id"`
	Type       Action    `json:"type" db:"event_type"`
	TargetID   string    `json:"target_id,omitempty" db:"target_id"`
	TargetType string    `json:"target_type,omitempty" db:"target_type"`
	Amount     int64     `json:"amount" db:"amount"`
	Reason     string    `json:"reason,omitempty" db:"reason"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// ChallengeStatus is the lifecycle state of a challenge definition.
type ChallengeStatus string

const (
	ChallengeDraft  ChallengeStatus = "draft"
	ChallengeActive ChallengeStatus = "active"
	ChallengeEnded  ChallengeStatus = "ended"
)

// Valid reports whether s is a known status.
func (s ChallengeStatus) Valid() bool {
	switch s {
	case ChallengeDraft, ChallengeActive, ChallengeEnded:
		return true
	}
	return false
}

// Challenge is an admin-defined, optionally time-boxed goal.
type Challenge struct {
	ID              string          `json:"id" db:"id"`
	Title           string          `json:"title" db:"title"`
	RequirementType Action          `json:"requirement_type" db:"requirement_type"`
	TargetValue     int64           `json:"target_value" db:"target_value"`
	XPReward        int64           `json:"xp_reward" db:"xp_reward"`
	BadgeReward     Badge           `json:"badge_reward,omitempty" db:"badge_reward"`
	Status          ChallengeStatus `json:"status" db:"status"`
	StartsAt        *time.Time      `json:"starts_at,omitempty" db:"starts_at"`
	EndsAt          *time.Time      `json:"ends_at,omitempty" db:"ends_at"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
}

// Validate checks a definition before it is stored.
func (c Challenge) Validate() error {
	var errs []string
	if strings.TrimSpace(c.ID) == "" {
		errs = append(errs, "id cannot be empty")
	}
	if strings.TrimSpace(c.Title) == "" {
		errs = append(errs, "title cannot be empty")
	}
	if strings.TrimSpace(string(c.RequirementType)) == "" {
		errs = append(errs, "requirement_type cannot be empty")
	}
	if c.TargetValue <= 0 {
		errs = append(errs, "target_value must be > 0")
	}
	if c.XPReward < 0 {
		errs = append(errs, "xp_reward must be >= 0")
	}
	if !c.Status.Valid() {
		errs = append(errs, fmt.Sprintf("unknown status %q", c.Status))
	}
	if c.BadgeReward != "" {
		if err := ValidateBadgeID(c.BadgeReward); err != nil {
			errs = append(errs, "badge_reward: "+err.Error())
		}
	}
	if c.StartsAt != nil && c.EndsAt != nil && c.EndsAt.Before(*c.StartsAt) {
		errs = append(errs, "ends_at must not precede starts_at")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidInput, strings.Join(errs, "; "))
	}
	return nil
}

// Matchable reports whether the challenge is active and now lies in its window.
func (c Challenge) Matchable(now time.Time) bool {
	if c.Status != ChallengeActive {
		return false
	}
	if c.StartsAt != nil && now.Before(*c.StartsAt) {
		return false
	}
	if c.EndsAt != nil && now.After(*c.EndsAt) {
		return false
	}
	return true
}

// Matches reports whether an action satisfies the challenge requirement, either
// directly or through its category.
func (c Challenge) Matches(action Action) bool {
	if c.RequirementType == action {
		return true
	}
	cat, ok := CategoryOf(action)
	return ok && c.RequirementType == cat
}

// ChallengeProgress is a user's running counter toward one challenge.
// Once IsCompleted is set, CurrentValue and CompletedAt never change.
type ChallengeProgress struct {
	UserID       UserID     `json:"user_id" db:"user_id"`
	ChallengeID  string     `json:"challenge_id" db:"challenge_id"`
	CurrentValue int64      `json:"current_value" db:"current_value"`
	IsCompleted  bool       `json:"is_completed" db:"is_completed"`
	CompletedAt  *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	JoinedAt     time.Time  `json:"joined_at" db:"joined_at"`
}

// BadgeDefinition describes an achievement.
type BadgeDefinition struct {
	ID          Badge  `json:"id" db:"id"`
	Name        string `json:"name" db:"name"`
	Description string `json:"description,omitempty" db:"description"`
}

// UserBadge records that a user holds a badge.
type UserBadge struct {
	UserID    UserID    `json:"user_id" db:"user_id"`
	Badge     Badge     `json:"badge" db:"badge"`
	AwardedAt time.Time `json:"awarded_at" db:"awarded_at"`
}

// Season is a bounded window with its own leaderboard.
type Season struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	StartsAt  time.Time `json:"starts_at" db:"starts_at"`
	EndsAt    time.Time `json:"ends_at" db:"ends_at"`
	IsActive  bool      `json:"is_active" db:"is_active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// SeasonEntry is a per user and season score. Rank is a cached projection.
type SeasonEntry struct {
	SeasonID string `json:"season_id" db:"season_id"`
	UserID   UserID `json:"user_id" db:"user_id"`
	XPEarned int64  `json:"xp_earned" db:"xp_earned"`
	Rank     int    `json:"rank" db:"rank_pos"`
}

// AddSafe adds delta to base ensuring no signed overflow occurs.
func AddSafe(base int64, delta int64) (int64, error) {
	if (delta > 0 && base > math.MaxInt64-delta) || (delta < 0 && base < math.MinInt64-delta) {
		return 0, errors.New("integer overflow in AddSafe")
	}
	return base + delta, nil
}

// NormalizeUserID trims and lowercases user identifiers.
func NormalizeUserID(id UserID) (UserID, error) {
	s := strings.TrimSpace(string(id))
	if s == "" {
		return "", fmt.Errorf("%w: empty user id", ErrInvalidInput)
	}
	// ':' separates key segments in the redis adapter.
	if strings.ContainsRune(s, ':') {
		return "", fmt.Errorf("%w: user id %q contains ':'", ErrInvalidInput, s)
	}
	return UserID(strings.ToLower(s)), nil
}

// ValidateBadgeID ensures non-empty badge id with simple charset check.
func ValidateBadgeID(b Badge) error {
	s := strings.TrimSpace(string(b))
	if s == "" {
		return fmt.Errorf("%w: empty badge id", ErrInvalidInput)
	}
	// simple check: alnum, dash, underscore
	for _, r := range s {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_' {
			continue
		}
		return fmt.Errorf("%w: invalid badge id %q", ErrInvalidInput, s)
	}
	return nil
}

// LevelOf maps cumulative XP to a level on an uncapped linear curve.
// level = floor(xp/1000) + 1, ensuring at least 1.
func LevelOf(totalXP int64) int64 {
	if totalXP <= 0 {
		return 1
	}
	return totalXP/XPPerLevel + 1
}

// XPForLevel returns the cumulative XP at which level is reached.
func XPForLevel(level int64) int64 {
	if level <= 1 {
		return 0
	}
	return (level - 1) * XPPerLevel
}
