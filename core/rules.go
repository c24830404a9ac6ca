package core

import "context"

// Rule decides whether a badge is earned from a progress snapshot.
type Rule interface {
	Badge() BadgeDefinition
	Evaluate(ctx context.Context, state UserProgress) bool
}

// Stat selects a numeric field of UserProgress.
type Stat string

const (
	StatFollowers           Stat = "followers"
	StatLevel               Stat = "level"
	StatXP                  Stat = "xp"
	StatChallengesCompleted Stat = "challenges_completed"
	StatStreakDays          Stat = "streak_days"
)

// Value reads the selected stat.
func (s Stat) Value(p UserProgress) int64 {
	switch s {
	case StatFollowers:
		return p.Followers
	case StatLevel:
		return p.Level
	case StatXP:
		return p.XP
	case StatChallengesCompleted:
		return p.ChallengesCompleted
	case StatStreakDays:
		return p.StreakDays
	}
	return 0
}

// ThresholdRule is earned once Stat reaches Min.
type ThresholdRule struct {
	Def  BadgeDefinition
	Stat Stat
	Min  int64
}

func (r ThresholdRule) Badge() BadgeDefinition { return r.Def }

func (r ThresholdRule) Evaluate(_ context.Context, state UserProgress) bool {
	return r.Stat.Value(state) >= r.Min
}

func threshold(id Badge, name string, stat Stat, min int64) ThresholdRule {
	return ThresholdRule{Def: BadgeDefinition{ID: id, Name: name}, Stat: stat, Min: min}
}

// DefaultBadgeRules is the automatic badge table.
func DefaultBadgeRules() []Rule {
	return []Rule{
		threshold("followers_10", "Getting Noticed", StatFollowers, 10),
		threshold("followers_100", "Rising Voice", StatFollowers, 100),
		threshold("followers_1000", "Influencer", StatFollowers, 1000),
		threshold("level_5", "Regular", StatLevel, 5),
		threshold("level_10", "Veteran", StatLevel, 10),
		threshold("level_25", "Legend", StatLevel, 25),
		threshold("challenger_1", "First Challenge", StatChallengesCompleted, 1),
		threshold("challenger_10", "Challenge Hunter", StatChallengesCompleted, 10),
		threshold("streak_7", "Week Streak", StatStreakDays, 7),
		threshold("streak_30", "Month Streak", StatStreakDays, 30),
		threshold("xp_10000", "Ten Thousand", StatXP, 10000),
	}
}
