package core

import "time"

// EventType enumerates domain events published after a mutation commits.
type EventType string

const (
	EventXPAwarded          EventType = "xp_awarded"
	EventLevelUp            EventType = "level_up"
	EventBadgeAwarded       EventType = "badge_awarded"
	EventChallengeCompleted EventType = "challenge_completed"
	EventSeasonStarted      EventType = "season_started"
	EventStatsUpdated       EventType = "stats_updated"
	EventWalletSpent        EventType = "wallet_spent"
	EventUserCreated        EventType = "user_created"
)

// Event represents an immutable domain event.
type Event struct {
	Type      EventType      `json:"type"`
	Time      time.Time      `json:"time"`
	UserID    UserID         `json:"user_id,omitempty"`
	Action    Action         `json:"action,omitempty"`
	Delta     int64          `json:"delta,omitempty"`
	Total     int64          `json:"total,omitempty"`
	Level     int64          `json:"level,omitempty"`
	Influence int64          `json:"influence,omitempty"`
	Badge     Badge          `json:"badge,omitempty"`
	Challenge string         `json:"challenge,omitempty"`
	Season    string         `json:"season,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func NewXPAwarded(user UserID, action Action, delta, total, level int64) Event {
	return Event{Type: EventXPAwarded, Time: time.Now().UTC(), UserID: user, Action: action, Delta: delta, Total: total, Level: level}
}

func NewLevelUp(user UserID, total, level int64) Event {
	return Event{Type: EventLevelUp, Time: time.Now().UTC(), UserID: user, Total: total, Level: level}
}

func NewBadgeAwarded(user UserID, badge Badge) Event {
	return Event{Type: EventBadgeAwarded, Time: time.Now().UTC(), UserID: user, Badge: badge}
}

func NewChallengeCompleted(user UserID, challenge string, reward int64) Event {
	return Event{Type: EventChallengeCompleted, Time: time.Now().UTC(), UserID: user, Challenge: challenge, Delta: reward}
}

func NewSeasonStarted(season string) Event {
	return Event{Type: EventSeasonStarted, Time: time.Now().UTC(), Season: season}
}

// NewStatsUpdated carries the full progress snapshot so rank indexes can rekey.
func NewStatsUpdated(p UserProgress) Event {
	return Event{Type: EventStatsUpdated, Time: time.Now().UTC(), UserID: p.UserID, Total: p.XP, Level: p.Level, Influence: p.Influence}
}

func NewWalletSpent(user UserID, amount, balance int64) Event {
	return Event{Type: EventWalletSpent, Time: time.Now().UTC(), UserID: user, Delta: -amount, Total: balance}
}

func NewUserCreated(p UserProgress) Event {
	return Event{Type: EventUserCreated, Time: time.Now().UTC(), UserID: p.UserID, Total: p.XP, Level: p.Level}
}
