package leaderboard

import (
	"strings"

	"progressionkit/core"
)

// Metric selects the sort key of a leaderboard.
type Metric string

const (
	MetricXP        Metric = "xp"
	MetricLevel     Metric = "level"
	MetricInfluence Metric = "influence"
)

// Metrics lists every supported metric.
var Metrics = []Metric{MetricXP, MetricLevel, MetricInfluence}

// ParseMetric maps a name to a metric. Unknown or empty names select influence.
func ParseMetric(s string) Metric {
	switch Metric(strings.ToLower(strings.TrimSpace(s))) {
	case MetricXP:
		return MetricXP
	case MetricLevel:
		return MetricLevel
	}
	return MetricInfluence
}

// Score is a two-part descending sort key. Ties fall back to ascending user id.
type Score struct {
	Primary   int64
	Secondary int64
}

// ScoreOf builds the sort key of p under m.
//   - xp: XP
//   - level: level, then XP
//   - influence: influence, then level
func ScoreOf(m Metric, p core.UserProgress) Score {
	switch m {
	case MetricXP:
		return Score{Primary: p.XP}
	case MetricLevel:
		return Score{Primary: p.Level, Secondary: p.XP}
	default:
		return Score{Primary: p.Influence, Secondary: p.Level}
	}
}

// Entry represents a score entry.
type Entry struct {
	User  core.UserID
	Score Score
}

// less orders entries by score descending, then user ascending.
func less(a, b Entry) bool {
	if a.Score.Primary != b.Score.Primary {
		return a.Score.Primary > b.Score.Primary
	}
	if a.Score.Secondary != b.Score.Secondary {
		return a.Score.Secondary > b.Score.Secondary
	}
	return a.User < b.User
}

// Board abstracts leaderboard operations.
type Board interface {
	Update(user core.UserID, score Score)
	Remove(user core.UserID)
	TopN(n int) []Entry
	Range(offset, n int) []Entry
	Get(user core.UserID) (Entry, bool)
	Rank(user core.UserID) (int, bool)
	Len() int
}
