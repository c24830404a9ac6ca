package memory

import (
	"sort"
	"time"

	"progressionkit/core"
)

// Snapshot is a point-in-time copy of every record kind held by a Store.
type Snapshot struct {
	Users      []core.UserProgress      `json:"users"`
	Ledger     []core.LedgerEntry       `json:"ledger"`
	Challenges []core.Challenge         `json:"challenges"`
	Progress   []core.ChallengeProgress `json:"progress"`
	Badges     []core.BadgeDefinition   `json:"badges"`
	UserBadges []core.UserBadge         `json:"user_badges"`
	Seasons    []core.Season            `json:"seasons"`
	Entries    []core.SeasonEntry       `json:"season_entries"`
}

// Snapshot copies the store. Callers that need a consistent cut must stop writers.
func (s *Store) Snapshot() Snapshot {
	var snap Snapshot
	s.users.Range(func(_, v any) bool {
		rec := v.(*userRecord)
		rec.mu.Lock()
		snap.Users = append(snap.Users, rec.state)
		rec.mu.Unlock()
		return true
	})
	sort.Slice(snap.Users, func(i, j int) bool { return snap.Users[i].UserID < snap.Users[j].UserID })

	s.ledgerMu.RLock()
	snap.Ledger = append([]core.LedgerEntry(nil), s.ledger...)
	s.ledgerMu.RUnlock()

	s.challengeMu.RLock()
	for _, c := range s.challenges {
		snap.Challenges = append(snap.Challenges, c)
	}
	s.challengeMu.RUnlock()
	sort.Slice(snap.Challenges, func(i, j int) bool { return snap.Challenges[i].ID < snap.Challenges[j].ID })

	s.progress.Range(func(_, v any) bool {
		rec := v.(*progressRecord)
		rec.mu.Lock()
		snap.Progress = append(snap.Progress, rec.row)
		rec.mu.Unlock()
		return true
	})
	sort.Slice(snap.Progress, func(i, j int) bool {
		a, b := snap.Progress[i], snap.Progress[j]
		if a.UserID == b.UserID {
			return a.ChallengeID < b.ChallengeID
		}
		return a.UserID < b.UserID
	})

	s.badgeMu.RLock()
	for _, def := range s.badges {
		snap.Badges = append(snap.Badges, def)
	}
	for user, held := range s.userBadges {
		for b, at := range held {
			snap.UserBadges = append(snap.UserBadges, core.UserBadge{UserID: user, Badge: b, AwardedAt: at})
		}
	}
	s.badgeMu.RUnlock()
	sort.Slice(snap.Badges, func(i, j int) bool { return snap.Badges[i].ID < snap.Badges[j].ID })
	sort.Slice(snap.UserBadges, func(i, j int) bool {
		a, b := snap.UserBadges[i], snap.UserBadges[j]
		if a.UserID == b.UserID {
			return a.Badge < b.Badge
		}
		return a.UserID < b.UserID
	})

	s.seasonMu.RLock()
	for _, season := range s.seasons {
		snap.Seasons = append(snap.Seasons, season)
	}
	for id, m := range s.entries {
		for user, xp := range m {
			snap.Entries = append(snap.Entries, core.SeasonEntry{SeasonID: id, UserID: user, XPEarned: xp, Rank: s.ranks[id][user]})
		}
	}
	s.seasonMu.RUnlock()
	sort.Slice(snap.Seasons, func(i, j int) bool { return snap.Seasons[i].ID < snap.Seasons[j].ID })
	sort.Slice(snap.Entries, func(i, j int) bool {
		a, b := snap.Entries[i], snap.Entries[j]
		if a.SeasonID == b.SeasonID {
			return a.UserID < b.UserID
		}
		return a.SeasonID < b.SeasonID
	})
	return snap
}

// Restore builds a Store from a snapshot.
func Restore(snap Snapshot) *Store {
	s := New()
	for _, u := range snap.Users {
		s.users.Store(u.UserID, &userRecord{state: u})
	}
	s.ledger = append(s.ledger, snap.Ledger...)
	for _, c := range snap.Challenges {
		s.challenges[c.ID] = c
	}
	for _, p := range snap.Progress {
		s.progress.Store(progressKey{user: p.UserID, challenge: p.ChallengeID}, &progressRecord{row: p})
	}
	for _, def := range snap.Badges {
		s.badges[def.ID] = def
	}
	for _, ub := range snap.UserBadges {
		held := s.userBadges[ub.UserID]
		if held == nil {
			held = map[core.Badge]time.Time{}
			s.userBadges[ub.UserID] = held
		}
		held[ub.Badge] = ub.AwardedAt
	}
	for _, season := range snap.Seasons {
		s.seasons[season.ID] = season
		if season.IsActive {
			s.active = season.ID
		}
	}
	for _, e := range snap.Entries {
		if s.entries[e.SeasonID] == nil {
			s.entries[e.SeasonID] = map[core.UserID]int64{}
		}
		s.entries[e.SeasonID][e.UserID] = e.XPEarned
		if e.Rank > 0 {
			if s.ranks[e.SeasonID] == nil {
				s.ranks[e.SeasonID] = map[core.UserID]int{}
			}
			s.ranks[e.SeasonID][e.UserID] = e.Rank
		}
	}
	return s
}
