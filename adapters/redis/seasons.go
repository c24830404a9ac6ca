package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/redis/go-redis/v9"

	"progressionkit/core"
)

const maxTxRetries = 8

// watchRetry runs fn under WATCH, retrying when a watched key changed.
func (s *Store) watchRetry(ctx context.Context, fn func(tx *redis.Tx) error, keys ...string) error {
	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, fn, keys...)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("season update: %w", redis.TxFailedErr)
}

// ActivateSeason stores the season and points season:active at it in one
// MULTI block, so readers never observe zero or two active seasons.
func (s *Store) ActivateSeason(ctx context.Context, season core.Season) (core.Season, error) {
	season.IsActive = false
	data, err := json.Marshal(season)
	if err != nil {
		return core.Season{}, fmt.Errorf("failed to encode season: %w", err)
	}
	seasonsKey, activeKey := s.key("seasons"), s.key("season", "active")
	err = s.watchRetry(ctx, func(tx *redis.Tx) error {
		exists, err := tx.HExists(ctx, seasonsKey, season.ID).Result()
		if err != nil {
			return err
		}
		if exists {
			return core.ErrSeasonConflict
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, seasonsKey, season.ID, data)
			pipe.Set(ctx, activeKey, season.ID, 0)
			return nil
		})
		return err
	}, seasonsKey, activeKey)
	if err != nil {
		return core.Season{}, err
	}
	season.IsActive = true
	return season, nil
}

func (s *Store) EndSeason(ctx context.Context, id string) error {
	if _, err := s.GetSeason(ctx, id); err != nil {
		return err
	}
	activeKey := s.key("season", "active")
	return s.watchRetry(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, activeKey).Result()
		if errors.Is(err, redis.Nil) || (err == nil && cur != id) {
			return nil
		}
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, activeKey)
			return nil
		})
		return err
	}, activeKey)
}

func (s *Store) activeID(ctx context.Context) (string, error) {
	id, err := s.client.Get(ctx, s.key("season", "active")).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return id, err
}

func (s *Store) GetSeason(ctx context.Context, id string) (core.Season, error) {
	raw, err := s.client.HGet(ctx, s.key("seasons"), id).Result()
	if errors.Is(err, redis.Nil) {
		return core.Season{}, core.ErrSeasonNotFound
	}
	if err != nil {
		return core.Season{}, fmt.Errorf("failed to get season: %w", err)
	}
	var season core.Season
	if err := json.Unmarshal([]byte(raw), &season); err != nil {
		return core.Season{}, fmt.Errorf("failed to decode season: %w", err)
	}
	active, err := s.activeID(ctx)
	if err != nil {
		return core.Season{}, fmt.Errorf("failed to get active season: %w", err)
	}
	season.IsActive = active == season.ID
	return season, nil
}

func (s *Store) ListSeasons(ctx context.Context) ([]core.Season, error) {
	vals, err := s.client.HVals(ctx, s.key("seasons")).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list seasons: %w", err)
	}
	active, err := s.activeID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get active season: %w", err)
	}
	out := make([]core.Season, 0, len(vals))
	for _, raw := range vals {
		var season core.Season
		if err := json.Unmarshal([]byte(raw), &season); err != nil {
			return nil, fmt.Errorf("failed to decode season: %w", err)
		}
		season.IsActive = season.ID == active
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

func (s *Store) ActiveSeason(ctx context.Context) (core.Season, bool, error) {
	id, err := s.activeID(ctx)
	if err != nil {
		return core.Season{}, false, fmt.Errorf("failed to get active season: %w", err)
	}
	if id == "" {
		return core.Season{}, false, nil
	}
	season, err := s.GetSeason(ctx, id)
	if errors.Is(err, core.ErrSeasonNotFound) {
		return core.Season{}, false, nil
	}
	if err != nil {
		return core.Season{}, false, err
	}
	return season, true, nil
}

func (s *Store) ListSeasonEntries(ctx context.Context, seasonID string) ([]core.SeasonEntry, error) {
	if _, err := s.GetSeason(ctx, seasonID); err != nil {
		return nil, err
	}
	var xpCmd, rankCmd *redis.MapStringStringCmd
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		xpCmd = pipe.HGetAll(ctx, s.seasonEntriesKey(seasonID))
		rankCmd = pipe.HGetAll(ctx, s.seasonRanksKey(seasonID))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list season entries: %w", err)
	}
	ranks := rankCmd.Val()
	out := make([]core.SeasonEntry, 0, len(xpCmd.Val()))
	for user, raw := range xpCmd.Val() {
		xp, _ := strconv.ParseInt(raw, 10, 64)
		rank, _ := strconv.Atoi(ranks[user])
		out = append(out, core.SeasonEntry{SeasonID: seasonID, UserID: core.UserID(user), XPEarned: xp, Rank: rank})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (s *Store) SetSeasonRanks(ctx context.Context, seasonID string, ranks map[core.UserID]int) error {
	if _, err := s.GetSeason(ctx, seasonID); err != nil {
		return err
	}
	key := s.seasonRanksKey(seasonID)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(ranks) == 0 {
			return nil
		}
		fields := make(map[string]any, len(ranks))
		for u, r := range ranks {
			fields[string(u)] = r
		}
		pipe.HSet(ctx, key, fields)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store ranks: %w", err)
	}
	return nil
}
