package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"progressionkit/core"
)

func (s *Store) PutChallenge(ctx context.Context, c core.Challenge) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode challenge: %w", err)
	}
	if err := s.client.HSet(ctx, s.key("challenges"), c.ID, data).Err(); err != nil {
		return fmt.Errorf("failed to store challenge: %w", err)
	}
	return nil
}

func (s *Store) GetChallenge(ctx context.Context, id string) (core.Challenge, error) {
	raw, err := s.client.HGet(ctx, s.key("challenges"), id).Result()
	if errors.Is(err, redis.Nil) {
		return core.Challenge{}, core.ErrChallengeNotFound
	}
	if err != nil {
		return core.Challenge{}, fmt.Errorf("failed to get challenge: %w", err)
	}
	var c core.Challenge
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return core.Challenge{}, fmt.Errorf("failed to decode challenge: %w", err)
	}
	return c, nil
}

func (s *Store) ListChallenges(ctx context.Context) ([]core.Challenge, error) {
	vals, err := s.client.HVals(ctx, s.key("challenges")).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list challenges: %w", err)
	}
	out := make([]core.Challenge, 0, len(vals))
	for _, raw := range vals {
		var c core.Challenge
		if err := json.Unmarshal([]byte(raw), &c); err != nil {
			return nil, fmt.Errorf("failed to decode challenge: %w", err)
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func parseProgress(user core.UserID, challenge string, h map[string]string) core.ChallengeProgress {
	cur, _ := strconv.ParseInt(h["current"], 10, 64)
	row := core.ChallengeProgress{
		UserID:       user,
		ChallengeID:  challenge,
		CurrentValue: cur,
		IsCompleted:  h["completed"] == "1",
		JoinedAt:     fromNanos(h["joined_at"]),
	}
	if at := fromNanos(h["completed_at"]); !at.IsZero() {
		row.CompletedAt = &at
	}
	return row
}

// EnsureProgress creates the row with HSETNX on joined_at; a second call keeps
// the original join time and counter.
func (s *Store) EnsureProgress(ctx context.Context, user core.UserID, challengeID string, now time.Time) (core.ChallengeProgress, error) {
	key := s.progressKey(user, challengeID)
	if err := s.client.HSetNX(ctx, key, "joined_at", nanos(now)).Err(); err != nil {
		return core.ChallengeProgress{}, fmt.Errorf("failed to create progress: %w", err)
	}
	return s.GetProgressRow(ctx, user, challengeID)
}

func (s *Store) GetProgressRow(ctx context.Context, user core.UserID, challengeID string) (core.ChallengeProgress, error) {
	h, err := s.client.HGetAll(ctx, s.progressKey(user, challengeID)).Result()
	if err != nil {
		return core.ChallengeProgress{}, fmt.Errorf("failed to get progress: %w", err)
	}
	if len(h) == 0 {
		return core.ChallengeProgress{}, core.ErrNotFound
	}
	return parseProgress(user, challengeID, h), nil
}

// advanceScript increments the counter unless the latch is set and flips the
// latch at most once. Reply: {won, progress hash...}.
//
// KEYS: progress hash, user hash
// ARGV: delta, target, now
var advanceScript = redis.NewScript(`
	if redis.call('EXISTS', KEYS[2]) == 0 then
		return redis.error_reply('NOUSER')
	end
	redis.call('HSETNX', KEYS[1], 'joined_at', ARGV[3])
	local won = 0
	if redis.call('HGET', KEYS[1], 'completed') ~= '1' then
		local cur = redis.call('HINCRBY', KEYS[1], 'current', ARGV[1])
		if cur >= tonumber(ARGV[2]) then
			redis.call('HSET', KEYS[1], 'completed', '1', 'completed_at', ARGV[3])
			redis.call('HINCRBY', KEYS[2], 'challenges_completed', 1)
			redis.call('HSET', KEYS[2], 'updated_at', ARGV[3])
			won = 1
		end
	end
	local reply = redis.call('HGETALL', KEYS[1])
	table.insert(reply, 1, won)
	return reply
`)

func (s *Store) AdvanceProgress(ctx context.Context, user core.UserID, c core.Challenge, delta int64, now time.Time) (core.ChallengeProgress, bool, error) {
	res, err := advanceScript.Run(ctx, s.client,
		[]string{s.progressKey(user, c.ID), s.userKey(user)},
		delta, c.TargetValue, nanos(now),
	).Result()
	if err != nil {
		return core.ChallengeProgress{}, false, scriptErr(err)
	}
	arr, ok := res.([]any)
	if !ok || len(arr) == 0 {
		return core.ChallengeProgress{}, false, errors.New("unexpected script reply")
	}
	won, _ := arr[0].(int64)
	h, err := flatToMap(arr[1:])
	if err != nil {
		return core.ChallengeProgress{}, false, err
	}
	return parseProgress(user, c.ID, h), won == 1, nil
}
