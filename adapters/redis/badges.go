package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"progressionkit/core"
)

func (s *Store) PutBadge(ctx context.Context, def core.BadgeDefinition) error {
	data, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("failed to encode badge: %w", err)
	}
	if err := s.client.HSet(ctx, s.key("badges"), string(def.ID), data).Err(); err != nil {
		return fmt.Errorf("failed to store badge: %w", err)
	}
	return nil
}

func (s *Store) GetBadge(ctx context.Context, id core.Badge) (core.BadgeDefinition, error) {
	raw, err := s.client.HGet(ctx, s.key("badges"), string(id)).Result()
	if errors.Is(err, redis.Nil) {
		return core.BadgeDefinition{}, core.ErrBadgeNotFound
	}
	if err != nil {
		return core.BadgeDefinition{}, fmt.Errorf("failed to get badge: %w", err)
	}
	var def core.BadgeDefinition
	if err := json.Unmarshal([]byte(raw), &def); err != nil {
		return core.BadgeDefinition{}, fmt.Errorf("failed to decode badge: %w", err)
	}
	return def, nil
}

// GrantBadge uses HSETNX so concurrent grants of the same badge succeed once.
func (s *Store) GrantBadge(ctx context.Context, user core.UserID, badge core.Badge, at time.Time) (bool, error) {
	n, err := s.client.Exists(ctx, s.userKey(user)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to look up user: %w", err)
	}
	if n == 0 {
		return false, core.ErrUserNotFound
	}
	granted, err := s.client.HSetNX(ctx, s.key("user", string(user), "badges"), string(badge), nanos(at)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to award badge: %w", err)
	}
	return granted, nil
}

func (s *Store) ListUserBadges(ctx context.Context, user core.UserID) ([]core.UserBadge, error) {
	h, err := s.client.HGetAll(ctx, s.key("user", string(user), "badges")).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list badges: %w", err)
	}
	out := make([]core.UserBadge, 0, len(h))
	for b, at := range h {
		out = append(out, core.UserBadge{UserID: user, Badge: core.Badge(b), AwardedAt: fromNanos(at)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Badge < out[j].Badge })
	return out, nil
}
