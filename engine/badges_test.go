package engine

import (
	"context"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"progressionkit/core"
)

func TestEvaluateAutomaticBadgesIdempotent(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()
	_, _ = eng.CreateUser(ctx, "fay")
	_, err := eng.UpdateSocialStats(ctx, "fay", core.SocialStats{Followers: 120, Influence: 40, StreakDays: 8})
	require.NoError(t, err)
	_, err = eng.AdminGrant(ctx, "fay", 4500, "seed")
	require.NoError(t, err)

	granted, err := eng.EvaluateAutomaticBadges(ctx, "fay")
	require.NoError(t, err)
	got := append([]core.Badge(nil), granted...)
	sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })
	assert.Equal(t, []core.Badge{"followers_10", "followers_100", "level_5", "streak_7"}, got)

	again, err := eng.EvaluateAutomaticBadges(ctx, "fay")
	require.NoError(t, err)
	assert.Empty(t, again)

	held, err := eng.ListBadges(ctx, "fay")
	require.NoError(t, err)
	assert.Len(t, held, 4)
}

func TestEvaluateAutomaticBadgesConcurrent(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()
	_, _ = eng.CreateUser(ctx, "gus")
	_, err := eng.UpdateSocialStats(ctx, "gus", core.SocialStats{Followers: 1500})
	require.NoError(t, err)

	var mu sync.Mutex
	total := 0
	var g errgroup.Group
	for i := 0; i < 16; i++ {
		g.Go(func() error {
			granted, err := eng.EvaluateAutomaticBadges(ctx, "gus")
			mu.Lock()
			total += len(granted)
			mu.Unlock()
			return err
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, 3, total)
}

func TestGrantBadge(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()
	_, _ = eng.CreateUser(ctx, "hal")

	ok, err := eng.GrantBadge(ctx, "hal", "pioneer")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = eng.GrantBadge(ctx, "hal", "pioneer")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = eng.GrantBadge(ctx, "hal", "bad badge")
	assert.ErrorIs(t, err, core.ErrInvalidInput)
	_, err = eng.GrantBadge(ctx, "nobody", "pioneer")
	assert.ErrorIs(t, err, core.ErrNotFound)

	assert.ErrorIs(t, eng.DefineBadge(ctx, core.BadgeDefinition{ID: "x"}), core.ErrInvalidInput)
}

func TestUpdateSocialStatsValidation(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()
	_, _ = eng.CreateUser(ctx, "ivy")
	_, err := eng.UpdateSocialStats(ctx, "ivy", core.SocialStats{Followers: -1})
	assert.ErrorIs(t, err, core.ErrInvalidInput)
	_, err = eng.UpdateSocialStats(ctx, "ghost", core.SocialStats{})
	assert.ErrorIs(t, err, core.ErrNotFound)
}
