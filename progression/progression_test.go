package progression

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"progressionkit/adapters/memory"
	"progressionkit/analytics"
	"progressionkit/config"
	"progressionkit/core"
	"progressionkit/leaderboard"
)

func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	total := 0.0
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func TestNewDefaults(t *testing.T) {
	sys, err := New(context.Background())
	require.NoError(t, err)
	defer sys.Close()

	_, err = sys.Engine.CreateUser(context.Background(), "Alice")
	require.NoError(t, err)
	award, err := sys.Engine.AwardXP(context.Background(), "alice", core.ActionFirstPost, "p1", "post", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(200), award.XP)
	assert.Nil(t, sys.Index)
}

func TestSystemEndToEnd(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	reg := prometheus.NewRegistry()
	m := analytics.NewMetrics("progression")
	require.NoError(t, m.Register(reg))

	sys, err := New(ctx,
		WithStorage(memory.New()),
		WithClock(func() time.Time { return now }),
		WithRankIndex(true),
		WithMetrics(m),
		WithMaxPageSize(10),
	)
	require.NoError(t, err)
	defer sys.Close()
	require.NotNil(t, sys.Index)

	for _, u := range []core.UserID{"ann", "ben", "cat"} {
		_, err := sys.Engine.CreateUser(ctx, u)
		require.NoError(t, err)
	}
	require.NoError(t, sys.Engine.DefineBadge(ctx, core.BadgeDefinition{ID: "connector", Name: "Connector"}))
	_, err = sys.Engine.CreateChallenge(ctx, core.Challenge{
		ID: "social-3", Title: "Be social", RequirementType: core.CategorySocial,
		TargetValue: 3, XPReward: 50, BadgeReward: "connector", Status: core.ChallengeActive,
	})
	require.NoError(t, err)

	season, err := sys.Leaderboard.StartSeason(ctx, "June", now, now.Add(30*24*time.Hour))
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		done, err := sys.Engine.RecordAction(ctx, "ben", core.ActionLikeGiven, 1)
		require.NoError(t, err)
		if i == 2 {
			assert.Equal(t, []string{"social-3"}, done)
		} else {
			assert.Empty(t, done)
		}
	}
	_, err = sys.Engine.AwardXP(ctx, "ann", core.ActionPostCreated, "p1", "post", nil)
	require.NoError(t, err)
	_, err = sys.Engine.AdminGrant(ctx, "cat", 1500, "migration")
	require.NoError(t, err)

	page, err := sys.Leaderboard.GetLeaderboard(ctx, leaderboard.MetricXP, 1, 10, "ben")
	require.NoError(t, err)
	require.Len(t, page.Entries, 3)
	assert.Equal(t, []core.UserID{"cat", "ben", "ann"}, []core.UserID{page.Entries[0].UserID, page.Entries[1].UserID, page.Entries[2].UserID})
	require.NotNil(t, page.CurrentUserRank)
	assert.Equal(t, 2, *page.CurrentUserRank)

	entries, err := sys.Leaderboard.RecomputeSeasonRanks(ctx, season.ID)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, core.UserID("cat"), entries[0].UserID)
	assert.Equal(t, int64(50), entries[1].XPEarned)

	_, err = sys.Leaderboard.GetLeaderboard(ctx, leaderboard.MetricXP, 1, 11, "")
	assert.ErrorIs(t, err, core.ErrInvalidInput)

	assert.Equal(t, 1.0, counterValue(t, reg, "progression_challenges_completed_total"))
	assert.Equal(t, 1.0, counterValue(t, reg, "progression_badges_awarded_total"))
	assert.Equal(t, 1.0, counterValue(t, reg, "progression_seasons_started_total"))
	assert.Equal(t, 1.0, counterValue(t, reg, "progression_level_ups_total"))
	assert.Equal(t, 1560.0, counterValue(t, reg, "progression_xp_awarded_total"))
}

func TestNewWarmsIndexFromExistingState(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	_, _ = store.CreateUser(ctx, "zed")
	_, err := store.ApplyXP(ctx, core.LedgerEntry{ID: "e1", UserID: "zed", Type: core.ActionAdminGrant, Amount: 700, CreatedAt: time.Now()})
	require.NoError(t, err)

	sys, err := New(ctx, WithStorage(store), WithRankIndex(true))
	require.NoError(t, err)
	defer sys.Close()

	page, err := sys.Leaderboard.GetLeaderboard(ctx, leaderboard.MetricXP, 1, 5, "zed")
	require.NoError(t, err)
	require.Len(t, page.Entries, 1)
	assert.Equal(t, int64(700), page.Entries[0].XP)
}

func TestOpenStorage(t *testing.T) {
	s, cleanup, err := OpenStorage(config.StorageConfig{Adapter: "memory"})
	require.NoError(t, err)
	cleanup()
	assert.IsType(t, &memory.Store{}, s)

	path := filepath.Join(t.TempDir(), "state.json")
	s, cleanup, err = OpenStorage(config.StorageConfig{Adapter: "file", File: config.FileConfig{Path: path}})
	require.NoError(t, err)
	defer cleanup()
	_, err = s.CreateUser(context.Background(), "fil")
	require.NoError(t, err)
	assert.FileExists(t, path)

	_, cleanup, err = OpenStorage(config.StorageConfig{Adapter: "cassandra"})
	require.Error(t, err)
	require.NotNil(t, cleanup)
}
