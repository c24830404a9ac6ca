package leaderboard

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mem "progressionkit/adapters/memory"
	"progressionkit/core"
	"progressionkit/engine"
)

type fixture struct {
	store *mem.Store
	bus   *engine.EventBus
	eng   *engine.Engine
	svc   *Service
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	store := mem.New()
	bus := engine.NewEventBus(engine.DispatchSync)
	eng := engine.NewEngine(store, bus, engine.DefaultRuleEngine())
	opts = append([]Option{WithEventBus(bus)}, opts...)
	return &fixture{store: store, bus: bus, eng: eng, svc: NewService(store, opts...)}
}

func (f *fixture) seed(t *testing.T, user core.UserID, xp int64) {
	t.Helper()
	ctx := context.Background()
	_, err := f.eng.CreateUser(ctx, user)
	require.NoError(t, err)
	if xp > 0 {
		_, err = f.eng.AdminGrant(ctx, user, xp, "seed")
		require.NoError(t, err)
	}
}

func TestGetLeaderboardTiesAreStable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "zoe", 300)
	f.seed(t, "abe", 300)
	f.seed(t, "max", 100)

	var first Page
	for i := 0; i < 5; i++ {
		page, err := f.svc.GetLeaderboard(ctx, MetricXP, 1, 10, "max")
		require.NoError(t, err)
		if i == 0 {
			first = page
			continue
		}
		assert.Equal(t, first, page)
	}

	require.Len(t, first.Entries, 3)
	assert.Equal(t, []Ranked{
		{Rank: 1, UserID: "abe", XP: 300, Level: 1},
		{Rank: 2, UserID: "zoe", XP: 300, Level: 1},
		{Rank: 3, UserID: "max", XP: 100, Level: 1},
	}, first.Entries)
	require.NotNil(t, first.CurrentUserRank)
	assert.Equal(t, 3, *first.CurrentUserRank)
	assert.Equal(t, 3, first.Total)
}

func TestGetLeaderboardMetrics(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "a", 2500)
	f.seed(t, "b", 2100)
	f.seed(t, "c", 900)
	_, err := f.eng.UpdateSocialStats(ctx, "c", core.SocialStats{Influence: 90})
	require.NoError(t, err)
	_, err = f.eng.UpdateSocialStats(ctx, "b", core.SocialStats{Influence: 90})
	require.NoError(t, err)

	level, err := f.svc.GetLeaderboard(ctx, MetricLevel, 1, 10, "")
	require.NoError(t, err)
	assert.Equal(t, []core.UserID{"a", "b", "c"}, ids(level))
	assert.Nil(t, level.CurrentUserRank)

	// influence ties break on level
	influence, err := f.svc.GetLeaderboard(ctx, "", 1, 10, "")
	require.NoError(t, err)
	assert.Equal(t, MetricInfluence, influence.Metric)
	assert.Equal(t, []core.UserID{"b", "c", "a"}, ids(influence))
}

func TestGetLeaderboardPaging(t *testing.T) {
	f := newFixture(t, WithMaxPageSize(5))
	ctx := context.Background()
	for i := 1; i <= 7; i++ {
		f.seed(t, core.UserID(fmt.Sprintf("u%d", i)), int64(i*10))
	}

	page, err := f.svc.GetLeaderboard(ctx, MetricXP, 2, 5, "u7")
	require.NoError(t, err)
	assert.Equal(t, []core.UserID{"u2", "u1"}, ids(page))
	assert.Equal(t, 6, page.Entries[0].Rank)
	require.NotNil(t, page.CurrentUserRank)
	assert.Equal(t, 1, *page.CurrentUserRank, "rank is relative to the full population")

	empty, err := f.svc.GetLeaderboard(ctx, MetricXP, 9, 5, "")
	require.NoError(t, err)
	assert.Empty(t, empty.Entries)
	assert.Equal(t, 7, empty.Total)

	_, err = f.svc.GetLeaderboard(ctx, MetricXP, 0, 5, "")
	assert.ErrorIs(t, err, core.ErrInvalidInput)
	_, err = f.svc.GetLeaderboard(ctx, MetricXP, 1, 0, "")
	assert.ErrorIs(t, err, core.ErrInvalidInput)
	_, err = f.svc.GetLeaderboard(ctx, MetricXP, 1, 6, "")
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}

func TestRankIndexMatchesScan(t *testing.T) {
	scan := newFixture(t)
	ctx := context.Background()
	indexed := NewService(scan.store, WithEventBus(scan.bus), WithIndex(NewIndex(scan.store)))

	users := make([]core.UserID, 0, 30)
	for i := 0; i < 30; i++ {
		u := core.UserID(fmt.Sprintf("user%02d", i))
		users = append(users, u)
		scan.seed(t, u, 0)
	}
	require.NoError(t, indexed.WarmIndex(ctx))

	rng := rand.New(rand.NewPCG(7, 11))
	for i := 0; i < 300; i++ {
		u := users[rng.IntN(len(users))]
		if rng.IntN(4) == 0 {
			_, err := scan.eng.UpdateSocialStats(ctx, u, core.SocialStats{Influence: int64(rng.IntN(5)), Followers: int64(rng.IntN(50))})
			require.NoError(t, err)
			continue
		}
		// coarse amounts so ties are common
		_, err := scan.eng.AwardXP(ctx, u, core.ActionRoomCreated, "r", "room", ptr(int64(rng.IntN(4)+1)*250))
		require.NoError(t, err)
	}

	for _, m := range Metrics {
		for page := 1; page <= 4; page++ {
			viewer := users[rng.IntN(len(users))]
			want, err := scan.svc.GetLeaderboard(ctx, m, page, 8, viewer)
			require.NoError(t, err)
			got, err := indexed.GetLeaderboard(ctx, m, page, 8, viewer)
			require.NoError(t, err)
			assert.Equal(t, want, got, "metric %s page %d", m, page)
		}
	}
}

func TestRankIndexPicksUpUsersCreatedAfterWarm(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	indexed := NewService(f.store, WithEventBus(f.bus), WithIndex(NewIndex(f.store)))

	f.seed(t, "alice", 500)
	require.NoError(t, indexed.WarmIndex(ctx))

	_, err := f.eng.CreateUser(ctx, "bob")
	require.NoError(t, err)

	page, err := indexed.GetLeaderboard(ctx, MetricXP, 1, 10, "bob")
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	assert.Equal(t, []core.UserID{"alice", "bob"}, ids(page))
	require.NotNil(t, page.CurrentUserRank)
	assert.Equal(t, 2, *page.CurrentUserRank)
}

type failingReader struct{ err error }

func (r failingReader) GetProgress(context.Context, core.UserID) (core.UserProgress, error) {
	return core.UserProgress{}, r.err
}

func (r failingReader) ListProgress(context.Context) ([]core.UserProgress, error) {
	return nil, r.err
}

func TestRankIndexLogsRefreshFailures(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	bus := engine.NewEventBus(engine.DispatchSync)
	ix := NewIndex(failingReader{err: errors.New("connection reset")})
	_ = NewService(mem.New(), WithEventBus(bus), WithIndex(ix), WithLogger(logger))

	bus.Publish(context.Background(), core.NewUserCreated(core.UserProgress{UserID: "kim", Level: 1}))

	out := buf.String()
	assert.Contains(t, out, `"level":"ERROR"`)
	assert.Contains(t, out, "rank index refresh failed")
	assert.Contains(t, out, `"user_id":"kim"`)
	assert.Contains(t, out, "connection reset")
}

func TestGetLeaderboardSharedLoadIgnoresCallerCancel(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "ann", 100)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	store := cancelAwareStore{Store: f.store}
	svc := NewService(store)

	page, err := svc.GetLeaderboard(ctx, MetricXP, 1, 10, "")
	require.NoError(t, err)
	assert.Equal(t, []core.UserID{"ann"}, ids(page))
}

// cancelAwareStore fails population loads on a cancelled context, as a
// network-backed store would.
type cancelAwareStore struct{ *mem.Store }

func (s cancelAwareStore) ListProgress(ctx context.Context) ([]core.UserProgress, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.Store.ListProgress(ctx)
}

func TestStartSeasonKeepsOneActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	var started int
	f.bus.Subscribe(core.EventSeasonStarted, func(context.Context, core.Event) { started++ })

	first, err := f.svc.StartSeason(ctx, "Spring", now, now.Add(30*24*time.Hour))
	require.NoError(t, err)
	second, err := f.svc.StartSeason(ctx, "Summer", now, now.Add(60*24*time.Hour))
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, 2, started)

	seasons, err := f.svc.ListSeasons(ctx)
	require.NoError(t, err)
	active := 0
	for _, s := range seasons {
		if s.IsActive {
			active++
			assert.Equal(t, second.ID, s.ID)
		}
	}
	assert.Equal(t, 1, active)

	cur, ok, err := f.svc.ActiveSeason(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Summer", cur.Name)

	_, err = f.svc.StartSeason(ctx, "Backwards", now, now.Add(-time.Hour))
	assert.ErrorIs(t, err, core.ErrInvalidInput)
	_, err = f.svc.StartSeason(ctx, " ", now, now.Add(time.Hour))
	assert.ErrorIs(t, err, core.ErrInvalidInput)

	require.NoError(t, f.svc.EndSeason(ctx, second.ID))
	_, ok, err = f.svc.ActiveSeason(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.ErrorIs(t, f.svc.EndSeason(ctx, "missing"), core.ErrNotFound)
}

func TestSeasonLeaderboardAndRecompute(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "early", 5000)

	now := time.Now().UTC()
	season, err := f.svc.StartSeason(ctx, "Autumn", now, now.Add(time.Hour))
	require.NoError(t, err)

	f.seed(t, "kim", 40)
	f.seed(t, "lee", 90)
	f.seed(t, "ann", 40)
	_, err = f.eng.AdminGrant(ctx, "early", 10, "late bonus")
	require.NoError(t, err)

	top, err := f.svc.GetSeasonLeaderboard(ctx, season.ID, 3)
	require.NoError(t, err)
	require.Len(t, top, 3)
	assert.Equal(t, core.UserID("lee"), top[0].UserID)
	assert.Equal(t, core.UserID("ann"), top[1].UserID)
	assert.Equal(t, core.UserID("kim"), top[2].UserID)
	assert.Equal(t, []int{1, 2, 3}, []int{top[0].Rank, top[1].Rank, top[2].Rank})

	stored, err := f.store.ListSeasonEntries(ctx, season.ID)
	require.NoError(t, err)
	for _, e := range stored {
		assert.Zero(t, e.Rank, "ranks are only written by recompute")
	}

	ranked, err := f.svc.RecomputeSeasonRanks(ctx, season.ID)
	require.NoError(t, err)
	require.Len(t, ranked, 4)
	assert.Equal(t, core.UserID("early"), ranked[3].UserID)
	assert.Equal(t, int64(10), ranked[3].XPEarned)

	stored, err = f.store.ListSeasonEntries(ctx, season.ID)
	require.NoError(t, err)
	byUser := map[core.UserID]int{}
	for _, e := range stored {
		byUser[e.UserID] = e.Rank
	}
	assert.Equal(t, map[core.UserID]int{"lee": 1, "ann": 2, "kim": 3, "early": 4}, byUser)

	_, err = f.svc.GetSeasonLeaderboard(ctx, "missing", 3)
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = f.svc.GetSeasonLeaderboard(ctx, season.ID, 0)
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}

func TestGetWeeklyTopUsesTrailingWindow(t *testing.T) {
	base := time.Date(2026, 5, 20, 12, 0, 0, 0, time.UTC)
	clock := base.Add(-10 * 24 * time.Hour)
	store := mem.New()
	eng := engine.NewEngine(store, engine.NewEventBus(engine.DispatchSync), engine.DefaultRuleEngine(),
		engine.WithClock(func() time.Time { return clock }))
	svc := NewService(store, WithClock(func() time.Time { return base }))
	ctx := context.Background()

	for _, u := range []core.UserID{"veteran", "rookie", "steady"} {
		_, err := eng.CreateUser(ctx, u)
		require.NoError(t, err)
	}
	_, err := eng.AdminGrant(ctx, "veteran", 9000, "import")
	require.NoError(t, err)
	_, err = eng.AdminGrant(ctx, "steady", 500, "import")
	require.NoError(t, err)

	clock = base.Add(-2 * 24 * time.Hour)
	_, err = eng.AwardXP(ctx, "rookie", core.ActionOnboardingCompleted, "", "", nil)
	require.NoError(t, err)
	_, err = eng.AwardXP(ctx, "steady", core.ActionPostCreated, "p", "post", nil)
	require.NoError(t, err)

	top, err := svc.GetWeeklyTop(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []WeeklyEntry{
		{Rank: 1, UserID: "rookie", XP: 100},
		{Rank: 2, UserID: "steady", XP: 10},
	}, top)

	global, err := svc.GetLeaderboard(ctx, MetricXP, 1, 1, "")
	require.NoError(t, err)
	assert.Equal(t, core.UserID("veteran"), global.Entries[0].UserID)

	_, err = svc.GetWeeklyTop(ctx, 0)
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}

func ids(p Page) []core.UserID {
	out := make([]core.UserID, 0, len(p.Entries))
	for _, e := range p.Entries {
		out = append(out, e.UserID)
	}
	return out
}

func ptr(v int64) *int64 { return &v }
