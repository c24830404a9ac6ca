package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	mem "progressionkit/adapters/memory"
	"progressionkit/core"
)

func newTestEngine(t *testing.T) (*Engine, *mem.Store) {
	t.Helper()
	store := mem.New()
	eng := NewEngine(store, NewEventBus(DispatchSync), DefaultRuleEngine())
	return eng, store
}

func int64p(v int64) *int64 { return &v }

func TestAwardXPCrossesLevel(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()
	_, err := eng.CreateUser(ctx, "alice")
	require.NoError(t, err)

	levelUps := 0
	eng.Subscribe(core.EventLevelUp, func(ctx context.Context, e core.Event) { levelUps++ })

	_, err = eng.AdminGrant(ctx, "alice", 950, "migration")
	require.NoError(t, err)
	a, err := eng.AwardXP(ctx, "alice", core.ActionPostCreated, "p1", "post", int64p(100))
	require.NoError(t, err)

	assert.Equal(t, int64(1050), a.XP)
	assert.Equal(t, int64(2), a.Level)
	assert.Equal(t, int64(1), a.PreviousLevel)
	assert.True(t, a.LeveledUp())
	assert.Equal(t, 1, levelUps)
}

func TestCreateUserPublishesOnFirstInsert(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	var created []core.UserID
	eng.Subscribe(core.EventUserCreated, func(ctx context.Context, e core.Event) { created = append(created, e.UserID) })

	_, err := eng.CreateUser(ctx, " Bob ")
	require.NoError(t, err)
	_, err = eng.CreateUser(ctx, "bob")
	require.NoError(t, err)

	assert.Equal(t, []core.UserID{"bob"}, created)
}

func TestAwardXPDefaultsAndValidation(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()
	_, _ = eng.CreateUser(ctx, "bob")

	a, err := eng.AwardXP(ctx, "Bob", core.ActionPostCreated, "p1", "post", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(10), a.XP)
	assert.Equal(t, core.UserID("bob"), a.Entry.UserID)

	_, err = eng.AwardXP(ctx, "bob", core.ActionLikeGiven, "p1", "post", int64p(-5))
	assert.ErrorIs(t, err, core.ErrInvalidInput)

	_, err = eng.AwardXP(ctx, "bob", core.ActionChallengeCompleted, "c1", "challenge", nil)
	assert.ErrorIs(t, err, core.ErrInvalidInput)

	_, err = eng.AwardXP(ctx, "nobody", core.ActionPostCreated, "p1", "post", nil)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestAdminGrant(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()
	_, _ = eng.CreateUser(ctx, "carol")

	_, err := eng.AdminGrant(ctx, "carol", 100, "  ")
	assert.ErrorIs(t, err, core.ErrInvalidInput)

	_, err = eng.AdminGrant(ctx, "carol", 100, "contest prize")
	require.NoError(t, err)
	a, err := eng.AdminGrant(ctx, "carol", -40, "abuse correction")
	require.NoError(t, err)
	assert.Equal(t, int64(60), a.XP)

	_, err = eng.AdminGrant(ctx, "carol", -100, "too much")
	assert.ErrorIs(t, err, core.ErrInvalidState)

	history, err := eng.History(ctx, "carol")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "abuse correction", history[1].Reason)
}

func TestLedgerCompletenessAndWallet(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()
	_, _ = eng.CreateUser(ctx, "dave")

	for _, action := range []core.Action{core.ActionPostCreated, core.ActionFirstPost, core.ActionLikeReceived, core.ActionRoomCreated} {
		_, err := eng.AwardXP(ctx, "dave", action, "t", "post", nil)
		require.NoError(t, err)
	}
	_, err := eng.Spend(ctx, "dave", 200, "avatar frame")
	require.NoError(t, err)

	p, err := eng.GetProgress(ctx, "dave")
	require.NoError(t, err)
	history, err := eng.History(ctx, "dave")
	require.NoError(t, err)

	var sum int64
	for _, e := range history {
		sum += e.Amount
	}
	assert.Equal(t, int64(230), p.XP)
	assert.Equal(t, sum, p.XP)
	assert.Equal(t, core.LevelOf(p.XP), p.Level)
	assert.Equal(t, int64(30), p.Wallet)

	_, err = eng.Spend(ctx, "dave", 31, "too expensive")
	assert.ErrorIs(t, err, core.ErrInsufficientFunds)
	_, err = eng.Spend(ctx, "dave", 0, "nothing")
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}

func TestLevelConsistencyUnderConcurrentAwards(t *testing.T) {
	eng, store := newTestEngine(t)
	ctx := context.Background()
	_, _ = eng.CreateUser(ctx, "erin")

	var g errgroup.Group
	for i := 0; i < 100; i++ {
		g.Go(func() error {
			_, err := eng.AwardXP(ctx, "erin", core.ActionRoomCreated, "r", "room", int64p(37))
			return err
		})
	}
	require.NoError(t, g.Wait())

	p, err := store.GetProgress(ctx, "erin")
	require.NoError(t, err)
	assert.Equal(t, int64(3700), p.XP)
	assert.Equal(t, int64(4), p.Level)
	rows, _ := store.ListLedger(ctx, "erin")
	assert.Len(t, rows, 100)
}
