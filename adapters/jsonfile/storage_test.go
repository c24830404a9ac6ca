package jsonfile

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"progressionkit/core"
)

func TestStorePersistAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "progress.json")
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	store, err := New(path)
	require.NoError(t, err)

	_, err = store.CreateUser(ctx, "alice")
	require.NoError(t, err)
	_, err = store.ActivateSeason(ctx, core.Season{ID: "s1", Name: "Spring", StartsAt: now, EndsAt: now.Add(24 * time.Hour)})
	require.NoError(t, err)
	_, err = store.ApplyXP(ctx, core.LedgerEntry{ID: "e1", UserID: "alice", Type: core.ActionPostCreated, Amount: 1200, CreatedAt: now})
	require.NoError(t, err)
	granted, err := store.GrantBadge(ctx, "alice", "pioneer", now)
	require.NoError(t, err)
	assert.True(t, granted)
	_, won, err := store.AdvanceProgress(ctx, "alice", core.Challenge{ID: "c1", TargetValue: 1}, 1, now)
	require.NoError(t, err)
	assert.True(t, won)

	_, err = os.Stat(path)
	require.NoError(t, err)
	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file is renamed into place")

	reloaded, err := New(path)
	require.NoError(t, err)

	p, err := reloaded.GetProgress(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(1200), p.XP)
	assert.Equal(t, int64(2), p.Level)
	assert.Equal(t, int64(1), p.ChallengesCompleted)

	badges, err := reloaded.ListUserBadges(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, badges, 1)
	assert.Equal(t, core.Badge("pioneer"), badges[0].Badge)

	season, ok, err := reloaded.ActiveSeason(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "s1", season.ID)

	entries, err := reloaded.ListSeasonEntries(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(1200), entries[0].XPEarned)

	row, err := reloaded.GetProgressRow(ctx, "alice", "c1")
	require.NoError(t, err)
	assert.True(t, row.IsCompleted)
}

func TestStoreFailedMutationDoesNotWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "progress.json")
	store, err := New(path)
	require.NoError(t, err)

	_, err = store.SpendWallet(context.Background(), "ghost", 10)
	assert.ErrorIs(t, err, core.ErrUserNotFound)

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestStoreFailedPersistLeavesStateUnchanged(t *testing.T) {
	path := filepath.Join(t.TempDir(), "progress.json")
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	challenge := core.Challenge{ID: "c1", TargetValue: 1}

	store, err := New(path)
	require.NoError(t, err)
	_, err = store.CreateUser(ctx, "alice")
	require.NoError(t, err)

	// A directory in the temp file's place makes every rewrite fail.
	require.NoError(t, os.Mkdir(path+".tmp", 0o755))

	_, err = store.ApplyXP(ctx, core.LedgerEntry{ID: "e1", UserID: "alice", Type: core.ActionPostCreated, Amount: 500, CreatedAt: now})
	require.Error(t, err)
	p, err := store.GetProgress(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(0), p.XP)
	ledger, err := store.ListLedger(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, ledger)

	_, won, err := store.AdvanceProgress(ctx, "alice", challenge, 1, now)
	require.Error(t, err)
	assert.False(t, won)
	_, err = store.GetProgressRow(ctx, "alice", "c1")
	assert.ErrorIs(t, err, core.ErrNotFound, "row is not latched")

	require.NoError(t, os.Remove(path+".tmp"))

	row, won, err := store.AdvanceProgress(ctx, "alice", challenge, 1, now)
	require.NoError(t, err)
	assert.True(t, won, "retry after recovery wins the latch")
	assert.True(t, row.IsCompleted)

	reloaded, err := New(path)
	require.NoError(t, err)
	p, err = reloaded.GetProgress(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(0), p.XP)
	assert.Equal(t, int64(1), p.ChallengesCompleted)
}

func TestNewRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "progress.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := New(path)
	assert.Error(t, err)
}
