package leaderboard

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"progressionkit/core"
)

// ProgressReader is the storage view an Index refreshes from.
type ProgressReader interface {
	GetProgress(ctx context.Context, user core.UserID) (core.UserProgress, error)
	ListProgress(ctx context.Context) ([]core.UserProgress, error)
}

// Index keeps one skip list per metric so pages are served without a full scan.
// It is fed by committed events; on each event it re-reads the user's row so
// out-of-order delivery cannot leave a stale score behind.
type Index struct {
	store  ProgressReader
	logger *slog.Logger
	mu     sync.Mutex
	rows   map[core.UserID]core.UserProgress
	boards map[Metric]*SkipList
}

func NewIndex(store ProgressReader) *Index {
	ix := &Index{store: store, logger: slog.Default()}
	ix.reset()
	return ix
}

func (ix *Index) reset() {
	ix.rows = map[core.UserID]core.UserProgress{}
	ix.boards = make(map[Metric]*SkipList, len(Metrics))
	for _, m := range Metrics {
		ix.boards[m] = NewSkipList()
	}
}

// Warm rebuilds the index from a full population read.
func (ix *Index) Warm(ctx context.Context) error {
	rows, err := ix.store.ListProgress(ctx)
	if err != nil {
		return err
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.reset()
	for _, p := range rows {
		ix.putLocked(p)
	}
	return nil
}

// Observe refreshes the index for the user an event concerns.
func (ix *Index) Observe(ctx context.Context, e core.Event) {
	switch e.Type {
	case core.EventUserCreated, core.EventXPAwarded, core.EventLevelUp,
		core.EventStatsUpdated, core.EventChallengeCompleted:
	default:
		return
	}
	if e.UserID == "" {
		return
	}
	if err := ix.Refresh(ctx, e.UserID); err != nil {
		ix.logger.Error("rank index refresh failed",
			slog.String("user_id", string(e.UserID)),
			slog.String("event", string(e.Type)),
			slog.Any("error", err))
	}
}

// Refresh reloads one user. Unknown users are dropped from the index.
func (ix *Index) Refresh(ctx context.Context, user core.UserID) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	p, err := ix.store.GetProgress(ctx, user)
	if errors.Is(err, core.ErrNotFound) {
		delete(ix.rows, user)
		for _, b := range ix.boards {
			b.Remove(user)
		}
		return nil
	}
	if err != nil {
		return err
	}
	ix.putLocked(p)
	return nil
}

func (ix *Index) putLocked(p core.UserProgress) {
	ix.rows[p.UserID] = p
	for m, b := range ix.boards {
		b.Update(p.UserID, ScoreOf(m, p))
	}
}

// page returns the rows at [offset, offset+n) for m, the population size and
// the viewer's rank (0 when absent).
func (ix *Index) page(m Metric, offset, n int, viewer core.UserID) ([]core.UserProgress, int, int) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	b := ix.boards[m]
	entries := b.Range(offset, n)
	out := make([]core.UserProgress, 0, len(entries))
	for _, e := range entries {
		out = append(out, ix.rows[e.User])
	}
	rank := 0
	if viewer != "" {
		rank, _ = b.Rank(viewer)
	}
	return out, b.Len(), rank
}
