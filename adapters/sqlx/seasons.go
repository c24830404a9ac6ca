package sqlx

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/jmoiron/sqlx"

	"progressionkit/core"
)

const seasonColumns = `id, name, starts_at, ends_at, is_active, created_at`

// ActivateSeason swaps the active season inside one transaction serialized
// on the season_lock row, so readers see either the old or the new season.
func (s *Store) ActivateSeason(ctx context.Context, season core.Season) (core.Season, error) {
	season.IsActive = true
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var lock int
		err := tx.GetContext(ctx, &lock, s.q(`SELECT id FROM season_lock WHERE id = ? FOR UPDATE`), 1)
		if errors.Is(err, sql.ErrNoRows) {
			return errors.New("season lock row missing, run migrate")
		}
		if err != nil {
			return fmt.Errorf("lock seasons: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE seasons SET is_active = FALSE WHERE is_active = TRUE`); err != nil {
			return fmt.Errorf("deactivate season: %w", err)
		}
		_, err = tx.NamedExecContext(ctx, `INSERT INTO seasons (`+seasonColumns+`) VALUES (:id, :name, :starts_at, :ends_at, :is_active, :created_at)`, season)
		if isDuplicate(err) {
			return core.ErrSeasonConflict
		}
		if err != nil {
			return fmt.Errorf("insert season: %w", err)
		}
		return nil
	})
	if err != nil {
		return core.Season{}, err
	}
	return season, nil
}

func (s *Store) EndSeason(ctx context.Context, id string) error {
	if _, err := s.GetSeason(ctx, id); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, s.q(`UPDATE seasons SET is_active = FALSE WHERE id = ?`), id); err != nil {
		return fmt.Errorf("end season: %w", err)
	}
	return nil
}

func (s *Store) GetSeason(ctx context.Context, id string) (core.Season, error) {
	var season core.Season
	if err := s.db.GetContext(ctx, &season, s.q(`SELECT `+seasonColumns+` FROM seasons WHERE id = ?`), id); err != nil {
		return core.Season{}, notFound(err, core.ErrSeasonNotFound)
	}
	return season, nil
}

func (s *Store) ListSeasons(ctx context.Context) ([]core.Season, error) {
	out := []core.Season{}
	if err := s.db.SelectContext(ctx, &out, `SELECT `+seasonColumns+` FROM seasons ORDER BY starts_at, id`); err != nil {
		return nil, fmt.Errorf("list seasons: %w", err)
	}
	return out, nil
}

func (s *Store) ActiveSeason(ctx context.Context) (core.Season, bool, error) {
	var season core.Season
	err := s.db.GetContext(ctx, &season, `SELECT `+seasonColumns+` FROM seasons WHERE is_active = TRUE`)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Season{}, false, nil
	}
	if err != nil {
		return core.Season{}, false, fmt.Errorf("active season: %w", err)
	}
	return season, true, nil
}

func (s *Store) ListSeasonEntries(ctx context.Context, seasonID string) ([]core.SeasonEntry, error) {
	if _, err := s.GetSeason(ctx, seasonID); err != nil {
		return nil, err
	}
	out := []core.SeasonEntry{}
	err := s.db.SelectContext(ctx, &out, s.q(`SELECT season_id, user_id, xp_earned, rank_pos FROM season_entries WHERE season_id = ? ORDER BY user_id`), seasonID)
	if err != nil {
		return nil, fmt.Errorf("list season entries: %w", err)
	}
	return out, nil
}

// SetSeasonRanks clears every cached rank of the season and writes ranks.
func (s *Store) SetSeasonRanks(ctx context.Context, seasonID string, ranks map[core.UserID]int) error {
	if _, err := s.GetSeason(ctx, seasonID); err != nil {
		return err
	}
	users := make([]core.UserID, 0, len(ranks))
	for u := range ranks {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })

	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, s.q(`UPDATE season_entries SET rank_pos = 0 WHERE season_id = ?`), seasonID); err != nil {
			return fmt.Errorf("reset ranks: %w", err)
		}
		stmt, err := tx.PreparexContext(ctx, s.q(`UPDATE season_entries SET rank_pos = ? WHERE season_id = ? AND user_id = ?`))
		if err != nil {
			return fmt.Errorf("prepare ranks: %w", err)
		}
		defer stmt.Close()
		for _, u := range users {
			if _, err := stmt.ExecContext(ctx, ranks[u], seasonID, u); err != nil {
				return fmt.Errorf("write rank for %s: %w", u, err)
			}
		}
		return nil
	})
}
