package sqlx

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"progressionkit/core"
)

const challengeColumns = `id, title, requirement_type, target_value, xp_reward, badge_reward, status, starts_at, ends_at, created_at`

func (s *Store) PutChallenge(ctx context.Context, c core.Challenge) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		var exists bool
		if err := tx.GetContext(ctx, &exists, s.q(`SELECT EXISTS(SELECT 1 FROM challenges WHERE id = ?)`), c.ID); err != nil {
			return fmt.Errorf("lookup challenge: %w", err)
		}
		query := `INSERT INTO challenges (` + challengeColumns + `) VALUES (:id, :title, :requirement_type, :target_value, :xp_reward, :badge_reward, :status, :starts_at, :ends_at, :created_at)`
		if exists {
			query = `UPDATE challenges SET title = :title, requirement_type = :requirement_type, target_value = :target_value,
				xp_reward = :xp_reward, badge_reward = :badge_reward, status = :status, starts_at = :starts_at, ends_at = :ends_at
				WHERE id = :id`
		}
		if _, err := tx.NamedExecContext(ctx, query, c); err != nil {
			return fmt.Errorf("put challenge: %w", err)
		}
		return nil
	})
}

func (s *Store) GetChallenge(ctx context.Context, id string) (core.Challenge, error) {
	var c core.Challenge
	if err := s.db.GetContext(ctx, &c, s.q(`SELECT `+challengeColumns+` FROM challenges WHERE id = ?`), id); err != nil {
		return core.Challenge{}, notFound(err, core.ErrChallengeNotFound)
	}
	return c, nil
}

func (s *Store) ListChallenges(ctx context.Context) ([]core.Challenge, error) {
	var out []core.Challenge
	if err := s.db.SelectContext(ctx, &out, `SELECT `+challengeColumns+` FROM challenges ORDER BY id`); err != nil {
		return nil, fmt.Errorf("list challenges: %w", err)
	}
	return out, nil
}

const progressColumns = `user_id, challenge_id, current_value, is_completed, completed_at, joined_at`

// EnsureProgress inserts a zero row if none exists and returns the stored row.
func (s *Store) EnsureProgress(ctx context.Context, user core.UserID, challengeID string, now time.Time) (core.ChallengeProgress, error) {
	if err := s.insertProgress(ctx, user, challengeID, now); err != nil {
		return core.ChallengeProgress{}, err
	}
	return s.GetProgressRow(ctx, user, challengeID)
}

func (s *Store) insertProgress(ctx context.Context, user core.UserID, challengeID string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO challenge_progress (`+progressColumns+`) VALUES (?, ?, 0, FALSE, NULL, ?)`),
		user, challengeID, now)
	if err != nil && !isDuplicate(err) {
		return fmt.Errorf("insert progress: %w", err)
	}
	return nil
}

func (s *Store) GetProgressRow(ctx context.Context, user core.UserID, challengeID string) (core.ChallengeProgress, error) {
	var p core.ChallengeProgress
	err := s.db.GetContext(ctx, &p, s.q(`SELECT `+progressColumns+` FROM challenge_progress WHERE user_id = ? AND challenge_id = ?`), user, challengeID)
	if err != nil {
		return core.ChallengeProgress{}, notFound(err, core.ErrNotFound)
	}
	return p, nil
}

// AdvanceProgress adds delta under a row lock. The completion flip is guarded
// by is_completed = FALSE so exactly one transaction observes it.
func (s *Store) AdvanceProgress(ctx context.Context, user core.UserID, c core.Challenge, delta int64, now time.Time) (core.ChallengeProgress, bool, error) {
	if err := s.userExists(ctx, user); err != nil {
		return core.ChallengeProgress{}, false, err
	}
	if err := s.insertProgress(ctx, user, c.ID, now); err != nil {
		return core.ChallengeProgress{}, false, err
	}

	var (
		row       core.ChallengeProgress
		completed bool
	)
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &row, s.q(`SELECT `+progressColumns+` FROM challenge_progress WHERE user_id = ? AND challenge_id = ? FOR UPDATE`), user, c.ID)
		if err != nil {
			return notFound(err, core.ErrNotFound)
		}
		if row.IsCompleted {
			return nil
		}
		next, err := core.AddSafe(row.CurrentValue, delta)
		if err != nil {
			return err
		}
		row.CurrentValue = next
		if next < c.TargetValue {
			_, err = tx.ExecContext(ctx, s.q(`UPDATE challenge_progress SET current_value = ? WHERE user_id = ? AND challenge_id = ?`), next, user, c.ID)
			if err != nil {
				return fmt.Errorf("advance progress: %w", err)
			}
			return nil
		}

		res, err := tx.ExecContext(ctx, s.q(`UPDATE challenge_progress SET current_value = ?, is_completed = TRUE, completed_at = ? WHERE user_id = ? AND challenge_id = ? AND is_completed = FALSE`),
			next, now, user, c.ID)
		if err != nil {
			return fmt.Errorf("complete progress: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("complete progress: %w", err)
		}
		if n != 1 {
			return nil
		}
		at := now
		row.IsCompleted, row.CompletedAt, completed = true, &at, true
		_, err = tx.ExecContext(ctx, s.q(`UPDATE users SET challenges_completed = challenges_completed + 1, updated_at = ? WHERE user_id = ?`), now, user)
		if err != nil {
			return fmt.Errorf("count completion: %w", err)
		}
		return nil
	})
	if err != nil {
		return core.ChallengeProgress{}, false, err
	}
	return row, completed, nil
}
