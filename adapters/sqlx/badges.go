package sqlx

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"progressionkit/core"
)

func (s *Store) PutBadge(ctx context.Context, def core.BadgeDefinition) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		var exists bool
		if err := tx.GetContext(ctx, &exists, s.q(`SELECT EXISTS(SELECT 1 FROM badges WHERE id = ?)`), def.ID); err != nil {
			return fmt.Errorf("lookup badge: %w", err)
		}
		query := `INSERT INTO badges (id, name, description) VALUES (:id, :name, :description)`
		if exists {
			query = `UPDATE badges SET name = :name, description = :description WHERE id = :id`
		}
		if _, err := tx.NamedExecContext(ctx, query, def); err != nil {
			return fmt.Errorf("put badge: %w", err)
		}
		return nil
	})
}

func (s *Store) GetBadge(ctx context.Context, id core.Badge) (core.BadgeDefinition, error) {
	var def core.BadgeDefinition
	if err := s.db.GetContext(ctx, &def, s.q(`SELECT id, name, description FROM badges WHERE id = ?`), id); err != nil {
		return core.BadgeDefinition{}, notFound(err, core.ErrBadgeNotFound)
	}
	return def, nil
}

// GrantBadge relies on the (user_id, badge) primary key: a duplicate insert
// means another caller already granted it.
func (s *Store) GrantBadge(ctx context.Context, user core.UserID, badge core.Badge, at time.Time) (bool, error) {
	if err := s.userExists(ctx, user); err != nil {
		return false, err
	}
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO user_badges (user_id, badge, awarded_at) VALUES (?, ?, ?)`), user, badge, at)
	if isDuplicate(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("grant badge: %w", err)
	}
	return true, nil
}

func (s *Store) ListUserBadges(ctx context.Context, user core.UserID) ([]core.UserBadge, error) {
	out := []core.UserBadge{}
	err := s.db.SelectContext(ctx, &out, s.q(`SELECT user_id, badge, awarded_at FROM user_badges WHERE user_id = ? ORDER BY badge`), user)
	if err != nil {
		return nil, fmt.Errorf("list badges: %w", err)
	}
	return out, nil
}
