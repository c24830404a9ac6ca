package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"progressionkit/core"
)

// DefineBadge adds or replaces a badge definition in the catalog.
func (e *Engine) DefineBadge(ctx context.Context, def core.BadgeDefinition) error {
	if err := core.ValidateBadgeID(def.ID); err != nil {
		return err
	}
	if strings.TrimSpace(def.Name) == "" {
		return fmt.Errorf("%w: badge name cannot be empty", core.ErrInvalidInput)
	}
	return e.storage.PutBadge(ctx, def)
}

// GrantBadge awards a badge idempotently. granted is false if it was already held.
func (e *Engine) GrantBadge(ctx context.Context, user core.UserID, badge core.Badge) (bool, error) {
	normalized, err := core.NormalizeUserID(user)
	if err != nil {
		return false, err
	}
	if err := core.ValidateBadgeID(badge); err != nil {
		return false, err
	}
	granted, err := e.storage.GrantBadge(ctx, normalized, badge, e.now())
	if err != nil {
		return false, fmt.Errorf("grant badge: %w", err)
	}
	if granted {
		e.logger.Debug("badge granted", slog.String("user_id", string(normalized)), slog.String("badge", string(badge)))
		e.bus.Publish(ctx, core.NewBadgeAwarded(normalized, badge))
	}
	return granted, nil
}

func (e *Engine) ListBadges(ctx context.Context, user core.UserID) ([]core.UserBadge, error) {
	normalized, err := core.NormalizeUserID(user)
	if err != nil {
		return nil, err
	}
	return e.storage.ListUserBadges(ctx, normalized)
}

// EvaluateAutomaticBadges runs the rule table against the user's current stats
// and grants every newly earned badge. Safe to call repeatedly and concurrently.
func (e *Engine) EvaluateAutomaticBadges(ctx context.Context, user core.UserID) ([]core.Badge, error) {
	normalized, err := core.NormalizeUserID(user)
	if err != nil {
		return nil, err
	}
	state, err := e.storage.GetProgress(ctx, normalized)
	if err != nil {
		return nil, err
	}
	held, err := e.storage.ListUserBadges(ctx, normalized)
	if err != nil {
		return nil, err
	}
	have := make(map[core.Badge]struct{}, len(held))
	for _, b := range held {
		have[b.Badge] = struct{}{}
	}

	var granted []core.Badge
	for _, def := range e.rules.Evaluate(ctx, state) {
		if _, ok := have[def.ID]; ok {
			continue
		}
		if err := e.storage.PutBadge(ctx, def); err != nil {
			return granted, err
		}
		ok, err := e.GrantBadge(ctx, normalized, def.ID)
		if err != nil {
			return granted, err
		}
		if ok {
			granted = append(granted, def.ID)
		}
	}
	return granted, nil
}
