package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"progressionkit/core"
)

// CreateChallenge validates and stores a new definition. An empty ID is generated
// and an empty status defaults to draft.
func (e *Engine) CreateChallenge(ctx context.Context, c core.Challenge) (core.Challenge, error) {
	if strings.TrimSpace(c.ID) == "" {
		c.ID = uuid.NewString()
	}
	if c.Status == "" {
		c.Status = core.ChallengeDraft
	}
	var err error
	if c.RequirementType, err = core.NormalizeAction(c.RequirementType); err != nil {
		return core.Challenge{}, err
	}
	c.CreatedAt = e.now()
	if err := c.Validate(); err != nil {
		return core.Challenge{}, err
	}
	if _, err := e.storage.GetChallenge(ctx, c.ID); err == nil {
		return core.Challenge{}, fmt.Errorf("%w: challenge %s already exists", core.ErrInvalidState, c.ID)
	} else if !errors.Is(err, core.ErrNotFound) {
		return core.Challenge{}, err
	}
	if c.BadgeReward != "" {
		if _, err := e.storage.GetBadge(ctx, c.BadgeReward); err != nil {
			return core.Challenge{}, fmt.Errorf("badge reward %s: %w", c.BadgeReward, err)
		}
	}
	if err := e.storage.PutChallenge(ctx, c); err != nil {
		return core.Challenge{}, err
	}
	return c, nil
}

// SetChallengeStatus moves a challenge through its lifecycle.
func (e *Engine) SetChallengeStatus(ctx context.Context, id string, status core.ChallengeStatus) (core.Challenge, error) {
	if !status.Valid() {
		return core.Challenge{}, fmt.Errorf("%w: unknown status %q", core.ErrInvalidInput, status)
	}
	c, err := e.storage.GetChallenge(ctx, id)
	if err != nil {
		return core.Challenge{}, err
	}
	if c.Status == core.ChallengeEnded && status != core.ChallengeEnded {
		return core.Challenge{}, fmt.Errorf("%w: challenge %s has ended", core.ErrInvalidState, id)
	}
	c.Status = status
	if err := e.storage.PutChallenge(ctx, c); err != nil {
		return core.Challenge{}, err
	}
	return c, nil
}

// ListActiveChallenges returns challenges that are matchable right now.
func (e *Engine) ListActiveChallenges(ctx context.Context) ([]core.Challenge, error) {
	all, err := e.storage.ListChallenges(ctx)
	if err != nil {
		return nil, err
	}
	now := e.now()
	var out []core.Challenge
	for _, c := range all {
		if c.Matchable(now) {
			out = append(out, c)
		}
	}
	return out, nil
}

// JoinChallenge creates a zero progress row or returns the existing one.
func (e *Engine) JoinChallenge(ctx context.Context, user core.UserID, challengeID string) (core.ChallengeProgress, error) {
	normalized, err := core.NormalizeUserID(user)
	if err != nil {
		return core.ChallengeProgress{}, err
	}
	if _, err := e.storage.GetProgress(ctx, normalized); err != nil {
		return core.ChallengeProgress{}, err
	}
	c, err := e.storage.GetChallenge(ctx, challengeID)
	if err != nil {
		return core.ChallengeProgress{}, err
	}
	now := e.now()
	if !c.Matchable(now) {
		return core.ChallengeProgress{}, fmt.Errorf("%w: %s is %s or outside its window", core.ErrChallengeNotJoinable, c.ID, c.Status)
	}
	return e.storage.EnsureProgress(ctx, normalized, c.ID, now)
}

// GetChallengeProgress returns the stored progress row of a user.
func (e *Engine) GetChallengeProgress(ctx context.Context, user core.UserID, challengeID string) (core.ChallengeProgress, error) {
	normalized, err := core.NormalizeUserID(user)
	if err != nil {
		return core.ChallengeProgress{}, err
	}
	return e.storage.GetProgressRow(ctx, normalized, challengeID)
}

// RecordAction advances every matchable challenge whose requirement is action or
// its category. It returns the ids of challenges this call completed.
func (e *Engine) RecordAction(ctx context.Context, user core.UserID, action core.Action, delta int64) ([]string, error) {
	normalized, err := core.NormalizeUserID(user)
	if err != nil {
		return nil, err
	}
	action, err = core.NormalizeAction(action)
	if err != nil {
		return nil, err
	}
	if delta <= 0 {
		return nil, fmt.Errorf("%w: delta must be > 0", core.ErrInvalidInput)
	}
	if _, err := e.storage.GetProgress(ctx, normalized); err != nil {
		return nil, err
	}
	all, err := e.storage.ListChallenges(ctx)
	if err != nil {
		return nil, err
	}

	now := e.now()
	var completed []string
	var errs []error
	for _, c := range all {
		if !c.Matchable(now) || !c.Matches(action) {
			continue
		}
		p, won, err := e.storage.AdvanceProgress(ctx, normalized, c, delta, now)
		if err != nil {
			errs = append(errs, fmt.Errorf("advance %s: %w", c.ID, err))
			continue
		}
		if !won {
			continue
		}
		e.logger.Debug("challenge completed",
			slog.String("user_id", string(normalized)),
			slog.String("challenge_id", c.ID),
			slog.Int64("value", p.CurrentValue))
		if err := e.payChallenge(ctx, normalized, c); err != nil {
			errs = append(errs, err)
			continue
		}
		completed = append(completed, c.ID)
		e.bus.Publish(ctx, core.NewChallengeCompleted(normalized, c.ID, c.XPReward))
	}
	return completed, joinErrs(errs)
}

// payChallenge runs once per latch win. The latch is already committed, so a
// failure here is logged and returned without retrying.
func (e *Engine) payChallenge(ctx context.Context, user core.UserID, c core.Challenge) error {
	if c.XPReward > 0 {
		reward := c.XPReward
		if _, err := e.award(ctx, user, core.ActionChallengeCompleted, c.ID, "challenge", &reward, ""); err != nil {
			e.logger.Error("challenge reward failed",
				slog.String("user_id", string(user)),
				slog.String("challenge_id", c.ID),
				slog.Any("error", err))
			return fmt.Errorf("reward %s: %w", c.ID, err)
		}
	}
	if c.BadgeReward != "" {
		if _, err := e.GrantBadge(ctx, user, c.BadgeReward); err != nil {
			e.logger.Error("challenge badge failed",
				slog.String("user_id", string(user)),
				slog.String("challenge_id", c.ID),
				slog.String("badge", string(c.BadgeReward)),
				slog.Any("error", err))
			return fmt.Errorf("badge reward %s: %w", c.ID, err)
		}
	}
	return nil
}
