package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"progressionkit/core"
)

// Engine wires storage, event bus, and badge rules into the progression API.
type Engine struct {
	storage Storage
	bus     *EventBus
	rules   RuleEngine
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the structured logger (defaults to slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

func NewEngine(storage Storage, bus *EventBus, rules RuleEngine, opts ...Option) *Engine {
	if storage == nil || bus == nil || rules == nil {
		panic("NewEngine requires non-nil storage, bus, and rules")
	}
	e := &Engine{
		storage: storage,
		bus:     bus,
		rules:   rules,
		logger:  slog.Default(),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Subscribe convenience method.
func (e *Engine) Subscribe(typ core.EventType, handler func(context.Context, core.Event)) func() {
	return e.bus.Subscribe(typ, handler)
}

func (e *Engine) Close() { e.bus.Close() }

// Award is the state returned by an XP grant.
type Award struct {
	Entry         core.LedgerEntry `json:"entry"`
	XP            int64            `json:"xp"`
	Level         int64            `json:"level"`
	PreviousLevel int64            `json:"previous_level"`
}

// LeveledUp reports whether the grant crossed a level threshold upward.
func (a Award) LeveledUp() bool { return a.Level > a.PreviousLevel }

// AwardXP appends a ledger entry and moves the user's XP and level together.
// A nil amount uses the default table value for the action.
func (e *Engine) AwardXP(ctx context.Context, user core.UserID, action core.Action, targetID, targetType string, amount *int64) (Award, error) {
	return e.award(ctx, user, action, targetID, targetType, amount, "")
}

// AdminGrant applies an arbitrary signed amount with a free-text reason.
func (e *Engine) AdminGrant(ctx context.Context, user core.UserID, amount int64, reason string) (Award, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return Award{}, fmt.Errorf("%w: admin grant requires a reason", core.ErrInvalidInput)
	}
	return e.award(ctx, user, core.ActionAdminGrant, "", "admin", &amount, reason)
}

func (e *Engine) award(ctx context.Context, user core.UserID, action core.Action, targetID, targetType string, amount *int64, reason string) (Award, error) {
	normalized, err := core.NormalizeUserID(user)
	if err != nil {
		return Award{}, err
	}
	action, err = core.NormalizeAction(action)
	if err != nil {
		return Award{}, err
	}
	amt, err := core.ResolveAmount(action, amount)
	if err != nil {
		return Award{}, err
	}
	entry := core.LedgerEntry{
		ID:         uuid.NewString(),
		UserID:     normalized,
		Type:       action,
		TargetID:   targetID,
		TargetType: targetType,
		Amount:     amt,
		Reason:     reason,
		CreatedAt:  e.now(),
	}
	p, err := e.storage.ApplyXP(ctx, entry)
	if err != nil {
		return Award{}, fmt.Errorf("award xp: %w", err)
	}
	if !p.Consistent() {
		e.logger.Error("level out of sync with xp",
			slog.String("user_id", string(normalized)),
			slog.Int64("xp", p.XP),
			slog.Int64("level", p.Level),
			slog.String("entry_id", entry.ID))
		return Award{}, fmt.Errorf("%w: user %s stored level %d for xp %d", core.ErrInvariantViolation, normalized, p.Level, p.XP)
	}
	a := Award{Entry: entry, XP: p.XP, Level: p.Level, PreviousLevel: core.LevelOf(p.XP - amt)}
	e.bus.Publish(ctx, core.NewXPAwarded(normalized, action, amt, p.XP, p.Level))
	if a.LeveledUp() {
		e.bus.Publish(ctx, core.NewLevelUp(normalized, p.XP, p.Level))
	}
	return a, nil
}

// Spend debits the wallet balance. Progression XP and level are not touched.
func (e *Engine) Spend(ctx context.Context, user core.UserID, amount int64, reason string) (core.UserProgress, error) {
	normalized, err := core.NormalizeUserID(user)
	if err != nil {
		return core.UserProgress{}, err
	}
	if amount <= 0 {
		return core.UserProgress{}, fmt.Errorf("%w: spend amount must be > 0", core.ErrInvalidInput)
	}
	p, err := e.storage.SpendWallet(ctx, normalized, amount)
	if err != nil {
		return core.UserProgress{}, fmt.Errorf("spend: %w", err)
	}
	e.logger.Debug("wallet spent",
		slog.String("user_id", string(normalized)),
		slog.Int64("amount", amount),
		slog.Int64("balance", p.Wallet),
		slog.String("reason", reason))
	e.bus.Publish(ctx, core.NewWalletSpent(normalized, amount, p.Wallet))
	return p, nil
}

// CreateUser registers a user with the engine. Calling it again is a no-op.
func (e *Engine) CreateUser(ctx context.Context, user core.UserID) (core.UserProgress, error) {
	normalized, err := core.NormalizeUserID(user)
	if err != nil {
		return core.UserProgress{}, err
	}
	_, err = e.storage.GetProgress(ctx, normalized)
	existed := err == nil
	if err != nil && !errors.Is(err, core.ErrNotFound) {
		return core.UserProgress{}, fmt.Errorf("create user: %w", err)
	}
	p, err := e.storage.CreateUser(ctx, normalized)
	if err != nil {
		return core.UserProgress{}, err
	}
	if !existed {
		e.bus.Publish(ctx, core.NewUserCreated(p))
	}
	return p, nil
}

func (e *Engine) GetProgress(ctx context.Context, user core.UserID) (core.UserProgress, error) {
	normalized, err := core.NormalizeUserID(user)
	if err != nil {
		return core.UserProgress{}, err
	}
	return e.storage.GetProgress(ctx, normalized)
}

// UpdateSocialStats stores collaborator-owned counters used by badges and ranking.
func (e *Engine) UpdateSocialStats(ctx context.Context, user core.UserID, stats core.SocialStats) (core.UserProgress, error) {
	normalized, err := core.NormalizeUserID(user)
	if err != nil {
		return core.UserProgress{}, err
	}
	if err := stats.Validate(); err != nil {
		return core.UserProgress{}, err
	}
	p, err := e.storage.UpdateSocialStats(ctx, normalized, stats)
	if err != nil {
		return core.UserProgress{}, err
	}
	e.bus.Publish(ctx, core.NewStatsUpdated(p))
	return p, nil
}

// History returns the ledger rows of a user.
func (e *Engine) History(ctx context.Context, user core.UserID) ([]core.LedgerEntry, error) {
	normalized, err := core.NormalizeUserID(user)
	if err != nil {
		return nil, err
	}
	if _, err := e.storage.GetProgress(ctx, normalized); err != nil {
		return nil, err
	}
	return e.storage.ListLedger(ctx, normalized)
}

// RuleEngine evaluates badge rules against a progress snapshot.
type RuleEngine interface {
	Evaluate(ctx context.Context, state core.UserProgress) []core.BadgeDefinition
}

func DefaultRuleEngine() RuleEngine {
	return NewRuleEngine(core.DefaultBadgeRules()...)
}

// NewRuleEngine builds a RuleEngine over a fixed rule table.
func NewRuleEngine(rules ...core.Rule) RuleEngine {
	return &simpleRuleEngine{rules: rules}
}

type simpleRuleEngine struct{ rules []core.Rule }

func (s *simpleRuleEngine) Evaluate(ctx context.Context, state core.UserProgress) []core.BadgeDefinition {
	var out []core.BadgeDefinition
	for _, r := range s.rules {
		if r.Evaluate(ctx, state) {
			out = append(out, r.Badge())
		}
	}
	return out
}

func joinErrs(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}
