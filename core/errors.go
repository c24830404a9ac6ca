package core

import (
	"errors"
	"fmt"
)

// Error classes. Callers branch with errors.Is.
var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidState       = errors.New("invalid state")
	ErrInvariantViolation = errors.New("invariant violation")
)

var (
	ErrUserNotFound      = fmt.Errorf("user %w", ErrNotFound)
	ErrChallengeNotFound = fmt.Errorf("challenge %w", ErrNotFound)
	ErrSeasonNotFound    = fmt.Errorf("season %w", ErrNotFound)
	ErrBadgeNotFound     = fmt.Errorf("badge %w", ErrNotFound)

	ErrChallengeNotJoinable = fmt.Errorf("%w: challenge not joinable", ErrInvalidState)
	ErrInsufficientFunds    = fmt.Errorf("%w: insufficient wallet balance", ErrInvalidState)
	ErrNegativeXP           = fmt.Errorf("%w: xp cannot drop below zero", ErrInvalidState)
	ErrSeasonConflict       = fmt.Errorf("%w: another season is already active", ErrInvalidState)
)
