package core

import (
	"fmt"
	"strings"
)

// Action names a user action. XP event types and the coarser challenge
// categories share this namespace.
type Action string

const (
	ActionPostCreated         Action = "post_created"
	ActionFirstPost           Action = "first_post"
	ActionLikeGiven           Action = "like_given"
	ActionLikeReceived        Action = "like_received"
	ActionCommentAdded        Action = "comment_added"
	ActionCommentReceived     Action = "comment_received"
	ActionFollowGiven         Action = "follow_given"
	ActionFollowReceived      Action = "follow_received"
	ActionRoomCreated         Action = "room_created"
	ActionRoomParticipated    Action = "room_participated"
	ActionOnboardingCompleted Action = "onboarding_completed"
	ActionChallengeCompleted  Action = "challenge_completed"
	ActionAdminGrant          Action = "admin_grant"
	ActionCorrection          Action = "xp_correction"
)

// Categories group several actions for challenge matching.
const (
	CategoryContent    Action = "content"
	CategorySocial     Action = "social"
	CategoryRooms      Action = "rooms"
	CategoryOnboarding Action = "onboarding"
)

var defaultXP = map[Action]int64{
	ActionPostCreated:         10,
	ActionFirstPost:           200,
	ActionLikeGiven:           2,
	ActionLikeReceived:        5,
	ActionCommentAdded:        5,
	ActionCommentReceived:     3,
	ActionFollowGiven:         2,
	ActionFollowReceived:      10,
	ActionRoomCreated:         15,
	ActionRoomParticipated:    5,
	ActionOnboardingCompleted: 100,
}

var categories = map[Action]Action{
	ActionPostCreated:         CategoryContent,
	ActionFirstPost:           CategoryContent,
	ActionCommentAdded:        CategoryContent,
	ActionLikeGiven:           CategorySocial,
	ActionLikeReceived:        CategorySocial,
	ActionCommentReceived:     CategorySocial,
	ActionFollowGiven:         CategorySocial,
	ActionFollowReceived:      CategorySocial,
	ActionRoomCreated:         CategoryRooms,
	ActionRoomParticipated:    CategoryRooms,
	ActionOnboardingCompleted: CategoryOnboarding,
}

// DefaultXP returns the table amount for an action.
func DefaultXP(a Action) (int64, bool) {
	v, ok := defaultXP[a]
	return v, ok
}

// CategoryOf returns the coarse category of an action.
func CategoryOf(a Action) (Action, bool) {
	c, ok := categories[a]
	return c, ok
}

// Corrective reports whether entries of this type may carry negative amounts.
func Corrective(a Action) bool {
	return a == ActionAdminGrant || a == ActionCorrection
}

// NormalizeAction trims and lowercases an action name.
func NormalizeAction(a Action) (Action, error) {
	s := strings.ToLower(strings.TrimSpace(string(a)))
	if s == "" {
		return "", fmt.Errorf("%w: empty action", ErrInvalidInput)
	}
	return Action(s), nil
}

// ResolveAmount applies the default table and the sign rules to an optional amount.
func ResolveAmount(a Action, amount *int64) (int64, error) {
	var v int64
	if amount != nil {
		v = *amount
	} else {
		d, ok := DefaultXP(a)
		if !ok {
			return 0, fmt.Errorf("%w: no default xp for %q, amount required", ErrInvalidInput, a)
		}
		v = d
	}
	if v == 0 {
		return 0, fmt.Errorf("%w: amount cannot be zero", ErrInvalidInput)
	}
	if v < 0 && !Corrective(a) {
		return 0, fmt.Errorf("%w: negative amount not allowed for %q", ErrInvalidInput, a)
	}
	return v, nil
}
