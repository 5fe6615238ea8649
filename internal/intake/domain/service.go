package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	streakdomain "github.com/openshelf/engage/internal/streak/domain"
)

type RecordEventRequest struct {
	UserID                snowflake.ID
	Type                  string
	OccurredAt            time.Time
	IdempotencyKey        string
	TimezoneOffsetMinutes int

	// ReferredUserID identifies the referred account on referral events.
	ReferredUserID snowflake.ID
	Metadata       map[string]any
}

// RecordEventResult reports the account state after the event was applied.
// Duplicate marks an idempotent replay: nothing changed on this call,
// PointsAwarded echoes the first application of the event and the rest of
// the fields reflect current state. UnlockedMilestones stays empty on a
// replay; grants are not attributed back to individual events.
type RecordEventResult struct {
	PointsAwarded      int64               `json:"points_awarded"`
	NewTotal           int64               `json:"new_total"`
	NewLevel           int                 `json:"new_level"`
	LeveledUp          bool                `json:"leveled_up"`
	Streak             streakdomain.Status `json:"streak"`
	UnlockedMilestones []string            `json:"unlocked_milestones"`
	Duplicate          bool                `json:"duplicate"`
}

type Service interface {
	RecordEvent(ctx context.Context, req RecordEventRequest) (RecordEventResult, error)
}

var (
	ErrInvalidUser           = errors.New("invalid_user")
	ErrInvalidIdempotencyKey = errors.New("invalid_idempotency_key")
	ErrInvalidOccurredAt     = errors.New("invalid_occurred_at")
	ErrUnknownEventType      = errors.New("unknown_event_type")
	ErrFutureEvent           = errors.New("future_event")
	ErrMissingReferredUser   = errors.New("missing_referred_user")
)
