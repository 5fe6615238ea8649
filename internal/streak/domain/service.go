package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type RecordActivityRequest struct {
	UserID                snowflake.ID
	OccurredAt            time.Time
	TimezoneOffsetMinutes int
}

type Status struct {
	Current             int        `json:"current"`
	Longest             int        `json:"longest"`
	LastActiveLocalDate *time.Time `json:"last_active_local_date,omitempty"`
}

type Service interface {
	// RecordActivity applies one day of activity. Same-day repeats are
	// no-ops; events older than the last recorded day return ErrStaleEvent
	// and never mutate state.
	RecordActivity(ctx context.Context, req RecordActivityRequest) (Status, error)
	Status(ctx context.Context, userID snowflake.ID) (Status, error)
}

var (
	ErrInvalidUser           = errors.New("invalid_user")
	ErrInvalidOccurredAt     = errors.New("invalid_occurred_at")
	ErrInvalidTimezoneOffset = errors.New("invalid_timezone_offset")
	ErrStaleEvent            = errors.New("stale_event")
)
