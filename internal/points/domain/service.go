package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type AppendRequest struct {
	UserID         snowflake.ID
	Delta          int64
	Reason         string
	IdempotencyKey string
}

// AppendResult reports the post-append state of the account. On an
// idempotent replay Duplicate is true, LeveledUp is false, the totals
// reflect the current ledger and Delta echoes the entry written by the
// first call, not the replayed request.
type AppendResult struct {
	Total     int64 `json:"total"`
	Level     int   `json:"level"`
	Delta     int64 `json:"delta"`
	LeveledUp bool  `json:"leveled_up"`
	Duplicate bool  `json:"duplicate"`
}

type Status struct {
	Total int64 `json:"total"`
	Level int   `json:"level"`
}

// Service is the points ledger. Deltas may be negative and totals are never
// clamped, so callers must tolerate level decreases.
type Service interface {
	Append(ctx context.Context, req AppendRequest) (AppendResult, error)
	Status(ctx context.Context, userID snowflake.ID) (Status, error)
}

var (
	ErrInvalidUser           = errors.New("invalid_user")
	ErrInvalidReason         = errors.New("invalid_reason")
	ErrInvalidIdempotencyKey = errors.New("invalid_idempotency_key")
)
