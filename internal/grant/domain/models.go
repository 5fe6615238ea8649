// Package domain contains the reward grant ledger models.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Outcome reports the result of a conditional grant attempt.
type Outcome string

const (
	// OutcomeGranted means this call created the grant.
	OutcomeGranted Outcome = "granted"
	// OutcomeAlreadyGranted means the grant existed before this call. It is a
	// successful no-op, the expected steady state for replays and racing calls.
	OutcomeAlreadyGranted Outcome = "already_granted"
)

// RewardGrant is the durable record that a reward was issued to a user.
// The (user_id, reward_key) uniqueness constraint is the system's sole
// cross-instance exactly-once mechanism.
type RewardGrant struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	UserID    snowflake.ID `gorm:"not null;uniqueIndex:ux_reward_grants_user_key,priority:1"`
	RewardKey string       `gorm:"type:text;not null;uniqueIndex:ux_reward_grants_user_key,priority:2"`
	GrantedAt time.Time    `gorm:"not null"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (RewardGrant) TableName() string { return "reward_grants" }

type Store interface {
	// TryGrant atomically records the grant. Safe to call concurrently from
	// multiple process instances; exactly one caller observes OutcomeGranted.
	TryGrant(ctx context.Context, userID snowflake.ID, rewardKey string) (Outcome, error)
	// ListKeys returns every reward key granted to the user.
	ListKeys(ctx context.Context, userID snowflake.ID) ([]string, error)
}

var (
	ErrInvalidUser      = errors.New("invalid_user")
	ErrInvalidRewardKey = errors.New("invalid_reward_key")
)
