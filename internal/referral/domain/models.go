// Package domain contains the referral counting and milestone models.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Referral records that one user referred another. The (user_id,
// referred_user_id) uniqueness makes recording a referral commutative:
// signup and follow-up events for the same pair count once.
type Referral struct {
	ID             snowflake.ID `gorm:"primaryKey"`
	UserID         snowflake.ID `gorm:"not null;uniqueIndex:ux_referrals_pair,priority:1"`
	ReferredUserID snowflake.ID `gorm:"not null;uniqueIndex:ux_referrals_pair,priority:2"`
	CreatedAt      time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Referral) TableName() string { return "referrals" }

// MilestoneCompletion marks a threshold as processed for a user so a later
// evaluation pass can skip it without another grant attempt.
type MilestoneCompletion struct {
	ID             snowflake.ID `gorm:"primaryKey"`
	UserID         snowflake.ID `gorm:"not null;uniqueIndex:ux_milestone_completions,priority:1"`
	ThresholdCount int          `gorm:"not null;uniqueIndex:ux_milestone_completions,priority:2"`
	RewardKey      string       `gorm:"type:text;not null"`
	CompletedAt    time.Time    `gorm:"not null"`
}

// TableName sets the database table name.
func (MilestoneCompletion) TableName() string { return "milestone_completions" }
