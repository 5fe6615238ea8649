package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type MilestoneStatus struct {
	ThresholdCount int    `json:"threshold_count"`
	RewardKey      string `json:"reward_key"`
	Reached        bool   `json:"reached"`
	Granted        bool   `json:"granted"`
}

type Status struct {
	ReferralCount int               `json:"referral_count"`
	Milestones    []MilestoneStatus `json:"milestones"`
}

type Service interface {
	// RecordReferral counts the (referrer, referred) pair at most once and
	// returns the referrer's current distinct referral count.
	RecordReferral(ctx context.Context, userID, referredUserID snowflake.ID) (int, error)
	// Evaluate checks every milestone at or below the count and issues any
	// rewards not yet granted. Returns the reward keys unlocked by this call;
	// concurrent evaluations of the same user each see a disjoint set.
	Evaluate(ctx context.Context, userID snowflake.ID, referralCount int) ([]string, error)
	Status(ctx context.Context, userID snowflake.ID) (Status, error)
}

var (
	ErrInvalidUser         = errors.New("invalid_user")
	ErrInvalidReferredUser = errors.New("invalid_referred_user")
	ErrSelfReferral        = errors.New("self_referral")
)
