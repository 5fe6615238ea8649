package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/openshelf/engage/internal/clock"
	"github.com/openshelf/engage/internal/config"
	grantdomain "github.com/openshelf/engage/internal/grant/domain"
	obsmetrics "github.com/openshelf/engage/internal/observability/metrics"
	referraldomain "github.com/openshelf/engage/internal/referral/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Rewards    *config.RewardsHolder
	Grants     grantdomain.Store
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	rewards    *config.RewardsHolder
	grants     grantdomain.Store
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) referraldomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("referral.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		rewards:    p.Rewards,
		grants:     p.Grants,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) RecordReferral(ctx context.Context, userID, referredUserID snowflake.ID) (int, error) {
	if userID == 0 {
		return 0, referraldomain.ErrInvalidUser
	}
	if referredUserID == 0 {
		return 0, referraldomain.ErrInvalidReferredUser
	}
	if userID == referredUserID {
		return 0, referraldomain.ErrSelfReferral
	}

	record := &referraldomain.Referral{
		ID:             s.genID.Generate(),
		UserID:         userID,
		ReferredUserID: referredUserID,
		CreatedAt:      s.clock.Now(),
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "referred_user_id"}},
			DoNothing: true,
		}).
		Create(record).Error
	if err != nil {
		return 0, err
	}

	return s.countReferrals(ctx, userID)
}

func (s *Service) Evaluate(ctx context.Context, userID snowflake.ID, referralCount int) ([]string, error) {
	if userID == 0 {
		return nil, referraldomain.ErrInvalidUser
	}

	completed, err := s.completedThresholds(ctx, userID)
	if err != nil {
		return nil, err
	}

	var unlocked []string
	for _, def := range s.rewards.Milestones() {
		if referralCount < def.ThresholdCount {
			// Milestones are ordered by threshold, nothing further can match.
			break
		}
		if _, done := completed[def.ThresholdCount]; done {
			// Completions are only written after the grant, so a recorded
			// threshold never needs another grant attempt.
			continue
		}

		outcome, err := s.grants.TryGrant(ctx, userID, def.RewardKey)
		if err != nil {
			return unlocked, err
		}
		if err := s.markCompleted(ctx, userID, def); err != nil {
			return unlocked, err
		}
		if outcome != grantdomain.OutcomeGranted {
			continue
		}

		unlocked = append(unlocked, def.RewardKey)
		s.log.Info("milestone unlocked",
			zap.Int64("user_id", int64(userID)),
			zap.String("reward_key", def.RewardKey),
			zap.Int("threshold", def.ThresholdCount),
		)
	}
	return unlocked, nil
}

func (s *Service) Status(ctx context.Context, userID snowflake.ID) (referraldomain.Status, error) {
	if userID == 0 {
		return referraldomain.Status{}, referraldomain.ErrInvalidUser
	}

	count, err := s.countReferrals(ctx, userID)
	if err != nil {
		return referraldomain.Status{}, err
	}

	grantedKeys, err := s.grants.ListKeys(ctx, userID)
	if err != nil {
		return referraldomain.Status{}, err
	}
	granted := make(map[string]struct{}, len(grantedKeys))
	for _, key := range grantedKeys {
		granted[key] = struct{}{}
	}

	defs := s.rewards.Milestones()
	milestones := make([]referraldomain.MilestoneStatus, 0, len(defs))
	for _, def := range defs {
		_, wasGranted := granted[def.RewardKey]
		milestones = append(milestones, referraldomain.MilestoneStatus{
			ThresholdCount: def.ThresholdCount,
			RewardKey:      def.RewardKey,
			Reached:        count >= def.ThresholdCount,
			Granted:        wasGranted,
		})
	}

	return referraldomain.Status{
		ReferralCount: count,
		Milestones:    milestones,
	}, nil
}

func (s *Service) countReferrals(ctx context.Context, userID snowflake.ID) (int, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&referraldomain.Referral{}).
		Where("user_id = ?", userID).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return int(count), nil
}

func (s *Service) completedThresholds(ctx context.Context, userID snowflake.ID) (map[int]struct{}, error) {
	var thresholds []int
	err := s.db.WithContext(ctx).
		Model(&referraldomain.MilestoneCompletion{}).
		Where("user_id = ?", userID).
		Pluck("threshold_count", &thresholds).Error
	if err != nil {
		return nil, err
	}
	completed := make(map[int]struct{}, len(thresholds))
	for _, threshold := range thresholds {
		completed[threshold] = struct{}{}
	}
	return completed, nil
}

func (s *Service) markCompleted(ctx context.Context, userID snowflake.ID, def config.MilestoneDefinition) error {
	completion := &referraldomain.MilestoneCompletion{
		ID:             s.genID.Generate(),
		UserID:         userID,
		ThresholdCount: def.ThresholdCount,
		RewardKey:      def.RewardKey,
		CompletedAt:    s.clock.Now(),
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "threshold_count"}},
			DoNothing: true,
		}).
		Create(completion).Error
}
