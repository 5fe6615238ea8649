package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/openshelf/engage/internal/clock"
	grantdomain "github.com/openshelf/engage/internal/grant/domain"
	obsmetrics "github.com/openshelf/engage/internal/observability/metrics"
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
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Store struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	obsMetrics *obsmetrics.Metrics
}

func NewStore(p Params) grantdomain.Store {
	return &Store{
		db:         p.DB,
		log:        p.Log.Named("grant.store"),
		genID:      p.GenID,
		clock:      p.Clock,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Store) TryGrant(ctx context.Context, userID snowflake.ID, rewardKey string) (grantdomain.Outcome, error) {
	if userID == 0 {
		return "", grantdomain.ErrInvalidUser
	}
	rewardKey = strings.TrimSpace(rewardKey)
	if rewardKey == "" {
		return "", grantdomain.ErrInvalidRewardKey
	}

	now := s.clock.Now()
	record := &grantdomain.RewardGrant{
		ID:        s.genID.Generate(),
		UserID:    userID,
		RewardKey: rewardKey,
		GrantedAt: now,
		CreatedAt: now,
	}

	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "reward_key"}},
			DoNothing: true,
		}).
		Create(record)
	if result.Error != nil {
		return "", result.Error
	}
	if result.RowsAffected == 0 {
		return grantdomain.OutcomeAlreadyGranted, nil
	}

	s.log.Info("reward granted",
		zap.String("user_id", userID.String()),
		zap.String("reward_key", rewardKey),
	)
	if s.obsMetrics != nil {
		s.obsMetrics.RecordRewardGrant(ctx, rewardKey)
	}

	return grantdomain.OutcomeGranted, nil
}

func (s *Store) ListKeys(ctx context.Context, userID snowflake.ID) ([]string, error) {
	if userID == 0 {
		return nil, grantdomain.ErrInvalidUser
	}
	var keys []string
	err := s.db.WithContext(ctx).
		Model(&grantdomain.RewardGrant{}).
		Where("user_id = ?", userID).
		Order("granted_at ASC").
		Pluck("reward_key", &keys).Error
	if err != nil {
		return nil, err
	}
	return keys, nil
}
