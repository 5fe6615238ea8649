package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/openshelf/engage/internal/clock"
	"github.com/openshelf/engage/internal/config"
	obsmetrics "github.com/openshelf/engage/internal/observability/metrics"
	pointsdomain "github.com/openshelf/engage/internal/points/domain"
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
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	rewards    *config.RewardsHolder
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) pointsdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("points.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		rewards:    p.Rewards,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) Append(ctx context.Context, req pointsdomain.AppendRequest) (pointsdomain.AppendResult, error) {
	if req.UserID == 0 {
		return pointsdomain.AppendResult{}, pointsdomain.ErrInvalidUser
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return pointsdomain.AppendResult{}, pointsdomain.ErrInvalidReason
	}
	idempotencyKey := strings.TrimSpace(req.IdempotencyKey)
	if idempotencyKey == "" {
		return pointsdomain.AppendResult{}, pointsdomain.ErrInvalidIdempotencyKey
	}

	record := &pointsdomain.Entry{
		ID:             s.genID.Generate(),
		UserID:         req.UserID,
		Delta:          req.Delta,
		Reason:         reason,
		IdempotencyKey: idempotencyKey,
		CreatedAt:      s.clock.Now(),
	}

	// The conditional insert is the only write; totals are always derived
	// from the ledger, never read-modify-written.
	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "idempotency_key"}},
			DoNothing: true,
		}).
		Create(record)
	if result.Error != nil {
		return pointsdomain.AppendResult{}, result.Error
	}

	total, err := s.sumDeltas(ctx, req.UserID)
	if err != nil {
		return pointsdomain.AppendResult{}, err
	}

	thresholds := s.rewards.LevelThresholds()
	level := pointsdomain.LevelFor(thresholds, total)

	if result.RowsAffected == 0 {
		// Idempotent replay: no new entry. Echo the delta the first call
		// wrote, which may differ from the replayed request if the policy
		// changed in between.
		var existing pointsdomain.Entry
		err := s.db.WithContext(ctx).
			Where("user_id = ? AND idempotency_key = ?", req.UserID, idempotencyKey).
			First(&existing).Error
		if err != nil {
			return pointsdomain.AppendResult{}, err
		}
		return pointsdomain.AppendResult{
			Total:     total,
			Level:     level,
			Delta:     existing.Delta,
			LeveledUp: false,
			Duplicate: true,
		}, nil
	}

	previousLevel := pointsdomain.LevelFor(thresholds, total-req.Delta)

	if s.obsMetrics != nil {
		s.obsMetrics.RecordPointsEntry(ctx, reason)
	}

	return pointsdomain.AppendResult{
		Total:     total,
		Level:     level,
		Delta:     req.Delta,
		LeveledUp: level > previousLevel,
	}, nil
}

func (s *Service) Status(ctx context.Context, userID snowflake.ID) (pointsdomain.Status, error) {
	if userID == 0 {
		return pointsdomain.Status{}, pointsdomain.ErrInvalidUser
	}
	total, err := s.sumDeltas(ctx, userID)
	if err != nil {
		return pointsdomain.Status{}, err
	}
	return pointsdomain.Status{
		Total: total,
		Level: pointsdomain.LevelFor(s.rewards.LevelThresholds(), total),
	}, nil
}

func (s *Service) sumDeltas(ctx context.Context, userID snowflake.ID) (int64, error) {
	var total int64
	err := s.db.WithContext(ctx).
		Model(&pointsdomain.Entry{}).
		Where("user_id = ?", userID).
		Select("COALESCE(SUM(delta), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}
