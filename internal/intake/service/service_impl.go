package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/openshelf/engage/internal/clock"
	"github.com/openshelf/engage/internal/config"
	intakedomain "github.com/openshelf/engage/internal/intake/domain"
	obsmetrics "github.com/openshelf/engage/internal/observability/metrics"
	pointsdomain "github.com/openshelf/engage/internal/points/domain"
	referraldomain "github.com/openshelf/engage/internal/referral/domain"
	streakdomain "github.com/openshelf/engage/internal/streak/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Config     config.Config
	Rewards    *config.RewardsHolder
	Points     pointsdomain.Service
	Streaks    streakdomain.Service
	Referrals  referraldomain.Service
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	futureSkew time.Duration
	rewards    *config.RewardsHolder
	points     pointsdomain.Service
	streaks    streakdomain.Service
	referrals  referraldomain.Service
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) intakedomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("intake.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		futureSkew: p.Config.FutureSkew,
		rewards:    p.Rewards,
		points:     p.Points,
		streaks:    p.Streaks,
		referrals:  p.Referrals,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) RecordEvent(ctx context.Context, req intakedomain.RecordEventRequest) (intakedomain.RecordEventResult, error) {
	policy, err := s.validate(&req)
	if err != nil {
		return intakedomain.RecordEventResult{}, err
	}

	appendRes, err := s.points.Append(ctx, pointsdomain.AppendRequest{
		UserID:         req.UserID,
		Delta:          policy.Points,
		Reason:         policy.Reason,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return intakedomain.RecordEventResult{}, err
	}

	result := intakedomain.RecordEventResult{
		NewTotal:  appendRes.Total,
		NewLevel:  appendRes.Level,
		LeveledUp: appendRes.LeveledUp,
		Duplicate: appendRes.Duplicate,
	}

	if appendRes.Duplicate {
		// Replay of an already-applied event: echo the points the first
		// call awarded, report current state and skip every side effect.
		// Streak and milestone state is read-only here.
		result.PointsAwarded = appendRes.Delta
		streakStatus, err := s.streaks.Status(ctx, req.UserID)
		if err != nil {
			return intakedomain.RecordEventResult{}, err
		}
		result.Streak = streakStatus
		if s.obsMetrics != nil {
			s.obsMetrics.RecordEventIngested(ctx, req.Type, "duplicate")
		}
		return result, nil
	}

	result.PointsAwarded = policy.Points

	if policy.Streak {
		streakStatus, err := s.streaks.RecordActivity(ctx, streakdomain.RecordActivityRequest{
			UserID:                req.UserID,
			OccurredAt:            req.OccurredAt,
			TimezoneOffsetMinutes: req.TimezoneOffsetMinutes,
		})
		if err != nil {
			return intakedomain.RecordEventResult{}, err
		}
		result.Streak = streakStatus
	} else {
		streakStatus, err := s.streaks.Status(ctx, req.UserID)
		if err != nil {
			return intakedomain.RecordEventResult{}, err
		}
		result.Streak = streakStatus
	}

	if policy.Referral {
		count, err := s.referrals.RecordReferral(ctx, req.UserID, req.ReferredUserID)
		if err != nil {
			return intakedomain.RecordEventResult{}, err
		}
		unlocked, err := s.referrals.Evaluate(ctx, req.UserID, count)
		if err != nil {
			return intakedomain.RecordEventResult{}, err
		}
		result.UnlockedMilestones = unlocked
	}

	s.persistAudit(ctx, req)

	if s.obsMetrics != nil {
		s.obsMetrics.RecordEventIngested(ctx, req.Type, "processed")
	}
	s.log.Info("event processed",
		zap.Int64("user_id", int64(req.UserID)),
		zap.String("event_type", req.Type),
		zap.Int64("points_awarded", result.PointsAwarded),
		zap.Bool("leveled_up", result.LeveledUp),
		zap.Int("unlocked_milestones", len(result.UnlockedMilestones)),
	)

	return result, nil
}

func (s *Service) validate(req *intakedomain.RecordEventRequest) (config.EventPolicy, error) {
	if req.UserID == 0 {
		return config.EventPolicy{}, intakedomain.ErrInvalidUser
	}
	req.Type = strings.TrimSpace(req.Type)
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	if req.IdempotencyKey == "" {
		return config.EventPolicy{}, intakedomain.ErrInvalidIdempotencyKey
	}
	if req.OccurredAt.IsZero() {
		return config.EventPolicy{}, intakedomain.ErrInvalidOccurredAt
	}
	if req.OccurredAt.After(s.clock.Now().Add(s.futureSkew)) {
		return config.EventPolicy{}, intakedomain.ErrFutureEvent
	}

	policy, ok := s.rewards.EventPolicy(req.Type)
	if !ok {
		return config.EventPolicy{}, intakedomain.ErrUnknownEventType
	}
	if policy.Referral && req.ReferredUserID == 0 {
		return config.EventPolicy{}, intakedomain.ErrMissingReferredUser
	}
	return policy, nil
}

// persistAudit records what the client sent. The ledger tables are the source
// of truth; a failed audit write must not fail the event.
func (s *Service) persistAudit(ctx context.Context, req intakedomain.RecordEventRequest) {
	record := &intakedomain.Event{
		ID:             s.genID.Generate(),
		UserID:         req.UserID,
		Type:           req.Type,
		IdempotencyKey: req.IdempotencyKey,
		OccurredAt:     req.OccurredAt.UTC(),
		Metadata:       datatypes.JSONMap(req.Metadata),
		CreatedAt:      s.clock.Now(),
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "idempotency_key"}},
			DoNothing: true,
		}).
		Create(record).Error
	if err != nil {
		s.log.Warn("event audit write failed",
			zap.Int64("user_id", int64(req.UserID)),
			zap.Error(err),
		)
	}
}
