package service

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/openshelf/engage/internal/clock"
	obsmetrics "github.com/openshelf/engage/internal/observability/metrics"
	streakdomain "github.com/openshelf/engage/internal/streak/domain"
	"github.com/openshelf/engage/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Timezone offsets accepted from clients, in minutes. UTC-12:00 through
// UTC+14:00 covers every zone in current use.
const (
	minOffsetMinutes = -12 * 60
	maxOffsetMinutes = 14 * 60
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) streakdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("streak.service"),
		clock:      p.Clock,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) RecordActivity(ctx context.Context, req streakdomain.RecordActivityRequest) (streakdomain.Status, error) {
	if req.UserID == 0 {
		return streakdomain.Status{}, streakdomain.ErrInvalidUser
	}
	if req.OccurredAt.IsZero() {
		return streakdomain.Status{}, streakdomain.ErrInvalidOccurredAt
	}
	if req.TimezoneOffsetMinutes < minOffsetMinutes || req.TimezoneOffsetMinutes > maxOffsetMinutes {
		return streakdomain.Status{}, streakdomain.ErrInvalidTimezoneOffset
	}

	localDate := streakdomain.LocalDate(req.OccurredAt, req.TimezoneOffsetMinutes)

	var record streakdomain.Record
	err := s.db.WithContext(ctx).
		Where("user_id = ?", req.UserID).
		First(&record).Error

	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return s.startStreak(ctx, req.UserID, localDate, req.TimezoneOffsetMinutes)
	case err != nil:
		return streakdomain.Status{}, err
	}

	lastDate := record.LastActiveLocalDate.UTC()
	switch {
	case localDate.Equal(lastDate):
		// Multiple activities on the same local day keep the streak as is.
		return statusOf(record), nil
	case localDate.Before(lastDate):
		return streakdomain.Status{}, streakdomain.ErrStaleEvent
	}

	next := record
	if localDate.Equal(lastDate.AddDate(0, 0, 1)) {
		next.CurrentLength = record.CurrentLength + 1
	} else {
		next.CurrentLength = 1
		if s.obsMetrics != nil {
			s.obsMetrics.RecordStreakReset(ctx)
		}
	}
	if next.CurrentLength > next.LongestLength {
		next.LongestLength = next.CurrentLength
	}
	next.LastActiveLocalDate = localDate
	next.TimezoneOffsetMinutes = req.TimezoneOffsetMinutes

	// Guard the update on the previously observed day. A concurrent writer
	// that advanced the record first makes this a zero-row update, which
	// surfaces as a retryable conflict.
	result := s.db.WithContext(ctx).
		Model(&streakdomain.Record{}).
		Where("user_id = ? AND last_active_local_date = ?", req.UserID, record.LastActiveLocalDate).
		Updates(map[string]any{
			"current_length":          next.CurrentLength,
			"longest_length":          next.LongestLength,
			"last_active_local_date":  next.LastActiveLocalDate,
			"timezone_offset_minutes": next.TimezoneOffsetMinutes,
			"updated_at":              s.clock.Now(),
		})
	if result.Error != nil {
		return streakdomain.Status{}, result.Error
	}
	if result.RowsAffected == 0 {
		return streakdomain.Status{}, db.ErrConflict
	}

	s.log.Debug("streak advanced",
		zap.Int64("user_id", int64(req.UserID)),
		zap.Int("current", next.CurrentLength),
		zap.Time("local_date", localDate),
	)

	return statusOf(next), nil
}

func (s *Service) startStreak(ctx context.Context, userID snowflake.ID, localDate time.Time, offsetMinutes int) (streakdomain.Status, error) {
	now := s.clock.Now()
	record := &streakdomain.Record{
		UserID:                userID,
		CurrentLength:         1,
		LongestLength:         1,
		LastActiveLocalDate:   localDate,
		TimezoneOffsetMinutes: offsetMinutes,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoNothing: true,
		}).
		Create(record)
	if result.Error != nil {
		return streakdomain.Status{}, result.Error
	}
	if result.RowsAffected == 0 {
		// Another request created the record first.
		return streakdomain.Status{}, db.ErrConflict
	}
	return statusOf(*record), nil
}

func (s *Service) Status(ctx context.Context, userID snowflake.ID) (streakdomain.Status, error) {
	if userID == 0 {
		return streakdomain.Status{}, streakdomain.ErrInvalidUser
	}
	var record streakdomain.Record
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return streakdomain.Status{}, nil
	}
	if err != nil {
		return streakdomain.Status{}, err
	}
	return statusOf(record), nil
}

func statusOf(record streakdomain.Record) streakdomain.Status {
	last := record.LastActiveLocalDate.UTC()
	return streakdomain.Status{
		Current:             record.CurrentLength,
		Longest:             record.LongestLength,
		LastActiveLocalDate: &last,
	}
}
