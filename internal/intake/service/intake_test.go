package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/openshelf/engage/internal/clock"
	"github.com/openshelf/engage/internal/config"
	grantdomain "github.com/openshelf/engage/internal/grant/domain"
	grantservice "github.com/openshelf/engage/internal/grant/service"
	intakedomain "github.com/openshelf/engage/internal/intake/domain"
	pointsdomain "github.com/openshelf/engage/internal/points/domain"
	pointsservice "github.com/openshelf/engage/internal/points/service"
	referraldomain "github.com/openshelf/engage/internal/referral/domain"
	referralservice "github.com/openshelf/engage/internal/referral/service"
	streakdomain "github.com/openshelf/engage/internal/streak/domain"
	streakservice "github.com/openshelf/engage/internal/streak/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	svc   intakedomain.Service
	node  *snowflake.Node
	clock *clock.FakeClock
}

func setup(t *testing.T) fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&pointsdomain.Entry{},
		&grantdomain.RewardGrant{},
		&streakdomain.Record{},
		&referraldomain.Referral{},
		&referraldomain.MilestoneCompletion{},
		&intakedomain.Event{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	log := zap.NewNop()

	rewards, err := config.NewStaticRewardsHolder(config.RewardsConfig{
		Events: []config.EventPolicy{
			{Type: "upload", Points: 25, Reason: "upload", Streak: true},
			{Type: "referral_signup", Points: 50, Reason: "referral_signup", Referral: true},
		},
		LevelThresholds: []int64{0, 100, 500},
		Milestones: []config.MilestoneDefinition{
			{ThresholdCount: 3, RewardKey: "ai_month"},
		},
	})
	require.NoError(t, err)

	grants := grantservice.NewStore(grantservice.Params{
		DB: db, Log: log, GenID: node, Clock: fake,
	})
	points := pointsservice.NewService(pointsservice.Params{
		DB: db, Log: log, GenID: node, Clock: fake, Rewards: rewards,
	})
	streaks := streakservice.NewService(streakservice.Params{
		DB: db, Log: log, Clock: fake,
	})
	referrals := referralservice.NewService(referralservice.Params{
		DB: db, Log: log, GenID: node, Clock: fake, Rewards: rewards, Grants: grants,
	})

	svc := NewService(Params{
		DB:        db,
		Log:       log,
		GenID:     node,
		Clock:     fake,
		Config:    config.Config{FutureSkew: 5 * time.Minute},
		Rewards:   rewards,
		Points:    points,
		Streaks:   streaks,
		Referrals: referrals,
	})

	return fixture{svc: svc, node: node, clock: fake}
}

func TestRecordEvent_UploadAwardsPointsAndStreak(t *testing.T) {
	f := setup(t)
	userID := f.node.Generate()

	res, err := f.svc.RecordEvent(context.Background(), intakedomain.RecordEventRequest{
		UserID:         userID,
		Type:           "upload",
		OccurredAt:     f.clock.Now().Add(-time.Minute),
		IdempotencyKey: "evt-1",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(25), res.PointsAwarded)
	assert.Equal(t, int64(25), res.NewTotal)
	assert.Equal(t, 0, res.NewLevel)
	assert.False(t, res.LeveledUp)
	assert.Equal(t, 1, res.Streak.Current)
	assert.False(t, res.Duplicate)
	assert.Empty(t, res.UnlockedMilestones)
}

func TestRecordEvent_DuplicateReplayHasNoSideEffects(t *testing.T) {
	f := setup(t)
	userID := f.node.Generate()
	req := intakedomain.RecordEventRequest{
		UserID:         userID,
		Type:           "upload",
		OccurredAt:     f.clock.Now().Add(-time.Minute),
		IdempotencyKey: "evt-1",
	}

	first, err := f.svc.RecordEvent(context.Background(), req)
	require.NoError(t, err)
	require.False(t, first.Duplicate)

	second, err := f.svc.RecordEvent(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	// the replay echoes the original award without applying it again
	assert.Equal(t, first.PointsAwarded, second.PointsAwarded)
	assert.Equal(t, first.NewTotal, second.NewTotal)
	assert.False(t, second.LeveledUp)
	assert.Equal(t, first.Streak.Current, second.Streak.Current)
	assert.Empty(t, second.UnlockedMilestones)
}

func TestRecordEvent_FutureEventRejected(t *testing.T) {
	f := setup(t)

	_, err := f.svc.RecordEvent(context.Background(), intakedomain.RecordEventRequest{
		UserID:         f.node.Generate(),
		Type:           "upload",
		OccurredAt:     f.clock.Now().Add(10 * time.Minute),
		IdempotencyKey: "evt-1",
	})
	assert.ErrorIs(t, err, intakedomain.ErrFutureEvent)
}

func TestRecordEvent_SkewedFutureEventAccepted(t *testing.T) {
	f := setup(t)

	// within the allowed clock skew
	res, err := f.svc.RecordEvent(context.Background(), intakedomain.RecordEventRequest{
		UserID:         f.node.Generate(),
		Type:           "upload",
		OccurredAt:     f.clock.Now().Add(2 * time.Minute),
		IdempotencyKey: "evt-1",
	})
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
}

func TestRecordEvent_UnknownTypeRejected(t *testing.T) {
	f := setup(t)

	_, err := f.svc.RecordEvent(context.Background(), intakedomain.RecordEventRequest{
		UserID:         f.node.Generate(),
		Type:           "teleport",
		OccurredAt:     f.clock.Now(),
		IdempotencyKey: "evt-1",
	})
	assert.ErrorIs(t, err, intakedomain.ErrUnknownEventType)
}

func TestRecordEvent_ReferralUnlocksMilestone(t *testing.T) {
	f := setup(t)
	referrer := f.node.Generate()

	var res intakedomain.RecordEventResult
	var err error
	for i := 0; i < 3; i++ {
		res, err = f.svc.RecordEvent(context.Background(), intakedomain.RecordEventRequest{
			UserID:         referrer,
			Type:           "referral_signup",
			OccurredAt:     f.clock.Now().Add(-time.Minute),
			IdempotencyKey: "evt-" + string(rune('a'+i)),
			ReferredUserID: f.node.Generate(),
		})
		require.NoError(t, err)
	}

	assert.Equal(t, []string{"ai_month"}, res.UnlockedMilestones)
	assert.Equal(t, int64(150), res.NewTotal)

	// a fourth referral does not re-grant
	res, err = f.svc.RecordEvent(context.Background(), intakedomain.RecordEventRequest{
		UserID:         referrer,
		Type:           "referral_signup",
		OccurredAt:     f.clock.Now().Add(-time.Minute),
		IdempotencyKey: "evt-d",
		ReferredUserID: f.node.Generate(),
	})
	require.NoError(t, err)
	assert.Empty(t, res.UnlockedMilestones)
}

func TestRecordEvent_ReferralRequiresReferredUser(t *testing.T) {
	f := setup(t)

	_, err := f.svc.RecordEvent(context.Background(), intakedomain.RecordEventRequest{
		UserID:         f.node.Generate(),
		Type:           "referral_signup",
		OccurredAt:     f.clock.Now(),
		IdempotencyKey: "evt-1",
	})
	assert.ErrorIs(t, err, intakedomain.ErrMissingReferredUser)
}

func TestRecordEvent_LevelUpThroughIntake(t *testing.T) {
	f := setup(t)
	userID := f.node.Generate()

	occurredAt := f.clock.Now().Add(-time.Minute)
	var res intakedomain.RecordEventResult
	var err error
	for i := 0; i < 4; i++ {
		res, err = f.svc.RecordEvent(context.Background(), intakedomain.RecordEventRequest{
			UserID:         userID,
			Type:           "upload",
			OccurredAt:     occurredAt,
			IdempotencyKey: "evt-" + string(rune('a'+i)),
		})
		require.NoError(t, err)
	}

	assert.Equal(t, int64(100), res.NewTotal)
	assert.Equal(t, 1, res.NewLevel)
	assert.True(t, res.LeveledUp)
	// four same-day uploads are still one streak day
	assert.Equal(t, 1, res.Streak.Current)
}
