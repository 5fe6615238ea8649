package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/openshelf/engage/internal/clock"
	streakdomain "github.com/openshelf/engage/internal/streak/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupService(t *testing.T) (streakdomain.Service, *snowflake.Node) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&streakdomain.Record{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	svc := NewService(Params{
		DB:    db,
		Log:   zap.NewNop(),
		Clock: clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
	})
	return svc, node
}

func recordAt(t *testing.T, svc streakdomain.Service, userID snowflake.ID, occurredAt time.Time, offsetMinutes int) streakdomain.Status {
	t.Helper()
	status, err := svc.RecordActivity(context.Background(), streakdomain.RecordActivityRequest{
		UserID:                userID,
		OccurredAt:            occurredAt,
		TimezoneOffsetMinutes: offsetMinutes,
	})
	require.NoError(t, err)
	return status
}

func TestRecordActivity_StateMachine(t *testing.T) {
	svc, node := setupService(t)
	userID := node.Generate()
	day1 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	// first ever activity
	status := recordAt(t, svc, userID, day1, 0)
	assert.Equal(t, 1, status.Current)
	assert.Equal(t, 1, status.Longest)

	// consecutive day
	status = recordAt(t, svc, userID, day1.AddDate(0, 0, 1), 0)
	assert.Equal(t, 2, status.Current)
	assert.Equal(t, 2, status.Longest)

	// second event on the same local day changes nothing
	status = recordAt(t, svc, userID, day1.AddDate(0, 0, 1).Add(6*time.Hour), 0)
	assert.Equal(t, 2, status.Current)
	assert.Equal(t, 2, status.Longest)

	// gap of one full day resets the current run, longest survives
	status = recordAt(t, svc, userID, day1.AddDate(0, 0, 3), 0)
	assert.Equal(t, 1, status.Current)
	assert.Equal(t, 2, status.Longest)
}

func TestRecordActivity_StaleEventRejected(t *testing.T) {
	svc, node := setupService(t)
	userID := node.Generate()
	day2 := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	before := recordAt(t, svc, userID, day2, 0)

	_, err := svc.RecordActivity(context.Background(), streakdomain.RecordActivityRequest{
		UserID:     userID,
		OccurredAt: day2.AddDate(0, 0, -1),
	})
	assert.ErrorIs(t, err, streakdomain.ErrStaleEvent)

	// state is untouched
	after, err := svc.Status(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, before.Current, after.Current)
	assert.Equal(t, before.Longest, after.Longest)
}

func TestRecordActivity_TimezoneOffsetShiftsDay(t *testing.T) {
	svc, node := setupService(t)
	userID := node.Generate()

	// 23:30 UTC with a +60 offset is already the next local day
	late := time.Date(2026, 3, 1, 23, 30, 0, 0, time.UTC)
	status := recordAt(t, svc, userID, late, 60)
	require.NotNil(t, status.LastActiveLocalDate)
	assert.Equal(t, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), *status.LastActiveLocalDate)

	// 22:00 UTC next day at the same offset is still March 2 locally
	status = recordAt(t, svc, userID, time.Date(2026, 3, 2, 22, 0, 0, 0, time.UTC), 60)
	assert.Equal(t, 1, status.Current)

	// 23:30 UTC next day crosses into March 3 locally
	status = recordAt(t, svc, userID, time.Date(2026, 3, 2, 23, 30, 0, 0, time.UTC), 60)
	assert.Equal(t, 2, status.Current)
}

func TestRecordActivity_NegativeOffset(t *testing.T) {
	svc, node := setupService(t)
	userID := node.Generate()

	// 00:30 UTC with a -120 offset is still the previous local day
	early := time.Date(2026, 3, 2, 0, 30, 0, 0, time.UTC)
	status := recordAt(t, svc, userID, early, -120)
	require.NotNil(t, status.LastActiveLocalDate)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), *status.LastActiveLocalDate)
}

func TestRecordActivity_Validation(t *testing.T) {
	svc, node := setupService(t)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	_, err := svc.RecordActivity(context.Background(), streakdomain.RecordActivityRequest{
		OccurredAt: now,
	})
	assert.ErrorIs(t, err, streakdomain.ErrInvalidUser)

	_, err = svc.RecordActivity(context.Background(), streakdomain.RecordActivityRequest{
		UserID: node.Generate(),
	})
	assert.ErrorIs(t, err, streakdomain.ErrInvalidOccurredAt)

	_, err = svc.RecordActivity(context.Background(), streakdomain.RecordActivityRequest{
		UserID:                node.Generate(),
		OccurredAt:            now,
		TimezoneOffsetMinutes: 15 * 60,
	})
	assert.ErrorIs(t, err, streakdomain.ErrInvalidTimezoneOffset)
}

func TestStatus_UnknownUserIsZero(t *testing.T) {
	svc, node := setupService(t)

	status, err := svc.Status(context.Background(), node.Generate())
	require.NoError(t, err)
	assert.Equal(t, 0, status.Current)
	assert.Equal(t, 0, status.Longest)
	assert.Nil(t, status.LastActiveLocalDate)
}
