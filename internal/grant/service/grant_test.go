package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/openshelf/engage/internal/clock"
	grantdomain "github.com/openshelf/engage/internal/grant/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupStore(t *testing.T) (grantdomain.Store, *snowflake.Node, *clock.FakeClock) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&grantdomain.RewardGrant{}))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	store := NewStore(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: fake,
	})
	return store, node, fake
}

func TestTryGrant_ExactlyOnce(t *testing.T) {
	store, node, _ := setupStore(t)
	userID := node.Generate()

	outcome, err := store.TryGrant(context.Background(), userID, "ai_month")
	require.NoError(t, err)
	assert.Equal(t, grantdomain.OutcomeGranted, outcome)

	outcome, err = store.TryGrant(context.Background(), userID, "ai_month")
	require.NoError(t, err)
	assert.Equal(t, grantdomain.OutcomeAlreadyGranted, outcome)
}

func TestTryGrant_DistinctKeysAndUsers(t *testing.T) {
	store, node, _ := setupStore(t)
	userID := node.Generate()
	otherID := node.Generate()

	outcome, err := store.TryGrant(context.Background(), userID, "ai_month")
	require.NoError(t, err)
	assert.Equal(t, grantdomain.OutcomeGranted, outcome)

	outcome, err = store.TryGrant(context.Background(), userID, "premium_lifetime")
	require.NoError(t, err)
	assert.Equal(t, grantdomain.OutcomeGranted, outcome)

	outcome, err = store.TryGrant(context.Background(), otherID, "ai_month")
	require.NoError(t, err)
	assert.Equal(t, grantdomain.OutcomeGranted, outcome)
}

func TestTryGrant_ConcurrentCallersSingleWinner(t *testing.T) {
	store, node, _ := setupStore(t)
	userID := node.Generate()

	var granted int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, err := store.TryGrant(context.Background(), userID, "premium_lifetime")
			if err != nil {
				return
			}
			if outcome == grantdomain.OutcomeGranted {
				atomic.AddInt32(&granted, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&granted))
}

func TestListKeys_OrderedByGrantTime(t *testing.T) {
	store, node, fake := setupStore(t)
	userID := node.Generate()

	_, err := store.TryGrant(context.Background(), userID, "ai_month")
	require.NoError(t, err)
	fake.Advance(time.Minute)
	_, err = store.TryGrant(context.Background(), userID, "premium_lifetime")
	require.NoError(t, err)

	keys, err := store.ListKeys(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, []string{"ai_month", "premium_lifetime"}, keys)
}

func TestTryGrant_Validation(t *testing.T) {
	store, node, _ := setupStore(t)

	_, err := store.TryGrant(context.Background(), 0, "ai_month")
	assert.ErrorIs(t, err, grantdomain.ErrInvalidUser)

	_, err = store.TryGrant(context.Background(), node.Generate(), "  ")
	assert.ErrorIs(t, err, grantdomain.ErrInvalidRewardKey)
}
