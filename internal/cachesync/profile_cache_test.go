package cachesync

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"homepro/internal/account"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisProfileCache_SetAndGet(t *testing.T) {
	db, mock := redismock.NewClientMock()
	cache := NewRedisProfileCache(db, 5*time.Minute)
	ctx := context.Background()

	snap := snapshot(2, "34.77", "Plumber")
	data, err := json.Marshal(snap)
	require.NoError(t, err)

	mock.ExpectSet("profile:acc-1", data, 5*time.Minute).SetVal("OK")
	mock.ExpectGet("profile:acc-1").SetVal(string(data))

	require.NoError(t, cache.Set(ctx, snap))

	got, ok, err := cache.Get(ctx, "acc-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(2), got.Version)
	assert.Equal(t, "34.77", got.MonthlyFee.StringFixed(2))
	assert.Equal(t, []string{"Plumber"}, got.AdditionalCategories)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisProfileCache_Miss(t *testing.T) {
	db, mock := redismock.NewClientMock()
	cache := NewRedisProfileCache(db, time.Minute)

	mock.ExpectGet("profile:acc-9").RedisNil()

	_, ok, err := cache.Get(context.Background(), "acc-9")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisProfileCache_Invalidate(t *testing.T) {
	db, mock := redismock.NewClientMock()
	cache := NewRedisProfileCache(db, time.Minute)

	mock.ExpectDel("profile:acc-1").SetVal(1)

	require.NoError(t, cache.Invalidate(context.Background(), "acc-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisProfileCache_ErrorsDoNotBreakCoordinator(t *testing.T) {
	db, mock := redismock.NewClientMock()
	loader := &fakeLoader{snaps: map[string]*account.Snapshot{}}
	loader.put(snapshot(1, "29.77"))
	c := NewCoordinator(loader, NewRedisProfileCache(db, time.Minute), time.Minute)

	mock.ExpectGet("profile:acc-1").SetErr(errors.New("connection refused"))
	mock.Regexp().ExpectSet("profile:acc-1", `.*`, time.Minute).SetErr(errors.New("connection refused"))

	snap, err := c.View(context.Background(), "s1", "acc-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}
