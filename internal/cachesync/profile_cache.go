package cachesync

import (
	"context"
	"encoding/json"
	"time"

	"homepro/internal/account"
	ierr "homepro/internal/errors"

	"github.com/redis/go-redis/v9"
)

const profileKeyPrefix = "profile:"

// ProfileCache is the snapshot cache shared by every session. It only stores
// what the authoritative store returned.
type ProfileCache interface {
	Get(ctx context.Context, accountID string) (*account.Snapshot, bool, error)
	Set(ctx context.Context, snap *account.Snapshot) error
	Invalidate(ctx context.Context, accountID string) error
}

type RedisProfileCache struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewRedisProfileCache(rdb *redis.Client, ttl time.Duration) *RedisProfileCache {
	return &RedisProfileCache{redis: rdb, ttl: ttl}
}

func (c *RedisProfileCache) Get(ctx context.Context, accountID string) (*account.Snapshot, bool, error) {
	data, err := c.redis.Get(ctx, profileKey(accountID)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, cacheError(err, "get")
	}

	var snap account.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, false, cacheError(err, "decode")
	}
	return &snap, true, nil
}

func (c *RedisProfileCache) Set(ctx context.Context, snap *account.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return cacheError(err, "encode")
	}
	if err := c.redis.Set(ctx, profileKey(snap.AccountID), data, c.ttl).Err(); err != nil {
		return cacheError(err, "set")
	}
	return nil
}

func (c *RedisProfileCache) Invalidate(ctx context.Context, accountID string) error {
	if err := c.redis.Del(ctx, profileKey(accountID)).Err(); err != nil {
		return cacheError(err, "invalidate")
	}
	return nil
}

func profileKey(accountID string) string {
	return profileKeyPrefix + accountID
}

func cacheError(err error, op string) error {
	return ierr.WithError(err).
		WithHint("Profile cache unavailable").
		WithReportableDetails(map[string]any{"operation": op}).
		Mark(ierr.ErrSystem)
}
