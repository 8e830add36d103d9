// Package cachesync keeps client-facing snapshot caches consistent with the
// authoritative account store. The session that made a change sees it
// immediately; every other session sees it after its next pull. Caches never
// compute fees, they hold snapshots exactly as the store priced them.
package cachesync

import (
	"context"
	"time"

	"homepro/internal/account"
	"homepro/internal/logger"
	"homepro/internal/metrics"

	goCache "github.com/patrickmn/go-cache"
)

const (
	layerSession = "session"
	layerProfile = "profile"
)

// Loader reads the authoritative, freshly priced snapshot of an account.
type Loader interface {
	GetStatus(ctx context.Context, accountID string) (*account.Snapshot, error)
}

type Coordinator struct {
	sessions *goCache.Cache
	profiles ProfileCache
	loader   Loader
}

// NewCoordinator builds a coordinator whose session mirrors expire sessionTTL
// after they were last written. Reads do not extend them. profiles may be nil.
func NewCoordinator(loader Loader, profiles ProfileCache, sessionTTL time.Duration) *Coordinator {
	return &Coordinator{
		sessions: goCache.New(sessionTTL, 2*sessionTTL),
		profiles: profiles,
		loader:   loader,
	}
}

// Publish records the result of a mutation made by sessionID. The caller's
// mirror is replaced before Publish returns; the shared profile entry is
// dropped so the next reader pulls the new version.
func (c *Coordinator) Publish(ctx context.Context, sessionID string, snap *account.Snapshot) {
	if snap == nil {
		return
	}
	if sessionID != "" {
		c.mirror(sessionID, snap)
	}
	if c.profiles != nil {
		if err := c.profiles.Invalidate(ctx, snap.AccountID); err != nil {
			logger.Warn("profile cache invalidation failed", "account_id", snap.AccountID, "error", err)
		}
	}
	metrics.RecordCacheEvent(layerSession, "publish")
}

// View returns the snapshot this session should display. It may be older than
// the store for sessions that have not refreshed since another session's
// change.
func (c *Coordinator) View(ctx context.Context, sessionID, accountID string) (*account.Snapshot, error) {
	if sessionID != "" {
		if snap, ok := c.lookup(sessionID, accountID); ok {
			metrics.RecordCacheEvent(layerSession, "hit")
			return snap, nil
		}
		metrics.RecordCacheEvent(layerSession, "miss")
	}

	if c.profiles != nil {
		snap, ok, err := c.profiles.Get(ctx, accountID)
		if err != nil {
			logger.Warn("profile cache read failed", "account_id", accountID, "error", err)
		}
		if ok {
			metrics.RecordCacheEvent(layerProfile, "hit")
			if sessionID != "" {
				c.mirror(sessionID, snap)
			}
			return snap, nil
		}
		metrics.RecordCacheEvent(layerProfile, "miss")
	}

	return c.Refresh(ctx, sessionID, accountID)
}

// Refresh pulls the authoritative snapshot and stores it in both layers.
func (c *Coordinator) Refresh(ctx context.Context, sessionID, accountID string) (*account.Snapshot, error) {
	snap, err := c.loader.GetStatus(ctx, accountID)
	if err != nil {
		return nil, err
	}

	if sessionID != "" {
		c.mirror(sessionID, snap)
	}
	if c.profiles != nil {
		if err := c.profiles.Set(ctx, snap); err != nil {
			logger.Warn("profile cache write failed", "account_id", accountID, "error", err)
		}
	}
	return snap, nil
}

// Forget drops the session's mirror of the account. The next View falls back
// to the shared profile cache.
func (c *Coordinator) Forget(sessionID, accountID string) {
	c.sessions.Delete(sessionKey(sessionID, accountID))
	metrics.RecordCacheEvent(layerSession, "forget")
}

// mirror stores snap unless the session already holds a newer version.
func (c *Coordinator) mirror(sessionID string, snap *account.Snapshot) {
	if held, ok := c.lookup(sessionID, snap.AccountID); ok && held.Version > snap.Version {
		return
	}
	c.sessions.SetDefault(sessionKey(sessionID, snap.AccountID), snap)
}

func (c *Coordinator) lookup(sessionID, accountID string) (*account.Snapshot, bool) {
	v, ok := c.sessions.Get(sessionKey(sessionID, accountID))
	if !ok {
		return nil, false
	}
	snap, ok := v.(*account.Snapshot)
	return snap, ok
}

func sessionKey(sessionID, accountID string) string {
	return sessionID + "|" + accountID
}
