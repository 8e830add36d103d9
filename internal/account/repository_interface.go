package account

import (
	"context"
	"time"
)

type Repository interface {
	// Create stores a new account at version 1 together with its subscription.
	Create(ctx context.Context, a *Account) (*Account, error)
	Get(ctx context.Context, id string) (*Account, error)
	// Update writes next only if the stored version still equals
	// expectedVersion, and returns it at the incremented version.
	Update(ctx context.Context, next *Account, expectedVersion int64) (*Account, error)
	// ListDue returns ids of accounts with a billing event due at now.
	ListDue(ctx context.Context, now time.Time, limit int) ([]string, error)
}
