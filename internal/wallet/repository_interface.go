package wallet

import "context"

type Repository interface {
	GetOrCreateWallet(ctx context.Context, accountID string) (*Wallet, error)
	// Post applies a signed amount to the wallet. A non-empty idempotency key
	// that was already posted returns the original entry unchanged.
	Post(ctx context.Context, accountID string, amountCents int64, txType, idempotencyKey string) (*Transaction, error)
	// FindByKey returns the entry posted under idempotencyKey, or nil.
	FindByKey(ctx context.Context, idempotencyKey string) (*Transaction, error)
	TopUp(ctx context.Context, accountID string, amountCents int64) (*Transaction, error)
	GetTransactions(ctx context.Context, accountID string, limit, offset int) ([]Transaction, error)
}
