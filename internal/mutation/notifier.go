package mutation

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Notifier tells the account owner about changes they did not just see in a
// response. Failures are logged by the caller and never undo a commit.
type Notifier interface {
	CategoryAdded(ctx context.Context, accountID, category string, charged, monthlyFee decimal.Decimal) error
	SubscriptionRenewed(ctx context.Context, accountID string, amount decimal.Decimal, periodEnd time.Time) error
	PaymentFailed(ctx context.Context, accountID string, amount decimal.Decimal, nextRetryAt *time.Time) error
	SubscriptionCanceled(ctx context.Context, accountID string, canceledAt time.Time) error
}

type NopNotifier struct{}

func (NopNotifier) CategoryAdded(context.Context, string, string, decimal.Decimal, decimal.Decimal) error {
	return nil
}

func (NopNotifier) SubscriptionRenewed(context.Context, string, decimal.Decimal, time.Time) error {
	return nil
}

func (NopNotifier) PaymentFailed(context.Context, string, decimal.Decimal, *time.Time) error {
	return nil
}

func (NopNotifier) SubscriptionCanceled(context.Context, string, time.Time) error {
	return nil
}
