package email

import (
	"context"
	"time"

	"homepro/internal/mutation"
	"homepro/internal/user"

	"github.com/shopspring/decimal"
)

// Directory resolves an account to the user who owns it. Account ids are
// user ids.
type Directory interface {
	FindByID(ctx context.Context, id string) (*user.User, error)
}

// Notifier sends billing notices to the owner of an account.
type Notifier struct {
	emails *Service
	users  Directory
}

var _ mutation.Notifier = (*Notifier)(nil)

func NewNotifier(emails *Service, users Directory) *Notifier {
	return &Notifier{emails: emails, users: users}
}

func (n *Notifier) CategoryAdded(ctx context.Context, accountID, category string, charged, monthlyFee decimal.Decimal) error {
	u, err := n.users.FindByID(ctx, accountID)
	if err != nil {
		return err
	}
	return n.emails.SendCategoryAdded(ctx, u.Email, u.Name, category, charged, monthlyFee)
}

func (n *Notifier) SubscriptionRenewed(ctx context.Context, accountID string, amount decimal.Decimal, periodEnd time.Time) error {
	u, err := n.users.FindByID(ctx, accountID)
	if err != nil {
		return err
	}
	return n.emails.SendSubscriptionRenewed(ctx, u.Email, u.Name, amount, periodEnd)
}

func (n *Notifier) PaymentFailed(ctx context.Context, accountID string, amount decimal.Decimal, nextRetryAt *time.Time) error {
	u, err := n.users.FindByID(ctx, accountID)
	if err != nil {
		return err
	}
	return n.emails.SendPaymentFailed(ctx, u.Email, u.Name, amount, nextRetryAt)
}

func (n *Notifier) SubscriptionCanceled(ctx context.Context, accountID string, canceledAt time.Time) error {
	u, err := n.users.FindByID(ctx, accountID)
	if err != nil {
		return err
	}
	return n.emails.SendSubscriptionCanceled(ctx, u.Email, u.Name, canceledAt)
}
