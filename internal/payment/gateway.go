// Package payment collects money for subscriptions and category additions.
// Every failure leaving this package is marked as a payment error; declines
// are additionally marked with ErrDeclined so callers can tell a refused card
// from an unreachable provider.
package payment

import (
	"context"
	"time"

	ierr "homepro/internal/errors"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
)

var (
	ErrDeclined = errors.New("payment declined")
	// ErrIdempotencyMismatch means the provider saw the idempotency key with
	// different parameters.
	ErrIdempotencyMismatch = errors.New("idempotency key reused with different parameters")
)

// Payer identifies who is charged: the account and its provider-side customer.
type Payer struct {
	AccountID   string
	CustomerRef string
}

type ChargeKind string

const (
	ChargeSubscription ChargeKind = "subscription"
	ChargeCategory     ChargeKind = "category"
)

type ChargeRequest struct {
	Payer          Payer
	Kind           ChargeKind
	Amount         decimal.Decimal
	Currency       string
	Description    string
	IdempotencyKey string
}

// Receipt proves a charge succeeded. A zero-amount receipt only confirms that
// a usable payment method exists.
type Receipt struct {
	ID             string
	AccountID      string
	Provider       string
	Amount         decimal.Decimal
	Currency       string
	IdempotencyKey string
	CreatedAt      time.Time
}

func (r *Receipt) IsVerification() bool {
	return r.Amount.IsZero()
}

// Gateway collects money from a payer.
//
// Charge with an idempotency key already charged returns the original receipt
// without collecting again, unless that charge was refunded: a refunded charge
// never counts as payment, so charging its key collects anew. The receipt
// carries the key the provider actually used.
type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) (*Receipt, error)
	Refund(ctx context.Context, receipt *Receipt) error
	HasPaymentMethod(ctx context.Context, payer Payer) (bool, error)
}

// Declined marks a refusal by the payer's payment method.
func Declined(reason string, details map[string]any) error {
	err := ierr.NewError("payment declined").
		WithHint(reason).
		WithReportableDetails(details).
		Mark(ierr.ErrPayment)
	return errors.Mark(err, ErrDeclined)
}

// Unavailable marks a failure to reach a decision, which is never treated as
// success.
func Unavailable(err error, provider string) error {
	return ierr.WithError(err).
		WithHint("The payment could not be confirmed. Please try again later").
		WithReportableDetails(map[string]any{"provider": provider}).
		Mark(ierr.ErrPayment)
}

func IsDeclined(err error) bool {
	return errors.Is(err, ErrDeclined)
}

func IsIdempotencyMismatch(err error) bool {
	return errors.Is(err, ErrIdempotencyMismatch)
}

// ToCents converts a decimal amount into minor units.
func ToCents(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

func FromCents(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}
