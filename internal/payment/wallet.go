package payment

import (
	"context"
	"strconv"
	"time"

	"homepro/internal/wallet"

	"github.com/cockroachdb/errors"
)

const ProviderWallet = "wallet"

// WalletGateway charges the account's prepaid wallet.
type WalletGateway struct {
	ledger   wallet.Repository
	currency string
}

func NewWalletGateway(ledger wallet.Repository, currency string) *WalletGateway {
	return &WalletGateway{ledger: ledger, currency: currency}
}

func (g *WalletGateway) Charge(ctx context.Context, req ChargeRequest) (*Receipt, error) {
	cents := ToCents(req.Amount)
	if cents < 0 {
		return nil, Declined("Charge amount must not be negative", map[string]any{"amount": req.Amount.String()})
	}

	if cents == 0 {
		ok, err := g.HasPaymentMethod(ctx, req.Payer)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, Declined("Add funds to your wallet before adding categories", nil)
		}
		return &Receipt{
			AccountID:      req.Payer.AccountID,
			Provider:       ProviderWallet,
			Amount:         req.Amount,
			Currency:       g.currency,
			IdempotencyKey: req.IdempotencyKey,
			CreatedAt:      time.Now(),
		}, nil
	}

	key, err := g.unrefundedKey(ctx, req.IdempotencyKey)
	if err != nil {
		return nil, err
	}

	entry, err := g.ledger.Post(ctx, req.Payer.AccountID, -cents, chargeType(req), key)
	if err != nil {
		if errors.Is(err, wallet.ErrInsufficientBalance) {
			return nil, Declined("Your wallet balance is too low. Top up and try again", map[string]any{
				"amount": req.Amount.StringFixed(2),
			})
		}
		return nil, Unavailable(err, ProviderWallet)
	}

	return &Receipt{
		ID:             strconv.Itoa(entry.ID),
		AccountID:      req.Payer.AccountID,
		Provider:       ProviderWallet,
		Amount:         FromCents(-entry.AmountCents),
		Currency:       g.currency,
		IdempotencyKey: key,
		CreatedAt:      entry.CreatedAt,
	}, nil
}

// Refund credits the charged amount back. Refunding the same receipt twice
// credits once.
func (g *WalletGateway) Refund(ctx context.Context, receipt *Receipt) error {
	if receipt == nil || receipt.IsVerification() {
		return nil
	}

	key := ""
	if receipt.IdempotencyKey != "" {
		key = refundKey(receipt.IdempotencyKey)
	}
	_, err := g.ledger.Post(ctx, receipt.AccountID, ToCents(receipt.Amount), wallet.TypeRefund, key)
	if err != nil {
		return Unavailable(err, ProviderWallet)
	}
	return nil
}

// unrefundedKey returns the first attempt key under key whose charge has not
// been refunded.
func (g *WalletGateway) unrefundedKey(ctx context.Context, key string) (string, error) {
	if key == "" {
		return "", nil
	}
	for n := 0; n < maxRecharges; n++ {
		candidate := attemptKey(key, n)
		refund, err := g.ledger.FindByKey(ctx, refundKey(candidate))
		if err != nil {
			return "", Unavailable(err, ProviderWallet)
		}
		if refund == nil {
			return candidate, nil
		}
	}
	return "", Unavailable(errors.Newf("idempotency key %s refunded %d times", key, maxRecharges), ProviderWallet)
}

// HasPaymentMethod reports whether the wallet holds any funds.
func (g *WalletGateway) HasPaymentMethod(ctx context.Context, payer Payer) (bool, error) {
	w, err := g.ledger.GetOrCreateWallet(ctx, payer.AccountID)
	if err != nil {
		return false, Unavailable(err, ProviderWallet)
	}
	return w.BalanceCents > 0, nil
}

func chargeType(req ChargeRequest) string {
	if req.Kind == ChargeCategory {
		return wallet.TypeCategoryCharge
	}
	return wallet.TypeSubscriptionCharge
}
