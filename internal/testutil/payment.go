package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"homepro/internal/payment"

	"github.com/shopspring/decimal"
)

// FakeGateway is a payment.Gateway that records every call. It replays a
// receipt for a repeated idempotency key the way real providers do, except
// once that receipt was refunded.
type FakeGateway struct {
	mu sync.Mutex

	// Decline, NoPaymentMethod and Err shape the next responses.
	Decline         bool
	NoPaymentMethod bool
	Err             error

	Charges  []payment.ChargeRequest
	Refunds  []*payment.Receipt
	receipts map[string]*payment.Receipt
	refunded map[string]bool
	net      decimal.Decimal
	issued   int
}

func NewFakeGateway() *FakeGateway {
	return &FakeGateway{
		receipts: make(map[string]*payment.Receipt),
		refunded: make(map[string]bool),
	}
}

func (g *FakeGateway) Charge(ctx context.Context, req payment.ChargeRequest) (*payment.Receipt, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.Charges = append(g.Charges, req)
	if g.Err != nil {
		return nil, payment.Unavailable(g.Err, "fake")
	}
	if g.NoPaymentMethod {
		return nil, payment.Declined("No payment method on file", map[string]any{"account_id": req.Payer.AccountID})
	}
	if g.Decline {
		return nil, payment.Declined("Your card was declined", map[string]any{"account_id": req.Payer.AccountID})
	}

	if req.IdempotencyKey != "" {
		if r, ok := g.receipts[req.IdempotencyKey]; ok {
			return r, nil
		}
	}

	g.issued++
	r := &payment.Receipt{
		ID:             fmt.Sprintf("rcpt_%d", g.issued),
		AccountID:      req.Payer.AccountID,
		Provider:       "fake",
		Amount:         req.Amount,
		Currency:       req.Currency,
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      time.Now(),
	}
	if req.IdempotencyKey != "" {
		g.receipts[req.IdempotencyKey] = r
	}
	g.net = g.net.Add(r.Amount)
	return r, nil
}

func (g *FakeGateway) Refund(ctx context.Context, receipt *payment.Receipt) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.Refunds = append(g.Refunds, receipt)
	if receipt == nil || g.refunded[receipt.ID] {
		return nil
	}
	g.refunded[receipt.ID] = true
	g.net = g.net.Sub(receipt.Amount)
	if r, ok := g.receipts[receipt.IdempotencyKey]; ok && r.ID == receipt.ID {
		delete(g.receipts, receipt.IdempotencyKey)
	}
	return nil
}

func (g *FakeGateway) HasPaymentMethod(ctx context.Context, payer payment.Payer) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.Err != nil {
		return false, payment.Unavailable(g.Err, "fake")
	}
	return !g.NoPaymentMethod, nil
}

// ChargeCount returns the number of Charge calls, replays included.
func (g *FakeGateway) ChargeCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.Charges)
}

// Net is the amount collected minus the amount refunded.
func (g *FakeGateway) Net() decimal.Decimal {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.net
}

// RefundCount returns the number of Refund calls.
func (g *FakeGateway) RefundCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.Refunds)
}
