package mutation

import (
	"context"
	"time"

	"homepro/internal/account"
	"homepro/internal/fee"
	"homepro/internal/logger"
	"homepro/internal/metrics"
	"homepro/internal/payment"
	"homepro/internal/subscription"

	"github.com/shopspring/decimal"
)

// RunBillingCycle handles whichever time-driven event is due for the account
// at now: trial end, period end or a past-due retry. The charge happens once;
// conflicting writes re-apply the same outcome to the fresher account. A
// charge that no committed transition uses is refunded.
func (s *service) RunBillingCycle(ctx context.Context, accountID string, now time.Time) (*BillingResult, error) {
	current, err := s.store.Get(ctx, accountID)
	if err != nil {
		return nil, err
	}

	result := &BillingResult{AccountID: accountID, Event: subscription.EventNone, Outcome: subscription.OutcomeNotCharged}
	if current.Subscription == nil {
		result.Snapshot = current.Snapshot()
		return result, nil
	}

	sub := current.Subscription
	result.From = sub.State
	result.To = sub.State
	result.Event = s.machine.Due(sub, now)
	if result.Event == subscription.EventNone {
		result.Snapshot = current.Snapshot()
		return result, nil
	}

	var receipt *payment.Receipt
	if s.machine.ChargeRequired(sub, result.Event) {
		result.Amount = fee.Effective(current.MonthlyFee, current.FeeOverride)
		result.Outcome, receipt, err = s.collect(ctx, current, result.Event, result.Amount)
		if err != nil {
			return nil, err
		}
	}

	chargeUsed, appliedElsewhere := false, false
	updated, err := s.commit(ctx, "billing", accountID, func(a *account.Account) (*account.Account, error) {
		chargeUsed, appliedElsewhere = false, false
		if a.Subscription == nil {
			return nil, nil
		}
		// a concurrent run already applied this very payment
		if receipt != nil && a.Subscription.PeriodChargeKey == receipt.IdempotencyKey {
			chargeUsed, appliedElsewhere = true, true
			return nil, nil
		}
		if s.machine.Due(a.Subscription, now) != result.Event {
			return nil, nil
		}
		// the pending cancellation was withdrawn; the next run collects
		if result.Outcome == subscription.OutcomeNotCharged && s.machine.ChargeRequired(a.Subscription, result.Event) {
			return nil, nil
		}

		next := a.Clone()
		if err := s.machine.Advance(next.Subscription, now, result.Event, result.Outcome); err != nil {
			return nil, err
		}
		if receipt != nil {
			next.Subscription.PeriodChargeKey = receipt.IdempotencyKey
			chargeUsed = true
		}
		return next, nil
	})
	if receipt != nil && (err != nil || !chargeUsed) {
		if rerr := s.gateway.Refund(ctx, receipt); rerr != nil {
			logger.Error("refund after unused renewal charge", "account_id", accountID, "receipt_id", receipt.ID, "error", rerr)
		}
		if err == nil {
			result.Outcome = subscription.OutcomeNotCharged
			result.Amount = decimal.Zero
		}
	}
	if err != nil {
		logger.Error("billing cycle commit failed", "account_id", accountID, "event", result.Event, "outcome", result.Outcome, "error", err)
		return nil, err
	}

	result.To = updated.Subscription.State
	result.Snapshot = updated.Snapshot()
	metrics.RecordTransition(string(result.From), string(result.To))
	logger.Info("billing cycle applied",
		"account_id", accountID,
		"event", result.Event,
		"outcome", result.Outcome,
		"from", result.From,
		"to", result.To,
	)

	if !appliedElsewhere {
		s.notifyBilling(ctx, updated, result)
	}
	return result, nil
}

// collect charges the effective fee. Declines and a missing payment method are
// outcomes for the state machine; an unreachable provider is an error and
// leaves the event due for the next run.
func (s *service) collect(ctx context.Context, a *account.Account, event subscription.Event, amount decimal.Decimal) (subscription.Outcome, *payment.Receipt, error) {
	payer := payerOf(a)
	hasMethod, err := s.gateway.HasPaymentMethod(ctx, payer)
	if err != nil {
		return "", nil, err
	}
	if !hasMethod {
		return subscription.OutcomeNoPaymentMethod, nil, nil
	}

	sub := a.Subscription
	receipt, err := s.gateway.Charge(ctx, payment.ChargeRequest{
		Payer:       payer,
		Kind:        payment.ChargeSubscription,
		Amount:      amount,
		Currency:    s.cfg.Currency,
		Description: "Monthly subscription",
		IdempotencyKey: payment.IdempotencyKey(payment.ScopeRenewal, map[string]any{
			"account":  a.ID,
			"event":    event,
			"period":   sub.CurrentPeriodEnd.Unix(),
			"attempts": sub.FailedAttempts,
			"amount":   amount.StringFixed(2),
		}),
	})
	switch {
	case err == nil:
		return subscription.OutcomePaid, receipt, nil
	case payment.IsDeclined(err):
		return subscription.OutcomeDeclined, nil, nil
	default:
		return "", nil, err
	}
}

func (s *service) notifyBilling(ctx context.Context, a *account.Account, result *BillingResult) {
	sub := a.Subscription
	var err error
	switch {
	case sub.State == subscription.StateCanceled && result.From != subscription.StateCanceled:
		err = s.notifier.SubscriptionCanceled(ctx, a.ID, canceledAt(sub))
	case result.Outcome == subscription.OutcomePaid:
		err = s.notifier.SubscriptionRenewed(ctx, a.ID, result.Amount, sub.CurrentPeriodEnd)
	case result.Outcome == subscription.OutcomeDeclined || result.Outcome == subscription.OutcomeNoPaymentMethod:
		err = s.notifier.PaymentFailed(ctx, a.ID, result.Amount, sub.NextRetryAt)
	}
	if err != nil {
		logger.Warn("billing notice failed", "account_id", a.ID, "error", err)
	}
}

func canceledAt(sub *subscription.Subscription) time.Time {
	if sub.CanceledAt != nil {
		return *sub.CanceledAt
	}
	return sub.UpdatedAt
}
