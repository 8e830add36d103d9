// Package mutation is the single entry point for changes to a professional's
// categories and subscription. Every operation reads the authoritative
// account, applies its change under the account version, and returns the
// resulting snapshot with the fee computed by the category store.
package mutation

import (
	"context"
	"time"

	"homepro/internal/account"
	"homepro/internal/category"
	ierr "homepro/internal/errors"
	"homepro/internal/fee"
	"homepro/internal/logger"
	"homepro/internal/metrics"
	"homepro/internal/payment"
	"homepro/internal/subscription"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
)

type Service interface {
	Signup(ctx context.Context, req SignupRequest) (*account.Snapshot, error)
	AddCategoryWithPayment(ctx context.Context, accountID, category string) (*account.Snapshot, error)
	RemoveCategory(ctx context.Context, accountID, category string) (*account.Snapshot, error)
	PromotePrimary(ctx context.Context, accountID, category string) (*account.Snapshot, error)
	CancelSubscription(ctx context.Context, accountID string) (*account.Snapshot, error)
	ReactivateSubscription(ctx context.Context, accountID string) (*account.Snapshot, error)
	GetStatus(ctx context.Context, accountID string) (*account.Snapshot, error)
	RunBillingCycle(ctx context.Context, accountID string, now time.Time) (*BillingResult, error)
}

type SignupRequest struct {
	AccountID         string
	PrimaryCategory   string
	PaymentCustomerID string
}

// BillingResult describes what one billing cycle did to an account.
type BillingResult struct {
	AccountID string
	Event     subscription.Event
	Outcome   subscription.Outcome
	From      subscription.State
	To        subscription.State
	Amount    decimal.Decimal
	Snapshot  *account.Snapshot
}

type Config struct {
	ConflictRetryAttempts int
	ConflictRetryBackoff  time.Duration
	Currency              string
	Now                   func() time.Time
}

type service struct {
	repo     account.Repository
	store    *category.Store
	fees     *fee.Calculator
	machine  *subscription.Machine
	gateway  payment.Gateway
	notifier Notifier
	cfg      Config
}

func NewService(
	repo account.Repository,
	store *category.Store,
	fees *fee.Calculator,
	machine *subscription.Machine,
	gateway payment.Gateway,
	notifier Notifier,
	cfg Config,
) Service {
	if cfg.ConflictRetryAttempts < 1 {
		cfg.ConflictRetryAttempts = 1
	}
	if cfg.ConflictRetryBackoff <= 0 {
		cfg.ConflictRetryBackoff = 25 * time.Millisecond
	}
	if cfg.Currency == "" {
		cfg.Currency = "usd"
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &service{
		repo:     repo,
		store:    store,
		fees:     fees,
		machine:  machine,
		gateway:  gateway,
		notifier: notifier,
		cfg:      cfg,
	}
}

func (s *service) Signup(ctx context.Context, req SignupRequest) (*account.Snapshot, error) {
	primary, err := category.Normalize(req.PrimaryCategory)
	if err != nil {
		return nil, err
	}
	if req.AccountID == "" {
		return nil, ierr.NewError("account id is required").
			WithHint("Account id is required").
			Mark(ierr.ErrValidation)
	}

	sub, err := s.machine.Start(req.AccountID, s.cfg.Now())
	if err != nil {
		return nil, err
	}

	created, err := s.repo.Create(ctx, &account.Account{
		ID:                   req.AccountID,
		PrimaryCategory:      primary,
		AdditionalCategories: []string{},
		PaymentCustomerID:    req.PaymentCustomerID,
		Subscription:         sub,
	})
	if err != nil {
		return nil, err
	}
	metrics.RecordTransition(string(subscription.StateNone), string(sub.State))

	priced, err := s.store.Price(created)
	if err != nil {
		return nil, err
	}
	logger.Info("professional account created", "account_id", created.ID, "primary_category", primary)
	return priced.Snapshot(), nil
}

func (s *service) AddCategoryWithPayment(ctx context.Context, accountID, raw string) (*account.Snapshot, error) {
	snap, err := s.addCategoryWithPayment(ctx, accountID, raw)
	metrics.RecordCategoryMutation("add", resultLabel(err))
	return snap, err
}

func (s *service) addCategoryWithPayment(ctx context.Context, accountID, raw string) (*account.Snapshot, error) {
	cat, err := category.Normalize(raw)
	if err != nil {
		return nil, err
	}

	current, err := s.store.Get(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if current.HasCategory(cat) {
		return current.Snapshot(), nil
	}
	if err := requireGoodStanding(current, "add_category"); err != nil {
		return nil, err
	}

	sub := current.Subscription
	amount := s.categoryCharge(current, s.cfg.Now())
	receipt, err := s.gateway.Charge(ctx, payment.ChargeRequest{
		Payer:       payerOf(current),
		Kind:        payment.ChargeCategory,
		Amount:      amount,
		Currency:    s.cfg.Currency,
		Description: "Additional service category: " + cat,
		IdempotencyKey: payment.IdempotencyKey(payment.ScopeCategoryAdd, map[string]any{
			"account":  accountID,
			"category": cat,
			"period":   sub.CurrentPeriodStart.Unix(),
			"version":  current.Version,
			"amount":   amount.StringFixed(2),
		}),
	})
	if err != nil {
		logger.Warn("category charge failed", "account_id", accountID, "category", cat, "error", err)
		return nil, err
	}

	version := current.Version
	var updated *account.Account
	err = s.retryOnConflict(ctx, "add_category", func() error {
		a, err := s.store.AddCategory(ctx, accountID, cat, version)
		if err == nil {
			updated = a
			return nil
		}
		if !ierr.IsVersionConflict(err) {
			return err
		}

		fresh, ferr := s.store.Get(ctx, accountID)
		if ferr != nil {
			return ferr
		}
		if fresh.HasCategory(cat) {
			updated = fresh
			return nil
		}
		if serr := requireGoodStanding(fresh, "add_category"); serr != nil {
			return serr
		}
		version = fresh.Version
		return err
	})
	if err != nil {
		if rerr := s.gateway.Refund(ctx, receipt); rerr != nil {
			logger.Error("refund after failed category write", "account_id", accountID, "receipt_id", receipt.ID, "error", rerr)
		}
		return nil, err
	}

	if nerr := s.notifier.CategoryAdded(ctx, accountID, cat, receipt.Amount, updated.MonthlyFee); nerr != nil {
		logger.Warn("category added notice failed", "account_id", accountID, "error", nerr)
	}
	logger.Info("category added", "account_id", accountID, "category", cat, "charged", receipt.Amount.StringFixed(2), "version", updated.Version)
	return updated.Snapshot(), nil
}

func (s *service) RemoveCategory(ctx context.Context, accountID, raw string) (*account.Snapshot, error) {
	snap, err := s.rewriteCategories(ctx, "remove_category", accountID, raw, s.store.RemoveCategory)
	metrics.RecordCategoryMutation("remove", resultLabel(err))
	return snap, err
}

func (s *service) PromotePrimary(ctx context.Context, accountID, raw string) (*account.Snapshot, error) {
	snap, err := s.rewriteCategories(ctx, "promote_primary", accountID, raw, s.store.PromotePrimary)
	metrics.RecordCategoryMutation("promote", resultLabel(err))
	return snap, err
}

type categoryWrite func(ctx context.Context, accountID, category string, expectedVersion int64) (*account.Account, error)

// rewriteCategories runs a store write that needs no payment, re-reading the
// version after each conflict.
func (s *service) rewriteCategories(ctx context.Context, op, accountID, raw string, write categoryWrite) (*account.Snapshot, error) {
	cat, err := category.Normalize(raw)
	if err != nil {
		return nil, err
	}

	var updated *account.Account
	err = s.retryOnConflict(ctx, op, func() error {
		current, err := s.repo.Get(ctx, accountID)
		if err != nil {
			return err
		}
		updated, err = write(ctx, accountID, cat, current.Version)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated.Snapshot(), nil
}

func (s *service) CancelSubscription(ctx context.Context, accountID string) (*account.Snapshot, error) {
	updated, err := s.commit(ctx, "cancel", accountID, func(a *account.Account) (*account.Account, error) {
		if a.Subscription == nil {
			return nil, noSubscription(accountID)
		}
		if a.Subscription.CancelAtPeriodEnd && a.Subscription.State.InGoodStanding() {
			return nil, nil
		}
		next := a.Clone()
		if err := s.machine.Cancel(next.Subscription); err != nil {
			return nil, err
		}
		return next, nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info("subscription cancellation scheduled", "account_id", accountID, "period_end", updated.Subscription.CurrentPeriodEnd)
	return updated.Snapshot(), nil
}

func (s *service) ReactivateSubscription(ctx context.Context, accountID string) (*account.Snapshot, error) {
	now := s.cfg.Now()

	current, err := s.store.Get(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if current.Subscription == nil {
		return nil, noSubscription(accountID)
	}

	needsCharge, err := s.machine.NeedsCharge(current.Subscription, now)
	if err != nil {
		return nil, err
	}

	var receipt *payment.Receipt
	if needsCharge {
		receipt, err = s.chargeForReactivation(ctx, current)
		if err != nil {
			return nil, err
		}
	}

	from := current.Subscription.State
	chargeUsed := false
	updated, err := s.commit(ctx, "reactivate", accountID, func(a *account.Account) (*account.Account, error) {
		if a.Subscription == nil {
			return nil, noSubscription(accountID)
		}
		stillNeeds, err := s.machine.NeedsCharge(a.Subscription, now)
		if err != nil {
			return nil, err
		}
		chargeUsed = false
		if !stillNeeds && !a.Subscription.CancelAtPeriodEnd && a.Subscription.State.InGoodStanding() {
			return nil, nil
		}

		next := a.Clone()
		if err := s.machine.Reactivate(next.Subscription, now, receipt != nil); err != nil {
			return nil, err
		}
		if stillNeeds {
			next.Subscription.PeriodChargeKey = receipt.IdempotencyKey
		}
		chargeUsed = stillNeeds
		return next, nil
	})
	if receipt != nil && (err != nil || !chargeUsed) {
		if rerr := s.gateway.Refund(ctx, receipt); rerr != nil {
			logger.Error("refund after unused reactivation charge", "account_id", accountID, "receipt_id", receipt.ID, "error", rerr)
		}
	}
	if err != nil {
		return nil, err
	}

	metrics.RecordTransition(string(from), string(updated.Subscription.State))
	logger.Info("subscription reactivated", "account_id", accountID, "from", from, "to", updated.Subscription.State)
	return updated.Snapshot(), nil
}

func (s *service) chargeForReactivation(ctx context.Context, a *account.Account) (*payment.Receipt, error) {
	payer := payerOf(a)
	hasMethod, err := s.gateway.HasPaymentMethod(ctx, payer)
	if err != nil {
		return nil, err
	}
	if !hasMethod {
		return nil, ierr.NewError("no payment method on file").
			WithHint("Add a payment method before reactivating the subscription").
			WithReportableDetails(map[string]any{"state": a.Subscription.State}).
			Mark(ierr.ErrInvalidOperation)
	}

	return s.gateway.Charge(ctx, payment.ChargeRequest{
		Payer:       payer,
		Kind:        payment.ChargeSubscription,
		Amount:      fee.Effective(a.MonthlyFee, a.FeeOverride),
		Currency:    s.cfg.Currency,
		Description: "Subscription reactivation",
		IdempotencyKey: payment.IdempotencyKey(payment.ScopeReactivation, map[string]any{
			"account": a.ID,
			"version": a.Version,
			"amount":  fee.Effective(a.MonthlyFee, a.FeeOverride).StringFixed(2),
		}),
	})
}

func (s *service) GetStatus(ctx context.Context, accountID string) (*account.Snapshot, error) {
	a, err := s.store.Get(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return a.Snapshot(), nil
}

// commit applies change to the freshest account and writes it under the
// version it was read at, re-reading after each conflict. A change returning
// a nil account leaves the current state as is.
func (s *service) commit(
	ctx context.Context,
	op string,
	accountID string,
	change func(a *account.Account) (*account.Account, error),
) (*account.Account, error) {
	var result *account.Account
	err := s.retryOnConflict(ctx, op, func() error {
		current, err := s.repo.Get(ctx, accountID)
		if err != nil {
			return err
		}

		next, err := change(current)
		if err != nil {
			return err
		}
		if next == nil {
			result, err = s.store.Price(current)
			return err
		}

		updated, err := s.repo.Update(ctx, next, current.Version)
		if err != nil {
			return err
		}
		result, err = s.store.Price(updated)
		return err
	})
	return result, err
}

// retryOnConflict runs fn until it succeeds, fails with anything but a
// version conflict, or runs out of attempts.
func (s *service) retryOnConflict(ctx context.Context, op string, fn func() error) error {
	b := backoff.WithContext(
		backoff.WithMaxRetries(
			backoff.NewExponentialBackOff(
				backoff.WithInitialInterval(s.cfg.ConflictRetryBackoff),
				backoff.WithMaxInterval(20*s.cfg.ConflictRetryBackoff),
			),
			uint64(s.cfg.ConflictRetryAttempts-1),
		),
		ctx,
	)

	conflicts := 0
	err := backoff.Retry(func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if ierr.IsVersionConflict(err) {
			conflicts++
			return err
		}
		return backoff.Permanent(err)
	}, b)

	switch {
	case err != nil && ierr.IsVersionConflict(err):
		metrics.RecordVersionConflict(op, "exhausted")
		logger.Warn("version conflict retries exhausted", "operation", op, "attempts", conflicts)
	case conflicts > 0:
		metrics.RecordVersionConflict(op, "resolved")
	}
	return err
}

// categoryCharge is the immediate charge for one more category: the pro-rated
// marginal fee for the rest of the period. Trials and grandfathered accounts
// only verify the payment method.
func (s *service) categoryCharge(a *account.Account, now time.Time) decimal.Decimal {
	sub := a.Subscription
	if sub.State == subscription.StateTrialing || a.FeeOverride != nil {
		return decimal.Zero
	}
	return s.fees.ProRate(s.fees.Marginal(), now, sub.CurrentPeriodStart, sub.CurrentPeriodEnd)
}

func requireGoodStanding(a *account.Account, action string) error {
	if a.Subscription == nil {
		return noSubscription(a.ID)
	}
	if !a.Subscription.State.InGoodStanding() {
		return ierr.NewError("subscription not in good standing").
			WithHint("Categories can only be added while the subscription is trialing or active").
			WithReportableDetails(map[string]any{
				"action": action,
				"state":  a.Subscription.State,
			}).
			Mark(ierr.ErrStateTransition)
	}
	return nil
}

func noSubscription(accountID string) error {
	return ierr.NewError("account has no subscription").
		WithHint("This account has no subscription").
		WithReportableDetails(map[string]any{"account_id": accountID}).
		Mark(ierr.ErrStateTransition)
}

func payerOf(a *account.Account) payment.Payer {
	return payment.Payer{AccountID: a.ID, CustomerRef: a.PaymentCustomerID}
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	return ierr.KindOf(err)
}
