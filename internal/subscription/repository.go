package subscription

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
)

const subscriptionColumns = `account_id, state, prior_state, trial_ends_at, current_period_start, current_period_end,
		       cancel_at_period_end, canceled_at, failed_attempts, next_retry_at, period_charge_key, updated_at`

// Repository persists subscriptions. Writes take the executor explicitly so
// they can join the caller's transaction.
type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Insert(ctx context.Context, ext sqlx.ExtContext, sub *Subscription) error {
	_, err := ext.ExecContext(ctx, `
		INSERT INTO subscriptions (account_id, state, prior_state, trial_ends_at, current_period_start, current_period_end,
		                           cancel_at_period_end, canceled_at, failed_attempts, next_retry_at, period_charge_key, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
	`, sub.AccountID, sub.State, sub.PriorState, sub.TrialEndsAt, sub.CurrentPeriodStart, sub.CurrentPeriodEnd,
		sub.CancelAtPeriodEnd, sub.CanceledAt, sub.FailedAttempts, sub.NextRetryAt, sub.PeriodChargeKey)
	return err
}

// Update overwrites the subscription row. The caller guards it with the
// account version check in the same transaction.
func (r *Repository) Update(ctx context.Context, ext sqlx.ExtContext, sub *Subscription) error {
	_, err := ext.ExecContext(ctx, `
		UPDATE subscriptions
		SET state = $2,
		    prior_state = $3,
		    trial_ends_at = $4,
		    current_period_start = $5,
		    current_period_end = $6,
		    cancel_at_period_end = $7,
		    canceled_at = $8,
		    failed_attempts = $9,
		    next_retry_at = $10,
		    period_charge_key = $11,
		    updated_at = NOW()
		WHERE account_id = $1
	`, sub.AccountID, sub.State, sub.PriorState, sub.TrialEndsAt, sub.CurrentPeriodStart, sub.CurrentPeriodEnd,
		sub.CancelAtPeriodEnd, sub.CanceledAt, sub.FailedAttempts, sub.NextRetryAt, sub.PeriodChargeKey)
	return err
}

func (r *Repository) GetByAccount(ctx context.Context, q sqlx.QueryerContext, accountID string) (*Subscription, error) {
	sub := &Subscription{}
	err := sqlx.GetContext(ctx, q, sub, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE account_id = $1
	`, accountID)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// ListDue returns the accounts whose trial, period or retry has come due.
func (r *Repository) ListDue(ctx context.Context, now time.Time, limit int) ([]string, error) {
	ids := []string{}
	err := r.db.SelectContext(ctx, &ids, `
		SELECT account_id
		FROM subscriptions
		WHERE (state = 'trialing' AND trial_ends_at <= $1)
		   OR (state = 'active' AND current_period_end <= $1)
		   OR (state = 'past_due' AND next_retry_at <= $1)
		ORDER BY updated_at
		LIMIT $2
	`, now, limit)
	return ids, err
}
