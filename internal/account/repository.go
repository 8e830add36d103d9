package account

import (
	"context"
	"database/sql"
	"time"

	ierr "homepro/internal/errors"
	"homepro/internal/subscription"

	"github.com/cockroachdb/errors"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const uniqueViolation = "23505"

type PostgresRepository struct {
	db   *sqlx.DB
	subs *subscription.Repository
}

func NewRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{
		db:   db,
		subs: subscription.NewRepository(db),
	}
}

func (r *PostgresRepository) Create(ctx context.Context, a *Account) (*Account, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, dbError(err, "begin account create")
	}
	defer tx.Rollback()

	created := a.Clone()
	created.Version = 1
	err = tx.QueryRowxContext(ctx, `
		INSERT INTO professional_accounts (id, primary_category, additional_categories, version, fee_override, payment_customer_id)
		VALUES ($1, $2, $3, 1, $4, $5)
		RETURNING created_at, updated_at
	`, created.ID, created.PrimaryCategory, created.AdditionalCategories, created.FeeOverride, created.PaymentCustomerID).
		Scan(&created.CreatedAt, &created.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return nil, ierr.WithError(err).
				WithHint("An account already exists for this user").
				WithReportableDetails(map[string]any{"account_id": a.ID}).
				Mark(ierr.ErrInvalidOperation)
		}
		return nil, dbError(err, "insert account")
	}

	if created.Subscription != nil {
		created.Subscription.AccountID = created.ID
		if err := r.subs.Insert(ctx, tx, created.Subscription); err != nil {
			return nil, dbError(err, "insert subscription")
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, dbError(err, "commit account create")
	}
	return created, nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*Account, error) {
	a := &Account{}
	err := r.db.GetContext(ctx, a, `
		SELECT id, primary_category, additional_categories, version, fee_override, payment_customer_id, created_at, updated_at
		FROM professional_accounts
		WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFound(id)
	}
	if err != nil {
		return nil, dbError(err, "get account")
	}

	sub, err := r.subs.GetByAccount(ctx, r.db, id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, dbError(err, "get subscription")
	default:
		a.Subscription = sub
	}
	return a, nil
}

// Update commits the category set and subscription as one unit guarded by
// the version column.
func (r *PostgresRepository) Update(ctx context.Context, next *Account, expectedVersion int64) (*Account, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, dbError(err, "begin account update")
	}
	defer tx.Rollback()

	updated := next.Clone()
	res, err := tx.ExecContext(ctx, `
		UPDATE professional_accounts
		SET primary_category = $3,
		    additional_categories = $4,
		    fee_override = $5,
		    payment_customer_id = $6,
		    version = version + 1,
		    updated_at = NOW()
		WHERE id = $1 AND version = $2
	`, updated.ID, expectedVersion, updated.PrimaryCategory, updated.AdditionalCategories,
		updated.FeeOverride, updated.PaymentCustomerID)
	if err != nil {
		return nil, dbError(err, "update account")
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return nil, dbError(err, "update account")
	}
	if rows == 0 {
		var exists bool
		if err := tx.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM professional_accounts WHERE id = $1)`, updated.ID); err != nil {
			return nil, dbError(err, "check account")
		}
		if !exists {
			return nil, NotFound(updated.ID)
		}
		return nil, VersionConflict(updated.ID, expectedVersion)
	}

	if updated.Subscription != nil {
		updated.Subscription.AccountID = updated.ID
		if err := r.subs.Update(ctx, tx, updated.Subscription); err != nil {
			return nil, dbError(err, "update subscription")
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, dbError(err, "commit account update")
	}

	updated.Version = expectedVersion + 1
	updated.UpdatedAt = time.Now()
	return updated, nil
}

func (r *PostgresRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]string, error) {
	ids, err := r.subs.ListDue(ctx, now, limit)
	if err != nil {
		return nil, dbError(err, "list due subscriptions")
	}
	return ids, nil
}

// VersionConflict is returned when a write was based on a stale version.
func VersionConflict(id string, expectedVersion int64) error {
	return ierr.NewError("account version mismatch").
		WithHint("The account was changed by another session. Refresh and try again").
		WithReportableDetails(map[string]any{
			"account_id":       id,
			"expected_version": expectedVersion,
		}).
		Mark(ierr.ErrVersionConflict)
}

// NotFound is returned for an unknown account id.
func NotFound(id string) error {
	return ierr.NewError("account not found").
		WithHintf("Account %s was not found", id).
		WithReportableDetails(map[string]any{"account_id": id}).
		Mark(ierr.ErrNotFound)
}

func dbError(err error, op string) error {
	return ierr.WithError(err).
		WithMessage(op).
		WithHint("A database error occurred").
		Mark(ierr.ErrDatabase)
}
