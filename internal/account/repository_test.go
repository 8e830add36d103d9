package account

import (
	"context"
	"regexp"
	"testing"
	"time"

	ierr "homepro/internal/errors"
	"homepro/internal/subscription"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupAccountMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	sqlxDB := sqlx.NewDb(db, "sqlmock")
	repo := NewRepository(sqlxDB)

	closer := func() { sqlxDB.Close() }
	return repo, mock, closer
}

func accountRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "primary_category", "additional_categories", "version", "fee_override",
		"payment_customer_id", "created_at", "updated_at",
	})
}

func subscriptionRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"account_id", "state", "prior_state", "trial_ends_at", "current_period_start", "current_period_end",
		"cancel_at_period_end", "canceled_at", "failed_attempts", "next_retry_at", "period_charge_key", "updated_at",
	})
}

func TestCreateAccount(t *testing.T) {
	repo, mock, close := setupAccountMock(t)
	defer close()

	now := time.Now()
	a := &Account{
		ID:              "acc-1",
		PrimaryCategory: "Electrician",
		Subscription: &subscription.Subscription{
			State:            subscription.StateTrialing,
			TrialEndsAt:      now.Add(time.Hour),
			CurrentPeriodEnd: now.Add(time.Hour),
		},
	}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO professional_accounts`)).
		WithArgs("acc-1", "Electrician", sqlmock.AnyArg(), nil, "").
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO subscriptions`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	created, err := repo.Create(context.Background(), a)
	require.NoError(t, err)
	assert.Equal(t, int64(1), created.Version)
	assert.Equal(t, "acc-1", created.Subscription.AccountID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateAccount_Duplicate(t *testing.T) {
	repo, mock, close := setupAccountMock(t)
	defer close()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO professional_accounts`)).
		WillReturnError(&pq.Error{Code: uniqueViolation})
	mock.ExpectRollback()

	_, err := repo.Create(context.Background(), &Account{ID: "acc-1", PrimaryCategory: "Plumber"})
	require.Error(t, err)
	assert.True(t, ierr.IsInvalidOperation(err))
}

func TestGetAccount(t *testing.T) {
	repo, mock, close := setupAccountMock(t)
	defer close()

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta(`FROM professional_accounts`)).
		WithArgs("acc-1").
		WillReturnRows(accountRows().AddRow(
			"acc-1", "Electrician", "{Plumber}", 3, "19.99", "cus_1", now, now,
		))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM subscriptions`)).
		WithArgs("acc-1").
		WillReturnRows(subscriptionRows().AddRow(
			"acc-1", "active", "trialing", now, now, now.Add(time.Hour), false, nil, 0, nil, "", now,
		))

	a, err := repo.Get(context.Background(), "acc-1")
	require.NoError(t, err)
	assert.Equal(t, "Electrician", a.PrimaryCategory)
	assert.Equal(t, pq.StringArray{"Plumber"}, a.AdditionalCategories)
	assert.Equal(t, int64(3), a.Version)
	require.NotNil(t, a.FeeOverride)
	assert.Equal(t, "19.99", a.FeeOverride.String())
	require.NotNil(t, a.Subscription)
	assert.Equal(t, subscription.StateActive, a.Subscription.State)
}

func TestGetAccount_NotFound(t *testing.T) {
	repo, mock, close := setupAccountMock(t)
	defer close()

	mock.ExpectQuery(regexp.QuoteMeta(`FROM professional_accounts`)).
		WithArgs("missing").
		WillReturnRows(accountRows())

	_, err := repo.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, ierr.IsNotFound(err))
}

func TestUpdateAccount(t *testing.T) {
	repo, mock, close := setupAccountMock(t)
	defer close()

	next := &Account{
		ID:                   "acc-1",
		PrimaryCategory:      "Electrician",
		AdditionalCategories: pq.StringArray{"Plumber"},
		Version:              1,
		Subscription:         &subscription.Subscription{State: subscription.StateTrialing},
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE professional_accounts`)).
		WithArgs("acc-1", int64(1), "Electrician", sqlmock.AnyArg(), nil, "").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE subscriptions`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	updated, err := repo.Update(context.Background(), next, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Version)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateAccount_StaleVersion(t *testing.T) {
	repo, mock, close := setupAccountMock(t)
	defer close()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE professional_accounts`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT EXISTS`)).
		WithArgs("acc-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	_, err := repo.Update(context.Background(), &Account{ID: "acc-1", PrimaryCategory: "Electrician"}, 4)
	require.Error(t, err)
	assert.True(t, ierr.IsVersionConflict(err))
	assert.Equal(t, float64(4), ierr.Details(err)["expected_version"])
}

func TestUpdateAccount_Missing(t *testing.T) {
	repo, mock, close := setupAccountMock(t)
	defer close()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE professional_accounts`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT EXISTS`)).
		WithArgs("acc-9").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectRollback()

	_, err := repo.Update(context.Background(), &Account{ID: "acc-9", PrimaryCategory: "Electrician"}, 1)
	require.Error(t, err)
	assert.True(t, ierr.IsNotFound(err))
}
