package wallet

import (
	"context"
	"database/sql"

	ierr "homepro/internal/errors"

	"github.com/cockroachdb/errors"
	"github.com/jmoiron/sqlx"
)

var ErrInsufficientBalance = ierr.NewError("insufficient balance").
	WithHint("Your wallet balance is too low. Top up and try again").
	Mark(ierr.ErrPayment)

const transactionColumns = `id, wallet_id, amount_cents, type, balance_after, idempotency_key, created_at`

type PostgresRepository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) GetOrCreateWallet(ctx context.Context, accountID string) (*Wallet, error) {
	w := &Wallet{}
	err := r.db.GetContext(ctx, w, `SELECT * FROM wallets WHERE account_id = $1`, accountID)
	if err == nil {
		return w, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, dbError(err, "get wallet")
	}

	err = r.db.QueryRowxContext(ctx,
		`INSERT INTO wallets (account_id)
		 VALUES ($1)
		 ON CONFLICT (account_id) DO UPDATE SET updated_at = wallets.updated_at
		 RETURNING id, account_id, balance_cents, currency, created_at, updated_at`,
		accountID,
	).StructScan(w)
	if err != nil {
		return nil, dbError(err, "create wallet")
	}

	return w, nil
}

func (r *PostgresRepository) Post(ctx context.Context, accountID string, amountCents int64, txType, idempotencyKey string) (*Transaction, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, dbError(err, "begin wallet post")
	}
	defer tx.Rollback()

	var w Wallet
	err = tx.QueryRowxContext(ctx,
		`SELECT id, account_id, balance_cents, currency, created_at, updated_at
		 FROM wallets
		 WHERE account_id = $1
		 FOR UPDATE`,
		accountID,
	).StructScan(&w)
	if errors.Is(err, sql.ErrNoRows) {
		err = tx.QueryRowxContext(ctx,
			`INSERT INTO wallets (account_id)
			 VALUES ($1)
			 RETURNING id, account_id, balance_cents, currency, created_at, updated_at`,
			accountID,
		).StructScan(&w)
	}
	if err != nil {
		return nil, dbError(err, "lock wallet")
	}

	// the wallet row lock serializes replays of the same key
	var key *string
	if idempotencyKey != "" {
		key = &idempotencyKey
		prior := &Transaction{}
		err = tx.GetContext(ctx, prior,
			`SELECT `+transactionColumns+`
			 FROM wallet_transactions
			 WHERE idempotency_key = $1`,
			idempotencyKey,
		)
		if err == nil {
			return prior, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, dbError(err, "find wallet transaction")
		}
	}

	newBalance := w.BalanceCents + amountCents
	if newBalance < 0 {
		return nil, ErrInsufficientBalance
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE wallets
		 SET balance_cents = $1, updated_at = NOW()
		 WHERE id = $2`,
		newBalance, w.ID,
	)
	if err != nil {
		return nil, dbError(err, "update wallet")
	}

	entry := &Transaction{}
	err = tx.QueryRowxContext(ctx,
		`INSERT INTO wallet_transactions (wallet_id, amount_cents, type, balance_after, idempotency_key)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+transactionColumns,
		w.ID, amountCents, txType, newBalance, key,
	).StructScan(entry)
	if err != nil {
		return nil, dbError(err, "insert wallet transaction")
	}

	if err := tx.Commit(); err != nil {
		return nil, dbError(err, "commit wallet post")
	}
	return entry, nil
}

func (r *PostgresRepository) FindByKey(ctx context.Context, idempotencyKey string) (*Transaction, error) {
	entry := &Transaction{}
	err := r.db.GetContext(ctx, entry,
		`SELECT `+transactionColumns+`
		 FROM wallet_transactions
		 WHERE idempotency_key = $1`,
		idempotencyKey,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, dbError(err, "find wallet transaction")
	}
	return entry, nil
}

func (r *PostgresRepository) TopUp(ctx context.Context, accountID string, amountCents int64) (*Transaction, error) {
	if amountCents <= 0 {
		return nil, ierr.NewError("top up amount must be positive").
			WithHint("amount_cents must be positive").
			Mark(ierr.ErrValidation)
	}
	return r.Post(ctx, accountID, amountCents, TypeTopUp, "")
}

func (r *PostgresRepository) GetTransactions(ctx context.Context, accountID string, limit, offset int) ([]Transaction, error) {
	if limit <= 0 {
		limit = 50
	}

	var walletID int
	err := r.db.GetContext(ctx, &walletID, `SELECT id FROM wallets WHERE account_id = $1`, accountID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return []Transaction{}, nil
		}
		return nil, dbError(err, "get wallet")
	}

	txs := []Transaction{}
	err = r.db.SelectContext(ctx, &txs, `
		SELECT `+transactionColumns+`
		FROM wallet_transactions
		WHERE wallet_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, walletID, limit, offset)
	if err != nil {
		return nil, dbError(err, "list wallet transactions")
	}

	return txs, nil
}

func dbError(err error, op string) error {
	return ierr.WithError(err).
		WithMessage(op).
		WithHint("A database error occurred").
		Mark(ierr.ErrDatabase)
}
