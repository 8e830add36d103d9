package wallet

import "time"

// Wallet is the prepaid balance a professional pays their subscription from.
type Wallet struct {
	ID           int       `db:"id" json:"id"`
	AccountID    string    `db:"account_id" json:"account_id"`
	BalanceCents int64     `db:"balance_cents" json:"balance_cents"`
	Currency     string    `db:"currency" json:"currency"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

const (
	TypeTopUp              = "topup"
	TypeSubscriptionCharge = "subscription_charge"
	TypeCategoryCharge     = "category_charge"
	TypeRefund             = "refund"
)

type Transaction struct {
	ID             int       `db:"id" json:"id"`
	WalletID       int       `db:"wallet_id" json:"wallet_id"`
	AmountCents    int64     `db:"amount_cents" json:"amount_cents"`
	Type           string    `db:"type" json:"type"`
	BalanceAfter   int64     `db:"balance_after" json:"balance_after"`
	IdempotencyKey *string   `db:"idempotency_key" json:"idempotency_key,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}
