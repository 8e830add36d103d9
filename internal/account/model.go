package account

import (
	"sort"
	"time"

	"homepro/internal/subscription"

	"github.com/lib/pq"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// Account is a professional's category set together with its subscription.
// Version increments on every committed change and is the only concurrency
// token callers hold.
type Account struct {
	ID                   string           `db:"id"`
	PrimaryCategory      string           `db:"primary_category"`
	AdditionalCategories pq.StringArray   `db:"additional_categories"`
	Version              int64            `db:"version"`
	FeeOverride          *decimal.Decimal `db:"fee_override"`
	PaymentCustomerID    string           `db:"payment_customer_id"`
	CreatedAt            time.Time        `db:"created_at"`
	UpdatedAt            time.Time        `db:"updated_at"`

	// MonthlyFee is derived from the category set on every read, never stored.
	MonthlyFee   decimal.Decimal            `db:"-"`
	Subscription *subscription.Subscription `db:"-"`
}

// Categories returns the primary category followed by the additional ones.
func (a *Account) Categories() []string {
	return append([]string{a.PrimaryCategory}, a.AdditionalCategories...)
}

func (a *Account) HasCategory(category string) bool {
	return a.PrimaryCategory == category || lo.Contains(a.AdditionalCategories, category)
}

func (a *Account) HasAdditional(category string) bool {
	return lo.Contains(a.AdditionalCategories, category)
}

// SetAdditional replaces the additional set, dropping duplicates and the
// primary, and keeps it sorted so equal sets compare equal.
func (a *Account) SetAdditional(categories []string) {
	set := lo.Uniq(lo.Reject(categories, func(c string, _ int) bool {
		return c == "" || c == a.PrimaryCategory
	}))
	sort.Strings(set)
	a.AdditionalCategories = pq.StringArray(set)
}

// Clone returns a deep copy suitable for building the next version.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	c := *a
	c.AdditionalCategories = append(pq.StringArray{}, a.AdditionalCategories...)
	if a.FeeOverride != nil {
		o := *a.FeeOverride
		c.FeeOverride = &o
	}
	c.Subscription = a.Subscription.Clone()
	return &c
}

// SubscriptionView is the client-facing part of a subscription.
type SubscriptionView struct {
	State             subscription.State `json:"state"`
	TrialEndsAt       time.Time          `json:"trialEndsAt"`
	CurrentPeriodEnd  time.Time          `json:"currentPeriodEnd"`
	CancelAtPeriodEnd bool               `json:"cancelAtPeriodEnd"`
}

// Snapshot is the read model returned by every operation and held by caches.
type Snapshot struct {
	AccountID            string           `json:"accountId"`
	PrimaryCategory      string           `json:"primaryCategory"`
	AdditionalCategories []string         `json:"additionalCategories"`
	MonthlyFee           decimal.Decimal  `json:"monthlyFee" swaggertype:"string" example:"34.77"`
	BilledFee            *decimal.Decimal `json:"billedFee,omitempty" swaggertype:"string" example:"19.99"`
	Subscription         SubscriptionView `json:"subscription"`
	Version              int64            `json:"version"`
}

func (a *Account) Snapshot() *Snapshot {
	snap := &Snapshot{
		AccountID:            a.ID,
		PrimaryCategory:      a.PrimaryCategory,
		AdditionalCategories: append([]string{}, a.AdditionalCategories...),
		MonthlyFee:           a.MonthlyFee,
		Version:              a.Version,
	}
	if a.FeeOverride != nil {
		billed := a.FeeOverride.Round(2)
		snap.BilledFee = &billed
	}
	if a.Subscription != nil {
		snap.Subscription = SubscriptionView{
			State:             a.Subscription.State,
			TrialEndsAt:       a.Subscription.TrialEndsAt,
			CurrentPeriodEnd:  a.Subscription.CurrentPeriodEnd,
			CancelAtPeriodEnd: a.Subscription.CancelAtPeriodEnd,
		}
	} else {
		snap.Subscription.State = subscription.StateNone
	}
	return snap
}
