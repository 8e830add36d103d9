// Package fee prices a professional's category set. It is the only place a
// monthly fee is computed; everything else renders the value it returns.
package fee

import (
	"strings"
	"time"

	ierr "homepro/internal/errors"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

const day = 24 * time.Hour

type Calculator struct {
	Base          decimal.Decimal
	PerAdditional decimal.Decimal
}

func NewCalculator(base, perAdditional decimal.Decimal) *Calculator {
	return &Calculator{
		Base:          base,
		PerAdditional: perAdditional,
	}
}

// Compute returns base + max(0, n-1) * perAdditional for the distinct,
// non-blank categories given, rounded to cents.
func (c *Calculator) Compute(categories []string) (decimal.Decimal, error) {
	n := len(distinct(categories))
	if n == 0 {
		return decimal.Zero, ierr.NewError("fee requested for an empty category set").
			WithHint("No professional may have zero categories").
			Mark(ierr.ErrInvalidState)
	}

	extra := decimal.NewFromInt(int64(n - 1))
	return c.Base.Add(extra.Mul(c.PerAdditional)).Round(2), nil
}

// Marginal is the monthly price of one more category.
func (c *Calculator) Marginal() decimal.Decimal {
	return c.PerAdditional.Round(2)
}

// ProRate scales amount by the unused share of [start, end) at now, counted
// in whole days. A partly used day counts as unused, so every call on the same
// day yields the same amount.
func (c *Calculator) ProRate(amount decimal.Decimal, now, start, end time.Time) decimal.Decimal {
	total := end.Sub(start)
	if total <= 0 || !now.Before(end) {
		return decimal.Zero
	}
	if !now.After(start) {
		return amount.Round(2)
	}

	totalDays := wholeDays(total)
	remainingDays := min(wholeDays(end.Sub(now)), totalDays)
	share := decimal.NewFromInt(remainingDays).Div(decimal.NewFromInt(totalDays))
	return amount.Mul(share).Round(2)
}

func wholeDays(d time.Duration) int64 {
	return int64((d + day - 1) / day)
}

// Effective is the amount actually billed: a grandfathered override stored on
// the account wins over the computed fee.
func Effective(computed decimal.Decimal, override *decimal.Decimal) decimal.Decimal {
	if override != nil {
		return override.Round(2)
	}
	return computed
}

func distinct(categories []string) []string {
	cleaned := lo.FilterMap(categories, func(c string, _ int) (string, bool) {
		c = strings.TrimSpace(c)
		return c, c != ""
	})
	return lo.Uniq(cleaned)
}
