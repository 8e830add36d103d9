// Package category owns the category set of a professional account. It is the
// only writer of the set and recomputes the monthly fee on every read.
package category

import (
	"context"
	"strings"
	"unicode/utf8"

	"homepro/internal/account"
	ierr "homepro/internal/errors"
	"homepro/internal/fee"
)

const MaxLabelLength = 100

type Store struct {
	repo account.Repository
	fees *fee.Calculator
}

func NewStore(repo account.Repository, fees *fee.Calculator) *Store {
	return &Store{repo: repo, fees: fees}
}

// Get returns the authoritative account with MonthlyFee filled in.
func (s *Store) Get(ctx context.Context, accountID string) (*account.Account, error) {
	a, err := s.repo.Get(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return s.Price(a)
}

func (s *Store) AddCategory(ctx context.Context, accountID, category string, expectedVersion int64) (*account.Account, error) {
	category, err := Normalize(category)
	if err != nil {
		return nil, err
	}

	return s.mutate(ctx, accountID, expectedVersion, func(next *account.Account) (bool, error) {
		if next.HasCategory(category) {
			return false, nil
		}
		next.SetAdditional(append(next.AdditionalCategories, category))
		return true, nil
	})
}

func (s *Store) RemoveCategory(ctx context.Context, accountID, category string, expectedVersion int64) (*account.Account, error) {
	category, err := Normalize(category)
	if err != nil {
		return nil, err
	}

	return s.mutate(ctx, accountID, expectedVersion, func(next *account.Account) (bool, error) {
		if next.PrimaryCategory == category {
			return false, ierr.NewError("cannot remove primary category").
				WithHint("The primary category cannot be removed. Promote another category first").
				WithReportableDetails(map[string]any{"category": category}).
				Mark(ierr.ErrInvalidOperation)
		}
		if !next.HasAdditional(category) {
			return false, nil
		}
		remaining := make([]string, 0, len(next.AdditionalCategories))
		for _, c := range next.AdditionalCategories {
			if c != category {
				remaining = append(remaining, c)
			}
		}
		next.SetAdditional(remaining)
		return true, nil
	})
}

// PromotePrimary swaps newPrimary with the current primary, which becomes an
// additional category. The fee is unchanged since the set size is.
func (s *Store) PromotePrimary(ctx context.Context, accountID, newPrimary string, expectedVersion int64) (*account.Account, error) {
	newPrimary, err := Normalize(newPrimary)
	if err != nil {
		return nil, err
	}

	return s.mutate(ctx, accountID, expectedVersion, func(next *account.Account) (bool, error) {
		if next.PrimaryCategory == newPrimary {
			return false, nil
		}
		if !next.HasAdditional(newPrimary) {
			return false, ierr.NewError("promoted category is not on the account").
				WithHint("Only an existing additional category can become primary").
				WithReportableDetails(map[string]any{"category": newPrimary}).
				Mark(ierr.ErrInvalidOperation)
		}
		old := next.PrimaryCategory
		next.PrimaryCategory = newPrimary
		next.SetAdditional(append(next.AdditionalCategories, old))
		return true, nil
	})
}

// mutate applies change to a copy of the current account and writes it with a
// version check. A change that reports false is returned unwritten.
func (s *Store) mutate(
	ctx context.Context,
	accountID string,
	expectedVersion int64,
	change func(next *account.Account) (bool, error),
) (*account.Account, error) {
	current, err := s.repo.Get(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if current.Version != expectedVersion {
		return nil, account.VersionConflict(accountID, expectedVersion)
	}

	next := current.Clone()
	changed, err := change(next)
	if err != nil {
		return nil, err
	}
	if !changed {
		return s.Price(current)
	}

	if _, err := s.fees.Compute(next.Categories()); err != nil {
		return nil, err
	}

	updated, err := s.repo.Update(ctx, next, expectedVersion)
	if err != nil {
		return nil, err
	}
	return s.Price(updated)
}

// Price fills in MonthlyFee from the account's current category set.
func (s *Store) Price(a *account.Account) (*account.Account, error) {
	monthly, err := s.fees.Compute(a.Categories())
	if err != nil {
		return nil, err
	}
	a.MonthlyFee = monthly
	return a, nil
}

// Normalize trims a category label and rejects blank, oversized or non-UTF-8
// ones.
func Normalize(category string) (string, error) {
	if !utf8.ValidString(category) {
		return "", ierr.NewError("category is not valid UTF-8").
			WithHint("Category contains invalid characters").
			Mark(ierr.ErrValidation)
	}
	category = strings.TrimSpace(category)
	if category == "" {
		return "", ierr.NewError("category is required").
			WithHint("Category must not be empty").
			Mark(ierr.ErrValidation)
	}
	if utf8.RuneCountInString(category) > MaxLabelLength {
		return "", ierr.NewError("category too long").
			WithHintf("Category must be at most %d characters", MaxLabelLength).
			WithReportableDetails(map[string]any{"max_length": MaxLabelLength}).
			Mark(ierr.ErrValidation)
	}
	return category, nil
}
