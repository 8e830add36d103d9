// Package testutil holds in-memory collaborators shared by service tests.
package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"homepro/internal/account"
	ierr "homepro/internal/errors"
	"homepro/internal/subscription"
)

// InMemoryAccountRepository is an account.Repository with the same version
// semantics as the postgres one.
type InMemoryAccountRepository struct {
	mu       sync.Mutex
	accounts map[string]*account.Account

	// BeforeUpdate, when set, runs before each Update takes the lock. Tests use
	// it to slip in a competing write.
	BeforeUpdate func(next *account.Account, expectedVersion int64)
	// UpdateErr, when set, fails every Update without writing.
	UpdateErr error
	updates   int
}

func NewInMemoryAccountRepository() *InMemoryAccountRepository {
	return &InMemoryAccountRepository{accounts: make(map[string]*account.Account)}
}

func (r *InMemoryAccountRepository) Create(ctx context.Context, a *account.Account) (*account.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.accounts[a.ID]; ok {
		return nil, ierr.NewError("account exists").
			WithHint("An account already exists for this user").
			Mark(ierr.ErrInvalidOperation)
	}

	created := a.Clone()
	created.Version = 1
	created.CreatedAt = time.Now()
	created.UpdatedAt = created.CreatedAt
	if created.Subscription != nil {
		created.Subscription.AccountID = created.ID
	}
	r.accounts[a.ID] = created
	return created.Clone(), nil
}

func (r *InMemoryAccountRepository) Get(ctx context.Context, id string) (*account.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.accounts[id]
	if !ok {
		return nil, account.NotFound(id)
	}
	return a.Clone(), nil
}

func (r *InMemoryAccountRepository) Update(ctx context.Context, next *account.Account, expectedVersion int64) (*account.Account, error) {
	if r.BeforeUpdate != nil {
		r.BeforeUpdate(next, expectedVersion)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.UpdateErr != nil {
		return nil, r.UpdateErr
	}
	current, ok := r.accounts[next.ID]
	if !ok {
		return nil, account.NotFound(next.ID)
	}
	if current.Version != expectedVersion {
		return nil, account.VersionConflict(next.ID, expectedVersion)
	}

	updated := next.Clone()
	updated.Version = expectedVersion + 1
	updated.UpdatedAt = time.Now()
	r.accounts[next.ID] = updated
	r.updates++
	return updated.Clone(), nil
}

func (r *InMemoryAccountRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var due subscription.Machine
	ids := []string{}
	for id, a := range r.accounts {
		if a.Subscription != nil && due.Due(a.Subscription, now) != subscription.EventNone {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

// Put stores a directly, bypassing version checks.
func (r *InMemoryAccountRepository) Put(a *account.Account) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accounts[a.ID] = a.Clone()
}

// Updates is the number of committed writes.
func (r *InMemoryAccountRepository) Updates() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.updates
}
