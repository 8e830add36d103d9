package mutation

import (
	"context"
	"testing"
	"time"

	"homepro/internal/account"
	"homepro/internal/category"
	ierr "homepro/internal/errors"
	"homepro/internal/fee"
	"homepro/internal/subscription"
	"homepro/internal/testutil"

	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var signupAt = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	repo    *testutil.InMemoryAccountRepository
	gateway *testutil.FakeGateway
	store   *category.Store
	machine *subscription.Machine
	svc     Service
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		repo:    testutil.NewInMemoryAccountRepository(),
		gateway: testutil.NewFakeGateway(),
		machine: subscription.NewMachine(30, 30, []time.Duration{24 * time.Hour, 72 * time.Hour}),
		now:     signupAt,
	}
	fees := fee.NewCalculator(decimal.RequireFromString("29.77"), decimal.RequireFromString("5.00"))
	f.store = category.NewStore(f.repo, fees)
	f.svc = NewService(f.repo, f.store, fees, f.machine, f.gateway, nil, Config{
		ConflictRetryAttempts: 5,
		ConflictRetryBackoff:  time.Millisecond,
		Currency:              "usd",
		Now:                   func() time.Time { return f.now },
	})
	return f
}

func (f *fixture) signup(t *testing.T, id, primary string) *account.Snapshot {
	t.Helper()
	snap, err := f.svc.Signup(context.Background(), SignupRequest{AccountID: id, PrimaryCategory: primary})
	require.NoError(t, err)
	return snap
}

func (f *fixture) activate(t *testing.T, id string) {
	t.Helper()
	a, err := f.repo.Get(context.Background(), id)
	require.NoError(t, err)
	a.Subscription.State = subscription.StateActive
	a.Subscription.CurrentPeriodStart = f.now
	a.Subscription.CurrentPeriodEnd = f.now.AddDate(0, 0, 30)
	f.repo.Put(a)
}

func TestElectricianPlumberScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	snap := f.signup(t, "acc-1", "Electrician")
	assert.Equal(t, subscription.StateTrialing, snap.Subscription.State)
	assert.Equal(t, "29.77", snap.MonthlyFee.StringFixed(2))

	snap, err := f.svc.AddCategoryWithPayment(ctx, "acc-1", "Plumber")
	require.NoError(t, err)
	assert.Equal(t, "34.77", snap.MonthlyFee.StringFixed(2))
	assert.Equal(t, "Electrician", snap.PrimaryCategory)
	assert.Equal(t, []string{"Plumber"}, snap.AdditionalCategories)

	snap, err = f.svc.RemoveCategory(ctx, "acc-1", "Plumber")
	require.NoError(t, err)
	assert.Equal(t, "29.77", snap.MonthlyFee.StringFixed(2))

	before := snap.Version
	_, err = f.svc.RemoveCategory(ctx, "acc-1", "Electrician")
	require.Error(t, err)
	assert.True(t, ierr.IsInvalidOperation(err))

	status, err := f.svc.GetStatus(ctx, "acc-1")
	require.NoError(t, err)
	assert.Equal(t, "29.77", status.MonthlyFee.StringFixed(2))
	assert.Equal(t, before, status.Version)
}

func TestAddCategory_TrialOnlyVerifiesPaymentMethod(t *testing.T) {
	f := newFixture(t)
	f.signup(t, "acc-1", "Electrician")

	_, err := f.svc.AddCategoryWithPayment(context.Background(), "acc-1", "Plumber")
	require.NoError(t, err)

	require.Len(t, f.gateway.Charges, 1)
	assert.True(t, f.gateway.Charges[0].Amount.IsZero())
}

func TestAddCategory_ActiveChargesProRatedMarginal(t *testing.T) {
	f := newFixture(t)
	f.signup(t, "acc-1", "Electrician")
	f.activate(t, "acc-1")
	f.now = f.now.AddDate(0, 0, 15)

	snap, err := f.svc.AddCategoryWithPayment(context.Background(), "acc-1", "Plumber")
	require.NoError(t, err)
	assert.Equal(t, "34.77", snap.MonthlyFee.StringFixed(2))

	require.Len(t, f.gateway.Charges, 1)
	assert.Equal(t, "2.50", f.gateway.Charges[0].Amount.StringFixed(2))
}

func TestAddCategory_Idempotent(t *testing.T) {
	f := newFixture(t)
	f.signup(t, "acc-1", "Electrician")
	ctx := context.Background()

	first, err := f.svc.AddCategoryWithPayment(ctx, "acc-1", "Plumber")
	require.NoError(t, err)
	second, err := f.svc.AddCategoryWithPayment(ctx, "acc-1", "  Plumber ")
	require.NoError(t, err)

	assert.Equal(t, first.AdditionalCategories, second.AdditionalCategories)
	assert.True(t, first.MonthlyFee.Equal(second.MonthlyFee))
	assert.Equal(t, first.Version, second.Version)
	assert.Equal(t, 1, f.gateway.ChargeCount())
}

func TestAddCategory_ValidationBeforeAnyIO(t *testing.T) {
	f := newFixture(t)

	for _, label := range []string{"   ", "Plumb\xffer"} {
		_, err := f.svc.AddCategoryWithPayment(context.Background(), "missing", label)
		require.Error(t, err)
		assert.True(t, ierr.IsValidation(err))
	}
	assert.Zero(t, f.gateway.ChargeCount())
}

func TestAddCategory_UnknownAccount(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.AddCategoryWithPayment(context.Background(), "missing", "Plumber")
	require.Error(t, err)
	assert.True(t, ierr.IsNotFound(err))
}

func TestAddCategory_DeclineLeavesStateUnchanged(t *testing.T) {
	f := newFixture(t)
	f.signup(t, "acc-1", "Electrician")
	f.gateway.Decline = true

	_, err := f.svc.AddCategoryWithPayment(context.Background(), "acc-1", "Plumber")
	require.Error(t, err)
	assert.True(t, ierr.IsPayment(err))

	status, err := f.svc.GetStatus(context.Background(), "acc-1")
	require.NoError(t, err)
	assert.Empty(t, status.AdditionalCategories)
	assert.Equal(t, int64(1), status.Version)
	assert.Zero(t, f.repo.Updates())
}

func TestAddCategory_ProviderTimeoutIsFailure(t *testing.T) {
	f := newFixture(t)
	f.signup(t, "acc-1", "Electrician")
	f.gateway.Err = context.DeadlineExceeded

	_, err := f.svc.AddCategoryWithPayment(context.Background(), "acc-1", "Plumber")
	require.Error(t, err)
	assert.True(t, ierr.IsPayment(err))
	assert.Zero(t, f.repo.Updates())
}

func TestAddCategory_RejectedOutsideGoodStanding(t *testing.T) {
	f := newFixture(t)
	f.signup(t, "acc-1", "Electrician")
	a, _ := f.repo.Get(context.Background(), "acc-1")
	a.Subscription.State = subscription.StatePastDue
	f.repo.Put(a)

	_, err := f.svc.AddCategoryWithPayment(context.Background(), "acc-1", "Plumber")
	require.Error(t, err)
	assert.True(t, ierr.IsStateTransition(err))
	assert.Zero(t, f.gateway.ChargeCount())
}

func TestAddCategory_RefundsWhenWriteKeepsConflicting(t *testing.T) {
	f := newFixture(t)
	f.signup(t, "acc-1", "Electrician")
	f.activate(t, "acc-1")

	// every write loses to a competing bump of the version
	f.repo.BeforeUpdate = func(next *account.Account, expectedVersion int64) {
		a, err := f.repo.Get(context.Background(), next.ID)
		if err == nil {
			a.Version++
			f.repo.Put(a)
		}
	}

	_, err := f.svc.AddCategoryWithPayment(context.Background(), "acc-1", "Plumber")
	require.Error(t, err)
	assert.True(t, ierr.IsVersionConflict(err))
	assert.Equal(t, 1, f.gateway.ChargeCount())
	assert.Equal(t, 1, f.gateway.RefundCount())
}

func TestAddCategory_RetryAfterRefundPaysOnce(t *testing.T) {
	f := newFixture(t)
	f.signup(t, "acc-1", "Electrician")
	f.activate(t, "acc-1")
	f.now = f.now.AddDate(0, 0, 15)
	ctx := context.Background()

	f.repo.BeforeUpdate = func(next *account.Account, expectedVersion int64) {
		a, err := f.repo.Get(ctx, next.ID)
		if err == nil {
			a.Version++
			f.repo.Put(a)
		}
	}
	_, err := f.svc.AddCategoryWithPayment(ctx, "acc-1", "Plumber")
	require.Error(t, err)
	require.Equal(t, 1, f.gateway.RefundCount())
	assert.True(t, f.gateway.Net().IsZero())

	f.repo.BeforeUpdate = nil
	snap, err := f.svc.AddCategoryWithPayment(ctx, "acc-1", "Plumber")
	require.NoError(t, err)
	assert.Equal(t, []string{"Plumber"}, snap.AdditionalCategories)
	assert.Equal(t, "2.50", f.gateway.Net().StringFixed(2))
}

func TestAddCategory_RetryAfterFailedWriteChargesAgain(t *testing.T) {
	f := newFixture(t)
	f.signup(t, "acc-1", "Electrician")
	f.activate(t, "acc-1")
	f.now = f.now.AddDate(0, 0, 15)
	ctx := context.Background()

	f.repo.UpdateErr = ierr.NewError("connection refused").Mark(ierr.ErrDatabase)
	_, err := f.svc.AddCategoryWithPayment(ctx, "acc-1", "Plumber")
	require.Error(t, err)
	require.Equal(t, 1, f.gateway.RefundCount())

	// same account version, so the same idempotency key comes back
	f.repo.UpdateErr = nil
	snap, err := f.svc.AddCategoryWithPayment(ctx, "acc-1", "Plumber")
	require.NoError(t, err)
	assert.Equal(t, []string{"Plumber"}, snap.AdditionalCategories)
	assert.Equal(t, 2, f.gateway.ChargeCount())
	assert.Equal(t, "2.50", f.gateway.Net().StringFixed(2))
}

func TestAddCategory_ReAddAfterRemovalIsNewCharge(t *testing.T) {
	f := newFixture(t)
	f.signup(t, "acc-1", "Electrician")
	f.activate(t, "acc-1")
	f.now = f.now.AddDate(0, 0, 15)
	ctx := context.Background()

	_, err := f.svc.AddCategoryWithPayment(ctx, "acc-1", "Plumber")
	require.NoError(t, err)
	_, err = f.svc.RemoveCategory(ctx, "acc-1", "Plumber")
	require.NoError(t, err)
	_, err = f.svc.AddCategoryWithPayment(ctx, "acc-1", "Plumber")
	require.NoError(t, err)

	require.Len(t, f.gateway.Charges, 2)
	assert.NotEqual(t, f.gateway.Charges[0].IdempotencyKey, f.gateway.Charges[1].IdempotencyKey)
	assert.Equal(t, "5.00", f.gateway.Net().StringFixed(2))
}

func TestAddCategory_ConflictRetriedIntoUnion(t *testing.T) {
	f := newFixture(t)
	f.signup(t, "acc-1", "Electrician")
	ctx := context.Background()

	injected := false
	f.repo.BeforeUpdate = func(next *account.Account, expectedVersion int64) {
		if injected {
			return
		}
		injected = true
		_, err := f.store.AddCategory(ctx, "acc-1", "Roofer", expectedVersion)
		require.NoError(t, err)
	}

	snap, err := f.svc.AddCategoryWithPayment(ctx, "acc-1", "Plumber")
	require.NoError(t, err)
	assert.Equal(t, []string{"Plumber", "Roofer"}, snap.AdditionalCategories)
	assert.Equal(t, "39.77", snap.MonthlyFee.StringFixed(2))
	assert.Equal(t, int64(3), snap.Version)
	assert.Zero(t, f.gateway.RefundCount())
}

func TestAddCategory_ConcurrentAddsBothLand(t *testing.T) {
	f := newFixture(t)
	f.signup(t, "acc-1", "Electrician")
	ctx := context.Background()

	var wg conc.WaitGroup
	errs := make([]error, 2)
	for i, cat := range []string{"Plumber", "Roofer"} {
		wg.Go(func() {
			_, errs[i] = f.svc.AddCategoryWithPayment(ctx, "acc-1", cat)
		})
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	status, err := f.svc.GetStatus(ctx, "acc-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"Plumber", "Roofer"}, status.AdditionalCategories)
	assert.Equal(t, "39.77", status.MonthlyFee.StringFixed(2))
	assert.Equal(t, int64(3), status.Version)
}

func TestRemoveCategory_AbsentIsNoop(t *testing.T) {
	f := newFixture(t)
	f.signup(t, "acc-1", "Electrician")

	snap, err := f.svc.RemoveCategory(context.Background(), "acc-1", "Plumber")
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap.Version)
	assert.Zero(t, f.repo.Updates())
}

func TestPromotePrimary(t *testing.T) {
	f := newFixture(t)
	f.signup(t, "acc-1", "Electrician")
	ctx := context.Background()

	_, err := f.svc.AddCategoryWithPayment(ctx, "acc-1", "Plumber")
	require.NoError(t, err)

	snap, err := f.svc.PromotePrimary(ctx, "acc-1", "Plumber")
	require.NoError(t, err)
	assert.Equal(t, "Plumber", snap.PrimaryCategory)
	assert.Equal(t, []string{"Electrician"}, snap.AdditionalCategories)
	assert.Equal(t, "34.77", snap.MonthlyFee.StringFixed(2))

	snap, err = f.svc.RemoveCategory(ctx, "acc-1", "Electrician")
	require.NoError(t, err)
	assert.Equal(t, "29.77", snap.MonthlyFee.StringFixed(2))
}

func TestCancelThenReactivate_RestoresPriorState(t *testing.T) {
	f := newFixture(t)
	before := f.signup(t, "acc-1", "Electrician")
	ctx := context.Background()

	canceled, err := f.svc.CancelSubscription(ctx, "acc-1")
	require.NoError(t, err)
	assert.True(t, canceled.Subscription.CancelAtPeriodEnd)
	assert.Equal(t, subscription.StateTrialing, canceled.Subscription.State)

	again, err := f.svc.CancelSubscription(ctx, "acc-1")
	require.NoError(t, err)
	assert.Equal(t, canceled.Version, again.Version)

	f.now = f.now.AddDate(0, 0, 10)
	restored, err := f.svc.ReactivateSubscription(ctx, "acc-1")
	require.NoError(t, err)
	assert.Equal(t, before.Subscription.State, restored.Subscription.State)
	assert.Equal(t, before.Subscription.CurrentPeriodEnd, restored.Subscription.CurrentPeriodEnd)
	assert.False(t, restored.Subscription.CancelAtPeriodEnd)
	assert.Zero(t, f.gateway.ChargeCount())
}

func TestReactivate_NotPendingIsNoop(t *testing.T) {
	f := newFixture(t)
	f.signup(t, "acc-1", "Electrician")

	snap, err := f.svc.ReactivateSubscription(context.Background(), "acc-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap.Version)
}

func TestReactivate_AfterLapseChargesFullFee(t *testing.T) {
	f := newFixture(t)
	f.signup(t, "acc-1", "Electrician")
	a, _ := f.repo.Get(context.Background(), "acc-1")
	a.Subscription.State = subscription.StateIncompleteExpired
	f.repo.Put(a)

	snap, err := f.svc.ReactivateSubscription(context.Background(), "acc-1")
	require.NoError(t, err)
	assert.Equal(t, subscription.StateActive, snap.Subscription.State)
	assert.Equal(t, f.now.AddDate(0, 0, 30), snap.Subscription.CurrentPeriodEnd)

	require.Len(t, f.gateway.Charges, 1)
	assert.Equal(t, "29.77", f.gateway.Charges[0].Amount.StringFixed(2))
}

func TestReactivate_WithoutPaymentMethod(t *testing.T) {
	f := newFixture(t)
	f.signup(t, "acc-1", "Electrician")
	a, _ := f.repo.Get(context.Background(), "acc-1")
	a.Subscription.State = subscription.StatePastDue
	f.repo.Put(a)
	f.gateway.NoPaymentMethod = true

	_, err := f.svc.ReactivateSubscription(context.Background(), "acc-1")
	require.Error(t, err)
	assert.True(t, ierr.IsInvalidOperation(err))
	assert.Zero(t, f.gateway.ChargeCount())
}

func TestReactivate_DeclinedChargeIsPaymentError(t *testing.T) {
	f := newFixture(t)
	f.signup(t, "acc-1", "Electrician")
	a, _ := f.repo.Get(context.Background(), "acc-1")
	a.Subscription.State = subscription.StateIncomplete
	f.repo.Put(a)
	f.gateway.Decline = true

	_, err := f.svc.ReactivateSubscription(context.Background(), "acc-1")
	require.Error(t, err)
	assert.True(t, ierr.IsPayment(err))

	status, _ := f.svc.GetStatus(context.Background(), "acc-1")
	assert.Equal(t, subscription.StateIncomplete, status.Subscription.State)
}

func TestSignup_DuplicateAccount(t *testing.T) {
	f := newFixture(t)
	f.signup(t, "acc-1", "Electrician")

	_, err := f.svc.Signup(context.Background(), SignupRequest{AccountID: "acc-1", PrimaryCategory: "Plumber"})
	require.Error(t, err)
	assert.True(t, ierr.IsInvalidOperation(err))
}

func TestCancel_UnknownAccount(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CancelSubscription(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, ierr.IsNotFound(err))
}
