package account

import (
	"encoding/json"
	"testing"

	"homepro/internal/subscription"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetAdditional(t *testing.T) {
	a := &Account{PrimaryCategory: "Electrician"}
	a.SetAdditional([]string{"Plumber", "Electrician", "", "Carpenter", "Plumber"})
	assert.Equal(t, pq.StringArray{"Carpenter", "Plumber"}, a.AdditionalCategories)
	assert.True(t, a.HasCategory("Electrician"))
	assert.True(t, a.HasAdditional("Plumber"))
	assert.False(t, a.HasAdditional("Electrician"))
}

func TestClone_IsIndependent(t *testing.T) {
	override := decimal.RequireFromString("19.99")
	a := &Account{
		ID:                   "acc-1",
		PrimaryCategory:      "Electrician",
		AdditionalCategories: pq.StringArray{"Plumber"},
		FeeOverride:          &override,
		Subscription:         &subscription.Subscription{State: subscription.StateActive},
	}

	c := a.Clone()
	c.AdditionalCategories[0] = "Roofer"
	c.Subscription.CancelAtPeriodEnd = true

	assert.Equal(t, "Plumber", a.AdditionalCategories[0])
	assert.False(t, a.Subscription.CancelAtPeriodEnd)
}

func TestSnapshotJSON(t *testing.T) {
	a := &Account{
		ID:                   "acc-1",
		PrimaryCategory:      "Electrician",
		AdditionalCategories: pq.StringArray{"Plumber"},
		Version:              2,
		MonthlyFee:           decimal.RequireFromString("34.77"),
		Subscription: &subscription.Subscription{
			State:             subscription.StateTrialing,
			CancelAtPeriodEnd: true,
		},
	}

	raw, err := json.Marshal(a.Snapshot())
	require.NoError(t, err)

	var body map[string]any
	require.NoError(t, json.Unmarshal(raw, &body))
	assert.Equal(t, "Electrician", body["primaryCategory"])
	assert.Equal(t, []any{"Plumber"}, body["additionalCategories"])
	assert.Equal(t, "34.77", body["monthlyFee"])
	assert.Equal(t, float64(2), body["version"])
	assert.NotContains(t, body, "billedFee")

	sub := body["subscription"].(map[string]any)
	assert.Equal(t, "trialing", sub["state"])
	assert.Equal(t, true, sub["cancelAtPeriodEnd"])
}

func TestSnapshot_WithoutSubscription(t *testing.T) {
	a := &Account{ID: "acc-1", PrimaryCategory: "Electrician"}
	snap := a.Snapshot()
	assert.Equal(t, subscription.StateNone, snap.Subscription.State)
	assert.Equal(t, []string{}, snap.AdditionalCategories)
}
