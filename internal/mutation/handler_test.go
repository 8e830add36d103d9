package mutation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"homepro/internal/account"
	"homepro/internal/api"
	"homepro/internal/auth"
	"homepro/internal/cachesync"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingCache struct {
	mu        sync.Mutex
	published map[string]*account.Snapshot
	service   Service
}

func (c *recordingCache) Publish(ctx context.Context, sessionID string, snap *account.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published[sessionID] = snap
}

func (c *recordingCache) View(ctx context.Context, sessionID, accountID string) (*account.Snapshot, error) {
	c.mu.Lock()
	snap, ok := c.published[sessionID]
	c.mu.Unlock()
	if ok && snap.AccountID == accountID {
		return snap, nil
	}
	return c.service.GetStatus(ctx, accountID)
}

func (c *recordingCache) Refresh(ctx context.Context, sessionID, accountID string) (*account.Snapshot, error) {
	snap, err := c.service.GetStatus(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if sessionID != "" {
		c.Publish(ctx, sessionID, snap)
	}
	return snap, nil
}

func (c *recordingCache) Forget(sessionID, accountID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if snap, ok := c.published[sessionID]; ok && snap.AccountID == accountID {
		delete(c.published, sessionID)
	}
}

func setupHandler(f *fixture, userID string) (*gin.Engine, *recordingCache) {
	cache := &recordingCache{published: map[string]*account.Snapshot{}, service: f.svc}
	return newRouter(f, userID, cache), cache
}

func newRouter(f *fixture, userID string, cache Cache) *gin.Engine {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(api.ErrorHandler())
	r.Use(func(c *gin.Context) {
		if userID != "" {
			auth.SetPrincipal(c, auth.Principal{AccountID: userID, Role: auth.RoleProfessional})
		}
		c.Next()
	})

	h := NewHandler(f.svc, cache)
	r.GET("/account/:id", h.GetStatus)
	r.GET("/account/:id/cached", h.GetCached)
	r.DELETE("/account/:id/cached", h.ForgetCached)
	r.POST("/categories", h.AddCategory)
	r.DELETE("/categories/:category", h.RemoveCategory)
	r.PUT("/categories/primary", h.PromotePrimary)
	r.POST("/subscription/cancel", h.CancelSubscription)
	r.POST("/subscription/reactivate", h.ReactivateSubscription)
	return r
}

func doJSON(r *gin.Engine, method, path, body, session string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if session != "" {
		req.Header.Set(SessionHeader, session)
	}
	r.ServeHTTP(w, req)
	return w
}

func decodeSnapshot(t *testing.T, w *httptest.ResponseRecorder) account.Snapshot {
	t.Helper()
	var snap account.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	return snap
}

func TestHandler_AddAndRemoveCategory(t *testing.T) {
	f := newFixture(t)
	f.signup(t, "acc-1", "Electrician")
	r, cache := setupHandler(f, "acc-1")

	w := doJSON(r, http.MethodPost, "/categories", `{"category":"Plumber"}`, "tab-1")
	require.Equal(t, http.StatusOK, w.Code)
	snap := decodeSnapshot(t, w)
	assert.Equal(t, "34.77", snap.MonthlyFee.StringFixed(2))
	assert.Equal(t, int64(2), cache.published["tab-1"].Version)

	w = doJSON(r, http.MethodGet, "/account/acc-1/cached", "", "tab-1")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"Plumber"}, decodeSnapshot(t, w).AdditionalCategories)

	w = doJSON(r, http.MethodDelete, "/categories/Plumber", "", "tab-1")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "29.77", decodeSnapshot(t, w).MonthlyFee.StringFixed(2))

	w = doJSON(r, http.MethodDelete, "/categories/Electrician", "", "")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestHandler_AddCategory_PaymentDeclined(t *testing.T) {
	f := newFixture(t)
	f.signup(t, "acc-1", "Electrician")
	f.gateway.Decline = true
	r, cache := setupHandler(f, "acc-1")

	w := doJSON(r, http.MethodPost, "/categories", `{"category":"Plumber"}`, "tab-1")
	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	assert.Empty(t, cache.published)
}

func TestHandler_AddCategory_InvalidBody(t *testing.T) {
	f := newFixture(t)
	f.signup(t, "acc-1", "Electrician")
	r, _ := setupHandler(f, "acc-1")

	w := doJSON(r, http.MethodPost, "/categories", `{}`, "")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestHandler_GetStatus(t *testing.T) {
	f := newFixture(t)
	f.signup(t, "acc-1", "Electrician")
	r, _ := setupHandler(f, "acc-1")

	w := doJSON(r, http.MethodGet, "/account/acc-1", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	snap := decodeSnapshot(t, w)
	assert.Equal(t, "Electrician", snap.PrimaryCategory)
	assert.Equal(t, int64(1), snap.Version)

	w = doJSON(r, http.MethodGet, "/account/missing", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandler_CancelAndReactivate(t *testing.T) {
	f := newFixture(t)
	f.signup(t, "acc-1", "Electrician")
	r, _ := setupHandler(f, "acc-1")

	w := doJSON(r, http.MethodPost, "/subscription/cancel", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decodeSnapshot(t, w).Subscription.CancelAtPeriodEnd)

	w = doJSON(r, http.MethodPost, "/subscription/reactivate", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decodeSnapshot(t, w).Subscription.CancelAtPeriodEnd)
}

func TestHandler_PromotePrimary(t *testing.T) {
	f := newFixture(t)
	f.signup(t, "acc-1", "Electrician")
	_, err := f.svc.AddCategoryWithPayment(context.Background(), "acc-1", "Plumber")
	require.NoError(t, err)
	r, _ := setupHandler(f, "acc-1")

	w := doJSON(r, http.MethodPut, "/categories/primary", `{"category":"Plumber"}`, "")
	require.Equal(t, http.StatusOK, w.Code)
	snap := decodeSnapshot(t, w)
	assert.Equal(t, "Plumber", snap.PrimaryCategory)
	assert.Equal(t, []string{"Electrician"}, snap.AdditionalCategories)
}

func TestHandler_RequiresUser(t *testing.T) {
	f := newFixture(t)
	r, _ := setupHandler(f, "")

	w := doJSON(r, http.MethodPost, "/subscription/cancel", "", "")
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestHandler_OtherSessionSeesChangeAfterRefresh(t *testing.T) {
	f := newFixture(t)
	f.signup(t, "acc-1", "Electrician")
	r := newRouter(f, "acc-1", cachesync.NewCoordinator(f.svc, nil, time.Minute))

	w := doJSON(r, http.MethodGet, "/account/acc-1/cached", "", "tab-b")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(1), decodeSnapshot(t, w).Version)

	w = doJSON(r, http.MethodPost, "/categories", `{"category":"Plumber"}`, "tab-a")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(2), decodeSnapshot(t, w).Version)

	w = doJSON(r, http.MethodGet, "/account/acc-1/cached", "", "tab-a")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(2), decodeSnapshot(t, w).Version)

	w = doJSON(r, http.MethodGet, "/account/acc-1/cached", "", "tab-b")
	require.Equal(t, http.StatusOK, w.Code)
	stale := decodeSnapshot(t, w)
	assert.Equal(t, int64(1), stale.Version)
	assert.Equal(t, "29.77", stale.MonthlyFee.StringFixed(2))

	w = doJSON(r, http.MethodGet, "/account/acc-1", "", "tab-b")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(2), decodeSnapshot(t, w).Version)

	w = doJSON(r, http.MethodGet, "/account/acc-1/cached", "", "tab-b")
	require.Equal(t, http.StatusOK, w.Code)
	fresh := decodeSnapshot(t, w)
	assert.Equal(t, int64(2), fresh.Version)
	assert.Equal(t, "34.77", fresh.MonthlyFee.StringFixed(2))
	assert.Equal(t, []string{"Plumber"}, fresh.AdditionalCategories)
}

func TestHandler_CachedRefreshQuery(t *testing.T) {
	f := newFixture(t)
	f.signup(t, "acc-1", "Electrician")
	r := newRouter(f, "acc-1", cachesync.NewCoordinator(f.svc, nil, time.Minute))

	w := doJSON(r, http.MethodGet, "/account/acc-1/cached", "", "tab-b")
	require.Equal(t, http.StatusOK, w.Code)

	_, err := f.svc.AddCategoryWithPayment(context.Background(), "acc-1", "Plumber")
	require.NoError(t, err)

	w = doJSON(r, http.MethodGet, "/account/acc-1/cached", "", "tab-b")
	assert.Equal(t, int64(1), decodeSnapshot(t, w).Version)

	w = doJSON(r, http.MethodGet, "/account/acc-1/cached?refresh=true", "", "tab-b")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(2), decodeSnapshot(t, w).Version)

	w = doJSON(r, http.MethodGet, "/account/acc-1/cached", "", "tab-b")
	assert.Equal(t, int64(2), decodeSnapshot(t, w).Version)
}

func TestHandler_ForgetCached(t *testing.T) {
	f := newFixture(t)
	f.signup(t, "acc-1", "Electrician")
	r, cache := setupHandler(f, "acc-1")

	w := doJSON(r, http.MethodPost, "/categories", `{"category":"Plumber"}`, "tab-1")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, cache.published, "tab-1")

	w = doJSON(r, http.MethodDelete, "/account/acc-1/cached", "", "")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, cache.published, "tab-1")

	w = doJSON(r, http.MethodDelete, "/account/acc-1/cached", "", "tab-1")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.NotContains(t, cache.published, "tab-1")
}
