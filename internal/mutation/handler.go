package mutation

import (
	"context"
	"net/http"
	"strconv"

	"homepro/internal/account"
	"homepro/internal/api"
	"homepro/internal/auth"
	ierr "homepro/internal/errors"

	"github.com/gin-gonic/gin"
)

// SessionHeader names the client session whose mirror is refreshed on write.
const SessionHeader = "X-Session-ID"

// Cache is the view side of the sync coordinator.
type Cache interface {
	Publish(ctx context.Context, sessionID string, snap *account.Snapshot)
	View(ctx context.Context, sessionID, accountID string) (*account.Snapshot, error)
	Refresh(ctx context.Context, sessionID, accountID string) (*account.Snapshot, error)
	Forget(sessionID, accountID string)
}

type Handler struct {
	service Service
	cache   Cache
}

func NewHandler(service Service, cache Cache) *Handler {
	return &Handler{service: service, cache: cache}
}

type CategoryRequest struct {
	Category string `json:"category" binding:"required,max=100"`
}

// GetStatus godoc
// @Summary      Account status
// @Description  Authoritative category set, monthly fee and subscription state. The calling session's cached view is replaced with the result.
// @Tags         account
// @Security     BearerAuth
// @Produce      json
// @Param        id            path    string  true   "Account ID"
// @Param        X-Session-ID  header  string  false  "Client session"
// @Success      200  {object}  account.Snapshot
// @Failure      404  {object}  api.ErrorResponse
// @Router       /account/{id} [get]
func (h *Handler) GetStatus(c *gin.Context) {
	snap, err := h.pull(c)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// GetCached godoc
// @Summary      Cached account view
// @Description  Session mirror first, then the shared profile cache, then the store. refresh=true pulls from the store.
// @Tags         account
// @Security     BearerAuth
// @Produce      json
// @Param        id            path    string  true   "Account ID"
// @Param        refresh       query   bool    false  "Pull the authoritative snapshot"
// @Param        X-Session-ID  header  string  false  "Client session"
// @Success      200  {object}  account.Snapshot
// @Failure      404  {object}  api.ErrorResponse
// @Router       /account/{id}/cached [get]
func (h *Handler) GetCached(c *gin.Context) {
	if refresh, _ := strconv.ParseBool(c.Query("refresh")); refresh || h.cache == nil {
		h.GetStatus(c)
		return
	}
	snap, err := h.cache.View(c.Request.Context(), c.GetHeader(SessionHeader), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// ForgetCached godoc
// @Summary      Drop the session's cached view
// @Tags         account
// @Security     BearerAuth
// @Param        id            path    string  true  "Account ID"
// @Param        X-Session-ID  header  string  true  "Client session"
// @Success      204
// @Failure      422  {object}  api.ErrorResponse
// @Router       /account/{id}/cached [delete]
func (h *Handler) ForgetCached(c *gin.Context) {
	session := c.GetHeader(SessionHeader)
	if session == "" {
		c.Error(ierr.NewError("missing session id").
			WithHintf("%s header is required", SessionHeader).
			Mark(ierr.ErrValidation))
		return
	}
	if h.cache != nil {
		h.cache.Forget(session, c.Param("id"))
	}
	c.Status(http.StatusNoContent)
}

// AddCategory godoc
// @Summary      Add a service category
// @Description  Charges the pro-rated fee for the rest of the period, then adds the category.
// @Tags         categories
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        request  body      CategoryRequest  true  "Category"
// @Success      200      {object}  account.Snapshot
// @Failure      402      {object}  api.ErrorResponse
// @Failure      409      {object}  api.ErrorResponse
// @Failure      422      {object}  api.ErrorResponse
// @Router       /categories [post]
func (h *Handler) AddCategory(c *gin.Context) {
	var req CategoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(api.BindError(err))
		return
	}
	h.mutate(c, func(ctx context.Context, accountID string) (*account.Snapshot, error) {
		return h.service.AddCategoryWithPayment(ctx, accountID, req.Category)
	})
}

// RemoveCategory godoc
// @Summary      Remove a service category
// @Tags         categories
// @Security     BearerAuth
// @Produce      json
// @Param        category  path      string  true  "Category"
// @Success      200       {object}  account.Snapshot
// @Failure      409       {object}  api.ErrorResponse
// @Failure      422       {object}  api.ErrorResponse
// @Router       /categories/{category} [delete]
func (h *Handler) RemoveCategory(c *gin.Context) {
	category := c.Param("category")
	h.mutate(c, func(ctx context.Context, accountID string) (*account.Snapshot, error) {
		return h.service.RemoveCategory(ctx, accountID, category)
	})
}

// PromotePrimary godoc
// @Summary      Make a category the primary one
// @Tags         categories
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        request  body      CategoryRequest  true  "Category"
// @Success      200      {object}  account.Snapshot
// @Failure      409      {object}  api.ErrorResponse
// @Failure      422      {object}  api.ErrorResponse
// @Router       /categories/primary [put]
func (h *Handler) PromotePrimary(c *gin.Context) {
	var req CategoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(api.BindError(err))
		return
	}
	h.mutate(c, func(ctx context.Context, accountID string) (*account.Snapshot, error) {
		return h.service.PromotePrimary(ctx, accountID, req.Category)
	})
}

// CancelSubscription godoc
// @Summary      Cancel at period end
// @Tags         subscription
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  account.Snapshot
// @Failure      409  {object}  api.ErrorResponse
// @Router       /subscription/cancel [post]
func (h *Handler) CancelSubscription(c *gin.Context) {
	h.mutate(c, h.service.CancelSubscription)
}

// ReactivateSubscription godoc
// @Summary      Reactivate a subscription
// @Description  Clears a pending cancel, or charges and starts a new period when service has lapsed.
// @Tags         subscription
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  account.Snapshot
// @Failure      402  {object}  api.ErrorResponse
// @Failure      409  {object}  api.ErrorResponse
// @Failure      422  {object}  api.ErrorResponse
// @Router       /subscription/reactivate [post]
func (h *Handler) ReactivateSubscription(c *gin.Context) {
	h.mutate(c, h.service.ReactivateSubscription)
}

// pull reads the authoritative snapshot and, when a cache is wired, stores it
// as the caller's view.
func (h *Handler) pull(c *gin.Context) (*account.Snapshot, error) {
	ctx := c.Request.Context()
	if h.cache == nil {
		return h.service.GetStatus(ctx, c.Param("id"))
	}
	return h.cache.Refresh(ctx, c.GetHeader(SessionHeader), c.Param("id"))
}

// mutate runs op for the caller's account and publishes the result to the
// caller's session before responding.
func (h *Handler) mutate(c *gin.Context, op func(ctx context.Context, accountID string) (*account.Snapshot, error)) {
	accountID, ok := auth.AccountID(c)
	if !ok {
		c.Error(ierr.NewError("missing user id").
			WithHint("User not authenticated").
			Mark(ierr.ErrPermissionDenied))
		return
	}

	ctx := c.Request.Context()
	snap, err := op(ctx, accountID)
	if err != nil {
		c.Error(err)
		return
	}

	if h.cache != nil {
		h.cache.Publish(ctx, c.GetHeader(SessionHeader), snap)
	}
	c.JSON(http.StatusOK, snap)
}
