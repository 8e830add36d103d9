package wallet

import (
	"net/http"
	"strconv"

	"homepro/internal/api"
	"homepro/internal/auth"
	ierr "homepro/internal/errors"
	"homepro/internal/metrics"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	repo Repository
}

func NewHandler(repo Repository) *Handler {
	return &Handler{repo: repo}
}

type TopUpRequest struct {
	AmountCents int64 `json:"amount_cents" binding:"required,gt=0"`
}

type TopUpResponse struct {
	Message     string       `json:"message"`
	Wallet      *Wallet      `json:"wallet"`
	Transaction *Transaction `json:"transaction"`
}

// GetBalance godoc
// @Summary      Wallet balance
// @Tags         wallet
// @Security     BearerAuth
// @Produce      json
// @Success      200 {object} Wallet
// @Failure      401 {object} api.ErrorResponse
// @Router       /wallet [get]
func (h *Handler) GetBalance(c *gin.Context) {
	accountID, ok := auth.AccountID(c)
	if !ok {
		c.Error(notAuthenticated())
		return
	}

	w, err := h.repo.GetOrCreateWallet(c.Request.Context(), accountID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, w)
}

// TopUp godoc
// @Summary      Top up the wallet used for subscription charges
// @Tags         wallet
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        request body TopUpRequest true "Amount in cents"
// @Success      200 {object} TopUpResponse
// @Failure      422 {object} api.ErrorResponse
// @Router       /wallet/topup [post]
func (h *Handler) TopUp(c *gin.Context) {
	accountID, ok := auth.AccountID(c)
	if !ok {
		c.Error(notAuthenticated())
		return
	}

	var req TopUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(api.BindError(err))
		return
	}

	entry, err := h.repo.TopUp(c.Request.Context(), accountID, req.AmountCents)
	if err != nil {
		c.Error(err)
		return
	}
	metrics.RecordWalletTopUp()

	w, err := h.repo.GetOrCreateWallet(c.Request.Context(), accountID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, TopUpResponse{
		Message:     "wallet recharged",
		Wallet:      w,
		Transaction: entry,
	})
}

// ListTransactions godoc
// @Summary      Wallet ledger
// @Tags         wallet
// @Security     BearerAuth
// @Produce      json
// @Param        limit  query int false "Page size"
// @Param        offset query int false "Offset"
// @Success      200 {array} Transaction
// @Router       /wallet/transactions [get]
func (h *Handler) ListTransactions(c *gin.Context) {
	accountID, ok := auth.AccountID(c)
	if !ok {
		c.Error(notAuthenticated())
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	txs, err := h.repo.GetTransactions(c.Request.Context(), accountID, limit, offset)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, txs)
}

func notAuthenticated() error {
	return ierr.NewError("missing user id").
		WithHint("User not authenticated").
		Mark(ierr.ErrPermissionDenied)
}
