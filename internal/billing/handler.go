package billing

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type PassRunner interface {
	RunOnce(ctx context.Context, now time.Time) (*RunReport, error)
}

type Handler struct {
	runner PassRunner
	now    func() time.Time
}

func NewHandler(runner PassRunner) *Handler {
	return &Handler{runner: runner, now: time.Now}
}

// RunNow godoc
// @Summary      Run one billing pass
// @Description  Processes every trial end, renewal and retry that is due now.
// @Tags         admin
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  RunReport
// @Failure      403  {object}  api.ErrorResponse
// @Failure      409  {object}  api.ErrorResponse
// @Router       /admin/billing/run [post]
func (h *Handler) RunNow(c *gin.Context) {
	report, err := h.runner.RunOnce(c.Request.Context(), h.now())
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, report)
}
