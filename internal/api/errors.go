package api

import (
	"net/http"

	ierr "homepro/internal/errors"
	"homepro/internal/logger"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

// ErrorHandler renders the last error a handler attached with c.Error.
// Internal detail is logged, clients only see hints and reportable details.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		err := c.Errors.Last().Err
		status := ierr.HTTPStatusFromErr(err)
		kind := ierr.KindOf(err)

		if status >= http.StatusInternalServerError {
			logger.Error("request failed",
				"error", err,
				"kind", kind,
				"method", c.Request.Method,
				"path", c.FullPath(),
			)
		} else {
			logger.Debug("request rejected", "error", err, "kind", kind)
		}

		message := ierr.DisplayMessage(err, http.StatusText(status))
		c.JSON(status, NewErrorResponse(kind, message, ierr.Details(err)))
	}
}

// BindError turns a request decoding failure into a validation error. Field
// level failures are reported per field.
func BindError(err error) error {
	b := ierr.WithError(err).WithHint("Request body is invalid")

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make(map[string]any, len(verrs))
		for _, fe := range verrs {
			fields[fe.Field()] = fieldMessage(fe)
		}
		b = b.WithReportableDetails(map[string]any{"fields": fields})
	}
	return b.Mark(ierr.ErrValidation)
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "email":
		return fe.Field() + " must be a valid email address"
	case "min":
		return fe.Field() + " must be at least " + fe.Param() + " characters"
	case "max":
		return fe.Field() + " must be at most " + fe.Param() + " characters"
	case "gt":
		return fe.Field() + " must be greater than " + fe.Param()
	default:
		return fe.Field() + " is invalid"
	}
}
