package server

import (
	"time"

	"homepro/internal/auth"
	"homepro/internal/logger"
	"homepro/internal/mutation"

	"github.com/gin-gonic/gin"
)

// RequestLoggingMiddleware logs HTTP requests with structured logging
func RequestLoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		if raw := c.Request.URL.RawQuery; raw != "" {
			path = path + "?" + raw
		}

		c.Next()

		fields := []interface{}{
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"latency_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
			"user_agent", c.Request.UserAgent(),
		}
		if accountID, ok := auth.AccountID(c); ok {
			fields = append(fields, "account_id", accountID)
		}
		if session := c.GetHeader(mutation.SessionHeader); session != "" {
			fields = append(fields, "session_id", session)
		}

		logger.Info("HTTP request", fields...)
	}
}
