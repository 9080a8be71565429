package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/health-ledger/pkg/logger"
)

// Logger logs one line per request. Bodies are never logged; they carry
// contact details and record references.
func Logger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()

		event := log.ZL.Info()
		msg := "Request processed"
		switch {
		case statusCode >= 500:
			event = log.ZL.Error()
			msg = "Server error"
		case statusCode >= 400:
			event = log.ZL.Warn()
			msg = "Client error"
		}

		event.
			Str("request_id", RequestIDFrom(c)).
			Str("principal", string(Caller(c))).
			Str("client_ip", c.ClientIP()).
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", statusCode).
			Dur("latency", latency).
			Str("user_agent", c.Request.UserAgent())
		if len(c.Errors) > 0 {
			event.Str("error", c.Errors.Last().Error())
		}
		event.Msg(msg)
	}
}
