package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/geomark/dispatch-api/pkg/logger"
)

// RequestLogger returns a middleware that logs HTTP requests
func RequestLogger(l *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		if raw := c.Request.URL.RawQuery; raw != "" {
			path = path + "?" + raw
		}

		c.Next()

		status := c.Writer.Status()
		ev := l.ZL.Info()
		switch {
		case status >= 500:
			ev = l.ZL.Error()
		case status >= 400:
			ev = l.ZL.Warn()
		}

		ev.Str("request_id", c.GetString(ContextRequestID)).
			Str("method", c.Request.Method).
			Str("path", path).
			Str("client_ip", c.ClientIP()).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Msg("request processed")
	}
}
