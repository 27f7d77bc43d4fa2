package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/opencode-studio/gateway/internal/logger"
)

// StructuredLoggerConfig configures StructuredLogger.
type StructuredLoggerConfig struct {
	SkipPaths []string
}

// DefaultStructuredLoggerConfig skips the liveness probe by default.
func DefaultStructuredLoggerConfig() StructuredLoggerConfig {
	return StructuredLoggerConfig{SkipPaths: []string{"/healthz"}}
}

// StructuredLogger logs one zerolog event per request via logger.HTTP(),
// at a level derived from the resulting status code.
func StructuredLogger(config StructuredLoggerConfig) gin.HandlerFunc {
	skip := make(map[string]bool, len(config.SkipPaths))
	for _, p := range config.SkipPaths {
		skip[p] = true
	}

	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		if skip[path] {
			return
		}

		duration := time.Since(start)
		status := c.Writer.Status()
		log := logger.HTTP()

		event := log.Info()
		if status >= 500 {
			event = log.Error()
		} else if status >= 400 {
			event = log.Warn()
		}

		event.
			Str("request_id", GetRequestID(c)).
			Str("method", c.Request.Method).
			Str("path", path).
			Str("query", raw).
			Int("status", status).
			Dur("duration", duration).
			Str("client_ip", c.ClientIP())

		if len(c.Errors) > 0 {
			event.Str("errors", c.Errors.String())
		}

		event.Msg("request handled")
	}
}
