// Package middleware provides HTTP middleware for the gateway.
// This file implements request timeout enforcement.
//
// Most gateway routes are short request/response round trips against the
// upstream or the session store, but the event proxy, terminal streams, and
// plugin bridge all hold a connection open for the life of an SSE stream or
// a PTY session. Timeout runs in front of both: short requests get a hard
// ceiling, and the long-lived paths are carved out via ExcludedPaths
// (router.go points them at ssePaths) rather than given their own
// no-timeout middleware.
package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/opencode-studio/gateway/internal/logger"
)

// TimeoutConfig holds configuration for request timeouts.
type TimeoutConfig struct {
	// Timeout is the maximum duration for the entire request.
	Timeout time.Duration

	// ErrorMessage is the message returned when timeout occurs.
	ErrorMessage string

	// ExcludedPaths are path prefixes that should not have the timeout
	// applied (the gateway's SSE streams and long-lived PTY sessions).
	ExcludedPaths []string
}

// DefaultTimeoutConfig returns the gateway's default timeout configuration.
// Callers proxying the sidebar/terminal/plugin SSE streams override
// ExcludedPaths (see httpapi.New) rather than relying on this default set.
func DefaultTimeoutConfig() TimeoutConfig {
	return TimeoutConfig{
		Timeout:      30 * time.Second,
		ErrorMessage: "Request timeout",
	}
}

// Timeout enforces config.Timeout on every request whose path doesn't match
// an excluded prefix, aborting with 408 if the handler chain doesn't finish
// in time.
func Timeout(config TimeoutConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		for _, excludedPath := range config.ExcludedPaths {
			if strings.HasPrefix(path, excludedPath) {
				c.Next()
				return
			}
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), config.Timeout)
		defer cancel()

		c.Request = c.Request.WithContext(ctx)

		finished := make(chan struct{})

		go func() {
			c.Next()
			close(finished)
		}()

		select {
		case <-finished:
			return
		case <-ctx.Done():
			logger.HTTP().Warn().
				Str("path", path).
				Str("method", c.Request.Method).
				Dur("timeout", config.Timeout).
				Msg("request timed out")
			c.AbortWithStatusJSON(http.StatusRequestTimeout, gin.H{
				"error":   config.ErrorMessage,
				"message": "The request took too long to process",
				"timeout": config.Timeout.String(),
			})
			return
		}
	}
}

// TimeoutWithDuration builds a Timeout middleware with the gateway's default
// config but a caller-specified duration.
func TimeoutWithDuration(timeout time.Duration) gin.HandlerFunc {
	config := DefaultTimeoutConfig()
	config.Timeout = timeout
	return Timeout(config)
}
