// Package middleware provides HTTP middleware shared across the gateway's
// routers: request-id correlation, structured request logging, body size
// limits, and request timeouts.
package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// RequestIDHeader is the header the gateway echoes back on every
	// response so a client can correlate one SSE reconnect, terminal
	// create, or plugin action call against the server's own logs.
	RequestIDHeader = "X-Request-ID"

	// RequestIDKey is the Gin context key the id is stashed under.
	RequestIDKey = "request_id"
)

// RequestID assigns (or honors a caller-supplied) correlation id for a
// request. StructuredLogger and apperrors.ErrorHandler both read it back
// via GetRequestID so a single id threads through the one line logged per
// request and the error envelope, if any, without a handler ever touching
// it directly.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}

		c.Set(RequestIDKey, requestID)
		c.Header(RequestIDHeader, requestID)

		c.Next()
	}
}

// GetRequestID retrieves the request ID from the Gin context.
func GetRequestID(c *gin.Context) string {
	if requestID, exists := c.Get(RequestIDKey); exists {
		if id, ok := requestID.(string); ok {
			return id
		}
	}
	return ""
}
