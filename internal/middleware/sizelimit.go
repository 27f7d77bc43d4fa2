package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// MaxRequestBodySize bounds every request body the gateway's ambient
// surface accepts before a handler-specific limit takes over (the
// attachment cache enforces its own 50 MiB ceiling separately; this is
// the blanket guard in front of everything else, including the session
// store's query bodies and plugin bridge action payloads).
const MaxRequestBodySize int64 = 10 * 1024 * 1024 // 10 MB

// RequestSizeLimiter rejects requests whose declared Content-Length exceeds
// maxSize and wraps the body in a MaxBytesReader so a lying or absent
// Content-Length can't smuggle a larger payload past the check.
func RequestSizeLimiter(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == "GET" || c.Request.Method == "HEAD" || c.Request.Method == "OPTIONS" {
			c.Next()
			return
		}

		if c.Request.ContentLength > maxSize {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
				"error":       "Request entity too large",
				"message":     "Request body exceeds maximum allowed size",
				"max_size_mb": float64(maxSize) / (1024 * 1024),
			})
			return
		}

		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}
