package apperrors

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/opencode-studio/gateway/internal/logger"
	"github.com/opencode-studio/gateway/internal/middleware"
)

// ErrorHandler inspects c.Errors after the handler chain runs and renders a
// consistent JSON body for any *AppError, logging at a severity derived from
// the resulting HTTP status.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		err := c.Errors.Last()
		log := logger.HTTP()

		if appErr, ok := err.Err.(*AppError); ok {
			event := log.Warn()
			if appErr.StatusCode >= 500 {
				event = log.Error()
			}
			event.Str("request_id", middleware.GetRequestID(c)).
				Str("category", string(appErr.Category)).
				Str("details", appErr.Details).
				Msg(appErr.Message)

			c.JSON(appErr.StatusCode, appErr)
			return
		}

		log.Error().Str("request_id", middleware.GetRequestID(c)).Err(err.Err).Msg("unhandled error")
		c.JSON(http.StatusInternalServerError, New(CategoryUnknownInternal, "an unexpected error occurred"))
	}
}

// Recovery recovers from panics in downstream handlers and renders them as
// an unknown_internal AppError instead of crashing the process.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.HTTP().Error().Str("request_id", middleware.GetRequestID(c)).Interface("panic", r).Msg("recovered from panic")
				c.JSON(http.StatusInternalServerError, New(CategoryUnknownInternal, "an unexpected error occurred"))
				c.Abort()
			}
		}()
		c.Next()
	}
}

// HandleError renders err (wrapping non-AppError values as unknown_internal)
// without aborting the handler chain.
func HandleError(c *gin.Context, err error) {
	if appErr, ok := err.(*AppError); ok {
		c.Error(appErr)
		c.JSON(appErr.StatusCode, appErr)
		return
	}
	ie := Internal(err.Error())
	c.Error(ie)
	c.JSON(ie.StatusCode, ie)
}

// AbortWithError renders err and aborts the handler chain.
func AbortWithError(c *gin.Context, err *AppError) {
	c.Error(err)
	c.AbortWithStatusJSON(err.StatusCode, err)
}

// AbortWithValidation renders a Zod-style validation failure and aborts.
func AbortWithValidation(c *gin.Context, resp ValidationResponse) {
	c.AbortWithStatusJSON(http.StatusBadRequest, resp)
}
