package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/guttosm/coinpulse/internal/domain/dto"
	"github.com/guttosm/coinpulse/internal/domain/errs"
	"github.com/guttosm/coinpulse/internal/logger"
)

// ErrorHandler turns the last error attached with c.Error into a JSON
// ErrorResponse, unless the handler already wrote a body.
//
// Status mapping:
//   - *errs.ValidationError:            400
//   - *errs.InsufficientDataError:      422
//   - *errs.AllSourcesUnavailableError: 503
//   - context.DeadlineExceeded:         504
//   - anything else:                    500
func ErrorHandler(c *gin.Context) {
	c.Next()

	if len(c.Errors) == 0 || c.Writer.Written() {
		return
	}
	err := c.Errors.Last().Err
	status, msg := Classify(err)
	if status >= http.StatusInternalServerError {
		rid, _ := c.Get(RequestIDKey)
		logger.L().Error().Err(err).Str("request_id", toString(rid)).Int("status", status).Msg("request failed")
	}
	c.AbortWithStatusJSON(status, dto.NewErrorResponse(msg, err))
}

// Classify maps a domain error to its HTTP status and public message.
func Classify(err error) (int, string) {
	var (
		ve  *errs.ValidationError
		ie  *errs.InsufficientDataError
		all *errs.AllSourcesUnavailableError
	)
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest, "invalid request"
	case errors.As(err, &ie):
		return http.StatusUnprocessableEntity, "insufficient data"
	case errors.As(err, &all):
		return http.StatusServiceUnavailable, "all sources unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "request timed out"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

// AbortWithError stops the chain and writes a standardized error body.
func AbortWithError(c *gin.Context, status int, message string, err error) {
	c.AbortWithStatusJSON(status, dto.NewErrorResponse(message, err))
}
