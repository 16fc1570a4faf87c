package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"coffee-trace-api-server/internal/apperror"
)

// statusFor maps an error kind to its HTTP status.
func statusFor(kind apperror.Kind) int {
	switch kind {
	case apperror.KindNotFound:
		return http.StatusNotFound
	case apperror.KindConflict:
		return http.StatusConflict
	case apperror.KindState:
		return http.StatusUnprocessableEntity
	case apperror.KindInvalid:
		return http.StatusBadRequest
	case apperror.KindArtifact, apperror.KindStorage:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// respondError writes {"error", "kind"} for err. Internal errors are logged and
// their message hidden.
func respondError(c *gin.Context, err error) {
	kind := apperror.KindOf(err)
	status := statusFor(kind)
	_ = c.Error(err)

	msg := err.Error()
	if status == http.StatusInternalServerError {
		zerolog.Ctx(c.Request.Context()).Error().Err(err).Msg("Unhandled error")
		msg = "internal server error"
	}

	body := gin.H{"error": msg, "kind": kind}
	if apperror.IsRetryable(err) {
		body["retryable"] = true
	}
	c.AbortWithStatusJSON(status, body)
}

func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": apperror.KindInvalid})
}

// int64Query parses an optional numeric query parameter.
func int64Query(c *gin.Context, name string) (int64, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n <= 0 {
		return 0, apperror.Invalid("handlers", "%s must be a positive integer", name)
	}
	return n, nil
}

func int64Param(c *gin.Context, name string) (int64, error) {
	n, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || n <= 0 {
		return 0, apperror.Invalid("handlers", "%s must be a positive integer", name)
	}
	return n, nil
}

// storeCtx bounds a direct store call made from a handler.
func storeCtx(c *gin.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), timeout)
}
