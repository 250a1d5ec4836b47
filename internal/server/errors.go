package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/entitlements/pkg/errs"
)

type ValidationError struct {
	Field   string `json:"field,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorPayload struct {
	Type    string            `json:"type"`
	Code    string            `json:"code,omitempty"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrOrgRequired        = errs.Validation("invalid_organization", "X-Org-ID header is required")
	ErrInvalidRequest     = errs.Validation("invalid_request", "invalid request")
	ErrRateLimited        = errors.New("rate_limited")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorPayload) {
	switch {
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{Type: "rate_limited", Message: "too many requests"}
	case errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable, errorPayload{Type: "service_unavailable", Message: "service unavailable"}
	}

	coded, ok := errs.As(err)
	if !ok {
		return http.StatusInternalServerError, errorPayload{
			Type:    string(errs.KindInternal),
			Message: "internal server error",
		}
	}

	payload := errorPayload{Type: string(coded.Kind), Code: coded.Code, Message: coded.Message}
	switch coded.Kind {
	case errs.KindValidation:
		payload.Message = "validation error"
		payload.Errors = []ValidationError{{Field: coded.Field(), Code: coded.Code, Message: detail(err, coded)}}
		return http.StatusBadRequest, payload
	case errs.KindInvalidState, errs.KindConflict:
		return http.StatusConflict, payload
	case errs.KindNotEntitled:
		return http.StatusForbidden, payload
	case errs.KindNotFound:
		return http.StatusNotFound, payload
	default:
		return http.StatusInternalServerError, errorPayload{Type: string(errs.KindInternal), Message: "internal server error"}
	}
}

// detail keeps the context added by errs.Wrap, e.g. which property failed to decode.
func detail(err error, coded *errs.Error) string {
	msg := err.Error()
	if msg == coded.Code {
		return coded.Message
	}
	return coded.Message + ": " + strings.TrimPrefix(msg, coded.Code+": ")
}

// classifyErrorForLog returns the error type and code written to the request log.
func classifyErrorForLog(err error) (string, string) {
	if errors.Is(err, ErrRateLimited) {
		return "rate_limited", "rate_limited"
	}
	if coded, ok := errs.As(err); ok {
		return string(coded.Kind), coded.Code
	}
	return string(errs.KindInternal), "internal_error"
}
