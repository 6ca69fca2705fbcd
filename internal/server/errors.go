package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	ledgerdomain "github.com/opencafe/pointsd/internal/ledger/domain"
	obscontext "github.com/opencafe/pointsd/internal/observability/context"
	pointsdomain "github.com/opencafe/pointsd/internal/points/domain"
	"github.com/opencafe/pointsd/internal/xpconfig"
)

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrNotFound           = errors.New("not_found")
	ErrTooManyRequests    = errors.New("too_many_requests")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

// ValidationError carries a field-level rejection to the client.
type ValidationError struct {
	Field   string `json:"field,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string { return e.Code }

func newValidationError(field, code, message string) *ValidationError {
	return &ValidationError{Field: field, Code: code, Message: message}
}

func invalidRequestError() *ValidationError {
	return newValidationError("", "invalid_request", "request body could not be parsed")
}

// AbortWithError maps domain errors onto HTTP status codes and writes
// the error envelope.
func AbortWithError(c *gin.Context, err error) {
	var validation *ValidationError
	if errors.As(err, &validation) {
		abortJSON(c, http.StatusBadRequest, validation.Code, validation.Message, validation.Field)
		return
	}

	switch {
	case errors.Is(err, ErrUnauthorized):
		abortJSON(c, http.StatusUnauthorized, "unauthorized", "missing or invalid token", "")
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ledgerdomain.ErrUserNotFound),
		errors.Is(err, ledgerdomain.ErrEntryNotFound),
		errors.Is(err, ledgerdomain.ErrBalanceNotFound):
		abortJSON(c, http.StatusNotFound, err.Error(), "resource not found", "")
	case errors.Is(err, pointsdomain.ErrDailyLimitReached):
		abortJSON(c, http.StatusConflict, "daily_limit_reached", "daily XP limit reached for this source", "")
	case errors.Is(err, pointsdomain.ErrNotReversible):
		abortJSON(c, http.StatusConflict, "not_reversible", "entry is already reversed or not reversible", "")
	case errors.Is(err, pointsdomain.ErrReservedSource):
		abortJSON(c, http.StatusBadRequest, "reserved_source", "this source is written only by the system", "source")
	case errors.Is(err, ledgerdomain.ErrInvalidUser),
		errors.Is(err, ledgerdomain.ErrInvalidSource),
		errors.Is(err, ledgerdomain.ErrInvalidAmount),
		errors.Is(err, ledgerdomain.ErrMissingReason),
		errors.Is(err, xpconfig.ErrUnknownAction):
		abortJSON(c, http.StatusBadRequest, err.Error(), "invalid request", "")
	case errors.Is(err, ErrTooManyRequests):
		abortJSON(c, http.StatusTooManyRequests, "too_many_requests", "slow down", "")
	case errors.Is(err, ErrServiceUnavailable):
		abortJSON(c, http.StatusServiceUnavailable, "service_unavailable", "dependency not ready", "")
	default:
		_ = c.Error(err)
		abortJSON(c, http.StatusInternalServerError, "persistence_error", "internal error", "")
	}
}

func abortJSON(c *gin.Context, status int, code, message, field string) {
	body := gin.H{"code": code, "message": message}
	if field != "" {
		body["field"] = field
	}
	if requestID := obscontext.RequestIDFromGin(c); requestID != "" {
		body["request_id"] = requestID
	}
	c.AbortWithStatusJSON(status, gin.H{"error": body})
}
