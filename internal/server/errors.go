package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	grantdomain "github.com/openshelf/engage/internal/grant/domain"
	intakedomain "github.com/openshelf/engage/internal/intake/domain"
	pointsdomain "github.com/openshelf/engage/internal/points/domain"
	referraldomain "github.com/openshelf/engage/internal/referral/domain"
	streakdomain "github.com/openshelf/engage/internal/streak/domain"
	"github.com/openshelf/engage/pkg/db"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrTooManyReqs    = errors.New("too_many_requests")
	ErrNotFound       = errors.New("not_found")
	ErrInvalidRequest = errors.New("invalid_request")
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

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if isValidationError(err) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, intakedomain.ErrFutureEvent):
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "future_event",
			Message: "event timestamp is too far in the future",
		}
	case errors.Is(err, streakdomain.ErrStaleEvent):
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "stale_event",
			Message: "event is older than the recorded activity",
		}
	case errors.Is(err, db.ErrConflict):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "conflicting concurrent update, retry the request",
		}
	case errors.Is(err, ErrTooManyReqs):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, intakedomain.ErrInvalidUser),
		errors.Is(err, intakedomain.ErrInvalidIdempotencyKey),
		errors.Is(err, intakedomain.ErrInvalidOccurredAt),
		errors.Is(err, intakedomain.ErrUnknownEventType),
		errors.Is(err, intakedomain.ErrMissingReferredUser),
		errors.Is(err, pointsdomain.ErrInvalidUser),
		errors.Is(err, pointsdomain.ErrInvalidReason),
		errors.Is(err, pointsdomain.ErrInvalidIdempotencyKey),
		errors.Is(err, streakdomain.ErrInvalidUser),
		errors.Is(err, streakdomain.ErrInvalidOccurredAt),
		errors.Is(err, streakdomain.ErrInvalidTimezoneOffset),
		errors.Is(err, grantdomain.ErrInvalidUser),
		errors.Is(err, grantdomain.ErrInvalidRewardKey),
		errors.Is(err, referraldomain.ErrInvalidUser),
		errors.Is(err, referraldomain.ErrInvalidReferredUser),
		errors.Is(err, referraldomain.ErrSelfReferral):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func validationErrorCode(err error) string {
	if errors.Is(err, ErrInvalidRequest) {
		return "invalid_request"
	}
	return err.Error()
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	switch code {
	case "missing_referred_user":
		return "referred_user_id"
	case "unknown_event_type":
		return "type"
	case "self_referral":
		return "referred_user_id"
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	case "unknown_event_type":
		return "event type is not configured"
	case "missing_referred_user":
		return "referral events require referred_user_id"
	case "self_referral":
		return "users cannot refer themselves"
	default:
		return "invalid value"
	}
}

// classifyErrorForLog feeds the request logger so validation noise logs at a
// lower level than real failures.
func classifyErrorForLog(err error) (string, string) {
	if err == nil {
		return "", ""
	}
	if vErr := asValidationErrors(err); vErr != nil {
		code := "invalid_request"
		if len(vErr.Errors) > 0 {
			code = vErr.Errors[0].Code
		}
		return "validation_error", code
	}
	if isValidationError(err) {
		return "validation_error", validationErrorCode(err)
	}
	switch {
	case errors.Is(err, intakedomain.ErrFutureEvent):
		return "validation_error", "future_event"
	case errors.Is(err, streakdomain.ErrStaleEvent):
		return "validation_error", "stale_event"
	case errors.Is(err, db.ErrConflict):
		return "conflict", "storage_conflict"
	case errors.Is(err, ErrTooManyReqs):
		return "rate_limited", "too_many_requests"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized", "unauthorized"
	case isNotFoundError(err):
		return "not_found", "not_found"
	default:
		return "internal_error", "internal_error"
	}
}
