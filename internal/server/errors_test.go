package server

import (
	"errors"
	"net/http"
	"testing"

	intakedomain "github.com/openshelf/engage/internal/intake/domain"
	pointsdomain "github.com/openshelf/engage/internal/points/domain"
	streakdomain "github.com/openshelf/engage/internal/streak/domain"
	"github.com/openshelf/engage/pkg/db"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantType   string
	}{
		{"nil", nil, http.StatusInternalServerError, "internal_error"},
		{"validation sentinel", pointsdomain.ErrInvalidUser, http.StatusBadRequest, "validation_error"},
		{"unknown event type", intakedomain.ErrUnknownEventType, http.StatusBadRequest, "validation_error"},
		{"future event", intakedomain.ErrFutureEvent, http.StatusUnprocessableEntity, "future_event"},
		{"stale event", streakdomain.ErrStaleEvent, http.StatusUnprocessableEntity, "stale_event"},
		{"storage conflict", db.ErrConflict, http.StatusConflict, "conflict"},
		{"rate limited", ErrTooManyReqs, http.StatusTooManyRequests, "rate_limited"},
		{"unauthorized", ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
		{"record not found", gorm.ErrRecordNotFound, http.StatusNotFound, "not_found"},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, payload := mapError(tt.err)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantType, payload.Type)
		})
	}
}

func TestMapError_ValidationDetails(t *testing.T) {
	status, payload := mapError(newValidationError("user_id", "invalid_user", "invalid user id"))
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "validation_error", payload.Type)
	if assert.Len(t, payload.Errors, 1) {
		assert.Equal(t, "user_id", payload.Errors[0].Field)
		assert.Equal(t, "invalid_user", payload.Errors[0].Code)
	}
}

func TestClassifyErrorForLog(t *testing.T) {
	errType, code := classifyErrorForLog(intakedomain.ErrFutureEvent)
	assert.Equal(t, "validation_error", errType)
	assert.Equal(t, "future_event", code)

	errType, code = classifyErrorForLog(db.ErrConflict)
	assert.Equal(t, "conflict", errType)
	assert.Equal(t, "storage_conflict", code)

	errType, code = classifyErrorForLog(errors.New("boom"))
	assert.Equal(t, "internal_error", errType)
	assert.Equal(t, "internal_error", code)
}
