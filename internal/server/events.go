package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	intakedomain "github.com/openshelf/engage/internal/intake/domain"
)

type recordEventRequest struct {
	UserID                string         `json:"user_id"`
	Type                  string         `json:"type"`
	OccurredAt            time.Time      `json:"occurred_at"`
	IdempotencyKey        string         `json:"idempotency_key"`
	TimezoneOffsetMinutes int            `json:"timezone_offset_minutes"`
	ReferredUserID        string         `json:"referred_user_id"`
	Metadata              map[string]any `json:"metadata"`
}

func (s *Server) RecordEvent(c *gin.Context) {
	var req recordEventRequest
	// ShouldBindBodyWithJSON caches the body so the rate limit peek and the
	// handler can both read it.
	if err := c.ShouldBindBodyWithJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	c.Set("event_type", strings.TrimSpace(req.Type))

	userID, err := parseID(req.UserID)
	if err != nil {
		AbortWithError(c, newValidationError("user_id", "invalid_user", "invalid user id"))
		return
	}

	var referredUserID snowflake.ID
	if strings.TrimSpace(req.ReferredUserID) != "" {
		referredUserID, err = parseID(req.ReferredUserID)
		if err != nil {
			AbortWithError(c, newValidationError("referred_user_id", "invalid_referred_user", "invalid referred user id"))
			return
		}
	}

	result, err := s.intakeSvc.RecordEvent(c.Request.Context(), intakedomain.RecordEventRequest{
		UserID:                userID,
		Type:                  req.Type,
		OccurredAt:            req.OccurredAt,
		IdempotencyKey:        req.IdempotencyKey,
		TimezoneOffsetMinutes: req.TimezoneOffsetMinutes,
		ReferredUserID:        referredUserID,
		Metadata:              req.Metadata,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	status := http.StatusCreated
	if result.Duplicate {
		status = http.StatusOK
	}
	c.JSON(status, result)
}

func parseID(raw string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if id == 0 {
		return 0, ErrInvalidRequest
	}
	return id, nil
}
