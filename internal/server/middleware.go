package server

import (
	"crypto/subtle"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/openshelf/engage/internal/observability/logger"
	"go.uber.org/zap"
)

// APIKeyRequired gates the API on the shared key from configuration. When no
// key is configured the gate is open, which suits local development.
func (s *Server) APIKeyRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cfg.APIKey == "" {
			c.Next()
			return
		}

		provided := strings.TrimSpace(c.GetHeader("X-API-Key"))
		if provided == "" {
			if header := strings.TrimSpace(c.GetHeader("Authorization")); strings.HasPrefix(header, "Bearer ") {
				provided = strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
			}
		}

		if subtle.ConstantTimeCompare([]byte(provided), []byte(s.cfg.APIKey)) != 1 {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		c.Next()
	}
}

// EventIngestRateLimit throttles the ingest endpoint per user and globally,
// then holds a per-user lock for the duration of the request so concurrent
// submissions for one account are processed one at a time.
func (s *Server) EventIngestRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.eventLimiter == nil {
			c.Next()
			return
		}
		ctx := c.Request.Context()

		if res := s.eventLimiter.AllowEndpoint(ctx); !res.Allowed {
			denyRateLimited(c, res.RetryAfter)
			return
		}

		// Peek at the body for the user id without consuming it. A body the
		// handler will reject anyway passes through unthrottled.
		var peek struct {
			UserID string `json:"user_id"`
		}
		if err := c.ShouldBindBodyWithJSON(&peek); err != nil {
			c.Next()
			return
		}
		userID, err := parseID(peek.UserID)
		if err != nil {
			c.Next()
			return
		}

		if res := s.eventLimiter.AllowUser(ctx, userID); !res.Allowed {
			denyRateLimited(c, res.RetryAfter)
			return
		}

		token, acquired, err := s.eventLimiter.TryLockUser(ctx, userID)
		if err != nil {
			logger.FromContext(ctx).Warn("event ingest lock failed, allowing request", zap.Error(err))
		} else if !acquired {
			denyRateLimited(c, time.Second)
			return
		} else {
			defer func() {
				if err := s.eventLimiter.ReleaseUser(ctx, userID, token); err != nil {
					logger.FromContext(ctx).Warn("event ingest unlock failed", zap.Error(err))
				}
			}()
		}

		c.Next()
	}
}

func denyRateLimited(c *gin.Context, retryAfter time.Duration) {
	c.Header("Retry-After", strconv.Itoa(int(retryAfter.Seconds())+1))
	AbortWithError(c, ErrTooManyReqs)
}
