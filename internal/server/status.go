package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) GetUserPoints(c *gin.Context) {
	userID, err := parseID(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_user", "invalid user id"))
		return
	}

	status, err := s.pointsSvc.Status(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) GetUserStreak(c *gin.Context) {
	userID, err := parseID(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_user", "invalid user id"))
		return
	}

	status, err := s.streakSvc.Status(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) GetUserReferrals(c *gin.Context) {
	userID, err := parseID(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_user", "invalid user id"))
		return
	}

	status, err := s.referralSvc.Status(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) GetUserRewards(c *gin.Context) {
	userID, err := parseID(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_user", "invalid user id"))
		return
	}

	keys, err := s.grants.ListKeys(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if keys == nil {
		keys = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"reward_keys": keys})
}
