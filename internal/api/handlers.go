package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"ai-futures-trader/internal/auth"
)

const defaultListLimit = 50

func (s *Server) handleLogin(c *gin.Context) {
	if !s.loginLimiter.Allow(c.ClientIP()) {
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":   "RATE_LIMITED",
			"message": "too many login attempts, please slow down",
		})
		return
	}

	var req auth.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "INVALID_REQUEST",
			"message": "email and password are required",
		})
		return
	}

	resp, err := s.authService.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if authErr, ok := err.(auth.AuthError); ok {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   authErr.Code,
				"message": authErr.Message,
			})
			return
		}
		s.logger.Error().Err(err).Msg("login failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "INTERNAL", "message": "login failed"})
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleListTraders(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"traders": s.supervisor.Statuses()})
}

func (s *Server) handleTraderStatus(c *gin.Context) {
	status, err := s.supervisor.Status(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "NOT_FOUND", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) handleTraderStart(c *gin.Context) {
	id := c.Param("id")
	if err := s.supervisor.Start(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "NOT_FOUND", "message": err.Error()})
		return
	}
	s.logger.Info().Str("trader_id", id).Str("user_id", auth.GetUserID(c)).Msg("trader started via api")
	c.JSON(http.StatusOK, gin.H{"status": "started", "trader_id": id})
}

func (s *Server) handleTraderStop(c *gin.Context) {
	id := c.Param("id")
	if err := s.supervisor.Stop(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "NOT_FOUND", "message": err.Error()})
		return
	}
	s.logger.Info().Str("trader_id", id).Str("user_id", auth.GetUserID(c)).Msg("trader stopped via api")
	c.JSON(http.StatusOK, gin.H{"status": "stopped", "trader_id": id})
}

func (s *Server) handleTraderReload(c *gin.Context) {
	id := c.Param("id")
	if err := s.supervisor.Reload(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "RELOAD_FAILED", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "reloaded", "trader_id": id})
}

func (s *Server) handleTraderDecisions(c *gin.Context) {
	logs, err := s.store.RecentDecisionLogs(c.Request.Context(), c.Param("id"), listLimit(c))
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to read decision logs")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "INTERNAL", "message": "failed to read decisions"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"decisions": logs})
}

func (s *Server) handleTraderTrades(c *gin.Context) {
	records, err := s.store.RecentTradeRecords(c.Request.Context(), c.Param("id"), listLimit(c))
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to read trade records")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "INTERNAL", "message": "failed to read trades"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": records})
}

func (s *Server) handleEvents(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"events": s.eventLog.recent(listLimit(c))})
}

func listLimit(c *gin.Context) int {
	raw := c.Query("limit")
	if raw == "" {
		return defaultListLimit
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 || limit > 500 {
		return defaultListLimit
	}
	return limit
}
