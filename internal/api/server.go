// Package api serves the admin surface: auth, trader lifecycle control and
// read-only monitoring. The trading process runs headless without it.
package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"ai-futures-trader/config"
	"ai-futures-trader/internal/auth"
	"ai-futures-trader/internal/database"
	"ai-futures-trader/internal/events"
	"ai-futures-trader/internal/trader"
)

// Supervisor is the trader-control surface the API exposes.
type Supervisor interface {
	Statuses() []trader.Status
	Status(traderID string) (trader.Status, error)
	Start(ctx context.Context, traderID string) error
	Stop(ctx context.Context, traderID string) error
	Reload(ctx context.Context, traderID string) error
}

// Store is the read surface behind the monitoring routes.
type Store interface {
	HealthCheck(ctx context.Context) error
	RecentDecisionLogs(ctx context.Context, traderID string, limit int) ([]*database.DecisionLog, error)
	RecentTradeRecords(ctx context.Context, traderID string, limit int) ([]database.TradeRecord, error)
}

// RateLimiter provides simple in-memory rate limiting per key.
type RateLimiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	limit    int
	window   time.Duration
}

// NewRateLimiter creates a new rate limiter.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
	}
}

// Allow checks if a request is allowed for the given key.
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-r.window)

	var recent []time.Time
	for _, t := range r.requests[key] {
		if t.After(windowStart) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= r.limit {
		r.requests[key] = recent
		return false
	}

	r.requests[key] = append(recent, now)
	return true
}

// Server is the HTTP admin server.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	config     config.ServerConfig

	store       Store
	supervisor  Supervisor
	authService *auth.Service
	jwt         *auth.JWTManager
	eventLog    *eventLog

	loginLimiter *RateLimiter

	logger zerolog.Logger
}

// NewServer wires the routes. authService and jwtManager must both be set
// for the protected routes to be reachable; without them only /health is
// served.
func NewServer(cfg config.ServerConfig, store Store, supervisor Supervisor, authService *auth.Service, jwtManager *auth.JWTManager, bus *events.EventBus, logger zerolog.Logger) *Server {
	if cfg.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	router.Use(cors.New(corsConfig))

	server := &Server{
		router:       router,
		config:       cfg,
		store:        store,
		supervisor:   supervisor,
		authService:  authService,
		jwt:          jwtManager,
		eventLog:     newEventLog(bus, eventLogCapacity),
		loginLimiter: NewRateLimiter(10, time.Minute),
		logger:       logger,
	}
	server.setupRoutes()
	return server
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	if s.authService == nil || s.jwt == nil {
		s.logger.Warn().Msg("auth not configured, only /health is served")
		return
	}

	s.router.POST("/api/auth/login", s.handleLogin)

	protected := s.router.Group("/api", auth.Middleware(s.jwt))
	{
		protected.GET("/traders", s.handleListTraders)
		protected.GET("/traders/:id/status", s.handleTraderStatus)
		protected.POST("/traders/:id/start", s.handleTraderStart)
		protected.POST("/traders/:id/stop", s.handleTraderStop)
		protected.POST("/traders/:id/reload", s.handleTraderReload)
		protected.GET("/traders/:id/decisions", s.handleTraderDecisions)
		protected.GET("/traders/:id/trades", s.handleTraderTrades)
		protected.GET("/events", s.handleEvents)
	}
}

// Start blocks serving HTTP until Shutdown or a listener error.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info().Str("addr", addr).Msg("http server listening")

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info().Msg("shutting down http server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := s.store.HealthCheck(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":   "unhealthy",
			"database": "unhealthy",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"database": "healthy",
		"time":     time.Now().Format(time.RFC3339),
	})
}
