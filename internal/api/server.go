// Package api exposes the bot's read-only query surface and the risk resume
// control over HTTP, plus a websocket event feed.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"crypto-scalper/config"
	"crypto-scalper/internal/events"
	"crypto-scalper/internal/paper"
	"crypto-scalper/internal/risk"
	"crypto-scalper/internal/store"
)

// Server is the HTTP API server.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	executor   *paper.Executor
	riskMgr    *risk.Manager
	tradeStore store.TradeStore
	hub        *WSHub
	logger     zerolog.Logger
	cfg        config.ServerConfig
	startedAt  time.Time
	pairs      []string
}

// NewServer builds the router and handlers.
func NewServer(cfg config.ServerConfig, pairs []string, executor *paper.Executor, riskMgr *risk.Manager, tradeStore store.TradeStore, bus *events.Bus, logger zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		router:     gin.New(),
		executor:   executor,
		riskMgr:    riskMgr,
		tradeStore: tradeStore,
		hub:        NewWSHub(bus, logger),
		logger:     logger.With().Str("component", "api_server").Logger(),
		cfg:        cfg,
		startedAt:  time.Now(),
		pairs:      pairs,
	}

	s.router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if cfg.AllowedOrigins == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = strings.Split(cfg.AllowedOrigins, ",")
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	s.router.Use(cors.New(corsConfig))

	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/ws", s.hub.handleWebSocket)

	api := s.router.Group("/api")
	{
		api.GET("/status", s.handleStatus)
		api.GET("/statistics", s.handleStatistics)
		api.GET("/positions", s.handlePositions)
		api.GET("/trades", s.handleTrades)
		api.GET("/risk/metrics", s.handleRiskMetrics)
		api.GET("/risk/limits", s.handleRiskLimits)
		api.GET("/risk/report", s.handleRiskReport)
		api.POST("/risk/resume", s.handleRiskResume)
		api.POST("/risk/halt", s.handleRiskHalt)
	}
}

// Start runs the hub and the HTTP listener.
func (s *Server) Start() error {
	go s.hub.Run()

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info().Str("addr", s.httpServer.Addr).Msg("API server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server failed: %w", err)
	}
	return nil
}

// Shutdown stops the HTTP listener gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleStatus(c *gin.Context) {
	halted, haltReason := s.riskMgr.Halted()

	c.JSON(http.StatusOK, gin.H{
		"status":         statusString(halted),
		"halt_reason":    haltReason,
		"pairs":          s.pairs,
		"open_positions": s.executor.OpenPositionCount(),
		"balance":        s.executor.Balance(),
		"uptime_seconds": int(time.Since(s.startedAt).Seconds()),
		"ws_clients":     s.hub.ClientCount(),
	})
}

func statusString(halted bool) string {
	if halted {
		return "halted"
	}
	return "trading"
}

func (s *Server) handleStatistics(c *gin.Context) {
	c.JSON(http.StatusOK, s.executor.Statistics())
}

func (s *Server) handlePositions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"positions": s.executor.PositionSummaries()})
}

// handleTrades serves the in-memory ledger by default; ?source=db reads the
// persisted history instead.
func (s *Server) handleTrades(c *gin.Context) {
	limit := 50
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	if c.Query("source") == "db" {
		trades, err := s.tradeStore.RecentTrades(c.Request.Context(), limit)
		if err != nil {
			s.logger.Error().Err(err).Msg("Failed to load trades from store")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load trades"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"trades": trades, "source": "db"})
		return
	}

	trades := s.executor.CompletedTrades()
	if len(trades) > limit {
		trades = trades[len(trades)-limit:]
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades, "source": "memory"})
}

func (s *Server) handleRiskMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, s.riskMgr.RiskMetrics(s.executor.Balance()))
}

func (s *Server) handleRiskLimits(c *gin.Context) {
	c.JSON(http.StatusOK, s.riskMgr.Limits(s.executor.Balance()))
}

func (s *Server) handleRiskReport(c *gin.Context) {
	c.JSON(http.StatusOK, s.riskMgr.ExportReport())
}

func (s *Server) handleRiskResume(c *gin.Context) {
	halted, reason := s.riskMgr.Halted()
	if !halted {
		c.JSON(http.StatusOK, gin.H{"status": "trading", "message": "trading was not halted"})
		return
	}

	s.riskMgr.ResumeTrading()
	s.logger.Info().Str("previous_reason", reason).Msg("Trading resumed via API")
	c.JSON(http.StatusOK, gin.H{"status": "trading"})
}

func (s *Server) handleRiskHalt(c *gin.Context) {
	var body struct {
		Reason string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.Reason == "" {
		body.Reason = "manual halt via API"
	}

	s.riskMgr.HaltTrading(body.Reason)
	c.JSON(http.StatusOK, gin.H{"status": "halted", "reason": body.Reason})
}
