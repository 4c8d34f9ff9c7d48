// Package api implements the HTTP surface (C14) over the Tool Dispatcher:
// a gin router exposing one endpoint per tool plus health, metrics and
// performance introspection, per spec.md §6.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/opsknowledge/retrieval-service/internal/config"
	"github.com/opsknowledge/retrieval-service/internal/dispatcher"
	"github.com/opsknowledge/retrieval-service/internal/observability"
)

// Server wraps a gin.Engine over the Dispatcher, wiring the middleware
// chain and route table, and owning the underlying http.Server for
// graceful shutdown.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	dispatcher *dispatcher.Dispatcher
	cfg        config.APIConfig
	logger     observability.Logger
	metrics    *observability.PromMetricsClient
	limiter    *rateLimiter
}

// New constructs a Server around an already-built Dispatcher.
func New(d *dispatcher.Dispatcher, cfg config.APIConfig, logger observability.Logger, metrics *observability.PromMetricsClient) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	s := &Server{
		router:     router,
		dispatcher: d,
		cfg:        cfg,
		logger:     logger,
		metrics:    metrics,
		limiter:    newRateLimiter(cfg.MaxConcurrentQueries),
	}

	router.Use(gin.Recovery())
	router.Use(s.requestLogger())
	router.Use(s.metricsMiddleware())
	router.Use(s.rateLimitMiddleware())
	if cfg.EnableCORS {
		router.Use(corsMiddleware())
	}

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           router,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

// Router exposes the underlying gin engine, primarily for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Start begins serving HTTP traffic and blocks until the server stops.
func (s *Server) Start() error {
	if s.logger != nil {
		s.logger.Info("api: listening", map[string]interface{}{"address": s.cfg.ListenAddress})
	}
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server, honoring ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) setupRoutes() {
	// Health and metrics stay open so probes and scrapers never need
	// credentials, matching the grounding file's own public endpoints.
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", s.handleMetrics)

	protected := s.router.Group("/")
	protected.Use(s.authMiddleware())

	protected.GET("/performance", s.handlePerformance)
	protected.POST("/search", s.toolHandler("search_knowledge_base"))
	protected.POST("/runbooks/search", s.toolHandler("search_runbooks"))
	protected.GET("/runbooks/:id", s.handleGetRunbook)
	protected.GET("/procedures/:id", s.handleGetProcedure)
	protected.POST("/escalation", s.toolHandler("get_escalation_path"))
	protected.POST("/decision-tree", s.toolHandler("get_decision_tree"))
	protected.GET("/sources", s.handleListSources)
	protected.POST("/feedback", s.toolHandler("record_resolution_feedback"))
}
