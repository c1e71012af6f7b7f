// Package server exposes backtest runs over an HTTP JSON API.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"backtester/internal/app"
	"backtester/internal/backtesting"
	"backtester/internal/domain"
	"backtester/internal/ports"
)

// Runner is the part of the application service the API needs.
type Runner interface {
	Execute(ctx context.Context, spec app.RunSpec, bars []domain.Bar, signals []domain.Signal) (*domain.Run, error)
	GetRun(ctx context.Context, id string) (*domain.Run, error)
	ListRuns(ctx context.Context, limit int) ([]*domain.Run, error)
	DeleteRun(ctx context.Context, id string) error
}

// Config holds the defaults applied to requests that do not override them.
type Config struct {
	Defaults      backtesting.Config
	Annualization float64
	Version       string
}

// Server wires the HTTP routes to the application service.
type Server struct {
	runner  Runner
	logger  ports.Logger
	cfg     Config
	started time.Time
}

// New creates a new API server.
func New(runner Runner, logger ports.Logger, cfg Config) (*Server, error) {
	if runner == nil || logger == nil {
		return nil, fmt.Errorf("missing required dependencies for Server")
	}
	if cfg.Annualization <= 0 {
		cfg.Annualization = 1
	}
	return &Server{runner: runner, logger: logger, cfg: cfg, started: time.Now()}, nil
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())
	s.setupRoutes(r)
	return r
}

func (s *Server) setupRoutes(r *gin.Engine) {
	r.GET("/healthz", s.handleHealthCheck)

	api := r.Group("/api/v1")
	{
		api.POST("/backtests", s.handleBacktest)
		api.GET("/runs", s.handleListRuns)
		api.GET("/runs/:id", s.handleGetRun)
		api.DELETE("/runs/:id", s.handleDeleteRun)
	}
}

// requestLogger logs every request through the application logger.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		fields := map[string]interface{}{
			"method":  c.Request.Method,
			"path":    c.FullPath(),
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			s.logger.Warn(c.Request.Context(), "HTTP request failed", fields)
			return
		}
		s.logger.Debug(c.Request.Context(), "HTTP request", fields)
	}
}

func (s *Server) handleHealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"uptime":  time.Since(s.started).Round(time.Second).String(),
		"version": s.cfg.Version,
	})
}

func (s *Server) handleBacktest(c *gin.Context) {
	var req BacktestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	engineCfg, annualization, err := req.Config.engineConfig(s.cfg.Defaults, s.cfg.Annualization)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	signals, err := req.domainSignals()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	spec := app.RunSpec{
		Label:         req.Label,
		Symbol:        req.Symbol,
		Interval:      req.Interval,
		Engine:        engineCfg,
		Annualization: annualization,
	}
	run, err := s.runner.Execute(c.Request.Context(), spec, req.domainBars(), signals)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, toRunDTO(run, true))
}

func (s *Server) handleListRuns(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
		return
	}

	runs, err := s.runner.ListRuns(c.Request.Context(), limit)
	if err != nil {
		s.respondError(c, err)
		return
	}
	out := make([]RunDTO, len(runs))
	for i, r := range runs {
		out[i] = toRunDTO(r, false)
	}
	c.JSON(http.StatusOK, gin.H{"runs": out})
}

func (s *Server) handleGetRun(c *gin.Context) {
	run, err := s.runner.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toRunDTO(run, true))
}

func (s *Server) handleDeleteRun(c *gin.Context) {
	if err := s.runner.DeleteRun(c.Request.Context(), c.Param("id")); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// respondError maps domain and infrastructure errors onto HTTP status codes.
func (s *Server) respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ports.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidSignal),
		errors.Is(err, domain.ErrInvalidBar),
		errors.Is(err, domain.ErrInvalidConfig),
		errors.Is(err, domain.ErrUnorderedBars),
		errors.Is(err, domain.ErrUnorderedSignals):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, ports.ErrConfigurationError):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusRequestTimeout
	}
	if status == http.StatusInternalServerError {
		s.logger.Error(c.Request.Context(), err, "Request failed", map[string]interface{}{"path": c.FullPath()})
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
