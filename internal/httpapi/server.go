// Package httpapi exposes the workflow engine over HTTP.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/flowd/internal/orchestrator"
	"github.com/fyrsmithlabs/flowd/internal/workflow"
)

// Server provides HTTP endpoints for flowd.
type Server struct {
	echo         *echo.Echo
	orchestrator *orchestrator.Orchestrator
	logger       *zap.Logger
	addr         string
}

// Config holds HTTP server configuration.
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// NewServer creates the HTTP server and registers its routes.
func NewServer(orch *orchestrator.Orchestrator, logger *zap.Logger, cfg Config, metrics *HTTPMetrics) (*Server, error) {
	if orch == nil {
		return nil, echo.NewHTTPError(http.StatusInternalServerError, "orchestrator is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadTimeout = cfg.ReadTimeout
	e.Server.WriteTimeout = cfg.WriteTimeout

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	if metrics != nil {
		e.Use(metrics.Middleware())
	}
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	})

	s := &Server{
		echo:         e,
		orchestrator: orch,
		logger:       logger,
		addr:         cfg.Addr,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/healthz", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/workflows", s.handleStartWorkflow)
	v1.GET("/workflows/:id", s.handleGetWorkflow)
	v1.POST("/workflows/:id/interactions", s.handleInteraction)
	v1.POST("/maintenance/sweep", s.handleSweep)
}

// StartWorkflowRequest is the body for POST /api/v1/workflows.
type StartWorkflowRequest struct {
	SessionID    string `json:"session_id"`
	ProjectInput string `json:"project_input"`
}

// InteractionRequest is the body for POST /api/v1/workflows/:id/interactions.
type InteractionRequest struct {
	Action    string `json:"action"`
	UserInput string `json:"user_input,omitempty"`
}

// SweepResponse is the body for POST /api/v1/maintenance/sweep.
type SweepResponse struct {
	Reaped int `json:"reaped"`
}

// HealthResponse is the body for GET /healthz.
type HealthResponse struct {
	Status          string `json:"status"`
	ActiveWorkflows int    `json:"active_workflows"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{
		Status:          "ok",
		ActiveWorkflows: s.orchestrator.ActiveCount(),
	})
}

func (s *Server) handleStartWorkflow(c echo.Context) error {
	var req StartWorkflowRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.SessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session_id field is required")
	}

	view, err := s.orchestrator.StartWorkflow(c.Request().Context(), req.SessionID, req.ProjectInput)
	if err != nil {
		return engineHTTPError(err)
	}
	return c.JSON(http.StatusCreated, view)
}

func (s *Server) handleGetWorkflow(c echo.Context) error {
	view := s.orchestrator.GetWorkflowStatus(c.Param("id"))
	if view == nil {
		return echo.NewHTTPError(http.StatusNotFound, "workflow not found")
	}
	return c.JSON(http.StatusOK, view)
}

func (s *Server) handleInteraction(c echo.Context) error {
	var req InteractionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Action == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "action field is required")
	}

	result := s.orchestrator.ProcessInteraction(
		c.Request().Context(), c.Param("id"),
		orchestrator.Action(req.Action), req.UserInput,
	)

	// Interaction outcomes are structured results, not transport errors; the
	// status code reflects the taxonomy of the first error, if any.
	status := http.StatusOK
	if !result.Success && len(result.Errors) > 0 {
		status = statusForCode(result.Errors[0].Code)
	}
	return c.JSON(status, result)
}

func (s *Server) handleSweep(c echo.Context) error {
	reaped := s.orchestrator.Sweep(c.Request().Context())
	return c.JSON(http.StatusOK, SweepResponse{Reaped: reaped})
}

// engineHTTPError maps a taxonomy error onto an HTTP error response.
func engineHTTPError(err error) *echo.HTTPError {
	return echo.NewHTTPError(statusForCode(workflow.CodeOf(err)), err.Error())
}

func statusForCode(code workflow.ErrorCode) int {
	switch code {
	case workflow.CodeNotFound:
		return http.StatusNotFound
	case workflow.CodeValidation, workflow.CodeSequence, workflow.CodeNoValidTransition, workflow.CodeInvalidState:
		return http.StatusUnprocessableEntity
	case workflow.CodeConcurrency, workflow.CodeTransitionInProgress:
		return http.StatusConflict
	case workflow.CodeResourceLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info("starting http server", zap.String("addr", s.addr))
	return s.echo.Start(s.addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
