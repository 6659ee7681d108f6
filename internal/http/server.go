// Package http serves the dispatcher over a JSON HTTP API.
package http

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/taskmaster/internal/logging"
	"github.com/fyrsmithlabs/taskmaster/internal/orchestrator"
	"github.com/fyrsmithlabs/taskmaster/internal/session"
	"github.com/fyrsmithlabs/taskmaster/internal/store"
	"github.com/fyrsmithlabs/taskmaster/internal/taskerr"
	"github.com/fyrsmithlabs/taskmaster/internal/telemetry"
)

// maxBodyBytes bounds POST /api/v1/command.
const maxBodyBytes = 1 << 20

// Handler executes flat requests.
type Handler interface {
	HandleFlat(ctx context.Context, f orchestrator.FlatRequest) *orchestrator.Response
}

// Sessions is the read side of the store.
type Sessions interface {
	List(ctx context.Context) ([]store.Summary, error)
	Load(ctx context.Context, id string) (*session.Session, error)
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int

	// RateLimit is requests per second per client IP on /api; 0 disables.
	RateLimit float64
	RateBurst int

	// APIToken, when set, is required as a bearer token on /api.
	APIToken string
}

// Server provides the taskmaster HTTP API.
type Server struct {
	echo      *echo.Echo
	handler   Handler
	sessions  Sessions
	telemetry *telemetry.Telemetry
	registry  *prometheus.Registry
	limiter   *clientLimiter
	logger    *zap.Logger
	config    *Config
}

// Option configures a Server.
type Option func(*Server)

// WithTelemetry reports exporter health on /health.
func WithTelemetry(t *telemetry.Telemetry) Option {
	return func(s *Server) {
		s.telemetry = t
	}
}

// WithMetrics records request metrics.
func WithMetrics(m *HTTPMetrics) Option {
	return func(s *Server) {
		if m != nil {
			s.echo.Use(m.MetricsMiddleware())
		}
	}
}

// NewServer creates a server over h and sessions.
func NewServer(h Handler, sessions Sessions, logger *zap.Logger, cfg *Config, opts ...Option) (*Server, error) {
	if h == nil {
		return nil, fmt.Errorf("handler is required")
	}
	if sessions == nil {
		return nil, fmt.Errorf("sessions are required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{Host: "127.0.0.1", Port: 8765}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler(logger)
	// Rate limiting keys on the socket peer; forwarding headers are spoofable.
	e.IPExtractor = echo.ExtractIPDirect()

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			rid := c.Response().Header().Get(echo.HeaderXRequestID)
			if logging.ValidID(rid) {
				req := c.Request()
				c.SetRequest(req.WithContext(logging.WithRequestID(req.Context(), rid)))
			}

			err := next(c)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", rid),
			)
			return err
		}
	})

	s := &Server{
		echo:     e,
		handler:  h,
		sessions: sessions,
		registry: prometheus.NewRegistry(),
		logger:   logger,
		config:   cfg,
	}
	if cfg.RateLimit > 0 {
		s.limiter = newClientLimiter(cfg.RateLimit, cfg.RateBurst)
	}
	for _, opt := range opts {
		opt(s)
	}

	s.registry.MustRegister(newSessionCollector(sessions, logger))
	s.registerRoutes()
	return s, nil
}

// Registry returns the Prometheus registry served on /metrics.
func (s *Server) Registry() *prometheus.Registry {
	return s.registry
}

// Echo exposes the router.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(
		prometheus.Gatherers{s.registry, prometheus.DefaultGatherer},
		promhttp.HandlerOpts{},
	)))

	v1 := s.echo.Group("/api/v1")
	if s.limiter != nil {
		v1.Use(s.rateLimit)
	}
	if s.config.APIToken != "" {
		v1.Use(s.requireToken)
	}
	v1.POST("/command", s.handleCommand)
	v1.GET("/sessions", s.handleListSessions)
	v1.GET("/sessions/:id", s.handleGetSession)
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status    string                  `json:"status"`
	Telemetry *telemetry.HealthStatus `json:"telemetry,omitempty"`
}

func (s *Server) handleHealth(c echo.Context) error {
	resp := HealthResponse{Status: "ok"}
	if s.telemetry != nil {
		h := s.telemetry.Health()
		resp.Telemetry = &h
		if h.Degraded {
			resp.Status = "degraded"
		}
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleCommand(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxBodyBytes+1))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read request body")
	}
	if len(body) > maxBodyBytes {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "request body too large")
	}

	var resp *orchestrator.Response
	f, err := orchestrator.DecodeFlat(body)
	if err != nil {
		resp = orchestrator.Rejected("", err)
	} else {
		resp = s.handler.HandleFlat(c.Request().Context(), f)
	}
	return c.JSON(commandStatus(resp), resp)
}

// SessionsResponse is the response body for GET /api/v1/sessions.
type SessionsResponse struct {
	Sessions []store.Summary `json:"sessions"`
}

func (s *Server) handleListSessions(c echo.Context) error {
	list, err := s.sessions.List(c.Request().Context())
	if err != nil {
		return err
	}
	if list == nil {
		list = []store.Summary{}
	}
	return c.JSON(http.StatusOK, SessionsResponse{Sessions: list})
}

func (s *Server) handleGetSession(c echo.Context) error {
	id := c.Param("id")
	if err := store.ValidateID(id); err != nil {
		return err
	}
	sess, err := s.sessions.Load(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sess)
}

func (s *Server) rateLimit(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ip := c.RealIP()
		if !s.limiter.allow(ip) {
			s.logger.Warn("rate limit exceeded", zap.String("ip", ip))
			c.Response().Header().Set("Retry-After", strconv.Itoa(1))
			return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
		}
		return next(c)
	}
}

func (s *Server) requireToken(next echo.HandlerFunc) echo.HandlerFunc {
	want := []byte(s.config.APIToken)
	return func(c echo.Context) error {
		got, ok := strings.CutPrefix(c.Request().Header.Get(echo.HeaderAuthorization), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			return echo.NewHTTPError(http.StatusUnauthorized, "missing or invalid bearer token")
		}
		return next(c)
	}
}

// commandStatus maps an envelope to an HTTP status. Accepted commands are 200
// even when the status is failed or review_required.
func commandStatus(resp *orchestrator.Response) int {
	if resp.OK() || resp.Error == nil {
		return http.StatusOK
	}
	return statusForCode(resp.Error.Code)
}

func statusForCode(code taskerr.Code) int {
	switch code {
	case taskerr.CodeInvalidPayload, taskerr.CodeUnknownCommand, taskerr.CodeInvalidSessionID:
		return http.StatusBadRequest
	case taskerr.CodeSessionNotFound, taskerr.CodeTaskNotFound, taskerr.CodeNoSession, taskerr.CodeSnapshotNotFound:
		return http.StatusNotFound
	case taskerr.CodeStaleSession:
		return http.StatusConflict
	case taskerr.CodeInternal, taskerr.CodePersistFailed, taskerr.CodeSessionCorrupt:
		return http.StatusInternalServerError
	default:
		return http.StatusUnprocessableEntity
	}
}

// errorHandler renders taskerr errors as an ErrorBody and echo errors as
// {"message": ...}.
func errorHandler(logger *zap.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		var he *echo.HTTPError
		if errors.As(err, &he) {
			_ = c.JSON(he.Code, map[string]any{"message": he.Message})
			return
		}

		te := taskerr.From(err)
		status := statusForCode(te.Code)
		if status >= http.StatusInternalServerError {
			logger.Error("request failed", zap.String("uri", c.Request().RequestURI), zap.Error(err))
		}
		_ = c.JSON(status, map[string]any{"error": orchestrator.ErrorBodyOf(te)})
	}
}

// Start serves until Shutdown.
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
	s.logger.Info("starting http server", zap.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
