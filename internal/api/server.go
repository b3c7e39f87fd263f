// Package api serves the account linking routes.
package api

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/displex/displex/internal/api/ratelimit"
	"github.com/displex/displex/internal/config"
	"github.com/displex/displex/internal/linking"
	"github.com/displex/displex/internal/session"
)

// Flow is the three-step link flow driven by the routes.
type Flow interface {
	Start(ctx context.Context, sess linking.Session) (string, error)
	HandleIdentityCallback(ctx context.Context, sess linking.Session, code, state string) (string, error)
	CompleteDeviceCallback(ctx context.Context, sess linking.Session, pinID int, pinCode string) (string, error)
}

// Pinger reports database health.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Server handles HTTP requests for displex.
type Server struct {
	echo     *echo.Echo
	flow     Flow
	sessions session.Store
	db       Pinger
	limiter  *ratelimit.Limiter
	logger   zerolog.Logger
}

// NewServer creates a new server. limiter may be nil to disable rate limiting.
func NewServer(flow Flow, sessions session.Store, db Pinger, limiter *ratelimit.Limiter, logger zerolog.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:     e,
		flow:     flow,
		sessions: sessions,
		db:       db,
		limiter:  limiter,
		logger:   logger.With().Str("component", "api").Logger(),
	}

	e.HTTPErrorHandler = s.errorHandler

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// Start begins listening for HTTP requests.
func (s *Server) Start(address string) error {
	s.logger.Info().Str("address", address).Str("version", config.Version).Msg("starting HTTP server")
	return s.echo.Start(address)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("shutting down HTTP server")
	return s.echo.Shutdown(ctx)
}

// Echo returns the underlying Echo instance.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func (s *Server) healthCheck(c echo.Context) error {
	if s.db != nil {
		if err := s.db.PingContext(c.Request().Context()); err != nil {
			s.logger.Error().Err(err).Msg("health check failed")
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		}
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": config.Version})
}
