package api

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	apimw "github.com/displex/displex/internal/api/middleware"
	"github.com/displex/displex/internal/session"
)

func (s *Server) setupMiddleware() {
	// Recovery middleware
	s.echo.Use(middleware.Recover())

	// Request ID
	s.echo.Use(middleware.RequestID())

	// Security headers
	s.echo.Use(apimw.SecurityHeaders())

	// Request logging. Query strings carry authorization codes, so only the
	// path is logged.
	s.echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURIPath:   true,
		LogStatus:    true,
		LogLatency:   true,
		LogMethod:    true,
		LogError:     true,
		LogRequestID: true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error != nil {
				s.logger.Error().
					Str("method", v.Method).
					Str("path", v.URIPath).
					Int("status", v.Status).
					Dur("latency", v.Latency).
					Str("requestId", v.RequestID).
					Err(v.Error).
					Msg("request error")
			} else {
				s.logger.Info().
					Str("method", v.Method).
					Str("path", v.URIPath).
					Int("status", v.Status).
					Dur("latency", v.Latency).
					Str("requestId", v.RequestID).
					Msg("request")
			}
			return nil
		},
	}))
}

// setupRoutes configures the link routes.
func (s *Server) setupRoutes() {
	s.echo.GET("/health", s.healthCheck)

	link := s.echo.Group("")
	if s.limiter != nil {
		link.Use(s.limiter.Middleware())
	}
	link.Use(session.Middleware(s.sessions, s.logger))

	link.GET("/discord/linked-role", s.linkedRole)
	link.GET("/discord/callback", s.discordCallback)
	link.GET("/plex/callback", s.plexCallback)
}
