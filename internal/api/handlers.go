package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/displex/displex/internal/session"
)

// flowContext detaches a flow step from the client connection. Once a step
// starts it runs to completion; upstream calls stay bounded by the HTTP
// client timeout.
func flowContext(c echo.Context) context.Context {
	return context.WithoutCancel(c.Request().Context())
}

// linkedRole starts a link flow.
// GET /discord/linked-role
func (s *Server) linkedRole(c echo.Context) error {
	url, err := s.flow.Start(flowContext(c), session.FromContext(c))
	if err != nil {
		return err
	}
	return c.Redirect(http.StatusFound, url)
}

// discordCallback receives the Discord authorization code.
// GET /discord/callback?code=&state=
func (s *Server) discordCallback(c echo.Context) error {
	url, err := s.flow.HandleIdentityCallback(flowContext(c), session.FromContext(c), c.QueryParam("code"), c.QueryParam("state"))
	if err != nil {
		return err
	}
	return c.Redirect(http.StatusFound, url)
}

// plexCallback receives the approved Plex PIN.
// GET /plex/callback?id=&code=
func (s *Server) plexCallback(c echo.Context) error {
	pinID, err := strconv.Atoi(c.QueryParam("id"))
	if err != nil || pinID <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid PIN id")
	}
	pinCode := c.QueryParam("code")
	if pinCode == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing PIN code")
	}

	url, err := s.flow.CompleteDeviceCallback(flowContext(c), session.FromContext(c), pinID, pinCode)
	if err != nil {
		return err
	}
	return c.Redirect(http.StatusFound, url)
}
