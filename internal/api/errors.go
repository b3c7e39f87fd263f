package api

import (
	"errors"
	"fmt"
	"html"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/displex/displex/internal/linking"
)

// statusFor maps a handler error to the response status.
func statusFor(err error) int {
	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
		return he.Code
	case errors.Is(err, linking.ErrInvalidState):
		return http.StatusBadRequest
	case errors.Is(err, linking.ErrUnauthorizedDevice):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// errorHandler renders every failure as a generic page. Details stay in the
// logs.
func (s *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := statusFor(err)
	message := http.StatusText(status)
	switch status {
	case http.StatusBadRequest:
		message = "The request was invalid or has expired. Please start linking again."
	case http.StatusUnauthorized:
		message = "Your Plex account does not have access to this server."
	case http.StatusInternalServerError:
		message = "Something went wrong. Please try again later."
	}

	page := fmt.Sprintf("<!doctype html><title>%d %s</title><p>%s</p>\n",
		status, html.EscapeString(http.StatusText(status)), html.EscapeString(message))

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(status)
	} else {
		err = c.HTML(status, page)
	}
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to write error response")
	}
}
