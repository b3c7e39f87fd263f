// Package session keeps the per-browser correlation state of a link flow.
package session

import (
	"context"
	"maps"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Keys stored during a link flow.
const (
	KeyCSRFNonce       = "csrf_nonce"
	KeyPendingAuthCode = "pending_auth_code"
)

const (
	DefaultCookieName = "displex_session"
	contextKey        = "session"
)

// Session is a small string map scoped to one browser.
// It is not safe for concurrent use; a browser drives one request at a time.
type Session struct {
	id       string
	values   map[string]string
	modified bool
}

// New returns an empty session.
func New() *Session {
	return &Session{values: make(map[string]string)}
}

func (s *Session) Get(key string) (string, bool) {
	v, ok := s.values[key]
	return v, ok
}

func (s *Session) Set(key, value string) {
	s.values[key] = value
	s.modified = true
}

func (s *Session) Delete(key string) {
	if _, ok := s.values[key]; ok {
		delete(s.values, key)
		s.modified = true
	}
}

// Take returns the value for key and removes it.
func (s *Session) Take(key string) (string, bool) {
	v, ok := s.values[key]
	if ok {
		s.Delete(key)
	}
	return v, ok
}

// Clear removes every value.
func (s *Session) Clear() {
	if len(s.values) > 0 {
		s.values = make(map[string]string)
		s.modified = true
	}
}

// Modified reports whether the session changed since it was loaded.
func (s *Session) Modified() bool {
	return s.modified
}

// Empty reports whether the session holds no values.
func (s *Session) Empty() bool {
	return len(s.values) == 0
}

// Values returns a copy of the stored values.
func (s *Session) Values() map[string]string {
	return maps.Clone(s.values)
}

// Store loads and persists sessions. Load never fails on a missing, expired or
// tampered cookie; it returns an empty session instead.
type Store interface {
	Load(ctx context.Context, r *http.Request) (*Session, error)
	Save(ctx context.Context, w http.ResponseWriter, s *Session) error
}

// CookieOptions configures the session cookie.
type CookieOptions struct {
	Name   string
	Secure bool
	TTL    time.Duration
}

func (o CookieOptions) name() string {
	if o.Name == "" {
		return DefaultCookieName
	}
	return o.Name
}

func (o CookieOptions) cookie(value string, expires time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     o.name(),
		Value:    value,
		Path:     "/",
		Expires:  expires,
		MaxAge:   int(o.TTL.Seconds()),
		HttpOnly: true,
		Secure:   o.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}

func (o CookieOptions) expired() *http.Cookie {
	return &http.Cookie{
		Name:     o.name(),
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   o.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// Middleware loads the session before the handler runs and saves it, when
// modified, right before the response header is written.
func Middleware(store Store, logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			// A client disconnect must not drop a session write mid-flow.
			ctx := context.WithoutCancel(req.Context())
			sess, err := store.Load(ctx, req)
			if err != nil {
				return err
			}
			c.Set(contextKey, sess)

			c.Response().Before(func() {
				if !sess.Modified() {
					return
				}
				if err := store.Save(ctx, c.Response().Writer, sess); err != nil {
					logger.Error().Err(err).Msg("failed to save session")
				}
			})

			return next(c)
		}
	}
}

// FromContext returns the session loaded by Middleware, or nil.
func FromContext(c echo.Context) *Session {
	sess, _ := c.Get(contextKey).(*Session)
	return sess
}
