package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/displex/displex/internal/testutil"
)

func TestSession_Values(t *testing.T) {
	s := New()
	assert.True(t, s.Empty())
	assert.False(t, s.Modified())

	_, ok := s.Get(KeyCSRFNonce)
	assert.False(t, ok)

	s.Set(KeyCSRFNonce, "nonce")
	v, ok := s.Get(KeyCSRFNonce)
	assert.True(t, ok)
	assert.Equal(t, "nonce", v)
	assert.True(t, s.Modified())

	v, ok = s.Take(KeyCSRFNonce)
	assert.True(t, ok)
	assert.Equal(t, "nonce", v)

	_, ok = s.Take(KeyCSRFNonce)
	assert.False(t, ok, "a taken value is gone")

	s.Set(KeyPendingAuthCode, "code")
	s.Clear()
	assert.True(t, s.Empty())
}

func TestSession_DeleteMissingIsNoop(t *testing.T) {
	s := New()
	s.Delete("missing")
	assert.False(t, s.Modified())
}

func TestMiddleware_SavesModifiedSession(t *testing.T) {
	store, err := NewCookieStore(testSecret, CookieOptions{TTL: defaultTestTTL})
	require.NoError(t, err)

	e := echo.New()
	e.Use(Middleware(store, zerolog.Nop()))
	e.GET("/set", func(c echo.Context) error {
		FromContext(c).Set(KeyCSRFNonce, "abc")
		return c.Redirect(http.StatusFound, "https://discord.com")
	})
	e.GET("/get", func(c echo.Context) error {
		v, _ := FromContext(c).Get(KeyCSRFNonce)
		return c.String(http.StatusOK, v)
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/set", nil))
	require.Equal(t, http.StatusFound, rec.Code)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)

	req := httptest.NewRequest(http.MethodGet, "/get", nil)
	req.AddCookie(cookies[0])
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, "abc", rec.Body.String())
	assert.Empty(t, rec.Result().Cookies(), "unmodified session is not rewritten")
}

func TestMiddleware_SavesAfterClientDisconnect(t *testing.T) {
	tdb := testutil.NewTestDB(t)
	store := NewDBStore(tdb.Conn, CookieOptions{TTL: defaultTestTTL})

	ctx, cancel := context.WithCancel(context.Background())
	e := echo.New()
	e.Use(Middleware(store, zerolog.Nop()))
	e.GET("/set", func(c echo.Context) error {
		FromContext(c).Set(KeyPendingAuthCode, "code")
		cancel()
		return c.NoContent(http.StatusFound)
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/set", nil).WithContext(ctx))

	require.Equal(t, http.StatusFound, rec.Code)
	assert.Len(t, rec.Result().Cookies(), 1)
	assert.Equal(t, 1, tdb.CountRows(t, "link_sessions"))
}
