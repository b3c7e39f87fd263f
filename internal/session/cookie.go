package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// claims is the signed cookie payload.
type claims struct {
	Data map[string]string `json:"data"`
	jwt.RegisteredClaims
}

// CookieStore keeps the whole session in an HMAC-signed cookie.
type CookieStore struct {
	secret []byte
	opts   CookieOptions
	now    func() time.Time
}

// NewCookieStore creates a cookie backed store signed with secret.
func NewCookieStore(secret string, opts CookieOptions) (*CookieStore, error) {
	if len(secret) < 32 {
		return nil, errors.New("session secret must be at least 32 characters")
	}
	return &CookieStore{secret: []byte(secret), opts: opts, now: time.Now}, nil
}

func (s *CookieStore) Load(_ context.Context, r *http.Request) (*Session, error) {
	sess := New()

	cookie, err := r.Cookie(s.opts.name())
	if err != nil || cookie.Value == "" {
		return sess, nil
	}

	c, err := s.parse(cookie.Value)
	if err != nil {
		return sess, nil
	}
	for k, v := range c.Data {
		sess.values[k] = v
	}
	return sess, nil
}

func (s *CookieStore) Save(_ context.Context, w http.ResponseWriter, sess *Session) error {
	if sess.Empty() {
		http.SetCookie(w, s.opts.expired())
		return nil
	}

	now := s.now()
	expires := now.Add(s.opts.TTL)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &claims{
		Data: sess.values,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expires),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	})

	signed, err := token.SignedString(s.secret)
	if err != nil {
		return fmt.Errorf("failed to sign session: %w", err)
	}

	http.SetCookie(w, s.opts.cookie(signed, expires))
	return nil
}

func (s *CookieStore) parse(value string) (*claims, error) {
	token, err := jwt.ParseWithClaims(value, &claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}

	c, ok := token.Claims.(*claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid session token")
	}
	return c, nil
}
