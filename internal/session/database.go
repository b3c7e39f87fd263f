package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// DBStore keeps session values in the link_sessions table. The cookie only
// carries a random session id.
type DBStore struct {
	db   *sql.DB
	opts CookieOptions
	now  func() time.Time
}

// NewDBStore creates a database backed store.
func NewDBStore(db *sql.DB, opts CookieOptions) *DBStore {
	return &DBStore{db: db, opts: opts, now: time.Now}
}

func (s *DBStore) Load(ctx context.Context, r *http.Request) (*Session, error) {
	cookie, err := r.Cookie(s.opts.name())
	if err != nil || cookie.Value == "" {
		return s.fresh(), nil
	}
	if _, err := uuid.Parse(cookie.Value); err != nil {
		return s.fresh(), nil
	}

	var data string
	err = s.db.QueryRowContext(ctx,
		"SELECT data FROM link_sessions WHERE id = ? AND expires_at > ?",
		cookie.Value, s.now().Unix(),
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return s.fresh(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	sess := New()
	sess.id = cookie.Value
	if err := json.Unmarshal([]byte(data), &sess.values); err != nil {
		return s.fresh(), nil
	}
	if sess.values == nil {
		sess.values = make(map[string]string)
	}
	return sess, nil
}

func (s *DBStore) Save(ctx context.Context, w http.ResponseWriter, sess *Session) error {
	if sess.Empty() {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM link_sessions WHERE id = ?", sess.id); err != nil {
			return fmt.Errorf("failed to delete session: %w", err)
		}
		http.SetCookie(w, s.opts.expired())
		return nil
	}

	data, err := json.Marshal(sess.values)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	expires := s.now().Add(s.opts.TTL)
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO link_sessions (id, data, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			data = excluded.data,
			expires_at = excluded.expires_at
	`, sess.id, string(data), expires.Unix())
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	http.SetCookie(w, s.opts.cookie(sess.id, expires))
	return nil
}

// DeleteExpired removes sessions past their expiry and returns how many were
// removed.
func (s *DBStore) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM link_sessions WHERE expires_at <= ?", s.now().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	return res.RowsAffected()
}

func (s *DBStore) fresh() *Session {
	sess := New()
	sess.id = uuid.NewString()
	return sess
}
