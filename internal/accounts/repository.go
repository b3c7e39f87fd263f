// Package accounts persists linked Discord and Plex accounts.
package accounts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/displex/displex/internal/crypto"
)

var (
	ErrPersistence = errors.New("failed to persist account link")
	ErrNotFound    = errors.New("link not found")
)

// Repository stores account links. Tokens are encrypted when a secret store
// is configured.
type Repository struct {
	db      *sql.DB
	secrets *crypto.SecretStore
	logger  zerolog.Logger
	now     func() time.Time
}

// NewRepository creates a new account link repository. secrets may be nil.
func NewRepository(db *sql.DB, secrets *crypto.SecretStore, logger zerolog.Logger) *Repository {
	return &Repository{
		db:      db,
		secrets: secrets,
		logger:  logger.With().Str("component", "accounts").Logger(),
		now:     time.Now,
	}
}

// LinkAccounts writes both accounts and their tokens in one transaction.
// Accounts are upserted and token rows are replaced, so linking the same
// pair again leaves one row per entity. Any failure rolls back every write
// and is reported as ErrPersistence.
func (r *Repository) LinkAccounts(ctx context.Context, identity IdentityAccount, identityToken IdentityToken, device DeviceAccount, deviceToken DeviceToken) error {
	if err := r.link(ctx, identity, identityToken, device, deviceToken); err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	r.logger.Info().
		Str("discordUserId", identity.ID).
		Int("plexUserId", device.ID).
		Msg("Linked accounts")
	return nil
}

func (r *Repository) link(ctx context.Context, identity IdentityAccount, identityToken IdentityToken, device DeviceAccount, deviceToken DeviceToken) error {
	discordAccess, err := r.secrets.Encrypt(identityToken.AccessToken)
	if err != nil {
		return err
	}
	discordRefresh, err := r.secrets.Encrypt(identityToken.RefreshToken)
	if err != nil {
		return err
	}
	plexAccess, err := r.secrets.Encrypt(deviceToken.AccessToken)
	if err != nil {
		return err
	}

	lifetime := identityToken.ExpiresIn
	if lifetime <= 0 {
		lifetime = DefaultTokenLifetime
	}
	expiresAt := r.now().Add(lifetime).Unix()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO discord_users (id, username)
		VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET
			username = excluded.username,
			updated_at = CURRENT_TIMESTAMP
	`, identity.ID, identity.Username); err != nil {
		return fmt.Errorf("failed to upsert discord user: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM discord_tokens WHERE discord_user_id = ?", identity.ID); err != nil {
		return fmt.Errorf("failed to clear discord tokens: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO discord_tokens (discord_user_id, access_token, refresh_token, scopes, expires_at)
		VALUES (?, ?, ?, ?, ?)
	`, identity.ID, discordAccess, discordRefresh, strings.Join(identityToken.Scopes, " "), expiresAt); err != nil {
		return fmt.Errorf("failed to insert discord token: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO plex_users (id, username, discord_user_id)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			username = excluded.username,
			discord_user_id = excluded.discord_user_id,
			updated_at = CURRENT_TIMESTAMP
	`, device.ID, device.Username, identity.ID); err != nil {
		return fmt.Errorf("failed to upsert plex user: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM plex_tokens WHERE plex_user_id = ?", device.ID); err != nil {
		return fmt.Errorf("failed to clear plex tokens: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO plex_tokens (plex_user_id, access_token)
		VALUES (?, ?)
	`, device.ID, plexAccess); err != nil {
		return fmt.Errorf("failed to insert plex token: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// get returns the stored link for a Discord user with tokens decrypted.
func (r *Repository) get(ctx context.Context, discordUserID string) (*Link, error) {
	var (
		link      Link
		scopes    string
		expiresAt int64
	)

	err := r.db.QueryRowContext(ctx, `
		SELECT du.id, du.username,
			dt.access_token, dt.refresh_token, dt.scopes, dt.expires_at,
			pu.id, pu.username, pt.access_token
		FROM discord_users du
		JOIN discord_tokens dt ON dt.discord_user_id = du.id
		JOIN plex_users pu ON pu.discord_user_id = du.id
		JOIN plex_tokens pt ON pt.plex_user_id = pu.id
		WHERE du.id = ?
		ORDER BY pu.updated_at DESC
		LIMIT 1
	`, discordUserID).Scan(
		&link.Identity.ID, &link.Identity.Username,
		&link.IdentityToken.AccessToken, &link.IdentityToken.RefreshToken, &scopes, &expiresAt,
		&link.Device.ID, &link.Device.Username, &link.DeviceToken.AccessToken,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get link: %w", err)
	}

	for _, v := range []*string{&link.IdentityToken.AccessToken, &link.IdentityToken.RefreshToken, &link.DeviceToken.AccessToken} {
		plain, err := r.secrets.Decrypt(*v)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt token: %w", err)
		}
		*v = plain
	}

	link.IdentityToken.Scopes = strings.Fields(scopes)
	link.IdentityExpiresAt = time.Unix(expiresAt, 0)
	link.IdentityToken.ExpiresIn = time.Until(link.IdentityExpiresAt)
	return &link, nil
}
