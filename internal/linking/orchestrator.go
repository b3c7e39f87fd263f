// Package linking drives the Discord and Plex authorization flows that link
// a Plex account to a Discord user.
package linking

import (
	"context"
	"crypto/subtle"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/displex/displex/internal/accounts"
	"github.com/displex/displex/internal/discord"
	"github.com/displex/displex/internal/plex"
	"github.com/displex/displex/internal/session"
	"github.com/displex/displex/internal/tautulli"
)

// IdentityProvider is the Discord side of the flow.
type IdentityProvider interface {
	AuthorizeURL() (string, string, error)
	ExchangeCode(ctx context.Context, code string) (*discord.Token, error)
	User(ctx context.Context, accessToken string) (*discord.User, error)
	PushMetadata(ctx context.Context, accessToken string, update discord.MetadataUpdate) error
	SuccessURL() string
}

// DeviceAuth is the Plex side of the flow.
type DeviceAuth interface {
	RequestPIN(ctx context.Context) (*plex.PIN, error)
	ClaimURL(pinID int, pinCode string) string
	ClaimPIN(ctx context.Context, pinID int, pinCode string) (string, error)
	Devices(ctx context.Context, token string) ([]plex.Device, error)
	User(ctx context.Context, token string) (*plex.User, error)
}

// StatsProvider supplies watch statistics for the metadata push.
type StatsProvider interface {
	WatchTimeStats(ctx context.Context, userID, queryDays int) ([]tautulli.WatchTimeStat, error)
}

// AccountLinker persists a completed link.
type AccountLinker interface {
	LinkAccounts(ctx context.Context, identity accounts.IdentityAccount, identityToken accounts.IdentityToken, device accounts.DeviceAccount, deviceToken accounts.DeviceToken) error
}

// Session holds the correlation state between the three steps.
type Session interface {
	Get(key string) (string, bool)
	Set(key, value string)
	Delete(key string)
	Take(key string) (string, bool)
	Clear()
}

// Config configures an Orchestrator.
type Config struct {
	// ServerID is the clientIdentifier a user must have access to.
	ServerID string
	// PlatformName is shown on the Discord profile next to the metadata.
	PlatformName string
	// QueryDays is the statistics window; 0 means all time.
	QueryDays int
}

// Orchestrator runs the link flow. It keeps no per-flow state of its own;
// everything lives in the Session passed to each step.
type Orchestrator struct {
	cfg      Config
	identity IdentityProvider
	device   DeviceAuth
	stats    StatsProvider
	linker   AccountLinker
	logger   zerolog.Logger
}

// NewOrchestrator creates a new Orchestrator. stats may be nil, in which case
// zero metadata is pushed.
func NewOrchestrator(cfg Config, identity IdentityProvider, device DeviceAuth, stats StatsProvider, linker AccountLinker, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		identity: identity,
		device:   device,
		stats:    stats,
		linker:   linker,
		logger:   logger.With().Str("component", "linking").Logger(),
	}
}

// Start begins a flow and returns the Discord authorize URL.
func (o *Orchestrator) Start(_ context.Context, sess Session) (string, error) {
	authURL, state, err := o.identity.AuthorizeURL()
	if err != nil {
		return "", o.fail(ErrUpstreamAuth, callAuthorizeURL, err)
	}

	sess.Delete(session.KeyPendingAuthCode)
	sess.Set(session.KeyCSRFNonce, state)

	return authURL, nil
}

// HandleIdentityCallback verifies the CSRF state, stores the authorization
// code for the last step and returns the Plex claim URL. The code is not
// exchanged here.
func (o *Orchestrator) HandleIdentityCallback(ctx context.Context, sess Session, code, state string) (string, error) {
	nonce, ok := sess.Get(session.KeyCSRFNonce)
	if !ok || state == "" || subtle.ConstantTimeCompare([]byte(nonce), []byte(state)) != 1 {
		o.logger.Warn().Bool("noncePresent", ok).Msg("Identity callback state mismatch")
		return "", ErrInvalidState
	}
	if code == "" {
		o.logger.Warn().Msg("Identity callback without code")
		return "", ErrInvalidState
	}

	sess.Delete(session.KeyCSRFNonce)
	sess.Set(session.KeyPendingAuthCode, code)

	pin, err := o.device.RequestPIN(ctx)
	if err != nil {
		return "", o.fail(ErrUpstreamAuth, callRequestPIN, err)
	}

	return o.device.ClaimURL(pin.ID, pin.Code), nil
}

// CompleteDeviceCallback claims the PIN, checks server access, exchanges the
// stored Discord code, persists the link and pushes metadata. It returns the
// success URL.
//
// The pending code is consumed before any Plex call, so a callback without
// one fails with ErrMissingHandoffState even for an unauthorized device, and
// a failed attempt cannot be retried with the same session.
func (o *Orchestrator) CompleteDeviceCallback(ctx context.Context, sess Session, pinID int, pinCode string) (string, error) {
	code, ok := sess.Take(session.KeyPendingAuthCode)
	if !ok || code == "" {
		o.logger.Warn().Int("pinId", pinID).Msg("Device callback without pending authorization code")
		return "", ErrMissingHandoffState
	}

	plexToken, err := o.device.ClaimPIN(ctx, pinID, pinCode)
	if err != nil {
		return "", o.fail(ErrUpstreamAuth, callClaimPIN, err)
	}

	devices, err := o.device.Devices(ctx, plexToken)
	if err != nil {
		return "", o.fail(ErrUpstreamAuth, callDevices, err)
	}
	if !plex.HasDevice(devices, o.cfg.ServerID) {
		o.logger.Warn().Int("devices", len(devices)).Msg("Plex user has no access to the configured server")
		return "", ErrUnauthorizedDevice
	}

	token, err := o.identity.ExchangeCode(ctx, code)
	if err != nil {
		return "", o.fail(ErrUpstreamAuth, callExchangeCode, err)
	}

	discordUser, plexUser, err := o.fetchProfiles(ctx, token.AccessToken, plexToken)
	if err != nil {
		o.logger.Error().Err(err).Msg("Profile fetch failed")
		return "", err
	}

	err = o.linker.LinkAccounts(ctx,
		accounts.IdentityAccount{ID: discordUser.ID, Username: discordUser.Username},
		accounts.IdentityToken{
			AccessToken:  token.AccessToken,
			RefreshToken: token.RefreshToken,
			Scopes:       token.Scopes,
			ExpiresIn:    token.ExpiresIn,
		},
		accounts.DeviceAccount{ID: plexUser.ID, Username: plexUser.Username},
		accounts.DeviceToken{AccessToken: plexToken},
	)
	if err != nil {
		return "", o.fail(ErrPersistence, callLinkAccounts, err)
	}

	update := discord.MetadataUpdate{
		PlatformName:     o.cfg.PlatformName,
		PlatformUsername: plexUser.Username,
		Metadata:         o.metadata(ctx, plexUser.ID),
	}
	if err := o.identity.PushMetadata(ctx, token.AccessToken, update); err != nil {
		return "", o.fail(ErrMetadataPush, callPushMetadata, err)
	}

	sess.Clear()

	o.logger.Info().
		Str("discordUserId", discordUser.ID).
		Int("plexUserId", plexUser.ID).
		Int64("totalWatches", update.Metadata.TotalWatches).
		Int64("hoursWatched", update.Metadata.HoursWatched).
		Msg("Link completed")

	return o.identity.SuccessURL(), nil
}

// fetchProfiles loads both user profiles concurrently. The first failure
// cancels the other request.
func (o *Orchestrator) fetchProfiles(ctx context.Context, discordToken, plexToken string) (*discord.User, *plex.User, error) {
	var (
		discordUser *discord.User
		plexUser    *plex.User
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		u, err := o.identity.User(gctx, discordToken)
		if err != nil {
			return wrap(ErrUpstreamAuth, callDiscordUser, err)
		}
		discordUser = u
		return nil
	})
	g.Go(func() error {
		u, err := o.device.User(gctx, plexToken)
		if err != nil {
			return wrap(ErrUpstreamAuth, callPlexUser, err)
		}
		plexUser = u
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return discordUser, plexUser, nil
}

// metadata derives the role connection metadata for a Plex user. Statistics
// are best effort: a nil provider or any failure yields zero values.
func (o *Orchestrator) metadata(ctx context.Context, plexUserID int) discord.Metadata {
	var m discord.Metadata
	if o.stats == nil {
		return m
	}

	stats, err := o.stats.WatchTimeStats(ctx, plexUserID, o.cfg.QueryDays)
	if err != nil {
		o.logger.Warn().Err(err).Str("call", callWatchTimeStats).Int("plexUserId", plexUserID).Msg("Watch stats unavailable, pushing zero metadata")
		return m
	}

	return DeriveMetadata(stats)
}

// DeriveMetadata converts the first statistics row into metadata. Hours are
// truncated.
func DeriveMetadata(stats []tautulli.WatchTimeStat) discord.Metadata {
	if len(stats) == 0 {
		return discord.Metadata{}
	}
	return discord.Metadata{
		TotalWatches: stats[0].TotalPlays,
		HoursWatched: stats[0].TotalTime / 3600,
	}
}

func (o *Orchestrator) fail(kind error, call string, err error) error {
	o.logger.Error().Err(err).Str("call", call).Msg("Link step failed")
	return wrap(kind, call, err)
}
