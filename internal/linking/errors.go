package linking

import (
	"errors"
	"fmt"
)

// Failure kinds. Every error returned by the Orchestrator wraps exactly one.
var (
	ErrInvalidState        = errors.New("invalid state")
	ErrMissingHandoffState = errors.New("missing handoff state")
	ErrUpstreamAuth        = errors.New("upstream authorization failed")
	ErrUnauthorizedDevice  = errors.New("unauthorized device")
	ErrPersistence         = errors.New("persistence failed")
	ErrMetadataPush        = errors.New("metadata push failed")
)

// Upstream call names, used in logs and error messages.
const (
	callAuthorizeURL   = "discord.authorize_url"
	callRequestPIN     = "plex.request_pin"
	callClaimPIN       = "plex.claim_pin"
	callDevices        = "plex.devices"
	callExchangeCode   = "discord.exchange_code"
	callDiscordUser    = "discord.user"
	callPlexUser       = "plex.user"
	callLinkAccounts   = "accounts.link"
	callWatchTimeStats = "tautulli.watch_time_stats"
	callPushMetadata   = "discord.push_metadata"
)

func wrap(kind error, call string, err error) error {
	return fmt.Errorf("%w: %s: %w", kind, call, err)
}
