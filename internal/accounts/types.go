package accounts

import "time"

// DefaultTokenLifetime applies when the identity provider omits expires_in.
const DefaultTokenLifetime = 1800 * time.Second

// IdentityAccount is a Discord user.
type IdentityAccount struct {
	ID       string
	Username string
}

// IdentityToken is the Discord token obtained during linking.
type IdentityToken struct {
	AccessToken  string
	RefreshToken string
	Scopes       []string
	// ExpiresIn is relative to the time of the link; zero selects
	// DefaultTokenLifetime.
	ExpiresIn time.Duration
}

// DeviceAccount is a Plex user.
type DeviceAccount struct {
	ID       int
	Username string
}

// DeviceToken is the Plex token obtained by claiming the PIN.
type DeviceToken struct {
	AccessToken string
}

// Link is the stored state for one Discord user.
type Link struct {
	Identity          IdentityAccount
	IdentityToken     IdentityToken
	IdentityExpiresAt time.Time
	Device            DeviceAccount
	DeviceToken       DeviceToken
}
