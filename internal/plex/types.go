package plex

import "time"

// PIN is a plex.tv device-grant PIN.
type PIN struct {
	ID        int       `json:"id"`
	Code      string    `json:"code"`
	ExpiresIn int       `json:"expiresIn"`
	ExpiresAt time.Time `json:"expiresAt"`
	AuthToken *string   `json:"authToken"`
	Trusted   bool      `json:"trusted"`
}

// Device is a resource the authenticated user has access to.
type Device struct {
	Name             string `json:"name"`
	ClientIdentifier string `json:"clientIdentifier"`
	Provides         string `json:"provides"`
	Owned            bool   `json:"owned"`
	Product          string `json:"product,omitempty"`
}

// User is the authenticated plex.tv account.
type User struct {
	ID       int    `json:"id"`
	UUID     string `json:"uuid"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	Title    string `json:"title,omitempty"`
}
