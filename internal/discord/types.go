package discord

import "time"

// Token is the result of an authorization code exchange.
type Token struct {
	AccessToken  string
	RefreshToken string
	Scopes       []string
	// ExpiresIn is the provider-reported lifetime; zero when omitted.
	ExpiresIn time.Duration
}

// User is the authenticated Discord user.
type User struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	GlobalName string `json:"global_name,omitempty"`
}

// Metadata is the linked-role metadata shown on the user's profile.
// Discord expects the values stringified.
type Metadata struct {
	TotalWatches int64 `json:"total_watches,string"`
	HoursWatched int64 `json:"hours_watched,string"`
}

// MetadataUpdate is the body of a role connection update.
type MetadataUpdate struct {
	PlatformName     string   `json:"platform_name"`
	PlatformUsername string   `json:"platform_username,omitempty"`
	Metadata         Metadata `json:"metadata"`
}

// MetadataType is a role connection metadata comparison type.
type MetadataType int

const (
	MetadataIntegerLessThanOrEqual     MetadataType = 1
	MetadataIntegerGreaterThanOrEqual  MetadataType = 2
	MetadataIntegerEqual               MetadataType = 3
	MetadataIntegerNotEqual            MetadataType = 4
	MetadataDatetimeLessThanOrEqual    MetadataType = 5
	MetadataDatetimeGreaterThanOrEqual MetadataType = 6
	MetadataBooleanEqual               MetadataType = 7
	MetadataBooleanNotEqual            MetadataType = 8
)

// MetadataRecord describes one metadata field a server can gate roles on.
type MetadataRecord struct {
	Type        MetadataType `json:"type"`
	Key         string       `json:"key"`
	Name        string       `json:"name"`
	Description string       `json:"description"`
}

// DefaultMetadataRecords is the schema matching Metadata.
var DefaultMetadataRecords = []MetadataRecord{
	{
		Type:        MetadataIntegerGreaterThanOrEqual,
		Key:         "total_watches",
		Name:        "Total Watches",
		Description: "Minimum number of plays on the media server",
	},
	{
		Type:        MetadataIntegerGreaterThanOrEqual,
		Key:         "hours_watched",
		Name:        "Hours Watched",
		Description: "Minimum number of hours watched on the media server",
	},
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope"`
}
