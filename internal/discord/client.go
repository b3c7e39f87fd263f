package discord

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultAPIURL       = "https://discord.com/api/v10"
	DefaultAuthorizeURL = "https://discord.com/oauth2/authorize"
	// SuccessURL is Discord's "you may close this tab" page.
	SuccessURL = "https://discord.com/oauth2/authorized"
)

// Scopes requested during authorization.
var Scopes = []string{"role_connections.write", "identify"}

// Config configures a Client.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	BotToken     string

	APIURL       string
	AuthorizeURL string
}

// Client talks to the Discord OAuth2 and role connection APIs.
type Client struct {
	httpClient *http.Client
	logger     zerolog.Logger
	cfg        Config
}

// NewClient creates a new Discord client.
func NewClient(httpClient *http.Client, cfg Config, logger zerolog.Logger) *Client {
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	if cfg.AuthorizeURL == "" {
		cfg.AuthorizeURL = DefaultAuthorizeURL
	}
	cfg.APIURL = strings.TrimSuffix(cfg.APIURL, "/")

	return &Client{
		httpClient: httpClient,
		logger:     logger.With().Str("component", "discord-client").Logger(),
		cfg:        cfg,
	}
}

// GenerateState returns a random CSRF state value.
func GenerateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// AuthorizeURL returns the consent URL together with the fresh CSRF state
// embedded in it.
func (c *Client) AuthorizeURL() (string, string, error) {
	state, err := GenerateState()
	if err != nil {
		return "", "", err
	}

	params := url.Values{}
	params.Set("client_id", c.cfg.ClientID)
	params.Set("redirect_uri", c.cfg.RedirectURL)
	params.Set("response_type", "code")
	params.Set("scope", strings.Join(Scopes, " "))
	params.Set("state", state)
	params.Set("prompt", "consent")

	return c.cfg.AuthorizeURL + "?" + params.Encode(), state, nil
}

// SuccessURL returns where the browser goes after a completed link.
func (c *Client) SuccessURL() string {
	return SuccessURL
}

// ExchangeCode exchanges an authorization code for a token.
func (c *Client) ExchangeCode(ctx context.Context, code string) (*Token, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", c.cfg.RedirectURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIURL+"/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.cfg.ClientID, c.cfg.ClientSecret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token exchange request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError("token exchange", resp)
	}

	var result tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}
	if result.AccessToken == "" {
		return nil, errors.New("token response missing access_token")
	}

	return &Token{
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		Scopes:       strings.Fields(result.Scope),
		ExpiresIn:    time.Duration(result.ExpiresIn) * time.Second,
	}, nil
}

// User returns the user that owns accessToken.
func (c *Client) User(ctx context.Context, accessToken string) (*User, error) {
	resp, err := c.do(ctx, http.MethodGet, "/users/@me", "Bearer "+accessToken, nil)
	if err != nil {
		return nil, fmt.Errorf("user request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError("get user", resp)
	}

	var user User
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, fmt.Errorf("failed to decode user: %w", err)
	}
	if user.ID == "" {
		return nil, errors.New("user response missing id")
	}

	return &user, nil
}

// PushMetadata updates the user's role connection for this application.
func (c *Client) PushMetadata(ctx context.Context, accessToken string, update MetadataUpdate) error {
	path := fmt.Sprintf("/users/@me/applications/%s/role-connection", url.PathEscape(c.cfg.ClientID))

	resp, err := c.do(ctx, http.MethodPut, path, "Bearer "+accessToken, update)
	if err != nil {
		return fmt.Errorf("role connection request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError("update role connection", resp)
	}

	return nil
}

// RegisterMetadata replaces the application's role connection metadata
// schema. It authenticates with the bot token.
func (c *Client) RegisterMetadata(ctx context.Context, records []MetadataRecord) ([]MetadataRecord, error) {
	if c.cfg.BotToken == "" {
		return nil, errors.New("bot token is required to register metadata")
	}

	path := fmt.Sprintf("/applications/%s/role-connections/metadata", url.PathEscape(c.cfg.ClientID))

	resp, err := c.do(ctx, http.MethodPut, path, "Bot "+c.cfg.BotToken, records)
	if err != nil {
		return nil, fmt.Errorf("metadata registration request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError("register metadata", resp)
	}

	var registered []MetadataRecord
	if err := json.NewDecoder(resp.Body).Decode(&registered); err != nil {
		return nil, fmt.Errorf("failed to decode metadata records: %w", err)
	}

	c.logger.Info().Int("records", len(registered)).Msg("registered role connection metadata")
	return registered, nil
}

func (c *Client) do(ctx context.Context, method, path, authorization string, payload any) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payload: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.APIURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", authorization)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

func statusError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("discord %s failed: status %d, body: %s", op, resp.StatusCode, string(body))
}
