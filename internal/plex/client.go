package plex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"runtime"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	DefaultBaseURL     = "https://plex.tv"
	DefaultAuthAppURL  = "https://app.plex.tv/auth"
	defaultProductName = "displex"
)

var (
	ErrPINNotFound      = errors.New("PIN not found or expired")
	ErrPINNotAuthorized = errors.New("PIN not yet authorized")
)

// Config configures a Client.
type Config struct {
	// ClientID identifies this application to plex.tv. A random one is
	// generated when empty.
	ClientID string
	// Product is the name shown to users on the Plex consent screen.
	Product string
	Version string
	// ForwardURL is where app.plex.tv sends the browser once the PIN is approved.
	ForwardURL string

	BaseURL    string
	AuthAppURL string
}

// Client talks to plex.tv for the PIN device grant.
type Client struct {
	httpClient *http.Client
	logger     zerolog.Logger
	cfg        Config
}

// NewClient creates a new plex.tv client.
func NewClient(httpClient *http.Client, cfg Config, logger zerolog.Logger) *Client {
	if cfg.ClientID == "" {
		cfg.ClientID = uuid.New().String()
	}
	if cfg.Product == "" {
		cfg.Product = defaultProductName
	}
	if cfg.Version == "" {
		cfg.Version = "1.0.0"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.AuthAppURL == "" {
		cfg.AuthAppURL = DefaultAuthAppURL
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")

	return &Client{
		httpClient: httpClient,
		logger:     logger.With().Str("component", "plex-client").Logger(),
		cfg:        cfg,
	}
}

// ClientID returns the X-Plex-Client-Identifier used by this client.
func (c *Client) ClientID() string {
	return c.cfg.ClientID
}

func (c *Client) headers(token string) map[string]string {
	headers := map[string]string{
		"X-Plex-Client-Identifier": c.cfg.ClientID,
		"X-Plex-Product":           c.cfg.Product,
		"X-Plex-Version":           c.cfg.Version,
		"X-Plex-Platform":          runtime.GOOS,
		"X-Plex-Device-Name":       c.cfg.Product,
		"Accept":                   "application/json",
	}
	if token != "" {
		headers["X-Plex-Token"] = token
	}
	return headers
}

func (c *Client) doRequest(ctx context.Context, method, reqURL, token string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for key, value := range c.headers(token) {
		req.Header.Set(key, value)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// url.Error embeds the full URL, which may carry the PIN code.
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			return nil, fmt.Errorf("%s %s: %w", method, req.URL.Path, urlErr.Err)
		}
		return nil, err
	}
	return resp, nil
}

func statusError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("failed to %s: status %d, body: %s", op, resp.StatusCode, string(body))
}

// RequestPIN creates a new strong PIN.
func (c *Client) RequestPIN(ctx context.Context) (*PIN, error) {
	form := url.Values{}
	form.Set("strong", "true")

	resp, err := c.doRequest(ctx, http.MethodPost, c.cfg.BaseURL+"/api/v2/pins", "", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create PIN: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, statusError("create PIN", resp)
	}

	var pin PIN
	if err := json.NewDecoder(resp.Body).Decode(&pin); err != nil {
		return nil, fmt.Errorf("failed to decode PIN response: %w", err)
	}
	if pin.ID == 0 || pin.Code == "" {
		return nil, errors.New("PIN response missing id or code")
	}

	c.logger.Debug().Int("pinId", pin.ID).Int("expiresIn", pin.ExpiresIn).Msg("created PIN")
	return &pin, nil
}

// ClaimURL returns the app.plex.tv URL where the user approves the PIN. Once
// approved, Plex forwards the browser to ForwardURL with the PIN id and code.
func (c *Client) ClaimURL(pinID int, pinCode string) string {
	params := url.Values{}
	params.Set("clientID", c.cfg.ClientID)
	params.Set("code", pinCode)
	params.Set("context[device][product]", c.cfg.Product)
	params.Set("context[device][version]", c.cfg.Version)
	params.Set("context[device][platform]", runtime.GOOS)
	params.Set("context[device][deviceName]", c.cfg.Product)

	if c.cfg.ForwardURL != "" {
		forward := url.Values{}
		forward.Set("id", strconv.Itoa(pinID))
		forward.Set("code", pinCode)
		params.Set("forwardUrl", c.cfg.ForwardURL+"?"+forward.Encode())
	}

	return c.cfg.AuthAppURL + "#?" + params.Encode()
}

// ClaimPIN exchanges an approved PIN for the user's access token.
func (c *Client) ClaimPIN(ctx context.Context, pinID int, pinCode string) (string, error) {
	reqURL := fmt.Sprintf("%s/api/v2/pins/%d?%s", c.cfg.BaseURL, pinID, url.Values{"code": {pinCode}}.Encode())

	resp, err := c.doRequest(ctx, http.MethodGet, reqURL, "", nil)
	if err != nil {
		return "", fmt.Errorf("failed to claim PIN: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", ErrPINNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return "", statusError("claim PIN", resp)
	}

	var pin PIN
	if err := json.NewDecoder(resp.Body).Decode(&pin); err != nil {
		return "", fmt.Errorf("failed to decode PIN status: %w", err)
	}
	if pin.AuthToken == nil || *pin.AuthToken == "" {
		return "", ErrPINNotAuthorized
	}

	return *pin.AuthToken, nil
}

// Devices returns every resource the token's owner can access.
func (c *Client) Devices(ctx context.Context, token string) ([]Device, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, c.cfg.BaseURL+"/api/v2/resources?includeHttps=1", token, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get resources: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError("get resources", resp)
	}

	var devices []Device
	if err := json.NewDecoder(resp.Body).Decode(&devices); err != nil {
		return nil, fmt.Errorf("failed to decode resources: %w", err)
	}

	return devices, nil
}

// User returns the account that owns token.
func (c *Client) User(ctx context.Context, token string) (*User, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, c.cfg.BaseURL+"/api/v2/user", token, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError("get user", resp)
	}

	var user User
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, fmt.Errorf("failed to decode user: %w", err)
	}
	if user.ID == 0 {
		return nil, errors.New("user response missing id")
	}

	return &user, nil
}

// HasDevice reports whether devices contains clientIdentifier.
func HasDevice(devices []Device, clientIdentifier string) bool {
	for _, d := range devices {
		if d.ClientIdentifier == clientIdentifier {
			return true
		}
	}
	return false
}
