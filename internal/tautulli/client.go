package tautulli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

var ErrNotConfigured = errors.New("tautulli is not configured")

// Client queries the Tautulli v2 API.
type Client struct {
	httpClient *http.Client
	logger     zerolog.Logger
	baseURL    string
	apiKey     string
}

// NewClient creates a new Tautulli client for the instance at baseURL.
func NewClient(httpClient *http.Client, baseURL, apiKey string, logger zerolog.Logger) *Client {
	return &Client{
		httpClient: httpClient,
		logger:     logger.With().Str("component", "tautulli-client").Logger(),
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
	}
}

// Configured reports whether a URL and API key are set.
func (c *Client) Configured() bool {
	return c.baseURL != "" && c.apiKey != ""
}

// WatchTimeStats returns a user's watch time statistics. queryDays of 0 means
// all time. Tautulli returns one row per requested window.
func (c *Client) WatchTimeStats(ctx context.Context, userID, queryDays int) ([]WatchTimeStat, error) {
	params := url.Values{}
	params.Set("user_id", strconv.Itoa(userID))
	params.Set("query_days", strconv.Itoa(queryDays))
	params.Set("grouping", "1")

	stats, err := call[[]WatchTimeStat](ctx, c, "get_user_watch_time_stats", params)
	if err != nil {
		return nil, err
	}

	c.logger.Debug().Int("userId", userID).Int("rows", len(stats)).Msg("fetched watch time stats")
	return stats, nil
}

func call[T any](ctx context.Context, c *Client, cmd string, params url.Values) (T, error) {
	var zero T
	if !c.Configured() {
		return zero, ErrNotConfigured
	}

	params.Set("apikey", c.apiKey)
	params.Set("cmd", cmd)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v2?"+params.Encode(), nil)
	if err != nil {
		return zero, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// url.Error embeds the full URL, apikey included.
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		return zero, fmt.Errorf("tautulli %s request failed: %w", cmd, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return zero, fmt.Errorf("tautulli %s failed: status %d, body: %s", cmd, resp.StatusCode, string(body))
	}

	var out apiResponse[T]
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return zero, fmt.Errorf("failed to decode %s response: %w", cmd, err)
	}
	if out.Response.Result != "success" {
		return zero, fmt.Errorf("tautulli %s returned %q: %s", cmd, out.Response.Result, out.Response.Message)
	}

	return out.Response.Data, nil
}
