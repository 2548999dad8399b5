package restream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dvcrn/restream-bridge/internal/metrics"
	"github.com/rs/zerolog"
)

// DefaultBaseURL is the Restream REST API root.
const DefaultBaseURL = "https://api.restream.io/v2"

// HTTPClient is an interface for making HTTP requests
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client talks to the Restream REST API. Authenticated endpoints go through
// the bearer/401-retry transport; the platform list does not need a token.
type Client struct {
	baseURL string
	authed  HTTPClient
	public  HTTPClient
	logger  zerolog.Logger
}

type clientOptions struct {
	base    http.RoundTripper
	timeout time.Duration
}

// Option configures a Client.
type Option func(*clientOptions)

// WithTransport replaces the underlying transport (defaults to http.DefaultTransport).
func WithTransport(rt http.RoundTripper) Option {
	return func(o *clientOptions) { o.base = rt }
}

// WithTimeout sets the per-request timeout (defaults to 30s).
func WithTimeout(d time.Duration) Option {
	return func(o *clientOptions) { o.timeout = d }
}

// NewClient creates a Restream API client. refresher may be nil, in which case
// 401 responses are returned without a retry.
func NewClient(baseURL string, tokens TokenSource, refresher Refresher, logger zerolog.Logger, opts ...Option) *Client {
	o := clientOptions{base: http.DefaultTransport, timeout: 30 * time.Second}
	for _, opt := range opts {
		opt(&o)
	}

	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		authed: &http.Client{
			Timeout: o.timeout,
			Transport: &authTransport{
				base:      o.base,
				tokens:    tokens,
				refresher: refresher,
				logger:    logger,
			},
		},
		public: &http.Client{Timeout: o.timeout, Transport: o.base},
		logger: logger,
	}
}

// Platforms lists all streaming platforms. This endpoint is unauthenticated.
func (c *Client) Platforms(ctx context.Context) ([]Platform, error) {
	c.logger.Debug().Msg("Getting Platforms")
	var platforms []Platform
	if err := c.do(ctx, c.public, http.MethodGet, "/platform/all", nil, &platforms); err != nil {
		return nil, err
	}
	return platforms, nil
}

// Channels lists the account's channels.
func (c *Client) Channels(ctx context.Context) ([]Channel, error) {
	c.logger.Debug().Msg("Getting Channels")
	var channels []Channel
	if err := c.do(ctx, c.authed, http.MethodGet, "/user/channel/all", nil, &channels); err != nil {
		return nil, err
	}
	return channels, nil
}

// SetChannelActive enables or disables a channel.
func (c *Client) SetChannelActive(ctx context.Context, channelID int64, active bool) error {
	c.logger.Debug().Int64("channel_id", channelID).Bool("active", active).Msg("Setting channel state")
	body := struct {
		Active bool `json:"active"`
	}{Active: active}
	return c.do(ctx, c.authed, http.MethodPatch, "/user/channel/"+strconv.FormatInt(channelID, 10), body, nil)
}

// ChannelMeta fetches a channel's metadata.
func (c *Client) ChannelMeta(ctx context.Context, channelID int64) (Meta, error) {
	var meta Meta
	if err := c.do(ctx, c.authed, http.MethodGet, "/user/channel-meta/"+strconv.FormatInt(channelID, 10), nil, &meta); err != nil {
		return nil, err
	}
	if meta == nil {
		meta = Meta{}
	}
	return meta, nil
}

// SetChannelTitle updates the stream title of a channel.
func (c *Client) SetChannelTitle(ctx context.Context, channelID int64, title string) error {
	body := struct {
		Title string `json:"title"`
	}{Title: title}
	return c.do(ctx, c.authed, http.MethodPatch, "/user/channel-meta/"+strconv.FormatInt(channelID, 10), body, nil)
}

// StreamKey returns the account's stream key.
func (c *Client) StreamKey(ctx context.Context) (string, error) {
	var res struct {
		StreamKey string `json:"streamKey"`
	}
	if err := c.do(ctx, c.authed, http.MethodGet, "/user/streamKey", nil, &res); err != nil {
		return "", err
	}
	return res.StreamKey, nil
}

// Profile fetches the authenticated user's profile.
func (c *Client) Profile(ctx context.Context) (*Profile, error) {
	var profile Profile
	if err := c.do(ctx, c.authed, http.MethodGet, "/user/profile", nil, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

func (c *Client) do(ctx context.Context, hc HTTPClient, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := hc.Do(req)
	if err != nil {
		if errors.Is(err, ErrNoAccessToken) {
			c.logger.Error().Str("path", path).Msg("Missing access token, request not sent")
			return ErrNoAccessToken
		}
		c.logger.Error().Err(err).Str("method", method).Str("path", path).Msg("Error connecting to restream API")
		return &TransportError{Method: method, Path: path, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(resp.Body)
		metrics.APIErrorsTotal.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()
		c.logger.Error().
			Str("method", method).
			Str("path", path).
			Int("status_code", resp.StatusCode).
			Str("response_body", string(respBody)).
			Msg("Bad Response from Restream API")
		return &APIError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}
