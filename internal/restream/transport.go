package restream

import (
	"bytes"
	"context"
	"io"
	"net/http"

	"github.com/dvcrn/restream-bridge/internal/metrics"
	"github.com/rs/zerolog"
)

// TokenSource supplies the current access token.
type TokenSource interface {
	AccessToken() string
}

// Refresher exchanges the refresh token for a new access token.
type Refresher interface {
	Refresh(ctx context.Context) error
}

type retriedKey struct{}

// withRetried marks a request context as already retried after a 401.
func withRetried(ctx context.Context) context.Context {
	return context.WithValue(ctx, retriedKey{}, true)
}

func isRetried(ctx context.Context) bool {
	v, _ := ctx.Value(retriedKey{}).(bool)
	return v
}

// authTransport injects the bearer token and retries once after a 401,
// refreshing the token in between.
type authTransport struct {
	base      http.RoundTripper
	tokens    TokenSource
	refresher Refresher
	logger    zerolog.Logger
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.send(req)
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}
	if isRetried(req.Context()) || t.refresher == nil {
		return resp, nil
	}

	retry, err := rewind(withRetried(req.Context()), req)
	if err != nil {
		t.logger.Warn().Err(err).Str("path", req.URL.Path).Msg("Cannot replay request body, not retrying after 401")
		return resp, nil
	}

	// Keep the 401 body so it can be returned if the refresh fails.
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	t.logger.Warn().Str("path", req.URL.Path).Msg("Received 401 Unauthorized, attempting token refresh...")
	if err := t.refresher.Refresh(retry.Context()); err != nil {
		t.logger.Error().Err(err).Msg("Failed to refresh credentials after 401 error")
		resp.Body = io.NopCloser(bytes.NewReader(body))
		return resp, nil
	}

	metrics.UnauthorizedRetries.Inc()
	t.logger.Info().Str("path", req.URL.Path).Msg("Successfully refreshed credentials, retrying request...")

	resp, err = t.send(retry)
	if err == nil && resp.StatusCode == http.StatusUnauthorized {
		t.logger.Error().Str("path", req.URL.Path).Msg("Still received 401 after token refresh, giving up")
	}
	return resp, err
}

func (t *authTransport) send(req *http.Request) (*http.Response, error) {
	token := t.tokens.AccessToken()
	if token == "" {
		return nil, ErrNoAccessToken
	}
	r := req.Clone(req.Context())
	r.Header.Set("Authorization", "Bearer "+token)
	return t.base.RoundTrip(r)
}

// rewind clones req onto ctx with a fresh body.
func rewind(ctx context.Context, req *http.Request) (*http.Request, error) {
	r := req.Clone(ctx)
	if req.Body == nil || req.Body == http.NoBody {
		return r, nil
	}
	if req.GetBody == nil {
		return nil, errNoGetBody
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, err
	}
	r.Body = body
	return r, nil
}
