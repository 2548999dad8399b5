package app

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dvcrn/restream-bridge/internal/config"
	"github.com/dvcrn/restream-bridge/internal/credentials"
	"github.com/dvcrn/restream-bridge/internal/instance"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRestream serves the token endpoint and the REST API used by the bridge.
type fakeRestream struct {
	*httptest.Server

	mu          sync.Mutex
	tokenForms  []url.Values
	validToken  string
	profileHits atomic.Int32
	channelHits atomic.Int32
}

func newFakeRestream(t *testing.T) *fakeRestream {
	t.Helper()
	f := &fakeRestream{validToken: "good-access"}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /oauth/token", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		f.mu.Lock()
		f.tokenForms = append(f.tokenForms, r.PostForm)
		f.mu.Unlock()
		if r.PostForm.Get("code") == "bad" || r.PostForm.Get("refresh_token") == "expired" {
			http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"access_token":"good-access","refresh_token":"next-refresh","token_type":"bearer","expires_in":3600}`)
	})
	mux.HandleFunc("GET /v2/platform/all", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `[{"id":1,"name":"Twitch"},{"id":29,"name":"Custom RTMP"}]`)
	})
	mux.HandleFunc("GET /v2/user/profile", f.authed(func(w http.ResponseWriter, r *http.Request) {
		f.profileHits.Add(1)
		io.WriteString(w, `{"id":1,"username":"streamer","email":"s@example.com"}`)
	}))
	mux.HandleFunc("GET /v2/user/channel/all", f.authed(func(w http.ResponseWriter, r *http.Request) {
		f.channelHits.Add(1)
		io.WriteString(w, `[{"id":10,"streamingPlatformId":1,"displayName":"main","enabled":true},{"id":11,"streamingPlatformId":29,"displayName":"rtmp","enabled":false}]`)
	}))
	mux.HandleFunc("GET /v2/user/channel-meta/{id}", f.authed(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"title":"Live now","description":"desc"}`)
	}))

	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

func (f *fakeRestream) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		valid := f.validToken
		f.mu.Unlock()
		if r.Header.Get("Authorization") != "Bearer "+valid {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (f *fakeRestream) forms() []url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]url.Values(nil), f.tokenForms...)
}

func (f *fakeRestream) config() *config.Config {
	return &config.Config{
		PollInterval:       0,
		ClientID:           "client",
		ClientSecret:       "secret",
		RedirectURL:        "https://example.com/callback",
		AccessToken:        "good-access",
		RefreshToken:       "refresh",
		APIURL:             f.URL + "/v2",
		TokenURL:           f.URL + "/oauth/token",
		LoginURL:           f.URL + "/login",
		AuthMode:           config.AuthModeWebhook,
		CallbackHost:       "127.0.0.1",
		CredentialsBackend: "memory",
		RequestTimeout:     5 * time.Second,
	}
}

func newTestApp(t *testing.T, cfg *config.Config, store credentials.Store) *App {
	t.Helper()
	a, err := New(context.Background(), cfg, store, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(a.Destroy)
	return a
}

func status(a *App) instance.Status {
	s, _ := a.Instance().Status()
	return s
}

func TestInitConnectsAndPolls(t *testing.T) {
	api := newFakeRestream(t)
	a := newTestApp(t, api.config(), credentials.NewMemoryStore())

	require.NoError(t, a.Init(context.Background()))
	assert.Equal(t, instance.StatusOk, status(a))
	assert.Equal(t, int32(1), api.profileHits.Load())

	require.Eventually(t, func() bool { return a.surface.Snapshot() != nil }, 2*time.Second, 10*time.Millisecond)
	enabled, ok := a.surface.ChannelEnabled(10)
	assert.True(t, ok)
	assert.True(t, enabled)
	assert.Equal(t, "Live now", a.surface.VariableValues()["channel_10_title"])
	_, hasRTMPVar := a.surface.VariableValues()["channel_11_title"]
	assert.False(t, hasRTMPVar)
}

func TestInitMissingClientIDIsBadConfig(t *testing.T) {
	api := newFakeRestream(t)
	cfg := api.config()
	cfg.ClientID = ""
	a := newTestApp(t, cfg, credentials.NewMemoryStore())

	require.NoError(t, a.Init(context.Background()))
	s, msg := a.Instance().Status()
	assert.Equal(t, instance.StatusBadConfig, s)
	assert.Equal(t, "Missing Client ID", msg)

	assert.Never(t, func() bool { return api.channelHits.Load() > 0 }, 100*time.Millisecond, 10*time.Millisecond)
}

func TestStoredTokensWinOverConfigured(t *testing.T) {
	api := newFakeRestream(t)
	store := credentials.NewMemoryStore()
	require.NoError(t, store.Save(context.Background(), &credentials.Credentials{
		AccessToken:  "good-access",
		RefreshToken: "stored-refresh",
	}))
	cfg := api.config()
	cfg.AccessToken = "stale"
	cfg.RefreshToken = "stale-refresh"

	a := newTestApp(t, cfg, store)
	creds := a.Instance().Credentials()
	assert.Equal(t, "good-access", creds.AccessToken)
	assert.Equal(t, "stored-refresh", creds.RefreshToken)
	assert.Equal(t, "client", creds.ClientID)
}

func TestCheckAuthenticationRefreshesMissingAccessToken(t *testing.T) {
	api := newFakeRestream(t)
	cfg := api.config()
	cfg.AccessToken = ""
	a := newTestApp(t, cfg, credentials.NewMemoryStore())

	require.NoError(t, a.CheckAuthentication(context.Background()))
	forms := api.forms()
	require.Len(t, forms, 1)
	assert.Equal(t, "refresh_token", forms[0].Get("grant_type"))
	assert.Equal(t, "good-access", a.Instance().AccessToken())
	assert.Equal(t, "next-refresh", a.Instance().Credentials().RefreshToken)
}

func TestCheckAuthenticationExpiredRefreshToken(t *testing.T) {
	api := newFakeRestream(t)
	cfg := api.config()
	cfg.AccessToken = ""
	cfg.RefreshToken = "expired"
	a := newTestApp(t, cfg, credentials.NewMemoryStore())

	err := a.CheckAuthentication(context.Background())
	assert.ErrorIs(t, err, ErrNotAuthenticated)
	assert.Equal(t, instance.StatusBadConfig, status(a))
	assert.Zero(t, api.profileHits.Load())
}

func TestCheckAuthenticationStaleAccessTokenRefreshesOn401(t *testing.T) {
	api := newFakeRestream(t)
	cfg := api.config()
	cfg.AccessToken = "stale-access"
	a := newTestApp(t, cfg, credentials.NewMemoryStore())

	require.NoError(t, a.CheckAuthentication(context.Background()))
	assert.Len(t, api.forms(), 1)
	assert.Equal(t, "good-access", a.Instance().AccessToken())
	assert.Equal(t, int32(1), api.profileHits.Load())
}

func TestWebhookAuthorizationRevalidates(t *testing.T) {
	api := newFakeRestream(t)
	cfg := api.config()
	cfg.AccessToken = ""
	cfg.RefreshToken = ""
	store := credentials.NewMemoryStore()
	a := newTestApp(t, cfg, store)

	require.NoError(t, a.Init(context.Background()))
	assert.Equal(t, instance.StatusBadConfig, status(a))
	require.Eventually(t, func() bool {
		return strings.HasPrefix(a.Instance().Credentials().AuthURL, api.URL+"/login?")
	}, 2*time.Second, 10*time.Millisecond)

	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/oauth/callback?code=abc123&state=ignored")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Success!\nYou can close this tab", string(body))

	forms := api.forms()
	require.Len(t, forms, 1)
	assert.Equal(t, "authorization_code", forms[0].Get("grant_type"))
	assert.Equal(t, "abc123", forms[0].Get("code"))
	assert.Equal(t, "https://example.com/callback", forms[0].Get("redirect_uri"))

	assert.Equal(t, instance.StatusOk, status(a))
	assert.Equal(t, int32(1), api.profileHits.Load(), "re-validation probes the profile")
	require.Eventually(t, func() bool { return a.surface.Snapshot() != nil }, 2*time.Second, 10*time.Millisecond, "re-validation polls")

	saved, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "good-access", saved.AccessToken)
	assert.Equal(t, "next-refresh", saved.RefreshToken)
}

func TestConfigUpdatedAppliesPollInterval(t *testing.T) {
	api := newFakeRestream(t)
	a := newTestApp(t, api.config(), credentials.NewMemoryStore())

	cfg := api.config()
	cfg.PollInterval = 15
	require.NoError(t, a.ConfigUpdated(context.Background(), cfg))

	assert.Equal(t, 15*time.Second, a.poller.Interval())
	assert.Equal(t, instance.StatusOk, status(a))
	assert.Same(t, cfg, a.Config())
	assert.Equal(t, int32(1), api.channelHits.Load())
}

func TestStatusRouteReflectsInstance(t *testing.T) {
	api := newFakeRestream(t)
	a := newTestApp(t, api.config(), credentials.NewMemoryStore())
	require.NoError(t, a.ConfigUpdated(context.Background(), api.config()))

	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body struct {
		Status string `json:"status"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
}

func TestWebhookAuthorizationKeepsExchangedTokensOverConfigured(t *testing.T) {
	api := newFakeRestream(t)
	cfg := api.config()
	cfg.AccessToken = "stale-access"
	cfg.RefreshToken = "expired"
	store := credentials.NewMemoryStore()
	a := newTestApp(t, cfg, store)

	require.NoError(t, a.Init(context.Background()))
	require.Eventually(t, func() bool {
		return a.Instance().Credentials().AuthURL != ""
	}, 2*time.Second, 10*time.Millisecond)

	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/oauth/callback?code=abc123")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	creds := a.Instance().Credentials()
	assert.Equal(t, "good-access", creds.AccessToken)
	assert.Equal(t, "next-refresh", creds.RefreshToken)
	assert.Equal(t, instance.StatusOk, status(a))
	require.Eventually(t, func() bool { return a.surface.Snapshot() != nil }, 2*time.Second, 10*time.Millisecond)

	saved, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "good-access", saved.AccessToken)
	assert.Equal(t, "next-refresh", saved.RefreshToken)
}

func TestConfigUpdatedAppliesOnlyChangedTokens(t *testing.T) {
	api := newFakeRestream(t)
	cfg := api.config()
	cfg.AccessToken = "stale-access"
	a := newTestApp(t, cfg, credentials.NewMemoryStore())

	// The 401 retry rotates both tokens.
	require.NoError(t, a.CheckAuthentication(context.Background()))
	require.Equal(t, "good-access", a.Instance().AccessToken())

	same := api.config()
	same.AccessToken = "stale-access"
	require.NoError(t, a.ConfigUpdated(context.Background(), same))
	creds := a.Instance().Credentials()
	assert.Equal(t, "good-access", creds.AccessToken)
	assert.Equal(t, "next-refresh", creds.RefreshToken)

	changed := api.config()
	changed.AccessToken = "stale-access"
	changed.RefreshToken = "operator-refresh"
	require.NoError(t, a.ConfigUpdated(context.Background(), changed))
	creds = a.Instance().Credentials()
	assert.Equal(t, "good-access", creds.AccessToken)
	assert.Equal(t, "operator-refresh", creds.RefreshToken)
}

func TestInitExpiredRefreshTokenDuringProbeStopsRetrying(t *testing.T) {
	api := newFakeRestream(t)
	cfg := api.config()
	cfg.AccessToken = "stale-access"
	cfg.RefreshToken = "expired"
	a := newTestApp(t, cfg, credentials.NewMemoryStore())

	require.NoError(t, a.Init(context.Background()))

	s, msg := a.Instance().Status()
	assert.Equal(t, instance.StatusBadConfig, s)
	assert.Equal(t, "Refresh Token Expired", msg)

	assert.Never(t, func() bool { return len(api.forms()) > 1 }, 200*time.Millisecond, 10*time.Millisecond)
	assert.Len(t, api.forms(), 1)
	assert.Zero(t, api.channelHits.Load())
	s, _ = a.Instance().Status()
	assert.Equal(t, instance.StatusBadConfig, s)
}
