package auth

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/dvcrn/restream-bridge/internal/instance"
	"github.com/google/uuid"
	"github.com/pkg/browser"
	"github.com/rs/zerolog"
)

// Opener opens a URL for the user, normally in the system browser.
type Opener func(rawURL string) error

// CallbackResult is the plain-text response for an authorization callback.
type CallbackResult struct {
	Status int
	Body   string
}

// Flow drives OAuth authorization. With a Receiver it runs interactively
// (browser + local listener); without one it waits for the host to deliver
// the callback through HandleCallback.
type Flow struct {
	inst     *instance.Instance
	oauth    *OAuth
	receiver *Receiver
	open     Opener
	logger   zerolog.Logger

	mu           sync.Mutex
	onAuthorized func(ctx context.Context)
}

// FlowOption configures a Flow.
type FlowOption func(*Flow)

// WithOpener replaces the system browser opener.
func WithOpener(open Opener) FlowOption {
	return func(f *Flow) { f.open = open }
}

// NewFlow creates an authorization flow. receiver may be nil for webhook mode.
func NewFlow(inst *instance.Instance, oauth *OAuth, receiver *Receiver, logger zerolog.Logger, opts ...FlowOption) *Flow {
	f := &Flow{
		inst:     inst,
		oauth:    oauth,
		receiver: receiver,
		open:     browser.OpenURL,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// OnAuthorized registers the hook run after tokens were obtained.
func (f *Flow) OnAuthorized(fn func(ctx context.Context)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onAuthorized = fn
}

// Interactive reports whether the flow uses the local listener.
func (f *Flow) Interactive() bool {
	return f.receiver != nil
}

// Prepare builds the authorization URL with a fresh state token and stores it
// as the instance's authURL.
func (f *Flow) Prepare(ctx context.Context) (authURL, state string, err error) {
	state = uuid.NewString()
	authURL = f.oauth.AuthCodeURL(f.inst.Credentials(), state)
	if err := f.inst.SetAuthURL(ctx, authURL); err != nil {
		return authURL, state, err
	}
	return authURL, state, nil
}

// Start begins an authorization attempt. In interactive mode it opens the
// browser and blocks until the code is exchanged or the attempt is aborted.
// In webhook mode it only publishes the authorization URL.
func (f *Flow) Start(ctx context.Context) error {
	authURL, state, err := f.Prepare(ctx)
	if err != nil {
		f.logger.Warn().Err(err).Msg("Authorization URL could not be persisted")
	}

	if f.receiver == nil {
		f.logger.Info().Str("auth_url", authURL).Msg("Open the authorization URL to connect Restream")
		return nil
	}

	code, err := f.receiver.WaitForCode(ctx, state, func(addr string) {
		f.logger.Info().Str("auth_url", authURL).Msg("Opening browser for authorization")
		if err := f.open(authURL); err != nil {
			f.logger.Warn().Err(err).Str("auth_url", authURL).Msg("Failed to open browser, open the authorization URL manually")
		}
	})
	if err != nil {
		f.logger.Warn().Err(err).Msg("Authorization attempt ended without a code")
		return err
	}
	return f.Exchange(ctx, code)
}

// Abort cancels a pending interactive attempt.
func (f *Flow) Abort() {
	if f.receiver != nil {
		f.receiver.Abort()
	}
}

// Exchange trades the authorization code for tokens, stores them and runs the
// re-validation hook.
func (f *Flow) Exchange(ctx context.Context, code string) error {
	creds := f.inst.Credentials()
	if missing := missingFields(creds, false, true); len(missing) > 0 {
		return &ConfigError{Missing: missing}
	}

	tokens, err := f.oauth.Exchange(ctx, creds, code)
	if err != nil {
		f.logger.Debug().Err(err).Msg("Failed to get access token")
		return fmt.Errorf("exchanging authorization code: %w", err)
	}

	f.logger.Info().Msg("Authentication Success, saving tokens")
	if err := f.inst.UpdateTokens(ctx, tokens.AccessToken, tokens.RefreshToken); err != nil {
		f.logger.Error().Err(err).Msg("Failed to persist tokens")
	}

	f.mu.Lock()
	hook := f.onAuthorized
	f.mu.Unlock()
	if hook != nil {
		hook(ctx)
	}
	return nil
}

// HandleCallback handles the host-delivered /oauth/callback request.
func (f *Flow) HandleCallback(ctx context.Context, query url.Values) CallbackResult {
	code := query.Get("code")
	if code == "" {
		return CallbackResult{Status: http.StatusBadRequest, Body: "Missing auth code!"}
	}
	if missing := missingFields(f.inst.Credentials(), false, true); len(missing) > 0 {
		return CallbackResult{Status: http.StatusBadRequest, Body: "Missing required config fields!"}
	}

	if err := f.Exchange(ctx, code); err != nil {
		return CallbackResult{Status: http.StatusInternalServerError, Body: "Failed to authenticate\n" + err.Error()}
	}
	return CallbackResult{Status: http.StatusOK, Body: "Success!\nYou can close this tab"}
}
