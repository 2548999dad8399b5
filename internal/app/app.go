// Package app wires the bridge together and implements the instance
// lifecycle: init, configuration updates, authentication checks and teardown.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/dvcrn/restream-bridge/internal/auth"
	"github.com/dvcrn/restream-bridge/internal/config"
	"github.com/dvcrn/restream-bridge/internal/credentials"
	"github.com/dvcrn/restream-bridge/internal/instance"
	"github.com/dvcrn/restream-bridge/internal/poller"
	"github.com/dvcrn/restream-bridge/internal/restream"
	"github.com/dvcrn/restream-bridge/internal/server"
	"github.com/dvcrn/restream-bridge/internal/surface"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// ErrNotAuthenticated means the stored tokens cannot be used and the user has
// to authorize again.
var ErrNotAuthenticated = errors.New("not authenticated with Restream")

type options struct {
	clock     clockwork.Clock
	opener    auth.Opener
	transport http.RoundTripper
}

// Option configures an App.
type Option func(*options)

// WithClock sets the clock driving the poll ticker.
func WithClock(clock clockwork.Clock) Option {
	return func(o *options) { o.clock = clock }
}

// WithOpener replaces the system browser used in interactive mode.
func WithOpener(open auth.Opener) Option {
	return func(o *options) { o.opener = open }
}

// WithTransport sets the transport for Restream API and token requests.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) { o.transport = rt }
}

type App struct {
	logger zerolog.Logger

	mu  sync.RWMutex
	cfg *config.Config

	inst      *instance.Instance
	client    *restream.Client
	refresher *auth.Refresher
	flow      *auth.Flow
	poller    *poller.Poller
	surface   *surface.Surface
	feed      *server.Feed
	server    *server.Server

	ctx     context.Context
	cancel  context.CancelFunc
	running sync.WaitGroup
	started bool
}

// New builds the application. Stored credentials are merged with the
// configured ones; a store that was never written is not an error.
func New(ctx context.Context, cfg *config.Config, store credentials.Store, logger zerolog.Logger, opts ...Option) (*App, error) {
	o := options{clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(&o)
	}

	stored, err := store.Load(ctx)
	if err != nil && !errors.Is(err, credentials.ErrNotFound) {
		return nil, fmt.Errorf("loading stored credentials: %w", err)
	}
	creds := credentials.Merge(credentialsFromConfig(cfg), stored)

	inst := instance.New(*creds, store, logger.With().Str("component", "instance").Logger())

	httpClient := &http.Client{Timeout: cfg.RequestTimeout}
	if o.transport != nil {
		httpClient.Transport = o.transport
	}
	oauth := auth.NewOAuth(auth.Endpoints{LoginURL: cfg.LoginURL, TokenURL: cfg.TokenURL}, httpClient)

	authLogger := logger.With().Str("component", "auth").Logger()
	refresher := auth.NewRefresher(inst, oauth, &authLogger)

	clientOpts := []restream.Option{restream.WithTimeout(cfg.RequestTimeout)}
	if o.transport != nil {
		clientOpts = append(clientOpts, restream.WithTransport(o.transport))
	}
	client := restream.NewClient(cfg.APIURL, inst, refresher, logger.With().Str("component", "restream").Logger(), clientOpts...)

	var receiver *auth.Receiver
	if cfg.AuthMode == config.AuthModeInteractive {
		receiver = auth.NewReceiver(cfg.CallbackAddr(), authLogger)
	}
	var flowOpts []auth.FlowOption
	if o.opener != nil {
		flowOpts = append(flowOpts, auth.WithOpener(o.opener))
	}
	flow := auth.NewFlow(inst, oauth, receiver, authLogger, flowOpts...)

	p := poller.New(client, inst, logger.With().Str("component", "poller").Logger(),
		poller.WithClock(o.clock),
		poller.WithInterval(cfg.PollEvery()),
	)
	surf := surface.New(client, p, inst, logger.With().Str("component", "surface").Logger())
	feed := server.NewFeed(logger.With().Str("component", "feed").Logger())
	p.Subscribe(surf)
	p.Subscribe(feed)
	inst.OnStatus(feed.PublishStatus)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a := &App{
		logger:    logger,
		cfg:       cfg,
		inst:      inst,
		client:    client,
		refresher: refresher,
		flow:      flow,
		poller:    p,
		surface:   surf,
		feed:      feed,
		ctx:       runCtx,
		cancel:    cancel,
	}
	a.server = server.New(logger.With().Str("component", "server").Logger(), server.Deps{
		Status:      inst,
		Surface:     surf,
		Callback:    flow,
		Poller:      p,
		Feed:        feed,
		AdminAPIKey: cfg.AdminAPIKey,
	})
	flow.OnAuthorized(func(ctx context.Context) {
		if err := a.Revalidate(ctx); err != nil {
			a.logger.Error().Err(err).Msg("Re-validation after authorization failed")
		}
	})

	return a, nil
}

func credentialsFromConfig(cfg *config.Config) *credentials.Credentials {
	return &credentials.Credentials{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		AccessToken:  cfg.AccessToken,
		RefreshToken: cfg.RefreshToken,
		RedirectURL:  cfg.RedirectURL,
		AuthURL:      cfg.AuthURL,
	}
}

// Handler is the host HTTP entry point.
func (a *App) Handler() http.Handler {
	return a.server
}

// Instance returns the shared instance state.
func (a *App) Instance() *instance.Instance {
	return a.inst
}

// Config returns the configuration currently applied.
func (a *App) Config() *config.Config {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cfg
}

// Init validates configuration and authentication and starts the poll loop,
// whose first cycle runs immediately.
func (a *App) Init(ctx context.Context) error {
	if a.CheckConfiguration() {
		err := a.CheckAuthentication(ctx)
		switch {
		case err == nil:
			a.logger.Info().Msg("Successfully connected to Restream")
			a.inst.UpdateStatus(instance.StatusOk, "")
		case errors.Is(err, ErrNotAuthenticated):
			a.startAuthorization()
		default:
			a.logger.Error().Err(err).Msg("Authentication check failed")
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return nil
	}
	a.started = true
	a.running.Add(1)
	go func() {
		defer a.running.Done()
		a.poller.Run(a.ctx)
	}()
	return nil
}

// ConfigUpdated applies a new configuration. Configured tokens only replace
// the current ones when they changed since the last applied configuration.
// When the tokens no longer work it starts the authorization flow; otherwise
// it restarts polling with the new interval and persists the credentials.
func (a *App) ConfigUpdated(ctx context.Context, cfg *config.Config) error {
	a.mu.Lock()
	prev := a.cfg
	a.cfg = cfg
	a.mu.Unlock()

	creds := credentialsFromConfig(cfg)
	if prev != nil {
		if prev.AccessToken == cfg.AccessToken {
			creds.AccessToken = ""
		}
		if prev.RefreshToken == cfg.RefreshToken {
			creds.RefreshToken = ""
		}
	}
	a.inst.ApplyConfig(*creds)

	return a.Revalidate(ctx)
}

// Revalidate re-runs the configuration and authentication checks against the
// current credentials, used after new tokens were obtained. It never applies
// configured tokens, so exchanged or rotated ones are kept.
func (a *App) Revalidate(ctx context.Context) error {
	if !a.CheckConfiguration() {
		return nil
	}

	if err := a.CheckAuthentication(ctx); err != nil {
		if errors.Is(err, ErrNotAuthenticated) {
			a.logger.Warn().Err(err).Msg("Authentication failed, running authorization flow")
			a.startAuthorization()
			return nil
		}
		return err
	}

	a.logger.Info().Msg("Successfully connected to Restream")
	a.inst.UpdateStatus(instance.StatusOk, "")

	a.poller.SetInterval(a.Config().PollEvery())
	if err := a.poller.Poll(ctx); err != nil && !errors.Is(err, poller.ErrPollInProgress) {
		a.logger.Error().Err(err).Msg("Poll after configuration update failed")
	}

	return a.inst.Persist(ctx)
}

// CheckConfiguration verifies the client registration is present.
func (a *App) CheckConfiguration() bool {
	a.logger.Debug().Msg("Checking Configuration")
	creds := a.inst.Credentials()
	if creds.ClientID == "" {
		a.logger.Error().Msg("Missing Client ID")
		a.inst.UpdateStatus(instance.StatusBadConfig, "Missing Client ID")
		return false
	}
	if creds.ClientSecret == "" {
		a.logger.Error().Msg("Missing Client Secret")
		a.inst.UpdateStatus(instance.StatusBadConfig, "Missing Client Secret")
		return false
	}
	return true
}

// CheckAuthentication makes sure an access token exists, refreshing it when
// only a refresh token is stored, and probes the profile endpoint with it.
// Errors wrapping ErrNotAuthenticated need a new authorization.
func (a *App) CheckAuthentication(ctx context.Context) error {
	a.logger.Debug().Msg("Checking Authentication Status")
	creds := a.inst.Credentials()

	if creds.AccessToken == "" && creds.RefreshToken == "" {
		a.logger.Error().Msg("Missing Refresh Token and Access Token")
		a.inst.UpdateStatus(instance.StatusBadConfig, "Missing Refresh Token and Access Token")
		return fmt.Errorf("%w: no tokens", ErrNotAuthenticated)
	}

	if creds.AccessToken == "" {
		a.logger.Warn().Msg("Missing Access Token, attempting to run refresh flow")
		if err := a.refresher.Refresh(ctx); err != nil {
			if errors.Is(err, auth.ErrTokenEndpointUnreachable) {
				return err
			}
			a.logger.Error().Err(err).Msg("Failed to get access token")
			a.inst.UpdateStatus(instance.StatusBadConfig, "Failed to get access token")
			return fmt.Errorf("%w: %v", ErrNotAuthenticated, err)
		}
	}

	if _, err := a.client.Profile(ctx); err != nil {
		// An expired refresh token during the 401 retry already left BadConfig.
		if st, _ := a.inst.Status(); st != instance.StatusBadConfig {
			a.inst.UpdateStatus(instance.StatusError, "Authentication check failed")
		}
		if errors.Is(err, restream.ErrNoAccessToken) || restream.IsStatus(err, http.StatusUnauthorized) {
			return fmt.Errorf("%w: %v", ErrNotAuthenticated, err)
		}
		return fmt.Errorf("probing user profile: %w", err)
	}
	return nil
}

// startAuthorization runs the authorization flow in the background. In
// webhook mode this only publishes the authorization URL.
func (a *App) startAuthorization() {
	a.running.Add(1)
	go func() {
		defer a.running.Done()
		err := a.flow.Start(a.ctx)
		if err != nil && !errors.Is(err, auth.ErrAuthorizationAborted) && !errors.Is(err, context.Canceled) {
			a.logger.Error().Err(err).Msg("Authorization failed")
		}
	}()
}

// Destroy stops polling, aborts a pending authorization and disconnects
// feed clients.
func (a *App) Destroy() {
	a.logger.Debug().Msg("destroy")
	a.cancel()
	a.flow.Abort()
	a.running.Wait()
	a.feed.Close()
}
