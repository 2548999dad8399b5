// Package instance holds the mutable state of one bridge instance: the
// credentials and the connection status. It is passed explicitly to every
// component that reads or changes that state.
package instance

import (
	"context"
	"fmt"
	"sync"

	"github.com/dvcrn/restream-bridge/internal/credentials"
	"github.com/dvcrn/restream-bridge/internal/metrics"
	"github.com/rs/zerolog"
)

// StatusListener is notified after every status change.
type StatusListener func(status Status, message string)

type Instance struct {
	store  credentials.Store
	logger zerolog.Logger

	mu        sync.RWMutex
	creds     credentials.Credentials
	status    Status
	message   string
	listeners []StatusListener
}

func New(creds credentials.Credentials, store credentials.Store, logger zerolog.Logger) *Instance {
	i := &Instance{
		store:  store,
		logger: logger,
		creds:  creds,
		status: StatusConnecting,
	}
	i.publishStatusMetric(StatusConnecting)
	return i
}

// Credentials returns a copy of the current credentials.
func (i *Instance) Credentials() credentials.Credentials {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.creds
}

// AccessToken returns the current access token.
func (i *Instance) AccessToken() string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.creds.AccessToken
}

// UpdateTokens stores a new token pair and persists it.
func (i *Instance) UpdateTokens(ctx context.Context, accessToken, refreshToken string) error {
	i.mu.Lock()
	i.creds.AccessToken = accessToken
	i.creds.RefreshToken = refreshToken
	i.mu.Unlock()
	return i.Persist(ctx)
}

// SetAuthURL records the authorization URL shown to the user and persists it.
func (i *Instance) SetAuthURL(ctx context.Context, authURL string) error {
	i.mu.Lock()
	i.creds.AuthURL = authURL
	i.mu.Unlock()
	return i.Persist(ctx)
}

// ApplyConfig replaces the client registration and, when given, the tokens.
// Empty token values keep the current ones.
func (i *Instance) ApplyConfig(creds credentials.Credentials) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.creds.ClientID = creds.ClientID
	i.creds.ClientSecret = creds.ClientSecret
	i.creds.RedirectURL = creds.RedirectURL
	if creds.AccessToken != "" {
		i.creds.AccessToken = creds.AccessToken
	}
	if creds.RefreshToken != "" {
		i.creds.RefreshToken = creds.RefreshToken
	}
}

// Persist writes the current credentials to the store.
func (i *Instance) Persist(ctx context.Context) error {
	creds := i.Credentials()
	if i.store == nil {
		return nil
	}
	if err := i.store.Save(ctx, &creds); err != nil {
		i.logger.Error().Err(err).Msg("Failed to persist credentials")
		return fmt.Errorf("persisting credentials: %w", err)
	}
	return nil
}

// Status returns the current connection status and its message.
func (i *Instance) Status() (Status, string) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.status, i.message
}

// UpdateStatus changes the connection status and notifies listeners.
func (i *Instance) UpdateStatus(status Status, message string) {
	i.mu.Lock()
	prev := i.status
	i.status = status
	i.message = message
	listeners := append([]StatusListener(nil), i.listeners...)
	i.publishStatusMetric(status)
	i.mu.Unlock()

	if prev != status {
		i.logger.Debug().
			Stringer("from", prev).
			Stringer("to", status).
			Str("message", message).
			Msg("Connection status changed")
	}

	for _, l := range listeners {
		l(status, message)
	}
}

// OnStatus registers a listener for status changes.
func (i *Instance) OnStatus(l StatusListener) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.listeners = append(i.listeners, l)
}

// publishStatusMetric sets the gauge for current to 1 and all others to 0.
// UpdateStatus calls it with mu held.
func (i *Instance) publishStatusMetric(current Status) {
	for s, name := range statusNames {
		v := 0.0
		if s == current {
			v = 1
		}
		metrics.ConnectionStatus.WithLabelValues(name).Set(v)
	}
}
