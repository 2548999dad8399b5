package auth

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/dvcrn/restream-bridge/internal/instance"
	"github.com/dvcrn/restream-bridge/internal/metrics"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Refresher exchanges the refresh token for a new access token. At most one
// exchange is in flight; callers arriving meanwhile wait for its result.
type Refresher struct {
	inst   *instance.Instance
	oauth  *OAuth
	logger *zerolog.Logger

	group    singleflight.Group
	inFlight atomic.Bool
}

func NewRefresher(inst *instance.Instance, oauth *OAuth, logger *zerolog.Logger) *Refresher {
	return &Refresher{
		inst:   inst,
		oauth:  oauth,
		logger: logger,
	}
}

// InFlight reports whether a refresh exchange is currently running.
func (r *Refresher) InFlight() bool {
	return r.inFlight.Load()
}

// Refresh runs the refresh flow, or joins the one already running.
func (r *Refresher) Refresh(ctx context.Context) error {
	_, err, shared := r.group.Do("refresh", func() (interface{}, error) {
		// Joined callers must not be failed by the first caller's cancellation.
		return nil, r.refresh(context.WithoutCancel(ctx))
	})
	if shared && r.logger != nil {
		r.logger.Debug().Msg("Joined token refresh already in progress")
	}
	return err
}

func (r *Refresher) refresh(ctx context.Context) error {
	r.inFlight.Store(true)
	defer r.inFlight.Store(false)

	creds := r.inst.Credentials()
	if missing := missingFields(creds, true, false); len(missing) > 0 {
		err := &ConfigError{Missing: missing}
		if r.logger != nil {
			r.logger.Error().Strs("missing", missing).Msg("Cannot refresh token, configuration incomplete")
		}
		metrics.TokenRefreshTotal.WithLabelValues("config_error").Inc()
		r.inst.UpdateStatus(instance.StatusBadConfig, "Missing "+missing[0])
		return err
	}

	if r.logger != nil {
		r.logger.Info().Msg("🔄 Fetching new access token")
	}

	tokens, err := r.oauth.Refresh(ctx, creds)
	if err != nil {
		r.handleFailure(ctx, err)
		return err
	}

	if err := r.inst.UpdateTokens(ctx, tokens.AccessToken, tokens.RefreshToken); err != nil && r.logger != nil {
		// The new tokens are already live in memory.
		r.logger.Error().Err(err).Msg("❌ Failed to persist refreshed tokens")
	}

	metrics.TokenRefreshTotal.WithLabelValues("ok").Inc()
	r.inst.UpdateStatus(instance.StatusOk, "")
	if r.logger != nil {
		r.logger.Info().Msg("✅ Refresh Token Success, saving tokens")
	}
	return nil
}

func (r *Refresher) handleFailure(ctx context.Context, err error) {
	switch {
	case errors.Is(err, ErrRefreshTokenExpired):
		if r.logger != nil {
			r.logger.Error().Err(err).Msg("Refresh Token Expired, please reauthenticate")
		}
		metrics.TokenRefreshTotal.WithLabelValues("expired").Inc()
		r.inst.UpdateStatus(instance.StatusBadConfig, "Refresh Token Expired")
		_ = r.inst.Persist(ctx)
	case errors.Is(err, ErrTokenEndpointUnreachable):
		if r.logger != nil {
			r.logger.Error().Err(err).Msg("Unable to connect to Restream API")
		}
		metrics.TokenRefreshTotal.WithLabelValues("connection_failure").Inc()
		r.inst.UpdateStatus(instance.StatusConnectionFailure, "Unable to connect to Restream API")
	default:
		if r.logger != nil {
			r.logger.Error().Err(err).Msg("Unknown Error while attempting to refresh token")
		}
		metrics.TokenRefreshTotal.WithLabelValues("unknown").Inc()
		r.inst.UpdateStatus(instance.StatusUnknownError, "Unknown Error")
	}
}
