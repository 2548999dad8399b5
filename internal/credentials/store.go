package credentials

import (
	"context"
	"errors"
)

// ErrNotFound is returned by a Store that has never been written to.
var ErrNotFound = errors.New("credentials not found")

// Credentials is the persisted part of the instance configuration: the OAuth
// client registration and the current token pair.
type Credentials struct {
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	RedirectURL  string `json:"redirectUrl"`
	AuthURL      string `json:"authUrl,omitempty"`
}

// Store persists credentials between runs.
type Store interface {
	Load(ctx context.Context) (*Credentials, error)
	Save(ctx context.Context, creds *Credentials) error
}

// Merge combines configured credentials with previously stored ones. The
// client registration comes from configuration when set; tokens prefer the
// stored pair because refresh tokens rotate on every exchange.
func Merge(configured, stored *Credentials) *Credentials {
	if stored == nil {
		out := *configured
		return &out
	}
	out := *stored
	if configured.ClientID != "" {
		out.ClientID = configured.ClientID
	}
	if configured.ClientSecret != "" {
		out.ClientSecret = configured.ClientSecret
	}
	if configured.RedirectURL != "" {
		out.RedirectURL = configured.RedirectURL
	}
	if out.AccessToken == "" && out.RefreshToken == "" {
		out.AccessToken = configured.AccessToken
		out.RefreshToken = configured.RefreshToken
	}
	if out.AuthURL == "" {
		out.AuthURL = configured.AuthURL
	}
	return &out
}
