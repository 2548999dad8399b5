package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dvcrn/restream-bridge/internal/credentials"
	"golang.org/x/oauth2"
)

// OAuth performs the authorization-code and refresh-token exchanges against
// the Restream token endpoint using client basic auth.
type OAuth struct {
	endpoints  Endpoints
	httpClient *http.Client
}

func NewOAuth(endpoints Endpoints, httpClient *http.Client) *OAuth {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &OAuth{endpoints: endpoints, httpClient: httpClient}
}

func (o *OAuth) config(creds credentials.Credentials) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		RedirectURL:  creds.RedirectURL,
		Endpoint: oauth2.Endpoint{
			AuthURL:   o.endpoints.LoginURL,
			TokenURL:  o.endpoints.TokenURL,
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}
}

func (o *OAuth) context(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, o.httpClient)
}

// AuthCodeURL builds the URL the user opens to authorize the client.
func (o *OAuth) AuthCodeURL(creds credentials.Credentials, state string) string {
	return o.config(creds).AuthCodeURL(state)
}

// Exchange trades an authorization code for a token pair.
func (o *OAuth) Exchange(ctx context.Context, creds credentials.Credentials, code string) (*Tokens, error) {
	tok, err := o.config(creds).Exchange(o.context(ctx), code)
	if err != nil {
		return nil, classifyExchangeError(err)
	}
	return toTokens(tok), nil
}

// Refresh trades the refresh token for a new token pair. A 400 from the
// token endpoint is reported as ErrRefreshTokenExpired.
func (o *OAuth) Refresh(ctx context.Context, creds credentials.Credentials) (*Tokens, error) {
	src := o.config(creds).TokenSource(o.context(ctx), &oauth2.Token{RefreshToken: creds.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		err = classifyExchangeError(err)
		var exErr *ExchangeError
		if errors.As(err, &exErr) && exErr.StatusCode == http.StatusBadRequest {
			return nil, fmt.Errorf("%w: %v", ErrRefreshTokenExpired, exErr)
		}
		return nil, err
	}
	return toTokens(tok), nil
}

func toTokens(tok *oauth2.Token) *Tokens {
	return &Tokens{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	}
}

// missingFields lists required credential fields that are empty.
func missingFields(creds credentials.Credentials, needRefresh, needRedirect bool) []string {
	var missing []string
	if needRefresh && creds.RefreshToken == "" {
		missing = append(missing, "Refresh Token")
	}
	if creds.ClientID == "" {
		missing = append(missing, "Client ID")
	}
	if creds.ClientSecret == "" {
		missing = append(missing, "Client Secret")
	}
	if needRedirect && creds.RedirectURL == "" {
		missing = append(missing, "Redirect URL")
	}
	return missing
}
