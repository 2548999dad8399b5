package auth

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/oauth2"
)

var (
	// ErrRefreshTokenExpired is returned when the token endpoint rejects the
	// refresh token with HTTP 400. The user has to authorize again.
	ErrRefreshTokenExpired = errors.New("refresh token expired")

	// ErrTokenEndpointUnreachable means the token exchange got no response.
	ErrTokenEndpointUnreachable = errors.New("unable to connect to token endpoint")

	// ErrAuthorizationAborted is returned by a pending authorization attempt
	// that was replaced by a newer one or explicitly aborted.
	ErrAuthorizationAborted = errors.New("authorization process aborted")
)

// ConfigError reports configuration fields required for an exchange.
type ConfigError struct {
	Missing []string
}

func (e *ConfigError) Error() string {
	return "missing " + strings.Join(e.Missing, ", ")
}

// ExchangeError is a non-2xx response from the token endpoint.
type ExchangeError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("token endpoint returned status %d: %s", e.StatusCode, e.Body)
}

func (e *ExchangeError) Unwrap() error { return e.Err }

// classifyExchangeError maps oauth2 errors onto the package error taxonomy.
func classifyExchangeError(err error) error {
	var rErr *oauth2.RetrieveError
	if errors.As(err, &rErr) && rErr.Response != nil {
		return &ExchangeError{StatusCode: rErr.Response.StatusCode, Body: string(rErr.Body), Err: err}
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return fmt.Errorf("%w: %v", ErrTokenEndpointUnreachable, urlErr)
	}
	return err
}
