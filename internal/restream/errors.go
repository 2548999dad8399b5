package restream

import (
	"errors"
	"fmt"
)

// ErrNoAccessToken is returned instead of sending an authenticated request
// without a bearer token.
var ErrNoAccessToken = errors.New("no access token available")

// APIError is a non-2xx response from the Restream API.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("restream api %s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// TransportError means no response was received from the Restream API.
type TransportError struct {
	Method string
	Path   string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("restream api %s %s: %v", e.Method, e.Path, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsStatus reports whether err is an APIError with the given status code.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == status
}

var errNoGetBody = errors.New("request body cannot be replayed")
