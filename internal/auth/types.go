package auth

import "time"

// Tokens is the result of a successful token exchange.
type Tokens struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

// Endpoints are the OAuth URLs of the Restream API.
type Endpoints struct {
	LoginURL string
	TokenURL string
}

// DefaultEndpoints points at the production Restream API.
var DefaultEndpoints = Endpoints{
	LoginURL: "https://api.restream.io/login",
	TokenURL: "https://api.restream.io/oauth/token",
}
