package config

import (
	"fmt"
	"reflect"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// DefaultRedirectURL is the public page that forwards the authorization code
// back to the instance's /oauth/callback endpoint.
const DefaultRedirectURL = "https://bitfocus.github.io/companion-oauth/callback"

// AuthMode selects how the authorization code reaches the bridge.
type AuthMode string

const (
	// AuthModeInteractive opens a browser and waits on a local listener.
	AuthModeInteractive AuthMode = "interactive"
	// AuthModeWebhook expects the code on the host's /oauth/callback route.
	AuthModeWebhook AuthMode = "webhook"
)

// Config holds the instance configuration loaded from environment variables.
// The credential fields mirror what is persisted by the credential store.
type Config struct {
	PollInterval int `envconfig:"POLL_INTERVAL" default:"30"`

	ClientID     string `envconfig:"RESTREAM_CLIENT_ID"`
	ClientSecret string `envconfig:"RESTREAM_CLIENT_SECRET"`
	RedirectURL  string `envconfig:"RESTREAM_REDIRECT_URL" default:"https://bitfocus.github.io/companion-oauth/callback"`
	AuthURL      string `envconfig:"RESTREAM_AUTH_URL"`
	AccessToken  string `envconfig:"RESTREAM_ACCESS_TOKEN"`
	RefreshToken string `envconfig:"RESTREAM_REFRESH_TOKEN"`

	APIURL   string `envconfig:"RESTREAM_API_URL" default:"https://api.restream.io/v2"`
	TokenURL string `envconfig:"RESTREAM_TOKEN_URL" default:"https://api.restream.io/oauth/token"`
	LoginURL string `envconfig:"RESTREAM_LOGIN_URL" default:"https://api.restream.io/login"`

	AuthMode     AuthMode `envconfig:"AUTH_MODE" default:"webhook"`
	CallbackHost string   `envconfig:"CALLBACK_HOST" default:"127.0.0.1"`
	CallbackPort int      `envconfig:"CALLBACK_PORT" default:"8765"`

	Port        int    `envconfig:"PORT" default:"9880"`
	AdminAPIKey string `envconfig:"ADMIN_API_KEY"`

	CredentialsBackend string `envconfig:"CREDENTIALS_BACKEND" default:"fs"`
	CredentialsPath    string `envconfig:"CREDENTIALS_PATH"`
	RedisURL           string `envconfig:"REDIS_URL" default:"redis://localhost:6379/0"`

	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"30s"`
	LogLevel       string        `envconfig:"LOG_LEVEL" default:"info"`
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	// A missing .env file is not an error.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that envconfig cannot express. Missing client
// credentials are not an error here: the instance starts and reports BadConfig.
func (c *Config) Validate() error {
	if c.PollInterval < 0 {
		return fmt.Errorf("POLL_INTERVAL must be >= 0, got %d", c.PollInterval)
	}
	switch c.AuthMode {
	case AuthModeInteractive, AuthModeWebhook:
	default:
		return fmt.Errorf("AUTH_MODE must be %q or %q, got %q", AuthModeInteractive, AuthModeWebhook, c.AuthMode)
	}
	switch c.CredentialsBackend {
	case "fs", "redis", "keychain", "memory", "kv":
	default:
		return fmt.Errorf("unknown CREDENTIALS_BACKEND %q", c.CredentialsBackend)
	}
	if c.CallbackPort < 0 || c.CallbackPort > 65535 {
		return fmt.Errorf("CALLBACK_PORT out of range: %d", c.CallbackPort)
	}
	return nil
}

// PollEvery converts the configured interval in seconds into a duration.
// Zero means periodic polling is disabled.
func (c *Config) PollEvery() time.Duration {
	if c.PollInterval <= 0 {
		return 0
	}
	return time.Duration(c.PollInterval) * time.Second
}

// CallbackAddr is the listen address of the interactive callback listener.
func (c *Config) CallbackAddr() string {
	return fmt.Sprintf("%s:%d", c.CallbackHost, c.CallbackPort)
}

// Keys lists the environment variable names read by Load.
func Keys() []string {
	t := reflect.TypeOf(Config{})
	keys := make([]string, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		if key := t.Field(i).Tag.Get("envconfig"); key != "" {
			keys = append(keys, key)
		}
	}
	return keys
}
