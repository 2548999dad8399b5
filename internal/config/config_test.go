package config

import (
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("RESTREAM_CLIENT_ID", "client")
	t.Setenv("RESTREAM_CLIENT_SECRET", "secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 30, cfg.PollInterval)
	assert.Equal(t, 30*time.Second, cfg.PollEvery())
	assert.Equal(t, DefaultRedirectURL, cfg.RedirectURL)
	assert.Equal(t, "https://api.restream.io/v2", cfg.APIURL)
	assert.Equal(t, "https://api.restream.io/oauth/token", cfg.TokenURL)
	assert.Equal(t, AuthModeWebhook, cfg.AuthMode)
	assert.Equal(t, "127.0.0.1:8765", cfg.CallbackAddr())
	assert.Equal(t, "client", cfg.ClientID)
}

func TestLoadPollIntervalZeroDisablesTimer(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("POLL_INTERVAL", "0")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), cfg.PollEvery())
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{AuthMode: AuthModeWebhook, CredentialsBackend: "fs", CallbackPort: 8765}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "negative poll", mutate: func(c *Config) { c.PollInterval = -1 }, wantErr: "POLL_INTERVAL"},
		{name: "bad auth mode", mutate: func(c *Config) { c.AuthMode = "popup" }, wantErr: "AUTH_MODE"},
		{name: "bad backend", mutate: func(c *Config) { c.CredentialsBackend = "s3" }, wantErr: "CREDENTIALS_BACKEND"},
		{name: "bad port", mutate: func(c *Config) { c.CallbackPort = 70000 }, wantErr: "CALLBACK_PORT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestKeys(t *testing.T) {
	keys := Keys()
	assert.Contains(t, keys, "POLL_INTERVAL")
	assert.Contains(t, keys, "RESTREAM_CLIENT_SECRET")
	assert.Contains(t, keys, "ADMIN_API_KEY")
	assert.Len(t, keys, reflect.TypeOf(Config{}).NumField())
}
