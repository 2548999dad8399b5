//go:build !js || !wasm

package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/rs/zerolog"
)

const (
	keychainService = "restream-bridge-credentials"
	keychainAccount = "restream-bridge"
)

// commandRunner runs a command and returns its stdout.
type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// KeychainStore keeps credentials as a generic password in the macOS keychain.
type KeychainStore struct {
	run    commandRunner
	logger *zerolog.Logger
}

func NewKeychainStore(logger zerolog.Logger) *KeychainStore {
	return &KeychainStore{run: execRunner, logger: &logger}
}

// Load reads the keychain item. A missing item yields ErrNotFound.
func (k *KeychainStore) Load(ctx context.Context) (*Credentials, error) {
	output, err := k.run(ctx, "security", "find-generic-password", "-s", keychainService, "-w")
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 44 {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to retrieve password from Keychain: %w", err)
	}

	var creds Credentials
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(output))), &creds); err != nil {
		return nil, fmt.Errorf("failed to parse JSON from keychain: %w", err)
	}
	return &creds, nil
}

// Save replaces the keychain item with the given credentials.
func (k *KeychainStore) Save(ctx context.Context, creds *Credentials) error {
	updatedJSON, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}

	if _, err := k.run(ctx, "security", "add-generic-password", "-s", keychainService, "-a", keychainAccount, "-w", string(updatedJSON), "-U"); err != nil {
		return fmt.Errorf("failed to update keychain: %w", err)
	}

	if k.logger != nil {
		k.logger.Debug().Msg("🔑 Saved credentials to keychain")
	}
	return nil
}
