//go:build js && wasm

package credentials

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/syumai/workers/cloudflare/kv"
)

const kvKey = "restream_credentials"

// KVStore keeps credentials in a Cloudflare Workers KV namespace.
type KVStore struct {
	kvStore *kv.Namespace
}

// NewKVStore binds the KV namespace configured in wrangler.toml.
func NewKVStore(binding string) (*KVStore, error) {
	kvStore, err := kv.NewNamespace(binding)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize KV namespace: %w", err)
	}
	return &KVStore{kvStore: kvStore}, nil
}

func (c *KVStore) Load(_ context.Context) (*Credentials, error) {
	credsJSON, err := c.kvStore.GetString(kvKey, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get credentials from KV: %w", err)
	}
	if credsJSON == "" {
		return nil, ErrNotFound
	}

	var creds Credentials
	if err := json.Unmarshal([]byte(credsJSON), &creds); err != nil {
		return nil, fmt.Errorf("failed to parse credentials JSON: %w", err)
	}
	return &creds, nil
}

func (c *KVStore) Save(_ context.Context, creds *Credentials) error {
	credsJSON, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}
	if err := c.kvStore.PutString(kvKey, string(credsJSON), nil); err != nil {
		return fmt.Errorf("failed to store credentials in KV: %w", err)
	}
	return nil
}
