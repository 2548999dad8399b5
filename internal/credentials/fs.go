package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
)

type fsAuth struct {
	Restream Credentials `json:"restream"`
}

// FSStore keeps credentials in a JSON file readable only by the owner.
type FSStore struct {
	Path string
}

func NewFSStore(path string) *FSStore {
	return &FSStore{Path: path}
}

// Load reads the credentials file. A missing file yields ErrNotFound.
func (f *FSStore) Load(_ context.Context) (*Credentials, error) {
	b, err := os.ReadFile(f.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read credentials file: %w", err)
	}
	var a fsAuth
	if err := json.Unmarshal(b, &a); err != nil {
		return nil, fmt.Errorf("failed to parse credentials file: %w", err)
	}
	return &a.Restream, nil
}

// Save writes the credentials file, creating its parent directory if needed.
func (f *FSStore) Save(_ context.Context, creds *Credentials) error {
	if err := EnsureParentDir(f.Path); err != nil {
		return err
	}

	data, err := json.MarshalIndent(fsAuth{Restream: *creds}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}

	if err := os.WriteFile(f.Path, data, 0600); err != nil {
		return fmt.Errorf("failed to write credentials file: %w", err)
	}
	return nil
}
