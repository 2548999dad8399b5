package credentials

import (
	"context"
	"sync"
)

// MemoryStore keeps credentials in process memory only. Tokens obtained at
// runtime are lost on restart.
type MemoryStore struct {
	mu    sync.Mutex
	creds *Credentials
	saves int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Load(_ context.Context) (*Credentials, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.creds == nil {
		return nil, ErrNotFound
	}
	out := *m.creds
	return &out, nil
}

func (m *MemoryStore) Save(_ context.Context, creds *Credentials) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *creds
	m.creds = &c
	m.saves++
	return nil
}

// Saves reports how many times Save was called.
func (m *MemoryStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}
