package store

import (
	"context"
	"sync"
)

// MemoryStore is a process-local Store, used by tests and dry runs.
type MemoryStore struct {
	mu    sync.RWMutex
	creds map[string]Credential
	slots [SlotCount]string

	// writes counts successful Put and UpdateTokens calls.
	writes int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{creds: make(map[string]Credential)}
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.creds[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (m *MemoryStore) Put(ctx context.Context, id string, cred *Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds[id] = *cred
	m.writes++
	return nil
}

func (m *MemoryStore) UpdateTokens(ctx context.Context, id string, tokens TokenSet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.creds[id]
	if !ok {
		return ErrNotFound
	}
	c.AccessToken = tokens.AccessToken
	c.RefreshToken = tokens.RefreshToken
	c.ExpiresAt = tokens.ExpiresAt
	m.creds[id] = c
	m.writes++
	return nil
}

func (m *MemoryStore) Slots(ctx context.Context) ([SlotCount]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.slots, nil
}

func (m *MemoryStore) ClaimSlot(ctx context.Context, id string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, changed, err := claim(m.slots, id)
	if err != nil {
		return 0, err
	}
	if changed {
		m.slots[n-1] = id
	}
	return n, nil
}

// WriteCount reports how many credential writes have succeeded.
func (m *MemoryStore) WriteCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}

func (m *MemoryStore) Close() error { return nil }
