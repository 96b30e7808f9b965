package store

import (
	"context"
	"encoding/json"
	"sync"
)

// MemStore keeps checkpoints in process memory. Everything is lost when the
// process exits unless the store is marshaled with MarshalJSON.
type MemStore struct {
	mu       sync.RWMutex
	sessions map[string]Snapshot
	closed   bool
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{sessions: make(map[string]Snapshot)}
}

// Load implements Store.
func (m *MemStore) Load(_ context.Context, sessionID string) (Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}
	snap, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return snap.Clone(), nil
}

// Save implements Store.
func (m *MemStore) Save(_ context.Context, sessionID string, snap Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	m.sessions[sessionID] = snap.Clone()
	return nil
}

// Delete implements Store.
func (m *MemStore) Delete(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	delete(m.sessions, sessionID)
	return nil
}

// Sessions returns the number of stored sessions.
func (m *MemStore) Sessions() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Close implements Store.
func (m *MemStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// MarshalJSON dumps every session, for saving memory state to disk.
func (m *MemStore) MarshalJSON() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return json.Marshal(m.sessions)
}

// UnmarshalJSON replaces the store contents with a MarshalJSON dump.
func (m *MemStore) UnmarshalJSON(data []byte) error {
	var sessions map[string]Snapshot
	if err := json.Unmarshal(data, &sessions); err != nil {
		return err
	}
	if sessions == nil {
		sessions = make(map[string]Snapshot)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = sessions
	return nil
}
