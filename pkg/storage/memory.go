package storage

import (
	"strings"
	"sync"
)

// MemoryStore is an in-memory Store for tests and ephemeral nodes
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string][]byte),
	}
}

// Put writes value under key, replacing any previous value
func (s *MemoryStore) Put(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := make([]byte, len(value))
	copy(cp, value)
	s.data[key] = cp
	return nil
}

// Get reads the value under key
func (s *MemoryStore) Get(key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.data[key]
	if !ok {
		return nil, ErrNotFound
	}

	cp := make([]byte, len(value))
	copy(cp, value)
	return cp, nil
}

// Delete removes key
func (s *MemoryStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, key)
	return nil
}

// List returns all entries whose key starts with prefix
func (s *MemoryStore) List(prefix string) (map[string][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string][]byte)
	for key, value := range s.data {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		cp := make([]byte, len(value))
		copy(cp, value)
		out[key] = cp
	}
	return out, nil
}

// Close is a no-op for the in-memory store
func (s *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
