// Package storage provides the small key-value store the messaging
// engine persists its conversation records into.
package storage

import "errors"

var (
	ErrNotFound = errors.New("not found")
)

// Store persists small keyed blobs. Implementations must be safe for
// concurrent use.
type Store interface {
	// Put writes value under key, replacing any previous value
	Put(key string, value []byte) error

	// Get reads the value under key, ErrNotFound when absent
	Get(key string) ([]byte, error)

	// Delete removes key; deleting an absent key is not an error
	Delete(key string) error

	// List returns all entries whose key starts with prefix
	List(prefix string) (map[string][]byte, error)

	// Close releases the underlying resources
	Close() error
}
