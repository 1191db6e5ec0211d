package blobstore

import (
	"context"
	"sync"
)

// MemoryEndpoint is an in-memory Endpoint implementation for testing and
// for round-tripping an index without touching a filesystem.
// Thread-safe for concurrent reads and writes.
type MemoryEndpoint struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemoryEndpoint creates a new in-memory endpoint.
func NewMemoryEndpoint() *MemoryEndpoint {
	return &MemoryEndpoint{
		blobs: make(map[string][]byte),
	}
}

// Put creates or overwrites the value at key.
func (m *MemoryEndpoint) Put(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Copy to prevent external mutation.
	copied := make([]byte, len(data))
	copy(copied, data)
	m.blobs[key] = copied
	return nil
}

// Get reads the value at key.
func (m *MemoryEndpoint) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.blobs[key]
	if !ok {
		return nil, ErrNotFound
	}

	copied := make([]byte, len(data))
	copy(copied, data)
	return copied, nil
}

// TrySize probes existence and length.
func (m *MemoryEndpoint) TrySize(_ context.Context, key string) (int64, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.blobs[key]
	if !ok {
		return 0, false, nil
	}
	return int64(len(data)), true, nil
}

// Sub returns an endpoint namespaced under prefix.
func (m *MemoryEndpoint) Sub(prefix string) Endpoint {
	return NewSub(m, prefix)
}

// Keys returns all stored keys. Intended for tests.
func (m *MemoryEndpoint) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.blobs))
	for k := range m.blobs {
		keys = append(keys, k)
	}
	return keys
}
