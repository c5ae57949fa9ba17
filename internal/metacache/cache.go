// Package metacache stores metadata text extracted from wheels so repeated
// requests do not re-download and re-unpack the same artifact. The cache is
// best-effort: a miss or a storage fault costs one extraction, never a
// failed request.
package metacache

import (
	"context"
	"sync"
)

// Cache is keyed by "project/resource-name".
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Put(ctx context.Context, key, value string) error
	Close() error
}

// Memory is an in-process cache. It grows unbounded; the set of wheels an
// index serves is finite and metadata documents are small.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]string
}

// NewMemory creates an empty in-memory cache.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]string)}
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.entries[key]
	return value, ok, nil
}

func (m *Memory) Put(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = value
	return nil
}

func (m *Memory) Close() error { return nil }
