package ledger

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryBlobs keeps ledger objects in memory. It is safe for concurrent use.
type MemoryBlobs struct {
	objects map[string][]byte
	mu      sync.RWMutex
}

func NewMemoryBlobs() *MemoryBlobs {
	return &MemoryBlobs{objects: make(map[string][]byte)}
}

func (m *MemoryBlobs) Put(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Copy so callers can reuse their buffer.
	m.objects[key] = append([]byte(nil), data...)
	return nil
}

func (m *MemoryBlobs) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.objects[key]
	if !ok {
		return nil, errBlobNotFound
	}
	return append([]byte(nil), data...), nil
}

func (m *MemoryBlobs) Exists(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.objects[key]
	return ok, nil
}

// Keys returns the stored keys with the given prefix, sorted.
func (m *MemoryBlobs) Keys(prefix string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var keys []string
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

var _ Blobs = (*MemoryBlobs)(nil)
