package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/maypok86/otter/v2"
)

// memoryEntry wraps a cached value with its expiration time.
type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

// MemoryStore is an in-process W-TinyLFU store backed by otter. It is not
// shared between instances and suits single-node or development deployments.
type MemoryStore struct {
	cache *otter.Cache[string, memoryEntry]
	now   func() time.Time
}

// NewMemoryStore creates a store bounded to maxKeys entries. maxTTL caps how
// long otter itself keeps an entry; the per-entry TTL is checked on read.
func NewMemoryStore(maxKeys int, maxTTL time.Duration) (*MemoryStore, error) {
	c, err := otter.New[string, memoryEntry](&otter.Options[string, memoryEntry]{
		MaximumSize:      maxKeys,
		ExpiryCalculator: otter.ExpiryWriting[string, memoryEntry](maxTTL),
	})
	if err != nil {
		return nil, fmt.Errorf("create memory store: %w", err)
	}
	return &MemoryStore{cache: c, now: time.Now}, nil
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	e, ok := m.cache.GetIfPresent(key)
	if !ok {
		return nil, false, nil
	}
	if !m.now().Before(e.expiresAt) {
		m.cache.Invalidate(key)
		return nil, false, nil
	}
	return e.data, true, nil
}

func (m *MemoryStore) SetWithTTL(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("memory set %s: ttl must be positive, got %v", key, ttl)
	}
	m.cache.Set(key, memoryEntry{
		data:      value,
		expiresAt: m.now().Add(ttl),
	})
	return nil
}

func (m *MemoryStore) Stats() (numKeys int, sizeInKB int) {
	for k, e := range m.cache.All() {
		numKeys++
		sizeInKB += len(k) + len(e.data)
	}
	return numKeys, sizeInKB / 1024
}

func (m *MemoryStore) Purge(_ context.Context) error {
	m.cache.InvalidateAll()
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}
