package embcache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/kailas-cloud/maomao/internal/db"
)

// MemoryStore is a process-local LRU with a single cache-wide TTL.
// The per-call ttl argument is ignored.
type MemoryStore struct {
	lru *expirable.LRU[string, []byte]
}

// NewMemoryStore creates an LRU holding up to size vectors. ttl <= 0 never expires.
func NewMemoryStore(size int, ttl time.Duration) *MemoryStore {
	if ttl < 0 {
		ttl = 0
	}
	return &MemoryStore{lru: expirable.NewLRU[string, []byte](size, nil, ttl)}
}

// Get returns a cached value or db.ErrKeyNotFound.
func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	v, ok := m.lru.Get(key)
	if !ok {
		return nil, db.ErrKeyNotFound
	}
	return v, nil
}

// SetWithTTL stores value, evicting the least recently used entry when full.
func (m *MemoryStore) SetWithTTL(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.lru.Add(key, value)
	return nil
}

// Len reports the number of live entries.
func (m *MemoryStore) Len() int {
	return m.lru.Len()
}
