package cache

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"portal-messaging/pkg/logger"
)

// Entry is a cached value and the time it was stored
type Entry[V any] struct {
	Value    V
	StoredAt time.Time
}

// MemoryCache is a bounded in-process cache keyed by string. Entries expire
// after the TTL; when full the oldest stored entry is dropped.
type MemoryCache[V any] struct {
	mu      sync.Mutex
	data    map[string]Entry[V]
	ttl     time.Duration
	maxSize int
	now     func() time.Time
}

// NewMemoryCache creates a cache. A zero maxSize leaves it unbounded.
func NewMemoryCache[V any](ttl time.Duration, maxSize int) *MemoryCache[V] {
	return &MemoryCache[V]{
		data:    make(map[string]Entry[V]),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
	}
}

// SetClock overrides the time source
func (mc *MemoryCache[V]) SetClock(now func() time.Time) {
	mc.mu.Lock()
	mc.now = now
	mc.mu.Unlock()
}

// Set stores value under key, replacing any previous entry
func (mc *MemoryCache[V]) Set(key string, value V) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if _, exists := mc.data[key]; !exists && mc.maxSize > 0 && len(mc.data) >= mc.maxSize {
		mc.evictOldest()
	}
	mc.data[key] = Entry[V]{Value: value, StoredAt: mc.now()}
}

// Get returns the entry for key unless it is missing or expired
func (mc *MemoryCache[V]) Get(key string) (Entry[V], bool) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	entry, ok := mc.data[key]
	if !ok {
		return Entry[V]{}, false
	}
	if mc.ttl > 0 && mc.now().Sub(entry.StoredAt) > mc.ttl {
		delete(mc.data, key)
		return Entry[V]{}, false
	}
	return entry, true
}

// Delete removes key
func (mc *MemoryCache[V]) Delete(key string) {
	mc.mu.Lock()
	delete(mc.data, key)
	mc.mu.Unlock()
}

// Len returns the number of entries, expired ones included
func (mc *MemoryCache[V]) Len() int {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return len(mc.data)
}

func (mc *MemoryCache[V]) evictOldest() {
	var oldestKey string
	var oldest time.Time
	for key, entry := range mc.data {
		if oldestKey == "" || entry.StoredAt.Before(oldest) {
			oldestKey = key
			oldest = entry.StoredAt
		}
	}
	if oldestKey != "" {
		delete(mc.data, oldestKey)
		logger.Debug("Cache entry evicted",
			zap.String("key", oldestKey),
			zap.Time("stored_at", oldest))
	}
}

// Purge drops expired entries and returns how many were removed
func (mc *MemoryCache[V]) Purge() int {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if mc.ttl <= 0 {
		return 0
	}
	now := mc.now()
	removed := 0
	for key, entry := range mc.data {
		if now.Sub(entry.StoredAt) > mc.ttl {
			delete(mc.data, key)
			removed++
		}
	}
	return removed
}
