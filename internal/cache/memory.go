package cache

import (
	"context"
	"sync"
	"time"
)

// DefaultMaxEntries bounds a MemoryStore when no limit is given.
const DefaultMaxEntries = 128

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
	storedAt  time.Time
}

// MemoryStore is an in-process Store holding at most maxEntries keys.
// Expired entries are evicted on read and swept when the store is full;
// if it is still full the oldest entry is dropped.
type MemoryStore struct {
	mu         sync.RWMutex
	entries    map[string]memoryEntry
	defaultTTL time.Duration
	maxEntries int
	now        func() time.Time
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithMaxEntries sets the entry limit. Non-positive values keep the default.
func WithMaxEntries(n int) MemoryOption {
	return func(s *MemoryStore) {
		if n > 0 {
			s.maxEntries = n
		}
	}
}

// NewMemoryStore creates an in-process store. A non-positive defaultTTL
// keeps entries until deleted or evicted.
func NewMemoryStore(defaultTTL time.Duration, opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		entries:    make(map[string]memoryEntry),
		defaultTTL: defaultTTL,
		maxEntries: DefaultMaxEntries,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrCacheMiss
	}
	if !e.expiresAt.IsZero() && !s.now().Before(e.expiresAt) {
		s.mu.Lock()
		if cur, ok := s.entries[key]; ok && cur.expiresAt.Equal(e.expiresAt) {
			delete(s.entries, key)
		}
		s.mu.Unlock()
		return nil, ErrCacheMiss
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

// Set implements Store.
func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl == 0 {
		ttl = s.defaultTTL
	}
	now := s.now()
	e := memoryEntry{value: append([]byte(nil), value...), storedAt: now}
	if ttl > 0 {
		e.expiresAt = now.Add(ttl)
	}
	s.mu.Lock()
	if _, exists := s.entries[key]; !exists && len(s.entries) >= s.maxEntries {
		s.makeRoom(now)
	}
	s.entries[key] = e
	s.mu.Unlock()
	return nil
}

// makeRoom 清理过期条目，仍满时淘汰最早写入的一条。调用方持有写锁。
func (s *MemoryStore) makeRoom(now time.Time) {
	var (
		oldestKey string
		oldestAt  time.Time
	)
	for k, e := range s.entries {
		if !e.expiresAt.IsZero() && !now.Before(e.expiresAt) {
			delete(s.entries, k)
			continue
		}
		if oldestKey == "" || e.storedAt.Before(oldestAt) {
			oldestKey, oldestAt = k, e.storedAt
		}
	}
	if len(s.entries) >= s.maxEntries && oldestKey != "" {
		delete(s.entries, oldestKey)
	}
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	for _, k := range keys {
		delete(s.entries, k)
	}
	s.mu.Unlock()
	return nil
}

// Len returns the number of stored entries, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }
