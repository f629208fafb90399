package service

import (
	"context"
	"sync"
	"time"
)

// SwitchCacheStore caches switch evaluations so the hot payment paths do not
// hit the database on every request.
type SwitchCacheStore interface {
	Get(ctx context.Context, key string) (enabled bool, found bool, err error)
	Set(ctx context.Context, key string, enabled bool, ttl time.Duration) error
	Invalidate(ctx context.Context, key string) error
	InvalidateAll(ctx context.Context) error
}

type switchCacheEntry struct {
	enabled   bool
	expiresAt time.Time
}

type InMemorySwitchCacheStore struct {
	mu      sync.RWMutex
	entries map[string]switchCacheEntry
}

func NewInMemorySwitchCacheStore() *InMemorySwitchCacheStore {
	return &InMemorySwitchCacheStore{entries: map[string]switchCacheEntry{}}
}

func (s *InMemorySwitchCacheStore) Get(_ context.Context, key string) (bool, bool, error) {
	now := time.Now().UTC()
	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return false, false, nil
	}
	if now.After(entry.expiresAt) {
		s.mu.Lock()
		delete(s.entries, key)
		s.mu.Unlock()
		return false, false, nil
	}
	return entry.enabled, true, nil
}

func (s *InMemorySwitchCacheStore) Set(_ context.Context, key string, enabled bool, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	s.mu.Lock()
	s.entries[key] = switchCacheEntry{enabled: enabled, expiresAt: time.Now().UTC().Add(ttl)}
	s.mu.Unlock()
	return nil
}

func (s *InMemorySwitchCacheStore) Invalidate(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

func (s *InMemorySwitchCacheStore) InvalidateAll(_ context.Context) error {
	s.mu.Lock()
	s.entries = map[string]switchCacheEntry{}
	s.mu.Unlock()
	return nil
}
