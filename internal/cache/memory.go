// Package cache provides the TTL-bounded stores the aggregator reads
// through. Both backends hide expired entries on Get and drop them on
// Sweep; writers overwrite wholesale, last one wins.
package cache

import (
	"context"
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/ecomonitor/ecomonitor/internal/envdata"
)

// MemoryStore is a concurrency-safe in-memory implementation of the cache
// contract. Expired entries are treated as absent on read and reclaimed by
// Sweep.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]envdata.CacheEntry
	clock   clockwork.Clock
}

var _ envdata.CacheStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store. A nil clock falls back to the
// wall clock.
func NewMemoryStore(clock clockwork.Clock) *MemoryStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryStore{
		entries: make(map[string]envdata.CacheEntry),
		clock:   clock,
	}
}

// Get returns the live entry for key. Entries past their hard TTL are
// reported as missing and dropped on the spot.
func (s *MemoryStore) Get(_ context.Context, key string) (envdata.CacheEntry, bool, error) {
	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok {
		return envdata.CacheEntry{}, false, nil
	}

	if entry.Expired(s.clock.Now()) {
		s.mu.Lock()
		// Re-check after lock upgrade; a writer may have replaced it.
		if cur, ok := s.entries[key]; ok && cur.Expired(s.clock.Now()) {
			delete(s.entries, key)
		}
		s.mu.Unlock()
		return envdata.CacheEntry{}, false, nil
	}

	return entry, true, nil
}

// Put stores the entry, replacing any previous value for the key.
func (s *MemoryStore) Put(_ context.Context, entry envdata.CacheEntry) error {
	s.mu.Lock()
	s.entries[entry.Key] = entry
	s.mu.Unlock()
	return nil
}

// Sweep removes every expired entry and reports how many were dropped.
func (s *MemoryStore) Sweep(_ context.Context) (int, error) {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, entry := range s.entries {
		if entry.Expired(now) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed, nil
}

// Len reports the number of stored entries, expired ones included.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *MemoryStore) Close() error {
	return nil
}
