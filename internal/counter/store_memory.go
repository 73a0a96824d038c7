package counter

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"
)

const defaultMaxEntries = 200_000

// MemoryStore implements Store in process memory. It is not durable and not
// shared between instances; FallbackStore uses it when Redis is absent or
// failing.
type MemoryStore struct {
	mu         sync.Mutex
	entries    map[string]*memoryEntry
	maxEntries int
	now        func() time.Time
}

type memoryEntry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock replaces time.Now; tests use it to step past TTLs.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		s.now = now
	}
}

// WithMaxEntries bounds the number of keys. When the bound is hit, expired
// keys are swept; if none expired, the write is still accepted.
func WithMaxEntries(n int) MemoryOption {
	return func(s *MemoryStore) {
		if n > 0 {
			s.maxEntries = n
		}
	}
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		entries:    make(map[string]*memoryEntry),
		maxEntries: defaultMaxEntries,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) Increment(_ context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	e := s.live(key, now)
	if e == nil {
		s.put(key, "1", ttl, now)
		return 1, nil
	}
	n, err := strconv.ParseInt(e.value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("increment %q: value is not an integer", key)
	}
	n++
	e.value = strconv.FormatInt(n, 10)
	return n, nil
}

func (s *MemoryStore) GetAndSetBinding(_ context.Context, key, value string, ttl time.Duration) (Binding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var b Binding
	if e := s.live(key, now); e != nil {
		b = Binding{Changed: e.value != value, Previous: e.value}
	}
	s.put(key, value, ttl, now)
	return b, nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.live(key, s.now())
	if e == nil {
		return "", false, nil
	}
	return e.value, true, nil
}

func (s *MemoryStore) SetWithExpiry(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.put(key, value, ttl, s.now())
	return nil
}

// Len returns the number of stored keys, including expired ones not yet swept.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Sweep removes expired keys and returns how many were removed.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweep(s.now())
}

// StartCleanup runs Sweep every interval until ctx is cancelled.
func (s *MemoryStore) StartCleanup(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Sweep()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// live returns the entry for key, deleting it if expired.
// Must be called while holding s.mu.
func (s *MemoryStore) live(key string, now time.Time) *memoryEntry {
	e, ok := s.entries[key]
	if !ok {
		return nil
	}
	if !e.expiresAt.IsZero() && !now.Before(e.expiresAt) {
		delete(s.entries, key)
		return nil
	}
	return e
}

// put must be called while holding s.mu.
func (s *MemoryStore) put(key, value string, ttl time.Duration, now time.Time) {
	if _, exists := s.entries[key]; !exists && len(s.entries) >= s.maxEntries {
		s.sweep(now)
	}
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = now.Add(ttl)
	}
	s.entries[key] = &memoryEntry{value: value, expiresAt: expiresAt}
}

// sweep must be called while holding s.mu.
func (s *MemoryStore) sweep(now time.Time) int {
	removed := 0
	for k, e := range s.entries {
		if !e.expiresAt.IsZero() && !now.Before(e.expiresAt) {
			delete(s.entries, k)
			removed++
		}
	}
	return removed
}
