package behavior

import (
	"context"
	"sync"
	"time"
)

const (
	DefaultHistoryDepth = 10
	DefaultHistoryKeys  = 50_000
	DefaultHistoryStale = 10 * time.Minute
)

// History keeps the last few request timestamps per tracking key in process
// memory. It is bounded in depth and key count; it is not shared between
// instances.
type History struct {
	mu      sync.Mutex
	entries map[string]*series
	depth   int
	maxKeys int
	stale   time.Duration
}

type series struct {
	stamps   []time.Time
	lastSeen time.Time
}

// NewHistory creates a History. Zero arguments select the defaults.
func NewHistory(depth, maxKeys int, stale time.Duration) *History {
	if depth <= 0 {
		depth = DefaultHistoryDepth
	}
	if maxKeys <= 0 {
		maxKeys = DefaultHistoryKeys
	}
	if stale <= 0 {
		stale = DefaultHistoryStale
	}
	return &History{
		entries: make(map[string]*series),
		depth:   depth,
		maxKeys: maxKeys,
		stale:   stale,
	}
}

// Observe appends now to key and returns a copy of the retained timestamps,
// oldest first.
func (h *History) Observe(key string, now time.Time) []time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.entries[key]
	if ok && now.Sub(s.lastSeen) >= h.stale {
		s.stamps = s.stamps[:0]
	}
	if !ok {
		if len(h.entries) >= h.maxKeys {
			h.evict(now)
		}
		s = &series{stamps: make([]time.Time, 0, h.depth)}
		h.entries[key] = s
	}
	if len(s.stamps) == h.depth {
		copy(s.stamps, s.stamps[1:])
		s.stamps = s.stamps[:h.depth-1]
	}
	s.stamps = append(s.stamps, now)
	s.lastSeen = now

	out := make([]time.Time, len(s.stamps))
	copy(out, s.stamps)
	return out
}

func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

// Sweep drops keys not seen within the stale window.
func (h *History) Sweep(now time.Time) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sweep(now)
}

// StartCleanup runs Sweep every interval until ctx is cancelled.
func (h *History) StartCleanup(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			h.Sweep(now)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (h *History) sweep(now time.Time) int {
	removed := 0
	for k, s := range h.entries {
		if now.Sub(s.lastSeen) >= h.stale {
			delete(h.entries, k)
			removed++
		}
	}
	return removed
}

// evict makes room for one key: stale keys first, otherwise the least
// recently seen key. Must be called while holding h.mu.
func (h *History) evict(now time.Time) {
	if h.sweep(now) > 0 {
		return
	}
	var oldestKey string
	var oldest time.Time
	for k, s := range h.entries {
		if oldestKey == "" || s.lastSeen.Before(oldest) {
			oldestKey, oldest = k, s.lastSeen
		}
	}
	delete(h.entries, oldestKey)
}
