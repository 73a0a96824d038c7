package blocklist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"botgate/internal/platform/logger"
)

// DefaultRefreshInterval matches the postgres refresh default in config.
const DefaultRefreshInterval = time.Minute

// Store lists the entries active at a point in time.
type Store interface {
	ListActive(ctx context.Context, now time.Time) ([]*Entry, error)
}

// Source serves the last successfully loaded blocklist snapshot. A failed
// refresh keeps the previous snapshot.
type Source struct {
	store  Store
	lists  atomic.Pointer[Lists]
	now    func() time.Time
	logger *slog.Logger

	prepare  func(ctx context.Context) error
	prepared atomic.Bool

	mu        sync.Mutex
	listeners []func(Lists)
}

type Option func(*Source)

func WithLogger(l *slog.Logger) Option {
	return func(s *Source) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Source) {
		if now != nil {
			s.now = now
		}
	}
}

// WithPrepare runs fn before refreshing until it succeeds once, so a store
// that is unreachable at startup (schema not yet created) is retried on the
// refresh ticker instead of failing the process.
func WithPrepare(fn func(ctx context.Context) error) Option {
	return func(s *Source) {
		s.prepare = fn
	}
}

func NewSource(store Store, opts ...Option) (*Source, error) {
	if store == nil {
		return nil, errors.New("blocklist store is required")
	}
	s := &Source{
		store:  store,
		now:    time.Now,
		logger: logger.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.lists.Store(&Lists{})
	return s, nil
}

// Lists returns the current snapshot. Safe on a nil Source.
func (s *Source) Lists() Lists {
	if s == nil {
		return Lists{}
	}
	return *s.lists.Load()
}

// OnChange registers fn to run after every successful refresh.
func (s *Source) OnChange(fn func(Lists)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// Refresh reloads the snapshot from the store.
func (s *Source) Refresh(ctx context.Context) error {
	if s.prepare != nil && !s.prepared.Load() {
		if err := s.prepare(ctx); err != nil {
			return fmt.Errorf("prepare blocklist store: %w", err)
		}
		s.prepared.Store(true)
	}
	now := s.now()
	entries, err := s.store.ListActive(ctx, now)
	if err != nil {
		return fmt.Errorf("refresh blocklist: %w", err)
	}
	lists := ToLists(entries, now)
	s.lists.Store(&lists)

	s.mu.Lock()
	listeners := append([]func(Lists){}, s.listeners...)
	s.mu.Unlock()
	for _, fn := range listeners {
		fn(lists)
	}
	s.logger.Debug("blocklist refreshed",
		"event", "blocklist_refreshed",
		"user_agents", len(lists.UserAgents),
		"cidrs", len(lists.CIDRs),
		"asns", len(lists.ASNs),
	)
	return nil
}

// Run refreshes immediately and then every interval until ctx is done.
func (s *Source) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	if err := s.Refresh(ctx); err != nil {
		s.logger.Warn("blocklist refresh failed", "event", "blocklist_refresh_failed", "error", err)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.Refresh(ctx); err != nil {
				s.logger.Warn("blocklist refresh failed", "event", "blocklist_refresh_failed", "error", err)
			}
		}
	}
}
