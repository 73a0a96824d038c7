// Package honeypot counts hits on trap endpoints and keeps a temporary
// watchlist of autonomous systems that produced them.
//
// Trap endpoints are reachable only through hidden links, so any hit is a
// strong automation signal. A hit also escalates the whole ASN for a bounded
// window, which raises risk for co-tenants of shared networks.
package honeypot

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"botgate/internal/counter"
	"botgate/internal/platform/logger"
	"botgate/internal/platform/metrics"
	"botgate/pkg/platform/privacy"
)

const (
	DefaultHitTTL   = 6 * time.Hour
	DefaultWatchTTL = 2 * time.Hour
)

// ASNResolver maps an address to its autonomous system.
type ASNResolver interface {
	ResolveASN(ip string) (uint32, string, error)
}

type Tracker struct {
	store    counter.Store
	resolver ASNResolver
	hitTTL   time.Duration
	watchTTL time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

type Option func(*Tracker)

func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) {
		t.logger = l
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(t *Tracker) {
		t.metrics = m
	}
}

// WithResolver sets the ASN resolver used when a hit arrives without an ASN.
func WithResolver(r ASNResolver) Option {
	return func(t *Tracker) {
		t.resolver = r
	}
}

func WithTTLs(hit, watch time.Duration) Option {
	return func(t *Tracker) {
		if hit > 0 {
			t.hitTTL = hit
		}
		if watch > 0 {
			t.watchTTL = watch
		}
	}
}

func New(store counter.Store, opts ...Option) (*Tracker, error) {
	if store == nil {
		return nil, errors.New("counter store is required")
	}
	t := &Tracker{
		store:    store,
		hitTTL:   DefaultHitTTL,
		watchTTL: DefaultWatchTTL,
		logger:   logger.Discard(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// IncHoneypot records a trap hit for address and watches its ASN. asn 0
// means unknown; the resolver is consulted when configured.
func (t *Tracker) IncHoneypot(ctx context.Context, address string, asn uint32) (int64, error) {
	if address == "" {
		return 0, errors.New("address is required")
	}
	hits, err := t.store.Increment(ctx, counter.KeyPrefixHoneypot+address, t.hitTTL)
	if err != nil {
		return 0, err
	}
	t.metrics.IncHoneypotHits()

	if asn == 0 && t.resolver != nil {
		if resolved, _, rerr := t.resolver.ResolveASN(address); rerr == nil {
			asn = resolved
		}
	}
	if asn != 0 {
		t.WatchASN(ctx, asn, t.watchTTL)
	}
	t.logger.InfoContext(ctx, "honeypot hit",
		"event", "honeypot_hit",
		"ip_prefix", privacy.AnonymizeIP(address),
		"asn", asn,
		"hits", hits,
	)
	return hits, nil
}

// HoneypotHits returns the live hit count for address.
func (t *Tracker) HoneypotHits(ctx context.Context, address string) int64 {
	if address == "" {
		return 0
	}
	return counter.GetInt(ctx, t.store, counter.KeyPrefixHoneypot+address)
}

// WatchASN adds asn to the watchlist for ttl.
func (t *Tracker) WatchASN(ctx context.Context, asn uint32, ttl time.Duration) {
	if asn == 0 {
		return
	}
	if ttl <= 0 {
		ttl = t.watchTTL
	}
	if err := t.store.SetWithExpiry(ctx, asnKey(asn), "1", ttl); err != nil {
		t.logger.DebugContext(ctx, "asn watch not recorded", "asn", asn, "error", err)
	}
}

func (t *Tracker) IsASNWatched(ctx context.Context, asn uint32) bool {
	if asn == 0 {
		return false
	}
	_, ok, err := t.store.Get(ctx, asnKey(asn))
	return err == nil && ok
}

func asnKey(asn uint32) string {
	return counter.KeyPrefixASNWatch + strconv.FormatUint(uint64(asn), 10)
}
