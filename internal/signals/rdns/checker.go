// Package rdns matches a client's reverse-DNS name against known crawler
// domains. A matching name counts only when it resolves forward to the same
// address. Lookups are best effort: bounded by a short timeout and cached.
package rdns

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"botgate/internal/counter"
	"botgate/internal/platform/logger"
	"botgate/internal/platform/metrics"
	"botgate/pkg/platform/privacy"
	"botgate/pkg/platform/sentinel"
	bgstrings "botgate/pkg/platform/strings"
)

const (
	DefaultTimeout  = 400 * time.Millisecond
	DefaultCacheTTL = time.Hour

	noName = "-"
)

// DefaultCrawlerDomains are the reverse-DNS suffixes published by major
// search engine crawlers.
var DefaultCrawlerDomains = []string{
	"googlebot.com",
	"google.com",
	"googleusercontent.com",
	"search.msn.com",
	"crawl.yahoo.net",
	"yandex.com",
	"yandex.net",
	"yandex.ru",
	"crawl.baidu.com",
	"applebot.apple.com",
	"crawl.amazonbot.amazon",
	"petalsearch.com",
}

// Resolver is the subset of *net.Resolver used here.
type Resolver interface {
	LookupAddr(ctx context.Context, addr string) ([]string, error)
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

type Checker struct {
	resolver Resolver
	store    counter.Store
	domains  []string
	timeout  time.Duration
	cacheTTL time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

type Option func(*Checker)

func WithResolver(r Resolver) Option {
	return func(c *Checker) {
		c.resolver = r
	}
}

// WithDomains replaces the crawler domain list. An empty list keeps the defaults.
func WithDomains(domains []string) Option {
	return func(c *Checker) {
		if d := bgstrings.DedupeAndTrimLower(domains); len(d) > 0 {
			c.domains = d
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Checker) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Checker) {
		c.logger = l
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Checker) {
		c.metrics = m
	}
}

// New creates a Checker. store may be nil, which disables caching.
func New(store counter.Store, opts ...Option) *Checker {
	c := &Checker{
		resolver: net.DefaultResolver,
		store:    store,
		domains:  DefaultCrawlerDomains,
		timeout:  DefaultTimeout,
		cacheTTL: DefaultCacheTTL,
		logger:   logger.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// IsCrawler reports whether ip reverse-resolves into a crawler domain whose
// name resolves back to ip, and returns that name. Lookup failures are
// ErrUnavailable.
func (c *Checker) IsCrawler(ctx context.Context, ip string) (string, bool, error) {
	if ip == "" {
		return "", false, sentinel.ErrMalformed
	}
	name, err := c.lookup(ctx, ip)
	if err != nil {
		return "", false, err
	}
	if name == noName {
		return "", false, nil
	}
	return name, c.matches(name), nil
}

func (c *Checker) matches(name string) bool {
	for _, d := range c.domains {
		if bgstrings.HasDomainSuffix(name, d) {
			return true
		}
	}
	return false
}

func (c *Checker) lookup(ctx context.Context, ip string) (string, error) {
	key := counter.KeyPrefixReverseDNS + ip
	if c.store != nil {
		if v, ok, err := c.store.Get(ctx, key); err == nil && ok {
			return v, nil
		}
	}

	lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()

	start := time.Now()
	names, err := c.resolver.LookupAddr(lctx, ip)
	failed := err != nil && !isNotFound(err)
	c.metrics.ObserveLookup("rdns", float64(time.Since(start).Milliseconds()), failed)
	if failed {
		c.logger.DebugContext(ctx, "reverse dns lookup failed",
			"ip_prefix", privacy.AnonymizeIP(ip), "error", err)
		return "", sentinel.ErrUnavailable
	}

	name := noName
	if len(names) > 0 {
		name = names[0]
	}
	for _, n := range names {
		if c.matches(n) {
			name = n
			break
		}
	}
	if c.matches(name) {
		confirmed, err := c.confirm(lctx, name, ip)
		if err != nil {
			c.logger.DebugContext(ctx, "forward dns lookup failed",
				"ip_prefix", privacy.AnonymizeIP(ip), "error", err)
			return "", sentinel.ErrUnavailable
		}
		if !confirmed {
			c.logger.DebugContext(ctx, "crawler name not forward-confirmed",
				"ip_prefix", privacy.AnonymizeIP(ip), "host", name)
			name = noName
		}
	}
	if c.store != nil {
		_ = c.store.SetWithExpiry(lctx, key, name, c.cacheTTL)
	}
	return name, nil
}

// confirm resolves name and reports whether ip is among its addresses. A name
// that does not resolve is unconfirmed, not an error.
func (c *Checker) confirm(ctx context.Context, name, ip string) (bool, error) {
	want := net.ParseIP(ip)
	if want == nil {
		return false, nil
	}
	start := time.Now()
	addrs, err := c.resolver.LookupIPAddr(ctx, name)
	failed := err != nil && !isNotFound(err)
	c.metrics.ObserveLookup("rdns_forward", float64(time.Since(start).Milliseconds()), failed)
	if failed {
		return false, err
	}
	for _, a := range addrs {
		if a.IP.Equal(want) {
			return true, nil
		}
	}
	return false, nil
}

func isNotFound(err error) bool {
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr) && dnsErr.IsNotFound
}
