// Package reputation queries an AbuseIPDB-compatible IP reputation API.
//
// Lookups are bounded by a timeout, deduplicated per address, cached in the
// counter store and guarded by a circuit breaker. Every failure surfaces as
// sentinel.ErrUnavailable so the scorer simply omits the signal.
package reputation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/singleflight"

	"botgate/internal/counter"
	"botgate/internal/platform/config"
	"botgate/internal/platform/logger"
	"botgate/internal/platform/metrics"
	"botgate/pkg/platform/privacy"
	"botgate/pkg/platform/sentinel"
)

const (
	DefaultTimeout  = 1200 * time.Millisecond
	DefaultCacheTTL = 10 * time.Minute

	breakerName     = "reputation"
	breakerFailures = 5
	breakerTimeout  = 30 * time.Second
	maxAgeInDays    = "30"
)

// Verdict is the part of a reputation report the scorer uses.
type Verdict struct {
	AbuseScore int
	IsTor      bool
}

type checkResponse struct {
	Data struct {
		AbuseConfidenceScore int  `json:"abuseConfidenceScore"`
		IsTor                bool `json:"isTor"`
	} `json:"data"`
}

type Client struct {
	http     *resty.Client
	cb       *gobreaker.CircuitBreaker
	group    singleflight.Group
	store    counter.Store
	baseURL  string
	timeout  time.Duration
	cacheTTL time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

type Option func(*Client)

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

func WithCacheTTL(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.cacheTTL = d
		}
	}
}

// New builds a client for cfg. It returns nil when no URL is configured;
// a nil *Client is valid and reports every lookup as unavailable.
func New(cfg config.ReputationConfig, store counter.Store, opts ...Option) *Client {
	if cfg.URL == "" {
		return nil
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := &Client{
		store:    store,
		baseURL:  strings.TrimRight(cfg.URL, "/"),
		timeout:  timeout,
		cacheTTL: DefaultCacheTTL,
		logger:   logger.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.http = resty.New().
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetHeader("Key", cfg.APIKey)

	log := c.logger
	c.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Timeout:     breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state change",
				"event", "breaker_state",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
	return c
}

// Lookup returns the reputation of ip. The caller's cancellation is ignored;
// the lookup is bounded by its own timeout.
func (c *Client) Lookup(ctx context.Context, ip string) (Verdict, error) {
	if c == nil {
		return Verdict{}, sentinel.ErrUnavailable
	}
	if ip == "" {
		return Verdict{}, sentinel.ErrMalformed
	}
	if v, ok := c.cached(ctx, ip); ok {
		return v, nil
	}

	res, err, _ := c.group.Do(ip, func() (any, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()

		start := time.Now()
		v, err := c.fetch(lctx, ip)
		c.metrics.ObserveLookup(breakerName, float64(time.Since(start).Milliseconds()), err != nil)
		if err != nil {
			return Verdict{}, err
		}
		if c.store != nil {
			_ = c.store.SetWithExpiry(lctx, counter.KeyPrefixReputation+ip, encode(v), c.cacheTTL)
		}
		return v, nil
	})
	if err != nil {
		c.logger.DebugContext(ctx, "reputation lookup failed",
			"ip_prefix", privacy.AnonymizeIP(ip), "error", err)
		return Verdict{}, err
	}
	return res.(Verdict), nil
}

func (c *Client) fetch(ctx context.Context, ip string) (Verdict, error) {
	out, err := c.cb.Execute(func() (any, error) {
		resp, err := c.http.R().
			SetContext(ctx).
			SetQueryParam("ipAddress", ip).
			SetQueryParam("maxAgeInDays", maxAgeInDays).
			Get(c.baseURL + "/check")
		if err != nil {
			return nil, err
		}
		if resp.StatusCode() >= 500 {
			return nil, fmt.Errorf("reputation api status %d", resp.StatusCode())
		}
		// 4xx is the caller's problem (bad key, private address); it does not
		// count against the breaker.
		return resp, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return Verdict{}, fmt.Errorf("%w: reputation circuit open", sentinel.ErrUnavailable)
		}
		return Verdict{}, fmt.Errorf("%w: %v", sentinel.ErrUnavailable, err)
	}
	resp := out.(*resty.Response)
	if resp.StatusCode() != 200 {
		return Verdict{}, fmt.Errorf("%w: reputation api status %d", sentinel.ErrUnavailable, resp.StatusCode())
	}
	var body checkResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return Verdict{}, fmt.Errorf("%w: decode reputation response: %v", sentinel.ErrUnavailable, err)
	}
	return Verdict{AbuseScore: body.Data.AbuseConfidenceScore, IsTor: body.Data.IsTor}, nil
}

func (c *Client) cached(ctx context.Context, ip string) (Verdict, bool) {
	if c.store == nil {
		return Verdict{}, false
	}
	raw, ok, err := c.store.Get(ctx, counter.KeyPrefixReputation+ip)
	if err != nil || !ok {
		return Verdict{}, false
	}
	return decode(raw)
}

// Cache values are "<score>|<tor>", e.g. "87|1".
func encode(v Verdict) string {
	tor := "0"
	if v.IsTor {
		tor = "1"
	}
	return strconv.Itoa(v.AbuseScore) + "|" + tor
}

func decode(raw string) (Verdict, bool) {
	score, tor, ok := strings.Cut(raw, "|")
	if !ok {
		return Verdict{}, false
	}
	n, err := strconv.Atoi(score)
	if err != nil {
		return Verdict{}, false
	}
	return Verdict{AbuseScore: n, IsTor: tor == "1"}, true
}
