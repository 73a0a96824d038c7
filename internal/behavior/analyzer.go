// Package behavior tracks per-client request rates and inter-arrival timing.
package behavior

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"botgate/internal/counter"
	"botgate/internal/platform/logger"
	"botgate/pkg/platform/privacy"
)

const (
	DefaultWindow         = 60 * time.Second
	DefaultPerAddress     = 60
	DefaultPerFingerprint = 40
	DefaultPerASN         = 600
	DefaultBindingTTL     = 15 * time.Minute

	userAgentKeyRunes = 32
)

// Input identifies the client behind one request.
type Input struct {
	Address     string
	Fingerprint string
	UserAgent   string
	ASN         uint32
}

// TrackingKey is the stable identity used for the fingerprint counter: the
// client fingerprint, or address plus a truncated user agent when absent.
func (in Input) TrackingKey() string {
	if in.Fingerprint != "" {
		return in.Fingerprint
	}
	return in.Address + "|" + privacy.Truncate(in.UserAgent, userAgentKeyRunes)
}

// Limits are the per-window thresholds. A count above the limit is high.
type Limits struct {
	Window         time.Duration
	PerAddress     int64
	PerFingerprint int64
	PerASN         int64
}

func DefaultLimits() Limits {
	return Limits{
		Window:         DefaultWindow,
		PerAddress:     DefaultPerAddress,
		PerFingerprint: DefaultPerFingerprint,
		PerASN:         DefaultPerASN,
	}
}

// Result of one BumpAndPenalize call. Count is the highest count that
// exceeded its limit, or the address count when none did.
type Result struct {
	RateHigh bool
	Count    int64
	Uniform  bool
	Fast     bool
	Timing   Timing
}

// Analyzer combines the shared counters with the in-process timing history.
type Analyzer struct {
	store        counter.Store
	history      *History
	fastFloor    time.Duration
	uniformFloor float64
	bindingTTL   time.Duration
	now          func() time.Time
	logger       *slog.Logger
}

// Option configures an Analyzer.
type Option func(*Analyzer)

func WithLogger(l *slog.Logger) Option {
	return func(a *Analyzer) {
		a.logger = l
	}
}

func WithHistory(h *History) Option {
	return func(a *Analyzer) {
		if h != nil {
			a.history = h
		}
	}
}

// WithFloors overrides the fast-mean and uniform-CV floors.
func WithFloors(fast time.Duration, uniform float64) Option {
	return func(a *Analyzer) {
		if fast > 0 {
			a.fastFloor = fast
		}
		if uniform > 0 {
			a.uniformFloor = uniform
		}
	}
}

func WithBindingTTL(d time.Duration) Option {
	return func(a *Analyzer) {
		if d > 0 {
			a.bindingTTL = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(a *Analyzer) {
		a.now = now
	}
}

func New(store counter.Store, opts ...Option) (*Analyzer, error) {
	if store == nil {
		return nil, errors.New("counter store is required")
	}
	a := &Analyzer{
		store:        store,
		fastFloor:    DefaultFastFloor,
		uniformFloor: DefaultUniformFloor,
		bindingTTL:   DefaultBindingTTL,
		now:          time.Now,
		logger:       logger.Discard(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.history == nil {
		a.history = NewHistory(0, 0, 0)
	}
	return a, nil
}

// History exposes the timing history so main can run its cleanup loop.
func (a *Analyzer) History() *History {
	return a.history
}

// BumpAndPenalize counts this request against the address, fingerprint and
// ASN windows and records its arrival time. A failed increment counts as 0.
func (a *Analyzer) BumpAndPenalize(ctx context.Context, in Input, limits Limits) Result {
	if limits.Window <= 0 {
		limits.Window = DefaultWindow
	}
	trackingKey := in.TrackingKey()

	var res Result
	addrCount := a.bump(ctx, counter.KeyPrefixRateIP+in.Address, limits.Window)
	res.Count = addrCount
	check := func(n, limit int64) {
		if limit > 0 && n > limit {
			if !res.RateHigh || n > res.Count {
				res.Count = n
			}
			res.RateHigh = true
		}
	}
	check(addrCount, limits.PerAddress)
	check(a.bump(ctx, counter.KeyPrefixRateFP+trackingKey, limits.Window), limits.PerFingerprint)
	if in.ASN != 0 {
		asnKey := counter.KeyPrefixRateASN + strconv.FormatUint(uint64(in.ASN), 10)
		check(a.bump(ctx, asnKey, limits.Window), limits.PerASN)
	}

	stamps := a.history.Observe(in.Address+"|"+trackingKey, a.now())
	res.Timing = AnalyzeTimestamps(stamps, a.fastFloor, a.uniformFloor)
	res.Fast = res.Timing.Fast
	res.Uniform = res.Timing.Uniform
	return res
}

// CheckBinding records the network prefix a fingerprint was seen under and
// reports whether it differs from the previous one inside the binding TTL.
func (a *Analyzer) CheckBinding(ctx context.Context, fingerprint, networkPrefix string) bool {
	if fingerprint == "" || networkPrefix == "" {
		return false
	}
	b, err := a.store.GetAndSetBinding(ctx, counter.KeyPrefixBindingFP+fingerprint, networkPrefix, a.bindingTTL)
	if err != nil {
		a.logger.DebugContext(ctx, "binding check failed", "error", err)
		return false
	}
	return b.Changed
}

func (a *Analyzer) bump(ctx context.Context, key string, window time.Duration) int64 {
	n, err := a.store.Increment(ctx, key, window)
	if err != nil {
		a.logger.DebugContext(ctx, "rate counter increment failed", "error", err)
		return 0
	}
	return n
}
