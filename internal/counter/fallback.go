package counter

import (
	"context"
	"log/slog"
	"time"

	"botgate/internal/platform/logger"
	"botgate/internal/platform/metrics"
)

const (
	defaultRemoteTimeout = 300 * time.Millisecond
	defaultProbeInterval = 5 * time.Second
)

// FallbackStore is the Store handed to every component. It tries the remote
// store under a short deadline and serves the operation from the local
// MemoryStore on any error, timeout, or when no remote is configured.
// Its methods never return an error: a missed remote counter degrades
// scoring precision but must not fail the request.
type FallbackStore struct {
	remote  Store
	local   *MemoryStore
	breaker *CircuitBreaker
	timeout time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// FallbackOption configures a FallbackStore.
type FallbackOption func(*FallbackStore)

func WithLogger(l *slog.Logger) FallbackOption {
	return func(f *FallbackStore) {
		f.logger = l
	}
}

func WithMetrics(m *metrics.Metrics) FallbackOption {
	return func(f *FallbackStore) {
		f.metrics = m
	}
}

// WithRemoteTimeout bounds each remote call.
func WithRemoteTimeout(d time.Duration) FallbackOption {
	return func(f *FallbackStore) {
		if d > 0 {
			f.timeout = d
		}
	}
}

// WithLocal replaces the in-process store (tests inject one with a fake clock).
func WithLocal(local *MemoryStore) FallbackOption {
	return func(f *FallbackStore) {
		if local != nil {
			f.local = local
		}
	}
}

// NewFallbackStore wraps remote, which may be nil (memory-only mode).
func NewFallbackStore(remote Store, opts ...FallbackOption) *FallbackStore {
	f := &FallbackStore{
		remote:  remote,
		local:   NewMemoryStore(),
		breaker: newCircuitBreaker(defaultProbeInterval),
		timeout: defaultRemoteTimeout,
		logger:  logger.Discard(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Local exposes the in-process store so main can run its cleanup loop.
func (f *FallbackStore) Local() *MemoryStore {
	return f.local
}

// Degraded reports whether remote calls are currently being skipped.
func (f *FallbackStore) Degraded() bool {
	return f.remote == nil || f.breaker.IsOpen()
}

func (f *FallbackStore) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if f.useRemote() {
		rctx, cancel := f.remoteContext(ctx)
		n, err := f.remote.Increment(rctx, key, ttl)
		cancel()
		if err == nil {
			f.recordSuccess()
			return n, nil
		}
		f.recordFailure(ctx, "increment", err)
	}
	n, err := f.local.Increment(ctx, key, ttl)
	if err != nil {
		f.logger.DebugContext(ctx, "local increment failed", "error", err)
		return 0, nil
	}
	return n, nil
}

func (f *FallbackStore) GetAndSetBinding(ctx context.Context, key, value string, ttl time.Duration) (Binding, error) {
	if f.useRemote() {
		rctx, cancel := f.remoteContext(ctx)
		b, err := f.remote.GetAndSetBinding(rctx, key, value, ttl)
		cancel()
		if err == nil {
			f.recordSuccess()
			return b, nil
		}
		f.recordFailure(ctx, "get_and_set_binding", err)
	}
	b, _ := f.local.GetAndSetBinding(ctx, key, value, ttl)
	return b, nil
}

func (f *FallbackStore) Get(ctx context.Context, key string) (string, bool, error) {
	if f.useRemote() {
		rctx, cancel := f.remoteContext(ctx)
		v, ok, err := f.remote.Get(rctx, key)
		cancel()
		if err == nil {
			f.recordSuccess()
			return v, ok, nil
		}
		f.recordFailure(ctx, "get", err)
	}
	v, ok, _ := f.local.Get(ctx, key)
	return v, ok, nil
}

func (f *FallbackStore) SetWithExpiry(ctx context.Context, key, value string, ttl time.Duration) error {
	if f.useRemote() {
		rctx, cancel := f.remoteContext(ctx)
		err := f.remote.SetWithExpiry(rctx, key, value, ttl)
		cancel()
		if err == nil {
			f.recordSuccess()
			return nil
		}
		f.recordFailure(ctx, "set_with_expiry", err)
	}
	_ = f.local.SetWithExpiry(ctx, key, value, ttl)
	return nil
}

func (f *FallbackStore) useRemote() bool {
	return f.remote != nil && f.breaker.Allow()
}

// remoteContext detaches from the caller's cancellation: the only bound on a
// remote call is its own timeout.
func (f *FallbackStore) remoteContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), f.timeout)
}

func (f *FallbackStore) recordSuccess() {
	wasOpen := f.breaker.IsOpen()
	if f.breaker.RecordSuccess() && wasOpen {
		f.logger.Info("counter store recovered", "event", "counter_breaker_closed")
		f.metrics.SetBreakerOpen(false)
	}
}

func (f *FallbackStore) recordFailure(ctx context.Context, op string, err error) {
	f.metrics.IncCounterFallback(op)
	wasOpen := f.breaker.IsOpen()
	if f.breaker.RecordFailure() && !wasOpen {
		f.logger.WarnContext(ctx, "counter store degraded, using in-process fallback",
			"event", "counter_breaker_opened", "op", op, "error", err)
		f.metrics.SetBreakerOpen(true)
		return
	}
	f.logger.DebugContext(ctx, "counter store call failed", "op", op, "error", err)
}
