package audit

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"botgate/internal/platform/logger"
	"botgate/internal/platform/metrics"
)

const (
	DefaultBufferSize   = 4096
	DefaultWriteTimeout = 2 * time.Second
)

// Publisher buffers records for a background worker.
type Publisher struct {
	inbox        chan Record
	sinks        []Sink
	writeTimeout time.Duration
	logger       *slog.Logger
	metrics      *metrics.Metrics
}

type Option func(*Publisher)

func WithLogger(l *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = l
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Publisher) {
		p.metrics = m
	}
}

func WithBufferSize(n int) Option {
	return func(p *Publisher) {
		if n > 0 {
			p.inbox = make(chan Record, n)
		}
	}
}

func WithWriteTimeout(d time.Duration) Option {
	return func(p *Publisher) {
		if d > 0 {
			p.writeTimeout = d
		}
	}
}

// NewPublisher creates a publisher that fans out to sinks.
func NewPublisher(sinks []Sink, opts ...Option) (*Publisher, error) {
	if len(sinks) == 0 {
		return nil, errors.New("at least one sink is required")
	}
	p := &Publisher{
		inbox:        make(chan Record, DefaultBufferSize),
		sinks:        sinks,
		writeTimeout: DefaultWriteTimeout,
		logger:       logger.Discard(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Publish enqueues rec without blocking. It reports whether the record was
// accepted; a full buffer drops it.
func (p *Publisher) Publish(_ context.Context, rec Record) bool {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Time.IsZero() {
		rec.Time = time.Now().UTC()
	}
	select {
	case p.inbox <- rec:
		return true
	default:
		p.metrics.IncAuditDropped()
		return false
	}
}

// Run drains the buffer into the sinks until ctx is cancelled, then writes
// whatever is still buffered.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case rec := <-p.inbox:
			p.write(ctx, rec)
		case <-ctx.Done():
			p.drain()
			return nil
		}
	}
}

func (p *Publisher) drain() {
	ctx := context.Background()
	for {
		select {
		case rec := <-p.inbox:
			p.write(ctx, rec)
		default:
			return
		}
	}
}

func (p *Publisher) write(ctx context.Context, rec Record) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.writeTimeout)
	defer cancel()
	for _, sink := range p.sinks {
		err := sink.Write(wctx, rec)
		p.metrics.IncAuditWritten(sink.Name(), err == nil)
		if err != nil {
			p.logger.Debug("audit sink write failed", "sink", sink.Name(), "error", err)
		}
	}
}
