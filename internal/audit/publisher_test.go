package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"botgate/internal/platform/logger"
	"botgate/internal/platform/metrics"
)

type recordingSink struct {
	mu      sync.Mutex
	records []Record
	err     error
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Write(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return s.err
}

func (s *recordingSink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

type PublisherSuite struct {
	suite.Suite
	metrics *metrics.Metrics
}

func TestPublisherSuite(t *testing.T) {
	suite.Run(t, new(PublisherSuite))
}

func (s *PublisherSuite) SetupTest() {
	s.metrics = metrics.NewWithRegistry(prometheus.NewRegistry())
}

func (s *PublisherSuite) TestNewPublisherRequiresSink() {
	_, err := NewPublisher(nil)
	s.Error(err)
}

func (s *PublisherSuite) TestPublishFillsIdentity() {
	sink := &recordingSink{}
	p, err := NewPublisher([]Sink{sink}, WithBufferSize(1))
	s.Require().NoError(err)

	s.True(p.Publish(context.Background(), Record{Verdict: "PASS"}))
	rec := <-p.inbox
	s.NotEmpty(rec.ID)
	s.False(rec.Time.IsZero())
}

// Justification: a full buffer must never block the request path.
func (s *PublisherSuite) TestPublishDropsWhenFull() {
	sink := &recordingSink{}
	p, err := NewPublisher([]Sink{sink}, WithBufferSize(2), WithMetrics(s.metrics))
	s.Require().NoError(err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range 5 {
			p.Publish(context.Background(), Record{Verdict: "PASS"})
		}
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		s.FailNow("publish blocked")
	}
	s.Equal(float64(3), testutil.ToFloat64(s.metrics.AuditRecordsDropped))
}

func (s *PublisherSuite) TestRunDeliversAndDrainsOnShutdown() {
	good := &recordingSink{}
	bad := &recordingSink{err: errors.New("sink down")}
	p, err := NewPublisher([]Sink{bad, good}, WithMetrics(s.metrics))
	s.Require().NoError(err)

	for range 3 {
		p.Publish(context.Background(), Record{Verdict: "CHALLENGE"})
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- p.Run(ctx) }()

	s.Eventually(func() bool { return good.Len() == 3 }, time.Second, 5*time.Millisecond)
	p.Publish(context.Background(), Record{Verdict: "PASS"})
	cancel()
	s.NoError(<-errCh)

	s.Equal(4, good.Len(), "a failing sink must not stop delivery to the others")
	s.Equal(4, bad.Len())
	s.Equal(float64(4), testutil.ToFloat64(s.metrics.AuditRecordsWritten.WithLabelValues("recording", "error")))
}

func (s *PublisherSuite) TestLogSinkWritesStructuredLine() {
	var buf bytes.Buffer
	sink := NewLogSink(logger.NewWithWriter(&buf, "info"))

	err := sink.Write(context.Background(), Record{
		ID:       "rec-1",
		Verdict:  "HARD_SAFE",
		Score:    0.9,
		Reasons:  []string{"ua:block"},
		IPPrefix: "203.0.113.0/24",
	})
	s.Require().NoError(err)

	var line map[string]any
	s.Require().NoError(json.Unmarshal(buf.Bytes(), &line))
	s.Equal("gate_decision", line["event"])
	s.Equal("HARD_SAFE", line["verdict"])
	s.Equal("203.0.113.0/24", line["ip_prefix"])
	s.Equal([]any{"ua:block"}, line["reasons"])
}
