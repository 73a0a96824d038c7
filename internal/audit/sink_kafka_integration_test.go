//go:build integration

package audit_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kgo"

	"botgate/internal/audit"
	"botgate/pkg/testutil/containers"
)

type KafkaSinkSuite struct {
	suite.Suite
	redpanda *containers.RedpandaContainer
}

func TestKafkaSinkSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(KafkaSinkSuite))
}

func (s *KafkaSinkSuite) SetupSuite() {
	s.redpanda = containers.GetManager().GetRedpanda(s.T())
}

func (s *KafkaSinkSuite) consume(ctx context.Context, topic string) *kgo.Record {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(s.redpanda.Broker),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	s.Require().NoError(err)
	defer client.Close()

	for {
		fetches := client.PollFetches(ctx)
		s.Require().NoError(ctx.Err(), "no record consumed from %s", topic)
		var rec *kgo.Record
		fetches.EachRecord(func(r *kgo.Record) {
			if rec == nil {
				rec = r
			}
		})
		if rec != nil {
			return rec
		}
	}
}

// =============================================================================
// Decision records
// =============================================================================

// Justification: the sink must produce a decoded Record keyed by network
// prefix so consumers can partition per client network.
func (s *KafkaSinkSuite) TestWriteProducesKeyedRecord() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	const topic = "botgate.decisions.it"
	sink, err := audit.NewKafkaSink([]string{s.redpanda.Broker}, topic)
	s.Require().NoError(err)
	defer func() { s.NoError(sink.Close(context.Background())) }()

	s.Require().NoError(sink.EnsureTopic(ctx, 1, 1))
	s.Require().NoError(sink.EnsureTopic(ctx, 1, 1), "existing topic is not an error")

	want := audit.Record{
		ID:       "rec-1",
		Time:     time.Now().UTC().Truncate(time.Millisecond),
		Verdict:  "CHALLENGE",
		Score:    0.71,
		Reasons:  []string{"rate:ip"},
		IPPrefix: "203.0.113.0/24",
		Provider: "cloudflare",
		Path:     "/pricing",
	}
	s.Require().NoError(sink.Write(ctx, want))

	rec := s.consume(ctx, topic)
	s.Equal("203.0.113.0/24", string(rec.Key))

	var got audit.Record
	s.Require().NoError(json.Unmarshal(rec.Value, &got))
	s.Equal(want.ID, got.ID)
	s.Equal(want.Verdict, got.Verdict)
	s.Equal(want.Reasons, got.Reasons)
	s.True(want.Time.Equal(got.Time))
}

func (s *KafkaSinkSuite) TestPublisherFansOutToKafka() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	const topic = "botgate.decisions.publisher"
	sink, err := audit.NewKafkaSink([]string{s.redpanda.Broker}, topic)
	s.Require().NoError(err)
	defer func() { s.NoError(sink.Close(context.Background())) }()
	s.Require().NoError(sink.EnsureTopic(ctx, 1, 1))

	pub, err := audit.NewPublisher([]audit.Sink{sink})
	s.Require().NoError(err)
	runCtx, stop := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = pub.Run(runCtx)
	}()

	s.True(pub.Publish(ctx, audit.Record{ID: "rec-2", Verdict: "HARD_SAFE", IPPrefix: "198.51.100.0/24"}))

	rec := s.consume(ctx, topic)
	stop()
	<-done

	var got audit.Record
	s.Require().NoError(json.Unmarshal(rec.Value, &got))
	s.Equal("rec-2", got.ID)
	s.Equal("HARD_SAFE", got.Verdict)
}
