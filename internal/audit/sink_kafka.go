package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

// KafkaSink produces records as JSON to a topic, keyed by network prefix so
// one client's decisions stay ordered within a partition.
type KafkaSink struct {
	client *kgo.Client
	topic  string
}

// NewKafkaSink connects to brokers. The connection is lazy; use EnsureTopic
// to fail fast on an unreachable cluster.
func NewKafkaSink(brokers []string, topic string) (*KafkaSink, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if topic == "" {
		return nil, errors.New("kafka topic is required")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.ProducerLinger(50*time.Millisecond),
		kgo.RecordRetries(3),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &KafkaSink{client: client, topic: topic}, nil
}

func (s *KafkaSink) Name() string { return "kafka" }

// EnsureTopic creates the topic if it does not exist.
func (s *KafkaSink) EnsureTopic(ctx context.Context, partitions int32, replicas int16) error {
	adm := kadm.NewClient(s.client)
	resps, err := adm.CreateTopics(ctx, partitions, replicas, nil, s.topic)
	if err != nil {
		return fmt.Errorf("create topic %s: %w", s.topic, err)
	}
	for _, r := range resps {
		if r.Err != nil && !errors.Is(r.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("create topic %s: %w", r.Topic, r.Err)
		}
	}
	return nil
}

func (s *KafkaSink) Write(ctx context.Context, rec Record) error {
	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	res := s.client.ProduceSync(ctx, &kgo.Record{Key: []byte(rec.IPPrefix), Value: value})
	return res.FirstErr()
}

// Close flushes buffered records and closes the client.
func (s *KafkaSink) Close(ctx context.Context) error {
	err := s.client.Flush(ctx)
	s.client.Close()
	return err
}
