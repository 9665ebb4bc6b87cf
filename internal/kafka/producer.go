package kafka

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/brokerbench/loadgen/internal/stamp"
)

// Producer generates the synthetic, monotonically-numbered traffic
// the tracker exists to validate: one sequence counter per topic,
// starting at 0 with no gaps, per the producer convention of spec §2.
//
// There is no direct teacher analogue for a franz-go producer in the
// retrieved example pack (the teacher is consumer-side only); this
// file extrapolates from the same kgo client idiom ws/kafka/consumer.go
// uses, which is the one place this implementation goes beyond a
// direct teacher transplant (see DESIGN.md).
type Producer struct {
	client *kgo.Client
	logger zerolog.Logger

	seqMu sync.Mutex
	next  map[string]int64 // topic -> next sequence number to stamp
}

// ProducerConfig configures a Producer.
type ProducerConfig struct {
	Brokers []string
	Logger  zerolog.Logger
}

// NewProducer creates a franz-go producer client for stamping and
// publishing synthetic load-test traffic.
func NewProducer(cfg ProducerConfig) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one broker is required")
	}

	client, err := kgo.NewClient(kgo.SeedBrokers(cfg.Brokers...))
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}

	return &Producer{
		client: client,
		logger: cfg.Logger,
		next:   make(map[string]int64),
	}, nil
}

// Produce stamps the next sequence number for topic and publishes a
// record asynchronously. targetMax, when >= 0, is stamped on every
// record so the consumer side can pick up the advisory ceiling even if
// it joins mid-run (spec §9 O2).
func (p *Producer) Produce(ctx context.Context, topic string, payload []byte, targetMax int64) {
	p.seqMu.Lock()
	n := p.next[topic]
	p.next[topic] = n + 1
	p.seqMu.Unlock()

	rec := &kgo.Record{Topic: topic, Value: payload}
	stamp.Apply(rec, n, targetMax)

	p.client.Produce(ctx, rec, func(_ *kgo.Record, err error) {
		if err != nil {
			p.logger.Error().Err(err).Str("topic", topic).Int64("sequence_number", n).Msg("produce failed")
		}
	})
}

// Close flushes and closes the underlying client.
func (p *Producer) Close() {
	p.client.Close()
}
