// Package kafka wraps a franz-go client into the ConsumerAdapter of
// spec §4.4: the only point where broker-specific APIs touch the
// tracker core. Grounded directly on ws/kafka/consumer.go and
// ws/internal/shared/kafka/consumer.go's PollFetches/EachRecord loop.
package kafka

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/brokerbench/loadgen/internal/stamp"
	"github.com/brokerbench/loadgen/internal/tracker"
)

// ResourceGuard paces record dispatch. Implemented by
// internal/resource.Guard; an interface here so the consumer doesn't
// import the concrete resource package, matching the teacher's
// ws/internal/shared/kafka/consumer.go ResourceGuard interface seam.
type ResourceGuard interface {
	AllowConsume(ctx context.Context) bool
}

// Consumer wraps a franz-go client, feeding every record's
// sequence_number header to the topic's tracker via the registry.
type Consumer struct {
	client   *kgo.Client
	logger   zerolog.Logger
	registry *tracker.Registry
	guard    ResourceGuard

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	messagesTracked   uint64
	messagesUntracked uint64
	mu                sync.Mutex
}

// ConsumerConfig configures a Consumer.
type ConsumerConfig struct {
	Brokers       []string
	ConsumerGroup string
	Topics        []string
	Logger        zerolog.Logger
	Registry      *tracker.Registry
	ResourceGuard ResourceGuard
}

// NewConsumer creates a Kafka consumer bound to a TrackerRegistry.
func NewConsumer(cfg ConsumerConfig) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one broker is required")
	}
	if cfg.ConsumerGroup == "" {
		return nil, fmt.Errorf("consumer group is required")
	}
	if len(cfg.Topics) == 0 {
		return nil, fmt.Errorf("at least one topic is required")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}

	ctx, cancel := context.WithCancel(context.Background())

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.ConsumerGroup),
		kgo.ConsumeTopics(cfg.Topics...),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtEnd()),
		kgo.OnPartitionsAssigned(func(_ context.Context, _ *kgo.Client, assigned map[string][]int32) {
			cfg.Logger.Info().Interface("partitions", assigned).Msg("partitions assigned")
		}),
		kgo.OnPartitionsRevoked(func(_ context.Context, _ *kgo.Client, revoked map[string][]int32) {
			cfg.Logger.Info().Interface("partitions", revoked).Msg("partitions revoked")
		}),
	)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}

	return &Consumer{
		client:   client,
		logger:   cfg.Logger,
		registry: cfg.Registry,
		guard:    cfg.ResourceGuard,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Start begins the consume loop in a background goroutine. All record
// processing — and therefore all tracker mutation for the topics this
// client owns — happens on that single goroutine, satisfying spec
// §5's single-threaded-core requirement.
func (c *Consumer) Start() {
	c.logger.Info().Msg("starting kafka consumer")
	c.wg.Add(1)
	go c.consumeLoop()
}

// Stop cancels the consume loop, waits for it to drain, and closes the
// underlying client. It does not call registry.CloseAll: callers
// decide when trackers are closed out, since a registry may be shared
// across multiple consumers.
func (c *Consumer) Stop() {
	c.logger.Info().Msg("stopping kafka consumer")
	c.cancel()
	c.wg.Wait()
	c.client.Close()

	tracked, untracked := c.Metrics()
	c.logger.Info().
		Uint64("messages_tracked", tracked).
		Uint64("messages_untracked", untracked).
		Msg("kafka consumer stopped")
}

func (c *Consumer) consumeLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		if c.guard != nil && !c.guard.AllowConsume(c.ctx) {
			continue
		}

		fetches := c.client.PollFetches(c.ctx)
		if c.ctx.Err() != nil {
			return
		}

		for _, err := range fetches.Errors() {
			c.logger.Warn().
				Err(err.Err).
				Str("topic", err.Topic).
				Int32("partition", err.Partition).
				Msg("fetch error")
		}

		fetches.EachRecord(c.processRecord)
	}
}

// processRecord is the ConsumerAdapter of spec §4.4: it extracts the
// sequence_number header and, when present and parseable, dispatches
// (topic, n) to the registry. Parse failures are logged at debug level
// and otherwise ignored — the message is simply not tracked.
func (c *Consumer) processRecord(record *kgo.Record) {
	n, ok := stamp.Extract(record)
	if !ok {
		c.logger.Debug().Str("topic", record.Topic).Msg("record has no usable sequence_number header, not tracked")
		c.incrementUntracked()
		return
	}

	tr := c.registry.TrackerFor(record.Topic)
	if max, ok := stamp.ExtractTargetMax(record); ok {
		tr.SetTargetMax(max)
	}
	tr.SequenceNumberReceived(n)
	c.incrementTracked()
}

// Metrics returns the count of tracked vs untracked records observed.
func (c *Consumer) Metrics() (tracked, untracked uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.messagesTracked, c.messagesUntracked
}

func (c *Consumer) incrementTracked() {
	c.mu.Lock()
	c.messagesTracked++
	c.mu.Unlock()
}

func (c *Consumer) incrementUntracked() {
	c.mu.Lock()
	c.messagesUntracked++
	c.mu.Unlock()
}
