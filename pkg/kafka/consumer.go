package kafka

import (
	"context"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"

	"github.com/ava-labs/avalanche-msgbus/pkg/metrics"
	"github.com/ava-labs/avalanche-msgbus/pkg/msgbus"
)

// Consumer is a Kafka message bus subscribed to a fixed set of topics.
//
// A Consumer is converted into a MessageStream exactly once with IntoStream.
// The underlying consumer stays open until the stream and every message read
// from it are closed. A Consumer that is never converted must be closed with
// Close instead.
type Consumer struct {
	handle       *ConsumerHandle
	topics       []string
	pollInterval time.Duration
	offsets      *OffsetManager // nil unless the commit mode is window
	log          *zap.SugaredLogger
	metrics      *metrics.Metrics
	consumed     atomic.Bool
}

var _ msgbus.MessageBus[*Message, *MessageStream] = (*Consumer)(nil)

// NewConsumer creates a Kafka consumer from cfg. It does not subscribe yet;
// that happens in IntoStream.
//
// ctx bounds the background goroutines (log forwarding and, in window
// commit mode, the offset commit loop).
func NewConsumer(
	ctx context.Context,
	log *zap.SugaredLogger,
	cfg ConsumerConfig,
	m *metrics.Metrics,
) (*Consumer, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid consumer config: %w", err)
	}

	client, err := kafka.NewConsumer(cfg.ConfigMap())
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}
	return newConsumer(ctx, client, cfg, log, m), nil
}

func newConsumer(
	ctx context.Context,
	client consumerClient,
	cfg ConsumerConfig,
	log *zap.SugaredLogger,
	m *metrics.Metrics,
) *Consumer {
	cfg = cfg.WithDefaults()
	c := &Consumer{
		topics:       slices.Clone(cfg.Topics),
		pollInterval: *cfg.PollInterval,
		log:          log,
		metrics:      m,
	}

	var committer Committer
	switch cfg.CommitMode {
	case CommitModeSync:
		committer = syncCommitter{client: client}
	case CommitModeWindow:
		c.offsets = NewOffsetManager(
			ctx,
			client,
			*cfg.OffsetManagerCommitInterval,
			cfg.AutoOffsetReset,
			log,
			m,
		)
		committer = c.offsets
	default:
		committer = storeCommitter{client: client}
	}
	c.handle = newConsumerHandle(client, committer, log, m)

	if cfg.EnableLogs {
		go c.printKafkaLogs(ctx)
	}

	log.Infow("kafka consumer created",
		"topics", c.topics,
		"groupID", cfg.GroupID,
		"commitMode", cfg.CommitMode,
	)
	return c
}

// IntoStream subscribes to the configured topics and returns the stream of
// their messages. It can succeed at most once per Consumer; later calls
// return ErrBusConsumed. A failed subscription is reported as a
// *StreamError and the consumer is closed.
func (c *Consumer) IntoStream(ctx context.Context) (*MessageStream, error) {
	if !c.consumed.CompareAndSwap(false, true) {
		return nil, ErrBusConsumed
	}

	if err := ctx.Err(); err != nil {
		c.releaseBus()
		return nil, &StreamError{Topics: c.topics, Err: err}
	}

	if err := c.handle.client.SubscribeTopics(c.topics, c.rebalanceCallback); err != nil {
		c.releaseBus()
		return nil, &StreamError{Topics: c.topics, Err: fmt.Errorf("failed to subscribe to topics: %w", err)}
	}

	stream, err := newMessageStream(c.handle, newPollSource(c.pollInterval, c.log))
	// The stream now holds its own reference, or it could not take one.
	// Either way the bus gives up the one it held.
	c.releaseBus()
	if err != nil {
		return nil, &StreamError{Topics: c.topics, Err: err}
	}

	c.log.Infow("subscribed to topics", "topics", c.topics)
	return stream, nil
}

// Close closes a Consumer that was never converted into a stream. After
// IntoStream it does nothing: the stream owns the consumer from then on.
func (c *Consumer) Close() error {
	if !c.consumed.CompareAndSwap(false, true) {
		return nil
	}
	return c.handle.release()
}

func (c *Consumer) releaseBus() {
	if err := c.handle.release(); err != nil {
		c.log.Warnw("failed to close kafka consumer", "error", err)
	}
}

// rebalanceCallback logs assignment changes and keeps the offset window in
// sync with them.
func (c *Consumer) rebalanceCallback(kc *kafka.Consumer, event kafka.Event) error {
	switch ev := event.(type) {
	case kafka.AssignedPartitions:
		c.metrics.RebalanceEvent("assigned", len(ev.Partitions))
		c.log.Infow("partitions assigned",
			"count", len(ev.Partitions),
			"partitions", ev.Partitions,
		)
	case kafka.RevokedPartitions:
		c.metrics.RebalanceEvent("revoked", len(ev.Partitions))
		c.log.Infow("partitions revoked",
			"count", len(ev.Partitions),
			"partitions", ev.Partitions,
		)
		if kc != nil && kc.AssignmentLost() {
			c.log.Error("assignment lost involuntarily, commit may fail")
		}
	default:
		c.log.Warnw("unexpected rebalance event", "event", event)
	}

	if c.offsets == nil {
		return nil
	}
	return c.offsets.RebalanceCb(kc, event)
}

// printKafkaLogs forwards librdkafka logs until the consumer is closed.
func (c *Consumer) printKafkaLogs(ctx context.Context) {
	logs := c.handle.client.Logs()
	for {
		select {
		case <-ctx.Done():
			c.log.Info("stopping kafka logs printing for consumer")
			return
		case <-c.handle.Released():
			c.log.Info("stopping kafka logs printing for consumer, consumer closed")
			return
		case log, ok := <-logs:
			if !ok {
				c.log.Info("kafka logs printing for consumer, event channel closed")
				return
			}
			c.log.Debugf("consumer level: %d tag: %s message: %s ", log.Level, log.Tag, log.Message)
		}
	}
}
