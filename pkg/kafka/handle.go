package kafka

import (
	"sync/atomic"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"

	"github.com/ava-labs/avalanche-msgbus/pkg/metrics"
)

// consumerClient is the part of *kafka.Consumer this package depends on.
type consumerClient interface {
	SubscribeTopics(topics []string, rebalanceCb kafka.RebalanceCb) error
	Poll(timeoutMs int) kafka.Event
	StoreOffsets(offsets []kafka.TopicPartition) ([]kafka.TopicPartition, error)
	CommitOffsets(offsets []kafka.TopicPartition) ([]kafka.TopicPartition, error)
	Committed(partitions []kafka.TopicPartition, timeoutMs int) ([]kafka.TopicPartition, error)
	QueryWatermarkOffsets(topic string, partition int32, timeoutMs int) (int64, int64, error)
	Logs() chan kafka.LogEvent
	Close() error
}

var _ consumerClient = (*kafka.Consumer)(nil)

// ConsumerHandle is a reference-counted handle on a Kafka consumer.
//
// The consumer is created together with the handle, which starts with one
// reference held by the Consumer bus. Every stream and message derived from
// it holds a reference of its own. The consumer is closed when the last
// reference is released, so it stays valid for as long as anything derived
// from it exists.
//
// Commits go straight to the client; librdkafka synchronizes them.
type ConsumerHandle struct {
	client    consumerClient
	committer Committer
	log       *zap.SugaredLogger
	metrics   *metrics.Metrics

	refs     atomic.Int64
	closeErr error
	released chan struct{}
}

func newConsumerHandle(
	client consumerClient,
	committer Committer,
	log *zap.SugaredLogger,
	m *metrics.Metrics,
) *ConsumerHandle {
	h := &ConsumerHandle{
		client:    client,
		committer: committer,
		log:       log,
		metrics:   m,
		released:  make(chan struct{}),
	}
	h.refs.Store(1)
	m.SetHandleRefs(1)
	return h
}

// acquire takes one more reference. It fails once the handle is released.
func (h *ConsumerHandle) acquire() error {
	for {
		n := h.refs.Load()
		if n <= 0 {
			return ErrHandleReleased
		}
		if h.refs.CompareAndSwap(n, n+1) {
			h.metrics.SetHandleRefs(n + 1)
			return nil
		}
	}
}

// release drops one reference. Dropping the last one stops the committer and
// closes the consumer; the returned error is the close error in that case.
func (h *ConsumerHandle) release() error {
	n := h.refs.Add(-1)
	h.metrics.SetHandleRefs(max(n, 0))
	switch {
	case n > 0:
		return nil
	case n < 0:
		panic("kafka: consumer handle released more often than acquired")
	}

	h.log.Info("last consumer handle reference released, closing consumer")
	if err := h.committer.Close(); err != nil {
		h.log.Warnw("failed to stop committer", "error", err)
	}
	h.closeErr = h.client.Close()
	if h.closeErr != nil {
		h.log.Errorw("failed to close kafka consumer", "error", h.closeErr)
	}
	close(h.released)
	return h.closeErr
}

// Refs returns the number of live references.
func (h *ConsumerHandle) Refs() int64 {
	return h.refs.Load()
}

// Released is closed once the consumer behind the handle has been closed.
func (h *ConsumerHandle) Released() <-chan struct{} {
	return h.released
}
