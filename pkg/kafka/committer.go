package kafka

import (
	"context"
	"fmt"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
)

// CommitMode selects how Ack and Reject commit offsets.
type CommitMode string

const (
	// CommitModeAsync only stores the offset in the local client. The broker
	// sees it when librdkafka's auto-commit runs, up to AutoCommitInterval
	// later. A crash inside that interval loses the stored offset, and the
	// messages acknowledged since the previous auto-commit are redelivered.
	CommitModeAsync CommitMode = "async"
	// CommitModeSync commits the offset to the broker before returning.
	CommitModeSync CommitMode = "sync"
	// CommitModeWindow inserts the offset into a sliding window per topic
	// partition and commits the highest contiguous offset on an interval.
	CommitModeWindow CommitMode = "window"
)

// ParseCommitMode validates s as a CommitMode.
func ParseCommitMode(s string) (CommitMode, error) {
	switch m := CommitMode(s); m {
	case CommitModeAsync, CommitModeSync, CommitModeWindow:
		return m, nil
	default:
		return "", fmt.Errorf("unknown commit mode %q (supported: async, sync, window)", s)
	}
}

// Committer marks a consumed message as processed. Commits are offset based:
// committing a message also covers every earlier offset of its partition.
type Committer interface {
	Commit(ctx context.Context, msg *kafka.Message) error
	Close() error
}

// deliveryTracker is implemented by committers that need to see every
// message as it is polled, before it is acknowledged.
type deliveryTracker interface {
	Delivered(tp kafka.TopicPartition)
}

// nextOffset is the offset to commit after msg was processed. Kafka expects
// the offset of the next message to read, not of the last one processed.
func nextOffset(msg *kafka.Message) kafka.TopicPartition {
	return kafka.TopicPartition{
		Topic:     msg.TopicPartition.Topic,
		Partition: msg.TopicPartition.Partition,
		Offset:    msg.TopicPartition.Offset + 1,
	}
}

type storeCommitter struct {
	client consumerClient
}

func (c storeCommitter) Commit(_ context.Context, msg *kafka.Message) error {
	_, err := c.client.StoreOffsets([]kafka.TopicPartition{nextOffset(msg)})
	return err
}

func (storeCommitter) Close() error { return nil }

type syncCommitter struct {
	client consumerClient
}

func (c syncCommitter) Commit(ctx context.Context, msg *kafka.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := c.client.CommitOffsets([]kafka.TopicPartition{nextOffset(msg)})
	return err
}

func (syncCommitter) Close() error { return nil }
