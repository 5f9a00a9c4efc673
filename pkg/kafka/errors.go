package kafka

import (
	"errors"
	"fmt"
	"strings"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
)

var (
	// ErrClosed is returned when a message or stream is used after Close.
	ErrClosed = errors.New("kafka: use after close")

	// ErrHandleReleased is returned when a new reference is requested on a
	// consumer handle whose last reference is already gone.
	ErrHandleReleased = errors.New("kafka: consumer handle released")

	// ErrBusConsumed is returned by IntoStream on a Consumer that was already
	// converted into a stream or closed.
	ErrBusConsumed = errors.New("kafka: consumer already consumed")
)

// StreamError reports that a stream could not be established.
type StreamError struct {
	Topics []string
	Err    error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("failed to establish stream on topics [%s]: %v", strings.Join(e.Topics, ","), e.Err)
}

func (e *StreamError) Unwrap() error { return e.Err }

// PollError reports a failed poll. Terminal errors end the stream.
type PollError struct {
	Err      error
	terminal bool
}

func (e *PollError) Error() string {
	if e.terminal {
		return fmt.Sprintf("poll failed (terminal): %v", e.Err)
	}
	return fmt.Sprintf("poll failed: %v", e.Err)
}

func (e *PollError) Unwrap() error { return e.Err }

// Terminal reports whether the stream ended with this error.
func (e *PollError) Terminal() bool { return e.terminal }

// AckError reports a failed commit issued by Ack or Reject.
type AckError struct {
	Op             string
	TopicPartition kafka.TopicPartition
	Err            error
}

func (e *AckError) Error() string {
	return fmt.Sprintf("%s failed for %s: %v", e.Op, formatTopicPartition(e.TopicPartition), e.Err)
}

func (e *AckError) Unwrap() error { return e.Err }

// SendError reports a failed or timed out send.
type SendError struct {
	Topic string
	Err   error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send to topic %s failed: %v", e.Topic, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

func formatTopicPartition(tp kafka.TopicPartition) string {
	return fmt.Sprintf("%s[%d]@%d", topicOf(tp), tp.Partition, tp.Offset)
}
