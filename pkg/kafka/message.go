package kafka

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ava-labs/avalanche-msgbus/pkg/msgbus"
)

const messagingSystem = "kafka"

// Message is one message read from a MessageStream.
//
// It holds its own reference on the consumer handle, so it can outlive the
// stream that produced it and be acknowledged from any goroutine. Close
// releases the reference; it does not acknowledge the message.
type Message struct {
	b   *borrowed[*kafka.Message]
	msg *kafka.Message
}

var _ msgbus.IncomingMessage = (*Message)(nil)

// newMessage pairs msg with a reference on h. msg must have been polled from
// h's consumer.
func newMessage(h *ConsumerHandle, msg *kafka.Message) (*Message, error) {
	b, err := newBorrowed(h, msg, func(*kafka.Message) error {
		h.metrics.OpenMessagesDec()
		return nil
	})
	if err != nil {
		return nil, err
	}
	h.metrics.OpenMessagesInc()
	return &Message{b: b, msg: msg}, nil
}

// Headers returns the message headers as text. Headers without a value or
// with a value that is not valid UTF-8 are left out.
func (m *Message) Headers() msgbus.RawHeaders {
	return headersFromKafka(m.msg.Headers)
}

// Payload returns the message value, or an empty slice if there is none.
func (m *Message) Payload() []byte {
	if m.msg.Value == nil {
		return []byte{}
	}
	return m.msg.Value
}

// Key returns the message key unmodified. It is nil if the message has none.
func (m *Message) Key() []byte {
	return m.msg.Key
}

// Topic returns the topic the message was read from.
func (m *Message) Topic() string {
	return topicOf(m.msg.TopicPartition)
}

// Partition returns the partition the message was read from.
func (m *Message) Partition() int32 {
	return m.msg.TopicPartition.Partition
}

// Offset returns the message offset within its partition.
func (m *Message) Offset() kafka.Offset {
	return m.msg.TopicPartition.Offset
}

// Timestamp returns the timestamp set by the producer or the broker.
func (m *Message) Timestamp() time.Time {
	return m.msg.Timestamp
}

// Ack commits the message offset through the consumer's committer.
func (m *Message) Ack(ctx context.Context) error {
	return m.commit(ctx, "ack")
}

// Nack does nothing and always succeeds. The message is redelivered after a
// restart or rebalance only because its offset was never committed; Kafka has
// no per-message negative acknowledgement.
func (m *Message) Nack(context.Context) error {
	m.b.handle.metrics.Acknowledged("nack", nil)
	return nil
}

// Reject commits the message offset exactly like Ack. There is no dead letter
// primitive, so rejecting a message means moving past it.
func (m *Message) Reject(ctx context.Context) error {
	return m.commit(ctx, "reject")
}

func (m *Message) commit(ctx context.Context, op string) error {
	err := m.b.use(func(h *ConsumerHandle, msg *kafka.Message) error {
		return h.committer.Commit(ctx, msg)
	})
	m.b.handle.metrics.Acknowledged(op, err)
	if err != nil {
		return &AckError{Op: op, TopicPartition: m.msg.TopicPartition, Err: err}
	}
	return nil
}

// Span describes the receive span of this message. Building it has no side
// effects.
func (m *Message) Span() msgbus.SpanSpec {
	key := ""
	if utf8.Valid(m.msg.Key) {
		key = string(m.msg.Key)
	}
	return msgbus.SpanSpec{
		Name: m.Topic() + " receive",
		Kind: trace.SpanKindConsumer,
		Attributes: []attribute.KeyValue{
			attribute.String(msgbus.MessagingSystemKey, messagingSystem),
			attribute.String(msgbus.MessagingOperationKey, msgbus.OperationReceive),
			attribute.Int(msgbus.MessagingPayloadSizeKey, len(m.msg.Value)),
			attribute.Int(msgbus.KafkaSourcePartitionKey, int(m.msg.TopicPartition.Partition)),
			attribute.String(msgbus.KafkaMessageKeyKey, key),
			attribute.Int64(msgbus.KafkaMessageOffsetKey, int64(m.msg.TopicPartition.Offset)),
		},
	}
}

// Close releases the message's consumer reference. Ack and Reject fail with
// ErrClosed afterwards; the read accessors keep working.
func (m *Message) Close() error {
	return m.b.close()
}

// headersFromKafka collapses Kafka headers into text headers. A missing or
// non UTF-8 value drops the entry; later duplicates of a key win.
func headersFromKafka(headers []kafka.Header) msgbus.RawHeaders {
	out := make(msgbus.RawHeaders, len(headers))
	for _, h := range headers {
		if h.Value == nil || !utf8.Valid(h.Value) {
			continue
		}
		out[h.Key] = string(h.Value)
	}
	return out
}
