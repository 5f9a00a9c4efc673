package kafka

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ava-labs/avalanche-msgbus/pkg/metrics"
	"github.com/ava-labs/avalanche-msgbus/pkg/msgbus"
)

// Msg is a message ready to be produced to an explicit topic.
type Msg struct {
	Topic   string
	Value   []byte
	Key     []byte
	Headers msgbus.RawHeaders
}

// producerClient is the part of *kafka.Producer this package depends on.
type producerClient interface {
	Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error
	Events() chan kafka.Event
	Logs() chan kafka.LogEvent
	Flush(timeoutMs int) int
	Close()
}

var _ producerClient = (*kafka.Producer)(nil)

// Producer is a synchronous Kafka producer with a default destination topic.
//
// Send and Produce block until a delivery confirmation is received from
// Kafka. Background goroutines are used to process Kafka producer events and
// logs.
//
// Close MUST be called at least once to stop background goroutines and flush
// all in-flight messages.
type Producer struct {
	producer    producerClient
	topic       string
	sendTimeout time.Duration
	log         *zap.SugaredLogger
	metrics     *metrics.Metrics
	errCh       chan error
	eventsDone  chan struct{}
	logsDone    chan struct{}
	closedCh    chan struct{}
	once        sync.Once
}

var _ msgbus.Producer[ProducerOptions] = (*Producer)(nil)

const queueFullErrorRetryDelay = time.Second

// NewProducer creates a Kafka producer sending to cfg.Topic by default.
//
// The provided context controls the lifetime of background goroutines.
// Canceling the context signals the producer to stop processing events.
//
// Callers must call Close to flush messages and release resources.
func NewProducer(ctx context.Context, log *zap.SugaredLogger, cfg ProducerConfig, m *metrics.Metrics) (*Producer, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid producer config: %w", err)
	}

	p, err := kafka.NewProducer(cfg.ConfigMap())
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	return newProducer(ctx, p, cfg, log, m), nil
}

func newProducer(
	ctx context.Context,
	client producerClient,
	cfg ProducerConfig,
	log *zap.SugaredLogger,
	m *metrics.Metrics,
) *Producer {
	cfg = cfg.WithDefaults()
	q := &Producer{
		producer:    client,
		topic:       cfg.Topic,
		sendTimeout: *cfg.SendTimeout,
		log:         log,
		metrics:     m,
		eventsDone:  make(chan struct{}),
		logsDone:    make(chan struct{}),
		errCh:       make(chan error, 1),
		closedCh:    make(chan struct{}),
	}

	if cfg.EnableLogs {
		go q.printKafkaLogs(ctx)
	} else {
		close(q.logsDone)
	}

	go q.monitorProducerEvents(ctx)

	return q
}

// Send produces payload to the effective topic and waits for the delivery
// report, at most for the configured send timeout.
//
// Headers from opts are merged over headers, winning on key collision. The
// topic is opts' override if set, else the producer's default topic. A send
// that times out returns an error matching msgbus.ErrSendTimeout; every
// failure is a *SendError wrapping the cause.
func (q *Producer) Send(
	ctx context.Context,
	key string,
	headers msgbus.RawHeaders,
	payload []byte,
	opts ProducerOptions,
) error {
	topic := q.resolveTopic(opts)
	merged := headers.Merge(opts.additionalHeaders)

	sendCtx, cancel := context.WithTimeout(ctx, q.sendTimeout)
	defer cancel()

	start := time.Now()
	err := q.Produce(sendCtx, Msg{
		Topic:   topic,
		Key:     []byte(key),
		Value:   payload,
		Headers: merged,
	})
	if err != nil && errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w after %s: %w", msgbus.ErrSendTimeout, q.sendTimeout, err)
	}
	q.metrics.ObserveSend(topic, sendStatus(err), time.Since(start))
	if err != nil {
		return &SendError{Topic: topic, Err: err}
	}
	return nil
}

// Span describes the send span for a Send with the same arguments. Building
// it has no side effects.
func (q *Producer) Span(key string, _ msgbus.RawHeaders, _ []byte, opts ProducerOptions) msgbus.SpanSpec {
	topic := q.resolveTopic(opts)
	return msgbus.SpanSpec{
		Name: topic + " send",
		Kind: trace.SpanKindProducer,
		Attributes: []attribute.KeyValue{
			attribute.String(msgbus.MessagingSystemKey, messagingSystem),
			attribute.String(msgbus.MessagingDestinationKey, topic),
			attribute.String(msgbus.MessagingDestinationKindKey, msgbus.DestinationKindTopic),
			attribute.String(msgbus.KafkaProducerMessageKey, key),
		},
	}
}

func (q *Producer) resolveTopic(opts ProducerOptions) string {
	if topic, ok := opts.TopicOverride(); ok {
		return topic
	}
	return q.topic
}

// Produce synchronously produces a message to Kafka.
//
// Produce blocks until either a delivery receipt is received from Kafka
// or the provided context is canceled. If the producer queue is full,
// the message will be retried internally with a 1 second delay.
//
// Produce returns an error in the following cases:
//   - the broker is unavailable,
//   - the message is invalid or exceeds size limits,
//   - the topic or partition is unknown,
//   - authentication or authorization fails.
//
// If the context is canceled before delivery confirmation, Produce returns
// ctx.Err(). The message MAY still be delivered after Produce returns.
// Callers should design for possible duplicate delivery when retrying.
func (q *Producer) Produce(ctx context.Context, msg Msg) error {
	// Buffered and never closed: a receipt that arrives after ctx is done
	// must not block or panic the librdkafka delivery goroutine.
	deliveryCh := make(chan kafka.Event, 1)

	kMsg := &kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &msg.Topic,
			Partition: kafka.PartitionAny,
		},
		Value:   msg.Value,
		Key:     msg.Key,
		Headers: toKafkaHeaders(msg.Headers),
	}

	if err := q.produceWithRetry(ctx, kMsg, deliveryCh); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()

	case e := <-deliveryCh:
		return handleDeliveryEvent(q.log, kMsg, e)
	}
}

// Close stops background goroutines and flushes all pending messages.
//
// Close blocks until all queued messages are delivered to Kafka.
// If the timeout is reached, Close aborts the flush and closes the producer.
// Callers should be aware that reaching the timeout may result in message loss.
//
// Close must be called at least once. Calling Close multiple times does nothing.
func (q *Producer) Close(timeout time.Duration) {
	q.once.Do(func() {
		q.log.Info("closing kafka producer")
		defer close(q.errCh)

		// Signal the monitor or logs goroutines to stop.
		close(q.closedCh)

		// Wait for the monitor or logs goroutines to stop.
		<-q.eventsDone
		<-q.logsDone

		// Flush the producer queue.
		pending := q.producer.Flush(int(timeout.Milliseconds()))
		if pending > 0 {
			q.log.Warnf("flush incomplete, messages will be lost. pending: %d", pending)
		}

		q.producer.Close()
		q.log.Info("kafka producer closed")
	})
}

// Errors returns a channel that receives at most one fatal error.
// The channel is closed when the producer shuts down.
// Non-fatal Kafka errors are logged and ignored.
//
// After receiving an error, the producer is no longer usable.
// Call Close() and create a new producer to recover.
func (q *Producer) Errors() <-chan error {
	return q.errCh
}

func (q *Producer) printKafkaLogs(ctx context.Context) {
	defer close(q.logsDone)
	for {
		select {
		case <-ctx.Done():
			q.log.Info("stopping kafka logs printing")
			return
		case <-q.closedCh:
			q.log.Info("stopping kafka logs printing, done channel closed")
			return
		case log, ok := <-q.producer.Logs():
			if !ok {
				q.log.Info("kafka logs printing, event channel closed")
				return
			}
			q.log.Debugf("level: %d tag: %s message: %s ", log.Level, log.Tag, log.Message)
		}
	}
}

// produceWithRetry produces a message to Kafka with retry logic.
//
// If the context is done, produceWithRetry returns the context error.
// If the producer queue is full, produceWithRetry waits for 1 second and retries.
// If the broker is not available, message size is invalid, the message is invalid,
// topic or partition is unknown, or the authentication fails, produceWithRetry returns an error.
func (q *Producer) produceWithRetry(
	ctx context.Context,
	msg *kafka.Message,
	deliveryCh chan kafka.Event,
) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := q.producer.Produce(msg, deliveryCh)
		if err == nil {
			return nil
		}

		var kafkaErr kafka.Error
		if !errors.As(err, &kafkaErr) {
			return fmt.Errorf("failed to produce: %w", err)
		}

		switch kafkaErr.Code() {
		case kafka.ErrQueueFull:
			q.log.Warnf("producer queue full, retrying in %s", queueFullErrorRetryDelay)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(queueFullErrorRetryDelay):
			}
			continue
		case kafka.ErrBrokerNotAvailable:
			return fmt.Errorf("broker not available: %w", err)
		case kafka.ErrInvalidMsgSize:
			return fmt.Errorf("invalid message size: %w", err)
		case kafka.ErrInvalidMsg:
			return fmt.Errorf("invalid message: %w", err)
		case kafka.ErrUnknownTopicOrPart:
			return fmt.Errorf("unknown topic or partition: %w", err)
		case kafka.ErrAuthentication:
			return fmt.Errorf("authentication error: %w", err)
		default:
			return fmt.Errorf("failed to produce: %w", err)
		}
	}
}

func (q *Producer) monitorProducerEvents(ctx context.Context) {
	defer close(q.eventsDone)
	for {
		select {
		case <-ctx.Done():
			q.log.Info("stopping kafka producer events monitoring, context done")
			return
		case <-q.closedCh:
			q.log.Info("stopping kafka producer events monitoring, done channel closed")
			return
		case ev, ok := <-q.producer.Events():
			if !ok {
				err := fmt.Errorf("kafka producer events monitoring, event channel closed")
				select {
				case q.errCh <- err:
				default:
					q.log.Warnf("error channel is full, should not happen: %v", err)
				}
				return
			}

			switch e := ev.(type) {
			case *kafka.Message:
				q.log.Error("delivery receipts should be handled during producing")
				if e.TopicPartition.Error != nil {
					q.log.Errorf("failed to deliver message: %v", e.TopicPartition)
				}
			case kafka.Stats:
				q.log.Infof("kafka stats event received %s", e.String())
			case kafka.Error:
				if e.IsFatal() || e.Code() == kafka.ErrAllBrokersDown {
					err := fmt.Errorf("fatal err or ErrAllBrokersDown: %#x, %w", e.Code(), e)
					select {
					case q.errCh <- err:
					default:
						q.log.Warnf("error channel is full, should not happen: %v", err)
					}
					return
				}
				q.log.Warnf("ignoring unexpected kafka error: %#x, %v", e.Code(), e)
			default:
				q.log.Warnf("Unknown event: %+v", e)
			}
		}
	}
}

func handleDeliveryEvent(log *zap.SugaredLogger, msg *kafka.Message, ev kafka.Event) error {
	switch e := ev.(type) {
	case *kafka.Message:
		if err := e.TopicPartition.Error; err != nil {
			return fmt.Errorf("delivery failed: %w", err)
		}
		log.Debugf(
			"delivered to topic [%s] partition [%d] at offset [%d]",
			*msg.TopicPartition.Topic,
			e.TopicPartition.Partition,
			e.TopicPartition.Offset,
		)
		return nil
	case kafka.Error:
		return fmt.Errorf("kafka error: code=%d fatal=%t: %w", e.Code(), e.IsFatal(), e)
	default:
		return fmt.Errorf("unexpected delivery event: %T", ev)
	}
}

// toKafkaHeaders expands text headers into Kafka headers, sorted by key so
// that the wire order is deterministic.
func toKafkaHeaders(headers msgbus.RawHeaders) []kafka.Header {
	if len(headers) == 0 {
		return nil
	}
	out := make([]kafka.Header, 0, len(headers))
	for k, v := range headers {
		out = append(out, kafka.Header{Key: k, Value: []byte(v)})
	}
	slices.SortFunc(out, func(a, b kafka.Header) int {
		return strings.Compare(a.Key, b.Key)
	})
	return out
}

func sendStatus(err error) string {
	switch {
	case err == nil:
		return metrics.StatusSuccess
	case errors.Is(err, msgbus.ErrSendTimeout):
		return metrics.StatusTimeout
	default:
		return metrics.StatusError
	}
}
