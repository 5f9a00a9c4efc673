package kafka

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"

	"github.com/ava-labs/avalanche-msgbus/pkg/msgbus"
)

// pollSource is the consumer's event feed as seen by one stream. It is only
// valid while the consumer it polls is open.
type pollSource struct {
	pollMs int
	log    *zap.SugaredLogger

	mu       sync.Mutex // serializes next
	terminal error
	stop     chan struct{}
	stopOnce sync.Once
}

func newPollSource(pollInterval time.Duration, log *zap.SugaredLogger) *pollSource {
	return &pollSource{
		pollMs: max(int(pollInterval.Milliseconds()), 1),
		log:    log,
		stop:   make(chan struct{}),
	}
}

// interrupt makes a blocked next return within one poll interval. It does
// not need the handle and may run while next is in progress.
func (s *pollSource) interrupt() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *pollSource) close() error {
	s.interrupt()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.terminal == nil {
		s.terminal = msgbus.ErrStreamClosed
	}
	return nil
}

func (s *pollSource) next(ctx context.Context, h *ConsumerHandle) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		if s.terminal != nil {
			return nil, s.terminal
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.stop:
			return nil, msgbus.ErrStreamClosed
		default:
		}

		ev := h.client.Poll(s.pollMs)
		if ev == nil {
			continue
		}

		switch e := ev.(type) {
		case *kafka.Message:
			if err := e.TopicPartition.Error; err != nil {
				h.metrics.PollError(false)
				return nil, &PollError{Err: err}
			}
			h.metrics.MessageReceived(topicOf(e.TopicPartition), e.TopicPartition.Partition)
			if t, ok := h.committer.(deliveryTracker); ok {
				t.Delivered(e.TopicPartition)
			}
			// e was just read from h, which is what newMessage requires.
			return newMessage(h, e)
		case kafka.Error:
			if e.IsFatal() || e.Code() == kafka.ErrAllBrokersDown {
				h.metrics.PollError(true)
				s.log.Errorw("fatal kafka error, stream terminated", "error", e, "code", e.Code())
				s.terminal = &PollError{Err: e, terminal: true}
				return nil, s.terminal
			}
			h.metrics.PollError(false)
			s.log.Warnw("kafka error (non-fatal)", "error", e, "code", e.Code())
		case kafka.PartitionEOF:
			s.log.Debugw("reached end of partition", "partition", formatTopicPartition(kafka.TopicPartition(e)))
		default:
			s.log.Debugw("ignoring kafka event", "event", e)
		}
	}
}

// MessageStream is a single-pass stream of messages read from a consumer.
//
// It holds a reference on the consumer handle, so the consumer stays open
// while the stream or any message it produced is alive. Next must not be
// called concurrently from several goroutines for ordering to be meaningful;
// it is safe to do so, calls are serialized.
type MessageStream struct {
	b   *borrowed[*pollSource]
	src *pollSource
}

var _ msgbus.Stream[*Message] = (*MessageStream)(nil)

// newMessageStream pairs src with a reference on h. src must poll h.
func newMessageStream(h *ConsumerHandle, src *pollSource) (*MessageStream, error) {
	b, err := newBorrowed(h, src, (*pollSource).close)
	if err != nil {
		return nil, err
	}
	return &MessageStream{b: b, src: src}, nil
}

// Next blocks until the next message is available. It returns
// msgbus.ErrStreamClosed after Close, a *PollError if polling failed, or the
// context error if ctx is done first. A *PollError whose Terminal method
// reports true ends the stream.
func (s *MessageStream) Next(ctx context.Context) (*Message, error) {
	var msg *Message
	err := s.b.use(func(h *ConsumerHandle, src *pollSource) error {
		var err error
		msg, err = src.next(ctx, h)
		return err
	})
	if errors.Is(err, ErrClosed) {
		return nil, msgbus.ErrStreamClosed
	}
	return msg, err
}

// Close ends the stream and releases its consumer reference. A Next blocked
// in another goroutine returns msgbus.ErrStreamClosed. Messages already
// returned stay usable until they are closed themselves.
func (s *MessageStream) Close() error {
	s.src.interrupt()
	return s.b.close()
}

func topicOf(tp kafka.TopicPartition) string {
	if tp.Topic == nil {
		return ""
	}
	return *tp.Topic
}
