package testutils

import (
	"sync"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
)

// FakeConsumer stands in for *kafka.Consumer. Events pushed with Push are
// returned by Poll in order. Offsets stored or committed are recorded.
type FakeConsumer struct {
	SubscribeErr error
	StoreErr     error
	CommitErr    error
	CloseErr     error
	// Low is the low watermark reported for every partition.
	Low int64

	events chan kafka.Event
	logs   chan kafka.LogEvent

	mu               sync.Mutex
	topics           []string
	rebalanceCb      kafka.RebalanceCb
	stored           []kafka.TopicPartition
	commits          []kafka.TopicPartition
	committed        map[topicPartition]kafka.Offset
	closed           int
	polledAfterClose bool
}

type topicPartition struct {
	topic     string
	partition int32
}

func keyOf(tp kafka.TopicPartition) topicPartition {
	k := topicPartition{partition: tp.Partition}
	if tp.Topic != nil {
		k.topic = *tp.Topic
	}
	return k
}

// NewFakeConsumer returns a FakeConsumer with no pending events.
func NewFakeConsumer() *FakeConsumer {
	return &FakeConsumer{
		events:    make(chan kafka.Event, 128),
		logs:      make(chan kafka.LogEvent, 16),
		committed: make(map[topicPartition]kafka.Offset),
	}
}

// Push queues an event for Poll.
func (f *FakeConsumer) Push(ev kafka.Event) {
	f.events <- ev
}

// PushLog queues a librdkafka log line.
func (f *FakeConsumer) PushLog(ev kafka.LogEvent) {
	f.logs <- ev
}

func (f *FakeConsumer) SubscribeTopics(topics []string, rebalanceCb kafka.RebalanceCb) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SubscribeErr != nil {
		return f.SubscribeErr
	}
	f.topics = append([]string(nil), topics...)
	f.rebalanceCb = rebalanceCb
	return nil
}

func (f *FakeConsumer) Poll(timeoutMs int) kafka.Event {
	f.mu.Lock()
	if f.closed > 0 {
		f.polledAfterClose = true
	}
	f.mu.Unlock()

	select {
	case ev := <-f.events:
		return ev
	case <-time.After(time.Duration(timeoutMs) * time.Millisecond):
		return nil
	}
}

func (f *FakeConsumer) StoreOffsets(offsets []kafka.TopicPartition) ([]kafka.TopicPartition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.StoreErr != nil {
		return nil, f.StoreErr
	}
	f.stored = append(f.stored, offsets...)
	return offsets, nil
}

func (f *FakeConsumer) CommitOffsets(offsets []kafka.TopicPartition) ([]kafka.TopicPartition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CommitErr != nil {
		return nil, f.CommitErr
	}
	f.commits = append(f.commits, offsets...)
	for _, o := range offsets {
		f.committed[keyOf(o)] = o.Offset
	}
	return offsets, nil
}

// Committed reports offsets committed through CommitOffsets. Partitions
// without a commit keep the offset they were requested with.
func (f *FakeConsumer) Committed(partitions []kafka.TopicPartition, _ int) ([]kafka.TopicPartition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]kafka.TopicPartition, len(partitions))
	for i, p := range partitions {
		out[i] = p
		if off, ok := f.committed[keyOf(p)]; ok {
			out[i].Offset = off
		}
	}
	return out, nil
}

func (f *FakeConsumer) QueryWatermarkOffsets(string, int32, int) (int64, int64, error) {
	return f.Low, f.Low + 1000, nil
}

func (f *FakeConsumer) Logs() chan kafka.LogEvent {
	return f.logs
}

func (f *FakeConsumer) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return f.CloseErr
}

// Rebalance invokes the callback registered with SubscribeTopics.
func (f *FakeConsumer) Rebalance(ev kafka.Event) error {
	f.mu.Lock()
	cb := f.rebalanceCb
	f.mu.Unlock()
	if cb == nil {
		return nil
	}
	return cb(nil, ev)
}

// Topics returns the subscribed topics.
func (f *FakeConsumer) Topics() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.topics
}

// Stored returns every offset passed to StoreOffsets.
func (f *FakeConsumer) Stored() []kafka.TopicPartition {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]kafka.TopicPartition(nil), f.stored...)
}

// Commits returns every offset passed to CommitOffsets.
func (f *FakeConsumer) Commits() []kafka.TopicPartition {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]kafka.TopicPartition(nil), f.commits...)
}

// CloseCount returns how often Close was called.
func (f *FakeConsumer) CloseCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// PolledAfterClose reports whether Poll ran on a closed consumer.
func (f *FakeConsumer) PolledAfterClose() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polledAfterClose
}
