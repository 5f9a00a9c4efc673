package testutils

import (
	"sync"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
)

// FakeProducer stands in for *kafka.Producer.
//
// Produce returns the queued ProduceErrs in order, then records the message
// and answers on the delivery channel with Deliver's result. A nil Deliver
// never answers, which looks like a stalled broker.
type FakeProducer struct {
	Deliver     func(*kafka.Message) kafka.Event
	ProduceErrs []error
	// Pending is what Flush reports as not delivered.
	Pending int

	events chan kafka.Event
	logs   chan kafka.LogEvent

	mu       sync.Mutex
	produced []*kafka.Message
	flushed  int
	closed   int
}

// NewFakeProducer returns a FakeProducer that delivers every message.
func NewFakeProducer() *FakeProducer {
	return &FakeProducer{
		Deliver: Delivered,
		events:  make(chan kafka.Event, 16),
		logs:    make(chan kafka.LogEvent, 16),
	}
}

// Delivered acknowledges msg at offset 0.
func Delivered(msg *kafka.Message) kafka.Event {
	return &kafka.Message{TopicPartition: msg.TopicPartition}
}

// DeliveryFailed reports err for every message.
func DeliveryFailed(err error) func(*kafka.Message) kafka.Event {
	return func(msg *kafka.Message) kafka.Event {
		tp := msg.TopicPartition
		tp.Error = err
		return &kafka.Message{TopicPartition: tp}
	}
}

func (f *FakeProducer) Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error {
	f.mu.Lock()
	if len(f.ProduceErrs) > 0 {
		err := f.ProduceErrs[0]
		f.ProduceErrs = f.ProduceErrs[1:]
		f.mu.Unlock()
		return err
	}
	f.produced = append(f.produced, msg)
	deliver := f.Deliver
	f.mu.Unlock()

	if deliver != nil {
		deliveryChan <- deliver(msg)
	}
	return nil
}

// Emit queues a producer event such as a kafka.Error.
func (f *FakeProducer) Emit(ev kafka.Event) {
	f.events <- ev
}

func (f *FakeProducer) Events() chan kafka.Event {
	return f.events
}

func (f *FakeProducer) Logs() chan kafka.LogEvent {
	return f.logs
}

func (f *FakeProducer) Flush(int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushed++
	return f.Pending
}

func (f *FakeProducer) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
}

// Produced returns the messages accepted by Produce.
func (f *FakeProducer) Produced() []*kafka.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*kafka.Message(nil), f.produced...)
}

// FlushCount returns how often Flush was called.
func (f *FakeProducer) FlushCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.flushed
}

// CloseCount returns how often Close was called.
func (f *FakeProducer) CloseCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
