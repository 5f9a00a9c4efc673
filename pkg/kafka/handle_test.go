package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ava-labs/avalanche-msgbus/pkg/kafka/testutils"
)

// callLog records the order of teardown calls across fakes.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(call string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, call)
}

func (l *callLog) get() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

type recordingCommitter struct {
	log *callLog

	mu      sync.Mutex
	commits []kafka.TopicPartition
	err     error
}

func (c *recordingCommitter) Commit(_ context.Context, msg *kafka.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.commits = append(c.commits, nextOffset(msg))
	return nil
}

func (c *recordingCommitter) Close() error {
	if c.log != nil {
		c.log.add("committer.Close")
	}
	return nil
}

// loggingConsumer records Close in a callLog.
type loggingConsumer struct {
	*testutils.FakeConsumer
	log *callLog
}

func (c loggingConsumer) Close() error {
	c.log.add("client.Close")
	return c.FakeConsumer.Close()
}

func newTestHandle(t *testing.T) (*ConsumerHandle, *testutils.FakeConsumer) {
	t.Helper()
	fc := testutils.NewFakeConsumer()
	return newConsumerHandle(fc, storeCommitter{client: fc}, testutils.NewTestLogger(t), nil), fc
}

func TestConsumerHandle_StartsWithOneReference(t *testing.T) {
	h, fc := newTestHandle(t)

	require.Equal(t, int64(1), h.Refs())
	require.Zero(t, fc.CloseCount())
}

func TestConsumerHandle_ClosesOnLastRelease(t *testing.T) {
	h, fc := newTestHandle(t)

	require.NoError(t, h.acquire())
	require.NoError(t, h.acquire())
	require.Equal(t, int64(3), h.Refs())

	require.NoError(t, h.release())
	require.NoError(t, h.release())
	require.Zero(t, fc.CloseCount(), "consumer closed while referenced")

	select {
	case <-h.Released():
		t.Fatal("released channel closed early")
	default:
	}

	require.NoError(t, h.release())
	require.Equal(t, 1, fc.CloseCount())
	require.Zero(t, h.Refs())

	select {
	case <-h.Released():
	default:
		t.Fatal("released channel not closed")
	}
}

func TestConsumerHandle_AcquireAfterRelease(t *testing.T) {
	h, _ := newTestHandle(t)
	require.NoError(t, h.release())

	require.ErrorIs(t, h.acquire(), ErrHandleReleased)
	require.Zero(t, h.Refs())
}

func TestConsumerHandle_OverReleasePanics(t *testing.T) {
	h, _ := newTestHandle(t)
	require.NoError(t, h.release())

	require.Panics(t, func() { _ = h.release() })
}

func TestConsumerHandle_StopsCommitterBeforeClosingClient(t *testing.T) {
	calls := &callLog{}
	fc := testutils.NewFakeConsumer()
	h := newConsumerHandle(
		loggingConsumer{FakeConsumer: fc, log: calls},
		&recordingCommitter{log: calls},
		testutils.NewTestLogger(t),
		nil,
	)

	require.NoError(t, h.release())
	require.Equal(t, []string{"committer.Close", "client.Close"}, calls.get())
}

func TestConsumerHandle_ReturnsCloseError(t *testing.T) {
	h, fc := newTestHandle(t)
	fc.CloseErr = errors.New("close failed")

	require.NoError(t, h.acquire())
	require.NoError(t, h.release())
	require.EqualError(t, h.release(), "close failed")
}

func TestConsumerHandle_ConcurrentAcquireRelease(t *testing.T) {
	h, fc := newTestHandle(t)

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if assert.NoError(t, h.acquire()) {
				assert.NoError(t, h.release())
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int64(1), h.Refs())
	require.Zero(t, fc.CloseCount())
	require.NoError(t, h.release())
	require.Equal(t, 1, fc.CloseCount())
}
