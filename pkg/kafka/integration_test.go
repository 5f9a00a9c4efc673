//go:build integration
// +build integration

package kafka

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"

	"github.com/ava-labs/avalanche-msgbus/pkg/kafka/testutils"
	"github.com/ava-labs/avalanche-msgbus/pkg/msgbus"
)

// setupKafka starts a Kafka container and returns the bootstrap servers
func setupKafka(ctx context.Context, t *testing.T) string {
	t.Helper()
	container, err := tckafka.Run(ctx,
		"confluentinc/confluent-local:7.5.0",
		tckafka.WithClusterID("test-cluster"),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate kafka container: %s", err)
		}
	})

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err)
	return brokers[0]
}

// createTopic creates a Kafka topic with the specified number of partitions
func createTopic(ctx context.Context, t *testing.T, bootstrapServers, topic string, partitions int) {
	t.Helper()
	admin, err := kafka.NewAdminClient(&kafka.ConfigMap{"bootstrap.servers": bootstrapServers})
	require.NoError(t, err)
	defer admin.Close()

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	results, err := admin.CreateTopics(ctx, []kafka.TopicSpecification{{
		Topic:             topic,
		NumPartitions:     partitions,
		ReplicationFactor: 1,
	}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, kafka.ErrNoError, results[0].Error.Code(), results[0].Error.String())
}

func integrationConsumer(ctx context.Context, t *testing.T, brokers, topic, group string, mode CommitMode) *Consumer {
	t.Helper()
	interval := 200 * time.Millisecond
	c, err := NewConsumer(ctx, testutils.NewTestLogger(t), ConsumerConfig{
		BootstrapServers:            brokers,
		GroupID:                     group,
		Topics:                      []string{topic},
		AutoOffsetReset:             "earliest",
		CommitMode:                  mode,
		OffsetManagerCommitInterval: &interval,
	}, nil)
	require.NoError(t, err)
	return c
}

func sendAll(ctx context.Context, t *testing.T, p *Producer, from, to int) {
	t.Helper()
	for i := from; i < to; i++ {
		err := p.Send(ctx, fmt.Sprintf("key-%d", i), msgbus.RawHeaders{"seq": fmt.Sprint(i)},
			[]byte(fmt.Sprintf("value-%d", i)), NewProducerOptions())
		require.NoError(t, err)
	}
}

func TestIntegration_RoundTripAndResume(t *testing.T) {
	for _, mode := range []CommitMode{CommitModeAsync, CommitModeSync, CommitModeWindow} {
		t.Run(string(mode), func(t *testing.T) {
			ctx, cancel := context.WithTimeout(t.Context(), 3*time.Minute)
			defer cancel()

			brokers := setupKafka(ctx, t)
			topic := "msgbus-" + string(mode)
			createTopic(ctx, t, brokers, topic, 1)

			producer, err := NewProducer(ctx, testutils.NewTestLogger(t), ProducerConfig{
				BootstrapServers: brokers,
				Topic:            topic,
				Acks:             "all",
			}, nil)
			require.NoError(t, err)
			defer producer.Close(5 * time.Second)

			sendAll(ctx, t, producer, 0, 5)

			// First consumer reads and acks everything.
			stream, err := integrationConsumer(ctx, t, brokers, topic, "group-"+string(mode), mode).IntoStream(ctx)
			require.NoError(t, err)
			for i := range 5 {
				m, err := stream.Next(ctx)
				require.NoError(t, err)
				assert.Equal(t, fmt.Sprintf("key-%d", i), string(m.Key()))
				assert.Equal(t, fmt.Sprintf("value-%d", i), string(m.Payload()))
				assert.Equal(t, msgbus.RawHeaders{"seq": fmt.Sprint(i)}, m.Headers())
				require.NoError(t, m.Ack(ctx))
				require.NoError(t, m.Close())
			}
			// Closing the last reference flushes stored or windowed offsets.
			require.NoError(t, stream.Close())

			sendAll(ctx, t, producer, 5, 6)

			// Same group resumes after the acked offsets.
			stream, err = integrationConsumer(ctx, t, brokers, topic, "group-"+string(mode), mode).IntoStream(ctx)
			require.NoError(t, err)
			defer stream.Close()

			m, err := stream.Next(ctx)
			require.NoError(t, err)
			defer m.Close()
			assert.Equal(t, "value-5", string(m.Payload()))
			assert.Equal(t, kafka.Offset(5), m.Offset())
		})
	}
}

func TestIntegration_NackRedeliversToNewConsumer(t *testing.T) {
	ctx, cancel := context.WithTimeout(t.Context(), 3*time.Minute)
	defer cancel()

	brokers := setupKafka(ctx, t)
	topic := "msgbus-nack"
	createTopic(ctx, t, brokers, topic, 1)

	producer, err := NewProducer(ctx, testutils.NewTestLogger(t), ProducerConfig{
		BootstrapServers: brokers,
		Topic:            topic,
	}, nil)
	require.NoError(t, err)
	defer producer.Close(5 * time.Second)
	sendAll(ctx, t, producer, 0, 1)

	stream, err := integrationConsumer(ctx, t, brokers, topic, "group-nack", CommitModeSync).IntoStream(ctx)
	require.NoError(t, err)
	m, err := stream.Next(ctx)
	require.NoError(t, err)
	require.NoError(t, m.Nack(ctx))
	require.NoError(t, m.Close())
	require.NoError(t, stream.Close())

	stream, err = integrationConsumer(ctx, t, brokers, topic, "group-nack", CommitModeSync).IntoStream(ctx)
	require.NoError(t, err)
	defer stream.Close()

	again, err := stream.Next(ctx)
	require.NoError(t, err)
	defer again.Close()
	assert.Equal(t, "value-0", string(again.Payload()))
}

func TestIntegration_ProducerOverrideTopic(t *testing.T) {
	ctx, cancel := context.WithTimeout(t.Context(), 3*time.Minute)
	defer cancel()

	brokers := setupKafka(ctx, t)
	createTopic(ctx, t, brokers, "orders", 1)
	createTopic(ctx, t, brokers, "orders-retry", 1)

	producer, err := NewProducer(ctx, testutils.NewTestLogger(t), ProducerConfig{
		BootstrapServers: brokers,
		Topic:            "orders",
	}, nil)
	require.NoError(t, err)
	defer producer.Close(5 * time.Second)

	opts := NewProducerOptions().OverrideTopic("orders-retry").AddHeader("a", "2").AddHeader("b", "3")
	require.NoError(t, producer.Send(ctx, "k", msgbus.RawHeaders{"a": "1"}, []byte("x"), opts))

	stream, err := integrationConsumer(ctx, t, brokers, "orders-retry", "group-override", CommitModeAsync).IntoStream(ctx)
	require.NoError(t, err)
	defer stream.Close()

	m, err := stream.Next(ctx)
	require.NoError(t, err)
	defer m.Close()
	assert.Equal(t, "orders-retry", m.Topic())
	assert.Equal(t, msgbus.RawHeaders{"a": "2", "b": "3"}, m.Headers())
}
