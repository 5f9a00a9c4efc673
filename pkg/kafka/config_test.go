package kafka

import (
	"testing"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// ConsumerConfig
// ============================================================================

func TestConsumerConfig_WithDefaults_EmptyConfig(t *testing.T) {
	cfg := ConsumerConfig{}.WithDefaults()

	assert.Equal(t, CommitModeAsync, cfg.CommitMode)
	assert.Equal(t, "earliest", cfg.AutoOffsetReset)

	require.NotNil(t, cfg.SessionTimeout)
	assert.Equal(t, DefaultSessionTimeout, *cfg.SessionTimeout)

	require.NotNil(t, cfg.MaxPollInterval)
	assert.Equal(t, DefaultMaxPollInterval, *cfg.MaxPollInterval)

	require.NotNil(t, cfg.PollInterval)
	assert.Equal(t, DefaultPollInterval, *cfg.PollInterval)

	require.NotNil(t, cfg.AutoCommitInterval)
	assert.Equal(t, DefaultAutoCommitInterval, *cfg.AutoCommitInterval)

	require.NotNil(t, cfg.OffsetManagerCommitInterval)
	assert.Equal(t, OffsetManagerCommitInterval, *cfg.OffsetManagerCommitInterval)
}

func TestConsumerConfig_WithDefaults_KeepsCustomValues(t *testing.T) {
	customSession := 5 * time.Minute
	customPoll := 200 * time.Millisecond

	cfg := ConsumerConfig{
		CommitMode:      CommitModeWindow,
		AutoOffsetReset: "latest",
		SessionTimeout:  &customSession,
		PollInterval:    &customPoll,
	}.WithDefaults()

	assert.Equal(t, CommitModeWindow, cfg.CommitMode)
	assert.Equal(t, "latest", cfg.AutoOffsetReset)
	assert.Equal(t, customSession, *cfg.SessionTimeout)
	assert.Equal(t, customPoll, *cfg.PollInterval)
	assert.Equal(t, DefaultMaxPollInterval, *cfg.MaxPollInterval)
}

func TestConsumerConfig_WithDefaults_DoesNotMutateOriginal(t *testing.T) {
	original := ConsumerConfig{}
	_ = original.WithDefaults()

	assert.Nil(t, original.SessionTimeout, "original should remain unchanged")
	assert.Nil(t, original.PollInterval, "original should remain unchanged")
	assert.Empty(t, original.CommitMode, "original should remain unchanged")
}

func TestConsumerConfig_Validate(t *testing.T) {
	valid := func() ConsumerConfig {
		return ConsumerConfig{
			BootstrapServers: "localhost:9092",
			GroupID:          "group",
			Topics:           []string{"orders"},
		}.WithDefaults()
	}

	tests := []struct {
		name    string
		mutate  func(*ConsumerConfig)
		wantErr string
	}{
		{name: "valid", mutate: func(*ConsumerConfig) {}},
		{name: "missing servers", mutate: func(c *ConsumerConfig) { c.BootstrapServers = "" }, wantErr: "bootstrap servers are required"},
		{name: "missing group", mutate: func(c *ConsumerConfig) { c.GroupID = "" }, wantErr: "group id is required"},
		{name: "missing topics", mutate: func(c *ConsumerConfig) { c.Topics = nil }, wantErr: "at least one topic is required"},
		{name: "bad offset reset", mutate: func(c *ConsumerConfig) { c.AutoOffsetReset = "middle" }, wantErr: `invalid auto offset reset "middle"`},
		{name: "bad commit mode", mutate: func(c *ConsumerConfig) { c.CommitMode = "eventually" }, wantErr: `unknown commit mode "eventually"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestConsumerConfig_ValidateJoinsErrors(t *testing.T) {
	err := ConsumerConfig{}.WithDefaults().Validate()
	require.ErrorContains(t, err, "bootstrap servers are required")
	require.ErrorContains(t, err, "group id is required")
	require.ErrorContains(t, err, "at least one topic is required")
}

func TestConsumerConfig_ConfigMap(t *testing.T) {
	tests := []struct {
		mode           CommitMode
		wantAutoCommit bool
	}{
		{mode: CommitModeAsync, wantAutoCommit: true},
		{mode: CommitModeSync, wantAutoCommit: false},
		{mode: CommitModeWindow, wantAutoCommit: false},
	}
	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			cm := ConsumerConfig{
				BootstrapServers: "broker:9092",
				GroupID:          "group",
				Topics:           []string{"orders"},
				CommitMode:       tt.mode,
			}.ConfigMap()

			assertConfigValue(t, cm, "bootstrap.servers", "broker:9092")
			assertConfigValue(t, cm, "group.id", "group")
			assertConfigValue(t, cm, "enable.auto.offset.store", false)
			assertConfigValue(t, cm, "enable.auto.commit", tt.wantAutoCommit)
			assertConfigValue(t, cm, "auto.commit.interval.ms", 5000)
			assertConfigValue(t, cm, "session.timeout.ms", 240000)
			assertConfigValue(t, cm, "max.poll.interval.ms", 3400000)
			assertConfigValue(t, cm, "auto.offset.reset", "earliest")
			assert.NotContains(t, *cm, "client.id")
			assert.NotContains(t, *cm, "security.protocol")
		})
	}
}

func TestConsumerConfig_ConfigMapClientIDAndSASL(t *testing.T) {
	cm := ConsumerConfig{
		BootstrapServers: "broker:9092",
		GroupID:          "group",
		ClientID:         "relay-1",
		SASL: SASLConfig{
			Username:  "user",
			Password:  "secret",
			Mechanism: "SCRAM-SHA-512",
		},
	}.ConfigMap()

	assertConfigValue(t, cm, "client.id", "relay-1")
	assertConfigValue(t, cm, "security.protocol", "SASL_SSL")
	assertConfigValue(t, cm, "sasl.mechanisms", "SCRAM-SHA-512")
	assertConfigValue(t, cm, "sasl.username", "user")
	assertConfigValue(t, cm, "sasl.password", "secret")
}

func TestSASLConfig_ExplicitProtocol(t *testing.T) {
	cm := &kafka.ConfigMap{}
	SASLConfig{Mechanism: "PLAIN", SecurityProtocol: "SASL_PLAINTEXT"}.ApplyToConfigMap(cm)
	assertConfigValue(t, cm, "security.protocol", "SASL_PLAINTEXT")

	empty := &kafka.ConfigMap{}
	SASLConfig{Username: "ignored"}.ApplyToConfigMap(empty)
	assert.Empty(t, *empty)
}

func TestLoadConsumerConfig(t *testing.T) {
	t.Setenv("KAFKA_BOOTSTRAP_SERVERS", "b1:9092,b2:9092")
	t.Setenv("KAFKA_GROUP_ID", "relay")
	t.Setenv("KAFKA_TOPICS", "orders,payments")
	t.Setenv("KAFKA_COMMIT_MODE", "sync")
	t.Setenv("KAFKA_POLL_INTERVAL", "250ms")
	t.Setenv("KAFKA_SASL_MECHANISM", "PLAIN")

	cfg, err := LoadConsumerConfig()
	require.NoError(t, err)

	assert.Equal(t, "b1:9092,b2:9092", cfg.BootstrapServers)
	assert.Equal(t, "relay", cfg.GroupID)
	assert.Equal(t, []string{"orders", "payments"}, cfg.Topics)
	assert.Equal(t, CommitModeSync, cfg.CommitMode)
	assert.Equal(t, 250*time.Millisecond, *cfg.PollInterval)
	assert.Equal(t, DefaultSessionTimeout, *cfg.SessionTimeout)
	assert.Equal(t, "PLAIN", cfg.SASL.Mechanism)
	require.NoError(t, cfg.Validate())
}

func TestLoadConsumerConfig_InvalidDuration(t *testing.T) {
	t.Setenv("KAFKA_POLL_INTERVAL", "soon")

	_, err := LoadConsumerConfig()
	require.ErrorContains(t, err, "failed to parse consumer config")
}

// ============================================================================
// ProducerConfig
// ============================================================================

func TestProducerConfig_WithDefaults(t *testing.T) {
	cfg := ProducerConfig{}.WithDefaults()

	require.NotNil(t, cfg.SendTimeout)
	assert.Equal(t, DefaultSendTimeout, *cfg.SendTimeout)
	assert.Equal(t, 10*time.Second, *cfg.SendTimeout)

	require.NotNil(t, cfg.FlushTimeout)
	assert.Equal(t, DefaultFlushTimeout, *cfg.FlushTimeout)
}

func TestProducerConfig_Validate(t *testing.T) {
	zero := time.Duration(0)

	tests := []struct {
		name    string
		cfg     ProducerConfig
		wantErr string
	}{
		{
			name: "valid",
			cfg:  ProducerConfig{BootstrapServers: "localhost:9092", Topic: "orders"},
		},
		{
			name:    "missing servers",
			cfg:     ProducerConfig{Topic: "orders"},
			wantErr: "bootstrap servers are required",
		},
		{
			name:    "blank topic",
			cfg:     ProducerConfig{BootstrapServers: "localhost:9092", Topic: "  "},
			wantErr: "default topic is required",
		},
		{
			name:    "zero send timeout",
			cfg:     ProducerConfig{BootstrapServers: "localhost:9092", Topic: "orders", SendTimeout: &zero},
			wantErr: "send timeout must be positive",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.WithDefaults().Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestProducerConfig_ConfigMap(t *testing.T) {
	cm := ProducerConfig{
		BootstrapServers:  "broker:9092",
		Acks:              "all",
		LingerMs:          5,
		CompressionType:   "lz4",
		EnableIdempotence: true,
		MessageMaxBytes:   1 << 20,
	}.ConfigMap()

	assertConfigValue(t, cm, "bootstrap.servers", "broker:9092")
	assertConfigValue(t, cm, "acks", "all")
	assertConfigValue(t, cm, "linger.ms", 5)
	assertConfigValue(t, cm, "compression.type", "lz4")
	assertConfigValue(t, cm, "enable.idempotence", true)
	assertConfigValue(t, cm, "message.max.bytes", 1<<20)
	assert.NotContains(t, *cm, "batch.size")
	assert.NotContains(t, *cm, "client.id")
}

func TestLoadProducerConfig(t *testing.T) {
	t.Setenv("KAFKA_PRODUCER_TOPIC", "orders-out")
	t.Setenv("KAFKA_SEND_TIMEOUT", "3s")

	cfg, err := LoadProducerConfig()
	require.NoError(t, err)

	assert.Equal(t, "localhost:9092", cfg.BootstrapServers)
	assert.Equal(t, "orders-out", cfg.Topic)
	assert.Equal(t, 3*time.Second, *cfg.SendTimeout)
	assert.Equal(t, "all", cfg.Acks)
	assert.True(t, cfg.EnableIdempotence)
	assert.Equal(t, 16384, cfg.BatchSize)
}

// ============================================================================
// CommitMode
// ============================================================================

func TestParseCommitMode(t *testing.T) {
	for _, s := range []string{"async", "sync", "window"} {
		mode, err := ParseCommitMode(s)
		require.NoError(t, err)
		assert.Equal(t, CommitMode(s), mode)
	}

	_, err := ParseCommitMode("")
	require.ErrorContains(t, err, "supported: async, sync, window")
}

func TestNextOffset(t *testing.T) {
	topic := "orders"
	msg := &kafka.Message{TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: 2, Offset: 41}}

	got := nextOffset(msg)
	assert.Equal(t, "orders", *got.Topic)
	assert.Equal(t, int32(2), got.Partition)
	assert.Equal(t, kafka.Offset(42), got.Offset)
}

func assertConfigValue(t *testing.T, cm *kafka.ConfigMap, key string, want kafka.ConfigValue) {
	t.Helper()
	got, err := cm.Get(key, nil)
	require.NoError(t, err, key)
	assert.Equal(t, want, got, key)
}
