package kafka

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
)

// Default values for Kafka consumer and producer settings
const (
	DefaultSessionTimeout     = 240 * time.Second
	DefaultMaxPollInterval    = 3400 * time.Second
	DefaultPollInterval       = 100 * time.Millisecond
	DefaultAutoCommitInterval = 5 * time.Second
	DefaultSendTimeout        = 10 * time.Second
	DefaultFlushTimeout       = 15 * time.Second
)

// SASLConfig holds optional SASL authentication settings.
type SASLConfig struct {
	Username         string `env:"USERNAME"`
	Password         string `env:"PASSWORD"`
	Mechanism        string `env:"MECHANISM"`         // e.g. "PLAIN", "SCRAM-SHA-512"; empty disables SASL
	SecurityProtocol string `env:"SECURITY_PROTOCOL"` // defaults to "SASL_SSL" when SASL is enabled
}

// ApplyToConfigMap adds the SASL settings to cm if a mechanism is configured.
func (s SASLConfig) ApplyToConfigMap(cm *kafka.ConfigMap) {
	if s.Mechanism == "" {
		return
	}
	protocol := s.SecurityProtocol
	if protocol == "" {
		protocol = "SASL_SSL"
	}
	(*cm)["security.protocol"] = protocol
	(*cm)["sasl.mechanisms"] = s.Mechanism
	(*cm)["sasl.username"] = s.Username
	(*cm)["sasl.password"] = s.Password
}

// ConsumerConfig holds the configuration for a Kafka consumer
type ConsumerConfig struct {
	BootstrapServers            string         `env:"KAFKA_BOOTSTRAP_SERVERS"      envDefault:"localhost:9092"` // Kafka broker addresses
	GroupID                     string         `env:"KAFKA_GROUP_ID"`                                           // Consumer group ID for offset management
	Topics                      []string       `env:"KAFKA_TOPICS"                 envSeparator:","`            // Topics to consume from
	ClientID                    string         `env:"KAFKA_CLIENT_ID"`                                          // Optional client.id
	AutoOffsetReset             string         `env:"KAFKA_AUTO_OFFSET_RESET"      envDefault:"earliest"`       // Offset reset strategy: "earliest" or "latest"
	CommitMode                  CommitMode     `env:"KAFKA_COMMIT_MODE"            envDefault:"async"`          // How Ack/Reject commit: "async", "sync" or "window"
	AutoCommitInterval          *time.Duration `env:"KAFKA_AUTO_COMMIT_INTERVAL"   envDefault:"5s"`             // Background commit interval for stored offsets (async mode)
	OffsetManagerCommitInterval *time.Duration `env:"KAFKA_OFFSET_COMMIT_INTERVAL" envDefault:"5s"`             // Sliding window commit interval (window mode)
	SessionTimeout              *time.Duration `env:"KAFKA_SESSION_TIMEOUT"        envDefault:"240s"`           // Session timeout for Kafka consumer
	MaxPollInterval             *time.Duration `env:"KAFKA_MAX_POLL_INTERVAL"      envDefault:"3400s"`          // Max poll interval for Kafka consumer
	PollInterval                *time.Duration `env:"KAFKA_POLL_INTERVAL"          envDefault:"100ms"`          // Timeout of a single Poll call
	EnableLogs                  bool           `env:"KAFKA_ENABLE_LOGS"            envDefault:"false"`          // Enable librdkafka client logs
	SASL                        SASLConfig     `envPrefix:"KAFKA_SASL_"`
}

// LoadConsumerConfig loads consumer configuration from environment variables.
func LoadConsumerConfig() (ConsumerConfig, error) {
	cfg, err := env.ParseAs[ConsumerConfig]()
	if err != nil {
		return ConsumerConfig{}, fmt.Errorf("failed to parse consumer config: %w", err)
	}
	return cfg.WithDefaults(), nil
}

// WithDefaults returns a copy of the config with default values filled in for
// empty fields. This method does not mutate the original config.
func (c ConsumerConfig) WithDefaults() ConsumerConfig {
	if c.CommitMode == "" {
		c.CommitMode = CommitModeAsync
	}
	if c.AutoOffsetReset == "" {
		c.AutoOffsetReset = "earliest"
	}
	if c.AutoCommitInterval == nil {
		interval := DefaultAutoCommitInterval
		c.AutoCommitInterval = &interval
	}
	if c.OffsetManagerCommitInterval == nil {
		interval := OffsetManagerCommitInterval
		c.OffsetManagerCommitInterval = &interval
	}
	if c.SessionTimeout == nil {
		timeout := DefaultSessionTimeout
		c.SessionTimeout = &timeout
	}
	if c.MaxPollInterval == nil {
		interval := DefaultMaxPollInterval
		c.MaxPollInterval = &interval
	}
	if c.PollInterval == nil {
		interval := DefaultPollInterval
		c.PollInterval = &interval
	}
	return c
}

// Validate checks required fields. Call it on a config returned by WithDefaults.
func (c ConsumerConfig) Validate() error {
	var errs []error
	if c.BootstrapServers == "" {
		errs = append(errs, errors.New("bootstrap servers are required"))
	}
	if c.GroupID == "" {
		errs = append(errs, errors.New("group id is required"))
	}
	if len(c.Topics) == 0 {
		errs = append(errs, errors.New("at least one topic is required"))
	}
	switch c.AutoOffsetReset {
	case "earliest", "latest", "error":
	default:
		errs = append(errs, fmt.Errorf("invalid auto offset reset %q", c.AutoOffsetReset))
	}
	if _, err := ParseCommitMode(string(c.CommitMode)); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ConfigMap builds the librdkafka configuration. Offsets are never stored
// automatically: only Ack and Reject move them forward.
func (c ConsumerConfig) ConfigMap() *kafka.ConfigMap {
	c = c.WithDefaults()
	cm := &kafka.ConfigMap{
		"bootstrap.servers":             c.BootstrapServers,
		"group.id":                      c.GroupID,
		"auto.offset.reset":             c.AutoOffsetReset,
		"enable.auto.offset.store":      false,
		"enable.auto.commit":            c.CommitMode == CommitModeAsync,
		"auto.commit.interval.ms":       int(c.AutoCommitInterval.Milliseconds()),
		"session.timeout.ms":            int(c.SessionTimeout.Milliseconds()),
		"max.poll.interval.ms":          int(c.MaxPollInterval.Milliseconds()),
		"partition.assignment.strategy": "roundrobin",
		"go.logs.channel.enable":        c.EnableLogs,
	}
	if c.ClientID != "" {
		(*cm)["client.id"] = c.ClientID
	}
	c.SASL.ApplyToConfigMap(cm)
	return cm
}

// ProducerConfig holds the configuration for a Kafka producer
type ProducerConfig struct {
	BootstrapServers  string         `env:"KAFKA_BOOTSTRAP_SERVERS"  envDefault:"localhost:9092"` // Kafka broker addresses
	Topic             string         `env:"KAFKA_PRODUCER_TOPIC"`                                 // Default destination topic
	ClientID          string         `env:"KAFKA_CLIENT_ID"`                                      // Optional client.id
	Acks              string         `env:"KAFKA_ACKS"               envDefault:"all"`            // Replica acknowledgements required
	LingerMs          int            `env:"KAFKA_LINGER_MS"          envDefault:"5"`              // Batch messages for this long
	BatchSize         int            `env:"KAFKA_BATCH_SIZE"         envDefault:"16384"`          // Batch size in bytes
	CompressionType   string         `env:"KAFKA_COMPRESSION_TYPE"   envDefault:"lz4"`            // Compression codec
	EnableIdempotence bool           `env:"KAFKA_ENABLE_IDEMPOTENCE" envDefault:"true"`           // Idempotent delivery
	MessageMaxBytes   int            `env:"KAFKA_MESSAGE_MAX_BYTES"`                              // Optional message.max.bytes
	SendTimeout       *time.Duration `env:"KAFKA_SEND_TIMEOUT"       envDefault:"10s"`            // Upper bound for one Send
	FlushTimeout      *time.Duration `env:"KAFKA_FLUSH_TIMEOUT"      envDefault:"15s"`            // Flush timeout on Close
	EnableLogs        bool           `env:"KAFKA_ENABLE_LOGS"        envDefault:"false"`          // Enable librdkafka client logs
	SASL              SASLConfig     `envPrefix:"KAFKA_SASL_"`
}

// LoadProducerConfig loads producer configuration from environment variables.
func LoadProducerConfig() (ProducerConfig, error) {
	cfg, err := env.ParseAs[ProducerConfig]()
	if err != nil {
		return ProducerConfig{}, fmt.Errorf("failed to parse producer config: %w", err)
	}
	return cfg.WithDefaults(), nil
}

// WithDefaults returns a copy of the config with default values filled in for
// any nil pointer fields.
func (c ProducerConfig) WithDefaults() ProducerConfig {
	if c.SendTimeout == nil {
		timeout := DefaultSendTimeout
		c.SendTimeout = &timeout
	}
	if c.FlushTimeout == nil {
		timeout := DefaultFlushTimeout
		c.FlushTimeout = &timeout
	}
	return c
}

// Validate checks required fields.
func (c ProducerConfig) Validate() error {
	var errs []error
	if c.BootstrapServers == "" {
		errs = append(errs, errors.New("bootstrap servers are required"))
	}
	if strings.TrimSpace(c.Topic) == "" {
		errs = append(errs, errors.New("default topic is required"))
	}
	if c.SendTimeout != nil && *c.SendTimeout <= 0 {
		errs = append(errs, fmt.Errorf("send timeout must be positive, got %s", *c.SendTimeout))
	}
	return errors.Join(errs...)
}

// ConfigMap builds the librdkafka producer configuration.
func (c ProducerConfig) ConfigMap() *kafka.ConfigMap {
	cm := &kafka.ConfigMap{
		"bootstrap.servers":      c.BootstrapServers,
		"go.logs.channel.enable": c.EnableLogs,
	}
	if c.Acks != "" {
		(*cm)["acks"] = c.Acks
	}
	if c.LingerMs > 0 {
		(*cm)["linger.ms"] = c.LingerMs
	}
	if c.BatchSize > 0 {
		(*cm)["batch.size"] = c.BatchSize
	}
	if c.CompressionType != "" {
		(*cm)["compression.type"] = c.CompressionType
	}
	if c.EnableIdempotence {
		(*cm)["enable.idempotence"] = true
	}
	if c.MessageMaxBytes > 0 {
		(*cm)["message.max.bytes"] = c.MessageMaxBytes
	}
	if c.ClientID != "" {
		(*cm)["client.id"] = c.ClientID
	}
	c.SASL.ApplyToConfigMap(cm)
	return cm
}
