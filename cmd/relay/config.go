package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/ava-labs/avalanche-msgbus/pkg/kafka"
	"github.com/ava-labs/avalanche-msgbus/pkg/metrics"
	"github.com/ava-labs/avalanche-msgbus/pkg/telemetry"
)

// Config holds all configuration for the relay application
type Config struct {
	// Application settings
	Verbose         bool
	Concurrency     int64
	ShutdownTimeout time.Duration
	DeadLetterTopic string

	Consumer  kafka.ConsumerConfig
	Producer  kafka.ProducerConfig
	Telemetry telemetry.Config

	// Metrics settings
	MetricsHost string
	MetricsPort int
	Labels      metrics.Labels
}

// MetricsAddr returns the formatted metrics address
func (c *Config) MetricsAddr() string {
	return fmt.Sprintf("%s:%d", c.MetricsHost, c.MetricsPort)
}

// Validate checks the settings the kafka package does not cover.
func (c *Config) Validate() error {
	errs := []error{c.Consumer.Validate(), c.Producer.Validate()}
	if c.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("concurrency must be positive, got %d", c.Concurrency))
	}
	if c.DeadLetterTopic != "" && c.DeadLetterTopic == c.Producer.Topic {
		errs = append(errs, errors.New("dead letter topic must differ from the destination topic"))
	}
	for _, topic := range c.Consumer.Topics {
		if topic == c.Producer.Topic {
			errs = append(errs, fmt.Errorf("destination topic %q is also consumed", topic))
		}
	}
	return errors.Join(errs...)
}

// buildConfig builds a Config from CLI context flags
func buildConfig(c *cli.Context) (*Config, error) {
	mode, err := kafka.ParseCommitMode(c.String("commit-mode"))
	if err != nil {
		return nil, err
	}

	sasl := kafka.SASLConfig{
		Username:         c.String("kafka-sasl-username"),
		Password:         c.String("kafka-sasl-password"),
		Mechanism:        c.String("kafka-sasl-mechanism"),
		SecurityProtocol: c.String("kafka-security-protocol"),
	}

	offsetCommitInterval := c.Duration("offset-commit-interval")
	autoCommitInterval := c.Duration("auto-commit-interval")
	sessionTimeout := c.Duration("session-timeout")
	maxPollInterval := c.Duration("max-poll-interval")
	pollInterval := c.Duration("poll-interval")
	sendTimeout := c.Duration("send-timeout")
	flushTimeout := c.Duration("flush-timeout")

	cfg := &Config{
		Verbose:         c.Bool("verbose"),
		Concurrency:     c.Int64("concurrency"),
		ShutdownTimeout: c.Duration("shutdown-timeout"),
		DeadLetterTopic: c.String("dead-letter-topic"),
		Consumer: kafka.ConsumerConfig{
			BootstrapServers:            c.String("bootstrap-servers"),
			GroupID:                     c.String("group-id"),
			Topics:                      splitList(c.StringSlice("topics")),
			ClientID:                    c.String("client-id"),
			AutoOffsetReset:             c.String("auto-offset-reset"),
			CommitMode:                  mode,
			AutoCommitInterval:          &autoCommitInterval,
			OffsetManagerCommitInterval: &offsetCommitInterval,
			SessionTimeout:              &sessionTimeout,
			MaxPollInterval:             &maxPollInterval,
			PollInterval:                &pollInterval,
			EnableLogs:                  c.Bool("enable-kafka-logs"),
			SASL:                        sasl,
		},
		Producer: kafka.ProducerConfig{
			BootstrapServers:  c.String("bootstrap-servers"),
			Topic:             c.String("destination-topic"),
			ClientID:          c.String("client-id"),
			Acks:              "all",
			LingerMs:          5,
			BatchSize:         16384,
			CompressionType:   "lz4",
			EnableIdempotence: true,
			SendTimeout:       &sendTimeout,
			FlushTimeout:      &flushTimeout,
			EnableLogs:        c.Bool("enable-kafka-logs"),
			SASL:              sasl,
		},
		Telemetry: telemetry.Config{
			Enabled:      c.Bool("otel-enabled"),
			ServiceName:  c.String("service-name"),
			Environment:  c.String("environment"),
			ExporterType: c.String("otel-exporter"),
			Endpoint:     c.String("otel-endpoint"),
			Insecure:     c.Bool("otel-insecure"),
			SamplingRate: c.Float64("otel-sampling-rate"),
		},
		MetricsHost: c.String("metrics-host"),
		MetricsPort: c.Int("metrics-port"),
		Labels: metrics.Labels{
			Service:       c.String("service-name"),
			Environment:   c.String("environment"),
			Region:        c.String("region"),
			CloudProvider: c.String("cloud-provider"),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// splitList flattens comma-separated entries, since an env var yields one
// entry holding the whole list.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
