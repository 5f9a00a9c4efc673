package main

import (
	"time"

	"github.com/urfave/cli/v2"

	"github.com/ava-labs/avalanche-msgbus/pkg/kafka"
)

// runFlags returns all CLI flags for the relay run command
func runFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"v"},
			Usage:   "Enable verbose logging",
		},
		// Kafka consumer flags
		&cli.StringFlag{
			Name:     "bootstrap-servers",
			Aliases:  []string{"b"},
			Usage:    "Kafka bootstrap servers (comma-separated)",
			EnvVars:  []string{"KAFKA_BOOTSTRAP_SERVERS"},
			Required: true,
		},
		&cli.StringFlag{
			Name:     "group-id",
			Aliases:  []string{"g"},
			Usage:    "Kafka consumer group ID",
			EnvVars:  []string{"KAFKA_GROUP_ID"},
			Required: true,
		},
		&cli.StringSliceFlag{
			Name:     "topics",
			Aliases:  []string{"t"},
			Usage:    "Kafka topics to consume from (comma-separated)",
			EnvVars:  []string{"KAFKA_TOPICS"},
			Required: true,
		},
		&cli.StringFlag{
			Name:    "client-id",
			Usage:   "Kafka client.id",
			EnvVars: []string{"KAFKA_CLIENT_ID"},
		},
		&cli.StringFlag{
			Name:    "auto-offset-reset",
			Aliases: []string{"o"},
			Usage:   "Kafka auto offset reset policy (earliest, latest, error)",
			EnvVars: []string{"KAFKA_AUTO_OFFSET_RESET"},
			Value:   "earliest",
		},
		&cli.StringFlag{
			Name:    "commit-mode",
			Usage:   "How acknowledged offsets are committed (async, sync, window)",
			EnvVars: []string{"KAFKA_COMMIT_MODE"},
			Value:   string(kafka.CommitModeAsync),
		},
		&cli.DurationFlag{
			Name:    "offset-commit-interval",
			Usage:   "Interval for committing offsets in window commit mode",
			EnvVars: []string{"KAFKA_OFFSET_COMMIT_INTERVAL"},
			Value:   kafka.OffsetManagerCommitInterval,
		},
		&cli.DurationFlag{
			Name:    "auto-commit-interval",
			Usage:   "Interval for committing stored offsets in async commit mode",
			EnvVars: []string{"KAFKA_AUTO_COMMIT_INTERVAL"},
			Value:   kafka.DefaultAutoCommitInterval,
		},
		&cli.DurationFlag{
			Name:    "session-timeout",
			Usage:   "Kafka consumer session timeout",
			EnvVars: []string{"KAFKA_SESSION_TIMEOUT"},
			Value:   kafka.DefaultSessionTimeout,
		},
		&cli.DurationFlag{
			Name:    "max-poll-interval",
			Usage:   "Kafka consumer max poll interval",
			EnvVars: []string{"KAFKA_MAX_POLL_INTERVAL"},
			Value:   kafka.DefaultMaxPollInterval,
		},
		&cli.DurationFlag{
			Name:    "poll-interval",
			Usage:   "Timeout of a single Kafka poll",
			EnvVars: []string{"KAFKA_POLL_INTERVAL"},
			Value:   kafka.DefaultPollInterval,
		},
		&cli.BoolFlag{
			Name:    "enable-kafka-logs",
			Usage:   "Forward librdkafka logs",
			EnvVars: []string{"KAFKA_ENABLE_LOGS"},
		},
		// Kafka producer flags
		&cli.StringFlag{
			Name:     "destination-topic",
			Aliases:  []string{"d"},
			Usage:    "Topic messages are relayed to",
			EnvVars:  []string{"KAFKA_DESTINATION_TOPIC"},
			Required: true,
		},
		&cli.StringFlag{
			Name:    "dead-letter-topic",
			Usage:   "Topic for messages that could not be relayed; empty nacks them instead",
			EnvVars: []string{"KAFKA_DEAD_LETTER_TOPIC"},
		},
		&cli.DurationFlag{
			Name:    "send-timeout",
			Usage:   "Upper bound for delivering one message",
			EnvVars: []string{"KAFKA_SEND_TIMEOUT"},
			Value:   kafka.DefaultSendTimeout,
		},
		&cli.DurationFlag{
			Name:    "flush-timeout",
			Usage:   "Timeout for flushing the producer on shutdown",
			EnvVars: []string{"KAFKA_FLUSH_TIMEOUT"},
			Value:   kafka.DefaultFlushTimeout,
		},
		&cli.Int64Flag{
			Name:    "concurrency",
			Usage:   "Messages relayed concurrently",
			EnvVars: []string{"RELAY_CONCURRENCY"},
			Value:   10,
		},
		// Kafka SASL flags
		&cli.StringFlag{
			Name:    "kafka-sasl-username",
			Usage:   "Kafka SASL username",
			EnvVars: []string{"KAFKA_SASL_USERNAME"},
		},
		&cli.StringFlag{
			Name:    "kafka-sasl-password",
			Usage:   "Kafka SASL password",
			EnvVars: []string{"KAFKA_SASL_PASSWORD"},
		},
		&cli.StringFlag{
			Name:    "kafka-sasl-mechanism",
			Usage:   "Kafka SASL mechanism (PLAIN, SCRAM-SHA-256, SCRAM-SHA-512); empty disables SASL",
			EnvVars: []string{"KAFKA_SASL_MECHANISM"},
		},
		&cli.StringFlag{
			Name:    "kafka-security-protocol",
			Usage:   "Kafka security protocol when SASL is enabled",
			EnvVars: []string{"KAFKA_SASL_SECURITY_PROTOCOL"},
			Value:   "SASL_SSL",
		},
		// Metrics flags
		&cli.StringFlag{
			Name:    "metrics-host",
			Usage:   "Host for the metrics server",
			EnvVars: []string{"METRICS_HOST"},
		},
		&cli.IntFlag{
			Name:    "metrics-port",
			Usage:   "Port for the metrics server",
			EnvVars: []string{"METRICS_PORT"},
			Value:   9090,
		},
		&cli.StringFlag{
			Name:    "service-name",
			Usage:   "Service name used as a metrics label and trace resource",
			EnvVars: []string{"SERVICE_NAME"},
			Value:   "msgbus-relay",
		},
		&cli.StringFlag{
			Name:    "environment",
			Usage:   "Deployment environment label",
			EnvVars: []string{"ENVIRONMENT"},
		},
		&cli.StringFlag{
			Name:    "region",
			Usage:   "Cloud region label",
			EnvVars: []string{"REGION"},
		},
		&cli.StringFlag{
			Name:    "cloud-provider",
			Usage:   "Cloud provider label",
			EnvVars: []string{"CLOUD_PROVIDER"},
		},
		// Tracing flags
		&cli.BoolFlag{
			Name:    "otel-enabled",
			Usage:   "Export traces over OTLP",
			EnvVars: []string{"OTEL_ENABLED"},
		},
		&cli.StringFlag{
			Name:    "otel-exporter",
			Usage:   "OTLP exporter (grpc, http)",
			EnvVars: []string{"OTEL_EXPORTER"},
			Value:   "grpc",
		},
		&cli.StringFlag{
			Name:    "otel-endpoint",
			Usage:   "OTLP collector endpoint",
			EnvVars: []string{"OTEL_ENDPOINT"},
			Value:   "localhost:4317",
		},
		&cli.BoolFlag{
			Name:    "otel-insecure",
			Usage:   "Disable TLS to the OTLP collector",
			EnvVars: []string{"OTEL_INSECURE"},
			Value:   true,
		},
		&cli.Float64Flag{
			Name:    "otel-sampling-rate",
			Usage:   "Trace sampling rate (0.0 to 1.0)",
			EnvVars: []string{"OTEL_SAMPLING_RATE"},
			Value:   1.0,
		},
		&cli.DurationFlag{
			Name:    "shutdown-timeout",
			Usage:   "Timeout for shutting down the metrics server and tracer",
			EnvVars: []string{"SHUTDOWN_TIMEOUT"},
			Value:   5 * time.Second,
		},
	}
}
