package main

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/ava-labs/avalanche-msgbus/pkg/kafka"
	"github.com/ava-labs/avalanche-msgbus/pkg/metrics"
	"github.com/ava-labs/avalanche-msgbus/pkg/msgbus"
	"github.com/ava-labs/avalanche-msgbus/pkg/telemetry"
)

const relayedByHeader = "x-relayed-by"

var errNotStreaming = errors.New("relay is not streaming")

// relay forwards every message of a stream to a producer. A message is acked
// once it was sent, and nacked if sending failed. With a dead letter topic
// configured a failed message is sent there instead and rejected.
type relay[M msgbus.IncomingMessage] struct {
	producer        msgbus.Producer[kafka.ProducerOptions]
	tracer          trace.Tracer
	log             *zap.SugaredLogger
	metrics         *metrics.Metrics
	concurrency     int64
	sem             *semaphore.Weighted
	deadLetterTopic string
	relayedBy       string
	streaming       atomic.Bool
}

func newRelay[M msgbus.IncomingMessage](
	producer msgbus.Producer[kafka.ProducerOptions],
	tracer trace.Tracer,
	log *zap.SugaredLogger,
	m *metrics.Metrics,
	concurrency int64,
	deadLetterTopic string,
	relayedBy string,
) *relay[M] {
	return &relay[M]{
		producer:        producer,
		tracer:          tracer,
		log:             log,
		metrics:         m,
		concurrency:     concurrency,
		sem:             semaphore.NewWeighted(concurrency),
		deadLetterTopic: deadLetterTopic,
		relayedBy:       relayedBy,
	}
}

// ready backs the readiness probe.
func (r *relay[M]) ready() error {
	if !r.streaming.Load() {
		return errNotStreaming
	}
	return nil
}

// run relays messages until ctx is done or the stream ends. It waits for
// in-flight messages before returning. A terminal stream error is returned;
// a clean end of stream or cancellation is not an error.
func (r *relay[M]) run(ctx context.Context, stream msgbus.Stream[M]) error {
	r.streaming.Store(true)
	defer r.streaming.Store(false)

	var runErr error
	for msg, err := range msgbus.Messages(ctx, stream) {
		if err != nil {
			if msgbus.IsTerminal(err) {
				runErr = fmt.Errorf("stream terminated: %w", err)
				break
			}
			if ctx.Err() != nil {
				break
			}
			r.log.Warnw("failed to read message", "error", err)
			continue
		}

		if err := r.sem.Acquire(ctx, 1); err != nil {
			// The message was never acked, so it is redelivered.
			closeMessage(r.log, msg)
			break
		}
		r.metrics.IncMessagesInFlight()
		go func() {
			defer r.sem.Release(1)
			defer r.metrics.DecMessagesInFlight()
			defer closeMessage(r.log, msg)
			r.handle(ctx, msg)
		}()
	}

	// Wait for in-flight messages. They finish on their own: sends are
	// bounded by the send timeout.
	if err := r.sem.Acquire(context.Background(), r.concurrency); err == nil {
		r.sem.Release(r.concurrency)
	}
	return runErr
}

func (r *relay[M]) handle(ctx context.Context, msg M) {
	start := time.Now()
	headers := msg.Headers()

	spec := msg.Span()
	ctx, span := spec.Start(telemetry.Extract(ctx, headers), r.tracer)
	defer span.End()

	opts := kafka.NewProducerOptions().AddHeader(relayedByHeader, r.relayedBy)
	out := telemetry.Inject(ctx, headers)

	err := r.producer.Send(ctx, string(msg.Key()), out, msg.Payload(), opts)
	if err == nil {
		span.SetStatus(codes.Ok, "")
		r.settle(ctx, msg, metrics.StatusSuccess, start, msg.Ack)
		return
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, "send failed")
	r.log.Warnw("failed to relay message",
		"span", spec.Name,
		"key", string(msg.Key()),
		"error", err,
	)

	if r.deadLetterTopic == "" {
		r.settle(ctx, msg, metrics.StatusNacked, start, msg.Nack)
		return
	}

	dlqOpts := opts.OverrideTopic(r.deadLetterTopic)
	if dlqErr := r.producer.Send(ctx, string(msg.Key()), out, msg.Payload(), dlqOpts); dlqErr != nil {
		r.log.Errorw("failed to publish to dead letter topic",
			"deadLetterTopic", r.deadLetterTopic,
			"error", dlqErr,
		)
		r.settle(ctx, msg, metrics.StatusNacked, start, msg.Nack)
		return
	}
	r.settle(ctx, msg, metrics.StatusDeadLettered, start, msg.Reject)
}

// settle applies the acknowledgement and records the outcome. A message that
// was already sent is still acknowledged during shutdown.
func (r *relay[M]) settle(
	ctx context.Context,
	msg M,
	status string,
	start time.Time,
	ack func(context.Context) error,
) {
	if err := ack(context.WithoutCancel(ctx)); err != nil {
		r.log.Errorw("failed to acknowledge message",
			"key", string(msg.Key()),
			"status", status,
			"error", err,
		)
		status = metrics.StatusError
	}
	r.metrics.RecordMessageRelayed(status, time.Since(start))
}

func closeMessage[M msgbus.IncomingMessage](log *zap.SugaredLogger, msg M) {
	if err := msg.Close(); err != nil {
		log.Warnw("failed to close message", "error", err)
	}
}
