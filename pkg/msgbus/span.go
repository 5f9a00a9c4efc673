package msgbus

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys, following the OpenTelemetry messaging conventions used by
// Kafka clients.
const (
	MessagingSystemKey          = "messaging.system"
	MessagingOperationKey       = "messaging.operation"
	MessagingPayloadSizeKey     = "messaging.message.payload_size_bytes"
	MessagingDestinationKey     = "messaging.destination"
	MessagingDestinationKindKey = "messaging.destination_kind"

	KafkaSourcePartitionKey = "messaging.kafka.source.partition"
	KafkaMessageKeyKey      = "messaging.kafka.message.key"
	KafkaMessageOffsetKey   = "messaging.kafka.message.offset"
	KafkaProducerMessageKey = "messaging.kafka.message_key"

	OperationReceive     = "receive"
	DestinationKindTopic = "topic"
)

// SpanSpec is a span description that has not been started yet. Building one
// has no side effects; Start hands it to a tracer.
//
// Status is left Unset by constructors so the caller can record the outcome
// of processing before or after starting the span.
type SpanSpec struct {
	Name       string
	Kind       trace.SpanKind
	Attributes []attribute.KeyValue
	Status     codes.Code
}

// Attr returns the value of the attribute with the given key.
func (s SpanSpec) Attr(key string) (attribute.Value, bool) {
	for _, kv := range s.Attributes {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

// Start starts the span on tracer. A non-Unset Status is applied right away.
func (s SpanSpec) Start(ctx context.Context, tracer trace.Tracer) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, s.Name,
		trace.WithSpanKind(s.Kind),
		trace.WithAttributes(s.Attributes...),
	)
	if s.Status != codes.Unset {
		span.SetStatus(s.Status, "")
	}
	return ctx, span
}
