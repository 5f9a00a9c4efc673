package msgbus

import "context"

// Producer sends one message per call.
//
// O carries backend-specific per-call options such as a destination
// override or extra headers. Send returns only after the backend confirmed
// delivery or failed; it never returns a payload.
type Producer[O any] interface {
	Send(ctx context.Context, key string, headers RawHeaders, payload []byte, opts O) error

	// Span describes the send span for the given call without sending.
	Span(key string, headers RawHeaders, payload []byte, opts O) SpanSpec
}
