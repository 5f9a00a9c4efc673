package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/ava-labs/avalanche-msgbus/pkg/msgbus"
)

// Extract returns ctx carrying the remote span context found in headers, if
// any. headers is not modified.
func Extract(ctx context.Context, headers msgbus.RawHeaders) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(headers))
}

// Inject returns a copy of headers with the span context of ctx added. The
// input map is left untouched.
func Inject(ctx context.Context, headers msgbus.RawHeaders) msgbus.RawHeaders {
	out := headers.Clone()
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(out))
	return out
}
