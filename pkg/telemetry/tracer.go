package telemetry

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const (
	// TracerName is the name under which the realtime voice agent's
	// spans are grouped.
	TracerName = "realtimevoice"
)

// GetTracer returns the global tracer. Until NewProvider installs a
// real provider, the global tracer is otel's built-in no-op, so spans
// are free when tracing hasn't been configured. Passing a non-nil
// override lets a caller supply its own tracer, e.g. in tests.
func GetTracer(override trace.Tracer) trace.Tracer {
	if override != nil {
		return override
	}
	return otel.Tracer(TracerName)
}
