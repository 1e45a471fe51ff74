// Package observability wires structured-ish logging and tracing
// helpers for the broker and realtime client, generalizing the
// log.Printf conventions used throughout the example servers.
package observability

import (
	"context"
	"log"

	"go.opentelemetry.io/otel/trace"

	"github.com/digitallysavvy/realtimevoice/pkg/protocol"
)

// LogEvent writes a one-line summary of a server event, annotated with
// the active span's trace ID when one is present on ctx.
func LogEvent(ctx context.Context, ev protocol.ServerEvent) {
	spanCtx := trace.SpanContextFromContext(ctx)
	if spanCtx.HasTraceID() {
		log.Printf("[realtime] trace=%s type=%s call_id=%s", spanCtx.TraceID(), ev.Type, ev.CallID)
		return
	}
	log.Printf("[realtime] type=%s call_id=%s", ev.Type, ev.CallID)
}

// LogSessionStart logs the start of a broker session relay.
func LogSessionStart(remoteAddr string) {
	log.Printf("[broker] session offer received from %s", remoteAddr)
}

// LogSessionError logs a broker-side failure, including whatever stage
// (validation vs upstream relay) it occurred at.
func LogSessionError(stage string, err error) {
	log.Printf("[broker] %s failed: %v", stage, err)
}

// LogToolInvocation logs the outcome of one tool dispatch.
func LogToolInvocation(toolName string, ok bool, durationMs int64) {
	status := "ok"
	if !ok {
		status = "failed"
	}
	log.Printf("[invocation] tool=%s status=%s duration_ms=%d", toolName, status, durationMs)
}
