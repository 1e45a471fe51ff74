package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SpanOptions configures a telemetry span
type SpanOptions struct {
	// Name is the operation name for the span
	Name string

	// Attributes are key-value pairs attached to the span
	Attributes []attribute.KeyValue

	// EndWhenDone controls whether the span should be ended automatically when the function returns
	EndWhenDone bool
}

// RecordSpan creates and executes a telemetry span for an operation.
// The span is automatically ended when the function completes, unless EndWhenDone is false.
// Errors are automatically recorded on the span.
func RecordSpan[T any](
	ctx context.Context,
	tracer trace.Tracer,
	opts SpanOptions,
	fn func(context.Context, trace.Span) (T, error),
) (T, error) {
	ctx, span := tracer.Start(ctx, opts.Name,
		trace.WithAttributes(opts.Attributes...),
	)

	result, err := fn(ctx, span)

	if err != nil {
		RecordErrorOnSpan(span, err)
		span.End()
		var zero T
		return zero, err
	}

	if opts.EndWhenDone {
		span.End()
	}

	return result, nil
}

// RecordErrorOnSpan records an error on a span and sets the span status to error.
func RecordErrorOnSpan(span trace.Span, err error) {
	if err == nil {
		return
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
