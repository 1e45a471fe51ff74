// Package invocation dispatches completed tool calls to registered
// handlers under a timeout, and serializes their outcome back into the
// protocol's tool output envelope and client events (spec.md §4.6).
package invocation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/digitallysavvy/realtimevoice/pkg/observability"
	"github.com/digitallysavvy/realtimevoice/pkg/protocol"
	"github.com/digitallysavvy/realtimevoice/pkg/telemetry"
)

// Handler executes one tool call. Implementations should observe ctx
// for cancellation; the engine also races the call against its own
// timeout regardless of the handler's cooperation.
type Handler func(ctx context.Context, input any) (any, error)

// ToolSpec describes one registered tool.
type ToolSpec struct {
	Name        string
	Description string
	Handler     Handler

	// AutoResponse overrides the call-level default for whether a
	// response.create event follows this tool's output. nil inherits
	// the caller's default.
	AutoResponse *bool
}

// Registry is a readonly lookup from tool name to its spec.
type Registry struct {
	tools map[string]ToolSpec
}

// NewRegistry builds a Registry from a list of tool specs.
func NewRegistry(specs ...ToolSpec) *Registry {
	tools := make(map[string]ToolSpec, len(specs))
	for _, s := range specs {
		tools[s.Name] = s
	}
	return &Registry{tools: tools}
}

// Lookup returns the spec for name, if registered.
func (r *Registry) Lookup(name string) (ToolSpec, bool) {
	spec, ok := r.tools[name]
	return spec, ok
}

// ErrToolTimeout is a sentinel error for a tool timeout. Invoke does not
// return it: it detects a timeout from the call context and reports it
// as a tool_timeout envelope.
var ErrToolTimeout = fmt.Errorf("tool execution timed out")

// Invoke looks up name, parses arguments, and runs the handler under
// timeout. It never returns an error: every outcome is captured in the
// returned envelope. tracer may be nil, in which case the global tracer
// from telemetry.GetTracer is used (a no-op until a provider is
// installed).
func Invoke(ctx context.Context, registry *Registry, name, arguments string, timeout time.Duration, tracer trace.Tracer) protocol.Envelope {
	if name == "" {
		return protocol.Failure(protocol.EnvelopeErrorUnknownTool, "No tool name was supplied for this call.", "", nil)
	}

	spec, ok := registry.Lookup(name)
	if !ok {
		return protocol.Failure(protocol.EnvelopeErrorUnknownTool, fmt.Sprintf("No tool is registered with name %q.", name), "", &protocol.EnvelopeMeta{ToolName: name})
	}

	input, err := parseArguments(arguments)
	if err != nil {
		return protocol.Failure(protocol.EnvelopeErrorInvalidArguments, "Tool arguments were not valid JSON.", "", &protocol.EnvelopeMeta{ToolName: name})
	}

	if tracer == nil {
		tracer = telemetry.GetTracer(nil)
	}

	start := time.Now()
	envelope, _ := telemetry.RecordSpan(ctx, tracer, telemetry.SpanOptions{
		Name:        "tool.invoke",
		Attributes:  []attribute.KeyValue{attribute.String("tool.name", name)},
		EndWhenDone: true,
	}, func(spanCtx context.Context, span trace.Span) (protocol.Envelope, error) {
		return invokeHandler(spanCtx, spec, input, timeout), nil
	})
	observability.LogToolInvocation(name, envelope.OK, time.Since(start).Milliseconds())
	return envelope
}

func parseArguments(arguments string) (any, error) {
	trimmed := strings.TrimSpace(arguments)
	if trimmed == "" {
		return nil, nil
	}
	var input any
	if err := json.Unmarshal([]byte(trimmed), &input); err != nil {
		return nil, err
	}
	return input, nil
}

func invokeHandler(ctx context.Context, spec ToolSpec, input any, timeout time.Duration) protocol.Envelope {
	callCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		callCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	type outcome struct {
		result any
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := spec.Handler(callCtx, input)
		done <- outcome{result: result, err: err}
	}()

	select {
	case <-callCtx.Done():
		meta := &protocol.EnvelopeMeta{ToolName: spec.Name, TimeoutMs: timeout.Milliseconds()}
		return protocol.Failure(protocol.EnvelopeErrorToolTimeout, fmt.Sprintf("Tool call timed out after %dms.", timeout.Milliseconds()), "", meta)
	case out := <-done:
		if out.err != nil {
			message := out.err.Error()
			if message == "" {
				message = "Tool execution failed."
			}
			return protocol.Failure(protocol.EnvelopeErrorToolError, message, "", &protocol.EnvelopeMeta{ToolName: spec.Name})
		}
		return protocol.Success(out.result, spec.Name)
	}
}

// CreateFunctionCallOutputEvents serializes an invocation result into
// the ordered client events that report it back to the model: a
// conversation.item.create carrying the envelope, optionally followed
// by an empty response.create.
func CreateFunctionCallOutputEvents(callID string, envelope protocol.Envelope, autoResponse bool) ([]protocol.ClientEvent, error) {
	payload, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("invocation: tool output envelope is not JSON serializable: %w", err)
	}

	events := []protocol.ClientEvent{
		protocol.NewClientEvent("conversation.item.create", map[string]any{
			"item": map[string]any{
				"type":    "function_call_output",
				"call_id": callID,
				"output":  string(payload),
			},
		}),
	}
	if autoResponse {
		events = append(events, protocol.NewClientEvent("response.create", map[string]any{
			"response": map[string]any{},
		}))
	}
	return events, nil
}

// ResolveAutoResponse applies a tool's per-call opt-out, if any, to the
// caller-supplied default.
func ResolveAutoResponse(spec ToolSpec, callDefault bool) bool {
	if spec.AutoResponse == nil {
		return callDefault
	}
	return *spec.AutoResponse
}
