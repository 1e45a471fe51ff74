package protocol

// EnvelopeErrorType enumerates the failure kinds a tool output envelope
// can carry (spec.md §3).
type EnvelopeErrorType string

const (
	EnvelopeErrorUnknownTool      EnvelopeErrorType = "unknown_tool"
	EnvelopeErrorInvalidArguments EnvelopeErrorType = "invalid_arguments"
	EnvelopeErrorToolError        EnvelopeErrorType = "tool_error"
	EnvelopeErrorToolTimeout      EnvelopeErrorType = "tool_timeout"
)

// EnvelopeError is the `error` field of a failed tool output envelope.
type EnvelopeError struct {
	Type    EnvelopeErrorType `json:"type"`
	Message string            `json:"message"`
	Code    string            `json:"code,omitempty"`
}

// EnvelopeMeta carries diagnostic metadata about the invocation that
// produced an envelope.
type EnvelopeMeta struct {
	ToolName  string `json:"toolName,omitempty"`
	TimeoutMs int64  `json:"timeoutMs,omitempty"`
}

// Envelope is the structured `{ok, data?|error?, meta?}` wrapper sent
// back to the model as a tool's result (spec.md §3).
type Envelope struct {
	OK    bool           `json:"ok"`
	Data  any            `json:"data,omitempty"`
	Error *EnvelopeError `json:"error,omitempty"`
	Meta  *EnvelopeMeta  `json:"meta,omitempty"`
}

// Success builds a successful envelope.
func Success(data any, toolName string) Envelope {
	env := Envelope{OK: true, Data: data}
	if toolName != "" {
		env.Meta = &EnvelopeMeta{ToolName: toolName}
	}
	return env
}

// Failure builds a failed envelope.
func Failure(errType EnvelopeErrorType, message, code string, meta *EnvelopeMeta) Envelope {
	return Envelope{
		OK:    false,
		Error: &EnvelopeError{Type: errType, Message: message, Code: code},
		Meta:  meta,
	}
}
