// Package protocol validates and normalizes the JSON event envelopes
// exchanged between a realtime client and the upstream speech-to-speech
// model, and the envelopes a client sends back.
package protocol

// EventType is one of the well-known envelope types of the data-channel
// wire protocol. Unknown types are preserved verbatim on ServerEvent.Raw.
type EventType string

const (
	EventFunctionCallArgumentsDelta EventType = "response.function_call_arguments.delta"
	EventFunctionCallArgumentsDone  EventType = "response.function_call_arguments.done"
	EventOutputItemAdded            EventType = "response.output_item.added"
	EventOutputItemDone             EventType = "response.output_item.done"
	EventAudioDelta                 EventType = "response.audio.delta"
	EventError                      EventType = "error"

	// Synthetic local events inserted by the realtime client to expose
	// transport lifecycle uniformly on the event stream.
	EventConnectionOpen   EventType = "runtime.connection.open"
	EventConnectionClosed EventType = "runtime.connection.closed"
)

const defaultAudioSampleRateHz = 24000

// ServerError mirrors the nested `error` object of an `error` envelope.
type ServerError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	Param   string `json:"param,omitempty"`
}

// ServerEvent is the normalized tagged union of spec.md §3. Known types
// populate the typed fields below; any other type is preserved verbatim
// in Raw and only Type/Raw are meaningful.
type ServerEvent struct {
	Type EventType

	CallID      string
	Delta       string
	Arguments   string
	Name        string
	ItemID      string
	OutputIndex *int
	ResponseID  string
	EventID     string

	Error *ServerError

	AudioDelta   string
	SampleRateHz int

	// Raw holds the fully decoded envelope as received, including for
	// known types. Unknown/pass-through types are reconstructed from Raw
	// alone by Serialize.
	Raw map[string]any
}

// ParseError reports that a raw payload does not match any known or
// pass-through envelope shape.
type ParseError struct {
	Message string
}

func (e *ParseError) Error() string { return e.Message }

// IsDelta reports whether ev is a function-call-arguments delta event.
func IsDelta(ev ServerEvent) bool { return ev.Type == EventFunctionCallArgumentsDelta }

// IsDone reports whether ev is a (possibly normalized) function-call-arguments
// done event.
func IsDone(ev ServerEvent) bool { return ev.Type == EventFunctionCallArgumentsDone }

// IsError reports whether ev carries a model-reported error.
func IsError(ev ServerEvent) bool { return ev.Type == EventError }

// ParseServerEvent validates and shapes an untyped JSON object into the
// tagged union described in spec.md §4.1. It never returns an event for
// malformed input; callers that need to keep the session alive on parse
// failure should publish a synthetic error event instead of propagating
// the error further.
func ParseServerEvent(raw map[string]any) (ServerEvent, error) {
	rawType, _ := raw["type"].(string)
	if rawType == "" {
		return ServerEvent{}, &ParseError{Message: "Server payload is not a valid event envelope."}
	}

	switch EventType(rawType) {
	case EventFunctionCallArgumentsDelta:
		return parseDelta(raw)
	case EventFunctionCallArgumentsDone:
		return parseDone(raw)
	case EventOutputItemDone:
		if ev, ok := tryNormalizeOutputItemDone(raw); ok {
			return ev, nil
		}
	case EventAudioDelta:
		return parseAudioDelta(raw), nil
	case EventError:
		return parseError(raw)
	}

	// Open envelope: unknown (or output_item.added / non-function-call
	// output_item.done) types pass through unmodified.
	return ServerEvent{Type: EventType(rawType), Raw: raw}, nil
}

func parseDelta(raw map[string]any) (ServerEvent, error) {
	callID, _ := raw["call_id"].(string)
	delta, _ := raw["delta"].(string)
	if callID == "" {
		return ServerEvent{}, &ParseError{Message: "Server payload is not a valid event envelope."}
	}
	ev := ServerEvent{
		Type:   EventFunctionCallArgumentsDelta,
		CallID: callID,
		Delta:  delta,
		Raw:    raw,
	}
	ev.ItemID, _ = raw["item_id"].(string)
	ev.ResponseID, _ = raw["response_id"].(string)
	ev.EventID, _ = raw["event_id"].(string)
	ev.OutputIndex = intFromAny(raw["output_index"])
	return ev, nil
}

func parseDone(raw map[string]any) (ServerEvent, error) {
	callID, _ := raw["call_id"].(string)
	arguments, _ := raw["arguments"].(string)
	if callID == "" {
		return ServerEvent{}, &ParseError{Message: "Server payload is not a valid event envelope."}
	}
	ev := ServerEvent{
		Type:      EventFunctionCallArgumentsDone,
		CallID:    callID,
		Arguments: arguments,
		Raw:       raw,
	}
	ev.Name, _ = raw["name"].(string)
	ev.ItemID, _ = raw["item_id"].(string)
	ev.ResponseID, _ = raw["response_id"].(string)
	ev.EventID, _ = raw["event_id"].(string)
	ev.OutputIndex = intFromAny(raw["output_index"])
	return ev, nil
}

// tryNormalizeOutputItemDone implements the `output_item.done` →
// `arguments.done` normalization of spec.md §4.1.
func tryNormalizeOutputItemDone(raw map[string]any) (ServerEvent, bool) {
	item, ok := raw["item"].(map[string]any)
	if !ok {
		return ServerEvent{}, false
	}
	if itemType, _ := item["type"].(string); itemType != "function_call" {
		return ServerEvent{}, false
	}
	callID, _ := item["call_id"].(string)
	if callID == "" {
		return ServerEvent{}, false
	}
	arguments, _ := item["arguments"].(string)

	normalized := map[string]any{
		"type":      string(EventFunctionCallArgumentsDone),
		"call_id":   callID,
		"arguments": arguments,
	}
	if name, ok := item["name"].(string); ok && name != "" {
		normalized["name"] = name
	}
	if id, ok := item["id"].(string); ok && id != "" {
		normalized["item_id"] = id
	}
	if outputIndex, ok := raw["output_index"]; ok {
		normalized["output_index"] = outputIndex
	}
	if responseID, ok := raw["response_id"].(string); ok && responseID != "" {
		normalized["response_id"] = responseID
	}

	ev, err := parseDone(normalized)
	if err != nil {
		return ServerEvent{}, false
	}
	return ev, true
}

// ExtractFunctionCallAdded yields the (callId, name) pair carried by a
// `response.output_item.added` event whose nested item is a function
// call. It is not itself a ServerEvent — the realtime client's event
// demultiplexer uses it to populate a call-id→name cache before
// normalization (spec.md §4.4 step 2).
func ExtractFunctionCallAdded(raw map[string]any) (callID, name string, ok bool) {
	rawType, _ := raw["type"].(string)
	if EventType(rawType) != EventOutputItemAdded {
		return "", "", false
	}
	item, ok := raw["item"].(map[string]any)
	if !ok {
		return "", "", false
	}
	if itemType, _ := item["type"].(string); itemType != "function_call" {
		return "", "", false
	}
	callID, _ = item["call_id"].(string)
	name, _ = item["name"].(string)
	if callID == "" {
		return "", "", false
	}
	return callID, name, true
}

func parseAudioDelta(raw map[string]any) ServerEvent {
	delta, _ := raw["delta"].(string)
	sampleRate := defaultAudioSampleRateHz
	if v := intFromAny(raw["sample_rate_hz"]); v != nil {
		sampleRate = *v
	}
	return ServerEvent{
		Type:         EventAudioDelta,
		AudioDelta:   delta,
		SampleRateHz: sampleRate,
		Raw:          raw,
	}
}

func parseError(raw map[string]any) (ServerEvent, error) {
	nested, ok := raw["error"].(map[string]any)
	if !ok {
		return ServerEvent{}, &ParseError{Message: "Server payload is not a valid event envelope."}
	}
	errType, _ := nested["type"].(string)
	message, _ := nested["message"].(string)
	if errType == "" && message == "" {
		return ServerEvent{}, &ParseError{Message: "Server payload is not a valid event envelope."}
	}
	code, _ := nested["code"].(string)
	param, _ := nested["param"].(string)
	return ServerEvent{
		Type: EventError,
		Error: &ServerError{
			Type:    errType,
			Message: message,
			Code:    code,
			Param:   param,
		},
		Raw: raw,
	}, nil
}

func intFromAny(v any) *int {
	switch n := v.(type) {
	case float64:
		i := int(n)
		return &i
	case int:
		return &n
	}
	return nil
}

// Serialize reconstructs the canonical JSON-shaped envelope for ev. For
// known types it emits only the canonical field set (spec.md §4.1/§8
// invariant 1: re-parsing the output of Serialize must reproduce the
// same ServerEvent). For pass-through types it returns Raw verbatim.
func Serialize(ev ServerEvent) map[string]any {
	switch ev.Type {
	case EventFunctionCallArgumentsDelta:
		m := map[string]any{
			"type":    string(ev.Type),
			"call_id": ev.CallID,
			"delta":   ev.Delta,
		}
		addOptional(m, ev.ItemID, ev.ResponseID, ev.EventID, ev.OutputIndex)
		return m
	case EventFunctionCallArgumentsDone:
		m := map[string]any{
			"type":      string(ev.Type),
			"call_id":   ev.CallID,
			"arguments": ev.Arguments,
		}
		if ev.Name != "" {
			m["name"] = ev.Name
		}
		addOptional(m, ev.ItemID, ev.ResponseID, ev.EventID, ev.OutputIndex)
		return m
	case EventAudioDelta:
		return map[string]any{
			"type":           string(ev.Type),
			"delta":          ev.AudioDelta,
			"sample_rate_hz": ev.SampleRateHz,
		}
	case EventError:
		errMap := map[string]any{
			"type":    ev.Error.Type,
			"message": ev.Error.Message,
		}
		if ev.Error.Code != "" {
			errMap["code"] = ev.Error.Code
		}
		if ev.Error.Param != "" {
			errMap["param"] = ev.Error.Param
		}
		return map[string]any{"type": string(ev.Type), "error": errMap}
	default:
		if ev.Raw != nil {
			return ev.Raw
		}
		return map[string]any{"type": string(ev.Type)}
	}
}

func addOptional(m map[string]any, itemID, responseID, eventID string, outputIndex *int) {
	if itemID != "" {
		m["item_id"] = itemID
	}
	if responseID != "" {
		m["response_id"] = responseID
	}
	if eventID != "" {
		m["event_id"] = eventID
	}
	if outputIndex != nil {
		m["output_index"] = *outputIndex
	}
}

// NewConnectionOpenEvent builds the synthetic lifecycle event published
// when the data channel finishes opening.
func NewConnectionOpenEvent() ServerEvent {
	return ServerEvent{Type: EventConnectionOpen, Raw: map[string]any{"type": string(EventConnectionOpen)}}
}

// NewConnectionClosedEvent builds the synthetic lifecycle event published
// on disconnect or unsolicited transport closure.
func NewConnectionClosedEvent() ServerEvent {
	return ServerEvent{Type: EventConnectionClosed, Raw: map[string]any{"type": string(EventConnectionClosed)}}
}

// NewLocalErrorEvent builds a synthetic client-local error event of the
// kind spec.md §7 describes as "transport-local" failures.
func NewLocalErrorEvent(kind, message string) ServerEvent {
	return ServerEvent{
		Type:  EventError,
		Error: &ServerError{Type: kind, Message: message},
		Raw: map[string]any{
			"type":  string(EventError),
			"error": map[string]any{"type": kind, "message": message},
		},
	}
}
