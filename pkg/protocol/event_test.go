package protocol

import (
	"reflect"
	"testing"
)

func TestParseServerEvent_Delta(t *testing.T) {
	raw := map[string]any{
		"type":    "response.function_call_arguments.delta",
		"call_id": "c1",
		"delta":   "{\"city\":\"San",
	}
	ev, err := ParseServerEvent(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !IsDelta(ev) || ev.CallID != "c1" || ev.Delta != "{\"city\":\"San" {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestParseServerEvent_OutputItemDoneNormalization(t *testing.T) {
	// Scenario S3.
	raw := map[string]any{
		"type": "response.output_item.done",
		"item": map[string]any{
			"type":      "function_call",
			"call_id":   "c3",
			"arguments": "{}",
			"name":      "echo",
			"id":        "itm",
		},
		"output_index": float64(2),
		"response_id":  "r",
	}
	ev, err := ParseServerEvent(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !IsDone(ev) {
		t.Fatalf("expected a normalized done event, got %+v", ev)
	}
	if ev.CallID != "c3" || ev.Arguments != "{}" || ev.Name != "echo" || ev.ItemID != "itm" || ev.ResponseID != "r" {
		t.Fatalf("unexpected normalized fields: %+v", ev)
	}
	if ev.OutputIndex == nil || *ev.OutputIndex != 2 {
		t.Fatalf("expected output_index 2, got %+v", ev.OutputIndex)
	}
}

func TestExtractFunctionCallAdded(t *testing.T) {
	raw := map[string]any{
		"type": "response.output_item.added",
		"item": map[string]any{
			"type":    "function_call",
			"call_id": "c2",
			"name":    "render_ui",
		},
	}
	callID, name, ok := ExtractFunctionCallAdded(raw)
	if !ok || callID != "c2" || name != "render_ui" {
		t.Fatalf("unexpected extraction: %q %q %v", callID, name, ok)
	}

	// Not present -> not ok.
	if _, _, ok := ExtractFunctionCallAdded(map[string]any{"type": "response.output_item.added"}); ok {
		t.Fatalf("expected ok=false for missing item")
	}
}

func TestParseServerEvent_Error(t *testing.T) {
	raw := map[string]any{
		"type": "error",
		"error": map[string]any{
			"type":    "server_error",
			"message": "boom",
		},
	}
	ev, err := ParseServerEvent(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !IsError(ev) || ev.Error.Message != "boom" {
		t.Fatalf("unexpected error event: %+v", ev)
	}
}

func TestParseServerEvent_AudioDeltaDefaultSampleRate(t *testing.T) {
	ev, err := ParseServerEvent(map[string]any{
		"type":  "response.audio.delta",
		"delta": "abcd",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.SampleRateHz != 24000 {
		t.Fatalf("expected default sample rate 24000, got %d", ev.SampleRateHz)
	}
}

func TestParseServerEvent_UnknownTypePassesThrough(t *testing.T) {
	raw := map[string]any{"type": "some.future.event", "foo": "bar"}
	ev, err := ParseServerEvent(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.Type != "some.future.event" || ev.Raw["foo"] != "bar" {
		t.Fatalf("unexpected passthrough: %+v", ev)
	}
}

func TestParseServerEvent_RejectsMissingType(t *testing.T) {
	if _, err := ParseServerEvent(map[string]any{"foo": "bar"}); err == nil {
		t.Fatalf("expected error for missing type")
	}
}

func TestParseServerEvent_IdempotentNormalization(t *testing.T) {
	// Invariant 1: parseServerEvent(serialize(parseServerEvent(x))) == parseServerEvent(x)
	cases := []map[string]any{
		{"type": "response.function_call_arguments.delta", "call_id": "c1", "delta": "x"},
		{"type": "response.function_call_arguments.done", "call_id": "c1", "arguments": "{}", "name": "echo"},
		{"type": "response.audio.delta", "delta": "abcd", "sample_rate_hz": float64(16000)},
		{"type": "error", "error": map[string]any{"type": "t", "message": "m"}},
		{
			"type": "response.output_item.done",
			"item": map[string]any{"type": "function_call", "call_id": "c9", "arguments": "{}", "name": "n", "id": "i"},
		},
	}
	for _, raw := range cases {
		first, err := ParseServerEvent(raw)
		if err != nil {
			t.Fatalf("unexpected error parsing %v: %v", raw, err)
		}
		second, err := ParseServerEvent(Serialize(first))
		if err != nil {
			t.Fatalf("unexpected error reparsing %v: %v", first, err)
		}
		if !reflect.DeepEqual(first.CallID, second.CallID) ||
			first.Type != second.Type ||
			first.Arguments != second.Arguments ||
			first.Delta != second.Delta ||
			first.Name != second.Name {
			t.Fatalf("non-idempotent normalization: %+v != %+v", first, second)
		}
	}
}

func TestParseClientEvent(t *testing.T) {
	ev, err := ParseClientEvent(map[string]any{"type": "response.create", "response": map[string]any{}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.Type != "response.create" {
		t.Fatalf("unexpected type: %q", ev.Type)
	}

	if _, err := ParseClientEvent(map[string]any{"response": map[string]any{}}); err == nil {
		t.Fatalf("expected error for missing type")
	}

	if _, err := ParseClientEvent(map[string]any{"type": ""}); err == nil {
		t.Fatalf("expected error for empty type")
	}
}
