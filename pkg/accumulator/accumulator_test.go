package accumulator

import (
	"testing"

	"github.com/digitallysavvy/realtimevoice/pkg/protocol"
)

func mustParse(t *testing.T, raw map[string]any) protocol.ServerEvent {
	t.Helper()
	ev, err := protocol.ParseServerEvent(raw)
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	return ev
}

func TestReduceDeltaAccumulatesText(t *testing.T) {
	// Scenario S1.
	state := New()
	state = Reduce(state, mustParse(t, map[string]any{
		"type": "response.function_call_arguments.delta", "call_id": "c1", "delta": "{\"city\":\"San",
	}), 1)
	state = Reduce(state, mustParse(t, map[string]any{
		"type": "response.function_call_arguments.delta", "call_id": "c1", "delta": " Francisco\"}",
	}), 2)

	entry := state["c1"]
	if entry.ArgumentText != "{\"city\":\"San Francisco\"}" {
		t.Fatalf("unexpected argument text: %q", entry.ArgumentText)
	}
	if entry.IsDone {
		t.Fatalf("expected entry to not be done yet")
	}

	state = Reduce(state, mustParse(t, map[string]any{
		"type": "response.function_call_arguments.done", "call_id": "c1", "arguments": "{\"city\":\"San Francisco\"}",
	}), 3)
	entry = state["c1"]
	if !entry.IsDone || entry.DoneArguments != "{\"city\":\"San Francisco\"}" {
		t.Fatalf("unexpected final entry: %+v", entry)
	}
	if entry.ArgumentText != "{\"city\":\"San Francisco\"}" {
		t.Fatalf("expected argument text preserved from deltas, got %q", entry.ArgumentText)
	}
}

func TestReduceNameEnrichmentFromAddedEvent(t *testing.T) {
	// Scenario S2.
	state := New()
	callID, name, ok := protocol.ExtractFunctionCallAdded(map[string]any{
		"type": "response.output_item.added",
		"item": map[string]any{"type": "function_call", "call_id": "c2", "name": "render_ui"},
	})
	if !ok {
		t.Fatalf("expected extraction to succeed")
	}

	state = Reduce(state, mustParse(t, map[string]any{
		"type": "response.function_call_arguments.delta", "call_id": callID, "delta": "{}",
	}), 1)
	// In the realtime client, the cached name is applied to the done event before
	// it is reduced; simulate that enrichment here.
	doneRaw := map[string]any{"type": "response.function_call_arguments.done", "call_id": callID, "arguments": "{}"}
	doneRaw["name"] = name
	state = Reduce(state, mustParse(t, doneRaw), 2)

	if state[callID].Name != "render_ui" {
		t.Fatalf("expected enriched name, got %q", state[callID].Name)
	}
}

func TestReduceDefaultsItemIDAndResponseID(t *testing.T) {
	state := New()
	state = Reduce(state, mustParse(t, map[string]any{
		"type": "response.function_call_arguments.delta", "call_id": "c5", "delta": "x",
	}), 1)
	entry := state["c5"]
	if entry.ItemID != "c5" {
		t.Fatalf("expected item id to default to call id, got %q", entry.ItemID)
	}
	if entry.ResponseID != sentinelUnknownResponse {
		t.Fatalf("expected default response id sentinel, got %q", entry.ResponseID)
	}
}

func TestShouldInvokeSuppressesDuplicateDone(t *testing.T) {
	// Scenario S6.
	state := New()
	done := mustParse(t, map[string]any{
		"type": "response.function_call_arguments.done", "call_id": "c6", "arguments": "{}", "name": "echo",
	})

	if !ShouldInvoke(state, done) {
		t.Fatalf("expected first done to be invocable")
	}
	state = Reduce(state, done, 1)

	if ShouldInvoke(state, done) {
		t.Fatalf("expected duplicate done to be suppressed")
	}
}

func TestShouldInvokeAllowsNameCompletionAfterDone(t *testing.T) {
	state := New()
	done := mustParse(t, map[string]any{
		"type": "response.function_call_arguments.done", "call_id": "c7", "arguments": "{}",
	})
	state = Reduce(state, done, 1)

	namedDone := mustParse(t, map[string]any{
		"type": "response.function_call_arguments.done", "call_id": "c7", "arguments": "{}", "name": "echo",
	})
	if !ShouldInvoke(state, namedDone) {
		t.Fatalf("expected name-completing done to still be invocable")
	}
}

func TestReduceIgnoresOtherEventTypes(t *testing.T) {
	state := New()
	state["c1"] = Entry{CallID: "c1", ArgumentText: "x"}
	next := Reduce(state, mustParse(t, map[string]any{"type": "runtime.connection.open"}), 1)
	if len(next) != 1 || next["c1"].ArgumentText != "x" {
		t.Fatalf("expected state unchanged for non-delta/done events, got %+v", next)
	}
}
