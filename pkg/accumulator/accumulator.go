// Package accumulator is a pure reducer over the tool-call argument
// event stream (spec.md §4.5). State is an immutable map from call-id
// to its accumulated tool-call entry; every reduction returns a new
// state rather than mutating the one passed in.
package accumulator

import "github.com/digitallysavvy/realtimevoice/pkg/protocol"

const sentinelUnknownResponse = "unknown_response"

// Entry is the accumulated state for a single tool call.
type Entry struct {
	CallID        string
	ItemID        string
	ResponseID    string
	ArgumentText  string
	DoneArguments string
	Name          string
	IsDone        bool
	UpdatedAtMs   int64
}

// State is an immutable snapshot of every tool call observed so far,
// keyed by call-id.
type State map[string]Entry

// New returns an empty accumulator state.
func New() State {
	return State{}
}

// Reduce folds one event into state and returns the resulting state.
// Event types other than delta and done return the state passed in,
// unchanged and not copied. Go maps cannot be compared with ==, so
// callers compare len/contents, or simply always use the returned value.
func Reduce(state State, ev protocol.ServerEvent, nowMs int64) State {
	switch {
	case protocol.IsDelta(ev):
		return reduceDelta(state, ev, nowMs)
	case protocol.IsDone(ev):
		return reduceDone(state, ev, nowMs)
	default:
		return state
	}
}

func reduceDelta(state State, ev protocol.ServerEvent, nowMs int64) State {
	prev, existed := state[ev.CallID]

	entry := Entry{
		CallID:      ev.CallID,
		ItemID:      firstNonEmpty(ev.ItemID, prev.ItemID, ev.CallID),
		ResponseID:  firstNonEmpty(ev.ResponseID, prev.ResponseID, sentinelUnknownResponse),
		Name:        firstNonEmpty(ev.Name, prev.Name),
		UpdatedAtMs: nowMs,
	}
	if existed {
		entry.ArgumentText = prev.ArgumentText + ev.Delta
		entry.DoneArguments = prev.DoneArguments
		entry.IsDone = prev.IsDone
	} else {
		entry.ArgumentText = ev.Delta
	}

	return withEntry(state, entry)
}

func reduceDone(state State, ev protocol.ServerEvent, nowMs int64) State {
	prev, existed := state[ev.CallID]

	entry := Entry{
		CallID:        ev.CallID,
		ItemID:        firstNonEmpty(ev.ItemID, prev.ItemID, ev.CallID),
		ResponseID:    firstNonEmpty(ev.ResponseID, prev.ResponseID, sentinelUnknownResponse),
		Name:          firstNonEmpty(ev.Name, prev.Name),
		DoneArguments: ev.Arguments,
		IsDone:        true,
		UpdatedAtMs:   nowMs,
	}
	if existed && prev.ArgumentText != "" {
		entry.ArgumentText = prev.ArgumentText
	} else {
		entry.ArgumentText = ev.Arguments
	}

	return withEntry(state, entry)
}

// withEntry returns a copy of state with entry set at its call-id,
// preserving the reducer's immutability contract.
func withEntry(state State, entry Entry) State {
	next := make(State, len(state)+1)
	for k, v := range state {
		next[k] = v
	}
	next[entry.CallID] = entry
	return next
}

// ShouldInvoke reports whether a done event should trigger the
// invocation engine, suppressing duplicate dispatch when the upstream
// emits both an output_item.done and a later arguments.done for the
// same call.
func ShouldInvoke(state State, doneEvent protocol.ServerEvent) bool {
	entry, existed := state[doneEvent.CallID]
	if !existed || !entry.IsDone {
		return true
	}
	if entry.Name == "" && doneEvent.Name != "" {
		return true
	}
	return false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
