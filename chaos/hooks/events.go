package hooks

import "time"

// EventType identifies the kind of a wire event.
type EventType string

const (
	EventTraceStart    EventType = "trace_start"
	EventTraceEnd      EventType = "trace_end"
	EventSpanStart     EventType = "span_start"
	EventSpanEnd       EventType = "span_end"
	EventFaultInjected EventType = "fault_injected"
	EventTTFT          EventType = "ttft"
	EventStreamCut     EventType = "stream_cut"
	EventStreamStats   EventType = "stream_stats"
	EventTokenUsage    EventType = "token_usage"
	EventToolUse       EventType = "tool_use"
	EventToolStart     EventType = "tool_start"
	EventToolEnd       EventType = "tool_end"
)

// Event is one totally-ordered record in a run's event stream. Data carries
// the type-specific payload as a JSON-serializable map so sinks can marshal
// generically without a type switch, while Recorder callers retain the
// typed builders below for constructing Data correctly. The JSON field
// names are the wire contract shared with every sink and with external
// consumers replaying an events.jsonl artifact.
type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	TraceID   string         `json:"trace_id"`
	SpanID    string         `json:"span_id,omitempty"` // empty for trace-scoped events
	Provider  string         `json:"provider,omitempty"`
	Type      EventType      `json:"type"`
	Data      map[string]any `json:"data"`
}

// traceStart builds a trace_start event payload.
func traceStart(scenarioName string, seed int64) map[string]any {
	return map[string]any{"scenario": scenarioName, "seed": seed}
}

// traceEnd builds a trace_end event payload.
func traceEnd(passed bool, errMsg string) map[string]any {
	return map[string]any{"passed": passed, "error": errMsg}
}

// spanStart builds a span_start event payload for one LLM call.
func spanStart(turnIndex, callInTurn, globalCall int) map[string]any {
	return map[string]any{
		"turn_index":   turnIndex,
		"call_in_turn": callInTurn,
		"global_call":  globalCall,
	}
}

// spanEnd builds a span_end event payload.
func spanEnd(success, injected bool, elapsedMS int64, errMsg string) map[string]any {
	return map[string]any{
		"success":    success,
		"injected":   injected,
		"elapsed_ms": elapsedMS,
		"error":      errMsg,
	}
}

// faultInjected builds a fault_injected event payload. originalText/mutated
// are empty for non-mutation faults; addedMessages/removedMessages are zero
// outside CONTEXT-stage faults.
func faultInjected(kind string, point string, ruleName string, originalText, mutatedText string, addedMessages, removedMessages int) map[string]any {
	d := map[string]any{
		"fault_type":  kind,
		"chaos_point": point,
		"rule":        ruleName,
	}
	if originalText != "" || mutatedText != "" {
		d["original"] = originalText
		d["mutated"] = mutatedText
	}
	if addedMessages > 0 {
		d["added_messages"] = addedMessages
	}
	if removedMessages > 0 {
		d["removed_messages"] = removedMessages
	}
	return d
}

func ttft(ms int64) map[string]any { return map[string]any{"ttft_ms": ms} }

func streamCut(chunkCount int) map[string]any { return map[string]any{"chunk_count": chunkCount} }

func streamStats(chunkCount int, bytes int, elapsedMS int64) map[string]any {
	return map[string]any{"chunk_count": chunkCount, "bytes": bytes, "elapsed_ms": elapsedMS}
}

func tokenUsage(input, output int) map[string]any {
	return map[string]any{"input_tokens": input, "output_tokens": output}
}

func toolUse(toolUseID, name string) map[string]any {
	return map[string]any{"tool_use_id": toolUseID, "name": name}
}

func toolStart(toolUseID, name string, argBytes int) map[string]any {
	return map[string]any{"tool_use_id": toolUseID, "name": name, "arg_bytes": argBytes}
}

func toolEnd(toolUseID string, success, injected bool, resultBytes int, durationMS int64) map[string]any {
	return map[string]any{
		"tool_use_id":  toolUseID,
		"success":      success,
		"injected":     injected,
		"result_bytes": resultBytes,
		"duration_ms":  durationMS,
	}
}
