// Package fault defines the closed set of fault payloads the injection
// engine can produce, one tag per kind named in the chaos-rule grammar.
// Fault is a tagged variant, not an open dictionary: the stream wrapper and
// provider adapters dispatch on Kind with an exhaustive switch, so adding a
// new fault requires touching this file and every dispatch site rather than
// silently falling through.
package fault

import (
	"encoding/json"

	"github.com/chaosforge/agentchaos/chaos/model"
)

// Point identifies one of the five interception points a Rule binds to.
type Point string

const (
	// PointUserInput intercepts the raw turn input before the agent sees it.
	PointUserInput Point = "USER_INPUT"
	// PointLLM intercepts a request immediately before it reaches the
	// provider.
	PointLLM Point = "LLM"
	// PointStream intercepts a streaming response chunk by chunk.
	PointStream Point = "STREAM"
	// PointTool intercepts a tool result before it is returned to the model.
	PointTool Point = "TOOL"
	// PointContext intercepts the conversation history between turns.
	PointContext Point = "CONTEXT"
)

// Kind names one specific fault within its interception point.
type Kind string

const (
	// LLM-stage kinds.
	RateLimit         Kind = "RATE_LIMIT"
	Timeout           Kind = "TIMEOUT"
	ServerError       Kind = "SERVER_ERROR"
	AuthError         Kind = "AUTH_ERROR"
	MalformedResponse Kind = "MALFORMED_RESPONSE"

	// STREAM-stage kinds.
	TTFTDelay  Kind = "TTFT_DELAY"
	StreamHang Kind = "STREAM_HANG"
	StreamCut  Kind = "STREAM_CUT"
	SlowChunks Kind = "SLOW_CHUNKS"
	Corrupt    Kind = "CORRUPT"

	// TOOL-stage kinds.
	ToolError   Kind = "TOOL_ERROR"
	ToolTimeout Kind = "TOOL_TIMEOUT"
	ToolEmpty   Kind = "TOOL_EMPTY"
	ToolMutate  Kind = "TOOL_MUTATE"

	// USER_INPUT-stage kind.
	InputMutate Kind = "MUTATE"

	// CONTEXT-stage kinds.
	ContextTruncate Kind = "TRUNCATE"
	ContextInject   Kind = "INJECT"
	ContextRemove   Kind = "REMOVE"
	ContextMutate   Kind = "MUTATE"
)

type (
	// Fault is the payload a Factory produces and the Injector returns as
	// part of a Verdict. Exactly one of the typed parameter fields below is
	// meaningful, selected by Kind; the others are zero. This keeps Fault a
	// plain comparable-ish struct suitable for logging and test fixtures
	// without an interface indirection per kind.
	Fault struct {
		Point Point
		Kind  Kind

		// LLM-stage and TOOL-stage: the tool name a TOOL-stage fault targets,
		// or empty for LLM-stage faults (which apply to every call reaching
		// that point).
		Tool string

		// STREAM-stage parameters.
		Delay        int64 // milliseconds; TTFT_DELAY, SLOW_CHUNKS
		AfterChunks  int   // STREAM_HANG, STREAM_CUT
		CorruptKind  string
		CorruptBytes json.RawMessage

		// TOOL-stage and USER_INPUT/CONTEXT-stage message.
		Message string

		// Mutator is the pure string transform for USER_INPUT MUTATE,
		// CONTEXT MUTATE, and TOOL_MUTATE. It is never nil when Kind is one
		// of those.
		Mutator func(string) string

		// CONTEXT-stage parameters.
		KeepLast        int
		InjectMessages  []*model.Message
		RemovePredicate func(*model.Message) bool
		Removed         int
	}

	// Factory produces a Fault payload. Factories must be pure and
	// idempotent: invoking the same Factory twice against equivalent
	// injector state yields equivalent Faults modulo the seeded random
	// source threaded through the trigger, not the factory itself. A
	// Factory that panics or returns a Fault whose Point does not match
	// the Rule's declared Point is a scenario error, fatal to the run.
	Factory func() Fault
)

// RateLimitFault returns a Factory producing an LLM-stage RATE_LIMIT fault.
func RateLimitFault() Factory {
	return func() Fault { return Fault{Point: PointLLM, Kind: RateLimit} }
}

// TimeoutFault returns a Factory producing an LLM-stage TIMEOUT fault.
func TimeoutFault() Factory {
	return func() Fault { return Fault{Point: PointLLM, Kind: Timeout} }
}

// ServerErrorFault returns a Factory producing an LLM-stage SERVER_ERROR fault.
func ServerErrorFault() Factory {
	return func() Fault { return Fault{Point: PointLLM, Kind: ServerError} }
}

// AuthErrorFault returns a Factory producing an LLM-stage AUTH_ERROR fault.
func AuthErrorFault() Factory {
	return func() Fault { return Fault{Point: PointLLM, Kind: AuthError} }
}

// MalformedResponseFault returns a Factory producing an LLM-stage
// MALFORMED_RESPONSE fault.
func MalformedResponseFault() Factory {
	return func() Fault { return Fault{Point: PointLLM, Kind: MalformedResponse} }
}

// TTFTDelayFault delays the first streamed chunk by ms milliseconds.
func TTFTDelayFault(ms int64) Factory {
	return func() Fault { return Fault{Point: PointStream, Kind: TTFTDelay, Delay: ms} }
}

// StreamHangFault suspends the stream indefinitely after afterChunks chunks.
func StreamHangFault(afterChunks int) Factory {
	return func() Fault { return Fault{Point: PointStream, Kind: StreamHang, AfterChunks: afterChunks} }
}

// StreamCutFault terminates the stream with a connection-lost error after
// afterChunks chunks.
func StreamCutFault(afterChunks int) Factory {
	return func() Fault { return Fault{Point: PointStream, Kind: StreamCut, AfterChunks: afterChunks} }
}

// SlowChunksFault delays every chunk after the first by perChunkMS.
func SlowChunksFault(perChunkMS int64) Factory {
	return func() Fault { return Fault{Point: PointStream, Kind: SlowChunks, Delay: perChunkMS} }
}

// CorruptFault replaces, truncates, or retypes the current stream event.
func CorruptFault(eventKind string, params json.RawMessage) Factory {
	return func() Fault {
		return Fault{Point: PointStream, Kind: Corrupt, CorruptKind: eventKind, CorruptBytes: params}
	}
}

// ToolErrorFault makes every matching tool result an error with message.
func ToolErrorFault(tool, message string) Factory {
	return func() Fault { return Fault{Point: PointTool, Kind: ToolError, Tool: tool, Message: message} }
}

// ToolTimeoutFault makes every matching tool invocation time out.
func ToolTimeoutFault(tool string) Factory {
	return func() Fault { return Fault{Point: PointTool, Kind: ToolTimeout, Tool: tool} }
}

// ToolEmptyFault replaces every matching tool result with an empty payload.
func ToolEmptyFault(tool string) Factory {
	return func() Fault { return Fault{Point: PointTool, Kind: ToolEmpty, Tool: tool} }
}

// ToolMutateFault rewrites every matching tool result's content via mutate.
func ToolMutateFault(tool string, mutate func(string) string) Factory {
	return func() Fault { return Fault{Point: PointTool, Kind: ToolMutate, Tool: tool, Mutator: mutate} }
}

// InputMutateFault rewrites the raw turn input via mutate.
func InputMutateFault(mutate func(string) string) Factory {
	return func() Fault { return Fault{Point: PointUserInput, Kind: InputMutate, Mutator: mutate} }
}

// TruncateFault keeps only the last keepLast conversation entries.
func TruncateFault(keepLast int) Factory {
	return func() Fault { return Fault{Point: PointContext, Kind: ContextTruncate, KeepLast: keepLast} }
}

// InjectMessagesFault inserts msgs into the conversation. An empty msgs is
// a no-op: the injector still returns the verdict, but the turn executor
// records no FaultRecord for it.
func InjectMessagesFault(msgs []*model.Message) Factory {
	return func() Fault { return Fault{Point: PointContext, Kind: ContextInject, InjectMessages: msgs} }
}

// RemoveFault removes every conversation entry for which predicate returns
// true.
func RemoveFault(predicate func(*model.Message) bool) Factory {
	return func() Fault { return Fault{Point: PointContext, Kind: ContextRemove, RemovePredicate: predicate} }
}

// ContextMutateFault rewrites conversation entries via mutate.
func ContextMutateFault(mutate func(string) string) Factory {
	return func() Fault { return Fault{Point: PointContext, Kind: ContextMutate, Mutator: mutate} }
}
