package hooks

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/chaosforge/agentchaos/chaos/fault"
	"github.com/chaosforge/agentchaos/chaos/metrics"
	"github.com/chaosforge/agentchaos/chaos/model"
)

// Recorder is the single writer to a run's metrics Store and the only
// emitter to its Sink. Every method here is a choke point: it updates the
// Store, emits the corresponding Event, or both; where it does both, the
// Store is updated before Emit, so an observer reading the Store after Emit
// returns sees every state change that event implies.
type Recorder struct {
	store    *metrics.Store
	sink     Sink
	traceID  string
	provider string
	clock    func() time.Time
}

// New constructs a Recorder over store, emitting to sink and tagging every
// event with traceID and provider. clock defaults to time.Now; tests may
// override it to get deterministic, strictly increasing timestamps.
func New(store *metrics.Store, sink Sink, traceID, provider string) *Recorder {
	if sink == nil {
		sink = NullSink{}
	}
	return &Recorder{store: store, sink: sink, traceID: traceID, provider: provider, clock: time.Now}
}

// Store returns the underlying metrics store for read-only inspection
// (e.g. by the assertion engine once the run has completed).
func (r *Recorder) Store() *metrics.Store { return r.store }

// TraceStart emits the opening trace_start event.
func (r *Recorder) TraceStart(ctx context.Context, scenarioName string, seed int64) error {
	return r.emit(ctx, Event{Type: EventTraceStart, Data: traceStart(scenarioName, seed)})
}

// TraceEnd emits the closing trace_end event.
func (r *Recorder) TraceEnd(ctx context.Context, passed bool, errMsg string) error {
	return r.emit(ctx, Event{Type: EventTraceEnd, Data: traceEnd(passed, errMsg)})
}

// BeginCall opens a span for a new LLM call: allocates a call id, updates
// CallStats, and emits span_start. Returns the call id for correlating the
// matching EndCall.
func (r *Recorder) BeginCall(ctx context.Context, turnIndex, callInTurn, globalCall int) (string, error) {
	callID := uuid.NewString()
	r.store.BeginCall(callID, turnIndex, r.provider)
	err := r.emit(ctx, Event{
		Type:   EventSpanStart,
		SpanID: callID,
		Data:   spanStart(turnIndex, callInTurn, globalCall),
	})
	return callID, err
}

// EndCall closes the span for callID: updates CallStats/TokenStats/History
// and emits span_end plus, when usage is non-zero, token_usage.
func (r *Recorder) EndCall(ctx context.Context, callID string, success, injected bool, kind fault.Kind, errMsg string, usage model.TokenUsage, elapsed time.Duration) error {
	r.store.EndCall(callID, success, injected, kind, errMsg, usage)
	if err := r.emit(ctx, Event{
		Type:   EventSpanEnd,
		SpanID: callID,
		Data:   spanEnd(success, injected, elapsed.Milliseconds(), errMsg),
	}); err != nil {
		return err
	}
	if usage.InputTokens != 0 || usage.OutputTokens != 0 {
		return r.emit(ctx, Event{Type: EventTokenUsage, SpanID: callID, Data: tokenUsage(usage.InputTokens, usage.OutputTokens)})
	}
	return nil
}

// RecordFault appends a FaultRecord and emits fault_injected. Callers must
// only invoke this once a verdict has actually altered observed behavior;
// a skipped or no-op verdict (e.g. INJECT with an empty message list) must
// not call RecordFault.
func (r *Recorder) RecordFault(ctx context.Context, callID string, fr metrics.FaultRecord) error {
	fr.Timestamp = r.clock()
	r.store.RecordFault(fr)
	return r.emit(ctx, Event{
		Type:   EventFaultInjected,
		SpanID: callID,
		Data: faultInjected(
			string(fr.Kind), string(fr.Point), fr.RuleName,
			fr.Original, fr.Mutated, fr.AddedMessages, fr.RemovedMessages,
		),
	})
}

// RecordTTFT records the time-to-first-token sample and emits ttft.
func (r *Recorder) RecordTTFT(ctx context.Context, callID string, d time.Duration) error {
	r.store.RecordTTFT(d.Milliseconds())
	return r.emit(ctx, Event{Type: EventTTFT, SpanID: callID, Data: ttft(d.Milliseconds())})
}

// RecordStreamCut records a stream cut after chunkCount chunks and emits
// stream_cut.
func (r *Recorder) RecordStreamCut(ctx context.Context, callID string, chunkCount int) error {
	r.store.RecordCut()
	return r.emit(ctx, Event{Type: EventStreamCut, SpanID: callID, Data: streamCut(chunkCount)})
}

// RecordStreamStats records completion stats for a stream and emits
// stream_stats.
func (r *Recorder) RecordStreamStats(ctx context.Context, callID string, chunkCount, bytes int, elapsed time.Duration) error {
	return r.emit(ctx, Event{Type: EventStreamStats, SpanID: callID, Data: streamStats(chunkCount, bytes, elapsed.Milliseconds())})
}

// RecordHang records a stream hang event.
func (r *Recorder) RecordHang() { r.store.RecordHang() }

// RecordChunkDelay records an injected per-chunk pacing delay. No dedicated
// event; the aggregate surfaces through stream_stats and the scorecard.
func (r *Recorder) RecordChunkDelay(d time.Duration) {
	r.store.RecordChunkDelay(d.Milliseconds())
}

// ToolUse emits a tool_use event for a tool invocation the model requested
// in its response, before the agent has started resolving it. Tracking of
// the invocation itself begins at ToolRequested.
func (r *Recorder) ToolUse(ctx context.Context, callID, toolUseID, name string) error {
	return r.emit(ctx, Event{Type: EventToolUse, SpanID: callID, Data: toolUse(toolUseID, name)})
}

// ToolRequested tracks a newly observed tool_use id and emits tool_start.
func (r *Recorder) ToolRequested(ctx context.Context, callID, toolUseID, name string, argBytes int) error {
	r.store.ToolRequested(toolUseID, name, callID, argBytes)
	return r.emit(ctx, Event{Type: EventToolStart, SpanID: callID, Data: toolStart(toolUseID, name, argBytes)})
}

// ToolResolved marks a tracked tool invocation resolved and emits tool_end.
func (r *Recorder) ToolResolved(ctx context.Context, callID, toolUseID string, resultBytes int, duration time.Duration, success, injected bool) error {
	r.store.ToolResolved(toolUseID, callID, resultBytes, duration, success, injected)
	return r.emit(ctx, Event{Type: EventToolEnd, SpanID: callID, Data: toolEnd(toolUseID, success, injected, resultBytes, duration.Milliseconds())})
}

// AppendConversation appends an entry to the ordered conversation view. It
// does not emit a dedicated event; conversation state is reconstructable
// from span/tool events and is exposed directly on RunReport.
func (r *Recorder) AppendConversation(role model.ConversationRole, content string, turnIndex int) {
	r.store.AppendConversation(metrics.ConversationEntry{
		Role: role, Content: content, TurnIndex: turnIndex, Timestamp: r.clock(),
	})
}

func (r *Recorder) emit(ctx context.Context, e Event) error {
	e.Timestamp = r.clock()
	e.TraceID = r.traceID
	if e.Provider == "" {
		e.Provider = r.provider
	}
	return r.sink.Emit(ctx, e)
}
