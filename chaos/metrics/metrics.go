// Package metrics defines the typed sub-records of a scenario run's
// metrics store and the Store that holds them. The Store is written
// exclusively by the recorder (chaos/hooks) from the turn executor's
// single goroutine; nothing else in the harness mutates it directly, so a
// single scenario needs no internal locking here.
package metrics

import (
	"time"

	"github.com/chaosforge/agentchaos/chaos/fault"
	"github.com/chaosforge/agentchaos/chaos/model"
)

type (
	// CallRecord is the immutable outcome of one completed LLM call.
	CallRecord struct {
		CallID     string
		TurnIndex  int
		Provider   string
		Started    time.Time
		Elapsed    time.Duration
		Success    bool
		Injected   bool
		FaultKind  fault.Kind
		ErrMessage string
		Usage      model.TokenUsage
	}

	// CallStats aggregates CallRecord data for the scorecard.
	CallStats struct {
		Total        int
		Retries      int
		PerProvider  map[string]int
		LatencyMS    []int64
		FailedCalls  int
		InjectedFail int
	}

	// TokenStats tracks cumulative token consumption across the run.
	TokenStats struct {
		InputTokens  int
		OutputTokens int
	}

	// StreamStats tracks streaming behavior across the run.
	StreamStats struct {
		TTFTSamplesMS []int64
		HangEvents    int
		CutEvents     int
		ChunkDelaysMS []int64
		TotalChunks   int
	}

	// ToolInvocation tracks one tool_use through its strict transition
	// order: requested -> (optional faulted) -> resolved.
	ToolInvocation struct {
		ToolUseID       string
		Name            string
		RequestedInCall string
		ResolvedInCall  string
		ArgBytes        int
		ResultBytes     int
		Duration        time.Duration
		Success         bool
		Injected        bool
	}

	// ConversationEntry is one ordered entry in the conversation view.
	ConversationEntry struct {
		Role      model.ConversationRole
		Content   string
		TurnIndex int
		Timestamp time.Time
	}

	// FaultRecord is an immutable record of one applied injection.
	FaultRecord struct {
		Kind      fault.Kind
		Point     fault.Point
		RuleName  string
		CallID    string
		ToolName  string
		Timestamp time.Time
		// Original/Mutated capture before/after text for MUTATE faults;
		// empty for faults that do not rewrite text.
		Original string
		Mutated  string
		// AddedMessages/RemovedMessages count CONTEXT-stage edits.
		AddedMessages   int
		RemovedMessages int
	}

	// Store is the mapping of typed sub-records for one scenario run. All
	// fields are pre-initialized by New and are safe to read after the run
	// completes; they must not be mutated concurrently with an in-progress
	// run (see package doc).
	Store struct {
		Calls        CallStats
		Tokens       TokenStats
		Stream       StreamStats
		Tools        map[string]*ToolInvocation // keyed by tool_use_id
		Conversation []ConversationEntry
		History      []CallRecord
		Faults       []FaultRecord
		// Active is the in-flight call id -> partial record table. Every id
		// inserted here must be removed by EndCall before the turn
		// completes.
		Active map[string]*CallRecord
	}
)

// New returns an empty, ready-to-use Store.
func New() *Store {
	return &Store{
		Calls:  CallStats{PerProvider: make(map[string]int)},
		Tools:  make(map[string]*ToolInvocation),
		Active: make(map[string]*CallRecord),
	}
}

// BeginCall records a new in-flight call and returns the partial record the
// recorder will fill in as the call proceeds.
func (s *Store) BeginCall(callID string, turnIndex int, provider string) *CallRecord {
	rec := &CallRecord{CallID: callID, TurnIndex: turnIndex, Provider: provider, Started: time.Now()}
	s.Active[callID] = rec
	s.Calls.Total++
	s.Calls.PerProvider[provider]++
	return rec
}

// EndCall finalizes an in-flight call: moves it from Active into History and
// updates the scorecard counters. It is an error for the caller to invoke
// EndCall twice for the same callID; the second call is a no-op since the
// record has already left Active.
func (s *Store) EndCall(callID string, success, injected bool, kind fault.Kind, errMsg string, usage model.TokenUsage) {
	rec, ok := s.Active[callID]
	if !ok {
		return
	}
	delete(s.Active, callID)
	rec.Elapsed = time.Since(rec.Started)
	rec.Success = success
	rec.Injected = injected
	rec.FaultKind = kind
	rec.ErrMessage = errMsg
	rec.Usage = usage
	s.Calls.LatencyMS = append(s.Calls.LatencyMS, rec.Elapsed.Milliseconds())
	if !success {
		s.Calls.FailedCalls++
		if injected {
			s.Calls.InjectedFail++
		}
	}
	s.Tokens.InputTokens += usage.InputTokens
	s.Tokens.OutputTokens += usage.OutputTokens
	s.History = append(s.History, *rec)
}

// RecordFault appends an immutable FaultRecord.
func (s *Store) RecordFault(fr FaultRecord) {
	s.Faults = append(s.Faults, fr)
}

// RecordTTFT appends a time-to-first-token sample in milliseconds.
func (s *Store) RecordTTFT(ms int64) {
	s.Stream.TTFTSamplesMS = append(s.Stream.TTFTSamplesMS, ms)
}

// RecordChunkDelay appends a per-chunk delay sample.
func (s *Store) RecordChunkDelay(ms int64) {
	s.Stream.ChunkDelaysMS = append(s.Stream.ChunkDelaysMS, ms)
	s.Stream.TotalChunks++
}

// RecordHang increments the stream-hang counter.
func (s *Store) RecordHang() { s.Stream.HangEvents++ }

// RecordCut increments the stream-cut counter.
func (s *Store) RecordCut() { s.Stream.CutEvents++ }

// ToolRequested creates the arena entry for a newly observed tool_use id.
// Entries are never removed: the tool tracking map is an arena enabling
// stable cross-call lookup, dropped only at scenario end.
func (s *Store) ToolRequested(toolUseID, name, requestedInCall string, argBytes int) {
	s.Tools[toolUseID] = &ToolInvocation{
		ToolUseID:       toolUseID,
		Name:            name,
		RequestedInCall: requestedInCall,
		ArgBytes:        argBytes,
	}
}

// ToolResolved marks a tracked tool invocation resolved. It is a no-op if
// toolUseID was never requested, and idempotent if already resolved (the
// second call overwrites fields rather than creating a duplicate, preserving
// the "at most one end record" invariant).
func (s *Store) ToolResolved(toolUseID, resolvedInCall string, resultBytes int, duration time.Duration, success, injected bool) {
	inv, ok := s.Tools[toolUseID]
	if !ok {
		return
	}
	inv.ResolvedInCall = resolvedInCall
	inv.ResultBytes = resultBytes
	inv.Duration = duration
	inv.Success = success
	inv.Injected = injected
}

// AppendConversation records an entry in the ordered conversation view.
func (s *Store) AppendConversation(e ConversationEntry) {
	s.Conversation = append(s.Conversation, e)
}

// ActiveCount reports how many calls are currently in-flight. Used by the
// turn executor to assert the active table is empty at turn end.
func (s *Store) ActiveCount() int { return len(s.Active) }
