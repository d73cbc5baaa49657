package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaosforge/agentchaos/chaos/fault"
	"github.com/chaosforge/agentchaos/chaos/model"
)

func TestBeginEndCallMovesRecordFromActiveToHistory(t *testing.T) {
	s := New()
	s.BeginCall("call-1", 0, "anthropic")
	assert.Equal(t, 1, s.ActiveCount())
	assert.Equal(t, 1, s.Calls.Total)
	assert.Equal(t, 1, s.Calls.PerProvider["anthropic"])

	s.EndCall("call-1", true, false, "", "", model.TokenUsage{InputTokens: 10, OutputTokens: 5})
	assert.Equal(t, 0, s.ActiveCount())
	require.Len(t, s.History, 1)
	assert.Equal(t, "call-1", s.History[0].CallID)
	assert.Equal(t, 10, s.Tokens.InputTokens)
	assert.Equal(t, 5, s.Tokens.OutputTokens)
	assert.Equal(t, 0, s.Calls.FailedCalls)
}

func TestEndCallTwiceIsNoOpSecondTime(t *testing.T) {
	s := New()
	s.BeginCall("call-1", 0, "anthropic")
	s.EndCall("call-1", true, false, "", "", model.TokenUsage{})
	require.Len(t, s.History, 1)

	s.EndCall("call-1", true, false, "", "", model.TokenUsage{})
	assert.Len(t, s.History, 1, "a second EndCall for the same id must not duplicate the history entry")
}

func TestEndCallTracksInjectedFailures(t *testing.T) {
	s := New()
	s.BeginCall("c1", 0, "anthropic")
	s.EndCall("c1", false, true, fault.RateLimit, "rate limited", model.TokenUsage{})
	assert.Equal(t, 1, s.Calls.FailedCalls)
	assert.Equal(t, 1, s.Calls.InjectedFail)
}

func TestToolRequestedThenResolved(t *testing.T) {
	s := New()
	s.ToolRequested("tu-1", "search", "call-1", 42)
	require.Contains(t, s.Tools, "tu-1")
	assert.Equal(t, 0, s.Tools["tu-1"].ResultBytes)

	s.ToolResolved("tu-1", "call-2", 100, 5*time.Millisecond, true, false)
	assert.Equal(t, 100, s.Tools["tu-1"].ResultBytes)
	assert.True(t, s.Tools["tu-1"].Success)
}

func TestToolResolvedUnknownIDIsNoOp(t *testing.T) {
	s := New()
	s.ToolResolved("never-requested", "call-1", 10, time.Millisecond, true, false)
	assert.Empty(t, s.Tools)
}

func TestRecordFaultAppendsImmutableRecord(t *testing.T) {
	s := New()
	s.RecordFault(FaultRecord{Kind: fault.RateLimit, Point: fault.PointLLM, RuleName: "r1"})
	require.Len(t, s.Faults, 1)
	assert.Equal(t, "r1", s.Faults[0].RuleName)
}

func TestStreamCounters(t *testing.T) {
	s := New()
	s.RecordTTFT(120)
	s.RecordChunkDelay(30)
	s.RecordChunkDelay(40)
	s.RecordHang()
	s.RecordCut()

	assert.Equal(t, []int64{120}, s.Stream.TTFTSamplesMS)
	assert.Equal(t, 2, s.Stream.TotalChunks)
	assert.Equal(t, 1, s.Stream.HangEvents)
	assert.Equal(t, 1, s.Stream.CutEvents)
}
