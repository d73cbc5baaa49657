package hooks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaosforge/agentchaos/chaos/fault"
	"github.com/chaosforge/agentchaos/chaos/metrics"
	"github.com/chaosforge/agentchaos/chaos/model"
)

func TestBeginEndCallEmitsSpanEvents(t *testing.T) {
	store := metrics.New()
	sink := NewMemorySink()
	rec := New(store, sink, "trace-1", "anthropic")
	ctx := context.Background()

	callID, err := rec.BeginCall(ctx, 0, 0, 0)
	require.NoError(t, err)
	require.NotEmpty(t, callID)

	require.NoError(t, rec.EndCall(ctx, callID, true, false, "", "", model.TokenUsage{InputTokens: 3, OutputTokens: 4}, time.Millisecond))

	events := sink.Events()
	require.Len(t, events, 3) // span_start, span_end, token_usage
	assert.Equal(t, EventSpanStart, events[0].Type)
	assert.Equal(t, "trace-1", events[0].TraceID)
	assert.Equal(t, "anthropic", events[0].Provider)
	assert.Equal(t, EventSpanEnd, events[1].Type)
	assert.Equal(t, EventTokenUsage, events[2].Type)
}

func TestEndCallWithoutUsageSkipsTokenEvent(t *testing.T) {
	store := metrics.New()
	sink := NewMemorySink()
	rec := New(store, sink, "trace-1", "anthropic")
	ctx := context.Background()

	callID, err := rec.BeginCall(ctx, 0, 0, 0)
	require.NoError(t, err)
	require.NoError(t, rec.EndCall(ctx, callID, true, false, "", "", model.TokenUsage{}, time.Millisecond))

	events := sink.Events()
	require.Len(t, events, 2)
	assert.Equal(t, EventSpanEnd, events[1].Type)
}

func TestRecordFaultUpdatesStoreAndEmits(t *testing.T) {
	store := metrics.New()
	sink := NewMemorySink()
	rec := New(store, sink, "trace-1", "anthropic")
	ctx := context.Background()

	require.NoError(t, rec.RecordFault(ctx, "call-1", metrics.FaultRecord{Kind: fault.RateLimit, Point: fault.PointLLM, RuleName: "r"}))

	require.Len(t, store.Faults, 1)
	events := sink.Events()
	require.Len(t, events, 1)
	assert.Equal(t, EventFaultInjected, events[0].Type)
}

func TestRecorderDefaultsToNullSink(t *testing.T) {
	store := metrics.New()
	rec := New(store, nil, "trace", "anthropic")
	ctx := context.Background()
	_, err := rec.BeginCall(ctx, 0, 0, 0)
	assert.NoError(t, err)
}

func TestAppendConversationDoesNotEmit(t *testing.T) {
	store := metrics.New()
	sink := NewMemorySink()
	rec := New(store, sink, "trace", "anthropic")
	rec.AppendConversation(model.RoleUser, "hello", 0)
	assert.Empty(t, sink.Events())
	require.Len(t, store.Conversation, 1)
	assert.Equal(t, "hello", store.Conversation[0].Content)
}
