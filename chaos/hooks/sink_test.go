package hooks

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNullSinkDiscards(t *testing.T) {
	s := NullSink{}
	assert.NoError(t, s.Emit(context.Background(), Event{Type: EventTraceStart}))
	assert.NoError(t, s.Close())
}

func TestMemorySinkOrdersEvents(t *testing.T) {
	s := NewMemorySink()
	require.NoError(t, s.Emit(context.Background(), Event{Type: EventTraceStart}))
	require.NoError(t, s.Emit(context.Background(), Event{Type: EventTraceEnd}))
	events := s.Events()
	require.Len(t, events, 2)
	assert.Equal(t, EventTraceStart, events[0].Type)
	assert.Equal(t, EventTraceEnd, events[1].Type)
}

func TestMemorySinkEventsReturnsCopy(t *testing.T) {
	s := NewMemorySink()
	require.NoError(t, s.Emit(context.Background(), Event{Type: EventTraceStart}))
	snap := s.Events()
	snap[0].Type = "mutated"
	assert.Equal(t, EventTraceStart, s.Events()[0].Type, "mutating a snapshot must not affect the sink's internal timeline")
}

type erroringSink struct{ err error }

func (e erroringSink) Emit(context.Context, Event) error { return e.err }
func (e erroringSink) Close() error                      { return nil }

func TestBroadcastSinkStopsAtFirstError(t *testing.T) {
	first := NewMemorySink()
	boom := errors.New("boom")
	second := erroringSink{err: boom}
	third := NewMemorySink()

	b := NewBroadcastSink(first, second, third)
	err := b.Emit(context.Background(), Event{Type: EventTraceStart})
	require.ErrorIs(t, err, boom)
	assert.Len(t, first.Events(), 1, "the sink before the failing one must still have received the event")
	assert.Empty(t, third.Events(), "the sink after the failing one must not be reached")
}

func TestBroadcastSinkRegisterAppends(t *testing.T) {
	b := NewBroadcastSink()
	extra := NewMemorySink()
	require.NoError(t, b.Register(extra))
	require.NoError(t, b.Emit(context.Background(), Event{Type: EventTraceStart}))
	assert.Len(t, extra.Events(), 1)
}

func TestBroadcastSinkRegisterNilIsError(t *testing.T) {
	b := NewBroadcastSink()
	assert.Error(t, b.Register(nil))
}

func TestBroadcastSinkCloseJoinsAllErrors(t *testing.T) {
	boom1 := errors.New("boom1")
	boom2 := errors.New("boom2")
	b := NewBroadcastSink(erroringCloseSink{boom1}, erroringCloseSink{boom2})
	err := b.Close()
	require.Error(t, err)
	assert.ErrorIs(t, err, boom1)
	assert.ErrorIs(t, err, boom2)
}

type erroringCloseSink struct{ err error }

func (e erroringCloseSink) Emit(context.Context, Event) error { return nil }
func (e erroringCloseSink) Close() error                      { return e.err }
