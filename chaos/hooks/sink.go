package hooks

import (
	"context"
	"errors"
	"sync"
)

// Sink is a pluggable consumer of a run's event stream. Implementations
// must be safe for concurrent Emit only when they are shared across
// multiple scenario runs; a single scenario's Recorder always calls Emit
// from one goroutine.
type Sink interface {
	// Emit delivers one event to the sink. An error here is returned by
	// the Recorder method that emitted the event; the scenario executor and
	// provider interception discard those errors, so a failing sink does
	// not abort the run.
	Emit(ctx context.Context, event Event) error
	// Close releases resources held by the sink. Idempotent.
	Close() error
}

// NullSink discards every event. Useful as a default when no persistence or
// live display is wanted.
type NullSink struct{}

// Emit discards event and always returns nil.
func (NullSink) Emit(context.Context, Event) error { return nil }

// Close is a no-op.
func (NullSink) Close() error { return nil }

// MemorySink accumulates every event in order, for tests and for scenario
// runs that only need an in-process timeline.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

// NewMemorySink returns a ready-to-use MemorySink.
func NewMemorySink() *MemorySink { return &MemorySink{} }

// Emit appends event to the in-memory timeline.
func (s *MemorySink) Emit(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

// Close is a no-op; the timeline remains readable after Close.
func (s *MemorySink) Close() error { return nil }

// Events returns a snapshot copy of the recorded timeline.
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// BroadcastSink fans an event out to every registered downstream Sink:
// Emit is synchronous, delivery is in registration order, and iteration
// stops at the first error. The broadcast layer owns the synchronisation
// its downstream consumers need; a BroadcastSink over concurrency-safe
// sinks is itself safe to share across runs.
type BroadcastSink struct {
	mu    sync.RWMutex
	sinks []Sink
}

// NewBroadcastSink constructs a BroadcastSink over the given downstream
// sinks, registered in order.
func NewBroadcastSink(sinks ...Sink) *BroadcastSink {
	return &BroadcastSink{sinks: append([]Sink(nil), sinks...)}
}

// Register adds a downstream sink. Safe to call concurrently with Emit.
func (b *BroadcastSink) Register(s Sink) error {
	if s == nil {
		return errors.New("hooks: sink is required")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, s)
	return nil
}

// Emit delivers event to every registered sink in order, stopping at the
// first error.
func (b *BroadcastSink) Emit(ctx context.Context, event Event) error {
	b.mu.RLock()
	sinks := append([]Sink(nil), b.sinks...)
	b.mu.RUnlock()
	for _, s := range sinks {
		if err := s.Emit(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

// Close closes every registered sink, collecting and joining any errors
// rather than stopping at the first one, since teardown must run on every
// exit path.
func (b *BroadcastSink) Close() error {
	b.mu.RLock()
	sinks := append([]Sink(nil), b.sinks...)
	b.mu.RUnlock()
	var errs []error
	for _, s := range sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
