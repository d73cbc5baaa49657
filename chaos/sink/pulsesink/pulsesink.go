// Package pulsesink implements hooks.Sink on top of goa.design/pulse
// streams, for deployments that want live chaos-run events fanned out to
// subscribers (a dashboard, a second harness instance watching for
// regressions) rather than only written to disk. The caller builds the
// Redis-backed Stream; this package only wraps events in an envelope and
// publishes them.
package pulsesink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"goa.design/pulse/streaming"
	streamopts "goa.design/pulse/streaming/options"

	"github.com/chaosforge/agentchaos/chaos/hooks"
)

// Envelope wraps a chaos event for transmission over a Pulse stream.
type Envelope struct {
	Type      string         `json:"type"`
	TraceID   string         `json:"trace_id"`
	SpanID    string         `json:"span_id,omitempty"`
	Provider  string         `json:"provider,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// Options configures the Pulse-backed sink.
type Options struct {
	// Stream is the Pulse stream to publish onto, already opened by the
	// caller (e.g. via streaming.NewStream(redisClient, "agentchaos-events")).
	Stream *streaming.Stream
	// OperationTimeout bounds individual Add calls. Zero means no timeout.
	OperationTimeout time.Duration
}

// Sink publishes hooks.Event values to a Pulse stream, one entry per
// event. Safe for concurrent use across scenario runs sharing one Stream:
// Pulse streams are themselves safe for concurrent Add calls, and Sink
// holds no per-call mutable state of its own.
type Sink struct {
	stream  *streaming.Stream
	timeout time.Duration
}

// New builds a Sink over opts.
func New(opts Options) (*Sink, error) {
	if opts.Stream == nil {
		return nil, errors.New("pulsesink: stream is required")
	}
	return &Sink{stream: opts.Stream, timeout: opts.OperationTimeout}, nil
}

// Emit publishes event as a single Pulse stream entry named after its type.
func (s *Sink) Emit(ctx context.Context, event hooks.Event) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	env := Envelope{
		Type:      string(event.Type),
		TraceID:   event.TraceID,
		SpanID:    event.SpanID,
		Provider:  event.Provider,
		Timestamp: event.Timestamp,
		Data:      event.Data,
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("pulsesink: marshal: %w", err)
	}
	if _, err := s.stream.Add(ctx, string(event.Type), payload); err != nil {
		return fmt.Errorf("pulsesink: add: %w", err)
	}
	return nil
}

// Close destroys nothing: the caller owns the Stream's lifecycle (it may
// be shared with other publishers).
func (s *Sink) Close() error { return nil }

// EnsureConsumerGroup creates a Pulse sink (Pulse's term for a consumer
// group) named groupName on the underlying stream, for subscribers that
// want at-least-once delivery with acknowledgment rather than a raw tail
// read.
func (s *Sink) EnsureConsumerGroup(ctx context.Context, groupName string, opts ...streamopts.Sink) error {
	_, err := s.stream.NewSink(ctx, groupName, opts...)
	if err != nil {
		return fmt.Errorf("pulsesink: consumer group: %w", err)
	}
	return nil
}
