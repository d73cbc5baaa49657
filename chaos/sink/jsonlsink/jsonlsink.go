// Package jsonlsink implements hooks.Sink by appending one JSON object per
// line to a file, the on-disk half of the events.jsonl artifact. A JSONL
// sink is single-scenario-only: concurrent Emit calls from two runs
// sharing one *Sink would interleave lines from unrelated traces, so the
// type is not documented as safe for that.
package jsonlsink

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/chaosforge/agentchaos/chaos/hooks"
)

// Sink appends newline-delimited JSON events to an underlying file.
type Sink struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

// Open creates (or truncates) path and returns a ready-to-use Sink.
func Open(path string) (*Sink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("jsonlsink: %w", err)
	}
	return &Sink{file: f, enc: json.NewEncoder(f)}, nil
}

// Emit appends event as one JSON line.
func (s *Sink) Emit(_ context.Context, event hooks.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(event); err != nil {
		return fmt.Errorf("jsonlsink: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying file.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("jsonlsink: %w", err)
	}
	return nil
}
