// Package report defines the immutable summary of a completed scenario run
// and its JSON scorecard serialization.
package report

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/chaosforge/agentchaos/chaos/metrics"
)

// AssertionResult is the outcome of one evaluated assertion. Message is
// empty when Passed is true.
type AssertionResult struct {
	Name    string
	Passed  bool
	Message string
}

// TurnResult is the outcome of one executed turn.
type TurnResult struct {
	Index         int
	Input         string
	ResponseText  string
	Elapsed       time.Duration
	Passed        bool
	TimedOut      bool
	FailureReason string
	// Assertions holds every turn-scoped assertion's result, in declaration
	// order; every assertion runs regardless of earlier failures.
	Assertions []AssertionResult
}

// RunReport is the immutable result of a single scenario execution. Once
// constructed by chaos/runner it is never mutated; callers needing a
// mutable working copy should copy the value.
type RunReport struct {
	Scenario      string
	Seed          int64
	Started       time.Time
	Finished      time.Time
	Passed        bool
	FailureReason string
	Turns         []TurnResult
	// Assertions holds every run-scoped assertion's result, in declaration
	// order. Empty when the run failed before run-level assertions were
	// reached (e.g. a turn failure aborted the run first).
	Assertions []AssertionResult
	Store      *metrics.Store
}

// Elapsed is the total wall-clock duration of the run.
func (r RunReport) Elapsed() time.Duration { return r.Finished.Sub(r.Started) }

// Scorecard is the JSON projection of a RunReport used for the on-disk
// scorecard.json artifact. It is the stable wire shape: external tooling
// parses this, not the in-memory RunReport layout.
type Scorecard struct {
	Scenario      string                `json:"scenario"`
	Seed          int64                 `json:"seed"`
	Started       time.Time             `json:"started"`
	Finished      time.Time             `json:"finished"`
	ElapsedMS     int64                 `json:"elapsed_ms"`
	Passed        bool                  `json:"passed"`
	FailureReason string                `json:"failure_reason,omitempty"`
	Turns         []TurnScorecard       `json:"turns"`
	Assertions    []AssertionResult     `json:"assertions,omitempty"`
	Calls         metrics.CallStats     `json:"calls"`
	Tokens        metrics.TokenStats    `json:"tokens"`
	Stream        metrics.StreamStats   `json:"stream"`
	Faults        []metrics.FaultRecord `json:"faults"`
}

// TurnScorecard is one turn's slice of the Scorecard.
type TurnScorecard struct {
	Index         int               `json:"index"`
	Input         string            `json:"input,omitempty"`
	Response      string            `json:"response,omitempty"`
	Passed        bool              `json:"passed"`
	TimedOut      bool              `json:"timed_out,omitempty"`
	FailureReason string            `json:"failure_reason,omitempty"`
	ElapsedMS     int64             `json:"elapsed_ms"`
	Assertions    []AssertionResult `json:"assertions,omitempty"`
}

// MarshalJSON renders the Scorecard projection, not the full RunReport
// struct layout, so the on-disk artifact shape stays stable independent of
// internal field renames.
func (r RunReport) MarshalJSON() ([]byte, error) {
	sc := r.Scorecard()
	return json.MarshalIndent(sc, "", "  ")
}

// Scorecard builds the wire projection of the report.
func (r RunReport) Scorecard() Scorecard {
	sc := Scorecard{
		Scenario:      r.Scenario,
		Seed:          r.Seed,
		Started:       r.Started,
		Finished:      r.Finished,
		ElapsedMS:     r.Elapsed().Milliseconds(),
		Passed:        r.Passed,
		FailureReason: r.FailureReason,
		Assertions:    r.Assertions,
	}
	if r.Store != nil {
		sc.Calls = r.Store.Calls
		sc.Tokens = r.Store.Tokens
		sc.Stream = r.Store.Stream
		sc.Faults = r.Store.Faults
	}
	for _, t := range r.Turns {
		sc.Turns = append(sc.Turns, TurnScorecard{
			Index: t.Index, Input: t.Input, Response: t.ResponseText,
			Passed: t.Passed, TimedOut: t.TimedOut, FailureReason: t.FailureReason,
			ElapsedMS: t.Elapsed.Milliseconds(), Assertions: t.Assertions,
		})
	}
	return sc
}

// ParseScorecard decodes a scorecard.json artifact back into its wire
// projection, for tooling that post-processes completed runs.
func ParseScorecard(data []byte) (Scorecard, error) {
	var sc Scorecard
	if err := json.Unmarshal(data, &sc); err != nil {
		return Scorecard{}, fmt.Errorf("report: parse scorecard: %w", err)
	}
	return sc, nil
}

// Pair holds a scenario's baseline (no chaos) and chaos runs, for the
// baseline-vs-chaos comparison mode.
type Pair struct {
	Baseline RunReport
	Chaos    RunReport
}

// Regressed reports whether the chaos run failed while the baseline
// passed, the signal a baseline-vs-chaos comparison exists to surface.
func (p Pair) Regressed() bool {
	return p.Baseline.Passed && !p.Chaos.Passed
}
