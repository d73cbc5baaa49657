// Package assert defines the scenario assertion engine: named predicates
// evaluated against a snapshot of a run's metrics store plus per-turn
// timing, each reporting (name, passed, message) rather than a bare error
// so a report can show every verdict, not just the first failure.
package assert

import (
	"fmt"
	"strings"
	"time"

	"github.com/chaosforge/agentchaos/chaos/metrics"
	"github.com/chaosforge/agentchaos/chaos/report"
)

// Context is the state an Assertion evaluates against: a read-only snapshot
// of the run so far, the elapsed wall-clock time of whatever scope the
// assertion applies to (the full run, or a single turn), the index of the
// turn that just completed, when turn-scoped, and every TurnResult
// recorded so far (including the turn that just completed), so a run-level
// assertion like TurnResponseContains(k, ...) can reach back into an
// earlier turn's captured output.
type Context struct {
	Store     *metrics.Store
	Elapsed   time.Duration
	TurnIndex int
	// LastResponseText is the concatenated text of the most recent
	// assistant message, for TurnResponseContains.
	LastResponseText string
	// Turns is every TurnResult completed so far, in order.
	Turns []report.TurnResult
}

// Check is the pure predicate an Assertion wraps: nil when satisfied, or a
// descriptive error identifying the failure.
type Check func(Context) error

// Assertion names a Check so it can be reported as (name, passed, message)
// rather than a bare pass/fail error.
type Assertion struct {
	Name  string
	Check Check
}

// Evaluate runs the assertion and returns its named result. It never
// panics on a nil Check; a zero-value Assertion is treated as vacuously
// satisfied.
func (a Assertion) Evaluate(c Context) report.AssertionResult {
	if a.Check == nil {
		return report.AssertionResult{Name: a.Name, Passed: true}
	}
	if err := a.Check(c); err != nil {
		return report.AssertionResult{Name: a.Name, Passed: false, Message: err.Error()}
	}
	return report.AssertionResult{Name: a.Name, Passed: true}
}

// EvaluateAll runs every assertion in assertions against c and returns the
// full set of named results, in declaration order. Every assertion runs;
// none are skipped because an earlier one failed, since overall pass is
// the conjunction of all results.
func EvaluateAll(assertions []Assertion, c Context) []report.AssertionResult {
	if len(assertions) == 0 {
		return nil
	}
	results := make([]report.AssertionResult, len(assertions))
	for i, a := range assertions {
		results[i] = a.Evaluate(c)
	}
	return results
}

// CompletesWithin fails if Elapsed exceeds d.
func CompletesWithin(d time.Duration) Assertion {
	return Assertion{
		Name: fmt.Sprintf("CompletesWithin(%s)", d),
		Check: func(c Context) error {
			if c.Elapsed > d {
				return fmt.Errorf("took %s, exceeds limit %s", c.Elapsed, d)
			}
			return nil
		},
	}
}

// TurnCompletesWithin fails unless turn k has completed and its elapsed
// time is within d. Unlike CompletesWithin (which measures whatever scope
// it is attached to), this names the turn explicitly so it can be used as
// a run-level assertion that reaches back into any already-completed turn.
func TurnCompletesWithin(k int, d time.Duration) Assertion {
	return Assertion{
		Name: fmt.Sprintf("TurnCompletesWithin(%d, %s)", k, d),
		Check: func(c Context) error {
			t, ok := findTurn(c.Turns, k)
			if !ok {
				return fmt.Errorf("turn %d has not completed", k)
			}
			if t.Elapsed > d {
				return fmt.Errorf("turn %d took %s, exceeds limit %s", k, t.Elapsed, d)
			}
			return nil
		},
	}
}

func findTurn(turns []report.TurnResult, k int) (report.TurnResult, bool) {
	for _, t := range turns {
		if t.Index == k {
			return t, true
		}
	}
	return report.TurnResult{}, false
}

// MaxLLMCalls fails if the number of completed calls exceeds n.
func MaxLLMCalls(n int) Assertion {
	return Assertion{
		Name: fmt.Sprintf("MaxLLMCalls(%d)", n),
		Check: func(c Context) error {
			if c.Store.Calls.Total > n {
				return fmt.Errorf("%d LLM calls, exceeds max %d", c.Store.Calls.Total, n)
			}
			return nil
		},
	}
}

// MinLLMCalls fails if fewer than n calls have completed.
func MinLLMCalls(n int) Assertion {
	return Assertion{
		Name: fmt.Sprintf("MinLLMCalls(%d)", n),
		Check: func(c Context) error {
			if c.Store.Calls.Total < n {
				return fmt.Errorf("%d LLM calls, below min %d", c.Store.Calls.Total, n)
			}
			return nil
		},
	}
}

// MaxTokens fails if cumulative input+output tokens exceed n.
func MaxTokens(n int) Assertion {
	return Assertion{
		Name: fmt.Sprintf("MaxTokens(%d)", n),
		Check: func(c Context) error {
			total := c.Store.Tokens.InputTokens + c.Store.Tokens.OutputTokens
			if total > n {
				return fmt.Errorf("%d tokens, exceeds max %d", total, n)
			}
			return nil
		},
	}
}

// AllTurnsComplete fails if any call remains in-flight when evaluated,
// meaning a turn ended without the executor draining every call it opened.
func AllTurnsComplete() Assertion {
	return Assertion{
		Name: "AllTurnsComplete()",
		Check: func(c Context) error {
			if n := c.Store.ActiveCount(); n > 0 {
				return fmt.Errorf("%d calls still in-flight", n)
			}
			return nil
		},
	}
}

// TurnCompletes fails unless turn k appears among the turns completed so
// far and finished without a failure reason (i.e. it ran to completion
// rather than aborting on an agent/provider/scenario error or timeout).
func TurnCompletes(k int) Assertion {
	return Assertion{
		Name: fmt.Sprintf("TurnCompletes(%d)", k),
		Check: func(c Context) error {
			t, ok := findTurn(c.Turns, k)
			if !ok {
				return fmt.Errorf("turn %d has not completed", k)
			}
			if !t.Passed {
				return fmt.Errorf("turn %d did not complete: %s", k, t.FailureReason)
			}
			return nil
		},
	}
}

// TurnResponseContains fails unless turn k has completed and its captured
// assistant response text contains substr.
func TurnResponseContains(k int, substr string) Assertion {
	return Assertion{
		Name: fmt.Sprintf("TurnResponseContains(%d, %q)", k, substr),
		Check: func(c Context) error {
			t, ok := findTurn(c.Turns, k)
			if !ok {
				return fmt.Errorf("turn %d has not completed", k)
			}
			if !strings.Contains(t.ResponseText, substr) {
				return fmt.Errorf("turn %d response does not contain %q", k, substr)
			}
			return nil
		},
	}
}
