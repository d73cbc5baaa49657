package assert

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaosforge/agentchaos/chaos/metrics"
	"github.com/chaosforge/agentchaos/chaos/model"
	"github.com/chaosforge/agentchaos/chaos/report"
)

func TestCompletesWithin(t *testing.T) {
	a := CompletesWithin(time.Second)
	assert.NoError(t, a.Check(Context{Elapsed: 500 * time.Millisecond}))
	err := a.Check(Context{Elapsed: 2 * time.Second})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds limit")
	assert.Equal(t, "CompletesWithin(1s)", a.Name)
}

func TestMaxMinLLMCalls(t *testing.T) {
	store := metrics.New()
	store.Calls.Total = 3

	assert.NoError(t, MaxLLMCalls(3).Check(Context{Store: store}))
	assert.Error(t, MaxLLMCalls(2).Check(Context{Store: store}))
	assert.NoError(t, MinLLMCalls(3).Check(Context{Store: store}))
	assert.Error(t, MinLLMCalls(4).Check(Context{Store: store}))
}

func TestMaxTokens(t *testing.T) {
	store := metrics.New()
	store.Tokens.InputTokens = 100
	store.Tokens.OutputTokens = 50

	assert.NoError(t, MaxTokens(150).Check(Context{Store: store}))
	assert.Error(t, MaxTokens(100).Check(Context{Store: store}))
}

func TestAllTurnsComplete(t *testing.T) {
	store := metrics.New()
	assert.NoError(t, AllTurnsComplete().Check(Context{Store: store}))

	store.BeginCall("c1", 0, "anthropic")
	assert.Error(t, AllTurnsComplete().Check(Context{Store: store}))
}

func TestTurnCompletes(t *testing.T) {
	store := metrics.New()
	store.BeginCall("c1", 2, "anthropic")
	store.EndCall("c1", true, false, "", "", model.TokenUsage{})

	turns := []report.TurnResult{{Index: 0, Passed: true}, {Index: 2, Passed: true}}
	assert.NoError(t, TurnCompletes(2).Check(Context{Store: store, Turns: turns}))
	assert.Error(t, TurnCompletes(1).Check(Context{Store: store, Turns: turns}))

	failed := []report.TurnResult{{Index: 0, Passed: false, FailureReason: "boom"}}
	assert.Error(t, TurnCompletes(0).Check(Context{Store: store, Turns: failed}))
}

func TestTurnCompletesWithin(t *testing.T) {
	turns := []report.TurnResult{{Index: 0, Elapsed: 500 * time.Millisecond}}
	assert.NoError(t, TurnCompletesWithin(0, time.Second).Check(Context{Turns: turns}))
	assert.Error(t, TurnCompletesWithin(0, 100*time.Millisecond).Check(Context{Turns: turns}))
	assert.Error(t, TurnCompletesWithin(1, time.Second).Check(Context{Turns: turns}))
}

func TestTurnResponseContains(t *testing.T) {
	turns := []report.TurnResult{{Index: 0, ResponseText: "oh hello there"}}
	assert.NoError(t, TurnResponseContains(0, "hello").Check(Context{Turns: turns}))
	assert.Error(t, TurnResponseContains(0, "missing").Check(Context{Turns: turns}))
	assert.Error(t, TurnResponseContains(1, "hello").Check(Context{Turns: turns}))
}

// TestEvaluateAllRunsEveryAssertion: every assertion must run and report
// its own result, even once an earlier one has already failed.
func TestEvaluateAllRunsEveryAssertion(t *testing.T) {
	var secondCalled, thirdCalled bool
	first := Assertion{Name: "first", Check: func(Context) error { return errors.New("first failed") }}
	second := Assertion{Name: "second", Check: func(Context) error { secondCalled = true; return errors.New("second failed") }}
	third := Assertion{Name: "third", Check: func(Context) error { thirdCalled = true; return nil }}

	results := EvaluateAll([]Assertion{first, second, third}, Context{})

	require.Len(t, results, 3)
	assert.True(t, secondCalled, "EvaluateAll must not short-circuit after the first failure")
	assert.True(t, thirdCalled, "EvaluateAll must not short-circuit after the second failure")

	assert.Equal(t, report.AssertionResult{Name: "first", Passed: false, Message: "first failed"}, results[0])
	assert.Equal(t, report.AssertionResult{Name: "second", Passed: false, Message: "second failed"}, results[1])
	assert.Equal(t, report.AssertionResult{Name: "third", Passed: true}, results[2])
}

func TestEvaluateAllEmpty(t *testing.T) {
	assert.Nil(t, EvaluateAll(nil, Context{}))
}
