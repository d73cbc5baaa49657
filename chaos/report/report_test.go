package report

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaosforge/agentchaos/chaos/fault"
	"github.com/chaosforge/agentchaos/chaos/metrics"
	"github.com/chaosforge/agentchaos/chaos/model"
)

func sampleReport() RunReport {
	store := metrics.New()
	store.BeginCall("c1", 0, "anthropic")
	store.EndCall("c1", false, true, fault.RateLimit, "rate limited", model.TokenUsage{})
	store.BeginCall("c2", 0, "anthropic")
	store.EndCall("c2", true, false, "", "", model.TokenUsage{InputTokens: 10, OutputTokens: 20})
	store.RecordFault(metrics.FaultRecord{Kind: fault.RateLimit, Point: fault.PointLLM, RuleName: "r1", CallID: "c1"})

	started := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	return RunReport{
		Scenario: "sample",
		Seed:     7,
		Started:  started,
		Finished: started.Add(3 * time.Second),
		Passed:   true,
		Turns: []TurnResult{
			{Index: 0, Input: "hi", ResponseText: "hello", Elapsed: time.Second, Passed: true,
				Assertions: []AssertionResult{{Name: "MaxLLMCalls(3)", Passed: true}}},
		},
		Assertions: []AssertionResult{{Name: "AllTurnsComplete()", Passed: true}},
		Store:      store,
	}
}

// TestScorecardRoundTrip: serialising a report and re-parsing the scorecard
// preserves every projected field.
func TestScorecardRoundTrip(t *testing.T) {
	rep := sampleReport()
	raw, err := json.Marshal(rep)
	require.NoError(t, err)

	sc, err := ParseScorecard(raw)
	require.NoError(t, err)

	assert.Equal(t, rep.Scorecard(), sc)
}

func TestScorecardProjectsStoreCounters(t *testing.T) {
	sc := sampleReport().Scorecard()
	assert.Equal(t, 2, sc.Calls.Total)
	assert.Equal(t, 1, sc.Calls.FailedCalls)
	assert.Equal(t, 1, sc.Calls.InjectedFail)
	assert.Equal(t, 10, sc.Tokens.InputTokens)
	assert.Equal(t, 20, sc.Tokens.OutputTokens)
	require.Len(t, sc.Faults, 1)
	assert.Equal(t, fault.RateLimit, sc.Faults[0].Kind)
	assert.Equal(t, int64(3000), sc.ElapsedMS)
}

func TestParseScorecardRejectsGarbage(t *testing.T) {
	_, err := ParseScorecard([]byte("not json"))
	assert.Error(t, err)
}

func TestPairRegressed(t *testing.T) {
	assert.True(t, Pair{Baseline: RunReport{Passed: true}, Chaos: RunReport{Passed: false}}.Regressed())
	assert.False(t, Pair{Baseline: RunReport{Passed: true}, Chaos: RunReport{Passed: true}}.Regressed())
	assert.False(t, Pair{Baseline: RunReport{Passed: false}, Chaos: RunReport{Passed: false}}.Regressed())
}
