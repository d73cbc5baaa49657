package temporal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaosforge/agentchaos/chaos/fault"
	"github.com/chaosforge/agentchaos/chaos/metrics"
	"github.com/chaosforge/agentchaos/chaos/report"
)

func TestDataConverterRoundTripsRunReport(t *testing.T) {
	store := metrics.New()
	store.Calls.Total = 2
	store.Calls.FailedCalls = 1
	store.Calls.InjectedFail = 1
	store.Tokens = metrics.TokenStats{InputTokens: 11, OutputTokens: 7}
	store.Faults = []metrics.FaultRecord{{Kind: fault.RateLimit, Point: fault.PointLLM, RuleName: "r1"}}

	started := time.Date(2026, 7, 31, 9, 0, 0, 0, time.UTC)
	in := report.RunReport{
		Scenario: "durable",
		Seed:     9,
		Started:  started,
		Finished: started.Add(2 * time.Second),
		Passed:   true,
		Turns: []report.TurnResult{
			{Index: 0, Input: "hi", ResponseText: "hello", Elapsed: 1500 * time.Millisecond, Passed: true},
		},
		Assertions: []report.AssertionResult{{Name: "AllTurnsComplete()", Passed: true}},
		Store:      store,
	}

	dc := DataConverter()
	payload, err := dc.ToPayload(in)
	require.NoError(t, err)

	var out report.RunReport
	require.NoError(t, dc.FromPayload(payload, &out))

	assert.Equal(t, in.Scenario, out.Scenario)
	assert.Equal(t, in.Seed, out.Seed)
	assert.Equal(t, in.Passed, out.Passed)
	assert.True(t, in.Started.Equal(out.Started))
	require.Len(t, out.Turns, 1)
	assert.Equal(t, "hi", out.Turns[0].Input)
	assert.Equal(t, "hello", out.Turns[0].ResponseText)
	assert.Equal(t, 1500*time.Millisecond, out.Turns[0].Elapsed)
	require.NotNil(t, out.Store)
	assert.Equal(t, 2, out.Store.Calls.Total)
	assert.Equal(t, in.Store.Faults, out.Store.Faults)
	assert.Equal(t, in.Assertions, out.Assertions)
}

func TestDataConverterLeavesOtherTypesAlone(t *testing.T) {
	dc := DataConverter()
	payload, err := dc.ToPayload(map[string]int{"a": 1})
	require.NoError(t, err)

	var out map[string]int
	require.NoError(t, dc.FromPayload(payload, &out))
	assert.Equal(t, map[string]int{"a": 1}, out)
}
