package loader

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaosforge/agentchaos/chaos/fault"
	"github.com/chaosforge/agentchaos/chaos/trigger"
)

const sampleDoc = `
name: rate-limit-recovery
seed: 7
model: test-model
max_tokens: 256
max_tool_rounds: 3
rules:
  - name: first-call-rate-limited
    point: LLM
    trigger:
      on_call: 0
    fault:
      kind: RATE_LIMIT
  - name: cut-late-streams
    point: STREAM
    trigger:
      after_calls: 2
    fault:
      kind: STREAM_CUT
      after_chunks: 5
turns:
  - input: "What's the weather?"
  - input: "And tomorrow?"
`

func TestParseTranslatesDocument(t *testing.T) {
	def, rules, err := Parse([]byte(sampleDoc))
	require.NoError(t, err)

	assert.Equal(t, "rate-limit-recovery", def.Name)
	assert.Equal(t, int64(7), def.Seed)
	assert.Equal(t, "test-model", def.Model)
	assert.Equal(t, 256, def.MaxTokens)
	assert.Equal(t, 3, def.MaxToolRounds)
	require.Len(t, def.Turns, 2)
	assert.Equal(t, "What's the weather?", def.Turns[0].Input)

	require.Len(t, rules, 2)
	assert.Equal(t, fault.PointLLM, rules[0].Point)
	f := rules[0].Factory()
	assert.Equal(t, fault.RateLimit, f.Kind)

	f2 := rules[1].Factory()
	assert.Equal(t, fault.StreamCut, f2.Kind)
	assert.Equal(t, 5, f2.AfterChunks)
}

func TestParseTriggerSemantics(t *testing.T) {
	_, rules, err := Parse([]byte(sampleDoc))
	require.NoError(t, err)

	onCall0 := rules[0].Trigger
	assert.True(t, onCall0(trigger.CallContext{CallInTurn: 0}))
	assert.False(t, onCall0(trigger.CallContext{CallInTurn: 1}))

	afterTwo := rules[1].Trigger
	assert.False(t, afterTwo(trigger.CallContext{GlobalCall: 1}))
	assert.True(t, afterTwo(trigger.CallContext{GlobalCall: 2}))
}

func TestParseComposedTriggers(t *testing.T) {
	doc := `
name: composed
turns:
  - input: hi
rules:
  - point: TOOL
    trigger:
      all_of:
        - tool: get_weather
        - not:
            on_turn: 0
    fault:
      kind: TOOL_ERROR
      tool: get_weather
      message: boom
`
	_, rules, err := Parse([]byte(doc))
	require.NoError(t, err)
	require.Len(t, rules, 1)

	trig := rules[0].Trigger
	assert.False(t, trig(trigger.CallContext{TurnIndex: 0, ToolName: "get_weather"}))
	assert.True(t, trig(trigger.CallContext{TurnIndex: 1, ToolName: "get_weather"}))
	assert.False(t, trig(trigger.CallContext{TurnIndex: 1, ToolName: "other"}))
}

func TestParseRejectsSchemaViolations(t *testing.T) {
	cases := map[string]string{
		"missing name":  "turns:\n  - input: hi\n",
		"missing turns": "name: x\n",
		"bad point":     "name: x\nturns:\n  - input: hi\nrules:\n  - point: NOPE\n    trigger: {always: true}\n    fault: {kind: RATE_LIMIT}\n",
		"fault no kind": "name: x\nturns:\n  - input: hi\nrules:\n  - point: LLM\n    trigger: {always: true}\n    fault: {}\n",
	}
	for name, doc := range cases {
		_, _, err := Parse([]byte(doc))
		assert.Error(t, err, name)
	}
}

func TestParseRejectsEmptyTrigger(t *testing.T) {
	doc := `
name: x
turns:
  - input: hi
rules:
  - point: LLM
    trigger: {}
    fault:
      kind: RATE_LIMIT
`
	_, _, err := Parse([]byte(doc))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty trigger")
}

func TestParseRejectsNonDeclarativeFaultKind(t *testing.T) {
	doc := `
name: x
turns:
  - input: hi
rules:
  - point: CONTEXT
    trigger: {always: true}
    fault:
      kind: MUTATE
`
	_, _, err := Parse([]byte(doc))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no declarative")
}

func TestParseRejectsInvalidYAML(t *testing.T) {
	_, _, err := Parse([]byte(":\n\t- ["))
	assert.Error(t, err)
}
