package runner

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaosforge/agentchaos/chaos/fault"
	"github.com/chaosforge/agentchaos/chaos/hooks"
	"github.com/chaosforge/agentchaos/chaos/model"
	"github.com/chaosforge/agentchaos/chaos/report"
	"github.com/chaosforge/agentchaos/chaos/rule"
	"github.com/chaosforge/agentchaos/chaos/scenario"
	"github.com/chaosforge/agentchaos/chaos/trigger"
)

// echoClient answers every completion with the same text, so a definition
// can be run any number of times (baseline, chaos, replays) without a
// script running dry.
type echoClient struct {
	text string
}

func (c *echoClient) Complete(context.Context, *model.Request) (*model.Response, error) {
	return &model.Response{
		Content: []model.Message{{Role: model.RoleAssistant, Parts: []model.Part{model.TextPart{Text: c.text}}}},
		Usage:   model.TokenUsage{InputTokens: 2, OutputTokens: 3},
	}, nil
}

func (c *echoClient) Stream(context.Context, *model.Request) (model.Streamer, error) {
	return nil, errors.New("echoClient: streaming not scripted")
}

// retryingAgent issues one completion per turn, retrying rate limits up to
// twice, and records which inputs it was driven with.
func retryingAgent(inputs *[]string) scenario.AgentFunc {
	return func(ctx context.Context, input string, ac *scenario.AgentContext) (string, error) {
		*inputs = append(*inputs, input)
		req := &model.Request{Model: ac.Model(), Messages: ac.History(), MaxTokens: ac.MaxTokens()}
		var lastErr error
		for attempt := 0; attempt < 3; attempt++ {
			resp, _, err := ac.Complete(ctx, req)
			if err == nil {
				text := resp.Content[0].Parts[0].(model.TextPart).Text
				ac.AppendMessage(&resp.Content[0])
				ac.RecordAssistantText(text)
				return text, nil
			}
			lastErr = err
			if !errors.Is(err, model.ErrRateLimited) {
				return "", err
			}
		}
		return "", lastErr
	}
}

func pairDefinition(agent scenario.AgentFunc) scenario.Definition {
	return scenario.Definition{
		Name:      "pair",
		Seed:      42,
		Model:     "test-model",
		MaxTokens: 64,
		Agent:     agent,
		Turns:     []scenario.Turn{{Input: "first"}, {Input: "second"}},
	}
}

// TestRunPairBaselineHasNoFaults: the baseline half of a pair runs with an
// empty rule set and must record zero faults; the chaos half records one
// fault per rule firing; both halves see the same sequence of agent inputs.
func TestRunPairBaselineHasNoFaults(t *testing.T) {
	var inputs []string
	r := New(Build{
		ProviderName: "fake",
		Client:       &echoClient{text: "ok"},
		Rules: []rule.Rule{
			rule.New("rl-first-call", fault.PointLLM, trigger.OnCall(0), fault.RateLimitFault()),
		},
	})

	pair := r.RunPair(context.Background(), pairDefinition(retryingAgent(&inputs)))

	require.True(t, pair.Baseline.Passed, pair.Baseline.FailureReason)
	require.True(t, pair.Chaos.Passed, pair.Chaos.FailureReason)
	assert.Empty(t, pair.Baseline.Store.Faults)
	assert.Equal(t, 2, pair.Baseline.Store.Calls.Total)

	// OnCall(0) fires once per turn; the agent retries, so each turn costs
	// two calls under chaos.
	require.Len(t, pair.Chaos.Store.Faults, 2)
	assert.Equal(t, 4, pair.Chaos.Store.Calls.Total)
	assert.False(t, pair.Regressed())

	// Baseline and chaos drive the agent with identical inputs.
	require.Len(t, inputs, 4)
	assert.Equal(t, inputs[:2], inputs[2:])
}

// TestRunEmitsPairedSpans: every span_start has exactly one span_end with
// the same span id, with start preceding end in the timeline.
func TestRunEmitsPairedSpans(t *testing.T) {
	var inputs []string
	sink := hooks.NewMemorySink()
	r := New(Build{
		ProviderName: "fake",
		Client:       &echoClient{text: "ok"},
		Rules: []rule.Rule{
			rule.New("rl-first-call", fault.PointLLM, trigger.OnCall(0), fault.RateLimitFault()),
		},
		Sink: sink,
	})

	rep := r.Run(context.Background(), pairDefinition(retryingAgent(&inputs)))
	require.True(t, rep.Passed, rep.FailureReason)

	open := map[string]bool{}
	starts, ends := 0, 0
	for _, e := range sink.Events() {
		switch e.Type {
		case hooks.EventSpanStart:
			starts++
			assert.False(t, open[e.SpanID], "span %s started twice", e.SpanID)
			open[e.SpanID] = true
		case hooks.EventSpanEnd:
			ends++
			assert.True(t, open[e.SpanID], "span %s ended without starting", e.SpanID)
			delete(open, e.SpanID)
		case hooks.EventFaultInjected:
			if e.SpanID != "" {
				assert.True(t, open[e.SpanID], "fault for span %s outside its start/end window", e.SpanID)
			}
		}
	}
	assert.Equal(t, starts, ends)
	assert.Empty(t, open, "every span must be closed by run end")
	assert.Equal(t, 0, rep.Store.ActiveCount())
}

// TestRunTimestampsAreMonotonic: events within one run never go backwards.
func TestRunTimestampsAreMonotonic(t *testing.T) {
	var inputs []string
	sink := hooks.NewMemorySink()
	r := New(Build{ProviderName: "fake", Client: &echoClient{text: "ok"}, Sink: sink})
	rep := r.Run(context.Background(), pairDefinition(retryingAgent(&inputs)))
	require.True(t, rep.Passed, rep.FailureReason)

	events := sink.Events()
	require.NotEmpty(t, events)
	for i := 1; i < len(events); i++ {
		assert.False(t, events[i].Timestamp.Before(events[i-1].Timestamp),
			"event %d (%s) precedes event %d (%s)", i, events[i].Type, i-1, events[i-1].Type)
	}
}

// TestRunSequenceIsDeterministicForSeed: two runs of the same definition
// with the same seed and a probabilistic rule produce the same sequence of
// (event type, fault kind).
func TestRunSequenceIsDeterministicForSeed(t *testing.T) {
	runOnce := func() []string {
		var inputs []string
		sink := hooks.NewMemorySink()
		r := New(Build{
			ProviderName: "fake",
			Client:       &echoClient{text: "ok"},
			Rules: []rule.Rule{
				rule.New("maybe-rl", fault.PointLLM, trigger.WithProbability(0.5), fault.RateLimitFault()),
			},
			Sink: sink,
		})
		r.Run(context.Background(), pairDefinition(retryingAgent(&inputs)))
		var seq []string
		for _, e := range sink.Events() {
			entry := string(e.Type)
			if e.Type == hooks.EventFaultInjected {
				entry += ":" + e.Data["fault_type"].(string)
			}
			seq = append(seq, entry)
		}
		return seq
	}

	assert.Equal(t, runOnce(), runOnce())
}

// TestWriteArtifactsLayout: a run directory holds scorecard.json and
// events.jsonl under stable names, both machine-parseable.
func TestWriteArtifactsLayout(t *testing.T) {
	var inputs []string
	sink := hooks.NewMemorySink()
	r := New(Build{ProviderName: "fake", Client: &echoClient{text: "ok"}, Sink: sink})
	rep := r.Run(context.Background(), pairDefinition(retryingAgent(&inputs)))

	dir := t.TempDir()
	require.NoError(t, WriteArtifacts(dir, rep, sink.Events()))

	raw, err := os.ReadFile(filepath.Join(dir, "scorecard.json"))
	require.NoError(t, err)
	sc, err := report.ParseScorecard(raw)
	require.NoError(t, err)
	assert.Equal(t, "pair", sc.Scenario)
	assert.True(t, sc.Passed)
	require.Len(t, sc.Turns, 2)
	assert.Equal(t, "first", sc.Turns[0].Input)
	assert.Equal(t, "ok", sc.Turns[0].Response)

	rawEvents, err := os.ReadFile(filepath.Join(dir, "events.jsonl"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(rawEvents)), "\n")
	assert.Len(t, lines, len(sink.Events()))
	for _, line := range lines {
		var e struct {
			Timestamp string         `json:"timestamp"`
			TraceID   string         `json:"trace_id"`
			Type      string         `json:"type"`
			Data      map[string]any `json:"data"`
		}
		require.NoError(t, json.Unmarshal([]byte(line), &e))
		assert.NotEmpty(t, e.Type)
		assert.NotEmpty(t, e.TraceID)
		assert.NotEmpty(t, e.Timestamp)
	}
}

// TestSessionDirAllocatesDistinctDirectories: repeated sessions for the
// same scenario never share an artifact directory.
func TestSessionDirAllocatesDistinctDirectories(t *testing.T) {
	root := t.TempDir()
	d1, err := SessionDir(root, "my-scenario")
	require.NoError(t, err)
	d2, err := SessionDir(root, "my-scenario")
	require.NoError(t, err)

	assert.NotEqual(t, d1, d2)
	assert.True(t, strings.HasPrefix(d1, filepath.Join(root, "my-scenario")))
	info, err := os.Stat(d2)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
