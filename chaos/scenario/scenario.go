// Package scenario implements the turn-by-turn state machine that drives a
// single chaos run: resolve input, consult USER_INPUT, consult CONTEXT,
// call the agent callable with the resolved input, capture the turn's
// output, then evaluate the turn's assertions. The executor never drives
// its own LLM/tool loop; that loop belongs to whatever AgentFunc the
// caller supplies. chaos/agent provides a reference implementation of one.
package scenario

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chaosforge/agentchaos/chaos/assert"
	"github.com/chaosforge/agentchaos/chaos/fault"
	"github.com/chaosforge/agentchaos/chaos/hooks"
	"github.com/chaosforge/agentchaos/chaos/injector"
	"github.com/chaosforge/agentchaos/chaos/metrics"
	"github.com/chaosforge/agentchaos/chaos/model"
	"github.com/chaosforge/agentchaos/chaos/provider"
	"github.com/chaosforge/agentchaos/chaos/report"
)

// ToolResolver executes a tool call for real and returns its result text.
// The turn executor consults the injector at PointTool around this call,
// so ToolResolver itself never sees chaos.
type ToolResolver func(ctx context.Context, name string, args []byte) (result string, isError bool, err error)

// AgentFunc is the arbitrary caller-supplied agent callable the harness
// drives under chaos. The executor invokes it once per turn with the
// turn's resolved input and an AgentContext bound to that turn; the agent
// is free to issue as many LLM calls and tool invocations as it needs
// through that context before returning the turn's final user-visible
// text. The executor and the provider interception layer behind
// AgentContext are opaque to the agent: it cannot tell an LLM or tool
// outcome was faulted from a real one.
type AgentFunc func(ctx context.Context, input string, ac *AgentContext) (output string, err error)

// CallClient is the intercepted provider surface the executor issues LLM
// calls through. Satisfied by *provider.Intercepted and, within an install
// window, *provider.Adapter.
type CallClient interface {
	Complete(ctx context.Context, req *model.Request, info provider.CallInfo) (*model.Response, string, error)
	Stream(ctx context.Context, req *model.Request, info provider.CallInfo) (model.Streamer, string, error)
}

// AgentContext is the per-turn handle an AgentFunc uses to talk to the
// chaos-intercepted model and resolve tool calls. It owns none of the
// injector/recorder wiring directly; every method forwards to the
// Executor that constructed it, which is the single writer of run state.
type AgentContext struct {
	exec *Executor
	idx  int
}

// Complete issues one LLM call for the current turn through the
// chaos-intercepted provider client. It returns the call id alongside the
// response so the agent can correlate ToolUsePart entries in resp.Content
// to the call that produced them; that correlation is exactly what
// InvokeTool records as ToolInvocation.RequestedInCall.
func (ac *AgentContext) Complete(ctx context.Context, req *model.Request) (*model.Response, string, error) {
	return ac.exec.complete(ctx, ac.idx, req)
}

// InvokeTool resolves one tool call the model requested, consulting the
// TOOL-stage injector exactly as a real invocation would.
// The tool's requested_in_call_id is the most recent call id returned by
// Complete; its resolved_in_call_id is filled in automatically by the next
// Complete call the agent makes (or, if the turn ends without one, the
// invocation is resolved at turn end with an empty resolved_in_call_id).
func (ac *AgentContext) InvokeTool(ctx context.Context, call model.ToolCall) (result string, isError bool, err error) {
	return ac.exec.invokeTool(ctx, ac.idx, call)
}

// Model returns the scenario's configured model identifier.
func (ac *AgentContext) Model() string { return ac.exec.def.Model }

// MaxTokens returns the scenario's configured max_tokens.
func (ac *AgentContext) MaxTokens() int { return ac.exec.def.MaxTokens }

// Tools returns the tool definitions declared for this scenario.
func (ac *AgentContext) Tools() []*model.ToolDefinition { return ac.exec.def.Tools }

// History returns the conversation accumulated so far, including the turn's
// own resolved input. The returned slice is the executor's live backing
// array; agents must not mutate it directly, only through AppendMessage.
func (ac *AgentContext) History() []*model.Message { return ac.exec.history }

// AppendMessage appends m to the conversation, stamping it with the
// current turn index.
func (ac *AgentContext) AppendMessage(m *model.Message) {
	m.Turn = ac.idx
	ac.exec.history = append(ac.exec.history, m)
}

// RecordAssistantText appends text to the run's conversation view as an
// assistant entry for this turn, without altering e.history (the agent is
// expected to also AppendMessage the assistant Message itself).
func (ac *AgentContext) RecordAssistantText(text string) {
	ac.exec.rec.AppendConversation(model.RoleAssistant, text, ac.idx)
}

// TurnContext is the read-only scenario state an InputFunc may consult to
// derive a turn's input dynamically, e.g. to reference a prior turn's
// captured response.
type TurnContext struct {
	TurnIndex int
	History   []*model.Message
	Turns     []report.TurnResult
}

// Turn declares one conversational turn: either a literal user utterance
// (Input) or a function of the scenario context producing one (InputFunc).
// If InputFunc is non-nil it takes precedence over Input. Assertions are
// evaluated once the turn's agent call completes.
type Turn struct {
	Input      string
	InputFunc  func(TurnContext) string
	Assertions []assert.Assertion
}

func (t Turn) resolve(tc TurnContext) string {
	if t.InputFunc != nil {
		return t.InputFunc(tc)
	}
	return t.Input
}

// Definition is a complete, ready-to-run scenario.
type Definition struct {
	Name      string
	Seed      int64
	Model     string
	MaxTokens int
	Tools     []*model.ToolDefinition
	Turns     []Turn
	// Timeout caps the scenario's total elapsed time. When exceeded, the
	// executor cancels whatever the agent is suspended on (including an
	// injected stream hang) and records the in-flight turn as timed out.
	// Zero means no cap.
	Timeout time.Duration
	// RunAssertions are evaluated once, after every turn has passed.
	RunAssertions []assert.Assertion
	// Agent is the callable under test. It is a Go-level collaborator the
	// caller supplies directly, the same way
	// ToolResolver is supplied via runner.Build rather than declared in a
	// YAML scenario document.
	Agent AgentFunc
	// MaxToolRounds is scenario metadata suggesting how many tool-call
	// round trips one turn should tolerate before a reference agent gives
	// up; the executor does not enforce it itself, since the tool-calling
	// loop now lives in the agent, not the harness. See chaos/agent.
	MaxToolRounds int
}

// Executor drives one Definition against an intercepted provider client.
type Executor struct {
	def      Definition
	client   CallClient
	inj      *injector.Injector
	rec      *hooks.Recorder
	resolver ToolResolver

	history        []*model.Message
	globalCall     int
	completedTurns []report.TurnResult

	callsInTurn  int
	lastCallID   string
	pendingTools []pendingToolResolution
}

// pendingToolResolution holds the outcome of a tool invocation whose
// resolved_in_call_id is not yet known: that id is the call id of whichever
// Complete call the agent makes next, carrying the tool's result back to
// the model.
type pendingToolResolution struct {
	toolUseID   string
	resultBytes int
	duration    time.Duration
	success     bool
	injected    bool
}

// New constructs an Executor. client must already be wrapped with chaos
// interception (see chaos/provider); inj and rec must be the same injector
// and recorder the client was built with, so USER_INPUT/CONTEXT/TOOL
// consults and LLM/STREAM consults share one seeded rule evaluation.
func New(def Definition, client CallClient, inj *injector.Injector, rec *hooks.Recorder, resolver ToolResolver) *Executor {
	return &Executor{def: def, client: client, inj: inj, rec: rec, resolver: resolver}
}

// Run executes every turn in order and returns the immutable RunReport.
// Execution stops at the first failing turn; remaining turns are recorded
// as not-run by their absence from the report's Turns slice.
func (e *Executor) Run(ctx context.Context) report.RunReport {
	started := time.Now()
	if e.def.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.def.Timeout)
		defer cancel()
	}
	_ = e.rec.TraceStart(ctx, e.def.Name, e.def.Seed)

	var turns []report.TurnResult
	passed := true
	failureReason := ""

	for idx, turn := range e.def.Turns {
		tr := e.runTurn(ctx, idx, turn)
		turns = append(turns, tr)
		e.completedTurns = append(e.completedTurns, tr)
		if !tr.Passed {
			passed = false
			failureReason = tr.FailureReason
			break
		}
	}

	var runAssertions []report.AssertionResult
	if passed {
		ac := assert.Context{Store: e.rec.Store(), Turns: turns}
		runAssertions = assert.EvaluateAll(e.def.RunAssertions, ac)
		if reason, ok := firstFailure(runAssertions); ok {
			passed = false
			failureReason = reason
		}
	}

	_ = e.rec.TraceEnd(ctx, passed, failureReason)

	return report.RunReport{
		Scenario:      e.def.Name,
		Seed:          e.def.Seed,
		Started:       started,
		Finished:      time.Now(),
		Passed:        passed,
		FailureReason: failureReason,
		Turns:         turns,
		Assertions:    runAssertions,
		Store:         e.rec.Store(),
	}
}

func (e *Executor) runTurn(ctx context.Context, idx int, turn Turn) report.TurnResult {
	turnStart := time.Now()
	e.callsInTurn = 0
	input := turn.resolve(TurnContext{TurnIndex: idx, History: e.history, Turns: e.completedTurns})

	if v, fired, err := e.inj.Consult(fault.PointUserInput, idx, 0, e.globalCall, ""); err != nil {
		return e.failTurn(idx, turnStart, err.Error())
	} else if fired {
		e.inj.RecordInjection(ctx, v)
		_ = e.rec.RecordFault(ctx, "", metrics.FaultRecord{
			Kind: v.Fault.Kind, Point: v.Fault.Point, RuleName: v.RuleName,
			Original: input, Mutated: v.Fault.Mutator(input),
		})
		input = v.Fault.Mutator(input)
	}

	e.history = append(e.history, &model.Message{Role: model.RoleUser, Parts: []model.Part{model.TextPart{Text: input}}, Turn: idx})
	e.rec.AppendConversation(model.RoleUser, input, idx)

	if err := e.applyContextFaults(ctx, idx); err != nil {
		return e.failTurn(idx, turnStart, err.Error())
	}

	if e.def.Agent == nil {
		return e.failTurn(idx, turnStart, "scenario: no agent configured")
	}

	ac := &AgentContext{exec: e, idx: idx}
	responseText, err := e.def.Agent(ctx, input, ac)
	e.flushPendingTools(ctx, "")
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			tr := e.failTurn(idx, turnStart, fmt.Sprintf("turn %d timed out: %v", idx, err))
			tr.TimedOut = true
			return tr
		}
		return e.failTurn(idx, turnStart, err.Error())
	}

	elapsed := time.Since(turnStart)
	thisTurn := report.TurnResult{Index: idx, Input: input, ResponseText: responseText, Elapsed: elapsed, Passed: true}
	ac2 := assert.Context{
		Store:            e.rec.Store(),
		Elapsed:          elapsed,
		TurnIndex:        idx,
		LastResponseText: responseText,
		Turns:            append(append([]report.TurnResult{}, e.completedTurns...), thisTurn),
	}
	results := assert.EvaluateAll(turn.Assertions, ac2)
	thisTurn.Assertions = results
	if reason, ok := firstFailure(results); ok {
		thisTurn.Passed = false
		thisTurn.FailureReason = reason
	}

	return thisTurn
}

// firstFailure reports the message of the first failing result, for use as
// a RunReport/TurnResult FailureReason summary; the full (name, passed,
// message) list remains available on Assertions regardless.
func firstFailure(results []report.AssertionResult) (string, bool) {
	for _, r := range results {
		if !r.Passed {
			return r.Name + ": " + r.Message, true
		}
	}
	return "", false
}

func (e *Executor) failTurn(idx int, start time.Time, reason string) report.TurnResult {
	return report.TurnResult{Index: idx, Elapsed: time.Since(start), Passed: false, FailureReason: reason}
}

// applyContextFaults consults PointContext once per turn and, if a rule
// fires, rewrites e.history accordingly. A TRUNCATE fault whose keep_last
// is negative or covers the whole history, an INJECT fault with an empty
// message list and a REMOVE fault that matches nothing are documented
// no-ops: the verdict still fires, but no FaultRecord is
// written since observed behavior did not change.
func (e *Executor) applyContextFaults(ctx context.Context, idx int) error {
	v, fired, err := e.inj.Consult(fault.PointContext, idx, 0, e.globalCall, "")
	if err != nil {
		return err
	}
	if !fired {
		return nil
	}

	before := len(e.history)
	switch v.Fault.Kind {
	case fault.ContextTruncate:
		k := v.Fault.KeepLast
		if k < 0 || k >= len(e.history) {
			return nil
		}
		e.history = model.CloneMessages(e.history[len(e.history)-k:])
	case fault.ContextInject:
		if len(v.Fault.InjectMessages) == 0 {
			return nil
		}
		e.history = append(model.CloneMessages(e.history), v.Fault.InjectMessages...)
	case fault.ContextRemove:
		if v.Fault.RemovePredicate == nil {
			return nil
		}
		kept := e.history[:0:0]
		for _, m := range e.history {
			if !v.Fault.RemovePredicate(m) {
				kept = append(kept, m)
			}
		}
		if len(kept) == len(e.history) {
			return nil
		}
		e.history = kept
	case fault.ContextMutate:
		cloned := model.CloneMessages(e.history)
		for _, m := range cloned {
			for i, p := range m.Parts {
				if tp, ok := p.(model.TextPart); ok {
					m.Parts[i] = model.TextPart{Text: v.Fault.Mutator(tp.Text)}
				}
			}
		}
		e.history = cloned
	}

	e.inj.RecordInjection(ctx, v)
	after := len(e.history)
	fr := metrics.FaultRecord{Kind: v.Fault.Kind, Point: v.Fault.Point, RuleName: v.RuleName}
	if after > before {
		fr.AddedMessages = after - before
	} else if after < before {
		fr.RemovedMessages = before - after
	}
	return e.rec.RecordFault(ctx, "", fr)
}

// complete issues one LLM call, tagging it with the next call-sequence
// tuple for this turn and flushing any tool resolutions left pending from
// the previous round now that this round's call id is known (that call id
// is the next assistant call carrying the tool's result back to the
// model, which is what resolved_in_call_id means).
func (e *Executor) complete(ctx context.Context, idx int, req *model.Request) (*model.Response, string, error) {
	info := provider.CallInfo{TurnIndex: idx, CallInTurn: e.callsInTurn, GlobalCall: e.globalCall}
	e.callsInTurn++
	e.globalCall++

	resp, callID, err := e.client.Complete(ctx, req, info)
	e.flushPendingTools(ctx, callID)
	if callID != "" {
		e.lastCallID = callID
	}
	return resp, callID, err
}

// flushPendingTools resolves every pending tool invocation queued since
// the last flush, now that resolvedInCall is known (the call id of the
// Complete call the agent is about to issue, or "" if the turn is ending
// without one).
func (e *Executor) flushPendingTools(ctx context.Context, resolvedInCall string) {
	if len(e.pendingTools) == 0 {
		return
	}
	pending := e.pendingTools
	e.pendingTools = nil
	for _, p := range pending {
		_ = e.rec.ToolResolved(ctx, resolvedInCall, p.toolUseID, p.resultBytes, p.duration, p.success, p.injected)
	}
}

func (e *Executor) invokeTool(ctx context.Context, idx int, call model.ToolCall) (string, bool, error) {
	start := time.Now()
	_ = e.rec.ToolRequested(ctx, e.lastCallID, call.ID, call.Name, len(call.Payload))

	v, fired, err := e.inj.Consult(fault.PointTool, idx, e.callsInTurn, e.globalCall, call.Name)
	if err != nil {
		return "", false, err
	}
	if fired {
		e.inj.RecordInjection(ctx, v)
		_ = e.rec.RecordFault(ctx, "", metrics.FaultRecord{
			Kind: v.Fault.Kind, Point: v.Fault.Point, RuleName: v.RuleName, ToolName: call.Name,
		})
		switch v.Fault.Kind {
		case fault.ToolError:
			e.queueToolResolution(call.ID, len(v.Fault.Message), time.Since(start), false, true)
			return v.Fault.Message, true, nil
		case fault.ToolTimeout:
			e.queueToolResolution(call.ID, 0, time.Since(start), false, true)
			return "", false, fmt.Errorf("tool %q timed out (injected)", call.Name)
		case fault.ToolEmpty:
			e.queueToolResolution(call.ID, 0, time.Since(start), true, true)
			return "", false, nil
		case fault.ToolMutate:
			result, isError, err := e.resolver(ctx, call.Name, call.Payload)
			if err != nil {
				return "", false, err
			}
			mutated := v.Fault.Mutator(result)
			e.queueToolResolution(call.ID, len(mutated), time.Since(start), !isError, true)
			return mutated, isError, nil
		}
	}

	result, isError, err := e.resolver(ctx, call.Name, call.Payload)
	if err != nil {
		return "", false, err
	}
	e.queueToolResolution(call.ID, len(result), time.Since(start), !isError, false)
	return result, isError, nil
}

func (e *Executor) queueToolResolution(toolUseID string, resultBytes int, duration time.Duration, success, injected bool) {
	e.pendingTools = append(e.pendingTools, pendingToolResolution{
		toolUseID: toolUseID, resultBytes: resultBytes, duration: duration, success: success, injected: injected,
	})
}
