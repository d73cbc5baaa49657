// Package injector evaluates a scenario's chaos rules at each interception
// point and returns the fault verdict, if any, that applies to the current
// call. It is the runtime counterpart of the rule package: rules are
// declarative data, the Injector is the single place that walks them.
package injector

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"github.com/chaosforge/agentchaos/chaos/fault"
	"github.com/chaosforge/agentchaos/chaos/rule"
	"github.com/chaosforge/agentchaos/chaos/trigger"
)

// Verdict is the result of a firing rule: the fault to apply and the name of
// the rule that produced it, carried through to the FaultRecord once the
// wrapper has applied it.
type Verdict struct {
	Fault    fault.Fault
	RuleName string
}

// RecordFunc is invoked by a wrapper after it has applied a fault, so the
// Injector can forward a FaultRecord to the recorder. It is supplied by the
// scenario context at construction time; the injector has no recorder
// dependency of its own.
type RecordFunc func(ctx context.Context, v Verdict)

// ScenarioError reports a malformed fault factory: one that panics or
// returns a Fault whose Point disagrees with the Rule's declared Point.
// Fatal to the run; teardown still proceeds normally.
type ScenarioError struct {
	RuleName string
	Reason   string
}

func (e *ScenarioError) Error() string {
	return fmt.Sprintf("chaos: rule %q: %s", e.RuleName, e.Reason)
}

// Injector holds a scenario's rules partitioned by interception point for
// O(k) evaluation, where k is the number of rules declared at that point.
type Injector struct {
	byPoint map[fault.Point][]namedRule
	rand    *rand.Rand
	record  RecordFunc

	mu sync.Mutex // serializes access to rand; the injector is otherwise stateless
}

type namedRule struct {
	idx  int
	rule rule.Rule
}

// New constructs an Injector over rules, seeded for reproducible
// probability draws. A zero seed is a valid, deterministic seed.
func New(rules []rule.Rule, seed int64, record RecordFunc) *Injector {
	byPoint := make(map[fault.Point][]namedRule)
	for i, r := range rules {
		byPoint[r.Point] = append(byPoint[r.Point], namedRule{idx: i, rule: r})
	}
	return &Injector{
		byPoint: byPoint,
		rand:    rand.New(rand.NewSource(seed)),
		record:  record,
	}
}

// Consult evaluates every rule declared at point in declaration order and
// returns the verdict of the first one whose trigger fires; first-declared
// wins and the remaining rules at that point are skipped for this call.
// Returns ok=false if no rule fires.
//
// Consult panics are recovered and surfaced as a *ScenarioError so a
// misbehaving Factory fails the run descriptively instead of crashing the
// process.
func (inj *Injector) Consult(point fault.Point, turnIndex, callInTurn, globalCall int, toolName string) (Verdict, bool, error) {
	rules := inj.byPoint[point]
	if len(rules) == 0 {
		return Verdict{}, false, nil
	}

	inj.mu.Lock()
	defer inj.mu.Unlock()
	cctx := trigger.CallContext{
		TurnIndex:  turnIndex,
		CallInTurn: callInTurn,
		GlobalCall: globalCall,
		ToolName:   toolName,
		Rand:       inj.rand,
	}

	for _, nr := range rules {
		if nr.rule.Trigger == nil || !nr.rule.Trigger(cctx) {
			continue
		}
		name := ruleName(nr)
		f, err := invokeFactory(nr.rule.Factory, name)
		if err != nil {
			return Verdict{}, false, err
		}
		if f.Point != point {
			return Verdict{}, false, &ScenarioError{
				RuleName: name,
				Reason:   fmt.Sprintf("factory produced fault for point %q, rule declared at %q", f.Point, point),
			}
		}
		return Verdict{Fault: f, RuleName: name}, true, nil
	}
	return Verdict{}, false, nil
}

// RecordInjection forwards a verdict that a wrapper has already applied to
// the recorder. Callers must invoke this only after the fault has actually
// altered observed behavior; a verdict that ends up a no-op is never
// recorded.
func (inj *Injector) RecordInjection(ctx context.Context, v Verdict) {
	if inj.record != nil {
		inj.record(ctx, v)
	}
}

func invokeFactory(f fault.Factory, name string) (result fault.Fault, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &ScenarioError{RuleName: name, Reason: fmt.Sprintf("factory panicked: %v", r)}
		}
	}()
	if f == nil {
		return fault.Fault{}, &ScenarioError{RuleName: name, Reason: "nil fault factory"}
	}
	return f(), nil
}

func ruleName(nr namedRule) string {
	if nr.rule.Name != "" {
		return nr.rule.Name
	}
	return fmt.Sprintf("rule#%d", nr.idx)
}
