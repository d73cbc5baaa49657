// Package rule binds a Trigger to a fault Factory at one interception point.
// A Scenario carries an ordered list of Rules; the injector partitions them
// by Point so each consult() only walks the rules that can possibly apply.
package rule

import (
	"github.com/chaosforge/agentchaos/chaos/fault"
	"github.com/chaosforge/agentchaos/chaos/trigger"
)

// Rule is the triple (interception point, trigger, fault factory). The
// Point on Rule and the Point returned by Factory() must agree; the
// injector treats a mismatch as a scenario error fatal to the run.
type Rule struct {
	// Name is an optional human-readable label surfaced in FaultRecords and
	// logs. Unset rules are labeled by their position in the scenario's
	// rule list.
	Name string
	// Point is the interception point this rule is evaluated at.
	Point fault.Point
	// Trigger decides whether this rule fires for a given call.
	Trigger trigger.Trigger
	// Factory produces the fault payload when Trigger fires.
	Factory fault.Factory
}

// New constructs a Rule. It does not validate Point against Factory's
// output; that check happens lazily the first time the rule fires, since
// Factory is an opaque closure until invoked.
func New(name string, point fault.Point, t trigger.Trigger, f fault.Factory) Rule {
	return Rule{Name: name, Point: point, Trigger: t, Factory: f}
}
