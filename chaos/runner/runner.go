// Package runner orchestrates scenario execution: a single run, or a
// baseline-vs-chaos pair, plus on-disk artifact serialization
// (scorecard.json + events.jsonl) and a bounded worker pool for running
// independent scenarios concurrently.
package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chaosforge/agentchaos/chaos/hooks"
	"github.com/chaosforge/agentchaos/chaos/injector"
	"github.com/chaosforge/agentchaos/chaos/metrics"
	"github.com/chaosforge/agentchaos/chaos/model"
	"github.com/chaosforge/agentchaos/chaos/provider"
	"github.com/chaosforge/agentchaos/chaos/report"
	"github.com/chaosforge/agentchaos/chaos/rule"
	"github.com/chaosforge/agentchaos/chaos/scenario"
	"github.com/chaosforge/agentchaos/chaos/telemetry"
)

// Build constructs the pieces a ScenarioRunner needs to execute one
// definition: the provider name/client pair, the chaos rules to seed the
// injector with, and the tool resolver backing any tools the scenario
// declares.
type Build struct {
	ProviderName string
	Client       model.Client
	Rules        []rule.Rule
	Resolver     scenario.ToolResolver
	Sink         hooks.Sink
	// Log receives process-level lifecycle logging (run started, run
	// finished, pair regressed), distinct from the run's own event stream.
	// Nil defaults to a no-op logger.
	Log telemetry.Logger
}

// ScenarioRunner executes Definitions against a Build, producing RunReports
// and, optionally, writing artifacts to disk.
type ScenarioRunner struct {
	build Build
}

// New returns a ScenarioRunner over build.
func New(build Build) *ScenarioRunner {
	if build.Log == nil {
		build.Log = telemetry.NewNoopLogger()
	}
	return &ScenarioRunner{build: build}
}

// Run executes a single scenario definition end to end. Interception is
// installed on the provider adapter before the first turn and uninstalled
// on every exit path, including a panicking agent.
func (r *ScenarioRunner) Run(ctx context.Context, def scenario.Definition) (rep report.RunReport) {
	store := metrics.New()
	sink := r.build.Sink
	if sink == nil {
		sink = hooks.NullSink{}
	}
	rec := hooks.New(store, sink, traceID(def), r.build.ProviderName)

	inj := injector.New(r.build.Rules, def.Seed, nil)

	adapter := provider.NewAdapter(r.build.ProviderName, r.build.Client)
	adapter.Install(inj, rec)
	defer adapter.Uninstall()
	defer func() { _ = sink.Close() }()

	r.build.Log.Info(ctx, "scenario run started", "scenario", def.Name, "seed", def.Seed, "rules", len(r.build.Rules))
	exec := scenario.New(def, adapter, inj, rec, r.build.Resolver)
	rep = exec.Run(ctx)
	if rep.Passed {
		r.build.Log.Info(ctx, "scenario run finished", "scenario", def.Name, "passed", true)
	} else {
		r.build.Log.Warn(ctx, "scenario run failed", "scenario", def.Name, "reason", rep.FailureReason)
	}
	return rep
}

// RunPair executes def twice: once with an empty rule set (baseline) and
// once with build.Rules applied (chaos), returning both reports so the
// caller can detect a chaos-induced regression.
func (r *ScenarioRunner) RunPair(ctx context.Context, def scenario.Definition) report.Pair {
	baselineBuild := r.build
	baselineBuild.Rules = nil
	baseline := (&ScenarioRunner{build: baselineBuild}).Run(ctx, def)
	chaos := r.Run(ctx, def)
	pair := report.Pair{Baseline: baseline, Chaos: chaos}
	if pair.Regressed() {
		r.build.Log.Warn(ctx, "chaos run regressed against baseline", "scenario", def.Name)
	}
	return pair
}

// RunAll executes every definition, running up to concurrency scenarios at
// once. A scenario run never shares a *metrics.Store or *hooks.Recorder
// with another (each call to Run constructs its own), so the only shared
// state across concurrent runs is whatever Sink the Build was configured
// with; sinks meant for concurrent use (Mongo, Pulse, broadcast) document
// that guarantee themselves.
func (r *ScenarioRunner) RunAll(ctx context.Context, defs []scenario.Definition, concurrency int) []report.RunReport {
	if concurrency <= 0 {
		concurrency = 1
	}
	reports := make([]report.RunReport, len(defs))
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	for i, def := range defs {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, def scenario.Definition) {
			defer wg.Done()
			defer func() { <-sem }()
			reports[i] = r.Run(ctx, def)
		}(i, def)
	}
	wg.Wait()
	return reports
}

// WriteArtifacts serializes rep as dir/scorecard.json and writes events,
// one JSON object per line in the order given, as dir/events.jsonl (an
// empty file when events is empty). It does not read from any Build's Sink;
// callers pass the events themselves, e.g. from a *hooks.MemorySink.
func WriteArtifacts(dir string, rep report.RunReport, events []hooks.Event) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("runner: %w", err)
	}
	scorecardBytes, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("runner: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "scorecard.json"), scorecardBytes, 0o644); err != nil {
		return fmt.Errorf("runner: %w", err)
	}

	f, err := os.Create(filepath.Join(dir, "events.jsonl"))
	if err != nil {
		return fmt.Errorf("runner: %w", err)
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	for _, e := range events {
		if err := enc.Encode(e); err != nil {
			return fmt.Errorf("runner: %w", err)
		}
	}
	return nil
}

func traceID(def scenario.Definition) string {
	return fmt.Sprintf("%s-%d", def.Name, def.Seed)
}

// DefaultRunsDir is the artifact root used when the caller does not supply
// one.
const DefaultRunsDir = ".agent_chaos_runs"

var sessionCounter atomic.Int64

// SessionDir allocates a fresh artifact directory for one run of the named
// scenario under root: <root>/<scenario>/<session-id>. Session ids are
// monotonic within a process (millisecond timestamp plus a counter
// tiebreak), so concurrent runs of the same scenario never share a
// directory.
func SessionDir(root, scenarioName string) (string, error) {
	if root == "" {
		root = DefaultRunsDir
	}
	id := fmt.Sprintf("%d-%04d", time.Now().UnixMilli(), sessionCounter.Add(1))
	dir := filepath.Join(root, scenarioName, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("runner: %w", err)
	}
	return dir, nil
}
