// Package temporal adapts ScenarioRunner into a durable Temporal workflow:
// scenario execution becomes a single activity, so a runner crash or
// redeploy mid-run is retried by Temporal rather than losing the run
// entirely. Long scenarios (multi-minute stream hangs, large turn counts)
// are the ones that benefit; short local runs should stay on the in-process
// ScenarioRunner.
package temporal

import (
	"context"
	"fmt"
	"time"

	temporalotel "go.temporal.io/sdk/contrib/opentelemetry"

	"go.temporal.io/sdk/client"
	sdktemporal "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/chaosforge/agentchaos/chaos/report"
	"github.com/chaosforge/agentchaos/chaos/runner"
	"github.com/chaosforge/agentchaos/chaos/scenario"
)

// TaskQueue is the default Temporal task queue for scenario runs.
const TaskQueue = "agentchaos-scenarios"

// ClientOptions returns opts with the OTEL tracing interceptor appended, so
// workflow/activity spans started through the resulting client join the
// rest of the harness's tracing (chaos/telemetry). Callers constructing the
// client.Client passed to Start should build it from this, not a bare
// client.Options.
func ClientOptions(opts client.Options) (client.Options, error) {
	tracer, err := temporalotel.NewTracingInterceptor(temporalotel.TracerOptions{})
	if err != nil {
		return opts, fmt.Errorf("temporal: tracing interceptor: %w", err)
	}
	opts.Interceptors = append(opts.Interceptors, tracer)
	if opts.DataConverter == nil {
		opts.DataConverter = DataConverter()
	}
	return opts, nil
}

// WorkerOptions returns opts with the same OTEL tracing interceptor
// appended on the worker side, so an activity's span is a child of the
// workflow span that scheduled it. Callers constructing the worker.Worker
// passed to RegisterWith should build it from this.
func WorkerOptions(opts worker.Options) (worker.Options, error) {
	tracer, err := temporalotel.NewTracingInterceptor(temporalotel.TracerOptions{})
	if err != nil {
		return opts, fmt.Errorf("temporal: tracing interceptor: %w", err)
	}
	opts.Interceptors = append(opts.Interceptors, tracer)
	return opts, nil
}

// WorkflowName identifies RunScenarioWorkflow for client.ExecuteWorkflow
// callers that only have the string form available (e.g. CLI tooling).
const WorkflowName = "RunScenarioWorkflow"

// activities bundles the ScenarioRunner an Activity closes over. Temporal
// activities must be registered as methods or functions with a concrete
// receiver; wrapping the runner this way keeps registration a one-liner in
// RegisterWith.
type activities struct {
	run *runner.ScenarioRunner
}

// ExecuteScenarioActivity runs def to completion and returns its report.
// Activities execute outside the workflow's deterministic sandbox, so this
// is exactly where real network calls (the provider SDK, tool resolvers)
// are allowed to happen.
func (a *activities) ExecuteScenarioActivity(ctx context.Context, def scenario.Definition) (report.RunReport, error) {
	return a.run.Run(ctx, def), nil
}

// RunScenarioWorkflow is the durable entry point: it delegates to
// ExecuteScenarioActivity with a retry policy tolerant of transient
// failures in the activity worker itself (not to be confused with chaos
// faults, which the scenario is explicitly testing for and which the
// activity reports as part of a normal, non-erroring RunReport).
func RunScenarioWorkflow(ctx workflow.Context, def scenario.Definition) (report.RunReport, error) {
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Minute,
		RetryPolicy: &sdktemporal.RetryPolicy{
			MaximumAttempts: 3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	var rep report.RunReport
	var a *activities
	if err := workflow.ExecuteActivity(ctx, a.ExecuteScenarioActivity, def).Get(ctx, &rep); err != nil {
		return report.RunReport{}, fmt.Errorf("temporal: scenario activity: %w", err)
	}
	return rep, nil
}

// RegisterWith registers the workflow and its backing activity on w, ready
// to run on TaskQueue.
func RegisterWith(w worker.Worker, run *runner.ScenarioRunner) {
	w.RegisterWorkflowWithOptions(RunScenarioWorkflow, workflow.RegisterOptions{Name: WorkflowName})
	a := &activities{run: run}
	w.RegisterActivity(a.ExecuteScenarioActivity)
}

// Start submits def for durable execution via c, returning the workflow run
// so the caller can later c.GetWorkflow(ctx, run.GetID(), run.GetRunID()) to
// reattach.
func Start(ctx context.Context, c client.Client, workflowID string, def scenario.Definition) (client.WorkflowRun, error) {
	opts := client.StartWorkflowOptions{
		ID:        workflowID,
		TaskQueue: TaskQueue,
	}
	run, err := c.ExecuteWorkflow(ctx, opts, RunScenarioWorkflow, def)
	if err != nil {
		return nil, fmt.Errorf("temporal: start workflow: %w", err)
	}
	return run, nil
}
