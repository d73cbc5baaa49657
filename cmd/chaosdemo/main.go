// Command chaosdemo is a small, runnable example of the harness end to
// end: load a scenario YAML file (chaos/loader), point it at a real
// Anthropic model behind the chaos interception layer
// (chaos/provider/anthropic + chaos/provider), execute it (chaos/runner),
// and print or persist the resulting scorecard.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"goa.design/clue/log"

	"github.com/chaosforge/agentchaos/chaos/agent"
	"github.com/chaosforge/agentchaos/chaos/hooks"
	"github.com/chaosforge/agentchaos/chaos/loader"
	"github.com/chaosforge/agentchaos/chaos/provider/anthropic"
	"github.com/chaosforge/agentchaos/chaos/rule"
	"github.com/chaosforge/agentchaos/chaos/runner"
	"github.com/chaosforge/agentchaos/chaos/scenario"
	"github.com/chaosforge/agentchaos/chaos/telemetry"
)

func main() {
	ctx := log.Context(context.Background(), log.WithFormat(log.FormatTerminal))
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "chaosdemo",
		Short: "Run an agentchaos scenario file against a live model",
	}
	root.AddCommand(newRunCmd(), newPairCmd())
	return root
}

func newRunCmd() *cobra.Command {
	var (
		modelName  string
		runsDir    string
		maxRetries int
	)
	cmd := &cobra.Command{
		Use:   "run SCENARIO.yaml",
		Short: "Execute a scenario once, with whatever rules it declares",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			def, rules, err := loadDefinition(args[0])
			if err != nil {
				return err
			}
			def.Agent = agent.ToolCalling(def.MaxToolRounds, maxRetries)
			memSink := hooks.NewMemorySink()
			r, err := buildRunner(modelName, rules, memSink)
			if err != nil {
				return err
			}
			rep := r.Run(cmd.Context(), def)
			dir, err := runner.SessionDir(runsDir, def.Name)
			if err != nil {
				return err
			}
			if err := runner.WriteArtifacts(dir, rep, memSink.Events()); err != nil {
				return err
			}
			fmt.Printf("artifacts written to %s\n", dir)
			return printReport(rep)
		},
	}
	cmd.Flags().StringVar(&modelName, "model", "claude-sonnet-4-20250514", "model identifier to request")
	cmd.Flags().StringVar(&runsDir, "runs-dir", runner.DefaultRunsDir, "root directory for per-run scorecard.json + events.jsonl artifacts")
	cmd.Flags().IntVar(&maxRetries, "max-retries", 1, "times the reference agent retries a rate-limited completion before giving up")
	return cmd
}

func newPairCmd() *cobra.Command {
	var (
		modelName  string
		outDir     string
		maxRetries int
	)
	cmd := &cobra.Command{
		Use:   "pair SCENARIO.yaml",
		Short: "Execute a scenario twice (baseline, then chaos) and report any regression",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			def, rules, err := loadDefinition(args[0])
			if err != nil {
				return err
			}
			def.Agent = agent.ToolCalling(def.MaxToolRounds, maxRetries)
			r, err := buildRunner(modelName, rules, hooks.NewMemorySink())
			if err != nil {
				return err
			}
			pair := r.RunPair(cmd.Context(), def)
			if outDir != "" {
				if err := runner.WriteArtifacts(outDir+"/baseline", pair.Baseline, nil); err != nil {
					return err
				}
				if err := runner.WriteArtifacts(outDir+"/chaos", pair.Chaos, nil); err != nil {
					return err
				}
			}
			fmt.Printf("baseline passed=%v chaos passed=%v regressed=%v\n", pair.Baseline.Passed, pair.Chaos.Passed, pair.Regressed())
			return nil
		},
	}
	cmd.Flags().StringVar(&modelName, "model", "claude-sonnet-4-20250514", "model identifier to request")
	cmd.Flags().StringVar(&outDir, "out", "", "directory to write baseline/ and chaos/ scorecards under")
	cmd.Flags().IntVar(&maxRetries, "max-retries", 1, "times the reference agent retries a rate-limited completion before giving up")
	return cmd
}

// echoResolver is the demo's only tool: it exists so scenario files can
// exercise the PointTool interception path without needing a real tool
// backend. It simply echoes its arguments back as the result.
func echoResolver(_ context.Context, name string, args []byte) (string, bool, error) {
	return fmt.Sprintf("tool %s invoked with %s", name, string(args)), false, nil
}

func buildRunner(modelName string, rules []rule.Rule, sink hooks.Sink) (*runner.ScenarioRunner, error) {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("chaosdemo: ANTHROPIC_API_KEY is required")
	}
	client, err := anthropic.NewFromAPIKey(apiKey, modelName)
	if err != nil {
		return nil, err
	}
	build := runner.Build{
		ProviderName: "anthropic",
		Client:       client,
		Rules:        rules,
		Resolver:     echoResolver,
		Sink:         sink,
		Log:          telemetry.NewClueLogger(),
	}
	return runner.New(build), nil
}

func loadDefinition(path string) (scenario.Definition, []rule.Rule, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return scenario.Definition{}, nil, fmt.Errorf("chaosdemo: %w", err)
	}
	return loader.Parse(raw)
}

func printReport(rep any) error {
	out, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
