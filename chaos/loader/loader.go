// Package loader parses scenario definitions from YAML documents,
// validating each against a JSON Schema before translating it into a
// scenario.Definition and the chaos rules it declares. The file format is
// a thin, validated surface over the same typed constructors the rest of
// the harness uses when built programmatically; a schema violation or an
// unresolvable trigger/fault identifier fails the load before any provider
// interception is installed.
package loader

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"

	"github.com/chaosforge/agentchaos/chaos/fault"
	"github.com/chaosforge/agentchaos/chaos/rule"
	"github.com/chaosforge/agentchaos/chaos/scenario"
	"github.com/chaosforge/agentchaos/chaos/trigger"
)

// Document is the top-level shape of a scenario YAML file.
type Document struct {
	Name          string    `yaml:"name"`
	Seed          int64     `yaml:"seed"`
	Model         string    `yaml:"model"`
	MaxTokens     int       `yaml:"max_tokens"`
	MaxToolRounds int       `yaml:"max_tool_rounds"`
	Rules         []RuleDoc `yaml:"rules"`
	Turns         []TurnDoc `yaml:"turns"`
}

// RuleDoc declares one chaos rule.
type RuleDoc struct {
	Name    string     `yaml:"name"`
	Point   string     `yaml:"point"`
	Trigger TriggerDoc `yaml:"trigger"`
	Fault   FaultDoc   `yaml:"fault"`
}

// TriggerDoc declares a rule's trigger. Exactly one field should be set;
// AllOf/AnyOf compose nested TriggerDocs.
type TriggerDoc struct {
	Always      bool         `yaml:"always,omitempty"`
	OnTurn      *int         `yaml:"on_turn,omitempty"`
	OnCall      *int         `yaml:"on_call,omitempty"`
	AfterCalls  *int         `yaml:"after_calls,omitempty"`
	Probability *float64     `yaml:"probability,omitempty"`
	Tool        string       `yaml:"tool,omitempty"`
	AnyOf       []TriggerDoc `yaml:"any_of,omitempty"`
	AllOf       []TriggerDoc `yaml:"all_of,omitempty"`
	Not         *TriggerDoc  `yaml:"not,omitempty"`
}

// FaultDoc declares a rule's fault factory, keyed by Kind; only the fields
// relevant to that kind need be set.
type FaultDoc struct {
	Kind        string `yaml:"kind"`
	Tool        string `yaml:"tool,omitempty"`
	DelayMS     int64  `yaml:"delay_ms,omitempty"`
	AfterChunks int    `yaml:"after_chunks,omitempty"`
	KeepLast    int    `yaml:"keep_last,omitempty"`
	Message     string `yaml:"message,omitempty"`
}

// TurnDoc declares one conversational turn.
type TurnDoc struct {
	Input string `yaml:"input"`
}

// schemaJSON is kept inline rather than in a sidecar file so the loader
// stays importable without embed directives; update it alongside any
// Document shape change.
const schemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["name", "turns"],
  "properties": {
    "name": {"type": "string", "minLength": 1},
    "seed": {"type": "integer"},
    "model": {"type": "string"},
    "max_tokens": {"type": "integer", "minimum": 0},
    "max_tool_rounds": {"type": "integer", "minimum": 0},
    "rules": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["point", "trigger", "fault"],
        "properties": {
          "name": {"type": "string"},
          "point": {"enum": ["USER_INPUT", "LLM", "STREAM", "TOOL", "CONTEXT"]},
          "trigger": {"type": "object"},
          "fault": {
            "type": "object",
            "required": ["kind"],
            "properties": {"kind": {"type": "string"}}
          }
        }
      }
    },
    "turns": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["input"],
        "properties": {"input": {"type": "string"}}
      }
    }
  }
}`

// Schema is the compiled JSON Schema every scenario document is validated
// against before translation.
var Schema = mustCompile()

func mustCompile() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(schemaJSON))
	if err != nil {
		panic(fmt.Sprintf("loader: invalid embedded schema: %v", err))
	}
	if err := c.AddResource("agentchaos://scenario.schema.json", doc); err != nil {
		panic(fmt.Sprintf("loader: invalid embedded schema: %v", err))
	}
	s, err := c.Compile("agentchaos://scenario.schema.json")
	if err != nil {
		panic(fmt.Sprintf("loader: invalid embedded schema: %v", err))
	}
	return s
}

// Parse validates raw against Schema, then translates it into a
// scenario.Definition and its associated chaos rules.
func Parse(raw []byte) (scenario.Definition, []rule.Rule, error) {
	var generic any
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return scenario.Definition{}, nil, fmt.Errorf("loader: yaml: %w", err)
	}
	// Round-trip through JSON so the validated value carries JSON types
	// (float64 numbers, map[string]any) rather than YAML's native ints,
	// which is what the schema library expects to walk.
	jsonBytes, err := json.Marshal(generic)
	if err != nil {
		return scenario.Definition{}, nil, fmt.Errorf("loader: yaml is not JSON-representable: %w", err)
	}
	jsonDoc, err := jsonschema.UnmarshalJSON(bytes.NewReader(jsonBytes))
	if err != nil {
		return scenario.Definition{}, nil, fmt.Errorf("loader: %w", err)
	}
	if err := Schema.Validate(jsonDoc); err != nil {
		return scenario.Definition{}, nil, fmt.Errorf("loader: schema: %w", err)
	}

	var doc Document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return scenario.Definition{}, nil, fmt.Errorf("loader: yaml: %w", err)
	}

	rules := make([]rule.Rule, 0, len(doc.Rules))
	for _, rd := range doc.Rules {
		r, err := translateRule(rd)
		if err != nil {
			return scenario.Definition{}, nil, err
		}
		rules = append(rules, r)
	}

	def := scenario.Definition{
		Name:          doc.Name,
		Seed:          doc.Seed,
		Model:         doc.Model,
		MaxTokens:     doc.MaxTokens,
		MaxToolRounds: doc.MaxToolRounds,
	}
	for _, t := range doc.Turns {
		def.Turns = append(def.Turns, scenario.Turn{Input: t.Input})
	}
	return def, rules, nil
}

func translateRule(rd RuleDoc) (rule.Rule, error) {
	trig, err := translateTrigger(rd.Trigger)
	if err != nil {
		return rule.Rule{}, err
	}
	factory, err := translateFault(fault.Point(rd.Point), rd.Fault)
	if err != nil {
		return rule.Rule{}, err
	}
	return rule.New(rd.Name, fault.Point(rd.Point), trig, factory), nil
}

func translateTrigger(td TriggerDoc) (trigger.Trigger, error) {
	switch {
	case td.Always:
		return trigger.Always(), nil
	case td.OnTurn != nil:
		return trigger.OnTurn(*td.OnTurn), nil
	case td.OnCall != nil:
		return trigger.OnCall(*td.OnCall), nil
	case td.AfterCalls != nil:
		return trigger.AfterCalls(*td.AfterCalls), nil
	case td.Probability != nil:
		return trigger.WithProbability(*td.Probability), nil
	case td.Tool != "":
		return trigger.TargetingTool(td.Tool), nil
	case len(td.AnyOf) > 0:
		ts, err := translateMany(td.AnyOf)
		if err != nil {
			return nil, err
		}
		return trigger.AnyOf(ts...), nil
	case len(td.AllOf) > 0:
		ts, err := translateMany(td.AllOf)
		if err != nil {
			return nil, err
		}
		return trigger.AllOf(ts...), nil
	case td.Not != nil:
		inner, err := translateTrigger(*td.Not)
		if err != nil {
			return nil, err
		}
		return trigger.Not(inner), nil
	default:
		return nil, fmt.Errorf("loader: empty trigger declaration")
	}
}

func translateMany(docs []TriggerDoc) ([]trigger.Trigger, error) {
	out := make([]trigger.Trigger, 0, len(docs))
	for _, d := range docs {
		t, err := translateTrigger(d)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func translateFault(point fault.Point, fd FaultDoc) (fault.Factory, error) {
	switch fault.Kind(fd.Kind) {
	case fault.RateLimit:
		return fault.RateLimitFault(), nil
	case fault.Timeout:
		return fault.TimeoutFault(), nil
	case fault.ServerError:
		return fault.ServerErrorFault(), nil
	case fault.AuthError:
		return fault.AuthErrorFault(), nil
	case fault.MalformedResponse:
		return fault.MalformedResponseFault(), nil
	case fault.TTFTDelay:
		return fault.TTFTDelayFault(fd.DelayMS), nil
	case fault.StreamHang:
		return fault.StreamHangFault(fd.AfterChunks), nil
	case fault.StreamCut:
		return fault.StreamCutFault(fd.AfterChunks), nil
	case fault.SlowChunks:
		return fault.SlowChunksFault(fd.DelayMS), nil
	case fault.ToolError:
		return fault.ToolErrorFault(fd.Tool, fd.Message), nil
	case fault.ToolTimeout:
		return fault.ToolTimeoutFault(fd.Tool), nil
	case fault.ToolEmpty:
		return fault.ToolEmptyFault(fd.Tool), nil
	case fault.ContextTruncate:
		return fault.TruncateFault(fd.KeepLast), nil
	default:
		return nil, fmt.Errorf("loader: fault kind %q at point %q has no declarative (non-programmatic) form; "+
			"construct it with the fault package directly (mutators, injected message lists and predicates cannot be expressed in YAML)", fd.Kind, point)
	}
}
