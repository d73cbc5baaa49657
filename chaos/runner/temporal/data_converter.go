package temporal

import (
	"time"

	commonpb "go.temporal.io/api/common/v1"
	"go.temporal.io/sdk/converter"

	"github.com/chaosforge/agentchaos/chaos/metrics"
	"github.com/chaosforge/agentchaos/chaos/report"
)

// DataConverter returns the converter workflow clients and workers must
// share when a workflow result is a report.RunReport. RunReport marshals
// as its Scorecard wire projection but carries no matching UnmarshalJSON,
// so Temporal's default JSON converter would encode an activity's report
// and then fail to decode it on the workflow side. This converter keeps
// the default behavior for every other type and rebuilds a RunReport from
// the parsed Scorecard.
func DataConverter() converter.DataConverter {
	return converter.NewCompositeDataConverter(
		converter.NewNilPayloadConverter(),
		converter.NewByteSlicePayloadConverter(),
		&reportPayloadConverter{JSONPayloadConverter: converter.NewJSONPayloadConverter()},
	)
}

// reportPayloadConverter wraps the stock JSON payload converter with
// RunReport-aware decoding. Encoding needs no special case: RunReport's
// own MarshalJSON already emits the scorecard shape.
type reportPayloadConverter struct {
	*converter.JSONPayloadConverter
}

func (c *reportPayloadConverter) FromPayload(p *commonpb.Payload, valuePtr any) error {
	rep, ok := valuePtr.(*report.RunReport)
	if !ok {
		return c.JSONPayloadConverter.FromPayload(p, valuePtr)
	}
	sc, err := report.ParseScorecard(p.GetData())
	if err != nil {
		return err
	}
	*rep = reportFromScorecard(sc)
	return nil
}

// reportFromScorecard rebuilds the projected fields of a RunReport. The
// live metrics Store cannot cross the wire in full; the rebuilt Store
// carries the scorecard aggregates, which is what post-run consumers
// (assertion summaries, dashboards) read.
func reportFromScorecard(sc report.Scorecard) report.RunReport {
	store := metrics.New()
	store.Calls = sc.Calls
	store.Tokens = sc.Tokens
	store.Stream = sc.Stream
	store.Faults = sc.Faults
	if store.Calls.PerProvider == nil {
		store.Calls.PerProvider = make(map[string]int)
	}

	rep := report.RunReport{
		Scenario:      sc.Scenario,
		Seed:          sc.Seed,
		Started:       sc.Started,
		Finished:      sc.Finished,
		Passed:        sc.Passed,
		FailureReason: sc.FailureReason,
		Assertions:    sc.Assertions,
		Store:         store,
	}
	for _, t := range sc.Turns {
		rep.Turns = append(rep.Turns, report.TurnResult{
			Index:         t.Index,
			Input:         t.Input,
			ResponseText:  t.Response,
			Elapsed:       time.Duration(t.ElapsedMS) * time.Millisecond,
			Passed:        t.Passed,
			TimedOut:      t.TimedOut,
			FailureReason: t.FailureReason,
			Assertions:    t.Assertions,
		})
	}
	return rep
}
