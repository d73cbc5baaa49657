// Package provider installs chaos interception around a model.Client.
// Concrete provider adapters (chaos/provider/anthropic,
// chaos/provider/openai, chaos/provider/bedrock) translate a real SDK client
// into model.Client; New then wraps that translation in an Intercepted so every
// Complete/Stream call is consulted against the scenario's Injector at the
// LLM point, and every resulting Streamer is run through chaos/stream.
package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/chaosforge/agentchaos/chaos/fault"
	"github.com/chaosforge/agentchaos/chaos/hooks"
	"github.com/chaosforge/agentchaos/chaos/injector"
	"github.com/chaosforge/agentchaos/chaos/metrics"
	"github.com/chaosforge/agentchaos/chaos/model"
	"github.com/chaosforge/agentchaos/chaos/stream"
)

// CallInfo identifies where, in the scenario's call sequence, the wrapped
// call sits. The turn executor (chaos/scenario) supplies this on every
// invocation; it is exactly the tuple trigger.CallContext needs.
type CallInfo struct {
	TurnIndex  int
	CallInTurn int
	GlobalCall int
}

// Intercepted wraps an underlying model.Client with LLM- and STREAM-point
// chaos injection, recording every call and every applied fault through rec.
type Intercepted struct {
	name string // provider name tag for CallRecord.Provider and events
	next model.Client
	inj  *injector.Injector
	rec  *hooks.Recorder
}

// New wraps next with chaos interception. name identifies the provider
// ("anthropic", "openai", "bedrock") for CallRecord/Event tagging.
func New(name string, next model.Client, inj *injector.Injector, rec *hooks.Recorder) *Intercepted {
	return &Intercepted{name: name, next: next, inj: inj, rec: rec}
}

// Complete consults the injector at PointLLM, applies an LLM-stage fault by
// returning the corresponding classified error without calling next, and
// otherwise forwards to next, recording the call's outcome either way. The
// returned call id identifies this call for tool-tracking purposes even when
// err is non-nil, so callers can still thread it through
// ToolRequested/ToolResolved bookkeeping.
func (c *Intercepted) Complete(ctx context.Context, req *model.Request, info CallInfo) (*model.Response, string, error) {
	callID, verdict, faulted, err := c.begin(ctx, req, info)
	if err != nil {
		return nil, callID, err
	}

	if faulted {
		cerr := llmFaultError(verdict.Fault)
		c.inj.RecordInjection(ctx, verdict)
		_ = c.recordFault(ctx, callID, verdict)
		_ = c.rec.EndCall(ctx, callID, false, true, verdict.Fault.Kind, cerr.Error(), model.TokenUsage{}, 0)
		return nil, callID, cerr
	}

	started := time.Now()
	resp, err := c.next.Complete(ctx, req)
	elapsed := time.Since(started)
	if err != nil {
		_ = c.rec.EndCall(ctx, callID, false, false, "", err.Error(), model.TokenUsage{}, elapsed)
		return nil, callID, err
	}
	for _, tc := range resp.ToolCalls {
		_ = c.rec.ToolUse(ctx, callID, tc.ID, tc.Name)
	}
	_ = c.rec.EndCall(ctx, callID, true, false, "", "", resp.Usage, elapsed)
	return resp, callID, nil
}

// Stream consults the injector at both PointLLM (request-level faults, which
// short-circuit before any chunk is produced) and PointStream (chunk-level
// faults, applied by wrapping next's Streamer). At most one of the two
// points fires for a given call: a fired PointLLM fault returns an error
// immediately and PointStream is never consulted.
func (c *Intercepted) Stream(ctx context.Context, req *model.Request, info CallInfo) (model.Streamer, string, error) {
	callID, verdict, faulted, err := c.begin(ctx, req, info)
	if err != nil {
		return nil, callID, err
	}
	if faulted {
		cerr := llmFaultError(verdict.Fault)
		c.inj.RecordInjection(ctx, verdict)
		_ = c.recordFault(ctx, callID, verdict)
		_ = c.rec.EndCall(ctx, callID, false, true, verdict.Fault.Kind, cerr.Error(), model.TokenUsage{}, 0)
		return nil, callID, cerr
	}

	started := time.Now()
	upstream, err := c.next.Stream(ctx, req)
	if err != nil {
		_ = c.rec.EndCall(ctx, callID, false, false, "", err.Error(), model.TokenUsage{}, time.Since(started))
		return nil, callID, err
	}

	sv, sFaulted, serr := c.inj.Consult(fault.PointStream, info.TurnIndex, info.CallInTurn, info.GlobalCall, "")
	if serr != nil {
		_ = upstream.Close()
		_ = c.rec.EndCall(ctx, callID, false, false, "", serr.Error(), model.TokenUsage{}, time.Since(started))
		return nil, callID, serr
	}

	var f *fault.Fault
	if sFaulted {
		c.inj.RecordInjection(ctx, sv)
		_ = c.recordFault(ctx, callID, sv)
		ff := sv.Fault
		f = &ff
	}

	chunkCount := 0
	bytes := 0
	wrapped := stream.Wrap(upstream, f,
		stream.OnChunkDelay(func(d time.Duration) {
			if f == nil {
				return
			}
			switch f.Kind {
			case fault.TTFTDelay:
				_ = c.rec.RecordTTFT(ctx, callID, d)
			case fault.SlowChunks:
				c.rec.RecordChunkDelay(d)
			}
		}),
		stream.OnHang(func() { c.rec.RecordHang() }),
		stream.OnCut(func(n int) { _ = c.rec.RecordStreamCut(ctx, callID, n) }),
	)

	return &recordingStreamer{
		Streamer: wrapped,
		onChunk:  func() { chunkCount++ },
		onBytes:  func(n int) { bytes += n },
		onDone: func(derr error) {
			success := derr == nil || errors.Is(derr, io.EOF) || errors.Is(derr, context.Canceled)
			_ = c.rec.RecordStreamStats(ctx, callID, chunkCount, bytes, time.Since(started))
			msg := ""
			if derr != nil && !success {
				msg = derr.Error()
			}
			_ = c.rec.EndCall(ctx, callID, success, sFaulted, kindOrEmpty(f), msg, model.TokenUsage{}, time.Since(started))
		},
	}, callID, nil
}

func kindOrEmpty(f *fault.Fault) fault.Kind {
	if f == nil {
		return ""
	}
	return f.Kind
}

// begin opens the span and consults PointLLM, returning the new call id and,
// if a fault fired, its verdict.
func (c *Intercepted) begin(ctx context.Context, req *model.Request, info CallInfo) (callID string, verdict injector.Verdict, faulted bool, err error) {
	callID, err = c.rec.BeginCall(ctx, info.TurnIndex, info.CallInTurn, info.GlobalCall)
	if err != nil {
		return "", injector.Verdict{}, false, err
	}
	verdict, faulted, err = c.inj.Consult(fault.PointLLM, info.TurnIndex, info.CallInTurn, info.GlobalCall, "")
	return callID, verdict, faulted, err
}

func (c *Intercepted) recordFault(ctx context.Context, callID string, v injector.Verdict) error {
	return c.rec.RecordFault(ctx, callID, metrics.FaultRecord{
		Kind:     v.Fault.Kind,
		Point:    v.Fault.Point,
		RuleName: v.RuleName,
		CallID:   callID,
		ToolName: v.Fault.Tool,
	})
}

// llmFaultError classifies an LLM-stage fault into the sentinel/wrapped
// error the rest of the harness (and provider error classification, for
// real upstream errors) expects callers to check with errors.Is.
func llmFaultError(f fault.Fault) error {
	switch f.Kind {
	case fault.RateLimit:
		return model.ErrRateLimited
	case fault.Timeout:
		return fmt.Errorf("provider: %w", context.DeadlineExceeded)
	case fault.ServerError:
		return errors.New("provider: internal server error (injected)")
	case fault.AuthError:
		return errors.New("provider: authentication failed (injected)")
	case fault.MalformedResponse:
		return errors.New("provider: malformed response (injected)")
	default:
		return fmt.Errorf("provider: unrecognized LLM fault %q", f.Kind)
	}
}

// recordingStreamer decorates a model.Streamer to count chunks/bytes and
// notify onDone exactly once, on the first terminal Recv error.
type recordingStreamer struct {
	model.Streamer
	onChunk func()
	onBytes func(n int)
	onDone  func(err error)
	done    bool
}

func (r *recordingStreamer) Recv(ctx context.Context) (model.Chunk, error) {
	chunk, err := r.Streamer.Recv(ctx)
	if err != nil {
		if !r.done {
			r.done = true
			r.onDone(err)
		}
		return chunk, err
	}
	r.onChunk()
	r.onBytes(len(chunk.Text))
	return chunk, nil
}

func (r *recordingStreamer) Close() error {
	if !r.done {
		r.done = true
		r.onDone(nil)
	}
	return r.Streamer.Close()
}
