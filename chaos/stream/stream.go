// Package stream wraps a provider's streaming response iterator so a
// single chosen STREAM-point fault can be applied chunk-by-chunk without
// the provider adapter itself knowing about chaos. Provider streamers pump
// their SDK's events onto a channel from a background goroutine; this
// wrapper sits in front of Recv, so blocking behavior (hangs, delays) is
// injected purely by controlling when the next chunk is released.
package stream

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/chaosforge/agentchaos/chaos/fault"
	"github.com/chaosforge/agentchaos/chaos/model"
)

// Limiter paces chunk delivery for TTFT_DELAY/SLOW_CHUNKS. *rate.Limiter
// satisfies this directly; tests substitute a fake to run the wrapper's
// pacing logic without real sleeps.
type Limiter interface {
	WaitN(ctx context.Context, n int) error
}

// Wrapper applies at most one STREAM-point fault (a single verdict per
// consult) to an upstream model.Streamer. Which field of Fault is
// meaningful is selected by Fault.Kind; Wrapper dispatches on Kind in the
// fixed stage order TTFT_DELAY -> SLOW_CHUNKS -> STREAM_HANG -> STREAM_CUT
// -> CORRUPT, though in practice exactly one of these applies per wrapped
// stream since a verdict carries one Kind.
type Wrapper struct {
	upstream model.Streamer
	f        fault.Fault
	has      bool
	limiter  Limiter

	mu           sync.Mutex
	chunkIndex   int
	cutTriggered bool

	onChunkDelay func(d time.Duration)
	onHang       func()
	onCut        func(chunkCount int)
}

// Option configures a Wrapper at construction time.
type Option func(*Wrapper)

// WithLimiter overrides the wrapper's pacing limiter, constructed by Wrap
// from the fault's delay by default.
func WithLimiter(l Limiter) Option { return func(w *Wrapper) { w.limiter = l } }

// OnChunkDelay registers a callback invoked whenever the wrapper sleeps
// before releasing a chunk (TTFT_DELAY or SLOW_CHUNKS), letting the caller
// feed metrics.Store.RecordTTFT/RecordChunkDelay without the stream package
// depending on hooks directly.
func OnChunkDelay(fn func(d time.Duration)) Option { return func(w *Wrapper) { w.onChunkDelay = fn } }

// OnHang registers a callback invoked the moment STREAM_HANG takes effect.
func OnHang(fn func()) Option { return func(w *Wrapper) { w.onHang = fn } }

// OnCut registers a callback invoked the moment STREAM_CUT takes effect,
// reporting how many chunks were delivered before the cut.
func OnCut(fn func(chunkCount int)) Option { return func(w *Wrapper) { w.onCut = fn } }

// Wrap returns a model.Streamer that applies f (if f.Point is PointStream)
// to upstream's chunk sequence. A zero-value *fault.Fault (has=false) makes
// Wrap a transparent passthrough.
func Wrap(upstream model.Streamer, f *fault.Fault, opts ...Option) model.Streamer {
	w := &Wrapper{upstream: upstream}
	if f != nil && f.Point == fault.PointStream {
		w.f = *f
		w.has = true
	}
	if w.has && (w.f.Kind == fault.TTFTDelay || w.f.Kind == fault.SlowChunks) {
		if d := time.Duration(w.f.Delay) * time.Millisecond; d > 0 {
			lim := rate.NewLimiter(rate.Every(d), 1)
			lim.AllowN(time.Now(), 1) // burn the initial burst token: the first pace() must still pay d
			w.limiter = lim
		}
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Recv returns the next chunk, applying whichever STREAM fault is active.
// Context cancellation (ctx is threaded in via the upstream Streamer, which
// the provider adapter constructs bound to the call's context) always wins
// over an injected hang: a canceled scenario must still be able to unwind.
func (w *Wrapper) Recv(ctx context.Context) (model.Chunk, error) {
	w.mu.Lock()
	idx := w.chunkIndex
	w.mu.Unlock()

	if w.has {
		switch w.f.Kind {
		case fault.TTFTDelay:
			if idx == 0 {
				if err := w.pace(ctx, time.Duration(w.f.Delay)*time.Millisecond); err != nil {
					return model.Chunk{}, err
				}
			}
		case fault.SlowChunks:
			if idx > 0 {
				if err := w.pace(ctx, time.Duration(w.f.Delay)*time.Millisecond); err != nil {
					return model.Chunk{}, err
				}
			}
		case fault.StreamHang:
			if idx >= w.f.AfterChunks {
				if w.onHang != nil {
					w.onHang()
				}
				<-ctx.Done()
				return model.Chunk{}, ctx.Err()
			}
		case fault.StreamCut:
			if idx >= w.f.AfterChunks {
				w.mu.Lock()
				already := w.cutTriggered
				w.cutTriggered = true
				w.mu.Unlock()
				if !already && w.onCut != nil {
					w.onCut(idx)
				}
				return model.Chunk{}, model.ErrStreamClosed
			}
		}
	}

	chunk, err := w.upstream.Recv(ctx)
	if err != nil {
		return chunk, err
	}

	if w.has && w.f.Kind == fault.Corrupt {
		chunk = corrupt(chunk, w.f)
	}

	w.mu.Lock()
	w.chunkIndex++
	w.mu.Unlock()
	return chunk, nil
}

// Close releases the upstream iterator.
func (w *Wrapper) Close() error { return w.upstream.Close() }

// pace waits for one token from the wrapper's limiter, the delay d having
// already been baked into its rate at construction time. d is passed
// through only for the onChunkDelay callback; the actual wait comes from
// w.limiter so real upstream lag and injected pacing share one code path.
func (w *Wrapper) pace(ctx context.Context, d time.Duration) error {
	if d <= 0 || w.limiter == nil {
		return nil
	}
	if w.onChunkDelay != nil {
		w.onChunkDelay(d)
	}
	return w.limiter.WaitN(ctx, 1)
}

// corrupt applies a CORRUPT fault to one chunk. CorruptKind selects the
// transform: "truncate" drops the chunk's text to its first half,
// "retype" flips the chunk's reported type to text while preserving its
// payload, and any other value (or empty) is treated as "replace", which
// blanks the text and marks the chunk a stop event, an opaque protocol
// violation a well-behaved client still must not panic on.
func corrupt(c model.Chunk, f fault.Fault) model.Chunk {
	switch f.CorruptKind {
	case "truncate":
		if n := len(c.Text) / 2; n > 0 {
			c.Text = c.Text[:n]
		}
	case "retype":
		c.Type = model.ChunkText
	default:
		c.Text = ""
		c.Type = model.ChunkStop
		c.StopReason = "corrupt"
	}
	return c
}
