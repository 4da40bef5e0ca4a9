// Package dispatch implements invoke_with_mode (spec §4.7): the central
// contract through which every step's inference call passes. It resolves
// the call mode, selects streaming or regular behaviour, manages the
// auto-mode fallback, and aggregates per-call telemetry.
package dispatch

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/weftrun/weft/internal/errs"
	"github.com/weftrun/weft/internal/provider"
	"github.com/weftrun/weft/internal/retry"
	"github.com/weftrun/weft/internal/telemetry"
)

// Mode selects the provider call style (spec glossary).
type Mode string

const (
	ModeRegular Mode = "regular"
	ModeStream  Mode = "stream"
	ModeAuto    Mode = "auto"
)

// Telemetry is the per-call measurement record aggregated into step and
// run totals (spec §3 InferenceTelemetry).
type Telemetry struct {
	Streaming     bool
	SelectedMode  Mode
	FallbackReason string
	TTFBMillis    int64
	LatencyMillis int64
	ChunkCount    int
	TokensOut     int
	Retries       int
}

// ModeOverrideEnvVar is the well-known environment variable name read once
// at startup into an immutable RuntimeContext (spec §9): the mode override
// precedence's highest tier.
const ModeOverrideEnvVar = "WEFT_INFER_MODE"

// RuntimeContext carries the process-wide mode override, read once at
// startup per spec §9 ("read exactly once at startup... do not reread per
// call").
type RuntimeContext struct {
	ModeOverride Mode
}

// NewRuntimeContext constructs a RuntimeContext from the given environment
// lookup function, isolated from the process environment for testability.
func NewRuntimeContext(lookupEnv func(string) (string, bool)) RuntimeContext {
	if v, ok := lookupEnv(ModeOverrideEnvVar); ok && v != "" {
		return RuntimeContext{ModeOverride: Mode(v)}
	}
	return RuntimeContext{}
}

// ResolveMode applies the mode resolution precedence (spec §4.7): env
// override > caller arg > step field > default auto.
func ResolveMode(rc RuntimeContext, callerArg, stepField Mode) Mode {
	if rc.ModeOverride != "" {
		return rc.ModeOverride
	}
	if callerArg != "" {
		return callerArg
	}
	if stepField != "" {
		return stepField
	}
	return ModeAuto
}

// Dispatcher invokes a provider.Client under the uniform mode/fallback
// contract.
type Dispatcher struct {
	client   provider.Client
	name     string
	registry *telemetry.Registry
	policy   retry.Policy
	log      telemetry.Logger
	pacer    *retry.Pacer
}

// New constructs a Dispatcher wrapping client, identified by name for
// telemetry/retry labels. pacer may be nil, in which case calls are not
// rate-paced (tests and other deliberately unthrottled callers); production
// wiring passes a shared *retry.Pacer so every provider call funnels
// through the same rate controller.
func New(client provider.Client, name string, registry *telemetry.Registry, policy retry.Policy, log telemetry.Logger, pacer *retry.Pacer) *Dispatcher {
	if log == nil {
		log = telemetry.NewNoopLogger()
	}
	return &Dispatcher{client: client, name: name, registry: registry, policy: policy, log: log, pacer: pacer}
}

// Invoke is invoke_with_mode: it resolves mode, dispatches via the
// provider, manages the auto fallback, and returns telemetry alongside the
// Completion.
func (d *Dispatcher) Invoke(ctx context.Context, rc RuntimeContext, req provider.Request, callerArg, stepField Mode) (provider.Completion, Telemetry, error) {
	mode := ResolveMode(rc, callerArg, stepField)

	switch mode {
	case ModeRegular:
		comp, tel, err := d.invokeRegular(ctx, req)
		tel.SelectedMode = ModeRegular
		return comp, tel, err

	case ModeStream:
		if !d.client.SupportsStreaming() {
			return provider.Completion{}, Telemetry{SelectedMode: ModeStream}, errs.New(errs.Provider, "streaming unsupported by %s", d.name)
		}
		comp, tel, err := d.invokeStream(ctx, req)
		tel.SelectedMode = ModeStream
		if err != nil {
			return provider.Completion{}, tel, errs.Wrap(errs.Inference, err, "streaming call to %s", d.name)
		}
		return comp, tel, nil

	default: // ModeAuto
		return d.invokeAuto(ctx, req)
	}
}

func (d *Dispatcher) invokeRegular(ctx context.Context, req provider.Request) (provider.Completion, Telemetry, error) {
	start := time.Now()
	label := d.name + ":regular"
	cost := estimateTokens(req)

	comp, attempts, err := retry.Call(ctx, d.registry, label, d.policy, provider.IsTransient, func(ctx context.Context) (provider.Completion, error) {
		if d.pacer != nil {
			if werr := d.pacer.Wait(ctx, cost); werr != nil {
				return provider.Completion{}, werr
			}
		}
		comp, err := d.client.Complete(ctx, req)
		if d.pacer != nil {
			d.pacer.Observe(provider.IsRateLimited(err))
		}
		return comp, err
	})
	latency := time.Since(start)
	if err != nil {
		return provider.Completion{}, Telemetry{LatencyMillis: latency.Milliseconds()}, err
	}

	tel := Telemetry{
		Streaming:     false,
		TTFBMillis:    latency.Milliseconds(),
		LatencyMillis: latency.Milliseconds(),
		TokensOut:     tokensOut(comp),
		Retries:       attempts - 1,
	}
	return comp, tel, nil
}

func (d *Dispatcher) invokeStream(ctx context.Context, req provider.Request) (provider.Completion, Telemetry, error) {
	start := time.Now()
	label := d.name + ":stream"
	cost := estimateTokens(req)
	var ttfb time.Duration
	var chunkCount int
	var sawAnyToken bool

	comp, attempts, err := retry.Call(ctx, d.registry, label, d.policy, provider.IsTransient, func(ctx context.Context) (provider.Completion, error) {
		chunkCount = 0
		sawAnyToken = false
		if d.pacer != nil {
			if werr := d.pacer.Wait(ctx, cost); werr != nil {
				return provider.Completion{}, werr
			}
		}
		stream, err := d.client.Stream(ctx, req)
		if err != nil {
			if d.pacer != nil {
				d.pacer.Observe(provider.IsRateLimited(err))
			}
			return provider.Completion{}, err
		}
		defer stream.Close()

		comp, err := d.drainStream(ctx, stream, start, &ttfb, &chunkCount, &sawAnyToken)
		if d.pacer != nil {
			d.pacer.Observe(provider.IsRateLimited(err))
		}
		return comp, err
	})

	latency := time.Since(start)
	if err != nil {
		return provider.Completion{}, Telemetry{Streaming: true, ChunkCount: chunkCount, LatencyMillis: latency.Milliseconds()}, err
	}

	ttfbMillis := ttfb.Milliseconds()
	if !sawAnyToken {
		ttfbMillis = latency.Milliseconds()
	}
	tel := Telemetry{
		Streaming:     true,
		TTFBMillis:    ttfbMillis,
		LatencyMillis: latency.Milliseconds(),
		ChunkCount:    chunkCount,
		TokensOut:     tokensOut(comp),
		Retries:       attempts - 1,
	}
	return comp, tel, nil
}

// drainStream reads stream to its terminal chunk, recording time-to-first-
// byte and chunk count into the caller's accumulators.
func (d *Dispatcher) drainStream(ctx context.Context, stream provider.Streamer, start time.Time, ttfb *time.Duration, chunkCount *int, sawAnyToken *bool) (provider.Completion, error) {
	for {
		if ctx.Err() != nil {
			return provider.Completion{}, errs.Wrap(errs.Inference, ctx.Err(), "cancelled")
		}
		chunk, err := stream.Recv()
		if err == io.EOF {
			return provider.Completion{}, errs.New(errs.Inference, "stream ended without a terminal chunk")
		}
		if err != nil {
			return provider.Completion{}, err
		}
		if chunk.Final {
			if chunk.Completion == nil {
				return provider.Completion{}, errs.New(errs.Inference, "terminal chunk missing completion metadata")
			}
			return *chunk.Completion, nil
		}
		if !*sawAnyToken {
			*ttfb = time.Since(start)
			*sawAnyToken = true
		}
		*chunkCount++
	}
}

// invokeAuto implements the auto mode fallback (spec §4.7): attempt
// streaming when supported; on a mid-stream error before any token, fall
// back to regular with fallback_reason "stream_error:<code>". When
// streaming is unsupported outright, run regular with fallback_reason
// "streaming_unsupported".
func (d *Dispatcher) invokeAuto(ctx context.Context, req provider.Request) (provider.Completion, Telemetry, error) {
	if !d.client.SupportsStreaming() {
		comp, tel, err := d.invokeRegular(ctx, req)
		tel.SelectedMode = ModeAuto
		tel.FallbackReason = "streaming_unsupported"
		return comp, tel, err
	}

	comp, tel, err := d.invokeStream(ctx, req)
	if err == nil {
		tel.SelectedMode = ModeAuto
		return comp, tel, nil
	}
	if tel.ChunkCount > 0 {
		// Content was already emitted; per spec §4.7 this is not a
		// silent-fallback case, it is a hard failure.
		return provider.Completion{}, tel, errs.Wrap(errs.Inference, err, "mid-stream failure after content emitted")
	}

	d.log.Warn(ctx, "auto mode falling back to regular", "dispatcher", d.name, "cause", err.Error())
	comp, regTel, regErr := d.invokeRegular(ctx, req)
	regTel.SelectedMode = ModeAuto
	regTel.FallbackReason = fmt.Sprintf("stream_error:%s", errs.KindOf(err))
	return comp, regTel, regErr
}

func tokensOut(comp provider.Completion) int {
	if comp.TokensCompletion > 0 {
		return comp.TokensCompletion
	}
	return len(comp.Text) / 4
}

// estimateTokens computes a cheap heuristic for the pacer cost of req:
// characters across all text parts converted to tokens at a fixed ratio,
// plus a fixed buffer for system prompts and provider framing.
func estimateTokens(req provider.Request) int {
	charCount := 0
	for _, m := range req.Messages {
		for _, p := range m.Content {
			charCount += len(p.Text)
		}
	}
	if charCount <= 0 {
		return 500
	}
	tokens := charCount / 3
	if tokens < 1 {
		tokens = 1
	}
	return tokens + 500
}
