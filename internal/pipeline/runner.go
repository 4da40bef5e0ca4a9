package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/weftrun/weft/internal/artefact"
	"github.com/weftrun/weft/internal/dispatch"
	"github.com/weftrun/weft/internal/errs"
	"github.com/weftrun/weft/internal/executor"
	"github.com/weftrun/weft/internal/jsonenforce"
	"github.com/weftrun/weft/internal/provider"
	"github.com/weftrun/weft/internal/retrieval"
	"github.com/weftrun/weft/internal/serialize"
	"github.com/weftrun/weft/internal/telemetry"
	"github.com/weftrun/weft/internal/template"
	"github.com/weftrun/weft/internal/units"
)

// defaultAllJoinMaxChars bounds join(all.x, sep) results when a pipeline
// does not configure one explicitly (spec §6.7 interpolation payload cap).
const defaultAllJoinMaxChars = 8000

// Runner drives a Pipeline's step chain over a fixed unit set, wiring
// template interpolation, optional retrieval attachment, inference
// dispatch, and JSON enforcement per unit, and returns the collected
// results; writing them out as artefacts is left to the caller.
type Runner struct {
	Dispatcher     *dispatch.Dispatcher
	Prompts        *PromptRegistry
	Retrieval      *retrieval.Registry
	RuntimeContext dispatch.RuntimeContext
	Logger         telemetry.Logger

	AllJoinMaxChars int
}

// RunInput is the already-iterated unit set a Runner executes a Pipeline
// over. Unit iteration (connector -> unit splitting) happens upstream of
// this package.
type RunInput struct {
	Documents map[string]units.Document
	Units     []units.ExecutionUnit
	RunID     string
}

// unitState tracks one unit's accumulated step outputs and terminal state
// across the step chain. Only units that completed a step without failing
// contribute that step's output to later steps' all.* scope, per the
// "successful-only" decision recorded for the all.* open question; the
// contribution is made when that step finishes, so a unit that fails at a
// later step keeps its earlier contributions.
type unitState struct {
	outputs     map[string]any
	failed      bool
	failKind    errs.Kind
	failMessage string
}

// RunResult is everything a caller needs to write this run's remaining
// artefacts (outputs.jsonl, run.yaml, manifest.json are the Writer's job;
// the Runner itself only returns what those artefacts are made of).
type RunResult struct {
	Records       []serialize.Record
	OutputRecords []artefact.OutputRecord
	StepTelemetry map[string]artefact.StepTelemetry
	RetrievalLog  map[string][]retrieval.LogEntry
	UnitsFailed   int
	UnitsEmitted  int
}

// Run executes every step of p over in.Units in declared order, returning
// the aggregated result. An error is returned for a configuration failure
// that prevents the run from proceeding at all (e.g. an unknown prompt
// reference), and for a unit failure when p.ContinueOnError is false (the
// executor aborts the step and no RunResult is returned). With
// ContinueOnError set, per-unit failures are captured in the returned
// RunResult so the caller can still write a "completed_with_errors"
// RunRecord.
func (r *Runner) Run(ctx context.Context, p Pipeline, in RunInput) (*RunResult, error) {
	states := make([]*unitState, len(in.Units))
	for i := range states {
		states[i] = &unitState{outputs: make(map[string]any)}
	}

	allScope := make(map[string][]any)
	stepTelemetry := make(map[string]artefact.StepTelemetry)
	retrievalLog := make(map[string][]retrieval.LogEntry)

	allJoinCap := r.AllJoinMaxChars
	if allJoinCap == 0 {
		allJoinCap = defaultAllJoinMaxChars
	}

	for _, step := range p.Steps {
		promptText, err := r.Prompts.Resolve(step.PromptTemplate)
		if err != nil {
			return nil, err
		}

		var telMu sync.Mutex
		var retrievalMu sync.Mutex
		var agg stepAggregate

		work := func(ctx context.Context, i int) (any, error) {
			st := states[i]
			if st.failed {
				return nil, errs.New(st.failKind, "%s", st.failMessage)
			}

			unit := in.Units[i]
			doc := in.Documents[unit.DocID]
			scope := buildScope(unit, doc, st.outputs, allScope, in.RunID, allJoinCap)

			for name, expr := range step.InputBindings {
				val, err := template.Render(expr, scope)
				if err != nil {
					return nil, errs.Wrap(errs.Processing, err, "render input binding %s for step %s", name, step.ID)
				}
				scope.Bindings[name] = val
			}

			if step.Retrieval != nil {
				binding := *step.Retrieval
				query, err := template.Render(binding.Query, scope)
				if err != nil {
					return nil, errs.Wrap(errs.Processing, err, "render retrieval query for step %s", step.ID)
				}
				binding.Query = query

				text, images, logEntry, err := retrieval.Attach(ctx, r.Retrieval, step.ID, binding)
				if err != nil {
					return nil, err
				}
				if scope.Bindings == nil {
					scope.Bindings = map[string]any{}
				}
				scope.Bindings[binding.TextVarOrDefault()] = text
				scope.Bindings[binding.ImageVarOrDefault()] = images

				retrievalMu.Lock()
				retrievalLog[step.ID] = append(retrievalLog[step.ID], logEntry)
				retrievalMu.Unlock()
			}

			rendered, err := template.Render(promptText, scope)
			if err != nil {
				return nil, errs.Wrap(errs.Processing, err, "render prompt for step %s", step.ID)
			}

			req := buildRequest(step, rendered, unit)

			completion, tel, err := r.Dispatcher.Invoke(ctx, r.RuntimeContext, req, "", step.InferMode)
			if err != nil {
				return nil, err
			}

			telMu.Lock()
			agg.add(tel)
			telMu.Unlock()

			if step.OutputExpects != OutputExpectsJSON {
				return completion.Text, nil
			}

			repair := func(ctx context.Context, instruction string) (string, error) {
				repairReq := req
				repairReq.Messages = append(append([]provider.Message{}, req.Messages...), provider.Message{
					Role:    provider.RoleUser,
					Content: []provider.Part{{Type: "text", Text: instruction}},
				})
				repairCompletion, repairTel, err := r.Dispatcher.Invoke(ctx, r.RuntimeContext, repairReq, "", dispatch.ModeRegular)
				if err != nil {
					return "", err
				}
				telMu.Lock()
				agg.add(repairTel)
				telMu.Unlock()
				return repairCompletion.Text, nil
			}

			result := jsonenforce.Enforce(ctx, completion.Text, step.OutputSchema, step.ParseRetries, repair)
			if result.ParseError != "" {
				return nil, errs.New(errs.Processing, "step %s: %s", step.ID, result.ParseError)
			}
			return result.Value, nil
		}

		results, err := executor.Run(ctx, len(in.Units), executor.Options{
			Concurrency:     p.Concurrency,
			ContinueOnError: p.ContinueOnError,
		}, work)
		if err != nil {
			return nil, err
		}

		stepFailed := 0
		for i, res := range results {
			st := states[i]
			if res.Err != nil {
				stepFailed++
				st.failed = true
				st.failKind = errs.KindOf(res.Err)
				if st.failKind == "" {
					st.failKind = errs.Processing
				}
				st.failMessage = res.Err.Error()
				continue
			}
			st.outputs[step.OutputName] = res.Value
			allScope[step.OutputName] = append(allScope[step.OutputName], res.Value)
		}

		tel := agg.snapshot(len(in.Units))
		tel.UnitsFailed = stepFailed
		tel.UnitsEmitted = len(in.Units) - stepFailed
		stepTelemetry[step.ID] = tel
	}

	return buildRunResult(p, in, states, stepTelemetry, retrievalLog), nil
}

// stepAggregate accumulates per-call dispatch.Telemetry into the step-level
// aggregate artefact.StepTelemetry records (spec §3 step_telemetry).
type stepAggregate struct {
	retries        int
	tokensOut      int
	streaming      bool
	fallbackReason string
	sawAny         bool
}

func (a *stepAggregate) add(tel dispatch.Telemetry) {
	a.retries += tel.Retries
	a.tokensOut += tel.TokensOut
	if !a.sawAny {
		a.streaming = tel.Streaming
		a.fallbackReason = tel.FallbackReason
		a.sawAny = true
	}
}

func (a *stepAggregate) snapshot(unitsTotal int) artefact.StepTelemetry {
	return artefact.StepTelemetry{
		UnitsTotal:     unitsTotal,
		Retries:        a.retries,
		TokensOut:      a.tokensOut,
		Streaming:      a.streaming,
		FallbackReason: a.fallbackReason,
	}
}

func buildScope(unit units.ExecutionUnit, doc units.Document, outputs map[string]any, allScope map[string][]any, runID string, allJoinMaxChars int) template.Scope {
	scope := template.Scope{
		Document:        documentScope(doc),
		All:             allScope,
		Bindings:        map[string]any{},
		RunID:           runID,
		AllJoinMaxChars: allJoinMaxChars,
	}
	for k, v := range outputs {
		scope.Bindings[k] = v
	}

	switch unit.Kind {
	case units.KindChunk:
		scope.Chunk = chunkScope(*unit.Chunk)
	case units.KindRow:
		scope.Row = rowScope(*unit.Row)
		scope.RowIndex = unit.Row.RowIndex
	case units.KindImageGroup:
		scope.Bindings["image_group_id"] = unit.ImageGroup.ID
		scope.Bindings["caption"] = unit.ImageGroup.Caption
	}
	return scope
}

func documentScope(doc units.Document) map[string]any {
	m := map[string]any{"id": doc.ID, "source_uri": doc.SourceURI, "text": doc.Text}
	for k, v := range doc.Metadata {
		m[k] = v
	}
	return m
}

func chunkScope(c units.Chunk) map[string]any {
	m := map[string]any{"id": c.ID, "text": c.Text, "tokens_estimate": c.TokensEstimate, "offset": c.Offset}
	for k, v := range c.Metadata {
		m[k] = v
	}
	return m
}

func rowScope(row units.Row) map[string]any {
	m := map[string]any{"row_index": row.RowIndex, "text": row.Text}
	for k, v := range row.ValuesMap() {
		m[k] = v
	}
	return m
}

// passThroughColumns returns a row unit's retained column values in source
// column order: the pass_through and text columns, or every column when no
// pass_through list was configured. Other unit kinds carry none.
func passThroughColumns(unit units.ExecutionUnit) []units.KV {
	if unit.Kind != units.KindRow || unit.Row == nil {
		return nil
	}
	return unit.Row.Values
}

func passThroughMap(kvs []units.KV) map[string]any {
	if len(kvs) == 0 {
		return nil
	}
	m := make(map[string]any, len(kvs))
	for _, kv := range kvs {
		m[kv.Name] = kv.Value
	}
	return m
}

func buildRequest(step Step, renderedPrompt string, unit units.ExecutionUnit) provider.Request {
	parts := []provider.Part{{Type: "text", Text: renderedPrompt}}
	if step.Mode == StepModeImagesGroup && unit.Kind == units.KindImageGroup {
		for _, blob := range unit.ImageGroup.Blobs {
			parts = append(parts, provider.Part{Type: "image_bytes", ImageBytes: blob.Bytes, ImageMime: blob.Mime})
		}
	}
	return provider.Request{
		Model: step.Model,
		Messages: []provider.Message{
			{Role: provider.RoleUser, Content: parts},
		},
		Params: provider.Params{
			Temperature: step.Params.Temperature,
			MaxTokens:   step.Params.MaxTokens,
			Extra:       step.Params.Extra,
		},
	}
}

func buildRunResult(p Pipeline, in RunInput, states []*unitState, stepTelemetry map[string]artefact.StepTelemetry, retrievalLog map[string][]retrieval.LogEntry) *RunResult {
	outputRecords := make([]artefact.OutputRecord, len(in.Units))
	records := make([]serialize.Record, len(in.Units))
	unitsFailed := 0

	for i, unit := range in.Units {
		st := states[i]
		id := unitID(unit)
		passThroughKVs := passThroughColumns(unit)
		passThrough := passThroughMap(passThroughKVs)
		if st.failed {
			unitsFailed++
			outputRecords[i] = artefact.OutputRecord{
				UnitID:      id,
				PassThrough: passThrough,
				StepOutputs: map[string]any{"error": string(st.failKind), "message": st.failMessage},
			}
			continue
		}
		outputRecords[i] = artefact.OutputRecord{UnitID: id, PassThrough: passThrough, StepOutputs: st.outputs}

		var record serialize.Record
		record = append(record, serialize.Field{Key: "unit_id", Value: id})
		for _, kv := range passThroughKVs {
			record = append(record, serialize.Field{Key: kv.Name, Value: kv.Value})
		}
		if p.Outputs.StepID != "" {
			record = append(record, serialize.Field{Key: p.Outputs.StepID, Value: st.outputs[p.Outputs.StepID]})
		}
		records[i] = record
	}

	return &RunResult{
		Records:       records,
		OutputRecords: outputRecords,
		StepTelemetry: stepTelemetry,
		RetrievalLog:  retrievalLog,
		UnitsFailed:   unitsFailed,
		UnitsEmitted:  len(in.Units) - unitsFailed,
	}
}

func unitID(unit units.ExecutionUnit) string {
	switch unit.Kind {
	case units.KindChunk:
		return unit.Chunk.ID
	case units.KindRow:
		return fmt.Sprintf("%s#%d", unit.SourceURI, unit.Row.RowIndex)
	case units.KindImageGroup:
		return unit.ImageGroup.ID
	default:
		return fmt.Sprintf("%s#%d", unit.SourceURI, unit.Index)
	}
}
