package pipeline_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftrun/weft/internal/dispatch"
	"github.com/weftrun/weft/internal/errs"
	"github.com/weftrun/weft/internal/jsonenforce"
	"github.com/weftrun/weft/internal/pipeline"
	"github.com/weftrun/weft/internal/provider"
	"github.com/weftrun/weft/internal/units"
)

// rowUnits builds the three-row CSV fixture S1-S3 describe:
// [id,comment] rows [1,"ok"], [2,"bad"], [3,"ok"].
func rowUnits() ([]units.ExecutionUnit, map[string]units.Document) {
	doc := units.Document{ID: "doc-1", SourceURI: "mem://rows.csv"}
	docs := map[string]units.Document{"doc-1": doc}
	texts := []string{"ok", "bad", "ok"}
	unitsOut := make([]units.ExecutionUnit, len(texts))
	for i, text := range texts {
		row := units.Row{
			RowIndex: i,
			Values:   []units.KV{{Name: "id", Value: itoa(i + 1)}, {Name: "comment", Value: text}},
			Text:     text,
		}
		unitsOut[i] = units.ExecutionUnit{
			Kind:      units.KindRow,
			Row:       &row,
			DocID:     doc.ID,
			SourceURI: doc.SourceURI,
			Index:     i,
		}
	}
	return unitsOut, docs
}

func itoa(i int) string {
	digits := "0123456789"
	if i < 10 {
		return string(digits[i])
	}
	return string(digits[i/10]) + string(digits[i%10])
}

// TestScenarioS1RowEchoPreservesOrder mirrors S1: three rows through a text
// step produce ordered outputs with each unit's own echoed text.
func TestScenarioS1RowEchoPreservesOrder(t *testing.T) {
	client := &stubClient{textFor: func(req provider.Request) string {
		return "Echo: " + req.Messages[0].Content[0].Text
	}}
	r, _ := newTestRunner(t, client)
	unitsIn, docs := rowUnits()

	result, err := r.Run(context.Background(), pipeline.Pipeline{
		Steps: []pipeline.Step{{
			ID:             "echo",
			PromptTemplate: "inline: ${row.text}",
			OutputName:     "echo",
		}},
		Concurrency: 3,
		Outputs:     pipeline.OutputsSpec{StepID: "echo"},
	}, pipeline.RunInput{Documents: docs, Units: unitsIn, RunID: "s1"})

	require.NoError(t, err)
	assert.Equal(t, 3, result.UnitsEmitted)
	assert.Equal(t, "Echo: ok", result.OutputRecords[0].StepOutputs["echo"])
	assert.Equal(t, "Echo: bad", result.OutputRecords[1].StepOutputs["echo"])
	assert.Equal(t, "Echo: ok", result.OutputRecords[2].StepOutputs["echo"])
	assert.Equal(t, "1", result.OutputRecords[0].PassThrough["id"])
	assert.Equal(t, "2", result.OutputRecords[1].PassThrough["id"])
	assert.Equal(t, "3", result.OutputRecords[2].PassThrough["id"])
}

// TestScenarioS2JSONOutputZeroRepairs mirrors S2: a step that declares
// output_expects=json and gets valid JSON back on the first try records zero
// repair attempts (verified by the provider seeing exactly one call: a
// repair would issue a second).
func TestScenarioS2JSONOutputZeroRepairs(t *testing.T) {
	client := &stubClient{textFor: func(provider.Request) string { return `{"tag":"x"}` }}
	r, _ := newTestRunner(t, client)
	unitsIn, docs := rowUnits()
	unitsIn = unitsIn[:1]

	schema, err := jsonenforce.CompileSchema(map[string]any{"type": "object", "required": []any{"tag"}})
	require.NoError(t, err)

	result, err := r.Run(context.Background(), pipeline.Pipeline{
		Steps: []pipeline.Step{{
			ID:             "echo",
			PromptTemplate: "inline: ${row.text}",
			OutputName:     "echo",
			OutputExpects:  pipeline.OutputExpectsJSON,
			OutputSchema:   schema,
			ParseRetries:   1,
		}},
		Concurrency: 1,
	}, pipeline.RunInput{Documents: docs, Units: unitsIn, RunID: "s2"})

	require.NoError(t, err)
	assert.Equal(t, 0, result.UnitsFailed)
	assert.Equal(t, map[string]any{"tag": "x"}, result.OutputRecords[0].StepOutputs["echo"])
	assert.Equal(t, 1, client.calls)
}

// TestScenarioS3JSONRepairRecoversOnSecondCall mirrors S3: an invalid first
// completion is repaired by a second regular-mode call, ending in the parsed
// value with two total calls counted for that unit.
func TestScenarioS3JSONRepairRecoversOnSecondCall(t *testing.T) {
	calls := 0
	client := &callCountingClient{fn: func(req provider.Request) (provider.Completion, error) {
		calls++
		if calls == 1 {
			return provider.Completion{Text: "not json"}, nil
		}
		return provider.Completion{Text: `{"tag":"x"}`}, nil
	}}
	r, _ := newTestRunner(t, client)
	unitsIn, docs := rowUnits()
	unitsIn = unitsIn[:1]

	schema, err := jsonenforce.CompileSchema(map[string]any{"type": "object", "required": []any{"tag"}})
	require.NoError(t, err)

	result, err := r.Run(context.Background(), pipeline.Pipeline{
		Steps: []pipeline.Step{{
			ID:             "echo",
			PromptTemplate: "inline: ${row.text}",
			OutputName:     "echo",
			OutputExpects:  pipeline.OutputExpectsJSON,
			OutputSchema:   schema,
			ParseRetries:   1,
		}},
		Concurrency: 1,
	}, pipeline.RunInput{Documents: docs, Units: unitsIn, RunID: "s3"})

	require.NoError(t, err)
	assert.Equal(t, 0, result.UnitsFailed)
	assert.Equal(t, map[string]any{"tag": "x"}, result.OutputRecords[0].StepOutputs["echo"])
	assert.Equal(t, 2, calls)
}

// TestScenarioS4StreamModeUnsupportedAbortsRun mirrors S4: a provider that
// cannot stream, paired with a step forcing infer_mode=stream, fails the
// whole run before any output is produced (without continue_on_error, a
// single unit's failure aborts the rest per the executor's contract, and
// the underlying ProviderError surfaces as the wrapped cause).
func TestScenarioS4StreamModeUnsupportedAbortsRun(t *testing.T) {
	client := &stubClient{textFor: func(provider.Request) string { return "unused" }}
	r, _ := newTestRunner(t, client)
	unitsIn, docs := rowUnits()

	_, err := r.Run(context.Background(), pipeline.Pipeline{
		Steps: []pipeline.Step{{
			ID:             "echo",
			PromptTemplate: "inline: ${row.text}",
			OutputName:     "echo",
			InferMode:      dispatch.ModeStream,
		}},
		Concurrency: 3,
	}, pipeline.RunInput{Documents: docs, Units: unitsIn, RunID: "s4"})

	require.Error(t, err)
	assert.Equal(t, errs.Provider, errs.KindOf(errors.Unwrap(err)))
}

// TestScenarioS5AutoModeFallsBackWithTelemetry mirrors S5: the same
// non-streaming provider under infer_mode=auto completes every unit and
// records the fallback reason in step telemetry.
func TestScenarioS5AutoModeFallsBackWithTelemetry(t *testing.T) {
	client := &stubClient{textFor: func(provider.Request) string { return "ok" }}
	r, _ := newTestRunner(t, client)
	unitsIn, docs := rowUnits()

	result, err := r.Run(context.Background(), pipeline.Pipeline{
		Steps: []pipeline.Step{{
			ID:             "echo",
			PromptTemplate: "inline: ${row.text}",
			OutputName:     "echo",
			InferMode:      dispatch.ModeAuto,
		}},
		Concurrency: 3,
	}, pipeline.RunInput{Documents: docs, Units: unitsIn, RunID: "s5"})

	require.NoError(t, err)
	assert.Equal(t, 3, result.UnitsEmitted)
	tel := result.StepTelemetry["echo"]
	assert.False(t, tel.Streaming)
	assert.Equal(t, "streaming_unsupported", tel.FallbackReason)
}

// TestScenarioS6IdenticalInputsProduceIdenticalChunkIDs mirrors S6: chunking
// the same document text twice with the same hasher yields byte-identical
// chunk ids, the property chunks.jsonl/manifest.json reproducibility rests on.
func TestScenarioS6IdenticalInputsProduceIdenticalChunkIDs(t *testing.T) {
	hasher := newHasher(t)
	doc := units.Document{ID: hasher.DocumentID("mem://doc", "text/plain", []byte("same text")), SourceURI: "mem://doc", Text: "same text"}

	first := units.Chunks(hasher, doc, units.ChunkOptions{Splitter: units.SplitByParagraph, MaxTokens: 200})
	second := units.Chunks(hasher, doc, units.ChunkOptions{Splitter: units.SplitByParagraph, MaxTokens: 200})

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
	}
}

// callCountingClient lets S3 distinguish the first (invalid) call from the
// repair call without caring about rendered prompt text.
type callCountingClient struct {
	fn func(req provider.Request) (provider.Completion, error)
}

func (c *callCountingClient) SupportsStreaming() bool { return false }
func (c *callCountingClient) Complete(ctx context.Context, req provider.Request) (provider.Completion, error) {
	return c.fn(req)
}
func (c *callCountingClient) Stream(ctx context.Context, req provider.Request) (provider.Streamer, error) {
	return nil, provider.ErrStreamingUnsupported
}
