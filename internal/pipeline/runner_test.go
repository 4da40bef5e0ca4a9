package pipeline_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftrun/weft/internal/dispatch"
	"github.com/weftrun/weft/internal/pipeline"
	"github.com/weftrun/weft/internal/provider"
	"github.com/weftrun/weft/internal/retry"
	"github.com/weftrun/weft/internal/telemetry"
	"github.com/weftrun/weft/internal/units"
)

// stubClient returns textFor(req) for every Complete call and never
// supports streaming, so dispatch always resolves to the regular path. If
// failOn is set and req's rendered text equals it, Complete returns an
// error instead.
type stubClient struct {
	textFor func(req provider.Request) string
	failOn  string
	calls   int
}

func (c *stubClient) SupportsStreaming() bool { return false }

func (c *stubClient) Complete(ctx context.Context, req provider.Request) (provider.Completion, error) {
	c.calls++
	text := req.Messages[0].Content[0].Text
	if c.failOn != "" && text == c.failOn {
		return provider.Completion{}, errors.New("boom")
	}
	return provider.Completion{Text: c.textFor(req)}, nil
}

func (c *stubClient) Stream(ctx context.Context, req provider.Request) (provider.Streamer, error) {
	return nil, provider.ErrStreamingUnsupported
}

func newTestRunner(t *testing.T, client provider.Client) (*pipeline.Runner, *telemetry.Registry) {
	t.Helper()
	reg := telemetry.NewRegistry()
	d := dispatch.New(client, "test", reg, retry.Policy{}, telemetry.NewNoopLogger(), nil)
	return &pipeline.Runner{
		Dispatcher:     d,
		Prompts:        pipeline.NewPromptRegistry(newHasher(t)),
		RuntimeContext: dispatch.NewRuntimeContext(func(string) (string, bool) { return "", false }),
		Logger:         telemetry.NewNoopLogger(),
	}, reg
}

func chunkUnits(texts ...string) ([]units.ExecutionUnit, map[string]units.Document) {
	doc := units.Document{ID: "doc-1", SourceURI: "mem://doc-1"}
	docs := map[string]units.Document{"doc-1": doc}
	unitsOut := make([]units.ExecutionUnit, len(texts))
	for i, text := range texts {
		unitsOut[i] = units.ExecutionUnit{
			Kind:      units.KindChunk,
			Chunk:     &units.Chunk{ID: "chunk-" + text, DocID: doc.ID, Text: text},
			DocID:     doc.ID,
			SourceURI: doc.SourceURI,
			Index:     i,
		}
	}
	return unitsOut, docs
}

func TestRunPreservesPerUnitOutputs(t *testing.T) {
	client := &stubClient{textFor: func(req provider.Request) string {
		return "echo:" + req.Messages[0].Content[0].Text
	}}
	r, _ := newTestRunner(t, client)
	r.Prompts.Register("echo", "v1", "inline: ${chunk.text}")

	unitsIn, docs := chunkUnits("a", "b", "c")
	result, err := r.Run(context.Background(), pipeline.Pipeline{
		Steps: []pipeline.Step{{
			ID:             "s1",
			PromptTemplate: "inline: ${chunk.text}",
			OutputName:     "s1",
		}},
		Concurrency: 3,
	}, pipeline.RunInput{Documents: docs, Units: unitsIn, RunID: "20260731T000000Z"})

	require.NoError(t, err)
	assert.Equal(t, 0, result.UnitsFailed)
	assert.Equal(t, 3, result.UnitsEmitted)
	assert.Equal(t, "echo:a", result.OutputRecords[0].StepOutputs["s1"])
	assert.Equal(t, "echo:b", result.OutputRecords[1].StepOutputs["s1"])
	assert.Equal(t, "echo:c", result.OutputRecords[2].StepOutputs["s1"])
}

func TestRunChainsStepOutputIntoNextStepBinding(t *testing.T) {
	client := &stubClient{textFor: func(req provider.Request) string {
		return "step2 saw: " + req.Messages[0].Content[0].Text
	}}
	r, _ := newTestRunner(t, client)

	unitsIn, docs := chunkUnits("x")
	result, err := r.Run(context.Background(), pipeline.Pipeline{
		Steps: []pipeline.Step{
			{ID: "s1", PromptTemplate: "inline: first(${chunk.text})", OutputName: "s1"},
			{ID: "s2", PromptTemplate: "inline: ${s1}", OutputName: "s2"},
		},
		Concurrency: 1,
	}, pipeline.RunInput{Documents: docs, Units: unitsIn, RunID: "r1"})

	require.NoError(t, err)
	assert.Contains(t, result.OutputRecords[0].StepOutputs["s2"], "first(x)")
}

func TestRunContinueOnErrorMarksFailedUnitsWithoutAbortingOthers(t *testing.T) {
	client := &stubClient{
		textFor: func(req provider.Request) string { return "ok" },
		failOn:  "a",
	}
	r, _ := newTestRunner(t, client)

	unitsIn, docs := chunkUnits("a", "b")
	result, err := r.Run(context.Background(), pipeline.Pipeline{
		Steps: []pipeline.Step{{
			ID:             "s1",
			PromptTemplate: "inline: ${chunk.text}",
			OutputName:     "s1",
		}},
		Concurrency:     2,
		ContinueOnError: true,
	}, pipeline.RunInput{Documents: docs, Units: unitsIn, RunID: "r1"})

	require.NoError(t, err)
	assert.Equal(t, 1, result.UnitsFailed)
	assert.Equal(t, 1, result.UnitsEmitted)
	assert.Equal(t, "ok", result.OutputRecords[1].StepOutputs["s1"])
}

func TestRunUnknownPromptReferenceFailsBeforeDispatch(t *testing.T) {
	client := &stubClient{textFor: func(provider.Request) string { return "unused" }}
	r, _ := newTestRunner(t, client)

	unitsIn, docs := chunkUnits("a")
	_, err := r.Run(context.Background(), pipeline.Pipeline{
		Steps: []pipeline.Step{{ID: "s1", PromptTemplate: "missing#v1", OutputName: "s1"}},
	}, pipeline.RunInput{Documents: docs, Units: unitsIn, RunID: "r1"})

	require.Error(t, err)
}

func TestRunAggregatesStepTelemetry(t *testing.T) {
	client := &stubClient{textFor: func(provider.Request) string { return "ok" }}
	r, _ := newTestRunner(t, client)

	unitsIn, docs := chunkUnits("a", "b", "c")
	result, err := r.Run(context.Background(), pipeline.Pipeline{
		Steps: []pipeline.Step{{ID: "s1", PromptTemplate: "inline: ${chunk.text}", OutputName: "s1"}},
		Concurrency: 3,
	}, pipeline.RunInput{Documents: docs, Units: unitsIn, RunID: "r1"})

	require.NoError(t, err)
	tel, ok := result.StepTelemetry["s1"]
	require.True(t, ok)
	assert.Equal(t, 3, tel.UnitsTotal)
}
