package retrieval_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftrun/weft/internal/retrieval"
)

type stubPipeline struct {
	results retrieval.Results
	err     error
	query   string
}

func (s *stubPipeline) Retrieve(ctx context.Context, query string, topKText, topKImages int) (retrieval.Results, error) {
	s.query = query
	return s.results, s.err
}

func TestRegistryRegisterAndLookup(t *testing.T) {
	registry := retrieval.NewRegistry()
	pipeline := &stubPipeline{}
	registry.Register("docs", pipeline)

	got, ok := registry.Lookup("docs")
	assert.True(t, ok)
	assert.Same(t, pipeline, got)

	_, ok = registry.Lookup("unknown")
	assert.False(t, ok)
}

func TestRegistryReRegisterOverwrites(t *testing.T) {
	registry := retrieval.NewRegistry()
	first := &stubPipeline{}
	second := &stubPipeline{}
	registry.Register("docs", first)
	registry.Register("docs", second)

	got, ok := registry.Lookup("docs")
	assert.True(t, ok)
	assert.Same(t, second, got)
}

func TestAttachHappyPath(t *testing.T) {
	pipeline := &stubPipeline{results: retrieval.Results{
		TextItems: []retrieval.Item{
			{Text: "first", Provenance: "doc-1"},
			{Text: "second", Provenance: "doc-2"},
		},
		ImageItems: []retrieval.Item{
			{ImageBytes: []byte{1}, ImageMime: "image/png", Provenance: "img-1"},
		},
	}}
	registry := retrieval.NewRegistry()
	registry.Register("docs", pipeline)

	text, images, entry, err := retrieval.Attach(context.Background(), registry, "step-1", retrieval.Binding{
		PipelineName: "docs",
		Query:        "what is x",
		TopKText:     2,
		TopKImages:   1,
	})

	require.NoError(t, err)
	assert.Equal(t, "first\nsecond", text)
	assert.Len(t, images, 1)
	assert.Equal(t, "what is x", pipeline.query)
	assert.Equal(t, "step-1", entry.StepID)
	assert.Equal(t, "docs", entry.PipelineName)
	assert.ElementsMatch(t, []string{"doc-1", "doc-2", "img-1"}, entry.Provenances)
}

func TestAttachUnknownPipelineIsConfigError(t *testing.T) {
	registry := retrieval.NewRegistry()

	_, _, _, err := retrieval.Attach(context.Background(), registry, "step-1", retrieval.Binding{
		PipelineName: "missing",
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")
}

func TestAttachTruncatesJoinedTextToCharCap(t *testing.T) {
	pipeline := &stubPipeline{results: retrieval.Results{
		TextItems: []retrieval.Item{
			{Text: "0123456789", Provenance: "doc-1"},
		},
	}}
	registry := retrieval.NewRegistry()
	registry.Register("docs", pipeline)

	text, _, _, err := retrieval.Attach(context.Background(), registry, "step-1", retrieval.Binding{
		PipelineName: "docs",
		TextCharCap:  4,
	})

	require.NoError(t, err)
	assert.Equal(t, "0123", text)
}

func TestBindingDefaultVarNames(t *testing.T) {
	var b retrieval.Binding
	assert.Equal(t, "rag_context", b.TextVarOrDefault())
	assert.Equal(t, "rag_images", b.ImageVarOrDefault())

	b.TextVar = "custom_text"
	b.ImageVar = "custom_images"
	assert.Equal(t, "custom_text", b.TextVarOrDefault())
	assert.Equal(t, "custom_images", b.ImageVarOrDefault())
}
