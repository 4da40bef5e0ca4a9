package units_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftrun/weft/internal/identity"
	"github.com/weftrun/weft/internal/units"
)

func TestChunksNoneEmitsOneChunk(t *testing.T) {
	h, err := identity.NewHasher(identity.AlgoBlake2b)
	require.NoError(t, err)

	doc := units.Document{ID: "doc_1", Text: "alpha beta gamma"}
	chunks := units.Chunks(h, doc, units.ChunkOptions{Splitter: units.SplitNone})
	require.Len(t, chunks, 1)
	assert.Equal(t, "alpha beta gamma", chunks[0].Text)
	assert.Equal(t, 0, chunks[0].Offset)
}

func TestChunksByParagraphRespectsMaxTokens(t *testing.T) {
	h, err := identity.NewHasher(identity.AlgoBlake2b)
	require.NoError(t, err)

	doc := units.Document{ID: "doc_1", Text: "one two three\n\nfour five six\n\nseven eight nine"}
	chunks := units.Chunks(h, doc, units.ChunkOptions{Splitter: units.SplitByParagraph, MaxTokens: 3})
	require.Len(t, chunks, 3)
	for _, c := range chunks {
		assert.LessOrEqual(t, c.TokensEstimate, 3)
	}
}

func TestChunksDeterministicIDs(t *testing.T) {
	h, err := identity.NewHasher(identity.AlgoBlake2b)
	require.NoError(t, err)
	doc := units.Document{ID: "doc_1", Text: "same content"}

	a := units.Chunks(h, doc, units.ChunkOptions{Splitter: units.SplitNone})
	b := units.Chunks(h, doc, units.ChunkOptions{Splitter: units.SplitNone})
	require.Len(t, a, 1)
	require.Len(t, b, 1)
	assert.Equal(t, a[0].ID, b[0].ID)
}

func TestChunksEmptyTextYieldsNoChunks(t *testing.T) {
	h, err := identity.NewHasher(identity.AlgoBlake2b)
	require.NoError(t, err)
	doc := units.Document{ID: "doc_1", Text: ""}
	assert.Empty(t, units.Chunks(h, doc, units.ChunkOptions{Splitter: units.SplitBySentence}))
}
