package identity_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftrun/weft/internal/errs"
	"github.com/weftrun/weft/internal/identity"
)

func TestNewHasherRejectsUnknownAlgo(t *testing.T) {
	_, err := identity.NewHasher("rot13")
	require.Error(t, err)
	assert.Equal(t, errs.Config, errs.KindOf(err))
}

func TestDocumentIDDeterministic(t *testing.T) {
	h, err := identity.NewHasher(identity.AlgoBlake2b)
	require.NoError(t, err)

	text := identity.CanonicalizeText("hello\r\nworld\r\n")
	id1 := h.DocumentID("file:///a.txt", "text/plain", []byte(text))
	id2 := h.DocumentID("file:///a.txt", "text/plain", []byte(text))
	assert.Equal(t, id1, id2)
	assert.Contains(t, id1, "doc_")
}

func TestDocumentIDChangesWithContent(t *testing.T) {
	h, err := identity.NewHasher(identity.AlgoXXH64)
	require.NoError(t, err)

	a := h.DocumentID("file:///a.txt", "text/plain", []byte("alpha"))
	b := h.DocumentID("file:///a.txt", "text/plain", []byte("beta"))
	assert.NotEqual(t, a, b)
}

func TestChunkIDIncludesOffsetAndLength(t *testing.T) {
	h, err := identity.NewHasher(identity.AlgoBlake2b)
	require.NoError(t, err)

	a := h.ChunkID("doc_1", 0, 5, []byte("hello"))
	b := h.ChunkID("doc_1", 5, 5, []byte("hello"))
	assert.NotEqual(t, a, b, "same text at different offsets must hash differently")
}

func TestCanonicalizePreservesContentWhitespace(t *testing.T) {
	in := "line one   \r\nline two\r\n"
	out := identity.CanonicalizeText(in)
	assert.Equal(t, "line one   \nline two\n", out)
}
