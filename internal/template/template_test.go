package template_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftrun/weft/internal/template"
)

func TestRenderResolvesRowPath(t *testing.T) {
	scope := template.Scope{Row: map[string]any{"text": "ok"}}
	out, err := template.Render("Echo: ${row.text}", scope)
	require.NoError(t, err)
	assert.Equal(t, "Echo: ok", out)
}

func TestRenderMissingPathIsError(t *testing.T) {
	scope := template.Scope{Row: map[string]any{}}
	_, err := template.Render("${row.missing}", scope)
	assert.Error(t, err)
}

func TestRenderDefaultSuppressesMissingPathError(t *testing.T) {
	scope := template.Scope{Row: map[string]any{}}
	out, err := template.Render(`${row.missing | "n/a"}`, scope)
	require.NoError(t, err)
	assert.Equal(t, "n/a", out)
}

func TestRenderJoinFlattensAllScope(t *testing.T) {
	scope := template.Scope{All: map[string][]any{"echo": {"a", "b", "c"}}}
	out, err := template.Render(`${join(all.echo, ", ")}`, scope)
	require.NoError(t, err)
	assert.Equal(t, "a, b, c", out)
}

func TestRenderJoinRespectsCharCap(t *testing.T) {
	scope := template.Scope{All: map[string][]any{"echo": {"aaaaa", "bbbbb"}}, AllJoinMaxChars: 6}
	out, err := template.Render(`${join(all.echo, ",")}`, scope)
	require.NoError(t, err)
	assert.Len(t, out, 6)
}

func TestRenderUnknownCallIsConfigError(t *testing.T) {
	scope := template.Scope{}
	_, err := template.Render("${upper(row.text)}", scope)
	assert.Error(t, err)
}

func TestIsInlineStripsPrefix(t *testing.T) {
	text, ok := template.IsInline("inline: Echo: ${row.text}")
	require.True(t, ok)
	assert.Equal(t, "Echo: ${row.text}", text)

	_, ok = template.IsInline("prompt_id#v1")
	assert.False(t, ok)
}

func TestRenderStringifiesMapAsCompactJSON(t *testing.T) {
	scope := template.Scope{Bindings: map[string]any{"meta": map[string]any{"a": 1, "b": 2}}}
	out, err := template.Render("${meta}", scope)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1,"b":2}`, out)
}
