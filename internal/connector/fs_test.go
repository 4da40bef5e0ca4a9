package connector_test

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftrun/weft/internal/connector"
	"github.com/weftrun/weft/internal/errs"
	"github.com/weftrun/weft/internal/resource"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestFSConnectorListMatchesIncludeAndExclude(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.csv", "x")
	writeFile(t, root, "b.csv", "y")
	writeFile(t, root, "notes.md", "z")

	c := connector.NewFSConnector(root)
	it, err := c.List(context.Background(), []string{"*.csv", "!b.csv"})
	require.NoError(t, err)
	defer it.Close()

	var uris []string
	for {
		res, err := it.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		uris = append(uris, res.URI)
	}
	require.Len(t, uris, 1)
	assert.Contains(t, uris[0], "a.csv")
}

func TestFSConnectorOpenMissingFileReturnsNotFound(t *testing.T) {
	root := t.TempDir()
	c := connector.NewFSConnector(root)
	_, err := c.Open(context.Background(), resource.Descriptor{URI: "file://" + filepath.Join(root, "missing.txt")})
	require.Error(t, err)
	assert.Equal(t, errs.Connector, errs.KindOf(err))
}

func TestFSConnectorInfoRefreshesETag(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.txt", "hello")
	c := connector.NewFSConnector(root)

	it, err := c.List(context.Background(), nil)
	require.NoError(t, err)
	res, err := it.Next()
	require.NoError(t, err)
	_ = it.Close()

	refreshed, err := c.Info(context.Background(), res)
	require.NoError(t, err)
	assert.NotEmpty(t, refreshed.ETagOrHash)
	assert.Equal(t, int64(5), refreshed.SizeBytes)
}
