package serialize_test

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftrun/weft/internal/serialize"
)

func TestJSONLPreservesFieldOrderPerLine(t *testing.T) {
	records := []serialize.Record{
		{{Key: "b", Value: 1}, {Key: "a", Value: 2}},
	}
	out, err := serialize.JSONL(records)
	require.NoError(t, err)
	assert.Equal(t, `{"b":1,"a":2}`+"\n", string(out))
}

func TestJSONLRoundTripsThroughJSONUnmarshal(t *testing.T) {
	records := []serialize.Record{
		{{Key: "name", Value: "x"}, {Key: "count", Value: 3}},
	}
	out, err := serialize.JSONL(records)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(out, &decoded))
	assert.Equal(t, "x", decoded["name"])
}

func TestCSVHeaderIsUnionInFirstSeenOrder(t *testing.T) {
	records := []serialize.Record{
		{{Key: "id", Value: "1"}, {Key: "name", Value: "alice"}},
		{{Key: "name", Value: "bob"}, {Key: "age", Value: 30}},
	}
	out, err := serialize.CSV(records)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimRight(string(out), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "id,name,age", lines[0])
	assert.Equal(t, "1,alice,", lines[1])
	assert.Equal(t, ",bob,30", lines[2])
}

func TestCSVMissingFieldRendersEmptyCell(t *testing.T) {
	records := []serialize.Record{
		{{Key: "id", Value: "1"}},
		{{Key: "id", Value: "2"}, {Key: "extra", Value: "x"}},
	}
	out, err := serialize.CSV(records)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(out), "\n"), "\n")
	assert.Equal(t, "1,", lines[1])
}

func TestColumnarDelegatesToEncoder(t *testing.T) {
	called := false
	encoder := func(records []serialize.Record) ([]byte, error) {
		called = true
		return []byte("columnar-bytes"), nil
	}
	out, err := serialize.Columnar([]serialize.Record{{{Key: "a", Value: 1}}}, encoder)
	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, "columnar-bytes", string(out))
}

func TestGzipRoundTrips(t *testing.T) {
	payload := []byte(`{"a":1}` + "\n")
	compressed, err := serialize.Gzip(payload)
	require.NoError(t, err)

	r, err := gzip.NewReader(bytes.NewReader(compressed))
	require.NoError(t, err)
	decompressed, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, payload, decompressed)
}
