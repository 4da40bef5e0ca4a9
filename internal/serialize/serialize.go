// Package serialize turns the executor's ordered record buffer into bytes
// ready for an export sink: JSONL by default, CSV when a sink declares a
// tabular schema, or a caller-supplied columnar encoder for anything else.
// Compression is a pass-through transform applied after serialisation, not
// a serialisation format of its own.
//
// Records are ordered field lists, not map[string]any: Go maps have no
// iteration order, and the CSV union-header rule ("first-seen order")
// needs one to be deterministic both across records and within a single
// record's own fields.
package serialize

import (
	"bytes"
	"compress/gzip"
	"encoding/csv"
	"encoding/json"

	"github.com/weftrun/weft/internal/errs"
)

// Field is one named value within a Record.
type Field struct {
	Key   string
	Value any
}

// Record is one unit's output, as an ordered field list.
type Record []Field

// Get returns the value bound to key, if present.
func (r Record) Get(key string) (any, bool) {
	for _, f := range r {
		if f.Key == key {
			return f.Value, true
		}
	}
	return nil, false
}

// Format names a supported serialisation.
type Format string

const (
	// FormatJSONL is the default: one JSON object per line.
	FormatJSONL Format = "jsonl"
	// FormatCSV serialises records as CSV with a union header.
	FormatCSV Format = "csv"
)

// ColumnarEncoder is supplied by the caller for formats the engine itself
// has no opinion on (spec §4.11: "columnar buffer (requires the caller to
// supply a columnar encoder)").
type ColumnarEncoder func(records []Record) ([]byte, error)

// JSONL serialises records as one compact JSON object per line, each
// object's keys written in the record's own field order.
func JSONL(records []Record) ([]byte, error) {
	var buf bytes.Buffer
	for _, r := range records {
		line, err := marshalOrdered(r)
		if err != nil {
			return nil, errs.Wrap(errs.Processing, err, "encode jsonl record")
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// CSV serialises records with a header equal to the union of every
// record's field keys, in first-seen order, and canonically stringified
// cells.
func CSV(records []Record) ([]byte, error) {
	header := unionKeysInFirstSeenOrder(records)

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return nil, errs.Wrap(errs.Processing, err, "write csv header")
	}
	for _, r := range records {
		row := make([]string, len(header))
		for i, key := range header {
			v, _ := r.Get(key)
			row[i] = stringify(v)
		}
		if err := w.Write(row); err != nil {
			return nil, errs.Wrap(errs.Processing, err, "write csv row")
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, errs.Wrap(errs.Processing, err, "flush csv")
	}
	return buf.Bytes(), nil
}

// Columnar delegates to encoder, wrapping any error in the taxonomy.
func Columnar(records []Record, encoder ColumnarEncoder) ([]byte, error) {
	payload, err := encoder(records)
	if err != nil {
		return nil, errs.Wrap(errs.Processing, err, "encode columnar buffer")
	}
	return payload, nil
}

// Gzip compresses payload as a pass-through transform applied after
// serialisation, per spec §4.11.
func Gzip(payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(payload); err != nil {
		return nil, errs.Wrap(errs.Processing, err, "gzip write")
	}
	if err := w.Close(); err != nil {
		return nil, errs.Wrap(errs.Processing, err, "gzip close")
	}
	return buf.Bytes(), nil
}

func unionKeysInFirstSeenOrder(records []Record) []string {
	var keys []string
	seen := make(map[string]bool)
	for _, r := range records {
		for _, f := range r {
			if !seen[f.Key] {
				seen[f.Key] = true
				keys = append(keys, f.Key)
			}
		}
	}
	return keys
}

func marshalOrdered(r Record) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range r {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(f.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		value, err := json.Marshal(f.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case int, int64, float64, bool:
		b, _ := json.Marshal(t)
		return string(b)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
