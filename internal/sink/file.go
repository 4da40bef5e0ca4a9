package sink

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/weftrun/weft/internal/errs"
	"github.com/weftrun/weft/internal/serialize"
)

// FileSink writes records to a single file on a local filesystem, encoding
// them as JSONL or CSV depending on Format. Overwrite is staged through a
// temp file in the destination directory, verified by a successful close,
// then swapped into place with os.Rename, matching the atomic stage ->
// verify -> swap contract (spec §6.4).
type FileSink struct {
	Path   string
	Format serialize.Format

	upserted map[string]serialize.Record
	order    []string
}

// NewFileSink constructs a FileSink writing to path in the given format.
func NewFileSink(path string, format serialize.Format) *FileSink {
	return &FileSink{Path: path, Format: format}
}

// Write implements Sink.
func (s *FileSink) Write(ctx context.Context, records []serialize.Record, opts WriteOptions) (ExportResult, error) {
	if err := opts.Validate(); err != nil {
		return ExportResult{}, err
	}

	switch opts.WriteMode {
	case WriteUpsert:
		return s.upsert(records, opts.KeyFields)
	case WriteOverwrite:
		return s.overwrite(records)
	default:
		return s.append(records)
	}
}

// Finalize flushes any pending upserts, since WriteUpsert buffers in memory
// until the sink is finalized to give later upserts a chance to replace
// earlier ones by key before anything touches disk.
func (s *FileSink) Finalize(ctx context.Context) error {
	if s.upserted == nil {
		return nil
	}
	records := make([]serialize.Record, 0, len(s.order))
	for _, key := range s.order {
		records = append(records, s.upserted[key])
	}
	_, err := s.overwrite(records)
	return err
}

func (s *FileSink) upsert(records []serialize.Record, keyFields []string) (ExportResult, error) {
	if s.upserted == nil {
		s.upserted = make(map[string]serialize.Record)
	}
	for _, r := range records {
		key := upsertKey(r, keyFields)
		if _, exists := s.upserted[key]; !exists {
			s.order = append(s.order, key)
		}
		s.upserted[key] = r
	}
	return ExportResult{RecordsWritten: len(records), Location: s.Path}, nil
}

func (s *FileSink) overwrite(records []serialize.Record) (ExportResult, error) {
	payload, err := s.encode(records)
	if err != nil {
		return ExportResult{}, err
	}

	dir := filepath.Dir(s.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return ExportResult{}, errs.Wrap(errs.Export, err, "create sink directory")
	}
	tmp, err := os.CreateTemp(dir, ".tmp-sink-*")
	if err != nil {
		return ExportResult{}, errs.Wrap(errs.Export, err, "stage overwrite")
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		return ExportResult{}, errs.Wrap(errs.Export, err, "write staged overwrite")
	}
	if err := tmp.Close(); err != nil {
		return ExportResult{}, errs.Wrap(errs.Export, err, "verify staged overwrite")
	}
	if err := os.Rename(tmpName, s.Path); err != nil {
		return ExportResult{}, errs.Wrap(errs.Export, err, "swap overwrite into place")
	}
	return ExportResult{RecordsWritten: len(records), Location: s.Path}, nil
}

func (s *FileSink) append(records []serialize.Record) (ExportResult, error) {
	payload, err := s.encode(records)
	if err != nil {
		return ExportResult{}, err
	}
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o755); err != nil {
		return ExportResult{}, errs.Wrap(errs.Export, err, "create sink directory")
	}
	f, err := os.OpenFile(s.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return ExportResult{}, errs.Wrap(errs.Export, err, "open sink for append")
	}
	defer f.Close()
	if _, err := f.Write(payload); err != nil {
		return ExportResult{}, errs.Wrap(errs.Export, err, "append to sink")
	}
	return ExportResult{RecordsWritten: len(records), Location: s.Path}, nil
}

func (s *FileSink) encode(records []serialize.Record) ([]byte, error) {
	if s.Format == serialize.FormatCSV {
		return serialize.CSV(records)
	}
	return serialize.JSONL(records)
}

func upsertKey(r serialize.Record, keyFields []string) string {
	key := ""
	for i, field := range keyFields {
		if i > 0 {
			key += "\x1f"
		}
		v, _ := r.Get(field)
		key += stringifyKey(v)
	}
	return key
}

func stringifyKey(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}
