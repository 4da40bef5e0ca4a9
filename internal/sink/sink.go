// Package sink defines the export sink contract (spec §6.4) and the
// write_mode semantics shared by every concrete sink: append, overwrite
// (atomic stage -> verify -> swap), and upsert (requires key_fields).
package sink

import (
	"context"

	"github.com/weftrun/weft/internal/errs"
	"github.com/weftrun/weft/internal/serialize"
)

// WriteMode selects how Write reconciles records with whatever the sink
// already holds.
type WriteMode string

const (
	// WriteAppend adds records to whatever the sink already holds.
	WriteAppend WriteMode = "append"
	// WriteOverwrite atomically replaces the sink's entire contents.
	WriteOverwrite WriteMode = "overwrite"
	// WriteUpsert inserts or replaces records matched by KeyFields.
	WriteUpsert WriteMode = "upsert"
)

// WriteOptions parametrises a single Write call.
type WriteOptions struct {
	Schema    string
	WriteMode WriteMode
	KeyFields []string
}

// Validate enforces the one cross-field invariant the contract names:
// upsert requires key_fields.
func (o WriteOptions) Validate() error {
	if o.WriteMode == WriteUpsert && len(o.KeyFields) == 0 {
		return errs.New(errs.Config, "upsert write mode requires key_fields")
	}
	return nil
}

// ExportResult reports the outcome of a single Write call.
type ExportResult struct {
	RecordsWritten int
	Location       string
}

// Sink accepts serialized records and persists them to an external store.
type Sink interface {
	// Write persists records under opts, returning how many were written
	// and where.
	Write(ctx context.Context, records []serialize.Record, opts WriteOptions) (ExportResult, error)
	// Finalize flushes any buffered state and releases resources. Called
	// exactly once at the end of a run.
	Finalize(ctx context.Context) error
}
