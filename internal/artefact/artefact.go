// Package artefact writes a run's deterministic output tree: per-document
// and per-unit JSONL, the aggregate RunRecord and Manifest, and an optional
// retrieval log. Every file is written through a write-temp-then-rename so
// a crash mid-run never leaves a half-written artefact at its final path,
// and two runs over identical inputs produce byte-identical docs.jsonl,
// chunks.jsonl, and manifest.json.
package artefact

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/weftrun/weft/internal/errs"
)

// RunID generates a run directory name in the YYYYMMDDTHHMMSSZ[-<random>]
// format (spec §6.6). A run_id is only unique, never content-addressed, so
// callers must pass in `now` (time.Now is off-limits to deterministic
// tests) and `random`, a short suffix to disambiguate two runs started in
// the same second.
func RunID(now time.Time, random string) string {
	stamp := now.UTC().Format("20060102T150405Z")
	if random == "" {
		return stamp
	}
	return stamp + "-" + random
}

// NewRandomSuffix returns a short random suffix suitable for RunID,
// following the teacher's preference for google/uuid over hand-rolled
// random-string generation.
func NewRandomSuffix() string {
	return uuid.NewString()[:8]
}

// PromptUsage records a single prompt's identity for the RunRecord's
// prompts_used list.
type PromptUsage struct {
	ID          string `yaml:"id"`
	Version     string `yaml:"version"`
	ContentHash string `yaml:"content_hash"`
}

// StepTelemetry is one step's aggregated counters across all of its units.
type StepTelemetry struct {
	UnitsTotal     int    `yaml:"units_total"`
	UnitsEmitted   int    `yaml:"units_emitted"`
	UnitsFailed    int    `yaml:"units_failed"`
	Retries        int    `yaml:"retries"`
	TokensOut      int    `yaml:"tokens_out"`
	FallbackReason string `yaml:"fallback_reason,omitempty"`
	Streaming      bool   `yaml:"streaming"`
}

// Metrics is the RunRecord's top-level aggregate block.
type Metrics struct {
	UnitsTotal   int `yaml:"units_total"`
	UnitsEmitted int `yaml:"units_emitted"`
	UnitsFailed  int `yaml:"units_failed"`
}

// RunRecord is the audit artefact written once at run end (spec §3,
// "RunRecord: audit artefact per run").
type RunRecord struct {
	RunID         string                   `yaml:"run_id"`
	Status        string                   `yaml:"status"`
	StartedAt     time.Time                `yaml:"started_at"`
	FinishedAt    time.Time                `yaml:"finished_at"`
	ConfigHash    string                   `yaml:"config_hash"`
	PromptsUsed   []PromptUsage            `yaml:"prompts_used"`
	Metrics       Metrics                  `yaml:"metrics"`
	StepTelemetry map[string]StepTelemetry `yaml:"step_telemetry"`
	ArtefactPaths []string                 `yaml:"artefact_paths"`
}

const (
	// StatusCompleted is the terminal status when every unit reached EMITTED.
	StatusCompleted = "completed"
	// StatusCompletedWithErrors is the terminal status when
	// continue_on_error allowed the run to finish despite some failures.
	StatusCompletedWithErrors = "completed_with_errors"
	// StatusCancelled is the terminal status for an externally cancelled run.
	StatusCancelled = "cancelled"
	// StatusFailed is the terminal status when the run halted on its
	// first error because continue_on_error was not set.
	StatusFailed = "failed"
)

// Manifest is the authoritative mapping of document ids to their derived
// chunk/blob ids for a run (spec §3).
type Manifest struct {
	Documents map[string]DocumentEntry `json:"documents"`
	RowCounts map[string]int           `json:"row_counts,omitempty"`
}

// DocumentEntry is one document's contribution to the Manifest.
type DocumentEntry struct {
	ChunkIDs []string `json:"chunk_ids,omitempty"`
	BlobIDs  []string `json:"blob_ids,omitempty"`
}

// NewManifest returns an empty, ready-to-populate Manifest.
func NewManifest() *Manifest {
	return &Manifest{Documents: make(map[string]DocumentEntry), RowCounts: make(map[string]int)}
}

// AddChunk records chunkID as derived from docID.
func (m *Manifest) AddChunk(docID, chunkID string) {
	entry := m.Documents[docID]
	entry.ChunkIDs = append(entry.ChunkIDs, chunkID)
	m.Documents[docID] = entry
}

// AddBlob records blobID as derived from docID.
func (m *Manifest) AddBlob(docID, blobID string) {
	entry := m.Documents[docID]
	entry.BlobIDs = append(entry.BlobIDs, blobID)
	m.Documents[docID] = entry
}

// SetRowCount records the number of table rows produced from sourceURI.
func (m *Manifest) SetRowCount(sourceURI string, count int) {
	m.RowCounts[sourceURI] = count
}

// OutputRecord is one line of outputs.jsonl: a unit's per-step outputs,
// plus any pass_through columns echoed from its source row (spec §3 "row
// pass_through", §8 scenario S1).
type OutputRecord struct {
	UnitID      string         `json:"unit_id"`
	PassThrough map[string]any `json:"-"`
	StepOutputs map[string]any `json:"step_outputs"`
}

// MarshalJSON flattens PassThrough alongside unit_id and step_outputs so
// each outputs.jsonl line carries its pass_through columns at top level,
// e.g. {"id": "1", "step_outputs": {...}, "unit_id": "..."}.
func (r OutputRecord) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(r.PassThrough)+2)
	for k, v := range r.PassThrough {
		m[k] = v
	}
	m["unit_id"] = r.UnitID
	m["step_outputs"] = r.StepOutputs
	return json.Marshal(m)
}

// Writer writes a single run's artefact tree under root/<run_id>.
type Writer struct {
	root  string
	runID string
}

// NewWriter returns a Writer rooted at filepath.Join(artefactsDir, runID).
// The directory is not created until the first write.
func NewWriter(artefactsDir, runID string) *Writer {
	return &Writer{root: artefactsDir, runID: runID}
}

// RunDir returns the run's artefact directory.
func (w *Writer) RunDir() string {
	return filepath.Join(w.root, w.runID)
}

// WriteDocs writes one JSON line per document to docs.jsonl.
func (w *Writer) WriteDocs(docs []any) (string, error) {
	return w.writeJSONL("docs.jsonl", docs)
}

// WriteChunks writes one JSON line per chunk to chunks.jsonl.
func (w *Writer) WriteChunks(chunks []any) (string, error) {
	return w.writeJSONL("chunks.jsonl", chunks)
}

// WriteRows writes one JSON line per row to rows.jsonl.
func (w *Writer) WriteRows(rows []any) (string, error) {
	return w.writeJSONL("rows.jsonl", rows)
}

// WriteOutputs writes one JSON line per unit's output record to
// outputs.jsonl, in unit order.
func (w *Writer) WriteOutputs(records []OutputRecord) (string, error) {
	items := make([]any, len(records))
	for i, r := range records {
		items[i] = r
	}
	return w.writeJSONL("outputs.jsonl", items)
}

// WriteRetrievalLog writes one JSON line per retrieval call to
// rag/<pipeline>.jsonl, replacing any earlier file at that path.
func (w *Writer) WriteRetrievalLog(pipeline string, entries []any) (string, error) {
	return w.writeJSONL(filepath.Join("rag", pipeline+".jsonl"), entries)
}

// WriteManifest writes manifest.json.
func (w *Writer) WriteManifest(m *Manifest) (string, error) {
	payload, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "", errs.Wrap(errs.Processing, err, "marshal manifest")
	}
	return w.writeAtomic("manifest.json", payload)
}

// WriteRunRecord writes run.yaml.
func (w *Writer) WriteRunRecord(r *RunRecord) (string, error) {
	payload, err := yaml.Marshal(r)
	if err != nil {
		return "", errs.Wrap(errs.Processing, err, "marshal run record")
	}
	return w.writeAtomic("run.yaml", payload)
}

func (w *Writer) writeJSONL(relPath string, items []any) (string, error) {
	fullPath := filepath.Join(w.RunDir(), relPath)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return "", errs.Wrap(errs.Processing, err, "create artefact directory for %s", relPath)
	}

	tmp, err := os.CreateTemp(filepath.Dir(fullPath), ".tmp-*")
	if err != nil {
		return "", errs.Wrap(errs.Processing, err, "create temp file for %s", relPath)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	bw := bufio.NewWriter(tmp)
	enc := json.NewEncoder(bw)
	for _, item := range items {
		if err := enc.Encode(item); err != nil {
			tmp.Close()
			return "", errs.Wrap(errs.Processing, err, "encode line for %s", relPath)
		}
	}
	if err := bw.Flush(); err != nil {
		tmp.Close()
		return "", errs.Wrap(errs.Processing, err, "flush %s", relPath)
	}
	if err := tmp.Close(); err != nil {
		return "", errs.Wrap(errs.Processing, err, "close temp file for %s", relPath)
	}
	if err := os.Rename(tmpName, fullPath); err != nil {
		return "", errs.Wrap(errs.Processing, err, "rename into place %s", relPath)
	}
	return fullPath, nil
}

func (w *Writer) writeAtomic(relPath string, payload []byte) (string, error) {
	fullPath := filepath.Join(w.RunDir(), relPath)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return "", errs.Wrap(errs.Processing, err, "create artefact directory for %s", relPath)
	}

	tmp, err := os.CreateTemp(filepath.Dir(fullPath), ".tmp-*")
	if err != nil {
		return "", errs.Wrap(errs.Processing, err, "create temp file for %s", relPath)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		return "", errs.Wrap(errs.Processing, err, "write %s", relPath)
	}
	if err := tmp.Close(); err != nil {
		return "", errs.Wrap(errs.Processing, err, "close temp file for %s", relPath)
	}
	if err := os.Rename(tmpName, fullPath); err != nil {
		return "", errs.Wrap(errs.Processing, err, "rename into place %s", relPath)
	}
	return fullPath, nil
}

// ValidateContinueOnErrorStatus derives the RunRecord status implied by
// unitsFailed and continueOnError, matching invariant 10: exactly one
// failing unit under continue_on_error still yields every other unit
// EMITTED and status = "completed_with_errors".
func ValidateContinueOnErrorStatus(unitsFailed int, continueOnError bool) string {
	if unitsFailed == 0 {
		return StatusCompleted
	}
	if continueOnError {
		return StatusCompletedWithErrors
	}
	return StatusFailed
}
