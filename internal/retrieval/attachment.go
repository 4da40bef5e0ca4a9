package retrieval

import (
	"context"
	"strings"

	"github.com/weftrun/weft/internal/errs"
)

// Binding is a step's declared retrieval attachment (spec §4.6).
type Binding struct {
	// PipelineName names the registered Pipeline to invoke.
	PipelineName string
	// Query is the (already-rendered) query text.
	Query string
	TopKText   int
	TopKImages int
	// TextVar is the template variable text results are bound to.
	// Defaults to "rag_context".
	TextVar string
	// ImageVar is the template variable image results are bound to.
	ImageVar string
	// TextCharCap truncates the joined text result. Zero means
	// unbounded.
	TextCharCap int
}

// LogEntry is a single line appended to the per-run retrieval log under
// rag/<pipeline>.jsonl (spec §4.6 step 4, §6.6).
type LogEntry struct {
	StepID       string
	PipelineName string
	Query        string
	Provenances  []string
}

// Attach invokes the retrieval pipeline named by binding, returning the
// rendered text to bind to TextVar, the image items to bind to ImageVar,
// and a log entry to append to the run's retrieval log.
func Attach(ctx context.Context, registry *Registry, stepID string, binding Binding) (string, []Item, LogEntry, error) {
	pipeline, ok := registry.Lookup(binding.PipelineName)
	if !ok {
		return "", nil, LogEntry{}, errs.New(errs.Config, "unknown retrieval pipeline %q", binding.PipelineName)
	}

	results, err := pipeline.Retrieve(ctx, binding.Query, binding.TopKText, binding.TopKImages)
	if err != nil {
		return "", nil, LogEntry{}, errs.Wrap(errs.Connector, err, "retrieval pipeline %q", binding.PipelineName)
	}

	texts := make([]string, len(results.TextItems))
	provenances := make([]string, 0, len(results.TextItems)+len(results.ImageItems))
	for i, item := range results.TextItems {
		texts[i] = item.Text
		provenances = append(provenances, item.Provenance)
	}
	for _, item := range results.ImageItems {
		provenances = append(provenances, item.Provenance)
	}

	joined := strings.Join(texts, "\n")
	if binding.TextCharCap > 0 && len(joined) > binding.TextCharCap {
		joined = joined[:binding.TextCharCap]
	}

	entry := LogEntry{
		StepID:       stepID,
		PipelineName: binding.PipelineName,
		Query:        binding.Query,
		Provenances:  provenances,
	}
	return joined, results.ImageItems, entry, nil
}

// TextVarOrDefault returns b.TextVar, defaulting to "rag_context" per spec
// §4.6.
func (b Binding) TextVarOrDefault() string {
	if b.TextVar == "" {
		return "rag_context"
	}
	return b.TextVar
}

// ImageVarOrDefault returns b.ImageVar, defaulting to "rag_images".
func (b Binding) ImageVarOrDefault() string {
	if b.ImageVar == "" {
		return "rag_images"
	}
	return b.ImageVar
}
