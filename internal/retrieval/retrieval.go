// Package retrieval defines the retrieval pipeline contract (spec §6.5)
// consumed by a step's optional retrieval attachment, plus the attachment
// logic itself (spec §4.6).
package retrieval

import "context"

type (
	// Item is a single ranked retrieval result. Provenance identifies the
	// source the item came from (a document id, chunk id, or
	// pipeline-defined key) so retrieval can be logged without leaking
	// raw content into other artefacts.
	Item struct {
		Text       string
		ImageBytes []byte
		ImageMime  string
		Provenance string
		Score      float64
	}

	// Results is the outcome of a single retrieve call.
	Results struct {
		TextItems  []Item
		ImageItems []Item
	}

	// Pipeline is an external, named retrieval backend (spec §6.5).
	// Implementations may wrap a vector database, a keyword index, or any
	// other ranked-retrieval system.
	Pipeline interface {
		// Retrieve returns up to topKText text items and topKImages
		// image items ranked against query. Called at most once per
		// step per unit.
		Retrieve(ctx context.Context, query string, topKText, topKImages int) (Results, error)
	}

	// Registry resolves a step's named retrieval binding to a concrete
	// Pipeline, populated at process start (spec §9: "Model each as a
	// capability interface plus a registry populated at process start").
	Registry struct {
		pipelines map[string]Pipeline
	}
)

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{pipelines: make(map[string]Pipeline)}
}

// Register binds name to pipeline. Re-registering a name overwrites the
// previous binding.
func (r *Registry) Register(name string, pipeline Pipeline) {
	r.pipelines[name] = pipeline
}

// Lookup returns the Pipeline bound to name, if any.
func (r *Registry) Lookup(name string) (Pipeline, bool) {
	p, ok := r.pipelines[name]
	return p, ok
}
