// Package connector defines the Source Connector contract and a filesystem
// implementation. Connectors enumerate, open, and refresh Resources; they
// never interpret content.
package connector

import (
	"context"
	"io"

	"github.com/weftrun/weft/internal/resource"
)

type (
	// Connector is a typed source of resources (spec §6.1). Implementations
	// translate selector patterns into listings against a concrete backend
	// (local filesystem, object store, document library).
	Connector interface {
		// List returns an iterator over resources matching selectors. Glob
		// include/exclude semantics are caller-controlled: a selector
		// prefixed with "!" excludes matches.
		List(ctx context.Context, selectors []string) (Iterator, error)

		// Open returns a byte stream for res, scoped for the caller: the
		// returned ReadCloser must be closed on every exit path, including
		// error paths after a partial read.
		Open(ctx context.Context, res resource.Descriptor) (io.ReadCloser, error)

		// Info refreshes res, potentially updating ETagOrHash and
		// SizeBytes if the backend can cheaply recompute them.
		Info(ctx context.Context, res resource.Descriptor) (resource.Descriptor, error)
	}

	// Iterator delivers resources one at a time.
	//
	// Callers must drain the iterator until Next returns io.EOF, then call
	// Close.
	Iterator interface {
		// Next returns the next resource or an error. Implementations
		// return io.EOF once exhausted.
		Next() (resource.Descriptor, error)

		// Close releases any resources associated with the iterator.
		Close() error
	}
)

// sliceIterator adapts a pre-enumerated slice to Iterator. Used by
// connectors whose backend lists eagerly (filesystem walk, a single object
// store List call) rather than paging incrementally.
type sliceIterator struct {
	items []resource.Descriptor
	pos   int
}

func newSliceIterator(items []resource.Descriptor) *sliceIterator {
	return &sliceIterator{items: items}
}

func (it *sliceIterator) Next() (resource.Descriptor, error) {
	if it.pos >= len(it.items) {
		return resource.Descriptor{}, io.EOF
	}
	item := it.items[it.pos]
	it.pos++
	return item, nil
}

func (it *sliceIterator) Close() error { return nil }
