// Package units turns a stream of normalized Documents into the execution
// units a pipeline step dispatches against: text Chunks, table Rows, or
// ImageGroups. It owns the Document/Blob/Chunk/Row data model (spec §3) and
// the splitting/grouping logic that produces it (spec §4.4).
package units

type (
	// Document is a normalized resource: canonical text plus any attached
	// binary Blobs. Created by the iterator; scoped to a single run.
	Document struct {
		// ID is content-derived (namespace = source uri, content =
		// canonical text).
		ID string

		// SourceURI is the originating resource's uri.
		SourceURI string

		// Text is the canonical UTF-8, NFC-normalized, LF-terminated
		// text, when the document has text content.
		Text string

		// Blobs are this document's non-text payloads, in source order.
		Blobs []Blob

		// Metadata carries scalar document-level attributes.
		Metadata map[string]any
	}

	// Blob is a non-text payload: an image or other binary part.
	Blob struct {
		// ID is content-derived, folding in Mime.
		ID string

		// Mime is the blob's content type.
		Mime string

		// Bytes is the raw payload.
		Bytes []byte

		// Metadata carries scalar blob-level attributes.
		Metadata map[string]any
	}

	// Chunk is a text slice of a Document. Order within a document is
	// stable.
	Chunk struct {
		// ID is content-derived from doc_id||offset||text.
		ID string

		// DocID is the owning Document's id.
		DocID string

		// Text is this chunk's slice of the document's canonical text.
		Text string

		// TokensEstimate is a fast whitespace-based approximation, not an
		// exact provider token count.
		TokensEstimate int

		// Offset is the chunk's byte offset within the document's
		// canonical text.
		Offset int

		// Metadata carries scalar chunk-level attributes.
		Metadata map[string]any
	}

	// Row is a single record from a tabular resource.
	Row struct {
		// RowIndex is 0-based and stable, counted after the header row.
		RowIndex int

		// Values preserves source column order.
		Values []KV

		// SourceURI is the originating resource's uri.
		SourceURI string

		// Filename is the base name of the source resource.
		Filename string

		// Text is derived from the configured text column(s).
		Text string

		// ParseError is set when this single row failed to parse and
		// continue_on_error allowed the row stream to proceed.
		ParseError string

		// Raw carries the unparsed row content when ParseError is set.
		Raw string
	}

	// KV is an ordered name/value pair, used to preserve source column
	// order in Row.Values (a Go map would not).
	KV struct {
		Name  string
		Value string
	}

	// ImageGroup is an ordered batch of Blob references bound together
	// for a single multimodal call.
	ImageGroup struct {
		// ID is a stable group id derived from the member blob ids.
		ID string

		// DocID is the owning Document's id.
		DocID string

		// Blobs are this group's member images, in document order.
		Blobs []Blob

		// Caption is optional document-level text attached to the group.
		Caption string
	}

	// ExecutionUnit is a tagged variant of {Chunk, Row, ImageGroup},
	// carrying back-references to its Document and source Resource uri.
	ExecutionUnit struct {
		// Kind discriminates which of Chunk, Row, ImageGroup is set.
		Kind Kind

		Chunk      *Chunk
		Row        *Row
		ImageGroup *ImageGroup

		// DocID is the owning Document's id, when applicable.
		DocID string

		// SourceURI is the originating resource's uri.
		SourceURI string

		// Index is this unit's 0-based position in iteration order.
		// The pipeline runner uses it in the fallback unit id of units
		// that are not chunks, rows or image groups.
		Index int
	}

	// Kind discriminates an ExecutionUnit's payload.
	Kind string
)

const (
	KindChunk      Kind = "chunk"
	KindRow        Kind = "row"
	KindImageGroup Kind = "image_group"
)

// Value looks up name in Values, in source column order.
func (r Row) Value(name string) (string, bool) {
	for _, kv := range r.Values {
		if kv.Name == name {
			return kv.Value, true
		}
	}
	return "", false
}

// ValuesMap copies Values into a map for callers that do not need ordering
// (template interpolation scope construction).
func (r Row) ValuesMap() map[string]string {
	m := make(map[string]string, len(r.Values))
	for _, kv := range r.Values {
		m[kv.Name] = kv.Value
	}
	return m
}
