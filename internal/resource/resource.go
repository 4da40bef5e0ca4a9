// Package resource defines the Resource descriptor: the uniform handle a
// Source Connector returns for everything it can see, before any content is
// read. Units and connectors depend on this package; it depends on nothing
// else in the engine.
package resource

import "time"

type (
	// Descriptor identifies a single addressable item exposed by a source
	// connector: a file, an object-store key, a database row range, or any
	// other unit of input the engine can open and read.
	Descriptor struct {
		// URI locates the resource within its connector's namespace (for
		// example "file:///data/a.csv" or "s3://bucket/key").
		URI string

		// Mime is the resource's declared or sniffed content type.
		Mime string

		// SizeBytes is the resource's size, when known. -1 when the
		// connector cannot determine size without reading the content.
		SizeBytes int64

		// ETagOrHash is an opaque, connector-supplied change token (an HTTP
		// ETag, an object version id, or a content hash). Two descriptors
		// with equal URI and ETagOrHash are assumed to carry equal content.
		ETagOrHash string

		// ModifiedAt is the resource's last-modified time, when known.
		ModifiedAt time.Time
	}
)

// Unknown is the SizeBytes sentinel for connectors that cannot cheaply
// determine size ahead of reading.
const Unknown = -1

// Changed reports whether next represents different content than d, using
// ETagOrHash when both sides provide one and falling back to ModifiedAt and
// SizeBytes otherwise.
func (d Descriptor) Changed(next Descriptor) bool {
	if d.ETagOrHash != "" && next.ETagOrHash != "" {
		return d.ETagOrHash != next.ETagOrHash
	}
	if !d.ModifiedAt.IsZero() && !next.ModifiedAt.IsZero() {
		return !d.ModifiedAt.Equal(next.ModifiedAt) || d.SizeBytes != next.SizeBytes
	}
	return d.SizeBytes != next.SizeBytes
}
