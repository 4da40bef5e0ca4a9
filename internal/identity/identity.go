// Package identity derives deterministic, content-addressed ids for
// documents, chunks, and blobs. Ids are a pure function of normalized
// content (and, where noted, offset/length/mime) so that two independent
// runs over identical inputs produce byte-identical ids.
package identity

import (
	"encoding/binary"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/text/unicode/norm"

	"github.com/weftrun/weft/internal/errs"
)

// Algo identifies a supported content-hash algorithm.
type Algo string

const (
	// AlgoBlake2b is the default hash algorithm: a 64-bit truncation of
	// BLAKE2b-512.
	AlgoBlake2b Algo = "blake2b"
	// AlgoXXH64 is the alternative hash algorithm.
	AlgoXXH64 Algo = "xxh64"
)

// Hasher derives ids using a fixed algorithm and namespace. It is the
// process-wide, set-once-at-startup singleton permitted by the engine's
// concurrency model (spec §9): construct one Hasher from configuration, then
// use it read-only for the remainder of the run.
type Hasher struct {
	algo Algo
}

// NewHasher validates algo and returns a Hasher configured to use it.
// Unrecognised algorithm names fail with a Config error, per spec §4.1.
func NewHasher(algo Algo) (*Hasher, error) {
	switch algo {
	case AlgoBlake2b, AlgoXXH64, "":
		if algo == "" {
			algo = AlgoBlake2b
		}
		return &Hasher{algo: algo}, nil
	default:
		return nil, errs.New(errs.Config, "unrecognised hash algorithm %q", algo)
	}
}

// CanonicalizeText normalizes text per spec §4.1: Unicode NFC, line endings
// collapsed to LF. Trailing whitespace per line is intentionally preserved.
func CanonicalizeText(s string) string {
	s = norm.NFC.String(s)
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return s
}

// DocumentID derives a document id from its source uri, mime, and canonical text.
func (h *Hasher) DocumentID(namespace, mime string, canonicalText []byte) string {
	return h.id("doc", namespace, mime, canonicalText)
}

// BlobID derives a blob id. Blob ids additionally fold in the mime type, per
// spec §4.1, which id already does via the namespace/mime/length/content
// concatenation.
func (h *Hasher) BlobID(namespace, mime string, content []byte) string {
	return h.id("blob", namespace, mime, content)
}

// ChunkID derives a chunk id from the owning document id, byte offset, and
// length, folded into the content hash per spec §4.1 ("Chunk IDs include
// document id, byte offset, and length").
func (h *Hasher) ChunkID(docID string, offset, length int, text []byte) string {
	namespace := docID + "|" + strconv.Itoa(offset) + "|" + strconv.Itoa(length)
	return h.id("chunk", namespace, "text/plain", text)
}

// id computes <prefix>_<hex> over namespace||mime||length||canonical_bytes.
func (h *Hasher) id(prefix, namespace, mime string, content []byte) string {
	var buf strings.Builder
	buf.WriteString(namespace)
	buf.WriteString("|")
	buf.WriteString(mime)
	buf.WriteString("|")
	buf.WriteString(strconv.Itoa(len(content)))
	buf.WriteString("|")
	payload := append([]byte(buf.String()), content...)

	var sum []byte
	switch h.algo {
	case AlgoXXH64:
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], xxhash.Sum64(payload))
		sum = b[:]
	default: // AlgoBlake2b
		full := blake2b.Sum512(payload)
		sum = full[:8]
	}
	return prefix + "_" + hex.EncodeToString(sum)
}
