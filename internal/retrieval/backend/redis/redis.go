// Package redis implements retrieval.Pipeline over a Redis-backed text
// index, using github.com/redis/go-redis/v9 (the client the teacher wires
// for Pulse stream TTL management in registry/service.go). Items are
// stored as JSON documents in a hash keyed by provenance id, plus one
// sorted set per term whose members are provenance ids scored by that
// term's frequency in the document, so
// Retrieve can rank matches without an external vector store.
package redis

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/weftrun/weft/internal/errs"
	"github.com/weftrun/weft/internal/retrieval"
)

// Backend is a retrieval.Pipeline backed by a Redis keyspace scoped under
// Prefix.
type Backend struct {
	rdb    *redis.Client
	prefix string
}

// New constructs a Backend. prefix namespaces every key this backend
// touches, so multiple named pipelines can share one Redis instance.
func New(rdb *redis.Client, prefix string) *Backend {
	return &Backend{rdb: rdb, prefix: prefix}
}

// Document is a single indexed item.
type Document struct {
	Provenance string
	Text       string
	ImageBytes []byte
	ImageMime  string
}

// Index stores docs for later retrieval, replacing any existing entries
// under the same provenance ids. Terms that occur only in an earlier
// version of a document's text keep their entries for that id.
func (b *Backend) Index(ctx context.Context, docs []Document) error {
	pipe := b.rdb.Pipeline()
	for _, d := range docs {
		payload, err := json.Marshal(d)
		if err != nil {
			return errs.Wrap(errs.Connector, err, "marshal retrieval document %s", d.Provenance)
		}
		pipe.HSet(ctx, b.docsKey(), d.Provenance, payload)
		for term, freq := range termFrequencies(d.Text) {
			pipe.ZAdd(ctx, b.termKey(term), redis.Z{Score: float64(freq), Member: d.Provenance})
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return errs.Wrap(errs.Connector, err, "index retrieval documents")
	}
	return nil
}

// Retrieve implements retrieval.Pipeline: it scores documents by summed
// term-frequency across the query's terms and returns the top ranked
// items, splitting text-only documents from those carrying image bytes.
func (b *Backend) Retrieve(ctx context.Context, query string, topKText, topKImages int) (retrieval.Results, error) {
	scores := make(map[string]float64)
	for term := range termFrequencies(query) {
		entries, err := b.rdb.ZRevRangeWithScores(ctx, b.termKey(term), 0, int64(topKText+topKImages+10)).Result()
		if err != nil {
			return retrieval.Results{}, errs.Wrap(errs.Connector, err, "query term %q", term)
		}
		for _, e := range entries {
			id, ok := e.Member.(string)
			if !ok {
				continue
			}
			scores[id] += e.Score
		}
	}
	if len(scores) == 0 {
		return retrieval.Results{}, nil
	}

	ranked := rankByScore(scores)

	var results retrieval.Results
	for _, id := range ranked {
		if len(results.TextItems) >= topKText && len(results.ImageItems) >= topKImages {
			break
		}
		raw, err := b.rdb.HGet(ctx, b.docsKey(), id).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return retrieval.Results{}, errs.Wrap(errs.Connector, err, "load document %s", id)
		}
		var doc Document
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			continue
		}
		item := retrieval.Item{Text: doc.Text, Provenance: doc.Provenance, Score: scores[id], ImageBytes: doc.ImageBytes, ImageMime: doc.ImageMime}
		if len(doc.ImageBytes) > 0 {
			if len(results.ImageItems) < topKImages {
				results.ImageItems = append(results.ImageItems, item)
			}
			continue
		}
		if len(results.TextItems) < topKText {
			results.TextItems = append(results.TextItems, item)
		}
	}
	return results, nil
}

func (b *Backend) docsKey() string            { return b.prefix + ":docs" }
func (b *Backend) termKey(term string) string { return b.prefix + ":term:" + term }

func termFrequencies(text string) map[string]int {
	freq := make(map[string]int)
	for _, term := range strings.Fields(strings.ToLower(text)) {
		freq[term]++
	}
	return freq
}

// rankByScore returns ids ordered by descending score, breaking ties by id
// for determinism.
func rankByScore(scores map[string]float64) []string {
	ids := make([]string, 0, len(scores))
	for id := range scores {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if scores[ids[i]] != scores[ids[j]] {
			return scores[ids[i]] > scores[ids[j]]
		}
		return ids[i] < ids[j]
	})
	return ids
}
