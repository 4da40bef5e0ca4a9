// Package mongo implements sink.Sink over a MongoDB collection, grounded on
// the Mongo-backed store's client-interface-plus-constructor shape: a
// narrow Collection interface the concrete driver satisfies, wrapped by a
// Sink that knows only write_mode semantics, not the driver.
package mongo

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/weftrun/weft/internal/errs"
	"github.com/weftrun/weft/internal/serialize"
	"github.com/weftrun/weft/internal/sink"
)

// Collection is the subset of *mongo.Collection the Sink depends on, kept
// narrow so it can be faked in tests without a live server.
type Collection interface {
	InsertMany(ctx context.Context, documents []any, opts ...options.Lister[options.InsertManyOptions]) (*mongodriver.InsertManyResult, error)
	ReplaceOne(ctx context.Context, filter any, replacement any, opts ...options.Lister[options.ReplaceOptions]) (*mongodriver.UpdateResult, error)
	DeleteMany(ctx context.Context, filter any, opts ...options.Lister[options.DeleteManyOptions]) (*mongodriver.DeleteResult, error)
}

// Options configures a Sink.
type Options struct {
	Collection Collection
}

// Sink implements sink.Sink by upserting/inserting/replacing documents in
// a MongoDB collection.
type Sink struct {
	coll Collection
}

// New constructs a Sink backed by opts.Collection.
func New(opts Options) (*Sink, error) {
	if opts.Collection == nil {
		return nil, errs.New(errs.Config, "mongo sink requires a collection")
	}
	return &Sink{coll: opts.Collection}, nil
}

// Write implements sink.Sink.
func (s *Sink) Write(ctx context.Context, records []serialize.Record, opts sink.WriteOptions) (sink.ExportResult, error) {
	if err := opts.Validate(); err != nil {
		return sink.ExportResult{}, err
	}
	if len(records) == 0 {
		return sink.ExportResult{}, nil
	}

	switch opts.WriteMode {
	case sink.WriteUpsert:
		return s.upsert(ctx, records, opts.KeyFields)
	case sink.WriteOverwrite:
		return s.overwrite(ctx, records)
	default:
		return s.insertMany(ctx, records)
	}
}

// Finalize is a no-op: every Write call is already durable once it
// returns, so there is nothing left to flush.
func (s *Sink) Finalize(ctx context.Context) error { return nil }

func (s *Sink) insertMany(ctx context.Context, records []serialize.Record) (sink.ExportResult, error) {
	docs := make([]any, len(records))
	for i, r := range records {
		docs[i] = toBSON(r)
	}
	if _, err := s.coll.InsertMany(ctx, docs); err != nil {
		return sink.ExportResult{}, errs.Wrap(errs.Export, err, "insert records")
	}
	return sink.ExportResult{RecordsWritten: len(records)}, nil
}

func (s *Sink) upsert(ctx context.Context, records []serialize.Record, keyFields []string) (sink.ExportResult, error) {
	for _, r := range records {
		filter := bson.M{}
		for _, field := range keyFields {
			v, _ := r.Get(field)
			filter[field] = v
		}
		if _, err := s.coll.ReplaceOne(ctx, filter, toBSON(r), options.Replace().SetUpsert(true)); err != nil {
			return sink.ExportResult{}, errs.Wrap(errs.Export, err, "upsert record")
		}
	}
	return sink.ExportResult{RecordsWritten: len(records)}, nil
}

// overwrite atomically replaces the collection's contents per call: every
// incoming record is inserted first so a failure leaves the previous
// contents intact, and only a fully successful insert clears what preceded
// it (spec's "stage -> verify -> swap" applied to a document store rather
// than a file).
func (s *Sink) overwrite(ctx context.Context, records []serialize.Record) (sink.ExportResult, error) {
	docs := make([]any, len(records))
	for i, r := range records {
		docs[i] = toBSON(r)
	}
	staged, err := s.coll.InsertMany(ctx, docs)
	if err != nil {
		return sink.ExportResult{}, errs.Wrap(errs.Export, err, "stage overwrite")
	}
	if _, err := s.coll.DeleteMany(ctx, bson.M{"_id": bson.M{"$nin": staged.InsertedIDs}}); err != nil {
		return sink.ExportResult{}, errs.Wrap(errs.Export, err, "swap overwrite")
	}
	return sink.ExportResult{RecordsWritten: len(records)}, nil
}

func toBSON(r serialize.Record) bson.M {
	doc := bson.M{}
	for _, f := range r {
		doc[f.Key] = f.Value
	}
	return doc
}
