// Package storage defines the contract between the semantic layer and a
// document store. Any backend offering named collections of schemaless
// documents with conditional (version-checked) updates can implement it;
// package store provides the SQLite implementation.
package storage

import (
	"context"
	"iter"

	"github.com/roach88/semantika/internal/document"
	"github.com/roach88/semantika/internal/query"
)

// InitialVersion is the _version every appended document starts at.
const InitialVersion int64 = 1

// DefaultBatchSize is used by cursors and iterators when FindOptions does
// not specify one.
const DefaultBatchSize = 100

// Storage hands out physical collections by name.
type Storage interface {
	// PhysicalCollection returns the collection called name, creating it if
	// needed. Repeated calls with the same name yield the same logical
	// collection. forPredicates marks collections that hold predicate
	// records.
	PhysicalCollection(ctx context.Context, name string, forPredicates bool) (Collection, error)
}

// Collection is a named set of documents keyed by _id.
//
// Reads that find nothing return a nil document and a nil error. Writes
// report failures as errors: *DuplicateKeyError, *OptimisticLockError or
// a wrapped ErrNotFound.
type Collection interface {
	Name() string

	// CreateID returns a fresh physical identifier.
	CreateID() string

	// Append inserts doc, assigning _id (doc's own _id or id field, or
	// CreateID), _version = InitialVersion and _created.
	Append(ctx context.Context, doc document.Document) (string, error)

	FindByID(ctx context.Context, id string, projection ...string) (document.Document, error)
	FindOne(ctx context.Context, filter query.Filter, projection ...string) (document.Document, error)
	Find(ctx context.Context, filter query.Filter, opts *FindOptions) (Cursor, error)
	FindSome(ctx context.Context, filter query.Filter, opts *FindOptions) ([]document.Document, error)

	// FindSeq lazily yields matching documents, fetching in batches.
	FindSeq(ctx context.Context, filter query.Filter, opts *FindOptions) iter.Seq2[document.Document, error]

	// FindSomeStream yields matching documents encoded per format. Records
	// yields document.Document, Strings yields the JSON text. Entities is
	// interpreted by layers that can materialize entities; a bare
	// collection treats it like Records.
	FindSomeStream(ctx context.Context, filter query.Filter, opts *FindOptions, format StreamFormat) iter.Seq2[any, error]

	Count(ctx context.Context, filter query.Filter) (int64, error)
	Distinct(ctx context.Context, field string, filter query.Filter) ([]any, error)

	// Load reads one page described by opts.
	Load(ctx context.Context, opts *ReadOptions, filter query.Filter) (*ReadResult, error)

	// UpdateDocument applies fields (and raw, if any) to the document only
	// if its stored version equals expectedVersion, then increments the
	// version and sets _lastUpdate.
	UpdateDocument(ctx context.Context, id string, fields document.Document, expectedVersion int64, raw *RawOps) error

	// UpdateDocumentUnsafe applies fields without a version check. It
	// reports whether a document was modified.
	UpdateDocumentUnsafe(ctx context.Context, id string, fields document.Document) (bool, error)

	// FindOneAndModify applies change to the first matching document and
	// returns its state before the change, or nil when nothing matched.
	FindOneAndModify(ctx context.Context, filter query.Filter, change document.Document) (document.Document, error)

	DeleteByID(ctx context.Context, id string) (bool, error)
	DeleteByQuery(ctx context.Context, filter query.Filter) (int64, error)

	// EnsureIndex declares an index. Repeated declarations are no-ops.
	EnsureIndex(ctx context.Context, keys []IndexKey, opts IndexOptions) error

	// Watch delivers change events to fn until fn reports done, fn fails,
	// or ctx is cancelled.
	Watch(ctx context.Context, fn func(Change) (done bool, err error)) error
}

// Cursor iterates over a result set.
type Cursor interface {
	// Next advances to the next document, fetching a new batch if needed.
	Next(ctx context.Context) bool
	// Document returns the current document.
	Document() document.Document
	// Err returns the error that stopped iteration, if any.
	Err() error
	Close() error
}

// IndexKey is one column of an index declaration.
type IndexKey = query.SortKey

// IndexOptions configures EnsureIndex.
type IndexOptions struct {
	// Name overrides the derived index name.
	Name   string
	Unique bool
}

// FindOptions tunes find-family reads.
type FindOptions struct {
	BatchSize  int
	Limit      int
	From       int
	Projection []string
	Sort       []query.SortKey

	// FilterFunc drops documents after they are read.
	FilterFunc func(document.Document) bool

	// AsDTO asks materializing layers to return raw records.
	AsDTO bool
}

// ReadOptions describes one page of a paginated read.
type ReadOptions struct {
	From  int
	Count int

	// EntityOnly asks predicate loaders for the peer entities instead of
	// the predicate records.
	EntityOnly bool

	// QueryName selects a named query from the collection's dictionary;
	// QueryParams are passed to it.
	QueryName   string
	QueryParams document.Document

	FilterFunc func(document.Document) bool
	Sort       []query.SortKey
	Projection []string
}

// ReadResult is one page of documents.
type ReadResult struct {
	Items []document.Document

	// Total is always -1: collections do not count the unfiltered set.
	Total int64

	// TotalFiltered counts every document matching the filter, ignoring
	// From and Count.
	TotalFiltered int64

	Opts *ReadOptions
}

// RawOps are native update operators merged into a conditional update.
type RawOps struct {
	// Inc adds to numeric fields, creating them at 0 when absent.
	Inc map[string]float64
	// Unset removes fields.
	Unset []string
	// Push appends to array fields, creating them when absent.
	Push map[string]any
}

// Empty reports whether raw carries no operations.
func (r *RawOps) Empty() bool {
	return r == nil || (len(r.Inc) == 0 && len(r.Unset) == 0 && len(r.Push) == 0)
}

// StreamFormat selects the element type of FindSomeStream.
type StreamFormat string

const (
	StreamRecords  StreamFormat = "records"
	StreamEntities StreamFormat = "entities"
	StreamStrings  StreamFormat = "strings"
)

// ChangeOp is the kind of a change event.
type ChangeOp string

const (
	ChangeInsert ChangeOp = "insert"
	ChangeUpdate ChangeOp = "update"
	ChangeDelete ChangeOp = "delete"
)

// Change describes one write to a collection. Document is the state after
// the write and is nil for deletes.
type Change struct {
	Op         ChangeOp
	Collection string
	ID         string
	Document   document.Document
}
