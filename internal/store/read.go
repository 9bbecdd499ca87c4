package store

import (
	"context"
	"fmt"
	"iter"

	"github.com/roach88/semantika/internal/document"
	"github.com/roach88/semantika/internal/query"
	"github.com/roach88/semantika/internal/querysql"
	"github.com/roach88/semantika/internal/storage"
)

// Find returns a cursor over matching documents.
//
// The cursor reads in batches of opts.BatchSize (default 100) with
// LIMIT/OFFSET and holds no connection between batches, so callers may run
// other operations on the store while iterating. Writes made mid-iteration
// can shift later batches.
func (c *Collection) Find(ctx context.Context, filter query.Filter, opts *storage.FindOptions) (storage.Cursor, error) {
	if opts == nil {
		opts = &storage.FindOptions{}
	}
	// Compile once up front so invalid filters fail here, not on Next.
	if _, _, err := c.store.compiler.Select(c.name, filter, opts.Sort, querysql.Page{}); err != nil {
		return nil, fmt.Errorf("find in %s: %w", c.name, err)
	}
	batch := opts.BatchSize
	if batch <= 0 {
		batch = storage.DefaultBatchSize
	}
	return &cursor{
		coll:   c,
		filter: filter,
		opts:   opts,
		batch:  batch,
		offset: opts.From,
	}, nil
}

type cursor struct {
	coll   *Collection
	filter query.Filter
	opts   *storage.FindOptions
	batch  int

	offset   int // next row to fetch
	consumed int // rows fetched so far, before FilterFunc
	buf      []document.Document
	cur      document.Document
	done     bool
	closed   bool
	err      error
}

func (cu *cursor) Next(ctx context.Context) bool {
	for {
		if cu.closed || cu.err != nil {
			return false
		}
		if len(cu.buf) == 0 {
			if cu.done {
				return false
			}
			cu.fill(ctx)
			continue
		}
		doc := cu.buf[0]
		cu.buf[0] = nil
		cu.buf = cu.buf[1:]
		if cu.opts.FilterFunc != nil && !cu.opts.FilterFunc(doc) {
			continue
		}
		cu.cur = project(doc, cu.opts.Projection)
		return true
	}
}

func (cu *cursor) fill(ctx context.Context) {
	size := cu.batch
	if cu.opts.Limit > 0 {
		remaining := cu.opts.Limit - cu.consumed
		if remaining <= 0 {
			cu.done = true
			return
		}
		size = min(size, remaining)
	}
	docs, err := cu.coll.fetch(ctx, cu.filter, cu.opts.Sort, querysql.Page{Limit: size, Offset: cu.offset})
	if err != nil {
		cu.err = err
		return
	}
	cu.offset += len(docs)
	cu.consumed += len(docs)
	if len(docs) < size {
		cu.done = true
	}
	cu.buf = docs
}

func (cu *cursor) Document() document.Document {
	return cu.cur
}

func (cu *cursor) Err() error {
	return cu.err
}

func (cu *cursor) Close() error {
	cu.closed = true
	cu.buf = nil
	return nil
}

// FindSome returns every matching document.
func (c *Collection) FindSome(ctx context.Context, filter query.Filter, opts *storage.FindOptions) ([]document.Document, error) {
	var out []document.Document
	for doc, err := range c.FindSeq(ctx, filter, opts) {
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, nil
}

// FindSeq yields matching documents lazily. Iteration stops at the first
// error, which is yielded with a nil document.
func (c *Collection) FindSeq(ctx context.Context, filter query.Filter, opts *storage.FindOptions) iter.Seq2[document.Document, error] {
	return func(yield func(document.Document, error) bool) {
		cur, err := c.Find(ctx, filter, opts)
		if err != nil {
			yield(nil, err)
			return
		}
		defer cur.Close()
		for cur.Next(ctx) {
			if !yield(cur.Document(), nil) {
				return
			}
		}
		if err := cur.Err(); err != nil {
			yield(nil, err)
		}
	}
}

// FindSomeStream yields matching documents as records or as JSON strings.
// StreamEntities is treated as StreamRecords: materializing entities is the
// caller's concern.
func (c *Collection) FindSomeStream(ctx context.Context, filter query.Filter, opts *storage.FindOptions, format storage.StreamFormat) iter.Seq2[any, error] {
	return func(yield func(any, error) bool) {
		switch format {
		case storage.StreamRecords, storage.StreamEntities, storage.StreamStrings, "":
		default:
			yield(nil, fmt.Errorf("stream format %q not supported", format))
			return
		}
		for doc, err := range c.FindSeq(ctx, filter, opts) {
			if err != nil {
				yield(nil, err)
				return
			}
			var item any = doc
			if format == storage.StreamStrings || format == "" {
				b, err := document.MarshalCanonical(doc)
				if err != nil {
					yield(nil, err)
					return
				}
				item = string(b)
			}
			if !yield(item, nil) {
				return
			}
		}
	}
}

// Load reads one page. The named query in opts, if any, is conjoined with
// filter. TotalFiltered counts all matches; Total is always -1.
func (c *Collection) Load(ctx context.Context, opts *storage.ReadOptions, filter query.Filter) (*storage.ReadResult, error) {
	var find *storage.FindOptions
	if opts != nil {
		named, err := c.store.queries.Resolve(opts.QueryName, opts.QueryParams)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", c.name, err)
		}
		filter = query.All(filter, named)
		find = &storage.FindOptions{
			Limit:      opts.Count,
			From:       opts.From,
			Projection: opts.Projection,
			Sort:       opts.Sort,
			FilterFunc: opts.FilterFunc,
		}
	}

	items, err := c.FindSome(ctx, filter, find)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", c.name, err)
	}
	total, err := c.Count(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", c.name, err)
	}
	return &storage.ReadResult{
		Items:         items,
		Total:         -1,
		TotalFiltered: total,
		Opts:          opts,
	}, nil
}
