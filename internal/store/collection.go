package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/semantika/internal/document"
	"github.com/roach88/semantika/internal/query"
	"github.com/roach88/semantika/internal/querysql"
	"github.com/roach88/semantika/internal/storage"
)

// Collection is one physical collection: a table of versioned documents.
type Collection struct {
	store         *Store
	name          string
	forPredicates bool
	feed          *changeFeed
}

var _ storage.Collection = (*Collection)(nil)

// Name returns the collection (table) name.
func (c *Collection) Name() string {
	return c.name
}

// ForPredicates reports whether the collection was created for predicates.
func (c *Collection) ForPredicates() bool {
	return c.forPredicates
}

// CreateID returns a fresh physical identifier.
func (c *Collection) CreateID() string {
	return c.store.ids.Generate()
}

func (c *Collection) table() string {
	return querysql.QuoteIdent(c.name)
}

// Append inserts doc. Its _id is doc's "id" field, else its "_id" field,
// else a generated id. _version starts at 1 and _created is stamped unless
// doc provides one.
func (c *Collection) Append(ctx context.Context, doc document.Document) (string, error) {
	rec, err := document.NormalizeDocument(doc)
	if err != nil {
		return "", fmt.Errorf("append to %s: %w", c.name, err)
	}
	if rec == nil {
		rec = document.Document{}
	}

	id, _ := rec["id"].(string)
	if id == "" {
		id = rec.ID()
	}
	if id == "" {
		id = c.CreateID()
	}
	if _, ok := rec[document.FieldCreated]; !ok {
		rec[document.FieldCreated] = c.store.now().UnixMilli()
	}

	body, err := encodeBody(rec)
	if err != nil {
		return "", fmt.Errorf("append to %s: %w", c.name, err)
	}

	_, err = c.store.db.ExecContext(ctx,
		"INSERT INTO "+c.table()+" (id, version, doc) VALUES (?, ?, ?)",
		id, storage.InitialVersion, body)
	if err != nil {
		if isUniqueViolation(err) {
			c.store.metrics.duplicate(c.name)
			return "", &storage.DuplicateKeyError{Collection: c.name, Err: err}
		}
		return "", fmt.Errorf("append to %s: %w", c.name, err)
	}
	c.store.metrics.op(c.name, "append")

	rec[document.FieldID] = id
	rec[document.FieldVersion] = storage.InitialVersion
	c.feed.publish(storage.Change{Op: storage.ChangeInsert, Collection: c.name, ID: id, Document: rec})
	return id, nil
}

// FindByID returns the document with the given id, or nil.
func (c *Collection) FindByID(ctx context.Context, id string, projection ...string) (document.Document, error) {
	return c.FindOne(ctx, query.Eq{Field: document.FieldID, Value: id}, projection...)
}

// FindOne returns the first document matching filter, or nil.
func (c *Collection) FindOne(ctx context.Context, filter query.Filter, projection ...string) (document.Document, error) {
	docs, err := c.fetch(ctx, filter, nil, querysql.Page{Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}
	return project(docs[0], projection), nil
}

// Count returns the number of documents matching filter.
func (c *Collection) Count(ctx context.Context, filter query.Filter) (int64, error) {
	sqlText, params, err := c.store.compiler.Count(c.name, filter)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", c.name, err)
	}
	var n int64
	if err := c.store.db.QueryRowContext(ctx, sqlText, params...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", c.name, err)
	}
	return n, nil
}

// Distinct returns the distinct non-null values of field among matching
// documents, in SQLite value order.
func (c *Collection) Distinct(ctx context.Context, field string, filter query.Filter) ([]any, error) {
	sqlText, params, err := c.store.compiler.Distinct(c.name, field, filter)
	if err != nil {
		return nil, fmt.Errorf("distinct %s.%s: %w", c.name, field, err)
	}
	rows, err := c.store.db.QueryContext(ctx, sqlText, params...)
	if err != nil {
		return nil, fmt.Errorf("distinct %s.%s: %w", c.name, field, err)
	}
	defer rows.Close()

	var out []any
	for rows.Next() {
		var v any
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("distinct %s.%s: %w", c.name, field, err)
		}
		if b, ok := v.([]byte); ok {
			v = string(b)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// DeleteByID removes one document and reports whether it existed.
func (c *Collection) DeleteByID(ctx context.Context, id string) (bool, error) {
	n, err := c.DeleteByQuery(ctx, query.Eq{Field: document.FieldID, Value: id})
	return n == 1, err
}

// DeleteByQuery removes every matching document and returns the count.
func (c *Collection) DeleteByQuery(ctx context.Context, filter query.Filter) (int64, error) {
	sqlText, params, err := c.store.compiler.Delete(c.name, filter)
	if err != nil {
		return 0, fmt.Errorf("delete from %s: %w", c.name, err)
	}
	rows, err := c.store.db.QueryContext(ctx, sqlText, params...)
	if err != nil {
		return 0, fmt.Errorf("delete from %s: %w", c.name, err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("delete from %s: %w", c.name, err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("delete from %s: %w", c.name, err)
	}

	c.store.metrics.op(c.name, "delete")
	for _, id := range ids {
		c.feed.publish(storage.Change{Op: storage.ChangeDelete, Collection: c.name, ID: id})
	}
	return int64(len(ids)), nil
}

// EnsureIndex declares an expression index over keys. Declaring the same
// index again is a no-op.
func (c *Collection) EnsureIndex(ctx context.Context, keys []storage.IndexKey, opts storage.IndexOptions) error {
	ddl, err := c.store.compiler.CreateIndex(c.name, opts.Name, keys, opts.Unique)
	if err != nil {
		return err
	}
	if _, err := c.store.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("ensure index on %s: %w", c.name, err)
	}
	return nil
}

// fetch runs one SELECT and decodes every row.
func (c *Collection) fetch(ctx context.Context, filter query.Filter, sort []query.SortKey, page querysql.Page) ([]document.Document, error) {
	sqlText, params, err := c.store.compiler.Select(c.name, filter, sort, page)
	if err != nil {
		return nil, fmt.Errorf("find in %s: %w", c.name, err)
	}
	rows, err := c.store.db.QueryContext(ctx, sqlText, params...)
	if err != nil {
		return nil, fmt.Errorf("find in %s: %w", c.name, err)
	}
	defer rows.Close()

	var docs []document.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("find in %s: %w", c.name, err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("find in %s: %w", c.name, err)
	}
	c.store.metrics.op(c.name, "find")
	return docs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

// scanDocument decodes an (id, version, doc) row into a full record.
func scanDocument(row scanner) (document.Document, error) {
	var (
		id      string
		version int64
		body    string
	)
	if err := row.Scan(&id, &version, &body); err != nil {
		return nil, err
	}
	doc, err := document.Unmarshal([]byte(body))
	if err != nil {
		return nil, err
	}
	doc[document.FieldID] = id
	doc[document.FieldVersion] = version
	return doc, nil
}

// encodeBody serializes a record without its column-backed fields.
func encodeBody(doc document.Document) (string, error) {
	body := doc.Clone()
	delete(body, document.FieldID)
	delete(body, document.FieldVersion)
	b, err := document.MarshalCanonical(body)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func project(doc document.Document, projection []string) document.Document {
	if len(projection) == 0 {
		return doc
	}
	return doc.Project(projection...)
}

// currentVersion reads the stored version of id inside tx.
func currentVersion(ctx context.Context, tx *sql.Tx, table, id string) (int64, bool, error) {
	var v int64
	err := tx.QueryRowContext(ctx, "SELECT version FROM "+table+" WHERE id = ?", id).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}
