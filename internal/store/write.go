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

// UpdateDocument applies fields and raw to document id if and only if its
// stored version equals expectedVersion. On success the version is
// incremented and _lastUpdate stamped, atomically.
//
// When expectedVersion is 0 the _version carried in fields is used.
// Returns *storage.OptimisticLockError on a version mismatch and a wrapped
// storage.ErrNotFound when the document does not exist.
func (c *Collection) UpdateDocument(ctx context.Context, id string, fields document.Document, expectedVersion int64, raw *storage.RawOps) error {
	if expectedVersion == 0 {
		expectedVersion = fields.Version()
	}
	set, err := document.NormalizeDocument(fields)
	if err != nil {
		return fmt.Errorf("update %s in %s: %w", id, c.name, err)
	}

	var updated document.Document
	err = c.inTx(ctx, func(tx *sql.Tx) error {
		doc, err := c.lockedRead(ctx, tx, id)
		if err != nil {
			return err
		}
		if doc == nil {
			return fmt.Errorf("update %s in %s: %w", id, c.name, storage.ErrNotFound)
		}
		if actual := doc.Version(); actual != expectedVersion {
			c.store.metrics.conflict(c.name)
			return &storage.OptimisticLockError{Collection: c.name, ID: id, Expected: expectedVersion, Actual: actual}
		}

		applySet(doc, set)
		if err := applyRawOps(doc, raw); err != nil {
			return fmt.Errorf("update %s in %s: %w", id, c.name, err)
		}
		doc[document.FieldLastUpdate] = c.store.now().UnixMilli()

		body, err := encodeBody(doc)
		if err != nil {
			return fmt.Errorf("update %s in %s: %w", id, c.name, err)
		}
		res, err := tx.ExecContext(ctx,
			"UPDATE "+c.table()+" SET doc = ?, version = version + 1 WHERE id = ? AND version = ?",
			body, id, expectedVersion)
		if err != nil {
			return fmt.Errorf("update %s in %s: %w", id, c.name, err)
		}
		if n, _ := res.RowsAffected(); n != 1 {
			return &storage.OptimisticLockError{Collection: c.name, ID: id, Expected: expectedVersion, Actual: doc.Version()}
		}
		doc[document.FieldVersion] = expectedVersion + 1
		updated = doc
		return nil
	})
	if err != nil {
		if storage.IsOptimisticLock(err) {
			c.store.logger.Warn("version conflict", "collection", c.name, "id", id, "expected", expectedVersion)
		}
		return err
	}

	c.store.metrics.op(c.name, "update")
	c.feed.publish(storage.Change{Op: storage.ChangeUpdate, Collection: c.name, ID: id, Document: updated})
	return nil
}

// UpdateDocumentUnsafe overwrites fields of document id without any version
// check and without touching _version or _lastUpdate. It reports whether a
// document was modified.
func (c *Collection) UpdateDocumentUnsafe(ctx context.Context, id string, fields document.Document) (bool, error) {
	set, err := document.NormalizeDocument(fields)
	if err != nil {
		return false, fmt.Errorf("update %s in %s: %w", id, c.name, err)
	}

	var updated document.Document
	err = c.inTx(ctx, func(tx *sql.Tx) error {
		doc, err := c.lockedRead(ctx, tx, id)
		if err != nil || doc == nil {
			return err
		}
		applySet(doc, set)
		if err := c.rewrite(ctx, tx, doc); err != nil {
			return fmt.Errorf("update %s in %s: %w", id, c.name, err)
		}
		updated = doc
		return nil
	})
	if err != nil || updated == nil {
		return false, err
	}

	c.store.metrics.op(c.name, "update")
	c.feed.publish(storage.Change{Op: storage.ChangeUpdate, Collection: c.name, ID: id, Document: updated})
	return true, nil
}

// FindOneAndModify sets change on the first document matching filter (in id
// order) and returns the document as it was before the change. The version
// is not incremented.
func (c *Collection) FindOneAndModify(ctx context.Context, filter query.Filter, change document.Document) (document.Document, error) {
	set, err := document.NormalizeDocument(change)
	if err != nil {
		return nil, fmt.Errorf("find and modify in %s: %w", c.name, err)
	}
	sqlText, params, err := c.store.compiler.Select(c.name, filter, nil, querysql.Page{Limit: 1})
	if err != nil {
		return nil, fmt.Errorf("find and modify in %s: %w", c.name, err)
	}

	var before, after document.Document
	err = c.inTx(ctx, func(tx *sql.Tx) error {
		doc, err := scanDocument(tx.QueryRowContext(ctx, sqlText, params...))
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("find and modify in %s: %w", c.name, err)
		}
		before = doc.Clone()
		applySet(doc, set)
		if err := c.rewrite(ctx, tx, doc); err != nil {
			return fmt.Errorf("find and modify in %s: %w", c.name, err)
		}
		after = doc
		return nil
	})
	if err != nil || before == nil {
		return nil, err
	}

	c.store.metrics.op(c.name, "update")
	c.feed.publish(storage.Change{Op: storage.ChangeUpdate, Collection: c.name, ID: after.ID(), Document: after})
	return before, nil
}

func (c *Collection) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := c.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx on %s: %w", c.name, err)
	}
	defer tx.Rollback() // No-op if committed

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit on %s: %w", c.name, err)
	}
	return nil
}

// lockedRead loads document id inside tx, or nil when absent.
func (c *Collection) lockedRead(ctx context.Context, tx *sql.Tx, id string) (document.Document, error) {
	doc, err := scanDocument(tx.QueryRowContext(ctx,
		"SELECT "+querysql.Columns+" FROM "+c.table()+" WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s in %s: %w", id, c.name, err)
	}
	return doc, nil
}

// rewrite stores doc's body without changing its version.
func (c *Collection) rewrite(ctx context.Context, tx *sql.Tx, doc document.Document) error {
	body, err := encodeBody(doc)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, "UPDATE "+c.table()+" SET doc = ? WHERE id = ?", body, doc.ID())
	return err
}

// applySet merges fields into doc, leaving the column-backed identity and
// version untouched.
func applySet(doc, fields document.Document) {
	for k, v := range fields {
		if k == document.FieldID || k == document.FieldVersion {
			continue
		}
		doc[k] = v
	}
}

func applyRawOps(doc document.Document, raw *storage.RawOps) error {
	if raw.Empty() {
		return nil
	}
	for field, delta := range raw.Inc {
		switch cur := doc[field].(type) {
		case nil:
			doc[field] = numeric(0, delta)
		case int64:
			doc[field] = numeric(cur, delta)
		case float64:
			doc[field] = cur + delta
		default:
			return fmt.Errorf("cannot increment non-numeric field %q (%T)", field, cur)
		}
	}
	for _, field := range raw.Unset {
		delete(doc, field)
	}
	for field, v := range raw.Push {
		elem, err := document.Normalize(v)
		if err != nil {
			return fmt.Errorf("push %q: %w", field, err)
		}
		switch cur := doc[field].(type) {
		case nil:
			doc[field] = []any{elem}
		case []any:
			doc[field] = append(cur, elem)
		default:
			return fmt.Errorf("cannot push to non-array field %q (%T)", field, cur)
		}
	}
	return nil
}

// numeric adds delta to an integer, staying integral when delta is.
func numeric(cur int64, delta float64) any {
	if delta == float64(int64(delta)) {
		return cur + int64(delta)
	}
	return float64(cur) + delta
}
