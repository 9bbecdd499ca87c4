package semantic

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/roach88/semantika/internal/document"
	"github.com/roach88/semantika/internal/query"
	"github.com/roach88/semantika/internal/storage"
)

// defaultPredicateCollection is the suffix of the package-wide predicate
// collection: <package>_<defaultPredicateCollection>.
const defaultPredicateCollection = "_Predicates"

// Predicate record fields.
const (
	fieldPredicateName = "predicateName"
	fieldSourceID      = "sourceId"
	fieldSourceType    = "sourceType"
	fieldTargetID      = "targetId"
	fieldTargetType    = "targetType"
	fieldPayload       = "payload"
	fieldTimestamp     = "timestamp"
	fieldKeys          = "keys"
)

// IsReservedPredicateField reports whether name is already taken on a
// predicate record declared with keys, and so cannot be a self key.
func IsReservedPredicateField(name string, keys PredicateKeys) bool {
	switch name {
	case fieldPredicateName, fieldSourceID, fieldSourceType, fieldTargetID, fieldTargetType,
		fieldPayload, fieldTimestamp, fieldKeys,
		document.FieldID, document.FieldVersion, document.FieldCreated, document.FieldLastUpdate:
		return true
	}
	return slices.ContainsFunc(keys.Source, func(k string) bool { return name == "_source_"+k }) ||
		slices.ContainsFunc(keys.Target, func(k string) bool { return name == "_target_"+k })
}

// CollectionManager opens each logical collection of a package once and
// caches the wrapper. Concurrent first requests for one name share a
// single creation; requests for other names never wait on it.
type CollectionManager struct {
	pkg *Package

	mu    sync.Mutex
	cache map[string]any
	group singleflight.Group
}

func newCollectionManager(p *Package) *CollectionManager {
	return &CollectionManager{pkg: p, cache: make(map[string]any)}
}

// cached returns the collection cached under name, building it with build
// on first use.
func cached[T any](ctx context.Context, m *CollectionManager, name string, build func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	m.mu.Lock()
	c, ok := m.cache[name]
	m.mu.Unlock()
	if !ok {
		ch := m.group.DoChan(name, func() (any, error) {
			m.mu.Lock()
			c, ok := m.cache[name]
			m.mu.Unlock()
			if ok {
				return c, nil
			}
			// Other callers may be waiting on this creation, so it must
			// not fail because the first caller gave up.
			built, err := build(context.WithoutCancel(ctx))
			if err != nil {
				return nil, err
			}
			m.mu.Lock()
			m.cache[name] = built
			m.mu.Unlock()
			return built, nil
		})
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case res := <-ch:
			if res.Err != nil {
				return zero, res.Err
			}
			c = res.Val
		}
	}

	typed, ok := c.(T)
	if !ok {
		return zero, logged(m.pkg.logger, &Error{
			Code:    ErrCodeCollectionConflict,
			Message: fmt.Sprintf("collection %s is already open as %T", name, c),
			Name:    name,
		})
	}
	return typed, nil
}

// EntityCollectionName returns the collection name for an entity type.
func (m *CollectionManager) EntityCollectionName(dcr *EntityDcr) string {
	name := dcr.collection
	if name == "" {
		name = dcr.name
	}
	return document.ComposeID(m.pkg.name, name)
}

// PredicateCollectionName returns the collection name for a predicate
// type. A nil descriptor selects the package-wide default.
func (m *CollectionManager) PredicateCollectionName(dcr *PredicateDcr) string {
	if dcr != nil && dcr.collection != "" {
		return dcr.collection
	}
	return document.ComposeID(m.pkg.name, defaultPredicateCollection)
}

// EntityCollection returns the collection of dcr's entities. The
// descriptor's initializer runs when the collection is first opened.
func (m *CollectionManager) EntityCollection(ctx context.Context, dcr *EntityDcr) (*EntityCollection, error) {
	name := m.EntityCollectionName(dcr)
	return cached(ctx, m, name, func(ctx context.Context) (*EntityCollection, error) {
		phys, err := m.pkg.storage.PhysicalCollection(ctx, name, false)
		if err != nil {
			return nil, fmt.Errorf("open entity collection %s: %w", name, err)
		}
		ec := &EntityCollection{pkg: m.pkg, dcr: dcr, coll: phys}
		if dcr.initializer != nil {
			if err := dcr.initializer(ctx, ec); err != nil {
				return nil, fmt.Errorf("initialize entity collection %s: %w", name, err)
			}
		}
		m.pkg.logger.Debug("opened entity collection", "collection", name, "type", dcr.name)
		return ec, nil
	})
}

// PredicateCollection returns the named predicate collection, declaring
// its indexes when it is first opened.
func (m *CollectionManager) PredicateCollection(ctx context.Context, name string) (*PredicateCollection, error) {
	return cached(ctx, m, name, func(ctx context.Context) (*PredicateCollection, error) {
		phys, err := m.pkg.storage.PhysicalCollection(ctx, name, true)
		if err != nil {
			return nil, fmt.Errorf("open predicate collection %s: %w", name, err)
		}
		pc := &PredicateCollection{Collection: phys, packageName: m.pkg.name}
		if err := pc.ensureIndexes(ctx, m.pkg.uniquePredicates); err != nil {
			return nil, err
		}
		m.pkg.logger.Debug("opened predicate collection", "collection", name)
		return pc, nil
	})
}

// BasicCollection returns a plain collection with no id scheme or
// materialization. init, if given, runs when it is first opened.
func (m *CollectionManager) BasicCollection(ctx context.Context, name string, init func(ctx context.Context, c storage.Collection) error) (storage.Collection, error) {
	return cached(ctx, m, name, func(ctx context.Context) (storage.Collection, error) {
		phys, err := m.pkg.storage.PhysicalCollection(ctx, name, false)
		if err != nil {
			return nil, fmt.Errorf("open collection %s: %w", name, err)
		}
		if init != nil {
			if err := init(ctx, phys); err != nil {
				return nil, fmt.Errorf("initialize collection %s: %w", name, err)
			}
		}
		return phys, nil
	})
}

// PredicateCollection stores predicate records. Ids are
// <package>_<physicalId>.
type PredicateCollection struct {
	storage.Collection
	packageName string
}

// CreateID returns a fresh predicate id.
func (c *PredicateCollection) CreateID() string {
	return document.ComposeID(c.packageName, c.Collection.CreateID())
}

// Append inserts a predicate record, assigning an id when it has none.
func (c *PredicateCollection) Append(ctx context.Context, doc document.Document) (string, error) {
	rec := doc.Clone()
	if rec == nil {
		rec = document.Document{}
	}
	if rec.ID() == "" {
		if id, _ := rec["id"].(string); id != "" {
			rec[document.FieldID] = id
		} else {
			rec[document.FieldID] = c.CreateID()
		}
	}
	delete(rec, "id")
	return c.Collection.Append(ctx, rec)
}

func (c *PredicateCollection) ensureIndexes(ctx context.Context, unique bool) error {
	asc := func(fields ...string) []storage.IndexKey {
		keys := make([]storage.IndexKey, len(fields))
		for i, f := range fields {
			keys[i] = storage.IndexKey{Field: f}
		}
		return keys
	}
	indexes := []struct {
		keys   []storage.IndexKey
		unique bool
	}{
		{asc(fieldPredicateName, fieldSourceID, fieldTargetType), false},
		{asc(fieldPredicateName, fieldTargetID, fieldSourceType), false},
		{asc(fieldSourceID, fieldKeys), false},
		{asc(fieldTargetID, fieldKeys), false},
		{asc(fieldSourceID, fieldTargetID, fieldPredicateName), unique},
	}
	for _, idx := range indexes {
		if err := c.EnsureIndex(ctx, idx.keys, storage.IndexOptions{Unique: idx.unique}); err != nil {
			return fmt.Errorf("index predicate collection %s: %w", c.Name(), err)
		}
	}
	return nil
}

// EntityCollection stores the entities of one type. Every read
// materializes records into entities; Records gives raw access.
type EntityCollection struct {
	pkg  *Package
	dcr  *EntityDcr
	coll storage.Collection
}

// EntityPage is one page of entities.
type EntityPage struct {
	Items         []Entity
	Total         int64
	TotalFiltered int64
	Opts          *storage.ReadOptions
}

func (c *EntityCollection) Name() string {
	return c.coll.Name()
}

// Descriptor returns the entity type stored in the collection.
func (c *EntityCollection) Descriptor() *EntityDcr {
	return c.dcr
}

// Records returns the underlying collection, whose reads return raw
// records.
func (c *EntityCollection) Records() storage.Collection {
	return c.coll
}

// CreateID returns a fresh entity id: <package>_<type>_<physicalId>.
func (c *EntityCollection) CreateID() string {
	return document.ComposeID(c.pkg.name, c.dcr.name, c.coll.CreateID())
}

// Append inserts doc, assigning an entity id when it carries none.
func (c *EntityCollection) Append(ctx context.Context, doc document.Document) (string, error) {
	rec := doc.Clone()
	if rec == nil {
		rec = document.Document{}
	}
	if rec.ID() == "" {
		if id, _ := rec["id"].(string); id != "" {
			rec[document.FieldID] = id
		} else {
			rec[document.FieldID] = c.CreateID()
		}
	}
	delete(rec, "id")
	return c.coll.Append(ctx, rec)
}

func (c *EntityCollection) materialize(rec document.Document, projection []string) (Entity, error) {
	if rec == nil {
		return nil, nil
	}
	e, _, err := c.pkg.makeEntity(c.dcr, rec.ID(), rec, projection)
	return e, err
}

// FindByID returns the entity with the given id, or nil.
func (c *EntityCollection) FindByID(ctx context.Context, id string, projection ...string) (Entity, error) {
	rec, err := c.coll.FindByID(ctx, id, projection...)
	if err != nil {
		return nil, err
	}
	return c.materialize(rec, projection)
}

// FindOne returns the first matching entity, or nil.
func (c *EntityCollection) FindOne(ctx context.Context, filter query.Filter, projection ...string) (Entity, error) {
	rec, err := c.coll.FindOne(ctx, filter, projection...)
	if err != nil {
		return nil, err
	}
	return c.materialize(rec, projection)
}

// FindSome returns every matching entity.
func (c *EntityCollection) FindSome(ctx context.Context, filter query.Filter, opts *storage.FindOptions) ([]Entity, error) {
	recs, err := c.coll.FindSome(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	return c.materializeAll(recs, projectionOf(opts))
}

// FindSeq lazily yields matching entities.
func (c *EntityCollection) FindSeq(ctx context.Context, filter query.Filter, opts *storage.FindOptions) iter.Seq2[Entity, error] {
	projection := projectionOf(opts)
	return func(yield func(Entity, error) bool) {
		for rec, err := range c.coll.FindSeq(ctx, filter, opts) {
			if err != nil {
				yield(nil, err)
				return
			}
			e, err := c.materialize(rec, projection)
			if !yield(e, err) || err != nil {
				return
			}
		}
	}
}

// FindSomeStream yields matches in format. StreamEntities yields Entity
// values unless opts asks for DTOs, in which case records are yielded.
func (c *EntityCollection) FindSomeStream(ctx context.Context, filter query.Filter, opts *storage.FindOptions, format storage.StreamFormat) iter.Seq2[any, error] {
	if format != storage.StreamEntities || (opts != nil && opts.AsDTO) {
		return c.coll.FindSomeStream(ctx, filter, opts, format)
	}
	return func(yield func(any, error) bool) {
		for e, err := range c.FindSeq(ctx, filter, opts) {
			if !yield(e, err) || err != nil {
				return
			}
		}
	}
}

// Load reads one page of entities.
func (c *EntityCollection) Load(ctx context.Context, opts *storage.ReadOptions, filter query.Filter) (*EntityPage, error) {
	res, err := c.coll.Load(ctx, opts, filter)
	if err != nil {
		return nil, err
	}
	var projection []string
	if opts != nil {
		projection = opts.Projection
	}
	items, err := c.materializeAll(res.Items, projection)
	if err != nil {
		return nil, err
	}
	return &EntityPage{Items: items, Total: res.Total, TotalFiltered: res.TotalFiltered, Opts: res.Opts}, nil
}

func (c *EntityCollection) Count(ctx context.Context, filter query.Filter) (int64, error) {
	return c.coll.Count(ctx, filter)
}

func (c *EntityCollection) Distinct(ctx context.Context, field string, filter query.Filter) ([]any, error) {
	return c.coll.Distinct(ctx, field, filter)
}

func (c *EntityCollection) DeleteByID(ctx context.Context, id string) (bool, error) {
	return c.coll.DeleteByID(ctx, id)
}

func (c *EntityCollection) DeleteByQuery(ctx context.Context, filter query.Filter) (int64, error) {
	return c.coll.DeleteByQuery(ctx, filter)
}

func (c *EntityCollection) EnsureIndex(ctx context.Context, keys []storage.IndexKey, opts storage.IndexOptions) error {
	return c.coll.EnsureIndex(ctx, keys, opts)
}

func (c *EntityCollection) UpdateDocument(ctx context.Context, id string, fields document.Document, expectedVersion int64, raw *storage.RawOps) error {
	return c.coll.UpdateDocument(ctx, id, fields, expectedVersion, raw)
}

func (c *EntityCollection) Watch(ctx context.Context, fn func(storage.Change) (bool, error)) error {
	return c.coll.Watch(ctx, fn)
}

func (c *EntityCollection) materializeAll(recs []document.Document, projection []string) ([]Entity, error) {
	out := make([]Entity, 0, len(recs))
	for _, rec := range recs {
		e, err := c.materialize(rec, projection)
		if err != nil {
			return nil, err
		}
		if e != nil {
			out = append(out, e)
		}
	}
	return out, nil
}

func projectionOf(opts *storage.FindOptions) []string {
	if opts == nil {
		return nil
	}
	return opts.Projection
}
