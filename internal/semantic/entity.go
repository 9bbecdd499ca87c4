package semantic

import (
	"context"
	"fmt"
	"log/slog"
	"maps"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/semantika/internal/document"
	"github.com/roach88/semantika/internal/storage"
)

// DTO fields added by FullDto.
const (
	DtoID         = "id"
	DtoEntityType = "_entityType"
)

// Projection selects what Populate fetches: a stored Field or the
// predicates of a Relation.
type Projection interface {
	projection()
}

// Field projects one stored field.
type Field string

// Relation projects the predicates of one type attached to the entity.
// They are kept under the predicate name and read with Relations.
type Relation struct {
	Predicate string
	Incoming  bool
	// Projection lists the peer fields to load with each predicate.
	Projection []string
}

func (Field) projection()    {}
func (Relation) projection() {}

// Fields projects the named stored fields.
func Fields(names ...string) []Projection {
	out := make([]Projection, len(names))
	for i, n := range names {
		out[i] = Field(n)
	}
	return out
}

// Entity is a node of the graph.
//
// Concrete entity types embed *EntityBase, which implements every method;
// the unexported method keeps implementations inside this package.
type Entity interface {
	ID() string
	TypeName() string
	Descriptor() *EntityDcr
	PackageName() string
	SemanticPackage() (*Package, error)
	Version() int64

	// Get returns a field already held in memory, without I/O.
	Get(name string) (any, bool)
	GetField(ctx context.Context, name string) (any, error)
	GetFields(ctx context.Context, names ...string) (document.Document, error)

	Populate(ctx context.Context, items ...Projection) (bool, error)
	PopulateAll(ctx context.Context) (bool, error)
	Refresh(ctx context.Context) (bool, error)
	Equals(other Entity) bool

	Update(ctx context.Context, changes document.Document, opts ...WriteOption) error
	Erase(ctx context.Context) (*EraseResult, error)

	SetParent(ctx context.Context, parent Entity) error
	GetParent(ctx context.Context) (Entity, error)
	UnsetParent(ctx context.Context) error
	Ancestors(ctx context.Context) ([]Entity, error)
	GetFieldRecursive(ctx context.Context, field string, accumulate bool) (any, error)

	FullDto(ctx context.Context) (document.Document, error)
	Traverse(ctx context.Context, inDepth, outDepth int) (document.Document, error)

	IncomingPreds(ctx context.Context, predicate string, opts FindPredicatesOptions) ([]*Predicate, error)
	OutgoingPreds(ctx context.Context, predicate string, opts FindPredicatesOptions) ([]*Predicate, error)
	IncomingPredsPaging(ctx context.Context, predicate string, opts FindPredicatesOptions, page *storage.ReadOptions) (*PredicateResult, error)
	OutgoingPredsPaging(ctx context.Context, predicate string, opts FindPredicatesOptions, page *storage.ReadOptions) (*PredicateResult, error)
	Relations(predicate string) []*Predicate

	base() *EntityBase
}

// EraseResult reports an erased entity.
type EraseResult struct {
	EntityID string `json:"entityId"`
}

// EntityBase holds the state shared by all entity types. An entity is not
// safe for concurrent use.
type EntityBase struct {
	id          string
	packageName string
	dcr         *EntityDcr
	self        Entity

	version int64
	fields  document.Document
	// fetched marks fields whose stored state is known, including fields
	// known to be absent.
	fetched   map[string]bool
	relations map[string][]*Predicate
	parent    Entity
}

func newEntityBase(packageName string, dcr *EntityDcr, id string) *EntityBase {
	return &EntityBase{
		id:          id,
		packageName: packageName,
		dcr:         dcr,
		fields:      make(document.Document),
		fetched:     make(map[string]bool),
		relations:   make(map[string][]*Predicate),
	}
}

// GenericEntity is the entity type used when no Go type is bound.
type GenericEntity struct {
	*EntityBase
}

// NewGenericEntity is the default Factory.
func NewGenericEntity(base *EntityBase) Entity {
	return &GenericEntity{EntityBase: base}
}

func (b *EntityBase) base() *EntityBase {
	return b
}

func (b *EntityBase) ID() string {
	return b.id
}

func (b *EntityBase) TypeName() string {
	return b.dcr.name
}

func (b *EntityBase) Descriptor() *EntityDcr {
	return b.dcr
}

func (b *EntityBase) PackageName() string {
	return b.packageName
}

func (b *EntityBase) SemanticPackage() (*Package, error) {
	return lookupPackage(b.packageName)
}

// Version is the last stored version seen, or 0 before any fetch.
func (b *EntityBase) Version() int64 {
	return b.version
}

func (b *EntityBase) Get(name string) (any, bool) {
	v, ok := b.fields[name]
	return v, ok
}

// Equals reports whether other is the same stored entity.
func (b *EntityBase) Equals(other Entity) bool {
	return other != nil && other.ID() == b.id
}

// assign merges a stored record. An empty projection means the record is
// complete, so every template field becomes known.
func (b *EntityBase) assign(rec document.Document, projection []string) {
	if len(projection) == 0 {
		b.fields = make(document.Document, len(rec))
		b.fetched = make(map[string]bool)
		for _, f := range b.dcr.template.Fields() {
			b.fetched[f] = true
		}
		for _, f := range document.StandardFields {
			b.fetched[f] = true
		}
	} else {
		for _, f := range projection {
			delete(b.fields, f)
			b.fetched[f] = true
		}
	}
	for k, v := range rec {
		if k == "id" {
			continue
		}
		b.fields[k] = v
		b.fetched[k] = true
	}
	if v, ok := document.AsInt64(rec[document.FieldVersion]); ok {
		b.version = v
	}
}

func (b *EntityBase) invalidate(names ...string) {
	for _, n := range names {
		delete(b.fields, n)
		delete(b.fetched, n)
	}
}

func (b *EntityBase) notFound() error {
	return fmt.Errorf("entity %s: %w", b.id, storage.ErrNotFound)
}

// GetField returns one field, fetching it if needed.
func (b *EntityBase) GetField(ctx context.Context, name string) (any, error) {
	fields, err := b.GetFields(ctx, name)
	if err != nil {
		return nil, err
	}
	return fields[name], nil
}

// GetFields returns the named fields, fetching those not yet known in one
// read. Absent fields map to nil. Fails with a wrapped storage.ErrNotFound
// when the entity no longer exists.
func (b *EntityBase) GetFields(ctx context.Context, names ...string) (document.Document, error) {
	var missing []string
	for _, n := range names {
		if _, ok := b.dcr.template[n]; !ok && !document.IsStandardField(n) {
			b.logger().Warn("reading a field not within the template", "field", n, "type", b.dcr.name)
		}
		if !b.fetched[n] {
			missing = append(missing, n)
		}
	}
	if len(missing) > 0 {
		found, err := b.Populate(ctx, Fields(missing...)...)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, b.notFound()
		}
	}
	out := make(document.Document, len(names))
	for _, n := range names {
		out[n] = b.fields[n]
	}
	return out, nil
}

// Populate fetches the projected fields (all stored fields when no Field
// is given) and the projected relations. It reports false when the entity
// no longer exists.
func (b *EntityBase) Populate(ctx context.Context, items ...Projection) (bool, error) {
	p, err := b.SemanticPackage()
	if err != nil {
		return false, err
	}
	var (
		fields    []string
		relations []Relation
	)
	for _, item := range items {
		switch v := item.(type) {
		case Field:
			fields = append(fields, string(v))
		case Relation:
			relations = append(relations, v)
		}
	}

	coll, err := p.collections.EntityCollection(ctx, b.dcr)
	if err != nil {
		return false, err
	}
	rec, err := coll.Records().FindByID(ctx, b.id, fields...)
	if err != nil {
		return false, fmt.Errorf("populate %s: %w", b.id, err)
	}
	if rec == nil {
		return false, nil
	}
	b.assign(rec, fields)

	for _, r := range relations {
		preds, err := p.FindPredicates(ctx, r.Incoming, r.Predicate, b.id, FindPredicatesOptions{Projection: r.Projection})
		if err != nil {
			return false, fmt.Errorf("populate %s.%s: %w", b.id, r.Predicate, err)
		}
		b.relations[r.Predicate] = preds
	}
	return true, nil
}

// PopulateAll fetches every stored field.
func (b *EntityBase) PopulateAll(ctx context.Context) (bool, error) {
	return b.Populate(ctx)
}

// Refresh drops everything held in memory and fetches every stored field.
func (b *EntityBase) Refresh(ctx context.Context) (bool, error) {
	b.fields = make(document.Document)
	b.fetched = make(map[string]bool)
	b.relations = make(map[string][]*Predicate)
	b.parent = nil
	b.version = 0
	return b.PopulateAll(ctx)
}

// Relations returns the predicates loaded for a Relation projection.
func (b *EntityBase) Relations(predicate string) []*Predicate {
	return b.relations[predicate]
}

// Update validates changes against the template and writes them if the
// stored version still matches the one last seen. Fails with
// *storage.OptimisticLockError when it does not, leaving the entity
// unchanged. Unknown fields are rejected unless CutExtraFields(true) is
// given.
func (b *EntityBase) Update(ctx context.Context, changes document.Document, opts ...WriteOption) error {
	p, err := b.SemanticPackage()
	if err != nil {
		return err
	}
	o := resolveWriteOptions(false, opts)
	given, err := document.NormalizeDocument(changes)
	if err != nil {
		return fmt.Errorf("update %s: %w", b.id, err)
	}
	fields, err := processTemplate(p, b.dcr.template, given, o, b.dcr.name, true)
	if err != nil {
		return fmt.Errorf("update %s: %w", b.id, err)
	}

	if b.version == 0 {
		found, err := b.Populate(ctx, Field(document.FieldVersion))
		if err != nil {
			return err
		}
		if !found {
			return b.notFound()
		}
	}

	coll, err := p.collections.EntityCollection(ctx, b.dcr)
	if err != nil {
		return err
	}
	if err := coll.UpdateDocument(ctx, b.id, fields, b.version, o.raw); err != nil {
		return fmt.Errorf("update %s: %w", b.id, err)
	}

	for k, v := range fields {
		if k == document.FieldID || k == document.FieldVersion {
			continue
		}
		b.fields[k] = v
		b.fetched[k] = true
	}
	b.version++
	b.fields[document.FieldVersion] = b.version
	b.invalidate(document.FieldLastUpdate)
	if o.raw != nil {
		b.invalidate(o.raw.Unset...)
		b.invalidate(document.SortedKeys(o.raw.Inc)...)
		b.invalidate(document.SortedKeys(o.raw.Push)...)
	}
	if _, ok := fields[document.FieldParent]; ok || (o.raw != nil && !o.raw.Empty()) {
		b.parent = nil
	}
	return nil
}

// Erase deletes the entity and every predicate it takes part in.
func (b *EntityBase) Erase(ctx context.Context) (*EraseResult, error) {
	p, err := b.SemanticPackage()
	if err != nil {
		return nil, err
	}
	coll, err := p.collections.EntityCollection(ctx, b.dcr)
	if err != nil {
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := coll.DeleteByID(gctx, b.id)
		return err
	})
	g.Go(func() error {
		_, err := p.DeleteAllEntityPredicates(gctx, b.id)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("erase %s: %w", b.id, err)
	}
	p.logger.Debug("erased entity", "id", b.id)
	return &EraseResult{EntityID: b.id}, nil
}

// GetParent returns the parent entity, or nil when there is none or it no
// longer exists.
func (b *EntityBase) GetParent(ctx context.Context) (Entity, error) {
	if b.parent != nil {
		return b.parent, nil
	}
	v, err := b.GetField(ctx, document.FieldParent)
	if err != nil {
		return nil, err
	}
	parentID, _ := v.(string)
	if parentID == "" {
		return nil, nil
	}
	p, err := b.SemanticPackage()
	if err != nil {
		return nil, err
	}
	parent, err := p.LoadEntity(ctx, parentID, nil)
	if err != nil {
		return nil, fmt.Errorf("parent of %s: %w", b.id, err)
	}
	b.parent = parent
	return parent, nil
}

// SetParent makes parent the parent of this entity. It fails with a
// circular-parent error, before writing anything, when this entity is
// parent itself or one of its ancestors. A nil parent unsets it.
func (b *EntityBase) SetParent(ctx context.Context, parent Entity) error {
	if parent == nil {
		return b.UnsetParent(ctx)
	}
	chain, err := lineage(ctx, parent)
	if err != nil {
		return err
	}
	for _, e := range chain {
		if e.ID() == b.id {
			return logged(b.logger(), &Error{
				Code:    ErrCodeCircularParent,
				Message: fmt.Sprintf("circular parenthood: %s is already an ancestor of %s", b.id, parent.ID()),
				Name:    b.dcr.name,
				ID:      b.id,
			})
		}
	}
	if err := b.Update(ctx, document.Document{document.FieldParent: parent.ID()}); err != nil {
		return err
	}
	b.parent = parent
	return nil
}

// UnsetParent removes the parent link.
func (b *EntityBase) UnsetParent(ctx context.Context) error {
	err := b.Update(ctx, nil, WithRawOps(&storage.RawOps{Unset: []string{document.FieldParent}}))
	if err != nil {
		return err
	}
	b.parent = nil
	return nil
}

// Ancestors returns the parent chain, nearest first.
func (b *EntityBase) Ancestors(ctx context.Context) ([]Entity, error) {
	parent, err := b.GetParent(ctx)
	if err != nil || parent == nil {
		return nil, err
	}
	return lineage(ctx, parent)
}

// lineage returns e followed by its ancestors. The walk starts from a
// fresh copy of e, so every parent link is read from storage rather than
// from a cached copy. A cycle already present in storage ends the walk.
func lineage(ctx context.Context, e Entity) ([]Entity, error) {
	chain := []Entity{e}
	seen := map[string]bool{e.ID(): true}
	p, err := e.SemanticPackage()
	if err != nil {
		return nil, err
	}
	cur, err := p.LoadEntity(ctx, e.ID(), nil)
	if err != nil {
		return nil, err
	}
	if cur == nil {
		return chain, nil
	}
	for {
		next, err := cur.GetParent(ctx)
		if err != nil {
			return nil, err
		}
		if next == nil || seen[next.ID()] {
			return chain, nil
		}
		seen[next.ID()] = true
		chain = append(chain, next)
		cur = next
	}
}

// GetFieldRecursive resolves field through the parent chain.
//
// Without accumulation it returns the first non-empty value, starting at
// this entity. With accumulation the field must hold objects; they are
// merged from the root down, so values nearer this entity win.
func (b *EntityBase) GetFieldRecursive(ctx context.Context, field string, accumulate bool) (any, error) {
	var acc map[string]any
	seen := make(map[string]bool)
	for cur := b.self; cur != nil && !seen[cur.ID()]; {
		seen[cur.ID()] = true
		v, err := cur.GetField(ctx, field)
		if err != nil {
			return nil, err
		}
		if !accumulate {
			if !document.IsEmpty(v) {
				return v, nil
			}
		} else if m, ok := asObject(v); ok {
			merged := maps.Clone(m)
			maps.Copy(merged, acc)
			acc = merged
		}
		next, err := cur.GetParent(ctx)
		if err != nil {
			return nil, err
		}
		cur = next
	}
	if acc == nil {
		return nil, nil
	}
	return acc, nil
}

// FullDto returns every template field, nil when unset, plus the
// creation and update stamps that are set, tagged with the id and type
// name.
func (b *EntityBase) FullDto(ctx context.Context) (document.Document, error) {
	names := append(b.dcr.template.Fields(), document.FieldCreated, document.FieldLastUpdate)
	fields, err := b.GetFields(ctx, names...)
	if err != nil {
		return nil, err
	}
	dto := make(document.Document, len(fields)+2)
	for k, v := range fields {
		if v != nil || !document.IsStandardField(k) {
			dto[k] = v
		}
	}
	dto[DtoID] = b.id
	dto[DtoEntityType] = b.dcr.name
	return dto, nil
}

// Traverse returns the entity's DTO with its connections: predicates of
// any type under _incoming (inDepth levels deep) and _outgoing (outDepth
// levels). Each predicate carries its peer's traversal as peerEntity.
func (b *EntityBase) Traverse(ctx context.Context, inDepth, outDepth int) (document.Document, error) {
	dto, err := b.FullDto(ctx)
	if err != nil {
		return nil, err
	}
	p, err := b.SemanticPackage()
	if err != nil {
		return nil, err
	}
	walk := func(incoming bool, in, out int) ([]any, error) {
		preds, err := p.FindPredicates(ctx, incoming, "", b.id, FindPredicatesOptions{PeerTypes: []string{AnyPeerType}})
		if err != nil {
			return nil, err
		}
		items := make([]any, 0, len(preds))
		for _, pr := range preds {
			item := pr.Dto()
			if peer := pr.Peer(); peer != nil {
				sub, err := peer.Traverse(ctx, in, out)
				if err != nil {
					return nil, err
				}
				item["peerEntity"] = sub
			}
			items = append(items, item)
		}
		return items, nil
	}
	if inDepth > 0 {
		if dto["_incoming"], err = walk(true, inDepth-1, 0); err != nil {
			return nil, err
		}
	}
	if outDepth > 0 {
		if dto["_outgoing"], err = walk(false, 0, outDepth-1); err != nil {
			return nil, err
		}
	}
	return dto, nil
}

func (b *EntityBase) IncomingPreds(ctx context.Context, predicate string, opts FindPredicatesOptions) ([]*Predicate, error) {
	p, err := b.SemanticPackage()
	if err != nil {
		return nil, err
	}
	return p.FindPredicates(ctx, true, predicate, b.id, opts)
}

func (b *EntityBase) OutgoingPreds(ctx context.Context, predicate string, opts FindPredicatesOptions) ([]*Predicate, error) {
	p, err := b.SemanticPackage()
	if err != nil {
		return nil, err
	}
	return p.FindPredicates(ctx, false, predicate, b.id, opts)
}

func (b *EntityBase) IncomingPredsPaging(ctx context.Context, predicate string, opts FindPredicatesOptions, page *storage.ReadOptions) (*PredicateResult, error) {
	p, err := b.SemanticPackage()
	if err != nil {
		return nil, err
	}
	return p.PagePredicates(ctx, true, predicate, b.id, opts, page)
}

func (b *EntityBase) OutgoingPredsPaging(ctx context.Context, predicate string, opts FindPredicatesOptions, page *storage.ReadOptions) (*PredicateResult, error) {
	p, err := b.SemanticPackage()
	if err != nil {
		return nil, err
	}
	return p.PagePredicates(ctx, false, predicate, b.id, opts, page)
}

func (b *EntityBase) logger() *slog.Logger {
	if p, ok := Lookup(b.packageName); ok {
		return p.logger
	}
	return slog.Default()
}

func asObject(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case document.Document:
		return m, true
	case map[string]any:
		return m, true
	}
	return nil, false
}
