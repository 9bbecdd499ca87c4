// Package semantic maps graphs of typed entities and predicates onto a
// document store.
//
// A Package owns an Ontology (the entity and predicate descriptors it
// knows) and a CollectionManager over a storage.Storage. Entities are
// materialized lazily: a freshly made entity knows its id and type, and
// fetches fields and relations the first time they are asked for.
//
// Entity ids are composite, <package>_<type>_<physicalId>, so any record
// can be rehydrated to the right type from its id alone.
package semantic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/roach88/semantika/internal/document"
	"github.com/roach88/semantika/internal/storage"
	"github.com/roach88/semantika/internal/template"
)

// Package is a named bounded context: one ontology bound to one storage.
type Package struct {
	name             string
	ontology         *Ontology
	storage          storage.Storage
	parents          []*Package
	logger           *slog.Logger
	uniquePredicates bool
	now              func() time.Time
	collections      *CollectionManager
}

// Option configures a Package.
type Option func(*Package)

// WithParents sets packages consulted when a predicate is not found
// locally.
func WithParents(parents ...*Package) Option {
	return func(p *Package) {
		p.parents = append(p.parents, parents...)
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(p *Package) {
		p.logger = l
	}
}

// WithUniquePredicates makes (sourceId, targetId, predicateName) unique
// in predicate collections.
func WithUniquePredicates() Option {
	return func(p *Package) {
		p.uniquePredicates = true
	}
}

// WithClock sets the time source for creation stamps.
func WithClock(now func() time.Time) Option {
	return func(p *Package) {
		p.now = now
	}
}

// New builds the package name over raw and st and registers it, replacing
// any package previously registered under the same name.
func New(name string, raw RawOntology, st storage.Storage, opts ...Option) (*Package, error) {
	p := &Package{name: name, storage: st, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	if err := document.ValidateName("package", name); err != nil {
		return nil, logged(p.logger, &Error{Code: ErrCodeInvalidName, Message: err.Error(), Name: name})
	}
	ont, err := NewOntology(name, raw, p.logger)
	if err != nil {
		return nil, fmt.Errorf("build ontology of %s: %w", name, err)
	}
	p.ontology = ont
	p.collections = newCollectionManager(p)
	register(p)
	return p, nil
}

func (p *Package) Name() string {
	return p.name
}

func (p *Package) Ontology() *Ontology {
	return p.ontology
}

func (p *Package) Storage() storage.Storage {
	return p.storage
}

func (p *Package) Parents() []*Package {
	return p.parents
}

func (p *Package) Collections() *CollectionManager {
	return p.collections
}

// Edcr looks up an entity descriptor.
func (p *Package) Edcr(name string) (*EntityDcr, error) {
	return p.ontology.Edcr(name)
}

// Pdcr looks up a predicate descriptor.
func (p *Package) Pdcr(name string) (*PredicateDcr, error) {
	return p.ontology.Pdcr(name)
}

// EntityTypeNames lists the entity types of the ontology.
func (p *Package) EntityTypeNames() []string {
	return p.ontology.EntityTypeNames()
}

// CollectionForEntityType returns the collection of dcr's entities.
func (p *Package) CollectionForEntityType(ctx context.Context, dcr *EntityDcr) (*EntityCollection, error) {
	return p.collections.EntityCollection(ctx, dcr)
}

// PredicateCollection returns the collection holding dcr's predicates. A
// nil descriptor selects the package-wide default.
func (p *Package) PredicateCollection(ctx context.Context, dcr *PredicateDcr) (*PredicateCollection, error) {
	return p.collections.PredicateCollection(ctx, p.collections.PredicateCollectionName(dcr))
}

// BasicCollection returns a plain collection called name.
func (p *Package) BasicCollection(ctx context.Context, name string, init func(ctx context.Context, c storage.Collection) error) (storage.Collection, error) {
	return p.collections.BasicCollection(ctx, name, init)
}

// predicateCollectionNames lists the default predicate collection and
// every descriptor override, without repeats.
func (p *Package) predicateCollectionNames() []string {
	names := []string{p.collections.PredicateCollectionName(nil)}
	for _, n := range p.ontology.predicateOrder {
		name := p.collections.PredicateCollectionName(p.ontology.predicates[n])
		if !slices.Contains(names, name) {
			names = append(names, name)
		}
	}
	return names
}

// WriteOption tunes how written fields are checked against a template.
type WriteOption func(*writeOptions)

type writeOptions struct {
	superSet bool
	cut      bool
	raw      *storage.RawOps
}

// WithSuperSet accepts fields outside the template unchecked, unless
// extra fields are being cut.
func WithSuperSet() WriteOption {
	return func(o *writeOptions) {
		o.superSet = true
	}
}

// CutExtraFields selects whether fields outside the template are dropped
// with a warning (true) or rejected (false). Creation cuts by default;
// updates reject by default.
func CutExtraFields(cut bool) WriteOption {
	return func(o *writeOptions) {
		o.cut = cut
	}
}

// WithRawOps merges native update operators into an update.
func WithRawOps(raw *storage.RawOps) WriteOption {
	return func(o *writeOptions) {
		o.raw = raw
	}
}

func resolveWriteOptions(cut bool, opts []WriteOption) writeOptions {
	o := writeOptions{cut: cut}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// MakeEntity materializes an entity of dcr from id and record without any
// I/O. The id is taken from record when empty.
//
// Without a descriptor the type is read from the id; when that type is
// not in the ontology the record is returned unchanged instead of an
// entity. Both results are nil when no id is available.
func (p *Package) MakeEntity(dcr *EntityDcr, id string, record document.Document) (Entity, document.Document, error) {
	return p.makeEntity(dcr, id, record, nil)
}

// makeEntity is MakeEntity for a record restricted to projection.
func (p *Package) makeEntity(dcr *EntityDcr, id string, record document.Document, projection []string) (Entity, document.Document, error) {
	if id == "" && record != nil {
		id = record.ID()
		if id == "" {
			id, _ = record["id"].(string)
		}
	}
	if id == "" {
		return nil, nil, nil
	}

	typ, hasType := document.TypeFromID(id)
	if dcr == nil {
		if !hasType || !p.ontology.HasEntityType(typ) {
			return nil, record, nil
		}
		dcr = p.ontology.entities[typ]
	}
	if typ != dcr.name {
		return nil, nil, logged(p.logger, &Error{
			Code:    ErrCodeTypeMismatch,
			Message: fmt.Sprintf("id encodes type %q but %s was requested", typ, dcr.name),
			Name:    dcr.name,
			ID:      id,
		})
	}

	base := newEntityBase(p.name, dcr, id)
	e := dcr.factory(base)
	base.self = e
	if record != nil {
		base.assign(record, projection)
	}
	return e, nil, nil
}

// LoadEntity fetches an entity, restricted to projection, and returns nil
// when it does not exist. dcr may be nil, in which case the type is read
// from the id.
func (p *Package) LoadEntity(ctx context.Context, id string, dcr *EntityDcr, projection ...Projection) (Entity, error) {
	if id == "" {
		return nil, logged(p.logger, &Error{Code: ErrCodeMissingID, Message: "cannot load an entity without an id"})
	}
	e, _, err := p.makeEntity(dcr, id, nil, nil)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, p.unknownType(id)
	}
	found, err := e.Populate(ctx, projection...)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return e, nil
}

// LoadEntityByID fetches the entity with the given id from the collection
// of the type encoded in the id. Ids of other registered packages are
// resolved through their own package.
func (p *Package) LoadEntityByID(ctx context.Context, id string, projection ...string) (Entity, error) {
	if id == "" {
		return nil, logged(p.logger, &Error{Code: ErrCodeMissingID, Message: "cannot load an entity without an id"})
	}
	owner := p
	if prefix, _, ok := strings.Cut(id, document.Separator); ok && prefix != p.name {
		if other, ok := Lookup(prefix); ok {
			owner = other
		}
	}
	typ, ok := document.TypeFromID(id)
	if !ok || !owner.ontology.HasEntityType(typ) {
		return nil, owner.unknownType(id)
	}
	coll, err := owner.collections.EntityCollection(ctx, owner.ontology.entities[typ])
	if err != nil {
		return nil, err
	}
	return coll.FindByID(ctx, id, projection...)
}

func (p *Package) unknownType(id string) error {
	typ, _ := document.TypeFromID(id)
	return logged(p.logger, &Error{
		Code:    ErrCodeUnknownDescriptor,
		Message: fmt.Sprintf("entity type %q of %s isn't part of the ontology", typ, id),
		Name:    typ,
		ID:      id,
	})
}

// CreateEntity validates fields against dcr's template, fills defaults and
// stores a new entity. Unknown fields are dropped with a warning unless
// CutExtraFields(false) is given.
func (p *Package) CreateEntity(ctx context.Context, dcr *EntityDcr, fields document.Document, opts ...WriteOption) (Entity, error) {
	o := resolveWriteOptions(true, opts)
	given, err := document.NormalizeDocument(fields)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", dcr.name, err)
	}
	processed, err := processTemplate(p, dcr.template, given, o, dcr.name, false)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", dcr.name, err)
	}
	rec, err := document.NormalizeDocument(processed)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", dcr.name, err)
	}
	if rec == nil {
		rec = document.Document{}
	}
	if _, ok := rec[document.FieldCreated]; !ok {
		rec[document.FieldCreated] = p.now().UnixMilli()
	}

	coll, err := p.collections.EntityCollection(ctx, dcr)
	if err != nil {
		return nil, err
	}
	id, err := coll.Append(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", dcr.name, p.qualifyDuplicate(err, dcr.name))
	}
	delete(rec, "id")
	rec[document.FieldID] = id
	rec[document.FieldVersion] = storage.InitialVersion

	e, _, err := p.makeEntity(dcr, id, rec, nil)
	if err != nil {
		return nil, err
	}
	p.logger.Debug("created entity", "id", id, "type", dcr.name)
	return e, nil
}

func processTemplate(p *Package, tmpl template.Template, given document.Document, o writeOptions, typeName string, update bool) (document.Document, error) {
	return template.Process(tmpl, given, template.Options{
		SuperSetAllowed: o.superSet,
		Strict:          o.cut,
		TypeName:        typeName,
		Update:          update,
		Logger:          p.logger,
	})
}

// qualifyDuplicate names the descriptor in a duplicate-key error.
func (p *Package) qualifyDuplicate(err error, descriptor string) error {
	var dk *storage.DuplicateKeyError
	if !errors.As(err, &dk) {
		return err
	}
	out := &storage.DuplicateKeyError{Collection: dk.Collection, Descriptor: descriptor, Err: dk.Err}
	p.logger.Error(out.Error(), "code", "DUPLICATE_KEY", "name", descriptor)
	return out
}
