package semantic

import (
	"context"
	"slices"

	"github.com/roach88/semantika/internal/template"
)

// Descriptor is the metadata shared by entity and predicate types.
//
// Descriptors are immutable once their ontology is built, except for the
// name of the package that owns them, which the ontology stamps.
type Descriptor interface {
	Name() string

	// SemanticPackage resolves the owning package through the registry.
	SemanticPackage() (*Package, error)

	// Parents lists the descriptors this one inherits meaning from.
	Parents() []Descriptor

	// CollectionName is the collection override, or "" for the default.
	CollectionName() string

	descriptor()
}

// Factory builds the concrete entity value around base.
type Factory func(base *EntityBase) Entity

// EntityDcr describes an entity type.
type EntityDcr struct {
	name        string
	template    template.Template
	factory     Factory
	collection  string
	initializer func(ctx context.Context, c *EntityCollection) error
	parents     []*EntityDcr
	packageName string
}

// EntityOption configures an EntityDcr.
type EntityOption func(*EntityDcr)

// WithCollection stores the type's entities in the named collection
// instead of one named after the type. The package name is still
// prefixed.
func WithCollection(name string) EntityOption {
	return func(d *EntityDcr) {
		d.collection = name
	}
}

// WithInitializer runs fn once, when the type's collection is first
// opened. Typical use is declaring indexes.
func WithInitializer(fn func(ctx context.Context, c *EntityCollection) error) EntityOption {
	return func(d *EntityDcr) {
		d.initializer = fn
	}
}

// WithEntityParents records semantic parents of the type.
func WithEntityParents(parents ...*EntityDcr) EntityOption {
	return func(d *EntityDcr) {
		d.parents = append(d.parents, parents...)
	}
}

// NewEntityDcr describes the entity type name. A nil factory yields
// GenericEntity values.
func NewEntityDcr(name string, tmpl template.Template, factory Factory, opts ...EntityOption) *EntityDcr {
	if factory == nil {
		factory = NewGenericEntity
	}
	d := &EntityDcr{name: name, template: tmpl, factory: factory}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *EntityDcr) Name() string {
	return d.name
}

// Template returns the field template of the type.
func (d *EntityDcr) Template() template.Template {
	return d.template
}

func (d *EntityDcr) CollectionName() string {
	return d.collection
}

func (d *EntityDcr) Parents() []Descriptor {
	out := make([]Descriptor, len(d.parents))
	for i, p := range d.parents {
		out[i] = p
	}
	return out
}

// PackageName returns the name of the owning package, or "" before the
// descriptor joins an ontology.
func (d *EntityDcr) PackageName() string {
	return d.packageName
}

func (d *EntityDcr) SemanticPackage() (*Package, error) {
	return lookupPackage(d.packageName)
}

func (d *EntityDcr) descriptor() {}

// PredicateKeys names entity fields copied onto predicate records so they
// can be filtered through indexes.
type PredicateKeys struct {
	// Source fields are stored as _source_<field>.
	Source []string
	// Target fields are stored as _target_<field>.
	Target []string
	// Self fields are supplied by the caller at creation.
	Self []string
}

// PredicateDcr describes a predicate (relation) type.
type PredicateDcr struct {
	name        string
	children    []*PredicateDcr
	parents     []*PredicateDcr
	keys        PredicateKeys
	payload     template.Template
	rules       any
	collection  string
	packageName string
}

// PredicateOption configures a PredicateDcr.
type PredicateOption func(*PredicateDcr)

// WithChildren declares sub-predicates. Querying by this descriptor also
// matches its direct children.
func WithChildren(children ...*PredicateDcr) PredicateOption {
	return func(d *PredicateDcr) {
		for _, c := range children {
			if !slices.Contains(d.children, c) {
				d.children = append(d.children, c)
			}
		}
	}
}

// WithKeys declares the denormalized key fields.
func WithKeys(keys PredicateKeys) PredicateOption {
	return func(d *PredicateDcr) {
		d.keys = keys
	}
}

// WithPayload sets the template predicate payloads are validated with.
func WithPayload(tmpl template.Template) PredicateOption {
	return func(d *PredicateDcr) {
		d.payload = tmpl
	}
}

// WithRules attaches connection rules. They are carried for callers and
// not enforced.
func WithRules(rules any) PredicateOption {
	return func(d *PredicateDcr) {
		d.rules = rules
	}
}

// WithPredicateCollection stores the predicates in the named collection
// instead of the package-wide default. The name is used as given.
func WithPredicateCollection(name string) PredicateOption {
	return func(d *PredicateDcr) {
		d.collection = name
	}
}

// NewPredicateDcr describes the predicate type name.
func NewPredicateDcr(name string, opts ...PredicateOption) *PredicateDcr {
	d := &PredicateDcr{name: name}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *PredicateDcr) Name() string {
	return d.name
}

// Children returns the direct sub-predicates.
func (d *PredicateDcr) Children() []*PredicateDcr {
	return d.children
}

func (d *PredicateDcr) Parents() []Descriptor {
	out := make([]Descriptor, len(d.parents))
	for i, p := range d.parents {
		out[i] = p
	}
	return out
}

func (d *PredicateDcr) Keys() PredicateKeys {
	return d.keys
}

func (d *PredicateDcr) Payload() template.Template {
	return d.payload
}

func (d *PredicateDcr) Rules() any {
	return d.rules
}

func (d *PredicateDcr) CollectionName() string {
	return d.collection
}

func (d *PredicateDcr) PackageName() string {
	return d.packageName
}

func (d *PredicateDcr) SemanticPackage() (*Package, error) {
	return lookupPackage(d.packageName)
}

func (d *PredicateDcr) descriptor() {}

// addChild links child under d in both directions, once.
func (d *PredicateDcr) addChild(child *PredicateDcr) {
	if !slices.Contains(d.children, child) {
		d.children = append(d.children, child)
	}
	if !slices.Contains(child.parents, d) {
		child.parents = append(child.parents, d)
	}
}
