package semantic

import (
	"log/slog"
	"slices"

	"github.com/roach88/semantika/internal/document"
)

// RawOntology is the flat input an Ontology is built from. Predicates may
// be listed at the top level, reached only as children, or both.
type RawOntology struct {
	Entities   []*EntityDcr
	Predicates []*PredicateDcr
}

// Concat returns r followed by the descriptors of others.
func (r RawOntology) Concat(others ...RawOntology) RawOntology {
	out := RawOntology{
		Entities:   slices.Clone(r.Entities),
		Predicates: slices.Clone(r.Predicates),
	}
	for _, o := range others {
		out.Entities = append(out.Entities, o.Entities...)
		out.Predicates = append(out.Predicates, o.Predicates...)
	}
	return out
}

// Ontology maps type names to descriptors for one package.
type Ontology struct {
	packageName string
	logger      *slog.Logger

	entities    map[string]*EntityDcr
	entityOrder []string

	predicates     map[string]*PredicateDcr
	predicateOrder []string
}

// NewOntology registers every descriptor of raw under packageName and
// links the predicate hierarchy.
func NewOntology(packageName string, raw RawOntology, logger *slog.Logger) (*Ontology, error) {
	if logger == nil {
		logger = slog.Default()
	}
	o := &Ontology{
		packageName: packageName,
		logger:      logger,
		entities:    make(map[string]*EntityDcr),
		predicates:  make(map[string]*PredicateDcr),
	}

	for _, ed := range raw.Entities {
		if err := document.ValidateName("entity type", ed.name); err != nil {
			return nil, logged(logger, &Error{Code: ErrCodeInvalidName, Message: err.Error(), Name: ed.name})
		}
		if existing, ok := o.entities[ed.name]; ok && existing != ed {
			return nil, logged(logger, &Error{
				Code:    ErrCodeDuplicateDescriptor,
				Message: "duplicate entity descriptor: " + ed.name,
				Name:    ed.name,
			})
		} else if ok {
			continue
		}
		ed.packageName = packageName
		o.entities[ed.name] = ed
		o.entityOrder = append(o.entityOrder, ed.name)
	}

	for _, pd := range raw.Predicates {
		if err := o.addPredicate(pd, nil); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// addPredicate registers pd under parent and recurses into its children.
// Meeting the same descriptor again only links the new parent.
func (o *Ontology) addPredicate(pd *PredicateDcr, parent *PredicateDcr) error {
	if existing, ok := o.predicates[pd.name]; ok {
		if existing != pd {
			return logged(o.logger, &Error{
				Code:    ErrCodeDuplicateDescriptor,
				Message: "duplicate predicate descriptor: " + pd.name,
				Name:    pd.name,
			})
		}
		if parent != nil {
			parent.addChild(pd)
		}
		return nil
	}
	if pd.name == "" {
		return logged(o.logger, &Error{Code: ErrCodeInvalidName, Message: "predicate name must not be empty"})
	}

	pd.packageName = o.packageName
	o.predicates[pd.name] = pd
	o.predicateOrder = append(o.predicateOrder, pd.name)
	if parent != nil {
		parent.addChild(pd)
	}
	for _, child := range slices.Clone(pd.children) {
		if err := o.addPredicate(child, pd); err != nil {
			return err
		}
	}
	return nil
}

// Edcr returns the entity descriptor called name.
func (o *Ontology) Edcr(name string) (*EntityDcr, error) {
	if d, ok := o.entities[name]; ok {
		return d, nil
	}
	return nil, logged(o.logger, &Error{
		Code:    ErrCodeUnknownDescriptor,
		Message: "no such entity descriptor " + name,
		Name:    name,
	})
}

// Pdcr returns the predicate descriptor called name.
func (o *Ontology) Pdcr(name string) (*PredicateDcr, error) {
	if d, ok := o.predicates[name]; ok {
		return d, nil
	}
	return nil, logged(o.logger, &Error{
		Code:    ErrCodeUnknownDescriptor,
		Message: "no such predicate descriptor " + name,
		Name:    name,
	})
}

// HasEntityType reports whether name is a registered entity type.
func (o *Ontology) HasEntityType(name string) bool {
	_, ok := o.entities[name]
	return ok
}

// EntityTypeNames lists entity types in registration order.
func (o *Ontology) EntityTypeNames() []string {
	return slices.Clone(o.entityOrder)
}

// PredicateNames lists predicate types in registration order.
func (o *Ontology) PredicateNames() []string {
	return slices.Clone(o.predicateOrder)
}

// Expand returns the predicate names a query by pd matches: the names of
// its direct children followed by its own. Grandchildren are not
// included.
func (o *Ontology) Expand(pd *PredicateDcr) []string {
	names := make([]string, 0, len(pd.children)+1)
	for _, c := range pd.children {
		names = append(names, c.name)
	}
	return append(names, pd.name)
}
