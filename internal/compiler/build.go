package compiler

import (
	"fmt"
	"strings"

	"github.com/roach88/semantika/internal/semantic"
	"github.com/roach88/semantika/internal/template"
)

// ValidationErrors is every problem Validate found, as one error.
type ValidationErrors []ValidationError

func (errs ValidationErrors) Error() string {
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "; ")
}

// Build validates spec and creates its descriptors. Entities get the
// generic entity factory. Referenced parents and children are built before
// the descriptors that name them, so each name maps to one descriptor.
func Build(spec *Spec) (semantic.RawOntology, error) {
	if errs := Validate(spec); len(errs) > 0 {
		return semantic.RawOntology{}, ValidationErrors(errs)
	}
	b := &builder{
		entitySpecs:    make(map[string]*EntitySpec, len(spec.Entities)),
		predicateSpecs: make(map[string]*PredicateSpec, len(spec.Predicates)),
		entities:       make(map[string]*semantic.EntityDcr),
		predicates:     make(map[string]*semantic.PredicateDcr),
	}
	for i := range spec.Entities {
		b.entitySpecs[spec.Entities[i].Name] = &spec.Entities[i]
	}
	for i := range spec.Predicates {
		b.predicateSpecs[spec.Predicates[i].Name] = &spec.Predicates[i]
	}

	var raw semantic.RawOntology
	for _, es := range spec.Entities {
		ed, err := b.entity(es.Name)
		if err != nil {
			return semantic.RawOntology{}, err
		}
		raw.Entities = append(raw.Entities, ed)
	}
	for _, ps := range spec.Predicates {
		pd, err := b.predicate(ps.Name)
		if err != nil {
			return semantic.RawOntology{}, err
		}
		raw.Predicates = append(raw.Predicates, pd)
	}
	return raw, nil
}

type builder struct {
	entitySpecs    map[string]*EntitySpec
	predicateSpecs map[string]*PredicateSpec
	entities       map[string]*semantic.EntityDcr
	predicates     map[string]*semantic.PredicateDcr
}

func (b *builder) entity(name string) (*semantic.EntityDcr, error) {
	if ed, ok := b.entities[name]; ok {
		return ed, nil
	}
	es := b.entitySpecs[name]
	tmpl, err := buildTemplate(es.Fields)
	if err != nil {
		return nil, fmt.Errorf("entity %s: %w", name, err)
	}

	var opts []semantic.EntityOption
	if es.Collection != "" {
		opts = append(opts, semantic.WithCollection(es.Collection))
	}
	for _, parent := range es.Parents {
		pd, err := b.entity(parent)
		if err != nil {
			return nil, err
		}
		opts = append(opts, semantic.WithEntityParents(pd))
	}

	ed := semantic.NewEntityDcr(name, tmpl, nil, opts...)
	b.entities[name] = ed
	return ed, nil
}

func (b *builder) predicate(name string) (*semantic.PredicateDcr, error) {
	if pd, ok := b.predicates[name]; ok {
		return pd, nil
	}
	ps := b.predicateSpecs[name]

	opts := []semantic.PredicateOption{
		semantic.WithKeys(semantic.PredicateKeys{
			Source: ps.Keys.Source,
			Target: ps.Keys.Target,
			Self:   ps.Keys.Self,
		}),
	}
	if len(ps.Payload) > 0 {
		tmpl, err := buildTemplate(ps.Payload)
		if err != nil {
			return nil, fmt.Errorf("predicate %s: %w", name, err)
		}
		opts = append(opts, semantic.WithPayload(tmpl))
	}
	if ps.Collection != "" {
		opts = append(opts, semantic.WithPredicateCollection(ps.Collection))
	}
	if len(ps.Rules) > 0 {
		opts = append(opts, semantic.WithRules(append([]Rule(nil), ps.Rules...)))
	}
	for _, child := range ps.Children {
		cd, err := b.predicate(child)
		if err != nil {
			return nil, err
		}
		opts = append(opts, semantic.WithChildren(cd))
	}

	pd := semantic.NewPredicateDcr(name, opts...)
	b.predicates[name] = pd
	return pd, nil
}

func buildTemplate(fields []FieldSpec) (template.Template, error) {
	tmpl := make(template.Template, len(fields))
	for _, fs := range fields {
		var entry template.Entry
		switch {
		case fs.Type != "":
			v, err := constraint(fs.Type)
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", fs.Name, err)
			}
			entry.Validator = v
		case fs.HasDefault:
			entry.Default = fs.Default
		}
		tmpl[fs.Name] = entry
	}
	return tmpl, nil
}

func constraint(expr string) (*template.CUEValidator, error) {
	return template.CUE(expr)
}
