// Package compiler turns CUE ontology files into semantic descriptors.
//
// An ontology file declares entity types under `entity:` and predicate
// types under `predicate:`:
//
//	entity: Person: {
//		collection: "People"
//		fields: name: {type: "string & !=\"\""}
//		fields: status: {default: "active"}
//	}
//
//	predicate: worksFor: {
//		payload: position: {type: "string"}
//		keys: {source: ["name"], target: ["name"], self: ["since"]}
//		children: ["manages"]
//	}
//
// Compilation has three stages: Compile parses CUE into a Spec, Validate
// checks the Spec as a whole, and Build creates the descriptors.
package compiler

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/semantika/internal/document"
)

// Spec is a parsed ontology, in source order.
type Spec struct {
	Entities   []EntitySpec    `json:"entities"`
	Predicates []PredicateSpec `json:"predicates"`
}

// EntitySpec declares an entity type.
type EntitySpec struct {
	Name       string      `json:"name"`
	Collection string      `json:"collection,omitempty"`
	Parents    []string    `json:"parents,omitempty"`
	Fields     []FieldSpec `json:"fields"`
	Pos        token.Pos   `json:"-"`
}

// FieldSpec declares one template field. Type is a CUE constraint used as
// the validator.
type FieldSpec struct {
	Name       string    `json:"name"`
	Type       string    `json:"type,omitempty"`
	Default    any       `json:"default,omitempty"`
	HasDefault bool      `json:"-"`
	Pos        token.Pos `json:"-"`
}

// KeySpec lists the fields denormalized onto predicate records.
type KeySpec struct {
	Source []string `json:"source,omitempty"`
	Target []string `json:"target,omitempty"`
	Self   []string `json:"self,omitempty"`
}

// Rule is a connection constraint: a predicate may link Source entities
// to Target entities. Rules are recorded on the descriptor, not enforced.
type Rule struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// PredicateSpec declares a predicate type.
type PredicateSpec struct {
	Name       string      `json:"name"`
	Collection string      `json:"collection,omitempty"`
	Payload    []FieldSpec `json:"payload,omitempty"`
	Keys       KeySpec     `json:"keys"`
	Children   []string    `json:"children,omitempty"`
	Rules      []Rule      `json:"rules,omitempty"`
	Pos        token.Pos   `json:"-"`
}

// Compile parses the entity and predicate sections of v.
func Compile(v cue.Value) (*Spec, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	spec := &Spec{}

	if ents := v.LookupPath(cue.ParsePath("entity")); ents.Exists() {
		iter, err := ents.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			es, err := CompileEntity(iter.Value())
			if err != nil {
				return nil, err
			}
			spec.Entities = append(spec.Entities, *es)
		}
	}

	if preds := v.LookupPath(cue.ParsePath("predicate")); preds.Exists() {
		iter, err := preds.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			ps, err := CompilePredicate(iter.Value())
			if err != nil {
				return nil, err
			}
			spec.Predicates = append(spec.Predicates, *ps)
		}
	}
	return spec, nil
}

// CompileEntity parses one entity declaration. The entity name is the
// last selector of v's path.
func CompileEntity(v cue.Value) (*EntitySpec, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	es := &EntitySpec{Name: labelOf(v), Pos: v.Pos()}

	var err error
	if es.Collection, err = optionalString(v, "collection"); err != nil {
		return nil, err
	}
	if es.Parents, err = stringList(v, "parents"); err != nil {
		return nil, err
	}
	if es.Fields, err = parseFields(v, "fields"); err != nil {
		return nil, err
	}
	return es, nil
}

// CompilePredicate parses one predicate declaration.
func CompilePredicate(v cue.Value) (*PredicateSpec, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	ps := &PredicateSpec{Name: labelOf(v), Pos: v.Pos()}

	var err error
	if ps.Collection, err = optionalString(v, "collection"); err != nil {
		return nil, err
	}
	if ps.Payload, err = parseFields(v, "payload"); err != nil {
		return nil, err
	}
	if ps.Children, err = stringList(v, "children"); err != nil {
		return nil, err
	}
	if ps.Keys.Source, err = stringList(v, "keys.source"); err != nil {
		return nil, err
	}
	if ps.Keys.Target, err = stringList(v, "keys.target"); err != nil {
		return nil, err
	}
	if ps.Keys.Self, err = stringList(v, "keys.self"); err != nil {
		return nil, err
	}
	if ps.Rules, err = parseRules(v); err != nil {
		return nil, err
	}
	return ps, nil
}

// parseFields reads a template section. Each field is either a struct
// with optional `type` and `default`, or a string used as the type.
func parseFields(v cue.Value, section string) ([]FieldSpec, error) {
	sv := v.LookupPath(cue.ParsePath(section))
	if !sv.Exists() {
		return nil, nil
	}
	iter, err := sv.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var fields []FieldSpec
	for iter.Next() {
		fv := iter.Value()
		fs := FieldSpec{Name: iter.Label(), Pos: fv.Pos()}

		if s, err := fv.String(); err == nil {
			fs.Type = s
			fields = append(fields, fs)
			continue
		}
		if fv.IncompleteKind() != cue.StructKind {
			return nil, &CompileError{
				Field:   section + "." + fs.Name,
				Message: "must be a constraint string or a struct with type and default",
				Pos:     fv.Pos(),
			}
		}
		if fs.Type, err = optionalString(fv, "type"); err != nil {
			return nil, err
		}
		if dv := fv.LookupPath(cue.ParsePath("default")); dv.Exists() {
			def, err := concreteValue(dv)
			if err != nil {
				return nil, err
			}
			fs.Default, fs.HasDefault = def, true
		}
		fields = append(fields, fs)
	}
	return fields, nil
}

func parseRules(v cue.Value) ([]Rule, error) {
	rv := v.LookupPath(cue.ParsePath("rules"))
	if !rv.Exists() {
		return nil, nil
	}
	iter, err := rv.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var rules []Rule
	for iter.Next() {
		item := iter.Value()
		src, err := optionalString(item, "source")
		if err != nil {
			return nil, err
		}
		tgt, err := optionalString(item, "target")
		if err != nil {
			return nil, err
		}
		if src == "" || tgt == "" {
			return nil, &CompileError{Field: "rules", Message: "a rule needs a source and a target", Pos: item.Pos()}
		}
		rules = append(rules, Rule{Source: src, Target: tgt})
	}
	return rules, nil
}

// concreteValue converts a concrete CUE value into the document value
// model.
func concreteValue(v cue.Value) (any, error) {
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, &CompileError{Field: "default", Message: "default must be concrete", Pos: v.Pos()}
	}
	var out any
	switch v.Kind() {
	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return s, nil
	case cue.IntKind:
		n, err := v.Int64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return n, nil
	case cue.FloatKind, cue.NumberKind:
		f, err := v.Float64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return f, nil
	case cue.BoolKind:
		b, err := v.Bool()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return b, nil
	case cue.NullKind:
		return nil, nil
	default:
		if err := v.Decode(&out); err != nil {
			return nil, formatCUEError(err)
		}
	}
	normalized, err := document.Normalize(out)
	if err != nil {
		return nil, &CompileError{Field: "default", Message: err.Error(), Pos: v.Pos()}
	}
	return normalized, nil
}

func labelOf(v cue.Value) string {
	sels := v.Path().Selectors()
	if len(sels) == 0 {
		return ""
	}
	sel := sels[len(sels)-1]
	if sel.LabelType() == cue.StringLabel {
		return sel.Unquoted()
	}
	return sel.String()
}

func optionalString(v cue.Value, path string) (string, error) {
	sv := v.LookupPath(cue.ParsePath(path))
	if !sv.Exists() {
		return "", nil
	}
	s, err := sv.String()
	if err != nil {
		return "", &CompileError{Field: path, Message: "must be a string", Pos: sv.Pos()}
	}
	return s, nil
}

func stringList(v cue.Value, path string) ([]string, error) {
	lv := v.LookupPath(cue.ParsePath(path))
	if !lv.Exists() {
		return nil, nil
	}
	iter, err := lv.List()
	if err != nil {
		return nil, &CompileError{Field: path, Message: "must be a list of strings", Pos: lv.Pos()}
	}
	var out []string
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			return nil, &CompileError{Field: path, Message: "must be a list of strings", Pos: iter.Value().Pos()}
		}
		out = append(out, s)
	}
	return out, nil
}

// CompileError is a compilation error with its source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return err
}
