package compiler

import (
	"fmt"
	"slices"

	"github.com/roach88/semantika/internal/document"
	"github.com/roach88/semantika/internal/semantic"
)

// Validation error codes (E200-E299)
const (
	ErrInvalidName       = "E201" // name contains the id separator or is empty
	ErrDuplicateName     = "E202" // two declarations share a name
	ErrUnknownChild      = "E203" // child predicate not declared
	ErrUnknownParent     = "E204" // parent entity not declared
	ErrBadSelfKey        = "E205" // self key collides with a record field
	ErrTypeAndDefault    = "E206" // field has both a type and a default
	ErrUnknownRuleEntity = "E207" // rule names an undeclared entity
	ErrHierarchyCycle    = "E208" // predicate children or entity parents loop
	ErrInvalidConstraint = "E209" // type is not a valid CUE constraint
)

// ValidationError is one problem found in a Spec.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate checks a compiled Spec as a whole and returns every problem found.
func Validate(spec *Spec) []ValidationError {
	var errs []ValidationError
	entities := make(map[string]bool, len(spec.Entities))
	predicates := make(map[string]bool, len(spec.Predicates))

	for _, es := range spec.Entities {
		field := "entity." + es.Name
		if err := document.ValidateName("entity", es.Name); err != nil {
			errs = append(errs, ValidationError{Field: field, Message: err.Error(), Code: ErrInvalidName, Line: es.Pos.Line()})
		}
		if entities[es.Name] {
			errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf("duplicate entity %q", es.Name), Code: ErrDuplicateName, Line: es.Pos.Line()})
		}
		entities[es.Name] = true
		errs = append(errs, validateFields(field+".fields", es.Fields)...)
	}
	for _, ps := range spec.Predicates {
		field := "predicate." + ps.Name
		if predicates[ps.Name] {
			errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf("duplicate predicate %q", ps.Name), Code: ErrDuplicateName, Line: ps.Pos.Line()})
		}
		predicates[ps.Name] = true
		errs = append(errs, validateFields(field+".payload", ps.Payload)...)
	}

	for _, es := range spec.Entities {
		for _, parent := range es.Parents {
			if !entities[parent] {
				errs = append(errs, ValidationError{
					Field:   "entity." + es.Name + ".parents",
					Message: fmt.Sprintf("unknown parent entity %q", parent),
					Code:    ErrUnknownParent,
					Line:    es.Pos.Line(),
				})
			}
		}
	}
	for _, ps := range spec.Predicates {
		field := "predicate." + ps.Name
		for _, child := range ps.Children {
			if !predicates[child] {
				errs = append(errs, ValidationError{
					Field:   field + ".children",
					Message: fmt.Sprintf("unknown child predicate %q", child),
					Code:    ErrUnknownChild,
					Line:    ps.Pos.Line(),
				})
			}
		}
		keys := semantic.PredicateKeys{Source: ps.Keys.Source, Target: ps.Keys.Target}
		for i, k := range ps.Keys.Self {
			if semantic.IsReservedPredicateField(k, keys) || slices.Contains(ps.Keys.Self[:i], k) {
				errs = append(errs, ValidationError{
					Field:   field + ".keys.self",
					Message: fmt.Sprintf("self key %q collides with a predicate record field", k),
					Code:    ErrBadSelfKey,
					Line:    ps.Pos.Line(),
				})
			}
		}
		for _, r := range ps.Rules {
			for _, name := range []string{r.Source, r.Target} {
				if !entities[name] {
					errs = append(errs, ValidationError{
						Field:   field + ".rules",
						Message: fmt.Sprintf("rule names unknown entity %q", name),
						Code:    ErrUnknownRuleEntity,
						Line:    ps.Pos.Line(),
					})
				}
			}
		}
	}

	for _, cycle := range AnalyzeCycles(spec) {
		errs = append(errs, ValidationError{
			Field:   cycle.Kind,
			Message: cycle.Message,
			Code:    ErrHierarchyCycle,
		})
	}
	return errs
}

func validateFields(section string, fields []FieldSpec) []ValidationError {
	var errs []ValidationError
	for _, fs := range fields {
		field := section + "." + fs.Name
		if fs.Type != "" && fs.HasDefault {
			errs = append(errs, ValidationError{
				Field:   field,
				Message: "a field takes either a type or a default, not both",
				Code:    ErrTypeAndDefault,
				Line:    fs.Pos.Line(),
			})
		}
		if fs.Type != "" {
			if _, err := constraint(fs.Type); err != nil {
				errs = append(errs, ValidationError{
					Field:   field,
					Message: err.Error(),
					Code:    ErrInvalidConstraint,
					Line:    fs.Pos.Line(),
				})
			}
		}
	}
	return errs
}
