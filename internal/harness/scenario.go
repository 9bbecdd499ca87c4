package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario is a scripted run against a fresh semantic package.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario checks.
	Description string `yaml:"description"`

	// Ontology is a directory of CUE ontology files, relative to the
	// scenario file.
	Ontology string `yaml:"ontology"`

	// Package is the semantic package name. Defaults to "main".
	Package string `yaml:"package,omitempty"`

	// UniquePredicates forbids two predicates of one type between the same
	// entities.
	UniquePredicates bool `yaml:"unique_predicates,omitempty"`

	// Steps run in order. Later steps refer to earlier results by name.
	Steps []Step `yaml:"steps"`

	// Assertions are checked against the final state.
	Assertions []Assertion `yaml:"assertions"`
}

// Step operations.
const (
	OpCreate        = "create"
	OpUpdate        = "update"
	OpLink          = "link"
	OpErase         = "erase"
	OpSetParent     = "set_parent"
	OpQuery         = "query"
	OpDeleteByQuery = "delete_by_query"
)

// Step is one operation. Which fields apply depends on Op.
type Step struct {
	Op string `yaml:"op"`

	// As names the created entity or predicate (create, link).
	As string `yaml:"as,omitempty"`

	// Ref names an earlier result (update, erase, set_parent, query).
	Ref string `yaml:"ref,omitempty"`

	// Type is an entity type (create, delete_by_query).
	Type string `yaml:"type,omitempty"`

	// Fields are written by create and update.
	Fields map[string]any `yaml:"fields,omitempty"`

	// Source and Target name the linked entities (link).
	Source string `yaml:"source,omitempty"`
	Target string `yaml:"target,omitempty"`

	// Predicate is a predicate type (link, query). Empty matches every
	// type in a query.
	Predicate string `yaml:"predicate,omitempty"`

	// Payload and Keys are the predicate payload and self keys (link).
	Payload map[string]any `yaml:"payload,omitempty"`
	Keys    map[string]any `yaml:"keys,omitempty"`

	// Parent names the new parent (set_parent). Empty unsets it.
	Parent string `yaml:"parent,omitempty"`

	// Incoming selects predicates targeting Ref (query).
	Incoming bool `yaml:"incoming,omitempty"`

	// Where is a Mongo-style filter (delete_by_query).
	Where map[string]any `yaml:"where,omitempty"`

	// ExpectCount checks the number of matches (query, delete_by_query).
	ExpectCount *int `yaml:"expect_count,omitempty"`

	// ExpectError is the error kind the step must fail with, as reported
	// by ErrorKind.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// Assertion types.
const (
	AssertEntityField    = "entity_field"
	AssertEntityAbsent   = "entity_absent"
	AssertPredicateCount = "predicate_count"
)

// Assertion checks final state.
type Assertion struct {
	Type string `yaml:"type"`

	// Ref names the entity checked.
	Ref string `yaml:"ref"`

	// Field and Value are compared by entity_field.
	Field string `yaml:"field,omitempty"`
	Value any    `yaml:"value,omitempty"`

	// Predicate, Incoming and Count are used by predicate_count.
	Predicate string `yaml:"predicate,omitempty"`
	Incoming  bool   `yaml:"incoming,omitempty"`
	Count     int    `yaml:"count,omitempty"`
}

// LoadScenario reads and parses a scenario YAML file. The ontology path
// is resolved against the file's directory.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	s, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}
	if s.Ontology != "" && !filepath.IsAbs(s.Ontology) {
		s.Ontology = filepath.Join(filepath.Dir(path), s.Ontology)
	}
	return s, nil
}

// ParseScenario parses scenario YAML. Unknown fields are rejected.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // catches typos like "assertion:"
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Ontology == "" {
		return fmt.Errorf("ontology is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	named := make(map[string]bool)
	known := func(i int, field, ref string) error {
		if ref != "" && !named[ref] {
			return fmt.Errorf("steps[%d]: %s %q is not defined by an earlier step", i, field, ref)
		}
		return nil
	}
	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
			return err
		}
		for _, r := range []struct{ field, ref string }{
			{"ref", step.Ref}, {"source", step.Source}, {"target", step.Target}, {"parent", step.Parent},
		} {
			if err := known(i, r.field, r.ref); err != nil {
				return err
			}
		}
		if step.As != "" {
			if named[step.As] {
				return fmt.Errorf("steps[%d]: name %q is already taken", i, step.As)
			}
			named[step.As] = true
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
		if !named[a.Ref] {
			return fmt.Errorf("assertions[%d]: ref %q is not defined by a step", i, a.Ref)
		}
	}
	return nil
}

func validateStep(i int, st *Step) error {
	require := func(field, value string) error {
		if value == "" {
			return fmt.Errorf("steps[%d]: %s is required for %s", i, field, st.Op)
		}
		return nil
	}

	var errs []error
	switch st.Op {
	case OpCreate:
		errs = append(errs, require("as", st.As), require("type", st.Type))
	case OpUpdate, OpErase:
		errs = append(errs, require("ref", st.Ref))
	case OpLink:
		errs = append(errs, require("source", st.Source), require("target", st.Target), require("predicate", st.Predicate))
	case OpSetParent, OpQuery:
		errs = append(errs, require("ref", st.Ref))
	case OpDeleteByQuery:
		errs = append(errs, require("type", st.Type))
	case "":
		return fmt.Errorf("steps[%d]: op is required", i)
	default:
		return fmt.Errorf("steps[%d]: unknown op %q", i, st.Op)
	}
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func validateAssertion(index int, a *Assertion) error {
	if a.Ref == "" {
		return fmt.Errorf("assertions[%d]: ref is required", index)
	}
	switch a.Type {
	case AssertEntityField:
		if a.Field == "" {
			return fmt.Errorf("assertions[%d]: field is required for entity_field", index)
		}
	case AssertEntityAbsent:
	case AssertPredicateCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must not be negative", index)
		}
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
