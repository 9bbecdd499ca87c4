package harness

import (
	"context"
	"fmt"
	"reflect"

	"github.com/roach88/semantika/internal/document"
	"github.com/roach88/semantika/internal/semantic"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Ref      string
	Expected string
	Actual   string
}

func (e *AssertionError) Error() string {
	return fmt.Sprintf("assertion %s on %s failed: expected %s, got %s", e.Type, e.Ref, e.Expected, e.Actual)
}

// evaluateAssertions checks every assertion and returns one message per
// failure.
func (h *Harness) evaluateAssertions(ctx context.Context, assertions []Assertion) []string {
	var failures []string
	for i, a := range assertions {
		if err := h.evaluate(ctx, a); err != nil {
			failures = append(failures, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return failures
}

func (h *Harness) evaluate(ctx context.Context, a Assertion) error {
	r, ok := h.refs[a.Ref]
	if !ok {
		return fmt.Errorf("nothing named %q was created", a.Ref)
	}

	switch a.Type {
	case AssertEntityField:
		return h.assertEntityField(ctx, r, a)
	case AssertEntityAbsent:
		return h.assertEntityAbsent(ctx, r, a)
	case AssertPredicateCount:
		return h.assertPredicateCount(ctx, r, a)
	default:
		return fmt.Errorf("unknown assertion type: %s", a.Type)
	}
}

func (h *Harness) assertEntityField(ctx context.Context, r ref, a Assertion) error {
	e, err := h.pkg.LoadEntityByID(ctx, r.id)
	if err != nil {
		return err
	}
	if e == nil {
		return &AssertionError{Type: a.Type, Ref: a.Ref, Expected: "a stored entity", Actual: "no entity"}
	}
	got, err := e.GetField(ctx, a.Field)
	if err != nil {
		return err
	}
	want, err := document.Normalize(a.Value)
	if err != nil {
		return fmt.Errorf("value: %w", err)
	}
	if !reflect.DeepEqual(want, got) {
		return &AssertionError{
			Type:     a.Type,
			Ref:      a.Ref,
			Expected: fmt.Sprintf("%s = %#v", a.Field, want),
			Actual:   fmt.Sprintf("%#v", got),
		}
	}
	return nil
}

func (h *Harness) assertEntityAbsent(ctx context.Context, r ref, a Assertion) error {
	if r.predicate {
		pr, err := h.pkg.PredicateByID(ctx, r.id)
		if err != nil {
			return err
		}
		if pr != nil {
			return &AssertionError{Type: a.Type, Ref: a.Ref, Expected: "no predicate", Actual: pr.ID()}
		}
		return nil
	}
	e, err := h.pkg.LoadEntityByID(ctx, r.id)
	if err != nil {
		return err
	}
	if e != nil {
		return &AssertionError{Type: a.Type, Ref: a.Ref, Expected: "no entity", Actual: e.ID()}
	}
	return nil
}

func (h *Harness) assertPredicateCount(ctx context.Context, r ref, a Assertion) error {
	preds, err := h.pkg.FindPredicates(ctx, a.Incoming, a.Predicate, r.id, semantic.FindPredicatesOptions{})
	if err != nil {
		return err
	}
	if len(preds) != a.Count {
		return &AssertionError{
			Type:     a.Type,
			Ref:      a.Ref,
			Expected: fmt.Sprintf("%d %s predicates", a.Count, a.Predicate),
			Actual:   fmt.Sprintf("%d", len(preds)),
		}
	}
	return nil
}
