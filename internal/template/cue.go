package template

import (
	"fmt"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

// CUEValidator checks values against a CUE constraint such as
// `string & !=""` or `int & >=0 & <=150`.
type CUEValidator struct {
	expr string

	mu     sync.Mutex // cue values are not safe for concurrent use
	schema cue.Value
}

// CUE compiles expr into a validator.
func CUE(expr string) (*CUEValidator, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(expr)
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile constraint %q: %s", expr, strings.TrimSpace(cueerrors.Details(err, nil)))
	}
	return &CUEValidator{expr: expr, schema: schema}, nil
}

// MustCUE is CUE that panics on an invalid expression. Intended for
// package-level templates.
func MustCUE(expr string) *CUEValidator {
	v, err := CUE(expr)
	if err != nil {
		panic(err)
	}
	return v
}

// Expr returns the constraint source.
func (v *CUEValidator) Expr() string {
	return v.expr
}

// Validate unifies value with the constraint and requires a concrete
// result. The value is returned unchanged on success.
func (v *CUEValidator) Validate(value any) (any, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	encoded := v.schema.Context().Encode(value)
	if err := encoded.Err(); err != nil {
		return nil, fmt.Errorf("encode %T: %w", value, err)
	}
	unified := v.schema.Unify(encoded)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("%s", strings.TrimSpace(cueerrors.Details(err, nil)))
	}
	return value, nil
}
