package query

import (
	"fmt"

	"github.com/roach88/semantika/internal/document"
)

// Builder produces a filter from the parameters supplied with a named query.
type Builder func(params document.Document) (Filter, error)

// Dictionary holds named queries that read options may refer to by name.
type Dictionary map[string]Builder

// Resolve builds the filter for name. An empty name resolves to nil.
func (d Dictionary) Resolve(name string, params document.Document) (Filter, error) {
	if name == "" {
		return nil, nil
	}
	b, ok := d[name]
	if !ok {
		return nil, fmt.Errorf("unknown named query %q", name)
	}
	f, err := b(params)
	if err != nil {
		return nil, fmt.Errorf("named query %q: %w", name, err)
	}
	return f, nil
}
