// Package query is a backend-agnostic filter representation for document
// collections.
//
// Filters are built directly (Eq, In, And, ...) or parsed from the
// Mongo-style maps the semantic layer composes (FromMap). Backends compile
// them (see querysql) or evaluate them in memory (Match).
package query

import (
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/semantika/internal/document"
)

// Filter is a predicate over documents.
//
// This is a sealed interface - only types in this package implement it, so
// backend compilers can switch exhaustively. A nil Filter matches every
// document.
type Filter interface {
	filterNode()
}

// Eq matches documents whose Field equals Value. A nil Value matches
// documents where the field is absent or null.
type Eq struct {
	Field string
	Value any
}

// Ne matches documents whose Field differs from Value.
type Ne struct {
	Field string
	Value any
}

// In matches documents whose Field equals any of Values. An empty list
// matches nothing.
type In struct {
	Field  string
	Values []any
}

// Exists matches documents where Field is present (and non-null) when
// Present is true, or absent when false.
type Exists struct {
	Field   string
	Present bool
}

// And matches when every filter matches. An empty And matches everything.
type And struct {
	Filters []Filter
}

// Or matches when any filter matches. An empty Or matches nothing.
type Or struct {
	Filters []Filter
}

func (Eq) filterNode()     {}
func (Ne) filterNode()     {}
func (In) filterNode()     {}
func (Exists) filterNode() {}
func (And) filterNode()    {}
func (Or) filterNode()     {}

// All conjoins filters, dropping nil entries. It returns nil when nothing
// is left and the single filter when only one remains.
func All(filters ...Filter) Filter {
	kept := make([]Filter, 0, len(filters))
	for _, f := range filters {
		if f != nil {
			kept = append(kept, f)
		}
	}
	switch len(kept) {
	case 0:
		return nil
	case 1:
		return kept[0]
	}
	return And{Filters: kept}
}

// OneOf returns Eq for a single value and In otherwise.
func OneOf(field string, values ...string) Filter {
	if len(values) == 1 {
		return Eq{Field: field, Value: values[0]}
	}
	vals := make([]any, len(values))
	for i, v := range values {
		vals[i] = v
	}
	return In{Field: field, Values: vals}
}

// FromMap parses a Mongo-style filter document:
//
//	{"name": "x"}                          equality
//	{"name": {"$in": [...]}}               membership
//	{"name": {"$ne": v}}                   inequality
//	{"name": {"$exists": true}}            presence
//	{"$or": [{...}, {...}]}                disjunction
//	{"$and": [{...}, {...}]}               conjunction
//
// Multiple top-level keys are conjoined in sorted key order so the result
// is deterministic. A nil or empty map yields a nil Filter.
func FromMap(m map[string]any) (Filter, error) {
	if len(m) == 0 {
		return nil, nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []Filter
	for _, k := range keys {
		f, err := parseEntry(k, m[k])
		if err != nil {
			return nil, err
		}
		parts = append(parts, f)
	}
	if len(parts) == 1 {
		return parts[0], nil
	}
	return And{Filters: parts}, nil
}

func parseEntry(key string, val any) (Filter, error) {
	switch key {
	case "$or", "$and":
		subs, err := parseList(key, val)
		if err != nil {
			return nil, err
		}
		if key == "$or" {
			return Or{Filters: subs}, nil
		}
		return And{Filters: subs}, nil
	}
	if strings.HasPrefix(key, "$") {
		return nil, fmt.Errorf("unsupported operator %q", key)
	}

	ops, ok := asMap(val)
	if !ok || !hasOperatorKeys(ops) {
		return Eq{Field: key, Value: val}, nil
	}

	opKeys := make([]string, 0, len(ops))
	for k := range ops {
		opKeys = append(opKeys, k)
	}
	sort.Strings(opKeys)

	var parts []Filter
	for _, op := range opKeys {
		arg := ops[op]
		switch op {
		case "$eq":
			parts = append(parts, Eq{Field: key, Value: arg})
		case "$ne":
			parts = append(parts, Ne{Field: key, Value: arg})
		case "$in":
			vals, ok := asList(arg)
			if !ok {
				return nil, fmt.Errorf("%s: $in expects a list, got %T", key, arg)
			}
			parts = append(parts, In{Field: key, Values: vals})
		case "$exists":
			b, ok := arg.(bool)
			if !ok {
				return nil, fmt.Errorf("%s: $exists expects a bool, got %T", key, arg)
			}
			parts = append(parts, Exists{Field: key, Present: b})
		default:
			return nil, fmt.Errorf("%s: unsupported operator %q", key, op)
		}
	}
	return All(parts...), nil
}

func parseList(op string, val any) ([]Filter, error) {
	items, ok := asList(val)
	if !ok {
		return nil, fmt.Errorf("%s expects a list, got %T", op, val)
	}
	subs := make([]Filter, 0, len(items))
	for i, item := range items {
		m, ok := asMap(item)
		if !ok {
			return nil, fmt.Errorf("%s[%d]: expected a filter object, got %T", op, i, item)
		}
		f, err := FromMap(m)
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", op, i, err)
		}
		if f == nil {
			f = And{}
		}
		subs = append(subs, f)
	}
	return subs, nil
}

func hasOperatorKeys(m map[string]any) bool {
	if len(m) == 0 {
		return false
	}
	for k := range m {
		if !strings.HasPrefix(k, "$") {
			return false
		}
	}
	return true
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case document.Document:
		return m, true
	}
	return nil, false
}

func asList(v any) ([]any, bool) {
	switch l := v.(type) {
	case []any:
		return l, true
	case []string:
		out := make([]any, len(l))
		for i, s := range l {
			out[i] = s
		}
		return out, true
	}
	return nil, false
}

// SortKey orders results (or declares an index column) by Field.
type SortKey struct {
	Field string
	Desc  bool
}
