package query

import (
	"reflect"

	"github.com/roach88/semantika/internal/document"
)

// Match evaluates f against doc in memory using the same semantics the SQL
// backend implements. Values are compared after normalization, so int and
// int64 of the same magnitude are equal.
func Match(f Filter, doc document.Document) bool {
	switch q := f.(type) {
	case nil:
		return true
	case Eq:
		v, ok := doc[q.Field]
		if q.Value == nil {
			return !ok || v == nil
		}
		return ok && equal(v, q.Value)
	case Ne:
		v, ok := doc[q.Field]
		if q.Value == nil {
			return ok && v != nil
		}
		return !ok || !equal(v, q.Value)
	case In:
		v, ok := doc[q.Field]
		if !ok {
			return false
		}
		for _, want := range q.Values {
			if equal(v, want) {
				return true
			}
		}
		return false
	case Exists:
		v, ok := doc[q.Field]
		return (ok && v != nil) == q.Present
	case And:
		for _, sub := range q.Filters {
			if !Match(sub, doc) {
				return false
			}
		}
		return true
	case Or:
		for _, sub := range q.Filters {
			if Match(sub, doc) {
				return true
			}
		}
		return false
	}
	return false
}

func equal(a, b any) bool {
	na, errA := document.Normalize(a)
	nb, errB := document.Normalize(b)
	if errA != nil || errB != nil {
		return false
	}
	if fa, ok := na.(float64); ok {
		if ib, ok := nb.(int64); ok {
			return fa == float64(ib)
		}
	}
	if ia, ok := na.(int64); ok {
		if fb, ok := nb.(float64); ok {
			return float64(ia) == fb
		}
	}
	return reflect.DeepEqual(na, nb)
}
