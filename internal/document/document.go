// Package document defines the schemaless record model shared by every
// storage backend and the semantic layer above it.
//
// A Document is a JSON-shaped map. Values are restricted to the JSON data
// model after Normalize: string, int64, float64, bool, nil, []any and
// map[string]any (or Document).
package document

import (
	"fmt"
	"maps"
	"reflect"
)

// Standard metadata fields. They are maintained by the storage layer (or,
// for _parent, by the entity hierarchy) and are always legal on a record
// regardless of the record's template.
const (
	FieldID         = "_id"
	FieldVersion    = "_version"
	FieldCreated    = "_created"
	FieldLastUpdate = "_lastUpdate"
	FieldParent     = "_parent"
)

// StandardFields lists the metadata fields every record may carry.
var StandardFields = []string{FieldCreated, FieldLastUpdate, FieldVersion, FieldParent}

// IsStandardField reports whether name is a metadata field that bypasses
// template validation.
func IsStandardField(name string) bool {
	switch name {
	case FieldID, FieldCreated, FieldLastUpdate, FieldVersion, FieldParent:
		return true
	}
	return false
}

// Document is a single schemaless record.
type Document map[string]any

// Clone returns a shallow copy of d. A nil Document clones to nil.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	return maps.Clone(d)
}

// ID returns the record identifier stored under _id, or "".
func (d Document) ID() string {
	s, _ := d[FieldID].(string)
	return s
}

// Version returns the optimistic-concurrency counter, or 0 when absent.
func (d Document) Version() int64 {
	v, _ := AsInt64(d[FieldVersion])
	return v
}

// Merge assigns every field of src onto d; fields of src win.
func (d Document) Merge(src Document) {
	for k, v := range src {
		d[k] = v
	}
}

// Project returns a copy of d restricted to fields plus _id and _version.
// An empty field list returns a full copy.
func (d Document) Project(fields ...string) Document {
	if len(fields) == 0 {
		return d.Clone()
	}
	out := make(Document, len(fields)+2)
	for _, f := range fields {
		if v, ok := d[f]; ok {
			out[f] = v
		}
	}
	for _, f := range []string{FieldID, FieldVersion} {
		if v, ok := d[f]; ok {
			out[f] = v
		}
	}
	return out
}

// AsInt64 converts any integral JSON-model number to int64.
func AsInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case float64:
		if n == float64(int64(n)) {
			return int64(n), true
		}
	}
	return 0, false
}

// Normalize converts arbitrary Go values into the JSON data model used by
// Document. Integers widen to int64, float32 widens to float64, typed
// slices and string-keyed maps become []any and map[string]any.
func Normalize(v any) (any, error) {
	switch val := v.(type) {
	case nil, string, bool, int64, float64:
		return val, nil
	case int:
		return int64(val), nil
	case int8:
		return int64(val), nil
	case int16:
		return int64(val), nil
	case int32:
		return int64(val), nil
	case uint8:
		return int64(val), nil
	case uint16:
		return int64(val), nil
	case uint32:
		return int64(val), nil
	case float32:
		return float64(val), nil
	case Document:
		return normalizeMap(val)
	case map[string]any:
		return normalizeMap(val)
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			n, err := Normalize(elem)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = n
		}
		return out, nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := range rv.Len() {
			n, err := Normalize(rv.Index(i).Interface())
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = n
		}
		return out, nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, fmt.Errorf("unsupported map key type: %s", rv.Type().Key())
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			n, err := Normalize(iter.Value().Interface())
			if err != nil {
				return nil, fmt.Errorf("[%q]: %w", iter.Key().String(), err)
			}
			out[iter.Key().String()] = n
		}
		return out, nil
	case reflect.String:
		return rv.String(), nil
	}
	return nil, fmt.Errorf("unsupported type: %T", v)
}

func normalizeMap(m map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(m))
	for k, elem := range m {
		n, err := Normalize(elem)
		if err != nil {
			return nil, fmt.Errorf("[%q]: %w", k, err)
		}
		out[k] = n
	}
	return out, nil
}

// NormalizeDocument normalizes every value of d into a new Document.
func NormalizeDocument(d Document) (Document, error) {
	if d == nil {
		return nil, nil
	}
	m, err := normalizeMap(d)
	if err != nil {
		return nil, err
	}
	return Document(m), nil
}

// IsEmpty reports whether v carries no usable value: nil, "", or an empty
// map or slice. false and 0 are values.
func IsEmpty(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == ""
	case Document:
		return len(val) == 0
	case map[string]any:
		return len(val) == 0
	case []any:
		return len(val) == 0
	}
	return false
}
