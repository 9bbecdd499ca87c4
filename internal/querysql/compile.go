// Package querysql compiles query filters into parameterized SQLite SQL over
// tables of JSON documents.
//
// Every collection table has the shape (id TEXT PRIMARY KEY, version
// INTEGER, doc TEXT). The _id and _version fields map to columns; every
// other field is addressed with json_extract on the doc column.
package querysql

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/roach88/semantika/internal/document"
	"github.com/roach88/semantika/internal/query"
)

// Columns selected by every document read, in scan order.
const Columns = "id, version, doc"

// stableOrderKey is appended to every ORDER BY so pagination is
// deterministic. COLLATE BINARY keeps text ordering stable across SQLite
// versions.
const stableOrderKey = "id ASC COLLATE BINARY"

var fieldSegment = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_\-$]*$`)

// Compiler turns filters, sort keys and index declarations into SQL.
//
// Values are never interpolated: every literal becomes a ? parameter.
// Field names are validated before they are embedded in JSON paths.
type Compiler struct{}

// NewCompiler creates a Compiler.
func NewCompiler() *Compiler {
	return &Compiler{}
}

// Page bounds a SELECT. A zero Limit means unbounded.
type Page struct {
	Limit  int
	Offset int
}

// Select compiles a full document read.
func (c *Compiler) Select(table string, f query.Filter, sort []query.SortKey, page Page) (string, []any, error) {
	where, params, err := c.Where(f)
	if err != nil {
		return "", nil, err
	}
	order, err := c.OrderBy(sort)
	if err != nil {
		return "", nil, err
	}
	sql := fmt.Sprintf("SELECT %s FROM %s WHERE %s ORDER BY %s", Columns, QuoteIdent(table), where, order)
	switch {
	case page.Limit > 0:
		sql += " LIMIT ? OFFSET ?"
		params = append(params, page.Limit, page.Offset)
	case page.Offset > 0:
		sql += " LIMIT -1 OFFSET ?"
		params = append(params, page.Offset)
	}
	return sql, params, nil
}

// Count compiles a COUNT(*) over matching rows.
func (c *Compiler) Count(table string, f query.Filter) (string, []any, error) {
	where, params, err := c.Where(f)
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", QuoteIdent(table), where), params, nil
}

// Distinct compiles a query for the distinct non-null values of field,
// ordered for determinism.
func (c *Compiler) Distinct(table, field string, f query.Filter) (string, []any, error) {
	expr, err := c.FieldExpr(field)
	if err != nil {
		return "", nil, err
	}
	where, params, err := c.Where(f)
	if err != nil {
		return "", nil, err
	}
	sql := fmt.Sprintf("SELECT DISTINCT %s FROM %s WHERE %s AND %s IS NOT NULL ORDER BY 1",
		expr, QuoteIdent(table), where, expr)
	return sql, params, nil
}

// Delete compiles a DELETE of matching rows returning their ids.
func (c *Compiler) Delete(table string, f query.Filter) (string, []any, error) {
	where, params, err := c.Where(f)
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("DELETE FROM %s WHERE %s RETURNING id", QuoteIdent(table), where), params, nil
}

// CreateIndex compiles an idempotent index declaration. When name is empty
// one is derived from the table and key fields.
func (c *Compiler) CreateIndex(table, name string, keys []query.SortKey, unique bool) (string, error) {
	if len(keys) == 0 {
		return "", fmt.Errorf("index on %s: no keys", table)
	}
	cols := make([]string, len(keys))
	fields := make([]string, len(keys))
	for i, k := range keys {
		expr, err := c.FieldExpr(k.Field)
		if err != nil {
			return "", fmt.Errorf("index on %s: %w", table, err)
		}
		cols[i] = expr + direction(k.Desc)
		fields[i] = k.Field
	}
	if name == "" {
		name = IndexName(table, fields)
	}
	kind := "INDEX"
	if unique {
		kind = "UNIQUE INDEX"
	}
	return fmt.Sprintf("CREATE %s IF NOT EXISTS %s ON %s (%s)",
		kind, QuoteIdent(name), QuoteIdent(table), strings.Join(cols, ", ")), nil
}

// IndexName derives the default index name for fields on table.
func IndexName(table string, fields []string) string {
	return "idx_" + table + "_" + strings.Join(fields, "_")
}

// OrderBy compiles sort keys and always appends the id tiebreaker.
func (c *Compiler) OrderBy(sort []query.SortKey) (string, error) {
	parts := make([]string, 0, len(sort)+1)
	for _, k := range sort {
		expr, err := c.FieldExpr(k.Field)
		if err != nil {
			return "", fmt.Errorf("sort: %w", err)
		}
		parts = append(parts, expr+direction(k.Desc))
	}
	parts = append(parts, stableOrderKey)
	return strings.Join(parts, ", "), nil
}

// Where compiles a filter to a WHERE fragment. A nil filter is "1 = 1".
func (c *Compiler) Where(f query.Filter) (string, []any, error) {
	switch q := f.(type) {
	case nil:
		return "1 = 1", nil, nil
	case query.Eq:
		return c.compileEq(q)
	case query.Ne:
		return c.compileNe(q)
	case query.In:
		return c.compileIn(q)
	case query.Exists:
		expr, err := c.FieldExpr(q.Field)
		if err != nil {
			return "", nil, err
		}
		if q.Present {
			return expr + " IS NOT NULL", nil, nil
		}
		return expr + " IS NULL", nil, nil
	case query.And:
		return c.compileJunction(q.Filters, " AND ", "1 = 1")
	case query.Or:
		return c.compileJunction(q.Filters, " OR ", "0 = 1")
	default:
		return "", nil, fmt.Errorf("unsupported filter type: %T", f)
	}
}

func (c *Compiler) compileEq(eq query.Eq) (string, []any, error) {
	expr, err := c.FieldExpr(eq.Field)
	if err != nil {
		return "", nil, err
	}
	if eq.Value == nil {
		return expr + " IS NULL", nil, nil
	}
	param, err := toParam(eq.Value)
	if err != nil {
		return "", nil, fmt.Errorf("%s: %w", eq.Field, err)
	}
	return expr + " = ?", []any{param}, nil
}

func (c *Compiler) compileNe(ne query.Ne) (string, []any, error) {
	expr, err := c.FieldExpr(ne.Field)
	if err != nil {
		return "", nil, err
	}
	if ne.Value == nil {
		return expr + " IS NOT NULL", nil, nil
	}
	param, err := toParam(ne.Value)
	if err != nil {
		return "", nil, fmt.Errorf("%s: %w", ne.Field, err)
	}
	return fmt.Sprintf("(%s IS NULL OR %s != ?)", expr, expr), []any{param}, nil
}

func (c *Compiler) compileIn(in query.In) (string, []any, error) {
	expr, err := c.FieldExpr(in.Field)
	if err != nil {
		return "", nil, err
	}
	if len(in.Values) == 0 {
		return "0 = 1", nil, nil
	}
	marks := make([]string, len(in.Values))
	params := make([]any, len(in.Values))
	for i, v := range in.Values {
		p, err := toParam(v)
		if err != nil {
			return "", nil, fmt.Errorf("%s[%d]: %w", in.Field, i, err)
		}
		marks[i] = "?"
		params[i] = p
	}
	return fmt.Sprintf("%s IN (%s)", expr, strings.Join(marks, ", ")), params, nil
}

func (c *Compiler) compileJunction(filters []query.Filter, op, empty string) (string, []any, error) {
	if len(filters) == 0 {
		return empty, nil, nil
	}
	parts := make([]string, 0, len(filters))
	var params []any
	for _, sub := range filters {
		sql, p, err := c.Where(sub)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, "("+sql+")")
		params = append(params, p...)
	}
	return strings.Join(parts, op), params, nil
}

// FieldExpr returns the SQL expression addressing a document field. Dotted
// names address nested objects.
func (c *Compiler) FieldExpr(field string) (string, error) {
	switch field {
	case document.FieldID:
		return "id", nil
	case document.FieldVersion:
		return "version", nil
	}
	segments := strings.Split(field, ".")
	path := "$"
	for _, s := range segments {
		if !fieldSegment.MatchString(s) {
			return "", fmt.Errorf("invalid field name %q", field)
		}
		path += `."` + s + `"`
	}
	return "json_extract(doc, '" + path + "')", nil
}

// QuoteIdent quotes a table or index name.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func direction(desc bool) string {
	if desc {
		return " DESC"
	}
	return " ASC"
}

// toParam converts a filter value into a SQL parameter. Objects and arrays
// compare against json_extract's minified text, which matches the canonical
// encoding they were stored with.
func toParam(v any) (any, error) {
	n, err := document.Normalize(v)
	if err != nil {
		return nil, err
	}
	switch val := n.(type) {
	case string, int64, float64:
		return val, nil
	case bool:
		if val {
			return int64(1), nil
		}
		return int64(0), nil
	case []any, map[string]any:
		b, err := document.MarshalCanonical(val)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	}
	return nil, fmt.Errorf("unsupported parameter type %T", v)
}
