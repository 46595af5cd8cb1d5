// Package querysql compiles selectors into parameterized SQLite queries over
// the JSON documents table.
//
// Only top-level fields push down: a dotted path may cross an array of
// objects, which a JSON path cannot follow, so selector.Validate sends
// those selectors to the in-memory scan. Within the fragment the WHERE
// clause returns exactly the rows selector.Match accepts; callers still
// re-check every row. Ordering by sort keys and the limit are applied
// after that check, in Go, because SQLite orders JSON types differently
// from the selector's total order.
package querysql

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/watchpatch/internal/ir"
	"github.com/roach88/watchpatch/internal/selector"
)

// ErrNotPushdown is returned for selectors outside the pushdown fragment.
// Callers fall back to scanning the collection.
var ErrNotPushdown = errors.New("selector cannot be pushed down to SQL")

// SQLCompiler compiles selectors to parameterized SQL for SQLite.
//
// CRITICAL: ALL queries include ORDER BY id for deterministic results.
// CRITICAL: All values and JSON paths are parameterized, never interpolated.
type SQLCompiler struct {
	// Table is the documents table. Defaults to "documents".
	Table string
}

// NewSQLCompiler creates a new SQLCompiler.
func NewSQLCompiler() *SQLCompiler {
	return &SQLCompiler{Table: "documents"}
}

// Compile returns the SELECT for documents of collection matching p.
// Rows have two columns: id and data, both canonical JSON text.
func (c *SQLCompiler) Compile(collection string, p selector.Predicate) (string, []any, error) {
	if result := selector.Validate(p); !result.Pushdown {
		return "", nil, fmt.Errorf("%w: %s", ErrNotPushdown, strings.Join(result.Warnings, "; "))
	}

	where, params, err := c.compilePredicate(p)
	if err != nil {
		return "", nil, err
	}

	sql := fmt.Sprintf("SELECT id, data FROM %s WHERE collection = ? AND (%s) ORDER BY %s",
		c.Table, where, c.stableOrderKey())
	return sql, append([]any{collection}, params...), nil
}

// CompileScan returns the SELECT for every document of collection, for the
// in-memory fallback.
func (c *SQLCompiler) CompileScan(collection string) (string, []any) {
	return fmt.Sprintf("SELECT id, data FROM %s WHERE collection = ? ORDER BY %s",
		c.Table, c.stableOrderKey()), []any{collection}
}

// stableOrderKey returns the ORDER BY clause.
// COLLATE BINARY ensures deterministic text ordering across SQLite versions.
func (c *SQLCompiler) stableOrderKey() string {
	return "id COLLATE BINARY ASC"
}

func (c *SQLCompiler) compilePredicate(p selector.Predicate) (string, []any, error) {
	if p == nil {
		return "1 = 1", nil, nil
	}

	switch pred := p.(type) {
	case selector.Compare:
		return c.compileCompare(pred)
	case *selector.Compare:
		return c.compileCompare(*pred)
	case selector.In:
		return c.compileIn(pred)
	case *selector.In:
		return c.compileIn(*pred)
	case selector.Exists:
		return c.compileExists(pred)
	case *selector.Exists:
		return c.compileExists(*pred)
	case selector.And:
		return c.compileJunction(pred.Predicates, " AND ", "1 = 1")
	case *selector.And:
		return c.compileJunction(pred.Predicates, " AND ", "1 = 1")
	case selector.Or:
		return c.compileJunction(pred.Predicates, " OR ", "1 = 0")
	case *selector.Or:
		return c.compileJunction(pred.Predicates, " OR ", "1 = 0")
	case selector.Nor:
		return c.negate(c.compileJunction(pred.Predicates, " OR ", "1 = 0"))
	case *selector.Nor:
		return c.negate(c.compileJunction(pred.Predicates, " OR ", "1 = 0"))
	case selector.Not:
		return c.negate(c.compilePredicate(pred.Predicate))
	case *selector.Not:
		return c.negate(c.compilePredicate(pred.Predicate))
	default:
		return "", nil, fmt.Errorf("%w: unsupported predicate type %T", ErrNotPushdown, p)
	}
}

func (c *SQLCompiler) compileJunction(preds []selector.Predicate, op, empty string) (string, []any, error) {
	if len(preds) == 0 {
		return empty, nil, nil
	}

	parts := make([]string, 0, len(preds))
	var params []any
	for _, p := range preds {
		sql, ps, err := c.compilePredicate(p)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, "("+sql+")")
		params = append(params, ps...)
	}
	return strings.Join(parts, op), params, nil
}

func (c *SQLCompiler) negate(sql string, params []any, err error) (string, []any, error) {
	if err != nil {
		return "", nil, err
	}
	return "NOT (" + sql + ")", params, nil
}

func (c *SQLCompiler) compileCompare(cmp selector.Compare) (string, []any, error) {
	switch cmp.Op {
	case selector.OpEq:
		return c.compileEq(cmp.Field, cmp.Value)
	case selector.OpNe:
		return c.negate(c.compileEq(cmp.Field, cmp.Value))
	}

	if isNull(cmp.Value) {
		if cmp.Op == selector.OpGte || cmp.Op == selector.OpLte {
			return c.compileEq(cmp.Field, cmp.Value)
		}
		return "1 = 0", nil, nil
	}

	var op string
	switch cmp.Op {
	case selector.OpGt:
		op = ">"
	case selector.OpGte:
		op = ">="
	case selector.OpLt:
		op = "<"
	case selector.OpLte:
		op = "<="
	default:
		return "", nil, fmt.Errorf("unsupported operator %s", cmp.Op)
	}

	path, err := jsonPath(cmp.Field)
	if err != nil {
		return "", nil, err
	}
	kind, err := kindClause(cmp.Value)
	if err != nil {
		return "", nil, err
	}
	param, err := irValueToParam(cmp.Value)
	if err != nil {
		return "", nil, err
	}

	return c.each(kind+" AND e.value "+op+" ?"), []any{path, path, param}, nil
}

// compileEq matches a scalar field equal to value, or an array field with
// an element equal to value. json_each yields the value itself for
// scalars and the elements for arrays.
func (c *SQLCompiler) compileEq(field string, value ir.IRValue) (string, []any, error) {
	path, err := jsonPath(field)
	if err != nil {
		return "", nil, err
	}

	if isNull(value) {
		sql := fmt.Sprintf("(json_type(%[1]s.data, ?) IS NULL OR json_type(%[1]s.data, ?) = 'null' OR %[2]s)",
			c.Table, c.each("e.type = 'null'"))
		return sql, []any{path, path, path, path}, nil
	}

	kind, err := kindClause(value)
	if err != nil {
		return "", nil, err
	}
	param, err := irValueToParam(value)
	if err != nil {
		return "", nil, err
	}

	return c.each(kind+" AND e.value = ?"), []any{path, path, param}, nil
}

// each iterates the value at a path: the elements of an array, or the value
// itself for a scalar. Objects are excluded so a condition never matches
// one of their members. It takes the path twice, then cond's parameters.
func (c *SQLCompiler) each(cond string) string {
	return fmt.Sprintf("EXISTS (SELECT 1 FROM json_each(%[1]s.data, ?) AS e WHERE json_type(%[1]s.data, ?) <> 'object' AND %[2]s)",
		c.Table, cond)
}

func (c *SQLCompiler) compileIn(in selector.In) (string, []any, error) {
	parts := make([]string, 0, len(in.Values))
	var params []any
	for _, v := range in.Values {
		sql, ps, err := c.compileEq(in.Field, v)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, "("+sql+")")
		params = append(params, ps...)
	}

	sql := "1 = 0"
	if len(parts) > 0 {
		sql = strings.Join(parts, " OR ")
	}
	if in.Negate {
		return "NOT (" + sql + ")", params, nil
	}
	return sql, params, nil
}

func (c *SQLCompiler) compileExists(ex selector.Exists) (string, []any, error) {
	path, err := jsonPath(ex.Field)
	if err != nil {
		return "", nil, err
	}
	if ex.Exists {
		return fmt.Sprintf("json_type(%s.data, ?) IS NOT NULL", c.Table), []any{path}, nil
	}
	return fmt.Sprintf("json_type(%s.data, ?) IS NULL", c.Table), []any{path}, nil
}

// jsonPath converts a dotted field to a quoted SQLite JSON path:
// "author.name" -> `$."author"."name"`.
func jsonPath(field string) (string, error) {
	if field == "" {
		return "", fmt.Errorf("%w: empty field path", ErrNotPushdown)
	}
	var b strings.Builder
	b.WriteString("$")
	for _, seg := range strings.Split(field, ".") {
		if seg == "" || strings.ContainsAny(seg, "\"\\") {
			return "", fmt.Errorf("%w: field %q cannot be expressed as a JSON path", ErrNotPushdown, field)
		}
		b.WriteString(`."`)
		b.WriteString(seg)
		b.WriteString(`"`)
	}
	return b.String(), nil
}

// kindClause restricts json_each rows to the JSON types comparable with v.
func kindClause(v ir.IRValue) (string, error) {
	switch v.(type) {
	case ir.IRInt, ir.IRFloat:
		return "e.type IN ('integer', 'real')", nil
	case ir.IRString:
		return "e.type = 'text'", nil
	case ir.IRBool:
		return "e.type IN ('true', 'false')", nil
	default:
		return "", fmt.Errorf("%w: %s value", ErrNotPushdown, ir.TypeName(v))
	}
}

func isNull(v ir.IRValue) bool {
	switch v.(type) {
	case nil, ir.IRNull:
		return true
	}
	return false
}

// irValueToParam converts a scalar ir.IRValue to a Go value for a SQL
// parameter. Booleans bind as 0/1, which is how json_each reports them.
func irValueToParam(v ir.IRValue) (any, error) {
	switch val := v.(type) {
	case ir.IRString:
		return string(val), nil
	case ir.IRInt:
		return int64(val), nil
	case ir.IRFloat:
		return float64(val), nil
	case ir.IRBool:
		if val {
			return int64(1), nil
		}
		return int64(0), nil
	case ir.IRNull:
		return nil, nil
	case ir.IRArray:
		return nil, fmt.Errorf("%w: IRArray cannot be used as SQL parameter directly", ErrNotPushdown)
	case ir.IRObject:
		return nil, fmt.Errorf("%w: IRObject cannot be used as SQL parameter directly", ErrNotPushdown)
	default:
		return nil, fmt.Errorf("unsupported IRValue type for SQL parameter: %T", v)
	}
}
