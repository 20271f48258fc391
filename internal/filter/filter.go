// Package filter compiles the MongoDB-style metadata filter expression
// tree of §4.8 into a parameterised PostgreSQL JSONB SQL fragment. No
// example repo in the pack carries this component verbatim — it is built
// directly from the specification's semantics table, with parameter
// binding discipline (never interpolate a literal) borrowed from how
// intelligencedev-manifold's postgres_vector.go and pool.go issue every
// query through pgx placeholders rather than string formatting values.
package filter

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"ragcore/internal/ragerr"
)

// validFieldName matches the only characters a filter field name may
// contain. Field names are interpolated directly into generated SQL (the
// JSONB key literal and the top-level column name), so unlike operator
// values they cannot go through a bind parameter — this whitelist is what
// stands in place of parameterisation for that position.
var validFieldName = regexp.MustCompile(`^[A-Za-z0-9_.]+$`)

// topLevelColumns are document columns addressed directly instead of
// through user_metadata->>.
var topLevelColumns = map[string]struct{}{
	"uploaded_by":  {},
	"uploaded_at":  {},
	"mime_type":    {},
	"filename":     {},
	"content_hash": {},
}

var comparisonOps = map[string]struct{}{
	"$eq": {}, "$ne": {}, "$gt": {}, "$gte": {}, "$lt": {}, "$lte": {},
	"$in": {}, "$nin": {}, "$all": {}, "$exists": {},
}

// Compiler compiles filter expression trees against a configurable table
// alias.
type Compiler struct {
	Alias string
}

// New returns a Compiler targeting the given table alias (defaults to "d").
func New(alias string) *Compiler {
	if alias == "" {
		alias = "d"
	}
	return &Compiler{Alias: alias}
}

// Compiled is a parameterised SQL fragment: SQL uses $1, $2, ... and Args
// holds the bound values in order.
type Compiled struct {
	SQL  string
	Args []any
}

// argBinder accumulates bound parameters and assigns them placeholders,
// continuing numbering from an existing offset so a caller can splice the
// fragment into a larger query (e.g. after a similarity-floor parameter).
type argBinder struct {
	args   []any
	offset int
}

func (b *argBinder) bind(v any) string {
	b.args = append(b.args, v)
	return fmt.Sprintf("$%d", b.offset+len(b.args))
}

// Compile compiles expr into a SQL boolean fragment. An empty or nil expr
// compiles to "TRUE". offset is the number of already-bound parameters in
// the enclosing query (pass 0 if this is the first use of placeholders).
func (c *Compiler) Compile(expr map[string]any, offset int) (Compiled, error) {
	if len(expr) == 0 {
		return Compiled{SQL: "TRUE"}, nil
	}
	b := &argBinder{offset: offset}
	sql, err := c.compileNode(expr, b)
	if err != nil {
		return Compiled{}, err
	}
	return Compiled{SQL: sql, Args: b.args}, nil
}

func (c *Compiler) compileNode(node map[string]any, b *argBinder) (string, error) {
	// Logical operators take priority when present as the sole key.
	if v, ok := node["$and"]; ok && len(node) == 1 {
		return c.compileLogical("AND", v, b)
	}
	if v, ok := node["$or"]; ok && len(node) == 1 {
		return c.compileLogical("OR", v, b)
	}
	if v, ok := node["$not"]; ok && len(node) == 1 {
		sub, ok := v.(map[string]any)
		if !ok {
			return "", ragerr.New(ragerr.KindFilterParse, "$not requires an object subtree")
		}
		inner, err := c.compileNode(sub, b)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("NOT (%s)", inner), nil
	}

	// Otherwise every key is a field (implicit AND across sibling fields).
	fields := make([]string, 0, len(node))
	for field := range node {
		fields = append(fields, field)
	}
	sort.Strings(fields) // deterministic SQL for tests/logging

	clauses := make([]string, 0, len(fields))
	for _, field := range fields {
		clause, err := c.compileField(field, node[field], b)
		if err != nil {
			return "", err
		}
		clauses = append(clauses, clause)
	}
	if len(clauses) == 1 {
		return clauses[0], nil
	}
	return "(" + strings.Join(clauses, " AND ") + ")", nil
}

func (c *Compiler) compileLogical(joiner string, v any, b *argBinder) (string, error) {
	list, ok := v.([]any)
	if !ok || len(list) == 0 {
		return "", ragerr.New(ragerr.KindFilterParse, fmt.Sprintf("$%s requires a non-empty array", strings.ToLower(joiner)))
	}
	parts := make([]string, 0, len(list))
	for _, item := range list {
		sub, ok := item.(map[string]any)
		if !ok {
			return "", ragerr.New(ragerr.KindFilterParse, "logical operator children must be objects")
		}
		compiled, err := c.compileNode(sub, b)
		if err != nil {
			return "", err
		}
		parts = append(parts, compiled)
	}
	return "(" + strings.Join(parts, " "+joiner+" ") + ")", nil
}

func (c *Compiler) compileField(field string, value any, b *argBinder) (string, error) {
	if !validFieldName.MatchString(field) {
		return "", ragerr.New(ragerr.KindFilterParse, fmt.Sprintf("field %q contains characters outside [A-Za-z0-9_.]", field))
	}
	ref := c.fieldRef(field)

	opMap, isOpMap := value.(map[string]any)
	if !isOpMap {
		// implicit $eq
		return fmt.Sprintf("%s = %s", ref.eqExpr(), b.bind(ref.eqValue(value))), nil
	}

	if len(opMap) != 1 {
		return "", ragerr.New(ragerr.KindFilterParse, fmt.Sprintf("field %q: operator object must have exactly one key", field))
	}
	var op string
	var opVal any
	for k, v := range opMap {
		op, opVal = k, v
	}
	if _, ok := comparisonOps[op]; !ok {
		return "", ragerr.New(ragerr.KindFilterParse, fmt.Sprintf("unsupported operator %q on field %q", op, field))
	}

	switch op {
	case "$eq":
		return fmt.Sprintf("%s = %s", ref.eqExpr(), b.bind(ref.eqValue(opVal))), nil
	case "$ne":
		return fmt.Sprintf("%s != %s", ref.eqExpr(), b.bind(ref.eqValue(opVal))), nil
	case "$gt", "$gte", "$lt", "$lte":
		sym := map[string]string{"$gt": ">", "$gte": ">=", "$lt": "<", "$lte": "<="}[op]
		return fmt.Sprintf("%s %s %s", ref.numericExpr(), sym, b.bind(opVal)), nil
	case "$in":
		if ref.isTopLevel {
			return fmt.Sprintf("%s::text = ANY(%s::text[])", ref.column(), b.bind(opVal)), nil
		}
		return fmt.Sprintf("%s ?| %s::text[]", ref.jsonExpr(), b.bind(opVal)), nil
	case "$nin":
		if ref.isTopLevel {
			return fmt.Sprintf("NOT (%s::text = ANY(%s::text[]))", ref.column(), b.bind(opVal)), nil
		}
		return fmt.Sprintf("NOT (%s ?| %s::text[])", ref.jsonExpr(), b.bind(opVal)), nil
	case "$all":
		if ref.isTopLevel {
			return fmt.Sprintf("%s::text = ALL(%s::text[])", ref.column(), b.bind(opVal)), nil
		}
		return fmt.Sprintf("%s ?& %s::text[]", ref.jsonExpr(), b.bind(opVal)), nil
	case "$exists":
		want, _ := opVal.(bool)
		existsExpr := fmt.Sprintf("%s ? '%s'", c.userMetadataColumn(), field)
		if ref.isTopLevel {
			existsExpr = fmt.Sprintf("%s IS NOT NULL", ref.column())
		}
		if want {
			return existsExpr, nil
		}
		return fmt.Sprintf("NOT (%s)", existsExpr), nil
	default:
		return "", ragerr.New(ragerr.KindFilterParse, fmt.Sprintf("unsupported operator %q", op))
	}
}

func (c *Compiler) fieldRef(field string) fieldRef {
	_, top := topLevelColumns[field]
	return fieldRef{alias: c.Alias, field: field, isTopLevel: top}
}

func (c *Compiler) userMetadataColumn() string {
	return fmt.Sprintf("%s.user_metadata", c.Alias)
}

type fieldRef struct {
	alias      string
	field      string
	isTopLevel bool
}

func (r fieldRef) column() string {
	return fmt.Sprintf("%s.%s", r.alias, r.field)
}

// eqExpr is the SQL text-typed expression used for $eq/$ne comparisons.
func (r fieldRef) eqExpr() string {
	if r.isTopLevel {
		return r.column()
	}
	return fmt.Sprintf("%s.user_metadata->>'%s'", r.alias, r.field)
}

// eqValue coerces the bound value to a string for a top-level text column
// comparison or a JSONB ->> text comparison; both compare as text.
func (r fieldRef) eqValue(v any) any {
	return fmt.Sprintf("%v", v)
}

func (r fieldRef) numericExpr() string {
	if r.isTopLevel {
		return fmt.Sprintf("%s::numeric", r.column())
	}
	return fmt.Sprintf("(%s.user_metadata->>'%s')::numeric", r.alias, r.field)
}

func (r fieldRef) jsonExpr() string {
	return fmt.Sprintf("%s.user_metadata->'%s'", r.alias, r.field)
}
