package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompileEmptyIsTrue(t *testing.T) {
	c := New("d")
	compiled, err := c.Compile(nil, 0)
	require.NoError(t, err)
	assert.Equal(t, "TRUE", compiled.SQL)
}

func TestCompileImplicitEq(t *testing.T) {
	c := New("d")
	compiled, err := c.Compile(map[string]any{"department": "security"}, 0)
	require.NoError(t, err)
	assert.Contains(t, compiled.SQL, "d.user_metadata->>'department'")
	assert.Equal(t, []any{"security"}, compiled.Args)
}

func TestCompileTopLevelColumnNotJSON(t *testing.T) {
	c := New("d")
	compiled, err := c.Compile(map[string]any{"uploaded_by": "alice@company.com"}, 0)
	require.NoError(t, err)
	assert.Contains(t, compiled.SQL, "d.uploaded_by")
	assert.NotContains(t, compiled.SQL, "user_metadata")
}

func TestCompileComparisonOperators(t *testing.T) {
	c := New("d")
	compiled, err := c.Compile(map[string]any{"price": map[string]any{"$gte": 100}}, 0)
	require.NoError(t, err)
	assert.Contains(t, compiled.SQL, "::numeric >=")
}

func TestCompileInOperator(t *testing.T) {
	c := New("d")
	compiled, err := c.Compile(map[string]any{"tags": map[string]any{"$in": []any{"a", "b"}}}, 0)
	require.NoError(t, err)
	assert.Contains(t, compiled.SQL, "?|")
}

func TestCompileAndOr(t *testing.T) {
	c := New("d")
	expr := map[string]any{
		"$and": []any{
			map[string]any{"uploaded_by": "alice@company.com"},
			map[string]any{"$or": []any{
				map[string]any{"category": "a"},
				map[string]any{"category": "b"},
			}},
		},
	}
	compiled, err := c.Compile(expr, 0)
	require.NoError(t, err)
	assert.Contains(t, compiled.SQL, "AND")
	assert.Contains(t, compiled.SQL, "OR")
}

func TestCompileNot(t *testing.T) {
	c := New("d")
	compiled, err := c.Compile(map[string]any{"$not": map[string]any{"department": "security"}}, 0)
	require.NoError(t, err)
	assert.True(t, len(compiled.SQL) > 4 && compiled.SQL[:4] == "NOT ")
}

func TestCompileExists(t *testing.T) {
	c := New("d")
	compiled, err := c.Compile(map[string]any{"department": map[string]any{"$exists": true}}, 0)
	require.NoError(t, err)
	assert.Contains(t, compiled.SQL, "?")
}

func TestCompileRejectsUnsupportedOperator(t *testing.T) {
	c := New("d")
	_, err := c.Compile(map[string]any{"f": map[string]any{"$regex": "x"}}, 0)
	require.Error(t, err)
}

func TestCompileOffsetContinuesNumbering(t *testing.T) {
	c := New("d")
	compiled, err := c.Compile(map[string]any{"department": "security"}, 2)
	require.NoError(t, err)
	assert.Contains(t, compiled.SQL, "$3")
}

func TestCompileNeverInterpolatesLiterals(t *testing.T) {
	c := New("d")
	compiled, err := c.Compile(map[string]any{"department": "'; DROP TABLE documents; --"}, 0)
	require.NoError(t, err)
	assert.NotContains(t, compiled.SQL, "DROP TABLE")
	assert.Contains(t, compiled.Args, "'; DROP TABLE documents; --")
}

func TestCompileRejectsMaliciousFieldName(t *testing.T) {
	c := New("d")
	_, err := c.Compile(map[string]any{"x' OR '1'='1": "y"}, 0)
	require.Error(t, err)
}

func TestCompileRejectsMaliciousFieldNameOnExists(t *testing.T) {
	c := New("d")
	_, err := c.Compile(map[string]any{"x') OR ('1'='1": map[string]any{"$exists": true}}, 0)
	require.Error(t, err)
}
