package expreval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testScope() Scope {
	return Scope{
		Item: map[string]any{"name": "ada", "age": 36},
		Input: []map[string]any{
			{"name": "ada", "age": 36},
			{"name": "grace", "age": 47},
		},
		Nodes: map[string]any{
			"Fetch": map[string]any{"json": map[string]any{"status": 200}},
		},
	}
}

func TestResolveWholeExpressionKeepsType(t *testing.T) {
	e := New()
	out, err := e.ResolveParameters(map[string]any{
		"age":    "{{ $json.age }}",
		"adult":  "{{ $json.age > 18 }}",
		"status": `{{ $node["Fetch"].json.status }}`,
	}, testScope())
	require.NoError(t, err)
	assert.Equal(t, 36, out["age"])
	assert.Equal(t, true, out["adult"])
	assert.Equal(t, 200, out["status"])
}

func TestResolveInterpolation(t *testing.T) {
	e := New()
	out, err := e.ResolveParameters(map[string]any{
		"greeting": "hello {{ $json.name }}, you are {{ $json.age }}",
	}, testScope())
	require.NoError(t, err)
	assert.Equal(t, "hello ada, you are 36", out["greeting"])
}

func TestResolveInputHelpers(t *testing.T) {
	e := New()
	out, err := e.ResolveParameters(map[string]any{
		"count": "{{ len($input.All()) }}",
		"first": "{{ $input.First().name }}",
		"last":  "{{ $input.Last().name }}",
	}, testScope())
	require.NoError(t, err)
	assert.Equal(t, 2, out["count"])
	assert.Equal(t, "ada", out["first"])
	assert.Equal(t, "grace", out["last"])
}

func TestResolveNestedStructures(t *testing.T) {
	e := New()
	out, err := e.ResolveParameters(map[string]any{
		"values": map[string]any{
			"user": "{{ $json.name }}",
			"tags": []any{"static", "{{ $json.name }}"},
		},
		"plain": 42,
	}, testScope())
	require.NoError(t, err)
	values := out["values"].(map[string]any)
	assert.Equal(t, "ada", values["user"])
	assert.Equal(t, []any{"static", "ada"}, values["tags"])
	assert.Equal(t, 42, out["plain"])
}

func TestResolveLeavesPlainStringsAlone(t *testing.T) {
	e := New()
	out, err := e.ResolveParameters(map[string]any{"url": "https://example.com"}, testScope())
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", out["url"])
}

func TestResolveErrorCarriesFragmentNotData(t *testing.T) {
	e := New()
	scope := Scope{Item: map[string]any{"secret": "hunter2"}}
	_, err := e.ResolveParameters(map[string]any{"v": "{{ undefinedFn() }}"}, scope)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "undefinedFn()")
	assert.NotContains(t, err.Error(), "hunter2")
}

func TestResolveEmptyScope(t *testing.T) {
	e := New()
	out, err := e.ResolveParameters(map[string]any{"n": "{{ len($input.All()) }}"}, Scope{})
	require.NoError(t, err)
	assert.Equal(t, 0, out["n"])
}

func TestEvaluateBareExpression(t *testing.T) {
	e := New()
	v, err := e.Evaluate("$json.age * 2", testScope())
	require.NoError(t, err)
	assert.Equal(t, 72, v)
}
