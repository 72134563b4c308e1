package node

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopExecute(context.Context, *ExecuteContext) (*Result, error) {
	return &Result{}, nil
}

func TestRegistryRegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&Definition{Type: "a", Execute: noopExecute}))

	def, err := r.Lookup("a")
	require.NoError(t, err)
	assert.Equal(t, "a", def.Type)

	_, err = r.Lookup("missing")
	assert.Error(t, err)
}

func TestRegistryRejectsInvalidDefinitions(t *testing.T) {
	r := NewRegistry()
	assert.Error(t, r.Register(nil))
	assert.Error(t, r.Register(&Definition{Execute: noopExecute}))
	assert.Error(t, r.Register(&Definition{Type: "no-exec"}))

	require.NoError(t, r.Register(&Definition{Type: "dup", Execute: noopExecute}))
	assert.Error(t, r.Register(&Definition{Type: "dup", Execute: noopExecute}))
}

func TestRegistryTypesSorted(t *testing.T) {
	r := NewRegistry()
	for _, typ := range []string{"zeta", "alpha", "mid"} {
		require.NoError(t, r.Register(&Definition{Type: typ, Execute: noopExecute}))
	}
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, r.Types())
}

func TestPropsResolvesLazily(t *testing.T) {
	d := &Definition{
		Type:    "dyn",
		Execute: noopExecute,
		PropertiesFn: func() []Property {
			return []Property{{Name: "late", Type: PropertyString}}
		},
	}
	props := d.Props()
	require.Len(t, props, 1)
	assert.Equal(t, "late", props[0].Name)
}

func TestValidateParameters(t *testing.T) {
	d := &Definition{
		Type:    "typed",
		Execute: noopExecute,
		Properties: []Property{
			{Name: "url", Type: PropertyString, Required: true},
			{Name: "limit", Type: PropertyNumber},
			{Name: "mode", Type: PropertyOptions, Options: []string{"fast", "safe"}},
			{Name: "enabled", Type: PropertyBool},
		},
	}

	require.NoError(t, d.ValidateParameters(map[string]any{
		"url": "https://example.com", "limit": 10, "mode": "fast", "enabled": true,
	}))

	err := d.ValidateParameters(map[string]any{"url": "x", "limit": "not a number"})
	assert.Error(t, err)

	err = d.ValidateParameters(map[string]any{"url": "x", "mode": "reckless"})
	assert.Error(t, err)

	err = d.ValidateParameters(map[string]any{})
	assert.Error(t, err, "required property missing")
}

func TestValidateParametersSkipsTemplatedValues(t *testing.T) {
	d := &Definition{
		Type:    "typed",
		Execute: noopExecute,
		Properties: []Property{
			{Name: "limit", Type: PropertyNumber, Required: true},
		},
	}
	// A templated string resolves at execution time and cannot be checked,
	// but it does satisfy the required constraint.
	assert.NoError(t, d.ValidateParameters(map[string]any{"limit": "{{ $json.count }}"}))
}

func TestExecuteContextHelpers(t *testing.T) {
	ec := &ExecuteContext{
		Parameters: map[string]any{"name": "x", "count": 3, "flag": true},
		Inputs: map[string][]Item{
			MainPort: {{JSON: map[string]any{"a": 1}}},
			"extra":  {{JSON: map[string]any{"b": 2}}},
		},
	}
	assert.Equal(t, "x", ec.StringParam("name", "def"))
	assert.Equal(t, "3", ec.StringParam("count", "def"))
	assert.Equal(t, "def", ec.StringParam("missing", "def"))
	assert.True(t, ec.BoolParam("flag", false))
	assert.False(t, ec.BoolParam("missing", false))

	items := ec.FirstInput()
	require.Len(t, items, 1)
	assert.Equal(t, 1, items[0].JSON["a"])

	// Falls back to any non-empty port when main is absent.
	ec.Inputs = map[string][]Item{"other": {{JSON: map[string]any{"c": 3}}}}
	items = ec.FirstInput()
	require.Len(t, items, 1)
	assert.Equal(t, 3, items[0].JSON["c"])
}
