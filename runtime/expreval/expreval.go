// Package expreval resolves templated "{{ expression }}" parameter values
// against execution-scoped data. The evaluator is a deliberately restricted
// sandbox built on expr-lang: no filesystem, no network, no arbitrary
// globals. Expressions get read-only access to:
//
//   - $json            the current item's JSON payload
//   - $input.all()     all input items' JSON payloads
//   - $input.first()   the first input item's JSON payload
//   - $node["Name"]    an upstream node's output, keyed by node display name
//
// plus expr-lang's standard builtins (len, string helpers, arithmetic).
// Evaluation errors report the offending expression fragment but never the
// upstream data payload, so secrets flowing through items cannot leak into
// error messages.
package expreval

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
)

// The $-prefixed helper names are rewritten to identifiers expr-lang can
// parse before compilation.
var rewriter = strings.NewReplacer(
	"$json", "__json",
	"$input", "__input",
	"$node", "__node",
)

type (
	// Scope is the read-only data an expression evaluates against.
	Scope struct {
		// Item is the current item's JSON payload, exposed as $json.
		Item map[string]any
		// Input is the JSON payload of every input item, exposed through
		// $input.
		Input []map[string]any
		// Nodes maps upstream node display names to their output, exposed
		// as $node["Name"]. Each value has a "json" key holding the first
		// output item's payload.
		Nodes map[string]any
	}

	// Evaluator resolves parameter maps. The zero value is ready to use.
	Evaluator struct{}

	// inputAccessor backs the $input helper.
	inputAccessor struct {
		items []map[string]any
	}
)

// All returns every input item's JSON payload.
func (a inputAccessor) All() []map[string]any { return a.items }

// First returns the first input item's JSON payload, or nil.
func (a inputAccessor) First() map[string]any {
	if len(a.items) == 0 {
		return nil
	}
	return a.items[0]
}

// Last returns the last input item's JSON payload, or nil.
func (a inputAccessor) Last() map[string]any {
	if len(a.items) == 0 {
		return nil
	}
	return a.items[len(a.items)-1]
}

// New returns a new Evaluator.
func New() *Evaluator { return &Evaluator{} }

// ResolveParameters returns a copy of params with every templated string
// value evaluated against the scope. Non-string values and strings without
// "{{" are returned untouched. Nested maps and slices are resolved
// recursively.
func (e *Evaluator) ResolveParameters(params map[string]any, scope Scope) (map[string]any, error) {
	if len(params) == 0 {
		return map[string]any{}, nil
	}
	env := scope.env()
	resolved := make(map[string]any, len(params))
	for name, value := range params {
		v, err := e.resolveValue(value, env)
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", name, err)
		}
		resolved[name] = v
	}
	return resolved, nil
}

// Evaluate evaluates a single bare expression (no surrounding braces)
// against the scope and returns its value.
func (e *Evaluator) Evaluate(expression string, scope Scope) (any, error) {
	return evalFragment(expression, scope.env())
}

func (e *Evaluator) resolveValue(value any, env map[string]any) (any, error) {
	switch v := value.(type) {
	case string:
		return resolveString(v, env)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, nested := range v {
			r, err := e.resolveValue(nested, env)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, nested := range v {
			r, err := e.resolveValue(nested, env)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	default:
		return value, nil
	}
}

// resolveString evaluates the templated fragments of s. A string that is a
// single expression with nothing around it resolves to the expression's
// typed value; otherwise each fragment is interpolated into the string.
func resolveString(s string, env map[string]any) (any, error) {
	start := strings.Index(s, "{{")
	if start < 0 {
		return s, nil
	}

	// Whole-string expression: preserve the result type.
	if trimmed := strings.TrimSpace(s); strings.HasPrefix(trimmed, "{{") && strings.HasSuffix(trimmed, "}}") {
		inner := trimmed[2 : len(trimmed)-2]
		if !strings.Contains(inner, "{{") && !strings.Contains(inner, "}}") {
			return evalFragment(inner, env)
		}
	}

	var b strings.Builder
	rest := s
	for {
		open := strings.Index(rest, "{{")
		if open < 0 {
			b.WriteString(rest)
			return b.String(), nil
		}
		closing := strings.Index(rest[open:], "}}")
		if closing < 0 {
			b.WriteString(rest)
			return b.String(), nil
		}
		b.WriteString(rest[:open])
		fragment := rest[open+2 : open+closing]
		v, err := evalFragment(fragment, env)
		if err != nil {
			return nil, err
		}
		b.WriteString(fmt.Sprint(v))
		rest = rest[open+closing+2:]
	}
}

func evalFragment(fragment string, env map[string]any) (any, error) {
	code := rewriter.Replace(strings.TrimSpace(fragment))
	v, err := expr.Eval(code, env)
	if err != nil {
		// Report the fragment, never the evaluated data.
		return nil, fmt.Errorf("expression %q: %w", strings.TrimSpace(fragment), err)
	}
	return v, nil
}

func (s Scope) env() map[string]any {
	item := s.Item
	if item == nil {
		item = map[string]any{}
	}
	nodes := s.Nodes
	if nodes == nil {
		nodes = map[string]any{}
	}
	return map[string]any{
		"__json":  item,
		"__input": inputAccessor{items: s.Input},
		"__node":  nodes,
	}
}
