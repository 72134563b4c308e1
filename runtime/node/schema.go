package node

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ParameterSchema derives a JSON Schema document from the definition's
// property declarations. Credential properties validate as strings since the
// stored value is a credential id. Additional parameters are allowed so node
// types can accept undeclared passthrough options.
func (d *Definition) ParameterSchema() map[string]any {
	props := make(map[string]any)
	var required []any
	for _, p := range d.Props() {
		props[p.Name] = propertySchema(p)
		if p.Required {
			required = append(required, p.Name)
		}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// ValidateParameters checks the given parameters against the definition's
// declared properties. Templated "{{expression}}" string values are accepted
// for any property type since they resolve at execution time.
func (d *Definition) ValidateParameters(params map[string]any) error {
	doc := d.ParameterSchema()
	candidate := make(map[string]any, len(params))
	templated := make(map[string]bool)
	for k, v := range params {
		if s, ok := v.(string); ok && isTemplated(s) {
			templated[k] = true
			continue // resolved later, cannot be type-checked now
		}
		candidate[k] = v
	}
	// A templated value satisfies presence; drop it from the required set so
	// it does not read as missing.
	if len(templated) > 0 {
		if required, ok := doc["required"].([]any); ok {
			var kept []any
			for _, name := range required {
				if s, ok := name.(string); !ok || !templated[s] {
					kept = append(kept, name)
				}
			}
			if len(kept) > 0 {
				doc["required"] = kept
			} else {
				delete(doc, "required")
			}
		}
	}

	// Round-trip through JSON so Go-native values (ints, typed slices)
	// validate as their JSON forms.
	raw, err := json.Marshal(candidate)
	if err != nil {
		return fmt.Errorf("node %q parameters: %w", d.Type, err)
	}
	var normalized any
	if err := json.Unmarshal(raw, &normalized); err != nil {
		return fmt.Errorf("node %q parameters: %w", d.Type, err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("parameters.json", doc); err != nil {
		return fmt.Errorf("node %q parameter schema: %w", d.Type, err)
	}
	schema, err := c.Compile("parameters.json")
	if err != nil {
		return fmt.Errorf("node %q parameter schema: %w", d.Type, err)
	}
	if err := schema.Validate(normalized); err != nil {
		return fmt.Errorf("node %q parameters: %w", d.Type, err)
	}
	return nil
}

func propertySchema(p Property) map[string]any {
	switch p.Type {
	case PropertyString, PropertyCredential:
		return map[string]any{"type": "string"}
	case PropertyNumber:
		return map[string]any{"type": "number"}
	case PropertyBool:
		return map[string]any{"type": "boolean"}
	case PropertyOptions:
		opts := make([]any, len(p.Options))
		for i, o := range p.Options {
			opts[i] = o
		}
		return map[string]any{"type": "string", "enum": opts}
	default: // PropertyJSON and unknown types accept any value
		return map[string]any{}
	}
}

func isTemplated(s string) bool {
	for i := 0; i+1 < len(s); i++ {
		if s[i] == '{' && s[i+1] == '{' {
			return true
		}
	}
	return false
}
