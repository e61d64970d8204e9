package capability

import (
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
	tekuri "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/protean-ai/protean/pkg/errmodel"
)

// kindToType maps descriptor parameter kinds onto JSON schema types.
// Unknown kinds degrade to "string" rather than failing synthesis.
var kindToType = map[string]string{
	KindString:  "string",
	KindInteger: "integer",
	KindFloat:   "number",
	KindBoolean: "boolean",
	KindList:    "array",
	KindMap:     "object",
}

// BuildSchema generates the draft 2020-12 object schema for a descriptor's
// parameter list. Parameters without a default are required.
func BuildSchema(params []ParamSpec) ([]byte, error) {
	s := &jsonschema.Schema{
		Type:       "object",
		Properties: make(map[string]*jsonschema.Schema, len(params)),
	}
	for _, p := range params {
		typ, ok := kindToType[p.Kind]
		if !ok {
			typ = "string"
		}
		prop := &jsonschema.Schema{Type: typ, Description: p.Description}
		if p.Default != nil {
			raw, err := json.Marshal(p.Default)
			if err != nil {
				return nil, fmt.Errorf("marshal default for %q: %w", p.Name, err)
			}
			prop.Default = raw
		} else {
			s.Required = append(s.Required, p.Name)
		}
		s.Properties[p.Name] = prop
	}
	return json.Marshal(s)
}

// CompileSchema checks that the schema itself is valid; it does not validate
// any instance data. Used as part of the synthesis self-check.
func CompileSchema(schema []byte) error {
	_, err := compile(schema)
	return err
}

// ValidateArgs validates caller arguments against a generated schema.
func ValidateArgs(schema []byte, args map[string]any) error {
	sch, err := compile(schema)
	if err != nil {
		return err
	}
	// Round-trip through JSON so numbers take their wire representation.
	b, _ := json.Marshal(args)
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	return sch.Validate(v)
}

func compile(schema []byte) (*tekuri.Schema, error) {
	if len(schema) == 0 {
		return nil, fmt.Errorf("schema is empty")
	}
	var doc any
	if err := json.Unmarshal(schema, &doc); err != nil {
		return nil, err
	}
	c := tekuri.NewCompiler()
	if err := c.AddResource("mem://schema.json", doc); err != nil {
		return nil, err
	}
	return c.Compile("mem://schema.json")
}

// NormalizeArgs fills in defaults for omitted optional parameters and coerces
// numeric values toward the declared kind, returning a fresh map. Missing
// mandatory parameters surface as a validation error before the schema check
// so the failing field is named precisely.
func NormalizeArgs(params []ParamSpec, args map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = v
	}
	for _, p := range params {
		v, present := out[p.Name]
		if !present {
			if p.Required() {
				return nil, errmodel.Validation("bad_parameters",
					"missing required parameter",
					map[string]any{"parameter": p.Name})
			}
			out[p.Name] = p.Default
			continue
		}
		out[p.Name] = coerce(p.Kind, v)
	}
	return out, nil
}

// coerce nudges JSON-decoded values toward the declared kind. JSON decoding
// yields float64 for every number, so integer parameters arrive as floats.
func coerce(kind string, v any) any {
	switch kind {
	case KindInteger:
		switch n := v.(type) {
		case float64:
			if n == float64(int64(n)) {
				return int64(n)
			}
		case int:
			return int64(n)
		}
	case KindFloat:
		switch n := v.(type) {
		case int:
			return float64(n)
		case int64:
			return float64(n)
		}
	}
	return v
}
