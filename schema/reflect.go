package schema

import (
	"fmt"

	"github.com/invopop/jsonschema"
)

// FromStruct derives an object constraint from the exported fields of T.
// Field names follow json tags; pointer fields become optional keys, all
// others required. Nested structs, slices and primitive fields map onto
// the corresponding constraint kinds.
//
// The derivation goes through invopop/jsonschema so json and jsonschema
// struct tags behave the way the wider ecosystem expects.
func FromStruct[T any]() (*Constraint, error) {
	r := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}

	var zero T
	s := r.Reflect(&zero)
	c, err := fromJSONSchema(s)
	if err != nil {
		return nil, fmt.Errorf("schema: reflecting %T: %w", zero, err)
	}
	return c, nil
}

func fromJSONSchema(s *jsonschema.Schema) (*Constraint, error) {
	if s == nil {
		return Any(), nil
	}

	switch s.Type {
	case "string":
		return String(), nil
	case "number", "integer":
		return Number(), nil
	case "boolean":
		return Boolean(), nil
	case "null":
		return Null(), nil

	case "array":
		elem, err := fromJSONSchema(s.Items)
		if err != nil {
			return nil, err
		}
		return ArrayOf(elem), nil

	case "object":
		required := make(map[string]*Constraint)
		optional := make(map[string]*Constraint)

		requiredSet := make(map[string]bool, len(s.Required))
		for _, name := range s.Required {
			requiredSet[name] = true
		}

		if s.Properties != nil {
			for pair := s.Properties.Oldest(); pair != nil; pair = pair.Next() {
				nested, err := fromJSONSchema(pair.Value)
				if err != nil {
					return nil, fmt.Errorf("key %q: %w", pair.Key, err)
				}
				if requiredSet[pair.Key] {
					required[pair.Key] = nested
				} else {
					optional[pair.Key] = nested
				}
			}
		}

		return Object(required, optional), nil

	case "":
		// Untyped subschema (interface field, composition). Accept any value.
		return Any(), nil

	default:
		return nil, fmt.Errorf("unsupported json schema type %q", s.Type)
	}
}
