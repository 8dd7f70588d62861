package schema

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Validate checks value against c. The value is a decoded JSON tree (nil,
// bool, float64/json.Number, string, []any, map[string]any). On rejection
// the diagnostic carries a structural path (array indices and object keys)
// localizing the violating node.
//
// When c (or any node) is a list of alternatives, the value is accepted if
// it satisfies at least one; on total failure the diagnostic of the last
// alternative tried is returned.
func Validate(value any, c *Constraint) (bool, string) {
	return validateAt("value", value, c)
}

func validateAt(path string, v any, c *Constraint) (bool, string) {
	if c == nil {
		return true, ""
	}

	if len(c.AnyOf) > 0 {
		var last string
		for _, alt := range c.AnyOf {
			ok, diag := validateAt(path, v, alt)
			if ok {
				return true, ""
			}
			last = diag
		}
		return false, last
	}

	switch c.Type {
	case TypeNone:
		if v != nil {
			return false, fmt.Sprintf("%s: expected null, got %s", path, kindOf(v))
		}
		return true, ""

	case TypeAny:
		if v == nil {
			return false, fmt.Sprintf("%s: expected a value, got null", path)
		}
		return true, ""

	case TypeString:
		if _, ok := v.(string); !ok {
			return false, fmt.Sprintf("%s: expected string, got %s", path, kindOf(v))
		}
		return true, ""

	case TypeNumber:
		if !isNumber(v) {
			return false, fmt.Sprintf("%s: expected number, got %s", path, kindOf(v))
		}
		return true, ""

	case TypeBoolean:
		if _, ok := v.(bool); !ok {
			return false, fmt.Sprintf("%s: expected boolean, got %s", path, kindOf(v))
		}
		return true, ""

	case TypeArray:
		return validateArray(path, v, c)

	case TypeObject:
		return validateObject(path, v, c)

	default:
		return false, fmt.Sprintf("%s: unknown constraint type %q", path, c.Type)
	}
}

func validateArray(path string, v any, c *Constraint) (bool, string) {
	arr, ok := v.([]any)
	if !ok {
		return false, fmt.Sprintf("%s: expected array, got %s", path, kindOf(v))
	}

	if c.Length != nil && len(arr) != *c.Length {
		return false, fmt.Sprintf("%s: expected exactly %d elements, got %d", path, *c.Length, len(arr))
	}
	if c.MinLength != nil && len(arr) < *c.MinLength {
		return false, fmt.Sprintf("%s: expected at least %d elements, got %d", path, *c.MinLength, len(arr))
	}
	if c.MaxLength != nil && len(arr) > *c.MaxLength {
		return false, fmt.Sprintf("%s: expected at most %d elements, got %d", path, *c.MaxLength, len(arr))
	}

	if c.Elem != nil {
		for i, el := range arr {
			if ok, diag := validateAt(path+"["+strconv.Itoa(i)+"]", el, c.Elem); !ok {
				return false, diag
			}
		}
	}

	return true, ""
}

func validateObject(path string, v any, c *Constraint) (bool, string) {
	obj, ok := v.(map[string]any)
	if !ok {
		return false, fmt.Sprintf("%s: expected object, got %s", path, kindOf(v))
	}

	for _, key := range sortedKeys(c.Required) {
		val, present := obj[key]
		if !present {
			return false, fmt.Sprintf("%s: missing required key %q", path, key)
		}
		if ok, diag := validateAt(path+"."+key, val, c.Required[key]); !ok {
			return false, diag
		}
	}

	for _, key := range sortedKeys(c.Optional) {
		val, present := obj[key]
		if !present {
			continue
		}
		if ok, diag := validateAt(path+"."+key, val, c.Optional[key]); !ok {
			return false, diag
		}
	}

	for _, key := range sortedKeys(obj) {
		if _, ok := c.Required[key]; ok {
			continue
		}
		if _, ok := c.Optional[key]; ok {
			continue
		}
		return false, fmt.Sprintf("%s: stray key %q", path, key)
	}

	return true, ""
}

// isNumber accepts the numeric representations a decoded or pre-parsed
// request may carry. Booleans are deliberately excluded.
func isNumber(v any) bool {
	switch v.(type) {
	case float64, float32, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64, json.Number:
		return true
	}
	return false
}

func kindOf(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		if isNumber(v) {
			return "number"
		}
		return fmt.Sprintf("%T", v)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
