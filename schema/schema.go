// Package schema implements the structural constraint language used to
// validate JSON-RPC parameters. A constraint describes one acceptable shape
// for a decoded JSON value; alternatives express a logical OR. The language
// is deliberately small; it is not a JSON Schema implementation.
package schema

import (
	"encoding/json"
	"fmt"
)

// Constraint type names.
const (
	TypeNone    = "none"
	TypeAny     = "any"
	TypeString  = "string"
	TypeNumber  = "number"
	TypeBoolean = "boolean"
	TypeArray   = "array"
	TypeObject  = "object"
)

// Constraint is one node of a constraint tree. When AnyOf is non-empty the
// node is a list of alternatives and every other field is ignored.
//
// For objects, Required maps key names to nested constraints (a nil
// constraint requires only presence), Optional likewise for keys that may
// be absent. Keys appearing in neither map are rejected as stray.
type Constraint struct {
	Type string

	AnyOf []*Constraint

	// array bounds; Length is an exact-length requirement
	Length    *int
	MinLength *int
	MaxLength *int
	Elem      *Constraint

	Required map[string]*Constraint
	Optional map[string]*Constraint
}

// Null matches only JSON null.
func Null() *Constraint { return &Constraint{Type: TypeNone} }

// Any matches any non-null value.
func Any() *Constraint { return &Constraint{Type: TypeAny} }

// String matches JSON strings.
func String() *Constraint { return &Constraint{Type: TypeString} }

// Number matches JSON numbers. Booleans never satisfy it.
func Number() *Constraint { return &Constraint{Type: TypeNumber} }

// Boolean matches JSON booleans. Numbers never satisfy it.
func Boolean() *Constraint { return &Constraint{Type: TypeBoolean} }

// ArrayOf matches JSON arrays whose elements satisfy elem. A nil elem
// accepts any element.
func ArrayOf(elem *Constraint) *Constraint {
	return &Constraint{Type: TypeArray, Elem: elem}
}

// Object matches JSON objects with the given required and optional keys.
func Object(required, optional map[string]*Constraint) *Constraint {
	return &Constraint{Type: TypeObject, Required: required, Optional: optional}
}

// OneOf builds an alternative list; the value must satisfy at least one.
func OneOf(alts ...*Constraint) *Constraint {
	return &Constraint{AnyOf: alts}
}

// WithExactLength constrains an array to exactly n elements.
func (c *Constraint) WithExactLength(n int) *Constraint {
	c.Length = &n
	return c
}

// WithMinLength constrains an array to at least n elements.
func (c *Constraint) WithMinLength(n int) *Constraint {
	c.MinLength = &n
	return c
}

// WithMaxLength constrains an array to at most n elements.
func (c *Constraint) WithMaxLength(n int) *Constraint {
	c.MaxLength = &n
	return c
}

// jsonForm is the object encoding of a constraint. The compact encodings
// (a bare type name or an array of alternatives) are handled separately.
type jsonForm struct {
	Type      string                 `json:"type,omitempty"`
	Length    *int                   `json:"length,omitempty"`
	MinLength *int                   `json:"minLength,omitempty"`
	MaxLength *int                   `json:"maxLength,omitempty"`
	Items     json.RawMessage        `json:"items,omitempty"`
	Required  map[string]*Constraint `json:"required,omitempty"`
	// Contains is a documented synonym for Required, kept for wire
	// compatibility. It is merged into Required on decode and never
	// emitted on encode.
	Contains map[string]*Constraint `json:"contains,omitempty"`
	Optional map[string]*Constraint `json:"optional,omitempty"`
}

// MarshalJSON emits the canonical form: a bare type name for simple
// constraints, an array for alternatives, and an object otherwise.
func (c *Constraint) MarshalJSON() ([]byte, error) {
	if c == nil {
		return []byte("null"), nil
	}
	if len(c.AnyOf) > 0 {
		return json.Marshal(c.AnyOf)
	}

	switch c.Type {
	case TypeNone, TypeAny, TypeString, TypeNumber, TypeBoolean:
		return json.Marshal(c.Type)
	}

	form := jsonForm{
		Type:      c.Type,
		Length:    c.Length,
		MinLength: c.MinLength,
		MaxLength: c.MaxLength,
		Required:  c.Required,
		Optional:  c.Optional,
	}
	if c.Elem != nil {
		items, err := json.Marshal(c.Elem)
		if err != nil {
			return nil, err
		}
		form.Items = items
	}
	return json.Marshal(form)
}

// UnmarshalJSON accepts all documented encodings: a bare type name, a list
// of alternatives, or an object form. "null" is accepted as a synonym for
// the "none" type, and "contains" as a synonym for "required".
func (c *Constraint) UnmarshalJSON(data []byte) error {
	*c = Constraint{}

	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		t, err := normalizeType(name)
		if err != nil {
			return err
		}
		c.Type = t
		return nil
	}

	var alts []*Constraint
	if err := json.Unmarshal(data, &alts); err == nil {
		if len(alts) == 0 {
			return fmt.Errorf("schema: empty alternative list")
		}
		c.AnyOf = alts
		return nil
	}

	var form jsonForm
	if err := json.Unmarshal(data, &form); err != nil {
		return fmt.Errorf("schema: invalid constraint: %w", err)
	}

	c.Length = form.Length
	c.MinLength = form.MinLength
	c.MaxLength = form.MaxLength
	c.Optional = form.Optional

	c.Required = form.Required
	if len(form.Contains) > 0 {
		if c.Required == nil {
			c.Required = make(map[string]*Constraint, len(form.Contains))
		}
		for k, v := range form.Contains {
			c.Required[k] = v
		}
	}

	if len(form.Items) > 0 {
		var elem Constraint
		if err := json.Unmarshal(form.Items, &elem); err != nil {
			return err
		}
		c.Elem = &elem
	}

	switch {
	case form.Type != "":
		t, err := normalizeType(form.Type)
		if err != nil {
			return err
		}
		c.Type = t
	case c.Required != nil || c.Optional != nil:
		c.Type = TypeObject
	case c.Elem != nil || c.Length != nil || c.MinLength != nil || c.MaxLength != nil:
		c.Type = TypeArray
	default:
		return fmt.Errorf("schema: constraint object carries no type")
	}

	return nil
}

func normalizeType(name string) (string, error) {
	switch name {
	case "null", TypeNone:
		return TypeNone, nil
	case TypeAny, TypeString, TypeNumber, TypeBoolean, TypeArray, TypeObject:
		return name, nil
	default:
		return "", fmt.Errorf("schema: unknown constraint type %q", name)
	}
}
