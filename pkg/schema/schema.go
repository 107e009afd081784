// Package schema provides an explicit representation of tool parameter schemas:
// a tagged variant per value kind, parsed from JSON Schema documents,
// and a validator that reports every violated field.
package schema

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Kind is the value kind a schema accepts
type Kind int

const (
	// KindAny accepts any value
	KindAny Kind = iota
	KindObject
	KindString
	KindNumber
	KindInteger
	KindBoolean
	KindArray
	KindNull
)

var kindNames = map[Kind]string{
	KindAny:     "any",
	KindObject:  "object",
	KindString:  "string",
	KindNumber:  "number",
	KindInteger: "integer",
	KindBoolean: "boolean",
	KindArray:   "array",
	KindNull:    "null",
}

var kindByName = map[string]Kind{
	"object":  KindObject,
	"string":  KindString,
	"number":  KindNumber,
	"integer": KindInteger,
	"boolean": KindBoolean,
	"array":   KindArray,
	"null":    KindNull,
}

func (k Kind) String() string {
	return kindNames[k]
}

// Schema describes the values accepted for a tool argument.
// Only the fields relevant to Kind are set.
type Schema struct {
	Kind Kind
	// Nullable is set when null is accepted in addition to Kind
	Nullable    bool
	Title       string
	Description string
	Enum        []any

	// Object
	Properties *orderedmap.OrderedMap[string, *Schema]
	Required   []string
	// AdditionalProperties is nil when any extra property is accepted
	AdditionalProperties *Schema
	// NoAdditionalProperties is set for "additionalProperties": false
	NoAdditionalProperties bool

	// Array
	Items *Schema

	// String
	MinLength *int
	MaxLength *int

	// Number and Integer
	Minimum          *float64
	Maximum          *float64
	ExclusiveMinimum *float64
	ExclusiveMaximum *float64

	// AnyOf lists alternatives, the value must match at least one
	AnyOf []*Schema

	raw json.RawMessage
}

type rawSchema struct {
	Type                 json.RawMessage                                  `json:"type"`
	Title                string                                           `json:"title"`
	Description          string                                           `json:"description"`
	Enum                 []any                                            `json:"enum"`
	Const                json.RawMessage                                  `json:"const"`
	Nullable             bool                                             `json:"nullable"`
	Properties           *orderedmap.OrderedMap[string, json.RawMessage] `json:"properties"`
	Required             []string                                         `json:"required"`
	AdditionalProperties json.RawMessage                                  `json:"additionalProperties"`
	Items                json.RawMessage                                  `json:"items"`
	MinLength            *int                                             `json:"minLength"`
	MaxLength            *int                                             `json:"maxLength"`
	Minimum              *float64                                         `json:"minimum"`
	Maximum              *float64                                         `json:"maximum"`
	ExclusiveMinimum     json.RawMessage                                  `json:"exclusiveMinimum"`
	ExclusiveMaximum     json.RawMessage                                  `json:"exclusiveMaximum"`
	AnyOf                []json.RawMessage                                `json:"anyOf"`
	OneOf                []json.RawMessage                                `json:"oneOf"`
}

// Parse builds a Schema from a JSON Schema document.
// An empty document accepts any object.
func Parse(raw json.RawMessage) (*Schema, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return &Schema{Kind: KindObject, raw: json.RawMessage(`{"type":"object"}`)}, nil
	}
	return parse(raw, "")
}

// MustParse is like Parse but panics on error
func MustParse(raw string) *Schema {
	s, err := Parse(json.RawMessage(raw))
	if err != nil {
		panic(err)
	}
	return s
}

func parse(raw json.RawMessage, path string) (*Schema, error) {
	// "true" accepts anything, "false" nothing; the latter is treated as any
	if string(raw) == "true" || string(raw) == "false" {
		return &Schema{Kind: KindAny, raw: raw}, nil
	}

	var rs rawSchema
	if err := json.Unmarshal(raw, &rs); err != nil {
		return nil, errors.Wrapf(err, "invalid schema%s", at(path))
	}

	s := &Schema{
		Title:       rs.Title,
		Description: rs.Description,
		Enum:        rs.Enum,
		Nullable:    rs.Nullable,
		Required:    rs.Required,
		MinLength:   rs.MinLength,
		MaxLength:   rs.MaxLength,
		Minimum:     rs.Minimum,
		Maximum:     rs.Maximum,
		raw:         raw,
	}
	if len(rs.Const) > 0 {
		var c any
		if err := json.Unmarshal(rs.Const, &c); err != nil {
			return nil, errors.Wrapf(err, "invalid const%s", at(path))
		}
		s.Enum = []any{c}
	}

	kinds, err := parseType(rs.Type)
	if err != nil {
		return nil, errors.WithMessagef(err, "invalid type%s", at(path))
	}
	switch {
	case len(kinds) == 0:
		switch {
		case rs.Properties != nil:
			s.Kind = KindObject
		case len(rs.Items) > 0:
			s.Kind = KindArray
		default:
			s.Kind = KindAny
		}
	case len(kinds) == 1:
		s.Kind = kinds[0]
	default:
		// ["string", "null"] is a nullable string, other unions become alternatives
		var nonNull []Kind
		for _, k := range kinds {
			if k == KindNull {
				s.Nullable = true
			} else {
				nonNull = append(nonNull, k)
			}
		}
		if len(nonNull) == 1 {
			s.Kind = nonNull[0]
		} else {
			s.Kind = KindAny
			for _, k := range nonNull {
				s.AnyOf = append(s.AnyOf, &Schema{Kind: k})
			}
		}
	}

	if s.ExclusiveMinimum, err = parseExclusive(rs.ExclusiveMinimum, s.Minimum); err != nil {
		return nil, errors.WithMessagef(err, "invalid exclusiveMinimum%s", at(path))
	}
	if s.ExclusiveMaximum, err = parseExclusive(rs.ExclusiveMaximum, s.Maximum); err != nil {
		return nil, errors.WithMessagef(err, "invalid exclusiveMaximum%s", at(path))
	}

	if rs.Properties != nil {
		s.Properties = orderedmap.New[string, *Schema]()
		for pair := rs.Properties.Oldest(); pair != nil; pair = pair.Next() {
			child, err := parse(pair.Value, join(path, pair.Key))
			if err != nil {
				return nil, err
			}
			s.Properties.Set(pair.Key, child)
		}
	}

	if len(rs.AdditionalProperties) > 0 {
		switch string(rs.AdditionalProperties) {
		case "false":
			s.NoAdditionalProperties = true
		case "true":
		default:
			child, err := parse(rs.AdditionalProperties, join(path, "*"))
			if err != nil {
				return nil, err
			}
			s.AdditionalProperties = child
		}
	}

	// tuple form of items is accepted without validating elements
	if len(rs.Items) > 0 && rs.Items[0] == '{' {
		s.Items, err = parse(rs.Items, path+"[]")
		if err != nil {
			return nil, err
		}
	}

	for _, alt := range append(rs.AnyOf, rs.OneOf...) {
		child, err := parse(alt, path)
		if err != nil {
			return nil, err
		}
		s.AnyOf = append(s.AnyOf, child)
	}

	return s, nil
}

func parseType(raw json.RawMessage) ([]Kind, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var names []string
	if raw[0] == '[' {
		if err := json.Unmarshal(raw, &names); err != nil {
			return nil, errors.WithStack(err)
		}
	} else {
		var name string
		if err := json.Unmarshal(raw, &name); err != nil {
			return nil, errors.WithStack(err)
		}
		names = []string{name}
	}

	kinds := make([]Kind, 0, len(names))
	for _, name := range names {
		k, ok := kindByName[name]
		if !ok {
			return nil, errors.Newf("unsupported type %q", name)
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}

// parseExclusive accepts the numeric form, and the draft 4 boolean form
// which turns the inclusive bound into an exclusive one.
func parseExclusive(raw json.RawMessage, bound *float64) (*float64, error) {
	switch string(raw) {
	case "", "null", "false":
		return nil, nil
	case "true":
		return bound, nil
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, errors.WithStack(err)
	}
	return &v, nil
}

// MarshalJSON returns the JSON Schema document the schema was parsed from
func (s *Schema) MarshalJSON() ([]byte, error) {
	if len(s.raw) == 0 {
		if s.Kind == KindAny {
			return []byte("{}"), nil
		}
		return json.Marshal(map[string]string{"type": s.Kind.String()})
	}
	return s.raw, nil
}

// Raw returns the JSON Schema document
func (s *Schema) Raw() json.RawMessage {
	b, _ := s.MarshalJSON()
	return b
}

// PropertyNames returns the property names in declaration order
func (s *Schema) PropertyNames() []string {
	if s.Properties == nil {
		return nil
	}
	names := make([]string, 0, s.Properties.Len())
	for pair := s.Properties.Oldest(); pair != nil; pair = pair.Next() {
		names = append(names, pair.Key)
	}
	return names
}

// Property returns the schema of the named property
func (s *Schema) Property(name string) (*Schema, bool) {
	if s.Properties == nil {
		return nil, false
	}
	return s.Properties.Get(name)
}

// PropertiesMap returns the properties as a plain map of JSON values,
// as expected by LLM tool definitions.
func (s *Schema) PropertiesMap() map[string]any {
	if s.Properties == nil {
		return nil
	}
	props := make(map[string]any, s.Properties.Len())
	for pair := s.Properties.Oldest(); pair != nil; pair = pair.Next() {
		var v any
		if err := json.Unmarshal(pair.Value.Raw(), &v); err != nil {
			v = map[string]any{}
		}
		props[pair.Key] = v
	}
	return props
}

// Fingerprint returns a hash of the compacted schema document
func (s *Schema) Fingerprint() uint64 {
	var buf bytes.Buffer
	if err := json.Compact(&buf, s.Raw()); err != nil {
		return xxhash.Sum64(s.Raw())
	}
	return xxhash.Sum64(buf.Bytes())
}

func join(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

func at(path string) string {
	if path == "" {
		return ""
	}
	return " at " + strings.TrimSuffix(path, ".")
}
