package schema

import (
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"reflect"
	"slices"
	"strconv"
	"unicode/utf8"

	"github.com/effective-security/mcpagent/pkg/mcperr"
)

// Validate checks the value against the schema and returns every violation found.
// The value is expected in decoded JSON form: map[string]any, []any, string,
// bool, nil, or a Go numeric type.
func (s *Schema) Validate(value any) []mcperr.Violation {
	var res []mcperr.Violation
	s.validate("", value, &res)
	return res
}

// ValidateArgs validates tool call arguments, nil arguments are treated as an empty object
func (s *Schema) ValidateArgs(args map[string]any) []mcperr.Violation {
	if args == nil {
		args = map[string]any{}
	}
	return s.Validate(args)
}

func (s *Schema) validate(path string, value any, res *[]mcperr.Violation) {
	add := func(format string, args ...any) {
		*res = append(*res, mcperr.Violation{Path: display(path), Message: fmt.Sprintf(format, args...)})
	}

	if value == nil {
		if s.Nullable || s.Kind == KindNull || s.Kind == KindAny && len(s.AnyOf) == 0 {
			if len(s.Enum) > 0 && !inEnum(nil, s.Enum) {
				add("value must be one of %s", enumString(s.Enum))
			}
			return
		}
		if len(s.AnyOf) == 0 {
			add("expected %s, got null", s.Kind)
			return
		}
	}

	if len(s.AnyOf) > 0 {
		matched := false
		for _, alt := range s.AnyOf {
			var altRes []mcperr.Violation
			alt.validate(path, value, &altRes)
			if len(altRes) == 0 {
				matched = true
				break
			}
		}
		if !matched {
			add("value does not match any of the allowed schemas")
			return
		}
	}

	if len(s.Enum) > 0 && !inEnum(value, s.Enum) {
		add("value must be one of %s", enumString(s.Enum))
		return
	}

	switch s.Kind {
	case KindAny:
		return
	case KindNull:
		add("expected null, got %s", typeName(value))
	case KindBoolean:
		if _, ok := value.(bool); !ok {
			add("expected boolean, got %s", typeName(value))
		}
	case KindString:
		str, ok := value.(string)
		if !ok {
			add("expected string, got %s", typeName(value))
			return
		}
		n := utf8.RuneCountInString(str)
		if s.MinLength != nil && n < *s.MinLength {
			add("length must be >= %d", *s.MinLength)
		}
		if s.MaxLength != nil && n > *s.MaxLength {
			add("length must be <= %d", *s.MaxLength)
		}
	case KindNumber, KindInteger:
		num, ok := toFloat(value)
		if !ok {
			add("expected %s, got %s", s.Kind, typeName(value))
			return
		}
		if s.Kind == KindInteger && num != math.Trunc(num) {
			add("expected integer, got %s", formatFloat(num))
			return
		}
		if s.Minimum != nil && num < *s.Minimum {
			add("must be >= %s", formatFloat(*s.Minimum))
		}
		if s.Maximum != nil && num > *s.Maximum {
			add("must be <= %s", formatFloat(*s.Maximum))
		}
		if s.ExclusiveMinimum != nil && num <= *s.ExclusiveMinimum {
			add("must be > %s", formatFloat(*s.ExclusiveMinimum))
		}
		if s.ExclusiveMaximum != nil && num >= *s.ExclusiveMaximum {
			add("must be < %s", formatFloat(*s.ExclusiveMaximum))
		}
	case KindArray:
		items, ok := toSlice(value)
		if !ok {
			add("expected array, got %s", typeName(value))
			return
		}
		if s.Items != nil {
			for i, item := range items {
				s.Items.validate(fmt.Sprintf("%s[%d]", path, i), item, res)
			}
		}
	case KindObject:
		obj, ok := value.(map[string]any)
		if !ok {
			add("expected object, got %s", typeName(value))
			return
		}
		for _, name := range s.Required {
			if _, ok := obj[name]; !ok {
				*res = append(*res, mcperr.Violation{Path: join(path, name), Message: "required property is missing"})
			}
		}
		if s.Properties != nil {
			for pair := s.Properties.Oldest(); pair != nil; pair = pair.Next() {
				if v, ok := obj[pair.Key]; ok {
					pair.Value.validate(join(path, pair.Key), v, res)
				}
			}
		}
		// extra properties are reported in a stable order
		for _, name := range slices.Sorted(maps.Keys(obj)) {
			if s.Properties != nil {
				if _, declared := s.Properties.Get(name); declared {
					continue
				}
			}
			switch {
			case s.NoAdditionalProperties:
				*res = append(*res, mcperr.Violation{Path: join(path, name), Message: "unexpected property"})
			case s.AdditionalProperties != nil:
				s.AdditionalProperties.validate(join(path, name), obj[name], res)
			}
		}
	}
}

func display(path string) string {
	if path == "" {
		return "$"
	}
	return path
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func toSlice(v any) ([]any, bool) {
	if items, ok := v.([]any); ok {
		return items, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	items := make([]any, rv.Len())
	for i := range items {
		items[i] = rv.Index(i).Interface()
	}
	return items, true
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case string:
		return "string"
	case map[string]any:
		return "object"
	}
	if f, ok := toFloat(v); ok {
		if f == math.Trunc(f) {
			return "integer"
		}
		return "number"
	}
	if _, ok := toSlice(v); ok {
		return "array"
	}
	return fmt.Sprintf("%T", v)
}

func inEnum(v any, enum []any) bool {
	vf, vNum := toFloat(v)
	for _, e := range enum {
		if ef, ok := toFloat(e); ok && vNum {
			if ef == vf {
				return true
			}
			continue
		}
		if reflect.DeepEqual(v, e) {
			return true
		}
	}
	return false
}

func enumString(enum []any) string {
	b, err := json.Marshal(enum)
	if err != nil {
		return fmt.Sprint(enum)
	}
	return string(b)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
