package validate

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
)

// fieldErrors flattens the error tree into one FieldError per violated rule.
func (s *Schema) fieldErrors(ve *jsonschema.ValidationError, instance any) []FieldError {
	var out []FieldError
	var walk func(*jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) > 0 {
			for _, c := range e.Causes {
				walk(c)
			}
			return
		}
		out = append(out, s.describe(e, instance)...)
	}
	walk(ve)

	sort.SliceStable(out, func(i, j int) bool { return out[i].Field < out[j].Field })
	return out
}

func (s *Schema) describe(e *jsonschema.ValidationError, instance any) []FieldError {
	kw := splitPointer(e.KeywordLocation)
	if len(kw) == 0 {
		return []FieldError{{Message: e.Message}}
	}
	keyword := kw[len(kw)-1]
	rule, _ := lookup(s.doc, kw[:len(kw)-1]).(map[string]any)

	base := splitPointer(e.InstanceLocation)
	field := strings.Join(base, ".")
	value := lookup(instance, base)

	msg := func(format string, args ...any) []FieldError {
		return []FieldError{{Field: field, Message: fmt.Sprintf(format, args...)}}
	}

	switch keyword {
	case "required":
		obj, _ := value.(map[string]any)
		required, _ := rule["required"].([]any)
		var missing []FieldError
		for _, r := range required {
			name, _ := r.(string)
			if _, ok := obj[name]; ok {
				continue
			}
			path := append(append([]string{}, base...), name)
			missing = append(missing, FieldError{
				Field:   strings.Join(path, "."),
				Message: fmt.Sprintf("%q is required", name),
			})
		}
		if len(missing) > 0 {
			return missing
		}
	case "type":
		return msg("%q must be %s", label(field), withArticle(fmt.Sprint(rule["type"])))
	case "minLength":
		if value == "" {
			return msg("%q is not allowed to be empty", label(field))
		}
		return msg("%q length must be at least %s characters long", label(field), number(rule["minLength"]))
	case "maxLength":
		return msg("%q length must be less than or equal to %s characters long", label(field), number(rule["maxLength"]))
	case "minimum":
		return msg("%q must be greater than or equal to %s", label(field), number(rule["minimum"]))
	case "maximum":
		return msg("%q must be less than or equal to %s", label(field), number(rule["maximum"]))
	case "format":
		return msg("%q must be a valid ISO-8601 date", label(field))
	case "minItems":
		return msg("%q must contain at least %s items", label(field), number(rule["minItems"]))
	case "minProperties":
		return msg("at least one field must be provided")
	}
	return msg("%s", e.Message)
}

// number formats a schema bound without exponent notation.
func number(v any) string {
	if f, ok := v.(float64); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}

func label(field string) string {
	if field == "" {
		return "value"
	}
	return field
}

func withArticle(typ string) string {
	switch typ {
	case "integer", "object", "array":
		return "an " + typ
	}
	return "a " + typ
}

// splitPointer splits a JSON pointer into unescaped tokens.
func splitPointer(p string) []string {
	p = strings.TrimPrefix(p, "#")
	if p == "" || p == "/" {
		return nil
	}
	tokens := strings.Split(strings.TrimPrefix(p, "/"), "/")
	for i, t := range tokens {
		tokens[i] = strings.ReplaceAll(strings.ReplaceAll(t, "~1", "/"), "~0", "~")
	}
	return tokens
}

// lookup resolves tokens against a decoded JSON value.
func lookup(v any, tokens []string) any {
	for _, t := range tokens {
		switch node := v.(type) {
		case map[string]any:
			v = node[t]
		case []any:
			var i int
			if _, err := fmt.Sscanf(t, "%d", &i); err != nil || i < 0 || i >= len(node) {
				return nil
			}
			v = node[i]
		default:
			return nil
		}
	}
	return v
}
