// Package validate checks request payloads against declarative JSON Schemas.
//
// Every schema lives in schemas/. Validation reports every violated rule,
// unknown properties are dropped before validation and schema defaults are
// filled in afterwards.
package validate

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"

	"todocrud/internal/model"
)

//go:embed schemas/*.json
var schemaFiles embed.FS

const schemaBaseURL = "https://todocrud.local/schemas/"

// Request schemas.
var (
	CreateTodo    = mustLoad("create_todo.json")
	UpdateTodo    = mustLoad("update_todo.json")
	MoveTodo      = mustLoad("move_todo.json")
	ReorderTodos  = mustLoad("reorder_todos.json")
	CreateSubtask = mustLoad("create_subtask.json")
	UpdateSubtask = mustLoad("update_subtask.json")
	DateQuery     = mustLoad("date_query.json")
)

// ErrInvalidID is returned by ParseID.
var ErrInvalidID = errors.New("id must be a positive integer")

// FieldError describes one violated rule.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error lists every rule a payload violated.
type Error struct {
	Fields []FieldError
}

func (e *Error) Error() string {
	msgs := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		msgs[i] = f.Message
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

// Schema is a compiled request schema.
type Schema struct {
	name     string
	doc      map[string]any
	compiled *jsonschema.Schema
}

func mustLoad(name string) *Schema {
	s, err := load(name)
	if err != nil {
		panic(err)
	}
	return s
}

func load(name string) (*Schema, error) {
	data, err := schemaFiles.ReadFile("schemas/" + name)
	if err != nil {
		return nil, err
	}

	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse schema %s: %w", name, err)
	}

	jsonschema.Formats["iso-date"] = isISODate
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	compiler.AssertFormat = true

	url := schemaBaseURL + name
	if err := compiler.AddResource(url, bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("add schema %s: %w", name, err)
	}
	compiled, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}
	return &Schema{name: name, doc: doc, compiled: compiled}, nil
}

func isISODate(v any) bool {
	s, ok := v.(string)
	if !ok {
		return true
	}
	_, err := model.ParseDate(s)
	return err == nil
}

// Name returns the schema file name.
func (s *Schema) Name() string { return s.name }

// Decode validates instance and stores the normalized value in dst.
// instance is a decoded JSON value; numbers may be float64 or json.Number.
// A *Error is returned when the payload violates the schema.
func (s *Schema) Decode(instance any, dst any) error {
	instance = strip(s.doc, instance)

	if err := s.compiled.Validate(instance); err != nil {
		var ve *jsonschema.ValidationError
		if !errors.As(err, &ve) {
			return fmt.Errorf("validate %s: %w", s.name, err)
		}
		return &Error{Fields: s.fieldErrors(ve, instance)}
	}

	instance, err := normalize(s.doc, instance, nil)
	if err != nil {
		return err
	}
	data, err := json.Marshal(instance)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", s.name, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode %s payload: %w", s.name, err)
	}
	return nil
}

// ParseID parses a path id. Only positive base-10 integers are accepted.
func ParseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrInvalidID
	}
	return id, nil
}

// strip drops properties the schema does not declare.
func strip(schema map[string]any, v any) any {
	switch val := v.(type) {
	case map[string]any:
		props, ok := schema["properties"].(map[string]any)
		if !ok {
			return val
		}
		out := make(map[string]any, len(val))
		for name, child := range val {
			sub, known := props[name].(map[string]any)
			if !known {
				continue
			}
			out[name] = strip(sub, child)
		}
		return out
	case []any:
		items, ok := schema["items"].(map[string]any)
		if !ok {
			return val
		}
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = strip(items, child)
		}
		return out
	}
	return v
}

// normalize fills in defaults and turns integral numbers into int64 so they
// decode into Go ints. Integers outside the int64 range are rejected.
func normalize(schema map[string]any, v any, path []string) (any, error) {
	switch val := v.(type) {
	case map[string]any:
		props, _ := schema["properties"].(map[string]any)
		for name, p := range props {
			sub, _ := p.(map[string]any)
			child, ok := val[name]
			if !ok {
				if def, ok := sub["default"]; ok {
					val[name] = def
				}
				continue
			}
			n, err := normalize(sub, child, append(path, name))
			if err != nil {
				return nil, err
			}
			val[name] = n
		}
		return val, nil
	case []any:
		items, _ := schema["items"].(map[string]any)
		for i, child := range val {
			n, err := normalize(items, child, append(path, strconv.Itoa(i)))
			if err != nil {
				return nil, err
			}
			val[i] = n
		}
		return val, nil
	case json.Number:
		if schema["type"] != "integer" {
			return val, nil
		}
		if n, err := val.Int64(); err == nil {
			return n, nil
		}
		f, err := val.Float64()
		if err != nil {
			return nil, outOfRange(path)
		}
		return toInt64(f, path)
	case float64:
		if schema["type"] == "integer" {
			return toInt64(val, path)
		}
	}
	return v, nil
}

func toInt64(f float64, path []string) (int64, error) {
	if f < -(1<<63) || f >= 1<<63 {
		return 0, outOfRange(path)
	}
	return int64(f), nil
}

func outOfRange(path []string) error {
	field := strings.Join(path, ".")
	return &Error{Fields: []FieldError{{
		Field:   field,
		Message: fmt.Sprintf("%q must be a safe integer", label(field)),
	}}}
}
