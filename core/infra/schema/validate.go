package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
)

// Validator is a compiled JSON schema that can be reused across payloads.
type Validator struct {
	id       string
	compiled *jsonschema.Schema
}

// Compile parses and compiles a JSON schema payload.
func Compile(id string, schema []byte) (*Validator, error) {
	if len(schema) == 0 {
		return nil, fmt.Errorf("schema is empty")
	}
	resourceID := schemaID(id)
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(resourceID, bytes.NewReader(schema)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := compiler.Compile(resourceID)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &Validator{id: resourceID, compiled: compiled}, nil
}

// MustCompile is Compile for schemas embedded in the binary.
func MustCompile(id string, schema []byte) *Validator {
	v, err := Compile(id, schema)
	if err != nil {
		panic(fmt.Sprintf("schema %s: %v", id, err))
	}
	return v
}

// Validate checks value against the compiled schema. Raw JSON bytes are
// decoded first.
func (v *Validator) Validate(value any) error {
	if v == nil || v.compiled == nil {
		return fmt.Errorf("schema not compiled")
	}
	payload, err := normalizeValue(value)
	if err != nil {
		return fmt.Errorf("normalize payload: %w", err)
	}
	if err := v.compiled.Validate(payload); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}

// ValidateSchema validates a value against a JSON schema payload.
func ValidateSchema(id string, schema []byte, value any) error {
	v, err := Compile(id, schema)
	if err != nil {
		return err
	}
	return v.Validate(value)
}

// Violations flattens a validation error into "location: message" lines,
// deepest causes only. Other errors yield their message.
func Violations(err error) []string {
	if err == nil {
		return nil
	}
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return []string{err.Error()}
	}
	var out []string
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			loc := e.InstanceLocation
			if loc == "" {
				loc = "/"
			}
			out = append(out, loc+": "+strings.TrimSpace(e.Message))
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(verr)
	return out
}

func normalizeValue(value any) (any, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return decode(v)
	case []byte:
		return decode(v)
	default:
		return value, nil
	}
}

func decode(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return out, nil
}

func schemaID(id string) string {
	if id == "" {
		id = "schema"
	}
	return "inmemory://" + id
}
