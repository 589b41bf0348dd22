package schema

import (
	"encoding/json"
	"strings"
	"testing"
)

const metricSchema = `{
  "type": "object",
  "properties": {
    "name": {"type": "string", "minLength": 1},
    "groups": {"type": "array", "items": {"type": "string"}}
  },
  "required": ["name"]
}`

func TestValidateSchema(t *testing.T) {
	if err := ValidateSchema("metric", []byte(metricSchema), map[string]any{"name": "latency"}); err != nil {
		t.Fatalf("expected valid payload: %v", err)
	}
	if err := ValidateSchema("metric", []byte(metricSchema), map[string]any{"groups": []any{"a"}}); err == nil {
		t.Fatalf("expected schema validation error")
	}
}

func TestCompiledValidatorReuse(t *testing.T) {
	v, err := Compile("metric", []byte(metricSchema))
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if err := v.Validate([]byte(`{"name":"cpu","groups":["system"]}`)); err != nil {
		t.Fatalf("expected valid bytes: %v", err)
	}
	if err := v.Validate(json.RawMessage(`{"name":"cpu","groups":[1]}`)); err == nil {
		t.Fatalf("expected type error for group entry")
	}
	var nilValidator *Validator
	if err := nilValidator.Validate(map[string]any{}); err == nil {
		t.Fatalf("expected error for nil validator")
	}
}

func TestMustCompilePanicsOnBadSchema(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	MustCompile("bad", []byte(`{"type": 5}`))
}

func TestViolations(t *testing.T) {
	v := MustCompile("metric", []byte(metricSchema))
	err := v.Validate([]byte(`{"name":"","groups":"x"}`))
	if err == nil {
		t.Fatalf("expected validation error")
	}
	lines := Violations(err)
	if len(lines) < 2 {
		t.Fatalf("expected one line per violation, got %v", lines)
	}
	joined := strings.Join(lines, "\n")
	if !strings.Contains(joined, "/name") || !strings.Contains(joined, "/groups") {
		t.Fatalf("expected instance locations, got %v", lines)
	}
	if Violations(nil) != nil {
		t.Fatalf("expected nil for nil error")
	}
	if got := Violations(json.Unmarshal([]byte("{"), new(any))); len(got) != 1 {
		t.Fatalf("expected plain error passthrough, got %v", got)
	}
}

func TestValidateEmptySchemas(t *testing.T) {
	if err := ValidateSchema("test", nil, nil); err == nil {
		t.Fatalf("expected error for empty schema")
	}
}

func TestNormalizeValue(t *testing.T) {
	val, err := normalizeValue(json.RawMessage(`{"k":1.5}`))
	if err != nil {
		t.Fatalf("normalize raw: %v", err)
	}
	m, ok := val.(map[string]any)
	if !ok || m["k"] != json.Number("1.5") {
		t.Fatalf("unexpected normalized value: %#v", val)
	}
	if _, err := normalizeValue([]byte("{")); err == nil {
		t.Fatalf("expected error for invalid byte json")
	}
	if got := schemaID(""); got != "inmemory://schema" {
		t.Fatalf("unexpected schema id: %s", got)
	}
}
