package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/refereehq/referee/core/canary"
	"gopkg.in/yaml.v3"
)

// EditorDefaults seeds new editing sessions.
type EditorDefaults struct {
	Template       canary.Template `yaml:"template"`
	UngroupedGroup string          `yaml:"ungrouped_group"`
}

// DefaultEditorDefaults returns the built-in defaults.
func DefaultEditorDefaults() EditorDefaults {
	return EditorDefaults{
		Template:       canary.DefaultTemplate(),
		UngroupedGroup: "ungrouped",
	}
}

// ParseEditorDefaults parses editor defaults from YAML/JSON bytes. Unset
// fields keep their built-in values.
func ParseEditorDefaults(data []byte) (EditorDefaults, error) {
	out := DefaultEditorDefaults()
	if len(strings.TrimSpace(string(data))) == 0 {
		return out, nil
	}
	if err := validateConfigSchema("editor defaults", editorSchemaFile, data); err != nil {
		return out, err
	}
	var raw EditorDefaults
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return out, fmt.Errorf("parse editor defaults: %w", err)
	}
	if v := strings.TrimSpace(raw.Template.JudgeName); v != "" {
		out.Template.JudgeName = v
	}
	if v := strings.TrimSpace(raw.Template.ConfigVersion); v != "" {
		out.Template.ConfigVersion = v
	}
	if len(raw.Template.Applications) > 0 {
		out.Template.Applications = raw.Template.Applications
	}
	if v := strings.TrimSpace(raw.UngroupedGroup); v != "" {
		out.UngroupedGroup = v
	}
	return out, nil
}

// LoadEditorDefaults reads editor defaults from path. A missing file yields the
// built-in defaults.
func LoadEditorDefaults(path string) (EditorDefaults, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultEditorDefaults(), nil
	}
	// #nosec G304 -- defaults path is operator-provided.
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return DefaultEditorDefaults(), nil
	}
	if err != nil {
		return DefaultEditorDefaults(), fmt.Errorf("read editor defaults %s: %w", path, err)
	}
	cfg, err := ParseEditorDefaults(data)
	if err != nil {
		return DefaultEditorDefaults(), fmt.Errorf("load editor defaults %s: %w", path, err)
	}
	return cfg, nil
}
