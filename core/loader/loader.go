// Package loader turns external canary config sources (raw JSON, files, the
// system clipboard) into documents for an editor store.
package loader

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/refereehq/referee/core/canary"
	"github.com/refereehq/referee/core/editor"
	"github.com/refereehq/referee/core/infra/logging"
	"github.com/refereehq/referee/core/infra/schema"
)

//go:embed schema/canary_config.schema.json
var canaryConfigSchema []byte

var canaryValidator = schema.MustCompile("canary-config", canaryConfigSchema)

// LoadError explains why a source could not be turned into a document.
type LoadError struct {
	Source     string
	Violations []string
	Err        error
}

func (e *LoadError) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("load %s: %v", e.Source, e.Err)
	if len(e.Violations) > 0 {
		msg += " (" + strings.Join(e.Violations, "; ") + ")"
	}
	return msg
}

func (e *LoadError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ErrEmpty is reported for empty payloads.
var ErrEmpty = errors.New("empty canary config")

// ParseJSON validates data against the canary config schema and decodes it.
func ParseJSON(data []byte) (*canary.Config, error) {
	return parse("json", data)
}

func parse(source string, data []byte) (*canary.Config, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, &LoadError{Source: source, Err: ErrEmpty}
	}
	if err := canaryValidator.Validate(data); err != nil {
		return nil, &LoadError{Source: source, Err: err, Violations: schema.Violations(err)}
	}
	var cfg canary.Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, &LoadError{Source: source, Err: fmt.Errorf("decode: %w", err)}
	}
	cfg.Normalize()
	return &cfg, nil
}

// LoadFile reads and parses a canary config file.
func LoadFile(path string) (*canary.Config, error) {
	// #nosec G304 -- path is chosen by the operator.
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Source: path, Err: err}
	}
	return parse(path, data)
}

// ErrorHandler receives load failures.
type ErrorHandler func(error)

// LogErrors is the default ErrorHandler.
func LogErrors(err error) {
	logging.Error("loader", "canary config load failed", "error", err)
}

// Apply runs load and hands the result to store. On failure onError is called
// and store is left untouched. It reports whether the store was updated.
func Apply(store *editor.Store, load func() (*canary.Config, error), onError ErrorHandler) bool {
	if onError == nil {
		onError = LogErrors
	}
	if store == nil || load == nil {
		onError(errors.New("loader: nil store or load function"))
		return false
	}
	cfg, err := load()
	if err != nil {
		onError(err)
		return false
	}
	if cfg == nil {
		onError(&LoadError{Source: "loader", Err: ErrEmpty})
		return false
	}
	store.SetCanaryConfigObject(*cfg)
	return true
}

// Pretty renders cfg the way the copy button exports it.
func Pretty(cfg canary.Config) ([]byte, error) {
	cfg = cfg.Clone()
	cfg.Normalize()
	return json.MarshalIndent(cfg, "", "  ")
}
