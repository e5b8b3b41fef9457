// Package loader reads workflow definitions from JSON or YAML documents and
// validates them before they reach the engine.
package loader

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rendis/assertflow/internal/validation"
	"github.com/rendis/assertflow/pkg/schema"
)

// Format is the encoding of a workflow document.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatFor picks the format from a file extension; anything that is not
// .json is read as YAML, which also accepts JSON.
func FormatFor(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return FormatJSON
	}
	return FormatYAML
}

// Loaded is a validated workflow definition.
type Loaded struct {
	Definition *schema.WorkflowDefinition
	Source     string                   // file path, or "" for in-memory documents
	Warnings   []schema.ValidationIssue // non-fatal validation issues
}

// Loader decodes and validates workflow documents.
type Loader struct {
	validator *validation.WorkflowValidator
}

// New creates a Loader that validates with v.
func New(v *validation.WorkflowValidator) *Loader {
	return &Loader{validator: v}
}

// LoadFile reads and validates the workflow at path. A document without a
// name is named after the file.
func (l *Loader) LoadFile(path string) (*Loaded, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeLoad, "read workflow %s: %s", path, err.Error()).WithCause(err)
	}

	base := filepath.Base(path)
	name := strings.TrimSuffix(base, filepath.Ext(base))

	loaded, err := l.Load(data, FormatFor(path), name)
	if err != nil {
		return nil, err
	}
	loaded.Source = path
	return loaded, nil
}

// Load decodes data in the given format and validates it. defaultName is
// used when the document does not set a name.
func (l *Loader) Load(data []byte, format Format, defaultName string) (*Loaded, error) {
	raw, err := toJSON(data, format)
	if err != nil {
		return nil, err
	}

	if err := l.validator.Schema().ValidateDocument(raw); err != nil {
		return nil, err
	}

	def, err := Decode(raw)
	if err != nil {
		return nil, err
	}
	if def.Name == "" {
		def.Name = defaultName
	}

	result := l.validator.Validate(def)
	if err := result.ToError(); err != nil {
		return nil, err
	}
	return &Loaded{Definition: def, Warnings: result.Warnings}, nil
}

// Decode strictly decodes a JSON workflow document without validating it.
func Decode(raw []byte) (*schema.WorkflowDefinition, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()

	var def schema.WorkflowDefinition
	if err := dec.Decode(&def); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeLoad, "decode workflow: %s", err.Error()).WithCause(err)
	}
	return &def, nil
}

// toJSON normalizes a document to JSON so a single schema covers both formats.
func toJSON(data []byte, format Format) ([]byte, error) {
	if format == FormatJSON {
		if !json.Valid(data) {
			return nil, schema.NewError(schema.ErrCodeLoad, "workflow document is not valid JSON")
		}
		return data, nil
	}

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeLoad, "parse YAML: %s", err.Error()).WithCause(err)
	}
	if doc == nil {
		return nil, schema.NewError(schema.ErrCodeLoad, "workflow document is empty")
	}

	raw, err := json.Marshal(normalizeYAML(doc))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeLoad, "convert YAML to JSON: %s", err.Error()).WithCause(err)
	}
	return raw, nil
}

// normalizeYAML converts the map[any]any nodes yaml.v3 produces for
// non-string keys into JSON-compatible maps.
func normalizeYAML(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalizeYAML(item)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[fmt.Sprint(k)] = normalizeYAML(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeYAML(item)
		}
		return out
	default:
		return val
	}
}
