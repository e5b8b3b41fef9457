// Package validation checks workflow definitions before they are run.
package validation

import (
	"github.com/rendis/assertflow/internal/expressions"
	"github.com/rendis/assertflow/pkg/schema"
)

// Validator checks workflow definitions for correctness before execution.
type Validator interface {
	Validate(def *schema.WorkflowDefinition) *schema.ValidationResult
	ValidateDefinition(def *schema.WorkflowDefinition) error
}

// WorkflowValidator runs the validation pipeline:
// 1. Structural (JSON Schema)
// 2. Semantic (step ids, actions and params, vars, expressions)
// 3. Dataflow (warnings for variables only the caller can bind)
type WorkflowValidator struct {
	jsonSchema *JSONSchemaValidator
	actions    ActionLookup
	dialects   *expressions.Dialects
	fallback   schema.Dialect
}

// NewWorkflowValidator creates a WorkflowValidator. lookup may be nil to
// skip action checks and dialects may be nil to skip expression checks.
func NewWorkflowValidator(lookup ActionLookup, dialects *expressions.Dialects) (*WorkflowValidator, error) {
	jsv, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &WorkflowValidator{
		jsonSchema: jsv,
		actions:    lookup,
		dialects:   dialects,
	}, nil
}

// WithDefaultDialect sets the dialect assumed for workflows that set none.
func (wv *WorkflowValidator) WithDefaultDialect(d schema.Dialect) *WorkflowValidator {
	wv.fallback = d
	return wv
}

// Schema returns the structural validator, for checking raw documents.
func (wv *WorkflowValidator) Schema() *JSONSchemaValidator {
	return wv.jsonSchema
}

// Validate runs the full pipeline and returns an aggregated result.
// Structural errors short-circuit: later stages are skipped.
func (wv *WorkflowValidator) Validate(def *schema.WorkflowDefinition) *schema.ValidationResult {
	if def == nil {
		r := &schema.ValidationResult{}
		r.AddError("/", schema.ErrCodeValidation, "workflow definition is nil")
		return r
	}

	// Stage 1: Structural.
	result := validateStructural(wv.jsonSchema, def)
	if !result.Valid() {
		return result
	}

	// Stage 2: Semantic.
	in := semanticInput{lookup: wv.actions, params: wv.jsonSchema}
	if wv.dialects != nil {
		dialect := def.Dialect
		if dialect == "" {
			dialect = wv.fallback
		}
		engine, err := wv.dialects.Get(dialect)
		if err != nil {
			result.AddError("dialect", schema.ErrCodeValidation, errorMessage(err))
		} else {
			in.conditions = engine
		}
	}
	semantic, compiled := validateSemantic(def, in)
	result.Merge(semantic)

	// Stage 3: Dataflow, only for an otherwise valid definition.
	if result.Valid() {
		result.Merge(validateDataflow(def, compiled))
	}

	return result
}

// ValidateDefinition satisfies the Validator interface.
func (wv *WorkflowValidator) ValidateDefinition(def *schema.WorkflowDefinition) error {
	return wv.Validate(def).ToError()
}

// validateStructural converts the schema validator's error into issues.
func validateStructural(v *JSONSchemaValidator, def *schema.WorkflowDefinition) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	err := v.ValidateDefinition(def)
	if err == nil {
		return result
	}

	se, ok := err.(*schema.Error)
	if !ok {
		result.AddError("/", schema.ErrCodeValidation, err.Error())
		return result
	}
	if violations, ok := se.Details["violations"].([]string); ok {
		for _, v := range violations {
			result.AddError("/", schema.ErrCodeValidation, v)
		}
		return result
	}
	result.AddError("/", schema.ErrCodeValidation, se.Message)
	return result
}

var _ Validator = (*WorkflowValidator)(nil)
