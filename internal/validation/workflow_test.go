package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/assertflow/internal/expressions"
	"github.com/rendis/assertflow/pkg/schema"
)

func TestWorkflowValidator_FullValid(t *testing.T) {
	def := &schema.WorkflowDefinition{
		Name: "w",
		Vars: map[string]any{"x": 1},
		Steps: []schema.StepDefinition{
			{ID: "s1", Assertion: &schema.Assertion{Before: "x = 1"}},
		},
	}
	result := newTestValidator(t).Validate(def)
	assert.True(t, result.Valid())
	assert.Empty(t, result.Warnings)
	assert.NoError(t, newTestValidator(t).ValidateDefinition(def))
}

func TestWorkflowValidator_NilDef(t *testing.T) {
	result := newTestValidator(t).Validate(nil)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0].Message, "nil")
}

func TestWorkflowValidator_StructuralFailShortCircuits(t *testing.T) {
	def := &schema.WorkflowDefinition{Name: "w", Steps: []schema.StepDefinition{
		{ID: "bad id", Action: "nope"},
	}}
	result := newTestValidator(t).Validate(def)
	require.False(t, result.Valid())
	for _, e := range result.Errors {
		assert.NotEqual(t, schema.ErrCodeActionUnavailable, e.Code)
	}
}

func TestWorkflowValidator_DialectSelectsCompiler(t *testing.T) {
	def := &schema.WorkflowDefinition{Name: "w", Dialect: schema.DialectCEL, Steps: []schema.StepDefinition{
		{ID: "s", Assertion: &schema.Assertion{Before: "x == 1.0 && y"}},
	}}
	result := newTestValidator(t).Validate(def)
	assert.True(t, result.Valid(), "%v", result.Errors)

	def.Dialect = schema.DialectNative
	result = newTestValidator(t).Validate(def)
	assert.False(t, result.Valid())
}

func TestWorkflowValidator_UnknownDialect(t *testing.T) {
	def := &schema.WorkflowDefinition{Name: "w", Dialect: "lisp", Steps: []schema.StepDefinition{{ID: "s"}}}
	result := newTestValidator(t).Validate(def)
	assert.Equal(t, []string{"dialect"}, paths(result.Errors))
}

func TestWorkflowValidator_DefaultDialect(t *testing.T) {
	def := &schema.WorkflowDefinition{Name: "w", Vars: map[string]any{"x": 1}, Steps: []schema.StepDefinition{
		{ID: "s", Assertion: &schema.Assertion{Before: "x == 1"}},
	}}
	assert.False(t, newTestValidator(t).Validate(def).Valid())
	assert.True(t, newTestValidator(t).WithDefaultDialect(schema.DialectExpr).Validate(def).Valid())
}

func TestWorkflowValidator_SemanticErrorsSkipDataflow(t *testing.T) {
	def := &schema.WorkflowDefinition{Name: "w", Steps: []schema.StepDefinition{
		{ID: "s", Action: "nope", Assertion: &schema.Assertion{Before: "unbound"}},
	}}
	result := newTestValidator(t).Validate(def)
	assert.Equal(t, []string{"steps[0].action"}, paths(result.Errors))
	assert.Empty(t, result.Warnings)
}

func TestWorkflowValidator_ToError(t *testing.T) {
	def := &schema.WorkflowDefinition{Name: "w", Steps: []schema.StepDefinition{{ID: "a"}, {ID: "a"}}}
	err := newTestValidator(t).ValidateDefinition(def)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate step id")
}

func TestWorkflowValidator_NilCollaborators(t *testing.T) {
	wv, err := NewWorkflowValidator(nil, nil)
	require.NoError(t, err)
	def := &schema.WorkflowDefinition{Name: "w", Steps: []schema.StepDefinition{
		{ID: "s", Action: "custom", Assertion: &schema.Assertion{Before: "((("}},
	}}
	assert.True(t, wv.Validate(def).Valid())

	dialects, err := expressions.NewDialects()
	require.NoError(t, err)
	wv, err = NewWorkflowValidator(nil, dialects)
	require.NoError(t, err)
	assert.False(t, wv.Validate(def).Valid())
}
