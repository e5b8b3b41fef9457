package assertion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/assertflow/internal/execctx"
	"github.com/rendis/assertflow/internal/expressions"
	"github.com/rendis/assertflow/pkg/schema"
)

// countingEngine records Compile calls to prove absent expressions never reach it.
type countingEngine struct {
	inner    expressions.ConditionEngine
	compiles int
}

func (e *countingEngine) Dialect() schema.Dialect { return e.inner.Dialect() }

func (e *countingEngine) Compile(expression string) (expressions.Condition, error) {
	e.compiles++
	return e.inner.Compile(expression)
}

func newChecker() (*Checker, *countingEngine) {
	eng := &countingEngine{inner: expressions.NewNativeEngine()}
	return NewChecker(eng), eng
}

func TestChecker_AbsentIsVacuouslySatisfied(t *testing.T) {
	c, eng := newChecker()
	ctx := execctx.MustNew(map[string]any{"x": 1})

	assert.True(t, c.CheckBefore(nil, ctx).Satisfied)
	assert.True(t, c.CheckAfter(nil, ctx).Satisfied)
	assert.True(t, c.CheckBefore(&schema.Assertion{}, ctx).Satisfied)
	assert.True(t, c.CheckAfter(&schema.Assertion{Before: "x > 0"}, ctx).Satisfied)
	assert.True(t, c.CheckBefore(&schema.Assertion{After: "x > 0"}, ctx).Satisfied)
	assert.Zero(t, eng.compiles)
}

func TestChecker_TrueIsSatisfied(t *testing.T) {
	c, _ := newChecker()
	v := c.CheckBefore(&schema.Assertion{Before: "x > 0"}, execctx.MustNew(map[string]any{"x": 1}))
	assert.True(t, v.Satisfied)
	assert.Empty(t, v.Expression)
	assert.Nil(t, v.Err)
}

func TestChecker_FalseCarriesReferencedBindingsOnly(t *testing.T) {
	c, _ := newChecker()
	ctx := execctx.MustNew(map[string]any{"x": 0, "y": "a", "unrelated": true})

	v := c.CheckAfter(&schema.Assertion{After: "x > 0 and y = 'a'"}, ctx)
	assert.False(t, v.Satisfied)
	assert.Equal(t, "x > 0 and y = 'a'", v.Expression)
	assert.Equal(t, map[string]any{"x": 0.0, "y": "a"}, v.Bindings)
	assert.Nil(t, v.Err)
}

func TestChecker_EvalErrorsBecomeViolations(t *testing.T) {
	c, _ := newChecker()
	ctx := execctx.MustNew(map[string]any{"x": 1})

	tests := []struct {
		name     string
		expr     string
		kind     schema.EvalErrorKind
		bindings map[string]any
	}{
		{"unbound", "y > 1", schema.EvalUnboundVariable, map[string]any{}},
		{"type mismatch", "x = 'a'", schema.EvalTypeMismatch, map[string]any{"x": 1.0}},
		{"parse error", "x >", schema.EvalParseError, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := c.CheckBefore(&schema.Assertion{Before: tt.expr}, ctx)
			assert.False(t, v.Satisfied)
			assert.Equal(t, tt.expr, v.Expression)
			require.NotNil(t, v.Err)
			assert.Equal(t, tt.kind, v.Err.Kind)
			assert.Equal(t, tt.bindings, v.Bindings)
		})
	}
}

func TestChecker_DoesNotMutateContext(t *testing.T) {
	c, _ := newChecker()
	ctx := execctx.MustNew(map[string]any{"x": 1})
	before := ctx.Map()

	c.CheckBefore(&schema.Assertion{Before: "x = 2"}, ctx)
	assert.Equal(t, before, ctx.Map())
}

func TestForDialect(t *testing.T) {
	d, err := expressions.NewDialects()
	require.NoError(t, err)

	c, err := ForDialect(d, schema.DialectCEL)
	require.NoError(t, err)
	assert.Equal(t, schema.DialectCEL, c.Dialect())

	v := c.CheckBefore(&schema.Assertion{Before: "x > 1 && y == 'b'"}, execctx.MustNew(map[string]any{"x": 2, "y": "a"}))
	assert.False(t, v.Satisfied)
	assert.Equal(t, map[string]any{"x": 2.0, "y": "a"}, v.Bindings)

	require.NoError(t, c.Compile("x > 1"))
	assert.Error(t, c.Compile("x >"))

	_, err = ForDialect(d, "python")
	assert.Error(t, err)
}
