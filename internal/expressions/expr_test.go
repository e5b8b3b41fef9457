package expressions

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/assertflow/pkg/schema"
)

func TestExprCondition_Eval(t *testing.T) {
	eng := NewExprEngine()
	assert.Equal(t, schema.DialectExpr, eng.Dialect())
	ctx := vars(map[string]any{"x": 5, "name": "bob", "ok": true})

	tests := []struct {
		expr string
		want bool
	}{
		{"x > 1", true},
		{`name == "bob" && ok`, true},
		{"x in [1, 2, 3]", false},
		{"not ok or x >= 5", true},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			cond, err := eng.Compile(tt.expr)
			require.NoError(t, err)
			got, err := cond.Eval(ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExprCondition_Errors(t *testing.T) {
	eng := NewExprEngine()

	_, err := eng.Compile("x >")
	assert.Equal(t, schema.EvalParseError, evalErr(t, err).Kind)

	cond, err := eng.Compile("y > 1")
	require.NoError(t, err)
	assert.Equal(t, []string{"y"}, cond.References())
	_, err = cond.Eval(vars(map[string]any{"x": 1}))
	ee := evalErr(t, err)
	assert.Equal(t, schema.EvalUnboundVariable, ee.Kind)
	assert.Equal(t, "y", ee.Name)

	cond, err = eng.Compile("x + 1")
	require.NoError(t, err)
	_, err = cond.Eval(vars(map[string]any{"x": 1}))
	assert.Equal(t, schema.EvalTypeMismatch, evalErr(t, err).Kind)
}

func TestExprCondition_RecompilesPerValueTypes(t *testing.T) {
	cond, err := NewExprEngine().Compile("x == y")
	require.NoError(t, err)

	got, err := cond.Eval(vars(map[string]any{"x": 1, "y": 1}))
	require.NoError(t, err)
	assert.True(t, got)

	got, err = cond.Eval(vars(map[string]any{"x": "a", "y": "a"}))
	require.NoError(t, err)
	assert.True(t, got)
}

func TestExprEngine_Evaluate(t *testing.T) {
	eng := NewExprEngine()

	out, err := eng.Evaluate(context.Background(), "price * qty", map[string]any{"price": 2.5, "qty": 4.0})
	require.NoError(t, err)
	assert.Equal(t, 10.0, out)

	out, err = eng.Evaluate(context.Background(), `name + "!"`, map[string]any{"name": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hi!", out)
}

func TestExprEngine_EvaluateErrors(t *testing.T) {
	eng := NewExprEngine()

	_, err := eng.Evaluate(context.Background(), "", nil)
	var se *schema.Error
	require.True(t, errors.As(err, &se))
	assert.Equal(t, schema.ErrCodeValidation, se.Code)

	_, err = eng.Evaluate(context.Background(), "1 +", nil)
	require.True(t, errors.As(err, &se))
	assert.Equal(t, schema.ErrCodeExpression, se.Code)
}

func TestExprCondition_AgreesWithNative(t *testing.T) {
	d, err := NewDialects()
	require.NoError(t, err)
	ctx := vars(map[string]any{"x": 5, "ok": true})

	for _, source := range []string{"x > 3 and ok", "not ok or x < 2", "(x >= 5) and (x <= 5)"} {
		t.Run(source, func(t *testing.T) {
			native, err := d.Compile(schema.DialectNative, source)
			require.NoError(t, err)
			exprCond, err := d.Compile(schema.DialectExpr, source)
			require.NoError(t, err)

			assert.ElementsMatch(t, native.References(), exprCond.References())

			want, err := native.Eval(ctx)
			require.NoError(t, err)
			got, err := exprCond.Eval(ctx)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}

	_, err = d.Compile(schema.DialectExpr, "x >")
	ee := evalErr(t, err)
	assert.Equal(t, schema.EvalParseError, ee.Kind)
}
