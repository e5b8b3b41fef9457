package actions

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/assertflow/internal/execctx"
	"github.com/rendis/assertflow/pkg/schema"
)

func newExecutor(t *testing.T) *Executor {
	t.Helper()
	reg, err := NewDefaultRegistry()
	require.NoError(t, err)
	return NewExecutor(reg)
}

func step(id, action, params string) *schema.StepDefinition {
	s := &schema.StepDefinition{ID: id, Action: action}
	if params != "" {
		s.Params = json.RawMessage(params)
	}
	return s
}

func requireStepError(t *testing.T, err error, stepID string) *schema.StepError {
	t.Helper()
	require.Error(t, err)
	var se *schema.StepError
	require.True(t, errors.As(err, &se), "expected *schema.StepError, got %T", err)
	assert.Equal(t, stepID, se.StepID)
	return se
}

func TestExecutor_DefaultActionIsNoop(t *testing.T) {
	x := newExecutor(t)
	in := execctx.MustNew(map[string]any{"x": 1})

	out, err := x.Execute(context.Background(), &schema.StepDefinition{ID: "s1"}, in)
	require.NoError(t, err)
	assert.True(t, in.Equal(out))
}

func TestExecutor_VarsSetAndUnset(t *testing.T) {
	x := newExecutor(t)
	in := execctx.MustNew(map[string]any{"x": 1, "gone": "bye"})

	out, err := x.Execute(context.Background(), step("s1", "vars.set", `{"values": {"x": 2, "name": "bob", "ok": true}}`), in)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"x": 2.0, "name": "bob", "ok": true, "gone": "bye"}, out.Map())

	out, err = x.Execute(context.Background(), step("s2", "vars.unset", `{"names": ["gone"]}`), out)
	require.NoError(t, err)
	assert.False(t, out.Has("gone"))

	// The input context is untouched.
	assert.Equal(t, map[string]any{"x": 1.0, "gone": "bye"}, in.Map())
}

func TestExecutor_ExprEval(t *testing.T) {
	x := newExecutor(t)
	in := execctx.MustNew(map[string]any{"price": 2.5, "qty": 4})

	out, err := x.Execute(context.Background(),
		step("total", "expr.eval", `{"assign": {"total": "price * qty", "big": "price * qty > 5"}}`), in)
	require.NoError(t, err)
	total, _ := out.Lookup("total")
	big, _ := out.Lookup("big")
	assert.Equal(t, 10.0, total)
	assert.Equal(t, true, big)
}

func TestExecutor_JQ(t *testing.T) {
	x := newExecutor(t)
	in := execctx.MustNew(map[string]any{"first": "ada", "last": "lovelace"})

	out, err := x.Execute(context.Background(),
		step("merge", "jq", `{"filter": "{full: (.first + \" \" + .last), n: (.first | length)}"}`), in)
	require.NoError(t, err)
	full, _ := out.Lookup("full")
	n, _ := out.Lookup("n")
	assert.Equal(t, "ada lovelace", full)
	assert.Equal(t, 3.0, n)

	out, err = x.Execute(context.Background(), step("into", "jq", `{"filter": ".last | ascii_upcase", "into": "upper"}`), in)
	require.NoError(t, err)
	upper, _ := out.Lookup("upper")
	assert.Equal(t, "LOVELACE", upper)

	_, err = x.Execute(context.Background(), step("scalar", "jq", `{"filter": ".first"}`), in)
	requireStepError(t, err, "scalar")
}

func TestExecutor_Failures(t *testing.T) {
	x := newExecutor(t)
	in := execctx.MustNew(map[string]any{"x": 1})

	tests := []struct {
		name string
		step *schema.StepDefinition
		code string
	}{
		{"unknown action", step("s", "nope", ""), schema.ErrCodeActionUnavailable},
		{"bad params json", step("s", "vars.set", `[1, 2]`), schema.ErrCodeValidation},
		{"invalid params", step("s", "vars.set", `{}`), schema.ErrCodeValidation},
		{"fail action", step("s", "fail", `{"message": "boom"}`), schema.ErrCodeExecution},
		{"non-scalar binding", step("s", "vars.set", `{"values": {"list": [1, 2]}}`), schema.ErrCodeExecution},
		{"expr error", step("s", "expr.eval", `{"assign": {"y": "1 +"}}`), schema.ErrCodeExpression},
		{"unbound reference", step("s", "vars.set", `{"values": {"y": "${{vars.missing}}"}}`), schema.ErrCodeInterpolation},
		{"unknown namespace", step("s", "fail", `{"message": "${{secrets.key}}"}`), schema.ErrCodeInterpolation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := x.Execute(context.Background(), tt.step, in)
			se := requireStepError(t, err, "s")

			var cause *schema.Error
			require.True(t, errors.As(se.Cause, &cause))
			assert.Equal(t, tt.code, cause.Code)
			assert.True(t, in.Equal(out))
		})
	}
}

func TestExecutor_ResolvesParamReferences(t *testing.T) {
	x := newExecutor(t)
	in := execctx.MustNew(map[string]any{"amount": 40, "owner": "ana"})

	out, err := x.Execute(context.Background(), step("deposit", "vars.set",
		`{"values": {"copy": "${{vars.amount}}", "note": "${{ vars.owner }} paid ${{vars.amount}} in ${{step.id}}"}}`), in)
	require.NoError(t, err)
	assert.Equal(t, 40.0, out.Map()["copy"], "a whole-string reference keeps the value's type")
	assert.Equal(t, "ana paid 40 in deposit", out.Map()["note"])

	_, err = x.Execute(context.Background(), step("refuse", "fail", `{"message": "balance ${{vars.amount}} too low"}`), in)
	se := requireStepError(t, err, "refuse")
	assert.Contains(t, se.Error(), "balance 40 too low")

	// Params are resolved against the context the step receives.
	assert.Equal(t, map[string]any{"amount": 40.0, "owner": "ana"}, in.Map())
}

type panicAction struct{}

func (panicAction) Name() string                    { return "panic" }
func (panicAction) Schema() ActionSchema            { return ActionSchema{} }
func (panicAction) Validate(_ map[string]any) error { return nil }
func (panicAction) Execute(_ context.Context, _ ActionInput) (*ActionOutput, error) {
	panic("kaboom")
}

func TestExecutor_RecoversPanics(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(panicAction{}))
	x := NewExecutor(reg)
	in := execctx.MustNew(map[string]any{"x": 1})

	out, err := x.Execute(context.Background(), step("p", "panic", ""), in)
	se := requireStepError(t, err, "p")
	assert.Contains(t, se.Error(), "kaboom")
	assert.True(t, in.Equal(out))
}

func TestSleep(t *testing.T) {
	x := newExecutor(t)

	start := time.Now()
	_, err := x.Execute(context.Background(), step("s", "sleep", `{"duration": "20ms"}`), execctx.Context{})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = x.Execute(ctx, step("s", "sleep", `{"duration": "1h"}`), execctx.Context{})
	requireStepError(t, err, "s")

	_, err = x.Execute(context.Background(), step("s", "sleep", `{"duration": "soon"}`), execctx.Context{})
	requireStepError(t, err, "s")
}

func TestDecodeParams(t *testing.T) {
	p, err := DecodeParams(nil)
	require.NoError(t, err)
	assert.Empty(t, p)

	p, err = DecodeParams(json.RawMessage(`null`))
	require.NoError(t, err)
	assert.Empty(t, p)

	p, err = DecodeParams(json.RawMessage(`{"a": 1}`))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": 1.0}, p)

	_, err = DecodeParams(json.RawMessage(`"str"`))
	require.Error(t, err)
}
