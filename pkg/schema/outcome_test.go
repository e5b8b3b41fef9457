package schema

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReport_CompletedHasNone(t *testing.T) {
	o := &RunOutcome{Kind: OutcomeCompleted, StepIndex: -1}
	assert.False(t, o.Aborted())
	assert.Nil(t, o.Report())
}

func TestReport_AssertionFailed(t *testing.T) {
	v := Violated("x > 1 and name = \"bob\"", map[string]any{"x": float64(1), "name": "alice"}, nil)
	o := &RunOutcome{
		Workflow:  "checkout",
		Kind:      OutcomeAssertionFailed,
		StepIndex: 2,
		StepID:    "charge",
		Phase:     PhaseCheckAfter,
		Side:      SideAfter,
		Verdict:   &v,
	}

	r := o.Report()
	require.NotNil(t, r)
	assert.Equal(t, PhaseCheckAfter, r.Phase)
	assert.Equal(t, v.Expression, r.Expression)
	assert.Equal(t, v.Bindings, r.Bindings)

	text := r.String()
	assert.Contains(t, text, `step "charge" (#2) after-condition violated`)
	assert.Contains(t, text, "    name = \"alice\"\n    x = 1")
}

func TestReport_UnboundVariable(t *testing.T) {
	v := Violated("y = 2", map[string]any{}, UnboundVariable("y"))
	o := &RunOutcome{Kind: OutcomeAssertionFailed, StepID: "s0", Phase: PhaseCheckBefore, Verdict: &v}

	r := o.Report()
	require.NotNil(t, r.EvalError)
	assert.Equal(t, EvalUnboundVariable, r.EvalError.Kind)
	assert.Contains(t, r.String(), `unbound variable "y"`)
}

func TestReport_StepFailedAndCancelled(t *testing.T) {
	failed := &RunOutcome{
		Kind: OutcomeStepFailed, StepID: "s1", StepIndex: 1, Phase: PhaseExecute,
		Cause: errors.New("boom"), CauseText: "boom",
	}
	assert.Contains(t, failed.Report().String(), "cause: boom")

	cancelled := &RunOutcome{Kind: OutcomeCancelled, StepID: "s2", StepIndex: 2, Phase: PhaseCheckAfter, Reason: "shutdown"}
	text := cancelled.Report().String()
	assert.Contains(t, text, "before after phase")
	assert.Contains(t, text, "reason: shutdown")
}

func TestAssertion_ExpressionNilSafe(t *testing.T) {
	var a *Assertion
	assert.Equal(t, "", a.Expression(SideBefore))

	a = &Assertion{Before: "x = 1"}
	assert.Equal(t, "x = 1", a.Expression(SideBefore))
	assert.Equal(t, "", a.Expression(SideAfter))
}

func TestEvalError_Messages(t *testing.T) {
	assert.Equal(t, "parse error at position 4: unexpected token", ParseError(4, "unexpected token").Error())
	assert.Equal(t, `unbound variable "y"`, UnboundVariable("y").Error())
	assert.Equal(t, "type mismatch: string vs number", TypeMismatch("string vs number").Error())
}

func TestStepError_Unwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := NewStepError("write", cause)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "step write failed: disk full", err.Error())
}

func TestReport_ExcludesRunIdentity(t *testing.T) {
	v := Violated("x > 1", map[string]any{"x": 0.0}, nil)
	a := &RunOutcome{RunID: "r1", Workflow: "w", Kind: OutcomeAssertionFailed, StepID: "s", Phase: PhaseCheckBefore,
		Verdict: &v, StartedAt: time.Unix(1, 0), CompletedAt: time.Unix(2, 0)}
	b := *a
	b.RunID = "r2"
	b.StartedAt, b.CompletedAt = time.Unix(10, 0), time.Unix(20, 0)

	assert.Equal(t, a.Report(), b.Report())
	assert.NotContains(t, a.Report().String(), "r1")
}
