// Package assertion checks the before and after conditions attached to
// workflow steps and turns the result into a Verdict.
package assertion

import (
	"errors"

	"github.com/rendis/assertflow/internal/execctx"
	"github.com/rendis/assertflow/internal/expressions"
	"github.com/rendis/assertflow/pkg/schema"
)

// Checker evaluates assertions in a single expression dialect.
// It is stateless apart from the engine's compile cache and safe for concurrent use.
type Checker struct {
	engine expressions.ConditionEngine
}

// NewChecker creates a Checker backed by engine.
func NewChecker(engine expressions.ConditionEngine) *Checker {
	return &Checker{engine: engine}
}

// ForDialect resolves dialect in d and returns a Checker for it.
func ForDialect(d *expressions.Dialects, dialect schema.Dialect) (*Checker, error) {
	engine, err := d.Get(dialect)
	if err != nil {
		return nil, err
	}
	return NewChecker(engine), nil
}

// Dialect returns the dialect this checker evaluates.
func (c *Checker) Dialect() schema.Dialect {
	return c.engine.Dialect()
}

// CheckBefore evaluates the pre-condition of a against the context the step
// is about to run with.
func (c *Checker) CheckBefore(a *schema.Assertion, vars execctx.Context) schema.Verdict {
	return c.Check(schema.SideBefore, a, vars)
}

// CheckAfter evaluates the post-condition of a against the context the step
// produced.
func (c *Checker) CheckAfter(a *schema.Assertion, vars execctx.Context) schema.Verdict {
	return c.Check(schema.SideAfter, a, vars)
}

// Check evaluates one side of a. An absent expression is satisfied without
// consulting the engine. A false result or an evaluation error yields a
// violated verdict whose bindings hold only the referenced variables that
// are bound.
func (c *Checker) Check(side schema.Side, a *schema.Assertion, vars execctx.Context) schema.Verdict {
	expression := a.Expression(side)
	if expression == "" {
		return schema.Satisfied()
	}

	cond, err := c.engine.Compile(expression)
	if err != nil {
		return schema.Violated(expression, nil, asEvalError(err))
	}

	ok, err := cond.Eval(vars)
	bindings := vars.Snapshot(cond.References())
	if err != nil {
		return schema.Violated(expression, bindings, asEvalError(err))
	}
	if !ok {
		return schema.Violated(expression, bindings, nil)
	}
	return schema.Satisfied()
}

// Compile reports whether expression is well-formed in the checker's dialect.
// Load-time validation uses it so malformed assertions surface before a run.
func (c *Checker) Compile(expression string) error {
	if _, err := c.engine.Compile(expression); err != nil {
		return err
	}
	return nil
}

// asEvalError coerces any engine failure into an EvalError. Engines only
// return *schema.EvalError; anything else is reported as a type mismatch.
func asEvalError(err error) *schema.EvalError {
	var ee *schema.EvalError
	if errors.As(err, &ee) {
		return ee
	}
	return schema.TypeMismatch("%s", err.Error())
}
