package actions

import (
	"context"
	"encoding/json"

	"github.com/rendis/assertflow/internal/execctx"
	"github.com/rendis/assertflow/internal/expressions"
	"github.com/rendis/assertflow/pkg/schema"
)

// StepExecutor performs the side effect of a step. On success it returns the
// post-step context; on failure it returns a *schema.StepError and the input
// context remains the one in effect.
type StepExecutor interface {
	Execute(ctx context.Context, step *schema.StepDefinition, vars execctx.Context) (execctx.Context, error)
}

// Executor resolves step actions in a registry, resolves ${{...}} references
// in their params, and applies their output to a copy of the execution
// context.
type Executor struct {
	registry ActionRegistry
	interp   *expressions.Interpolator
}

// NewExecutor creates an Executor over registry.
func NewExecutor(registry ActionRegistry) *Executor {
	return &Executor{registry: registry, interp: expressions.NewInterpolator()}
}

// Execute runs step against vars. Every failure, including a panicking
// action, is reported as a *schema.StepError; vars is never modified.
func (x *Executor) Execute(ctx context.Context, step *schema.StepDefinition, vars execctx.Context) (next execctx.Context, err error) {
	defer func() {
		if r := recover(); r != nil {
			next = vars
			err = schema.NewStepError(step.ID,
				schema.NewErrorf(schema.ErrCodeExecution, "action panicked: %v", r))
		}
	}()

	name := step.Action
	if name == "" {
		name = DefaultAction
	}

	action, err := x.registry.Get(name)
	if err != nil {
		return vars, schema.NewStepError(step.ID, err)
	}

	params, err := DecodeParams(step.Params)
	if err != nil {
		return vars, schema.NewStepError(step.ID, err)
	}
	if expressions.HasInterpolation(step.Params) {
		params, err = x.interp.Resolve(params, &expressions.InterpolationScope{
			Vars: vars,
			Step: map[string]any{"id": step.ID, "action": name},
		})
		if err != nil {
			return vars, schema.NewStepError(step.ID, err)
		}
	}
	if err := action.Validate(params); err != nil {
		return vars, schema.NewStepError(step.ID, err)
	}

	out, err := action.Execute(ctx, ActionInput{
		StepID:  step.ID,
		Params:  params,
		Context: vars.Map(),
	})
	if err != nil {
		return vars, schema.NewStepError(step.ID, err)
	}
	if out == nil {
		return vars, nil
	}

	next, err = vars.Apply(out.Set, out.Unset)
	if err != nil {
		return vars, schema.NewStepError(step.ID,
			schema.NewErrorf(schema.ErrCodeExecution, "action %s produced an invalid binding: %s", name, err.Error()).WithCause(err))
	}
	return next, nil
}

// DecodeParams decodes raw step params into a map. Absent params decode to
// an empty map.
func DecodeParams(raw json.RawMessage) (map[string]any, error) {
	params := map[string]any{}
	if len(raw) == 0 || string(raw) == "null" {
		return params, nil
	}
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "params must be a JSON object: %v", err).WithCause(err)
	}
	return params, nil
}

var _ StepExecutor = (*Executor)(nil)

// Func adapts a function into a StepExecutor.
type Func func(ctx context.Context, step *schema.StepDefinition, vars execctx.Context) (execctx.Context, error)

// Execute calls f.
func (f Func) Execute(ctx context.Context, step *schema.StepDefinition, vars execctx.Context) (execctx.Context, error) {
	return f(ctx, step, vars)
}
