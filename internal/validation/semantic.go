package validation

import (
	"errors"
	"fmt"

	"github.com/rendis/assertflow/internal/actions"
	"github.com/rendis/assertflow/internal/execctx"
	"github.com/rendis/assertflow/internal/expressions"
	"github.com/rendis/assertflow/pkg/schema"
)

// ActionLookup resolves action names. Satisfied by *actions.Registry.
type ActionLookup interface {
	Get(name string) (actions.Action, error)
}

// semanticInput bundles the collaborators of the semantic stage.
type semanticInput struct {
	lookup     ActionLookup                // nil skips action checks
	params     *JSONSchemaValidator        // nil skips param schema checks
	conditions expressions.ConditionEngine // nil skips expression checks
}

// validateSemantic checks what the structural schema cannot express:
// unique step ids, registered actions with acceptable params, default vars
// and assertion expressions that compile in the workflow's dialect.
// It returns the compiled conditions keyed by path for later stages.
func validateSemantic(def *schema.WorkflowDefinition, in semanticInput) (*schema.ValidationResult, map[string]expressions.Condition) {
	result := &schema.ValidationResult{}
	compiled := make(map[string]expressions.Condition)

	if def.Name == "" {
		result.AddWarning("name", schema.ErrCodeValidation, "workflow has no name")
	}
	if len(def.Steps) == 0 {
		result.AddWarning("steps", schema.ErrCodeValidation, "workflow has no steps and completes immediately")
	}
	if _, err := execctx.New(def.Vars); err != nil {
		result.AddError("vars", schema.ErrCodeValidation, err.Error())
	}

	seen := make(map[string]int, len(def.Steps))
	for i := range def.Steps {
		step := &def.Steps[i]
		path := fmt.Sprintf("steps[%d]", i)

		if first, dup := seen[step.ID]; dup {
			result.AddErrorf(path+".id", schema.ErrCodeValidation,
				"duplicate step id %q (first used by steps[%d])", step.ID, first)
		} else {
			seen[step.ID] = i
		}

		validateStepAction(step, path, in, result)
		validateStepAssertion(step, path, in.conditions, result, compiled)
	}

	return result, compiled
}

func validateStepAction(step *schema.StepDefinition, path string, in semanticInput, result *schema.ValidationResult) {
	params, err := actions.DecodeParams(step.Params)
	if err != nil {
		result.AddError(path+".params", schema.ErrCodeValidation, err.Error())
		return
	}
	if in.lookup == nil {
		return
	}

	name := step.Action
	if name == "" {
		name = actions.DefaultAction
	}
	action, err := in.lookup.Get(name)
	if err != nil {
		result.AddErrorf(path+".action", schema.ErrCodeActionUnavailable, "action %q not registered", name)
		return
	}

	// Params holding ${{...}} references are checked against the action only
	// once resolved, at execution time.
	if expressions.HasInterpolation(step.Params) {
		if _, err := expressions.ReferencedVars(params); err != nil {
			result.AddError(path+".params", schema.ErrCodeInterpolation, errorMessage(err))
		}
		return
	}

	if in.params != nil {
		if err := in.params.ValidateParams(params, action.Schema().InputSchema); err != nil {
			result.AddError(path+".params", schema.ErrCodeValidation, errorMessage(err))
			return
		}
	}
	if err := action.Validate(params); err != nil {
		result.AddError(path+".params", schema.ErrCodeValidation, errorMessage(err))
	}
}

func validateStepAssertion(step *schema.StepDefinition, path string, engine expressions.ConditionEngine, result *schema.ValidationResult, compiled map[string]expressions.Condition) {
	a := step.Assertion
	if a == nil {
		return
	}
	if a.Before == "" && a.After == "" {
		result.AddWarning(path+".assertion", schema.ErrCodeValidation, "assertion has neither before nor after condition")
		return
	}
	if engine == nil {
		return
	}

	for _, side := range []schema.Side{schema.SideBefore, schema.SideAfter} {
		expression := a.Expression(side)
		if expression == "" {
			continue
		}
		sidePath := fmt.Sprintf("%s.assertion.%s", path, side)
		cond, err := engine.Compile(expression)
		if err != nil {
			result.AddError(sidePath, schema.ErrCodeExpression, errorMessage(err))
			continue
		}
		compiled[sidePath] = cond
	}
}

// errorMessage prefers the bare message of a *schema.Error.
func errorMessage(err error) string {
	var se *schema.Error
	if errors.As(err, &se) {
		return se.Message
	}
	return err.Error()
}
