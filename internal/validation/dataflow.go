package validation

import (
	"fmt"

	"github.com/rendis/assertflow/internal/actions"
	"github.com/rendis/assertflow/internal/expressions"
	"github.com/rendis/assertflow/pkg/schema"
)

// validateDataflow walks the steps in order, tracking which variables the
// workflow itself may have bound, and warns when an assertion reads a
// variable that only the caller's initial context could supply. Such
// workflows are legal; the warning catches misspelled names early.
func validateDataflow(def *schema.WorkflowDefinition, compiled map[string]expressions.Condition) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	bound := make(map[string]bool, len(def.Vars))
	for name := range def.Vars {
		bound[name] = true
	}
	open := false // an earlier step may bind names we cannot see

	warnUnbound := func(path string, names []string) {
		if open {
			return
		}
		for _, name := range names {
			if !bound[name] {
				result.AddWarning(path, schema.ErrCodeValidation,
					fmt.Sprintf("variable %q is not bound by workflow vars or an earlier step; the initial context must supply it", name))
			}
		}
	}
	check := func(path string) {
		if cond, ok := compiled[path]; ok {
			warnUnbound(path, cond.References())
		}
	}

	for i := range def.Steps {
		step := &def.Steps[i]
		path := fmt.Sprintf("steps[%d]", i)

		check(path + ".assertion.before")
		warnUnbound(path+".params", paramReferences(step))

		names, known := boundByStep(step)
		if !known {
			open = true
		}
		for _, name := range names {
			bound[name] = true
		}

		check(path + ".assertion.after")
	}

	return result
}

// paramReferences lists the variables a step's params read through
// ${{vars.<name>}}. Malformed params are reported by the semantic stage.
func paramReferences(step *schema.StepDefinition) []string {
	if !expressions.HasInterpolation(step.Params) {
		return nil
	}
	params, err := actions.DecodeParams(step.Params)
	if err != nil {
		return nil
	}
	names, _ := expressions.ReferencedVars(params)
	return names
}

// boundByStep lists the names a built-in action may bind. known is false
// when the step's effect on the context cannot be determined statically.
func boundByStep(step *schema.StepDefinition) (names []string, known bool) {
	params, err := actions.DecodeParams(step.Params)
	if err != nil {
		return nil, false
	}

	switch step.Action {
	case "", actions.DefaultAction, "fail", "sleep", "vars.unset":
		return nil, true
	case "vars.set":
		return keys(params["values"]), true
	case "expr.eval":
		return keys(params["assign"]), true
	case "jq":
		if into, ok := params["into"].(string); ok && into != "" {
			return []string{into}, true
		}
		return nil, false
	default:
		return nil, false
	}
}

func keys(v any) []string {
	m, _ := v.(map[string]any)
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
