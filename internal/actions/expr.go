package actions

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/rendis/assertflow/internal/expressions"
	"github.com/rendis/assertflow/pkg/schema"
)

// ExprActions returns the actions that compute bindings from expressions.
func ExprActions() []Action {
	return []Action{
		&exprEvalAction{engine: expressions.NewExprEngine()},
		&jqAction{engine: expressions.NewGoJQEngine()},
	}
}

// --- expr.eval ---

type exprEvalAction struct {
	engine *expressions.ExprEngine
}

func (a *exprEvalAction) Name() string { return "expr.eval" }

func (a *exprEvalAction) Schema() ActionSchema {
	return ActionSchema{
		Description: "Assign the results of Expr expressions evaluated against the context",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"required": ["assign"],
			"properties": {
				"assign": {
					"type": "object",
					"minProperties": 1,
					"additionalProperties": {"type": "string", "minLength": 1}
				}
			}
		}`),
	}
}

func (a *exprEvalAction) Validate(params map[string]any) error {
	assign, ok := params["assign"].(map[string]any)
	if !ok || len(assign) == 0 {
		return schema.NewError(schema.ErrCodeValidation, "expr.eval requires non-empty 'assign' object parameter")
	}
	for name, v := range assign {
		if s, ok := v.(string); !ok || s == "" {
			return schema.NewErrorf(schema.ErrCodeValidation, "expr.eval: expression for %q must be a non-empty string", name)
		}
	}
	return nil
}

// Execute evaluates every assignment against the input context. Assignments
// do not see each other's results; they run in name order.
func (a *exprEvalAction) Execute(ctx context.Context, input ActionInput) (*ActionOutput, error) {
	assign, _ := input.Params["assign"].(map[string]any)

	names := make([]string, 0, len(assign))
	for name := range assign {
		names = append(names, name)
	}
	sort.Strings(names)

	set := make(map[string]any, len(assign))
	for _, name := range names {
		expression, _ := assign[name].(string)
		result, err := a.engine.Evaluate(ctx, expression, input.Context)
		if err != nil {
			return nil, err
		}
		set[name] = result
	}
	return &ActionOutput{Set: set}, nil
}

// --- jq ---

type jqAction struct {
	engine *expressions.GoJQEngine
}

func (a *jqAction) Name() string { return "jq" }

func (a *jqAction) Schema() ActionSchema {
	return ActionSchema{
		Description: "Run a jq filter over the context; merge an object result or assign it to 'into'",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"required": ["filter"],
			"properties": {
				"filter": {"type": "string", "minLength": 1},
				"into": {"type": "string", "minLength": 1}
			}
		}`),
	}
}

func (a *jqAction) Validate(params map[string]any) error {
	filter, ok := params["filter"].(string)
	if !ok || filter == "" {
		return schema.NewError(schema.ErrCodeValidation, "jq requires non-empty 'filter' string parameter")
	}
	return a.engine.Validate(filter)
}

func (a *jqAction) Execute(ctx context.Context, input ActionInput) (*ActionOutput, error) {
	filter, _ := input.Params["filter"].(string)
	result, err := a.engine.Evaluate(ctx, filter, input.Context)
	if err != nil {
		return nil, err
	}

	if into, _ := input.Params["into"].(string); into != "" {
		return &ActionOutput{Set: map[string]any{into: result}}, nil
	}

	obj, ok := result.(map[string]any)
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeExecution,
			"jq filter %q must produce an object when 'into' is not set, got %T", filter, result)
	}
	return &ActionOutput{Set: obj}, nil
}
