package actions

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rendis/assertflow/pkg/schema"
)

// ContextActions returns the actions that manipulate the execution context
// directly, plus the control actions fail and sleep.
func ContextActions() []Action {
	return []Action{
		&noopAction{},
		&varsSetAction{},
		&varsUnsetAction{},
		&failAction{},
		&sleepAction{},
	}
}

// --- noop ---

type noopAction struct{}

func (a *noopAction) Name() string { return "noop" }

func (a *noopAction) Schema() ActionSchema {
	return ActionSchema{Description: "Do nothing; the context passes through unchanged"}
}

func (a *noopAction) Validate(_ map[string]any) error { return nil }

func (a *noopAction) Execute(_ context.Context, _ ActionInput) (*ActionOutput, error) {
	return &ActionOutput{}, nil
}

// --- vars.set ---

type varsSetAction struct{}

func (a *varsSetAction) Name() string { return "vars.set" }

func (a *varsSetAction) Schema() ActionSchema {
	return ActionSchema{
		Description: "Bind literal values into the context",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"required": ["values"],
			"properties": {
				"values": {
					"type": "object",
					"additionalProperties": {"type": ["string", "number", "boolean"]}
				}
			}
		}`),
	}
}

func (a *varsSetAction) Validate(params map[string]any) error {
	if _, ok := params["values"].(map[string]any); !ok {
		return schema.NewError(schema.ErrCodeValidation, "vars.set requires 'values' object parameter")
	}
	return nil
}

func (a *varsSetAction) Execute(_ context.Context, input ActionInput) (*ActionOutput, error) {
	values, _ := input.Params["values"].(map[string]any)
	set := make(map[string]any, len(values))
	for k, v := range values {
		set[k] = v
	}
	return &ActionOutput{Set: set}, nil
}

// --- vars.unset ---

type varsUnsetAction struct{}

func (a *varsUnsetAction) Name() string { return "vars.unset" }

func (a *varsUnsetAction) Schema() ActionSchema {
	return ActionSchema{
		Description: "Remove bindings from the context",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"required": ["names"],
			"properties": {
				"names": {"type": "array", "items": {"type": "string", "minLength": 1}}
			}
		}`),
	}
}

func (a *varsUnsetAction) Validate(params map[string]any) error {
	if _, err := stringList(params["names"]); err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "vars.unset: %s", err.Error())
	}
	return nil
}

func (a *varsUnsetAction) Execute(_ context.Context, input ActionInput) (*ActionOutput, error) {
	names, _ := stringList(input.Params["names"])
	return &ActionOutput{Unset: names}, nil
}

func stringList(v any) ([]string, error) {
	items, ok := v.([]any)
	if !ok {
		return nil, schema.NewError(schema.ErrCodeValidation, "'names' must be an array of strings")
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok || s == "" {
			return nil, schema.NewError(schema.ErrCodeValidation, "'names' must be an array of non-empty strings")
		}
		out = append(out, s)
	}
	return out, nil
}

// --- fail ---

type failAction struct{}

func (a *failAction) Name() string { return "fail" }

func (a *failAction) Schema() ActionSchema {
	return ActionSchema{
		Description: "Always fail with the given message",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {"message": {"type": "string"}}
		}`),
	}
}

func (a *failAction) Validate(_ map[string]any) error { return nil }

func (a *failAction) Execute(_ context.Context, input ActionInput) (*ActionOutput, error) {
	msg, _ := input.Params["message"].(string)
	if msg == "" {
		msg = "step failed"
	}
	return nil, schema.NewError(schema.ErrCodeExecution, msg).WithStep(input.StepID)
}

// --- sleep ---

type sleepAction struct{}

func (a *sleepAction) Name() string { return "sleep" }

func (a *sleepAction) Schema() ActionSchema {
	return ActionSchema{
		Description: "Block for a duration",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"required": ["duration"],
			"properties": {"duration": {"type": "string", "minLength": 1}}
		}`),
	}
}

func (a *sleepAction) Validate(params map[string]any) error {
	_, err := sleepDuration(params)
	return err
}

func (a *sleepAction) Execute(ctx context.Context, input ActionInput) (*ActionOutput, error) {
	d, err := sleepDuration(input.Params)
	if err != nil {
		return nil, err
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return &ActionOutput{}, nil
	case <-ctx.Done():
		return nil, schema.NewErrorf(schema.ErrCodeCancelled, "sleep interrupted: %v", ctx.Err()).WithCause(ctx.Err())
	}
}

func sleepDuration(params map[string]any) (time.Duration, error) {
	raw, ok := params["duration"].(string)
	if !ok || raw == "" {
		return 0, schema.NewError(schema.ErrCodeValidation, "sleep requires 'duration' string parameter")
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return 0, schema.NewErrorf(schema.ErrCodeValidation, "sleep: invalid duration %q", raw)
	}
	return d, nil
}
