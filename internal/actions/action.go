// Package actions provides the step executor: a registry of named actions and
// the built-in actions that read and update a run's execution context.
package actions

import (
	"context"
	"encoding/json"
)

// Action is an executable unit of work within a workflow step. An action
// never mutates its input; it describes the bindings to change in its output.
type Action interface {
	Name() string
	Schema() ActionSchema
	Execute(ctx context.Context, input ActionInput) (*ActionOutput, error)
	Validate(params map[string]any) error
}

// ActionRegistry manages the lookup of available actions.
type ActionRegistry interface {
	Register(action Action) error
	Get(name string) (Action, error)
	List() []ActionInfo
}

// ActionSchema describes the input contract of an action.
// InputSchema, when set, is a JSON Schema applied to step params at load time.
type ActionSchema struct {
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
	Description string          `json:"description,omitempty"`
}

// ActionInput is the data provided to an action at execution time.
// Context is a private copy of the execution context.
type ActionInput struct {
	StepID  string         `json:"step_id"`
	Params  map[string]any `json:"params"`
	Context map[string]any `json:"context,omitempty"`
}

// ActionOutput lists the bindings an action assigns and removes.
type ActionOutput struct {
	Set   map[string]any `json:"set,omitempty"`
	Unset []string       `json:"unset,omitempty"`
}

// ActionInfo is a summary of a registered action for listing.
type ActionInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}
